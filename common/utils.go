package common

import (
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
)

// LoadEnv loads environment variables from a file. Variables already set in
// the process environment win.
func LoadEnv(filename string) error {
	return godotenv.Load(filename)
}

// LoadConfig reads .env (if present) and the environment, applying defaults.
// Missing API keys are not an error here; features that need them report
// ErrMissingCredential or ErrNotConfigured when used.
func LoadConfig() Config {
	if err := LoadEnv(".env"); err != nil {
		log.Println("No .env file found, using process environment")
	}

	cfg := Config{
		GeminiKey:         os.Getenv("GEMINI_API_KEY"),
		GeminiModel:       getEnv("GEMINI_MODEL", "gemini-2.0-flash"),
		GeminiRPS:         getEnvFloat("GEMINI_RPS", 1),
		TTSKey:            os.Getenv("GOOGLE_CLOUD_API_KEY"),
		TTSLanguage:       getEnv("TTS_LANGUAGE", "en-US"),
		TTSTimeout:        getEnvDuration("TTS_TIMEOUT", 120*time.Second),
		MaxSynthesisBytes: getEnvInt("MAX_SYNTHESIS_BYTES", 5000),
		ContentDir:        getEnv("CONTENT_DIR", "uploads"),
	}
	if cfg.GeminiKey == "" {
		log.Println("GEMINI_API_KEY not set. AI features will be disabled.")
	}
	if cfg.TTSKey == "" {
		log.Println("GOOGLE_CLOUD_API_KEY not set. Audio generation will be disabled.")
	}
	return cfg
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvInt(key string, def int) int {
	v, err := strconv.Atoi(getEnv(key, ""))
	if err != nil || v <= 0 {
		return def
	}
	return v
}

func getEnvFloat(key string, def float64) float64 {
	v, err := strconv.ParseFloat(getEnv(key, ""), 64)
	if err != nil || v <= 0 {
		return def
	}
	return v
}

func getEnvDuration(key string, def time.Duration) time.Duration {
	v, err := time.ParseDuration(getEnv(key, ""))
	if err != nil || v <= 0 {
		return def
	}
	return v
}

// NormalizeWhitespace collapses every whitespace run to a single space.
func NormalizeWhitespace(text string) string {
	return strings.Join(strings.Fields(text), " ")
}

// TruncateRunes returns at most n runes of s.
func TruncateRunes(s string, n int) string {
	r := []rune(s)
	if n < 0 || n >= len(r) {
		return s
	}
	return string(r[:n])
}

// RandomFilename returns name prefixed with a random token, keeping only the
// base name so callers cannot escape the content directory.
func RandomFilename(name string) string {
	base := filepath.Base(name)
	if base == "." || base == string(filepath.Separator) {
		base = "file"
	}
	token := strings.ReplaceAll(uuid.NewString(), "-", "")[:10]
	return token + "_" + base
}

// RandomAudioName returns a fresh "<prefix>_<token>.mp3" name.
func RandomAudioName(prefix string) string {
	return prefix + "_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:8] + ".mp3"
}

package common

import "time"

// Config holds the service configuration, populated by LoadConfig.
type Config struct {
	GeminiKey         string
	GeminiModel       string
	GeminiRPS         float64
	TTSKey            string // GOOGLE_CLOUD_API_KEY
	TTSLanguage       string
	TTSTimeout        time.Duration
	MaxSynthesisBytes int
	ContentDir        string
}

// Voice is a selectable narration voice.
type Voice struct {
	Name string `json:"name"`
	ID   string `json:"id"`
}

// Voices offered for narration, in display order
var Voices = []Voice{
	{Name: "Charon (Male)", ID: "en-US-Chirp3-HD-Charon"},
	{Name: "Zephyr (Female)", ID: "en-US-Chirp3-HD-Zephyr"},
	{Name: "Puck (Male)", ID: "en-US-Chirp3-HD-Puck"},
	{Name: "Vindemiatrix (Female)", ID: "en-US-Chirp3-HD-Vindemiatrix"},
}

// DefaultVoice is selected for new sessions
const DefaultVoice = "en-US-Chirp3-HD-Charon"

// Prompt truncation limits, in characters
const (
	PromptTextLimit  = 28000
	ChatContextLimit = 25000
)

// KnownVoice reports whether id is in the voice catalogue.
func KnownVoice(id string) bool {
	for _, v := range Voices {
		if v.ID == id {
			return true
		}
	}
	return false
}

// PipelineConfig configures one offline narration run.
type PipelineConfig struct {
	SourcePath string
	OutputDir  string
	Voice      string
	Config
}

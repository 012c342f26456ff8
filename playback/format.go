package playback

import (
	"fmt"
	"math"
)

// ZeroTime is the formatted value for missing or invalid times.
const ZeroTime = "00:00"

// FormatTime renders seconds as MM:SS, truncating fractions.
func FormatTime(seconds float64) string {
	if !valid(seconds) || seconds < 0 {
		return ZeroTime
	}
	seconds = math.Min(seconds, maxClockSeconds)
	minutes := int(math.Floor(seconds / 60))
	secs := int(math.Floor(math.Mod(seconds, 60)))
	return fmt.Sprintf("%02d:%02d", minutes, secs)
}

// Progress returns current as a percentage of duration, or 0 when the
// duration is unknown. It is not clamped.
func Progress(current, duration float64) float64 {
	if !valid(current) || !valid(duration) || duration <= 0 {
		return 0
	}
	return current / duration * 100
}

// maxClockSeconds is the largest time FormatTime prints, 99999:59.
const maxClockSeconds = 99999*60 + 59

func valid(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}

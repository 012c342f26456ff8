// Package playback keeps narration playback in sync with the document: it
// resolves playback time to the sentence being spoken and emits the
// highlight and transport commands a client should apply.
package playback

import (
	"math"

	"readify/pipelines/narration"
)

// CommandKind names a side effect for the client to perform.
type CommandKind string

const (
	CmdHighlight      CommandKind = "highlight" // scroll the sentence into view and draw its overlay
	CmdClearHighlight CommandKind = "clear_highlight"
	CmdLoadAudio      CommandKind = "load_audio"
	CmdPlay           CommandKind = "play"
	CmdPause          CommandKind = "pause"
	CmdSeekBy         CommandKind = "seek_by"
	CmdSeekTo         CommandKind = "seek_to"
	CmdPlayPreview    CommandKind = "play_preview"
	CmdToast          CommandKind = "toast"
)

// Toast levels
const (
	ToastSuccess = "success"
	ToastInfo    = "info"
	ToastWarning = "warning"
	ToastError   = "error"
)

// Target addresses a sentence on the rendering surface. Page is -1 when the
// sentence's page is unknown.
type Target struct {
	Sentence int `json:"sentence"`
	Page     int `json:"page"`
}

// Command is a side effect produced by a state transition.
type Command struct {
	Kind    CommandKind `json:"kind"`
	Target  *Target     `json:"target,omitempty"`
	Seconds float64     `json:"seconds,omitempty"`
	URL     string      `json:"url,omitempty"`
	Level   string      `json:"level,omitempty"`
	Message string      `json:"message,omitempty"`
}

// Toast builds a user notification command.
func Toast(level, message string) Command {
	return Command{Kind: CmdToast, Level: level, Message: message}
}

// State is the playback state exposed to clients.
type State struct {
	AudioURL        string  `json:"audio_url,omitempty"`
	IsPlaying       bool    `json:"is_playing"`
	CurrentTime     float64 `json:"current_time"`
	Duration        float64 `json:"duration"`
	Progress        float64 `json:"progress"`
	CurrentTimeStr  string  `json:"current_time_str"`
	DurationStr     string  `json:"duration_str"`
	CurrentSentence int     `json:"current_sentence"`
}

// Controller is the playback state machine. It is not safe for concurrent
// use; callers serialize access.
type Controller struct {
	state      State
	timepoints *narration.TimepointMap
	pages      narration.PageMap
}

func NewController() *Controller {
	c := &Controller{}
	c.Reset()
	return c
}

// State returns a copy of the current state.
func (c *Controller) State() State {
	return c.state
}

// HasAudio reports whether narration audio is loaded.
func (c *Controller) HasAudio() bool {
	return c.state.AudioURL != ""
}

// SetPages replaces the sentence to page mapping of the current document.
func (c *Controller) SetPages(pages narration.PageMap) {
	c.pages = pages
}

// Load installs freshly generated narration. Playback state starts over.
func (c *Controller) Load(tm *narration.TimepointMap, audioURL string) []Command {
	c.Reset()
	c.timepoints = tm
	c.state.AudioURL = audioURL
	return []Command{{Kind: CmdLoadAudio, URL: audioURL}}
}

// Reset drops the narration and returns to the idle state.
func (c *Controller) Reset() {
	c.timepoints = nil
	c.state = State{
		CurrentSentence: -1,
		CurrentTimeStr:  ZeroTime,
		DurationStr:     ZeroTime,
	}
}

// Tick handles a playback time update.
func (c *Controller) Tick(t float64) []Command {
	if !valid(t) {
		t = 0
	}
	c.state.CurrentTime = t
	c.state.CurrentTimeStr = FormatTime(t)
	c.state.Progress = Progress(t, c.state.Duration)

	index := c.timepoints.SentenceAt(t)
	if index == c.state.CurrentSentence {
		return nil
	}
	c.state.CurrentSentence = index
	if index == -1 {
		return nil
	}
	return []Command{{Kind: CmdHighlight, Target: c.target(index)}}
}

// SetDuration records the audio duration once the client knows it.
func (c *Controller) SetDuration(d float64) {
	if !valid(d) || d < 0 {
		d = 0
	}
	c.state.Duration = d
	c.state.DurationStr = FormatTime(d)
	c.state.Progress = Progress(c.state.CurrentTime, d)
}

// End handles the end of playback.
func (c *Controller) End() []Command {
	c.state.IsPlaying = false
	c.state.Progress = 100
	c.state.CurrentSentence = -1
	return []Command{{Kind: CmdClearHighlight}}
}

// Play starts playback of loaded audio.
func (c *Controller) Play() []Command {
	if !c.HasAudio() {
		return nil
	}
	c.state.IsPlaying = true
	return []Command{{Kind: CmdPlay}}
}

// TogglePlay flips between playing and paused.
func (c *Controller) TogglePlay() []Command {
	if !c.HasAudio() {
		return nil
	}
	if c.state.IsPlaying {
		c.state.IsPlaying = false
		return []Command{{Kind: CmdPause}}
	}
	return c.Play()
}

// SeekBy moves playback by a relative offset. The sentence index is left
// alone; the next Tick recomputes it.
func (c *Controller) SeekBy(seconds float64) []Command {
	if !c.HasAudio() || !valid(seconds) {
		return nil
	}
	return []Command{{Kind: CmdSeekBy, Seconds: seconds}}
}

// SeekTo moves playback to a percentage of the duration.
func (c *Controller) SeekTo(percent float64) []Command {
	if !c.HasAudio() || !valid(percent) || c.state.Duration <= 0 {
		return nil
	}
	percent = math.Max(0, math.Min(100, percent))
	return []Command{{Kind: CmdSeekTo, Seconds: c.state.Duration * percent / 100}}
}

func (c *Controller) target(index int) *Target {
	page, ok := c.pages.PageOf(index)
	if !ok {
		page = -1
	}
	return &Target{Sentence: index, Page: page}
}

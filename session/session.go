// Package session holds the per-user reader state: the loaded document, the
// narration and its playback, and the study tools. Operations return the
// commands a client should apply; background tasks queue theirs for Drain.
package session

import (
	"context"
	"fmt"
	"io"
	"log"
	"path/filepath"
	"strings"
	"sync"

	"readify/common"
	"readify/pipelines/narration"
	"readify/pipelines/study"
	"readify/playback"
)

// PreviewSSML is spoken when previewing a voice.
const PreviewSSML = "<speak>Hello, this is a preview of my voice.</speak>"

const (
	DefaultZoom = 100
	MinZoom     = 50
	ZoomStep    = 10
	// SeekStep is the skip distance of the rewind and fast-forward controls.
	SeekStep = 20
)

// Deps are the services shared by all sessions. Synth and Study may be
// unconfigured; the features that need them then report a toast.
type Deps struct {
	Synth             narration.Synthesizer
	Study             *study.Service
	Store             *ContentStore
	Dispatcher        Dispatcher
	MaxSynthesisBytes int
}

type document struct {
	name      string // as uploaded, or the article URL
	stored    string // name in the content store, empty for imports
	title     string
	paged     bool
	pageCount int
	text      string
	sentences []narration.Sentence
	pages     narration.PageMap
}

// Session is safe for concurrent use.
type Session struct {
	ID    string
	deps  Deps
	tasks *Tasks

	mu        sync.Mutex
	doc       document
	uploading bool
	voice     string
	zoom      int

	player     *playback.Controller
	narrated   int
	previewURL string

	summary  string
	glossary []study.GlossaryTerm
	quiz     study.Quiz
	chat     study.Chat

	// docEpoch changes with the document, audioEpoch with the document or
	// voice, chatEpoch with the document or a chat restart. Background tasks
	// drop results captured under a stale epoch.
	docEpoch   int
	audioEpoch int
	chatEpoch  int

	events []playback.Command
}

func New(id string, deps Deps) *Session {
	return &Session{
		ID:     id,
		deps:   deps,
		tasks:  NewTasks(deps.Dispatcher, id),
		voice:  common.DefaultVoice,
		zoom:   DefaultZoom,
		player: playback.NewController(),
	}
}

// Drain returns and clears the commands queued by background tasks.
func (s *Session) Drain() []playback.Command {
	s.mu.Lock()
	defer s.mu.Unlock()
	cmds := s.events
	s.events = nil
	return cmds
}

func (s *Session) emit(cmds ...playback.Command) {
	s.mu.Lock()
	s.events = append(s.events, cmds...)
	s.mu.Unlock()
}

// Upload stores a document, extracts its text and makes it the current
// document. A document with no extractable text is still loaded; the
// returned toast reports the problem.
func (s *Session) Upload(filename string, r io.Reader) ([]playback.Command, error) {
	if filename == "" {
		return []playback.Command{playback.Toast(playback.ToastError, "No file selected.")}, nil
	}
	if !common.SupportedExtension(filename) {
		return nil, fmt.Errorf("%w: %s", common.ErrUnsupportedFormat, filepath.Ext(filename))
	}

	s.setUploading(true)
	defer s.setUploading(false)

	stored, err := s.deps.Store.SaveUpload(filename, r)
	if err != nil {
		return nil, err
	}
	path, err := s.deps.Store.Path(stored)
	if err != nil {
		return nil, fmt.Errorf("stored upload %s: %w", stored, err)
	}

	log.Printf("[Session %s] Extracting text from %s", s.ID, filename)
	doc, err := common.Extract(path)
	if err != nil {
		log.Printf("[Session %s] Extraction failed: %v", s.ID, err)
		doc = &common.Document{}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.load(document{name: filepath.Base(filename), stored: stored}, doc)
	if s.doc.text == "" {
		return []playback.Command{playback.Toast(playback.ToastError, "No text could be extracted from "+s.doc.name+".")}, nil
	}
	return []playback.Command{playback.Toast(playback.ToastSuccess, "Uploaded "+s.doc.name)}, nil
}

// ImportArticle fetches a web page and loads its readable text.
func (s *Session) ImportArticle(ctx context.Context, rawURL string) ([]playback.Command, error) {
	s.setUploading(true)
	defer s.setUploading(false)

	doc, err := common.FetchArticle(ctx, rawURL)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.load(document{name: rawURL}, doc)
	if s.doc.text == "" {
		return []playback.Command{playback.Toast(playback.ToastError, "No readable text found at "+rawURL+".")}, nil
	}
	label := doc.Title
	if label == "" {
		label = rawURL
	}
	return []playback.Command{playback.Toast(playback.ToastSuccess, "Imported "+label)}, nil
}

func (s *Session) setUploading(v bool) {
	s.mu.Lock()
	s.uploading = v
	s.mu.Unlock()
}

// load replaces the current document and resets everything derived from the
// previous one. Caller holds s.mu.
func (s *Session) load(d document, doc *common.Document) {
	d.title = doc.Title
	d.paged = doc.Paged
	d.pageCount = len(doc.Pages)
	d.text = doc.Text()
	d.sentences, d.pages = narration.SegmentPages(doc.Pages)
	s.doc = d
	log.Printf("[Session %s] Loaded %s: %d pages, %d sentences", s.ID, d.name, d.pageCount, len(d.sentences))

	s.docEpoch++
	s.resetAudio()
	s.player.SetPages(d.pages)

	s.summary = ""
	s.glossary = nil
	s.quiz.Reset(nil)
	s.chatEpoch++
	s.chat.Start(d.text)
}

// resetAudio drops the narration. Caller holds s.mu.
func (s *Session) resetAudio() {
	s.audioEpoch++
	s.player.Reset()
	s.narrated = 0
}

// SetVoice selects the narration voice. Existing audio was spoken by the old
// voice and is dropped.
func (s *Session) SetVoice(id string) error {
	if !common.KnownVoice(id) {
		return fmt.Errorf("%w: %s", common.ErrUnknownVoice, id)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.voice = id
	s.resetAudio()
	return nil
}

// GenerateAudio starts narration synthesis for the current document. It is a
// no-op while a synthesis is already running.
func (s *Session) GenerateAudio() []playback.Command {
	s.mu.Lock()
	if s.doc.text == "" {
		s.mu.Unlock()
		return []playback.Command{playback.Toast(playback.ToastError, "No document text to convert.")}
	}
	if s.deps.Synth == nil {
		s.mu.Unlock()
		return []playback.Command{playback.Toast(playback.ToastError, "Audio generation is not configured: "+common.ErrMissingCredential.Error()+".")}
	}
	if !s.tasks.TryAcquire(TaskAudio) {
		s.mu.Unlock()
		return nil
	}
	s.resetAudio()
	sentences, voice, epoch := s.doc.sentences, s.voice, s.audioEpoch
	s.mu.Unlock()

	started := s.tasks.Start(TaskAudio, func(ctx context.Context) error {
		log.Printf("[Session %s] Generating audio for %d sentences with %s", s.ID, len(sentences), voice)
		res, narrated, err := narration.Narrate(ctx, s.deps.Synth, sentences, voice, s.deps.MaxSynthesisBytes)
		if err == nil {
			var name string
			if name, err = s.deps.Store.SaveAudio("audio", res.Audio); err == nil {
				s.loadAudio(epoch, res, narrated, name)
				return nil
			}
		}
		s.emit(playback.Toast(playback.ToastError, audioFailed))
		return fmt.Errorf("audio generation failed: %w", err)
	})
	if !started {
		return []playback.Command{playback.Toast(playback.ToastError, audioFailed)}
	}
	return nil
}

const audioFailed = "Failed to generate audio. Check API key and that the API is enabled."

func (s *Session) loadAudio(epoch int, res *narration.SynthesisResult, narrated []narration.Sentence, name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if epoch != s.audioEpoch {
		log.Printf("[Session %s] Discarding audio for a replaced document or voice", s.ID)
		return
	}

	tm := narration.NewTimepointMap(res.Timepoints, len(narrated))
	s.narrated = len(narrated)
	s.events = append(s.events, s.player.Load(tm, URL(name))...)
	s.events = append(s.events, playback.Toast(playback.ToastSuccess, "Audio generated successfully."))
	s.events = append(s.events, s.player.Play()...)
	log.Printf("[Session %s] Audio ready: %s (%d timepoints)", s.ID, name, tm.Len())
}

// PreviewVoice synthesizes a short sample of a voice without touching the
// narration.
func (s *Session) PreviewVoice(id string) ([]playback.Command, error) {
	if !common.KnownVoice(id) {
		return nil, fmt.Errorf("%w: %s", common.ErrUnknownVoice, id)
	}
	if s.deps.Synth == nil {
		return []playback.Command{playback.Toast(playback.ToastError, "Voice preview is not configured: "+common.ErrMissingCredential.Error()+".")}, nil
	}

	s.tasks.Go(TaskPreview, func(ctx context.Context) error {
		res, err := s.deps.Synth.Synthesize(ctx, narration.SynthesisRequest{SSML: PreviewSSML, Voice: id})
		if err == nil {
			var name string
			if name, err = s.deps.Store.SaveAudio("preview", res.Audio); err == nil {
				s.mu.Lock()
				s.previewURL = URL(name)
				s.events = append(s.events, playback.Command{Kind: playback.CmdPlayPreview, URL: s.previewURL})
				s.mu.Unlock()
				return nil
			}
		}
		s.emit(playback.Toast(playback.ToastError, "Failed to generate preview."))
		return fmt.Errorf("preview failed: %w", err)
	})
	return nil, nil
}

// PlayClick is the play button: ignored while audio is being generated,
// toggles playback when audio exists, otherwise starts generation.
func (s *Session) PlayClick() []playback.Command {
	s.mu.Lock()
	switch {
	case s.tasks.Busy(TaskAudio):
		s.mu.Unlock()
		return nil
	case s.player.HasAudio():
		defer s.mu.Unlock()
		return s.player.TogglePlay()
	case s.doc.text != "":
		s.mu.Unlock()
		return s.GenerateAudio()
	}
	s.mu.Unlock()
	return nil
}

// Tick reports the client's playback position.
func (s *Session) Tick(t float64) []playback.Command {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.player.Tick(t)
}

// SetDuration reports the audio duration once the client knows it.
func (s *Session) SetDuration(d float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.player.SetDuration(d)
}

// End reports that playback reached the end of the audio.
func (s *Session) End() []playback.Command {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.player.End()
}

// SeekBy skips forward or back by seconds.
func (s *Session) SeekBy(seconds float64) []playback.Command {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.player.SeekBy(seconds)
}

// SeekTo jumps to a percentage of the audio.
func (s *Session) SeekTo(percent float64) []playback.Command {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.player.SeekTo(percent)
}

func (s *Session) ZoomIn() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.zoom += ZoomStep
	return s.zoom
}

func (s *Session) ZoomOut() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.zoom = max(MinZoom, s.zoom-ZoomStep)
	return s.zoom
}

// RenderPage renders a page of the current PDF as PNG.
func (s *Session) RenderPage(page int, dpi float64) ([]byte, error) {
	s.mu.Lock()
	d := s.doc
	s.mu.Unlock()

	if d.stored == "" {
		return nil, common.ErrNoDocument
	}
	if !d.paged || !strings.EqualFold(filepath.Ext(d.stored), ".pdf") {
		return nil, fmt.Errorf("%w: pages can only be rendered for PDF", common.ErrUnsupportedFormat)
	}
	path, err := s.deps.Store.Path(d.stored)
	if err != nil {
		return nil, err
	}

	proc, err := common.NewPDFProcessor(path)
	if err != nil {
		return nil, err
	}
	defer proc.Close()
	return proc.RenderPagePNG(page, dpi)
}

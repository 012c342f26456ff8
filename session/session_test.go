package session

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"readify/common"
	"readify/pipelines/narration"
	"readify/pipelines/study"
	"readify/playback"
)

const sampleText = "Dr. Smith went home. He left at 5. Then he slept."

type fakeSynth struct {
	mu       sync.Mutex
	requests []narration.SynthesisRequest
	gate     chan struct{}
	err      error
}

func (f *fakeSynth) Synthesize(ctx context.Context, req narration.SynthesisRequest) (*narration.SynthesisResult, error) {
	f.mu.Lock()
	f.requests = append(f.requests, req)
	f.mu.Unlock()
	if f.gate != nil {
		<-f.gate
	}
	if f.err != nil {
		return nil, f.err
	}

	res := &narration.SynthesisResult{Audio: []byte("mp3"), Format: "mp3"}
	if req.WithMarks {
		for i := 0; strings.Contains(req.SSML, `<mark name="`+narration.MarkName(i)+`"/>`); i++ {
			res.Timepoints = append(res.Timepoints, narration.Timepoint{MarkName: narration.MarkName(i), TimeSeconds: float64(i * 2)})
		}
	}
	return res, nil
}

func (f *fakeSynth) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.requests)
}

type fakeGenerator struct {
	response string
	chunks   []string
	err      error
}

func (f *fakeGenerator) Generate(ctx context.Context, prompt string) (string, error) {
	return f.response, f.err
}

func (f *fakeGenerator) StreamChat(ctx context.Context, history []common.ChatTurn, prompt string, onChunk func(string) error) error {
	for _, c := range f.chunks {
		if err := onChunk(c); err != nil {
			return err
		}
	}
	return f.err
}

type fixture struct {
	s     *Session
	synth *fakeSynth
	gen   *fakeGenerator
	d     *waitDispatcher
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store, err := NewContentStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	f := &fixture{synth: &fakeSynth{}, gen: &fakeGenerator{}, d: &waitDispatcher{}}
	f.s = New("test", Deps{
		Synth:             f.synth,
		Study:             study.NewService(f.gen),
		Store:             store,
		Dispatcher:        f.d,
		MaxSynthesisBytes: 5000,
	})
	return f
}

func (f *fixture) upload(t *testing.T, name, text string) []playback.Command {
	t.Helper()
	cmds, err := f.s.Upload(name, strings.NewReader(text))
	if err != nil {
		t.Fatalf("Upload failed: %v", err)
	}
	return cmds
}

func kinds(cmds []playback.Command) []playback.CommandKind {
	var out []playback.CommandKind
	for _, c := range cmds {
		out = append(out, c.Kind)
	}
	return out
}

func TestUploadSegments(t *testing.T) {
	f := newFixture(t)
	cmds := f.upload(t, "notes.txt", sampleText)

	if len(cmds) != 1 || cmds[0].Level != playback.ToastSuccess || cmds[0].Message != "Uploaded notes.txt" {
		t.Errorf("unexpected commands %+v", cmds)
	}
	snap := f.s.Snapshot()
	if len(snap.Sentences) != 3 || snap.Sentences[0].Text != "Dr. Smith went home." {
		t.Errorf("unexpected sentences %+v", snap.Sentences)
	}
	if snap.FileName != "notes.txt" || !strings.HasPrefix(snap.FileURL, FilesPrefix) || snap.Uploading {
		t.Errorf("unexpected snapshot %+v", snap)
	}
	if entries, _ := os.ReadDir(f.s.deps.Store.Dir); len(entries) != 1 {
		t.Errorf("expected the upload to be stored, found %d files", len(entries))
	}
}

func TestUploadRejectsUnsupported(t *testing.T) {
	f := newFixture(t)
	_, err := f.s.Upload("slides.pptx", strings.NewReader("x"))
	if !errors.Is(err, common.ErrUnsupportedFormat) {
		t.Errorf("expected ErrUnsupportedFormat, got %v", err)
	}
	cmds, err := f.s.Upload("", nil)
	if err != nil || len(cmds) != 1 || cmds[0].Message != "No file selected." {
		t.Errorf("unexpected result %+v %v", cmds, err)
	}
}

func TestUploadWithoutText(t *testing.T) {
	f := newFixture(t)
	cmds := f.upload(t, "empty.md", "   \n")
	if len(cmds) != 1 || cmds[0].Level != playback.ToastError {
		t.Errorf("expected an error toast, got %+v", cmds)
	}
	if snap := f.s.Snapshot(); len(snap.Sentences) != 0 || snap.Sentences == nil {
		t.Errorf("expected empty non-nil sentences, got %#v", snap.Sentences)
	}
	if cmds := f.s.GenerateAudio(); len(cmds) != 1 || cmds[0].Message != "No document text to convert." {
		t.Errorf("unexpected commands %+v", cmds)
	}
}

func TestGenerateAudio(t *testing.T) {
	f := newFixture(t)
	f.upload(t, "doc.txt", sampleText)

	if cmds := f.s.GenerateAudio(); cmds != nil {
		t.Errorf("expected no immediate commands, got %+v", cmds)
	}
	f.d.wg.Wait()

	got := kinds(f.s.Drain())
	want := []playback.CommandKind{playback.CmdLoadAudio, playback.CmdToast, playback.CmdPlay}
	if strings.Join(toStrings(got), ",") != strings.Join(toStrings(want), ",") {
		t.Fatalf("expected %v, got %v", want, got)
	}
	if len(f.s.Drain()) != 0 {
		t.Error("drain must clear the queue")
	}

	snap := f.s.Snapshot()
	if snap.Narrated != 3 || !snap.Playback.IsPlaying || snap.GeneratingAudio {
		t.Errorf("unexpected snapshot %+v", snap)
	}
	name := strings.TrimPrefix(snap.Playback.AudioURL, FilesPrefix)
	if !strings.HasPrefix(name, "audio_") {
		t.Errorf("unexpected audio url %q", snap.Playback.AudioURL)
	}
	if _, err := os.Stat(filepath.Join(f.s.deps.Store.Dir, name)); err != nil {
		t.Errorf("audio not stored: %v", err)
	}
	if req := f.synth.requests[0]; !req.WithMarks || req.Voice != common.DefaultVoice {
		t.Errorf("unexpected request %+v", req)
	}

	var seen []int
	for _, tm := range []float64{0, 2, 4.5, 9} {
		f.s.Tick(tm)
		seen = append(seen, f.s.Snapshot().Playback.CurrentSentence)
	}
	if seen[0] != 0 || seen[1] != 1 || seen[2] != 2 || seen[3] != 2 {
		t.Errorf("unexpected sentence progression %v", seen)
	}
	f.s.End()
	if f.s.Snapshot().Playback.CurrentSentence != -1 {
		t.Error("end must clear the sentence")
	}
}

func toStrings(k []playback.CommandKind) []string {
	out := make([]string, len(k))
	for i, v := range k {
		out[i] = string(v)
	}
	return out
}

func TestGenerateAudioSingleFlight(t *testing.T) {
	f := newFixture(t)
	f.synth.gate = make(chan struct{})
	f.upload(t, "doc.txt", sampleText)

	f.s.GenerateAudio()
	if !f.s.Snapshot().GeneratingAudio {
		t.Fatal("expected audio generation to be running")
	}
	f.s.GenerateAudio()
	if cmds := f.s.PlayClick(); cmds != nil {
		t.Errorf("play click while generating must be ignored, got %+v", cmds)
	}

	close(f.synth.gate)
	f.d.wg.Wait()
	if f.synth.calls() != 1 {
		t.Errorf("expected one synthesis, got %d", f.synth.calls())
	}
}

func TestRefusedAudioStartKeepsState(t *testing.T) {
	f := newFixture(t)
	f.synth.gate = make(chan struct{})
	f.upload(t, "doc.txt", sampleText)

	f.s.GenerateAudio()
	f.s.mu.Lock()
	epoch := f.s.audioEpoch
	f.s.mu.Unlock()

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if cmds := f.s.GenerateAudio(); cmds != nil {
				t.Errorf("refused start must be silent, got %+v", cmds)
			}
		}()
	}
	wg.Wait()

	f.s.mu.Lock()
	after := f.s.audioEpoch
	f.s.mu.Unlock()
	if after != epoch {
		t.Fatalf("refused start changed the audio epoch from %d to %d", epoch, after)
	}

	close(f.synth.gate)
	f.d.wg.Wait()
	if f.synth.calls() != 1 {
		t.Errorf("expected one synthesis, got %d", f.synth.calls())
	}
	snap := f.s.Snapshot()
	if snap.Playback.AudioURL == "" || snap.Narrated != 3 {
		t.Fatalf("the running synthesis must not be discarded: %+v", snap.Playback)
	}

	// with audio loaded, a start refused by the guard keeps it
	if !f.s.tasks.TryAcquire(TaskAudio) {
		t.Fatal("expected the guard to be free")
	}
	f.s.GenerateAudio()
	if got := f.s.Snapshot(); got.Playback.AudioURL != snap.Playback.AudioURL || got.Narrated != 3 {
		t.Errorf("refused start reset the audio: %+v", got.Playback)
	}
	f.s.tasks.Release(TaskAudio)
}

func TestGenerateAudioFailure(t *testing.T) {
	f := newFixture(t)
	f.synth.err = errors.New("403 forbidden")
	f.upload(t, "doc.txt", sampleText)

	f.s.GenerateAudio()
	f.d.wg.Wait()

	events := f.s.Drain()
	if len(events) != 1 || events[0].Level != playback.ToastError {
		t.Fatalf("expected an error toast, got %+v", events)
	}
	snap := f.s.Snapshot()
	if snap.GeneratingAudio || snap.Playback.AudioURL != "" {
		t.Errorf("unexpected snapshot %+v", snap)
	}

	f.synth.err = nil
	f.s.GenerateAudio()
	f.d.wg.Wait()
	if !f.s.Snapshot().Playback.IsPlaying {
		t.Error("retry after failure should succeed")
	}
}

func TestGenerateAudioDispatchFailure(t *testing.T) {
	f := newFixture(t)
	f.upload(t, "doc.txt", sampleText)
	f.s.tasks = NewTasks(closedDispatcher{}, "test")

	cmds := f.s.GenerateAudio()
	if len(cmds) != 1 || cmds[0].Level != playback.ToastError {
		t.Fatalf("expected an error toast, got %+v", cmds)
	}
	if f.s.Snapshot().GeneratingAudio {
		t.Error("guard must be released when dispatch fails")
	}
	if cmds := f.s.GenerateSummary(); len(cmds) != 1 || cmds[0].Message != "Failed to generate summary." {
		t.Errorf("unexpected commands %+v", cmds)
	}
}

func TestGenerateAudioNotConfigured(t *testing.T) {
	f := newFixture(t)
	f.s.deps.Synth = nil
	f.upload(t, "doc.txt", sampleText)

	cmds := f.s.PlayClick()
	if len(cmds) != 1 || cmds[0].Level != playback.ToastError {
		t.Errorf("expected configuration toast, got %+v", cmds)
	}
}

func TestStaleAudioIsDiscarded(t *testing.T) {
	f := newFixture(t)
	f.synth.gate = make(chan struct{})
	f.upload(t, "doc.txt", sampleText)

	f.s.GenerateAudio()
	if err := f.s.SetVoice("en-US-Chirp3-HD-Puck"); err != nil {
		t.Fatal(err)
	}
	close(f.synth.gate)
	f.d.wg.Wait()

	if snap := f.s.Snapshot(); snap.Playback.AudioURL != "" || snap.Narrated != 0 {
		t.Errorf("audio for the old voice must be dropped, got %+v", snap.Playback)
	}
}

func TestSetVoice(t *testing.T) {
	f := newFixture(t)
	f.upload(t, "doc.txt", sampleText)
	f.s.GenerateAudio()
	f.d.wg.Wait()

	if err := f.s.SetVoice("nope"); !errors.Is(err, common.ErrUnknownVoice) {
		t.Errorf("expected ErrUnknownVoice, got %v", err)
	}
	if err := f.s.SetVoice("en-US-Chirp3-HD-Zephyr"); err != nil {
		t.Fatal(err)
	}
	snap := f.s.Snapshot()
	if snap.Voice != "en-US-Chirp3-HD-Zephyr" || snap.Playback.AudioURL != "" || snap.Playback.CurrentTimeStr != playback.ZeroTime {
		t.Errorf("voice change must reset audio, got %+v", snap)
	}
}

func TestPlayClick(t *testing.T) {
	f := newFixture(t)
	if cmds := f.s.PlayClick(); cmds != nil {
		t.Errorf("no document: expected nothing, got %+v", cmds)
	}

	f.upload(t, "doc.txt", sampleText)
	f.s.PlayClick()
	f.d.wg.Wait()
	f.s.Drain()

	if cmds := f.s.PlayClick(); len(cmds) != 1 || cmds[0].Kind != playback.CmdPause {
		t.Errorf("expected pause, got %+v", cmds)
	}
	if cmds := f.s.PlayClick(); len(cmds) != 1 || cmds[0].Kind != playback.CmdPlay {
		t.Errorf("expected play, got %+v", cmds)
	}
	if f.synth.calls() != 1 {
		t.Errorf("toggling must not resynthesize, got %d calls", f.synth.calls())
	}
}

func TestPreviewVoice(t *testing.T) {
	f := newFixture(t)
	if _, err := f.s.PreviewVoice("bogus"); !errors.Is(err, common.ErrUnknownVoice) {
		t.Errorf("expected ErrUnknownVoice, got %v", err)
	}

	if _, err := f.s.PreviewVoice("en-US-Chirp3-HD-Puck"); err != nil {
		t.Fatal(err)
	}
	f.d.wg.Wait()

	events := f.s.Drain()
	if len(events) != 1 || events[0].Kind != playback.CmdPlayPreview || !strings.Contains(events[0].URL, "preview_") {
		t.Fatalf("unexpected events %+v", events)
	}
	req := f.synth.requests[0]
	if req.SSML != PreviewSSML || req.WithMarks || req.Voice != "en-US-Chirp3-HD-Puck" {
		t.Errorf("unexpected request %+v", req)
	}
	if f.s.Snapshot().Playback.AudioURL != "" {
		t.Error("preview must not load narration")
	}
}

func TestSeekAndZoom(t *testing.T) {
	f := newFixture(t)
	f.upload(t, "doc.txt", sampleText)
	f.s.GenerateAudio()
	f.d.wg.Wait()

	if cmds := f.s.SeekBy(-SeekStep); len(cmds) != 1 || cmds[0].Seconds != -20 {
		t.Errorf("unexpected seek %+v", cmds)
	}
	f.s.SetDuration(40)
	if cmds := f.s.SeekTo(25); len(cmds) != 1 || cmds[0].Seconds != 10 {
		t.Errorf("unexpected seek %+v", cmds)
	}

	for i := 0; i < 10; i++ {
		f.s.ZoomOut()
	}
	if z := f.s.ZoomOut(); z != MinZoom {
		t.Errorf("zoom must floor at %d, got %d", MinZoom, z)
	}
	if z := f.s.ZoomIn(); z != MinZoom+ZoomStep {
		t.Errorf("expected %d, got %d", MinZoom+ZoomStep, z)
	}
}

func TestStudyTools(t *testing.T) {
	f := newFixture(t)
	if cmds := f.s.GenerateSummary(); len(cmds) != 1 || cmds[0].Level != playback.ToastError {
		t.Errorf("expected a toast without a document, got %+v", cmds)
	}
	f.upload(t, "doc.txt", sampleText)

	f.gen.response = "- Smith went home"
	f.s.GenerateSummary()
	f.d.wg.Wait()
	if got := f.s.Snapshot().Study.Summary; got != "- Smith went home" {
		t.Errorf("unexpected summary %q", got)
	}

	f.gen.response = `[{"term":"Dr.","definition":"Doctor."}]`
	f.s.GenerateGlossary()
	f.d.wg.Wait()
	if g := f.s.Snapshot().Study.Glossary; len(g) != 1 || g[0].Term != "Dr." {
		t.Errorf("unexpected glossary %+v", g)
	}

	f.gen.response = "```json\n[" +
		`{"question":"Who went home?","options":["Smith","Jones"],"correct_answer":0,"explanation":"First sentence."},` +
		`{"question":"When?","options":["4","5"],"correct_answer":1,"explanation":"Second sentence."}` +
		"]\n```"
	f.s.GenerateQuiz()
	f.d.wg.Wait()
	if q := f.s.Snapshot().Study.Quiz; len(q.Questions) != 2 {
		t.Fatalf("unexpected quiz %+v", q)
	}

	f.s.SelectAnswer(0, 0)
	if cmds := f.s.SubmitQuiz(); len(cmds) != 1 || cmds[0].Level != playback.ToastWarning {
		t.Errorf("expected a warning, got %+v", cmds)
	}
	f.s.SelectAnswer(1, 0)
	if cmds := f.s.SubmitQuiz(); cmds != nil {
		t.Errorf("unexpected commands %+v", cmds)
	}
	if q := f.s.Snapshot().Study.Quiz; !q.Submitted || q.Score != 1 {
		t.Errorf("unexpected grading %+v", q)
	}

	f.s.GenerateQuiz()
	f.d.wg.Wait()
	if q := f.s.Snapshot().Study.Quiz; q.Submitted || q.Questions[0].UserAnswer != nil {
		t.Errorf("retake must start fresh, got %+v", q)
	}
}

func TestRefusedStudyStartKeepsState(t *testing.T) {
	f := newFixture(t)
	f.upload(t, "doc.txt", sampleText)

	f.gen.response = "- Smith went home"
	f.s.GenerateSummary()
	f.d.wg.Wait()
	f.gen.response = `[{"term":"Dr.","definition":"Doctor."}]`
	f.s.GenerateGlossary()
	f.d.wg.Wait()
	f.gen.response = `[{"question":"Who went home?","options":["Smith","Jones"],"correct_answer":0,"explanation":"First sentence."}]`
	f.s.GenerateQuiz()
	f.d.wg.Wait()
	f.s.SelectAnswer(0, 1)

	for _, kind := range []TaskKind{TaskSummary, TaskGlossary, TaskQuiz} {
		if !f.s.tasks.TryAcquire(kind) {
			t.Fatalf("expected %s to be free", kind)
		}
	}
	f.gen.response = "replaced"
	if cmds := f.s.GenerateSummary(); cmds != nil {
		t.Errorf("refused start must be silent, got %+v", cmds)
	}
	f.s.GenerateGlossary()
	f.s.GenerateQuiz()
	f.d.wg.Wait()

	st := f.s.Snapshot().Study
	if st.Summary != "- Smith went home" {
		t.Errorf("summary changed to %q", st.Summary)
	}
	if len(st.Glossary) != 1 {
		t.Errorf("glossary changed to %+v", st.Glossary)
	}
	if len(st.Quiz.Questions) != 1 || st.Quiz.Questions[0].UserAnswer == nil || *st.Quiz.Questions[0].UserAnswer != 1 {
		t.Errorf("quiz changed to %+v", st.Quiz)
	}
	for _, kind := range []TaskKind{TaskSummary, TaskGlossary, TaskQuiz} {
		f.s.tasks.Release(kind)
	}
}

func TestStudyFailureToast(t *testing.T) {
	f := newFixture(t)
	f.upload(t, "doc.txt", sampleText)
	f.gen.err = errors.New("quota")

	f.s.GenerateGlossary()
	f.d.wg.Wait()
	events := f.s.Drain()
	if len(events) != 1 || events[0].Message != "Failed to generate glossary." {
		t.Errorf("unexpected events %+v", events)
	}
	if f.s.Snapshot().Study.GeneratingGlossary {
		t.Error("guard must be released")
	}
}

func TestStudyNotConfigured(t *testing.T) {
	f := newFixture(t)
	f.s.deps.Study = study.NewService(nil)
	f.upload(t, "doc.txt", sampleText)

	if cmds := f.s.GenerateQuiz(); len(cmds) != 1 || !strings.Contains(cmds[0].Message, "GEMINI_API_KEY") {
		t.Errorf("expected configuration toast, got %+v", cmds)
	}
	if err := f.s.SendChat(context.Background(), "hi", nil); !errors.Is(err, common.ErrNotConfigured) {
		t.Errorf("expected ErrNotConfigured, got %v", err)
	}
}

func TestUploadClearsStudyState(t *testing.T) {
	f := newFixture(t)
	f.upload(t, "a.txt", sampleText)
	f.gen.response = "summary"
	f.s.GenerateSummary()
	f.d.wg.Wait()
	f.s.SendChat(context.Background(), "question", nil)

	f.upload(t, "b.txt", "Another document.")
	st := f.s.Snapshot().Study
	if st.Summary != "" || len(st.Chat) != 0 || len(st.Quiz.Questions) != 0 {
		t.Errorf("study state must be cleared, got %+v", st)
	}
}

func TestChat(t *testing.T) {
	f := newFixture(t)
	f.upload(t, "doc.txt", sampleText)

	if cmds := f.s.StartChat(); len(cmds) != 1 || cmds[0].Level != playback.ToastInfo {
		t.Errorf("unexpected commands %+v", cmds)
	}

	f.gen.chunks = []string{"He ", "went ", "home."}
	var streamed strings.Builder
	err := f.s.SendChat(context.Background(), "Where did he go?", func(s string) error {
		streamed.WriteString(s)
		return nil
	})
	if err != nil {
		t.Fatalf("SendChat failed: %v", err)
	}
	if streamed.String() != "He went home." {
		t.Errorf("unexpected stream %q", streamed.String())
	}

	f.gen.chunks = []string{"partial"}
	f.gen.err = errors.New("stream broke")
	if err := f.s.SendChat(context.Background(), "And then?", nil); err == nil {
		t.Fatal("expected an error")
	}

	history := f.s.Snapshot().Study.Chat
	if len(history) != 4 || history[1].Text != "He went home." || history[3].Text != study.ChatErrorReply {
		t.Errorf("unexpected history %+v", history)
	}
	if f.s.Snapshot().Study.Chatting {
		t.Error("chat guard must be released")
	}

	f.s.StartChat()
	if len(f.s.Snapshot().Study.Chat) != 0 {
		t.Error("start must clear the conversation")
	}
}

func TestRenderPageRequiresPDF(t *testing.T) {
	f := newFixture(t)
	if _, err := f.s.RenderPage(0, 72); !errors.Is(err, common.ErrNoDocument) {
		t.Errorf("expected ErrNoDocument, got %v", err)
	}
	f.upload(t, "doc.txt", sampleText)
	if _, err := f.s.RenderPage(0, 72); !errors.Is(err, common.ErrUnsupportedFormat) {
		t.Errorf("expected ErrUnsupportedFormat, got %v", err)
	}
}

func TestRegistry(t *testing.T) {
	r := NewRegistry(Deps{})
	s := r.Create()
	if got, ok := r.Get(s.ID); !ok || got != s {
		t.Fatal("expected to find the session")
	}
	if r.Len() != 1 || !r.Delete(s.ID) || r.Delete(s.ID) {
		t.Error("unexpected registry behaviour")
	}
	if _, ok := r.Get(s.ID); ok {
		t.Error("session should be gone")
	}
}

func TestContentStorePath(t *testing.T) {
	store, err := NewContentStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	for _, bad := range []string{"", "../secret", "a/b.mp3", ".env"} {
		if _, err := store.Path(bad); err == nil {
			t.Errorf("expected %q to be rejected", bad)
		}
	}
	name, err := store.SaveAudio("audio", []byte("x"))
	if err != nil {
		t.Fatal(err)
	}
	if p, err := store.Path(name); err != nil || filepath.Dir(p) != store.Dir {
		t.Errorf("unexpected path %q %v", p, err)
	}
}

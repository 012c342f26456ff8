package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"

	"readify/common"
	"readify/pipelines/narration"
	"readify/pipelines/study"
	"readify/playback"
	"readify/session"
)

// ErrPoolClosed is returned by Submit after Shutdown.
var ErrPoolClosed = errors.New("worker pool closed")

// Finished job statuses are kept this long for GET /jobs/{id}.
const jobRetention = time.Hour

type JobStatus struct {
	ID        string     `json:"id"`
	Label     string     `json:"label"`
	Status    string     `json:"status"`
	Error     string     `json:"error,omitempty"`
	StartedAt time.Time  `json:"started_at"`
	DoneAt    *time.Time `json:"done_at,omitempty"`
}

type WorkerPool struct {
	jobs       chan *Job
	results    map[string]*JobStatus
	mu         sync.RWMutex
	closeMu    sync.RWMutex
	closed     bool
	wg         sync.WaitGroup
	numWorkers int
	ctx        context.Context
	cancel     context.CancelFunc
}

type Job struct {
	ID    string
	Label string
	Run   func(ctx context.Context) error
}

func NewWorkerPool(numWorkers int, bufferSize int) *WorkerPool {
	if numWorkers <= 0 {
		numWorkers = 1
	}
	ctx, cancel := context.WithCancel(context.Background())
	pool := &WorkerPool{
		jobs:       make(chan *Job, bufferSize),
		results:    make(map[string]*JobStatus),
		numWorkers: numWorkers,
		ctx:        ctx,
		cancel:     cancel,
	}
	pool.Start()
	return pool
}

func (p *WorkerPool) Start() {
	for i := 0; i < p.numWorkers; i++ {
		p.wg.Add(1)
		go p.worker(i)
	}
	log.Printf("Started %d workers", p.numWorkers)
}

func (p *WorkerPool) worker(id int) {
	defer p.wg.Done()
	for job := range p.jobs {
		log.Printf("[Worker %d] Processing job %s (%s)", id, job.ID, job.Label)
		p.processJob(job)
	}
	log.Printf("[Worker %d] Shutting down", id)
}

func (p *WorkerPool) processJob(job *Job) {
	p.updateStatus(job.ID, "processing", "")

	if err := job.Run(p.ctx); err != nil {
		p.updateStatus(job.ID, "failed", err.Error())
		log.Printf("[Job %s] Failed: %v", job.ID, err)
	} else {
		p.updateStatus(job.ID, "completed", "")
		log.Printf("[Job %s] Completed successfully", job.ID)
	}
}

func (p *WorkerPool) updateStatus(jobID, status, errMsg string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if job, exists := p.results[jobID]; exists {
		job.Status = status
		job.Error = errMsg
		if status == "completed" || status == "failed" {
			now := time.Now()
			job.DoneAt = &now
		}
	}
}

// Submit queues a job. It blocks while the queue is full.
func (p *WorkerPool) Submit(job *Job) error {
	p.closeMu.RLock()
	defer p.closeMu.RUnlock()
	if p.closed {
		return ErrPoolClosed
	}

	p.mu.Lock()
	p.pruneLocked(time.Now())
	p.results[job.ID] = &JobStatus{
		ID:        job.ID,
		Label:     job.Label,
		Status:    "queued",
		StartedAt: time.Now(),
	}
	p.mu.Unlock()

	p.jobs <- job
	return nil
}

func (p *WorkerPool) pruneLocked(now time.Time) {
	for id, st := range p.results {
		if st.DoneAt != nil && now.Sub(*st.DoneAt) > jobRetention {
			delete(p.results, id)
		}
	}
}

// Dispatch implements session.Dispatcher.
func (p *WorkerPool) Dispatch(label string, run func(ctx context.Context) error) error {
	return p.Submit(&Job{ID: uuid.NewString(), Label: label, Run: run})
}

func (p *WorkerPool) GetStatus(jobID string) (JobStatus, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	status, ok := p.results[jobID]
	if !ok {
		return JobStatus{}, false
	}
	return *status, true
}

// Shutdown stops accepting jobs and waits for queued ones to finish.
func (p *WorkerPool) Shutdown() {
	p.closeMu.Lock()
	if p.closed {
		p.closeMu.Unlock()
		return
	}
	p.closed = true
	close(p.jobs)
	p.closeMu.Unlock()

	p.wg.Wait()
	p.cancel()
}

type Server struct {
	pool     *WorkerPool
	sessions *session.Registry
	store    *session.ContentStore
	ttsReady bool
	aiReady  bool
	gemini   *common.GeminiClient
}

// NewServer wires the configured services. Missing API keys disable the
// features that need them instead of failing startup.
func NewServer(cfg common.Config, numWorkers int) (*Server, error) {
	store, err := session.NewContentStore(cfg.ContentDir)
	if err != nil {
		return nil, err
	}

	ctx := context.Background()
	var synth narration.Synthesizer
	if tts, err := narration.NewGoogleTTSClient(ctx, cfg.TTSKey, cfg.TTSLanguage, cfg.TTSTimeout); err != nil {
		log.Printf("Audio generation disabled: %v", err)
	} else {
		synth = tts
	}

	var gen study.Generator
	gemini, err := common.NewGeminiClient(ctx, cfg.GeminiKey, cfg.GeminiModel, cfg.GeminiRPS)
	if err != nil {
		log.Printf("AI features disabled: %v", err)
	} else {
		gen = gemini
	}

	s := newServer(NewWorkerPool(numWorkers, 100), store, synth, gen, cfg.MaxSynthesisBytes)
	s.gemini = gemini
	return s, nil
}

func newServer(pool *WorkerPool, store *session.ContentStore, synth narration.Synthesizer, gen study.Generator, maxSynthesisBytes int) *Server {
	return &Server{
		pool:  pool,
		store: store,
		sessions: session.NewRegistry(session.Deps{
			Synth:             synth,
			Study:             study.NewService(gen),
			Store:             store,
			Dispatcher:        pool,
			MaxSynthesisBytes: maxSynthesisBytes,
		}),
		ttsReady: synth != nil,
		aiReady:  gen != nil,
	}
}

func (s *Server) routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /voices", s.handleVoices)
	mux.HandleFunc("GET /jobs/{id}", s.handleJobStatus)
	mux.HandleFunc("GET /files/{name}", s.handleFile)

	mux.HandleFunc("POST /sessions", s.handleCreateSession)
	mux.HandleFunc("GET /sessions/{id}", s.withSession(s.handleGetSession))
	mux.HandleFunc("DELETE /sessions/{id}", s.handleDeleteSession)
	mux.HandleFunc("GET /sessions/{id}/events", s.withSession(s.handleEvents))
	mux.HandleFunc("GET /sessions/{id}/pages/{page}", s.withSession(s.handlePage))

	mux.HandleFunc("POST /sessions/{id}/upload", s.withSession(s.handleUpload))
	mux.HandleFunc("POST /sessions/{id}/import", s.withSession(s.handleImport))
	mux.HandleFunc("POST /sessions/{id}/voice", s.withSession(s.handleVoice))
	mux.HandleFunc("POST /sessions/{id}/preview", s.withSession(s.handlePreview))

	mux.HandleFunc("POST /sessions/{id}/audio", s.withSession(s.handleAudio))
	mux.HandleFunc("POST /sessions/{id}/play", s.withSession(s.handlePlay))
	mux.HandleFunc("POST /sessions/{id}/tick", s.withSession(s.handleTick))
	mux.HandleFunc("POST /sessions/{id}/duration", s.withSession(s.handleDuration))
	mux.HandleFunc("POST /sessions/{id}/ended", s.withSession(s.handleEnded))
	mux.HandleFunc("POST /sessions/{id}/seek", s.withSession(s.handleSeek))
	mux.HandleFunc("POST /sessions/{id}/zoom", s.withSession(s.handleZoom))

	mux.HandleFunc("POST /sessions/{id}/summary", s.withSession(s.handleSummary))
	mux.HandleFunc("POST /sessions/{id}/glossary", s.withSession(s.handleGlossary))
	mux.HandleFunc("POST /sessions/{id}/quiz", s.withSession(s.handleQuiz))
	mux.HandleFunc("POST /sessions/{id}/quiz/answer", s.withSession(s.handleQuizAnswer))
	mux.HandleFunc("POST /sessions/{id}/quiz/submit", s.withSession(s.handleQuizSubmit))
	mux.HandleFunc("POST /sessions/{id}/chat/start", s.withSession(s.handleChatStart))
	mux.HandleFunc("POST /sessions/{id}/chat", s.withSession(s.handleChat))
	return mux
}

// actionResponse is returned by every session operation: the commands the
// client should apply and the resulting state.
type actionResponse struct {
	Commands []playback.Command `json:"commands"`
	Session  session.Snapshot   `json:"session"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeAction(w http.ResponseWriter, sess *session.Session, cmds []playback.Command) {
	if cmds == nil {
		cmds = []playback.Command{}
	}
	writeJSON(w, http.StatusOK, actionResponse{Commands: cmds, Session: sess.Snapshot()})
}

func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, common.ErrUnsupportedFormat), errors.Is(err, common.ErrUnknownVoice):
		status = http.StatusBadRequest
	case errors.Is(err, common.ErrNoDocument):
		status = http.StatusNotFound
	case errors.Is(err, common.ErrNotConfigured), errors.Is(err, common.ErrMissingCredential):
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON body: " + err.Error()})
		return false
	}
	return true
}

func (s *Server) withSession(h func(http.ResponseWriter, *http.Request, *session.Session)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sess, ok := s.sessions.Get(r.PathValue("id"))
		if !ok {
			http.Error(w, "Session not found", http.StatusNotFound)
			return
		}
		h(w, r, sess)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":      "ok",
		"workers":     s.pool.numWorkers,
		"goroutines":  runtime.NumGoroutine(),
		"queued_jobs": len(s.pool.jobs),
		"sessions":    s.sessions.Len(),
		"tts":         s.ttsReady,
		"ai":          s.aiReady,
		"formats":     common.SupportedFormats(),
	})
}

func (s *Server) handleVoices(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, common.Voices)
}

func (s *Server) handleJobStatus(w http.ResponseWriter, r *http.Request) {
	status, ok := s.pool.GetStatus(r.PathValue("id"))
	if !ok {
		http.Error(w, "Job not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

func (s *Server) handleFile(w http.ResponseWriter, r *http.Request) {
	path, err := s.store.Path(r.PathValue("name"))
	if err != nil {
		http.NotFound(w, r)
		return
	}
	http.ServeFile(w, r, path)
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	sess := s.sessions.Create()
	log.Printf("[Session %s] Created", sess.ID)
	writeJSON(w, http.StatusCreated, sess.Snapshot())
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request, sess *session.Session) {
	writeJSON(w, http.StatusOK, sess.Snapshot())
}

func (s *Server) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	if !s.sessions.Delete(r.PathValue("id")) {
		http.Error(w, "Session not found", http.StatusNotFound)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request, sess *session.Session) {
	writeAction(w, sess, sess.Drain())
}

func (s *Server) handlePage(w http.ResponseWriter, r *http.Request, sess *session.Session) {
	page, err := strconv.Atoi(r.PathValue("page"))
	if err != nil || page < 0 {
		http.Error(w, "Invalid page number", http.StatusBadRequest)
		return
	}
	dpi := 100.0
	if v := r.URL.Query().Get("dpi"); v != "" {
		if dpi, err = strconv.ParseFloat(v, 64); err != nil || dpi < 36 || dpi > 300 {
			http.Error(w, "dpi must be between 36 and 300", http.StatusBadRequest)
			return
		}
	}

	png, err := sess.RenderPage(page, dpi)
	if err != nil {
		writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Write(png)
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request, sess *session.Session) {
	if err := r.ParseMultipartForm(100 << 20); err != nil && !errors.Is(err, http.ErrNotMultipart) {
		http.Error(w, "Failed to parse upload: "+err.Error(), http.StatusBadRequest)
		return
	}

	file, header, err := r.FormFile("file")
	if errors.Is(err, http.ErrMissingFile) || errors.Is(err, http.ErrNotMultipart) {
		cmds, _ := sess.Upload("", nil)
		writeAction(w, sess, cmds)
		return
	}
	if err != nil {
		http.Error(w, "Failed to get file: "+err.Error(), http.StatusBadRequest)
		return
	}
	defer file.Close()

	cmds, err := sess.Upload(header.Filename, file)
	if err != nil {
		writeError(w, err)
		return
	}
	writeAction(w, sess, cmds)
}

func (s *Server) handleImport(w http.ResponseWriter, r *http.Request, sess *session.Session) {
	var req struct {
		URL string `json:"url"`
	}
	if !decode(w, r, &req) {
		return
	}
	cmds, err := sess.ImportArticle(r.Context(), req.URL)
	if err != nil {
		writeJSON(w, http.StatusBadGateway, map[string]string{"error": err.Error()})
		return
	}
	writeAction(w, sess, cmds)
}

type voiceRequest struct {
	Voice string `json:"voice"`
}

func (s *Server) handleVoice(w http.ResponseWriter, r *http.Request, sess *session.Session) {
	var req voiceRequest
	if !decode(w, r, &req) {
		return
	}
	if err := sess.SetVoice(req.Voice); err != nil {
		writeError(w, err)
		return
	}
	writeAction(w, sess, nil)
}

func (s *Server) handlePreview(w http.ResponseWriter, r *http.Request, sess *session.Session) {
	var req voiceRequest
	if !decode(w, r, &req) {
		return
	}
	cmds, err := sess.PreviewVoice(req.Voice)
	if err != nil {
		writeError(w, err)
		return
	}
	writeAction(w, sess, cmds)
}

func (s *Server) handleAudio(w http.ResponseWriter, r *http.Request, sess *session.Session) {
	writeAction(w, sess, sess.GenerateAudio())
}

func (s *Server) handlePlay(w http.ResponseWriter, r *http.Request, sess *session.Session) {
	writeAction(w, sess, sess.PlayClick())
}

func (s *Server) handleTick(w http.ResponseWriter, r *http.Request, sess *session.Session) {
	var req struct {
		Time float64 `json:"time"`
	}
	if !decode(w, r, &req) {
		return
	}
	writeAction(w, sess, sess.Tick(req.Time))
}

func (s *Server) handleDuration(w http.ResponseWriter, r *http.Request, sess *session.Session) {
	var req struct {
		Duration float64 `json:"duration"`
	}
	if !decode(w, r, &req) {
		return
	}
	sess.SetDuration(req.Duration)
	writeAction(w, sess, nil)
}

func (s *Server) handleEnded(w http.ResponseWriter, r *http.Request, sess *session.Session) {
	writeAction(w, sess, sess.End())
}

func (s *Server) handleSeek(w http.ResponseWriter, r *http.Request, sess *session.Session) {
	var req struct {
		By      *float64 `json:"by"`
		Percent *float64 `json:"percent"`
	}
	if !decode(w, r, &req) {
		return
	}
	switch {
	case req.By != nil:
		writeAction(w, sess, sess.SeekBy(*req.By))
	case req.Percent != nil:
		writeAction(w, sess, sess.SeekTo(*req.Percent))
	default:
		http.Error(w, "Provide 'by' seconds or 'percent'", http.StatusBadRequest)
	}
}

func (s *Server) handleZoom(w http.ResponseWriter, r *http.Request, sess *session.Session) {
	var req struct {
		Direction string `json:"direction"`
	}
	if !decode(w, r, &req) {
		return
	}
	var zoom int
	switch req.Direction {
	case "in":
		zoom = sess.ZoomIn()
	case "out":
		zoom = sess.ZoomOut()
	default:
		http.Error(w, "Invalid direction. Use 'in' or 'out'", http.StatusBadRequest)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"zoom": zoom})
}

func (s *Server) handleSummary(w http.ResponseWriter, r *http.Request, sess *session.Session) {
	writeAction(w, sess, sess.GenerateSummary())
}

func (s *Server) handleGlossary(w http.ResponseWriter, r *http.Request, sess *session.Session) {
	writeAction(w, sess, sess.GenerateGlossary())
}

func (s *Server) handleQuiz(w http.ResponseWriter, r *http.Request, sess *session.Session) {
	writeAction(w, sess, sess.GenerateQuiz())
}

func (s *Server) handleQuizAnswer(w http.ResponseWriter, r *http.Request, sess *session.Session) {
	var req struct {
		Question int `json:"question"`
		Answer   int `json:"answer"`
	}
	if !decode(w, r, &req) {
		return
	}
	sess.SelectAnswer(req.Question, req.Answer)
	writeAction(w, sess, nil)
}

func (s *Server) handleQuizSubmit(w http.ResponseWriter, r *http.Request, sess *session.Session) {
	writeAction(w, sess, sess.SubmitQuiz())
}

func (s *Server) handleChatStart(w http.ResponseWriter, r *http.Request, sess *session.Session) {
	writeAction(w, sess, sess.StartChat())
}

// handleChat streams the answer as plain text chunks. A failure after the
// first chunk is reported inline since the status line is already sent.
func (s *Server) handleChat(w http.ResponseWriter, r *http.Request, sess *session.Session) {
	var req struct {
		Message string `json:"message"`
	}
	if !decode(w, r, &req) {
		return
	}

	flusher, _ := w.(http.Flusher)
	started := false
	err := sess.SendChat(r.Context(), req.Message, func(chunk string) error {
		if !started {
			w.Header().Set("Content-Type", "text/plain; charset=utf-8")
			w.Header().Set("X-Content-Type-Options", "nosniff")
			started = true
		}
		if _, err := w.Write([]byte(chunk)); err != nil {
			return err
		}
		if flusher != nil {
			flusher.Flush()
		}
		return nil
	})

	switch {
	case err == nil && !started:
		w.WriteHeader(http.StatusNoContent)
	case err != nil && started:
		fmt.Fprintf(w, "\n\n%s", study.ChatErrorReply)
	case err != nil && errors.Is(err, common.ErrNotConfigured):
		writeError(w, err)
	case err != nil:
		writeJSON(w, http.StatusBadGateway, map[string]string{"error": study.ChatErrorReply})
	}
}

func (s *Server) Shutdown(ctx context.Context) {
	s.pool.Shutdown()
	if s.gemini != nil {
		s.gemini.Close()
	}
}

func StartServer(addr string, numWorkers int) {
	server, err := NewServer(common.LoadConfig(), numWorkers)
	if err != nil {
		log.Fatalf("Server setup failed: %v", err)
	}

	httpServer := &http.Server{
		Addr:         addr,
		Handler:      server.routes(),
		ReadTimeout:  5 * time.Minute,
		WriteTimeout: 5 * time.Minute,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		log.Printf("Server starting on %s with %d workers", addr, numWorkers)
		log.Printf("POST /sessions to start, then /sessions/{id}/upload with a 'file' form field")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed: %v", err)
		}
	}()

	<-ctx.Done()
	log.Println("Shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("HTTP shutdown: %v", err)
	}
	server.Shutdown(shutdownCtx)
}

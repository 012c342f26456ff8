package session

import (
	"context"
	"log"
	"sync/atomic"
)

// TaskKind names a background operation. At most one task of each kind runs
// per session.
type TaskKind string

const (
	TaskAudio    TaskKind = "audio"
	TaskPreview  TaskKind = "preview"
	TaskSummary  TaskKind = "summary"
	TaskGlossary TaskKind = "glossary"
	TaskQuiz     TaskKind = "quiz"
	TaskChat     TaskKind = "chat"
)

var taskKinds = []TaskKind{TaskAudio, TaskPreview, TaskSummary, TaskGlossary, TaskQuiz, TaskChat}

// Dispatcher runs a job in the background. The server's worker pool
// implements it.
type Dispatcher interface {
	Dispatch(label string, job func(ctx context.Context) error) error
}

// Goroutines dispatches each job on its own goroutine.
type Goroutines struct{}

func (Goroutines) Dispatch(label string, job func(ctx context.Context) error) error {
	go func() {
		if err := job(context.Background()); err != nil {
			log.Printf("[Task %s] Failed: %v", label, err)
		}
	}()
	return nil
}

// Tasks holds the busy flags of one session.
type Tasks struct {
	busy       map[TaskKind]*atomic.Bool
	dispatcher Dispatcher
	label      string
}

func NewTasks(d Dispatcher, label string) *Tasks {
	if d == nil {
		d = Goroutines{}
	}
	t := &Tasks{busy: make(map[TaskKind]*atomic.Bool, len(taskKinds)), dispatcher: d, label: label}
	for _, k := range taskKinds {
		t.busy[k] = new(atomic.Bool)
	}
	return t
}

// Busy reports whether a task of this kind is in flight.
func (t *Tasks) Busy(kind TaskKind) bool {
	return t.busy[kind].Load()
}

// TryAcquire claims the guard of kind. The caller must hand it to Start or
// give it back with Release.
func (t *Tasks) TryAcquire(kind TaskKind) bool {
	return t.busy[kind].CompareAndSwap(false, true)
}

// Release gives back a guard taken with TryAcquire.
func (t *Tasks) Release(kind TaskKind) {
	t.busy[kind].Store(false)
}

// Start dispatches fn under a guard already taken with TryAcquire. The guard
// is released when fn returns, or right away when dispatch fails.
func (t *Tasks) Start(kind TaskKind, fn func(ctx context.Context) error) bool {
	err := t.dispatcher.Dispatch(t.label+"/"+string(kind), func(ctx context.Context) error {
		defer t.Release(kind)
		return fn(ctx)
	})
	if err != nil {
		t.Release(kind)
		log.Printf("[Session %s] Could not start %s task: %v", t.label, kind, err)
		return false
	}
	return true
}

// Go starts fn in the background unless a task of the same kind is already
// running, in which case it returns false and fn is dropped.
func (t *Tasks) Go(kind TaskKind, fn func(ctx context.Context) error) bool {
	if !t.TryAcquire(kind) {
		return false
	}
	return t.Start(kind, fn)
}

// Run is Go without the dispatch: fn runs on the calling goroutine.
func (t *Tasks) Run(ctx context.Context, kind TaskKind, fn func(ctx context.Context) error) (bool, error) {
	if !t.TryAcquire(kind) {
		return false, nil
	}
	defer t.Release(kind)
	return true, fn(ctx)
}

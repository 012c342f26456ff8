package session

import (
	"context"
	"fmt"
	"log"

	"readify/common"
	"readify/playback"
)

// studyInput returns the document text for a study task, or the toast to
// show instead. Caller holds s.mu.
func (s *Session) studyInput() (string, []playback.Command) {
	if s.doc.text == "" {
		return "", []playback.Command{playback.Toast(playback.ToastError, "Upload a document first.")}
	}
	if !s.deps.Study.Configured() {
		return "", []playback.Command{playback.Toast(playback.ToastError, "AI features are not configured: set GEMINI_API_KEY.")}
	}
	return s.doc.text, nil
}

// startStudy claims the guard of kind, runs reset under the lock and then
// dispatches run with the document text. A call while the task is in flight
// changes nothing. Results are applied by run only while epoch matches.
func (s *Session) startStudy(kind TaskKind, failed string, reset func(), run func(ctx context.Context, text string, epoch int) error) []playback.Command {
	s.mu.Lock()
	text, toast := s.studyInput()
	if toast != nil {
		s.mu.Unlock()
		return toast
	}
	if !s.tasks.TryAcquire(kind) {
		s.mu.Unlock()
		return nil
	}
	reset()
	epoch := s.docEpoch
	s.mu.Unlock()

	started := s.tasks.Start(kind, func(ctx context.Context) error {
		if err := run(ctx, text, epoch); err != nil {
			s.emit(playback.Toast(playback.ToastError, failed))
			return err
		}
		return nil
	})
	if !started {
		return []playback.Command{playback.Toast(playback.ToastError, failed)}
	}
	return nil
}

// GenerateSummary starts a summary of the current document.
func (s *Session) GenerateSummary() []playback.Command {
	return s.startStudy(TaskSummary, "Failed to generate summary.",
		func() { s.summary = "" },
		func(ctx context.Context, text string, epoch int) error {
			summary, err := s.deps.Study.Summarize(ctx, text)
			if err != nil {
				return err
			}
			s.mu.Lock()
			defer s.mu.Unlock()
			if epoch == s.docEpoch {
				s.summary = summary
			}
			return nil
		})
}

// GenerateGlossary starts glossary extraction for the current document.
func (s *Session) GenerateGlossary() []playback.Command {
	return s.startStudy(TaskGlossary, "Failed to generate glossary.",
		func() { s.glossary = nil },
		func(ctx context.Context, text string, epoch int) error {
			terms, err := s.deps.Study.Glossary(ctx, text)
			if err != nil {
				return err
			}
			s.mu.Lock()
			defer s.mu.Unlock()
			if epoch == s.docEpoch {
				s.glossary = terms
			}
			return nil
		})
}

// GenerateQuiz starts a new quiz, discarding any answers. It also serves as
// the retake action.
func (s *Session) GenerateQuiz() []playback.Command {
	return s.startStudy(TaskQuiz, "Failed to generate quiz.",
		func() { s.quiz.Reset(nil) },
		func(ctx context.Context, text string, epoch int) error {
			questions, err := s.deps.Study.Quiz(ctx, text)
			if err != nil {
				return err
			}
			s.mu.Lock()
			defer s.mu.Unlock()
			if epoch == s.docEpoch {
				s.quiz.Reset(questions)
			}
			return nil
		})
}

// SelectAnswer records a quiz answer. It reports false when the answer was
// ignored.
func (s *Session) SelectAnswer(question, answer int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.quiz.Select(question, answer)
}

// SubmitQuiz grades the quiz.
func (s *Session) SubmitQuiz() []playback.Command {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.quiz.Questions) == 0 {
		return nil
	}
	if !s.quiz.Submit() {
		return []playback.Command{playback.Toast(playback.ToastWarning, "Please answer all questions before submitting.")}
	}
	log.Printf("[Session %s] Quiz scored %d/%d", s.ID, s.quiz.Score, len(s.quiz.Questions))
	return nil
}

// StartChat clears the conversation and grounds it in the current document.
func (s *Session) StartChat() []playback.Command {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.chatEpoch++
	s.chat.Start(s.doc.text)
	return []playback.Command{playback.Toast(playback.ToastInfo, "Chat initialized. Ask a question about the document!")}
}

// SendChat asks a question and streams the answer to onChunk as it arrives.
// It returns immediately without error when a message is already being
// answered or the message is blank. When the stream fails the pending reply
// reads study.ChatErrorReply.
func (s *Session) SendChat(ctx context.Context, message string, onChunk func(string) error) error {
	if !s.deps.Study.Configured() {
		return common.ErrNotConfigured
	}

	_, err := s.tasks.Run(ctx, TaskChat, func(ctx context.Context) error {
		s.mu.Lock()
		prior, prompt, ok := s.chat.Begin(message)
		epoch := s.chatEpoch
		s.mu.Unlock()
		if !ok {
			return nil
		}

		err := s.deps.Study.Reply(ctx, prior, prompt, func(chunk string) error {
			s.mu.Lock()
			if epoch == s.chatEpoch {
				s.chat.Append(chunk)
			}
			s.mu.Unlock()
			if onChunk != nil {
				return onChunk(chunk)
			}
			return nil
		})
		if err != nil {
			log.Printf("[Session %s] Chat failed: %v", s.ID, err)
			s.mu.Lock()
			if epoch == s.chatEpoch {
				s.chat.Fail()
			}
			s.mu.Unlock()
			return fmt.Errorf("chat failed: %w", err)
		}
		return nil
	})
	return err
}

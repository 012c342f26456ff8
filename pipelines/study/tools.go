// Package study generates study aids for a document with a language model:
// a summary, a glossary, a graded quiz and a document-grounded chat.
package study

import (
	"context"
	"fmt"
	"log"
	"strings"

	"readify/common"
)

// Generator is the language model used by the study tools.
// common.GeminiClient implements it.
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
	StreamChat(ctx context.Context, history []common.ChatTurn, prompt string, onChunk func(string) error) error
}

type GlossaryTerm struct {
	Term       string `json:"term"`
	Definition string `json:"definition"`
}

// Service runs the study tools against a Generator. A Service with a nil
// Generator reports common.ErrNotConfigured from every call.
type Service struct {
	gen Generator
}

func NewService(gen Generator) *Service {
	return &Service{gen: gen}
}

// Configured reports whether a model is available.
func (s *Service) Configured() bool {
	return s != nil && s.gen != nil
}

// Summarize returns a short bullet point summary in markdown.
func (s *Service) Summarize(ctx context.Context, text string) (string, error) {
	if !s.Configured() {
		return "", common.ErrNotConfigured
	}
	log.Println("[STUDY] Generating summary...")

	prompt := "Summarize the following document in 3-5 key bullet points:\n\n" +
		common.TruncateRunes(text, common.PromptTextLimit)
	summary, err := s.gen.Generate(ctx, prompt)
	if err != nil {
		return "", fmt.Errorf("summary generation failed: %w", err)
	}
	return strings.TrimSpace(summary), nil
}

// Glossary extracts key terms and their definitions. Malformed model output
// yields an empty glossary, not an error.
func (s *Service) Glossary(ctx context.Context, text string) ([]GlossaryTerm, error) {
	if !s.Configured() {
		return nil, common.ErrNotConfigured
	}
	log.Println("[STUDY] Generating glossary...")

	prompt := fmt.Sprintf(`Extract key technical terms and acronyms from this text and provide definitions for each.
Format as a JSON array of objects, where each object has a 'term' and a 'definition' field.
Example: [{"term": "AI", "definition": "Artificial Intelligence."}]

Text: %s`, common.TruncateRunes(text, common.PromptTextLimit))

	resp, err := s.gen.Generate(ctx, prompt)
	if err != nil {
		return nil, fmt.Errorf("glossary generation failed: %w", err)
	}

	var terms []GlossaryTerm
	for _, t := range ExtractJSON(resp, []GlossaryTerm{}) {
		if strings.TrimSpace(t.Term) == "" {
			continue
		}
		terms = append(terms, t)
	}
	log.Printf("[STUDY] Glossary has %d terms", len(terms))
	return terms, nil
}

// QuestionCount scales the quiz with document length: one question per 200
// words, between 3 and 10.
func QuestionCount(text string) int {
	return min(10, max(3, len(strings.Fields(text))/200))
}

// Quiz generates multiple-choice questions. Questions whose correct answer
// does not index one of their options are dropped.
func (s *Service) Quiz(ctx context.Context, text string) ([]QuizQuestion, error) {
	if !s.Configured() {
		return nil, common.ErrNotConfigured
	}
	n := QuestionCount(text)
	log.Printf("[STUDY] Generating quiz with %d questions...", n)

	prompt := fmt.Sprintf(`Generate %d multiple-choice questions based on this text.
Format as a JSON array of objects, where each object has:
- 'question': The question text (string).
- 'options': An array of 4 answer choices (list[str]).
- 'correct_answer': The index (0-3) of the correct option (int).
- 'explanation': A brief explanation of why the answer is correct (string).

Text: %s`, n, common.TruncateRunes(text, common.PromptTextLimit))

	resp, err := s.gen.Generate(ctx, prompt)
	if err != nil {
		return nil, fmt.Errorf("quiz generation failed: %w", err)
	}

	var questions []QuizQuestion
	for _, q := range ExtractJSON(resp, []QuizQuestion{}) {
		if q.Question == "" || q.CorrectAnswer < 0 || q.CorrectAnswer >= len(q.Options) {
			log.Printf("[STUDY] Dropping malformed quiz question %q", q.Question)
			continue
		}
		q.UserAnswer, q.IsCorrect = nil, nil
		questions = append(questions, q)
	}
	return questions, nil
}

// Reply streams a chat answer for the prompt built by Chat.Begin.
func (s *Service) Reply(ctx context.Context, history []common.ChatTurn, prompt string, onChunk func(string) error) error {
	if !s.Configured() {
		return common.ErrNotConfigured
	}
	return s.gen.StreamChat(ctx, history, prompt, onChunk)
}

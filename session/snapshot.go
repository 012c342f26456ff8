package session

import (
	"readify/common"
	"readify/pipelines/narration"
	"readify/pipelines/study"
	"readify/playback"
)

// Snapshot is a point-in-time copy of a session for clients.
type Snapshot struct {
	ID        string `json:"id"`
	Uploading bool   `json:"uploading"`

	FileName  string               `json:"file_name,omitempty"`
	FileURL   string               `json:"file_url,omitempty"`
	Title     string               `json:"title,omitempty"`
	Paged     bool                 `json:"paged"`
	PageCount int                  `json:"page_count"`
	Sentences []narration.Sentence `json:"sentences"`
	Narrated  int                  `json:"narrated_sentences"`

	Voice             string         `json:"voice"`
	Zoom              int            `json:"zoom"`
	Playback          playback.State `json:"playback"`
	GeneratingAudio   bool           `json:"is_generating_audio"`
	GeneratingPreview bool           `json:"is_generating_preview"`
	PreviewURL        string         `json:"preview_url,omitempty"`

	Study StudyState `json:"study"`
}

// StudyState is the study tools part of a Snapshot.
type StudyState struct {
	Summary            string               `json:"summary"`
	Summarizing        bool                 `json:"is_summarizing"`
	Glossary           []study.GlossaryTerm `json:"glossary"`
	GeneratingGlossary bool                 `json:"is_generating_glossary"`
	Quiz               study.Quiz           `json:"quiz"`
	GeneratingQuiz     bool                 `json:"is_generating_quiz"`
	Chat               []common.ChatTurn    `json:"chat_history"`
	Chatting           bool                 `json:"is_chatting"`
}

func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := Snapshot{
		ID:                s.ID,
		Uploading:         s.uploading,
		FileName:          s.doc.name,
		Title:             s.doc.title,
		Paged:             s.doc.paged,
		PageCount:         s.doc.pageCount,
		Sentences:         s.doc.sentences,
		Narrated:          s.narrated,
		Voice:             s.voice,
		Zoom:              s.zoom,
		Playback:          s.player.State(),
		GeneratingAudio:   s.tasks.Busy(TaskAudio),
		GeneratingPreview: s.tasks.Busy(TaskPreview),
		PreviewURL:        s.previewURL,
		Study: StudyState{
			Summary:            s.summary,
			Summarizing:        s.tasks.Busy(TaskSummary),
			Glossary:           s.glossary,
			GeneratingGlossary: s.tasks.Busy(TaskGlossary),
			Quiz:               s.quiz,
			GeneratingQuiz:     s.tasks.Busy(TaskQuiz),
			Chat:               s.chat.History(),
			Chatting:           s.tasks.Busy(TaskChat),
		},
	}
	if s.doc.stored != "" {
		snap.FileURL = URL(s.doc.stored)
	}
	// Select replaces answer pointers in place.
	snap.Study.Quiz.Questions = append([]study.QuizQuestion(nil), s.quiz.Questions...)
	if snap.Sentences == nil {
		snap.Sentences = []narration.Sentence{}
	}
	return snap
}

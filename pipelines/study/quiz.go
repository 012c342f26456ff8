package study

// QuizQuestion is a multiple-choice question. UserAnswer and IsCorrect stay
// nil until answered and graded.
type QuizQuestion struct {
	Question      string   `json:"question"`
	Options       []string `json:"options"`
	CorrectAnswer int      `json:"correct_answer"`
	Explanation   string   `json:"explanation"`
	UserAnswer    *int     `json:"user_answer"`
	IsCorrect     *bool    `json:"is_correct"`
}

// Quiz is a quiz being taken.
type Quiz struct {
	Questions []QuizQuestion `json:"questions"`
	Score     int            `json:"score"`
	Submitted bool           `json:"submitted"`
}

// Reset replaces the questions and clears grading.
func (q *Quiz) Reset(questions []QuizQuestion) {
	*q = Quiz{Questions: questions}
}

// Select records an answer. It is ignored once the quiz is submitted or when
// either index is out of range.
func (q *Quiz) Select(question, answer int) bool {
	if q.Submitted || question < 0 || question >= len(q.Questions) {
		return false
	}
	if answer < 0 || answer >= len(q.Questions[question].Options) {
		return false
	}
	q.Questions[question].UserAnswer = &answer
	return true
}

// Answered reports whether every question has an answer.
func (q *Quiz) Answered() bool {
	for _, question := range q.Questions {
		if question.UserAnswer == nil {
			return false
		}
	}
	return true
}

// Submit grades the quiz. It returns false without grading when a question
// is unanswered.
func (q *Quiz) Submit() bool {
	if !q.Answered() {
		return false
	}
	q.Score = 0
	for i := range q.Questions {
		correct := *q.Questions[i].UserAnswer == q.Questions[i].CorrectAnswer
		q.Questions[i].IsCorrect = &correct
		if correct {
			q.Score++
		}
	}
	q.Submitted = true
	return true
}

package model

import (
	"time"

	"github.com/google/uuid"
)

// QuestionType enumerates how a question is answered.
type QuestionType string

const (
	QuestionTypeText QuestionType = "TEXT"
	QuestionTypeCode QuestionType = "CODE"
)

// Evaluation is an ordered set of questions. It is immutable while an attempt runs.
type Evaluation struct {
	ID        uuid.UUID  `json:"id"`
	Title     string     `json:"title"`
	HelpURL   *string    `json:"help_url,omitempty"`
	Questions []Question `json:"questions"`
	CreatedAt time.Time  `json:"created_at"`
}

// Question belongs to exactly one Evaluation.
type Question struct {
	ID              uuid.UUID    `json:"id"`
	EvaluationID    uuid.UUID    `json:"evaluation_id"`
	Body            string       `json:"body"`
	Type            QuestionType `json:"type"`
	Language        string       `json:"language,omitempty"`
	CanonicalAnswer *string      `json:"canonical_answer,omitempty"`
	Position        int          `json:"position"`
}

// EvaluationForStudent is the evaluation as shown during an attempt (no canonical answers).
type EvaluationForStudent struct {
	ID        uuid.UUID            `json:"id"`
	Title     string               `json:"title"`
	HelpURL   *string              `json:"help_url,omitempty"`
	Questions []QuestionForStudent `json:"questions"`
}

// QuestionForStudent is a question without canonical-answer metadata.
type QuestionForStudent struct {
	ID       uuid.UUID    `json:"id"`
	Body     string       `json:"body"`
	Type     QuestionType `json:"type"`
	Language string       `json:"language,omitempty"`
	Position int          `json:"position"`
}

// ForStudent strips everything a student must not see.
func (e *Evaluation) ForStudent() EvaluationForStudent {
	out := EvaluationForStudent{
		ID:        e.ID,
		Title:     e.Title,
		HelpURL:   e.HelpURL,
		Questions: make([]QuestionForStudent, 0, len(e.Questions)),
	}
	for _, q := range e.Questions {
		out.Questions = append(out.Questions, QuestionForStudent{
			ID:       q.ID,
			Body:     q.Body,
			Type:     q.Type,
			Language: q.Language,
			Position: q.Position,
		})
	}
	return out
}

// Question returns the question with the given id, if it belongs to the evaluation.
func (e *Evaluation) Question(id uuid.UUID) (*Question, bool) {
	for i := range e.Questions {
		if e.Questions[i].ID == id {
			return &e.Questions[i], true
		}
	}
	return nil, false
}

package model

import (
	"time"

	"github.com/google/uuid"
)

// MaxScore is the upper bound of a per-question score.
const MaxScore = 5.0

// Answer is unique per (SubmissionID, QuestionID). Score stays nil until graded
// or until aggregation fills the zero default.
type Answer struct {
	ID           uuid.UUID `json:"id"`
	SubmissionID uuid.UUID `json:"submission_id"`
	QuestionID   uuid.UUID `json:"question_id"`
	Text         string    `json:"text"`
	Score        *float64  `json:"score"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// AnswerInput is one upsert. A nil Score leaves any stored score untouched.
type AnswerInput struct {
	QuestionID uuid.UUID `json:"question_id" binding:"required"`
	Text       string    `json:"text" binding:"max=100000"`
	Score      *float64  `json:"score" binding:"omitempty,min=0,max=5"`
}

// SaveAnswerRequest is the autosave payload for a single question.
type SaveAnswerRequest struct {
	Text  string   `json:"text" binding:"max=100000"`
	Score *float64 `json:"score" binding:"omitempty,min=0,max=5"`
}

// GradeAnswerRequest asks the external grader to score the given text.
type GradeAnswerRequest struct {
	Text string `json:"text" binding:"max=100000"`
}

// SubmitRequest carries the full answer set at submit time.
type SubmitRequest struct {
	Answers []AnswerInput `json:"answers" binding:"dive"`
}

// ClampScore keeps a score inside [0, MaxScore].
func ClampScore(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > MaxScore {
		return MaxScore
	}
	return v
}

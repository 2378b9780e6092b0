package model

import (
	"time"

	"github.com/google/uuid"
)

// GradeResult is returned by the external grader for one answer.
type GradeResult struct {
	IsCorrect bool    `json:"is_correct"`
	Feedback  string  `json:"feedback"`
	Grade     float64 `json:"grade"`
}

// AnswerSummary is the per-answer line handed to the report composer.
type AnswerSummary struct {
	QuestionID uuid.UUID `json:"question_id"`
	Question   string    `json:"question"`
	Answer     string    `json:"answer"`
	Score      float64   `json:"score"`
}

// Report is the composed narrative feedback for a finalized submission.
type Report struct {
	OverallFeedback     string   `json:"overall_feedback"`
	Strengths           []string `json:"strengths"`
	AreasForImprovement []string `json:"areas_for_improvement"`
	Grade               float64  `json:"grade"`
	Message             string   `json:"message,omitempty"`
}

// FinalReport is the transport payload produced once a submission is finalized.
type FinalReport struct {
	SubmissionID    uuid.UUID       `json:"submission_id"`
	StudentName     string          `json:"student_name"`
	EvaluationTitle string          `json:"evaluation_title"`
	FinalScore      float64         `json:"final_score"`
	FraudAttempts   int             `json:"fraud_attempts"`
	TimeOutsideEval int             `json:"time_outside_eval"`
	SubmittedAt     time.Time       `json:"submitted_at"`
	Answers         []AnswerSummary `json:"answers"`
	Report          *Report         `json:"report,omitempty"`
}

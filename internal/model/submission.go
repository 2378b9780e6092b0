package model

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Submission is one student's response set for an Attempt.
// SubmittedAt == nil means draft; once set it never changes.
type Submission struct {
	ID              uuid.UUID  `json:"id"`
	AttemptID       uuid.UUID  `json:"attempt_id"`
	FirstName       string     `json:"first_name"`
	LastName        string     `json:"last_name"`
	Email           string     `json:"email"`
	Score           *float64   `json:"score"`
	FraudAttempts   int        `json:"fraud_attempts"`
	TimeOutsideEval int        `json:"time_outside_eval"`
	SubmittedAt     *time.Time `json:"submitted_at"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

// IsFinalized reports whether the submission reached its terminal state.
func (s *Submission) IsFinalized() bool {
	return s.SubmittedAt != nil
}

// StudentName joins first and last name for reports.
func (s *Submission) StudentName() string {
	return strings.TrimSpace(s.FirstName + " " + s.LastName)
}

// Counters returns the integrity counters stored on the submission.
func (s *Submission) Counters() Counters {
	return Counters{FraudAttempts: s.FraudAttempts, TimeOutsideEval: s.TimeOutsideEval}
}

// Counters is the pair of monotonic integrity counters of a submission.
type Counters struct {
	FraudAttempts   int `json:"fraud_attempts"`
	TimeOutsideEval int `json:"time_outside_eval"`
}

// NormalizeEmail lowercases and trims an email so lookups are case-insensitive.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// AccessRequest is the only payload accepted by the student access surface.
type AccessRequest struct {
	UniqueCode string `json:"unique_code" binding:"required,accesscode"`
	Email      string `json:"email" binding:"required,email,max=254"`
	FirstName  string `json:"first_name" binding:"required,min=1,max=100"`
	LastName   string `json:"last_name" binding:"required,min=1,max=100"`
}

// CountersRequest is pushed by the integrity monitor.
type CountersRequest struct {
	FraudAttempts   int        `json:"fraud_attempts" binding:"min=0"`
	TimeOutsideEval int        `json:"time_outside_eval" binding:"min=0"`
	QuestionID      *uuid.UUID `json:"question_id"`
}

// RosterEntry is one line of the proctor's live view of an attempt.
type RosterEntry struct {
	SubmissionID    uuid.UUID  `json:"submission_id"`
	StudentName     string     `json:"student_name"`
	Email           string     `json:"email"`
	FraudAttempts   int        `json:"fraud_attempts"`
	TimeOutsideEval int        `json:"time_outside_eval"`
	Answered        int        `json:"answered"`
	SubmittedAt     *time.Time `json:"submitted_at"`
}

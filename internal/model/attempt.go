package model

import (
	"time"

	"github.com/google/uuid"
)

// MinAccessCodeLength is the shortest access code a student may enter.
const MinAccessCodeLength = 6

// Attempt is a time-boxed instance of an Evaluation reachable through a unique access code.
// StartTime is always before EndTime.
type Attempt struct {
	ID             uuid.UUID `json:"id"`
	EvaluationID   uuid.UUID `json:"evaluation_id"`
	UniqueCode     string    `json:"unique_code"`
	StartTime      time.Time `json:"start_time"`
	EndTime        time.Time `json:"end_time"`
	MaxSubmissions *int      `json:"max_submissions,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

// Remaining returns the time left in the window at now, never negative.
func (a *Attempt) Remaining(now time.Time) time.Duration {
	d := a.EndTime.Sub(now)
	if d < 0 {
		return 0
	}
	return d
}

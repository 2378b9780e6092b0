package repository

import "errors"

// Storage-level outcomes shared by every storage driver.
var (
	ErrNotFound = errors.New("record not found")
	// ErrFinalized is returned when a write targets a submission whose submitted_at is set.
	ErrFinalized = errors.New("submission already finalized")
	// ErrCapacityReached is returned when an attempt's max-submissions cap blocks a new draft.
	ErrCapacityReached = errors.New("attempt submission cap reached")
	// ErrUnknownQuestion is returned when an answer references a question outside the evaluation.
	ErrUnknownQuestion = errors.New("question does not belong to the evaluation")
	// ErrDuplicateCode is returned when seeding an attempt whose access code is taken.
	ErrDuplicateCode = errors.New("attempt access code already exists")
)

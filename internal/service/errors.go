package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/stemsi/exstem-assess/internal/repository"
)

// Outcomes surfaced by the assessment services. Handlers map these to
// response codes via Classify; raw storage errors never reach a student.
var (
	ErrInvalidCode        = errors.New("access code must be at least 6 characters")
	ErrAttemptNotFound    = errors.New("attempt not found")
	ErrNotStarted         = errors.New("attempt has not started yet")
	ErrExpired            = errors.New("attempt has ended")
	ErrAlreadySubmitted   = errors.New("submission already finalized")
	ErrAttemptFull        = errors.New("attempt has reached its submission limit")
	ErrSubmissionNotFound = errors.New("submission not found")
	ErrUnknownQuestion    = errors.New("question does not belong to this evaluation")
	ErrInvalidSignal      = errors.New("unknown integrity signal")
	ErrTransientIO        = errors.New("temporary storage failure")
	ErrNotConfigured      = errors.New("grader is not configured")
	ErrGradingFailed      = errors.New("grading failed")
)

// Kind is the error taxonomy exposed to callers.
type Kind string

const (
	KindNone             Kind = ""
	KindInvalidInput     Kind = "INVALID_INPUT"
	KindNotFound         Kind = "NOT_FOUND"
	KindNotStarted       Kind = "NOT_STARTED"
	KindExpired          Kind = "EXPIRED"
	KindAlreadySubmitted Kind = "ALREADY_SUBMITTED"
	KindCapacity         Kind = "CAPACITY"
	KindTransientIO      Kind = "TRANSIENT_IO"
	KindConfiguration    Kind = "CONFIGURATION"
	KindGrading          Kind = "GRADING"
)

// Classify maps any error returned by this package onto the taxonomy.
// Unknown errors are treated as transient so the caller may retry.
func Classify(err error) Kind {
	switch {
	case err == nil:
		return KindNone
	case errors.Is(err, ErrInvalidCode), errors.Is(err, ErrUnknownQuestion), errors.Is(err, ErrInvalidSignal):
		return KindInvalidInput
	case errors.Is(err, ErrAttemptNotFound), errors.Is(err, ErrSubmissionNotFound):
		return KindNotFound
	case errors.Is(err, ErrNotStarted):
		return KindNotStarted
	case errors.Is(err, ErrExpired):
		return KindExpired
	case errors.Is(err, ErrAlreadySubmitted):
		return KindAlreadySubmitted
	case errors.Is(err, ErrAttemptFull):
		return KindCapacity
	case errors.Is(err, ErrNotConfigured):
		return KindConfiguration
	case errors.Is(err, ErrGradingFailed):
		return KindGrading
	default:
		return KindTransientIO
	}
}

// storageErr translates repository outcomes. notFound is the service error
// to report for repository.ErrNotFound in this call's context.
func storageErr(op string, err error, notFound error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, repository.ErrNotFound):
		return notFound
	case errors.Is(err, repository.ErrFinalized):
		return ErrAlreadySubmitted
	case errors.Is(err, repository.ErrCapacityReached):
		return ErrAttemptFull
	case errors.Is(err, repository.ErrUnknownQuestion):
		return ErrUnknownQuestion
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("%s: %w", op, err)
	default:
		return fmt.Errorf("%w: %s: %w", ErrTransientIO, op, err)
	}
}

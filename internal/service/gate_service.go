package service

import (
	"context"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-assess/internal/model"
	"github.com/stemsi/exstem-assess/internal/observability"
)

// Admission is the result of a successful gate check.
type Admission struct {
	Attempt    *model.Attempt
	Evaluation *model.Evaluation
}

// GateService decides whether an access code may enter its attempt. It never writes.
type GateService struct {
	attempts    AttemptReader
	submissions SubmissionStore
	log         zerolog.Logger
}

// NewGateService creates a new GateService.
func NewGateService(attempts AttemptReader, submissions SubmissionStore, log zerolog.Logger) *GateService {
	return &GateService{
		attempts:    attempts,
		submissions: submissions,
		log:         log.With().Str("component", "attempt_gate").Logger(),
	}
}

// Admit validates code against its attempt's window and, when email is
// non-empty, against a prior finalized submission. Checks run in order:
// code shape, lookup, prior submission, window.
func (s *GateService) Admit(ctx context.Context, code, email string, now time.Time) (*Admission, error) {
	adm, err := s.admit(ctx, code, email, now)
	observability.GateDecisions().WithLabelValues(gateLabel(err)).Inc()
	return adm, err
}

func (s *GateService) admit(ctx context.Context, code, email string, now time.Time) (*Admission, error) {
	code = strings.TrimSpace(code)
	if len([]rune(code)) < model.MinAccessCodeLength {
		return nil, ErrInvalidCode
	}

	attempt, evaluation, err := s.attempts.LoadAttemptWithEvaluationAndQuestions(ctx, code)
	if err != nil {
		return nil, storageErr("load attempt", err, ErrAttemptNotFound)
	}

	if email = model.NormalizeEmail(email); email != "" {
		submitted, err := s.submissions.HasSubmitted(ctx, attempt.ID, email)
		if err != nil {
			return nil, storageErr("check prior submission", err, ErrSubmissionNotFound)
		}
		if submitted {
			return nil, ErrAlreadySubmitted
		}
	}

	if err := CheckWindow(attempt, now); err != nil {
		return nil, err
	}

	return &Admission{Attempt: attempt, Evaluation: evaluation}, nil
}

// CheckWindow reports whether now falls inside [StartTime, EndTime]. Both ends are inclusive.
func CheckWindow(attempt *model.Attempt, now time.Time) error {
	now = now.UTC()
	if now.Before(attempt.StartTime) {
		return ErrNotStarted
	}
	if now.After(attempt.EndTime) {
		return ErrExpired
	}
	return nil
}

func gateLabel(err error) string {
	if err == nil {
		return "admitted"
	}
	return strings.ToLower(string(Classify(err)))
}

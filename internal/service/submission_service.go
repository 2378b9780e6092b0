package service

import (
	"context"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-assess/internal/clock"
	"github.com/stemsi/exstem-assess/internal/model"
	"github.com/stemsi/exstem-assess/internal/observability"
)

// Finalize triggers, recorded on metrics and logs.
const (
	TriggerManual  = "manual"
	TriggerTimeout = "timeout"
	TriggerSweep   = "sweep"
)

// FinalizeResult is returned by every finalize call. AlreadyFinal marks a
// caller that lost the race; its Submission is the winner's row.
type FinalizeResult struct {
	Submission   *model.Submission
	AlreadyFinal bool
}

// SubmissionService owns the draft to submitted lifecycle.
type SubmissionService struct {
	store     SubmissionStore
	publisher EventPublisher
	clock     clock.Clock
	log       zerolog.Logger
}

// NewSubmissionService creates a new SubmissionService.
func NewSubmissionService(store SubmissionStore, publisher EventPublisher, clk clock.Clock, log zerolog.Logger) *SubmissionService {
	return &SubmissionService{
		store:     store,
		publisher: publisher,
		clock:     clk,
		log:       log.With().Str("component", "submission_store").Logger(),
	}
}

// Open resumes the student's draft or creates one. A finalized latest
// submission yields ErrAlreadySubmitted.
func (s *SubmissionService) Open(ctx context.Context, attemptID uuid.UUID, email, firstName, lastName string) (*model.Submission, error) {
	sub, created, err := s.store.OpenSubmission(ctx, attemptID, email, firstName, lastName)
	if err != nil {
		return nil, storageErr("open submission", err, ErrAttemptNotFound)
	}
	if created {
		s.log.Info().
			Str("submission_id", sub.ID.String()).
			Str("attempt_id", attemptID.String()).
			Msg("Draft submission created")
	}
	return sub, nil
}

// Get retrieves a submission by id.
func (s *SubmissionService) Get(ctx context.Context, id uuid.UUID) (*model.Submission, error) {
	sub, err := s.store.GetSubmission(ctx, id)
	if err != nil {
		return nil, storageErr("get submission", err, ErrSubmissionNotFound)
	}
	return sub, nil
}

// Finalize sets submitted_at exactly once. Concurrent callers all succeed and
// observe the same row; only the winner publishes the finalized event.
func (s *SubmissionService) Finalize(ctx context.Context, id uuid.UUID, trigger string) (*FinalizeResult, error) {
	sub, already, err := s.store.FinalizeSubmission(ctx, id, s.clock.Now())
	if err != nil {
		observability.Finalizations().WithLabelValues("error", trigger).Inc()
		return nil, storageErr("finalize submission", err, ErrSubmissionNotFound)
	}

	if already {
		observability.Finalizations().WithLabelValues("already_final", trigger).Inc()
		s.log.Debug().Str("submission_id", id.String()).Str("trigger", trigger).Msg("Finalize raced, returning stored submission")
		return &FinalizeResult{Submission: sub, AlreadyFinal: true}, nil
	}

	observability.Finalizations().WithLabelValues("finalized", trigger).Inc()
	if sub.Score != nil {
		observability.FinalScores().Observe(*sub.Score)
	}
	s.log.Info().
		Str("submission_id", id.String()).
		Str("trigger", trigger).
		Interface("score", sub.Score).
		Int("fraud_attempts", sub.FraudAttempts).
		Msg("Submission finalized")

	if s.publisher != nil {
		if err := s.publisher.SubmissionFinalized(ctx, sub); err != nil {
			s.log.Warn().Err(err).Str("submission_id", id.String()).Msg("Publish finalized event failed")
		}
	}
	return &FinalizeResult{Submission: sub}, nil
}

// UpdateCounters stores the integrity counters. Writes against a finalized or
// missing submission are no-ops; applied reports whether a draft was touched.
func (s *SubmissionService) UpdateCounters(ctx context.Context, id uuid.UUID, c model.Counters) (applied bool, err error) {
	applied, err = s.store.UpdateCounters(ctx, id, c)
	if err != nil {
		return false, storageErr("update counters", err, ErrSubmissionNotFound)
	}
	return applied, nil
}

package service

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-assess/internal/model"
	"github.com/stemsi/exstem-assess/internal/repository"
)

// AggregatorService owns per-question answers and the submission's average.
type AggregatorService struct {
	store AnswerStore
	log   zerolog.Logger
}

// NewAggregatorService creates a new AggregatorService.
func NewAggregatorService(store AnswerStore, log zerolog.Logger) *AggregatorService {
	return &AggregatorService{
		store: store,
		log:   log.With().Str("component", "answer_aggregator").Logger(),
	}
}

// SaveAnswer upserts one answer. A nil score leaves any stored score alone.
func (s *AggregatorService) SaveAnswer(ctx context.Context, submissionID, questionID uuid.UUID, text string, score *float64) (*model.Answer, error) {
	saved, err := s.SaveAnswersBulk(ctx, submissionID, []model.AnswerInput{
		{QuestionID: questionID, Text: text, Score: score},
	})
	if err != nil {
		return nil, err
	}
	return &saved[0], nil
}

// SaveAnswersBulk upserts a set of answers atomically. When any input carries
// a score the running average is refreshed.
func (s *AggregatorService) SaveAnswersBulk(ctx context.Context, submissionID uuid.UUID, inputs []model.AnswerInput) ([]model.Answer, error) {
	if len(inputs) == 0 {
		return []model.Answer{}, nil
	}

	saved, err := s.store.UpsertAnswers(ctx, submissionID, inputs)
	if err != nil {
		return nil, storageErr("save answers", err, ErrSubmissionNotFound)
	}

	for _, in := range inputs {
		if in.Score != nil {
			s.refreshRunning(ctx, submissionID)
			break
		}
	}
	return saved, nil
}

func (s *AggregatorService) refreshRunning(ctx context.Context, submissionID uuid.UUID) {
	score, err := s.store.RefreshRunningScore(ctx, submissionID)
	if err != nil {
		if !errors.Is(err, repository.ErrFinalized) {
			s.log.Warn().Err(err).Str("submission_id", submissionID.String()).Msg("Running score refresh failed")
		}
		return
	}
	s.log.Debug().Str("submission_id", submissionID.String()).Float64("running_score", score).Msg("Running score refreshed")
}

// RecomputeScore fills missing answers and null scores with zero and returns
// the mean over every question. Repeated calls return the same value.
func (s *AggregatorService) RecomputeScore(ctx context.Context, submissionID uuid.UUID) (float64, error) {
	avg, err := s.store.RecomputeScore(ctx, submissionID)
	if err != nil {
		return 0, storageErr("recompute score", err, ErrSubmissionNotFound)
	}
	return avg, nil
}

// ListAnswers returns the stored answers in question order.
func (s *AggregatorService) ListAnswers(ctx context.Context, submissionID uuid.UUID) ([]model.Answer, error) {
	answers, err := s.store.ListAnswers(ctx, submissionID)
	if err != nil {
		return nil, storageErr("list answers", err, ErrSubmissionNotFound)
	}
	return answers, nil
}

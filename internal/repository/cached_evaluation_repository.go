package repository

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-assess/internal/config"
	"github.com/stemsi/exstem-assess/internal/model"
)

// EvaluationSource is the uncached read path for attempts and evaluations.
type EvaluationSource interface {
	GetAttemptByCode(ctx context.Context, code string) (*model.Attempt, error)
	GetAttempt(ctx context.Context, id uuid.UUID) (*model.Attempt, error)
	GetEvaluation(ctx context.Context, id uuid.UUID) (*model.Evaluation, error)
}

// CachedEvaluationRepository serves attempt and evaluation reads from Redis,
// falling through to the source on a miss. Cache failures never fail a read.
type CachedEvaluationRepository struct {
	src EvaluationSource
	rdb *redis.Client
	ttl time.Duration
	log zerolog.Logger
}

// NewCachedEvaluationRepository creates a read-through cache over src.
func NewCachedEvaluationRepository(src EvaluationSource, rdb *redis.Client, ttl time.Duration, log zerolog.Logger) *CachedEvaluationRepository {
	return &CachedEvaluationRepository{
		src: src,
		rdb: rdb,
		ttl: ttl,
		log: log.With().Str("component", "evaluation_cache").Logger(),
	}
}

// GetAttemptByCode resolves an attempt by access code.
func (r *CachedEvaluationRepository) GetAttemptByCode(ctx context.Context, code string) (*model.Attempt, error) {
	key := config.CacheKey.AttemptByCodeKey(code)
	var cached model.Attempt
	if r.load(ctx, key, &cached) {
		return &cached, nil
	}

	attempt, err := r.src.GetAttemptByCode(ctx, code)
	if err != nil {
		return nil, err
	}
	r.store(ctx, key, attempt)
	return attempt, nil
}

// GetAttempt is not cached; it is only used off the hot path.
func (r *CachedEvaluationRepository) GetAttempt(ctx context.Context, id uuid.UUID) (*model.Attempt, error) {
	return r.src.GetAttempt(ctx, id)
}

// GetEvaluation loads an evaluation with its questions.
func (r *CachedEvaluationRepository) GetEvaluation(ctx context.Context, id uuid.UUID) (*model.Evaluation, error) {
	key := config.CacheKey.EvaluationPayloadKey(id.String())
	var cached model.Evaluation
	if r.load(ctx, key, &cached) {
		return &cached, nil
	}

	evaluation, err := r.src.GetEvaluation(ctx, id)
	if err != nil {
		return nil, err
	}
	r.store(ctx, key, evaluation)
	return evaluation, nil
}

// LoadAttemptWithEvaluationAndQuestions resolves the full graph needed by the attempt gate.
func (r *CachedEvaluationRepository) LoadAttemptWithEvaluationAndQuestions(ctx context.Context, code string) (*model.Attempt, *model.Evaluation, error) {
	attempt, err := r.GetAttemptByCode(ctx, code)
	if err != nil {
		return nil, nil, err
	}
	evaluation, err := r.GetEvaluation(ctx, attempt.EvaluationID)
	if err != nil {
		return nil, nil, err
	}
	return attempt, evaluation, nil
}

func (r *CachedEvaluationRepository) load(ctx context.Context, key string, dst any) bool {
	data, err := r.rdb.Get(ctx, key).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			r.log.Warn().Err(err).Str("key", key).Msg("Cache read failed, falling back to database")
		}
		return false
	}
	if err := json.Unmarshal(data, dst); err != nil {
		r.log.Warn().Err(err).Str("key", key).Msg("Discarding malformed cache entry")
		_ = r.rdb.Del(ctx, key).Err()
		return false
	}
	return true
}

func (r *CachedEvaluationRepository) store(ctx context.Context, key string, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		return
	}
	if err := r.rdb.Set(ctx, key, data, r.ttl).Err(); err != nil {
		r.log.Warn().Err(err).Str("key", key).Msg("Cache write failed")
	}
}

package repository_test

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-assess/internal/config"
	"github.com/stemsi/exstem-assess/internal/model"
	"github.com/stemsi/exstem-assess/internal/repository"
	"github.com/stemsi/exstem-assess/internal/repository/memstore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// countingSource wraps memstore and counts source reads.
type countingSource struct {
	*memstore.Store
	byCode      int
	evaluations int
}

func (s *countingSource) GetAttemptByCode(ctx context.Context, code string) (*model.Attempt, error) {
	s.byCode++
	return s.Store.GetAttemptByCode(ctx, code)
}

func (s *countingSource) GetEvaluation(ctx context.Context, id uuid.UUID) (*model.Evaluation, error) {
	s.evaluations++
	return s.Store.GetEvaluation(ctx, id)
}

func setup(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return mr, rdb
}

func seedEvaluation(t *testing.T, store *memstore.Store) (*model.Evaluation, model.Attempt) {
	t.Helper()
	answer := "O(log n)"
	e := &model.Evaluation{
		Title: "Struktur Data",
		Questions: []model.Question{
			{Body: "Kompleksitas binary search?", Type: model.QuestionTypeText, CanonicalAnswer: &answer, Position: 1},
		},
	}
	start := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	attempts := []model.Attempt{{UniqueCode: "SD-2026-A", StartTime: start, EndTime: start.Add(time.Hour)}}
	require.NoError(t, store.CreateWithAttempts(context.Background(), e, attempts))
	return e, attempts[0]
}

func TestCachedEvaluationRepository_ReadThrough(t *testing.T) {
	mr, rdb := setup(t)
	src := &countingSource{Store: memstore.New()}
	e, attempt := seedEvaluation(t, src.Store)
	repo := repository.NewCachedEvaluationRepository(src, rdb, time.Minute, zerolog.Nop())
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		a, got, err := repo.LoadAttemptWithEvaluationAndQuestions(ctx, "SD-2026-A")
		require.NoError(t, err)
		assert.Equal(t, attempt.ID, a.ID)
		assert.Equal(t, e.ID, got.ID)
		require.Len(t, got.Questions, 1)
		require.NotNil(t, got.Questions[0].CanonicalAnswer)
	}
	assert.Equal(t, 1, src.byCode)
	assert.Equal(t, 1, src.evaluations)

	assert.True(t, mr.Exists(config.CacheKey.AttemptByCodeKey("SD-2026-A")))
	mr.FastForward(2 * time.Minute)
	assert.False(t, mr.Exists(config.CacheKey.AttemptByCodeKey("SD-2026-A")))
}

func TestCachedEvaluationRepository_MissesAreNotCached(t *testing.T) {
	mr, rdb := setup(t)
	src := &countingSource{Store: memstore.New()}
	repo := repository.NewCachedEvaluationRepository(src, rdb, time.Minute, zerolog.Nop())

	_, err := repo.GetAttemptByCode(context.Background(), "MISSING-1")
	assert.ErrorIs(t, err, repository.ErrNotFound)
	assert.False(t, mr.Exists(config.CacheKey.AttemptByCodeKey("MISSING-1")))
}

func TestCachedEvaluationRepository_SurvivesRedisOutage(t *testing.T) {
	mr, rdb := setup(t)
	src := &countingSource{Store: memstore.New()}
	_, attempt := seedEvaluation(t, src.Store)
	repo := repository.NewCachedEvaluationRepository(src, rdb, time.Minute, zerolog.Nop())

	mr.Close()
	a, err := repo.GetAttemptByCode(context.Background(), "SD-2026-A")
	require.NoError(t, err)
	assert.Equal(t, attempt.ID, a.ID)
}

func TestCachedEvaluationRepository_DropsMalformedEntries(t *testing.T) {
	mr, rdb := setup(t)
	src := &countingSource{Store: memstore.New()}
	_, attempt := seedEvaluation(t, src.Store)
	repo := repository.NewCachedEvaluationRepository(src, rdb, time.Minute, zerolog.Nop())

	require.NoError(t, mr.Set(config.CacheKey.AttemptByCodeKey("SD-2026-A"), "{not json"))
	a, err := repo.GetAttemptByCode(context.Background(), "SD-2026-A")
	require.NoError(t, err)
	assert.Equal(t, attempt.ID, a.ID)
	assert.Equal(t, 1, src.byCode)
}

func TestReportCache_RoundTrip(t *testing.T) {
	mr, rdb := setup(t)
	cache := repository.NewReportCache(rdb, time.Hour)
	ctx := context.Background()
	id := uuid.New()

	got, err := cache.GetReport(ctx, id)
	require.NoError(t, err)
	assert.Nil(t, got)

	in := &model.FinalReport{
		SubmissionID:    id,
		StudentName:     "Sari Wulandari",
		EvaluationTitle: "Struktur Data",
		FinalScore:      3.5,
		Report:          &model.Report{OverallFeedback: "Bagus"},
	}
	require.NoError(t, cache.PutReport(ctx, in))

	got, err = cache.GetReport(ctx, id)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "Bagus", got.Report.OverallFeedback)
	assert.Equal(t, 3.5, got.FinalScore)
	assert.Equal(t, time.Hour, mr.TTL(config.CacheKey.FinalReportKey(id.String())))
}

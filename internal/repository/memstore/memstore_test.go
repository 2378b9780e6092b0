package memstore

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stemsi/exstem-assess/internal/model"
	"github.com/stemsi/exstem-assess/internal/repository"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seeded(t *testing.T, maxSubs *int) (*Store, *model.Evaluation, model.Attempt) {
	t.Helper()
	s := New()
	e := &model.Evaluation{
		Title: "Basis Data",
		Questions: []model.Question{
			{Body: "Q2", Type: model.QuestionTypeText, Position: 2},
			{Body: "Q1", Type: model.QuestionTypeText, Position: 1},
		},
	}
	start := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	attempts := []model.Attempt{{UniqueCode: "BD-2026-A", StartTime: start, EndTime: start.Add(time.Hour), MaxSubmissions: maxSubs}}
	require.NoError(t, s.CreateWithAttempts(context.Background(), e, attempts))
	return s, e, attempts[0]
}

func TestCreateWithAttempts(t *testing.T) {
	s, e, attempt := seeded(t, nil)
	ctx := context.Background()

	assert.Equal(t, "Q1", e.Questions[0].Body)

	got, err := s.GetAttemptByCode(ctx, "BD-2026-A")
	require.NoError(t, err)
	assert.Equal(t, attempt.ID, got.ID)

	a, loaded, err := s.LoadAttemptWithEvaluationAndQuestions(ctx, "BD-2026-A")
	require.NoError(t, err)
	assert.Equal(t, attempt.ID, a.ID)
	assert.Len(t, loaded.Questions, 2)

	_, err = s.GetAttemptByCode(ctx, "NOPE-0001")
	assert.ErrorIs(t, err, repository.ErrNotFound)

	dup := []model.Attempt{{UniqueCode: "BD-2026-A", StartTime: attempt.StartTime, EndTime: attempt.EndTime}}
	err = s.CreateWithAttempts(ctx, &model.Evaluation{Title: "Other"}, dup)
	assert.ErrorIs(t, err, repository.ErrDuplicateCode)
}

func TestOpenSubmission_ResumesAndCaps(t *testing.T) {
	limit := 1
	s, _, attempt := seeded(t, &limit)
	ctx := context.Background()

	first, created, err := s.OpenSubmission(ctx, attempt.ID, "Budi@Example.com ", "Budi", "Santoso")
	require.NoError(t, err)
	assert.True(t, created)

	again, created, err := s.OpenSubmission(ctx, attempt.ID, "budi@example.com", "Budi", "Santoso")
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, first.ID, again.ID)

	_, _, err = s.OpenSubmission(ctx, attempt.ID, "ani@example.com", "Ani", "Rahma")
	assert.ErrorIs(t, err, repository.ErrCapacityReached)

	_, already, err := s.FinalizeSubmission(ctx, first.ID, time.Now())
	require.NoError(t, err)
	assert.False(t, already)

	done, err := s.HasSubmitted(ctx, attempt.ID, "budi@example.com")
	require.NoError(t, err)
	assert.True(t, done)

	_, _, err = s.OpenSubmission(ctx, attempt.ID, "budi@example.com", "Budi", "Santoso")
	assert.ErrorIs(t, err, repository.ErrFinalized)
}

func TestFinalizeSubmission_ExactlyOnce(t *testing.T) {
	s, e, attempt := seeded(t, nil)
	ctx := context.Background()
	sub, _, err := s.OpenSubmission(ctx, attempt.ID, "budi@example.com", "Budi", "Santoso")
	require.NoError(t, err)

	four := 4.0
	_, err = s.UpsertAnswers(ctx, sub.ID, []model.AnswerInput{{QuestionID: e.Questions[0].ID, Text: "a", Score: &four}})
	require.NoError(t, err)

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		winners int
	)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, already, err := s.FinalizeSubmission(ctx, sub.ID, time.Now())
			if err == nil && !already {
				mu.Lock()
				winners++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, winners)

	got, err := s.GetSubmission(ctx, sub.ID)
	require.NoError(t, err)
	require.NotNil(t, got.Score)
	assert.Equal(t, 2.0, *got.Score)

	answers, err := s.ListAnswers(ctx, sub.ID)
	require.NoError(t, err)
	require.Len(t, answers, 2)
	assert.Equal(t, 0.0, *answers[1].Score)

	_, err = s.UpsertAnswers(ctx, sub.ID, []model.AnswerInput{{QuestionID: e.Questions[1].ID, Text: "late"}})
	assert.ErrorIs(t, err, repository.ErrFinalized)

	ok, err := s.UpdateCounters(ctx, sub.ID, model.Counters{FraudAttempts: 9})
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestUpsertAnswers_KeepsScoreAndClamps(t *testing.T) {
	s, e, attempt := seeded(t, nil)
	ctx := context.Background()
	sub, _, err := s.OpenSubmission(ctx, attempt.ID, "budi@example.com", "Budi", "Santoso")
	require.NoError(t, err)

	high := 12.0
	q := e.Questions[0].ID
	_, err = s.UpsertAnswers(ctx, sub.ID, []model.AnswerInput{{QuestionID: q, Text: "a", Score: &high}})
	require.NoError(t, err)
	saved, err := s.UpsertAnswers(ctx, sub.ID, []model.AnswerInput{{QuestionID: q, Text: "ab"}})
	require.NoError(t, err)
	require.Len(t, saved, 1)
	assert.Equal(t, "ab", saved[0].Text)
	assert.Equal(t, 5.0, *saved[0].Score)

	running, err := s.RefreshRunningScore(ctx, sub.ID)
	require.NoError(t, err)
	assert.Equal(t, 2.5, running)

	_, err = s.UpsertAnswers(ctx, sub.ID, []model.AnswerInput{{QuestionID: uuid.New(), Text: "x"}})
	assert.ErrorIs(t, err, repository.ErrUnknownQuestion)
}

func TestUpdateCounters_NeverDecreases(t *testing.T) {
	s, _, attempt := seeded(t, nil)
	ctx := context.Background()
	sub, _, err := s.OpenSubmission(ctx, attempt.ID, "budi@example.com", "Budi", "Santoso")
	require.NoError(t, err)

	_, err = s.UpdateCounters(ctx, sub.ID, model.Counters{FraudAttempts: 3, TimeOutsideEval: 40})
	require.NoError(t, err)
	_, err = s.UpdateCounters(ctx, sub.ID, model.Counters{FraudAttempts: 2, TimeOutsideEval: 55})
	require.NoError(t, err)

	got, err := s.GetSubmission(ctx, sub.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, got.FraudAttempts)
	assert.Equal(t, 55, got.TimeOutsideEval)
}

func TestListExpiredDrafts(t *testing.T) {
	s, _, attempt := seeded(t, nil)
	ctx := context.Background()
	sub, _, err := s.OpenSubmission(ctx, attempt.ID, "budi@example.com", "Budi", "Santoso")
	require.NoError(t, err)

	ids, err := s.ListExpiredDrafts(ctx, attempt.EndTime, 10)
	require.NoError(t, err)
	assert.Empty(t, ids)

	ids, err = s.ListExpiredDrafts(ctx, attempt.EndTime.Add(time.Second), 10)
	require.NoError(t, err)
	assert.Equal(t, []uuid.UUID{sub.ID}, ids)
}

func TestAttemptRoster(t *testing.T) {
	s, e, attempt := seeded(t, nil)
	ctx := context.Background()
	sub, _, err := s.OpenSubmission(ctx, attempt.ID, "budi@example.com", "Budi", "Santoso")
	require.NoError(t, err)
	_, err = s.UpsertAnswers(ctx, sub.ID, []model.AnswerInput{
		{QuestionID: e.Questions[0].ID, Text: "jawaban"},
		{QuestionID: e.Questions[1].ID, Text: ""},
	})
	require.NoError(t, err)
	_, err = s.UpdateCounters(ctx, sub.ID, model.Counters{FraudAttempts: 2, TimeOutsideEval: 14})
	require.NoError(t, err)

	roster, err := s.AttemptRoster(ctx, attempt.ID)
	require.NoError(t, err)
	require.Len(t, roster, 1)
	assert.Equal(t, "Budi Santoso", roster[0].StudentName)
	assert.Equal(t, 1, roster[0].Answered)
	assert.Equal(t, 2, roster[0].FraudAttempts)
	assert.Nil(t, roster[0].SubmittedAt)

	empty, err := s.AttemptRoster(ctx, uuid.New())
	require.NoError(t, err)
	assert.Empty(t, empty)
}

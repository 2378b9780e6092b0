package worker

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-assess/internal/model"
	"github.com/stemsi/exstem-assess/internal/service"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type saveCall struct {
	submissionID uuid.UUID
	inputs       []model.AnswerInput
}

type recordingSaver struct {
	mu    sync.Mutex
	calls []saveCall
	gate  chan struct{}
	err   error
}

func (s *recordingSaver) SaveAnswersBulk(_ context.Context, id uuid.UUID, inputs []model.AnswerInput) ([]model.Answer, error) {
	if s.gate != nil {
		<-s.gate
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, saveCall{submissionID: id, inputs: append([]model.AnswerInput(nil), inputs...)})
	if s.err != nil {
		return nil, s.err
	}
	return make([]model.Answer, len(inputs)), nil
}

func (s *recordingSaver) all() []saveCall {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]saveCall(nil), s.calls...)
}

// final replays every recorded save and returns the resulting answer per question.
func (s *recordingSaver) final(id uuid.UUID) map[uuid.UUID]model.AnswerInput {
	out := make(map[uuid.UUID]model.AnswerInput)
	for _, c := range s.all() {
		if c.submissionID != id {
			continue
		}
		for _, in := range c.inputs {
			prev, ok := out[in.QuestionID]
			if ok && in.Score == nil {
				in.Score = prev.Score
			}
			out[in.QuestionID] = in
		}
	}
	return out
}

func ptr(v float64) *float64 { return &v }

func TestMergeJobs_TextOnlySaveKeepsScore(t *testing.T) {
	sub, q1, q2 := uuid.New(), uuid.New(), uuid.New()
	jobs := []answerJob{
		{submissionID: sub, input: model.AnswerInput{QuestionID: q1, Text: "a", Score: ptr(4)}},
		{submissionID: sub, input: model.AnswerInput{QuestionID: q2, Text: "x"}},
		{submissionID: sub, input: model.AnswerInput{QuestionID: q1, Text: "ab"}},
		{submissionID: sub, input: model.AnswerInput{QuestionID: q1, Text: "abc"}},
	}

	merged := mergeJobs(jobs)
	require.Len(t, merged, 1)
	require.Len(t, merged[0].inputs, 2)

	first := merged[0].inputs[0]
	assert.Equal(t, q1, first.QuestionID)
	assert.Equal(t, "abc", first.Text)
	require.NotNil(t, first.Score)
	assert.Equal(t, 4.0, *first.Score)
	assert.Equal(t, q2, merged[0].inputs[1].QuestionID)
}

func TestMergeJobs_NewerScoreWins(t *testing.T) {
	sub, q := uuid.New(), uuid.New()
	merged := mergeJobs([]answerJob{
		{submissionID: sub, input: model.AnswerInput{QuestionID: q, Text: "a", Score: ptr(1)}},
		{submissionID: sub, input: model.AnswerInput{QuestionID: q, Text: "b", Score: ptr(3)}},
	})
	require.Len(t, merged[0].inputs, 1)
	assert.Equal(t, 3.0, *merged[0].inputs[0].Score)
}

func TestAnswerWriter_FlushWaitsForQueuedSaves(t *testing.T) {
	saver := &recordingSaver{gate: make(chan struct{})}
	w := NewAnswerWriter(saver, 4, 16, zerolog.Nop())
	w.Start()
	defer w.Stop()

	ctx := context.Background()
	sub, q := uuid.New(), uuid.New()
	require.NoError(t, w.Enqueue(ctx, sub, model.AnswerInput{QuestionID: q, Text: "draft", Score: ptr(5)}))
	require.NoError(t, w.Enqueue(ctx, sub, model.AnswerInput{QuestionID: q, Text: "draft 2"}))

	flushed := make(chan error, 1)
	go func() { flushed <- w.Flush(ctx, sub) }()

	select {
	case <-flushed:
		t.Fatal("flush returned before the save was written")
	case <-time.After(50 * time.Millisecond):
	}

	close(saver.gate)
	select {
	case err := <-flushed:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("flush did not return")
	}

	got := saver.final(sub)[q]
	assert.Equal(t, "draft 2", got.Text)
	require.NotNil(t, got.Score)
	assert.Equal(t, 5.0, *got.Score)
}

func TestAnswerWriter_KeepsPerSubmissionOrder(t *testing.T) {
	saver := &recordingSaver{}
	w := NewAnswerWriter(saver, 3, 64, zerolog.Nop())
	w.Start()

	ctx := context.Background()
	subs := []uuid.UUID{uuid.New(), uuid.New(), uuid.New()}
	q := uuid.New()
	for i := 0; i < 20; i++ {
		for _, sub := range subs {
			in := model.AnswerInput{QuestionID: q, Text: string(rune('a' + i))}
			if i == 5 {
				in.Score = ptr(2)
			}
			require.NoError(t, w.Enqueue(ctx, sub, in))
		}
	}
	w.Stop()

	for _, sub := range subs {
		got := saver.final(sub)[q]
		assert.Equal(t, string(rune('a'+19)), got.Text)
		require.NotNil(t, got.Score)
		assert.Equal(t, 2.0, *got.Score)
	}
}

func TestAnswerWriter_RejectedWritesAreNotRetried(t *testing.T) {
	saver := &recordingSaver{err: service.ErrAlreadySubmitted}
	w := NewAnswerWriter(saver, 1, 4, zerolog.Nop())
	w.Start()

	ctx := context.Background()
	sub := uuid.New()
	require.NoError(t, w.Enqueue(ctx, sub, model.AnswerInput{QuestionID: uuid.New(), Text: "late"}))
	err := w.Flush(ctx, sub)
	assert.ErrorIs(t, err, service.ErrAlreadySubmitted)
	assert.Len(t, saver.all(), 1)

	w.Stop()
	assert.ErrorIs(t, w.Enqueue(ctx, sub, model.AnswerInput{}), ErrWriterClosed)
	assert.ErrorIs(t, w.Flush(ctx, sub), ErrWriterClosed)
	w.Stop()
}

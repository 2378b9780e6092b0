package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-assess/internal/clock"
	"github.com/stemsi/exstem-assess/internal/model"
	"github.com/stemsi/exstem-assess/internal/service"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var start = time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)

type submitCall struct {
	answers []model.AnswerInput
	trigger string
}

type fakeBackend struct {
	loadErr error
	state   *service.SessionState

	mu        sync.Mutex
	calls     []submitCall
	failFirst int
}

func (b *fakeBackend) Load(context.Context, *service.SessionClaims) (*service.SessionState, error) {
	if b.loadErr != nil {
		return nil, b.loadErr
	}
	return b.state, nil
}

func (b *fakeBackend) Submit(_ context.Context, id uuid.UUID, answers []model.AnswerInput, trigger string) (*service.SubmitResult, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.calls = append(b.calls, submitCall{answers: answers, trigger: trigger})
	if b.failFirst > 0 {
		b.failFirst--
		return nil, service.ErrTransientIO
	}
	now := start.Add(time.Hour)
	return &service.SubmitResult{Submission: &model.Submission{ID: id, SubmittedAt: &now}}, nil
}

func (b *fakeBackend) submitCalls() []submitCall {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]submitCall(nil), b.calls...)
}

func newState(clk clock.Clock) *service.SessionState {
	attempt := &model.Attempt{ID: uuid.New(), StartTime: start, EndTime: start.Add(time.Hour)}
	return &service.SessionState{
		Submission: &model.Submission{ID: uuid.New(), AttemptID: attempt.ID},
		Attempt:    attempt,
		Evaluation: &model.Evaluation{Title: "Algoritma"},
		Now:        clk.Now(),
		Remaining:  attempt.Remaining(clk.Now()),
	}
}

func newOrchestrator(backend Backend, clk clock.Clock) *Orchestrator {
	claims := &service.SessionClaims{SubmissionID: uuid.New(), AttemptID: uuid.New()}
	return New(backend, claims, clk, Options{TickInterval: 5 * time.Millisecond, RetryDelay: 20 * time.Millisecond}, zerolog.Nop())
}

// phases runs o and returns every phase it passed through, in order.
func phases(t *testing.T, o *Orchestrator, ctx context.Context, onUpdate func(Update)) []Phase {
	t.Helper()
	go o.Run(ctx)

	var seen []Phase
	timeout := time.After(3 * time.Second)
	for {
		select {
		case u, ok := <-o.Updates():
			if !ok {
				return seen
			}
			if onUpdate != nil {
				onUpdate(u)
			}
			if u.Kind == UpdatePhase {
				seen = append(seen, u.Phase)
			}
		case <-timeout:
			t.Fatalf("session did not finish, phases so far: %v", seen)
		}
	}
}

func TestOrchestrator_AlreadySubmittedNeverActivates(t *testing.T) {
	o := newOrchestrator(&fakeBackend{loadErr: service.ErrAlreadySubmitted}, clock.NewManual(start))

	got := phases(t, o, context.Background(), func(u Update) {
		assert.NotEqual(t, UpdateError, u.Kind)
	})
	assert.Equal(t, []Phase{PhaseLoading, PhaseAlreadySubmitted}, got)
	assert.True(t, o.Phase().Terminal())
}

func TestOrchestrator_DeniedPhases(t *testing.T) {
	tests := []struct {
		err  error
		want Phase
	}{
		{service.ErrNotStarted, PhaseDenied},
		{service.ErrExpired, PhaseExpired},
		{service.ErrSubmissionNotFound, PhaseDenied},
	}
	for _, tt := range tests {
		t.Run(string(tt.want)+"/"+tt.err.Error(), func(t *testing.T) {
			o := newOrchestrator(&fakeBackend{loadErr: tt.err}, clock.NewManual(start))
			got := phases(t, o, context.Background(), nil)
			assert.Equal(t, []Phase{PhaseLoading, tt.want}, got)
		})
	}
}

func TestOrchestrator_ExpiredDraftFinalizesOnLoad(t *testing.T) {
	clk := clock.NewManual(start.Add(2 * time.Hour))
	backend := &fakeBackend{state: newState(clk)}
	o := newOrchestrator(backend, clk)

	got := phases(t, o, context.Background(), nil)
	assert.Equal(t, []Phase{PhaseLoading, PhaseActive, PhaseSubmitting, PhaseDone}, got)

	calls := backend.submitCalls()
	require.Len(t, calls, 1)
	assert.Equal(t, service.TriggerTimeout, calls[0].trigger)
}

func TestOrchestrator_CountdownTriggersSubmitOnce(t *testing.T) {
	clk := clock.NewManual(start.Add(59 * time.Minute))
	backend := &fakeBackend{state: newState(clk)}
	o := newOrchestrator(backend, clk)

	var once sync.Once
	var lastRemaining time.Duration
	got := phases(t, o, context.Background(), func(u Update) {
		if u.Kind == UpdateTick {
			lastRemaining = u.Remaining
			once.Do(func() { clk.Advance(2 * time.Minute) })
		}
	})

	assert.Equal(t, []Phase{PhaseLoading, PhaseActive, PhaseSubmitting, PhaseDone}, got)
	assert.Zero(t, lastRemaining)
	calls := backend.submitCalls()
	require.Len(t, calls, 1)
	assert.Equal(t, service.TriggerTimeout, calls[0].trigger)
}

func TestOrchestrator_ManualSubmitCarriesAnswers(t *testing.T) {
	clk := clock.NewManual(start.Add(10 * time.Minute))
	backend := &fakeBackend{state: newState(clk)}
	o := newOrchestrator(backend, clk)

	assert.ErrorIs(t, o.RequestSubmit(nil), ErrNotActive)

	answers := []model.AnswerInput{{QuestionID: uuid.New(), Text: "O(n)"}}
	var result *service.SubmitResult
	got := phases(t, o, context.Background(), func(u Update) {
		if u.Kind == UpdatePhase && u.Phase == PhaseActive {
			require.NoError(t, o.RequestSubmit(answers))
		}
		if u.Phase == PhaseDone {
			result = u.Result
		}
	})

	assert.Equal(t, []Phase{PhaseLoading, PhaseActive, PhaseSubmitting, PhaseDone}, got)
	require.NotNil(t, result)
	calls := backend.submitCalls()
	require.Len(t, calls, 1)
	assert.Equal(t, service.TriggerManual, calls[0].trigger)
	assert.Equal(t, answers, calls[0].answers)
	assert.ErrorIs(t, o.RequestSubmit(nil), ErrNotActive)
}

func TestOrchestrator_FailedSubmitReturnsToActive(t *testing.T) {
	clk := clock.NewManual(start.Add(61 * time.Minute))
	backend := &fakeBackend{state: newState(clk), failFirst: 1}
	o := newOrchestrator(backend, clk)

	var errs []Update
	got := phases(t, o, context.Background(), func(u Update) {
		if u.Kind == UpdateError {
			errs = append(errs, u)
		}
	})

	assert.Equal(t, []Phase{PhaseLoading, PhaseActive, PhaseSubmitting, PhaseActive, PhaseSubmitting, PhaseDone}, got)
	require.Len(t, errs, 1)
	assert.True(t, errs[0].Retryable)
	assert.True(t, errors.Is(errs[0].Err, service.ErrTransientIO))
	assert.Len(t, backend.submitCalls(), 2)
}

func TestOrchestrator_StopsOnCancel(t *testing.T) {
	clk := clock.NewManual(start.Add(10 * time.Minute))
	o := newOrchestrator(&fakeBackend{state: newState(clk)}, clk)

	ctx, cancel := context.WithCancel(context.Background())
	got := phases(t, o, ctx, func(u Update) {
		if u.Kind == UpdateTick {
			cancel()
		}
	})
	assert.Equal(t, []Phase{PhaseLoading, PhaseActive}, got)
}

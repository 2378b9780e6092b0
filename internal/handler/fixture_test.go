package handler

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-assess/internal/clock"
	"github.com/stemsi/exstem-assess/internal/events"
	"github.com/stemsi/exstem-assess/internal/integrity"
	"github.com/stemsi/exstem-assess/internal/model"
	"github.com/stemsi/exstem-assess/internal/repository/memstore"
	"github.com/stemsi/exstem-assess/internal/service"
	"github.com/stemsi/exstem-assess/internal/worker"
	"github.com/stretchr/testify/require"
)

var windowStart = time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)

// stack is the memory-backed session lifecycle the handlers run on.
type stack struct {
	store      *memstore.Store
	clock      *clock.Manual
	tokens     *service.TokenService
	sessions   *service.SessionService
	monitors   *integrity.Registry
	evaluation *model.Evaluation
	attempt    model.Attempt
}

func newStack(t *testing.T) *stack {
	t.Helper()
	log := zerolog.Nop()

	store := memstore.New()
	evaluation := &model.Evaluation{
		Title: "Struktur Data",
		Questions: []model.Question{
			{Body: "Apa itu queue?", Type: model.QuestionTypeText, Position: 1},
			{Body: "Apa itu heap?", Type: model.QuestionTypeText, Position: 2},
		},
	}
	attempts := []model.Attempt{{UniqueCode: "STRUKDAT-1", StartTime: windowStart, EndTime: windowStart.Add(time.Hour)}}
	require.NoError(t, store.CreateWithAttempts(context.Background(), evaluation, attempts))

	clk := clock.NewManual(windowStart.Add(10 * time.Minute))
	publisher, err := events.Connect("", "", log)
	require.NoError(t, err)

	tokens := service.NewTokenService("handler-test-secret", 10*time.Minute, clk)
	gate := service.NewGateService(store, store, log)
	submissions := service.NewSubmissionService(store, publisher, clk, log)
	aggregator := service.NewAggregatorService(store, log)
	sessions := service.NewSessionService(gate, submissions, aggregator, store, tokens,
		service.SessionDeps{Reports: memstore.NewReportCache()}, clk, log)

	monitors := integrity.NewRegistry(integrity.RegistryConfig{
		Clock: clk,
		Pusher: integrity.PushFunc(func(ctx context.Context, id uuid.UUID, c model.Counters, _ *uuid.UUID) error {
			_, err := sessions.UpdateCounters(ctx, id, c)
			return err
		}),
		Recorder: worker.NewDirectFraudRecorder(store, publisher),
		Log:      log,
	})

	return &stack{
		store:      store,
		clock:      clk,
		tokens:     tokens,
		sessions:   sessions,
		monitors:   monitors,
		evaluation: evaluation,
		attempt:    attempts[0],
	}
}

func (s *stack) access(t *testing.T, email string) *service.AccessResult {
	t.Helper()
	res, err := s.sessions.Access(context.Background(), model.AccessRequest{
		UniqueCode: s.attempt.UniqueCode,
		Email:      email,
		FirstName:  "Sari",
		LastName:   "Wulandari",
	})
	require.NoError(t, err)
	return res
}

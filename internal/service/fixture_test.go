package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-assess/internal/clock"
	"github.com/stemsi/exstem-assess/internal/model"
	"github.com/stemsi/exstem-assess/internal/repository/memstore"
	"github.com/stemsi/exstem-assess/pkg/ai"
	"github.com/stretchr/testify/require"
)

const testCode = "ALGO-2026"

var windowStart = time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)

type fixture struct {
	store      *memstore.Store
	clock      *clock.Manual
	tokens     *TokenService
	gate       *GateService
	sessions   *SessionService
	attempt    model.Attempt
	evaluation *model.Evaluation
	publisher  *recordingPublisher
}

type fixtureOption func(*SessionDeps)

func withGrader(g Grader) fixtureOption {
	return func(d *SessionDeps) { d.Grader = g }
}

func withComposer(c ReportComposer) fixtureOption {
	return func(d *SessionDeps) { d.Composer = c }
}

func withReports(r ReportCache) fixtureOption {
	return func(d *SessionDeps) { d.Reports = r }
}

// newFixture seeds a three-question evaluation with a one hour window at 10:00 UTC.
func newFixture(t *testing.T, opts ...fixtureOption) *fixture {
	t.Helper()

	store := memstore.New()
	evaluation := &model.Evaluation{
		Title: "Algoritma Dasar",
		Questions: []model.Question{
			{Body: "Jelaskan kompleksitas binary search.", Type: model.QuestionTypeText, Position: 1},
			{Body: "Tulis fungsi faktorial.", Type: model.QuestionTypeCode, Language: "go", Position: 2},
			{Body: "Apa itu stack?", Type: model.QuestionTypeText, Position: 3},
		},
	}
	attempts := []model.Attempt{{
		UniqueCode: testCode,
		StartTime:  windowStart,
		EndTime:    windowStart.Add(time.Hour),
	}}
	require.NoError(t, store.CreateWithAttempts(context.Background(), evaluation, attempts))

	clk := clock.NewManual(windowStart.Add(5 * time.Minute))
	log := zerolog.Nop()
	publisher := &recordingPublisher{}

	deps := SessionDeps{}
	for _, opt := range opts {
		opt(&deps)
	}

	tokens := NewTokenService("test-secret", 15*time.Minute, clk)
	gate := NewGateService(store, store, log)
	submissions := NewSubmissionService(store, publisher, clk, log)
	aggregator := NewAggregatorService(store, log)

	return &fixture{
		store:      store,
		clock:      clk,
		tokens:     tokens,
		gate:       gate,
		sessions:   NewSessionService(gate, submissions, aggregator, store, tokens, deps, clk, log),
		attempt:    attempts[0],
		evaluation: evaluation,
		publisher:  publisher,
	}
}

func (f *fixture) question(i int) uuid.UUID {
	return f.evaluation.Questions[i].ID
}

func (f *fixture) access(t *testing.T, email string) (*AccessResult, *SessionClaims) {
	t.Helper()
	res, err := f.sessions.Access(context.Background(), model.AccessRequest{
		UniqueCode: testCode,
		Email:      email,
		FirstName:  "Sari",
		LastName:   "Wulandari",
	})
	require.NoError(t, err)
	claims, err := f.tokens.Validate(res.Token)
	require.NoError(t, err)
	return res, claims
}

func score(v float64) *float64 { return &v }

type recordingPublisher struct {
	mu        sync.Mutex
	finalized []uuid.UUID
}

func (p *recordingPublisher) SubmissionFinalized(_ context.Context, sub *model.Submission) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.finalized = append(p.finalized, sub.ID)
	return nil
}

func (p *recordingPublisher) FraudRecorded(context.Context, model.FraudEvent) error { return nil }

func (p *recordingPublisher) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.finalized)
}

type stubGrader struct {
	result model.GradeResult
	err    error
	calls  int
}

func (g *stubGrader) Grade(context.Context, ai.GradeRequest) (model.GradeResult, error) {
	g.calls++
	return g.result, g.err
}

type stubComposer struct {
	mu    sync.Mutex
	calls int
	err   error
}

func (c *stubComposer) Compose(_ context.Context, req ai.ReportRequest) (model.Report, error) {
	c.mu.Lock()
	c.calls++
	c.mu.Unlock()
	if c.err != nil {
		return model.Report{}, c.err
	}
	return model.Report{
		OverallFeedback: "Kerja bagus, " + req.StudentName,
		Strengths:       []string{"Penjelasan runtut"},
		Grade:           req.FinalScore,
	}, nil
}

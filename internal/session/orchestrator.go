// Package session drives one live exam session: it loads the draft, runs the
// countdown and finalizes exactly once on submit or timeout.
package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-assess/internal/clock"
	"github.com/stemsi/exstem-assess/internal/model"
	"github.com/stemsi/exstem-assess/internal/service"
)

// Phase is the orchestrator's position in the session lifecycle.
type Phase string

const (
	PhaseLoading          Phase = "loading"
	PhaseDenied           Phase = "denied"
	PhaseExpired          Phase = "expired"
	PhaseAlreadySubmitted Phase = "already_submitted"
	PhaseActive           Phase = "active"
	PhaseSubmitting       Phase = "submitting"
	PhaseDone             Phase = "done"
)

// Terminal reports whether no further transition is possible.
func (p Phase) Terminal() bool {
	switch p {
	case PhaseDenied, PhaseExpired, PhaseAlreadySubmitted, PhaseDone:
		return true
	}
	return false
}

// ErrNotActive is returned when a submit is requested outside the active phase.
var ErrNotActive = errors.New("session is not active")

// Backend is the server-side session lifecycle.
type Backend interface {
	Load(ctx context.Context, claims *service.SessionClaims) (*service.SessionState, error)
	Submit(ctx context.Context, submissionID uuid.UUID, answers []model.AnswerInput, trigger string) (*service.SubmitResult, error)
}

// UpdateKind tags an Update.
type UpdateKind string

const (
	UpdatePhase UpdateKind = "phase"
	UpdateTick  UpdateKind = "tick"
	UpdateError UpdateKind = "error"
)

// Update is emitted on every phase change, countdown tick and recoverable error.
type Update struct {
	Kind      UpdateKind
	Phase     Phase
	Remaining time.Duration
	State     *service.SessionState
	Result    *service.SubmitResult
	Err       error
	Retryable bool
}

// Options tunes an Orchestrator. Zero values take defaults.
type Options struct {
	TickInterval  time.Duration
	RetryDelay    time.Duration
	SubmitTimeout time.Duration
}

type submitRequest struct {
	answers []model.AnswerInput
}

// Orchestrator runs a single session. Run must be called exactly once.
type Orchestrator struct {
	backend Backend
	claims  *service.SessionClaims
	clock   clock.Clock
	opts    Options
	log     zerolog.Logger

	submits chan submitRequest
	updates chan Update
	done    <-chan struct{}

	mu    sync.Mutex
	phase Phase
	state *service.SessionState
}

// New creates an Orchestrator for the session identified by claims.
func New(backend Backend, claims *service.SessionClaims, clk clock.Clock, opts Options, log zerolog.Logger) *Orchestrator {
	if opts.TickInterval <= 0 {
		opts.TickInterval = time.Second
	}
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = 5 * time.Second
	}
	if opts.SubmitTimeout <= 0 {
		opts.SubmitTimeout = 60 * time.Second
	}
	return &Orchestrator{
		backend: backend,
		claims:  claims,
		clock:   clk,
		opts:    opts,
		log: log.With().
			Str("component", "session").
			Str("submission_id", claims.SubmissionID.String()).
			Logger(),
		submits: make(chan submitRequest, 1),
		updates: make(chan Update, 32),
		phase:   PhaseLoading,
	}
}

// Updates streams session updates. It is closed when Run returns.
func (o *Orchestrator) Updates() <-chan Update {
	return o.updates
}

// Phase returns the current phase.
func (o *Orchestrator) Phase() Phase {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.phase
}

// State returns the loaded session state, nil before Active.
func (o *Orchestrator) State() *service.SessionState {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

// RequestSubmit asks the session to finalize with the given answer set.
// A second request while one is pending is dropped.
func (o *Orchestrator) RequestSubmit(answers []model.AnswerInput) error {
	if o.Phase() != PhaseActive {
		return ErrNotActive
	}
	select {
	case o.submits <- submitRequest{answers: answers}:
	default:
	}
	return nil
}

// Run drives the session until a terminal phase or ctx ends.
func (o *Orchestrator) Run(ctx context.Context) {
	defer close(o.updates)
	o.done = ctx.Done()

	o.setPhase(PhaseLoading, nil)
	state, err := o.backend.Load(ctx, o.claims)
	if err != nil {
		o.denied(err)
		return
	}

	o.mu.Lock()
	o.state = state
	o.mu.Unlock()
	o.setPhase(PhaseActive, nil)

	if state.Expired() {
		if o.finalize(ctx, nil, service.TriggerTimeout) {
			return
		}
	}

	ticker := time.NewTicker(o.opts.TickInterval)
	defer ticker.Stop()
	var retryAt time.Time

	for {
		select {
		case <-ctx.Done():
			return

		case req := <-o.submits:
			if o.finalize(ctx, req.answers, service.TriggerManual) {
				return
			}

		case <-ticker.C:
			now := o.clock.Now()
			remaining := state.Attempt.Remaining(now)
			o.emit(Update{Kind: UpdateTick, Phase: PhaseActive, Remaining: remaining})
			if remaining > 0 || now.Before(retryAt) {
				continue
			}
			if o.finalize(ctx, nil, service.TriggerTimeout) {
				return
			}
			retryAt = now.Add(o.opts.RetryDelay)
		}
	}
}

// finalize runs the submit path and reports whether the session is done.
// On failure the session returns to Active with a retryable error.
func (o *Orchestrator) finalize(ctx context.Context, answers []model.AnswerInput, trigger string) bool {
	o.setPhase(PhaseSubmitting, nil)

	sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), o.opts.SubmitTimeout)
	defer cancel()

	res, err := o.backend.Submit(sctx, o.claims.SubmissionID, answers, trigger)
	if err != nil {
		o.log.Warn().Err(err).Str("trigger", trigger).Msg("Submit failed, session stays active")
		o.setPhase(PhaseActive, nil)
		o.emit(Update{Kind: UpdateError, Phase: PhaseActive, Err: err, Retryable: true})
		return false
	}

	if res.AlreadyFinal {
		o.log.Debug().Str("trigger", trigger).Msg("Submission was already finalized")
	}
	o.setPhase(PhaseDone, res)
	return true
}

func (o *Orchestrator) denied(err error) {
	phase := PhaseDenied
	switch service.Classify(err) {
	case service.KindAlreadySubmitted:
		phase = PhaseAlreadySubmitted
	case service.KindExpired:
		phase = PhaseExpired
	case service.KindNotStarted, service.KindNotFound:
	default:
		o.emit(Update{Kind: UpdateError, Phase: PhaseDenied, Err: err, Retryable: true})
	}

	o.mu.Lock()
	o.phase = phase
	o.mu.Unlock()
	u := Update{Kind: UpdatePhase, Phase: phase}
	if phase == PhaseDenied {
		u.Err = err
	}
	o.emit(u)
}

func (o *Orchestrator) setPhase(p Phase, res *service.SubmitResult) {
	o.mu.Lock()
	o.phase = p
	state := o.state
	o.mu.Unlock()

	u := Update{Kind: UpdatePhase, Phase: p, State: state, Result: res}
	if state != nil {
		u.Remaining = state.Attempt.Remaining(o.clock.Now())
	}
	o.emit(u)
}

// emit never blocks the session loop; a slow consumer loses ticks, not phases.
func (o *Orchestrator) emit(u Update) {
	if u.Kind == UpdateTick {
		select {
		case o.updates <- u:
		default:
		}
		return
	}
	select {
	case o.updates <- u:
	case <-o.done:
	}
}

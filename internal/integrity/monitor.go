// Package integrity tracks a student's focus state and fraud counters for one
// submission. Each Monitor owns its counters in a single goroutine; every
// signal is applied against the latest values, never a snapshot.
package integrity

import (
	"context"
	"errors"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-assess/internal/clock"
	"github.com/stemsi/exstem-assess/internal/model"
	"github.com/stemsi/exstem-assess/internal/observability"
	"github.com/stemsi/exstem-assess/pkg/ai"
)

// ErrClosed is returned by Observe after Close.
var ErrClosed = errors.New("integrity monitor closed")

// ErrUnknownSignal is returned for a signal the monitor does not recognise.
var ErrUnknownSignal = errors.New("unknown integrity signal")

// State is the focus state of a session.
type State string

const (
	StateFocused State = "focused"
	StateAway    State = "away"
)

// CounterPusher persists counters. Failures are retried with the next transition.
type CounterPusher interface {
	PushCounters(ctx context.Context, submissionID uuid.UUID, c model.Counters, questionID *uuid.UUID) error
}

// PushFunc adapts a function to CounterPusher.
type PushFunc func(ctx context.Context, submissionID uuid.UUID, c model.Counters, questionID *uuid.UUID) error

// PushCounters calls f.
func (f PushFunc) PushCounters(ctx context.Context, submissionID uuid.UUID, c model.Counters, questionID *uuid.UUID) error {
	return f(ctx, submissionID, c, questionID)
}

// EventRecorder receives the audit record of every transition.
type EventRecorder interface {
	RecordFraudEvent(ctx context.Context, e model.FraudEvent) error
}

// NoticeWriter phrases the warning shown after a fraud signal.
type NoticeWriter interface {
	Notice(ctx context.Context, req ai.NoticeRequest) (string, error)
}

// Transition is the outcome of one observed signal.
type Transition struct {
	Signal      model.Signal   `json:"signal"`
	State       State          `json:"state"`
	Counted     bool           `json:"counted"`
	AwaySeconds int            `json:"away_seconds,omitempty"`
	Counters    model.Counters `json:"counters"`
	At          time.Time      `json:"at"`
}

// Config wires a Monitor.
type Config struct {
	SubmissionID  uuid.UUID
	AttemptID     uuid.UUID
	Seed          model.Counters
	Clock         clock.Clock
	Pusher        CounterPusher
	Recorder      EventRecorder
	Notices       NoticeWriter
	NoticeTimeout time.Duration
	PushTimeout   time.Duration
	Log           zerolog.Logger
}

type observation struct {
	signal     model.Signal
	questionID *uuid.UUID
	reply      chan Transition
}

type reconcileRequest struct {
	counters model.Counters
	reply    chan model.Counters
}

type pushRequest struct {
	counters   model.Counters
	questionID *uuid.UUID
}

// Monitor is the per-submission focus state machine.
type Monitor struct {
	cfg Config
	log zerolog.Logger

	observations chan observation
	snapshots    chan chan snapshot
	reconciles   chan reconcileRequest
	pushes       chan pushRequest
	records      chan model.FraudEvent

	done      chan struct{}
	closeOnce sync.Once
	stopped   chan struct{}
	pusherWG  chan struct{}

	// written by run before stopped closes
	final model.Counters
}

type snapshot struct {
	state    State
	counters model.Counters
}

// New creates a Monitor seeded with the submission's stored counters.
// Call Start before Observe.
func New(cfg Config) *Monitor {
	if cfg.Clock == nil {
		cfg.Clock = clock.System{}
	}
	if cfg.NoticeTimeout <= 0 {
		cfg.NoticeTimeout = 4 * time.Second
	}
	if cfg.PushTimeout <= 0 {
		cfg.PushTimeout = 5 * time.Second
	}
	return &Monitor{
		cfg: cfg,
		log: cfg.Log.With().
			Str("component", "integrity_monitor").
			Str("submission_id", cfg.SubmissionID.String()).
			Logger(),
		observations: make(chan observation),
		snapshots:    make(chan chan snapshot),
		reconciles:   make(chan reconcileRequest),
		pushes:       make(chan pushRequest, 1),
		records:      make(chan model.FraudEvent, 64),
		done:         make(chan struct{}),
		stopped:      make(chan struct{}),
		pusherWG:     make(chan struct{}),
	}
}

// Start launches the state loop and the background pusher.
func (m *Monitor) Start() {
	go m.run()
	go m.pushLoop()
}

// Observe applies a signal and returns the resulting transition. It never
// waits on the network.
func (m *Monitor) Observe(ctx context.Context, signal model.Signal, questionID *uuid.UUID) (Transition, error) {
	if !signal.Valid() {
		return Transition{}, ErrUnknownSignal
	}
	obs := observation{signal: signal, questionID: questionID, reply: make(chan Transition, 1)}
	select {
	case m.observations <- obs:
	case <-m.done:
		return Transition{}, ErrClosed
	case <-ctx.Done():
		return Transition{}, ctx.Err()
	}
	select {
	case t := <-obs.reply:
		return t, nil
	case <-ctx.Done():
		return Transition{}, ctx.Err()
	}
}

// Snapshot returns the current state and counters.
func (m *Monitor) Snapshot() (State, model.Counters) {
	reply := make(chan snapshot, 1)
	select {
	case m.snapshots <- reply:
		s := <-reply
		return s.state, s.counters
	case <-m.stopped:
		return StateFocused, m.final
	}
}

// Reconcile raises the monitor's counters to at least c, for counters the
// client pushed through another path. It never lowers them.
func (m *Monitor) Reconcile(ctx context.Context, c model.Counters) (model.Counters, error) {
	req := reconcileRequest{counters: c, reply: make(chan model.Counters, 1)}
	select {
	case m.reconciles <- req:
	case <-m.done:
		return model.Counters{}, ErrClosed
	case <-ctx.Done():
		return model.Counters{}, ctx.Err()
	}
	select {
	case got := <-req.reply:
		return got, nil
	case <-ctx.Done():
		return model.Counters{}, ctx.Err()
	}
}

// Notice produces the warning for a counted transition, falling back to a
// static message when the writer is missing, slow or failing.
func (m *Monitor) Notice(ctx context.Context, t Transition) string {
	fallback := ai.FallbackNotice(t.Signal)
	if m.cfg.Notices == nil {
		return fallback
	}
	ctx, cancel := context.WithTimeout(ctx, m.cfg.NoticeTimeout)
	defer cancel()

	msg, err := m.cfg.Notices.Notice(ctx, ai.NoticeRequest{Signal: t.Signal, FraudAttempts: t.Counters.FraudAttempts})
	if err != nil || msg == "" {
		if err != nil && !errors.Is(err, ai.ErrNotConfigured) {
			m.log.Debug().Err(err).Msg("Notice writer failed, using fallback")
		}
		return fallback
	}
	return msg
}

// Close stops the monitor after a final best-effort push of the latest counters.
// Safe to call concurrently; every caller returns after the final push.
func (m *Monitor) Close() {
	m.closeOnce.Do(func() { close(m.done) })
	<-m.stopped
	<-m.pusherWG
}

func (m *Monitor) run() {
	defer close(m.stopped)

	var (
		state    = StateFocused
		counters = m.cfg.Seed
		leaveAt  *time.Time
		question *uuid.UUID
	)

	for {
		select {
		case <-m.done:
			m.final = counters
			m.enqueuePush(pushRequest{counters: counters, questionID: question})
			close(m.pushes)
			close(m.records)
			return

		case reply := <-m.snapshots:
			reply <- snapshot{state: state, counters: counters}

		case req := <-m.reconciles:
			counters.FraudAttempts = max(counters.FraudAttempts, req.counters.FraudAttempts)
			counters.TimeOutsideEval = max(counters.TimeOutsideEval, req.counters.TimeOutsideEval)
			req.reply <- counters

		case obs := <-m.observations:
			now := m.cfg.Clock.Now()
			if obs.questionID != nil {
				question = obs.questionID
			}
			t := Transition{Signal: obs.signal, At: now}
			returned := false

			switch {
			case obs.signal.IsFraud():
				counters.FraudAttempts++
				if leaveAt == nil {
					at := now
					leaveAt = &at
				}
				state = StateAway
				t.Counted = true
			case obs.signal.IsReturn() && state == StateAway:
				if leaveAt != nil {
					elapsed := int(math.Floor(now.Sub(*leaveAt).Seconds()))
					if elapsed > 0 {
						counters.TimeOutsideEval += elapsed
						t.AwaySeconds = elapsed
					}
				}
				leaveAt = nil
				state = StateFocused
				returned = true
			}

			t.State = state
			t.Counters = counters
			obs.reply <- t

			observability.FraudSignals().WithLabelValues(string(obs.signal)).Inc()
			if t.Counted || returned {
				m.enqueuePush(pushRequest{counters: counters, questionID: question})
				m.enqueueRecord(model.FraudEvent{
					SubmissionID:    m.cfg.SubmissionID,
					AttemptID:       m.cfg.AttemptID,
					Signal:          obs.signal,
					QuestionID:      question,
					FraudAttempts:   counters.FraudAttempts,
					TimeOutsideEval: counters.TimeOutsideEval,
					AwaySeconds:     t.AwaySeconds,
					OccurredAt:      now,
				})
			}
		}
	}
}

// enqueuePush replaces any pending push with the latest counters.
func (m *Monitor) enqueuePush(p pushRequest) {
	for {
		select {
		case m.pushes <- p:
			return
		default:
		}
		select {
		case <-m.pushes:
		default:
		}
	}
}

func (m *Monitor) enqueueRecord(e model.FraudEvent) {
	select {
	case m.records <- e:
	default:
		m.log.Warn().Str("signal", string(e.Signal)).Msg("Fraud event buffer full, dropping audit record")
	}
}

// pushLoop drains pushes and audit records until both channels close.
func (m *Monitor) pushLoop() {
	defer close(m.pusherWG)

	pushes, records := m.pushes, m.records
	var failed *pushRequest
	for pushes != nil || records != nil {
		select {
		case p, ok := <-pushes:
			if !ok {
				pushes = nil
				if failed != nil {
					// One last attempt with whatever failed most recently.
					m.push(*failed)
				}
				continue
			}
			if err := m.push(p); err != nil {
				failed = &p
			} else {
				failed = nil
			}
		case e, ok := <-records:
			if !ok {
				records = nil
				continue
			}
			m.record(e)
		}
	}
}

func (m *Monitor) push(p pushRequest) error {
	if m.cfg.Pusher == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), m.cfg.PushTimeout)
	defer cancel()
	if err := m.cfg.Pusher.PushCounters(ctx, m.cfg.SubmissionID, p.counters, p.questionID); err != nil {
		m.log.Warn().Err(err).
			Int("fraud_attempts", p.counters.FraudAttempts).
			Int("time_outside_eval", p.counters.TimeOutsideEval).
			Msg("Counter push failed, will retry on next transition")
		return err
	}
	return nil
}

func (m *Monitor) record(e model.FraudEvent) {
	if m.cfg.Recorder == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), m.cfg.PushTimeout)
	defer cancel()
	if err := m.cfg.Recorder.RecordFraudEvent(ctx, e); err != nil {
		m.log.Warn().Err(err).Str("signal", string(e.Signal)).Msg("Recording fraud event failed")
	}
}

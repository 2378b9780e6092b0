package integrity

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-assess/internal/clock"
	"github.com/stemsi/exstem-assess/internal/model"
)

// RegistryConfig holds what every monitor created by a Registry shares.
type RegistryConfig struct {
	Clock         clock.Clock
	Pusher        CounterPusher
	Recorder      EventRecorder
	Notices       NoticeWriter
	NoticeTimeout time.Duration
	IdleTTL       time.Duration
	Log           zerolog.Logger
}

type registryEntry struct {
	monitor  *Monitor
	refs     int
	lastUsed time.Time
}

// Registry keeps one Monitor per submission in this process, shared by the
// HTTP signal endpoint and any websocket connection of the same submission.
type Registry struct {
	cfg RegistryConfig
	log zerolog.Logger

	mu      sync.Mutex
	entries map[uuid.UUID]*registryEntry
}

// NewRegistry creates a new Registry.
func NewRegistry(cfg RegistryConfig) *Registry {
	if cfg.Clock == nil {
		cfg.Clock = clock.System{}
	}
	if cfg.IdleTTL <= 0 {
		cfg.IdleTTL = 10 * time.Minute
	}
	return &Registry{
		cfg:     cfg,
		log:     cfg.Log.With().Str("component", "integrity_registry").Logger(),
		entries: make(map[uuid.UUID]*registryEntry),
	}
}

// Acquire returns the submission's monitor, creating it seeded from sub if
// needed, and pins it until the returned release func is called.
func (r *Registry) Acquire(sub *model.Submission) (*Monitor, func()) {
	m := r.get(sub, true)
	var once sync.Once
	return m, func() {
		once.Do(func() {
			r.mu.Lock()
			defer r.mu.Unlock()
			if e, ok := r.entries[sub.ID]; ok && e.monitor == m {
				e.refs--
				e.lastUsed = r.cfg.Clock.Now()
			}
		})
	}
}

// Get returns the submission's monitor without pinning it.
func (r *Registry) Get(sub *model.Submission) *Monitor {
	return r.get(sub, false)
}

func (r *Registry) get(sub *model.Submission, pin bool) *Monitor {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[sub.ID]
	if !ok {
		m := New(Config{
			SubmissionID:  sub.ID,
			AttemptID:     sub.AttemptID,
			Seed:          sub.Counters(),
			Clock:         r.cfg.Clock,
			Pusher:        r.cfg.Pusher,
			Recorder:      r.cfg.Recorder,
			Notices:       r.cfg.Notices,
			NoticeTimeout: r.cfg.NoticeTimeout,
			Log:           r.cfg.Log,
		})
		m.Start()
		e = &registryEntry{monitor: m}
		r.entries[sub.ID] = e
	}
	if pin {
		e.refs++
	}
	e.lastUsed = r.cfg.Clock.Now()
	return e.monitor
}

// Lookup returns the submission's monitor if one is live, without creating it.
func (r *Registry) Lookup(submissionID uuid.UUID) (*Monitor, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[submissionID]
	if !ok {
		return nil, false
	}
	return e.monitor, true
}

// Forget stops and removes a submission's monitor, flushing its counters.
// Called once the submission is finalized.
func (r *Registry) Forget(submissionID uuid.UUID) {
	r.mu.Lock()
	e, ok := r.entries[submissionID]
	if ok {
		delete(r.entries, submissionID)
	}
	r.mu.Unlock()

	if ok {
		e.monitor.Close()
	}
}

// Sweep closes unpinned monitors idle for longer than the TTL.
func (r *Registry) Sweep() int {
	now := r.cfg.Clock.Now()
	var idle []*Monitor

	r.mu.Lock()
	for id, e := range r.entries {
		if e.refs <= 0 && now.Sub(e.lastUsed) > r.cfg.IdleTTL {
			idle = append(idle, e.monitor)
			delete(r.entries, id)
		}
	}
	r.mu.Unlock()

	for _, m := range idle {
		m.Close()
	}
	return len(idle)
}

// Len returns the number of live monitors.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// Run sweeps idle monitors until ctx is cancelled, then closes every monitor.
func (r *Registry) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.closeAll()
			return
		case <-ticker.C:
			if n := r.Sweep(); n > 0 {
				r.log.Debug().Int("evicted", n).Msg("Evicted idle integrity monitors")
			}
		}
	}
}

func (r *Registry) closeAll() {
	r.mu.Lock()
	monitors := make([]*Monitor, 0, len(r.entries))
	for id, e := range r.entries {
		monitors = append(monitors, e.monitor)
		delete(r.entries, id)
	}
	r.mu.Unlock()

	for _, m := range monitors {
		m.Close()
	}
	r.log.Info().Int("count", len(monitors)).Msg("Integrity monitors flushed")
}

package integrity

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-assess/internal/clock"
	"github.com/stemsi/exstem-assess/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRegistry(clk clock.Clock, pusher CounterPusher) *Registry {
	return NewRegistry(RegistryConfig{
		Clock:   clk,
		Pusher:  pusher,
		IdleTTL: time.Minute,
		Log:     zerolog.Nop(),
	})
}

func TestRegistry_SharesMonitorPerSubmission(t *testing.T) {
	r := newRegistry(clock.NewManual(t0), nil)
	sub := &model.Submission{ID: uuid.New(), AttemptID: uuid.New(), FraudAttempts: 2, TimeOutsideEval: 12}

	ws, release := r.Acquire(sub)
	defer release()
	http := r.Get(sub)
	assert.Same(t, ws, http)

	_, counters := http.Snapshot()
	assert.Equal(t, model.Counters{FraudAttempts: 2, TimeOutsideEval: 12}, counters)

	found, ok := r.Lookup(sub.ID)
	require.True(t, ok)
	assert.Same(t, ws, found)

	_, ok = r.Lookup(uuid.New())
	assert.False(t, ok)
	r.Forget(sub.ID)
}

func TestRegistry_SweepSkipsPinnedMonitors(t *testing.T) {
	clk := clock.NewManual(t0)
	r := newRegistry(clk, nil)

	pinned := &model.Submission{ID: uuid.New()}
	idle := &model.Submission{ID: uuid.New()}

	_, release := r.Acquire(pinned)
	r.Get(idle)
	require.Equal(t, 2, r.Len())

	clk.Advance(2 * time.Minute)
	assert.Equal(t, 1, r.Sweep())
	assert.Equal(t, 1, r.Len())

	release()
	release()
	assert.Equal(t, 0, r.Sweep(), "release refreshes last use")

	clk.Advance(2 * time.Minute)
	assert.Equal(t, 1, r.Sweep())
	assert.Equal(t, 0, r.Len())
}

func TestRegistry_ForgetFlushesCounters(t *testing.T) {
	pusher := &fakePusher{}
	r := newRegistry(clock.NewManual(t0), pusher)
	sub := &model.Submission{ID: uuid.New()}

	m := r.Get(sub)
	_, err := m.Observe(context.Background(), model.SignalShare, nil)
	require.NoError(t, err)

	r.Forget(sub.ID)
	r.Forget(sub.ID)

	last, _ := pusher.last()
	assert.Equal(t, 1, last.FraudAttempts)
	assert.Equal(t, 0, r.Len())

	// A later lookup starts fresh from the stored row.
	again := r.Get(&model.Submission{ID: sub.ID, FraudAttempts: 1})
	assert.NotSame(t, m, again)
	r.Forget(sub.ID)
}

func TestRegistry_RunClosesEverythingOnCancel(t *testing.T) {
	pusher := &fakePusher{}
	r := newRegistry(clock.NewManual(t0), pusher)
	m := r.Get(&model.Submission{ID: uuid.New()})
	_, err := m.Observe(context.Background(), model.SignalForbiddenKeys, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		r.Run(ctx, time.Hour)
		close(done)
	}()
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("registry did not stop")
	}
	assert.Equal(t, 0, r.Len())
	_, err = m.Observe(context.Background(), model.SignalWindowBlur, nil)
	assert.ErrorIs(t, err, ErrClosed)
}

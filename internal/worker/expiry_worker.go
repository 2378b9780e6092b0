package worker

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-assess/internal/clock"
	"github.com/stemsi/exstem-assess/internal/model"
	"github.com/stemsi/exstem-assess/internal/service"
	"golang.org/x/sync/errgroup"
)

const (
	ExpiryBatchSize   = 100
	ExpiryConcurrency = 4
)

// DraftLister finds drafts whose window has closed.
type DraftLister interface {
	ListExpiredDrafts(ctx context.Context, now time.Time, limit int) ([]uuid.UUID, error)
}

// Finalizer runs the full submit path for one submission.
type Finalizer interface {
	Submit(ctx context.Context, submissionID uuid.UUID, answers []model.AnswerInput, trigger string) (*service.SubmitResult, error)
}

// ExpiryWorker finalizes drafts left open after their attempt ended, covering
// students who closed the page before the countdown reached zero.
type ExpiryWorker struct {
	drafts    DraftLister
	finalizer Finalizer
	clock     clock.Clock
	interval  time.Duration
	log       zerolog.Logger
}

// NewExpiryWorker creates a new ExpiryWorker.
func NewExpiryWorker(drafts DraftLister, finalizer Finalizer, clk clock.Clock, interval time.Duration, log zerolog.Logger) *ExpiryWorker {
	return &ExpiryWorker{
		drafts:    drafts,
		finalizer: finalizer,
		clock:     clk,
		interval:  interval,
		log:       log.With().Str("component", "expiry_worker").Logger(),
	}
}

// Start sweeps on every interval until ctx is cancelled. Call in a goroutine.
func (w *ExpiryWorker) Start(ctx context.Context) {
	w.log.Info().Dur("interval", w.interval).Msg("ExpiryWorker started")
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.log.Info().Msg("ExpiryWorker stopped")
			return
		case <-ticker.C:
			if n, err := w.Sweep(ctx); err != nil {
				w.log.Error().Err(err).Msg("Expiry sweep failed")
			} else if n > 0 {
				w.log.Info().Int("finalized", n).Msg("Expired drafts finalized")
			}
		}
	}
}

// Sweep finalizes one batch of expired drafts and returns how many succeeded.
func (w *ExpiryWorker) Sweep(ctx context.Context) (int, error) {
	ids, err := w.drafts.ListExpiredDrafts(ctx, w.clock.Now(), ExpiryBatchSize)
	if err != nil {
		return 0, err
	}
	if len(ids) == 0 {
		return 0, nil
	}

	results := make([]bool, len(ids))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(ExpiryConcurrency)
	for i, id := range ids {
		g.Go(func() error {
			if _, err := w.finalizer.Submit(gctx, id, nil, service.TriggerSweep); err != nil {
				// One bad draft must not stop the batch; it is retried next sweep.
				w.log.Warn().Err(err).Str("submission_id", id.String()).Msg("Finalize expired draft failed")
				return nil
			}
			results[i] = true
			return nil
		})
	}
	_ = g.Wait()

	n := 0
	for _, ok := range results {
		if ok {
			n++
		}
	}
	return n, nil
}

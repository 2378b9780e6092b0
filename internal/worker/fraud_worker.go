package worker

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-assess/internal/config"
	"github.com/stemsi/exstem-assess/internal/model"
	"github.com/stemsi/exstem-assess/internal/observability"
)

const (
	FraudBatchSize    = 50
	FraudBatchTimeout = 2 * time.Second
	FraudPollTimeout  = 1 * time.Second // Must be >= 1s to satisfy Redis
)

// FraudEventStore is where the fraud worker lands audit records.
type FraudEventStore interface {
	InsertFraudEvents(ctx context.Context, events []model.FraudEvent) error
	InsertFraudEvent(ctx context.Context, e model.FraudEvent) error
}

// FraudWorker consumes persist_fraud_events_queue and bulk-loads the audit trail.
type FraudWorker struct {
	store FraudEventStore
	rdb   *redis.Client
	log   zerolog.Logger
}

// NewFraudWorker creates a new FraudWorker.
func NewFraudWorker(store FraudEventStore, rdb *redis.Client, log zerolog.Logger) *FraudWorker {
	return &FraudWorker{
		store: store,
		rdb:   rdb,
		log:   log.With().Str("component", "fraud_worker").Logger(),
	}
}

// Start runs the consume loop until ctx is cancelled. Call in a goroutine.
func (w *FraudWorker) Start(ctx context.Context) {
	w.log.Info().Msg("FraudWorker started")

	buffer := make([]model.FraudEvent, 0, FraudBatchSize)
	lastFlush := time.Now()

	for {
		// 1. Flush on size or age
		if len(buffer) > 0 && (len(buffer) >= FraudBatchSize || time.Since(lastFlush) >= FraudBatchTimeout) {
			w.flushSafe(ctx, buffer)
			buffer = buffer[:0]
			lastFlush = time.Now()
		}

		// 2. Graceful shutdown
		select {
		case <-ctx.Done():
			w.shutdown(buffer)
			return
		default:
		}

		// 3. Fetch. BLPop returns immediately when data exists.
		result, err := w.rdb.BLPop(ctx, FraudPollTimeout, config.WorkerKey.PersistFraudEventsQueue).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				continue
			}
			if ctx.Err() != nil {
				continue
			}
			w.log.Error().Err(err).Msg("Redis connection error, sleeping 3s")
			time.Sleep(3 * time.Second)
			continue
		}
		if len(result) < 2 {
			continue
		}

		var event model.FraudEvent
		if err := json.Unmarshal([]byte(result[1]), &event); err != nil {
			// Malformed payloads cannot be retried.
			w.log.Error().Err(err).Str("data", result[1]).Msg("Discarding malformed JSON")
			observability.FraudEventsPersisted().WithLabelValues("discarded").Inc()
			continue
		}
		buffer = append(buffer, event)
	}
}

// flushSafe attempts bulk insert, then row-by-row insert, then requeue.
func (w *FraudWorker) flushSafe(ctx context.Context, batch []model.FraudEvent) {
	if len(batch) == 0 {
		return
	}
	if err := w.store.InsertFraudEvents(ctx, batch); err != nil {
		w.log.Warn().Err(err).Int("count", len(batch)).Msg("Bulk insert failed, attempting row-by-row recovery")
		w.fallbackInsert(ctx, batch)
		return
	}
	observability.FraudEventsPersisted().WithLabelValues("bulk").Add(float64(len(batch)))
}

func (w *FraudWorker) fallbackInsert(ctx context.Context, batch []model.FraudEvent) {
	requeue := make([]model.FraudEvent, 0)
	for _, e := range batch {
		if err := w.store.InsertFraudEvent(ctx, e); err != nil {
			w.log.Error().Err(err).Str("submission_id", e.SubmissionID.String()).Msg("Insert failed, requeueing")
			requeue = append(requeue, e)
			continue
		}
		observability.FraudEventsPersisted().WithLabelValues("single").Inc()
	}
	if len(requeue) > 0 {
		w.requeue(ctx, requeue)
	}
}

func (w *FraudWorker) requeue(ctx context.Context, items []model.FraudEvent) {
	pipe := w.rdb.Pipeline()
	for _, e := range items {
		data, _ := json.Marshal(e)
		pipe.RPush(ctx, config.WorkerKey.PersistFraudEventsQueue, data)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		observability.FraudEventsPersisted().WithLabelValues("lost").Add(float64(len(items)))
		w.log.Error().Err(err).Int("count", len(items)).Msg("CRITICAL: Failed to requeue fraud events. Data loss occurred.")
		return
	}
	observability.FraudEventsPersisted().WithLabelValues("requeued").Add(float64(len(items)))
	w.log.Info().Int("count", len(items)).Msg("Requeued failed items back to Redis")
	// Back off so a database outage does not spin the loop.
	time.Sleep(2 * time.Second)
}

func (w *FraudWorker) shutdown(buffer []model.FraudEvent) {
	w.log.Info().Msg("Worker stopping, flushing remaining buffer...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	w.flushSafe(shutdownCtx, buffer)
}

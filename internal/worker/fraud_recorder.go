package worker

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-assess/internal/config"
	"github.com/stemsi/exstem-assess/internal/model"
)

// FraudPublisher fans a recorded event out beyond this service.
type FraudPublisher interface {
	FraudRecorded(ctx context.Context, event model.FraudEvent) error
}

// FraudQueue records integrity events: it enqueues them for the fraud worker
// and publishes them on the attempt's live monitor channel.
type FraudQueue struct {
	rdb       *redis.Client
	publisher FraudPublisher
	log       zerolog.Logger
}

// NewFraudQueue creates a new FraudQueue. publisher may be nil.
func NewFraudQueue(rdb *redis.Client, publisher FraudPublisher, log zerolog.Logger) *FraudQueue {
	return &FraudQueue{
		rdb:       rdb,
		publisher: publisher,
		log:       log.With().Str("component", "fraud_queue").Logger(),
	}
}

// RecordFraudEvent pushes the event onto the persist queue and the live channel.
func (q *FraudQueue) RecordFraudEvent(ctx context.Context, e model.FraudEvent) error {
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal fraud event: %w", err)
	}

	pipe := q.rdb.Pipeline()
	pipe.RPush(ctx, config.WorkerKey.PersistFraudEventsQueue, data)
	pipe.Publish(ctx, config.CacheKey.AttemptMonitorChannel(e.AttemptID.String()), data)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("enqueue fraud event: %w", err)
	}

	if q.publisher != nil {
		if err := q.publisher.FraudRecorded(ctx, e); err != nil {
			q.log.Warn().Err(err).Str("submission_id", e.SubmissionID.String()).Msg("Publish fraud event failed")
		}
	}
	return nil
}

// DirectFraudRecorder writes events straight to the store. Used when no
// Redis is configured.
type DirectFraudRecorder struct {
	store     FraudEventStore
	publisher FraudPublisher
}

// NewDirectFraudRecorder creates a new DirectFraudRecorder. publisher may be nil.
func NewDirectFraudRecorder(store FraudEventStore, publisher FraudPublisher) *DirectFraudRecorder {
	return &DirectFraudRecorder{store: store, publisher: publisher}
}

// RecordFraudEvent inserts the event immediately.
func (r *DirectFraudRecorder) RecordFraudEvent(ctx context.Context, e model.FraudEvent) error {
	if err := r.store.InsertFraudEvent(ctx, e); err != nil {
		return err
	}
	if r.publisher != nil {
		_ = r.publisher.FraudRecorded(ctx, e)
	}
	return nil
}

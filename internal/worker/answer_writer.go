package worker

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-assess/internal/model"
	"github.com/stemsi/exstem-assess/internal/observability"
	"github.com/stemsi/exstem-assess/internal/service"
)

const (
	answerBatchSize   = 64
	answerMaxAttempts = 4
	answerRetryDelay  = 500 * time.Millisecond
)

// ErrWriterClosed is returned by Enqueue and Flush after Stop.
var ErrWriterClosed = errors.New("answer writer stopped")

// AnswerSaver persists a batch of answers for one submission.
type AnswerSaver interface {
	SaveAnswersBulk(ctx context.Context, submissionID uuid.UUID, inputs []model.AnswerInput) ([]model.Answer, error)
}

type answerJob struct {
	submissionID uuid.UUID
	input        model.AnswerInput
	// flush marks a barrier; it is closed once every earlier job on the shard is written.
	flush chan error
}

// AnswerWriter serializes autosaves per submission. A submission always maps
// to the same shard, so its saves are written in arrival order. Saves queued
// back to back for the same question are merged: the newest text wins and a
// score survives unless a newer save carries its own score.
type AnswerWriter struct {
	saver  AnswerSaver
	shards []chan answerJob
	log    zerolog.Logger

	mu      sync.RWMutex
	stopped bool
	wg      sync.WaitGroup
}

// NewAnswerWriter creates a writer with the given shard count and per-shard buffer.
func NewAnswerWriter(saver AnswerSaver, shards, buffer int, log zerolog.Logger) *AnswerWriter {
	if shards <= 0 {
		shards = 1
	}
	if buffer <= 0 {
		buffer = 1
	}
	w := &AnswerWriter{
		saver:  saver,
		shards: make([]chan answerJob, shards),
		log:    log.With().Str("component", "answer_writer").Logger(),
	}
	for i := range w.shards {
		w.shards[i] = make(chan answerJob, buffer)
	}
	return w
}

// Start launches one goroutine per shard. Stop drains them.
func (w *AnswerWriter) Start() {
	w.log.Info().Int("shards", len(w.shards)).Msg("Worker started")
	for i, ch := range w.shards {
		w.wg.Add(1)
		go func(shard int, ch chan answerJob) {
			defer w.wg.Done()
			w.runShard(shard, ch)
		}(i, ch)
	}
}

func (w *AnswerWriter) shardFor(id uuid.UUID) chan answerJob {
	var h uint32
	for _, b := range id {
		h = h*31 + uint32(b)
	}
	return w.shards[h%uint32(len(w.shards))]
}

// Enqueue queues a save without waiting for it to be written.
func (w *AnswerWriter) Enqueue(ctx context.Context, submissionID uuid.UUID, input model.AnswerInput) error {
	return w.send(ctx, answerJob{submissionID: submissionID, input: input})
}

// Flush waits until every save queued for submissionID before this call is written.
func (w *AnswerWriter) Flush(ctx context.Context, submissionID uuid.UUID) error {
	done := make(chan error, 1)
	if err := w.send(ctx, answerJob{submissionID: submissionID, flush: done}); err != nil {
		return err
	}
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (w *AnswerWriter) send(ctx context.Context, job answerJob) error {
	w.mu.RLock()
	defer w.mu.RUnlock()
	if w.stopped {
		return ErrWriterClosed
	}
	select {
	case w.shardFor(job.submissionID) <- job:
		if job.flush == nil {
			observability.AnswerQueueDepth().Inc()
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stop refuses new jobs and waits for queued ones to be written.
func (w *AnswerWriter) Stop() {
	w.mu.Lock()
	if w.stopped {
		w.mu.Unlock()
		return
	}
	w.stopped = true
	for _, ch := range w.shards {
		close(ch)
	}
	w.mu.Unlock()

	w.log.Info().Msg("Worker stopping, draining queued answers...")
	w.wg.Wait()
	w.log.Info().Msg("Worker stopped")
}

func (w *AnswerWriter) runShard(shard int, ch chan answerJob) {
	log := w.log.With().Int("shard", shard).Logger()
	// last failed write per submission, reported to and cleared by the next flush
	failures := make(map[uuid.UUID]error)
	for job := range ch {
		batch := []answerJob{job}
	drain:
		for len(batch) < answerBatchSize {
			select {
			case next, ok := <-ch:
				if !ok {
					break drain
				}
				batch = append(batch, next)
			default:
				break drain
			}
		}
		w.process(log, batch, failures)
	}
}

// process writes a batch in order, releasing each flush barrier once the
// jobs queued before it are written. A barrier reports the outcome of the
// last failed write of its submission since the previous barrier.
func (w *AnswerWriter) process(log zerolog.Logger, batch []answerJob, failures map[uuid.UUID]error) {
	pending := make([]answerJob, 0, len(batch))
	for _, job := range batch {
		if job.flush == nil {
			pending = append(pending, job)
			continue
		}
		w.write(log, pending, failures)
		pending = pending[:0]
		job.flush <- failures[job.submissionID]
		delete(failures, job.submissionID)
	}
	w.write(log, pending, failures)
}

// write merges and persists jobs grouped by submission, preserving order.
func (w *AnswerWriter) write(log zerolog.Logger, jobs []answerJob, failures map[uuid.UUID]error) {
	if len(jobs) == 0 {
		return
	}
	observability.AnswerQueueDepth().Sub(float64(len(jobs)))

	for _, group := range mergeJobs(jobs) {
		if err := w.persist(log, group.submissionID, group.inputs); err != nil {
			failures[group.submissionID] = err
		}
	}
}

type submissionInputs struct {
	submissionID uuid.UUID
	inputs       []model.AnswerInput
}

// mergeJobs collapses saves per (submission, question). Text follows the last
// save; score follows the last save that carried one.
func mergeJobs(jobs []answerJob) []submissionInputs {
	order := make([]uuid.UUID, 0)
	groups := make(map[uuid.UUID]*submissionInputs)
	index := make(map[uuid.UUID]map[uuid.UUID]int)

	for _, job := range jobs {
		g, ok := groups[job.submissionID]
		if !ok {
			g = &submissionInputs{submissionID: job.submissionID}
			groups[job.submissionID] = g
			index[job.submissionID] = make(map[uuid.UUID]int)
			order = append(order, job.submissionID)
		}
		in := job.input
		if i, seen := index[job.submissionID][in.QuestionID]; seen {
			merged := &g.inputs[i]
			merged.Text = in.Text
			if in.Score != nil {
				merged.Score = in.Score
			}
			continue
		}
		index[job.submissionID][in.QuestionID] = len(g.inputs)
		g.inputs = append(g.inputs, in)
	}

	out := make([]submissionInputs, 0, len(order))
	for _, id := range order {
		out = append(out, *groups[id])
	}
	return out
}

func (w *AnswerWriter) persist(log zerolog.Logger, submissionID uuid.UUID, inputs []model.AnswerInput) error {
	var err error
	for attempt := 1; attempt <= answerMaxAttempts; attempt++ {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		_, err = w.saver.SaveAnswersBulk(ctx, submissionID, inputs)
		cancel()

		switch service.Classify(err) {
		case service.KindNone:
			observability.AnswerWrites().WithLabelValues("ok").Inc()
			return nil
		case service.KindTransientIO:
			log.Warn().Err(err).
				Str("submission_id", submissionID.String()).
				Int("attempt", attempt).
				Msg("Answer write failed, retrying")
			time.Sleep(time.Duration(attempt) * answerRetryDelay)
		default:
			// Finalized or invalid: retrying cannot help.
			observability.AnswerWrites().WithLabelValues("rejected").Inc()
			log.Debug().Err(err).Str("submission_id", submissionID.String()).Msg("Answer write rejected")
			return err
		}
	}

	observability.AnswerWrites().WithLabelValues("failed").Inc()
	log.Error().Err(err).
		Str("submission_id", submissionID.String()).
		Int("answers", len(inputs)).
		Msg("Answer write failed after retries, dropping")
	return err
}

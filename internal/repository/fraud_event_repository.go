package repository

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stemsi/exstem-assess/internal/model"
)

// FraudEventRepository persists the integrity audit trail.
type FraudEventRepository struct {
	pool *pgxpool.Pool
}

// NewFraudEventRepository creates a new FraudEventRepository.
func NewFraudEventRepository(pool *pgxpool.Pool) *FraudEventRepository {
	return &FraudEventRepository{pool: pool}
}

var fraudEventColumns = []string{
	"submission_id", "attempt_id", "signal", "question_id",
	"fraud_attempts", "time_outside_eval", "away_seconds", "occurred_at",
}

// InsertFraudEvents bulk-loads a batch with COPY.
func (r *FraudEventRepository) InsertFraudEvents(ctx context.Context, events []model.FraudEvent) error {
	rows := make([][]any, 0, len(events))
	for _, e := range events {
		rows = append(rows, []any{
			e.SubmissionID, e.AttemptID, string(e.Signal), e.QuestionID,
			e.FraudAttempts, e.TimeOutsideEval, e.AwaySeconds, e.OccurredAt.UTC(),
		})
	}

	_, err := r.pool.CopyFrom(ctx,
		pgx.Identifier{"fraud_events"},
		fraudEventColumns,
		pgx.CopyFromRows(rows),
	)
	if err != nil {
		return fmt.Errorf("copy fraud events: %w", err)
	}
	return nil
}

// InsertFraudEvent writes a single event. Used when a bulk load fails.
func (r *FraudEventRepository) InsertFraudEvent(ctx context.Context, e model.FraudEvent) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO fraud_events (submission_id, attempt_id, signal, question_id,
			fraud_attempts, time_outside_eval, away_seconds, occurred_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		e.SubmissionID, e.AttemptID, string(e.Signal), e.QuestionID,
		e.FraudAttempts, e.TimeOutsideEval, e.AwaySeconds, e.OccurredAt.UTC())
	return err
}

// ListFraudEvents returns a submission's audit trail oldest first.
func (r *FraudEventRepository) ListFraudEvents(ctx context.Context, submissionID uuid.UUID) ([]model.FraudEvent, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT submission_id, attempt_id, signal, question_id,
			fraud_attempts, time_outside_eval, away_seconds, occurred_at
		 FROM fraud_events
		 WHERE submission_id = $1
		 ORDER BY occurred_at ASC, id ASC`, submissionID)
	if err != nil {
		return nil, fmt.Errorf("list fraud events: %w", err)
	}
	defer rows.Close()

	events := make([]model.FraudEvent, 0)
	for rows.Next() {
		var e model.FraudEvent
		if err := rows.Scan(&e.SubmissionID, &e.AttemptID, &e.Signal, &e.QuestionID,
			&e.FraudAttempts, &e.TimeOutsideEval, &e.AwaySeconds, &e.OccurredAt); err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stemsi/exstem-assess/internal/model"
)

// SubmissionRepository owns the submission lifecycle rows.
type SubmissionRepository struct {
	pool *pgxpool.Pool
}

// NewSubmissionRepository creates a new SubmissionRepository.
func NewSubmissionRepository(pool *pgxpool.Pool) *SubmissionRepository {
	return &SubmissionRepository{pool: pool}
}

const submissionColumns = `id, attempt_id, first_name, last_name, email, score,
	fraud_attempts, time_outside_eval, submitted_at, created_at, updated_at`

func scanSubmission(row pgx.Row) (*model.Submission, error) {
	s := &model.Submission{}
	err := row.Scan(&s.ID, &s.AttemptID, &s.FirstName, &s.LastName, &s.Email, &s.Score,
		&s.FraudAttempts, &s.TimeOutsideEval, &s.SubmittedAt, &s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if s.SubmittedAt != nil {
		t := s.SubmittedAt.UTC()
		s.SubmittedAt = &t
	}
	return s, nil
}

// GetSubmission retrieves a submission by id.
func (r *SubmissionRepository) GetSubmission(ctx context.Context, id uuid.UUID) (*model.Submission, error) {
	return scanSubmission(r.pool.QueryRow(ctx,
		`SELECT `+submissionColumns+` FROM submissions WHERE id = $1`, id))
}

// FindLatestSubmission returns the most recently created submission for (attempt, email).
func (r *SubmissionRepository) FindLatestSubmission(ctx context.Context, attemptID uuid.UUID, email string) (*model.Submission, error) {
	return scanSubmission(r.pool.QueryRow(ctx,
		`SELECT `+submissionColumns+`
		 FROM submissions
		 WHERE attempt_id = $1 AND email = $2
		 ORDER BY created_at DESC, id DESC
		 LIMIT 1`, attemptID, model.NormalizeEmail(email)))
}

// HasSubmitted reports whether (attempt, email) already owns a finalized submission.
func (r *SubmissionRepository) HasSubmitted(ctx context.Context, attemptID uuid.UUID, email string) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx,
		`SELECT EXISTS (
			SELECT 1 FROM submissions
			WHERE attempt_id = $1 AND email = $2 AND submitted_at IS NOT NULL
		 )`, attemptID, model.NormalizeEmail(email),
	).Scan(&exists)
	return exists, err
}

// OpenSubmission resumes the latest draft for (attempt, email) or creates one.
// The attempt row is locked for the duration so concurrent opens serialize and
// observe the same draft. A finalized latest row yields ErrFinalized.
// created reports whether a new row was inserted.
func (r *SubmissionRepository) OpenSubmission(ctx context.Context, attemptID uuid.UUID, email, firstName, lastName string) (sub *model.Submission, created bool, err error) {
	email = model.NormalizeEmail(email)

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("begin open tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var maxSubmissions *int
	err = tx.QueryRow(ctx,
		`SELECT max_submissions FROM attempts WHERE id = $1 FOR UPDATE`, attemptID,
	).Scan(&maxSubmissions)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, false, ErrNotFound
		}
		return nil, false, fmt.Errorf("lock attempt: %w", err)
	}

	existing, err := scanSubmission(tx.QueryRow(ctx,
		`SELECT `+submissionColumns+`
		 FROM submissions
		 WHERE attempt_id = $1 AND email = $2
		 ORDER BY created_at DESC, id DESC
		 LIMIT 1`, attemptID, email))
	switch {
	case err == nil && existing.IsFinalized():
		return existing, false, ErrFinalized
	case err == nil:
		return existing, false, tx.Commit(ctx)
	case !errors.Is(err, ErrNotFound):
		return nil, false, fmt.Errorf("find draft: %w", err)
	}

	if maxSubmissions != nil {
		var count int
		if err := tx.QueryRow(ctx,
			`SELECT COUNT(*) FROM submissions WHERE attempt_id = $1`, attemptID,
		).Scan(&count); err != nil {
			return nil, false, fmt.Errorf("count submissions: %w", err)
		}
		if count >= *maxSubmissions {
			return nil, false, ErrCapacityReached
		}
	}

	sub, err = scanSubmission(tx.QueryRow(ctx,
		`INSERT INTO submissions (attempt_id, first_name, last_name, email)
		 VALUES ($1, $2, $3, $4)
		 RETURNING `+submissionColumns,
		attemptID, firstName, lastName, email))
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			// The one-draft index fired; resume the row that won.
			_ = tx.Rollback(ctx)
			latest, ferr := r.FindLatestSubmission(ctx, attemptID, email)
			if ferr != nil {
				return nil, false, ferr
			}
			if latest.IsFinalized() {
				return latest, false, ErrFinalized
			}
			return latest, false, nil
		}
		return nil, false, fmt.Errorf("insert submission: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, false, fmt.Errorf("commit open tx: %w", err)
	}
	return sub, true, nil
}

// FinalizeSubmission transitions a draft to submitted exactly once.
// The submission row is locked and re-read; an already-finalized row is returned
// unchanged with alreadyFinal set. Otherwise the mean score is recomputed with
// missing answers counted as zero and submitted_at is set to now, all in one transaction.
func (r *SubmissionRepository) FinalizeSubmission(ctx context.Context, id uuid.UUID, now time.Time) (sub *model.Submission, alreadyFinal bool, err error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("begin finalize tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	current, err := scanSubmission(tx.QueryRow(ctx,
		`SELECT `+submissionColumns+` FROM submissions WHERE id = $1 FOR UPDATE`, id))
	if err != nil {
		return nil, false, err
	}
	if current.IsFinalized() {
		return current, true, nil
	}

	if _, err := fillDefaultsAndAverage(ctx, tx, id); err != nil {
		return nil, false, err
	}

	sub, err = scanSubmission(tx.QueryRow(ctx,
		`UPDATE submissions
		 SET submitted_at = $2, updated_at = $2
		 WHERE id = $1 AND submitted_at IS NULL
		 RETURNING `+submissionColumns, id, now.UTC()))
	if err != nil {
		return nil, false, fmt.Errorf("set submitted_at: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, false, fmt.Errorf("commit finalize tx: %w", err)
	}
	return sub, false, nil
}

// UpdateCounters stores the integrity counters of a draft. Values never move
// backwards and a finalized submission is left untouched. applied reports
// whether a draft row was found.
func (r *SubmissionRepository) UpdateCounters(ctx context.Context, id uuid.UUID, c model.Counters) (applied bool, err error) {
	tag, err := r.pool.Exec(ctx,
		`UPDATE submissions
		 SET fraud_attempts = GREATEST(fraud_attempts, $2),
		     time_outside_eval = GREATEST(time_outside_eval, $3),
		     updated_at = NOW()
		 WHERE id = $1 AND submitted_at IS NULL`,
		id, c.FraudAttempts, c.TimeOutsideEval)
	if err != nil {
		return false, fmt.Errorf("update counters: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// ListExpiredDrafts returns drafts whose attempt window closed before now.
func (r *SubmissionRepository) ListExpiredDrafts(ctx context.Context, now time.Time, limit int) ([]uuid.UUID, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT s.id
		 FROM submissions s
		 JOIN attempts a ON a.id = s.attempt_id
		 WHERE s.submitted_at IS NULL AND a.end_time < $1
		 ORDER BY a.end_time ASC
		 LIMIT $2`, now.UTC(), limit)
	if err != nil {
		return nil, fmt.Errorf("list expired drafts: %w", err)
	}
	defer rows.Close()

	ids := make([]uuid.UUID, 0)
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

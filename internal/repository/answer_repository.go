package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stemsi/exstem-assess/internal/model"
)

// AnswerRepository handles per-question answers and score aggregation.
type AnswerRepository struct {
	pool *pgxpool.Pool
}

// NewAnswerRepository creates a new AnswerRepository.
func NewAnswerRepository(pool *pgxpool.Pool) *AnswerRepository {
	return &AnswerRepository{pool: pool}
}

const answerColumns = `id, submission_id, question_id, text, score, created_at, updated_at`

func scanAnswer(row pgx.Row) (*model.Answer, error) {
	a := &model.Answer{}
	if err := row.Scan(&a.ID, &a.SubmissionID, &a.QuestionID, &a.Text, &a.Score, &a.CreatedAt, &a.UpdatedAt); err != nil {
		return nil, err
	}
	return a, nil
}

// UpsertAnswers writes answers keyed by (submission, question). Text is always
// overwritten; score only when supplied. The submission is share-locked so a
// concurrent finalize either sees every write or none of them.
func (r *AnswerRepository) UpsertAnswers(ctx context.Context, submissionID uuid.UUID, inputs []model.AnswerInput) ([]model.Answer, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin upsert tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	evaluationID, err := lockDraftForWrite(ctx, tx, submissionID)
	if err != nil {
		return nil, err
	}

	saved := make([]model.Answer, 0, len(inputs))
	for _, in := range inputs {
		var score *float64
		if in.Score != nil {
			v := model.ClampScore(*in.Score)
			score = &v
		}
		a, err := scanAnswer(tx.QueryRow(ctx,
			`INSERT INTO answers (submission_id, question_id, text, score)
			 SELECT $1, q.id, $3, $4
			 FROM questions q
			 WHERE q.id = $2 AND q.evaluation_id = $5
			 ON CONFLICT (submission_id, question_id) DO UPDATE
			 SET text = EXCLUDED.text,
			     score = COALESCE(EXCLUDED.score, answers.score),
			     updated_at = NOW()
			 RETURNING `+answerColumns,
			submissionID, in.QuestionID, in.Text, score, evaluationID))
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return nil, ErrUnknownQuestion
			}
			return nil, fmt.Errorf("upsert answer: %w", err)
		}
		saved = append(saved, *a)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit upsert tx: %w", err)
	}
	return saved, nil
}

func lockDraftForWrite(ctx context.Context, tx pgx.Tx, submissionID uuid.UUID) (uuid.UUID, error) {
	var (
		evaluationID uuid.UUID
		finalized    bool
	)
	err := tx.QueryRow(ctx,
		`SELECT a.evaluation_id, s.submitted_at IS NOT NULL
		 FROM submissions s
		 JOIN attempts a ON a.id = s.attempt_id
		 WHERE s.id = $1
		 FOR SHARE OF s`, submissionID,
	).Scan(&evaluationID, &finalized)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return uuid.Nil, ErrNotFound
		}
		return uuid.Nil, fmt.Errorf("lock submission: %w", err)
	}
	if finalized {
		return uuid.Nil, ErrFinalized
	}
	return evaluationID, nil
}

// ListAnswers returns a submission's answers in question order.
func (r *AnswerRepository) ListAnswers(ctx context.Context, submissionID uuid.UUID) ([]model.Answer, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT an.id, an.submission_id, an.question_id, an.text, an.score, an.created_at, an.updated_at
		 FROM answers an
		 JOIN questions q ON q.id = an.question_id
		 WHERE an.submission_id = $1
		 ORDER BY q.position ASC, q.id ASC`, submissionID)
	if err != nil {
		return nil, fmt.Errorf("list answers: %w", err)
	}
	defer rows.Close()

	answers := make([]model.Answer, 0)
	for rows.Next() {
		a, err := scanAnswer(rows)
		if err != nil {
			return nil, err
		}
		answers = append(answers, *a)
	}
	return answers, rows.Err()
}

// RecomputeScore fills missing answers and null scores with zero and persists
// the mean over all answers. A finalized submission keeps its stored score.
func (r *AnswerRepository) RecomputeScore(ctx context.Context, submissionID uuid.UUID) (float64, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("begin recompute tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var (
		stored    *float64
		finalized bool
	)
	err = tx.QueryRow(ctx,
		`SELECT score, submitted_at IS NOT NULL FROM submissions WHERE id = $1 FOR UPDATE`, submissionID,
	).Scan(&stored, &finalized)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, ErrNotFound
		}
		return 0, fmt.Errorf("lock submission: %w", err)
	}
	if finalized {
		if stored == nil {
			return 0, nil
		}
		return *stored, nil
	}

	avg, err := fillDefaultsAndAverage(ctx, tx, submissionID)
	if err != nil {
		return 0, err
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("commit recompute tx: %w", err)
	}
	return avg, nil
}

// fillDefaultsAndAverage must run inside a transaction holding the submission row lock.
func fillDefaultsAndAverage(ctx context.Context, tx pgx.Tx, submissionID uuid.UUID) (float64, error) {
	if _, err := tx.Exec(ctx,
		`INSERT INTO answers (submission_id, question_id, text, score)
		 SELECT s.id, q.id, '', 0
		 FROM submissions s
		 JOIN attempts a ON a.id = s.attempt_id
		 JOIN questions q ON q.evaluation_id = a.evaluation_id
		 WHERE s.id = $1
		 ON CONFLICT (submission_id, question_id) DO NOTHING`, submissionID); err != nil {
		return 0, fmt.Errorf("fill missing answers: %w", err)
	}

	if _, err := tx.Exec(ctx,
		`UPDATE answers SET score = 0, updated_at = NOW()
		 WHERE submission_id = $1 AND score IS NULL`, submissionID); err != nil {
		return 0, fmt.Errorf("fill null scores: %w", err)
	}

	var avg float64
	if err := tx.QueryRow(ctx,
		`SELECT COALESCE(AVG(score), 0)::float8 FROM answers WHERE submission_id = $1`, submissionID,
	).Scan(&avg); err != nil {
		return 0, fmt.Errorf("average answers: %w", err)
	}

	if _, err := tx.Exec(ctx,
		`UPDATE submissions SET score = $2, updated_at = NOW() WHERE id = $1`,
		submissionID, avg); err != nil {
		return 0, fmt.Errorf("persist score: %w", err)
	}
	return avg, nil
}

// RefreshRunningScore stores sum(scored answers) / question count on a draft
// without creating rows. Unanswered or ungraded questions weigh as zero.
func (r *AnswerRepository) RefreshRunningScore(ctx context.Context, submissionID uuid.UUID) (float64, error) {
	var score float64
	err := r.pool.QueryRow(ctx,
		`WITH totals AS (
			SELECT
				(SELECT COALESCE(SUM(an.score), 0) FROM answers an WHERE an.submission_id = s.id) AS total,
				(SELECT COUNT(*) FROM questions q WHERE q.evaluation_id = a.evaluation_id) AS questions
			FROM submissions s
			JOIN attempts a ON a.id = s.attempt_id
			WHERE s.id = $1
		 )
		 UPDATE submissions
		 SET score = CASE WHEN totals.questions = 0 THEN 0 ELSE totals.total / totals.questions END,
		     updated_at = NOW()
		 FROM totals
		 WHERE submissions.id = $1 AND submissions.submitted_at IS NULL
		 RETURNING submissions.score`, submissionID,
	).Scan(&score)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, ErrFinalized
		}
		return 0, fmt.Errorf("refresh running score: %w", err)
	}
	return score, nil
}

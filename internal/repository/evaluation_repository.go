package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stemsi/exstem-assess/internal/model"
)

// EvaluationRepository handles evaluation, question and attempt data access.
// Everything it reads is immutable while an attempt runs.
type EvaluationRepository struct {
	pool *pgxpool.Pool
}

// NewEvaluationRepository creates a new EvaluationRepository.
func NewEvaluationRepository(pool *pgxpool.Pool) *EvaluationRepository {
	return &EvaluationRepository{pool: pool}
}

const attemptColumns = `id, evaluation_id, unique_code, start_time, end_time, max_submissions, created_at`

func scanAttempt(row pgx.Row) (*model.Attempt, error) {
	a := &model.Attempt{}
	err := row.Scan(&a.ID, &a.EvaluationID, &a.UniqueCode, &a.StartTime, &a.EndTime, &a.MaxSubmissions, &a.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	a.StartTime = a.StartTime.UTC()
	a.EndTime = a.EndTime.UTC()
	return a, nil
}

// GetAttemptByCode resolves an attempt by its unique access code.
func (r *EvaluationRepository) GetAttemptByCode(ctx context.Context, code string) (*model.Attempt, error) {
	return scanAttempt(r.pool.QueryRow(ctx,
		`SELECT `+attemptColumns+` FROM attempts WHERE unique_code = $1`, code))
}

// GetAttempt retrieves an attempt by id.
func (r *EvaluationRepository) GetAttempt(ctx context.Context, id uuid.UUID) (*model.Attempt, error) {
	return scanAttempt(r.pool.QueryRow(ctx,
		`SELECT `+attemptColumns+` FROM attempts WHERE id = $1`, id))
}

// GetEvaluation loads an evaluation with its questions in display order.
func (r *EvaluationRepository) GetEvaluation(ctx context.Context, id uuid.UUID) (*model.Evaluation, error) {
	e := &model.Evaluation{}
	err := r.pool.QueryRow(ctx,
		`SELECT id, title, help_url, created_at FROM evaluations WHERE id = $1`, id,
	).Scan(&e.ID, &e.Title, &e.HelpURL, &e.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get evaluation: %w", err)
	}

	questions, err := r.ListQuestions(ctx, id)
	if err != nil {
		return nil, err
	}
	e.Questions = questions
	return e, nil
}

// ListQuestions returns the questions of an evaluation ordered by position.
func (r *EvaluationRepository) ListQuestions(ctx context.Context, evaluationID uuid.UUID) ([]model.Question, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, evaluation_id, body, question_type, language, canonical_answer, position
		 FROM questions
		 WHERE evaluation_id = $1
		 ORDER BY position ASC, id ASC`, evaluationID)
	if err != nil {
		return nil, fmt.Errorf("list questions: %w", err)
	}
	defer rows.Close()

	questions := make([]model.Question, 0)
	for rows.Next() {
		var q model.Question
		if err := rows.Scan(&q.ID, &q.EvaluationID, &q.Body, &q.Type, &q.Language, &q.CanonicalAnswer, &q.Position); err != nil {
			return nil, err
		}
		questions = append(questions, q)
	}
	return questions, rows.Err()
}

// LoadAttemptWithEvaluationAndQuestions resolves the full graph needed by the attempt gate.
func (r *EvaluationRepository) LoadAttemptWithEvaluationAndQuestions(ctx context.Context, code string) (*model.Attempt, *model.Evaluation, error) {
	attempt, err := r.GetAttemptByCode(ctx, code)
	if err != nil {
		return nil, nil, err
	}
	evaluation, err := r.GetEvaluation(ctx, attempt.EvaluationID)
	if err != nil {
		return nil, nil, err
	}
	return attempt, evaluation, nil
}

// CreateWithAttempts inserts an evaluation, its questions and its attempts in one transaction.
// IDs left as uuid.Nil are generated by the database.
func (r *EvaluationRepository) CreateWithAttempts(ctx context.Context, e *model.Evaluation, attempts []model.Attempt) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin seed tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	if err := tx.QueryRow(ctx,
		`INSERT INTO evaluations (id, title, help_url) VALUES ($1, $2, $3) RETURNING created_at`,
		e.ID, e.Title, e.HelpURL,
	).Scan(&e.CreatedAt); err != nil {
		return fmt.Errorf("insert evaluation: %w", err)
	}

	for i := range e.Questions {
		q := &e.Questions[i]
		if q.ID == uuid.Nil {
			q.ID = uuid.New()
		}
		q.EvaluationID = e.ID
		if _, err := tx.Exec(ctx,
			`INSERT INTO questions (id, evaluation_id, body, question_type, language, canonical_answer, position)
			 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			q.ID, q.EvaluationID, q.Body, q.Type, q.Language, q.CanonicalAnswer, q.Position,
		); err != nil {
			return fmt.Errorf("insert question %d: %w", i, err)
		}
	}

	for i := range attempts {
		a := &attempts[i]
		if a.ID == uuid.Nil {
			a.ID = uuid.New()
		}
		a.EvaluationID = e.ID
		if err := tx.QueryRow(ctx,
			`INSERT INTO attempts (id, evaluation_id, unique_code, start_time, end_time, max_submissions)
			 VALUES ($1, $2, $3, $4, $5, $6) RETURNING created_at`,
			a.ID, a.EvaluationID, a.UniqueCode, a.StartTime.UTC(), a.EndTime.UTC(), a.MaxSubmissions,
		).Scan(&a.CreatedAt); err != nil {
			var pgErr *pgconn.PgError
			if errors.As(err, &pgErr) && pgErr.Code == "23505" {
				return ErrDuplicateCode
			}
			return fmt.Errorf("insert attempt %q: %w", a.UniqueCode, err)
		}
	}

	return tx.Commit(ctx)
}

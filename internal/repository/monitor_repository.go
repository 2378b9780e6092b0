package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stemsi/exstem-assess/internal/model"
)

// MonitorRepository provides the proctor's view of an attempt.
type MonitorRepository struct {
	pool *pgxpool.Pool
}

// NewMonitorRepository creates a new MonitorRepository.
func NewMonitorRepository(pool *pgxpool.Pool) *MonitorRepository {
	return &MonitorRepository{pool: pool}
}

// AttemptRoster returns every submission of the attempt with its integrity
// counters and the number of answers written so far, oldest first.
func (r *MonitorRepository) AttemptRoster(ctx context.Context, attemptID uuid.UUID) ([]model.RosterEntry, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT s.id, s.first_name, s.last_name, s.email, s.fraud_attempts, s.time_outside_eval,
		        s.submitted_at, COUNT(a.id) FILTER (WHERE a.text <> '')
		 FROM submissions s
		 LEFT JOIN answers a ON a.submission_id = s.id
		 WHERE s.attempt_id = $1
		 GROUP BY s.id
		 ORDER BY s.created_at`,
		attemptID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	roster := make([]model.RosterEntry, 0)
	for rows.Next() {
		var e model.RosterEntry
		var first, last string
		if err := rows.Scan(&e.SubmissionID, &first, &last, &e.Email, &e.FraudAttempts,
			&e.TimeOutsideEval, &e.SubmittedAt, &e.Answered); err != nil {
			return nil, err
		}
		e.StudentName = (&model.Submission{FirstName: first, LastName: last}).StudentName()
		roster = append(roster, e)
	}
	return roster, rows.Err()
}

package service

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/stemsi/exstem-assess/internal/model"
	"github.com/stemsi/exstem-assess/pkg/ai"
)

// AttemptReader resolves attempts and their evaluations.
type AttemptReader interface {
	GetAttemptByCode(ctx context.Context, code string) (*model.Attempt, error)
	GetAttempt(ctx context.Context, id uuid.UUID) (*model.Attempt, error)
	GetEvaluation(ctx context.Context, id uuid.UUID) (*model.Evaluation, error)
	LoadAttemptWithEvaluationAndQuestions(ctx context.Context, code string) (*model.Attempt, *model.Evaluation, error)
}

// SubmissionStore owns submission rows and their lifecycle.
type SubmissionStore interface {
	GetSubmission(ctx context.Context, id uuid.UUID) (*model.Submission, error)
	FindLatestSubmission(ctx context.Context, attemptID uuid.UUID, email string) (*model.Submission, error)
	HasSubmitted(ctx context.Context, attemptID uuid.UUID, email string) (bool, error)
	OpenSubmission(ctx context.Context, attemptID uuid.UUID, email, firstName, lastName string) (*model.Submission, bool, error)
	FinalizeSubmission(ctx context.Context, id uuid.UUID, now time.Time) (*model.Submission, bool, error)
	UpdateCounters(ctx context.Context, id uuid.UUID, c model.Counters) (bool, error)
	ListExpiredDrafts(ctx context.Context, now time.Time, limit int) ([]uuid.UUID, error)
}

// AnswerStore owns answer rows and score aggregation.
type AnswerStore interface {
	UpsertAnswers(ctx context.Context, submissionID uuid.UUID, inputs []model.AnswerInput) ([]model.Answer, error)
	ListAnswers(ctx context.Context, submissionID uuid.UUID) ([]model.Answer, error)
	RecomputeScore(ctx context.Context, submissionID uuid.UUID) (float64, error)
	RefreshRunningScore(ctx context.Context, submissionID uuid.UUID) (float64, error)
}

// EventPublisher fans lifecycle events out to other systems.
type EventPublisher interface {
	SubmissionFinalized(ctx context.Context, sub *model.Submission) error
	FraudRecorded(ctx context.Context, event model.FraudEvent) error
}

// Grader scores a single answer.
type Grader interface {
	Grade(ctx context.Context, req ai.GradeRequest) (model.GradeResult, error)
}

// ReportComposer writes the narrative report for a finalized submission.
type ReportComposer interface {
	Compose(ctx context.Context, req ai.ReportRequest) (model.Report, error)
}

package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-assess/internal/clock"
	"github.com/stemsi/exstem-assess/internal/model"
	"github.com/stemsi/exstem-assess/internal/report"
	"github.com/stemsi/exstem-assess/pkg/ai"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"
)

// AnswerQueue is the asynchronous autosave path. Flush blocks until every
// save queued for the submission has been written.
type AnswerQueue interface {
	Enqueue(ctx context.Context, submissionID uuid.UUID, input model.AnswerInput) error
	Flush(ctx context.Context, submissionID uuid.UUID) error
}

// ReportCache stores composed reports. GetReport returns nil, nil on a miss.
type ReportCache interface {
	GetReport(ctx context.Context, submissionID uuid.UUID) (*model.FinalReport, error)
	PutReport(ctx context.Context, r *model.FinalReport) error
}

// SessionState is everything a client needs to render or resume a session.
type SessionState struct {
	Submission *model.Submission
	Attempt    *model.Attempt
	Evaluation *model.Evaluation
	Answers    []model.Answer
	Now        time.Time
	Remaining  time.Duration
}

// Expired reports whether the countdown already reached zero.
func (s *SessionState) Expired() bool {
	return s.Remaining <= 0
}

// AccessResult is returned when a student passes the gate.
type AccessResult struct {
	Token string
	SessionState
}

// GradeOutcome is a graded and persisted answer.
type GradeOutcome struct {
	Answer *model.Answer
	Result model.GradeResult
}

// SubmitResult is the finalized submission and its transport-ready report.
type SubmitResult struct {
	Submission   *model.Submission
	AlreadyFinal bool
	Report       *model.FinalReport
	ReportToken  string
}

// SessionService composes the gate, submission store and aggregator into the
// student session lifecycle.
type SessionService struct {
	gate        *GateService
	submissions *SubmissionService
	aggregator  *AggregatorService
	attempts    AttemptReader
	tokens      *TokenService
	grader      Grader
	composer    ReportComposer
	queue       AnswerQueue
	reports     ReportCache
	clock       clock.Clock
	log         zerolog.Logger

	composeGroup singleflight.Group
}

// SessionDeps groups the optional collaborators of SessionService.
// A nil Grader or ReportComposer reports ErrNotConfigured or skips the narrative.
type SessionDeps struct {
	Grader   Grader
	Composer ReportComposer
	Queue    AnswerQueue
	Reports  ReportCache
}

// NewSessionService creates a new SessionService.
func NewSessionService(
	gate *GateService,
	submissions *SubmissionService,
	aggregator *AggregatorService,
	attempts AttemptReader,
	tokens *TokenService,
	deps SessionDeps,
	clk clock.Clock,
	log zerolog.Logger,
) *SessionService {
	return &SessionService{
		gate:        gate,
		submissions: submissions,
		aggregator:  aggregator,
		attempts:    attempts,
		tokens:      tokens,
		grader:      deps.Grader,
		composer:    deps.Composer,
		queue:       deps.Queue,
		reports:     deps.Reports,
		clock:       clk,
		log:         log.With().Str("component", "session_orchestrator").Logger(),
	}
}

// Access runs the gate for a student, opens or resumes their draft and issues
// a session token bound to it.
func (s *SessionService) Access(ctx context.Context, req model.AccessRequest) (*AccessResult, error) {
	now := s.clock.Now()
	adm, err := s.gate.Admit(ctx, req.UniqueCode, req.Email, now)
	if err != nil {
		return nil, err
	}

	sub, err := s.submissions.Open(ctx, adm.Attempt.ID, req.Email, req.FirstName, req.LastName)
	if err != nil {
		return nil, err
	}

	answers, err := s.aggregator.ListAnswers(ctx, sub.ID)
	if err != nil {
		return nil, err
	}

	token, err := s.tokens.Issue(sub, adm.Attempt)
	if err != nil {
		return nil, err
	}

	return &AccessResult{
		Token: token,
		SessionState: SessionState{
			Submission: sub,
			Attempt:    adm.Attempt,
			Evaluation: adm.Evaluation,
			Answers:    answers,
			Now:        now,
			Remaining:  adm.Attempt.Remaining(now),
		},
	}, nil
}

// Load resumes a session from its token claims. A finalized submission yields
// ErrAlreadySubmitted. A draft past its end time loads with zero remaining so
// the caller can finalize it.
func (s *SessionService) Load(ctx context.Context, claims *SessionClaims) (*SessionState, error) {
	var (
		sub        *model.Submission
		attempt    *model.Attempt
		evaluation *model.Evaluation
		answers    []model.Answer
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		sub, err = s.submissions.Get(gctx, claims.SubmissionID)
		return err
	})
	g.Go(func() error {
		var err error
		attempt, err = s.attempts.GetAttempt(gctx, claims.AttemptID)
		if err != nil {
			return storageErr("get attempt", err, ErrAttemptNotFound)
		}
		evaluation, err = s.attempts.GetEvaluation(gctx, attempt.EvaluationID)
		return storageErr("get evaluation", err, ErrAttemptNotFound)
	})
	g.Go(func() error {
		var err error
		answers, err = s.aggregator.ListAnswers(gctx, claims.SubmissionID)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	if sub.AttemptID != attempt.ID {
		return nil, ErrSubmissionNotFound
	}
	if sub.IsFinalized() {
		return nil, ErrAlreadySubmitted
	}

	now := s.clock.Now()
	if err := CheckWindow(attempt, now); errors.Is(err, ErrNotStarted) {
		return nil, err
	}

	return &SessionState{
		Submission: sub,
		Attempt:    attempt,
		Evaluation: evaluation,
		Answers:    answers,
		Now:        now,
		Remaining:  attempt.Remaining(now),
	}, nil
}

// Draft returns the token's submission while it is still a draft.
func (s *SessionService) Draft(ctx context.Context, claims *SessionClaims) (*model.Submission, error) {
	sub, err := s.submissions.Get(ctx, claims.SubmissionID)
	if err != nil {
		return nil, err
	}
	if sub.AttemptID != claims.AttemptID {
		return nil, ErrSubmissionNotFound
	}
	if sub.IsFinalized() {
		return nil, ErrAlreadySubmitted
	}
	return sub, nil
}

// SaveAnswer persists one answer synchronously.
func (s *SessionService) SaveAnswer(ctx context.Context, submissionID, questionID uuid.UUID, text string, score *float64) (*model.Answer, error) {
	return s.aggregator.SaveAnswer(ctx, submissionID, questionID, text, score)
}

// Autosave accepts a save-as-you-type write. The question must belong to the
// session's evaluation. With an answer queue the write is applied
// asynchronously in per-submission order; otherwise it is written inline.
func (s *SessionService) Autosave(ctx context.Context, claims *SessionClaims, questionID uuid.UUID, text string, score *float64) error {
	if _, err := s.Draft(ctx, claims); err != nil {
		return err
	}
	evaluation, err := s.evaluationFor(ctx, claims.AttemptID)
	if err != nil {
		return err
	}
	if _, ok := evaluation.Question(questionID); !ok {
		return ErrUnknownQuestion
	}

	if score != nil {
		clamped := model.ClampScore(*score)
		score = &clamped
	}
	input := model.AnswerInput{QuestionID: questionID, Text: text, Score: score}

	if s.queue == nil {
		_, err := s.aggregator.SaveAnswersBulk(ctx, claims.SubmissionID, []model.AnswerInput{input})
		return err
	}
	if err := s.queue.Enqueue(ctx, claims.SubmissionID, input); err != nil {
		return fmt.Errorf("%w: enqueue answer: %w", ErrTransientIO, err)
	}
	return nil
}

// GradeAnswer sends the answer to the grader and persists text and score
// together. On grader failure nothing is written and the stored score stays.
func (s *SessionService) GradeAnswer(ctx context.Context, claims *SessionClaims, questionID uuid.UUID, text string) (*GradeOutcome, error) {
	if s.grader == nil {
		return nil, ErrNotConfigured
	}
	if _, err := s.Draft(ctx, claims); err != nil {
		return nil, err
	}

	evaluation, err := s.evaluationFor(ctx, claims.AttemptID)
	if err != nil {
		return nil, err
	}
	question, ok := evaluation.Question(questionID)
	if !ok {
		return nil, ErrUnknownQuestion
	}

	req := ai.GradeRequest{
		Question: question.Body,
		Answer:   text,
		Type:     question.Type,
		Language: question.Language,
	}
	if question.CanonicalAnswer != nil {
		req.CanonicalAnswer = *question.CanonicalAnswer
	}

	result, err := s.grader.Grade(ctx, req)
	if err != nil {
		s.log.Warn().Err(err).
			Str("submission_id", claims.SubmissionID.String()).
			Str("question_id", questionID.String()).
			Msg("Grading failed, score left unchanged")
		if errors.Is(err, ai.ErrNotConfigured) {
			return nil, ErrNotConfigured
		}
		return nil, ErrGradingFailed
	}

	// Earlier queued autosaves must land before the graded text.
	s.flushQueue(ctx, claims.SubmissionID)

	score := model.ClampScore(result.Grade)
	answer, err := s.aggregator.SaveAnswer(ctx, claims.SubmissionID, questionID, text, &score)
	if err != nil {
		return nil, err
	}
	result.Grade = score
	return &GradeOutcome{Answer: answer, Result: result}, nil
}

func (s *SessionService) evaluationFor(ctx context.Context, attemptID uuid.UUID) (*model.Evaluation, error) {
	attempt, err := s.attempts.GetAttempt(ctx, attemptID)
	if err != nil {
		return nil, storageErr("get attempt", err, ErrAttemptNotFound)
	}
	evaluation, err := s.attempts.GetEvaluation(ctx, attempt.EvaluationID)
	if err != nil {
		return nil, storageErr("get evaluation", err, ErrAttemptNotFound)
	}
	return evaluation, nil
}

// Submit runs the finalize path: bulk save, recompute, finalize, report.
// Losing a finalize race is success; the stored submission is returned.
// Any failure before finalize completes leaves the draft intact for a retry.
func (s *SessionService) Submit(ctx context.Context, submissionID uuid.UUID, answers []model.AnswerInput, trigger string) (*SubmitResult, error) {
	s.flushQueue(ctx, submissionID)

	if _, err := s.aggregator.SaveAnswersBulk(ctx, submissionID, answers); err != nil && !errors.Is(err, ErrAlreadySubmitted) {
		return nil, err
	}
	if _, err := s.aggregator.RecomputeScore(ctx, submissionID); err != nil && !errors.Is(err, ErrAlreadySubmitted) {
		return nil, err
	}

	res, err := s.submissions.Finalize(ctx, submissionID, trigger)
	if err != nil {
		return nil, err
	}

	final, err := s.FinalReport(ctx, res.Submission)
	if err != nil {
		return nil, err
	}
	token, err := report.Encode(final)
	if err != nil {
		return nil, err
	}

	return &SubmitResult{
		Submission:   res.Submission,
		AlreadyFinal: res.AlreadyFinal,
		Report:       final,
		ReportToken:  token,
	}, nil
}

// UpdateCounters stores integrity counters pushed by a monitor.
func (s *SessionService) UpdateCounters(ctx context.Context, submissionID uuid.UUID, c model.Counters) (bool, error) {
	return s.submissions.UpdateCounters(ctx, submissionID, c)
}

// FinalReport builds the report of a finalized submission, composing the
// narrative at most once per process and reusing a cached composition.
func (s *SessionService) FinalReport(ctx context.Context, sub *model.Submission) (*model.FinalReport, error) {
	if s.reports != nil {
		if cached, err := s.reports.GetReport(ctx, sub.ID); err != nil {
			s.log.Warn().Err(err).Str("submission_id", sub.ID.String()).Msg("Report cache read failed")
		} else if cached != nil {
			return cached, nil
		}
	}

	v, err, _ := s.composeGroup.Do(sub.ID.String(), func() (any, error) {
		return s.buildReport(ctx, sub)
	})
	if err != nil {
		return nil, err
	}
	return v.(*model.FinalReport), nil
}

func (s *SessionService) buildReport(ctx context.Context, sub *model.Submission) (*model.FinalReport, error) {
	evaluation, err := s.evaluationFor(ctx, sub.AttemptID)
	if err != nil {
		return nil, err
	}
	answers, err := s.aggregator.ListAnswers(ctx, sub.ID)
	if err != nil {
		return nil, err
	}

	final := &model.FinalReport{
		SubmissionID:    sub.ID,
		StudentName:     sub.StudentName(),
		EvaluationTitle: evaluation.Title,
		FraudAttempts:   sub.FraudAttempts,
		TimeOutsideEval: sub.TimeOutsideEval,
		Answers:         summarize(evaluation, answers),
	}
	if sub.Score != nil {
		final.FinalScore = *sub.Score
	}
	if sub.SubmittedAt != nil {
		final.SubmittedAt = *sub.SubmittedAt
	}

	if s.composer != nil {
		composed, err := s.composer.Compose(ctx, ai.ReportRequest{
			StudentName:     final.StudentName,
			EvaluationTitle: final.EvaluationTitle,
			Answers:         final.Answers,
			FinalScore:      final.FinalScore,
			FraudAttempts:   final.FraudAttempts,
		})
		if err != nil {
			s.log.Warn().Err(err).Str("submission_id", sub.ID.String()).Msg("Report composition failed, sending scores only")
		} else {
			final.Report = &composed
		}
	}

	if s.reports != nil && final.Report != nil {
		if err := s.reports.PutReport(ctx, final); err != nil {
			s.log.Warn().Err(err).Str("submission_id", sub.ID.String()).Msg("Report cache write failed")
		}
	}
	return final, nil
}

func summarize(evaluation *model.Evaluation, answers []model.Answer) []model.AnswerSummary {
	byQuestion := make(map[uuid.UUID]model.Answer, len(answers))
	for _, a := range answers {
		byQuestion[a.QuestionID] = a
	}

	out := make([]model.AnswerSummary, 0, len(evaluation.Questions))
	for _, q := range evaluation.Questions {
		summary := model.AnswerSummary{QuestionID: q.ID, Question: q.Body}
		if a, ok := byQuestion[q.ID]; ok {
			summary.Answer = a.Text
			if a.Score != nil {
				summary.Score = *a.Score
			}
		}
		out = append(out, summary)
	}
	return out
}

func (s *SessionService) flushQueue(ctx context.Context, submissionID uuid.UUID) {
	if s.queue == nil {
		return
	}
	if err := s.queue.Flush(ctx, submissionID); err != nil {
		s.log.Warn().Err(err).Str("submission_id", submissionID.String()).Msg("Answer queue flush failed")
	}
}

// Package memstore is an in-process storage driver with the same contract as
// the Postgres repositories. A single mutex stands in for row locks.
package memstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/stemsi/exstem-assess/internal/model"
	"github.com/stemsi/exstem-assess/internal/repository"
)

type answerKey struct {
	submissionID uuid.UUID
	questionID   uuid.UUID
}

// Store holds every table in memory.
type Store struct {
	mu sync.Mutex

	evaluations map[uuid.UUID]*model.Evaluation
	attempts    map[uuid.UUID]*model.Attempt
	codes       map[string]uuid.UUID
	submissions map[uuid.UUID]*model.Submission
	// order of creation per attempt, oldest first
	byAttempt   map[uuid.UUID][]uuid.UUID
	answers     map[answerKey]*model.Answer
	fraudEvents []model.FraudEvent
}

// New creates an empty Store.
func New() *Store {
	return &Store{
		evaluations: make(map[uuid.UUID]*model.Evaluation),
		attempts:    make(map[uuid.UUID]*model.Attempt),
		codes:       make(map[string]uuid.UUID),
		submissions: make(map[uuid.UUID]*model.Submission),
		byAttempt:   make(map[uuid.UUID][]uuid.UUID),
		answers:     make(map[answerKey]*model.Answer),
	}
}

// Ping always succeeds.
func (s *Store) Ping(context.Context) error { return nil }

func copyEvaluation(e *model.Evaluation) *model.Evaluation {
	out := *e
	out.Questions = append([]model.Question(nil), e.Questions...)
	return &out
}

func copySubmission(sub *model.Submission) *model.Submission {
	out := *sub
	if sub.Score != nil {
		v := *sub.Score
		out.Score = &v
	}
	if sub.SubmittedAt != nil {
		t := *sub.SubmittedAt
		out.SubmittedAt = &t
	}
	return &out
}

func copyAnswer(a *model.Answer) model.Answer {
	out := *a
	if a.Score != nil {
		v := *a.Score
		out.Score = &v
	}
	return out
}

// CreateWithAttempts stores an evaluation, its questions and its attempts.
func (s *Store) CreateWithAttempts(_ context.Context, e *model.Evaluation, attempts []model.Attempt) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	e.CreatedAt = now
	for i := range e.Questions {
		if e.Questions[i].ID == uuid.Nil {
			e.Questions[i].ID = uuid.New()
		}
		e.Questions[i].EvaluationID = e.ID
	}
	sort.SliceStable(e.Questions, func(i, j int) bool { return e.Questions[i].Position < e.Questions[j].Position })

	for i := range attempts {
		if _, taken := s.codes[attempts[i].UniqueCode]; taken {
			return repository.ErrDuplicateCode
		}
	}

	s.evaluations[e.ID] = copyEvaluation(e)
	for i := range attempts {
		a := &attempts[i]
		if a.ID == uuid.Nil {
			a.ID = uuid.New()
		}
		a.EvaluationID = e.ID
		a.StartTime = a.StartTime.UTC()
		a.EndTime = a.EndTime.UTC()
		a.CreatedAt = now
		stored := *a
		s.attempts[a.ID] = &stored
		s.codes[a.UniqueCode] = a.ID
	}
	return nil
}

// GetAttemptByCode resolves an attempt by its unique access code.
func (s *Store) GetAttemptByCode(_ context.Context, code string) (*model.Attempt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.codes[code]
	if !ok {
		return nil, repository.ErrNotFound
	}
	a := *s.attempts[id]
	return &a, nil
}

// GetAttempt retrieves an attempt by id.
func (s *Store) GetAttempt(_ context.Context, id uuid.UUID) (*model.Attempt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.attempts[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	out := *a
	return &out, nil
}

// GetEvaluation loads an evaluation with its questions in display order.
func (s *Store) GetEvaluation(_ context.Context, id uuid.UUID) (*model.Evaluation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.evaluations[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return copyEvaluation(e), nil
}

// LoadAttemptWithEvaluationAndQuestions resolves the full graph needed by the attempt gate.
func (s *Store) LoadAttemptWithEvaluationAndQuestions(ctx context.Context, code string) (*model.Attempt, *model.Evaluation, error) {
	a, err := s.GetAttemptByCode(ctx, code)
	if err != nil {
		return nil, nil, err
	}
	e, err := s.GetEvaluation(ctx, a.EvaluationID)
	if err != nil {
		return nil, nil, err
	}
	return a, e, nil
}

func (s *Store) latestLocked(attemptID uuid.UUID, email string) *model.Submission {
	ids := s.byAttempt[attemptID]
	for i := len(ids) - 1; i >= 0; i-- {
		if sub := s.submissions[ids[i]]; sub.Email == email {
			return sub
		}
	}
	return nil
}

// GetSubmission retrieves a submission by id.
func (s *Store) GetSubmission(_ context.Context, id uuid.UUID) (*model.Submission, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sub, ok := s.submissions[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return copySubmission(sub), nil
}

// FindLatestSubmission returns the most recently created submission for (attempt, email).
func (s *Store) FindLatestSubmission(_ context.Context, attemptID uuid.UUID, email string) (*model.Submission, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sub := s.latestLocked(attemptID, model.NormalizeEmail(email))
	if sub == nil {
		return nil, repository.ErrNotFound
	}
	return copySubmission(sub), nil
}

// HasSubmitted reports whether (attempt, email) already owns a finalized submission.
func (s *Store) HasSubmitted(_ context.Context, attemptID uuid.UUID, email string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	email = model.NormalizeEmail(email)
	for _, id := range s.byAttempt[attemptID] {
		if sub := s.submissions[id]; sub.Email == email && sub.IsFinalized() {
			return true, nil
		}
	}
	return false, nil
}

// OpenSubmission resumes the latest draft for (attempt, email) or creates one.
func (s *Store) OpenSubmission(_ context.Context, attemptID uuid.UUID, email, firstName, lastName string) (*model.Submission, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	attempt, ok := s.attempts[attemptID]
	if !ok {
		return nil, false, repository.ErrNotFound
	}
	email = model.NormalizeEmail(email)

	if latest := s.latestLocked(attemptID, email); latest != nil {
		if latest.IsFinalized() {
			return copySubmission(latest), false, repository.ErrFinalized
		}
		return copySubmission(latest), false, nil
	}

	if attempt.MaxSubmissions != nil && len(s.byAttempt[attemptID]) >= *attempt.MaxSubmissions {
		return nil, false, repository.ErrCapacityReached
	}

	now := time.Now().UTC()
	sub := &model.Submission{
		ID:        uuid.New(),
		AttemptID: attemptID,
		FirstName: firstName,
		LastName:  lastName,
		Email:     email,
		CreatedAt: now,
		UpdatedAt: now,
	}
	s.submissions[sub.ID] = sub
	s.byAttempt[attemptID] = append(s.byAttempt[attemptID], sub.ID)
	return copySubmission(sub), true, nil
}

// FinalizeSubmission transitions a draft to submitted exactly once.
func (s *Store) FinalizeSubmission(_ context.Context, id uuid.UUID, now time.Time) (*model.Submission, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sub, ok := s.submissions[id]
	if !ok {
		return nil, false, repository.ErrNotFound
	}
	if sub.IsFinalized() {
		return copySubmission(sub), true, nil
	}

	s.fillDefaultsAndAverageLocked(sub)
	at := now.UTC()
	sub.SubmittedAt = &at
	sub.UpdatedAt = at
	return copySubmission(sub), false, nil
}

// UpdateCounters stores the integrity counters of a draft without moving them backwards.
func (s *Store) UpdateCounters(_ context.Context, id uuid.UUID, c model.Counters) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sub, ok := s.submissions[id]
	if !ok || sub.IsFinalized() {
		return false, nil
	}
	sub.FraudAttempts = max(sub.FraudAttempts, c.FraudAttempts)
	sub.TimeOutsideEval = max(sub.TimeOutsideEval, c.TimeOutsideEval)
	sub.UpdatedAt = time.Now().UTC()
	return true, nil
}

// ListExpiredDrafts returns drafts whose attempt window closed before now.
func (s *Store) ListExpiredDrafts(_ context.Context, now time.Time, limit int) ([]uuid.UUID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ids := make([]uuid.UUID, 0)
	for attemptID, subs := range s.byAttempt {
		if !s.attempts[attemptID].EndTime.Before(now) {
			continue
		}
		for _, id := range subs {
			if !s.submissions[id].IsFinalized() {
				ids = append(ids, id)
			}
		}
	}
	if limit > 0 && len(ids) > limit {
		ids = ids[:limit]
	}
	return ids, nil
}

func (s *Store) evaluationForLocked(sub *model.Submission) *model.Evaluation {
	return s.evaluations[s.attempts[sub.AttemptID].EvaluationID]
}

// UpsertAnswers writes answers keyed by (submission, question).
// A nil score keeps whatever score is stored.
func (s *Store) UpsertAnswers(_ context.Context, submissionID uuid.UUID, inputs []model.AnswerInput) ([]model.Answer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sub, ok := s.submissions[submissionID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	if sub.IsFinalized() {
		return nil, repository.ErrFinalized
	}
	evaluation := s.evaluationForLocked(sub)
	for _, in := range inputs {
		if _, ok := evaluation.Question(in.QuestionID); !ok {
			return nil, repository.ErrUnknownQuestion
		}
	}

	now := time.Now().UTC()
	saved := make([]model.Answer, 0, len(inputs))
	for _, in := range inputs {
		key := answerKey{submissionID, in.QuestionID}
		a, exists := s.answers[key]
		if !exists {
			a = &model.Answer{ID: uuid.New(), SubmissionID: submissionID, QuestionID: in.QuestionID, CreatedAt: now}
			s.answers[key] = a
		}
		a.Text = in.Text
		if in.Score != nil {
			v := model.ClampScore(*in.Score)
			a.Score = &v
		}
		a.UpdatedAt = now
		saved = append(saved, copyAnswer(a))
	}
	return saved, nil
}

// ListAnswers returns a submission's answers in question order.
func (s *Store) ListAnswers(_ context.Context, submissionID uuid.UUID) ([]model.Answer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sub, ok := s.submissions[submissionID]
	if !ok {
		return []model.Answer{}, nil
	}
	out := make([]model.Answer, 0)
	for _, q := range s.evaluationForLocked(sub).Questions {
		if a, ok := s.answers[answerKey{submissionID, q.ID}]; ok {
			out = append(out, copyAnswer(a))
		}
	}
	return out, nil
}

// RecomputeScore fills defaults and persists the mean. A finalized submission keeps its score.
func (s *Store) RecomputeScore(_ context.Context, submissionID uuid.UUID) (float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sub, ok := s.submissions[submissionID]
	if !ok {
		return 0, repository.ErrNotFound
	}
	if sub.IsFinalized() {
		if sub.Score == nil {
			return 0, nil
		}
		return *sub.Score, nil
	}
	return s.fillDefaultsAndAverageLocked(sub), nil
}

func (s *Store) fillDefaultsAndAverageLocked(sub *model.Submission) float64 {
	now := time.Now().UTC()
	var (
		total float64
		count int
	)
	for _, q := range s.evaluationForLocked(sub).Questions {
		key := answerKey{sub.ID, q.ID}
		a, ok := s.answers[key]
		if !ok {
			a = &model.Answer{ID: uuid.New(), SubmissionID: sub.ID, QuestionID: q.ID, CreatedAt: now, UpdatedAt: now}
			s.answers[key] = a
		}
		if a.Score == nil {
			zero := 0.0
			a.Score = &zero
			a.UpdatedAt = now
		}
		total += *a.Score
		count++
	}

	avg := 0.0
	if count > 0 {
		avg = total / float64(count)
	}
	sub.Score = &avg
	sub.UpdatedAt = now
	return avg
}

// RefreshRunningScore stores sum(scored answers) / question count on a draft.
func (s *Store) RefreshRunningScore(_ context.Context, submissionID uuid.UUID) (float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sub, ok := s.submissions[submissionID]
	if !ok {
		return 0, repository.ErrNotFound
	}
	if sub.IsFinalized() {
		return 0, repository.ErrFinalized
	}
	questions := s.evaluationForLocked(sub).Questions
	var total float64
	for _, q := range questions {
		if a, ok := s.answers[answerKey{submissionID, q.ID}]; ok && a.Score != nil {
			total += *a.Score
		}
	}
	score := 0.0
	if len(questions) > 0 {
		score = total / float64(len(questions))
	}
	sub.Score = &score
	sub.UpdatedAt = time.Now().UTC()
	return score, nil
}

// InsertFraudEvents appends a batch to the audit trail.
func (s *Store) InsertFraudEvents(_ context.Context, events []model.FraudEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.fraudEvents = append(s.fraudEvents, events...)
	return nil
}

// InsertFraudEvent appends one event to the audit trail.
func (s *Store) InsertFraudEvent(ctx context.Context, e model.FraudEvent) error {
	return s.InsertFraudEvents(ctx, []model.FraudEvent{e})
}

// ListFraudEvents returns a submission's audit trail oldest first.
func (s *Store) ListFraudEvents(_ context.Context, submissionID uuid.UUID) ([]model.FraudEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]model.FraudEvent, 0)
	for _, e := range s.fraudEvents {
		if e.SubmissionID == submissionID {
			out = append(out, e)
		}
	}
	return out, nil
}

// AttemptRoster returns every submission of the attempt with its counters
// and non-empty answer count, oldest first.
func (s *Store) AttemptRoster(_ context.Context, attemptID uuid.UUID) ([]model.RosterEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	roster := make([]model.RosterEntry, 0, len(s.byAttempt[attemptID]))
	for _, id := range s.byAttempt[attemptID] {
		sub := s.submissions[id]
		answered := 0
		for _, q := range s.evaluationForLocked(sub).Questions {
			if a, ok := s.answers[answerKey{id, q.ID}]; ok && a.Text != "" {
				answered++
			}
		}
		e := model.RosterEntry{
			SubmissionID:    id,
			StudentName:     sub.StudentName(),
			Email:           sub.Email,
			FraudAttempts:   sub.FraudAttempts,
			TimeOutsideEval: sub.TimeOutsideEval,
			Answered:        answered,
		}
		if sub.SubmittedAt != nil {
			t := *sub.SubmittedAt
			e.SubmittedAt = &t
		}
		roster = append(roster, e)
	}
	return roster, nil
}

// ReportCache is an in-memory report cache.
type ReportCache struct {
	mu      sync.Mutex
	reports map[uuid.UUID]model.FinalReport
}

// NewReportCache creates an empty ReportCache.
func NewReportCache() *ReportCache {
	return &ReportCache{reports: make(map[uuid.UUID]model.FinalReport)}
}

// GetReport returns the cached report or nil on a miss.
func (c *ReportCache) GetReport(_ context.Context, submissionID uuid.UUID) (*model.FinalReport, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	r, ok := c.reports[submissionID]
	if !ok {
		return nil, nil
	}
	return &r, nil
}

// PutReport stores a composed report.
func (c *ReportCache) PutReport(_ context.Context, r *model.FinalReport) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.reports[r.SubmissionID] = *r
	return nil
}

// Package seed loads evaluation fixtures from JSON files.
package seed

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/stemsi/exstem-assess/internal/model"
)

// Creator persists an evaluation and its attempts atomically.
type Creator interface {
	CreateWithAttempts(ctx context.Context, e *model.Evaluation, attempts []model.Attempt) error
}

// File is the on-disk fixture format.
type File struct {
	Evaluation EvaluationSeed `json:"evaluation" validate:"required"`
	Attempts   []AttemptSeed  `json:"attempts" validate:"required,min=1,dive"`
}

// EvaluationSeed describes an evaluation and its ordered questions.
type EvaluationSeed struct {
	ID        uuid.UUID      `json:"id"`
	Title     string         `json:"title" validate:"required,max=200"`
	HelpURL   *string        `json:"help_url" validate:"omitempty,url"`
	Questions []QuestionSeed `json:"questions" validate:"required,min=1,dive"`
}

// QuestionSeed describes one question. Position follows array order.
type QuestionSeed struct {
	ID              uuid.UUID `json:"id"`
	Body            string    `json:"body" validate:"required"`
	Type            string    `json:"type" validate:"omitempty,oneof=TEXT CODE text code"`
	Language        string    `json:"language"`
	CanonicalAnswer *string   `json:"canonical_answer"`
}

// AttemptSeed describes one access window.
type AttemptSeed struct {
	ID             uuid.UUID `json:"id"`
	UniqueCode     string    `json:"unique_code" validate:"required,min=6,max=64"`
	StartTime      time.Time `json:"start_time" validate:"required"`
	EndTime        time.Time `json:"end_time" validate:"required,gtfield=StartTime"`
	MaxSubmissions *int      `json:"max_submissions" validate:"omitempty,min=1"`
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Parse decodes and validates a fixture. Unknown fields are rejected.
func Parse(data []byte) (*File, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()

	var f File
	if err := dec.Decode(&f); err != nil {
		return nil, fmt.Errorf("decode seed file: %w", err)
	}
	if err := validate.Struct(&f); err != nil {
		return nil, fmt.Errorf("invalid seed file: %w", err)
	}

	seen := make(map[string]struct{}, len(f.Attempts))
	for _, a := range f.Attempts {
		code := strings.TrimSpace(a.UniqueCode)
		if _, dup := seen[code]; dup {
			return nil, fmt.Errorf("invalid seed file: duplicate unique_code %q", code)
		}
		seen[code] = struct{}{}
	}
	return &f, nil
}

// ReadFile reads and parses the fixture at path.
func ReadFile(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read seed file: %w", err)
	}
	return Parse(data)
}

// Models converts the fixture into domain models.
func (f *File) Models() (*model.Evaluation, []model.Attempt) {
	e := &model.Evaluation{
		ID:        f.Evaluation.ID,
		Title:     strings.TrimSpace(f.Evaluation.Title),
		HelpURL:   f.Evaluation.HelpURL,
		Questions: make([]model.Question, 0, len(f.Evaluation.Questions)),
	}
	for i, q := range f.Evaluation.Questions {
		qt := model.QuestionType(strings.ToUpper(q.Type))
		if qt == "" {
			qt = model.QuestionTypeText
		}
		e.Questions = append(e.Questions, model.Question{
			ID:              q.ID,
			Body:            q.Body,
			Type:            qt,
			Language:        q.Language,
			CanonicalAnswer: q.CanonicalAnswer,
			Position:        i + 1,
		})
	}

	attempts := make([]model.Attempt, 0, len(f.Attempts))
	for _, a := range f.Attempts {
		attempts = append(attempts, model.Attempt{
			ID:             a.ID,
			UniqueCode:     strings.TrimSpace(a.UniqueCode),
			StartTime:      a.StartTime.UTC(),
			EndTime:        a.EndTime.UTC(),
			MaxSubmissions: a.MaxSubmissions,
		})
	}
	return e, attempts
}

// Apply parses path and writes its contents through c.
func Apply(ctx context.Context, c Creator, path string) (*model.Evaluation, []model.Attempt, error) {
	f, err := ReadFile(path)
	if err != nil {
		return nil, nil, err
	}
	e, attempts := f.Models()
	if err := c.CreateWithAttempts(ctx, e, attempts); err != nil {
		return nil, nil, fmt.Errorf("create evaluation %q: %w", e.Title, err)
	}
	return e, attempts, nil
}

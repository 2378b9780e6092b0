package seed

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stemsi/exstem-assess/internal/model"
	"github.com/stemsi/exstem-assess/internal/repository/memstore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const fixture = `{
  "evaluation": {
    "title": "  Pemrograman Dasar  ",
    "help_url": "https://exstem.example/help",
    "questions": [
      {"body": "Apa itu variabel?", "canonical_answer": "Tempat menyimpan nilai"},
      {"body": "Tulis fungsi faktorial.", "type": "code", "language": "go"}
    ]
  },
  "attempts": [
    {"unique_code": "PD-2026-01", "start_time": "2026-03-02T17:00:00+07:00", "end_time": "2026-03-02T18:30:00+07:00", "max_submissions": 40}
  ]
}`

func TestParse_Models(t *testing.T) {
	f, err := Parse([]byte(fixture))
	require.NoError(t, err)

	e, attempts := f.Models()
	assert.Equal(t, "Pemrograman Dasar", e.Title)
	require.Len(t, e.Questions, 2)
	assert.Equal(t, 1, e.Questions[0].Position)
	assert.Equal(t, model.QuestionTypeText, e.Questions[0].Type)
	assert.Equal(t, 2, e.Questions[1].Position)
	assert.Equal(t, model.QuestionTypeCode, e.Questions[1].Type)
	assert.Equal(t, "go", e.Questions[1].Language)

	require.Len(t, attempts, 1)
	a := attempts[0]
	assert.Equal(t, "PD-2026-01", a.UniqueCode)
	assert.Equal(t, 10, a.StartTime.Hour())
	assert.Equal(t, "UTC", a.StartTime.Location().String())
	require.NotNil(t, a.MaxSubmissions)
	assert.Equal(t, 40, *a.MaxSubmissions)
}

func TestParse_Rejects(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{"unknown field", `{"evaluation":{"title":"T","questions":[{"body":"Q"}]},"attempts":[{"unique_code":"ABCDEF","start_time":"2026-03-02T10:00:00Z","end_time":"2026-03-02T11:00:00Z"}],"extra":1}`},
		{"no questions", `{"evaluation":{"title":"T","questions":[]},"attempts":[{"unique_code":"ABCDEF","start_time":"2026-03-02T10:00:00Z","end_time":"2026-03-02T11:00:00Z"}]}`},
		{"short code", `{"evaluation":{"title":"T","questions":[{"body":"Q"}]},"attempts":[{"unique_code":"ABC","start_time":"2026-03-02T10:00:00Z","end_time":"2026-03-02T11:00:00Z"}]}`},
		{"inverted window", `{"evaluation":{"title":"T","questions":[{"body":"Q"}]},"attempts":[{"unique_code":"ABCDEF","start_time":"2026-03-02T11:00:00Z","end_time":"2026-03-02T10:00:00Z"}]}`},
		{"bad type", `{"evaluation":{"title":"T","questions":[{"body":"Q","type":"ESSAY"}]},"attempts":[{"unique_code":"ABCDEF","start_time":"2026-03-02T10:00:00Z","end_time":"2026-03-02T11:00:00Z"}]}`},
		{"duplicate code", `{"evaluation":{"title":"T","questions":[{"body":"Q"}]},"attempts":[{"unique_code":"ABCDEF","start_time":"2026-03-02T10:00:00Z","end_time":"2026-03-02T11:00:00Z"},{"unique_code":"ABCDEF","start_time":"2026-03-03T10:00:00Z","end_time":"2026-03-03T11:00:00Z"}]}`},
		{"not json", `evaluation: T`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.data))
			assert.Error(t, err)
		})
	}
}

func TestApply_WritesThroughCreator(t *testing.T) {
	path := filepath.Join(t.TempDir(), "seed.json")
	require.NoError(t, os.WriteFile(path, []byte(fixture), 0o600))

	store := memstore.New()
	e, attempts, err := Apply(context.Background(), store, path)
	require.NoError(t, err)

	a, err := store.GetAttemptByCode(context.Background(), "PD-2026-01")
	require.NoError(t, err)
	assert.Equal(t, attempts[0].ID, a.ID)
	assert.Equal(t, e.ID, a.EvaluationID)

	_, _, err = Apply(context.Background(), store, filepath.Join(t.TempDir(), "missing.json"))
	assert.Error(t, err)
}

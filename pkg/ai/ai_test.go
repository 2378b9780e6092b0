package ai

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	openai "github.com/sashabaranov/go-openai"
	"github.com/stemsi/exstem-assess/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeChat answers every completion with a fixed reply and records requests.
type fakeChat struct {
	reply string
	err   error
	empty bool

	requests []openai.ChatCompletionRequest
}

func (f *fakeChat) CreateChatCompletion(_ context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error) {
	f.requests = append(f.requests, req)
	if f.err != nil {
		return openai.ChatCompletionResponse{}, f.err
	}
	if f.empty {
		return openai.ChatCompletionResponse{}, nil
	}
	return openai.ChatCompletionResponse{
		Choices: []openai.ChatCompletionChoice{{Message: openai.ChatCompletionMessage{Content: f.reply}}},
	}, nil
}

func testConfig() OpenAIConfig {
	return OpenAIConfig{Model: "test-model", Logger: zerolog.Nop()}
}

func TestClients_RequireCredentials(t *testing.T) {
	_, err := NewOpenAIGrader(OpenAIConfig{}, nil)
	assert.ErrorIs(t, err, ErrNotConfigured)
	_, err = NewOpenAIReportComposer(OpenAIConfig{}, nil)
	assert.ErrorIs(t, err, ErrNotConfigured)
	_, err = NewOpenAINoticeWriter(OpenAIConfig{}, nil)
	assert.ErrorIs(t, err, ErrNotConfigured)
}

func TestGrade(t *testing.T) {
	tests := []struct {
		name     string
		reply    string
		wantErr  bool
		grade    float64
		feedback string
	}{
		{"valid", `{"is_correct": true, "feedback": "<b>Tepat</b> sekali", "grade": 4.5}`, false, 4.5, "Tepat sekali"},
		{"out of range", `{"is_correct": true, "feedback": "ok", "grade": 7}`, true, 0, ""},
		{"missing field", `{"feedback": "ok", "grade": 3}`, true, 0, ""},
		{"not json", `grade: 3`, true, 0, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			chat := &fakeChat{reply: tt.reply}
			g, err := NewOpenAIGrader(testConfig(), chat)
			require.NoError(t, err)

			got, err := g.Grade(context.Background(), GradeRequest{Question: "2+2?", Answer: "4", Type: model.QuestionTypeText})
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.grade, got.Grade)
			assert.Equal(t, tt.feedback, got.Feedback)
		})
	}
}

func TestGrade_PromptCarriesCodeContext(t *testing.T) {
	chat := &fakeChat{reply: `{"is_correct": false, "feedback": "", "grade": 0}`}
	g, err := NewOpenAIGrader(testConfig(), chat)
	require.NoError(t, err)

	_, err = g.Grade(context.Background(), GradeRequest{
		Question:        "Reverse a slice",
		Type:            model.QuestionTypeCode,
		Language:        "go",
		CanonicalAnswer: "slices.Reverse(s)",
	})
	require.NoError(t, err)

	require.Len(t, chat.requests, 1)
	req := chat.requests[0]
	assert.Equal(t, "test-model", req.Model)
	assert.Equal(t, openai.ChatCompletionResponseFormatTypeJSONObject, req.ResponseFormat.Type)
	assert.Contains(t, req.Messages[0].Content, "source code")
	user := req.Messages[1].Content
	assert.Contains(t, user, "## Language\ngo")
	assert.Contains(t, user, "slices.Reverse(s)")
	assert.Contains(t, user, "(empty)")
}

func TestGrade_TransportErrors(t *testing.T) {
	g, err := NewOpenAIGrader(testConfig(), &fakeChat{err: errors.New("429 rate limited")})
	require.NoError(t, err)
	_, err = g.Grade(context.Background(), GradeRequest{Question: "Q", Answer: "A"})
	assert.ErrorContains(t, err, "429")

	g, err = NewOpenAIGrader(testConfig(), &fakeChat{empty: true})
	require.NoError(t, err)
	_, err = g.Grade(context.Background(), GradeRequest{Question: "Q", Answer: "A"})
	assert.ErrorContains(t, err, "no choices")
}

func TestCompose(t *testing.T) {
	chat := &fakeChat{reply: `{
		"overall_feedback": "Hasil <i>baik</i>.",
		"strengths": ["Teliti", "<br>"],
		"areas_for_improvement": ["Manajemen waktu"],
		"grade": 3.5,
		"message": "Pertahankan!"
	}`}
	c, err := NewOpenAIReportComposer(testConfig(), chat)
	require.NoError(t, err)

	report, err := c.Compose(context.Background(), ReportRequest{
		StudentName:     "Sari Wulandari",
		EvaluationTitle: "Jaringan Komputer",
		FinalScore:      3.5,
		FraudAttempts:   2,
		Answers: []model.AnswerSummary{
			{Question: "Apa itu TCP?", Answer: "Protokol andal", Score: 5},
			{Question: "Apa itu UDP?", Answer: "", Score: 0},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, "Hasil baik.", report.OverallFeedback)
	assert.Equal(t, []string{"Teliti"}, report.Strengths)
	assert.Equal(t, 3.5, report.Grade)
	assert.Equal(t, "Pertahankan!", report.Message)

	user := chat.requests[0].Messages[1].Content
	assert.Contains(t, user, "3.50 / 5")
	assert.Contains(t, user, "# Integrity Warnings\n2")
	assert.Equal(t, 1, strings.Count(user, "(no answer)"))
	assert.Equal(t, 1024, chat.requests[0].MaxTokens)
}

func TestCompose_RejectsSchemaMismatch(t *testing.T) {
	c, err := NewOpenAIReportComposer(testConfig(), &fakeChat{reply: `{"overall_feedback": "x", "grade": 2}`})
	require.NoError(t, err)
	_, err = c.Compose(context.Background(), ReportRequest{})
	assert.ErrorContains(t, err, "schema")
}

func TestNotice(t *testing.T) {
	chat := &fakeChat{reply: `{"message": "Tetap di halaman ujian ya."}`}
	w, err := NewOpenAINoticeWriter(testConfig(), chat)
	require.NoError(t, err)

	msg, err := w.Notice(context.Background(), NoticeRequest{Signal: model.SignalClipboardPaste, FraudAttempts: 2})
	require.NoError(t, err)
	assert.Equal(t, "Tetap di halaman ujian ya.", msg)
	assert.Contains(t, chat.requests[0].Messages[1].Content, "pasting content")
	assert.Equal(t, 120, chat.requests[0].MaxTokens)

	w, err = NewOpenAINoticeWriter(testConfig(), &fakeChat{reply: `{"message": "<p></p>"}`})
	require.NoError(t, err)
	_, err = w.Notice(context.Background(), NoticeRequest{Signal: model.SignalPrint})
	assert.Error(t, err)
}

func TestFallbackNotice(t *testing.T) {
	assert.Contains(t, FallbackNotice(model.SignalFullscreenExit), "leaving fullscreen")
	assert.Contains(t, FallbackNotice(model.Signal("mystery")), "unusual activity")
}

package ai

import (
	"context"
	"errors"

	openai "github.com/sashabaranov/go-openai"
	"github.com/stemsi/exstem-assess/internal/model"
)

// ErrNotConfigured is returned by every client built without credentials.
var ErrNotConfigured = errors.New("ai provider credentials are not configured")

// GradeRequest is one question and the student's answer to it.
type GradeRequest struct {
	Question        string
	Answer          string
	Type            model.QuestionType
	Language        string
	CanonicalAnswer string
}

// ReportRequest is everything the report composer sees about a finalized submission.
type ReportRequest struct {
	StudentName     string
	EvaluationTitle string
	Answers         []model.AnswerSummary
	FinalScore      float64
	FraudAttempts   int
}

// NoticeRequest describes a detected integrity signal.
type NoticeRequest struct {
	Signal        model.Signal
	FraudAttempts int
}

// ChatCompleter is the subset of the OpenAI client used here.
type ChatCompleter interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

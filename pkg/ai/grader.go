package ai

import (
	"context"
	"strings"

	"github.com/stemsi/exstem-assess/internal/model"
)

// OpenAIGrader scores a single answer on the 0..5 scale.
type OpenAIGrader struct {
	chat *chatClient
}

// NewOpenAIGrader builds a grader. api may be nil to use the real OpenAI client.
func NewOpenAIGrader(cfg OpenAIConfig, api ChatCompleter) (*OpenAIGrader, error) {
	chat, err := newChatClient(cfg, api)
	if err != nil {
		return nil, err
	}
	return &OpenAIGrader{chat: chat}, nil
}

// Grade asks the model for a verdict on one answer.
func (g *OpenAIGrader) Grade(ctx context.Context, req GradeRequest) (model.GradeResult, error) {
	content, err := g.chat.complete(ctx, "grade", graderSystemPrompt(req.Type), buildGradePrompt(req))
	if err != nil {
		return model.GradeResult{}, err
	}

	var result model.GradeResult
	if err := decodeValidated(gradeSchema, content, &result); err != nil {
		return model.GradeResult{}, g.chat.reject("grade", err)
	}
	result.Grade = model.ClampScore(result.Grade)
	result.Feedback = g.chat.clean(result.Feedback)
	return result, nil
}

func graderSystemPrompt(t model.QuestionType) string {
	base := "You grade a single exam answer. Respond with a JSON object containing is_correct (boolean), " +
		"feedback (short, addressed to the student) and grade (number from 0 to 5, decimals allowed)."
	if t == model.QuestionTypeCode {
		return base + " The answer is source code: judge correctness, edge cases and readability."
	}
	return base + " Judge accuracy and completeness; ignore spelling unless it changes meaning."
}

func buildGradePrompt(req GradeRequest) string {
	b := strings.Builder{}
	b.WriteString("## Question\n")
	b.WriteString(req.Question)
	if req.Type == model.QuestionTypeCode && req.Language != "" {
		b.WriteString("\n\n## Language\n")
		b.WriteString(req.Language)
	}
	if req.CanonicalAnswer != "" {
		b.WriteString("\n\n## Reference (never quote it back)\n")
		b.WriteString(req.CanonicalAnswer)
	}
	b.WriteString("\n\n## Student Answer\n")
	if strings.TrimSpace(req.Answer) == "" {
		b.WriteString("(empty)")
	} else {
		b.WriteString(req.Answer)
	}
	b.WriteString("\nReturn JSON.")
	return b.String()
}

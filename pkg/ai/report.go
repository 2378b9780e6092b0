package ai

import (
	"context"
	"fmt"
	"strings"

	"github.com/stemsi/exstem-assess/internal/model"
)

// OpenAIReportComposer writes the narrative report once a submission is final.
type OpenAIReportComposer struct {
	chat *chatClient
}

// NewOpenAIReportComposer builds a composer. api may be nil to use the real OpenAI client.
func NewOpenAIReportComposer(cfg OpenAIConfig, api ChatCompleter) (*OpenAIReportComposer, error) {
	if cfg.MaxTokens == 0 {
		cfg.MaxTokens = 1024
	}
	chat, err := newChatClient(cfg, api)
	if err != nil {
		return nil, err
	}
	return &OpenAIReportComposer{chat: chat}, nil
}

// Compose summarises a finalized submission.
func (c *OpenAIReportComposer) Compose(ctx context.Context, req ReportRequest) (model.Report, error) {
	content, err := c.chat.complete(ctx, "report", reportSystemPrompt(), buildReportPrompt(req))
	if err != nil {
		return model.Report{}, err
	}

	var report model.Report
	if err := decodeValidated(reportSchema, content, &report); err != nil {
		return model.Report{}, c.chat.reject("report", err)
	}

	report.OverallFeedback = c.chat.clean(report.OverallFeedback)
	report.Message = c.chat.clean(report.Message)
	report.Strengths = c.cleanAll(report.Strengths)
	report.AreasForImprovement = c.cleanAll(report.AreasForImprovement)
	report.Grade = model.ClampScore(report.Grade)
	return report, nil
}

func (c *OpenAIReportComposer) cleanAll(items []string) []string {
	out := make([]string, 0, len(items))
	for _, s := range items {
		if s = c.chat.clean(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func reportSystemPrompt() string {
	return "You write the final feedback report of a finished exam. Respond with a JSON object containing " +
		"overall_feedback, strengths (array of strings), areas_for_improvement (array of strings), grade " +
		"(number 0 to 5) and an optional message congratulating the student or recommending next steps. " +
		"If integrity warnings were recorded, mention them neutrally."
}

func buildReportPrompt(req ReportRequest) string {
	b := strings.Builder{}
	fmt.Fprintf(&b, "# Student\n%s\n\n# Evaluation\n%s\n\n", req.StudentName, req.EvaluationTitle)
	fmt.Fprintf(&b, "# Final Score\n%.2f / 5\n\n# Integrity Warnings\n%d\n\n# Answers\n", req.FinalScore, req.FraudAttempts)
	for i, a := range req.Answers {
		fmt.Fprintf(&b, "\n## Question %d (score %.2f)\n%s\n### Answer\n", i+1, a.Score, a.Question)
		if strings.TrimSpace(a.Answer) == "" {
			b.WriteString("(no answer)\n")
		} else {
			b.WriteString(a.Answer)
			b.WriteString("\n")
		}
	}
	b.WriteString("\nReturn JSON.")
	return b.String()
}

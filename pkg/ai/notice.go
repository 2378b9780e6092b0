package ai

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/stemsi/exstem-assess/internal/model"
)

// OpenAINoticeWriter phrases the one-shot warning shown after an integrity signal.
type OpenAINoticeWriter struct {
	chat *chatClient
}

// NewOpenAINoticeWriter builds a notice writer. api may be nil to use the real OpenAI client.
func NewOpenAINoticeWriter(cfg OpenAIConfig, api ChatCompleter) (*OpenAINoticeWriter, error) {
	if cfg.MaxTokens == 0 {
		cfg.MaxTokens = 120
	}
	chat, err := newChatClient(cfg, api)
	if err != nil {
		return nil, err
	}
	return &OpenAINoticeWriter{chat: chat}, nil
}

// Notice returns a short warning for the student.
func (w *OpenAINoticeWriter) Notice(ctx context.Context, req NoticeRequest) (string, error) {
	user := fmt.Sprintf("Detected behaviour: %s. Warnings so far: %d.", describeSignal(req.Signal), req.FraudAttempts)
	content, err := w.chat.complete(ctx, "notice", noticeSystemPrompt(), user)
	if err != nil {
		return "", err
	}

	var payload struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal([]byte(content), &payload); err != nil {
		return "", w.chat.reject("notice", fmt.Errorf("parse notice json: %w", err))
	}
	msg := w.chat.clean(payload.Message)
	if msg == "" {
		return "", w.chat.reject("notice", fmt.Errorf("empty notice"))
	}
	return msg, nil
}

func noticeSystemPrompt() string {
	return "You warn a student during an online exam that a behaviour was recorded. Be brief (one or two " +
		"sentences), calm and non-accusatory. Respond with a JSON object containing message."
}

// FallbackNotice is shown whenever the writer is unavailable.
func FallbackNotice(signal model.Signal) string {
	return fmt.Sprintf("Warning: %s was detected and recorded. Please stay on the exam page.", describeSignal(signal))
}

func describeSignal(s model.Signal) string {
	switch s {
	case model.SignalVisibilityHidden:
		return "leaving the exam tab"
	case model.SignalWindowBlur:
		return "switching to another window"
	case model.SignalForbiddenKeys:
		return "a blocked keyboard shortcut"
	case model.SignalClipboardCopy:
		return "copying content"
	case model.SignalClipboardPaste:
		return "pasting content"
	case model.SignalClipboardCut:
		return "cutting content"
	case model.SignalDragStart:
		return "dragging content"
	case model.SignalFullscreenExit:
		return "leaving fullscreen"
	case model.SignalStorageEvent:
		return "activity from another tab"
	case model.SignalPrint:
		return "printing the page"
	case model.SignalShare:
		return "sharing the page"
	default:
		return "unusual activity"
	}
}

package websocket

import (
	"encoding/json"

	"github.com/google/uuid"
)

// ─── Actions (Client → Server) ──────────────────────────────────────

type Action string

const (
	ActionSignal   Action = "signal"
	ActionAutosave Action = "autosave"
	ActionGrade    Action = "grade"
	ActionSubmit   Action = "submit"
	ActionPing     Action = "ping"
)

// RequestEnvelope is used to peek at the action before full parsing.
type RequestEnvelope struct {
	Action Action          `json:"action"`
	Raw    json.RawMessage `json:"-"`
}

// SignalRequest reports one browser integrity signal.
type SignalRequest struct {
	Action     Action     `json:"action"`
	Signal     string     `json:"signal"`
	QuestionID *uuid.UUID `json:"question_id,omitempty"`
}

// AutosaveRequest is sent by the client to save a single answer.
type AutosaveRequest struct {
	Action     Action    `json:"action"`
	QuestionID uuid.UUID `json:"question_id"`
	Text       string    `json:"text"`
	Score      *float64  `json:"score,omitempty"`
}

// GradeRequest asks the server to grade one answer with the external grader.
type GradeRequest struct {
	Action     Action    `json:"action"`
	QuestionID uuid.UUID `json:"question_id"`
	Text       string    `json:"text"`
}

// SubmitAnswer is one answer of the submit payload.
type SubmitAnswer struct {
	QuestionID uuid.UUID `json:"question_id"`
	Text       string    `json:"text"`
	Score      *float64  `json:"score,omitempty"`
}

// SubmitRequest is sent by the client to finalize the session.
type SubmitRequest struct {
	Action  Action         `json:"action"`
	Answers []SubmitAnswer `json:"answers"`
}

// ─── Events (Server → Client) ───────────────────────────────────────

type Event string

const (
	EventState     Event = "state"
	EventTick      Event = "tick"
	EventNotice    Event = "notice"
	EventSaved     Event = "saved"
	EventGraded    Event = "graded"
	EventFinalized Event = "finalized"
	EventError     Event = "error"
	EventPong      Event = "pong"
)

// StateResponse announces a phase change. Session is set once the draft is loaded.
type StateResponse struct {
	Event            Event       `json:"event"`
	Phase            string      `json:"phase"`
	RemainingSeconds int64       `json:"remaining_seconds"`
	Session          interface{} `json:"session,omitempty"`
}

// TickResponse carries the countdown.
type TickResponse struct {
	Event            Event `json:"event"`
	RemainingSeconds int64 `json:"remaining_seconds"`
}

// NoticeResponse is the warning shown after a counted integrity signal.
type NoticeResponse struct {
	Event           Event  `json:"event"`
	Signal          string `json:"signal"`
	Message         string `json:"message"`
	FraudAttempts   int    `json:"fraud_attempts"`
	TimeOutsideEval int    `json:"time_outside_eval"`
}

// SavedResponse acknowledges an autosave.
type SavedResponse struct {
	Event      Event     `json:"event"`
	QuestionID uuid.UUID `json:"question_id"`
}

// GradedResponse returns the grader's verdict for one answer.
type GradedResponse struct {
	Event      Event     `json:"event"`
	QuestionID uuid.UUID `json:"question_id"`
	IsCorrect  bool      `json:"is_correct"`
	Feedback   string    `json:"feedback"`
	Score      float64   `json:"score"`
}

// FinalizedResponse closes the session with the report transport token.
type FinalizedResponse struct {
	Event        Event       `json:"event"`
	Submission   interface{} `json:"submission"`
	Report       interface{} `json:"report,omitempty"`
	ReportToken  string      `json:"report_token"`
	AlreadyFinal bool        `json:"already_final"`
}

// ErrorResponse reports a failed action. Code matches the HTTP error codes.
type ErrorResponse struct {
	Event     Event  `json:"event"`
	Code      string `json:"code"`
	Error     string `json:"error"`
	Retryable bool   `json:"retryable,omitempty"`
}

type PongResponse struct {
	Event Event `json:"event"`
}

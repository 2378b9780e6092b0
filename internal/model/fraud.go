package model

import (
	"time"

	"github.com/google/uuid"
)

// Signal is a behavioural observation reported by the student's browser.
type Signal string

// Signals that move the integrity monitor to Away and count as a fraud attempt.
const (
	SignalVisibilityHidden Signal = "visibility_hidden"
	SignalWindowBlur       Signal = "window_blur"
	SignalForbiddenKeys    Signal = "forbidden_keys"
	SignalClipboardCopy    Signal = "clipboard_copy"
	SignalClipboardPaste   Signal = "clipboard_paste"
	SignalClipboardCut     Signal = "clipboard_cut"
	SignalDragStart        Signal = "drag_start"
	SignalFullscreenExit   Signal = "fullscreen_exit"
	SignalStorageEvent     Signal = "storage_event"
	SignalPrint            Signal = "print"
	SignalShare            Signal = "share"
)

// Signals that bring the student back.
const (
	SignalVisibilityVisible Signal = "visibility_visible"
	SignalWindowFocus       Signal = "window_focus"
)

// IsFraud reports whether the signal is a fraud trigger.
func (s Signal) IsFraud() bool {
	switch s {
	case SignalVisibilityHidden, SignalWindowBlur, SignalForbiddenKeys,
		SignalClipboardCopy, SignalClipboardPaste, SignalClipboardCut,
		SignalDragStart, SignalFullscreenExit, SignalStorageEvent,
		SignalPrint, SignalShare:
		return true
	}
	return false
}

// IsReturn reports whether the signal restores focus.
func (s Signal) IsReturn() bool {
	return s == SignalVisibilityVisible || s == SignalWindowFocus
}

// Valid reports whether the signal is known.
func (s Signal) Valid() bool {
	return s.IsFraud() || s.IsReturn()
}

// FraudEvent is the audit record of one integrity transition.
type FraudEvent struct {
	SubmissionID    uuid.UUID  `json:"submission_id"`
	AttemptID       uuid.UUID  `json:"attempt_id"`
	Signal          Signal     `json:"signal"`
	QuestionID      *uuid.UUID `json:"question_id,omitempty"`
	FraudAttempts   int        `json:"fraud_attempts"`
	TimeOutsideEval int        `json:"time_outside_eval"`
	AwaySeconds     int        `json:"away_seconds,omitempty"`
	OccurredAt      time.Time  `json:"occurred_at"`
}

// SignalRequest reports a single browser signal over HTTP.
type SignalRequest struct {
	Signal     Signal     `json:"signal" binding:"required"`
	QuestionID *uuid.UUID `json:"question_id"`
}

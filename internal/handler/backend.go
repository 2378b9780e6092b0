package handler

import (
	"context"

	"github.com/google/uuid"
	"github.com/stemsi/exstem-assess/internal/integrity"
	"github.com/stemsi/exstem-assess/internal/model"
	"github.com/stemsi/exstem-assess/internal/service"
)

// SessionBackend is the submit path shared by the websocket stream and the
// expiry sweeper. It flushes the live integrity monitor before finalize so the
// last counters are stored while the submission is still a draft.
type SessionBackend struct {
	sessions *service.SessionService
	monitors *integrity.Registry
}

// NewSessionBackend creates a new SessionBackend.
func NewSessionBackend(sessions *service.SessionService, monitors *integrity.Registry) SessionBackend {
	return SessionBackend{sessions: sessions, monitors: monitors}
}

func (b SessionBackend) Load(ctx context.Context, claims *service.SessionClaims) (*service.SessionState, error) {
	return b.sessions.Load(ctx, claims)
}

func (b SessionBackend) Submit(ctx context.Context, submissionID uuid.UUID, answers []model.AnswerInput, trigger string) (*service.SubmitResult, error) {
	b.monitors.Forget(submissionID)
	return b.sessions.Submit(ctx, submissionID, answers, trigger)
}

package handler

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-assess/internal/integrity"
	"github.com/stemsi/exstem-assess/internal/middleware"
	"github.com/stemsi/exstem-assess/internal/model"
	"github.com/stemsi/exstem-assess/internal/response"
	"github.com/stemsi/exstem-assess/internal/service"
	"github.com/stemsi/exstem-assess/internal/session"
	"github.com/stemsi/exstem-assess/internal/validator"
)

// submitTimeout bounds a finalize started over HTTP. The work continues if
// the client disconnects.
const submitTimeout = 60 * time.Second

// SessionHandler handles the student exam session endpoints.
type SessionHandler struct {
	sessions *service.SessionService
	monitors *integrity.Registry
	log      zerolog.Logger
}

// NewSessionHandler creates a new SessionHandler.
func NewSessionHandler(sessions *service.SessionService, monitors *integrity.Registry, log zerolog.Logger) *SessionHandler {
	return &SessionHandler{
		sessions: sessions,
		monitors: monitors,
		log:      log.With().Str("component", "session_handler").Logger(),
	}
}

// Access godoc
// POST /api/v1/access
// Runs the attempt gate, opens or resumes the draft and issues a session token.
func (h *SessionHandler) Access(c *gin.Context) {
	var req model.AccessRequest
	if err := validator.BindStrict(c, &req); err != nil {
		if validator.HasTag(err, "accesscode") {
			response.Fail(c, http.StatusBadRequest, response.ErrInvalidAccessCode)
			return
		}
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, validator.TranslateErrors(err))
		return
	}

	res, err := h.sessions.Access(c.Request.Context(), req)
	if err != nil {
		// Already finished is a redirect, not an error.
		if errors.Is(err, service.ErrAlreadySubmitted) {
			response.Success(c, http.StatusOK, newSessionView(session.PhaseAlreadySubmitted, "", nil))
			return
		}
		failWith(c, h.log, "access", err)
		return
	}

	response.Success(c, http.StatusOK, newSessionView(session.PhaseActive, res.Token, &res.SessionState))
}

// GetSession godoc
// GET /api/v1/session
// Resumes the token's draft. A draft whose time ran out is finalized here.
func (h *SessionHandler) GetSession(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	st, err := h.sessions.Load(c.Request.Context(), claims)
	if err != nil {
		if errors.Is(err, service.ErrAlreadySubmitted) {
			response.Success(c, http.StatusOK, newSessionView(session.PhaseAlreadySubmitted, "", nil))
			return
		}
		failWith(c, h.log, "load session", err)
		return
	}

	if st.Expired() {
		h.finalize(c, claims.SubmissionID, nil, service.TriggerTimeout)
		return
	}

	response.Success(c, http.StatusOK, newSessionView(session.PhaseActive, "", st))
}

// SaveAnswer godoc
// PUT /api/v1/answers/:question_id
// Queues a save-as-you-type write. A text-only save never clears a stored score.
func (h *SessionHandler) SaveAnswer(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	questionID, err := uuid.Parse(c.Param("question_id"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}

	var req model.SaveAnswerRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	if err := h.sessions.Autosave(c.Request.Context(), claims, questionID, req.Text, req.Score); err != nil {
		failWith(c, h.log, "save answer", err)
		return
	}

	response.Success(c, http.StatusAccepted, gin.H{"question_id": questionID, "status": "queued"})
}

// GradeAnswer godoc
// POST /api/v1/answers/:question_id/grade
// Grades the answer with the external grader and stores text and score together.
func (h *SessionHandler) GradeAnswer(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	questionID, err := uuid.Parse(c.Param("question_id"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}

	var req model.GradeAnswerRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	out, err := h.sessions.GradeAnswer(c.Request.Context(), claims, questionID, req.Text)
	if err != nil {
		failWith(c, h.log, "grade answer", err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{
		"answer":     out.Answer,
		"is_correct": out.Result.IsCorrect,
		"feedback":   out.Result.Feedback,
		"grade":      out.Result.Grade,
	})
}

// UpdateCounters godoc
// POST /api/v1/counters
// Stores integrity counters pushed by a client-side monitor. Stale or
// post-finalize pushes are accepted as no-ops.
func (h *SessionHandler) UpdateCounters(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	var req model.CountersRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	counters := model.Counters{FraudAttempts: req.FraudAttempts, TimeOutsideEval: req.TimeOutsideEval}
	applied, err := h.sessions.UpdateCounters(c.Request.Context(), claims.SubmissionID, counters)
	if err != nil {
		failWith(c, h.log, "update counters", err)
		return
	}

	if m, ok := h.monitors.Lookup(claims.SubmissionID); ok {
		if _, err := m.Reconcile(c.Request.Context(), counters); err != nil && !errors.Is(err, integrity.ErrClosed) {
			h.log.Debug().Err(err).Str("submission_id", claims.SubmissionID.String()).Msg("Monitor reconcile skipped")
		}
	}

	response.Success(c, http.StatusOK, gin.H{"applied": applied})
}

// ReportSignal godoc
// POST /api/v1/signals
// Feeds one browser signal to the session's integrity monitor.
func (h *SessionHandler) ReportSignal(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	var req model.SignalRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}
	if !req.Signal.Valid() {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidSignal)
		return
	}

	sub, err := h.sessions.Draft(c.Request.Context(), claims)
	if err != nil {
		failWith(c, h.log, "report signal", err)
		return
	}

	m := h.monitors.Get(sub)
	t, err := m.Observe(c.Request.Context(), req.Signal, req.QuestionID)
	if err != nil {
		failWith(c, h.log, "report signal", signalErr(err))
		return
	}

	body := gin.H{"transition": t}
	if t.Counted {
		body["notice"] = m.Notice(c.Request.Context(), t)
	}
	response.Success(c, http.StatusOK, body)
}

// Submit godoc
// POST /api/v1/submit
// Finalizes the submission with the full answer set. Losing a race with a
// timeout finalize is still a success.
func (h *SessionHandler) Submit(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	var req model.SubmitRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	h.finalize(c, claims.SubmissionID, req.Answers, service.TriggerManual)
}

func (h *SessionHandler) finalize(c *gin.Context, submissionID uuid.UUID, answers []model.AnswerInput, trigger string) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(c.Request.Context()), submitTimeout)
	defer cancel()

	// Flush the live monitor so its last counters land before finalize.
	h.monitors.Forget(submissionID)

	res, err := h.sessions.Submit(ctx, submissionID, answers, trigger)
	if err != nil {
		failWith(c, h.log, "submit", err)
		return
	}

	response.Success(c, http.StatusOK, newSubmitView(res))
}

func signalErr(err error) error {
	switch {
	case errors.Is(err, integrity.ErrUnknownSignal):
		return service.ErrInvalidSignal
	case errors.Is(err, integrity.ErrClosed):
		return fmt.Errorf("%w: integrity monitor closed", service.ErrTransientIO)
	}
	return err
}

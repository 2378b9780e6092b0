package handler

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-assess/internal/clock"
	"github.com/stemsi/exstem-assess/internal/integrity"
	"github.com/stemsi/exstem-assess/internal/middleware"
	"github.com/stemsi/exstem-assess/internal/model"
	"github.com/stemsi/exstem-assess/internal/observability"
	"github.com/stemsi/exstem-assess/internal/response"
	"github.com/stemsi/exstem-assess/internal/service"
	"github.com/stemsi/exstem-assess/internal/session"
	ws "github.com/stemsi/exstem-assess/internal/websocket"
)

// buildUpgrader creates a WebSocket upgrader with origin validation.
// allowedOrigins comes from config.Config.AllowedOrigins.
// An empty slice permits all origins (development mode).
func buildUpgrader(allowedOrigins []string) websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			if len(allowedOrigins) == 0 {
				return true
			}
			origin := r.Header.Get("Origin")
			for _, allowed := range allowedOrigins {
				if strings.EqualFold(allowed, origin) {
					return true
				}
			}
			return false
		},
	}
}

// WSHandler hosts one live session orchestrator per websocket connection.
type WSHandler struct {
	sessions *service.SessionService
	monitors *integrity.Registry
	clock    clock.Clock
	opts     session.Options
	log      zerolog.Logger
	upgrader websocket.Upgrader
}

// NewWSHandler creates a new WSHandler.
func NewWSHandler(
	sessions *service.SessionService,
	monitors *integrity.Registry,
	clk clock.Clock,
	opts session.Options,
	log zerolog.Logger,
	allowedOrigins []string,
) *WSHandler {
	return &WSHandler{
		sessions: sessions,
		monitors: monitors,
		clock:    clk,
		opts:     opts,
		log:      log.With().Str("component", "ws_handler").Logger(),
		upgrader: buildUpgrader(allowedOrigins),
	}
}

// wsConn is one connected session. All frames go through out so only the
// writer goroutine touches the connection for writes.
type wsConn struct {
	conn   *websocket.Conn
	claims *service.SessionClaims
	orch   *session.Orchestrator
	out    chan interface{}
	ctx    context.Context
	log    zerolog.Logger

	mu      sync.Mutex
	monitor *integrity.Monitor
	release func()
}

// SessionStream godoc
// WS /ws/v1/session?token=...
// Streams countdown, phase changes and integrity notices; accepts signal,
// autosave, grade, submit and ping actions.
func (h *WSHandler) SessionStream(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Error().Err(err).Msg("WebSocket upgrade failed")
		return
	}
	defer conn.Close()
	ws.Prepare(conn)

	observability.LiveSessions().Inc()
	defer observability.LiveSessions().Dec()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	wsLog := h.log.With().Str("submission_id", claims.SubmissionID.String()).Logger()
	s := &wsConn{
		conn:   conn,
		claims: claims,
		orch:   session.New(NewSessionBackend(h.sessions, h.monitors), claims, h.clock, h.opts, wsLog),
		out:    make(chan interface{}, 16),
		ctx:    ctx,
		log:    wsLog,
	}
	defer s.releaseMonitor()

	var wg sync.WaitGroup
	wg.Add(3)
	go func() {
		defer wg.Done()
		s.orch.Run(ctx)
	}()
	go func() {
		defer wg.Done()
		h.pumpUpdates(s)
	}()
	go func() {
		defer wg.Done()
		s.writeLoop(cancel)
	}()

	wsLog.Info().Msg("Student connected")
	h.readLoop(s)
	cancel()
	wg.Wait()
	wsLog.Debug().Msg("Session stream closed")
}

// pumpUpdates turns orchestrator updates into events. The connection is
// closed once a terminal phase has been sent.
func (h *WSHandler) pumpUpdates(s *wsConn) {
	for u := range s.orch.Updates() {
		switch u.Kind {
		case session.UpdateTick:
			s.send(ws.TickResponse{Event: ws.EventTick, RemainingSeconds: seconds(u.Remaining)})

		case session.UpdateError:
			_, code := errorStatus(u.Err)
			s.send(ws.ErrorResponse{
				Event:     ws.EventError,
				Code:      string(code),
				Error:     response.GetMessage(code),
				Retryable: u.Retryable,
			})

		case session.UpdatePhase:
			h.onPhase(s, u)
		}
	}

	// Let the writer drain the last frames, then close.
	s.send(closeFrame{})
}

func (h *WSHandler) onPhase(s *wsConn, u session.Update) {
	switch u.Phase {
	case session.PhaseActive:
		if u.State != nil && s.acquireMonitor(h.monitors, u.State.Submission) {
			s.send(ws.StateResponse{
				Event:            ws.EventState,
				Phase:            string(u.Phase),
				RemainingSeconds: seconds(u.Remaining),
				Session:          newSessionView(u.Phase, "", u.State),
			})
			return
		}
		s.send(ws.StateResponse{Event: ws.EventState, Phase: string(u.Phase), RemainingSeconds: seconds(u.Remaining)})

	case session.PhaseDone:
		s.releaseMonitor()
		view := newSubmitView(u.Result)
		s.send(ws.FinalizedResponse{
			Event:        ws.EventFinalized,
			Submission:   view.Submission,
			Report:       view.Report,
			ReportToken:  view.ReportToken,
			AlreadyFinal: view.AlreadyFinal,
		})

	case session.PhaseDenied:
		if u.Err != nil {
			_, code := errorStatus(u.Err)
			s.send(ws.ErrorResponse{Event: ws.EventError, Code: string(code), Error: response.GetMessage(code)})
		}
		s.send(ws.StateResponse{Event: ws.EventState, Phase: string(u.Phase)})

	default:
		s.send(ws.StateResponse{Event: ws.EventState, Phase: string(u.Phase), RemainingSeconds: seconds(u.Remaining)})
	}
}

func (h *WSHandler) readLoop(s *wsConn) {
	for {
		env, err := ws.ReadEnvelope(s.conn)
		if errors.Is(err, ws.ErrMalformed) {
			s.sendError(response.ErrInvalidPayload)
			continue
		}
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.log.Warn().Err(err).Msg("Unexpected close")
			} else {
				s.log.Debug().Msg("Connection closed")
			}
			return
		}
		if s.ctx.Err() != nil {
			return
		}

		switch env.Action {
		case ws.ActionPing:
			s.send(ws.PongResponse{Event: ws.EventPong})
		case ws.ActionSignal:
			h.handleSignal(s, env)
		case ws.ActionAutosave:
			h.handleAutosave(s, env)
		case ws.ActionGrade:
			h.handleGrade(s, env)
		case ws.ActionSubmit:
			h.handleSubmit(s, env)
		default:
			s.log.Debug().Str("action", string(env.Action)).Msg("Unknown action")
			s.sendError(response.ErrInvalidPayload)
		}
	}
}

func (h *WSHandler) handleSignal(s *wsConn, env ws.RequestEnvelope) {
	var req ws.SignalRequest
	if err := env.Decode(&req); err != nil {
		s.sendError(response.ErrInvalidPayload)
		return
	}
	m := s.currentMonitor()
	if m == nil {
		s.sendError(response.ErrSessionUnavailable)
		return
	}

	t, err := m.Observe(s.ctx, model.Signal(req.Signal), req.QuestionID)
	if err != nil {
		_, code := errorStatus(signalErr(err))
		s.sendError(code)
		return
	}
	if !t.Counted {
		return
	}

	// The notice writer may be slow; the next signal must not wait for it.
	go func() {
		msg := m.Notice(s.ctx, t)
		s.send(ws.NoticeResponse{
			Event:           ws.EventNotice,
			Signal:          string(t.Signal),
			Message:         msg,
			FraudAttempts:   t.Counters.FraudAttempts,
			TimeOutsideEval: t.Counters.TimeOutsideEval,
		})
	}()
}

func (h *WSHandler) handleAutosave(s *wsConn, env ws.RequestEnvelope) {
	var req ws.AutosaveRequest
	if err := env.Decode(&req); err != nil || req.QuestionID == uuid.Nil {
		s.sendError(response.ErrInvalidPayload)
		return
	}
	if s.orch.Phase() != session.PhaseActive {
		s.sendError(response.ErrSessionUnavailable)
		return
	}

	if err := h.sessions.Autosave(s.ctx, s.claims, req.QuestionID, req.Text, req.Score); err != nil {
		s.log.Debug().Err(err).Str("question_id", req.QuestionID.String()).Msg("Autosave rejected")
		_, code := errorStatus(err)
		s.sendError(code)
		return
	}
	s.send(ws.SavedResponse{Event: ws.EventSaved, QuestionID: req.QuestionID})
}

func (h *WSHandler) handleGrade(s *wsConn, env ws.RequestEnvelope) {
	var req ws.GradeRequest
	if err := env.Decode(&req); err != nil || req.QuestionID == uuid.Nil {
		s.sendError(response.ErrInvalidPayload)
		return
	}
	if s.orch.Phase() != session.PhaseActive {
		s.sendError(response.ErrSessionUnavailable)
		return
	}

	go func() {
		out, err := h.sessions.GradeAnswer(s.ctx, s.claims, req.QuestionID, req.Text)
		if err != nil {
			_, code := errorStatus(err)
			s.sendError(code)
			return
		}
		s.send(ws.GradedResponse{
			Event:      ws.EventGraded,
			QuestionID: req.QuestionID,
			IsCorrect:  out.Result.IsCorrect,
			Feedback:   out.Result.Feedback,
			Score:      out.Result.Grade,
		})
	}()
}

func (h *WSHandler) handleSubmit(s *wsConn, env ws.RequestEnvelope) {
	var req ws.SubmitRequest
	if err := env.Decode(&req); err != nil {
		s.sendError(response.ErrInvalidPayload)
		return
	}

	answers := make([]model.AnswerInput, 0, len(req.Answers))
	for _, a := range req.Answers {
		answers = append(answers, model.AnswerInput{QuestionID: a.QuestionID, Text: a.Text, Score: a.Score})
	}
	if err := s.orch.RequestSubmit(answers); err != nil {
		s.sendError(response.ErrSessionUnavailable)
	}
}

// ─── Connection helpers ─────────────────────────────────────────────

// closeFrame tells the writer to close the connection after earlier frames.
type closeFrame struct{}

func (s *wsConn) send(v interface{}) {
	select {
	case s.out <- v:
	case <-s.ctx.Done():
	}
}

func (s *wsConn) sendError(code response.ErrCode) {
	s.send(ws.ErrorResponse{
		Event:     ws.EventError,
		Code:      string(code),
		Error:     response.GetMessage(code),
		Retryable: response.IsRetryable(code),
	})
}

func (s *wsConn) writeLoop(cancel context.CancelFunc) {
	for {
		select {
		case <-s.ctx.Done():
			return
		case v := <-s.out:
			if _, ok := v.(closeFrame); ok {
				msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "session ended")
				_ = s.conn.WriteMessage(websocket.CloseMessage, msg)
				cancel()
				_ = s.conn.Close()
				return
			}
			if err := ws.WriteTyped(s.conn, v); err != nil {
				s.log.Debug().Err(err).Msg("Write failed, closing stream")
				cancel()
				_ = s.conn.Close()
				return
			}
		}
	}
}

func (s *wsConn) acquireMonitor(reg *integrity.Registry, sub *model.Submission) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.monitor != nil {
		return false
	}
	s.monitor, s.release = reg.Acquire(sub)
	return true
}

func (s *wsConn) currentMonitor() *integrity.Monitor {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.monitor
}

func (s *wsConn) releaseMonitor() {
	s.mu.Lock()
	release := s.release
	s.monitor, s.release = nil, nil
	s.mu.Unlock()
	if release != nil {
		release()
	}
}

package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-assess/internal/config"
	"github.com/stemsi/exstem-assess/internal/model"
	"github.com/stemsi/exstem-assess/internal/response"
	"github.com/stemsi/exstem-assess/internal/service"
)

const keepAliveInterval = 30 * time.Second

// RosterReader lists an attempt's submissions for the proctor snapshot.
type RosterReader interface {
	AttemptRoster(ctx context.Context, attemptID uuid.UUID) ([]model.RosterEntry, error)
}

// MonitorHandler streams an attempt's fraud events to proctors over SSE.
type MonitorHandler struct {
	rdb      *redis.Client
	attempts service.AttemptReader
	roster   RosterReader
	log      zerolog.Logger
}

// NewMonitorHandler creates a new MonitorHandler.
func NewMonitorHandler(rdb *redis.Client, attempts service.AttemptReader, roster RosterReader, log zerolog.Logger) *MonitorHandler {
	return &MonitorHandler{
		rdb:      rdb,
		attempts: attempts,
		roster:   roster,
		log:      log.With().Str("component", "monitor_handler").Logger(),
	}
}

// LiveAttemptSSE godoc
// GET /api/v1/proctor/attempts/:attempt_id/live
func (h *MonitorHandler) LiveAttemptSSE(c *gin.Context) {
	attemptID, err := uuid.Parse(c.Param("attempt_id"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}

	attempt, err := h.attempts.GetAttempt(c.Request.Context(), attemptID)
	if err != nil {
		response.Fail(c, http.StatusNotFound, response.ErrAttemptNotFound)
		return
	}

	reqCtx := c.Request.Context()

	roster, err := h.roster.AttemptRoster(reqCtx, attemptID)
	if err != nil {
		h.log.Error().Err(err).Str("attempt_id", attemptID.String()).Msg("Failed to load attempt roster")
		response.Fail(c, http.StatusServiceUnavailable, response.ErrTemporaryFailure)
		return
	}

	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")

	c.SSEvent("message", gin.H{
		"type": "snapshot",
		"data": gin.H{
			"attempt": gin.H{
				"id":              attempt.ID,
				"evaluation_id":   attempt.EvaluationID,
				"start_time":      attempt.StartTime,
				"end_time":        attempt.EndTime,
				"max_submissions": attempt.MaxSubmissions,
			},
			"submissions": roster,
		},
	})
	c.Writer.Flush()

	pubsub := h.rdb.Subscribe(reqCtx, config.CacheKey.AttemptMonitorChannel(attemptID.String()))
	defer pubsub.Close()
	ch := pubsub.Channel()

	keepAliveTicker := time.NewTicker(keepAliveInterval)
	defer keepAliveTicker.Stop()

	h.log.Info().Str("attempt_id", attemptID.String()).Msg("Proctor attached to live monitor SSE")

	pingPayload, _ := json.Marshal(map[string]string{"type": "ping"})

	for {
		select {
		case <-reqCtx.Done():
			h.log.Info().Str("attempt_id", attemptID.String()).Msg("Proctor disconnected from live monitor SSE")
			return

		case msg, ok := <-ch:
			if !ok {
				return
			}
			// Events are already JSON; wrap without re-decoding.
			c.Writer.Write([]byte(`data: {"type":"fraud","data":`))
			c.Writer.Write([]byte(msg.Payload))
			c.Writer.Write([]byte("}\n\n"))
			c.Writer.Flush()

		case <-keepAliveTicker.C:
			c.Writer.Write([]byte("data: "))
			c.Writer.Write(pingPayload)
			c.Writer.Write([]byte("\n\n"))
			c.Writer.Flush()
		}
	}
}

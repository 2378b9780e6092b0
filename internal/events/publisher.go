// Package events publishes lifecycle events to NATS for downstream consumers.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-assess/internal/model"
)

// Subject suffixes appended to the configured prefix.
const (
	SubjectSubmissionFinalized = "submission.finalized"
	SubjectFraudRecorded       = "fraud.recorded"
)

// SubmissionFinalizedEvent is published once per submission, by the finalize winner.
type SubmissionFinalizedEvent struct {
	SubmissionID    string    `json:"submission_id"`
	AttemptID       string    `json:"attempt_id"`
	Email           string    `json:"email"`
	Score           float64   `json:"score"`
	FraudAttempts   int       `json:"fraud_attempts"`
	TimeOutsideEval int       `json:"time_outside_eval"`
	SubmittedAt     time.Time `json:"submitted_at"`
}

// NATSPublisher publishes to NATS. A nil connection makes every call a no-op.
type NATSPublisher struct {
	conn   *nats.Conn
	prefix string
	log    zerolog.Logger
}

// Connect dials url. An empty url yields a no-op publisher.
func Connect(url, prefix string, log zerolog.Logger) (*NATSPublisher, error) {
	log = log.With().Str("component", "events").Logger()
	if url == "" {
		log.Info().Msg("NATS_URL not set, lifecycle events disabled")
		return &NATSPublisher{prefix: prefix, log: log}, nil
	}

	conn, err := nats.Connect(url,
		nats.Name("exstem-assess"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Warn().Err(err).Msg("NATS disconnected")
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			log.Info().Str("url", c.ConnectedUrl()).Msg("NATS reconnected")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}
	log.Info().Str("url", conn.ConnectedUrl()).Str("prefix", prefix).Msg("NATS connected")
	return NewNATSPublisher(conn, prefix, log), nil
}

// NewNATSPublisher wraps an existing connection.
func NewNATSPublisher(conn *nats.Conn, prefix string, log zerolog.Logger) *NATSPublisher {
	return &NATSPublisher{conn: conn, prefix: prefix, log: log}
}

// Subject returns the full subject for a suffix.
func (p *NATSPublisher) Subject(suffix string) string {
	if p.prefix == "" {
		return suffix
	}
	return p.prefix + "." + suffix
}

// SubmissionFinalized publishes the finalized submission summary.
func (p *NATSPublisher) SubmissionFinalized(_ context.Context, sub *model.Submission) error {
	evt := SubmissionFinalizedEvent{
		SubmissionID:    sub.ID.String(),
		AttemptID:       sub.AttemptID.String(),
		Email:           sub.Email,
		FraudAttempts:   sub.FraudAttempts,
		TimeOutsideEval: sub.TimeOutsideEval,
	}
	if sub.Score != nil {
		evt.Score = *sub.Score
	}
	if sub.SubmittedAt != nil {
		evt.SubmittedAt = *sub.SubmittedAt
	}
	return p.publish(SubjectSubmissionFinalized, evt)
}

// FraudRecorded publishes one integrity transition.
func (p *NATSPublisher) FraudRecorded(_ context.Context, event model.FraudEvent) error {
	return p.publish(SubjectFraudRecorded, event)
}

func (p *NATSPublisher) publish(suffix string, v any) error {
	if p.conn == nil {
		return nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", suffix, err)
	}
	if err := p.conn.Publish(p.Subject(suffix), data); err != nil {
		return fmt.Errorf("publish %s: %w", suffix, err)
	}
	return nil
}

// Close drains the connection.
func (p *NATSPublisher) Close() {
	if p.conn == nil {
		return
	}
	if err := p.conn.Drain(); err != nil {
		p.log.Warn().Err(err).Msg("Failed to drain NATS connection")
	}
}

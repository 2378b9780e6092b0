package ai

import (
	"context"
	"fmt"
	"html"
	"strings"
	"time"

	"github.com/microcosm-cc/bluemonday"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	openai "github.com/sashabaranov/go-openai"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var (
	aiDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "exstem_assess",
		Subsystem: "ai",
		Name:      "request_duration_seconds",
		Help:      "Duration of AI requests by operation",
	}, []string{"operation", "model"})

	aiFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "exstem_assess",
		Subsystem: "ai",
		Name:      "request_failures_total",
		Help:      "Number of failed AI requests by operation",
	}, []string{"operation", "model"})
)

// OpenAIConfig defines configuration options shared by the OpenAI-backed clients.
type OpenAIConfig struct {
	APIKey      string
	BaseURL     string
	Model       string
	MaxTokens   int
	Temperature float32
	Timeout     time.Duration
	Logger      zerolog.Logger
}

// chatClient wraps one completion call with metrics, tracing and a timeout.
type chatClient struct {
	api       ChatCompleter
	cfg       OpenAIConfig
	tracer    trace.Tracer
	logger    zerolog.Logger
	sanitizer *bluemonday.Policy
}

func newChatClient(cfg OpenAIConfig, api ChatCompleter) (*chatClient, error) {
	if api == nil {
		if cfg.APIKey == "" {
			return nil, ErrNotConfigured
		}
		config := openai.DefaultConfig(cfg.APIKey)
		if cfg.BaseURL != "" {
			config.BaseURL = cfg.BaseURL
		}
		api = openai.NewClientWithConfig(config)
	}

	if cfg.Model == "" {
		cfg.Model = "gpt-4o-mini"
	}
	if cfg.MaxTokens == 0 {
		cfg.MaxTokens = 512
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}

	return &chatClient{
		api:       api,
		cfg:       cfg,
		tracer:    otel.Tracer("github.com/stemsi/exstem-assess/pkg/ai"),
		logger:    cfg.Logger,
		sanitizer: bluemonday.StrictPolicy(),
	}, nil
}

// complete sends one system+user exchange and returns the trimmed JSON content.
func (c *chatClient) complete(parent context.Context, operation, system, user string) (string, error) {
	ctx, cancel := context.WithTimeout(parent, c.cfg.Timeout)
	defer cancel()

	ctx, span := c.tracer.Start(ctx, "openai."+operation, trace.WithAttributes(
		attribute.String("model", c.cfg.Model),
	))
	defer span.End()

	start := time.Now()
	resp, err := c.api.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       c.cfg.Model,
		MaxTokens:   c.cfg.MaxTokens,
		Temperature: c.cfg.Temperature,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: system},
			{Role: openai.ChatMessageRoleUser, Content: user},
		},
		ResponseFormat: &openai.ChatCompletionResponseFormat{Type: openai.ChatCompletionResponseFormatTypeJSONObject},
	})
	aiDuration.WithLabelValues(operation, c.cfg.Model).Observe(time.Since(start).Seconds())
	if err != nil {
		return "", c.fail(span, operation, fmt.Errorf("openai %s: %w", operation, err))
	}
	if len(resp.Choices) == 0 {
		return "", c.fail(span, operation, fmt.Errorf("openai %s: no choices returned", operation))
	}

	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}

func (c *chatClient) fail(span trace.Span, operation string, err error) error {
	aiFailures.WithLabelValues(operation, c.cfg.Model).Inc()
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	c.logger.Warn().Err(err).Str("operation", operation).Msg("AI request failed")
	return err
}

// reject records a response that arrived but could not be used.
func (c *chatClient) reject(operation string, err error) error {
	aiFailures.WithLabelValues(operation, c.cfg.Model).Inc()
	c.logger.Warn().Err(err).Str("operation", operation).Msg("AI response rejected")
	return err
}

// clean strips markup from model output before it reaches a student.
// Entities are decoded again so code snippets keep their operators.
func (c *chatClient) clean(s string) string {
	return strings.TrimSpace(html.UnescapeString(c.sanitizer.Sanitize(s)))
}

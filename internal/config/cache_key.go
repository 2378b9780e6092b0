package config

import (
	"fmt"
	"strings"
)

type CacheKeyStruct struct{}

func NewCacheKeyStruct() *CacheKeyStruct {
	return &CacheKeyStruct{}
}

// AttemptByCodeKey returns the cache key for an attempt resolved by its access code.
// Surrounding whitespace is ignored; codes are otherwise case-sensitive.
func (r *CacheKeyStruct) AttemptByCodeKey(code string) string {
	return fmt.Sprintf("attempt:code:%s", strings.TrimSpace(code))
}

// EvaluationPayloadKey returns the cache key for an evaluation with its questions.
func (r *CacheKeyStruct) EvaluationPayloadKey(evaluationID string) string {
	return fmt.Sprintf("evaluation:%s:payload", evaluationID)
}

// AttemptMonitorChannel returns the Redis PubSub channel for an attempt's live fraud feed.
func (r *CacheKeyStruct) AttemptMonitorChannel(attemptID string) string {
	return fmt.Sprintf("attempt:%s:monitor", attemptID)
}

// FinalReportKey returns the cache key for a finalized submission's composed report.
func (r *CacheKeyStruct) FinalReportKey(submissionID string) string {
	return fmt.Sprintf("submission:%s:report", submissionID)
}

var CacheKey = NewCacheKeyStruct()

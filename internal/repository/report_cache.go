package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stemsi/exstem-assess/internal/config"
	"github.com/stemsi/exstem-assess/internal/model"
)

// ReportCache keeps composed final reports so racing submitters and page
// reloads reuse one composition.
type ReportCache struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewReportCache creates a new ReportCache.
func NewReportCache(rdb *redis.Client, ttl time.Duration) *ReportCache {
	return &ReportCache{rdb: rdb, ttl: ttl}
}

// GetReport returns the cached report or nil on a miss.
func (c *ReportCache) GetReport(ctx context.Context, submissionID uuid.UUID) (*model.FinalReport, error) {
	data, err := c.rdb.Get(ctx, config.CacheKey.FinalReportKey(submissionID.String())).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("get report: %w", err)
	}
	var r model.FinalReport
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("unmarshal report: %w", err)
	}
	return &r, nil
}

// PutReport stores a composed report.
func (c *ReportCache) PutReport(ctx context.Context, r *model.FinalReport) error {
	data, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("marshal report: %w", err)
	}
	return c.rdb.Set(ctx, config.CacheKey.FinalReportKey(r.SubmissionID.String()), data, c.ttl).Err()
}

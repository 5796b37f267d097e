package jobs

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/campus-erp/campus/internal/jobs"
)

// CacheInvalidator drops cached permission subjects.
type CacheInvalidator interface {
	InvalidateCache(ctx context.Context) error
}

// RBACCacheBumpJob invalidates the permission cache on a schedule, bounding
// how long a missed invalidation can serve stale permissions.
type RBACCacheBumpJob struct {
	Cache   CacheInvalidator
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
}

// Handle bumps the cache version.
func (j *RBACCacheBumpJob) Handle(ctx context.Context, _ *asynq.Task) (err error) {
	if j == nil || j.Cache == nil {
		return errors.New("rbac cache bump: handler not configured")
	}
	tracker := j.Metrics.Track(TaskRBACCacheBump)
	defer func() { err = tracker.End(err) }()
	if err := j.Cache.InvalidateCache(ctx); err != nil {
		logger(j.Logger).Error("rbac cache bump failed", slog.Any("error", err))
		return err
	}
	logger(j.Logger).Info("rbac cache bumped")
	return nil
}

// KeyCleaner purges idempotency keys older than a retention.
type KeyCleaner interface {
	Cleanup(ctx context.Context, olderThan time.Duration) (int64, error)
}

// IdempotencyCleanupJob enforces idempotency key retention.
type IdempotencyCleanupJob struct {
	Cleaner   KeyCleaner
	Retention time.Duration
	Logger    *slog.Logger
	Metrics   *jobmetrics.Metrics
}

// Handle deletes expired keys.
func (j *IdempotencyCleanupJob) Handle(ctx context.Context, _ *asynq.Task) (err error) {
	if j == nil || j.Cleaner == nil {
		return errors.New("idempotency cleanup: handler not configured")
	}
	if j.Retention <= 0 {
		return errors.New("idempotency cleanup: retention must be positive")
	}
	tracker := j.Metrics.Track(TaskIdempotencyCleanup)
	defer func() { err = tracker.End(err) }()
	removed, err := j.Cleaner.Cleanup(ctx, j.Retention)
	if err != nil {
		logger(j.Logger).Error("idempotency cleanup failed", slog.Any("error", err))
		return err
	}
	j.Metrics.AddItems(TaskIdempotencyCleanup, removed)
	logger(j.Logger).Info("idempotency keys purged", slog.Int64("removed", removed))
	return nil
}

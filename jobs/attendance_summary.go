package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	"github.com/campus-erp/campus/internal/attendance"
	jobmetrics "github.com/campus-erp/campus/internal/jobs"
)

// Summarizer aggregates a school's check-ins for one day.
type Summarizer interface {
	Summarize(ctx context.Context, schoolID int64, day time.Time) (attendance.DailySummary, error)
}

// AttendanceSummaryJob refreshes attendance_daily_summaries.
type AttendanceSummaryJob struct {
	Summarizer Summarizer
	Logger     *slog.Logger
	Metrics    *jobmetrics.Metrics
}

// NewAttendanceSummaryJob initialises the summary handler.
func NewAttendanceSummaryJob(summarizer Summarizer, logger *slog.Logger, metrics *jobmetrics.Metrics) *AttendanceSummaryJob {
	return &AttendanceSummaryJob{Summarizer: summarizer, Logger: logger, Metrics: metrics}
}

// Handle executes the summary for the payload's school day.
func (j *AttendanceSummaryJob) Handle(ctx context.Context, t *asynq.Task) (err error) {
	if j == nil || j.Summarizer == nil {
		return errors.New("attendance summary: handler not configured")
	}
	var payload AttendanceSummaryPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("attendance summary: decode payload: %v: %w", err, asynq.SkipRetry)
	}
	if payload.SchoolID <= 0 || payload.Day.IsZero() {
		return fmt.Errorf("attendance summary: incomplete payload: %w", asynq.SkipRetry)
	}

	tracker := j.Metrics.Track(TaskAttendanceSummary)
	defer func() { err = tracker.End(err) }()

	summary, err := j.Summarizer.Summarize(ctx, payload.SchoolID, payload.Day)
	if err != nil {
		logger(j.Logger).Error("attendance summary failed",
			slog.Int64("school_id", payload.SchoolID), slog.Any("error", err))
		return err
	}
	j.Metrics.AddItems(TaskAttendanceSummary, 1)
	logger(j.Logger).Info("attendance summary refreshed",
		slog.Int64("school_id", summary.SchoolID),
		slog.String("day", summary.Day.Format(time.DateOnly)),
		slog.Int("on_time", summary.OnTime),
		slog.Int("late", summary.Late),
		slog.Int("rejected", summary.Rejected))
	return nil
}

func logger(l *slog.Logger) *slog.Logger {
	if l != nil {
		return l
	}
	return slog.Default()
}

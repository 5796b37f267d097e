package jobs

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskAttendanceSummary recomputes a school's daily check-in summary.
	TaskAttendanceSummary = "attendance:summary"
	// TaskRBACCacheBump invalidates every cached permission subject.
	TaskRBACCacheBump = "rbac:cache_bump"
	// TaskIdempotencyCleanup purges expired idempotency keys.
	TaskIdempotencyCleanup = "maintenance:idempotency_cleanup"
)

const (
	// summaryDebounce groups check-ins of one school day into one summary
	// run per window.
	summaryDebounce = time.Minute
	// summarySettle delays a run past the end of its window.
	summarySettle = 5 * time.Second
)

// AttendanceSummaryPayload identifies the school day to summarise. Day keeps
// the school's UTC offset so the worker finds the same local midnight.
type AttendanceSummaryPayload struct {
	SchoolID int64     `json:"school_id"`
	Day      time.Time `json:"day"`
}

// NewAttendanceSummaryTask constructs an Asynq task.
func NewAttendanceSummaryTask(payload AttendanceSummaryPayload) (*asynq.Task, error) {
	if payload.SchoolID <= 0 {
		return nil, fmt.Errorf("attendance summary: invalid school id %d", payload.SchoolID)
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskAttendanceSummary, data, asynq.MaxRetry(5)), nil
}

// summarySchedule returns the task ID and run time of the summary covering a
// check-in notified at now. Every notification of a window maps to the same
// pending task, which runs only once the window is over, so a summary that
// is already running never swallows a later check-in.
func summarySchedule(payload AttendanceSummaryPayload, now time.Time) (string, time.Time) {
	windowEnd := now.Truncate(summaryDebounce).Add(summaryDebounce)
	id := fmt.Sprintf("%s:%d:%s:%d", TaskAttendanceSummary, payload.SchoolID,
		payload.Day.Format(time.DateOnly), windowEnd.Unix())
	return id, windowEnd.Add(summarySettle)
}

// NewRBACCacheBumpTask constructs the nightly cache invalidation task.
func NewRBACCacheBumpTask() *asynq.Task {
	return asynq.NewTask(TaskRBACCacheBump, nil, asynq.MaxRetry(3))
}

// NewIdempotencyCleanupTask constructs the key retention task.
func NewIdempotencyCleanupTask() *asynq.Task {
	return asynq.NewTask(TaskIdempotencyCleanup, nil, asynq.MaxRetry(3))
}

// DefaultCron returns the periodic tasks the worker schedules.
func DefaultCron() []CronRegistration {
	return []CronRegistration{
		{Spec: "0 2 * * *", Task: NewRBACCacheBumpTask(), Options: []asynq.Option{asynq.Queue(QueueDefault)}},
		{Spec: "30 3 * * *", Task: NewIdempotencyCleanupTask(), Options: []asynq.Option{asynq.Queue(QueueDefault)}},
	}
}

package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/campus-erp/campus/internal/attendance"
)

type fakeEnqueuer struct {
	tasks []*asynq.Task
	opts  [][]asynq.Option
	err   error
}

func (f *fakeEnqueuer) EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.tasks = append(f.tasks, task)
	f.opts = append(f.opts, opts)
	return &asynq.TaskInfo{Type: task.Type()}, nil
}

func (f *fakeEnqueuer) Close() error { return nil }

type fakeSummarizer struct {
	schoolID int64
	day      time.Time
	err      error
}

func (f *fakeSummarizer) Summarize(ctx context.Context, schoolID int64, day time.Time) (attendance.DailySummary, error) {
	f.schoolID, f.day = schoolID, day
	if f.err != nil {
		return attendance.DailySummary{}, f.err
	}
	return attendance.DailySummary{SchoolID: schoolID, Day: day, OnTime: 3, Late: 1}, nil
}

func TestCheckInRecordedEnqueuesSummaryInSchoolZone(t *testing.T) {
	enq := &fakeEnqueuer{}
	client := NewClientWith(enq)
	abidjan := time.FixedZone("GMT+1", 3600)
	checkedIn := time.Date(2024, 9, 2, 0, 30, 0, 0, abidjan)

	require.NoError(t, client.CheckInRecorded(context.Background(), attendance.CheckIn{SchoolID: 4, CheckedInAt: checkedIn}))

	require.Len(t, enq.tasks, 1)
	assert.Equal(t, TaskAttendanceSummary, enq.tasks[0].Type())
	var payload AttendanceSummaryPayload
	require.NoError(t, json.Unmarshal(enq.tasks[0].Payload(), &payload))
	assert.Equal(t, int64(4), payload.SchoolID)
	// the offset survives the round trip, so the worker sees 2 September
	assert.Equal(t, 2, payload.Day.Day())
	assert.True(t, payload.Day.Equal(checkedIn))
}

func optionValue(opts []asynq.Option, kind asynq.OptionType) any {
	for _, opt := range opts {
		if opt.Type() == kind {
			return opt.Value()
		}
	}
	return nil
}

func TestSummaryRunsAfterItsWindow(t *testing.T) {
	enq := &fakeEnqueuer{}
	client := NewClientWith(enq)
	now := time.Date(2024, 9, 2, 8, 0, 10, 0, time.UTC)
	client.now = func() time.Time { return now }
	payload := AttendanceSummaryPayload{SchoolID: 4, Day: now}
	ctx := context.Background()

	require.NoError(t, client.EnqueueAttendanceSummary(ctx, payload))
	now = now.Add(40 * time.Second)
	require.NoError(t, client.EnqueueAttendanceSummary(ctx, payload))
	// the first window's summary may be running by now; this check-in gets its own run
	now = now.Add(20 * time.Second)
	require.NoError(t, client.EnqueueAttendanceSummary(ctx, payload))

	require.Len(t, enq.opts, 3)
	first := optionValue(enq.opts[0], asynq.TaskIDOpt)
	assert.Equal(t, first, optionValue(enq.opts[1], asynq.TaskIDOpt))
	assert.NotEqual(t, first, optionValue(enq.opts[2], asynq.TaskIDOpt))
	assert.Equal(t, time.Date(2024, 9, 2, 8, 1, 5, 0, time.UTC), optionValue(enq.opts[0], asynq.ProcessAtOpt))
	assert.Equal(t, time.Date(2024, 9, 2, 8, 2, 5, 0, time.UTC), optionValue(enq.opts[2], asynq.ProcessAtOpt))
	assert.Nil(t, optionValue(enq.opts[0], asynq.UniqueOpt))

	other := AttendanceSummaryPayload{SchoolID: 5, Day: now}
	require.NoError(t, client.EnqueueAttendanceSummary(ctx, other))
	assert.NotEqual(t, optionValue(enq.opts[2], asynq.TaskIDOpt), optionValue(enq.opts[3], asynq.TaskIDOpt))
}

func TestEnqueueSummaryAbsorbsDuplicates(t *testing.T) {
	client := NewClientWith(&fakeEnqueuer{err: asynq.ErrTaskIDConflict})
	assert.NoError(t, client.EnqueueAttendanceSummary(context.Background(), AttendanceSummaryPayload{SchoolID: 1, Day: time.Now()}))

	failing := NewClientWith(&fakeEnqueuer{err: errors.New("redis down")})
	assert.Error(t, failing.EnqueueAttendanceSummary(context.Background(), AttendanceSummaryPayload{SchoolID: 1, Day: time.Now()}))
}

func TestNewAttendanceSummaryTaskRejectsMissingSchool(t *testing.T) {
	_, err := NewAttendanceSummaryTask(AttendanceSummaryPayload{Day: time.Now()})
	assert.Error(t, err)
}

func TestAttendanceSummaryJobHandle(t *testing.T) {
	summarizer := &fakeSummarizer{}
	job := NewAttendanceSummaryJob(summarizer, nil, nil)
	day := time.Date(2024, 9, 2, 8, 0, 0, 0, time.UTC)
	task, err := NewAttendanceSummaryTask(AttendanceSummaryPayload{SchoolID: 9, Day: day})
	require.NoError(t, err)

	require.NoError(t, job.Handle(context.Background(), task))
	assert.Equal(t, int64(9), summarizer.schoolID)
	assert.True(t, summarizer.day.Equal(day))
}

func TestAttendanceSummaryJobSkipsRetryOnBadPayload(t *testing.T) {
	job := NewAttendanceSummaryJob(&fakeSummarizer{}, nil, nil)

	err := job.Handle(context.Background(), asynq.NewTask(TaskAttendanceSummary, []byte("{")))
	assert.ErrorIs(t, err, asynq.SkipRetry)

	err = job.Handle(context.Background(), asynq.NewTask(TaskAttendanceSummary, []byte(`{"school_id":0}`)))
	assert.ErrorIs(t, err, asynq.SkipRetry)
}

func TestAttendanceSummaryJobPropagatesFailure(t *testing.T) {
	job := NewAttendanceSummaryJob(&fakeSummarizer{err: errors.New("db down")}, nil, nil)
	task, err := NewAttendanceSummaryTask(AttendanceSummaryPayload{SchoolID: 9, Day: time.Now()})
	require.NoError(t, err)

	assert.EqualError(t, job.Handle(context.Background(), task), "db down")
}

type fakeInvalidator struct{ calls int }

func (f *fakeInvalidator) InvalidateCache(ctx context.Context) error {
	f.calls++
	return nil
}

type fakeCleaner struct {
	olderThan time.Duration
}

func (f *fakeCleaner) Cleanup(ctx context.Context, olderThan time.Duration) (int64, error) {
	f.olderThan = olderThan
	return 12, nil
}

func TestMaintenanceJobs(t *testing.T) {
	inv := &fakeInvalidator{}
	bump := &RBACCacheBumpJob{Cache: inv}
	require.NoError(t, bump.Handle(context.Background(), NewRBACCacheBumpTask()))
	assert.Equal(t, 1, inv.calls)

	cleaner := &fakeCleaner{}
	cleanup := &IdempotencyCleanupJob{Cleaner: cleaner, Retention: 48 * time.Hour}
	require.NoError(t, cleanup.Handle(context.Background(), NewIdempotencyCleanupTask()))
	assert.Equal(t, 48*time.Hour, cleaner.olderThan)

	unconfigured := &IdempotencyCleanupJob{Cleaner: cleaner}
	assert.Error(t, unconfigured.Handle(context.Background(), NewIdempotencyCleanupTask()))
}

func TestDefaultCronSchedulesMaintenance(t *testing.T) {
	types := map[string]string{}
	for _, entry := range DefaultCron() {
		types[entry.Task.Type()] = entry.Spec
	}
	assert.Equal(t, map[string]string{
		TaskRBACCacheBump:      "0 2 * * *",
		TaskIdempotencyCleanup: "30 3 * * *",
	}, types)
}

type fakeInspector struct {
	info *asynq.QueueInfo
	err  error
}

func (f fakeInspector) GetQueueInfo(queue string) (*asynq.QueueInfo, error) {
	return f.info, f.err
}

func TestHealthHandler(t *testing.T) {
	cases := []struct {
		name      string
		inspector QueueInspector
		status    int
		pending   int
	}{
		{name: "no inspector", status: http.StatusOK},
		{name: "queue info", inspector: fakeInspector{info: &asynq.QueueInfo{Queue: QueueDefault, Pending: 7}}, status: http.StatusOK, pending: 7},
		{name: "redis down", inspector: fakeInspector{err: errors.New("dial tcp")}, status: http.StatusServiceUnavailable},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			r := chi.NewRouter()
			r.Route("/jobs", NewHandler(tc.inspector, nil).MountRoutes)
			rr := httptest.NewRecorder()
			r.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/jobs/health", nil))

			require.Equal(t, tc.status, rr.Code)
			if tc.status != http.StatusOK {
				return
			}
			var body queueHealth
			require.NoError(t, json.NewDecoder(rr.Body).Decode(&body))
			assert.Equal(t, QueueDefault, body.Queue)
			assert.Equal(t, tc.pending, body.Pending)
		})
	}
}

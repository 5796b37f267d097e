package attendance

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/campus-erp/campus/internal/shared"
)

const idempotencyModule = "attendance.checkin"

// Repository defines persistence operations for check-ins.
type Repository interface {
	Geofence(ctx context.Context, schoolID int64) (Geofence, error)
	SchoolLocation(ctx context.Context, schoolID int64) (*time.Location, error)
	InsertCheckIn(ctx context.Context, checkIn CheckIn) error
	ListCheckIns(ctx context.Context, schoolID int64, from, to time.Time) ([]CheckIn, error)
	SaveSummary(ctx context.Context, summary DailySummary) error
}

// IdempotencyStore guards against replayed submissions.
type IdempotencyStore interface {
	CheckAndInsert(ctx context.Context, key, module string) error
	Delete(ctx context.Context, key string) error
}

// Notifier is told about every recorded check-in.
type Notifier interface {
	CheckInRecorded(ctx context.Context, checkIn CheckIn) error
}

// Recorder observes check-in outcomes.
type Recorder interface {
	CheckInRecorded(status string)
}

// ServiceConfig tunes check-in acceptance.
type ServiceConfig struct {
	// MaxDistanceMeters applies to schools without their own radius.
	MaxDistanceMeters float64
	EarlyOpen         time.Duration
	Grace             time.Duration
	Now               func() time.Time
}

// Service records teacher check-ins.
type Service struct {
	repo     Repository
	idem     IdempotencyStore
	notifier Notifier
	recorder Recorder
	logger   *slog.Logger
	cfg      ServiceConfig
}

// NewService constructs the attendance service. idem, notifier and recorder may be nil.
func NewService(repo Repository, idem IdempotencyStore, notifier Notifier, recorder Recorder, logger *slog.Logger, cfg ServiceConfig) *Service {
	if cfg.MaxDistanceMeters <= 0 {
		cfg.MaxDistanceMeters = DefaultMaxDistanceMeters
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, idem: idem, notifier: notifier, recorder: recorder, logger: logger, cfg: cfg}
}

// CheckIn validates and records a check-in. A check-in outside the geofence is
// recorded as rejected and returned with IsValid false; it is not an error.
func (s *Service) CheckIn(ctx context.Context, input CheckInInput) (CheckIn, error) {
	if input.ClientKey != "" && s.idem != nil {
		if err := s.idem.CheckAndInsert(ctx, input.ClientKey, idempotencyModule); err != nil {
			if errors.Is(err, shared.ErrIdempotencyConflict) {
				return CheckIn{}, ErrDuplicateCheckIn
			}
			return CheckIn{}, err
		}
	}
	record, err := s.checkIn(ctx, input)
	if err != nil {
		if input.ClientKey != "" && s.idem != nil {
			if delErr := s.idem.Delete(ctx, input.ClientKey); delErr != nil {
				s.logger.Warn("attendance release idempotency key", slog.Any("error", delErr))
			}
		}
		return CheckIn{}, err
	}
	if s.recorder != nil {
		s.recorder.CheckInRecorded(string(record.Status))
	}
	if s.notifier != nil {
		if err := s.notifier.CheckInRecorded(ctx, record); err != nil {
			s.logger.Warn("attendance notify", slog.String("check_in", record.ID.String()), slog.Any("error", err))
		}
	}
	return record, nil
}

func (s *Service) checkIn(ctx context.Context, input CheckInInput) (CheckIn, error) {
	fence, err := s.repo.Geofence(ctx, input.SchoolID)
	if err != nil {
		return CheckIn{}, err
	}
	now := s.cfg.Now()
	if fence.Location != nil {
		now = now.In(fence.Location)
	}
	window := DayWindow(now, fence.DayStart, fence.DayEnd, s.cfg.EarlyOpen, s.cfg.Grace)
	status, err := window.Classify(now)
	if err != nil {
		return CheckIn{}, err
	}
	radius := fence.RadiusMeters
	if radius <= 0 {
		radius = s.cfg.MaxDistanceMeters
	}
	validation := ValidateLocation(input.Position, fence.Center, radius)
	if !validation.IsValid {
		status = StatusRejected
	}
	id, err := uuid.NewRandom()
	if err != nil {
		return CheckIn{}, fmt.Errorf("attendance: new id: %w", err)
	}
	record := CheckIn{
		ID:             id,
		SchoolID:       input.SchoolID,
		TeacherID:      input.TeacherID,
		Position:       input.Position,
		DistanceMeters: validation.DistanceMeters,
		IsValid:        validation.IsValid,
		Status:         status,
		CheckedInAt:    now,
	}
	if err := s.repo.InsertCheckIn(ctx, record); err != nil {
		return CheckIn{}, fmt.Errorf("attendance: insert check-in: %w", err)
	}
	return record, nil
}

// ListCheckIns returns the check-ins of one school day. Only the calendar
// date of day is used, read in the school's time zone. A zero day means
// today at the school.
func (s *Service) ListCheckIns(ctx context.Context, schoolID int64, day time.Time) (DayCheckIns, error) {
	loc, err := s.repo.SchoolLocation(ctx, schoolID)
	if err != nil {
		return DayCheckIns{}, err
	}
	if day.IsZero() {
		day = s.cfg.Now().In(loc)
	}
	from := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, loc)
	checkIns, err := s.repo.ListCheckIns(ctx, schoolID, from, from.AddDate(0, 0, 1))
	if err != nil {
		return DayCheckIns{}, err
	}
	return DayCheckIns{SchoolID: schoolID, Day: from, CheckIns: checkIns}, nil
}

// Summarize counts a school's check-ins of day by status and stores the result.
func (s *Service) Summarize(ctx context.Context, schoolID int64, day time.Time) (DailySummary, error) {
	list, err := s.ListCheckIns(ctx, schoolID, day)
	if err != nil {
		return DailySummary{}, err
	}
	summary := DailySummary{SchoolID: schoolID, Day: list.Day}
	// only the first accepted check-in of a teacher counts
	counted := make(map[int64]bool)
	for _, c := range list.CheckIns {
		switch c.Status {
		case StatusRejected:
			summary.Rejected++
		case StatusOnTime, StatusLate:
			if counted[c.TeacherID] {
				continue
			}
			counted[c.TeacherID] = true
			if c.Status == StatusOnTime {
				summary.OnTime++
			} else {
				summary.Late++
			}
		}
	}
	if err := s.repo.SaveSummary(ctx, summary); err != nil {
		return DailySummary{}, fmt.Errorf("attendance: save summary: %w", err)
	}
	return summary, nil
}

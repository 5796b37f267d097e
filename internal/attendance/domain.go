package attendance

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrWindowClosed is returned for check-ins outside the day's window.
	ErrWindowClosed = errors.New("attendance: check-in window closed")
	// ErrNoGeofence is returned when the school has no configured location.
	ErrNoGeofence = errors.New("attendance: school has no geofence")
	// ErrDuplicateCheckIn is returned when a client key was already processed.
	ErrDuplicateCheckIn = errors.New("attendance: duplicate check-in")
	// ErrUnknownSchool is returned when the school does not exist.
	ErrUnknownSchool = errors.New("attendance: unknown school")
)

// Geofence is the check-in area and schedule of a school.
type Geofence struct {
	SchoolID     int64
	Center       Point
	RadiusMeters float64
	// DayStart and DayEnd are offsets from local midnight.
	DayStart time.Duration
	DayEnd   time.Duration
	Location *time.Location
}

// CheckIn is a recorded check-in attempt, accepted or not.
type CheckIn struct {
	ID             uuid.UUID   `json:"id"`
	SchoolID       int64       `json:"school_id"`
	TeacherID      int64       `json:"teacher_id"`
	Position       Coordinates `json:"position"`
	DistanceMeters float64     `json:"distance_meters"`
	IsValid        bool        `json:"is_valid"`
	Status         Status      `json:"status"`
	CheckedInAt    time.Time   `json:"checked_in_at"`
}

// CheckInInput is what a teacher submits from the device.
type CheckInInput struct {
	SchoolID  int64
	TeacherID int64
	Position  Coordinates
	// ClientKey deduplicates retried submissions.
	ClientKey string
}

// DayCheckIns lists a school's check-ins for one local day.
type DayCheckIns struct {
	SchoolID int64
	// Day is local midnight in the school's time zone.
	Day      time.Time
	CheckIns []CheckIn
}

// DailySummary aggregates a school's check-ins for one day.
type DailySummary struct {
	SchoolID int64     `json:"school_id"`
	Day      time.Time `json:"day"`
	OnTime   int       `json:"on_time"`
	Late     int       `json:"late"`
	Rejected int       `json:"rejected"`
}

package attendance

import (
	"fmt"
	"time"
)

// Status classifies an accepted check-in against its window.
type Status string

const (
	StatusOnTime   Status = "on_time"
	StatusLate     Status = "late"
	StatusRejected Status = "rejected"
)

// Window is the period during which a check-in for a scheduled session is accepted.
// It opens EarlyOpen before Start, counts as on time until Start+Grace and
// closes at End.
type Window struct {
	Start     time.Time
	End       time.Time
	EarlyOpen time.Duration
	Grace     time.Duration
}

// Opens returns the first instant a check-in is accepted.
func (w Window) Opens() time.Time {
	return w.Start.Add(-w.EarlyOpen)
}

// Classify places t in the window. Both ends are inclusive.
func (w Window) Classify(t time.Time) (Status, error) {
	if t.Before(w.Opens()) || t.After(w.End) {
		return "", fmt.Errorf("%w: %s outside [%s, %s]", ErrWindowClosed,
			t.Format(time.RFC3339), w.Opens().Format(time.RFC3339), w.End.Format(time.RFC3339))
	}
	if !t.After(w.Start.Add(w.Grace)) {
		return StatusOnTime, nil
	}
	return StatusLate, nil
}

// DayWindow builds the window of a school day from wall-clock offsets in the
// location of day.
func DayWindow(day time.Time, start, end time.Duration, earlyOpen, grace time.Duration) Window {
	midnight := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, day.Location())
	return Window{
		Start:     midnight.Add(start),
		End:       midnight.Add(end),
		EarlyOpen: earlyOpen,
		Grace:     grace,
	}
}

package attendance

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWindowClassify(t *testing.T) {
	day := time.Date(2024, 3, 4, 15, 0, 0, 0, time.UTC)
	w := DayWindow(day, 8*time.Hour, 17*time.Hour, 30*time.Minute, 15*time.Minute)

	require.Equal(t, time.Date(2024, 3, 4, 8, 0, 0, 0, time.UTC), w.Start)
	require.Equal(t, time.Date(2024, 3, 4, 7, 30, 0, 0, time.UTC), w.Opens())

	tests := []struct {
		name   string
		at     time.Time
		status Status
		closed bool
	}{
		{"before opening", time.Date(2024, 3, 4, 7, 29, 59, 0, time.UTC), "", true},
		{"at opening", time.Date(2024, 3, 4, 7, 30, 0, 0, time.UTC), StatusOnTime, false},
		{"at start", time.Date(2024, 3, 4, 8, 0, 0, 0, time.UTC), StatusOnTime, false},
		{"end of grace", time.Date(2024, 3, 4, 8, 15, 0, 0, time.UTC), StatusOnTime, false},
		{"after grace", time.Date(2024, 3, 4, 8, 15, 1, 0, time.UTC), StatusLate, false},
		{"at end", time.Date(2024, 3, 4, 17, 0, 0, 0, time.UTC), StatusLate, false},
		{"after end", time.Date(2024, 3, 4, 17, 0, 1, 0, time.UTC), "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, err := w.Classify(tt.at)
			if tt.closed {
				require.ErrorIs(t, err, ErrWindowClosed)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.status, status)
		})
	}
}

func TestDayWindowUsesLocalMidnight(t *testing.T) {
	loc := time.FixedZone("UTC+2", 2*60*60)
	// 23:30 UTC on the 3rd is already the 4th in UTC+2
	day := time.Date(2024, 3, 3, 23, 30, 0, 0, time.UTC).In(loc)

	w := DayWindow(day, 8*time.Hour, 17*time.Hour, 0, 0)

	assert.Equal(t, time.Date(2024, 3, 4, 6, 0, 0, 0, time.UTC), w.Start.UTC())
}

package attendance

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PGRepository implements Repository using PostgreSQL.
type PGRepository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a PostgreSQL repository.
func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

// Geofence loads the check-in area of a school.
func (r *PGRepository) Geofence(ctx context.Context, schoolID int64) (Geofence, error) {
	var (
		lat, lon   pgtype.Float8
		radius     pgtype.Float8
		start, end pgtype.Time
		tz         string
	)
	err := r.pool.QueryRow(ctx, `SELECT latitude, longitude, checkin_radius_m, day_start, day_end, timezone
		FROM schools WHERE id = $1`, schoolID).Scan(&lat, &lon, &radius, &start, &end, &tz)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Geofence{}, ErrNoGeofence
		}
		return Geofence{}, err
	}
	if !lat.Valid || !lon.Valid {
		return Geofence{}, ErrNoGeofence
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return Geofence{}, fmt.Errorf("attendance: school %d timezone %q: %w", schoolID, tz, err)
	}
	fence := Geofence{
		SchoolID: schoolID,
		Center:   Point{Latitude: lat.Float64, Longitude: lon.Float64},
		DayStart: time.Duration(start.Microseconds) * time.Microsecond,
		DayEnd:   time.Duration(end.Microseconds) * time.Microsecond,
		Location: loc,
	}
	if radius.Valid {
		fence.RadiusMeters = radius.Float64
	}
	return fence, nil
}

// SchoolLocation loads the time zone a school's days are counted in.
func (r *PGRepository) SchoolLocation(ctx context.Context, schoolID int64) (*time.Location, error) {
	var tz string
	err := r.pool.QueryRow(ctx, `SELECT timezone FROM schools WHERE id = $1`, schoolID).Scan(&tz)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: %d", ErrUnknownSchool, schoolID)
		}
		return nil, err
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, fmt.Errorf("attendance: school %d timezone %q: %w", schoolID, tz, err)
	}
	return loc, nil
}

// InsertCheckIn stores one check-in attempt.
func (r *PGRepository) InsertCheckIn(ctx context.Context, c CheckIn) error {
	_, err := r.pool.Exec(ctx, `INSERT INTO teacher_check_ins
		(id, school_id, teacher_id, latitude, longitude, accuracy_m, distance_m, is_valid, status, checked_in_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		c.ID, c.SchoolID, c.TeacherID, c.Position.Latitude, c.Position.Longitude, c.Position.Accuracy,
		c.DistanceMeters, c.IsValid, string(c.Status), c.CheckedInAt)
	return err
}

// ListCheckIns returns check-ins of a school in [from, to) ordered by time.
func (r *PGRepository) ListCheckIns(ctx context.Context, schoolID int64, from, to time.Time) ([]CheckIn, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, school_id, teacher_id, latitude, longitude, accuracy_m, distance_m, is_valid, status, checked_in_at
		FROM teacher_check_ins WHERE school_id = $1 AND checked_in_at >= $2 AND checked_in_at < $3
		ORDER BY checked_in_at, id`, schoolID, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []CheckIn
	for rows.Next() {
		var (
			c      CheckIn
			status string
		)
		if err := rows.Scan(&c.ID, &c.SchoolID, &c.TeacherID, &c.Position.Latitude, &c.Position.Longitude,
			&c.Position.Accuracy, &c.DistanceMeters, &c.IsValid, &status, &c.CheckedInAt); err != nil {
			return nil, err
		}
		c.Status = Status(status)
		out = append(out, c)
	}
	return out, rows.Err()
}

// SaveSummary upserts the daily summary of a school.
func (r *PGRepository) SaveSummary(ctx context.Context, s DailySummary) error {
	_, err := r.pool.Exec(ctx, `INSERT INTO attendance_daily_summaries (school_id, day, on_time, late, rejected, updated_at)
		VALUES ($1, $2, $3, $4, $5, NOW())
		ON CONFLICT (school_id, day) DO UPDATE
		SET on_time = EXCLUDED.on_time, late = EXCLUDED.late, rejected = EXCLUDED.rejected, updated_at = NOW()`,
		s.SchoolID, s.Day, s.OnTime, s.Late, s.Rejected)
	return err
}

var _ Repository = (*PGRepository)(nil)

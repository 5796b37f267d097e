package grading

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/campus-erp/campus/internal/platform/db"
)

// Repository defines persistence operations for coefficient overrides.
type Repository interface {
	ListOverrides(ctx context.Context, schoolID, schoolYearID int64) ([]Override, error)
	ReplaceOverrides(ctx context.Context, schoolID, schoolYearID int64, overrides []Override) ([]Override, error)
}

// PGRepository implements Repository using PostgreSQL.
type PGRepository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a PostgreSQL repository.
func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

// ListOverrides returns the overrides of one school year ordered by id.
func (r *PGRepository) ListOverrides(ctx context.Context, schoolID, schoolYearID int64) ([]Override, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, school_id, school_year_id, grade_id, subject_id, series_id, value, updated_at
		FROM coefficient_overrides WHERE school_id = $1 AND school_year_id = $2 ORDER BY id`, schoolID, schoolYearID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Override
	for rows.Next() {
		var o Override
		if err := rows.Scan(&o.ID, &o.SchoolID, &o.SchoolYearID, &o.GradeID, &o.SubjectID, &o.SeriesID, &o.Value, &o.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

// ReplaceOverrides swaps the overrides of one school year atomically.
func (r *PGRepository) ReplaceOverrides(ctx context.Context, schoolID, schoolYearID int64, overrides []Override) ([]Override, error) {
	saved := make([]Override, 0, len(overrides))
	err := db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `DELETE FROM coefficient_overrides WHERE school_id = $1 AND school_year_id = $2`, schoolID, schoolYearID); err != nil {
			return err
		}
		for _, o := range overrides {
			row := tx.QueryRow(ctx, `INSERT INTO coefficient_overrides (school_id, school_year_id, grade_id, subject_id, series_id, value)
				VALUES ($1, $2, $3, $4, $5, $6) RETURNING id, updated_at`,
				schoolID, schoolYearID, o.GradeID, o.SubjectID, o.SeriesID, o.Value)
			o.SchoolID, o.SchoolYearID = schoolID, schoolYearID
			if err := row.Scan(&o.ID, &o.UpdatedAt); err != nil {
				return err
			}
			saved = append(saved, o)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return saved, nil
}

var _ Repository = (*PGRepository)(nil)

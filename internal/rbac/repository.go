package rbac

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/campus-erp/campus/internal/platform/db"
)

// Repository defines persistence operations for roles and grants.
type Repository interface {
	ListRoles(ctx context.Context, schoolID *int64) ([]Role, error)
	GetRole(ctx context.Context, id int64) (Role, error)
	CreateRole(ctx context.Context, role Role) (Role, error)
	ReplaceRolePermissions(ctx context.Context, roleID int64, perms PermissionSet) error
	AssignRole(ctx context.Context, userID, roleID int64) error
	RemoveRole(ctx context.Context, userID, roleID int64) error
	UserRoles(ctx context.Context, userID int64) ([]Role, error)
	Principal(ctx context.Context, userID int64) (Principal, error)
}

// PGRepository implements Repository using PostgreSQL.
type PGRepository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a PostgreSQL repository.
func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

const roleColumns = `r.id, r.name, r.description, r.scope, r.school_id, r.created_at, r.updated_at`

// ListRoles returns system roles plus the roles of schoolID, ordered by name.
func (r *PGRepository) ListRoles(ctx context.Context, schoolID *int64) ([]Role, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+roleColumns+` FROM roles r
		WHERE r.scope = 'system' OR ($1::bigint IS NOT NULL AND r.school_id = $1)
		ORDER BY r.name`, schoolID)
	if err != nil {
		return nil, err
	}
	roles, err := scanRoles(rows)
	if err != nil {
		return nil, err
	}
	return r.attachPermissions(ctx, roles)
}

// GetRole fetches a role by ID together with its permissions.
func (r *PGRepository) GetRole(ctx context.Context, id int64) (Role, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+roleColumns+` FROM roles r WHERE r.id = $1`, id)
	if err != nil {
		return Role{}, err
	}
	roles, err := scanRoles(rows)
	if err != nil {
		return Role{}, err
	}
	if len(roles) == 0 {
		return Role{}, ErrNotFound
	}
	roles, err = r.attachPermissions(ctx, roles)
	if err != nil {
		return Role{}, err
	}
	return roles[0], nil
}

// CreateRole inserts the role and its permissions in one transaction.
func (r *PGRepository) CreateRole(ctx context.Context, role Role) (Role, error) {
	err := db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		row := tx.QueryRow(ctx, `INSERT INTO roles (name, description, scope, school_id)
			VALUES ($1, $2, $3, $4) RETURNING id, created_at, updated_at`,
			role.Name, role.Description, string(role.Scope), role.SchoolID)
		if err := row.Scan(&role.ID, &role.CreatedAt, &role.UpdatedAt); err != nil {
			return err
		}
		return insertPermissions(ctx, tx, role.ID, role.Permissions)
	})
	if err != nil {
		return Role{}, err
	}
	return role, nil
}

// ReplaceRolePermissions swaps the grants of a role.
func (r *PGRepository) ReplaceRolePermissions(ctx context.Context, roleID int64, perms PermissionSet) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `UPDATE roles SET updated_at = NOW() WHERE id = $1`, roleID)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return ErrNotFound
		}
		if _, err := tx.Exec(ctx, `DELETE FROM role_permissions WHERE role_id = $1`, roleID); err != nil {
			return err
		}
		return insertPermissions(ctx, tx, roleID, perms)
	})
}

// AssignRole assigns a role to the given user.
func (r *PGRepository) AssignRole(ctx context.Context, userID, roleID int64) error {
	_, err := r.pool.Exec(ctx, `INSERT INTO user_roles (user_id, role_id) VALUES ($1, $2) ON CONFLICT DO NOTHING`, userID, roleID)
	return err
}

// RemoveRole removes a role from a user.
func (r *PGRepository) RemoveRole(ctx context.Context, userID, roleID int64) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM user_roles WHERE user_id = $1 AND role_id = $2`, userID, roleID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// UserRoles returns every role assigned to the user.
func (r *PGRepository) UserRoles(ctx context.Context, userID int64) ([]Role, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+roleColumns+` FROM roles r
		JOIN user_roles ur ON ur.role_id = r.id
		WHERE ur.user_id = $1 ORDER BY r.id`, userID)
	if err != nil {
		return nil, err
	}
	roles, err := scanRoles(rows)
	if err != nil {
		return nil, err
	}
	return r.attachPermissions(ctx, roles)
}

// Principal loads the auth flags of a user.
func (r *PGRepository) Principal(ctx context.Context, userID int64) (Principal, error) {
	p := Principal{UserID: userID}
	err := r.pool.QueryRow(ctx, `SELECT school_id, is_super_admin, has_system_access FROM users WHERE id = $1 AND is_active`, userID).
		Scan(&p.SchoolID, &p.IsSuperAdmin, &p.HasSystemAccess)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Principal{}, ErrNotFound
		}
		return Principal{}, err
	}
	return p, nil
}

func (r *PGRepository) attachPermissions(ctx context.Context, roles []Role) ([]Role, error) {
	if len(roles) == 0 {
		return roles, nil
	}
	ids := make([]int64, len(roles))
	for i, role := range roles {
		ids[i] = role.ID
	}
	rows, err := r.pool.Query(ctx, `SELECT role_id, resource, action FROM role_permissions WHERE role_id = ANY($1)`, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	raw := make(map[int64]map[string][]string, len(roles))
	for rows.Next() {
		var (
			roleID           int64
			resource, action string
		)
		if err := rows.Scan(&roleID, &resource, &action); err != nil {
			return nil, err
		}
		if raw[roleID] == nil {
			raw[roleID] = make(map[string][]string)
		}
		raw[roleID][resource] = append(raw[roleID][resource], action)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i := range roles {
		perms, err := ParsePermissionSet(raw[roles[i].ID])
		if err != nil {
			return nil, fmt.Errorf("role %d: %w", roles[i].ID, err)
		}
		roles[i].Permissions = perms
	}
	return roles, nil
}

func scanRoles(rows pgx.Rows) ([]Role, error) {
	defer rows.Close()
	var roles []Role
	for rows.Next() {
		var (
			role  Role
			scope string
		)
		if err := rows.Scan(&role.ID, &role.Name, &role.Description, &scope, &role.SchoolID, &role.CreatedAt, &role.UpdatedAt); err != nil {
			return nil, err
		}
		role.Scope = Scope(scope)
		roles = append(roles, role)
	}
	return roles, rows.Err()
}

func insertPermissions(ctx context.Context, tx pgx.Tx, roleID int64, perms PermissionSet) error {
	batch := &pgx.Batch{}
	for _, resource := range perms.Resources() {
		for _, action := range perms.Actions(resource) {
			batch.Queue(`INSERT INTO role_permissions (role_id, resource, action) VALUES ($1, $2, $3)`, roleID, string(resource), string(action))
		}
	}
	if batch.Len() == 0 {
		return nil
	}
	return tx.SendBatch(ctx, batch).Close()
}

var _ Repository = (*PGRepository)(nil)

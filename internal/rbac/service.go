package rbac

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"golang.org/x/sync/singleflight"
)

// Service orchestrates RBAC operations.
type Service struct {
	repo   Repository
	cache  *Cache
	logger *slog.Logger
	group  singleflight.Group
}

// NewService constructs a Service. cache may be nil.
func NewService(repo Repository, cache *Cache, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, cache: cache, logger: logger}
}

// CreateRoleInput carries the fields for a new role.
type CreateRoleInput struct {
	Name        string
	Description string
	Scope       Scope
	SchoolID    *int64
	Permissions map[string][]string
}

// ListRoles returns system roles and the roles of schoolID.
func (s *Service) ListRoles(ctx context.Context, schoolID *int64) ([]Role, error) {
	return s.repo.ListRoles(ctx, schoolID)
}

// GetRole fetches a role visible to actor.
func (s *Service) GetRole(ctx context.Context, actor Subject, id int64) (Role, error) {
	role, err := s.repo.GetRole(ctx, id)
	if err != nil {
		return Role{}, err
	}
	if !actor.SeesRole(role) {
		return Role{}, fmt.Errorf("role %d: %w", id, ErrNotFound)
	}
	return role, nil
}

// managedRole fetches a role actor may change or grant.
func (s *Service) managedRole(ctx context.Context, actor Subject, id int64) (Role, error) {
	role, err := s.GetRole(ctx, actor, id)
	if err != nil {
		return Role{}, err
	}
	if !actor.ManagesRole(role) {
		return Role{}, fmt.Errorf("role %d: %w", id, ErrRoleOutOfReach)
	}
	return role, nil
}

// checkMember rejects target users outside the school of a school role.
// Operators may hand out any role to anyone.
func (s *Service) checkMember(ctx context.Context, actor Subject, userID int64, role Role) error {
	if actor.IsSuperAdmin || actor.HasSystemAccess || role.Scope != ScopeSchool {
		return nil
	}
	member, err := s.repo.Principal(ctx, userID)
	if err != nil {
		return fmt.Errorf("user %d: %w", userID, err)
	}
	if member.SchoolID == nil || *member.SchoolID != *role.SchoolID {
		return fmt.Errorf("user %d: %w", userID, ErrNotFound)
	}
	return nil
}

// CreateRole validates and inserts a new role.
func (s *Service) CreateRole(ctx context.Context, input CreateRoleInput) (Role, error) {
	name := strings.TrimSpace(input.Name)
	if name == "" {
		return Role{}, ErrRoleNameRequired
	}
	perms, err := ParsePermissionSet(input.Permissions)
	if err != nil {
		return Role{}, err
	}
	role := Role{
		Name:        name,
		Description: strings.TrimSpace(input.Description),
		Scope:       input.Scope,
		SchoolID:    input.SchoolID,
		Permissions: perms,
	}
	if err := role.Validate(); err != nil {
		return Role{}, err
	}
	created, err := s.repo.CreateRole(ctx, role)
	if err != nil {
		return Role{}, err
	}
	s.invalidate(ctx)
	return created, nil
}

// SetRolePermissions replaces the grants of a role actor manages.
func (s *Service) SetRolePermissions(ctx context.Context, actor Subject, roleID int64, raw map[string][]string) (PermissionSet, error) {
	perms, err := ParsePermissionSet(raw)
	if err != nil {
		return PermissionSet{}, err
	}
	if _, err := s.managedRole(ctx, actor, roleID); err != nil {
		return PermissionSet{}, err
	}
	if err := s.repo.ReplaceRolePermissions(ctx, roleID, perms); err != nil {
		return PermissionSet{}, err
	}
	s.invalidate(ctx)
	return perms, nil
}

// AssignRole grants a role actor manages to the given user.
func (s *Service) AssignRole(ctx context.Context, actor Subject, userID, roleID int64) error {
	role, err := s.managedRole(ctx, actor, roleID)
	if err != nil {
		return err
	}
	if err := s.checkMember(ctx, actor, userID, role); err != nil {
		return err
	}
	if err := s.repo.AssignRole(ctx, userID, roleID); err != nil {
		return err
	}
	s.invalidate(ctx)
	return nil
}

// RemoveRole takes a role actor manages away from a user.
func (s *Service) RemoveRole(ctx context.Context, actor Subject, userID, roleID int64) error {
	role, err := s.managedRole(ctx, actor, roleID)
	if err != nil {
		return err
	}
	if err := s.checkMember(ctx, actor, userID, role); err != nil {
		return err
	}
	if err := s.repo.RemoveRole(ctx, userID, roleID); err != nil {
		return err
	}
	s.invalidate(ctx)
	return nil
}

// Subject resolves the evaluation context of userID acting in schoolID. When
// schoolID is nil the user's home school is used. Results are cached for the
// configured TTL and concurrent loads for the same key are coalesced.
func (s *Service) Subject(ctx context.Context, userID int64, schoolID *int64) (Subject, error) {
	key, err := s.cache.SubjectKey(ctx, userID, schoolID)
	if err != nil {
		s.logger.Warn("rbac cache version", slog.Any("error", err))
		return s.loadSubject(ctx, userID, schoolID)
	}
	res, err, _ := s.group.Do(key, func() (interface{}, error) {
		subject, err := s.cache.FetchSubject(ctx, key, func(ctx context.Context) (Subject, error) {
			return s.loadSubject(ctx, userID, schoolID)
		})
		if errors.Is(err, ErrCacheStore) {
			s.logger.Warn("rbac cache store", slog.Int64("user_id", userID), slog.Any("error", err))
			return subject, nil
		}
		return subject, err
	})
	if err != nil {
		return Subject{}, err
	}
	return res.(Subject), nil
}

// InvalidateCache drops every cached subject.
func (s *Service) InvalidateCache(ctx context.Context) error {
	return s.cache.Bump(ctx)
}

func (s *Service) loadSubject(ctx context.Context, userID int64, schoolID *int64) (Subject, error) {
	principal, err := s.repo.Principal(ctx, userID)
	if err != nil {
		return Subject{}, fmt.Errorf("rbac: load principal %d: %w", userID, err)
	}
	if schoolID != nil {
		principal.SchoolID = schoolID
	}
	roles, err := s.repo.UserRoles(ctx, userID)
	if err != nil {
		return Subject{}, fmt.Errorf("rbac: load roles: %w", err)
	}
	return NewSubject(principal, roles), nil
}

func (s *Service) invalidate(ctx context.Context) {
	if err := s.cache.Bump(ctx); err != nil {
		s.logger.Warn("rbac cache bump", slog.Any("error", err))
	}
}

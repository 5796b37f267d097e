package rbac

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrNotFound indicates that the requested record does not exist.
	ErrNotFound = errors.New("rbac: not found")
	// ErrUnknownAction is returned when a permission names an action outside the vocabulary.
	ErrUnknownAction = errors.New("rbac: unknown action")
	// ErrInvalidScope is returned for roles whose scope and school binding disagree.
	ErrInvalidScope = errors.New("rbac: invalid role scope")
	// ErrEmptyResource is returned when a permission entry has no resource key.
	ErrEmptyResource = errors.New("rbac: empty resource")
	// ErrRoleNameRequired is returned when creating a role without a name.
	ErrRoleNameRequired = errors.New("rbac: role name required")
	// ErrRoleOutOfReach is returned when the caller may see a role but not change or grant it.
	ErrRoleOutOfReach = errors.New("rbac: role outside caller scope")
)

// Action is an operation on a resource.
type Action string

// Action vocabulary. Anything else is rejected by ParseAction.
const (
	ActionView   Action = "view"
	ActionCreate Action = "create"
	ActionEdit   Action = "edit"
	ActionDelete Action = "delete"
	ActionExport Action = "export"
)

// Actions lists the full action vocabulary in display order.
func Actions() []Action {
	return []Action{ActionView, ActionCreate, ActionEdit, ActionDelete, ActionExport}
}

// ParseAction validates raw against the vocabulary. An empty string means view.
func ParseAction(raw string) (Action, error) {
	switch a := Action(raw); a {
	case "":
		return ActionView, nil
	case ActionView, ActionCreate, ActionEdit, ActionDelete, ActionExport:
		return a, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownAction, raw)
	}
}

// Resource names an entity class subject to access control.
type Resource string

// Known resources.
const (
	ResourceUsers        Resource = "users"
	ResourceRoles        Resource = "roles"
	ResourceSchools      Resource = "schools"
	ResourceSchoolYears  Resource = "school_years"
	ResourceGrades       Resource = "grades"
	ResourceSubjects     Resource = "subjects"
	ResourceSeries       Resource = "series"
	ResourceCoefficients Resource = "coefficients"
	ResourceStudents     Resource = "students"
	ResourceTeachers     Resource = "teachers"
	ResourceClasses      Resource = "classes"
	ResourceAttendance   Resource = "attendance"
	ResourceNotes        Resource = "notes"
	ResourceTimetable    Resource = "timetable"
	ResourceReports      Resource = "reports"
)

// Scope tells whether a role applies to one school or to the whole platform.
type Scope string

const (
	ScopeSchool Scope = "school"
	ScopeSystem Scope = "system"
)

// Role is a named bundle of permissions.
type Role struct {
	ID          int64
	Name        string
	Description string
	Scope       Scope
	// SchoolID is set for school-scoped roles only.
	SchoolID    *int64
	Permissions PermissionSet
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Validate checks the scope binding of the role.
func (r Role) Validate() error {
	switch r.Scope {
	case ScopeSystem:
		if r.SchoolID != nil {
			return fmt.Errorf("%w: system role %q bound to a school", ErrInvalidScope, r.Name)
		}
	case ScopeSchool:
		if r.SchoolID == nil {
			return fmt.Errorf("%w: school role %q without school", ErrInvalidScope, r.Name)
		}
	default:
		return fmt.Errorf("%w: %q", ErrInvalidScope, r.Scope)
	}
	return nil
}

// UserRole links a user to a role.
type UserRole struct {
	UserID    int64
	RoleID    int64
	CreatedAt time.Time
}

// Principal describes the authenticated actor as seen by the auth provider.
type Principal struct {
	UserID          int64
	SchoolID        *int64
	IsSuperAdmin    bool
	HasSystemAccess bool
}

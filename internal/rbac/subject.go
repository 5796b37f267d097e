package rbac

// Subject is the explicit evaluation context for permission checks: who is
// asking, in which school, and what they were granted.
type Subject struct {
	UserID          int64         `json:"user_id"`
	SchoolID        *int64        `json:"school_id,omitempty"`
	IsSuperAdmin    bool          `json:"is_super_admin"`
	HasSystemAccess bool          `json:"has_system_access"`
	Permissions     PermissionSet `json:"permissions"`
}

// Can reports whether the subject may perform action on resource. Super
// admins bypass the permission set entirely.
func (s Subject) Can(resource Resource, action Action) bool {
	if s.IsSuperAdmin {
		return true
	}
	return s.Permissions.Can(resource, action)
}

// CanAny is the OR of Can over actions.
func (s Subject) CanAny(resource Resource, actions ...Action) bool {
	if s.IsSuperAdmin {
		return true
	}
	return s.Permissions.CanAny(resource, actions...)
}

// CanAll is the AND of Can over actions.
func (s Subject) CanAll(resource Resource, actions ...Action) bool {
	if s.IsSuperAdmin {
		return true
	}
	return s.Permissions.CanAll(resource, actions...)
}

// SeesRole reports whether role is visible from the subject's active school.
// Other schools' roles do not exist for a school user.
func (s Subject) SeesRole(role Role) bool {
	if s.IsSuperAdmin {
		return true
	}
	return roleApplies(role, s.SchoolID)
}

// ManagesRole reports whether the subject may change role or grant it to
// someone. System roles need system access.
func (s Subject) ManagesRole(role Role) bool {
	if s.IsSuperAdmin {
		return true
	}
	if role.Scope == ScopeSystem {
		return s.HasSystemAccess
	}
	return roleApplies(role, s.SchoolID)
}

// EffectivePermissions unions the permissions of every role that applies in
// schoolID. System roles always apply; school roles only in their own school.
func EffectivePermissions(roles []Role, schoolID *int64) PermissionSet {
	sets := make([]PermissionSet, 0, len(roles))
	for _, role := range roles {
		if !roleApplies(role, schoolID) {
			continue
		}
		sets = append(sets, role.Permissions)
	}
	return Union(sets...)
}

func roleApplies(role Role, schoolID *int64) bool {
	switch role.Scope {
	case ScopeSystem:
		return true
	case ScopeSchool:
		return role.SchoolID != nil && schoolID != nil && *role.SchoolID == *schoolID
	default:
		return false
	}
}

// NewSubject builds the evaluation context for principal from its assigned roles.
func NewSubject(principal Principal, roles []Role) Subject {
	return Subject{
		UserID:          principal.UserID,
		SchoolID:        principal.SchoolID,
		IsSuperAdmin:    principal.IsSuperAdmin,
		HasSystemAccess: principal.HasSystemAccess,
		Permissions:     EffectivePermissions(roles, principal.SchoolID),
	}
}

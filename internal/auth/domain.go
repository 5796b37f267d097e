package auth

import (
	"errors"
	"time"
)

// ErrUserNotFound is returned when no account matches the email.
var ErrUserNotFound = errors.New("auth: user not found")

// User represents an authenticated user account.
type User struct {
	ID              int64
	Email           string
	PasswordHash    string
	IsActive        bool
	IsSuperAdmin    bool
	HasSystemAccess bool
	// SchoolID is the home school; nil for platform operators.
	SchoolID  *int64
	CreatedAt time.Time
	UpdatedAt time.Time
}

// ActiveSchool picks the school a login works in. Platform operators may
// choose any school; everyone else is pinned to their home school.
func (u User) ActiveSchool(requested *int64) *int64 {
	if requested != nil && (u.IsSuperAdmin || u.HasSystemAccess) {
		return requested
	}
	return u.SchoolID
}

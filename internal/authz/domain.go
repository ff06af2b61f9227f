package authz

import (
	"errors"
	"strings"
	"time"
)

// ErrNotFound indicates that the requested record does not exist.
var ErrNotFound = errors.New("authz: not found")

// Access is one leg of a grant row: the row either grants its permission or
// explicitly denies it. Absence of a row is the third state.
type Access string

const (
	AccessGrant Access = "grant"
	AccessDeny  Access = "deny"
)

// ParseAccess converts the stored text form into an Access value.
func ParseAccess(value string) (Access, error) {
	switch Access(strings.ToLower(strings.TrimSpace(value))) {
	case AccessGrant:
		return AccessGrant, nil
	case AccessDeny:
		return AccessDeny, nil
	}
	return "", errors.New("authz: invalid access value " + value)
}

// DateWindow bounds a grant to an optional start and end date. A nil bound is
// open on that side.
type DateWindow struct {
	StartsOn *time.Time
	EndsOn   *time.Time
}

// ActiveAt reports whether the window contains the instant t. This is the
// single activity predicate for both role and permission resolution.
func (w DateWindow) ActiveAt(t time.Time) bool {
	if w.StartsOn != nil && w.StartsOn.After(t) {
		return false
	}
	if w.EndsOn != nil && w.EndsOn.Before(t) {
		return false
	}
	return true
}

// Equal reports whether both windows have the same bounds.
func (w DateWindow) Equal(other DateWindow) bool {
	return boundEqual(w.StartsOn, other.StartsOn) && boundEqual(w.EndsOn, other.EndsOn)
}

func boundEqual(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.Equal(*b)
}

// Role represents a named capability bundle.
type Role struct {
	ID          int64
	Name        string
	DisplayName string
	// ViewName names the external population list that auto-manages
	// membership. Empty for manually managed roles.
	ViewName string
	// AllowAll marks a role implicitly held by every principal.
	AllowAll bool
	// Application marks a role that administratively controls other roles.
	Application bool
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Permission represents an atomic named capability.
type Permission struct {
	ID          int64
	Name        string
	Description string
}

// RoleMembership grants a role to a principal, optionally date-bounded.
// At most one row exists per (role, principal) pair.
type RoleMembership struct {
	ID        int64
	RoleID    int64
	Principal string
	Window    DateWindow
	// ViewName records which view created the row. Empty for manual grants.
	ViewName  string
	CreatedAt time.Time
}

// RolePermission links a permission to a role with a grant or deny leg.
type RolePermission struct {
	RoleID       int64
	PermissionID int64
	Access       Access
}

// MemberPermission grants or denies a permission directly to a principal.
type MemberPermission struct {
	ID           int64
	Principal    string
	PermissionID int64
	Access       Access
	Window       DateWindow
}

// NormalizePermission folds a permission name for case-insensitive comparison.
func NormalizePermission(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

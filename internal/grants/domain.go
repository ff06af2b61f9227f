package grants

import (
	"github.com/meridian-edu/authcore/internal/authz"
)

// CreateRoleInput describes a new role.
type CreateRoleInput struct {
	Name        string `validate:"required,min=2,max=120"`
	DisplayName string `validate:"max=200"`
	ViewName    string `validate:"max=120"`
	AllowAll    bool
	Application bool
}

// UpdateRoleInput carries editable role attributes.
type UpdateRoleInput struct {
	Name        string `validate:"required,min=2,max=120"`
	DisplayName string `validate:"max=200"`
	ViewName    string `validate:"max=120"`
	AllowAll    bool
	Application bool
}

// CreatePermissionInput describes a new permission.
type CreatePermissionInput struct {
	Name        string `validate:"required,min=2,max=200"`
	Description string `validate:"max=500"`
}

// GrantMembershipInput grants a role to a principal, optionally date-bounded.
type GrantMembershipInput struct {
	RoleID    int64  `validate:"required"`
	Principal string `validate:"required"`
	Window    authz.DateWindow
	// ViewName tags memberships created by view reconciliation. Manual
	// grants leave it empty.
	ViewName string
	Comment  string `validate:"max=500"`
}

// UpdateMembershipInput rewrites the date window of an existing membership.
type UpdateMembershipInput struct {
	RoleID    int64  `validate:"required"`
	Principal string `validate:"required"`
	Window    authz.DateWindow
	Comment   string `validate:"max=500"`
}

// RevokeMembershipInput removes a membership row.
type RevokeMembershipInput struct {
	RoleID    int64  `validate:"required"`
	Principal string `validate:"required"`
	Comment   string `validate:"max=500"`
}

// SetRolePermissionInput links a permission to a role with an access leg.
type SetRolePermissionInput struct {
	RoleID       int64        `validate:"required"`
	PermissionID int64        `validate:"required"`
	Access       authz.Access `validate:"required"`
	Comment      string       `validate:"max=500"`
}

// RemoveRolePermissionInput unlinks a permission from a role.
type RemoveRolePermissionInput struct {
	RoleID       int64  `validate:"required"`
	PermissionID int64  `validate:"required"`
	Comment      string `validate:"max=500"`
}

// MemberPermissionInput grants or denies a permission directly to a principal.
type MemberPermissionInput struct {
	Principal    string       `validate:"required"`
	PermissionID int64        `validate:"required"`
	Access       authz.Access `validate:"required"`
	Window       authz.DateWindow
	Comment      string `validate:"max=500"`
}

// RevokeMemberPermissionInput removes a direct permission row.
type RevokeMemberPermissionInput struct {
	Principal    string `validate:"required"`
	PermissionID int64  `validate:"required"`
	Comment      string `validate:"max=500"`
}

package clone

import (
	"github.com/meridian-edu/authcore/internal/authz"
)

// Action is a machine-applyable change-set instruction.
type Action string

const (
	// ActionCreate inserts the row on the target with the source's dates.
	ActionCreate Action = "create"
	// ActionUpdate overwrites the target row's dates from the source.
	ActionUpdate Action = "update"
	// ActionDelete removes the target row.
	ActionDelete Action = "delete"
	// ActionReverse overwrites the target row's access leg from the source.
	ActionReverse Action = "reverse"
	// ActionUpdateReverse overwrites both dates and access leg.
	ActionUpdateReverse Action = "update+reverse"
)

// RoleChange aligns one role membership of the target with the source.
type RoleChange struct {
	RoleID int64            `json:"role_id"`
	Role   string           `json:"role"`
	Action Action           `json:"action"`
	Window authz.DateWindow `json:"window"`
}

// PermissionChange aligns one direct permission row of the target with the
// source. Warning marks an access-leg reversal combined with a date change,
// which can silently turn a grant into a deny.
type PermissionChange struct {
	PermissionID int64            `json:"permission_id"`
	Permission   string           `json:"permission"`
	Action       Action           `json:"action"`
	Access       authz.Access     `json:"access"`
	Window       authz.DateWindow `json:"window"`
	Warning      bool             `json:"warning,omitempty"`
}

// ChangeSet is the advisory diff between two principals' grants inside one
// instance. Producing it never writes; applying it is a separate operation.
type ChangeSet struct {
	Instance            string             `json:"instance"`
	Source              string             `json:"source"`
	Target              string             `json:"target"`
	Roles               []RoleChange       `json:"roles"`
	Permissions         []PermissionChange `json:"permissions"`
	PermissionsCompared bool               `json:"permissions_compared"`
}

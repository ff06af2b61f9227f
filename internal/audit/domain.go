package audit

import "time"

// Mutation kinds recorded in the trail.
const (
	KindCreate = "create"
	KindUpdate = "update"
	KindDelete = "delete"
)

// Entities whose mutations are audited.
const (
	EntityRole             = "role"
	EntityPermission       = "permission"
	EntityRoleMembership   = "role_membership"
	EntityRolePermission   = "role_permission"
	EntityMemberPermission = "member_permission"
)

// Entry is one immutable audit record. Rows are written once, in the same
// transaction as the mutation they document, and never updated or deleted.
type Entry struct {
	ID       int64
	At       time.Time
	Actor    string
	Kind     string
	Entity   string
	EntityID string
	// Meta carries the structured detail payload: dates, access flag,
	// view-name provenance, free-text comment. Enough to reconstruct what
	// changed without diffing full row snapshots.
	Meta map[string]any
}

// TimelineFilters narrows a timeline query.
type TimelineFilters struct {
	From     time.Time
	To       time.Time
	Actor    string
	Entity   string
	Kind     string
	Page     int
	PageSize int
}

// PagingInfo reports cursorless page navigation state.
type PagingInfo struct {
	Page     int
	PageSize int
	HasNext  bool
	PrevPage int
	NextPage int
}

// Result wraps timeline rows with paging information.
type Result struct {
	Rows   []Entry
	Paging PagingInfo
}

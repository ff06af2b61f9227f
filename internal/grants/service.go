package grants

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/meridian-edu/authcore/internal/audit"
	"github.com/meridian-edu/authcore/internal/authz"
	"github.com/meridian-edu/authcore/internal/platform/db"
	"github.com/meridian-edu/authcore/internal/shared"
)

// Store is the persistence surface for grant mutations.
type Store interface {
	ListRoles(ctx context.Context) ([]authz.Role, error)
	GetRole(ctx context.Context, id int64) (authz.Role, error)
	InsertRole(ctx context.Context, tx pgx.Tx, in CreateRoleInput) (authz.Role, error)
	UpdateRole(ctx context.Context, tx pgx.Tx, id int64, in UpdateRoleInput) (authz.Role, error)
	DeleteRole(ctx context.Context, tx pgx.Tx, id int64) error

	ListPermissions(ctx context.Context) ([]authz.Permission, error)
	GetPermission(ctx context.Context, id int64) (authz.Permission, error)
	InsertPermission(ctx context.Context, tx pgx.Tx, in CreatePermissionInput) (authz.Permission, error)
	UpdatePermission(ctx context.Context, tx pgx.Tx, id int64, in CreatePermissionInput) (authz.Permission, error)
	DeletePermission(ctx context.Context, tx pgx.Tx, id int64) error

	Membership(ctx context.Context, roleID int64, principal string) (authz.RoleMembership, error)
	MembershipPrincipals(ctx context.Context, roleID int64) ([]string, error)
	InsertMembership(ctx context.Context, tx pgx.Tx, in GrantMembershipInput) (authz.RoleMembership, error)
	UpdateMembershipWindow(ctx context.Context, tx pgx.Tx, roleID int64, principal string, window authz.DateWindow) (authz.RoleMembership, error)
	DeleteMembership(ctx context.Context, tx pgx.Tx, roleID int64, principal string) (authz.RoleMembership, error)

	RolePermission(ctx context.Context, roleID, permissionID int64) (authz.RolePermission, error)
	InsertRolePermission(ctx context.Context, tx pgx.Tx, in SetRolePermissionInput) error
	UpdateRolePermissionAccess(ctx context.Context, tx pgx.Tx, in SetRolePermissionInput) error
	DeleteRolePermission(ctx context.Context, tx pgx.Tx, roleID, permissionID int64) error

	MemberPermission(ctx context.Context, principal string, permissionID int64) (authz.MemberPermission, error)
	InsertMemberPermission(ctx context.Context, tx pgx.Tx, in MemberPermissionInput) error
	UpdateMemberPermission(ctx context.Context, tx pgx.Tx, in MemberPermissionInput) error
	DeleteMemberPermission(ctx context.Context, tx pgx.Tx, principal string, permissionID int64) error

	ControlledRoles(ctx context.Context, appRoleID int64) ([]authz.Role, error)
	SetControlledRoles(ctx context.Context, tx pgx.Tx, appRoleID int64, roleIDs []int64) error
	ControlsRole(ctx context.Context, principal string, roleID int64, at time.Time) (bool, error)
}

// Auditor writes trail entries inside the mutation transaction.
type Auditor interface {
	Record(ctx context.Context, tx pgx.Tx, entry audit.Entry) error
}

// Invalidator evicts resolution cache entries.
type Invalidator interface {
	Invalidate(ctx context.Context, principal string) error
	Bump(ctx context.Context) error
}

// Resolver answers capability checks for the acting principal.
type Resolver interface {
	HasPermission(ctx context.Context, principal, permission string) (bool, error)
}

// Service orchestrates grant mutations. Every mutation runs as one atomic
// unit: grant-store write and audit entry commit or roll back together, and
// the resolution cache is evicted after the commit so a concurrent miss can
// never repopulate from pre-commit state. Authorization-denied requests
// never reach the store.
type Service struct {
	runner   db.Runner
	store    Store
	audit    Auditor
	cache    Invalidator
	resolver Resolver
	logger   *slog.Logger
}

// NewService constructs a Service.
func NewService(runner db.Runner, store Store, auditor Auditor, cache Invalidator, resolver Resolver, logger *slog.Logger) *Service {
	return &Service{runner: runner, store: store, audit: auditor, cache: cache, resolver: resolver, logger: logger}
}

// requireCapability resolves the acting principal and checks one capability.
// Resolution failures read as denied, never as granted.
func (s *Service) requireCapability(ctx context.Context, capability string) (string, error) {
	actor := shared.ActorFromContext(ctx)
	if actor == "" {
		return "", fmt.Errorf("grants: no acting principal: %w", shared.ErrDenied)
	}
	allowed, err := s.resolver.HasPermission(ctx, actor, capability)
	if err != nil {
		if s.logger != nil {
			s.logger.Error("capability check", slog.String("actor", actor), slog.Any("error", err))
		}
		return "", fmt.Errorf("grants: capability check failed: %w", shared.ErrDenied)
	}
	if !allowed {
		return "", fmt.Errorf("grants: %s required: %w", capability, shared.ErrDenied)
	}
	return actor, nil
}

// requireRoleManager allows either the grants.edit capability or membership
// in an application role that controls the target role (delegated
// administration over a bounded role subset).
func (s *Service) requireRoleManager(ctx context.Context, roleID int64) (string, error) {
	actor, err := s.requireCapability(ctx, shared.PermGrantsEdit)
	if err == nil {
		return actor, nil
	}
	actor = shared.ActorFromContext(ctx)
	if actor == "" {
		return "", err
	}
	controls, ctrlErr := s.store.ControlsRole(ctx, actor, roleID, time.Now())
	if ctrlErr != nil || !controls {
		return "", err
	}
	return actor, nil
}

// --- roles ---

// ListRoles returns all roles.
func (s *Service) ListRoles(ctx context.Context) ([]authz.Role, error) {
	return s.store.ListRoles(ctx)
}

// GetRole fetches one role.
func (s *Service) GetRole(ctx context.Context, id int64) (authz.Role, error) {
	return s.store.GetRole(ctx, id)
}

// CreateRole inserts a new role.
func (s *Service) CreateRole(ctx context.Context, in CreateRoleInput) (authz.Role, error) {
	actor, err := s.requireCapability(ctx, shared.PermRolesEdit)
	if err != nil {
		return authz.Role{}, err
	}
	in.Name = strings.TrimSpace(in.Name)
	if in.Name == "" {
		return authz.Role{}, fmt.Errorf("grants: role name required: %w", shared.ErrValidation)
	}
	var created authz.Role
	err = s.runner.RunTx(ctx, func(tx pgx.Tx) error {
		role, err := s.store.InsertRole(ctx, tx, in)
		if err != nil {
			return err
		}
		created = role
		meta := map[string]any{"name": role.Name}
		if role.ViewName != "" {
			meta["view"] = role.ViewName
		}
		return s.audit.Record(ctx, tx, audit.Entry{
			Actor:    actor,
			Kind:     audit.KindCreate,
			Entity:   audit.EntityRole,
			EntityID: strconv.FormatInt(role.ID, 10),
			Meta:     meta,
		})
	})
	if err != nil {
		return authz.Role{}, err
	}
	// An allow-all role is held by everyone the moment it exists, so every
	// cached role list is stale.
	if created.AllowAll {
		if err := s.cache.Bump(ctx); err != nil {
			return authz.Role{}, err
		}
	}
	return created, nil
}

// UpdateRole rewrites role attributes. Identity changes can affect every
// member's resolution, so the whole cache generation is advanced.
func (s *Service) UpdateRole(ctx context.Context, id int64, in UpdateRoleInput) (authz.Role, error) {
	actor, err := s.requireCapability(ctx, shared.PermRolesEdit)
	if err != nil {
		return authz.Role{}, err
	}
	in.Name = strings.TrimSpace(in.Name)
	if in.Name == "" {
		return authz.Role{}, fmt.Errorf("grants: role name required: %w", shared.ErrValidation)
	}
	var updated authz.Role
	err = s.runner.RunTx(ctx, func(tx pgx.Tx) error {
		role, err := s.store.UpdateRole(ctx, tx, id, in)
		if err != nil {
			return err
		}
		updated = role
		return s.audit.Record(ctx, tx, audit.Entry{
			Actor:    actor,
			Kind:     audit.KindUpdate,
			Entity:   audit.EntityRole,
			EntityID: strconv.FormatInt(role.ID, 10),
			Meta:     map[string]any{"name": role.Name, "allow_all": role.AllowAll},
		})
	})
	if err != nil {
		return authz.Role{}, err
	}
	if err := s.cache.Bump(ctx); err != nil {
		return authz.Role{}, err
	}
	return updated, nil
}

// DeleteRole removes a role and every grant hanging off it.
func (s *Service) DeleteRole(ctx context.Context, id int64) error {
	actor, err := s.requireCapability(ctx, shared.PermRolesEdit)
	if err != nil {
		return err
	}
	role, err := s.store.GetRole(ctx, id)
	if err != nil {
		return err
	}
	err = s.runner.RunTx(ctx, func(tx pgx.Tx) error {
		if err := s.store.DeleteRole(ctx, tx, id); err != nil {
			return err
		}
		return s.audit.Record(ctx, tx, audit.Entry{
			Actor:    actor,
			Kind:     audit.KindDelete,
			Entity:   audit.EntityRole,
			EntityID: strconv.FormatInt(id, 10),
			Meta:     map[string]any{"name": role.Name},
		})
	})
	if err != nil {
		return err
	}
	return s.cache.Bump(ctx)
}

// --- permissions ---

// ListPermissions returns all permissions.
func (s *Service) ListPermissions(ctx context.Context) ([]authz.Permission, error) {
	return s.store.ListPermissions(ctx)
}

// CreatePermission inserts a new permission.
func (s *Service) CreatePermission(ctx context.Context, in CreatePermissionInput) (authz.Permission, error) {
	actor, err := s.requireCapability(ctx, shared.PermPermissionsEdit)
	if err != nil {
		return authz.Permission{}, err
	}
	in.Name = strings.TrimSpace(in.Name)
	if in.Name == "" {
		return authz.Permission{}, fmt.Errorf("grants: permission name required: %w", shared.ErrValidation)
	}
	var created authz.Permission
	err = s.runner.RunTx(ctx, func(tx pgx.Tx) error {
		perm, err := s.store.InsertPermission(ctx, tx, in)
		if err != nil {
			return err
		}
		created = perm
		return s.audit.Record(ctx, tx, audit.Entry{
			Actor:    actor,
			Kind:     audit.KindCreate,
			Entity:   audit.EntityPermission,
			EntityID: strconv.FormatInt(perm.ID, 10),
			Meta:     map[string]any{"name": perm.Name},
		})
	})
	if err != nil {
		return authz.Permission{}, err
	}
	return created, nil
}

// UpdatePermission rewrites a permission; renames ripple through every
// cached list, so the cache generation advances.
func (s *Service) UpdatePermission(ctx context.Context, id int64, in CreatePermissionInput) (authz.Permission, error) {
	actor, err := s.requireCapability(ctx, shared.PermPermissionsEdit)
	if err != nil {
		return authz.Permission{}, err
	}
	var updated authz.Permission
	err = s.runner.RunTx(ctx, func(tx pgx.Tx) error {
		perm, err := s.store.UpdatePermission(ctx, tx, id, in)
		if err != nil {
			return err
		}
		updated = perm
		return s.audit.Record(ctx, tx, audit.Entry{
			Actor:    actor,
			Kind:     audit.KindUpdate,
			Entity:   audit.EntityPermission,
			EntityID: strconv.FormatInt(perm.ID, 10),
			Meta:     map[string]any{"name": perm.Name},
		})
	})
	if err != nil {
		return authz.Permission{}, err
	}
	if err := s.cache.Bump(ctx); err != nil {
		return authz.Permission{}, err
	}
	return updated, nil
}

// DeletePermission removes a permission and its dependent grants.
func (s *Service) DeletePermission(ctx context.Context, id int64) error {
	actor, err := s.requireCapability(ctx, shared.PermPermissionsEdit)
	if err != nil {
		return err
	}
	perm, err := s.store.GetPermission(ctx, id)
	if err != nil {
		return err
	}
	err = s.runner.RunTx(ctx, func(tx pgx.Tx) error {
		if err := s.store.DeletePermission(ctx, tx, id); err != nil {
			return err
		}
		return s.audit.Record(ctx, tx, audit.Entry{
			Actor:    actor,
			Kind:     audit.KindDelete,
			Entity:   audit.EntityPermission,
			EntityID: strconv.FormatInt(id, 10),
			Meta:     map[string]any{"name": perm.Name},
		})
	})
	if err != nil {
		return err
	}
	return s.cache.Bump(ctx)
}

// --- role memberships ---

// GetMembership fetches the membership row for a (role, principal) pair.
func (s *Service) GetMembership(ctx context.Context, roleID int64, principal string) (authz.RoleMembership, error) {
	return s.store.Membership(ctx, roleID, principal)
}

// GrantMembership adds a principal to a role, optionally date-bounded.
func (s *Service) GrantMembership(ctx context.Context, in GrantMembershipInput) (authz.RoleMembership, error) {
	actor, err := s.requireRoleManager(ctx, in.RoleID)
	if err != nil {
		return authz.RoleMembership{}, err
	}
	var created authz.RoleMembership
	err = s.runner.RunTx(ctx, func(tx pgx.Tx) error {
		m, err := s.store.InsertMembership(ctx, tx, in)
		if err != nil {
			return err
		}
		created = m
		meta := membershipMeta(m)
		if in.Comment != "" {
			meta["comment"] = in.Comment
		}
		return s.audit.Record(ctx, tx, audit.Entry{
			Actor:    actor,
			Kind:     audit.KindCreate,
			Entity:   audit.EntityRoleMembership,
			EntityID: strconv.FormatInt(m.ID, 10),
			Meta:     meta,
		})
	})
	if err != nil {
		return authz.RoleMembership{}, err
	}
	if err := s.cache.Invalidate(ctx, in.Principal); err != nil {
		return authz.RoleMembership{}, err
	}
	return created, nil
}

// UpdateMembership rewrites a membership's date window.
func (s *Service) UpdateMembership(ctx context.Context, in UpdateMembershipInput) (authz.RoleMembership, error) {
	actor, err := s.requireRoleManager(ctx, in.RoleID)
	if err != nil {
		return authz.RoleMembership{}, err
	}
	var updated authz.RoleMembership
	err = s.runner.RunTx(ctx, func(tx pgx.Tx) error {
		m, err := s.store.UpdateMembershipWindow(ctx, tx, in.RoleID, in.Principal, in.Window)
		if err != nil {
			return err
		}
		updated = m
		meta := membershipMeta(m)
		if in.Comment != "" {
			meta["comment"] = in.Comment
		}
		return s.audit.Record(ctx, tx, audit.Entry{
			Actor:    actor,
			Kind:     audit.KindUpdate,
			Entity:   audit.EntityRoleMembership,
			EntityID: strconv.FormatInt(m.ID, 10),
			Meta:     meta,
		})
	})
	if err != nil {
		return authz.RoleMembership{}, err
	}
	if err := s.cache.Invalidate(ctx, in.Principal); err != nil {
		return authz.RoleMembership{}, err
	}
	return updated, nil
}

// RevokeMembership removes a principal from a role.
func (s *Service) RevokeMembership(ctx context.Context, in RevokeMembershipInput) error {
	actor, err := s.requireRoleManager(ctx, in.RoleID)
	if err != nil {
		return err
	}
	err = s.runner.RunTx(ctx, func(tx pgx.Tx) error {
		m, err := s.store.DeleteMembership(ctx, tx, in.RoleID, in.Principal)
		if err != nil {
			return err
		}
		meta := membershipMeta(m)
		if in.Comment != "" {
			meta["comment"] = in.Comment
		}
		return s.audit.Record(ctx, tx, audit.Entry{
			Actor:    actor,
			Kind:     audit.KindDelete,
			Entity:   audit.EntityRoleMembership,
			EntityID: strconv.FormatInt(m.ID, 10),
			Meta:     meta,
		})
	})
	if err != nil {
		return err
	}
	return s.cache.Invalidate(ctx, in.Principal)
}

// --- role permissions ---

// SetRolePermission links a permission to a role. An existing link is a
// constraint violation, not an overwrite.
func (s *Service) SetRolePermission(ctx context.Context, in SetRolePermissionInput) error {
	actor, err := s.requireCapability(ctx, shared.PermGrantsEdit)
	if err != nil {
		return err
	}
	role, err := s.store.GetRole(ctx, in.RoleID)
	if err != nil {
		return err
	}
	err = s.runner.RunTx(ctx, func(tx pgx.Tx) error {
		if err := s.store.InsertRolePermission(ctx, tx, in); err != nil {
			return err
		}
		return s.audit.Record(ctx, tx, audit.Entry{
			Actor:    actor,
			Kind:     audit.KindCreate,
			Entity:   audit.EntityRolePermission,
			EntityID: rolePermissionID(in.RoleID, in.PermissionID),
			Meta:     rolePermissionMeta(in),
		})
	})
	if err != nil {
		return err
	}
	return s.invalidateRoleMembers(ctx, role)
}

// UpdateRolePermission flips the access leg of an existing link.
func (s *Service) UpdateRolePermission(ctx context.Context, in SetRolePermissionInput) error {
	actor, err := s.requireCapability(ctx, shared.PermGrantsEdit)
	if err != nil {
		return err
	}
	role, err := s.store.GetRole(ctx, in.RoleID)
	if err != nil {
		return err
	}
	err = s.runner.RunTx(ctx, func(tx pgx.Tx) error {
		if err := s.store.UpdateRolePermissionAccess(ctx, tx, in); err != nil {
			return err
		}
		return s.audit.Record(ctx, tx, audit.Entry{
			Actor:    actor,
			Kind:     audit.KindUpdate,
			Entity:   audit.EntityRolePermission,
			EntityID: rolePermissionID(in.RoleID, in.PermissionID),
			Meta:     rolePermissionMeta(in),
		})
	})
	if err != nil {
		return err
	}
	return s.invalidateRoleMembers(ctx, role)
}

// RemoveRolePermission unlinks a permission from a role.
func (s *Service) RemoveRolePermission(ctx context.Context, in RemoveRolePermissionInput) error {
	actor, err := s.requireCapability(ctx, shared.PermGrantsEdit)
	if err != nil {
		return err
	}
	role, err := s.store.GetRole(ctx, in.RoleID)
	if err != nil {
		return err
	}
	existing, err := s.store.RolePermission(ctx, in.RoleID, in.PermissionID)
	if err != nil {
		return err
	}
	err = s.runner.RunTx(ctx, func(tx pgx.Tx) error {
		if err := s.store.DeleteRolePermission(ctx, tx, in.RoleID, in.PermissionID); err != nil {
			return err
		}
		meta := map[string]any{"role_id": in.RoleID, "permission_id": in.PermissionID, "access": string(existing.Access)}
		if in.Comment != "" {
			meta["comment"] = in.Comment
		}
		return s.audit.Record(ctx, tx, audit.Entry{
			Actor:    actor,
			Kind:     audit.KindDelete,
			Entity:   audit.EntityRolePermission,
			EntityID: rolePermissionID(in.RoleID, in.PermissionID),
			Meta:     meta,
		})
	})
	if err != nil {
		return err
	}
	return s.invalidateRoleMembers(ctx, role)
}

// --- member permissions ---

// GrantMemberPermission creates a direct grant or deny for a principal.
func (s *Service) GrantMemberPermission(ctx context.Context, in MemberPermissionInput) error {
	actor, err := s.requireCapability(ctx, shared.PermGrantsEdit)
	if err != nil {
		return err
	}
	err = s.runner.RunTx(ctx, func(tx pgx.Tx) error {
		if err := s.store.InsertMemberPermission(ctx, tx, in); err != nil {
			return err
		}
		return s.audit.Record(ctx, tx, audit.Entry{
			Actor:    actor,
			Kind:     audit.KindCreate,
			Entity:   audit.EntityMemberPermission,
			EntityID: in.Principal + ":" + strconv.FormatInt(in.PermissionID, 10),
			Meta:     memberPermissionMeta(in),
		})
	})
	if err != nil {
		return err
	}
	return s.cache.Invalidate(ctx, in.Principal)
}

// UpdateMemberPermission rewrites the access leg and window of a direct row.
func (s *Service) UpdateMemberPermission(ctx context.Context, in MemberPermissionInput) error {
	actor, err := s.requireCapability(ctx, shared.PermGrantsEdit)
	if err != nil {
		return err
	}
	err = s.runner.RunTx(ctx, func(tx pgx.Tx) error {
		if err := s.store.UpdateMemberPermission(ctx, tx, in); err != nil {
			return err
		}
		return s.audit.Record(ctx, tx, audit.Entry{
			Actor:    actor,
			Kind:     audit.KindUpdate,
			Entity:   audit.EntityMemberPermission,
			EntityID: in.Principal + ":" + strconv.FormatInt(in.PermissionID, 10),
			Meta:     memberPermissionMeta(in),
		})
	})
	if err != nil {
		return err
	}
	return s.cache.Invalidate(ctx, in.Principal)
}

// RevokeMemberPermission removes a direct permission row.
func (s *Service) RevokeMemberPermission(ctx context.Context, in RevokeMemberPermissionInput) error {
	actor, err := s.requireCapability(ctx, shared.PermGrantsEdit)
	if err != nil {
		return err
	}
	existing, err := s.store.MemberPermission(ctx, in.Principal, in.PermissionID)
	if err != nil {
		return err
	}
	err = s.runner.RunTx(ctx, func(tx pgx.Tx) error {
		if err := s.store.DeleteMemberPermission(ctx, tx, in.Principal, in.PermissionID); err != nil {
			return err
		}
		meta := map[string]any{
			"principal":     in.Principal,
			"permission_id": in.PermissionID,
			"access":        string(existing.Access),
		}
		if in.Comment != "" {
			meta["comment"] = in.Comment
		}
		return s.audit.Record(ctx, tx, audit.Entry{
			Actor:    actor,
			Kind:     audit.KindDelete,
			Entity:   audit.EntityMemberPermission,
			EntityID: in.Principal + ":" + strconv.FormatInt(in.PermissionID, 10),
			Meta:     meta,
		})
	})
	if err != nil {
		return err
	}
	return s.cache.Invalidate(ctx, in.Principal)
}

// --- controlled roles ---

// ControlledRoles lists the roles controlled by an application role.
func (s *Service) ControlledRoles(ctx context.Context, appRoleID int64) ([]authz.Role, error) {
	return s.store.ControlledRoles(ctx, appRoleID)
}

// SetControlledRoles replaces the controlled-role set of an application role.
func (s *Service) SetControlledRoles(ctx context.Context, appRoleID int64, roleIDs []int64) error {
	actor, err := s.requireCapability(ctx, shared.PermRolesEdit)
	if err != nil {
		return err
	}
	role, err := s.store.GetRole(ctx, appRoleID)
	if err != nil {
		return err
	}
	if !role.Application {
		return fmt.Errorf("grants: role %q is not an application role: %w", role.Name, shared.ErrValidation)
	}
	return s.runner.RunTx(ctx, func(tx pgx.Tx) error {
		if err := s.store.SetControlledRoles(ctx, tx, appRoleID, roleIDs); err != nil {
			return err
		}
		return s.audit.Record(ctx, tx, audit.Entry{
			Actor:    actor,
			Kind:     audit.KindUpdate,
			Entity:   audit.EntityRole,
			EntityID: strconv.FormatInt(appRoleID, 10),
			Meta:     map[string]any{"controlled_roles": roleIDs},
		})
	})
}

// invalidateRoleMembers evicts every member of the role; an allow-all role
// can reach any principal, so the whole generation advances instead.
func (s *Service) invalidateRoleMembers(ctx context.Context, role authz.Role) error {
	if role.AllowAll {
		return s.cache.Bump(ctx)
	}
	principals, err := s.store.MembershipPrincipals(ctx, role.ID)
	if err != nil {
		return err
	}
	for _, principal := range principals {
		if err := s.cache.Invalidate(ctx, principal); err != nil {
			return err
		}
	}
	return nil
}

func rolePermissionID(roleID, permissionID int64) string {
	return strconv.FormatInt(roleID, 10) + ":" + strconv.FormatInt(permissionID, 10)
}

func membershipMeta(m authz.RoleMembership) map[string]any {
	meta := map[string]any{"role_id": m.RoleID, "principal": m.Principal}
	addWindowMeta(meta, m.Window)
	if m.ViewName != "" {
		meta["view"] = m.ViewName
	}
	return meta
}

func rolePermissionMeta(in SetRolePermissionInput) map[string]any {
	meta := map[string]any{"role_id": in.RoleID, "permission_id": in.PermissionID, "access": string(in.Access)}
	if in.Comment != "" {
		meta["comment"] = in.Comment
	}
	return meta
}

func memberPermissionMeta(in MemberPermissionInput) map[string]any {
	meta := map[string]any{
		"principal":     in.Principal,
		"permission_id": in.PermissionID,
		"access":        string(in.Access),
	}
	addWindowMeta(meta, in.Window)
	if in.Comment != "" {
		meta["comment"] = in.Comment
	}
	return meta
}

func addWindowMeta(meta map[string]any, window authz.DateWindow) {
	if window.StartsOn != nil {
		meta["starts_on"] = window.StartsOn.Format("2006-01-02")
	}
	if window.EndsOn != nil {
		meta["ends_on"] = window.EndsOn.Format("2006-01-02")
	}
}

package clone

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/meridian-edu/authcore/internal/authz"
	"github.com/meridian-edu/authcore/internal/shared"
)

// Store is the read surface the diff engine compares over.
type Store interface {
	InstanceRoles(ctx context.Context, instance string) ([]authz.Role, error)
	InstancePermissions(ctx context.Context, instance string) ([]authz.Permission, error)
	Memberships(ctx context.Context, instance, principal string) (map[int64]authz.RoleMembership, error)
	MemberPermissions(ctx context.Context, instance, principal string) (map[int64]authz.MemberPermission, error)
}

// Resolver answers capability checks for the acting principal.
type Resolver interface {
	HasPermission(ctx context.Context, principal, permission string) (bool, error)
}

// Service produces advisory change-sets that would align a target
// principal's grants with a source principal's, scoped to one instance.
// It never writes.
type Service struct {
	store     Store
	resolver  Resolver
	protected map[string]bool
	logger    *slog.Logger
}

// NewService constructs a Service. protectedRoles are excluded from every
// comparison regardless of instance.
func NewService(store Store, resolver Resolver, protectedRoles []string, logger *slog.Logger) *Service {
	protected := make(map[string]bool, len(protectedRoles))
	for _, name := range protectedRoles {
		protected[strings.ToLower(strings.TrimSpace(name))] = true
	}
	return &Service{store: store, resolver: resolver, protected: protected, logger: logger}
}

// Compare diffs the source principal's grants against the target's inside
// the instance prefix. Permission rows are only compared when the actor
// holds the higher-privilege clone-permissions capability; role parity is
// available with the base capability alone.
func (s *Service) Compare(ctx context.Context, instance, source, target string) (*ChangeSet, error) {
	actor := shared.ActorFromContext(ctx)
	if actor == "" {
		return nil, fmt.Errorf("clone: no acting principal: %w", shared.ErrDenied)
	}
	allowed, err := s.resolver.HasPermission(ctx, actor, shared.PermCloneRoles)
	if err != nil || !allowed {
		return nil, fmt.Errorf("clone: %s required: %w", shared.PermCloneRoles, shared.ErrDenied)
	}

	instance = strings.TrimSpace(instance)
	if instance == "" {
		return nil, fmt.Errorf("clone: instance required: %w", shared.ErrValidation)
	}
	if source == "" || target == "" || source == target {
		return nil, fmt.Errorf("clone: need two distinct principals: %w", shared.ErrValidation)
	}

	set := &ChangeSet{Instance: instance, Source: source, Target: target}

	if err := s.compareRoles(ctx, instance, source, target, set); err != nil {
		return nil, err
	}

	withPerms, err := s.resolver.HasPermission(ctx, actor, shared.PermClonePermissions)
	if err != nil {
		withPerms = false
	}
	if withPerms {
		set.PermissionsCompared = true
		if err := s.comparePermissions(ctx, instance, source, target, set); err != nil {
			return nil, err
		}
	}
	if s.logger != nil {
		s.logger.Debug("clone preview",
			slog.String("instance", instance),
			slog.String("source", source),
			slog.String("target", target),
			slog.Int("role_changes", len(set.Roles)),
			slog.Int("permission_changes", len(set.Permissions)))
	}
	return set, nil
}

func (s *Service) compareRoles(ctx context.Context, instance, source, target string, set *ChangeSet) error {
	roles, err := s.store.InstanceRoles(ctx, instance)
	if err != nil {
		return err
	}
	sourceRows, err := s.store.Memberships(ctx, instance, source)
	if err != nil {
		return err
	}
	targetRows, err := s.store.Memberships(ctx, instance, target)
	if err != nil {
		return err
	}

	for _, role := range roles {
		if err := ctx.Err(); err != nil {
			return err
		}
		if s.protected[strings.ToLower(role.Name)] {
			continue
		}
		src, inSource := sourceRows[role.ID]
		tgt, inTarget := targetRows[role.ID]
		switch {
		case inSource && inTarget:
			if !src.Window.Equal(tgt.Window) {
				set.Roles = append(set.Roles, RoleChange{RoleID: role.ID, Role: role.Name, Action: ActionUpdate, Window: src.Window})
			}
		case inSource:
			set.Roles = append(set.Roles, RoleChange{RoleID: role.ID, Role: role.Name, Action: ActionCreate, Window: src.Window})
		case inTarget:
			set.Roles = append(set.Roles, RoleChange{RoleID: role.ID, Role: role.Name, Action: ActionDelete, Window: tgt.Window})
		}
	}
	return nil
}

func (s *Service) comparePermissions(ctx context.Context, instance, source, target string, set *ChangeSet) error {
	perms, err := s.store.InstancePermissions(ctx, instance)
	if err != nil {
		return err
	}
	sourceRows, err := s.store.MemberPermissions(ctx, instance, source)
	if err != nil {
		return err
	}
	targetRows, err := s.store.MemberPermissions(ctx, instance, target)
	if err != nil {
		return err
	}

	for _, perm := range perms {
		if err := ctx.Err(); err != nil {
			return err
		}
		src, inSource := sourceRows[perm.ID]
		tgt, inTarget := targetRows[perm.ID]
		switch {
		case inSource && inTarget:
			sameDates := src.Window.Equal(tgt.Window)
			sameAccess := src.Access == tgt.Access
			switch {
			case sameDates && sameAccess:
				// parity
			case !sameDates && !sameAccess:
				set.Permissions = append(set.Permissions, PermissionChange{
					PermissionID: perm.ID, Permission: perm.Name,
					Action: ActionUpdateReverse, Access: src.Access, Window: src.Window, Warning: true,
				})
			case !sameDates:
				set.Permissions = append(set.Permissions, PermissionChange{
					PermissionID: perm.ID, Permission: perm.Name,
					Action: ActionUpdate, Access: src.Access, Window: src.Window,
				})
			default:
				set.Permissions = append(set.Permissions, PermissionChange{
					PermissionID: perm.ID, Permission: perm.Name,
					Action: ActionReverse, Access: src.Access, Window: src.Window,
				})
			}
		case inSource:
			set.Permissions = append(set.Permissions, PermissionChange{
				PermissionID: perm.ID, Permission: perm.Name,
				Action: ActionCreate, Access: src.Access, Window: src.Window,
			})
		case inTarget:
			set.Permissions = append(set.Permissions, PermissionChange{
				PermissionID: perm.ID, Permission: perm.Name,
				Action: ActionDelete, Access: tgt.Access, Window: tgt.Window,
			})
		}
	}
	return nil
}

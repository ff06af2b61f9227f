package authz

import (
	"context"
	"log/slog"
	"sort"
	"strings"
	"time"
)

// Store is the read surface of the grant store needed for resolution.
type Store interface {
	ActiveRoles(ctx context.Context, principal string, t time.Time) ([]Role, error)
	AssignedPermissions(ctx context.Context, principal string, access Access, t time.Time) ([]string, error)
	InheritedPermissions(ctx context.Context, principal string, access Access, t time.Time) ([]string, error)
}

// Service is the permission resolution engine. All reads go through the
// per-principal cache; any failure resolves closed (no permissions), never open.
type Service struct {
	store  Store
	cache  *Cache
	logger *slog.Logger
	now    func() time.Time
}

// NewService constructs the resolution engine.
func NewService(store Store, cache *Cache, logger *slog.Logger) *Service {
	return &Service{store: store, cache: cache, logger: logger, now: time.Now}
}

// GetRoles returns the roles held by the principal right now, date-filtered
// with the same activity predicate used for permission resolution.
func (s *Service) GetRoles(ctx context.Context, principal string) ([]Role, error) {
	var roles []Role
	err := s.cache.Fetch(ctx, rolesKey(principal), &roles, func(ctx context.Context) (any, error) {
		return s.store.ActiveRoles(ctx, principal, s.now())
	})
	if err != nil {
		return nil, err
	}
	return roles, nil
}

// IsInRole reports whether the principal currently holds the named role.
func (s *Service) IsInRole(ctx context.Context, principal, roleName string) (bool, error) {
	roles, err := s.GetRoles(ctx, principal)
	if err != nil {
		return false, err
	}
	for _, role := range roles {
		if strings.EqualFold(role.Name, roleName) {
			return true, nil
		}
	}
	return false, nil
}

// EffectivePermissions computes the principal's effective permission set:
// (assigned grants + inherited grants) minus (assigned denies + inherited
// denies). All four sets are evaluated at the same instant, so an explicit
// deny active now always removes the permission regardless of which path
// would grant it.
func (s *Service) EffectivePermissions(ctx context.Context, principal string) ([]string, error) {
	at := s.now()

	assignedGrant, err := s.permissions(ctx, principal, assignedKey(principal, AccessGrant), AccessGrant, at, s.store.AssignedPermissions)
	if err != nil {
		return nil, err
	}
	inheritedGrant, err := s.permissions(ctx, principal, inheritedKey(principal, AccessGrant), AccessGrant, at, s.store.InheritedPermissions)
	if err != nil {
		return nil, err
	}
	assignedDeny, err := s.permissions(ctx, principal, assignedKey(principal, AccessDeny), AccessDeny, at, s.store.AssignedPermissions)
	if err != nil {
		return nil, err
	}
	inheritedDeny, err := s.permissions(ctx, principal, inheritedKey(principal, AccessDeny), AccessDeny, at, s.store.InheritedPermissions)
	if err != nil {
		return nil, err
	}

	denied := make(map[string]struct{}, len(assignedDeny)+len(inheritedDeny))
	for _, name := range assignedDeny {
		denied[NormalizePermission(name)] = struct{}{}
	}
	for _, name := range inheritedDeny {
		denied[NormalizePermission(name)] = struct{}{}
	}

	effective := make(map[string]string, len(assignedGrant)+len(inheritedGrant))
	for _, name := range append(assignedGrant, inheritedGrant...) {
		folded := NormalizePermission(name)
		if _, deny := denied[folded]; deny {
			continue
		}
		effective[folded] = name
	}

	names := make([]string, 0, len(effective))
	for _, name := range effective {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

// HasPermission reports whether the principal's effective set contains the
// named permission. The comparison is case-insensitive and nothing else:
// no permission name is special-cased.
func (s *Service) HasPermission(ctx context.Context, principal, permission string) (bool, error) {
	names, err := s.EffectivePermissions(ctx, principal)
	if err != nil {
		if s.logger != nil {
			s.logger.Error("resolve permissions", slog.String("principal", principal), slog.Any("error", err))
		}
		return false, err
	}
	wanted := NormalizePermission(permission)
	for _, name := range names {
		if NormalizePermission(name) == wanted {
			return true, nil
		}
	}
	return false, nil
}

type permissionLoader func(ctx context.Context, principal string, access Access, t time.Time) ([]string, error)

func (s *Service) permissions(ctx context.Context, principal string, key []string, access Access, at time.Time, load permissionLoader) ([]string, error) {
	var names []string
	err := s.cache.Fetch(ctx, key, &names, func(ctx context.Context) (any, error) {
		return load(ctx, principal, access, at)
	})
	if err != nil {
		return nil, err
	}
	return names, nil
}

package authz

import (
	"context"
	"errors"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// memStore resolves grants from in-memory rows using the same domain
// predicates as the SQL repository.
type memStore struct {
	roles       []Role
	memberships []RoleMembership
	rolePerms   []RolePermission
	memberPerms []MemberPermission
	permissions map[int64]string

	failing bool
	calls   int
}

var errStoreDown = errors.New("store down")

func (m *memStore) ActiveRoles(ctx context.Context, principal string, t time.Time) ([]Role, error) {
	if m.failing {
		return nil, errStoreDown
	}
	m.calls++
	var out []Role
	for _, role := range m.roles {
		if role.AllowAll {
			out = append(out, role)
			continue
		}
		for _, mem := range m.memberships {
			if mem.RoleID == role.ID && mem.Principal == principal && mem.Window.ActiveAt(t) {
				out = append(out, role)
				break
			}
		}
	}
	return out, nil
}

func (m *memStore) AssignedPermissions(ctx context.Context, principal string, access Access, t time.Time) ([]string, error) {
	if m.failing {
		return nil, errStoreDown
	}
	m.calls++
	var out []string
	for _, mp := range m.memberPerms {
		if mp.Principal == principal && mp.Access == access && mp.Window.ActiveAt(t) {
			out = append(out, m.permissions[mp.PermissionID])
		}
	}
	return out, nil
}

func (m *memStore) InheritedPermissions(ctx context.Context, principal string, access Access, t time.Time) ([]string, error) {
	if m.failing {
		return nil, errStoreDown
	}
	m.calls++
	roles, err := m.ActiveRoles(ctx, principal, t)
	if err != nil {
		return nil, err
	}
	m.calls--
	var out []string
	for _, rp := range m.rolePerms {
		if rp.Access != access {
			continue
		}
		for _, role := range roles {
			if role.ID == rp.RoleID {
				out = append(out, m.permissions[rp.PermissionID])
				break
			}
		}
	}
	return out, nil
}

func newTestService(t *testing.T, store Store) (*Service, *Cache) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	cache := NewCache(client, time.Minute)
	return NewService(store, cache, nil), cache
}

func fixedStore() *memStore {
	return &memStore{
		roles: []Role{
			{ID: 1, Name: "Faculty"},
			{ID: 2, Name: "Everyone", AllowAll: true},
		},
		memberships: []RoleMembership{
			{ID: 10, RoleID: 1, Principal: "p-100"},
		},
		rolePerms: []RolePermission{
			{RoleID: 1, PermissionID: 1, Access: AccessGrant},
			{RoleID: 2, PermissionID: 2, Access: AccessGrant},
		},
		memberPerms: nil,
		permissions: map[int64]string{
			1: "Courses.Roster.Read",
			2: "Portal.Home.View",
		},
	}
}

func TestEffectivePermissionsDenyWins(t *testing.T) {
	store := fixedStore()
	// Direct deny for a permission also granted through role inheritance.
	store.memberPerms = []MemberPermission{
		{ID: 1, Principal: "p-100", PermissionID: 1, Access: AccessDeny},
	}
	svc, _ := newTestService(t, store)

	names, err := svc.EffectivePermissions(context.Background(), "p-100")
	require.NoError(t, err)
	assert.Equal(t, []string{"Portal.Home.View"}, names)

	allowed, err := svc.HasPermission(context.Background(), "p-100", "courses.roster.read")
	require.NoError(t, err)
	assert.False(t, allowed)
}

func TestInheritedDenyRemovesDirectGrant(t *testing.T) {
	store := fixedStore()
	store.memberPerms = []MemberPermission{
		{ID: 1, Principal: "p-100", PermissionID: 3, Access: AccessGrant},
	}
	store.permissions[3] = "Effort.Reports.Edit"
	store.rolePerms = append(store.rolePerms, RolePermission{RoleID: 1, PermissionID: 3, Access: AccessDeny})
	svc, _ := newTestService(t, store)

	allowed, err := svc.HasPermission(context.Background(), "p-100", "Effort.Reports.Edit")
	require.NoError(t, err)
	assert.False(t, allowed)
}

func TestHasPermissionCaseInsensitive(t *testing.T) {
	svc, _ := newTestService(t, fixedStore())

	for _, name := range []string{"Courses.Roster.Read", "courses.roster.read", "COURSES.ROSTER.READ"} {
		allowed, err := svc.HasPermission(context.Background(), "p-100", name)
		require.NoError(t, err)
		assert.True(t, allowed, name)
	}
}

func TestResolutionFailsClosed(t *testing.T) {
	store := fixedStore()
	store.failing = true
	svc, _ := newTestService(t, store)

	allowed, err := svc.HasPermission(context.Background(), "p-100", "Courses.Roster.Read")
	assert.Error(t, err)
	assert.False(t, allowed)

	_, err = svc.EffectivePermissions(context.Background(), "p-100")
	assert.Error(t, err)
}

func TestExpiredMembershipDoesNotResolve(t *testing.T) {
	store := fixedStore()
	yesterday := time.Now().AddDate(0, 0, -1)
	store.memberships[0].Window = DateWindow{StartsOn: &yesterday, EndsOn: &yesterday}
	svc, _ := newTestService(t, store)

	member, err := svc.IsInRole(context.Background(), "p-100", "Faculty")
	require.NoError(t, err)
	assert.False(t, member)

	// The permission side must apply the identical predicate.
	allowed, err := svc.HasPermission(context.Background(), "p-100", "Courses.Roster.Read")
	require.NoError(t, err)
	assert.False(t, allowed)
}

func TestAllowAllRoleAppliesToEveryone(t *testing.T) {
	svc, _ := newTestService(t, fixedStore())

	member, err := svc.IsInRole(context.Background(), "p-unknown", "Everyone")
	require.NoError(t, err)
	assert.True(t, member)

	allowed, err := svc.HasPermission(context.Background(), "p-unknown", "portal.home.view")
	require.NoError(t, err)
	assert.True(t, allowed)
}

func TestResolutionIsCachedUntilInvalidated(t *testing.T) {
	store := fixedStore()
	svc, cache := newTestService(t, store)
	ctx := context.Background()

	_, err := svc.EffectivePermissions(ctx, "p-100")
	require.NoError(t, err)
	loads := store.calls

	_, err = svc.EffectivePermissions(ctx, "p-100")
	require.NoError(t, err)
	assert.Equal(t, loads, store.calls, "second resolution must be served from cache")

	// Mutation: a new direct deny lands, invalidation runs in the same unit.
	store.memberPerms = []MemberPermission{
		{ID: 1, Principal: "p-100", PermissionID: 1, Access: AccessDeny},
	}
	require.NoError(t, cache.Invalidate(ctx, "p-100"))

	allowed, err := svc.HasPermission(ctx, "p-100", "Courses.Roster.Read")
	require.NoError(t, err)
	assert.False(t, allowed, "post-commit read must see the new state")
	assert.Greater(t, store.calls, loads)
}

func TestCacheBumpInvalidatesAllPrincipals(t *testing.T) {
	store := fixedStore()
	svc, cache := newTestService(t, store)
	ctx := context.Background()

	allowed, err := svc.HasPermission(ctx, "p-unknown", "Portal.Home.View")
	require.NoError(t, err)
	assert.True(t, allowed)

	// Drop the allow-all link; only a version bump can reach every principal.
	store.rolePerms = store.rolePerms[:1]
	require.NoError(t, cache.Bump(ctx))

	allowed, err = svc.HasPermission(ctx, "p-unknown", "Portal.Home.View")
	require.NoError(t, err)
	assert.False(t, allowed)
}

func TestEndToEndDenyOverridesRoleGrant(t *testing.T) {
	// RoleA grants X.Read to P through an undated membership.
	store := &memStore{
		roles:       []Role{{ID: 1, Name: "RoleA"}},
		memberships: []RoleMembership{{ID: 1, RoleID: 1, Principal: "P"}},
		rolePerms:   []RolePermission{{RoleID: 1, PermissionID: 1, Access: AccessGrant}},
		permissions: map[int64]string{1: "X.Read"},
	}
	svc, cache := newTestService(t, store)
	ctx := context.Background()

	allowed, err := svc.HasPermission(ctx, "P", "x.read")
	require.NoError(t, err)
	assert.True(t, allowed)

	store.memberPerms = []MemberPermission{{ID: 1, Principal: "P", PermissionID: 1, Access: AccessDeny}}
	require.NoError(t, cache.Invalidate(ctx, "P"))

	allowed, err = svc.HasPermission(ctx, "P", "x.read")
	require.NoError(t, err)
	assert.False(t, allowed)
}

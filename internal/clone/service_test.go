package clone

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meridian-edu/authcore/internal/authz"
	"github.com/meridian-edu/authcore/internal/shared"
)

type memStore struct {
	roles       []authz.Role
	permissions []authz.Permission
	memberships map[string]map[int64]authz.RoleMembership
	direct      map[string]map[int64]authz.MemberPermission
}

func newMemStore() *memStore {
	return &memStore{
		memberships: map[string]map[int64]authz.RoleMembership{},
		direct:      map[string]map[int64]authz.MemberPermission{},
	}
}

func (s *memStore) InstanceRoles(context.Context, string) ([]authz.Role, error) {
	return s.roles, nil
}

func (s *memStore) InstancePermissions(context.Context, string) ([]authz.Permission, error) {
	return s.permissions, nil
}

func (s *memStore) Memberships(_ context.Context, _ string, principal string) (map[int64]authz.RoleMembership, error) {
	return s.memberships[principal], nil
}

func (s *memStore) MemberPermissions(_ context.Context, _ string, principal string) (map[int64]authz.MemberPermission, error) {
	return s.direct[principal], nil
}

type permResolver struct {
	perms map[string][]string
}

func (r *permResolver) HasPermission(_ context.Context, principal, permission string) (bool, error) {
	for _, p := range r.perms[principal] {
		if p == permission {
			return true, nil
		}
	}
	return false, nil
}

func date(y int, m time.Month, d int) *time.Time {
	t := time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
	return &t
}

func cloneCtx() context.Context {
	return shared.ContextWithActor(context.Background(), "admin")
}

func newCloneService(store *memStore, actorPerms []string, protected ...string) *Service {
	resolver := &permResolver{perms: map[string][]string{"admin": actorPerms}}
	return NewService(store, resolver, protected, nil)
}

func TestCompareIdenticalPrincipalsYieldsNoChanges(t *testing.T) {
	store := newMemStore()
	store.roles = []authz.Role{{ID: 1, Name: "vet.staff"}}
	store.memberships["alice"] = map[int64]authz.RoleMembership{1: {RoleID: 1, Principal: "alice"}}
	store.memberships["bob"] = map[int64]authz.RoleMembership{1: {RoleID: 1, Principal: "bob"}}
	svc := newCloneService(store, []string{shared.PermCloneRoles})

	set, err := svc.Compare(cloneCtx(), "vet", "alice", "bob")
	require.NoError(t, err)
	assert.Empty(t, set.Roles)
	assert.False(t, set.PermissionsCompared)
}

func TestCompareRoleActions(t *testing.T) {
	store := newMemStore()
	store.roles = []authz.Role{
		{ID: 1, Name: "vet.faculty"},
		{ID: 2, Name: "vet.clinic"},
		{ID: 3, Name: "vet.lab"},
	}
	store.memberships["alice"] = map[int64]authz.RoleMembership{
		1: {RoleID: 1, Principal: "alice", Window: authz.DateWindow{EndsOn: date(2027, 6, 30)}},
		2: {RoleID: 2, Principal: "alice"},
	}
	store.memberships["bob"] = map[int64]authz.RoleMembership{
		1: {RoleID: 1, Principal: "bob", Window: authz.DateWindow{EndsOn: date(2026, 12, 31)}},
		3: {RoleID: 3, Principal: "bob"},
	}
	svc := newCloneService(store, []string{shared.PermCloneRoles})

	set, err := svc.Compare(cloneCtx(), "vet", "alice", "bob")
	require.NoError(t, err)
	require.Len(t, set.Roles, 3)

	byRole := map[string]RoleChange{}
	for _, c := range set.Roles {
		byRole[c.Role] = c
	}
	assert.Equal(t, ActionUpdate, byRole["vet.faculty"].Action)
	assert.Equal(t, date(2027, 6, 30), byRole["vet.faculty"].Window.EndsOn, "source dates win")
	assert.Equal(t, ActionCreate, byRole["vet.clinic"].Action)
	assert.Equal(t, ActionDelete, byRole["vet.lab"].Action)
}

func TestCompareExcludesProtectedRoles(t *testing.T) {
	store := newMemStore()
	store.roles = []authz.Role{{ID: 1, Name: "vet.sysadmin"}}
	store.memberships["alice"] = map[int64]authz.RoleMembership{1: {RoleID: 1, Principal: "alice"}}
	svc := newCloneService(store, []string{shared.PermCloneRoles}, "vet.sysadmin")

	set, err := svc.Compare(cloneCtx(), "vet", "alice", "bob")
	require.NoError(t, err)
	assert.Empty(t, set.Roles)
}

func TestComparePermissionsNeedExtraCapability(t *testing.T) {
	store := newMemStore()
	store.permissions = []authz.Permission{{ID: 1, Name: "vet.records.read"}}
	store.direct["alice"] = map[int64]authz.MemberPermission{
		1: {Principal: "alice", PermissionID: 1, Access: authz.AccessGrant},
	}

	svc := newCloneService(store, []string{shared.PermCloneRoles})
	set, err := svc.Compare(cloneCtx(), "vet", "alice", "bob")
	require.NoError(t, err)
	assert.False(t, set.PermissionsCompared)
	assert.Empty(t, set.Permissions)

	svc = newCloneService(store, []string{shared.PermCloneRoles, shared.PermClonePermissions})
	set, err = svc.Compare(cloneCtx(), "vet", "alice", "bob")
	require.NoError(t, err)
	assert.True(t, set.PermissionsCompared)
	require.Len(t, set.Permissions, 1)
	assert.Equal(t, ActionCreate, set.Permissions[0].Action)
}

func TestComparePermissionAccessReversal(t *testing.T) {
	store := newMemStore()
	store.permissions = []authz.Permission{
		{ID: 1, Name: "vet.records.read"},
		{ID: 2, Name: "vet.records.write"},
	}
	store.direct["alice"] = map[int64]authz.MemberPermission{
		1: {PermissionID: 1, Access: authz.AccessGrant},
		2: {PermissionID: 2, Access: authz.AccessDeny, Window: authz.DateWindow{EndsOn: date(2027, 1, 1)}},
	}
	store.direct["bob"] = map[int64]authz.MemberPermission{
		1: {PermissionID: 1, Access: authz.AccessDeny},
		2: {PermissionID: 2, Access: authz.AccessGrant},
	}
	svc := newCloneService(store, []string{shared.PermCloneRoles, shared.PermClonePermissions})

	set, err := svc.Compare(cloneCtx(), "vet", "alice", "bob")
	require.NoError(t, err)
	require.Len(t, set.Permissions, 2)

	byPerm := map[string]PermissionChange{}
	for _, c := range set.Permissions {
		byPerm[c.Permission] = c
	}
	read := byPerm["vet.records.read"]
	assert.Equal(t, ActionReverse, read.Action)
	assert.Equal(t, authz.AccessGrant, read.Access)
	assert.False(t, read.Warning)

	// Dates and access leg both differ: one combined instruction, flagged.
	write := byPerm["vet.records.write"]
	assert.Equal(t, ActionUpdateReverse, write.Action)
	assert.True(t, write.Warning)
	assert.Equal(t, date(2027, 1, 1), write.Window.EndsOn)
}

func TestCompareDeniedWithoutCapability(t *testing.T) {
	svc := newCloneService(newMemStore(), nil)
	_, err := svc.Compare(cloneCtx(), "vet", "alice", "bob")
	require.ErrorIs(t, err, shared.ErrDenied)
}

func TestCompareValidatesInput(t *testing.T) {
	svc := newCloneService(newMemStore(), []string{shared.PermCloneRoles})

	_, err := svc.Compare(cloneCtx(), "", "alice", "bob")
	require.ErrorIs(t, err, shared.ErrValidation)

	_, err = svc.Compare(cloneCtx(), "vet", "alice", "alice")
	require.ErrorIs(t, err, shared.ErrValidation)
}

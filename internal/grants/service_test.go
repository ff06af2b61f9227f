package grants

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/require"

	"github.com/meridian-edu/authcore/internal/audit"
	"github.com/meridian-edu/authcore/internal/authz"
	"github.com/meridian-edu/authcore/internal/shared"
)

type stubRunner struct {
	calls int
}

func (r *stubRunner) RunTx(ctx context.Context, fn func(pgx.Tx) error) error {
	r.calls++
	return fn(nil)
}

// commitOrderRunner snapshots how many evictions have happened by the time
// the transaction commits.
type commitOrderRunner struct {
	invalidator *stubInvalidator
	atCommit    int
}

func (r *commitOrderRunner) RunTx(ctx context.Context, fn func(pgx.Tx) error) error {
	if err := fn(nil); err != nil {
		return err
	}
	r.atCommit = len(r.invalidator.invalidated) + r.invalidator.bumps
	return nil
}

type stubAuditor struct {
	entries []audit.Entry
}

func (a *stubAuditor) Record(_ context.Context, _ pgx.Tx, entry audit.Entry) error {
	a.entries = append(a.entries, entry)
	return nil
}

type stubInvalidator struct {
	invalidated []string
	bumps       int
}

func (i *stubInvalidator) Invalidate(_ context.Context, principal string) error {
	i.invalidated = append(i.invalidated, principal)
	return nil
}

func (i *stubInvalidator) Bump(_ context.Context) error {
	i.bumps++
	return nil
}

type stubResolver struct {
	perms map[string][]string
}

func (r *stubResolver) HasPermission(_ context.Context, principal, permission string) (bool, error) {
	for _, p := range r.perms[principal] {
		if p == permission {
			return true, nil
		}
	}
	return false, nil
}

type stubStore struct {
	roles       map[int64]authz.Role
	memberships map[int64][]authz.RoleMembership
	controls    map[string][]int64

	insertErr      error
	inserted       []GrantMembershipInput
	deleted        []string
	rolePermission authz.RolePermission
	writes         int
}

func newStubStore() *stubStore {
	return &stubStore{
		roles:       map[int64]authz.Role{},
		memberships: map[int64][]authz.RoleMembership{},
		controls:    map[string][]int64{},
	}
}

func (s *stubStore) ListRoles(context.Context) ([]authz.Role, error) { return nil, nil }

func (s *stubStore) GetRole(_ context.Context, id int64) (authz.Role, error) {
	role, ok := s.roles[id]
	if !ok {
		return authz.Role{}, shared.ErrNotFound
	}
	return role, nil
}

func (s *stubStore) InsertRole(_ context.Context, _ pgx.Tx, in CreateRoleInput) (authz.Role, error) {
	s.writes++
	role := authz.Role{ID: int64(len(s.roles) + 1), Name: in.Name, AllowAll: in.AllowAll}
	s.roles[role.ID] = role
	return role, nil
}

func (s *stubStore) UpdateRole(_ context.Context, _ pgx.Tx, id int64, in UpdateRoleInput) (authz.Role, error) {
	s.writes++
	role := s.roles[id]
	role.Name = in.Name
	role.AllowAll = in.AllowAll
	s.roles[id] = role
	return role, nil
}

func (s *stubStore) DeleteRole(_ context.Context, _ pgx.Tx, id int64) error {
	s.writes++
	delete(s.roles, id)
	return nil
}

func (s *stubStore) ListPermissions(context.Context) ([]authz.Permission, error) { return nil, nil }

func (s *stubStore) GetPermission(_ context.Context, id int64) (authz.Permission, error) {
	return authz.Permission{ID: id, Name: "reports.read"}, nil
}

func (s *stubStore) InsertPermission(_ context.Context, _ pgx.Tx, in CreatePermissionInput) (authz.Permission, error) {
	s.writes++
	return authz.Permission{ID: 1, Name: in.Name}, nil
}

func (s *stubStore) UpdatePermission(_ context.Context, _ pgx.Tx, id int64, in CreatePermissionInput) (authz.Permission, error) {
	s.writes++
	return authz.Permission{ID: id, Name: in.Name}, nil
}

func (s *stubStore) DeletePermission(_ context.Context, _ pgx.Tx, _ int64) error {
	s.writes++
	return nil
}

func (s *stubStore) Membership(_ context.Context, roleID int64, principal string) (authz.RoleMembership, error) {
	for _, m := range s.memberships[roleID] {
		if m.Principal == principal {
			return m, nil
		}
	}
	return authz.RoleMembership{}, shared.ErrNotFound
}

func (s *stubStore) MembershipPrincipals(_ context.Context, roleID int64) ([]string, error) {
	var out []string
	for _, m := range s.memberships[roleID] {
		out = append(out, m.Principal)
	}
	return out, nil
}

func (s *stubStore) InsertMembership(_ context.Context, _ pgx.Tx, in GrantMembershipInput) (authz.RoleMembership, error) {
	if s.insertErr != nil {
		return authz.RoleMembership{}, s.insertErr
	}
	s.writes++
	s.inserted = append(s.inserted, in)
	m := authz.RoleMembership{ID: int64(s.writes), RoleID: in.RoleID, Principal: in.Principal, Window: in.Window, ViewName: in.ViewName}
	s.memberships[in.RoleID] = append(s.memberships[in.RoleID], m)
	return m, nil
}

func (s *stubStore) UpdateMembershipWindow(_ context.Context, _ pgx.Tx, roleID int64, principal string, window authz.DateWindow) (authz.RoleMembership, error) {
	s.writes++
	return authz.RoleMembership{ID: 1, RoleID: roleID, Principal: principal, Window: window}, nil
}

func (s *stubStore) DeleteMembership(_ context.Context, _ pgx.Tx, roleID int64, principal string) (authz.RoleMembership, error) {
	s.writes++
	s.deleted = append(s.deleted, principal)
	return authz.RoleMembership{ID: 1, RoleID: roleID, Principal: principal}, nil
}

func (s *stubStore) RolePermission(_ context.Context, roleID, permissionID int64) (authz.RolePermission, error) {
	rp := s.rolePermission
	rp.RoleID = roleID
	rp.PermissionID = permissionID
	return rp, nil
}

func (s *stubStore) InsertRolePermission(_ context.Context, _ pgx.Tx, _ SetRolePermissionInput) error {
	if s.insertErr != nil {
		return s.insertErr
	}
	s.writes++
	return nil
}

func (s *stubStore) UpdateRolePermissionAccess(_ context.Context, _ pgx.Tx, _ SetRolePermissionInput) error {
	s.writes++
	return nil
}

func (s *stubStore) DeleteRolePermission(_ context.Context, _ pgx.Tx, _, _ int64) error {
	s.writes++
	return nil
}

func (s *stubStore) MemberPermission(_ context.Context, principal string, permissionID int64) (authz.MemberPermission, error) {
	return authz.MemberPermission{Principal: principal, PermissionID: permissionID, Access: authz.AccessGrant}, nil
}

func (s *stubStore) InsertMemberPermission(_ context.Context, _ pgx.Tx, _ MemberPermissionInput) error {
	if s.insertErr != nil {
		return s.insertErr
	}
	s.writes++
	return nil
}

func (s *stubStore) UpdateMemberPermission(_ context.Context, _ pgx.Tx, _ MemberPermissionInput) error {
	s.writes++
	return nil
}

func (s *stubStore) DeleteMemberPermission(_ context.Context, _ pgx.Tx, _ string, _ int64) error {
	s.writes++
	return nil
}

func (s *stubStore) ControlledRoles(_ context.Context, _ int64) ([]authz.Role, error) {
	return nil, nil
}

func (s *stubStore) SetControlledRoles(_ context.Context, _ pgx.Tx, _ int64, _ []int64) error {
	s.writes++
	return nil
}

func (s *stubStore) ControlsRole(_ context.Context, principal string, roleID int64, _ time.Time) (bool, error) {
	for _, id := range s.controls[principal] {
		if id == roleID {
			return true, nil
		}
	}
	return false, nil
}

type grantsFixture struct {
	service     *Service
	runner      *stubRunner
	store       *stubStore
	auditor     *stubAuditor
	invalidator *stubInvalidator
	resolver    *stubResolver
}

func newGrantsFixture() *grantsFixture {
	f := &grantsFixture{
		runner:      &stubRunner{},
		store:       newStubStore(),
		auditor:     &stubAuditor{},
		invalidator: &stubInvalidator{},
		resolver:    &stubResolver{perms: map[string][]string{}},
	}
	f.service = NewService(f.runner, f.store, f.auditor, f.invalidator, f.resolver, nil)
	return f
}

func actorCtx(principal string) context.Context {
	return shared.ContextWithActor(context.Background(), principal)
}

func TestGrantMembershipDeniedWithoutCapability(t *testing.T) {
	f := newGrantsFixture()

	_, err := f.service.GrantMembership(actorCtx("intruder"), GrantMembershipInput{RoleID: 1, Principal: "carol"})
	require.ErrorIs(t, err, shared.ErrDenied)
	require.Zero(t, f.store.writes, "denied request must not reach the store")
	require.Empty(t, f.auditor.entries)
}

func TestGrantMembershipDeniedWithoutActor(t *testing.T) {
	f := newGrantsFixture()

	_, err := f.service.GrantMembership(context.Background(), GrantMembershipInput{RoleID: 1, Principal: "carol"})
	require.ErrorIs(t, err, shared.ErrDenied)
}

func TestGrantMembershipRecordsAuditAndInvalidates(t *testing.T) {
	f := newGrantsFixture()
	f.resolver.perms["alice"] = []string{shared.PermGrantsEdit}
	end := time.Date(2026, 12, 31, 0, 0, 0, 0, time.UTC)

	m, err := f.service.GrantMembership(actorCtx("alice"), GrantMembershipInput{
		RoleID:    7,
		Principal: "carol",
		Window:    authz.DateWindow{EndsOn: &end},
		Comment:   "semester access",
	})
	require.NoError(t, err)
	require.Equal(t, "carol", m.Principal)

	require.Len(t, f.auditor.entries, 1)
	entry := f.auditor.entries[0]
	require.Equal(t, "alice", entry.Actor)
	require.Equal(t, audit.KindCreate, entry.Kind)
	require.Equal(t, audit.EntityRoleMembership, entry.Entity)
	require.Equal(t, "semester access", entry.Meta["comment"])
	require.Equal(t, "2026-12-31", entry.Meta["ends_on"])

	require.Equal(t, []string{"carol"}, f.invalidator.invalidated)
	require.Equal(t, 1, f.runner.calls)
}

func TestGrantMembershipDelegatedAdmin(t *testing.T) {
	f := newGrantsFixture()
	f.store.controls["dept-admin"] = []int64{7}

	_, err := f.service.GrantMembership(actorCtx("dept-admin"), GrantMembershipInput{RoleID: 7, Principal: "carol"})
	require.NoError(t, err)

	// The same actor has no reach into roles outside the controlled set.
	_, err = f.service.GrantMembership(actorCtx("dept-admin"), GrantMembershipInput{RoleID: 8, Principal: "carol"})
	require.ErrorIs(t, err, shared.ErrDenied)
}

func TestGrantMembershipDuplicateSurfaces(t *testing.T) {
	f := newGrantsFixture()
	f.resolver.perms["alice"] = []string{shared.PermGrantsEdit}
	f.store.insertErr = shared.ErrDuplicate

	_, err := f.service.GrantMembership(actorCtx("alice"), GrantMembershipInput{RoleID: 7, Principal: "carol"})
	require.ErrorIs(t, err, shared.ErrDuplicate)
	require.Empty(t, f.auditor.entries)
	require.Empty(t, f.invalidator.invalidated)
}

func TestRevokeMembershipAuditsAndInvalidates(t *testing.T) {
	f := newGrantsFixture()
	f.resolver.perms["alice"] = []string{shared.PermGrantsEdit}

	err := f.service.RevokeMembership(actorCtx("alice"), RevokeMembershipInput{RoleID: 7, Principal: "carol"})
	require.NoError(t, err)
	require.Equal(t, []string{"carol"}, f.store.deleted)
	require.Len(t, f.auditor.entries, 1)
	require.Equal(t, audit.KindDelete, f.auditor.entries[0].Kind)
	require.Equal(t, []string{"carol"}, f.invalidator.invalidated)
}

func TestSetRolePermissionInvalidatesMembers(t *testing.T) {
	f := newGrantsFixture()
	f.resolver.perms["alice"] = []string{shared.PermGrantsEdit}
	f.store.roles[7] = authz.Role{ID: 7, Name: "registrar"}
	f.store.memberships[7] = []authz.RoleMembership{
		{ID: 1, RoleID: 7, Principal: "carol"},
		{ID: 2, RoleID: 7, Principal: "dave"},
	}

	err := f.service.SetRolePermission(actorCtx("alice"), SetRolePermissionInput{RoleID: 7, PermissionID: 3, Access: authz.AccessDeny})
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"carol", "dave"}, f.invalidator.invalidated)
	require.Zero(t, f.invalidator.bumps)
	require.Equal(t, "deny", f.auditor.entries[0].Meta["access"])
	require.Equal(t, "7:3", f.auditor.entries[0].EntityID)
}

func TestSetRolePermissionOnAllowAllBumpsGeneration(t *testing.T) {
	f := newGrantsFixture()
	f.resolver.perms["alice"] = []string{shared.PermGrantsEdit}
	f.store.roles[7] = authz.Role{ID: 7, Name: "everyone", AllowAll: true}

	err := f.service.SetRolePermission(actorCtx("alice"), SetRolePermissionInput{RoleID: 7, PermissionID: 3, Access: authz.AccessGrant})
	require.NoError(t, err)
	require.Equal(t, 1, f.invalidator.bumps)
	require.Empty(t, f.invalidator.invalidated)
}

func TestCreateRoleValidatesName(t *testing.T) {
	f := newGrantsFixture()
	f.resolver.perms["alice"] = []string{shared.PermRolesEdit}

	_, err := f.service.CreateRole(actorCtx("alice"), CreateRoleInput{Name: "   "})
	require.ErrorIs(t, err, shared.ErrValidation)
	require.Zero(t, f.store.writes)
}

func TestUpdateRoleBumpsGeneration(t *testing.T) {
	f := newGrantsFixture()
	f.resolver.perms["alice"] = []string{shared.PermRolesEdit}
	f.store.roles[7] = authz.Role{ID: 7, Name: "registrar"}

	_, err := f.service.UpdateRole(actorCtx("alice"), 7, UpdateRoleInput{Name: "registrar-office"})
	require.NoError(t, err)
	require.Equal(t, 1, f.invalidator.bumps)
}

func TestRevokeMemberPermissionKeepsPriorAccessInAudit(t *testing.T) {
	f := newGrantsFixture()
	f.resolver.perms["alice"] = []string{shared.PermGrantsEdit}

	err := f.service.RevokeMemberPermission(actorCtx("alice"), RevokeMemberPermissionInput{Principal: "carol", PermissionID: 3})
	require.NoError(t, err)
	require.Len(t, f.auditor.entries, 1)
	require.Equal(t, "grant", f.auditor.entries[0].Meta["access"])
	require.Equal(t, "carol:3", f.auditor.entries[0].EntityID)
	require.Equal(t, []string{"carol"}, f.invalidator.invalidated)
}

func TestSetControlledRolesRejectsNonApplicationRole(t *testing.T) {
	f := newGrantsFixture()
	f.resolver.perms["alice"] = []string{shared.PermRolesEdit}
	f.store.roles[7] = authz.Role{ID: 7, Name: "registrar"}

	err := f.service.SetControlledRoles(actorCtx("alice"), 7, []int64{8})
	require.ErrorIs(t, err, shared.ErrValidation)
}

func TestCreateAllowAllRoleBumpsGeneration(t *testing.T) {
	f := newGrantsFixture()
	f.resolver.perms["alice"] = []string{shared.PermRolesEdit}

	_, err := f.service.CreateRole(actorCtx("alice"), CreateRoleInput{Name: "everyone", AllowAll: true})
	require.NoError(t, err)
	require.Equal(t, 1, f.invalidator.bumps, "new allow-all role reaches every principal")

	// A memberless regular role cannot appear in any cached entry.
	_, err = f.service.CreateRole(actorCtx("alice"), CreateRoleInput{Name: "registrar"})
	require.NoError(t, err)
	require.Equal(t, 1, f.invalidator.bumps)
}

func TestInvalidationWaitsForCommit(t *testing.T) {
	f := newGrantsFixture()
	runner := &commitOrderRunner{invalidator: f.invalidator}
	f.service = NewService(runner, f.store, f.auditor, f.invalidator, f.resolver, nil)
	f.resolver.perms["alice"] = []string{shared.PermGrantsEdit}

	_, err := f.service.GrantMembership(actorCtx("alice"), GrantMembershipInput{RoleID: 7, Principal: "carol"})
	require.NoError(t, err)
	require.Zero(t, runner.atCommit, "eviction before commit can repopulate from pre-commit state")
	require.Equal(t, []string{"carol"}, f.invalidator.invalidated)
}

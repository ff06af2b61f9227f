package grants

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/meridian-edu/authcore/internal/authz"
	"github.com/meridian-edu/authcore/internal/shared"
)

const roleColumns = "id, name, display_name, view_name, allow_all, is_application, created_at, updated_at"

// Repository provides PostgreSQL backed persistence for grant mutations.
// Reads run against the pool; writes run inside the caller's transaction so
// the grant write, the audit entry and the cache invalidation commit as one
// unit.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// wrapWriteErr maps constraint violations onto the shared taxonomy.
func wrapWriteErr(op string, err error) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return fmt.Errorf("grants: %s: %w", op, shared.ErrDuplicate)
	}
	return fmt.Errorf("grants: %s: %w", op, err)
}

// --- roles ---

// ListRoles returns all roles ordered by name.
func (r *Repository) ListRoles(ctx context.Context) ([]authz.Role, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+roleColumns+` FROM roles ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("grants: list roles: %w", err)
	}
	return scanRoles(rows)
}

// GetRole fetches a role by ID.
func (r *Repository) GetRole(ctx context.Context, id int64) (authz.Role, error) {
	return scanRole(r.pool.QueryRow(ctx, `SELECT `+roleColumns+` FROM roles WHERE id = $1`, id))
}

// InsertRole creates a role.
func (r *Repository) InsertRole(ctx context.Context, tx pgx.Tx, in CreateRoleInput) (authz.Role, error) {
	role, err := scanRole(tx.QueryRow(ctx,
		`INSERT INTO roles (name, display_name, view_name, allow_all, is_application)
		 VALUES ($1, $2, $3, $4, $5) RETURNING `+roleColumns,
		in.Name, in.DisplayName, in.ViewName, in.AllowAll, in.Application))
	if err != nil {
		return authz.Role{}, wrapWriteErr("insert role", err)
	}
	return role, nil
}

// UpdateRole rewrites role attributes.
func (r *Repository) UpdateRole(ctx context.Context, tx pgx.Tx, id int64, in UpdateRoleInput) (authz.Role, error) {
	role, err := scanRole(tx.QueryRow(ctx,
		`UPDATE roles SET name = $2, display_name = $3, view_name = $4, allow_all = $5, is_application = $6, updated_at = now()
		 WHERE id = $1 RETURNING `+roleColumns,
		id, in.Name, in.DisplayName, in.ViewName, in.AllowAll, in.Application))
	if err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			return authz.Role{}, err
		}
		return authz.Role{}, wrapWriteErr("update role", err)
	}
	return role, nil
}

// DeleteRole removes a role and its dependent grants.
func (r *Repository) DeleteRole(ctx context.Context, tx pgx.Tx, id int64) error {
	tag, err := tx.Exec(ctx, `DELETE FROM roles WHERE id = $1`, id)
	if err != nil {
		return wrapWriteErr("delete role", err)
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}

// --- permissions ---

// ListPermissions returns all permissions ordered by name.
func (r *Repository) ListPermissions(ctx context.Context) ([]authz.Permission, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, name, description FROM permissions ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("grants: list permissions: %w", err)
	}
	defer rows.Close()
	var perms []authz.Permission
	for rows.Next() {
		var p authz.Permission
		if err := rows.Scan(&p.ID, &p.Name, &p.Description); err != nil {
			return nil, fmt.Errorf("grants: scan permission: %w", err)
		}
		perms = append(perms, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("grants: list permissions: %w", err)
	}
	return perms, nil
}

// GetPermission fetches a permission by ID.
func (r *Repository) GetPermission(ctx context.Context, id int64) (authz.Permission, error) {
	var p authz.Permission
	err := r.pool.QueryRow(ctx, `SELECT id, name, description FROM permissions WHERE id = $1`, id).
		Scan(&p.ID, &p.Name, &p.Description)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return authz.Permission{}, shared.ErrNotFound
		}
		return authz.Permission{}, fmt.Errorf("grants: get permission: %w", err)
	}
	return p, nil
}

// InsertPermission creates a permission.
func (r *Repository) InsertPermission(ctx context.Context, tx pgx.Tx, in CreatePermissionInput) (authz.Permission, error) {
	var p authz.Permission
	err := tx.QueryRow(ctx,
		`INSERT INTO permissions (name, description) VALUES ($1, $2) RETURNING id, name, description`,
		in.Name, in.Description).Scan(&p.ID, &p.Name, &p.Description)
	if err != nil {
		return authz.Permission{}, wrapWriteErr("insert permission", err)
	}
	return p, nil
}

// UpdatePermission rewrites a permission.
func (r *Repository) UpdatePermission(ctx context.Context, tx pgx.Tx, id int64, in CreatePermissionInput) (authz.Permission, error) {
	var p authz.Permission
	err := tx.QueryRow(ctx,
		`UPDATE permissions SET name = $2, description = $3 WHERE id = $1 RETURNING id, name, description`,
		id, in.Name, in.Description).Scan(&p.ID, &p.Name, &p.Description)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return authz.Permission{}, shared.ErrNotFound
		}
		return authz.Permission{}, wrapWriteErr("update permission", err)
	}
	return p, nil
}

// DeletePermission removes a permission and its dependent grants.
func (r *Repository) DeletePermission(ctx context.Context, tx pgx.Tx, id int64) error {
	tag, err := tx.Exec(ctx, `DELETE FROM permissions WHERE id = $1`, id)
	if err != nil {
		return wrapWriteErr("delete permission", err)
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}

// --- role memberships ---

// Membership fetches the single membership row for a (role, principal) pair.
func (r *Repository) Membership(ctx context.Context, roleID int64, principal string) (authz.RoleMembership, error) {
	return scanMembership(r.pool.QueryRow(ctx,
		`SELECT id, role_id, principal, starts_on, ends_on, view_name, created_at
		 FROM role_memberships WHERE role_id = $1 AND principal = $2`, roleID, principal))
}

// MembershipPrincipals lists every principal holding a row in the role,
// regardless of date window. Used to scope cache invalidation.
func (r *Repository) MembershipPrincipals(ctx context.Context, roleID int64) ([]string, error) {
	rows, err := r.pool.Query(ctx, `SELECT principal FROM role_memberships WHERE role_id = $1`, roleID)
	if err != nil {
		return nil, fmt.Errorf("grants: membership principals: %w", err)
	}
	defer rows.Close()
	var principals []string
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, fmt.Errorf("grants: scan principal: %w", err)
		}
		principals = append(principals, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("grants: membership principals: %w", err)
	}
	return principals, nil
}

// InsertMembership creates a membership row.
func (r *Repository) InsertMembership(ctx context.Context, tx pgx.Tx, in GrantMembershipInput) (authz.RoleMembership, error) {
	m, err := scanMembership(tx.QueryRow(ctx,
		`INSERT INTO role_memberships (role_id, principal, starts_on, ends_on, view_name)
		 VALUES ($1, $2, $3, $4, $5)
		 RETURNING id, role_id, principal, starts_on, ends_on, view_name, created_at`,
		in.RoleID, in.Principal, in.Window.StartsOn, in.Window.EndsOn, in.ViewName))
	if err != nil {
		return authz.RoleMembership{}, wrapWriteErr("insert membership", err)
	}
	return m, nil
}

// UpdateMembershipWindow rewrites the date window of a membership.
func (r *Repository) UpdateMembershipWindow(ctx context.Context, tx pgx.Tx, roleID int64, principal string, window authz.DateWindow) (authz.RoleMembership, error) {
	m, err := scanMembership(tx.QueryRow(ctx,
		`UPDATE role_memberships SET starts_on = $3, ends_on = $4 WHERE role_id = $1 AND principal = $2
		 RETURNING id, role_id, principal, starts_on, ends_on, view_name, created_at`,
		roleID, principal, window.StartsOn, window.EndsOn))
	if err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			return authz.RoleMembership{}, err
		}
		return authz.RoleMembership{}, wrapWriteErr("update membership", err)
	}
	return m, nil
}

// DeleteMembership removes a membership row, returning the removed row for
// the audit detail.
func (r *Repository) DeleteMembership(ctx context.Context, tx pgx.Tx, roleID int64, principal string) (authz.RoleMembership, error) {
	m, err := scanMembership(tx.QueryRow(ctx,
		`DELETE FROM role_memberships WHERE role_id = $1 AND principal = $2
		 RETURNING id, role_id, principal, starts_on, ends_on, view_name, created_at`,
		roleID, principal))
	if err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			return authz.RoleMembership{}, err
		}
		return authz.RoleMembership{}, wrapWriteErr("delete membership", err)
	}
	return m, nil
}

// --- role permissions ---

// RolePermission fetches the single link row for a (role, permission) pair.
func (r *Repository) RolePermission(ctx context.Context, roleID, permissionID int64) (authz.RolePermission, error) {
	var rp authz.RolePermission
	var access string
	err := r.pool.QueryRow(ctx,
		`SELECT role_id, permission_id, access FROM role_permissions WHERE role_id = $1 AND permission_id = $2`,
		roleID, permissionID).Scan(&rp.RoleID, &rp.PermissionID, &access)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return authz.RolePermission{}, shared.ErrNotFound
		}
		return authz.RolePermission{}, fmt.Errorf("grants: role permission: %w", err)
	}
	rp.Access = authz.Access(access)
	return rp, nil
}

// InsertRolePermission links a permission to a role.
func (r *Repository) InsertRolePermission(ctx context.Context, tx pgx.Tx, in SetRolePermissionInput) error {
	_, err := tx.Exec(ctx,
		`INSERT INTO role_permissions (role_id, permission_id, access) VALUES ($1, $2, $3)`,
		in.RoleID, in.PermissionID, string(in.Access))
	return wrapWriteErr("insert role permission", err)
}

// UpdateRolePermissionAccess flips the access leg of an existing link.
func (r *Repository) UpdateRolePermissionAccess(ctx context.Context, tx pgx.Tx, in SetRolePermissionInput) error {
	tag, err := tx.Exec(ctx,
		`UPDATE role_permissions SET access = $3 WHERE role_id = $1 AND permission_id = $2`,
		in.RoleID, in.PermissionID, string(in.Access))
	if err != nil {
		return wrapWriteErr("update role permission", err)
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}

// DeleteRolePermission unlinks a permission from a role.
func (r *Repository) DeleteRolePermission(ctx context.Context, tx pgx.Tx, roleID, permissionID int64) error {
	tag, err := tx.Exec(ctx,
		`DELETE FROM role_permissions WHERE role_id = $1 AND permission_id = $2`, roleID, permissionID)
	if err != nil {
		return wrapWriteErr("delete role permission", err)
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}

// --- member permissions ---

// MemberPermission fetches the single direct row for a (principal, permission) pair.
func (r *Repository) MemberPermission(ctx context.Context, principal string, permissionID int64) (authz.MemberPermission, error) {
	var mp authz.MemberPermission
	var access string
	err := r.pool.QueryRow(ctx,
		`SELECT id, principal, permission_id, access, starts_on, ends_on
		 FROM member_permissions WHERE principal = $1 AND permission_id = $2`,
		principal, permissionID).Scan(&mp.ID, &mp.Principal, &mp.PermissionID, &access, &mp.Window.StartsOn, &mp.Window.EndsOn)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return authz.MemberPermission{}, shared.ErrNotFound
		}
		return authz.MemberPermission{}, fmt.Errorf("grants: member permission: %w", err)
	}
	mp.Access = authz.Access(access)
	return mp, nil
}

// InsertMemberPermission creates a direct permission row.
func (r *Repository) InsertMemberPermission(ctx context.Context, tx pgx.Tx, in MemberPermissionInput) error {
	_, err := tx.Exec(ctx,
		`INSERT INTO member_permissions (principal, permission_id, access, starts_on, ends_on)
		 VALUES ($1, $2, $3, $4, $5)`,
		in.Principal, in.PermissionID, string(in.Access), in.Window.StartsOn, in.Window.EndsOn)
	return wrapWriteErr("insert member permission", err)
}

// UpdateMemberPermission rewrites the access leg and window of a direct row.
func (r *Repository) UpdateMemberPermission(ctx context.Context, tx pgx.Tx, in MemberPermissionInput) error {
	tag, err := tx.Exec(ctx,
		`UPDATE member_permissions SET access = $3, starts_on = $4, ends_on = $5
		 WHERE principal = $1 AND permission_id = $2`,
		in.Principal, in.PermissionID, string(in.Access), in.Window.StartsOn, in.Window.EndsOn)
	if err != nil {
		return wrapWriteErr("update member permission", err)
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}

// DeleteMemberPermission removes a direct permission row.
func (r *Repository) DeleteMemberPermission(ctx context.Context, tx pgx.Tx, principal string, permissionID int64) error {
	tag, err := tx.Exec(ctx,
		`DELETE FROM member_permissions WHERE principal = $1 AND permission_id = $2`, principal, permissionID)
	if err != nil {
		return wrapWriteErr("delete member permission", err)
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}

// --- controlled roles ---

// ControlledRoles lists the roles administratively controlled by an
// application role.
func (r *Repository) ControlledRoles(ctx context.Context, appRoleID int64) ([]authz.Role, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT r.id, r.name, r.display_name, r.view_name, r.allow_all, r.is_application, r.created_at, r.updated_at
		 FROM controlled_roles cr JOIN roles r ON r.id = cr.controlled_role_id
		 WHERE cr.application_role_id = $1 ORDER BY r.name`, appRoleID)
	if err != nil {
		return nil, fmt.Errorf("grants: controlled roles: %w", err)
	}
	return scanRoles(rows)
}

// SetControlledRoles replaces the controlled-role set of an application role.
func (r *Repository) SetControlledRoles(ctx context.Context, tx pgx.Tx, appRoleID int64, roleIDs []int64) error {
	if _, err := tx.Exec(ctx, `DELETE FROM controlled_roles WHERE application_role_id = $1`, appRoleID); err != nil {
		return wrapWriteErr("clear controlled roles", err)
	}
	for _, id := range roleIDs {
		if _, err := tx.Exec(ctx,
			`INSERT INTO controlled_roles (application_role_id, controlled_role_id) VALUES ($1, $2)`,
			appRoleID, id); err != nil {
			return wrapWriteErr("insert controlled role", err)
		}
	}
	return nil
}

// ControlsRole reports whether the principal holds an active membership in an
// application role that controls the target role.
func (r *Repository) ControlsRole(ctx context.Context, principal string, roleID int64, at time.Time) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx,
		`SELECT EXISTS (
		   SELECT 1 FROM controlled_roles cr
		   JOIN roles ar ON ar.id = cr.application_role_id AND ar.is_application
		   JOIN role_memberships m ON m.role_id = ar.id AND m.principal = $1
		   WHERE cr.controlled_role_id = $2
		     AND (m.starts_on IS NULL OR m.starts_on <= $3)
		     AND (m.ends_on IS NULL OR m.ends_on >= $3)
		 )`, principal, roleID, at).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("grants: controls role: %w", err)
	}
	return exists, nil
}

// --- scan helpers ---

func scanRole(row pgx.Row) (authz.Role, error) {
	var role authz.Role
	err := row.Scan(&role.ID, &role.Name, &role.DisplayName, &role.ViewName, &role.AllowAll, &role.Application, &role.CreatedAt, &role.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return authz.Role{}, shared.ErrNotFound
		}
		return authz.Role{}, fmt.Errorf("grants: scan role: %w", err)
	}
	return role, nil
}

func scanRoles(rows pgx.Rows) ([]authz.Role, error) {
	defer rows.Close()
	var roles []authz.Role
	for rows.Next() {
		var role authz.Role
		if err := rows.Scan(&role.ID, &role.Name, &role.DisplayName, &role.ViewName, &role.AllowAll, &role.Application, &role.CreatedAt, &role.UpdatedAt); err != nil {
			return nil, fmt.Errorf("grants: scan role: %w", err)
		}
		roles = append(roles, role)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("grants: scan roles: %w", err)
	}
	return roles, nil
}

func scanMembership(row pgx.Row) (authz.RoleMembership, error) {
	var m authz.RoleMembership
	err := row.Scan(&m.ID, &m.RoleID, &m.Principal, &m.Window.StartsOn, &m.Window.EndsOn, &m.ViewName, &m.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return authz.RoleMembership{}, shared.ErrNotFound
		}
		return authz.RoleMembership{}, fmt.Errorf("grants: scan membership: %w", err)
	}
	return m, nil
}

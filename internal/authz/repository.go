package authz

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// activeWindowSQL renders the date-window activity predicate for the given
// table alias and time placeholder. Every query that filters grants by date
// goes through this one template so role-based and permission-based
// resolution can never diverge.
func activeWindowSQL(alias, at string) string {
	return fmt.Sprintf(
		"(%[1]s.starts_on IS NULL OR %[1]s.starts_on <= %[2]s) AND (%[1]s.ends_on IS NULL OR %[1]s.ends_on >= %[2]s)",
		alias, at,
	)
}

var (
	queryActiveRoles = fmt.Sprintf(`SELECT r.id, r.name, r.display_name, r.view_name, r.allow_all, r.is_application, r.created_at, r.updated_at
FROM roles r
LEFT JOIN role_memberships m ON m.role_id = r.id AND m.principal = $1
WHERE r.allow_all OR (m.id IS NOT NULL AND %s)
ORDER BY r.name`, activeWindowSQL("m", "$2"))

	queryAssignedPermissions = fmt.Sprintf(`SELECT p.name
FROM member_permissions mp
JOIN permissions p ON p.id = mp.permission_id
WHERE mp.principal = $1 AND mp.access = $2 AND %s
ORDER BY p.name`, activeWindowSQL("mp", "$3"))

	queryInheritedPermissions = fmt.Sprintf(`SELECT DISTINCT p.name
FROM role_permissions rp
JOIN permissions p ON p.id = rp.permission_id
JOIN roles r ON r.id = rp.role_id
LEFT JOIN role_memberships m ON m.role_id = r.id AND m.principal = $1
WHERE rp.access = $2 AND (r.allow_all OR (m.id IS NOT NULL AND %s))
ORDER BY p.name`, activeWindowSQL("m", "$3"))
)

// Repository provides read access to the grant store for resolution.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// ActiveRoles returns the roles held by the principal at instant t, including
// allow-all roles that every principal implicitly holds.
func (r *Repository) ActiveRoles(ctx context.Context, principal string, t time.Time) ([]Role, error) {
	rows, err := r.pool.Query(ctx, queryActiveRoles, principal, t)
	if err != nil {
		return nil, fmt.Errorf("authz: active roles: %w", err)
	}
	defer rows.Close()
	var roles []Role
	for rows.Next() {
		var role Role
		if err := rows.Scan(&role.ID, &role.Name, &role.DisplayName, &role.ViewName, &role.AllowAll, &role.Application, &role.CreatedAt, &role.UpdatedAt); err != nil {
			return nil, fmt.Errorf("authz: scan role: %w", err)
		}
		roles = append(roles, role)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("authz: active roles: %w", err)
	}
	return roles, nil
}

// AssignedPermissions returns names of the principal's direct grants on the
// given access leg active at instant t.
func (r *Repository) AssignedPermissions(ctx context.Context, principal string, access Access, t time.Time) ([]string, error) {
	return r.queryNames(ctx, queryAssignedPermissions, principal, string(access), t)
}

// InheritedPermissions returns permission names reached through active role
// memberships on the given access leg at instant t.
func (r *Repository) InheritedPermissions(ctx context.Context, principal string, access Access, t time.Time) ([]string, error) {
	return r.queryNames(ctx, queryInheritedPermissions, principal, string(access), t)
}

func (r *Repository) queryNames(ctx context.Context, query string, args ...any) ([]string, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("authz: query permissions: %w", err)
	}
	defer rows.Close()
	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("authz: scan permission: %w", err)
		}
		names = append(names, name)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("authz: query permissions: %w", err)
	}
	return names, nil
}

// RoleByName fetches a role by its unique name.
func (r *Repository) RoleByName(ctx context.Context, name string) (Role, error) {
	return r.scanRole(r.pool.QueryRow(ctx, `SELECT id, name, display_name, view_name, allow_all, is_application, created_at, updated_at FROM roles WHERE lower(name) = lower($1)`, name))
}

// RoleByID fetches a role by ID.
func (r *Repository) RoleByID(ctx context.Context, id int64) (Role, error) {
	return r.scanRole(r.pool.QueryRow(ctx, `SELECT id, name, display_name, view_name, allow_all, is_application, created_at, updated_at FROM roles WHERE id = $1`, id))
}

// ViewRoles returns all roles whose membership tracks an external view.
func (r *Repository) ViewRoles(ctx context.Context) ([]Role, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, name, display_name, view_name, allow_all, is_application, created_at, updated_at FROM roles WHERE view_name <> '' ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("authz: view roles: %w", err)
	}
	defer rows.Close()
	var roles []Role
	for rows.Next() {
		var role Role
		if err := rows.Scan(&role.ID, &role.Name, &role.DisplayName, &role.ViewName, &role.AllowAll, &role.Application, &role.CreatedAt, &role.UpdatedAt); err != nil {
			return nil, fmt.Errorf("authz: scan role: %w", err)
		}
		roles = append(roles, role)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("authz: view roles: %w", err)
	}
	return roles, nil
}

func (r *Repository) scanRole(row pgx.Row) (Role, error) {
	var role Role
	err := row.Scan(&role.ID, &role.Name, &role.DisplayName, &role.ViewName, &role.AllowAll, &role.Application, &role.CreatedAt, &role.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Role{}, ErrNotFound
		}
		return Role{}, fmt.Errorf("authz: scan role: %w", err)
	}
	return role, nil
}

package clone

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/meridian-edu/authcore/internal/authz"
)

// Repository reads the grant rows the diff engine compares.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// InstanceRoles lists roles whose name carries the instance prefix.
func (r *Repository) InstanceRoles(ctx context.Context, instance string) ([]authz.Role, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, name, display_name, view_name, allow_all, is_application, created_at, updated_at
		FROM roles
		WHERE name LIKE $1 || '.%'
		ORDER BY name`, instance)
	if err != nil {
		return nil, fmt.Errorf("clone: query instance roles: %w", err)
	}
	defer rows.Close()

	var roles []authz.Role
	for rows.Next() {
		var role authz.Role
		if err := rows.Scan(&role.ID, &role.Name, &role.DisplayName, &role.ViewName, &role.AllowAll, &role.Application, &role.CreatedAt, &role.UpdatedAt); err != nil {
			return nil, fmt.Errorf("clone: scan instance role: %w", err)
		}
		roles = append(roles, role)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("clone: read instance roles: %w", err)
	}
	return roles, nil
}

// InstancePermissions lists permissions whose name carries the instance prefix.
func (r *Repository) InstancePermissions(ctx context.Context, instance string) ([]authz.Permission, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, name, description
		FROM permissions
		WHERE name LIKE $1 || '.%'
		ORDER BY name`, instance)
	if err != nil {
		return nil, fmt.Errorf("clone: query instance permissions: %w", err)
	}
	defer rows.Close()

	var perms []authz.Permission
	for rows.Next() {
		var p authz.Permission
		if err := rows.Scan(&p.ID, &p.Name, &p.Description); err != nil {
			return nil, fmt.Errorf("clone: scan instance permission: %w", err)
		}
		perms = append(perms, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("clone: read instance permissions: %w", err)
	}
	return perms, nil
}

// Memberships maps roleID to the principal's membership row for every role
// the principal holds inside the instance prefix.
func (r *Repository) Memberships(ctx context.Context, instance, principal string) (map[int64]authz.RoleMembership, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT m.id, m.role_id, m.principal, m.starts_on, m.ends_on, m.view_name, m.created_at
		FROM role_memberships m
		JOIN roles r ON r.id = m.role_id
		WHERE m.principal = $2 AND r.name LIKE $1 || '.%'`, instance, principal)
	if err != nil {
		return nil, fmt.Errorf("clone: query memberships: %w", err)
	}
	defer rows.Close()

	out := map[int64]authz.RoleMembership{}
	for rows.Next() {
		var m authz.RoleMembership
		if err := rows.Scan(&m.ID, &m.RoleID, &m.Principal, &m.Window.StartsOn, &m.Window.EndsOn, &m.ViewName, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("clone: scan membership: %w", err)
		}
		out[m.RoleID] = m
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("clone: read memberships: %w", err)
	}
	return out, nil
}

// MemberPermissions maps permissionID to the principal's direct permission
// row for every permission inside the instance prefix.
func (r *Repository) MemberPermissions(ctx context.Context, instance, principal string) (map[int64]authz.MemberPermission, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT mp.id, mp.principal, mp.permission_id, mp.access, mp.starts_on, mp.ends_on
		FROM member_permissions mp
		JOIN permissions p ON p.id = mp.permission_id
		WHERE mp.principal = $2 AND p.name LIKE $1 || '.%'`, instance, principal)
	if err != nil {
		return nil, fmt.Errorf("clone: query member permissions: %w", err)
	}
	defer rows.Close()

	out := map[int64]authz.MemberPermission{}
	for rows.Next() {
		var mp authz.MemberPermission
		if err := rows.Scan(&mp.ID, &mp.Principal, &mp.PermissionID, &mp.Access, &mp.Window.StartsOn, &mp.Window.EndsOn); err != nil {
			return nil, fmt.Errorf("clone: scan member permission: %w", err)
		}
		out[mp.PermissionID] = mp
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("clone: read member permissions: %w", err)
	}
	return out, nil
}

package reconcile

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/meridian-edu/authcore/internal/authz"
	"github.com/meridian-edu/authcore/internal/shared"
)

// Repository reads and writes the membership rows reconciliation manages.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Role fetches one role by id.
func (r *Repository) Role(ctx context.Context, id int64) (authz.Role, error) {
	var role authz.Role
	err := r.pool.QueryRow(ctx, `
		SELECT id, name, display_name, view_name, allow_all, is_application, created_at, updated_at
		FROM roles WHERE id = $1`, id).
		Scan(&role.ID, &role.Name, &role.DisplayName, &role.ViewName, &role.AllowAll, &role.Application, &role.CreatedAt, &role.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return authz.Role{}, shared.ErrNotFound
		}
		return authz.Role{}, fmt.Errorf("reconcile: query role: %w", err)
	}
	return role, nil
}

// ViewRoles lists every role bound to a membership view.
func (r *Repository) ViewRoles(ctx context.Context) ([]authz.Role, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, name, display_name, view_name, allow_all, is_application, created_at, updated_at
		FROM roles WHERE view_name <> '' ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("reconcile: query view roles: %w", err)
	}
	defer rows.Close()

	var roles []authz.Role
	for rows.Next() {
		var role authz.Role
		if err := rows.Scan(&role.ID, &role.Name, &role.DisplayName, &role.ViewName, &role.AllowAll, &role.Application, &role.CreatedAt, &role.UpdatedAt); err != nil {
			return nil, fmt.Errorf("reconcile: scan view role: %w", err)
		}
		roles = append(roles, role)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reconcile: read view roles: %w", err)
	}
	return roles, nil
}

// RoleMemberships lists every membership row of a role, dated or not,
// manual or view-managed.
func (r *Repository) RoleMemberships(ctx context.Context, roleID int64) ([]authz.RoleMembership, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, role_id, principal, starts_on, ends_on, view_name, created_at
		FROM role_memberships WHERE role_id = $1 ORDER BY principal`, roleID)
	if err != nil {
		return nil, fmt.Errorf("reconcile: query memberships: %w", err)
	}
	defer rows.Close()

	var memberships []authz.RoleMembership
	for rows.Next() {
		var m authz.RoleMembership
		if err := rows.Scan(&m.ID, &m.RoleID, &m.Principal, &m.Window.StartsOn, &m.Window.EndsOn, &m.ViewName, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("reconcile: scan membership: %w", err)
		}
		memberships = append(memberships, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reconcile: read memberships: %w", err)
	}
	return memberships, nil
}

// InsertMembership creates an undated view-managed membership row.
func (r *Repository) InsertMembership(ctx context.Context, tx pgx.Tx, roleID int64, principal, viewName string) (authz.RoleMembership, error) {
	var m authz.RoleMembership
	err := tx.QueryRow(ctx, `
		INSERT INTO role_memberships (role_id, principal, view_name)
		VALUES ($1, $2, $3)
		RETURNING id, role_id, principal, starts_on, ends_on, view_name, created_at`,
		roleID, principal, viewName).
		Scan(&m.ID, &m.RoleID, &m.Principal, &m.Window.StartsOn, &m.Window.EndsOn, &m.ViewName, &m.CreatedAt)
	if err != nil {
		return authz.RoleMembership{}, fmt.Errorf("reconcile: insert membership: %w", err)
	}
	return m, nil
}

// DeleteMembership removes one membership row by id.
func (r *Repository) DeleteMembership(ctx context.Context, tx pgx.Tx, id int64) error {
	tag, err := tx.Exec(ctx, `DELETE FROM role_memberships WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("reconcile: delete membership: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}

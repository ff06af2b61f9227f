package shared

// Capabilities guarding the authorization core's own administrative surface.
const (
	PermRolesView = "authz.roles.view"
	PermRolesEdit = "authz.roles.edit"

	PermPermissionsView = "authz.permissions.view"
	PermPermissionsEdit = "authz.permissions.edit"

	PermGrantsView = "authz.grants.view"
	PermGrantsEdit = "authz.grants.edit"

	PermCloneRoles       = "authz.clone.roles"
	PermClonePermissions = "authz.clone.permissions"

	PermAuditView    = "authz.audit.view"
	PermReconcileRun = "authz.reconcile.run"
)

// CoreScopes lists every capability owned by the authorization core.
func CoreScopes() []string {
	return []string{
		PermRolesView,
		PermRolesEdit,
		PermPermissionsView,
		PermPermissionsEdit,
		PermGrantsView,
		PermGrantsEdit,
		PermCloneRoles,
		PermClonePermissions,
		PermAuditView,
		PermReconcileRun,
	}
}

package identity

// PermissionCategory groups permission codes by the surface they govern.
type PermissionCategory string

const (
	CategoryOrganizations PermissionCategory = "organizations"
	CategoryUsers         PermissionCategory = "users"
	CategoryRoles         PermissionCategory = "roles"
	CategorySettings      PermissionCategory = "settings"
	CategoryAuditLogs     PermissionCategory = "auditlogs"
	CategoryDashboard     PermissionCategory = "dashboard"
)

// SuperAdminRole grants every operation without code-level enumeration. The
// check is by role name so the role does not need to track the full
// permission catalog.
const SuperAdminRole = "Super Admin"

const (
	PermOrganizationsView   = "organizations.view"
	PermOrganizationsCreate = "organizations.create"
	PermOrganizationsUpdate = "organizations.update"
	PermOrganizationsDelete = "organizations.delete"
	PermOrganizationsManage = "organizations.manage"

	PermSubOrgsView   = "suborgs.view"
	PermSubOrgsCreate = "suborgs.create"
	PermSubOrgsUpdate = "suborgs.update"
	PermSubOrgsDelete = "suborgs.delete"
	PermSubOrgsManage = "suborgs.manage"

	PermUsersView        = "users.view"
	PermUsersCreate      = "users.create"
	PermUsersUpdate      = "users.update"
	PermUsersDelete      = "users.delete"
	PermUsersManage      = "users.manage"
	PermUsersAssignRoles = "users.assignroles"

	PermRolesView   = "roles.view"
	PermRolesCreate = "roles.create"
	PermRolesUpdate = "roles.update"
	PermRolesDelete = "roles.delete"
	PermRolesManage = "roles.manage"

	PermAuditLogsView = "auditlogs.view"
	PermDashboardView = "dashboard.view"

	PermSettingsView   = "settings.view"
	PermSettingsManage = "settings.manage"
)

// BuiltinPermissions is the immutable permission catalog seeded at startup.
var BuiltinPermissions = []Permission{
	{Code: PermOrganizationsView, Name: "View organizations", Category: CategoryOrganizations},
	{Code: PermOrganizationsCreate, Name: "Create organizations", Category: CategoryOrganizations},
	{Code: PermOrganizationsUpdate, Name: "Update organizations", Category: CategoryOrganizations},
	{Code: PermOrganizationsDelete, Name: "Delete organizations", Category: CategoryOrganizations},
	{Code: PermOrganizationsManage, Name: "Manage organizations", Category: CategoryOrganizations},
	{Code: PermSubOrgsView, Name: "View sub-organizations", Category: CategoryOrganizations},
	{Code: PermSubOrgsCreate, Name: "Create sub-organizations", Category: CategoryOrganizations},
	{Code: PermSubOrgsUpdate, Name: "Update sub-organizations", Category: CategoryOrganizations},
	{Code: PermSubOrgsDelete, Name: "Delete sub-organizations", Category: CategoryOrganizations},
	{Code: PermSubOrgsManage, Name: "Manage sub-organizations", Category: CategoryOrganizations},
	{Code: PermUsersView, Name: "View users", Category: CategoryUsers},
	{Code: PermUsersCreate, Name: "Create users", Category: CategoryUsers},
	{Code: PermUsersUpdate, Name: "Update users", Category: CategoryUsers},
	{Code: PermUsersDelete, Name: "Delete users", Category: CategoryUsers},
	{Code: PermUsersManage, Name: "Manage users", Category: CategoryUsers},
	{Code: PermUsersAssignRoles, Name: "Assign roles to users", Category: CategoryUsers},
	{Code: PermRolesView, Name: "View roles", Category: CategoryRoles},
	{Code: PermRolesCreate, Name: "Create roles", Category: CategoryRoles},
	{Code: PermRolesUpdate, Name: "Update roles", Category: CategoryRoles},
	{Code: PermRolesDelete, Name: "Delete roles", Category: CategoryRoles},
	{Code: PermRolesManage, Name: "Manage roles", Category: CategoryRoles},
	{Code: PermAuditLogsView, Name: "View audit logs", Category: CategoryAuditLogs},
	{Code: PermDashboardView, Name: "View dashboard", Category: CategoryDashboard},
	{Code: PermSettingsView, Name: "View settings", Category: CategorySettings},
	{Code: PermSettingsManage, Name: "Manage settings", Category: CategorySettings},
}

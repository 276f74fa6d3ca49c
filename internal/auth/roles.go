package auth

import "slices"

// Role is the authorisation tier carried in an operator token.
type Role string

const (
	// RoleViewer may read device lists, queues and the live event feed.
	RoleViewer Role = "viewer"

	// RoleOperator may additionally trust devices, trigger scans and send
	// commands.
	RoleOperator Role = "operator"
)

// ValidRoles lists the roles a token may carry.
var ValidRoles = []Role{RoleViewer, RoleOperator}

// IsValidRole reports whether r is a known role.
func IsValidRole(r Role) bool {
	return slices.Contains(ValidRoles, r)
}

// Permission is a named capability checked by the API.
type Permission string

const (
	PermDeviceRead    Permission = "device:read"
	PermDeviceTrust   Permission = "device:trust"
	PermDiscoveryScan Permission = "discovery:scan"
	PermCommandSend   Permission = "command:send"
)

// rolePermissions is the single source of truth for what each role may do.
var rolePermissions = map[Role][]Permission{
	RoleViewer: {
		PermDeviceRead,
	},
	RoleOperator: {
		PermDeviceRead,
		PermDeviceTrust,
		PermDiscoveryScan,
		PermCommandSend,
	},
}

// HasPermission reports whether role grants perm.
func HasPermission(role Role, perm Permission) bool {
	return slices.Contains(rolePermissions[role], perm)
}

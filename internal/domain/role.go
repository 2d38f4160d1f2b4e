package domain

import "slices"

type Role string

const (
	RoleSuperAdmin Role = "super_admin"
	RoleOwner      Role = "owner"
	RoleManager    Role = "manager"
	RoleStaff      Role = "staff"
)

const (
	CapabilitySessionsRead         = "sessions:read"
	CapabilitySessionsRevoke       = "sessions:revoke"
	CapabilityTenantSessionsRevoke = "tenant:sessions:revoke"
	CapabilityUsersRead            = "users:read"
	CapabilityUsersWrite           = "users:write"
	CapabilityInventoryRead        = "inventory:read"
	CapabilityInventoryWrite       = "inventory:write"
	CapabilitySalesRead            = "sales:read"
	CapabilitySalesWrite           = "sales:write"
	CapabilityReportsRead          = "reports:read"
)

var roleCapabilities = map[Role][]string{
	RoleSuperAdmin: {
		CapabilitySessionsRead, CapabilitySessionsRevoke, CapabilityTenantSessionsRevoke,
		CapabilityUsersRead, CapabilityUsersWrite,
		CapabilityInventoryRead, CapabilityInventoryWrite,
		CapabilitySalesRead, CapabilitySalesWrite, CapabilityReportsRead,
	},
	RoleOwner: {
		CapabilitySessionsRead, CapabilitySessionsRevoke, CapabilityTenantSessionsRevoke,
		CapabilityUsersRead, CapabilityUsersWrite,
		CapabilityInventoryRead, CapabilityInventoryWrite,
		CapabilitySalesRead, CapabilitySalesWrite, CapabilityReportsRead,
	},
	RoleManager: {
		CapabilitySessionsRead, CapabilitySessionsRevoke,
		CapabilityUsersRead,
		CapabilityInventoryRead, CapabilityInventoryWrite,
		CapabilitySalesRead, CapabilitySalesWrite, CapabilityReportsRead,
	},
	RoleStaff: {
		CapabilitySessionsRead, CapabilitySessionsRevoke,
		CapabilityInventoryRead, CapabilitySalesRead, CapabilitySalesWrite,
	},
}

// CapabilitiesFor returns a copy of the static capability set for role.
func CapabilitiesFor(role Role) []string {
	return append([]string(nil), roleCapabilities[role]...)
}

func (r Role) Valid() bool {
	_, ok := roleCapabilities[r]
	return ok
}

func HasCapability(capabilities []string, required string) bool {
	return slices.Contains(capabilities, required)
}

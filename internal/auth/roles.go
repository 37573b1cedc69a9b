package auth

import "pool_gateway/internal/models"

// Role represents a caller role for access control
type Role string

const (
	// RoleAdmin may change runtime settings
	RoleAdmin Role = "admin"

	// RoleMember may call the gateway and manage its own credentials
	RoleMember Role = "member"
)

// String returns the string representation of the role
func (r Role) String() string {
	return string(r)
}

// RoleOf returns the role of an owner
func RoleOf(owner *models.Owner) Role {
	if owner != nil && owner.IsAdmin {
		return RoleAdmin
	}
	return RoleMember
}

// HasPermission checks if a role has permission for a required role.
// Admin has all permissions.
func (r Role) HasPermission(required Role) bool {
	if r == RoleAdmin {
		return true
	}
	return r == required
}

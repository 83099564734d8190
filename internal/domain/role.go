package domain

import "strings"

// Role is an authorization tag carried by a principal. Roles are compared by
// equality only.
type Role string

const (
	RoleSuperAdmin Role = "SUPER_ADMIN"
	RoleAdmin      Role = "ADMIN"
	RoleUser       Role = "USER"
)

// KnownRoles lists the closed set of roles issued by the identity service.
func KnownRoles() []Role {
	return []Role{RoleSuperAdmin, RoleAdmin, RoleUser}
}

func (r Role) String() string {
	return string(r)
}

// JoinRoles renders roles comma-separated, preserving order and duplicates.
func JoinRoles(roles []Role) string {
	var b strings.Builder
	for i, r := range roles {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(string(r))
	}
	return b.String()
}

// RoleNames converts roles to plain strings for wire encoding.
func RoleNames(roles []Role) []string {
	if len(roles) == 0 {
		return nil
	}
	names := make([]string, len(roles))
	for i, r := range roles {
		names[i] = string(r)
	}
	return names
}

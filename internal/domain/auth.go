package domain

import "fmt"

// Role is the caller's role as asserted by the external identity provider.
type Role string

const (
	RoleCitizen    Role = "Citizen"
	RoleWorker     Role = "Worker"
	RoleAdmin      Role = "Admin"
	RoleSuperAdmin Role = "SuperAdmin"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	switch r {
	case RoleCitizen, RoleWorker, RoleAdmin, RoleSuperAdmin:
		return true
	}
	return false
}

// Principal represents the authenticated caller.
type Principal struct {
	UserID     string
	Role       Role
	Department string
	Name       string
}

// IsStaff reports administrative roles.
func (p Principal) IsStaff() bool {
	return p.Role == RoleAdmin || p.Role == RoleSuperAdmin
}

// Label renders the principal for audit attribution, e.g. "Worker (Asha Rao)".
func (p Principal) Label() string {
	name := p.Name
	if name == "" {
		name = p.UserID
	}
	return fmt.Sprintf("%s (%s)", p.Role, name)
}

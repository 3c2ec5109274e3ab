package model

// Role is the closed set of access levels a principal can hold within an
// organization. Roles are mutually exclusive; there is no hierarchy beyond
// the explicit guard checks in the middleware package.
type Role string

const (
	RoleAdmin  Role = "admin"
	RoleViewer Role = "viewer"
	RoleUser   Role = "user"
)

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	switch r {
	case RoleAdmin, RoleViewer, RoleUser:
		return true
	}
	return false
}

// Roles lists every known role, in display order.
func Roles() []Role {
	return []Role{RoleAdmin, RoleViewer, RoleUser}
}

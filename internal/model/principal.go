package model

// Role is the coarse permission level carried by a principal.
type Role string

const (
	RoleAnonymous  Role = "anonymous"
	RoleUser       Role = "user"
	RoleAdmin      Role = "admin"
	RoleSuperAdmin Role = "super_admin"
)

// ParseRole maps a claim value onto a Role. Unknown values degrade to
// RoleUser because the token itself already proved authentication.
func ParseRole(s string) Role {
	switch Role(s) {
	case RoleUser, RoleAdmin, RoleSuperAdmin:
		return Role(s)
	case RoleAnonymous:
		return RoleAnonymous
	default:
		return RoleUser
	}
}

// Principal is the actor performing an operation.
type Principal struct {
	ID   string `json:"id"`
	Role Role   `json:"role"`
}

// Anonymous is the principal used whenever no valid credential is presented.
var Anonymous = Principal{Role: RoleAnonymous}

// Authenticated reports whether the principal carries an identity.
func (p Principal) Authenticated() bool {
	return p.ID != "" && p.Role != RoleAnonymous
}

package domain

import "time"

// Principal represents an authenticated caller. A principal holds at most one
// role; the zero Role means the identity service assigned none.
type Principal struct {
	ID        string
	Email     string
	Role      Role
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// Principal field names understood by Field. They match the JWT claim names
// the identity service issues.
const (
	FieldID        = "sub"
	FieldEmail     = "email"
	FieldRole      = "role"
	FieldIssuedAt  = "iat"
	FieldExpiresAt = "exp"
)

// HasRole reports whether the principal's role equals r.
func (p Principal) HasRole(r Role) bool {
	return p.Role != "" && p.Role == r
}

// HasAnyRole reports whether the principal's role is one of roles.
func (p Principal) HasAnyRole(roles []Role) bool {
	for _, r := range roles {
		if p.HasRole(r) {
			return true
		}
	}
	return false
}

// Field returns the value of the named field. Unknown names and unset
// optional fields report false.
func (p Principal) Field(name string) (any, bool) {
	switch name {
	case FieldID, "id":
		return p.ID, p.ID != ""
	case FieldEmail:
		return p.Email, p.Email != ""
	case FieldRole:
		return p.Role, p.Role != ""
	case FieldIssuedAt:
		return p.IssuedAt, !p.IssuedAt.IsZero()
	case FieldExpiresAt:
		return p.ExpiresAt, !p.ExpiresAt.IsZero()
	default:
		return nil, false
	}
}

package auth

import "errors"

// Role represents an authorisation tier for API clients.
type Role string

const (
	// RoleViewer can read devices, history and pairing flows.
	RoleViewer Role = "viewer"

	// RoleOperator can additionally change entity values.
	RoleOperator Role = "operator"

	// RoleAdmin can additionally pair and remove devices.
	RoleAdmin Role = "admin"
)

// ValidRoles is the set of roles a token may carry.
var ValidRoles = []Role{RoleViewer, RoleOperator, RoleAdmin}

// IsValidRole returns true if r is one of ValidRoles.
func IsValidRole(r Role) bool {
	for _, v := range ValidRoles {
		if r == v {
			return true
		}
	}
	return false
}

// Sentinel errors for auth operations.
var (
	ErrTokenInvalid = errors.New("invalid token")
	ErrInvalidRole  = errors.New("invalid role")
	ErrForbidden    = errors.New("insufficient permissions")
	ErrNoSecret     = errors.New("jwt secret not configured")
)

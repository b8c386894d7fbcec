package authz

import (
	"errors"
	"fmt"
)

// Role is the closed set of identity roles.
type Role string

const (
	RoleStudent Role = "student"
	RoleTeacher Role = "teacher"
	RoleAdmin   Role = "admin"
)

// ErrForbidden is returned when an identity's role does not satisfy a gate.
var ErrForbidden = errors.New("forbidden")

// ParseRole validates a raw role string against the closed set.
func ParseRole(s string) (Role, error) {
	switch Role(s) {
	case RoleStudent, RoleTeacher, RoleAdmin:
		return Role(s), nil
	}
	return "", fmt.Errorf("unknown role %q", s)
}

// Requires checks that role satisfies the gate. An empty allowed set means
// any authenticated identity. Admin satisfies every non-empty requirement.
func Requires(role Role, allowed ...Role) error {
	if len(allowed) == 0 {
		return nil
	}
	if role == RoleAdmin {
		return nil
	}
	for _, a := range allowed {
		if role == a {
			return nil
		}
	}
	return ErrForbidden
}

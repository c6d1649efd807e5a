package model

import (
	"fmt"
	"strings"
)

// Role is a principal's privilege level. Roles are totally ordered:
// Anonymous < User < Moderator < Admin, and a higher role subsumes every
// lower one.
type Role int

const (
	RoleAnonymous Role = iota
	RoleUser
	RoleModerator
	RoleAdmin
)

var roleNames = map[Role]string{
	RoleAnonymous: "ANONYMOUS",
	RoleUser:      "USER",
	RoleModerator: "MODERATOR",
	RoleAdmin:     "ADMIN",
}

func (r Role) String() string {
	if n, ok := roleNames[r]; ok {
		return n
	}
	return fmt.Sprintf("Role(%d)", int(r))
}

// Valid reports whether r is one of the declared roles.
func (r Role) Valid() bool {
	_, ok := roleNames[r]
	return ok
}

// Satisfies reports whether r meets the required minimum role.
func (r Role) Satisfies(required Role) bool {
	return r.Valid() && r >= required
}

// ParseRole converts a stored or claimed role name. Unknown names parse as
// RoleAnonymous with ok=false.
func ParseRole(s string) (Role, bool) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "USER", "CUSTOMER":
		return RoleUser, true
	case "MODERATOR":
		return RoleModerator, true
	case "ADMIN":
		return RoleAdmin, true
	case "ANONYMOUS":
		return RoleAnonymous, true
	}
	return RoleAnonymous, false
}

func (r Role) MarshalText() ([]byte, error) { return []byte(r.String()), nil }

func (r *Role) UnmarshalText(b []byte) error {
	v, ok := ParseRole(string(b))
	if !ok {
		return fmt.Errorf("unknown role %q", string(b))
	}
	*r = v
	return nil
}

// AnonymousActor is the audit actor recorded when no principal was resolved.
const AnonymousActor = "anonymous"

// Principal is the authenticated caller, resolved from a verified access
// token by the HTTP layer.
type Principal struct {
	ID        string
	Email     string
	Role      Role
	SessionID string
}

// Anonymous returns the principal used for unauthenticated callers.
func Anonymous() Principal { return Principal{Role: RoleAnonymous} }

func (p Principal) IsAnonymous() bool { return p.ID == "" || p.Role == RoleAnonymous }

// Actor is the identifier written to the audit log for p.
func (p Principal) Actor() string {
	if p.IsAnonymous() {
		return AnonymousActor
	}
	return p.ID
}

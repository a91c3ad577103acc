package auth

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Role is the coarse role assigned to a caller by the identity provider.
type Role string

const (
	RoleGuest     Role = "guest"
	RoleUser      Role = "user"
	RoleRecruiter Role = "recruiter"
	RoleManager   Role = "manager"
	RoleAdmin     Role = "admin"
)

// roleRanks orders roles from weakest to strongest.
var roleRanks = map[Role]int{
	RoleGuest:     0,
	RoleUser:      1,
	RoleRecruiter: 2,
	RoleManager:   3,
	RoleAdmin:     4,
}

// AllRoles returns every role, weakest first.
func AllRoles() []Role {
	return []Role{RoleGuest, RoleUser, RoleRecruiter, RoleManager, RoleAdmin}
}

// Rank returns the ordinal of r and whether r is a known role.
func (r Role) Rank() (int, bool) {
	rank, ok := roleRanks[r]
	return rank, ok
}

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	_, ok := roleRanks[r]
	return ok
}

func (r Role) String() string {
	return string(r)
}

// ParseRole parses a role name, case-insensitively.
func ParseRole(s string) (Role, error) {
	r := Role(strings.ToLower(strings.TrimSpace(s)))
	if !r.Valid() {
		return "", fmt.Errorf("unknown role: %q", s)
	}
	return r, nil
}

// Identity is the authenticated caller. It is a value: once built by the
// authentication middleware it is passed through the request unchanged.
type Identity struct {
	id   int64
	role Role
}

// NewIdentity builds an identity for userID holding role.
func NewIdentity(userID int64, role Role) Identity {
	return Identity{id: userID, role: role}
}

// ID returns the caller's user id.
func (i Identity) ID() int64 { return i.id }

// Role returns the caller's role.
func (i Identity) Role() Role { return i.role }

// IsZero reports whether i carries no caller.
func (i Identity) IsZero() bool {
	return i.id == 0 && i.role == ""
}

// MarshalJSON renders the identity for API responses.
func (i Identity) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		ID   int64 `json:"id"`
		Role Role  `json:"role"`
	}{i.id, i.role})
}

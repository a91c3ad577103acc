package rbac

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/platinummonkey/hiregate/pkg/auth"
	apperrors "github.com/platinummonkey/hiregate/pkg/errors"
)

// Permission is a catalog entry. Names are namespaced as resource.action
// and never change once created.
type Permission struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

// Namespace returns the resource part of the permission name.
func (p Permission) Namespace() string {
	namespace, _, _ := strings.Cut(p.Name, ".")
	return namespace
}

// Action returns the action part of the permission name.
func (p Permission) Action() string {
	_, action, _ := strings.Cut(p.Name, ".")
	return action
}

var permissionNamePattern = regexp.MustCompile(`^[a-z][a-z0-9_]*\.[a-z][a-z0-9_]*$`)

// ValidatePermissionName checks that name has the resource.action shape.
func ValidatePermissionName(name string) error {
	if strings.TrimSpace(name) == "" {
		return apperrors.New(apperrors.KindValidation, "permission name is required")
	}
	if !permissionNamePattern.MatchString(name) {
		return apperrors.Newf(apperrors.KindValidation, "malformed permission name %q: expected resource.action", name)
	}
	return nil
}

// TargetKind distinguishes the two kinds of grant holder.
type TargetKind string

const (
	TargetRole TargetKind = "role"
	TargetUser TargetKind = "user"
)

// GrantTarget is the holder of a grant: exactly one of a role or a user.
type GrantTarget struct {
	kind   TargetKind
	role   auth.Role
	userID int64
}

// RoleTarget targets every caller holding role.
func RoleTarget(role auth.Role) GrantTarget {
	return GrantTarget{kind: TargetRole, role: role}
}

// UserTarget targets a single user.
func UserTarget(userID int64) GrantTarget {
	return GrantTarget{kind: TargetUser, userID: userID}
}

func (t GrantTarget) Kind() TargetKind { return t.kind }
func (t GrantTarget) Role() auth.Role  { return t.role }
func (t GrantTarget) UserID() int64    { return t.userID }

// Validate rejects zero targets, unknown roles and non-positive user ids.
func (t GrantTarget) Validate() error {
	switch t.kind {
	case TargetRole:
		if !t.role.Valid() {
			return apperrors.Newf(apperrors.KindValidation, "unknown role: %q", t.role)
		}
	case TargetUser:
		if t.userID <= 0 {
			return apperrors.Newf(apperrors.KindValidation, "invalid user id: %d", t.userID)
		}
	default:
		return apperrors.New(apperrors.KindValidation, "grant target is required")
	}
	return nil
}

// String renders the target as role:<name> or user:<id>. It doubles as the
// cache key.
func (t GrantTarget) String() string {
	switch t.kind {
	case TargetRole:
		return "role:" + string(t.role)
	case TargetUser:
		return "user:" + strconv.FormatInt(t.userID, 10)
	default:
		return "none"
	}
}

// Grant records that a target holds a permission.
type Grant struct {
	ID           int64     `json:"id"`
	PermissionID int64     `json:"permission_id"`
	Permission   string    `json:"permission"`
	Role         auth.Role `json:"role,omitempty"`
	UserID       int64     `json:"user_id,omitempty"`
	GrantedBy    int64     `json:"granted_by"`
	GrantedAt    time.Time `json:"granted_at"`
}

// Target returns the holder of the grant.
func (g Grant) Target() GrantTarget {
	if g.UserID != 0 {
		return UserTarget(g.UserID)
	}
	return RoleTarget(g.Role)
}

// RevokeResult reports how many grants a revoke removed (0 or 1).
type RevokeResult struct {
	RemovedCount int64 `json:"removed_count"`
}

// ReplaceResult describes the change applied to one role.
type ReplaceResult struct {
	Role    auth.Role `json:"role"`
	Added   []string  `json:"added"`
	Removed []string  `json:"removed"`
}

// SeedResult summarizes a catalog seeding run.
type SeedResult struct {
	// Count is the number of default permissions present after seeding.
	Count         int      `json:"count"`
	Created       int      `json:"created"`
	GrantsCreated int      `json:"grants_created"`
	Failed        []string `json:"failed,omitempty"`
}

// DecisionSource names the grant that decided a check.
type DecisionSource string

const (
	SourceUser DecisionSource = "user"
	SourceRole DecisionSource = "role"
	SourceNone DecisionSource = "none"
)

// Decision is the outcome of evaluating one permission for one caller.
type Decision struct {
	Allowed    bool           `json:"allowed"`
	Source     DecisionSource `json:"source"`
	Permission string         `json:"permission"`
	UserID     int64          `json:"user_id"`
	Role       auth.Role      `json:"role"`
}

func (d Decision) String() string {
	verdict := "deny"
	if d.Allowed {
		verdict = "allow"
	}
	return fmt.Sprintf("%s %s for user %d (%s) via %s", verdict, d.Permission, d.UserID, d.Role, d.Source)
}

// Stats holds grant counts.
type Stats struct {
	Permissions int64 `json:"permissions"`
	RoleGrants  int64 `json:"role_grants"`
	UserGrants  int64 `json:"user_grants"`
}

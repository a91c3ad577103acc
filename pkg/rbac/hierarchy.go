package rbac

import "github.com/platinummonkey/hiregate/pkg/auth"

// Allows is the coarse role gate: the caller passes when its rank is at
// least the lowest rank among the required roles. Unknown required roles
// are ignored; an unknown caller role, or no known required role, denies.
func Allows(caller auth.Role, required ...auth.Role) bool {
	callerRank, ok := caller.Rank()
	if !ok {
		return false
	}

	minRank := -1
	for _, role := range required {
		rank, ok := role.Rank()
		if !ok {
			continue
		}
		if minRank < 0 || rank < minRank {
			minRank = rank
		}
	}
	if minRank < 0 {
		return false
	}
	return callerRank >= minRank
}

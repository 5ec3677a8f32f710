package rbac

import "strings"

type Role string
type Action string

const (
	RoleStandard Role = "standard"
	RoleManager  Role = "manager"
	RoleAdmin    Role = "admin"
)

const (
	ActionView       Action = "view"
	ActionSubmit     Action = "submit"
	ActionEditOwn    Action = "edit_own"
	ActionEditScript Action = "edit_script"
	ActionModerate   Action = "moderate"
)

func Can(role Role, action Action) bool {
	switch role {
	case RoleAdmin, RoleManager:
		return action == ActionView || action == ActionSubmit || action == ActionEditOwn ||
			action == ActionEditScript || action == ActionModerate
	case RoleStandard:
		return action == ActionView || action == ActionSubmit || action == ActionEditOwn
	default:
		return false
	}
}

func Normalize(role string) Role {
	switch Role(strings.ToLower(strings.TrimSpace(role))) {
	case RoleAdmin:
		return RoleAdmin
	case RoleManager:
		return RoleManager
	default:
		return RoleStandard
	}
}

func rank(role Role) int {
	switch role {
	case RoleAdmin:
		return 2
	case RoleManager:
		return 1
	default:
		return 0
	}
}

// AtLeast reports whether role includes every capability of min.
func (r Role) AtLeast(min Role) bool {
	return rank(r) >= rank(min)
}

// Highest returns the strongest of the given roles, standard when empty.
func Highest(roles ...Role) Role {
	best := RoleStandard
	for _, r := range roles {
		if !best.AtLeast(r) {
			best = r
		}
	}
	return best
}

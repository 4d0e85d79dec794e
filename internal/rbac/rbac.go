package rbac

type Role string
type Status string
type Action string

const (
	RoleGuest Role = "guest"
	RoleAdmin Role = "admin"
)

const (
	StatusPending Status = "pending"
	StatusActive  Status = "active"
)

const (
	ActionRead    Action = "read"
	ActionComment Action = "comment"
	ActionWrite   Action = "write"
	ActionInvite  Action = "invite"
	ActionAdmin   Action = "admin"
)

func Can(role Role, action Action) bool {
	switch role {
	case RoleAdmin:
		return true
	case RoleGuest:
		return action == ActionRead || action == ActionComment
	default:
		return false
	}
}

// Normalize maps unknown roles to the empty role, which is allowed nothing.
func Normalize(role string) Role {
	switch Role(role) {
	case RoleGuest, RoleAdmin:
		return Role(role)
	default:
		return ""
	}
}

func ValidStatus(status string) bool {
	return Status(status) == StatusPending || Status(status) == StatusActive
}

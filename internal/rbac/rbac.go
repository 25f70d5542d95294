package rbac

type Role string
type Action string

const (
	// RoleParticipant holds a PIN bound to a single operation.
	RoleParticipant Role = "participant"
	RoleAdmin       Role = "admin"
)

const (
	ActionRead   Action = "read"
	ActionUpload Action = "upload"
	ActionDelete Action = "delete"
	ActionExport Action = "export"
	ActionAdmin  Action = "admin"
)

func Can(role Role, action Action) bool {
	switch role {
	case RoleAdmin:
		return true
	case RoleParticipant:
		return action == ActionRead || action == ActionUpload || action == ActionDelete || action == ActionExport
	default:
		return false
	}
}

// InScope reports whether a session bound to boundOperation may touch
// targetOperation. Admins reach every operation.
func InScope(role Role, boundOperation, targetOperation string) bool {
	if role == RoleAdmin {
		return true
	}
	return boundOperation != "" && boundOperation == targetOperation
}

func Normalize(role string) Role {
	switch Role(role) {
	case RoleParticipant, RoleAdmin:
		return Role(role)
	default:
		return RoleParticipant
	}
}

// Package rbac maps token roles to the actions they may perform on fields.
package rbac

type Role string
type Action string

const (
	RoleViewer Role = "viewer"
	RoleEditor Role = "editor"
	RoleOwner  Role = "owner"
	RoleAdmin  Role = "admin"
)

const (
	// ActionRead covers fields, history, diffs, exports, sessions and search.
	ActionRead Action = "read"
	// ActionEdit covers opening a session and every local session command.
	ActionEdit Action = "edit"
	// ActionApply hands a session's value to the field.
	ActionApply Action = "apply"
	// ActionOwn covers creating fields and setting their values directly.
	ActionOwn   Action = "own"
	ActionAdmin Action = "admin"
)

func Can(role Role, action Action) bool {
	switch role {
	case RoleAdmin:
		return true
	case RoleOwner:
		return action == ActionRead || action == ActionEdit || action == ActionApply || action == ActionOwn
	case RoleEditor:
		return action == ActionRead || action == ActionEdit || action == ActionApply
	case RoleViewer:
		return action == ActionRead
	default:
		return false
	}
}

// Normalize maps unknown role names to RoleViewer.
func Normalize(role string) Role {
	switch Role(role) {
	case RoleViewer, RoleEditor, RoleOwner, RoleAdmin:
		return Role(role)
	default:
		return RoleViewer
	}
}

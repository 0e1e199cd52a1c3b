// Package rbac answers whether a repository role may perform an action.
// Membership itself is resolved by the identity service and arrives as a
// token claim.
package rbac

type Role string
type Action string

const (
	RoleViewer Role = "viewer"
	RoleEditor Role = "editor"
	RoleAdmin  Role = "admin"
	RoleOwner  Role = "owner"
)

const (
	ActionRead    Action = "read"
	ActionComment Action = "comment"
	ActionPropose Action = "propose"
	ActionWrite   Action = "write"
	ActionReview  Action = "review"
)

func Can(role Role, action Action) bool {
	switch role {
	case RoleOwner, RoleAdmin:
		return true
	case RoleEditor:
		return action == ActionRead || action == ActionComment || action == ActionPropose || action == ActionWrite || action == ActionReview
	case RoleViewer:
		return action == ActionRead || action == ActionComment || action == ActionPropose
	default:
		return false
	}
}

// Normalize maps unknown or missing roles to viewer.
func Normalize(role string) Role {
	switch Role(role) {
	case RoleViewer, RoleEditor, RoleAdmin, RoleOwner:
		return Role(role)
	default:
		return RoleViewer
	}
}

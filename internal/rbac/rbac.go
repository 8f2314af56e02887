package rbac

type Role string
type Action string

const (
	RoleGuest  Role = "guest"
	RoleMember Role = "member"
	RoleEditor Role = "editor"
	RoleAdmin  Role = "admin"
)

const (
	ActionRead     Action = "read"
	ActionComment  Action = "comment"
	ActionModerate Action = "moderate"
	ActionPurge    Action = "purge"
)

// Can reports whether role may perform action. Editors own articles, not
// the discussion under them, so comment moderation stays with admins.
func Can(role Role, action Action) bool {
	switch role {
	case RoleAdmin:
		return true
	case RoleEditor, RoleMember:
		return action == ActionRead || action == ActionComment
	case RoleGuest:
		return action == ActionRead
	default:
		return false
	}
}

// Normalize maps a token role claim to a Role. An authenticated principal
// with an unknown role is treated as a member.
func Normalize(role string) Role {
	switch Role(role) {
	case RoleGuest, RoleMember, RoleEditor, RoleAdmin:
		return Role(role)
	default:
		return RoleMember
	}
}

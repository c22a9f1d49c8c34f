package rbac

type Role string
type Action string

// Drive roles, weakest first.
const (
	RoleViewer Role = "viewer"
	RoleEditor Role = "editor"
	RoleAdmin  Role = "admin"
	RoleOwner  Role = "owner"
)

const (
	ActionRead   Action = "read"
	ActionWrite  Action = "write"
	ActionShare  Action = "share"
	ActionAdmin  Action = "admin"
	ActionDelete Action = "delete"
)

func rank(role Role) int {
	switch role {
	case RoleViewer:
		return 1
	case RoleEditor:
		return 2
	case RoleAdmin:
		return 3
	case RoleOwner:
		return 4
	default:
		return 0
	}
}

// required is the weakest role allowed to perform each action.
var required = map[Action]Role{
	ActionRead:   RoleViewer,
	ActionWrite:  RoleEditor,
	ActionShare:  RoleAdmin,
	ActionAdmin:  RoleAdmin,
	ActionDelete: RoleOwner,
}

func Can(role Role, action Action) bool {
	need, ok := required[action]
	if !ok {
		return false
	}
	r := rank(role)
	return r > 0 && r >= rank(need)
}

// AtLeast reports whether role is as strong as other.
func AtLeast(role, other Role) bool {
	return rank(role) >= rank(other) && rank(role) > 0
}

// Valid reports whether role is one of the drive roles.
func Valid(role string) bool {
	return rank(Role(role)) > 0
}

func Normalize(role string) Role {
	if Valid(role) {
		return Role(role)
	}
	return RoleViewer
}

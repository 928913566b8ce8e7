package rbac

type Role string

const (
	RoleEmployee Role = "employee"
	RoleManager  Role = "manager"
	RoleAdmin    Role = "admin"
)

// Elevated roles are exempt from accrual caps and may review extra-hours
// requests.
func Elevated(role Role) bool {
	return role == RoleManager || role == RoleAdmin
}

func Normalize(role string) Role {
	switch Role(role) {
	case RoleEmployee, RoleManager, RoleAdmin:
		return Role(role)
	default:
		return RoleEmployee
	}
}

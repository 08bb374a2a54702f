package enums

import "fmt"

// UserRole identifies the kind of account signing in.
type UserRole string

const (
	UserRoleAdmin     UserRole = "admin"
	UserRoleLibrarian UserRole = "librarian"
	UserRolePOS       UserRole = "pos"
	UserRoleStudent   UserRole = "student"
)

var validUserRoles = []UserRole{
	UserRoleAdmin,
	UserRoleLibrarian,
	UserRolePOS,
	UserRoleStudent,
}

// String implements fmt.Stringer.
func (u UserRole) String() string {
	return string(u)
}

// IsValid reports whether the value is a known UserRole.
func (u UserRole) IsValid() bool {
	for _, candidate := range validUserRoles {
		if candidate == u {
			return true
		}
	}
	return false
}

// ParseUserRole converts raw input into an UserRole.
func ParseUserRole(value string) (UserRole, error) {
	for _, candidate := range validUserRoles {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid user role %q", value)
}

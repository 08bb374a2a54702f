package users

import (
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/library-backend/pkg/db/models"
	"github.com/angelmondragon/library-backend/pkg/enums"
)

// UserDTO is the transport shape that omits sensitive credentials.
type UserDTO struct {
	ID          uuid.UUID      `json:"id"`
	Username    string         `json:"username"`
	Email       *string        `json:"email,omitempty"`
	FirstName   string         `json:"first_name"`
	LastName    string         `json:"last_name"`
	Role        enums.UserRole `json:"role"`
	IsActive    bool           `json:"is_active"`
	LastLoginAt *time.Time     `json:"last_login_at,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
}

// CreateUserDTO holds the data required by the repo to persist a new user.
type CreateUserDTO struct {
	Username     string
	Email        *string
	PasswordHash string
	FirstName    string
	LastName     string
	Role         enums.UserRole
	IsActive     *bool
}

// CreateStaffInput is the admin payload for a librarian or POS account. An
// empty Password makes the service generate a temporary one.
type CreateStaffInput struct {
	Username  string         `json:"username" validate:"required,min=3,max=150"`
	Password  string         `json:"password" validate:"omitempty"`
	Email     *string        `json:"email" validate:"omitempty,email"`
	FirstName string         `json:"first_name" validate:"max=150"`
	LastName  string         `json:"last_name" validate:"max=150"`
	Role      enums.UserRole `json:"role" validate:"required"`
}

// BootstrapAdminInput describes the first admin account of a fresh install.
type BootstrapAdminInput struct {
	Username string
	Password string
	Email    *string
}

// UpdateStaffInput carries optional changes to a staff account.
type UpdateStaffInput struct {
	Username  *string `json:"username" validate:"omitempty,min=3,max=150"`
	Email     *string `json:"email" validate:"omitempty,email"`
	FirstName *string `json:"first_name" validate:"omitempty,max=150"`
	LastName  *string `json:"last_name" validate:"omitempty,max=150"`
	Password  *string `json:"password"`
	IsActive  *bool   `json:"is_active"`
}

// AccountInput is a user's own email and password change.
type AccountInput struct {
	Email           *string `json:"email" validate:"omitempty,email"`
	CurrentPassword string  `json:"current_password"`
	NewPassword     *string `json:"new_password"`
}

// CreatedStaff returns the account plus the generated password, shown once.
type CreatedStaff struct {
	User              UserDTO `json:"user"`
	TemporaryPassword string  `json:"temporary_password,omitempty"`
}

// ListResult is one page of accounts.
type ListResult struct {
	Users      []UserDTO `json:"users"`
	NextCursor string    `json:"next_cursor,omitempty"`
}

func FromModel(u *models.User) *UserDTO {
	if u == nil {
		return nil
	}

	return &UserDTO{
		ID:          u.ID,
		Username:    u.Username,
		Email:       u.Email,
		FirstName:   u.FirstName,
		LastName:    u.LastName,
		Role:        u.Role,
		IsActive:    u.IsActive,
		LastLoginAt: u.LastLoginAt,
		CreatedAt:   u.CreatedAt,
		UpdatedAt:   u.UpdatedAt,
	}
}

func (c CreateUserDTO) ToModel() *models.User {
	isActive := true
	if c.IsActive != nil {
		isActive = *c.IsActive
	}

	return &models.User{
		Username:     c.Username,
		Email:        c.Email,
		PasswordHash: c.PasswordHash,
		FirstName:    c.FirstName,
		LastName:     c.LastName,
		Role:         c.Role,
		IsActive:     isActive,
	}
}

package auth

import (
	"github.com/google/uuid"

	"github.com/angelmondragon/library-backend/internal/users"
)

// LoginRequest captures the credentials sent to the login endpoint.
type LoginRequest struct {
	Username string `json:"username" validate:"required"`
	Password string `json:"password" validate:"required"`
}

// LoginResponse contains the tokens and the account produced by a successful login.
type LoginResponse struct {
	AccessToken  string         `json:"access_token"`
	RefreshToken string         `json:"refresh_token"`
	StudentID    *uuid.UUID     `json:"student_id,omitempty"`
	User         *users.UserDTO `json:"user"`
}

// RefreshRequest rotates the session tied to AccessID.
type RefreshRequest struct {
	AccessID     string `json:"-"`
	RefreshToken string `json:"refresh_token" validate:"required"`
}

// TokenPair is returned by a refresh.
type TokenPair struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
}

package auth

import (
	"github.com/angelmondragon/library-backend/pkg/enums"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// AccessTokenPayload captures the data available when minting a JWT.
type AccessTokenPayload struct {
	UserID    uuid.UUID
	Role      enums.UserRole
	StudentID *uuid.UUID
	JTI       string
}

// AccessTokenClaims represents the typed JWT issued to clients. StudentID is
// only set for student logins linked to a roster entry.
type AccessTokenClaims struct {
	UserID    uuid.UUID      `json:"user_id"`
	Role      enums.UserRole `json:"role"`
	StudentID *uuid.UUID     `json:"student_id,omitempty"`
	jwt.RegisteredClaims
}

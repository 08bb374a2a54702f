package auth

import (
	"testing"
	"time"

	"github.com/angelmondragon/library-backend/pkg/config"
	"github.com/angelmondragon/library-backend/pkg/enums"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testJWTConfig() config.JWTConfig {
	return config.JWTConfig{
		Secret:            "secret",
		Issuer:            "library",
		ExpirationMinutes: 30,
	}
}

func TestMintAndParseAccessToken(t *testing.T) {
	cfg := testJWTConfig()
	now := time.Now().UTC()
	userID := uuid.New()
	studentID := uuid.New()

	token, err := MintAccessToken(cfg, now, AccessTokenPayload{
		UserID:    userID,
		Role:      enums.UserRoleStudent,
		StudentID: &studentID,
		JTI:       "jti-1",
	})
	require.NoError(t, err)

	claims, err := ParseAccessToken(cfg, token)
	require.NoError(t, err)
	assert.Equal(t, userID, claims.UserID)
	assert.Equal(t, enums.UserRoleStudent, claims.Role)
	require.NotNil(t, claims.StudentID)
	assert.Equal(t, studentID, *claims.StudentID)
	assert.Equal(t, "jti-1", claims.ID)
	assert.Equal(t, "library", claims.Issuer)
}

func TestMintRejectsInvalidPayload(t *testing.T) {
	cfg := testJWTConfig()
	_, err := MintAccessToken(cfg, time.Now(), AccessTokenPayload{UserID: uuid.New(), Role: "janitor"})
	assert.Error(t, err)

	_, err = MintAccessToken(cfg, time.Now(), AccessTokenPayload{Role: enums.UserRoleAdmin})
	assert.Error(t, err)

	cfg.Secret = ""
	_, err = MintAccessToken(cfg, time.Now(), AccessTokenPayload{UserID: uuid.New(), Role: enums.UserRoleAdmin})
	assert.Error(t, err)
}

func TestParseRejectsExpiredAndWrongIssuer(t *testing.T) {
	cfg := testJWTConfig()
	past := time.Now().Add(-2 * time.Hour)
	token, err := MintAccessToken(cfg, past, AccessTokenPayload{UserID: uuid.New(), Role: enums.UserRolePOS})
	require.NoError(t, err)

	_, err = ParseAccessToken(cfg, token)
	assert.Error(t, err)

	claims, err := ParseAccessTokenAllowExpired(cfg, token)
	require.NoError(t, err)
	assert.Equal(t, enums.UserRolePOS, claims.Role)

	other := cfg
	other.Issuer = "someone-else"
	_, err = ParseAccessTokenAllowExpired(other, token)
	assert.ErrorIs(t, err, jwt.ErrTokenInvalidIssuer)

	fresh, err := MintAccessToken(cfg, time.Now(), AccessTokenPayload{UserID: uuid.New(), Role: enums.UserRolePOS})
	require.NoError(t, err)
	_, err = ParseAccessToken(other, fresh)
	assert.ErrorIs(t, err, jwt.ErrTokenInvalidIssuer)
	_, err = ParseAccessTokenAllowExpired(other, fresh)
	assert.ErrorIs(t, err, jwt.ErrTokenInvalidIssuer)
}

func TestParseRejectsTamperedSignature(t *testing.T) {
	cfg := testJWTConfig()
	token, err := MintAccessToken(cfg, time.Now(), AccessTokenPayload{UserID: uuid.New(), Role: enums.UserRoleLibrarian})
	require.NoError(t, err)

	other := cfg
	other.Secret = "different"
	_, err = ParseAccessToken(other, token)
	assert.Error(t, err)
}

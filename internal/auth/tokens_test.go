package auth

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"groupchat-service/internal/models"
)

func TestTokenRoundTrip(t *testing.T) {
	manager := NewTokenManager([]byte("test-secret"), time.Hour)

	token, err := manager.Generate(models.User{ID: 7, Username: "alice"})
	require.NoError(t, err)

	claims, err := manager.Validate(token)
	require.NoError(t, err)
	require.Equal(t, 7, claims.UserID)
	require.Equal(t, "alice", claims.Username)
}

func TestTokenExpired(t *testing.T) {
	manager := NewTokenManager([]byte("test-secret"), -time.Minute)

	token, err := manager.Generate(models.User{ID: 7, Username: "alice"})
	require.NoError(t, err)

	_, err = manager.Validate(token)
	require.ErrorIs(t, err, ErrTokenExpired)
}

func TestTokenWrongSecret(t *testing.T) {
	token, err := NewTokenManager([]byte("secret-a"), time.Hour).Generate(models.User{ID: 7})
	require.NoError(t, err)

	_, err = NewTokenManager([]byte("secret-b"), time.Hour).Validate(token)
	require.ErrorIs(t, err, ErrInvalidToken)
}

func TestTokenGarbageInput(t *testing.T) {
	manager := NewTokenManager([]byte("test-secret"), time.Hour)

	_, err := manager.Validate("not-a-token")
	require.ErrorIs(t, err, ErrInvalidToken)
}

func TestPasswordHashRoundTrip(t *testing.T) {
	hash, err := HashPassword("correct horse battery staple")
	require.NoError(t, err)
	require.NoError(t, CheckPassword(hash, "correct horse battery staple"))
	require.Error(t, CheckPassword(hash, "wrong password entirely"))
}

func TestValidatePasswordStrength(t *testing.T) {
	require.Error(t, ValidatePasswordStrength("abc"))
	require.Error(t, ValidatePasswordStrength("password"))
	require.NoError(t, ValidatePasswordStrength("correct horse battery staple 42"))
}

package auth

import (
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"
)

func TestAccessTokenRoundTrip(t *testing.T) {
	m := NewManager("secret", time.Minute)

	raw, err := m.GenerateAccessToken("u1", "alice@x.com", "user")
	require.NoError(t, err)

	claims, err := m.VerifyAccessToken(raw)
	require.NoError(t, err)
	require.Equal(t, "u1", claims.UserID)
	require.Equal(t, "alice@x.com", claims.Email)
	require.Equal(t, "user", claims.Role)
}

func TestVerifyRejectsWrongSecret(t *testing.T) {
	raw, err := NewManager("secret", time.Minute).GenerateAccessToken("u1", "a@x.com", "user")
	require.NoError(t, err)

	_, err = NewManager("other", time.Minute).VerifyAccessToken(raw)
	require.ErrorIs(t, err, ErrInvalidToken)
}

func TestVerifyRejectsExpired(t *testing.T) {
	m := NewManager("secret", time.Minute)
	issued := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	m.now = func() time.Time { return issued }

	raw, err := m.GenerateAccessToken("u1", "a@x.com", "user")
	require.NoError(t, err)

	m.now = func() time.Time { return issued.Add(2 * time.Minute) }
	_, err = m.VerifyAccessToken(raw)
	require.ErrorIs(t, err, ErrInvalidToken)
	require.True(t, errors.Is(err, jwt.ErrTokenExpired))
}

func TestVerifyRejectsNonAccessToken(t *testing.T) {
	claims := Claims{
		UserID:    "u1",
		TokenType: "refresh",
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Minute)),
		},
	}
	raw, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("secret"))
	require.NoError(t, err)

	_, err = NewManager("secret", time.Minute).VerifyAccessToken(raw)
	require.Error(t, err)
}

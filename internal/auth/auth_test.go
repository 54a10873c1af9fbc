package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func newTestAuthenticator(t *testing.T, password string) *Authenticator {
	t.Helper()
	a, err := NewAuthenticator(Config{
		Enabled:   true,
		Username:  "ranger",
		Password:  password,
		JWTSecret: "test-secret",
		TokenTTL:  time.Hour,
	})
	require.NoError(t, err)
	return a
}

func TestAuthenticate(t *testing.T) {
	a := newTestAuthenticator(t, "s3cret")

	token, expiresAt, err := a.Authenticate("ranger", "s3cret")
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().Add(time.Hour), expiresAt, 5*time.Second)

	claims, err := a.ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, "ranger", claims.Username)
	assert.Equal(t, tokenIssuer, claims.Issuer)

	_, _, err = a.Authenticate("ranger", "wrong")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
	_, _, err = a.Authenticate("admin", "s3cret")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestAuthenticate_PrehashedPassword(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte("s3cret"), bcrypt.MinCost)
	require.NoError(t, err)

	a := newTestAuthenticator(t, string(hash))
	_, _, err = a.Authenticate("ranger", "s3cret")
	assert.NoError(t, err)
}

func TestAuthenticate_Disabled(t *testing.T) {
	a, err := NewAuthenticator(Config{Password: "s3cret"})
	require.NoError(t, err)
	assert.False(t, a.IsEnabled())

	_, _, err = a.Authenticate("admin", "s3cret")
	assert.ErrorIs(t, err, ErrAuthDisabled)
}

func TestAuthenticate_NoPasswordRejectsEveryone(t *testing.T) {
	a := newTestAuthenticator(t, "")
	_, _, err := a.Authenticate("ranger", "")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestValidateToken_Expired(t *testing.T) {
	m, err := NewJWTManager("secret", time.Minute)
	require.NoError(t, err)

	issued := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	m.now = func() time.Time { return issued }
	token, _, err := m.GenerateToken("ranger")
	require.NoError(t, err)

	_, err = m.ValidateToken(token)
	require.NoError(t, err)

	m.now = func() time.Time { return issued.Add(2 * time.Minute) }
	_, err = m.ValidateToken(token)
	assert.ErrorIs(t, err, ErrExpiredToken)
}

func TestValidateToken_Rejects(t *testing.T) {
	m, err := NewJWTManager("secret", time.Hour)
	require.NoError(t, err)
	other, err := NewJWTManager("other-secret", time.Hour)
	require.NoError(t, err)

	foreign, _, err := other.GenerateToken("ranger")
	require.NoError(t, err)
	_, err = m.ValidateToken(foreign)
	assert.ErrorIs(t, err, ErrInvalidToken, "wrong signature")

	_, err = m.ValidateToken("not-a-token")
	assert.ErrorIs(t, err, ErrInvalidToken)

	none := jwt.NewWithClaims(jwt.SigningMethodNone, &Claims{
		Username:         "ranger",
		RegisteredClaims: jwt.RegisteredClaims{Issuer: tokenIssuer},
	})
	unsigned, err := none.SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)
	_, err = m.ValidateToken(unsigned)
	assert.ErrorIs(t, err, ErrInvalidToken, "alg none")

	wrongIssuer := jwt.NewWithClaims(jwt.SigningMethodHS256, &Claims{
		Username:         "ranger",
		RegisteredClaims: jwt.RegisteredClaims{Issuer: "someone-else"},
	})
	signed, err := wrongIssuer.SignedString([]byte("secret"))
	require.NoError(t, err)
	_, err = m.ValidateToken(signed)
	assert.ErrorIs(t, err, ErrInvalidToken, "issuer")
}

func TestNewJWTManager_RandomSecret(t *testing.T) {
	a, err := NewJWTManager("", 0)
	require.NoError(t, err)
	b, err := NewJWTManager("", 0)
	require.NoError(t, err)

	assert.Equal(t, DefaultTokenTTL, a.GetExpiry())
	token, _, err := a.GenerateToken("ranger")
	require.NoError(t, err)
	_, err = b.ValidateToken(token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

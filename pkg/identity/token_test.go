package identity

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "0123456789abcdef0123456789abcdef"

func TestTokenManager_IssueAndParse(t *testing.T) {
	m := NewTokenManager(testSecret, "docvault", time.Hour)
	token, expiresAt, err := m.Issue(&User{ID: 42, Username: "ivanov"})
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().Add(time.Hour), expiresAt, 5*time.Second)

	principal, err := m.Parse(token)
	require.NoError(t, err)
	assert.Equal(t, int64(42), principal.UserID)
	assert.Equal(t, "ivanov", principal.Username)
}

func TestTokenManager_Rejects(t *testing.T) {
	m := NewTokenManager(testSecret, "docvault", time.Hour)
	valid, _, err := m.Issue(&User{ID: 1, Username: "a"})
	require.NoError(t, err)

	expired := NewTokenManager(testSecret, "docvault", time.Hour)
	expired.now = func() time.Time { return time.Now().Add(-2 * time.Hour) }
	expiredToken, _, err := expired.Issue(&User{ID: 1, Username: "a"})
	require.NoError(t, err)

	otherIssuer, _, err := NewTokenManager(testSecret, "elsewhere", time.Hour).Issue(&User{ID: 1})
	require.NoError(t, err)

	otherSecret, _, err := NewTokenManager("ffffffffffffffffffffffffffffffff", "docvault", time.Hour).Issue(&User{ID: 1})
	require.NoError(t, err)

	unsigned, err := jwt.NewWithClaims(jwt.SigningMethodNone, Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    "docvault",
			Subject:   "1",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}).SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	badSubject, err := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    "docvault",
			Subject:   "not-a-number",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}).SignedString([]byte(testSecret))
	require.NoError(t, err)

	tests := map[string]string{
		"empty":        "",
		"garbage":      "not.a.token",
		"expired":      expiredToken,
		"wrong issuer": otherIssuer,
		"wrong secret": otherSecret,
		"alg none":     unsigned,
		"bad subject":  badSubject,
		"tampered":     valid + "x",
	}
	for name, token := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := m.Parse(token)
			assert.ErrorIs(t, err, ErrInvalidToken)
		})
	}
}

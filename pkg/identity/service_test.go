package identity

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

type fakeUsers struct {
	users   map[string]*User
	touched []int64
	err     error
}

func (f *fakeUsers) GetUserByUsername(ctx context.Context, username string) (*User, error) {
	if f.err != nil {
		return nil, f.err
	}
	if u, ok := f.users[username]; ok {
		return u, nil
	}
	return nil, ErrNotFound
}

func (f *fakeUsers) TouchLastLogin(ctx context.Context, id int64) error {
	f.touched = append(f.touched, id)
	return nil
}

func mustHash(t *testing.T, password string) string {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	require.NoError(t, err)
	return string(hash)
}

func TestAuthenticator_Login(t *testing.T) {
	hash := mustHash(t, "password1")
	users := &fakeUsers{users: map[string]*User{
		"ivanov": {ID: 1, Username: "ivanov", PasswordHash: hash, Status: StatusActive},
		"petrov": {ID: 2, Username: "petrov", PasswordHash: hash, Status: StatusSuspended},
	}}
	tokens := NewTokenManager(testSecret, "docvault", time.Hour)
	auth := NewAuthenticator(users, tokens)
	ctx := context.Background()

	t.Run("success", func(t *testing.T) {
		result, user, err := auth.Login(ctx, "ivanov", "password1")
		require.NoError(t, err)
		assert.Equal(t, int64(1), user.ID)
		assert.NotEmpty(t, result.Token)

		principal, err := tokens.Parse(result.Token)
		require.NoError(t, err)
		assert.Equal(t, int64(1), principal.UserID)
		assert.Equal(t, []int64{1}, users.touched)
	})

	t.Run("wrong password", func(t *testing.T) {
		_, user, err := auth.Login(ctx, "ivanov", "password2")
		assert.ErrorIs(t, err, ErrInvalidCredentials)
		require.NotNil(t, user)
		assert.Equal(t, int64(1), user.ID)
	})

	t.Run("unknown user", func(t *testing.T) {
		_, user, err := auth.Login(ctx, "sidorov", "password1")
		assert.ErrorIs(t, err, ErrInvalidCredentials)
		assert.Nil(t, user)
	})

	t.Run("inactive account", func(t *testing.T) {
		_, _, err := auth.Login(ctx, "petrov", "password1")
		assert.ErrorIs(t, err, ErrInactive)
	})

	t.Run("store failure", func(t *testing.T) {
		failing := NewAuthenticator(&fakeUsers{err: errors.New("db down")}, tokens)
		_, _, err := failing.Login(ctx, "ivanov", "password1")
		assert.Error(t, err)
		assert.NotErrorIs(t, err, ErrInvalidCredentials)
	})
}

package auth

import (
	"context"
	"errors"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xiaot623/teamdesk/internal/domain"
	"github.com/xiaot623/teamdesk/tests/helpers"
)

var secret = []byte("test-secret")

type fakeUsers map[string]domain.User

func (f fakeUsers) GetUser(_ context.Context, id string) (*domain.User, error) {
	u, ok := f[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &u, nil
}

func TestGenerateAndParseToken(t *testing.T) {
	token, err := GenerateToken("u1", secret, time.Minute)
	require.NoError(t, err)

	userID, err := UserIDFromToken(token, secret)
	require.NoError(t, err)
	assert.Equal(t, "u1", userID)
}

func TestUserIDFromTokenRejects(t *testing.T) {
	expired, err := GenerateToken("u1", secret, -time.Minute)
	require.NoError(t, err)

	wrongKey, err := GenerateToken("u1", []byte("other"), time.Minute)
	require.NoError(t, err)

	noSubject, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Minute)),
	}).SignedString(secret)
	require.NoError(t, err)

	for name, token := range map[string]string{
		"expired":    expired,
		"wrong key":  wrongKey,
		"no subject": noSubject,
		"garbage":    "not.a.token",
	} {
		t.Run(name, func(t *testing.T) {
			_, err := UserIDFromToken(token, secret)
			assert.True(t, errors.Is(err, domain.ErrUnauthenticated), "got %v", err)
		})
	}
}

func TestAuthenticator(t *testing.T) {
	users := fakeUsers{
		"u1": {ID: "u1", Name: "Alice", Enabled: true},
		"u2": {ID: "u2", Name: "Bob", Enabled: false},
	}
	a := NewAuthenticator(string(secret), users)
	ctx := context.Background()

	ok, _ := GenerateToken("u1", secret, time.Minute)
	user, err := a.Authenticate(ctx, ok)
	require.NoError(t, err)
	assert.Equal(t, "Alice", user.Name)

	disabled, _ := GenerateToken("u2", secret, time.Minute)
	_, err = a.Authenticate(ctx, disabled)
	assert.ErrorIs(t, err, domain.ErrUnauthenticated)

	unknown, _ := GenerateToken("ghost", secret, time.Minute)
	_, err = a.Authenticate(ctx, unknown)
	assert.ErrorIs(t, err, domain.ErrUnauthenticated)

	_, err = a.Authenticate(ctx, "")
	assert.ErrorIs(t, err, domain.ErrUnauthenticated)
}

func TestAuthenticatorRejectsUserDisabledAfterLogin(t *testing.T) {
	store := helpers.NewTestSQLiteStore(t)
	helpers.SeedUsers(t, store, domain.RoleEmployee, "alice")
	a := NewAuthenticator(string(secret), store)
	ctx := context.Background()

	token, err := GenerateToken("alice", secret, time.Minute)
	require.NoError(t, err)
	_, err = a.Authenticate(ctx, token)
	require.NoError(t, err)

	require.NoError(t, store.UpsertUser(ctx, &domain.User{ID: "alice", Name: "alice", Role: domain.RoleEmployee, Enabled: false}))

	_, err = a.Authenticate(ctx, token)
	assert.ErrorIs(t, err, domain.ErrUnauthenticated)
}

func TestTokenFromRequest(t *testing.T) {
	req := httptest.NewRequest("GET", "/ws?token=abc", nil)
	assert.Equal(t, "abc", TokenFromRequest(req))

	req = httptest.NewRequest("GET", "/chats", nil)
	req.Header.Set("Authorization", "Bearer xyz")
	assert.Equal(t, "xyz", TokenFromRequest(req))

	req = httptest.NewRequest("GET", "/chats", nil)
	req.Header.Set("Authorization", "Basic xyz")
	assert.Equal(t, "", TokenFromRequest(req))
}

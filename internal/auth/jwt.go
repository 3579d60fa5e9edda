// Package auth verifies bearer credentials and resolves them to enabled users.
package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/xiaot623/teamdesk/internal/domain"
)

// Claims carries the standard registered claims; the subject is the user id.
type Claims struct {
	jwt.RegisteredClaims
}

// GenerateToken signs an HS256 access token for userID. Token issuance for end
// users lives in the identity service; this is used by the CLI and tests.
func GenerateToken(userID string, secretKey []byte, validity time.Duration) (string, error) {
	now := time.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(validity)),
		},
	})
	return token.SignedString(secretKey)
}

// UserIDFromToken validates tokenString and returns its subject.
func UserIDFromToken(tokenString string, secretKey []byte) (string, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		return secretKey, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Name}))
	if err != nil {
		return "", fmt.Errorf("%w: %v", domain.ErrUnauthenticated, err)
	}
	if !token.Valid || claims.Subject == "" {
		return "", domain.ErrUnauthenticated
	}
	return claims.Subject, nil
}

// UserSource looks users up by id. It must read the source of truth, not a
// cache, so that disabling a user takes effect on the next call.
type UserSource interface {
	GetUser(ctx context.Context, userID string) (*domain.User, error)
}

// Authenticator turns a raw token into an enabled user.
type Authenticator struct {
	secret []byte
	users  UserSource
}

// NewAuthenticator creates an Authenticator.
func NewAuthenticator(secret string, users UserSource) *Authenticator {
	return &Authenticator{secret: []byte(secret), users: users}
}

// Authenticate returns the enabled user identified by token. Every failure
// is reported as domain.ErrUnauthenticated.
func (a *Authenticator) Authenticate(ctx context.Context, token string) (*domain.User, error) {
	if token == "" {
		return nil, fmt.Errorf("%w: missing token", domain.ErrUnauthenticated)
	}
	userID, err := UserIDFromToken(token, a.secret)
	if err != nil {
		return nil, err
	}
	user, err := a.users.GetUser(ctx, userID)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, fmt.Errorf("%w: unknown user", domain.ErrUnauthenticated)
	}
	if err != nil {
		return nil, err
	}
	if !user.Enabled {
		return nil, fmt.Errorf("%w: user disabled", domain.ErrUnauthenticated)
	}
	return user, nil
}

// TokenFromRequest reads the `token` query parameter, then the Authorization
// bearer header.
func TokenFromRequest(r *http.Request) string {
	if token := strings.TrimSpace(r.URL.Query().Get("token")); token != "" {
		return token
	}
	header := r.Header.Get("Authorization")
	if len(header) > 7 && strings.EqualFold(header[:7], "bearer ") {
		return strings.TrimSpace(header[7:])
	}
	return ""
}

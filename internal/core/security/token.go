package security

import (
	"context"
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"praxis/internal/core/apperror"
)

// Claims is the JWT payload the token authenticator accepts.
type Claims struct {
	Name  string   `json:"name"`
	Roles []string `json:"roles,omitempty"`
	jwt.RegisteredClaims
}

// TokenAuthenticator validates HS256 bearer tokens.
type TokenAuthenticator struct {
	Secret []byte
}

func (a *TokenAuthenticator) Authenticate(_ context.Context, req Request) (*AuthenticationSession, error) {
	if req.Token == "" {
		return nil, apperror.NewUnauthorized("missing token")
	}

	claims := &Claims{}
	token, err := jwt.ParseWithClaims(req.Token, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return a.Secret, nil
	})
	if err != nil || !token.Valid {
		return nil, apperror.NewUnauthorized("invalid token").WithCause(err)
	}

	name := claims.Name
	if name == "" {
		name = claims.Subject
	}
	return &AuthenticationSession{
		UserID: claims.Subject,
		Name:   name,
		Roles:  claims.Roles,
	}, nil
}

// MintToken signs a token for the given subject. Used by tooling and tests.
func (a *TokenAuthenticator) MintToken(subject, name string, roles []string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		Name:  name,
		Roles: roles,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(a.Secret)
}

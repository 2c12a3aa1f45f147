// Package security provides authentication sessions and the authenticators
// that mint them. Sessions are value objects handed to the session factory;
// authorization is out of scope for the runtime.
package security

import (
	"context"
	"slices"

	"golang.org/x/crypto/bcrypt"

	"praxis/internal/core/apperror"
)

// AuthenticationSession identifies the user a runtime session acts for.
type AuthenticationSession struct {
	UserID string
	Name   string
	Roles  []string
}

// HasRole reports whether the session carries the given role.
func (s *AuthenticationSession) HasRole(role string) bool {
	return slices.Contains(s.Roles, role)
}

// Request carries the credentials presented to an authenticator. Exactly one
// of Password or Token is consulted, depending on the authenticator.
type Request struct {
	Name     string
	Password string
	Token    string
}

// Authenticator validates a request and mints an authentication session.
type Authenticator interface {
	Authenticate(ctx context.Context, req Request) (*AuthenticationSession, error)
}

// ExplorationAuthenticator accepts any non-empty name. Used in exploration
// and prototyping deployments where sign-on is a formality.
type ExplorationAuthenticator struct {
	// Roles granted to every exploration session.
	Roles []string
}

func (a *ExplorationAuthenticator) Authenticate(_ context.Context, req Request) (*AuthenticationSession, error) {
	name := req.Name
	if name == "" {
		name = "exploration"
	}
	return &AuthenticationSession{UserID: name, Name: name, Roles: a.Roles}, nil
}

// PasswordAuthenticator validates against bcrypt password hashes.
type PasswordAuthenticator struct {
	// Hashes maps user name to bcrypt hash.
	Hashes map[string]string
	// Roles maps user name to granted roles.
	Roles map[string][]string
}

func (a *PasswordAuthenticator) Authenticate(_ context.Context, req Request) (*AuthenticationSession, error) {
	hash, ok := a.Hashes[req.Name]
	if !ok {
		return nil, apperror.NewUnauthorized("unknown user")
	}
	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(req.Password)); err != nil {
		return nil, apperror.NewUnauthorized("invalid credentials")
	}
	return &AuthenticationSession{
		UserID: req.Name,
		Name:   req.Name,
		Roles:  a.Roles[req.Name],
	}, nil
}

// HashPassword produces a bcrypt hash suitable for PasswordAuthenticator.
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

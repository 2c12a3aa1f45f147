package security

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"praxis/internal/core/apperror"
)

func TestExplorationAuthenticator(t *testing.T) {
	a := &ExplorationAuthenticator{Roles: []string{"role_user"}}
	ctx := context.Background()

	s, err := a.Authenticate(ctx, Request{Name: "sven"})
	require.NoError(t, err)
	assert.Equal(t, "sven", s.UserID)
	assert.True(t, s.HasRole("role_user"))
	assert.False(t, s.HasRole("role_admin"))

	s, err = a.Authenticate(ctx, Request{})
	require.NoError(t, err)
	assert.Equal(t, "exploration", s.Name)
}

func TestPasswordAuthenticator(t *testing.T) {
	hash, err := HashPassword("s3cret")
	require.NoError(t, err)

	a := &PasswordAuthenticator{
		Hashes: map[string]string{"sven": hash},
		Roles:  map[string][]string{"sven": {"role_admin"}},
	}
	ctx := context.Background()

	s, err := a.Authenticate(ctx, Request{Name: "sven", Password: "s3cret"})
	require.NoError(t, err)
	assert.Equal(t, "sven", s.UserID)
	assert.True(t, s.HasRole("role_admin"))

	_, err = a.Authenticate(ctx, Request{Name: "sven", Password: "wrong"})
	require.Error(t, err)
	assert.True(t, apperror.Is(err, apperror.CodeUnauthorized))

	_, err = a.Authenticate(ctx, Request{Name: "nobody", Password: "s3cret"})
	require.Error(t, err)
	assert.True(t, apperror.Is(err, apperror.CodeUnauthorized))
}

func TestTokenAuthenticator(t *testing.T) {
	a := &TokenAuthenticator{Secret: []byte("test-secret")}
	ctx := context.Background()

	token, err := a.MintToken("u-1", "Sven", []string{"role_user"}, time.Hour)
	require.NoError(t, err)

	s, err := a.Authenticate(ctx, Request{Token: token})
	require.NoError(t, err)
	assert.Equal(t, "u-1", s.UserID)
	assert.Equal(t, "Sven", s.Name)
	assert.True(t, s.HasRole("role_user"))
}

func TestTokenAuthenticatorRejections(t *testing.T) {
	a := &TokenAuthenticator{Secret: []byte("test-secret")}
	ctx := context.Background()

	_, err := a.Authenticate(ctx, Request{})
	require.Error(t, err)

	_, err = a.Authenticate(ctx, Request{Token: "not-a-jwt"})
	require.Error(t, err)
	assert.True(t, apperror.Is(err, apperror.CodeUnauthorized))

	expired, err := a.MintToken("u-1", "Sven", nil, -time.Minute)
	require.NoError(t, err)
	_, err = a.Authenticate(ctx, Request{Token: expired})
	require.Error(t, err)

	other := &TokenAuthenticator{Secret: []byte("different-secret")}
	foreign, err := other.MintToken("u-1", "Sven", nil, time.Hour)
	require.NoError(t, err)
	_, err = a.Authenticate(ctx, Request{Token: foreign})
	require.Error(t, err)
}

package chaty

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func TestMultiTokenValidator(t *testing.T) {
	claims := testClaims(testUserID)
	calls := []string{}

	malformed := TokenValidatorFunc(func(ctx context.Context, token string) (AuthClaims, error) {
		calls = append(calls, "jwks")
		return nil, ErrTokenMalformed
	})
	expired := TokenValidatorFunc(func(ctx context.Context, token string) (AuthClaims, error) {
		calls = append(calls, "jwks")
		return nil, ErrTokenExpired
	})
	introspect := TokenValidatorFunc(func(ctx context.Context, token string) (AuthClaims, error) {
		calls = append(calls, "introspect")
		return claims, nil
	})

	t.Run("falls back on malformed", func(t *testing.T) {
		calls = nil
		got, err := NewMultiTokenValidator(malformed, nil, introspect).Validate(context.Background(), "tok")
		require.NoError(t, err)
		assert.Same(t, claims, got)
		assert.Equal(t, []string{"jwks", "introspect"}, calls)
	})

	t.Run("stops on other errors", func(t *testing.T) {
		calls = nil
		_, err := NewMultiTokenValidator(expired, introspect).Validate(context.Background(), "tok")
		assert.ErrorIs(t, err, ErrTokenExpired)
		assert.Equal(t, []string{"jwks"}, calls)
	})

	t.Run("no validators", func(t *testing.T) {
		_, err := NewMultiTokenValidator().Validate(context.Background(), "tok")
		assert.ErrorIs(t, err, ErrTokenMalformed)
	})
}

func TestIntrospectionValidator(t *testing.T) {
	client := &MockTokenClient{}
	client.On("Introspect", mock.Anything, "active").
		Return(&TokenIntrospection{Active: true, Subject: testUserID, Username: "ada", Email: "ada@example.com"}, nil)
	client.On("Introspect", mock.Anything, "revoked").
		Return(&TokenIntrospection{Active: false}, nil)
	client.On("Introspect", mock.Anything, "broken").
		Return(nil, &stubUpstreamError{status: http.StatusServiceUnavailable, message: "realm unavailable"})

	v := NewIntrospectionValidator(client)

	claims, err := v.Validate(context.Background(), " active ")
	require.NoError(t, err)
	assert.Equal(t, testUserID, claims.UserID())
	assert.Equal(t, "ada", claims.Username())
	assert.Equal(t, "ada@example.com", claims.Email())

	_, err = v.Validate(context.Background(), "revoked")
	assert.ErrorIs(t, err, ErrTokenInactive)
	assert.True(t, IsTokenExpiredError(err))

	_, err = v.Validate(context.Background(), "broken")
	assert.Equal(t, http.StatusServiceUnavailable, HTTPStatus(err))

	_, err = v.Validate(context.Background(), "")
	assert.True(t, IsMalformedError(err))
}

func TestJWTRefresherMapsUpstreamErrors(t *testing.T) {
	client := &MockTokenClient{}
	client.On("RefreshToken", mock.Anything, "good").Return(&TokenSet{AccessToken: "a2", RefreshToken: "r2"}, nil)
	client.On("RefreshToken", mock.Anything, "bad").
		Return(nil, &stubUpstreamError{status: http.StatusBadRequest, message: "Token is not active"})

	refresh := JWTRefresher(client)

	access, next, err := refresh(context.Background(), "good")
	require.NoError(t, err)
	assert.Equal(t, "a2", access)
	assert.Equal(t, "r2", next)

	_, _, err = refresh(context.Background(), "bad")
	require.Error(t, err)
	assert.Equal(t, http.StatusBadRequest, HTTPStatus(err))
}

func TestJWTValidatorAdapter(t *testing.T) {
	v := JWTValidator(TokenValidatorFunc(func(ctx context.Context, token string) (AuthClaims, error) {
		if token == "ok" {
			return testClaims(testUserID), nil
		}
		return nil, errors.New("nope")
	}))

	claims, err := v.Validate(context.Background(), "ok")
	require.NoError(t, err)
	assert.Equal(t, testUserID, claims.UserID())

	claims, err = v.Validate(context.Background(), "bad")
	assert.Error(t, err)
	assert.Nil(t, claims)
}

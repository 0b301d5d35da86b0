package jwtware_test

import (
	"context"
	"errors"
	"testing"

	"github.com/goliatone/go-router"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/goliatone/go-chaty/middleware/jwtware"
)

var errExpired = errors.New("token expired")

type testClaims struct {
	sub   string
	roles []string
}

func (c *testClaims) Subject() string { return c.sub }
func (c *testClaims) UserID() string  { return c.sub }
func (c *testClaims) HasRole(role string) bool {
	for _, r := range c.roles {
		if r == role {
			return true
		}
	}
	return false
}

// tokens maps raw tokens to claims; unknown tokens are expired.
func stubValidator(tokens map[string]*testClaims) jwtware.TokenValidatorFunc {
	return func(_ context.Context, token string) (jwtware.AuthClaims, error) {
		if claims, ok := tokens[token]; ok {
			return claims, nil
		}
		return nil, errExpired
	}
}

func passthrough(c router.Context) error { return c.Next() }

func newContext() *router.MockContext {
	ctx := router.NewMockContext()
	ctx.On("Context").Return(context.Background()).Maybe()
	return ctx
}

func TestJWTWare_BearerHeader(t *testing.T) {
	claims := &testClaims{sub: "user-1"}
	handler := jwtware.New(jwtware.Config{
		TokenValidator: stubValidator(map[string]*testClaims{"good": claims}),
		ErrorHandler: func(c router.Context, err error) error {
			return err
		},
	})(passthrough)

	ctx := newContext()
	ctx.On("GetString", "Authorization", "").Return("Bearer good")
	ctx.On("Locals", "user", claims).Return(nil)

	require.NoError(t, handler(ctx))
	assert.True(t, ctx.NextCalled)
	ctx.AssertExpectations(t)
}

func TestJWTWare_MissingToken(t *testing.T) {
	handler := jwtware.New(jwtware.Config{
		TokenValidator: stubValidator(nil),
		ErrorHandler: func(c router.Context, err error) error {
			return err
		},
	})(passthrough)

	ctx := newContext()
	ctx.On("GetString", "Authorization", "").Return("")

	err := handler(ctx)
	require.ErrorIs(t, err, jwtware.ErrJWTMissingOrMalformed)
	assert.False(t, ctx.NextCalled)
}

func TestJWTWare_ExpiredWithoutRefreshToken(t *testing.T) {
	refresher := jwtware.TokenRefresherFunc(func(ctx context.Context, refreshToken string) (string, string, error) {
		t.Fatal("refresher must not run without a refresh token")
		return "", "", nil
	})

	handler := jwtware.New(jwtware.Config{
		TokenValidator: stubValidator(nil),
		Refresher:      refresher,
		ErrorHandler: func(c router.Context, err error) error {
			return err
		},
	})(passthrough)

	ctx := newContext()
	ctx.On("GetString", "Authorization", "").Return("Bearer stale")
	ctx.On("GetString", jwtware.DefaultRefreshTokenHeader, "").Return("")

	err := handler(ctx)
	require.ErrorIs(t, err, errExpired)
	assert.False(t, ctx.NextCalled)
}

func TestJWTWare_RefreshesExpiredToken(t *testing.T) {
	claims := &testClaims{sub: "user-1"}
	var refreshedWith string

	handler := jwtware.New(jwtware.Config{
		TokenValidator: stubValidator(map[string]*testClaims{"fresh": claims}),
		Refresher: jwtware.TokenRefresherFunc(func(ctx context.Context, refreshToken string) (string, string, error) {
			refreshedWith = refreshToken
			return "fresh", "fresh-refresh", nil
		}),
		ErrorHandler: func(c router.Context, err error) error {
			return err
		},
	})(passthrough)

	ctx := newContext()
	ctx.On("GetString", "Authorization", "").Return("Bearer stale")
	ctx.On("GetString", jwtware.DefaultRefreshTokenHeader, "").Return("refresh-1")
	ctx.On("SetHeader", jwtware.DefaultAccessTokenHeader, "fresh").Return(ctx)
	ctx.On("SetHeader", jwtware.DefaultRefreshTokenHeader, "fresh-refresh").Return(ctx)
	ctx.On("Locals", "user", claims).Return(nil)

	require.NoError(t, handler(ctx))
	assert.Equal(t, "refresh-1", refreshedWith)
	assert.True(t, ctx.NextCalled)
	ctx.AssertExpectations(t)
}

func TestJWTWare_RefreshFailureIsReported(t *testing.T) {
	refreshErr := errors.New("refresh token expired")
	handler := jwtware.New(jwtware.Config{
		TokenValidator: stubValidator(nil),
		Refresher: jwtware.TokenRefresherFunc(func(ctx context.Context, refreshToken string) (string, string, error) {
			return "", "", refreshErr
		}),
		ErrorHandler: func(c router.Context, err error) error {
			return err
		},
	})(passthrough)

	ctx := newContext()
	ctx.On("GetString", "Authorization", "").Return("Bearer stale")
	ctx.On("GetString", jwtware.DefaultRefreshTokenHeader, "").Return("refresh-1")

	require.ErrorIs(t, handler(ctx), refreshErr)
}

func TestJWTWare_RequiredRole(t *testing.T) {
	claims := &testClaims{sub: "user-1", roles: []string{"member"}}
	handler := jwtware.New(jwtware.Config{
		TokenValidator: stubValidator(map[string]*testClaims{"good": claims}),
		RequiredRole:   "admin",
		ErrorHandler: func(c router.Context, err error) error {
			return err
		},
	})(passthrough)

	ctx := newContext()
	ctx.On("GetString", "Authorization", "").Return("Bearer good")

	err := handler(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "admin")
}

func TestJWTWare_ListenersAndEnricher(t *testing.T) {
	type ctxKey struct{}
	claims := &testClaims{sub: "user-1"}
	var seen string

	handler := jwtware.New(jwtware.Config{
		TokenValidator: stubValidator(map[string]*testClaims{"good": claims}),
		ValidationListeners: []jwtware.ValidationListener{
			func(ctx router.Context, c jwtware.AuthClaims) error {
				seen = c.UserID()
				return nil
			},
		},
		ContextEnricher: func(c context.Context, claims jwtware.AuthClaims) context.Context {
			return context.WithValue(c, ctxKey{}, claims.UserID())
		},
	})(passthrough)

	ctx := newContext()
	ctx.On("GetString", "Authorization", "").Return("Bearer good")
	ctx.On("Locals", "user", claims).Return(nil)
	ctx.On("SetContext", mock.Anything).Return().Maybe()

	require.NoError(t, handler(ctx))
	assert.Equal(t, "user-1", seen)
}

func TestJWTWare_RequiresValidator(t *testing.T) {
	assert.Panics(t, func() {
		jwtware.GetDefaultConfig(jwtware.Config{})
	})
}

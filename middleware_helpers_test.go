package chaty

import (
	"context"
	"testing"

	"github.com/goliatone/go-chaty/middleware/jwtware"
	"github.com/goliatone/go-router"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type foreignClaims struct{}

func (foreignClaims) Subject() string     { return "x" }
func (foreignClaims) UserID() string      { return "x" }
func (foreignClaims) HasRole(string) bool { return false }

func TestContextEnricherAdapter(t *testing.T) {
	ctx := ContextEnricherAdapter(context.Background(), testClaims(testUserID))
	claims, ok := GetClaims(ctx)
	require.True(t, ok)
	assert.Equal(t, testUserID, claims.UserID())

	ctx = ContextEnricherAdapter(context.Background(), foreignClaims{})
	_, ok = GetClaims(ctx)
	assert.False(t, ok, "claims from other implementations are ignored")
}

func TestRegisterValidationListeners(t *testing.T) {
	RegisterValidationListeners(nil, func(router.Context, jwtware.AuthClaims) error { return nil })

	cfg := &jwtware.Config{}
	RegisterValidationListeners(cfg)
	assert.Empty(t, cfg.ValidationListeners)

	RegisterValidationListeners(cfg,
		func(router.Context, jwtware.AuthClaims) error { return nil },
		func(router.Context, jwtware.AuthClaims) error { return nil },
	)
	assert.Len(t, cfg.ValidationListeners, 2)
}

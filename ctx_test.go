package chaty

import (
	"context"
	"testing"

	"github.com/goliatone/go-router"
	"github.com/stretchr/testify/assert"
)

func TestGetClaims(t *testing.T) {
	tests := []struct {
		name     string
		setupCtx func() context.Context
		wantOK   bool
	}{
		{
			name: "should return claims when present in context",
			setupCtx: func() context.Context {
				return WithClaimsContext(context.Background(), testClaims(testUserID))
			},
			wantOK: true,
		},
		{
			name: "should return false when no claims in context",
			setupCtx: func() context.Context {
				return context.Background()
			},
			wantOK: false,
		},
		{
			name: "should return false when context has wrong type",
			setupCtx: func() context.Context {
				return context.WithValue(context.Background(), sessionClaimsKey{}, "not-a-claims-object")
			},
			wantOK: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gotClaims, gotOK := GetClaims(tt.setupCtx())

			assert.Equal(t, tt.wantOK, gotOK)
			if tt.wantOK {
				assert.Equal(t, testUserID, gotClaims.UserID())
				assert.Equal(t, "ada", gotClaims.Username())
			} else {
				assert.Nil(t, gotClaims)
			}
		})
	}
}

func TestGetRouterClaims(t *testing.T) {
	t.Run("default key", func(t *testing.T) {
		ctx := router.NewMockContext()
		ctx.LocalsMock["user"] = testClaims(testUserID)

		claims, ok := GetRouterClaims(ctx, "")
		assert.True(t, ok)
		assert.Equal(t, testUserID, claims.UserID())
	})

	t.Run("custom key", func(t *testing.T) {
		ctx := router.NewMockContext()
		ctx.LocalsMock["session"] = testClaims(testUserID)

		_, ok := GetRouterClaims(ctx, "user")
		assert.False(t, ok)

		claims, ok := GetRouterClaims(ctx, "session")
		assert.True(t, ok)
		assert.Equal(t, testUserID, claims.Subject())
	})

	t.Run("wrong type", func(t *testing.T) {
		ctx := router.NewMockContext()
		ctx.LocalsMock["user"] = "not-claims"

		_, ok := GetRouterClaims(ctx, "user")
		assert.False(t, ok)
	})
}

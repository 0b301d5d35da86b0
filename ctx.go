package chaty

import (
	"context"

	"github.com/goliatone/go-router"
)

// DefaultSessionContextKey is the router local the bearer middleware stores
// validated claims under.
const DefaultSessionContextKey = "user"

type sessionClaimsKey struct{}

// WithClaimsContext returns a copy of ctx carrying the session claims.
func WithClaimsContext(ctx context.Context, claims AuthClaims) context.Context {
	return context.WithValue(ctx, sessionClaimsKey{}, claims)
}

// GetClaims returns the session claims stored by WithClaimsContext.
func GetClaims(ctx context.Context) (AuthClaims, bool) {
	if ctx == nil {
		return nil, false
	}
	claims, ok := ctx.Value(sessionClaimsKey{}).(AuthClaims)
	return claims, ok
}

// GetRouterClaims reads the session claims from the router locals under key,
// or DefaultSessionContextKey when key is empty.
func GetRouterClaims(ctx router.Context, key string) (AuthClaims, bool) {
	if key == "" {
		key = DefaultSessionContextKey
	}
	claims, ok := ctx.Locals(key).(AuthClaims)
	return claims, ok && claims != nil
}

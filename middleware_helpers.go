package chaty

import (
	"context"
	"errors"

	"github.com/goliatone/go-chaty/middleware/jwtware"
	"github.com/goliatone/go-router"
)

// ValidationListener aliases the jwtware listener so consumers can use chaty helpers directly.
type ValidationListener = jwtware.ValidationListener

// ContextEnricherAdapter stores chaty claims in the standard context for
// downstream handlers.
func ContextEnricherAdapter(c context.Context, claims jwtware.AuthClaims) context.Context {
	authClaims, ok := claims.(AuthClaims)
	if !ok {
		return c
	}
	return WithClaimsContext(c, authClaims)
}

// RegisterValidationListeners appends listeners to a jwtware.Config in a safe, reusable way.
func RegisterValidationListeners(cfg *jwtware.Config, listeners ...ValidationListener) {
	if cfg == nil || len(listeners) == 0 {
		return
	}
	cfg.ValidationListeners = append(cfg.ValidationListeners, listeners...)
}

// JWTValidator adapts a TokenValidator to the jwtware contract.
func JWTValidator(validator TokenValidator) jwtware.TokenValidatorFunc {
	return func(ctx context.Context, token string) (jwtware.AuthClaims, error) {
		claims, err := validator.Validate(ctx, token)
		if err != nil {
			return nil, err
		}
		return claims, nil
	}
}

// JWTRefresher adapts the identity provider refresh grant to the jwtware contract.
func JWTRefresher(client TokenClient) jwtware.TokenRefresherFunc {
	return func(ctx context.Context, refreshToken string) (string, string, error) {
		tokens, err := client.RefreshToken(ctx, refreshToken)
		if err != nil {
			return "", "", MapUpstreamError("refresh_token", err)
		}
		return tokens.AccessToken, tokens.RefreshToken, nil
	}
}

// NewAuthMiddleware protects routes with validator. When client is not nil an
// expired session is renewed from the X-Refresh-Token header.
func NewAuthMiddleware(validator TokenValidator, client TokenClient, cfg jwtware.Config) router.MiddlewareFunc {
	cfg.TokenValidator = JWTValidator(validator)
	if client != nil && cfg.Refresher == nil {
		cfg.Refresher = JWTRefresher(client)
	}
	if cfg.CanRefresh == nil {
		cfg.CanRefresh = IsTokenExpiredError
	}
	if cfg.ContextEnricher == nil {
		cfg.ContextEnricher = ContextEnricherAdapter
	}
	if cfg.ErrorHandler == nil {
		cfg.ErrorHandler = func(c router.Context, err error) error {
			if errors.Is(err, jwtware.ErrJWTMissingOrMalformed) {
				err = ErrTokenMalformed
			}
			return WriteError(c, err)
		}
	}
	return jwtware.New(cfg)
}

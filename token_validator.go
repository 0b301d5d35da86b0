package chaty

import (
	"context"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// TokenValidator validates access tokens and extracts claims without tying
// callers to a signing or introspection implementation.
type TokenValidator interface {
	Validate(ctx context.Context, token string) (AuthClaims, error)
}

// TokenValidatorFunc adapts a function into a TokenValidator.
type TokenValidatorFunc func(ctx context.Context, token string) (AuthClaims, error)

// Validate satisfies the TokenValidator interface.
func (f TokenValidatorFunc) Validate(ctx context.Context, token string) (AuthClaims, error) {
	if f == nil {
		return nil, ErrTokenMalformed
	}
	return f(ctx, token)
}

// MultiTokenValidator tries validators in order until one succeeds.
// ErrTokenMalformed moves on to the next validator, any other error stops.
type MultiTokenValidator struct {
	validators []TokenValidator
}

// NewMultiTokenValidator filters nil validators and returns a composite validator.
func NewMultiTokenValidator(validators ...TokenValidator) *MultiTokenValidator {
	filtered := make([]TokenValidator, 0, len(validators))
	for _, v := range validators {
		if v != nil {
			filtered = append(filtered, v)
		}
	}
	return &MultiTokenValidator{validators: filtered}
}

// Validate satisfies the TokenValidator interface.
func (m *MultiTokenValidator) Validate(ctx context.Context, token string) (AuthClaims, error) {
	var lastErr error
	for _, v := range m.validators {
		claims, err := v.Validate(ctx, token)
		if err == nil {
			return claims, nil
		}
		if IsMalformedError(err) {
			lastErr = err
			continue
		}
		return nil, err
	}
	if lastErr != nil {
		return nil, lastErr
	}
	return nil, ErrTokenMalformed
}

// IntrospectionValidator asks the identity provider whether a token is active.
type IntrospectionValidator struct {
	client TokenClient
}

func NewIntrospectionValidator(client TokenClient) *IntrospectionValidator {
	return &IntrospectionValidator{client: client}
}

func (v *IntrospectionValidator) Validate(ctx context.Context, token string) (AuthClaims, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, ErrTokenMalformed
	}

	result, err := v.client.Introspect(ctx, token)
	if err != nil {
		return nil, MapUpstreamError("introspect", err)
	}
	if result == nil || !result.Active {
		return nil, ErrTokenInactive
	}

	return &JWTClaims{
		RegisteredClaims:  jwt.RegisteredClaims{Subject: result.Subject},
		PreferredUsername: result.Username,
		Mail:              result.Email,
	}, nil
}

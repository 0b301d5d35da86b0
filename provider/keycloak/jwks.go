package keycloak

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/MicahParks/keyfunc/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/goliatone/go-chaty"
)

// JWKSValidator checks realm access tokens offline against the realm keys.
type JWKSValidator struct {
	keyfunc jwt.Keyfunc
	issuer  string
	leeway  time.Duration
	stop    func()
	logger  chaty.Logger
}

var _ chaty.TokenValidator = (*JWKSValidator)(nil)

type JWKSOption func(*JWKSValidator)

func WithJWKSLogger(logger chaty.Logger) JWKSOption {
	return func(v *JWKSValidator) {
		if logger != nil {
			v.logger = logger
		}
	}
}

// WithJWKSLeeway tolerates clock skew on exp and nbf.
func WithJWKSLeeway(leeway time.Duration) JWKSOption {
	return func(v *JWKSValidator) {
		v.leeway = leeway
	}
}

// WithJWKSIssuer overrides the expected iss claim. An empty issuer disables the check.
func WithJWKSIssuer(issuer string) JWKSOption {
	return func(v *JWKSValidator) {
		v.issuer = issuer
	}
}

// NewJWKSValidator fetches the realm certs and keeps them refreshed in the
// background until Close.
func NewJWKSValidator(cfg Config, opts ...JWKSOption) (*JWKSValidator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cfg = cfg.withDefaults()

	v := &JWKSValidator{issuer: cfg.Issuer()}
	v.apply(opts)

	jwks, err := keyfunc.Get(cfg.CertsURL(), keyfunc.Options{
		Client: cfg.HTTPClient,
		RefreshErrorHandler: func(err error) {
			v.logger.Warn("failed to refresh realm keys", "error", err)
		},
		RefreshInterval:   time.Hour,
		RefreshRateLimit:  5 * time.Minute,
		RefreshTimeout:    10 * time.Second,
		RefreshUnknownKID: true,
	})
	if err != nil {
		return nil, upstreamError("certs", 0, "jwks_unavailable", "unable to load realm keys", err, nil)
	}

	v.keyfunc = jwks.Keyfunc
	v.stop = jwks.EndBackground
	return v, nil
}

// NewJWKSValidatorWithKeyfunc builds a validator over a caller supplied key
// source, such as keyfunc.NewGiven.
func NewJWKSValidatorWithKeyfunc(kf jwt.Keyfunc, opts ...JWKSOption) *JWKSValidator {
	v := &JWKSValidator{keyfunc: kf}
	v.apply(opts)
	return v
}

func (v *JWKSValidator) apply(opts []JWKSOption) {
	v.logger = nopLogger{}
	for _, opt := range opts {
		if opt != nil {
			opt(v)
		}
	}
}

// Validate parses and verifies token. Expired tokens fail with
// chaty.ErrTokenExpired, everything else with chaty.ErrTokenMalformed.
func (v *JWKSValidator) Validate(_ context.Context, token string) (chaty.AuthClaims, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, chaty.ErrTokenMalformed
	}

	parserOpts := []jwt.ParserOption{jwt.WithExpirationRequired()}
	if v.issuer != "" {
		parserOpts = append(parserOpts, jwt.WithIssuer(v.issuer))
	}
	if v.leeway > 0 {
		parserOpts = append(parserOpts, jwt.WithLeeway(v.leeway))
	}

	claims := &chaty.JWTClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims, v.keyfunc, parserOpts...)
	if err != nil {
		return nil, normalizeValidationError(err)
	}
	if !parsed.Valid {
		return nil, chaty.ErrTokenMalformed
	}

	return claims, nil
}

// Close stops the background key refresh.
func (v *JWKSValidator) Close() {
	if v.stop != nil {
		v.stop()
	}
}

func normalizeValidationError(err error) error {
	base := chaty.ErrTokenMalformed
	if errors.Is(err, jwt.ErrTokenExpired) {
		base = chaty.ErrTokenExpired
	}

	clone := base.Clone()
	clone.Source = err
	return clone.WithMetadata(map[string]any{
		"provider": "keycloak",
		"cause":    err.Error(),
	})
}

type nopLogger struct{}

func (nopLogger) Debug(string, ...any) {}
func (nopLogger) Info(string, ...any)  {}
func (nopLogger) Warn(string, ...any)  {}
func (nopLogger) Error(string, ...any) {}

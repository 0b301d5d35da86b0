package chaty

import (
	"slices"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// DefaultRole is reported for sessions whose token carries no realm roles.
const DefaultRole = "user"

// AuthClaims is the authenticated session as seen by handlers.
type AuthClaims interface {
	Subject() string
	UserID() string
	Username() string
	Email() string
	EmailVerified() bool
	Roles() []string
	HasRole(role string) bool
	Expires() time.Time
}

// RealmAccess mirrors the realm_access claim of realm issued tokens.
type RealmAccess struct {
	Roles []string `json:"roles,omitempty"`
}

// JWTClaims is the concrete AuthClaims decoded from an access token or
// assembled from an introspection response.
type JWTClaims struct {
	jwt.RegisteredClaims
	PreferredUsername string      `json:"preferred_username,omitempty"`
	Mail              string      `json:"email,omitempty"`
	MailVerified      bool        `json:"email_verified,omitempty"`
	Realm             RealmAccess `json:"realm_access,omitempty"`
}

var _ AuthClaims = (*JWTClaims)(nil)

func (c *JWTClaims) Subject() string {
	return c.RegisteredClaims.Subject
}

// UserID is the identity provider user id, which is the token subject.
func (c *JWTClaims) UserID() string {
	return c.RegisteredClaims.Subject
}

func (c *JWTClaims) Username() string {
	return firstNonEmpty(c.PreferredUsername, c.Mail)
}

func (c *JWTClaims) Email() string {
	return c.Mail
}

func (c *JWTClaims) EmailVerified() bool {
	return c.MailVerified
}

func (c *JWTClaims) Roles() []string {
	return c.Realm.Roles
}

func (c *JWTClaims) HasRole(role string) bool {
	if role == DefaultRole {
		return true
	}
	return slices.Contains(c.Realm.Roles, role)
}

// Expires returns the expiration time
func (c *JWTClaims) Expires() time.Time {
	if c.RegisteredClaims.ExpiresAt != nil {
		return c.RegisteredClaims.ExpiresAt.Time
	}
	return time.Time{}
}

// Expired reports whether the claims carry an expiry before now.
func (c *JWTClaims) Expired(now time.Time) bool {
	exp := c.Expires()
	return !exp.IsZero() && !now.Before(exp)
}

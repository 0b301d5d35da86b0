package chaty_test

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"

	"github.com/goliatone/go-chaty"
)

func TestJWTClaims_Subject(t *testing.T) {
	claims := &chaty.JWTClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject: "239f1055-0a6b-4d01-9202-c0fff0a50a26",
		},
	}

	assert.Equal(t, "239f1055-0a6b-4d01-9202-c0fff0a50a26", claims.Subject())
	assert.Equal(t, claims.Subject(), claims.UserID())
}

func TestJWTClaims_Username(t *testing.T) {
	tests := []struct {
		name   string
		claims *chaty.JWTClaims
		want   string
	}{
		{
			name:   "preferred username",
			claims: &chaty.JWTClaims{PreferredUsername: "ada", Mail: "ada@example.com"},
			want:   "ada",
		},
		{
			name:   "falls back to email",
			claims: &chaty.JWTClaims{Mail: "ada@example.com"},
			want:   "ada@example.com",
		},
		{
			name:   "empty",
			claims: &chaty.JWTClaims{},
			want:   "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.claims.Username())
		})
	}
}

func TestJWTClaims_HasRole(t *testing.T) {
	claims := &chaty.JWTClaims{
		Realm: chaty.RealmAccess{Roles: []string{"offline_access", "uma_authorization"}},
	}

	assert.True(t, claims.HasRole(chaty.DefaultRole), "every session holds the default role")
	assert.True(t, claims.HasRole("offline_access"))
	assert.False(t, claims.HasRole("admin"))
	assert.Equal(t, []string{"offline_access", "uma_authorization"}, claims.Roles())

	assert.True(t, (&chaty.JWTClaims{}).HasRole(chaty.DefaultRole))
}

func TestJWTClaims_Expiry(t *testing.T) {
	exp := time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC)
	claims := &chaty.JWTClaims{
		RegisteredClaims: jwt.RegisteredClaims{ExpiresAt: jwt.NewNumericDate(exp)},
	}

	assert.Equal(t, exp, claims.Expires())
	assert.False(t, claims.Expired(exp.Add(-time.Second)))
	assert.True(t, claims.Expired(exp))

	none := &chaty.JWTClaims{}
	assert.True(t, none.Expires().IsZero())
	assert.False(t, none.Expired(time.Now()), "tokens without exp never expire locally")
}

func TestJWTClaims_Email(t *testing.T) {
	claims := &chaty.JWTClaims{Mail: "ada@example.com", MailVerified: true}
	assert.Equal(t, "ada@example.com", claims.Email())
	assert.True(t, claims.EmailVerified())
}

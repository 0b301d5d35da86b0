package chaty

import (
	"context"
	"fmt"
	"strings"
)

// Logger is the logging contract used across the package. Arguments after
// the message are key/value pairs.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// SignupParams holds the account attributes sent to the identity provider.
type SignupParams struct {
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Username  string `json:"username"`
	Email     string `json:"email"`
	Phone     string `json:"phone,omitempty"`
	Password  string `json:"password"`
}

// SigninParams holds resource owner credentials.
type SigninParams struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// TokenSet is what the identity provider hands back on signin and refresh.
type TokenSet struct {
	AccessToken      string `json:"token"`
	RefreshToken     string `json:"refresh_token"`
	ExpiresIn        int    `json:"expires_in"`
	RefreshExpiresIn int    `json:"refresh_expires_in,omitempty"`
}

// IdentityUser is the identity provider view of an account.
type IdentityUser struct {
	ID            string
	Username      string
	Email         string
	FirstName     string
	LastName      string
	EmailVerified bool
}

// TokenIntrospection is the subset of an introspection response we rely on.
type TokenIntrospection struct {
	Active   bool
	Subject  string
	Username string
	Email    string
}

// UserInfo is the subset of the userinfo response we rely on.
type UserInfo struct {
	Subject       string
	Email         string
	EmailVerified bool
	Username      string
	Name          string
}

// IdentityAdmin covers the admin capabilities of the identity provider.
type IdentityAdmin interface {
	AddUser(ctx context.Context, params SignupParams) (*IdentityUser, error)
	SendVerifyEmail(ctx context.Context, userID, redirectURL string) error
}

// TokenClient covers the realm client capabilities of the identity provider.
type TokenClient interface {
	Token(ctx context.Context, params SigninParams) (*TokenSet, error)
	RefreshToken(ctx context.Context, refreshToken string) (*TokenSet, error)
	Introspect(ctx context.Context, token string) (*TokenIntrospection, error)
	UserInfo(ctx context.Context, token string) (*UserInfo, error)
	RevokeToken(ctx context.Context, token string) error
}

// Signer issues and checks stateless signatures.
type Signer interface {
	Sign(data string) (string, error)
	Verify(data, signature string) error
}

// TaskRunner runs work detached from the caller.
type TaskRunner interface {
	Go(name string, task func(ctx context.Context) error) error
}

type defLogger struct{}

func (d defLogger) Error(msg string, args ...any) {
	fmt.Print("[ERR] CHATY " + render(msg, args...))
}

func (d defLogger) Warn(msg string, args ...any) {
	fmt.Print("[WRN] CHATY " + render(msg, args...))
}

func (d defLogger) Info(msg string, args ...any) {
	fmt.Print("[INF] CHATY " + render(msg, args...))
}

func (d defLogger) Debug(msg string, args ...any) {
	fmt.Print("[DBG] CHATY " + render(msg, args...))
}

// render writes msg followed by key=value pairs. A trailing odd argument is
// written on its own.
func render(msg string, args ...any) string {
	var b strings.Builder
	b.WriteString(msg)
	for i := 0; i < len(args); i += 2 {
		if i+1 < len(args) {
			b.WriteString(" ")
			b.WriteString(fmt.Sprint(args[i]))
			b.WriteString("=")
			b.WriteString(fmt.Sprint(args[i+1]))
			continue
		}
		b.WriteString(" ")
		b.WriteString(fmt.Sprint(args[i]))
	}
	return newline(b.String())
}

func newline(s string) string {
	if len(s) > 0 && s[len(s)-1] != '\n' {
		s += "\n"
	}
	return s
}

func normalizeLogger(l Logger) Logger {
	if l == nil {
		return defLogger{}
	}
	return l
}

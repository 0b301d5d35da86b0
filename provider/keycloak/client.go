package keycloak

import (
	"context"
	"net/http"
	"net/url"

	"github.com/goliatone/go-chaty"
)

// Client talks to the realm OpenID Connect endpoints with the confidential
// client credentials.
type Client struct {
	config Config
}

var _ chaty.TokenClient = (*Client)(nil)

func NewClient(cfg Config) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Client{config: cfg.withDefaults()}, nil
}

type tokenResponse struct {
	AccessToken      string `json:"access_token"`
	RefreshToken     string `json:"refresh_token"`
	ExpiresIn        int    `json:"expires_in"`
	RefreshExpiresIn int    `json:"refresh_expires_in"`
	TokenType        string `json:"token_type"`
}

type introspectionResponse struct {
	Active   bool   `json:"active"`
	Subject  string `json:"sub"`
	Username string `json:"username"`
	Email    string `json:"email"`
}

type userInfoResponse struct {
	Subject           string `json:"sub"`
	Email             string `json:"email"`
	EmailVerified     bool   `json:"email_verified"`
	PreferredUsername string `json:"preferred_username"`
	Name              string `json:"name"`
}

// Token runs a resource owner password grant.
func (c *Client) Token(ctx context.Context, params chaty.SigninParams) (*chaty.TokenSet, error) {
	data := c.credentials()
	data.Set("grant_type", "password")
	data.Set("username", params.Username)
	data.Set("password", params.Password)
	data.Set("scope", "openid")
	return c.grant(ctx, "token", data)
}

func (c *Client) RefreshToken(ctx context.Context, refreshToken string) (*chaty.TokenSet, error) {
	data := c.credentials()
	data.Set("grant_type", "refresh_token")
	data.Set("refresh_token", refreshToken)
	return c.grant(ctx, "refresh_token", data)
}

func (c *Client) Introspect(ctx context.Context, token string) (*chaty.TokenIntrospection, error) {
	data := c.credentials()
	data.Set("token", token)

	req, err := newFormRequest(ctx, c.endpoint("/protocol/openid-connect/token/introspect"), data)
	if err != nil {
		return nil, err
	}

	var out introspectionResponse
	if _, err := do(c.config.HTTPClient, "introspect", req, &out); err != nil {
		return nil, err
	}

	return &chaty.TokenIntrospection{
		Active:   out.Active,
		Subject:  out.Subject,
		Username: out.Username,
		Email:    out.Email,
	}, nil
}

func (c *Client) UserInfo(ctx context.Context, token string) (*chaty.UserInfo, error) {
	req, err := newJSONRequest(ctx, http.MethodGet, c.endpoint("/protocol/openid-connect/userinfo"), token, nil)
	if err != nil {
		return nil, err
	}

	var out userInfoResponse
	if _, err := do(c.config.HTTPClient, "user_info", req, &out); err != nil {
		return nil, err
	}

	return &chaty.UserInfo{
		Subject:       out.Subject,
		Email:         out.Email,
		EmailVerified: out.EmailVerified,
		Username:      out.PreferredUsername,
		Name:          out.Name,
	}, nil
}

// RevokeToken revokes an access or refresh token.
func (c *Client) RevokeToken(ctx context.Context, token string) error {
	data := c.credentials()
	data.Set("token", token)

	req, err := newFormRequest(ctx, c.endpoint("/protocol/openid-connect/revoke"), data)
	if err != nil {
		return err
	}

	_, err = do(c.config.HTTPClient, "revoke_token", req, nil)
	return err
}

func (c *Client) grant(ctx context.Context, op string, data url.Values) (*chaty.TokenSet, error) {
	req, err := newFormRequest(ctx, c.endpoint("/protocol/openid-connect/token"), data)
	if err != nil {
		return nil, err
	}

	var out tokenResponse
	if _, err := do(c.config.HTTPClient, op, req, &out); err != nil {
		return nil, err
	}
	if out.AccessToken == "" {
		return nil, upstreamError(op, http.StatusBadGateway, "missing_access_token", "missing access token", nil, nil)
	}

	return &chaty.TokenSet{
		AccessToken:      out.AccessToken,
		RefreshToken:     out.RefreshToken,
		ExpiresIn:        out.ExpiresIn,
		RefreshExpiresIn: out.RefreshExpiresIn,
	}, nil
}

func (c *Client) credentials() url.Values {
	data := url.Values{"client_id": {c.config.ClientID}}
	if c.config.ClientSecret != "" {
		data.Set("client_secret", c.config.ClientSecret)
	}
	return data
}

func (c *Client) endpoint(path string) string {
	return c.config.realmURL(c.config.Realm, path)
}

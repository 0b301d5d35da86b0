package keycloak

import (
	"context"
	"net/http"
	"net/url"
	"path"
	"strconv"
	"strings"
	"sync"
	"time"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/goliatone/go-chaty"
	goerrors "github.com/goliatone/go-errors"
)

// tokens are renewed this long before Keycloak would expire them
const adminTokenSkew = 10 * time.Second

// Admin drives the admin REST API of one realm.
type Admin struct {
	config Config
	now    func() time.Time

	mu      sync.Mutex
	token   string
	expires time.Time
}

var _ chaty.IdentityAdmin = (*Admin)(nil)

type AdminOption func(*Admin)

// WithAdminClock overrides the clock used for admin token caching.
func WithAdminClock(now func() time.Time) AdminOption {
	return func(a *Admin) {
		if now != nil {
			a.now = now
		}
	}
}

func NewAdmin(cfg Config, opts ...AdminOption) (*Admin, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := goerrors.ValidateWithOzzo(func() error {
		return validation.ValidateStruct(&cfg,
			validation.Field(&cfg.AdminUsername, validation.Required),
			validation.Field(&cfg.AdminPassword, validation.Required),
		)
	}, "invalid keycloak admin configuration"); err != nil {
		return nil, err
	}

	a := &Admin{
		config: cfg.withDefaults(),
		now:    time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(a)
		}
	}
	return a, nil
}

type credentialRepresentation struct {
	Type      string `json:"type"`
	Value     string `json:"value"`
	Temporary bool   `json:"temporary"`
}

type userRepresentation struct {
	ID            string                     `json:"id,omitempty"`
	Username      string                     `json:"username"`
	Email         string                     `json:"email"`
	FirstName     string                     `json:"firstName,omitempty"`
	LastName      string                     `json:"lastName,omitempty"`
	Enabled       bool                       `json:"enabled"`
	EmailVerified bool                       `json:"emailVerified"`
	Credentials   []credentialRepresentation `json:"credentials,omitempty"`
	Attributes    map[string][]string        `json:"attributes,omitempty"`
}

// AddUser creates an enabled, unverified user with a permanent password and
// returns it with the id Keycloak assigned.
func (a *Admin) AddUser(ctx context.Context, params chaty.SignupParams) (*chaty.IdentityUser, error) {
	token, err := a.adminToken(ctx)
	if err != nil {
		return nil, err
	}

	rep := userRepresentation{
		Username:  params.Username,
		Email:     params.Email,
		FirstName: params.FirstName,
		LastName:  params.LastName,
		Enabled:   true,
		Credentials: []credentialRepresentation{
			{Type: "password", Value: params.Password},
		},
	}
	if params.Phone != "" {
		rep.Attributes = map[string][]string{"phone_number": {params.Phone}}
	}

	req, err := newJSONRequest(ctx, http.MethodPost, a.config.adminURL("/users"), token, rep)
	if err != nil {
		return nil, err
	}

	header, err := do(a.config.HTTPClient, "add_user", req, nil)
	if err != nil {
		return nil, err
	}

	id := idFromLocation(header.Get("Location"))
	if id == "" {
		found, err := a.findByUsername(ctx, token, params.Username)
		if err != nil {
			return nil, err
		}
		id = found.ID
	}

	return &chaty.IdentityUser{
		ID:        id,
		Username:  params.Username,
		Email:     params.Email,
		FirstName: params.FirstName,
		LastName:  params.LastName,
	}, nil
}

// SendVerifyEmail asks Keycloak to email the verify action to userID. The
// link in the email returns the user to redirectURL.
func (a *Admin) SendVerifyEmail(ctx context.Context, userID, redirectURL string) error {
	token, err := a.adminToken(ctx)
	if err != nil {
		return err
	}

	query := url.Values{
		"client_id": {a.config.ClientID},
		"lifespan":  {strconv.Itoa(int(a.config.EmailLifespan / time.Second))},
	}
	if redirectURL != "" {
		query.Set("redirect_uri", redirectURL)
	}

	endpoint := a.config.adminURL("/users/"+url.PathEscape(userID)+"/send-verify-email") + "?" + query.Encode()
	req, err := newJSONRequest(ctx, http.MethodPut, endpoint, token, nil)
	if err != nil {
		return err
	}

	_, err = do(a.config.HTTPClient, "send_verify_email", req, nil)
	return err
}

func (a *Admin) findByUsername(ctx context.Context, token, username string) (*userRepresentation, error) {
	query := url.Values{"username": {username}, "exact": {"true"}}
	req, err := newJSONRequest(ctx, http.MethodGet, a.config.adminURL("/users")+"?"+query.Encode(), token, nil)
	if err != nil {
		return nil, err
	}

	var found []userRepresentation
	if _, err := do(a.config.HTTPClient, "find_user", req, &found); err != nil {
		return nil, err
	}
	if len(found) == 0 || found[0].ID == "" {
		return nil, upstreamError("find_user", http.StatusNotFound, "user_not_found", "created user not found", nil, nil)
	}
	return &found[0], nil
}

func (a *Admin) adminToken(ctx context.Context) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.token != "" && a.now().Before(a.expires) {
		return a.token, nil
	}

	data := url.Values{
		"grant_type": {"password"},
		"client_id":  {a.config.AdminClientID},
		"username":   {a.config.AdminUsername},
		"password":   {a.config.AdminPassword},
	}
	req, err := newFormRequest(ctx, a.config.realmURL(a.config.AdminRealm, "/protocol/openid-connect/token"), data)
	if err != nil {
		return "", err
	}

	var out tokenResponse
	if _, err := do(a.config.HTTPClient, "admin_token", req, &out); err != nil {
		return "", err
	}
	if out.AccessToken == "" {
		return "", upstreamError("admin_token", http.StatusBadGateway, "missing_access_token", "missing access token", nil, nil)
	}

	a.token = out.AccessToken
	a.expires = a.now().Add(time.Duration(out.ExpiresIn)*time.Second - adminTokenSkew)
	return a.token, nil
}

func idFromLocation(location string) string {
	location = strings.TrimRight(strings.TrimSpace(location), "/")
	if location == "" {
		return ""
	}
	if u, err := url.Parse(location); err == nil {
		location = u.Path
	}
	return path.Base(location)
}

package keycloak

import (
	"net/http"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/go-ozzo/ozzo-validation/is"
	goerrors "github.com/goliatone/go-errors"
)

const (
	defaultAdminRealm    = "master"
	defaultAdminClientID = "admin-cli"
	defaultEmailLifespan = 10 * time.Minute
	defaultHTTPTimeout   = 10 * time.Second
)

// Config holds the realm and admin credentials used to talk to Keycloak.
type Config struct {
	// URL is the server base, e.g. "http://localhost:8080".
	URL   string
	Realm string

	ClientID     string
	ClientSecret string

	// AdminRealm and AdminClientID select the realm used to obtain admin
	// tokens. Default: "master" and "admin-cli".
	AdminRealm    string
	AdminClientID string
	AdminUsername string
	AdminPassword string

	// EmailLifespan bounds how long an emailed action link stays valid.
	// Default: 10 minutes.
	EmailLifespan time.Duration

	HTTPClient *http.Client
}

// Validate will run validation rules
func (c Config) Validate() *goerrors.Error {
	return goerrors.ValidateWithOzzo(func() error {
		return validation.ValidateStruct(&c,
			validation.Field(&c.URL, validation.Required, is.URL),
			validation.Field(&c.Realm, validation.Required),
			validation.Field(&c.ClientID, validation.Required),
		)
	}, "invalid keycloak configuration")
}

func (c Config) withDefaults() Config {
	c.URL = strings.TrimRight(strings.TrimSpace(c.URL), "/")
	if c.AdminRealm == "" {
		c.AdminRealm = defaultAdminRealm
	}
	if c.AdminClientID == "" {
		c.AdminClientID = defaultAdminClientID
	}
	if c.EmailLifespan <= 0 {
		c.EmailLifespan = defaultEmailLifespan
	}
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: defaultHTTPTimeout}
	}
	return c
}

func (c Config) realmURL(realm, path string) string {
	return c.URL + "/realms/" + realm + path
}

func (c Config) adminURL(path string) string {
	return c.URL + "/admin/realms/" + c.Realm + path
}

// TokenURL is the OpenID Connect token endpoint of the realm.
func (c Config) TokenURL() string {
	return c.withDefaults().realmURL(c.Realm, "/protocol/openid-connect/token")
}

// CertsURL is the JWKS endpoint of the realm.
func (c Config) CertsURL() string {
	return c.withDefaults().realmURL(c.Realm, "/protocol/openid-connect/certs")
}

// Issuer is the iss claim of tokens minted by the realm.
func (c Config) Issuer() string {
	return c.withDefaults().realmURL(c.Realm, "")
}

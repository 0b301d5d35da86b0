package config

import (
	"fmt"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/go-ozzo/ozzo-validation/is"
)

// Config is the root configuration loaded from config/app.json and the environment.
type Config struct {
	App         App         `koanf:"app" json:"app"`
	Keycloak    Keycloak    `koanf:"keycloak" json:"keycloak"`
	Persistence Persistence `koanf:"persistence" json:"persistence"`
	Channels    Channels    `koanf:"channels" json:"channels"`
	Dispatcher  Dispatcher  `koanf:"dispatcher" json:"dispatcher"`
	RateLimit   RateLimit   `koanf:"rate_limit" json:"rate_limit"`
}

type App struct {
	Host string `koanf:"host" json:"host"`
	Port int    `koanf:"port" json:"port"`
	Dev  bool   `koanf:"dev" json:"dev"`

	// RedirectSendVerifyEmailURL is the public callback embedded in verification links.
	RedirectSendVerifyEmailURL string `koanf:"redirect_send_verify_email_url" json:"redirect_send_verify_email_url"`
	LoginRedirect              string `koanf:"login_redirect" json:"login_redirect"`
	ErrorRedirect              string `koanf:"error_redirect" json:"error_redirect"`
}

type Keycloak struct {
	URL           string `koanf:"url" json:"url"`
	Realm         string `koanf:"realm" json:"realm"`
	ClientID      string `koanf:"client_id" json:"client_id"`
	ClientSecret  string `koanf:"client_secret" json:"client_secret"`
	AdminUsername string `koanf:"admin_username" json:"admin_username"`
	AdminPassword string `koanf:"admin_password" json:"admin_password"`
	// EmailLifespanExpression is a duration such as "10m".
	EmailLifespanExpression string `koanf:"email_lifespan" json:"email_lifespan"`
}

type Persistence struct {
	Driver                string `koanf:"driver" json:"driver"`
	Server                string `koanf:"server" json:"server"`
	Debug                 bool   `koanf:"debug" json:"debug"`
	PingTimeoutExpression string `koanf:"ping_timeout" json:"ping_timeout"`
	OtelIdentifier        string `koanf:"otel_identifier" json:"otel_identifier"`
}

type Channels struct {
	Capacity int `koanf:"capacity" json:"capacity"`
}

type Dispatcher struct {
	Workers               int    `koanf:"workers" json:"workers"`
	QueueSize             int    `koanf:"queue_size" json:"queue_size"`
	TaskTimeoutExpression string `koanf:"task_timeout" json:"task_timeout"`
}

type RateLimit struct {
	SendVerifyEmailPerMinute int `koanf:"send_verify_email_per_minute" json:"send_verify_email_per_minute"`
	Burst                    int `koanf:"burst" json:"burst"`
}

func (c *Config) GetApp() App                 { return c.App }
func (c *Config) GetKeycloak() Keycloak       { return c.Keycloak }
func (c *Config) GetPersistence() Persistence { return c.Persistence }
func (c *Config) GetChannels() Channels       { return c.Channels }
func (c *Config) GetDispatcher() Dispatcher   { return c.Dispatcher }
func (c *Config) GetRateLimit() RateLimit     { return c.RateLimit }

// Validate will run validation rules
func (c *Config) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.App),
		validation.Field(&c.Keycloak),
		validation.Field(&c.Persistence),
		validation.Field(&c.Channels),
		validation.Field(&c.Dispatcher),
		validation.Field(&c.RateLimit),
	)
}

func (a App) Validate() error {
	return validation.ValidateStruct(&a,
		validation.Field(&a.Port, validation.Required, validation.Min(1), validation.Max(65535)),
		validation.Field(&a.RedirectSendVerifyEmailURL, validation.Required, is.URL),
	)
}

// Address is the listen address for the HTTP server.
func (a App) Address() string {
	return fmt.Sprintf("%s:%d", a.Host, a.Port)
}

func (a App) GetLoginRedirect() string {
	return firstNonEmpty(a.LoginRedirect, "/login")
}

func (a App) GetErrorRedirect() string {
	return firstNonEmpty(a.ErrorRedirect, "/error")
}

func (k Keycloak) Validate() error {
	return validation.ValidateStruct(&k,
		validation.Field(&k.URL, validation.Required, is.URL),
		validation.Field(&k.Realm, validation.Required),
		validation.Field(&k.ClientID, validation.Required),
		validation.Field(&k.AdminUsername, validation.Required),
		validation.Field(&k.AdminPassword, validation.Required),
		validation.Field(&k.EmailLifespanExpression, validation.By(validDuration)),
	)
}

func (k Keycloak) GetEmailLifespan() time.Duration {
	return parseDuration(k.EmailLifespanExpression, 10*time.Minute)
}

// HMACKey is the secret used to sign verification links.
func (k Keycloak) HMACKey() string {
	return k.AdminPassword
}

func (p Persistence) Validate() error {
	return validation.ValidateStruct(&p,
		validation.Field(&p.Driver, validation.Required, validation.In("sqlite")),
		validation.Field(&p.Server, validation.Required),
		validation.Field(&p.PingTimeoutExpression, validation.By(validDuration)),
	)
}

func (p Persistence) GetDebug() bool {
	return p.Debug
}

func (p Persistence) GetDriver() string {
	return p.Driver
}

func (p Persistence) GetServer() string {
	return p.Server
}

func (p Persistence) GetPingTimeout() time.Duration {
	return parseDuration(p.PingTimeoutExpression, 5*time.Second)
}

func (p Persistence) GetOtelIdentifier() string {
	return p.OtelIdentifier
}

func (c Channels) Validate() error {
	return validation.ValidateStruct(&c,
		validation.Field(&c.Capacity, validation.Min(0)),
	)
}

func (d Dispatcher) Validate() error {
	return validation.ValidateStruct(&d,
		validation.Field(&d.Workers, validation.Min(0)),
		validation.Field(&d.QueueSize, validation.Min(0)),
		validation.Field(&d.TaskTimeoutExpression, validation.By(validDuration)),
	)
}

func (d Dispatcher) GetTaskTimeout() time.Duration {
	return parseDuration(d.TaskTimeoutExpression, 0)
}

func (r RateLimit) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.SendVerifyEmailPerMinute, validation.Min(0)),
		validation.Field(&r.Burst, validation.Min(0)),
	)
}

// Enabled reports whether resend requests are limited at all.
func (r RateLimit) Enabled() bool {
	return r.SendVerifyEmailPerMinute > 0
}

func validDuration(value any) error {
	expr, _ := value.(string)
	if strings.TrimSpace(expr) == "" {
		return nil
	}
	if _, err := time.ParseDuration(expr); err != nil {
		return fmt.Errorf("must be a duration: %w", err)
	}
	return nil
}

func parseDuration(expr string, fallback time.Duration) time.Duration {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return fallback
	}
	dur, err := time.ParseDuration(expr)
	if err != nil {
		return fallback
	}
	return dur
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

// Package config builds the immutable process configuration for the gateway.
//
// A Config is assembled once at start-up from defaults, an optional YAML file,
// an optional .env file and AUTHGATE_* environment variables, validated, and
// then handed to every component explicitly. Components copy the parts they
// need at construction time; nothing reads the environment afterwards.
package config

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"
)

// Supported signing algorithms. The gateway signs and verifies with one
// server-held secret, so only HMAC variants apply.
var SupportedAlgorithms = []string{"HS256", "HS384", "HS512"}

// Built-in action classes.
const (
	ActionAuth    = "auth"
	ActionVerify  = "verify"
	ActionUpload  = "upload"
	ActionGeneral = "general"
)

// MinSecretLength is the minimum accepted length of the signing secret in bytes.
const MinSecretLength = 32

// ErrInvalid is wrapped by every validation failure.
var ErrInvalid = errors.New("config: invalid")

// Config is the full gateway configuration.
type Config struct {
	Auth       AuthConfig           `yaml:"auth"`
	RateLimits map[string]RateLimit `yaml:"rate_limits"`
	Routes     map[string]Route     `yaml:"routes"`
	Roles      map[string]Role      `yaml:"roles"`
	Navigation []NavSection         `yaml:"navigation"`
	Database   DatabaseConfig       `yaml:"database"`
	Redis      RedisConfig          `yaml:"redis"`
	HTTP       HTTPConfig           `yaml:"http"`
	GRPC       GRPCConfig           `yaml:"grpc"`
	Audit      AuditConfig          `yaml:"audit"`
	Log        LogConfig            `yaml:"log"`
	Tracing    TracingConfig        `yaml:"tracing"`
	Bootstrap  BootstrapConfig      `yaml:"bootstrap"`
}

// AuthConfig configures token issuance and credential lookups.
type AuthConfig struct {
	JWTSecret      string        `yaml:"jwt_secret"`
	JWTAlgorithm   string        `yaml:"jwt_algorithm"`
	Issuer         string        `yaml:"issuer"`
	TokenTTL       time.Duration `yaml:"token_ttl"`
	RefreshTTL     time.Duration `yaml:"refresh_ttl"`
	APIKeyTokenTTL time.Duration `yaml:"api_key_token_ttl"`
	LookupTimeout  time.Duration `yaml:"lookup_timeout"`
}

// RateLimit is the fixed-window policy of one action class.
type RateLimit struct {
	Max    int           `yaml:"max"`
	Window time.Duration `yaml:"window"`
}

// Route maps a route key to the permissions that unlock it. A principal needs
// at least one of Permissions. Public routes skip authentication entirely.
type Route struct {
	Permissions []string `yaml:"permissions"`
	Public      bool     `yaml:"public"`
	Action      string   `yaml:"action"`
}

// ActionClass returns the route's rate-limit class, defaulting to general.
func (r Route) ActionClass() string {
	if a := strings.TrimSpace(r.Action); a != "" {
		return a
	}
	return ActionGeneral
}

// Role lists the permissions granted by a role. SuperAdmin roles satisfy every route.
type Role struct {
	Permissions []string `yaml:"permissions"`
	SuperAdmin  bool     `yaml:"super_admin"`
}

// NavSection is one group of the admin navigation tree.
type NavSection struct {
	Key   string    `yaml:"key" json:"key"`
	Title string    `yaml:"title" json:"title"`
	Items []NavItem `yaml:"items" json:"items"`
}

// NavItem is a navigation entry pointing at a route key.
type NavItem struct {
	Key   string `yaml:"key" json:"key"`
	Title string `yaml:"title" json:"title"`
	Route string `yaml:"route" json:"route"`
}

type DatabaseConfig struct {
	DSN             string        `yaml:"dsn"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
}

type RedisConfig struct {
	Addr     string        `yaml:"addr"`
	Username string        `yaml:"username"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	Prefix   string        `yaml:"prefix"`
	Timeout  time.Duration `yaml:"timeout"`
}

type HTTPConfig struct {
	Addr         string        `yaml:"addr"`
	MaxBodyBytes int64         `yaml:"max_body_bytes"`
	FloodBurst   int           `yaml:"flood_burst"`
	FloodPerSec  int           `yaml:"flood_per_second"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
	TrustProxy   bool          `yaml:"trust_proxy"`
}

type GRPCConfig struct {
	Addr string `yaml:"addr"`
}

type AuditConfig struct {
	Timeout   time.Duration `yaml:"timeout"`
	QueueSize int           `yaml:"queue_size"`
	Postgres  bool          `yaml:"postgres"`
}

type LogConfig struct {
	Level string `yaml:"level"`
}

// TracingConfig selects the span exporter: none, stdout or otlp. The otlp
// exporter reads its endpoint from the standard OTEL_EXPORTER_OTLP_* variables.
type TracingConfig struct {
	Exporter    string `yaml:"exporter"`
	ServiceName string `yaml:"service_name"`
}

// BootstrapConfig names an account created at startup when it does not
// exist yet. Empty Email disables bootstrapping.
type BootstrapConfig struct {
	Email    string `yaml:"email"`
	Password string `yaml:"password"`
	Role     string `yaml:"role"`
}

// TraceExporters lists the accepted tracing.exporter values.
var TraceExporters = []string{"none", "stdout", "otlp"}

// Validate reports every configuration problem found, joined into one error.
func (c *Config) Validate() error {
	var errs []error
	fail := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf("%w: "+format, append([]any{ErrInvalid}, args...)...))
	}

	if len(c.Auth.JWTSecret) < MinSecretLength {
		fail("auth.jwt_secret must be at least %d bytes", MinSecretLength)
	}
	if !slices.Contains(SupportedAlgorithms, c.Auth.JWTAlgorithm) {
		fail("auth.jwt_algorithm %q not supported", c.Auth.JWTAlgorithm)
	}
	if c.Auth.TokenTTL <= 0 {
		fail("auth.token_ttl must be positive")
	}
	if c.Auth.RefreshTTL <= c.Auth.TokenTTL {
		fail("auth.refresh_ttl must exceed auth.token_ttl")
	}
	if c.Auth.APIKeyTokenTTL <= 0 {
		fail("auth.api_key_token_ttl must be positive")
	}
	if c.Auth.LookupTimeout <= 0 {
		fail("auth.lookup_timeout must be positive")
	}

	if _, ok := c.RateLimits[ActionGeneral]; !ok {
		fail("rate_limits.%s is required", ActionGeneral)
	}
	for _, name := range sortedKeys(c.RateLimits) {
		rl := c.RateLimits[name]
		if rl.Max <= 0 || rl.Window <= 0 {
			fail("rate_limits.%s needs positive max and window", name)
		}
	}

	for _, key := range sortedKeys(c.Routes) {
		route := c.Routes[key]
		if !route.Public && len(route.Permissions) == 0 {
			fail("routes.%s must be public or list at least one permission", key)
		}
		if route.Action != "" {
			if _, ok := c.RateLimits[route.Action]; !ok {
				fail("routes.%s references unknown action class %q", key, route.Action)
			}
		}
	}

	for _, section := range c.Navigation {
		for _, item := range section.Items {
			if _, ok := c.Routes[item.Route]; !ok {
				fail("navigation.%s.%s references unknown route %q", section.Key, item.Key, item.Route)
			}
		}
	}

	if !slices.Contains(TraceExporters, c.Tracing.Exporter) {
		fail("tracing.exporter %q not one of %s", c.Tracing.Exporter, strings.Join(TraceExporters, ", "))
	}

	if b := c.Bootstrap; b.Email != "" || b.Password != "" {
		if b.Email == "" || b.Password == "" {
			fail("bootstrap.email and bootstrap.password must be set together")
		}
		if _, ok := c.Roles[b.Role]; !ok {
			fail("bootstrap.role %q is not a configured role", b.Role)
		}
	}

	return errors.Join(errs...)
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}

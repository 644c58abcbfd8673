package config

import "time"

// Route keys of the endpoints served by the gateway itself.
const (
	RouteLogin          = "auth.login"
	RouteRefresh        = "auth.refresh"
	RouteLogout         = "auth.logout"
	RouteLogoutAll      = "auth.logout_all"
	RoutePasswordChange = "auth.password"
	RouteMe             = "me.show"
	RouteNavigation     = "me.navigation"
	RouteHealthCheck    = "grpc.health"
	RouteAPIKeyIssue    = "api_keys.issue"
	RouteAPIKeyRevoke   = "api_keys.revoke"
)

// Default returns the baseline configuration. It does not validate on its own:
// a signing secret must still be supplied.
func Default() *Config {
	return &Config{
		Auth: AuthConfig{
			JWTAlgorithm:   "HS256",
			Issuer:         "authgate",
			TokenTTL:       15 * time.Minute,
			RefreshTTL:     14 * 24 * time.Hour,
			APIKeyTokenTTL: 5 * time.Minute,
			LookupTimeout:  3 * time.Second,
		},
		RateLimits: map[string]RateLimit{
			ActionAuth:    {Max: 5, Window: time.Minute},
			ActionVerify:  {Max: 60, Window: time.Minute},
			ActionUpload:  {Max: 10, Window: time.Minute},
			ActionGeneral: {Max: 120, Window: time.Minute},
		},
		Routes: map[string]Route{
			RouteLogin:          {Public: true, Action: ActionAuth},
			RouteRefresh:        {Public: true, Action: ActionAuth},
			RouteLogout:         {Public: true, Action: ActionAuth},
			RouteLogoutAll:      {Permissions: []string{"auth.sessions.revoke"}, Action: ActionAuth},
			RoutePasswordChange: {Permissions: []string{"auth.password.change"}, Action: ActionAuth},
			RouteMe:             {Permissions: []string{"profile.view"}},
			RouteNavigation:     {Permissions: []string{"profile.view"}},
			RouteHealthCheck:    {Public: true, Action: ActionVerify},
			RouteAPIKeyIssue:    {Permissions: []string{"api_keys.manage"}},
			RouteAPIKeyRevoke:   {Permissions: []string{"api_keys.manage"}},
		},
		Roles: map[string]Role{
			"super_admin": {SuperAdmin: true},
			"user": {Permissions: []string{
				"profile.view", "auth.password.change", "auth.sessions.revoke",
			}},
			"service": {Permissions: []string{"profile.view"}},
		},
		Database: DatabaseConfig{
			MaxOpenConns:    10,
			MaxIdleConns:    10,
			ConnMaxLifetime: 30 * time.Minute,
		},
		Redis: RedisConfig{
			Prefix:  "rl:",
			Timeout: 2 * time.Second,
		},
		HTTP: HTTPConfig{
			Addr:         ":8080",
			MaxBodyBytes: 1 << 20,
			FloodBurst:   50,
			FloodPerSec:  25,
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 15 * time.Second,
		},
		GRPC: GRPCConfig{
			Addr: ":9090",
		},
		Audit: AuditConfig{
			Timeout:   2 * time.Second,
			QueueSize: 1024,
		},
		Log: LogConfig{
			Level: "info",
		},
		Tracing: TracingConfig{
			Exporter:    "none",
			ServiceName: "authgate",
		},
		Bootstrap: BootstrapConfig{
			Role: "super_admin",
		},
	}
}

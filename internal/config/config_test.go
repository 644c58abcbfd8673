package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

const testSecret = "0123456789abcdef0123456789abcdef"

func envMap(m map[string]string) func(string) (string, bool) {
	return func(k string) (string, bool) {
		v, ok := m[k]
		return v, ok
	}
}

func TestLoadDefaultsWithSecret(t *testing.T) {
	cfg, err := NewLoader().
		WithDotEnv(false, "").
		WithLookup(envMap(map[string]string{"AUTHGATE_JWT_SECRET": testSecret})).
		Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Auth.JWTAlgorithm != "HS256" {
		t.Fatalf("unexpected algorithm %s", cfg.Auth.JWTAlgorithm)
	}
	if got := cfg.RateLimits[ActionAuth]; got.Max != 5 || got.Window != time.Minute {
		t.Fatalf("unexpected auth limit: %+v", got)
	}
	if cfg.Routes[RouteLogin].ActionClass() != ActionAuth {
		t.Fatalf("login should be rate limited as auth")
	}
	if (Route{Public: true, Action: "  "}).ActionClass() != ActionGeneral {
		t.Fatalf("routes without an action should use the general class")
	}
}

func TestLoadRequiresSecret(t *testing.T) {
	_, err := NewLoader().WithDotEnv(false, "").WithLookup(envMap(nil)).Load()
	if !errors.Is(err, ErrInvalid) {
		t.Fatalf("expected ErrInvalid, got %v", err)
	}
	if !strings.Contains(err.Error(), "jwt_secret") {
		t.Fatalf("expected secret error, got %v", err)
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	cfg, err := NewLoader().
		WithDotEnv(false, "").
		WithLookup(envMap(map[string]string{
			"AUTHGATE_JWT_SECRET":    testSecret,
			"AUTHGATE_JWT_ALGORITHM": "hs512",
			"AUTHGATE_TOKEN_TTL":     "600",
			"AUTHGATE_REFRESH_TTL":   "48h",
			"AUTHGATE_REDIS_DB":      "3",
			"AUTHGATE_TRUST_PROXY":   "true",
		})).
		Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Auth.JWTAlgorithm != "HS512" {
		t.Fatalf("algorithm not overridden: %s", cfg.Auth.JWTAlgorithm)
	}
	if cfg.Auth.TokenTTL != 10*time.Minute || cfg.Auth.RefreshTTL != 48*time.Hour {
		t.Fatalf("ttl not overridden: %v %v", cfg.Auth.TokenTTL, cfg.Auth.RefreshTTL)
	}
	if cfg.Redis.DB != 3 || !cfg.HTTP.TrustProxy {
		t.Fatalf("redis db / trust proxy not applied: %+v %+v", cfg.Redis, cfg.HTTP)
	}
}

func TestLoadRejectsBadDuration(t *testing.T) {
	_, err := NewLoader().
		WithDotEnv(false, "").
		WithLookup(envMap(map[string]string{
			"AUTHGATE_JWT_SECRET": testSecret,
			"AUTHGATE_TOKEN_TTL":  "soon",
		})).
		Load()
	if !errors.Is(err, ErrInvalid) {
		t.Fatalf("expected ErrInvalid, got %v", err)
	}
}

func TestLoadYAMLMergesOverDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "authgate.yaml")
	doc := `
auth:
  jwt_secret: "` + testSecret + `"
  token_ttl: 5m
rate_limits:
  verify:
    max: 300
    window: 1m
routes:
  institutions.delete:
    permissions: ["institutions.delete"]
  institutions.update:
    permissions: ["institutions.read", "institutions.write"]
roles:
  institution_admin:
    permissions: ["institutions.read"]
navigation:
  - key: institutions
    title: Institutions
    items:
      - key: edit
        title: Edit
        route: institutions.update
`
	if err := os.WriteFile(path, []byte(doc), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	cfg, err := NewLoader().WithDotEnv(false, "").WithLookup(envMap(nil)).WithFile(path).Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Auth.TokenTTL != 5*time.Minute {
		t.Fatalf("token ttl not read: %v", cfg.Auth.TokenTTL)
	}
	if cfg.Auth.Issuer != "authgate" {
		t.Fatalf("default issuer lost: %q", cfg.Auth.Issuer)
	}
	if cfg.RateLimits[ActionVerify].Max != 300 || cfg.RateLimits[ActionAuth].Max != 5 {
		t.Fatalf("rate limits not merged: %+v", cfg.RateLimits)
	}
	if _, ok := cfg.Routes[RouteLogin]; !ok {
		t.Fatalf("default routes lost")
	}
	if len(cfg.Routes["institutions.update"].Permissions) != 2 {
		t.Fatalf("route not loaded: %+v", cfg.Routes["institutions.update"])
	}
	if _, ok := cfg.Roles["super_admin"]; !ok {
		t.Fatalf("default roles lost")
	}
	if len(cfg.Navigation) != 1 || cfg.Navigation[0].Items[0].Route != "institutions.update" {
		t.Fatalf("navigation not loaded: %+v", cfg.Navigation)
	}
}

func TestLoadYAMLUnknownField(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	if err := os.WriteFile(path, []byte("auth:\n  jwt_sekret: x\n"), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if _, err := NewLoader().WithDotEnv(false, "").WithLookup(envMap(nil)).WithFile(path).Load(); err == nil {
		t.Fatalf("expected error for unknown field")
	}
}

func TestLoadDotEnv(t *testing.T) {
	dir := t.TempDir()
	envPath := filepath.Join(dir, ".env")
	if err := os.WriteFile(envPath, []byte("AUTHGATE_DOTENV_PROBE="+testSecret+"\n"), 0o600); err != nil {
		t.Fatalf("write .env: %v", err)
	}
	t.Cleanup(func() { _ = os.Unsetenv("AUTHGATE_DOTENV_PROBE") })

	cfg, err := NewLoader().
		WithDotEnv(true, envPath).
		WithLookup(func(k string) (string, bool) {
			if k == "AUTHGATE_JWT_SECRET" {
				return os.LookupEnv("AUTHGATE_DOTENV_PROBE")
			}
			return "", false
		}).
		Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Auth.JWTSecret != testSecret {
		t.Fatalf("secret from .env not applied")
	}
}

func TestValidateRoutesAndNavigation(t *testing.T) {
	cfg := Default()
	cfg.Auth.JWTSecret = testSecret
	cfg.Routes["reports.view"] = Route{}
	cfg.Routes["reports.edit"] = Route{Permissions: []string{"reports.edit"}, Action: "bulk"}
	cfg.Navigation = []NavSection{{Key: "reports", Items: []NavItem{{Key: "x", Route: "missing"}}}}

	err := cfg.Validate()
	if err == nil {
		t.Fatalf("expected validation error")
	}
	for _, want := range []string{"routes.reports.view", "unknown action class", "unknown route"} {
		if !strings.Contains(err.Error(), want) {
			t.Fatalf("expected %q in %v", want, err)
		}
	}
}

func TestLoadBootstrapFromEnv(t *testing.T) {
	cfg, err := NewLoader().
		WithDotEnv(false, "").
		WithLookup(envMap(map[string]string{
			"AUTHGATE_JWT_SECRET":         testSecret,
			"AUTHGATE_BOOTSTRAP_EMAIL":    "root@example.com",
			"AUTHGATE_BOOTSTRAP_PASSWORD": "correct horse battery",
		})).
		Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Bootstrap.Email != "root@example.com" || cfg.Bootstrap.Role != "super_admin" {
		t.Fatalf("unexpected bootstrap config: %+v", cfg.Bootstrap)
	}

	_, err = NewLoader().
		WithDotEnv(false, "").
		WithLookup(envMap(map[string]string{
			"AUTHGATE_JWT_SECRET":      testSecret,
			"AUTHGATE_BOOTSTRAP_EMAIL": "root@example.com",
			"AUTHGATE_BOOTSTRAP_ROLE":  "nobody",
		})).
		Load()
	if !errors.Is(err, ErrInvalid) {
		t.Fatalf("expected invalid bootstrap rejected, got %v", err)
	}
	if !strings.Contains(err.Error(), "bootstrap.password") || !strings.Contains(err.Error(), "bootstrap.role") {
		t.Fatalf("expected both bootstrap problems reported, got %v", err)
	}
}

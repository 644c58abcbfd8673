package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

func (l *Loader) applyEnv(cfg *Config) error {
	str := func(name string, dst *string) {
		if v, ok := l.lookup(envPrefix + name); ok && strings.TrimSpace(v) != "" {
			*dst = strings.TrimSpace(v)
		}
	}
	dur := func(name string, dst *time.Duration) error {
		v, ok := l.lookup(envPrefix + name)
		if !ok || strings.TrimSpace(v) == "" {
			return nil
		}
		d, err := time.ParseDuration(strings.TrimSpace(v))
		if err != nil {
			// Bare integers are seconds.
			secs, convErr := strconv.Atoi(strings.TrimSpace(v))
			if convErr != nil {
				return fmt.Errorf("%w: %s%s=%q is not a duration", ErrInvalid, envPrefix, name, v)
			}
			d = time.Duration(secs) * time.Second
		}
		*dst = d
		return nil
	}
	integer := func(name string, dst *int) error {
		v, ok := l.lookup(envPrefix + name)
		if !ok || strings.TrimSpace(v) == "" {
			return nil
		}
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("%w: %s%s=%q is not an integer", ErrInvalid, envPrefix, name, v)
		}
		*dst = n
		return nil
	}

	str("JWT_SECRET", &cfg.Auth.JWTSecret)
	str("JWT_ALGORITHM", &cfg.Auth.JWTAlgorithm)
	cfg.Auth.JWTAlgorithm = strings.ToUpper(cfg.Auth.JWTAlgorithm)
	str("ISSUER", &cfg.Auth.Issuer)
	str("PG_DSN", &cfg.Database.DSN)
	str("REDIS_ADDR", &cfg.Redis.Addr)
	str("REDIS_USERNAME", &cfg.Redis.Username)
	str("REDIS_PASSWORD", &cfg.Redis.Password)
	str("HTTP_ADDR", &cfg.HTTP.Addr)
	str("GRPC_ADDR", &cfg.GRPC.Addr)
	str("LOG_LEVEL", &cfg.Log.Level)
	str("TRACE_EXPORTER", &cfg.Tracing.Exporter)
	str("BOOTSTRAP_EMAIL", &cfg.Bootstrap.Email)
	str("BOOTSTRAP_PASSWORD", &cfg.Bootstrap.Password)
	str("BOOTSTRAP_ROLE", &cfg.Bootstrap.Role)

	for name, dst := range map[string]*time.Duration{
		"TOKEN_TTL":         &cfg.Auth.TokenTTL,
		"REFRESH_TTL":       &cfg.Auth.RefreshTTL,
		"API_KEY_TOKEN_TTL": &cfg.Auth.APIKeyTokenTTL,
		"LOOKUP_TIMEOUT":    &cfg.Auth.LookupTimeout,
	} {
		if err := dur(name, dst); err != nil {
			return err
		}
	}
	if err := integer("REDIS_DB", &cfg.Redis.DB); err != nil {
		return err
	}
	if v, ok := l.lookup(envPrefix + "TRUST_PROXY"); ok {
		b, err := strconv.ParseBool(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("%w: %sTRUST_PROXY=%q is not a boolean", ErrInvalid, envPrefix, v)
		}
		cfg.HTTP.TrustProxy = b
	}
	if v, ok := l.lookup(envPrefix + "AUDIT_POSTGRES"); ok {
		b, err := strconv.ParseBool(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("%w: %sAUDIT_POSTGRES=%q is not a boolean", ErrInvalid, envPrefix, v)
		}
		cfg.Audit.Postgres = b
	}
	return nil
}

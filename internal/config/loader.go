package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const envPrefix = "AUTHGATE_"

// Loader assembles a Config from defaults, a YAML file, a .env file and the environment.
type Loader struct {
	path      string
	dotEnv    string
	useDotEnv bool
	lookup    func(string) (string, bool)
}

// NewLoader creates a loader that reads .env from the working directory and
// the process environment.
func NewLoader() *Loader {
	return &Loader{
		dotEnv:    ".env",
		useDotEnv: true,
		lookup:    os.LookupEnv,
	}
}

// WithFile sets the YAML configuration file. Empty means none.
func (l *Loader) WithFile(path string) *Loader {
	l.path = strings.TrimSpace(path)
	return l
}

// WithDotEnv toggles loading variables from the given .env file before reading the environment.
func (l *Loader) WithDotEnv(enabled bool, path string) *Loader {
	l.useDotEnv = enabled
	if path != "" {
		l.dotEnv = path
	}
	return l
}

// WithLookup overrides environment lookup (tests).
func (l *Loader) WithLookup(fn func(string) (string, bool)) *Loader {
	if fn != nil {
		l.lookup = fn
	}
	return l
}

// Load builds and validates the configuration.
func (l *Loader) Load() (*Config, error) {
	if l.useDotEnv {
		if err := godotenv.Load(l.dotEnv); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("config: load %s: %w", l.dotEnv, err)
		}
	}

	cfg := Default()
	if l.path != "" {
		if err := mergeFile(cfg, l.path); err != nil {
			return nil, err
		}
	}
	if err := l.applyEnv(cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Load is shorthand for NewLoader().WithFile(path).Load().
func Load(path string) (*Config, error) {
	return NewLoader().WithFile(path).Load()
}

func mergeFile(cfg *Config, path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config: read %s: %w", path, err)
	}
	// Decoding on top of the defaults keeps unspecified fields; maps merge per
	// key and each listed entry replaces its default wholesale.
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("config: decode %s: %w", path, err)
	}
	return nil
}

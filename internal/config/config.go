// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Adega Contributors

// Package config loads Adega's runtime configuration.
//
// Sources are layered, later ones winning: built-in defaults, an optional
// YAML file, the environment (ADEGA_ prefix, "__" between levels, plus
// DATABASE_URL) and finally command-line flags the user actually set.
package config

import (
	"net/url"
	"slices"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/samber/oops"
	"github.com/spf13/pflag"

	"github.com/adega/adega/internal/auth"
	"github.com/adega/adega/internal/auth/google"
)

// EnvPrefix prefixes every environment variable read by Load.
const EnvPrefix = "ADEGA_"

// Config is the complete runtime configuration.
type Config struct {
	HTTP     HTTPConfig     `koanf:"http" yaml:"http"`
	Metrics  MetricsConfig  `koanf:"metrics" yaml:"metrics"`
	Log      LogConfig      `koanf:"log" yaml:"log"`
	Database DatabaseConfig `koanf:"database" yaml:"database"`
	Token    TokenConfig    `koanf:"token" yaml:"token"`
	Google   GoogleConfig   `koanf:"google" yaml:"google"`
}

// HTTPConfig configures the API listener.
type HTTPConfig struct {
	Addr            string        `koanf:"addr" yaml:"addr"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout" yaml:"shutdown_timeout"`
}

// MetricsConfig configures the metrics and health listener. An empty Addr disables it.
type MetricsConfig struct {
	Addr string `koanf:"addr" yaml:"addr"`
}

// LogConfig configures logging.
type LogConfig struct {
	Format string `koanf:"format" yaml:"format"`
	Level  string `koanf:"level" yaml:"level"`
}

// DatabaseConfig configures the PostgreSQL connection.
type DatabaseConfig struct {
	URL         string `koanf:"url" yaml:"url"`
	AutoMigrate bool   `koanf:"auto_migrate" yaml:"auto_migrate"`
}

// TokenConfig configures bearer token signing.
type TokenConfig struct {
	Secret    string        `koanf:"secret" yaml:"secret"`
	Algorithm string        `koanf:"algorithm" yaml:"algorithm"`
	TTL       time.Duration `koanf:"ttl" yaml:"ttl"`
	Issuer    string        `koanf:"issuer" yaml:"issuer"`
}

// GoogleConfig configures Google ID token verification.
type GoogleConfig struct {
	ClientID string        `koanf:"client_id" yaml:"client_id"`
	Issuers  []string      `koanf:"issuers" yaml:"issuers"`
	JWKSURL  string        `koanf:"jwks_url" yaml:"jwks_url"`
	Timeout  time.Duration `koanf:"timeout" yaml:"timeout"`
}

func defaults() map[string]any {
	return map[string]any{
		"http.addr":             ":8080",
		"http.shutdown_timeout": 10 * time.Second,
		"metrics.addr":          "127.0.0.1:9100",
		"log.format":            "json",
		"log.level":             "info",
		"database.auto_migrate": false,
		"token.algorithm":       auth.DefaultTokenAlgorithm,
		"token.ttl":             auth.DefaultTokenTTL,
		"token.issuer":          auth.DefaultTokenIssuer,
		"google.issuers":        slices.Clone(google.DefaultIssuers),
		"google.jwks_url":       google.DefaultJWKSURL,
		"google.timeout":        google.DefaultTimeout,
	}
}

// flagKeys maps command-line flag names to configuration keys.
var flagKeys = map[string]string{
	"http-addr":        "http.addr",
	"metrics-addr":     "metrics.addr",
	"log-format":       "log.format",
	"log-level":        "log.level",
	"database-url":     "database.url",
	"auto-migrate":     "database.auto_migrate",
	"google-client-id": "google.client_id",
}

// RegisterFlags defines the flags Load understands on fs. Their defaults
// never override values from other sources.
func RegisterFlags(fs *pflag.FlagSet) {
	fs.String("http-addr", ":8080", "API listen address")
	fs.String("metrics-addr", "127.0.0.1:9100", "metrics/health HTTP address (empty = disabled)")
	fs.String("log-format", "json", "log format (json or text)")
	fs.String("log-level", "info", "log level (debug, info, warn, error)")
	fs.String("database-url", "", "PostgreSQL connection URL")
	fs.Bool("auto-migrate", false, "apply pending migrations at startup")
	fs.String("google-client-id", "", "Google OAuth client ID accepted in ID tokens")
}

// Load reads configuration from every source. path may be empty and fs may
// be nil. The result is not validated.
func Load(path string, fs *pflag.FlagSet) (Config, error) {
	k := koanf.New(".")

	if err := k.Load(confmap.Provider(defaults(), "."), nil); err != nil {
		return Config{}, oops.Code("CONFIG_LOAD_FAILED").With("source", "defaults").Wrap(err)
	}

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return Config{}, oops.Code("CONFIG_LOAD_FAILED").
				With("source", "file").
				With("path", path).
				Wrap(err)
		}
	}

	// DATABASE_URL is loaded first so the prefixed form wins.
	if err := k.Load(env.ProviderWithValue("DATABASE_URL", ".", func(name, value string) (string, any) {
		if name != "DATABASE_URL" || value == "" {
			return "", nil
		}
		return "database.url", value
	}), nil); err != nil {
		return Config{}, oops.Code("CONFIG_LOAD_FAILED").With("source", "env").Wrap(err)
	}

	if err := k.Load(env.ProviderWithValue(EnvPrefix, ".", envKey), nil); err != nil {
		return Config{}, oops.Code("CONFIG_LOAD_FAILED").With("source", "env").Wrap(err)
	}

	if fs != nil {
		if err := k.Load(posflag.ProviderWithFlag(fs, ".", k, flagKey), nil); err != nil {
			return Config{}, oops.Code("CONFIG_LOAD_FAILED").With("source", "flags").Wrap(err)
		}
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return Config{}, oops.Code("CONFIG_LOAD_FAILED").With("source", "decode").Wrap(err)
	}
	return cfg, nil
}

// envKey turns ADEGA_GOOGLE__CLIENT_ID into google.client_id. List values are
// comma separated. Empty variables are ignored.
func envKey(name, value string) (string, any) {
	if value == "" {
		return "", nil
	}
	key := strings.ToLower(strings.TrimPrefix(name, EnvPrefix))
	key = strings.ReplaceAll(key, "__", ".")
	if key == "google.issuers" {
		var issuers []string
		for _, iss := range strings.Split(value, ",") {
			if iss = strings.TrimSpace(iss); iss != "" {
				issuers = append(issuers, iss)
			}
		}
		return key, issuers
	}
	return key, value
}

func flagKey(f *pflag.Flag) (string, any) {
	key, ok := flagKeys[f.Name]
	if !ok {
		return "", nil
	}
	return key, f.Value.String()
}

func invalid(field, format string, args ...any) error {
	return oops.Code("CONFIG_INVALID").With("field", field).Errorf(format, args...)
}

// Validate checks the configuration needed to serve requests.
func (c Config) Validate() error {
	if c.HTTP.Addr == "" {
		return invalid("http.addr", "http.addr is required")
	}
	if c.HTTP.ShutdownTimeout <= 0 {
		return invalid("http.shutdown_timeout", "http.shutdown_timeout must be positive")
	}
	if c.Log.Format != "json" && c.Log.Format != "text" {
		return invalid("log.format", "log.format must be 'json' or 'text', got %q", c.Log.Format)
	}
	if !slices.Contains([]string{"debug", "info", "warn", "error"}, strings.ToLower(c.Log.Level)) {
		return invalid("log.level", "log.level must be one of debug, info, warn, error; got %q", c.Log.Level)
	}
	if err := c.Database.Validate(); err != nil {
		return err
	}
	if len(c.Token.Secret) < auth.MinTokenSecretLength {
		return invalid("token.secret", "token.secret must be at least %d bytes", auth.MinTokenSecretLength)
	}
	if !slices.Contains(auth.SupportedTokenAlgorithms, strings.ToUpper(c.Token.Algorithm)) {
		return invalid("token.algorithm", "token.algorithm must be one of %s", strings.Join(auth.SupportedTokenAlgorithms, ", "))
	}
	if c.Token.TTL <= 0 {
		return invalid("token.ttl", "token.ttl must be positive")
	}
	if c.Token.Issuer == "" {
		return invalid("token.issuer", "token.issuer is required")
	}
	if c.Google.ClientID == "" {
		return invalid("google.client_id", "google.client_id is required")
	}
	if len(c.Google.Issuers) == 0 {
		return invalid("google.issuers", "google.issuers must not be empty")
	}
	if c.Google.Timeout <= 0 {
		return invalid("google.timeout", "google.timeout must be positive")
	}
	return nil
}

// Validate checks the database settings on their own, for commands that
// only touch the schema.
func (d DatabaseConfig) Validate() error {
	if d.URL == "" {
		return invalid("database.url", "database.url is required (or set DATABASE_URL)")
	}
	u, err := url.Parse(d.URL)
	if err != nil || (u.Scheme != "postgres" && u.Scheme != "postgresql") {
		return invalid("database.url", "database.url must be a postgres:// URL")
	}
	return nil
}

// Redacted returns a copy safe to print: the token secret is masked and any
// password in the database URL is replaced.
func (c Config) Redacted() Config {
	out := c
	out.Google.Issuers = slices.Clone(c.Google.Issuers)
	if out.Token.Secret != "" {
		out.Token.Secret = "[REDACTED]"
	}
	if u, err := url.Parse(c.Database.URL); err == nil && u.User != nil {
		out.Database.URL = u.Redacted()
	}
	return out
}

// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatekeep Contributors

// Package config loads gatekeep configuration.
//
// Sources are layered lowest to highest: built-in defaults, the YAML file,
// GATEKEEP_* environment variables, DATABASE_URL, and explicitly set flags.
package config

import (
	"errors"
	"io/fs"
	"log/slog"
	"os"
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

	"github.com/gatekeep/gatekeep/internal/auth"
	"github.com/gatekeep/gatekeep/internal/logging"
	"github.com/gatekeep/gatekeep/internal/store"
)

// EnvProduction is the environment name that forces secure cookies.
const EnvProduction = "production"

// envPrefix marks gatekeep environment variables. Nested keys are separated
// by a double underscore: GATEKEEP_SESSION__REFRESH_WINDOW.
const envPrefix = "GATEKEEP_"

// Config is the full gatekeep configuration.
type Config struct {
	Environment string         `koanf:"environment"`
	Log         LogConfig      `koanf:"log"`
	HTTP        HTTPConfig     `koanf:"http"`
	Metrics     MetricsConfig  `koanf:"metrics"`
	Database    DatabaseConfig `koanf:"database"`
	Session     SessionConfig  `koanf:"session"`
	Password    PasswordConfig `koanf:"password"`
}

// LogConfig configures logging.
type LogConfig struct {
	Format string `koanf:"format" jsonschema:"enum=json,enum=text"`
	Level  string `koanf:"level" jsonschema:"enum=debug,enum=info,enum=warn,enum=warning,enum=error"`
}

// HTTPConfig configures the public HTTP listener.
type HTTPConfig struct {
	Addr string `koanf:"addr"`
}

// MetricsConfig configures the observability listener. An empty Addr
// disables it.
type MetricsConfig struct {
	Addr string `koanf:"addr"`
}

// DatabaseConfig selects the storage backend.
type DatabaseConfig struct {
	Driver string `koanf:"driver" jsonschema:"enum=sqlite,enum=postgres"`
	// URL is the PostgreSQL connection string.
	URL string `koanf:"url"`
	// Path is the SQLite database file. Empty means the XDG data file.
	Path string `koanf:"path"`
}

// SessionConfig configures session lifetime and the cookie.
type SessionConfig struct {
	CookieName       string        `koanf:"cookie_name"`
	Lifetime         time.Duration `koanf:"lifetime"`
	RefreshWindow    time.Duration `koanf:"refresh_window"`
	RotationGrace    time.Duration `koanf:"rotation_grace"`
	PersistentCookie bool          `koanf:"persistent_cookie"`
	Secure           bool          `koanf:"secure"`
	SweepInterval    time.Duration `koanf:"sweep_interval"`
}

// PasswordConfig configures the credential hasher.
type PasswordConfig struct {
	Argon2 Argon2Config `koanf:"argon2"`
}

// Argon2Config is the argon2id work factor.
type Argon2Config struct {
	Time      uint32 `koanf:"time" jsonschema:"minimum=1,maximum=64"`
	MemoryKiB uint32 `koanf:"memory_kib" jsonschema:"minimum=8"`
	Threads   uint8  `koanf:"threads" jsonschema:"minimum=1"`
}

// Defaults returns the built-in configuration.
func Defaults() map[string]any {
	argon := auth.DefaultArgon2Params()
	return map[string]any{
		"environment":                "development",
		"log.format":                 logging.FormatJSON,
		"log.level":                  "info",
		"http.addr":                  "127.0.0.1:8080",
		"metrics.addr":               "127.0.0.1:9100",
		"database.driver":            store.DriverSQLite.String(),
		"database.url":               "",
		"database.path":              "",
		"session.cookie_name":        auth.DefaultCookieName,
		"session.lifetime":           auth.DefaultLifetime,
		"session.refresh_window":     auth.DefaultRefreshWindow,
		"session.rotation_grace":     auth.DefaultRotationGrace,
		"session.persistent_cookie":  false,
		"session.secure":             false,
		"session.sweep_interval":     time.Hour,
		"password.argon2.time":       argon.Time,
		"password.argon2.memory_kib": argon.Memory,
		"password.argon2.threads":    argon.Threads,
	}
}

// flagKeys maps flag names to configuration keys.
var flagKeys = map[string]string{
	"environment":  "environment",
	"log-format":   "log.format",
	"log-level":    "log.level",
	"http-addr":    "http.addr",
	"metrics-addr": "metrics.addr",
	"db-driver":    "database.driver",
	"db-url":       "database.url",
	"db-path":      "database.path",
}

// RegisterFlags adds the configuration flags to fs. Their defaults are
// informational; only flags the user sets override other sources.
func RegisterFlags(fs *pflag.FlagSet) {
	fs.String("config", "", "path to the YAML config file")
	fs.String("environment", "development", "deployment environment (production forces secure cookies)")
	fs.String("log-format", logging.FormatJSON, "log format (json or text)")
	fs.String("log-level", "info", "log level (debug, info, warn, error)")
	fs.String("http-addr", "127.0.0.1:8080", "public HTTP listen address")
	fs.String("metrics-addr", "127.0.0.1:9100", "metrics and health listen address (empty disables)")
	fs.String("db-driver", store.DriverSQLite.String(), "database driver (sqlite or postgres)")
	fs.String("db-url", "", "PostgreSQL connection URL")
	fs.String("db-path", "", "SQLite database file")
}

// Load builds the configuration. configPath may be empty, in which case
// defaultPath is read if it exists. fs may be nil.
func Load(configPath, defaultPath string, fs *pflag.FlagSet) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(confmap.Provider(Defaults(), "."), nil); err != nil {
		return nil, oops.Code("CONFIG_LOAD_FAILED").With("source", "defaults").Wrap(err)
	}

	if err := loadFile(k, configPath, defaultPath); err != nil {
		return nil, err
	}

	if err := k.Load(env.Provider(envPrefix, ".", envKey), nil); err != nil {
		return nil, oops.Code("CONFIG_LOAD_FAILED").With("source", "env").Wrap(err)
	}
	if url := os.Getenv("DATABASE_URL"); url != "" {
		if err := k.Set("database.url", url); err != nil {
			return nil, oops.Code("CONFIG_LOAD_FAILED").With("source", "DATABASE_URL").Wrap(err)
		}
	}

	if fs != nil {
		provider := posflag.ProviderWithFlag(fs, ".", k, func(f *pflag.Flag) (string, any) {
			key, ok := flagKeys[f.Name]
			if !ok || !f.Changed {
				return "", nil
			}
			return key, posflag.FlagVal(fs, f)
		})
		if err := k.Load(provider, nil); err != nil {
			return nil, oops.Code("CONFIG_LOAD_FAILED").With("source", "flags").Wrap(err)
		}
	}

	var cfg Config
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return nil, oops.Code("CONFIG_INVALID").With("operation", "unmarshal").Wrap(err)
	}
	return &cfg, nil
}

func loadFile(k *koanf.Koanf, configPath, defaultPath string) error {
	path := configPath
	if path == "" {
		if defaultPath == "" {
			return nil
		}
		if _, err := os.Stat(defaultPath); errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		path = defaultPath
	}
	if err := ValidateFile(path); err != nil {
		return err
	}
	if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
		return oops.Code("CONFIG_LOAD_FAILED").
			With("source", "file").
			With("path", path).
			Wrap(err)
	}
	return nil
}

// envKey maps GATEKEEP_SESSION__REFRESH_WINDOW to session.refresh_window.
func envKey(s string) string {
	s = strings.ToLower(strings.TrimPrefix(s, envPrefix))
	return strings.ReplaceAll(s, "__", ".")
}

// Validate checks the configuration is usable.
func (c *Config) Validate() error {
	if !logging.ValidFormat(c.Log.Format) {
		return invalid("log.format", c.Log.Format, "must be json or text")
	}
	if _, err := logging.ParseLevel(c.Log.Level); err != nil {
		return invalid("log.level", c.Log.Level, "must be debug, info, warn, or error")
	}
	if c.HTTP.Addr == "" {
		return invalid("http.addr", c.HTTP.Addr, "cannot be empty")
	}

	driver, err := store.ParseDriver(c.Database.Driver)
	if err != nil {
		return invalid("database.driver", c.Database.Driver, "must be sqlite or postgres")
	}
	if driver == store.DriverPostgres && c.Database.URL == "" {
		return invalid("database.url", "", "is required for the postgres driver")
	}

	if err := c.SessionOptions().Validate(); err != nil {
		return oops.Code("CONFIG_INVALID").With("key", "session").Wrap(err)
	}
	if c.Session.SweepInterval < 0 {
		return invalid("session.sweep_interval", c.Session.SweepInterval.String(), "cannot be negative")
	}

	if err := c.Argon2Params().Validate(); err != nil {
		return oops.Code("CONFIG_INVALID").With("key", "password.argon2").Wrap(err)
	}
	return nil
}

func invalid(key, value, reason string) error {
	return oops.Code("CONFIG_INVALID").
		With("key", key).
		With("value", value).
		Errorf("%s %s", key, reason)
}

// Production reports whether the environment is production.
func (c *Config) Production() bool {
	return strings.EqualFold(c.Environment, EnvProduction)
}

// Driver returns the parsed database driver. Call after Validate.
func (c *Config) Driver() store.Driver {
	driver, _ := store.ParseDriver(c.Database.Driver) //nolint:errcheck // checked by Validate
	return driver
}

// SessionOptions returns the Session Manager options. Production always
// gets secure cookies.
func (c *Config) SessionOptions() auth.SessionOptions {
	return auth.SessionOptions{
		CookieName:       c.Session.CookieName,
		Lifetime:         c.Session.Lifetime,
		RefreshWindow:    c.Session.RefreshWindow,
		RotationGrace:    c.Session.RotationGrace,
		Secure:           c.Session.Secure || c.Production(),
		PersistentCookie: c.Session.PersistentCookie,
	}
}

// Argon2Params returns the hasher work factor.
func (c *Config) Argon2Params() auth.Argon2Params {
	return auth.Argon2Params{
		Time:    c.Password.Argon2.Time,
		Memory:  c.Password.Argon2.MemoryKiB,
		Threads: c.Password.Argon2.Threads,
	}
}

// Level returns the parsed log level. Call after Validate.
func (c *Config) Level() slog.Level {
	level, _ := logging.ParseLevel(c.Log.Level) //nolint:errcheck // checked by Validate
	return level
}

// Package config loads the gateway configuration from a single YAML
// file with sensible defaults. A missing file is not an error; the
// defaults stand. Secrets (encryption key, database DSN) can be
// supplied through the environment instead of the file.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Environment variable overrides for values that should not live in a
// config file on disk.
const (
	EnvEncryptionKey = "TOOLGATE_ENCRYPTION_KEY"
	EnvDatabaseDSN   = "TOOLGATE_DATABASE_DSN"
)

// Duration is a time.Duration that unmarshals from YAML strings like
// "30s" or "1m", or from a bare number of seconds.
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err == nil {
		parsed, err := time.ParseDuration(s)
		if err != nil {
			return fmt.Errorf("invalid duration %q: %w", s, err)
		}
		*d = Duration(parsed)
		return nil
	}

	var seconds int64
	if err := value.Decode(&seconds); err == nil {
		*d = Duration(time.Duration(seconds) * time.Second)
		return nil
	}

	return fmt.Errorf("invalid duration value")
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// Config is the complete gateway configuration.
type Config struct {
	// Host and Port form the HTTP listen address.
	Host string `yaml:"host"`
	Port int    `yaml:"port"`

	// EncryptionKey is the master key for credential encryption at
	// rest. Required to serve; overridable via TOOLGATE_ENCRYPTION_KEY.
	EncryptionKey string `yaml:"encryptionKey"`

	// DatabaseDSN selects Postgres persistence when set; when empty the
	// gateway runs standalone on in-memory stores plus the file catalog.
	DatabaseDSN string `yaml:"databaseDSN"`

	// CatalogDir is a directory of YAML integration definitions, used
	// as the integration catalog in standalone mode and watched for
	// changes.
	CatalogDir string `yaml:"catalogDir"`

	// ProxyTimeout bounds each proxied call to an integration handler.
	ProxyTimeout Duration `yaml:"proxyTimeout"`

	// RefreshTimeout bounds each OAuth refresh round trip.
	RefreshTimeout Duration `yaml:"refreshTimeout"`
}

// DefaultConfig returns the built-in defaults.
func DefaultConfig() Config {
	return Config{
		Host:           "localhost",
		Port:           8090,
		CatalogDir:     "integrations",
		ProxyTimeout:   Duration(30 * time.Second),
		RefreshTimeout: Duration(15 * time.Second),
	}
}

// ListenAddr renders the HTTP listen address.
func (c Config) ListenAddr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// LoadConfig reads the configuration file at path, layered over the
// defaults, then applies environment overrides. A missing file yields
// the defaults; a malformed file is an error.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return Config{}, fmt.Errorf("failed to read config %s: %w", path, err)
		}
	} else {
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("failed to parse config %s: %w", path, err)
		}
	}

	if key := os.Getenv(EnvEncryptionKey); key != "" {
		cfg.EncryptionKey = key
	}
	if dsn := os.Getenv(EnvDatabaseDSN); dsn != "" {
		cfg.DatabaseDSN = dsn
	}

	if cfg.ProxyTimeout <= 0 {
		cfg.ProxyTimeout = DefaultConfig().ProxyTimeout
	}
	if cfg.RefreshTimeout <= 0 {
		cfg.RefreshTimeout = DefaultConfig().RefreshTimeout
	}

	return cfg, nil
}

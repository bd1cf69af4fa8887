// Package config loads the tether server configuration from an optional YAML
// file and TETHER_* environment variables. Environment values win.
package config

import (
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"slices"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/mitchellh/mapstructure"
	"gopkg.in/yaml.v3"
)

// Store drivers.
const (
	DriverMemory = "memory"
	DriverFile   = "file"
	DriverRedis  = "redis"
)

// Config is the server configuration.
type Config struct {
	Name string `mapstructure:"name" env:"NAME"`
	Addr string `mapstructure:"addr" env:"ADDR"`

	// Widgets lists the catalog widgets every session shows.
	Widgets []string `mapstructure:"widgets" env:"WIDGETS"`

	MaxDeferredRounds int           `mapstructure:"max_deferred_rounds" env:"MAX_DEFERRED_ROUNDS"`
	StreamBuffer      int           `mapstructure:"stream_buffer" env:"STREAM_BUFFER"`
	ShutdownTimeout   time.Duration `mapstructure:"shutdown_timeout" env:"SHUTDOWN_TIMEOUT"`
	Metrics           bool          `mapstructure:"metrics" env:"METRICS"`

	Log   LogConfig   `mapstructure:"log" envPrefix:"LOG_"`
	Store StoreConfig `mapstructure:"store" envPrefix:"STORE_"`
}

// LogConfig selects the log level and format.
type LogConfig struct {
	Level string `mapstructure:"level" env:"LEVEL"`
	JSON  bool   `mapstructure:"json" env:"JSON"`
}

// StoreConfig selects where snapshots are persisted.
type StoreConfig struct {
	Driver string        `mapstructure:"driver" env:"DRIVER"`
	Dir    string        `mapstructure:"dir" env:"DIR"`
	URL    string        `mapstructure:"url" env:"URL"`
	TTL    time.Duration `mapstructure:"ttl" env:"TTL"`
	Lock   bool          `mapstructure:"lock" env:"LOCK"`

	// EncryptionKey is a hex encoded AES-256 key. Empty disables encryption.
	EncryptionKey string `mapstructure:"encryption_key" env:"ENCRYPTION_KEY"`
	// Redact lists regular expressions of parameter names never persisted.
	Redact []string `mapstructure:"redact" env:"REDACT"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Name:              "tether",
		Addr:              ":8080",
		Widgets:           []string{"station"},
		MaxDeferredRounds: 16,
		StreamBuffer:      64,
		ShutdownTimeout:   5 * time.Second,
		Metrics:           true,
		Log:               LogConfig{Level: "info"},
		Store:             StoreConfig{Driver: DriverMemory, Dir: ".tether/snapshots"},
	}
}

// Load reads path, if not empty, over the defaults and applies the
// environment. The result is validated.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("read config: %w", err)
		}
		if err := Decode(data, &cfg); err != nil {
			return cfg, fmt.Errorf("%s: %w", path, err)
		}
	}
	if err := env.ParseWithOptions(&cfg, env.Options{Prefix: "TETHER_"}); err != nil {
		return cfg, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Decode merges YAML data into cfg. Scalars are converted leniently, so
// "30s" becomes a duration and "a,b" a list.
func Decode(data []byte, cfg *Config) error {
	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("parse yaml: %w", err)
	}
	if raw == nil {
		return nil
	}
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           cfg,
		WeaklyTypedInput: true,
		ErrorUnused:      true,
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		),
	})
	if err != nil {
		return err
	}
	return dec.Decode(raw)
}

// Validate reports every invalid setting.
func (c Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.Addr) == "" {
		errs = append(errs, errors.New("addr must not be empty"))
	}
	if !slices.Contains([]string{"debug", "info", "warn", "warning", "error"}, strings.ToLower(c.Log.Level)) {
		errs = append(errs, fmt.Errorf("unknown log level %q", c.Log.Level))
	}
	if c.MaxDeferredRounds < 1 {
		errs = append(errs, errors.New("max_deferred_rounds must be at least 1"))
	}
	if c.StreamBuffer < 1 {
		errs = append(errs, errors.New("stream_buffer must be at least 1"))
	}
	switch c.Store.Driver {
	case DriverMemory:
	case DriverFile:
		if c.Store.Dir == "" {
			errs = append(errs, errors.New("store.dir is required by the file driver"))
		}
	case DriverRedis:
		if c.Store.URL == "" {
			errs = append(errs, errors.New("store.url is required by the redis driver"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown store driver %q", c.Store.Driver))
	}
	if c.Store.Lock && c.Store.Driver != DriverRedis {
		errs = append(errs, errors.New("store.lock needs the redis driver"))
	}
	if c.Store.EncryptionKey != "" {
		if _, err := c.Store.Key(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Key decodes the encryption key.
func (s StoreConfig) Key() ([]byte, error) {
	key, err := hex.DecodeString(s.EncryptionKey)
	if err != nil {
		return nil, fmt.Errorf("store.encryption_key: %w", err)
	}
	if len(key) != 32 {
		return nil, fmt.Errorf("store.encryption_key must be 32 bytes, got %d", len(key))
	}
	return key, nil
}

// Package config loads the server configuration. Sources are applied in
// order, later ones winning: built-in defaults, the YAML file, a .env file and
// EGIDE_* environment variables. Command line flags are applied on top by the
// cmd packages.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"github.com/nubster/egide/storage"
	"gopkg.in/yaml.v3"
)

const envPrefix = "EGIDE_"

type Config struct {
	ListenAddr   string `yaml:"listen_addr"`
	MetricsAddr  string `yaml:"metrics_addr"`
	EnablePprof  bool   `yaml:"pprof"`
	DrainSeconds int    `yaml:"drain_seconds"`

	Storage StorageConfig `yaml:"storage"`
	// Tenant scopes all key material under tenants/<tenant>/. Empty means the
	// storage root.
	Tenant string `yaml:"tenant"`

	DevMode      bool   `yaml:"dev_mode"`
	DevRootToken string `yaml:"dev_root_token"`

	Log       LogConfig       `yaml:"log"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
}

type StorageConfig struct {
	URI     string   `yaml:"uri"`
	Mirrors []string `yaml:"mirrors"`
}

// URIs returns the primary followed by the mirrors.
func (s StorageConfig) URIs() []string {
	return append([]string{s.URI}, s.Mirrors...)
}

type LogConfig struct {
	JSON    bool   `yaml:"json"`
	Debug   bool   `yaml:"debug"`
	UID     bool   `yaml:"uid"`
	Service string `yaml:"service"`
}

type TelemetryConfig struct {
	Enabled      bool    `yaml:"enabled"`
	Endpoint     string  `yaml:"endpoint"`
	Insecure     bool    `yaml:"insecure"`
	SamplingRate float64 `yaml:"sampling_rate"`
}

// RateLimitConfig bounds unseal and generate-root attempts per client address.
type RateLimitConfig struct {
	PerSecond float64 `yaml:"per_second"`
	Burst     int     `yaml:"burst"`
}

func Default() *Config {
	return &Config{
		ListenAddr:   "0.0.0.0:8200",
		MetricsAddr:  "127.0.0.1:8090",
		DrainSeconds: 45,
		Storage:      StorageConfig{URI: "file://./data"},
		Log:          LogConfig{Service: "egide"},
		Telemetry: TelemetryConfig{
			Endpoint:     "localhost:4317",
			SamplingRate: 1.0,
		},
		RateLimit: RateLimitConfig{PerSecond: 1, Burst: 5},
	}
}

// Load builds the configuration from path and envFile. Either may be empty;
// a missing envFile is not an error, a missing config file is.
func Load(path, envFile string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	if envFile != "" {
		// Variables already present in the environment are not overwritten.
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("failed to load env file %s: %w", envFile, err)
		}
	}

	if err := ApplyEnvOverrides(cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnvOverrides applies EGIDE_* variables to cfg.
func ApplyEnvOverrides(cfg *Config) error {
	var errs []error
	str := func(name string, dst *string) {
		if v, ok := lookup(name); ok {
			*dst = v
		}
	}
	boolean := func(name string, dst *bool) {
		if v, ok := lookup(name); ok {
			b, err := strconv.ParseBool(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s%s: %w", envPrefix, name, err))
				return
			}
			*dst = b
		}
	}
	integer := func(name string, dst *int) {
		if v, ok := lookup(name); ok {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s%s: %w", envPrefix, name, err))
				return
			}
			*dst = n
		}
	}
	float := func(name string, dst *float64) {
		if v, ok := lookup(name); ok {
			f, err := strconv.ParseFloat(v, 64)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s%s: %w", envPrefix, name, err))
				return
			}
			*dst = f
		}
	}

	str("LISTEN_ADDR", &cfg.ListenAddr)
	str("METRICS_ADDR", &cfg.MetricsAddr)
	boolean("PPROF", &cfg.EnablePprof)
	integer("DRAIN_SECONDS", &cfg.DrainSeconds)
	str("STORAGE", &cfg.Storage.URI)
	if v, ok := lookup("STORAGE_MIRRORS"); ok {
		cfg.Storage.Mirrors = splitList(v)
	}
	str("TENANT", &cfg.Tenant)
	boolean("DEV_MODE", &cfg.DevMode)
	str("DEV_ROOT_TOKEN", &cfg.DevRootToken)
	boolean("LOG_JSON", &cfg.Log.JSON)
	boolean("LOG_DEBUG", &cfg.Log.Debug)
	boolean("LOG_UID", &cfg.Log.UID)
	str("LOG_SERVICE", &cfg.Log.Service)
	boolean("OTEL_ENABLED", &cfg.Telemetry.Enabled)
	str("OTEL_ENDPOINT", &cfg.Telemetry.Endpoint)
	boolean("OTEL_INSECURE", &cfg.Telemetry.Insecure)
	float("OTEL_SAMPLING_RATE", &cfg.Telemetry.SamplingRate)
	float("RATE_LIMIT_PER_SECOND", &cfg.RateLimit.PerSecond)
	integer("RATE_LIMIT_BURST", &cfg.RateLimit.Burst)

	return errors.Join(errs...)
}

func lookup(name string) (string, bool) {
	v, ok := os.LookupEnv(envPrefix + name)
	if !ok {
		return "", false
	}
	v = strings.TrimSpace(v)
	return v, v != ""
}

func splitList(v string) []string {
	var out []string
	for _, item := range strings.Split(v, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

func (c *Config) Validate() error {
	if c.ListenAddr == "" {
		return errors.New("listen_addr must be set")
	}
	if c.Storage.URI == "" {
		return errors.New("storage.uri must be set")
	}
	if c.Tenant != "" {
		if err := storage.ValidateTenant(c.Tenant); err != nil {
			return fmt.Errorf("invalid tenant: %w", err)
		}
	}
	if c.Telemetry.SamplingRate < 0 || c.Telemetry.SamplingRate > 1 {
		return fmt.Errorf("telemetry.sampling_rate must be within [0, 1], got %v", c.Telemetry.SamplingRate)
	}
	if c.RateLimit.PerSecond <= 0 || c.RateLimit.Burst < 1 {
		return errors.New("rate_limit.per_second must be positive and rate_limit.burst at least 1")
	}
	if c.DrainSeconds < 0 {
		return errors.New("drain_seconds must not be negative")
	}
	return nil
}

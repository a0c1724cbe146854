// Package config loads the YAML configuration file and maps it onto the
// component configs.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/Kelbie/georelay/connection"
	"github.com/Kelbie/georelay/directory"
	"github.com/Kelbie/georelay/engine"
	"github.com/Kelbie/georelay/geohash"
	"github.com/Kelbie/georelay/logging"
	"github.com/Kelbie/georelay/publish"
	"github.com/Kelbie/georelay/retry"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Logging    logging.Config   `yaml:"logging"`
	DataDir    string           `yaml:"data_dir"`
	Metrics    MetricsConfig    `yaml:"metrics"`
	Directory  DirectoryConfig  `yaml:"directory"`
	Connection ConnectionConfig `yaml:"connection"`
	Publisher  PublisherConfig  `yaml:"publisher"`
	// Location pins the device position used by connect-by-location.
	Location *LocationConfig `yaml:"location"`
	// Region is the geohash viewed at startup. Empty starts without a view.
	Region string `yaml:"region"`
}

type MetricsConfig struct {
	// Listen is the address of the HTTP endpoint serving /metrics and
	// /stats. Empty disables the server.
	Listen string `yaml:"listen"`
}

type DirectoryConfig struct {
	RemoteURL    string `yaml:"remote_url"`
	RefreshHours int    `yaml:"refresh_hours"`
}

type ConnectionConfig struct {
	MaxLocalRelays     int      `yaml:"max_local_relays"`
	GeoRelayCount      int      `yaml:"geo_relay_count"`
	FallbackRelays     []string `yaml:"fallback_relays"`
	InitialPrefixes    []string `yaml:"initial_prefixes"`
	Kinds              []int    `yaml:"kinds"`
	LookbackHours      int      `yaml:"lookback_hours"`
	PubKey             string   `yaml:"pubkey"`
	VerifySignatures   bool     `yaml:"verify_signatures"`
	RetryAttempts      int      `yaml:"retry_attempts"`
	HealthSweepMinutes int      `yaml:"health_sweep_minutes"`
}

type PublisherConfig struct {
	Workers         int      `yaml:"workers"`
	ExtraRelays     []string `yaml:"extra_relays"`
	CacheTTLMinutes int      `yaml:"cache_ttl_minutes"`
	TimeoutSeconds  int      `yaml:"timeout_seconds"`
}

type LocationConfig struct {
	Lat float64 `yaml:"lat"`
	Lon float64 `yaml:"lon"`
}

// Load reads and validates the config file at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

func (c *Config) applyDefaults() {
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.DataDir == "" {
		if userCache, err := os.UserCacheDir(); err == nil {
			c.DataDir = filepath.Join(userCache, "georelay")
		} else {
			c.DataDir = ".georelay"
		}
	}
	if c.Metrics.Listen == "" {
		c.Metrics.Listen = "127.0.0.1:9090"
	}
}

func (c *Config) validate() error {
	if c.Region != "" && !geohash.Valid(c.Region) {
		return fmt.Errorf("region %q is not a valid geohash", c.Region)
	}
	if c.Location != nil {
		if c.Location.Lat < -90 || c.Location.Lat > 90 {
			return fmt.Errorf("location latitude %v out of range", c.Location.Lat)
		}
		if c.Location.Lon < -180 || c.Location.Lon > 180 {
			return fmt.Errorf("location longitude %v out of range", c.Location.Lon)
		}
	}
	for _, kind := range c.Connection.Kinds {
		if kind <= 0 {
			return fmt.Errorf("subscription kind %d is not valid", kind)
		}
	}
	return nil
}

// Engine maps the file config onto the engine component configs. Zero values
// fall through to the component defaults.
func (c *Config) Engine() *engine.Config {
	retryPolicy := retry.Policy{}
	if c.Connection.RetryAttempts > 0 {
		retryPolicy = retry.Default()
		retryPolicy.MaxAttempts = c.Connection.RetryAttempts
	}

	return &engine.Config{
		Directory: directory.Config{
			RemoteURL:       c.Directory.RemoteURL,
			RefreshInterval: time.Duration(c.Directory.RefreshHours) * time.Hour,
		},
		Connection: connection.Config{
			MaxLocalRelays:   c.Connection.MaxLocalRelays,
			GeoRelayCount:    c.Connection.GeoRelayCount,
			FallbackRelays:   c.Connection.FallbackRelays,
			InitialPrefixes:  c.Connection.InitialPrefixes,
			Kinds:            c.Connection.Kinds,
			Lookback:         time.Duration(c.Connection.LookbackHours) * time.Hour,
			PubKey:           c.Connection.PubKey,
			VerifySignatures: c.Connection.VerifySignatures,
			Retry:            retryPolicy,
		},
		Publisher: publish.Config{
			Workers:        c.Publisher.Workers,
			ExtraRelays:    c.Publisher.ExtraRelays,
			CacheTTL:       time.Duration(c.Publisher.CacheTTLMinutes) * time.Minute,
			PublishTimeout: time.Duration(c.Publisher.TimeoutSeconds) * time.Second,
		},
		HealthInterval: time.Duration(c.Connection.HealthSweepMinutes) * time.Minute,
	}
}

package config

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoad(t *testing.T) {
	path := writeConfig(t, `
logging:
  level: debug
data_dir: /tmp/georelay-test
region: dr5r
metrics:
  listen: ":9191"
directory:
  remote_url: https://example.com/relays.csv
  refresh_hours: 12
connection:
  max_local_relays: 7
  fallback_relays:
    - wss://relay.example.com
  lookback_hours: 6
  verify_signatures: true
  retry_attempts: 5
publisher:
  workers: 2
  extra_relays:
    - wss://broadcast.example.com
  cache_ttl_minutes: 5
  timeout_seconds: 20
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	if cfg.Logging.Level != "debug" {
		t.Errorf("Logging.Level = %q, want debug", cfg.Logging.Level)
	}
	if cfg.Region != "dr5r" {
		t.Errorf("Region = %q, want dr5r", cfg.Region)
	}
	if cfg.Metrics.Listen != ":9191" {
		t.Errorf("Metrics.Listen = %q, want :9191", cfg.Metrics.Listen)
	}

	ec := cfg.Engine()
	if ec.Directory.RefreshInterval != 12*time.Hour {
		t.Errorf("RefreshInterval = %v, want 12h", ec.Directory.RefreshInterval)
	}
	if ec.Connection.MaxLocalRelays != 7 {
		t.Errorf("MaxLocalRelays = %d, want 7", ec.Connection.MaxLocalRelays)
	}
	if !reflect.DeepEqual(ec.Connection.FallbackRelays, []string{"wss://relay.example.com"}) {
		t.Errorf("FallbackRelays = %v", ec.Connection.FallbackRelays)
	}
	if ec.Connection.Lookback != 6*time.Hour {
		t.Errorf("Lookback = %v, want 6h", ec.Connection.Lookback)
	}
	if !ec.Connection.VerifySignatures {
		t.Error("VerifySignatures = false, want true")
	}
	if ec.Connection.Retry.MaxAttempts != 5 {
		t.Errorf("Retry.MaxAttempts = %d, want 5", ec.Connection.Retry.MaxAttempts)
	}
	if ec.Publisher.Workers != 2 {
		t.Errorf("Publisher.Workers = %d, want 2", ec.Publisher.Workers)
	}
	if ec.Publisher.CacheTTL != 5*time.Minute {
		t.Errorf("Publisher.CacheTTL = %v, want 5m", ec.Publisher.CacheTTL)
	}
	if ec.Publisher.PublishTimeout != 20*time.Second {
		t.Errorf("Publisher.PublishTimeout = %v, want 20s", ec.Publisher.PublishTimeout)
	}
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, "{}\n"))
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.Logging.Level != "info" {
		t.Errorf("Logging.Level = %q, want info", cfg.Logging.Level)
	}
	if cfg.DataDir == "" {
		t.Error("DataDir is empty")
	}
	if cfg.Metrics.Listen != "127.0.0.1:9090" {
		t.Errorf("Metrics.Listen = %q, want 127.0.0.1:9090", cfg.Metrics.Listen)
	}

	ec := cfg.Engine()
	if ec.Connection.Retry.MaxAttempts != 0 {
		t.Errorf("Retry.MaxAttempts = %d, want 0 (component default)", ec.Connection.Retry.MaxAttempts)
	}
}

func TestLoadRejectsBadRegion(t *testing.T) {
	if _, err := Load(writeConfig(t, "region: NYC1\n")); err == nil {
		t.Fatal("Load() accepted an invalid region")
	}
}

func TestLoadRejectsBadLocation(t *testing.T) {
	if _, err := Load(writeConfig(t, "location:\n  lat: 97.0\n  lon: 0.0\n")); err == nil {
		t.Fatal("Load() accepted an out-of-range latitude")
	}
}

func TestLoadRejectsBadKind(t *testing.T) {
	if _, err := Load(writeConfig(t, "connection:\n  kinds: [-1]\n")); err == nil {
		t.Fatal("Load() accepted a negative kind")
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("Load() of a missing file returned nil error")
	}
}

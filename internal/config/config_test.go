package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeConfig(t *testing.T, yaml string) string {
	t.Helper()
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0o644); err != nil {
		t.Fatalf("writing config: %v", err)
	}
	return dir
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(t.TempDir())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Addr() != "0.0.0.0:9090" {
		t.Errorf("addr = %q", cfg.Server.Addr())
	}
	if cfg.Monitoring.CheckIntervalSeconds != 30 || cfg.Monitoring.RetryAttempts != 3 {
		t.Errorf("unexpected monitoring defaults %+v", cfg.Monitoring)
	}
	if !cfg.Monitoring.EnableDockerStats {
		t.Error("docker stats should default to enabled")
	}
	if cfg.Alerts.HighLatencyThresholdMS != 2000 {
		t.Errorf("latency threshold = %d", cfg.Alerts.HighLatencyThresholdMS)
	}
	if len(cfg.Services) == 0 {
		t.Error("missing service list should fall back to the default fleet")
	}
}

func TestLoadFromFile(t *testing.T) {
	dir := writeConfig(t, `
server:
  host: 127.0.0.1
  port: 8088
monitoring:
  check_interval_seconds: 5
  retry_attempts: 2
services:
  - id: api
    name: API
    health_endpoint: http://api:8000/health
    service_type: Api
    docker_container: api
    expected_response_time_ms: 500
    critical: true
`)
	cfg, err := Load(dir)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Addr() != "127.0.0.1:8088" {
		t.Errorf("addr = %q", cfg.Server.Addr())
	}
	if cfg.Monitoring.CheckIntervalSeconds != 5 || cfg.Monitoring.RetryAttempts != 2 {
		t.Errorf("unexpected monitoring %+v", cfg.Monitoring)
	}
	if len(cfg.Services) != 1 || cfg.Services[0].ID != "api" || !cfg.Services[0].Critical {
		t.Errorf("unexpected services %+v", cfg.Services)
	}
}

func TestEnvOverride(t *testing.T) {
	t.Setenv("FLEETMON_SERVER_PORT", "7001")
	t.Setenv("FLEETMON_AUTH_JWT_SECRET", "from-env")

	cfg, err := Load(t.TempDir())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Port != 7001 {
		t.Errorf("port = %d, want 7001", cfg.Server.Port)
	}
	if cfg.Auth.JWTSecret != "from-env" {
		t.Errorf("jwt secret = %q", cfg.Auth.JWTSecret)
	}
}

func TestValidationRejectsBadServices(t *testing.T) {
	dir := writeConfig(t, `
services:
  - id: api
    name: API
    health_endpoint: http://api:8000/health
  - id: api
    name: API again
    health_endpoint: http://api:8001/health
`)
	if _, err := Load(dir); err == nil {
		t.Error("duplicate service ids should be rejected")
	}

	dir = writeConfig(t, `
services:
  - id: api
    name: API
`)
	if _, err := Load(dir); err == nil {
		t.Error("missing health_endpoint should be rejected")
	}
}

func TestFloorsOnInvalidKnobs(t *testing.T) {
	dir := writeConfig(t, `
monitoring:
  retry_attempts: 0
  batch_size: -3
`)
	cfg, err := Load(dir)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Monitoring.RetryAttempts != 1 || cfg.Monitoring.BatchSize != 1 {
		t.Errorf("knobs not floored: %+v", cfg.Monitoring)
	}
}

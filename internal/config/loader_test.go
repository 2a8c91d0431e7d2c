package config

import (
	"os"
	"path/filepath"
	"testing"
)

const sampleManifest = `
server:
  port: 9090
discovery:
  control_plane_url: http://control:8500
services:
  users:
    timeout: 5s
    circuit_breaker:
      failure_threshold: 5
routes:
  - id: users-list
    path: /api/v1/users
    service_name: users
`

func TestLoadExpandsEnvVars(t *testing.T) {
	os.Setenv("TEST_GATEWAY_PORT", "1234")
	defer os.Unsetenv("TEST_GATEWAY_PORT")

	data := "server:\n  port: ${TEST_GATEWAY_PORT}\n"
	dir := t.TempDir()
	path := filepath.Join(dir, "gateway.yaml")
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := NewLoader().Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Port != 1234 {
		t.Errorf("Server.Port = %d, want 1234", cfg.Server.Port)
	}
}

func TestParseManifest(t *testing.T) {
	cfg, err := NewLoader().Parse([]byte(sampleManifest))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if cfg.Server.Port != 9090 {
		t.Errorf("Server.Port = %d, want 9090", cfg.Server.Port)
	}
	if cfg.Discovery.ControlPlaneURL != "http://control:8500" {
		t.Errorf("ControlPlaneURL = %q", cfg.Discovery.ControlPlaneURL)
	}
	if len(cfg.Routes) != 1 || cfg.Routes[0].ServiceName != "users" {
		t.Fatalf("routes not parsed: %+v", cfg.Routes)
	}
	if cfg.Services["users"].CircuitBreaker.FailureThreshold != 5 {
		t.Errorf("service default not parsed: %+v", cfg.Services["users"])
	}
}

func TestEnvOverridesPort(t *testing.T) {
	os.Setenv("PORT", "7777")
	defer os.Unsetenv("PORT")

	cfg, err := NewLoader().Parse([]byte(sampleManifest))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if cfg.Server.Port != 7777 {
		t.Errorf("PORT env override not applied, got %d", cfg.Server.Port)
	}
}

func TestCircuitBreakerEnvOverride(t *testing.T) {
	os.Setenv("USERS_FAILURE_THRESHOLD", "9")
	defer os.Unsetenv("USERS_FAILURE_THRESHOLD")

	cfg, err := NewLoader().Parse([]byte(sampleManifest))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if got := cfg.Services["users"].CircuitBreaker.FailureThreshold; got != 9 {
		t.Errorf("FailureThreshold override = %d, want 9", got)
	}
}

func TestRedisURLOverride(t *testing.T) {
	os.Setenv("REDIS_URL", "redis://cache:6379/0")
	defer os.Unsetenv("REDIS_URL")

	cfg, err := NewLoader().Parse([]byte(sampleManifest))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if cfg.RateLimitStore.URL != "redis://cache:6379/0" {
		t.Errorf("RateLimitStore.URL = %q", cfg.RateLimitStore.URL)
	}
}

func TestCORSOriginsOverride(t *testing.T) {
	os.Setenv("CORS_ORIGINS", "https://a.example,https://b.example")
	defer os.Unsetenv("CORS_ORIGINS")

	cfg, err := NewLoader().Parse([]byte(sampleManifest))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(cfg.CORS.Origins) != 2 {
		t.Fatalf("CORS.Origins = %v", cfg.CORS.Origins)
	}
}

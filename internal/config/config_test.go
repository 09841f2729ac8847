package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoad_DefaultsWhenFileMissing(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "does-not-exist.yaml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Port != 8080 {
		t.Errorf("Port = %d, want 8080", cfg.Port)
	}
	if cfg.Host != "0.0.0.0" {
		t.Errorf("Host = %q, want 0.0.0.0", cfg.Host)
	}
	if cfg.LoadBalanceStrategy != StrategyRoundRobin {
		t.Errorf("LoadBalanceStrategy = %q, want round-robin", cfg.LoadBalanceStrategy)
	}
	if cfg.TimeoutMS != 120000 {
		t.Errorf("TimeoutMS = %d, want 120000", cfg.TimeoutMS)
	}
	if cfg.Timeout().Seconds() != 120 {
		t.Errorf("Timeout() = %v, want 120s", cfg.Timeout())
	}
}

func TestLoad_FileOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	yaml := `
port: 9090
host: 127.0.0.1
timeout_ms: 5000
cors_enabled: true
cors_origin: https://example.com
load_balance_strategy: fill-first
`
	if err := os.WriteFile(path, []byte(yaml), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Port != 9090 {
		t.Errorf("Port = %d, want 9090", cfg.Port)
	}
	if cfg.Host != "127.0.0.1" {
		t.Errorf("Host = %q, want 127.0.0.1", cfg.Host)
	}
	if cfg.TimeoutMS != 5000 {
		t.Errorf("TimeoutMS = %d, want 5000", cfg.TimeoutMS)
	}
	if !cfg.CORSEnabled {
		t.Error("CORSEnabled = false, want true")
	}
	if cfg.CORSOrigin != "https://example.com" {
		t.Errorf("CORSOrigin = %q, want https://example.com", cfg.CORSOrigin)
	}
	if cfg.LoadBalanceStrategy != StrategyFillFirst {
		t.Errorf("LoadBalanceStrategy = %q, want fill-first", cfg.LoadBalanceStrategy)
	}
	if cfg.ConfigFile != path {
		t.Errorf("ConfigFile = %q, want %q", cfg.ConfigFile, path)
	}
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("port: 9090\n"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	t.Setenv("GATEWAY_PORT", "7070")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Port != 7070 {
		t.Errorf("Port = %d, want 7070 (env override)", cfg.Port)
	}
}

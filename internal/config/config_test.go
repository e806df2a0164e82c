package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaults(t *testing.T) {
	cfg := defaults()

	if cfg.AI.Model != "gpt-4o-mini" {
		t.Errorf("expected default model gpt-4o-mini, got %s", cfg.AI.Model)
	}
	if cfg.Jobs.PollInterval != time.Second {
		t.Errorf("expected jobs poll interval 1s, got %v", cfg.Jobs.PollInterval)
	}
	if cfg.Scheduler.PollInterval != 30*time.Second {
		t.Errorf("expected scheduler poll interval 30s, got %v", cfg.Scheduler.PollInterval)
	}
	if cfg.NATS.Port != 4222 {
		t.Errorf("expected nats port 4222, got %d", cfg.NATS.Port)
	}
	if cfg.Web.Port != 8080 {
		t.Errorf("expected web port 8080, got %d", cfg.Web.Port)
	}
	if !cfg.Web.Enabled {
		t.Error("expected web enabled by default")
	}
	if cfg.Web.Role != "admin" {
		t.Errorf("expected web role admin, got %s", cfg.Web.Role)
	}
	if cfg.Store.Path != "data/meshwork.db" {
		t.Errorf("expected store path data/meshwork.db, got %s", cfg.Store.Path)
	}
}

func TestLoadWithEnvOverrides(t *testing.T) {
	t.Setenv("MESHWORK_CONFIG", "/nonexistent/config.yaml")
	t.Setenv("MESHWORK_AI_API_KEY", "sk-test-key")
	t.Setenv("MESHWORK_AI_MODEL", "local-model")
	t.Setenv("MESHWORK_WEB_PASSWORD", "secret")
	t.Setenv("MESHWORK_WEB_PORT", "9090")
	t.Setenv("MESHWORK_JOBS_POLL_INTERVAL", "250ms")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.AI.APIKey != "sk-test-key" {
		t.Errorf("expected api key sk-test-key, got %s", cfg.AI.APIKey)
	}
	if cfg.AI.Model != "local-model" {
		t.Errorf("expected model local-model, got %s", cfg.AI.Model)
	}
	if cfg.Web.Auth != "secret" {
		t.Errorf("expected web auth secret, got %s", cfg.Web.Auth)
	}
	if cfg.Web.Port != 9090 {
		t.Errorf("expected web port 9090, got %d", cfg.Web.Port)
	}
	if cfg.Jobs.PollInterval != 250*time.Millisecond {
		t.Errorf("expected poll interval 250ms, got %v", cfg.Jobs.PollInterval)
	}
}

func TestLoadFromYAML(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config.yaml")

	yaml := `
ai:
  base_url: "http://localhost:11434/v1"
  model: "${TEST_MODEL}"
telegram:
  token: "yaml-token"
  allow_from: [123, 456]
jobs:
  poll_interval: 2s
  retention: 24h
web:
  port: 3000
  enabled: false
`
	if err := os.WriteFile(cfgPath, []byte(yaml), 0o644); err != nil {
		t.Fatal(err)
	}

	t.Setenv("MESHWORK_CONFIG", cfgPath)
	t.Setenv("TEST_MODEL", "llama3")
	t.Setenv("MESHWORK_TELEGRAM_TOKEN", "")
	t.Setenv("MESHWORK_AI_MODEL", "")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.AI.BaseURL != "http://localhost:11434/v1" {
		t.Errorf("expected base url from yaml, got %s", cfg.AI.BaseURL)
	}
	if cfg.AI.Model != "llama3" {
		t.Errorf("expected expanded model llama3, got %s", cfg.AI.Model)
	}
	if cfg.Telegram.Token != "yaml-token" {
		t.Errorf("expected yaml-token, got %s", cfg.Telegram.Token)
	}
	if len(cfg.Telegram.AllowFrom) != 2 {
		t.Errorf("expected 2 allow_from entries, got %d", len(cfg.Telegram.AllowFrom))
	}
	if cfg.Jobs.PollInterval != 2*time.Second {
		t.Errorf("expected poll interval 2s, got %v", cfg.Jobs.PollInterval)
	}
	if cfg.Jobs.Retention != 24*time.Hour {
		t.Errorf("expected retention 24h, got %v", cfg.Jobs.Retention)
	}
	if cfg.Web.Port != 3000 {
		t.Errorf("expected web port 3000, got %d", cfg.Web.Port)
	}
	if cfg.Web.Enabled {
		t.Error("expected web disabled")
	}
}

func TestLoadRejectsInvalidPollInterval(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(cfgPath, []byte("jobs:\n  poll_interval: 0s\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("MESHWORK_CONFIG", cfgPath)
	t.Setenv("MESHWORK_JOBS_POLL_INTERVAL", "")

	if _, err := Load(); err == nil {
		t.Fatal("expected error for zero poll interval")
	}
}

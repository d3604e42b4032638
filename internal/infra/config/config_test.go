package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaults(t *testing.T) {
	cfg := Defaults()
	if cfg.Backend.BaseURL != "http://localhost:8000" {
		t.Errorf("BaseURL = %q, want %q", cfg.Backend.BaseURL, "http://localhost:8000")
	}
	if cfg.Backend.ConnectTimeout != 5*time.Second {
		t.Errorf("ConnectTimeout = %v, want 5s", cfg.Backend.ConnectTimeout)
	}
	if cfg.Logger.Level != "info" {
		t.Errorf("Logger.Level = %q, want %q", cfg.Logger.Level, "info")
	}
	if !cfg.Backend.CircuitBreaker.Enabled {
		t.Error("circuit breaker should be enabled by default")
	}
}

func TestLoadNonExistentReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Backend.RequestTimeout != 30*time.Second {
		t.Errorf("expected defaults, got RequestTimeout=%v", cfg.Backend.RequestTimeout)
	}
}

func TestLoadYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `
backend:
  base_url: "http://10.0.0.5:8000"
  connect_timeout: 2s
  circuit_breaker:
    enabled: false
session:
  send_queue: 8
cache:
  enabled: false
logger:
  level: "debug"
ui:
  conversation: "abc"
`
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Backend.BaseURL != "http://10.0.0.5:8000" {
		t.Errorf("BaseURL = %q", cfg.Backend.BaseURL)
	}
	if cfg.Backend.ConnectTimeout != 2*time.Second {
		t.Errorf("ConnectTimeout = %v, want 2s", cfg.Backend.ConnectTimeout)
	}
	if cfg.Backend.RequestTimeout != 30*time.Second {
		t.Errorf("RequestTimeout = %v, want default 30s", cfg.Backend.RequestTimeout)
	}
	if cfg.Backend.CircuitBreaker.Enabled {
		t.Error("circuit breaker should be disabled")
	}
	if cfg.Session.SendQueue != 8 {
		t.Errorf("SendQueue = %d, want 8", cfg.Session.SendQueue)
	}
	if cfg.Logger.Level != "debug" {
		t.Errorf("Logger.Level = %q, want debug", cfg.Logger.Level)
	}
	if cfg.UI.Conversation != "abc" {
		t.Errorf("UI.Conversation = %q, want abc", cfg.UI.Conversation)
	}
}

func TestLoadExpandsHome(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := "cache:\n  path: ~/cache.db\nlogger:\n  output: ~/chat.log\n"
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Cache.Path != filepath.Join(home, "cache.db") {
		t.Errorf("Cache.Path = %q", cfg.Cache.Path)
	}
	if cfg.Logger.Output != filepath.Join(home, "chat.log") {
		t.Errorf("Logger.Output = %q", cfg.Logger.Output)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("LLAMACHAT_BACKEND_URL", "http://gpu-box:8000")
	t.Setenv("LLAMACHAT_LOGGER_LEVEL", "debug")
	t.Setenv("LLAMACHAT_CONNECT_TIMEOUT", "750ms")
	t.Setenv("LLAMACHAT_RATE_LIMIT", "2.5")
	t.Setenv("LLAMACHAT_CIRCUIT_BREAKER", "false")
	t.Setenv("LLAMACHAT_CACHE_ENABLED", "false")
	t.Setenv("LLAMACHAT_ASCII", "1")
	t.Setenv("LLAMACHAT_CONVERSATION", "conv-7")

	cfg := Defaults()
	ApplyEnvOverrides(cfg)

	if cfg.Backend.BaseURL != "http://gpu-box:8000" {
		t.Errorf("BaseURL = %q", cfg.Backend.BaseURL)
	}
	if cfg.Logger.Level != "debug" {
		t.Errorf("Logger.Level = %q, want %q", cfg.Logger.Level, "debug")
	}
	if cfg.Backend.ConnectTimeout != 750*time.Millisecond {
		t.Errorf("ConnectTimeout = %v, want 750ms", cfg.Backend.ConnectTimeout)
	}
	if cfg.Backend.RateLimit != 2.5 {
		t.Errorf("RateLimit = %v, want 2.5", cfg.Backend.RateLimit)
	}
	if cfg.Backend.CircuitBreaker.Enabled {
		t.Error("circuit breaker should be disabled by env")
	}
	if cfg.Cache.Enabled {
		t.Error("cache should be disabled by env")
	}
	if !cfg.UI.ASCIISymbols {
		t.Error("ASCII symbols should be enabled by env")
	}
	if cfg.UI.Conversation != "conv-7" {
		t.Errorf("UI.Conversation = %q, want conv-7", cfg.UI.Conversation)
	}
}

func TestEnvOverridesIgnoreMalformedValues(t *testing.T) {
	t.Setenv("LLAMACHAT_CONNECT_TIMEOUT", "soon")
	t.Setenv("LLAMACHAT_RATE_LIMIT", "fast")

	cfg := Defaults()
	ApplyEnvOverrides(cfg)
	if cfg.Backend.ConnectTimeout != 5*time.Second {
		t.Errorf("ConnectTimeout = %v, want default", cfg.Backend.ConnectTimeout)
	}
	if cfg.Backend.RateLimit != 20 {
		t.Errorf("RateLimit = %v, want default", cfg.Backend.RateLimit)
	}
}

func TestApplyEnvOverridesTracer(t *testing.T) {
	t.Setenv("LLAMACHAT_TRACER_ENABLED", "true")
	t.Setenv("LLAMACHAT_TRACER_EXPORTER", "stdout")

	cfg := Defaults()
	ApplyEnvOverrides(cfg)
	if !cfg.Tracer.Enabled {
		t.Error("Tracer.Enabled should be true")
	}
	if cfg.Tracer.Exporter != "stdout" {
		t.Errorf("Tracer.Exporter = %q, want stdout", cfg.Tracer.Exporter)
	}
}

func TestLoadInsecurePermissions(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "insecure.yaml")
	if err := os.WriteFile(path, []byte("logger:\n  level: info\n"), 0600); err != nil {
		t.Fatal(err)
	}
	if err := os.Chmod(path, 0666); err != nil {
		t.Fatal(err)
	}

	_, err := Load(path)
	if err == nil {
		t.Error("expected error for insecure permissions")
	}
}

func TestLoadInvalidYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte("invalid: [yaml: bad"), 0600); err != nil {
		t.Fatal(err)
	}

	_, err := Load(path)
	if err == nil {
		t.Error("expected error for invalid YAML")
	}
}

func TestLoadRejectsInvalidConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte("backend:\n  base_url: \"ftp://nope\"\n"), 0600); err != nil {
		t.Fatal(err)
	}

	_, err := Load(path)
	if err == nil {
		t.Fatal("expected validation error")
	}
	if _, ok := err.(*ValidationError); !ok {
		t.Errorf("err = %T, want *ValidationError", err)
	}
}

func TestValidatePermissions(t *testing.T) {
	dir := t.TempDir()

	good := filepath.Join(dir, "good.yaml")
	if err := os.WriteFile(good, []byte("test"), 0600); err != nil {
		t.Fatal(err)
	}
	if err := validatePermissions(good); err != nil {
		t.Errorf("0600 should pass: %v", err)
	}

	readable := filepath.Join(dir, "readable.yaml")
	if err := os.WriteFile(readable, []byte("test"), 0644); err != nil {
		t.Fatal(err)
	}
	if err := os.Chmod(readable, 0644); err != nil {
		t.Fatal(err)
	}
	if err := validatePermissions(readable); err != nil {
		t.Errorf("0644 should pass: %v", err)
	}

	bad := filepath.Join(dir, "bad.yaml")
	if err := os.WriteFile(bad, []byte("test"), 0600); err != nil {
		t.Fatal(err)
	}
	if err := os.Chmod(bad, 0666); err != nil {
		t.Fatal(err)
	}
	if err := validatePermissions(bad); err == nil {
		t.Error("0666 should fail")
	}
}

func TestValidatePermissionsStatError(t *testing.T) {
	err := validatePermissions(filepath.Join(t.TempDir(), "nope.yaml"))
	if err == nil {
		t.Error("expected error for non-existent file")
	}
}

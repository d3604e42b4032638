package config

import (
	"strings"
	"testing"
)

func TestValidateDefaultsPass(t *testing.T) {
	cfg := Defaults()
	if err := Validate(cfg); err != nil {
		t.Fatalf("Defaults should pass validation: %v", err)
	}
}

func TestValidateBackend(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"empty base url", func(c *Config) { c.Backend.BaseURL = "" }, "backend.base_url is required"},
		{"base url scheme", func(c *Config) { c.Backend.BaseURL = "ws://localhost:8000" }, "must be an http or https URL"},
		{"ws url scheme", func(c *Config) { c.Backend.WSURL = "http://localhost:8000" }, "must be a ws or wss URL"},
		{"connect timeout", func(c *Config) { c.Backend.ConnectTimeout = 0 }, "backend.connect_timeout must be > 0"},
		{"request timeout", func(c *Config) { c.Backend.RequestTimeout = -1 }, "backend.request_timeout must be > 0"},
		{"negative rate", func(c *Config) { c.Backend.RateLimit = -1 }, "backend.rate_limit must be >= 0"},
		{"burst", func(c *Config) { c.Backend.RateBurst = 0 }, "backend.rate_burst must be > 0"},
		{"breaker failures", func(c *Config) { c.Backend.CircuitBreaker.MaxFailures = 0 }, "max_failures must be > 0"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Defaults()
			tt.mutate(cfg)
			err := Validate(cfg)
			if err == nil {
				t.Fatal("expected validation error")
			}
			assertContains(t, err.Error(), tt.want)
		})
	}
}

func TestValidateRateLimitDisabledNeedsNoBurst(t *testing.T) {
	cfg := Defaults()
	cfg.Backend.RateLimit = 0
	cfg.Backend.RateBurst = 0
	if err := Validate(cfg); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestValidateCachePath(t *testing.T) {
	cfg := Defaults()
	cfg.Cache.Path = ""
	err := Validate(cfg)
	if err == nil {
		t.Fatal("expected validation error")
	}
	assertContains(t, err.Error(), "cache.path is required")

	cfg.Cache.Enabled = false
	if err := Validate(cfg); err != nil {
		t.Errorf("disabled cache should not need a path: %v", err)
	}
}

func TestValidateLogger(t *testing.T) {
	cfg := Defaults()
	cfg.Logger.Level = "chatty"
	cfg.Logger.Format = "xml"
	err := Validate(cfg)
	if err == nil {
		t.Fatal("expected validation error")
	}
	assertContains(t, err.Error(), `logger.level "chatty"`)
	assertContains(t, err.Error(), `logger.format "xml"`)
}

func TestValidateTracerExporter(t *testing.T) {
	cfg := Defaults()
	cfg.Tracer.Enabled = true
	cfg.Tracer.Exporter = "jaeger"
	err := Validate(cfg)
	if err == nil {
		t.Fatal("expected validation error")
	}
	assertContains(t, err.Error(), `tracer.exporter "jaeger"`)
}

func TestValidationErrorAccumulates(t *testing.T) {
	cfg := Defaults()
	cfg.Backend.BaseURL = ""
	cfg.Backend.ConnectTimeout = 0
	cfg.Session.SendQueue = -1

	err := Validate(cfg)
	ve, ok := err.(*ValidationError)
	if !ok {
		t.Fatalf("err = %T, want *ValidationError", err)
	}
	if len(ve.Errors) != 3 {
		t.Errorf("got %d errors, want 3: %v", len(ve.Errors), ve.Errors)
	}
	if !strings.HasPrefix(ve.Error(), "config validation failed:") {
		t.Errorf("unexpected message: %s", ve.Error())
	}
}

func assertContains(t *testing.T, s, substr string) {
	t.Helper()
	if !strings.Contains(s, substr) {
		t.Errorf("expected %q to contain %q", s, substr)
	}
}

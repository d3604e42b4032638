package config

import (
	"fmt"
	"net/url"
	"strings"
)

// ValidationError accumulates config validation errors.
type ValidationError struct {
	Errors []string
}

func (v *ValidationError) Error() string {
	return "config validation failed:\n  - " + strings.Join(v.Errors, "\n  - ")
}

// HasErrors reports whether any validation errors have been recorded.
func (v *ValidationError) HasErrors() bool {
	return len(v.Errors) > 0
}

// Add records a formatted validation error.
func (v *ValidationError) Add(format string, args ...interface{}) {
	v.Errors = append(v.Errors, fmt.Sprintf(format, args...))
}

// Validate checks cfg for structural correctness. It returns a *ValidationError
// when one or more problems are found, allowing callers to inspect all issues.
func Validate(cfg *Config) error {
	ve := &ValidationError{}
	validateBackend(cfg, ve)
	validateSession(cfg, ve)
	validateCache(cfg, ve)
	validateLogger(cfg, ve)
	validateTracer(cfg, ve)
	if ve.HasErrors() {
		return ve
	}
	return nil
}

func validateBackend(cfg *Config, ve *ValidationError) {
	b := cfg.Backend
	if b.BaseURL == "" {
		ve.Add("backend.base_url is required")
	} else if u, err := url.Parse(b.BaseURL); err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		ve.Add("backend.base_url %q must be an http or https URL", b.BaseURL)
	}
	if b.WSURL != "" {
		if u, err := url.Parse(b.WSURL); err != nil || (u.Scheme != "ws" && u.Scheme != "wss") || u.Host == "" {
			ve.Add("backend.ws_url %q must be a ws or wss URL", b.WSURL)
		}
	}
	if b.ConnectTimeout <= 0 {
		ve.Add("backend.connect_timeout must be > 0")
	}
	if b.RequestTimeout <= 0 {
		ve.Add("backend.request_timeout must be > 0")
	}
	if b.RateLimit < 0 {
		ve.Add("backend.rate_limit must be >= 0")
	}
	if b.RateLimit > 0 && b.RateBurst <= 0 {
		ve.Add("backend.rate_burst must be > 0 when rate_limit is set")
	}
	if b.CircuitBreaker.Enabled && b.CircuitBreaker.MaxFailures == 0 {
		ve.Add("backend.circuit_breaker.max_failures must be > 0")
	}
}

func validateSession(cfg *Config, ve *ValidationError) {
	if cfg.Session.SendQueue < 0 {
		ve.Add("session.send_queue must be >= 0")
	}
	if cfg.Session.InboxSize < 0 {
		ve.Add("session.inbox_size must be >= 0")
	}
	if cfg.Session.ReadLimit < 0 {
		ve.Add("session.read_limit must be >= 0")
	}
}

func validateCache(cfg *Config, ve *ValidationError) {
	if cfg.Cache.Enabled && cfg.Cache.Path == "" {
		ve.Add("cache.path is required when cache.enabled is true")
	}
}

func validateLogger(cfg *Config, ve *ValidationError) {
	switch strings.ToLower(cfg.Logger.Level) {
	case "", "debug", "info", "warn", "warning", "error":
	default:
		ve.Add("logger.level %q is not one of debug, info, warn, error", cfg.Logger.Level)
	}
	switch strings.ToLower(cfg.Logger.Format) {
	case "", "text", "json":
	default:
		ve.Add("logger.format %q must be text or json", cfg.Logger.Format)
	}
}

func validateTracer(cfg *Config, ve *ValidationError) {
	if !cfg.Tracer.Enabled {
		return
	}
	switch cfg.Tracer.Exporter {
	case "", "noop", "stdout":
	default:
		ve.Add("tracer.exporter %q is not supported", cfg.Tracer.Exporter)
	}
}

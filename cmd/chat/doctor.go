package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"llama-chat/internal/adapter/rest"
	"llama-chat/internal/domain"
	"llama-chat/internal/infra/config"
)

// CheckStatus represents the result of a health check.
type CheckStatus string

const (
	StatusPass CheckStatus = "PASS"
	StatusWarn CheckStatus = "WARN"
	StatusFail CheckStatus = "FAIL"
)

// CheckResult holds the outcome of a single health check.
type CheckResult struct {
	Name    string
	Status  CheckStatus
	Message string
	Fix     string // optional fix suggestion
}

// Check is a named health check function.
type Check struct {
	Name string
	Fn   func(cfg *config.Config) CheckResult
}

func doctorChecks(cfgPath string, cfgErr error) []Check {
	return []Check{
		{Name: "Config file", Fn: checkConfigFile(cfgPath, cfgErr)},
		{Name: "Backend REST", Fn: checkBackend},
		{Name: "Streaming URL", Fn: checkStreamingURL},
		{Name: "Transcript cache", Fn: checkCache},
		{Name: "Log output", Fn: checkLogOutput},
	}
}

// runDoctor executes all health checks and reports results.
func runDoctor() error {
	cfgPath := configPath()
	cfg, cfgErr := config.Load(cfgPath)

	fmt.Println("llama-chat doctor")
	fmt.Println(strings.Repeat("=", 50))
	fmt.Println()

	results := runChecks(doctorChecks(cfgPath, cfgErr), cfg)
	var pass, warn, fail int
	for _, result := range results {
		fmt.Printf("  %s %s: %s\n", statusIcon(result.Status), result.Name, result.Message)
		if result.Fix != "" {
			fmt.Printf("      Fix: %s\n", result.Fix)
		}
		switch result.Status {
		case StatusPass:
			pass++
		case StatusWarn:
			warn++
		case StatusFail:
			fail++
		}
	}

	fmt.Println()
	fmt.Println(strings.Repeat("-", 50))
	fmt.Printf("Results: %d passed, %d warnings, %d failed\n", pass, warn, fail)

	if fail > 0 {
		fmt.Println("\nFix the FAIL issues above before starting llama-chat.")
		return fmt.Errorf("%d check(s) failed", fail)
	}
	if warn > 0 {
		fmt.Println("\nllama-chat should work, but consider addressing the warnings.")
	} else {
		fmt.Println("\nAll checks passed! llama-chat is ready to run.")
	}
	return nil
}

func runChecks(checks []Check, cfg *config.Config) []CheckResult {
	results := make([]CheckResult, 0, len(checks))
	for _, check := range checks {
		result := check.Fn(cfg)
		result.Name = check.Name
		results = append(results, result)
	}
	return results
}

func statusIcon(s CheckStatus) string {
	switch s {
	case StatusPass:
		return "[PASS]"
	case StatusWarn:
		return "[WARN]"
	case StatusFail:
		return "[FAIL]"
	default:
		return "[????]"
	}
}

var notLoaded = CheckResult{Status: StatusFail, Message: "cannot check, config not loaded"}

// checkConfigFile returns a check that verifies the config file parses.
// A missing file is only a warning since defaults apply.
func checkConfigFile(cfgPath string, cfgErr error) func(*config.Config) CheckResult {
	return func(_ *config.Config) CheckResult {
		if cfgErr != nil {
			return CheckResult{
				Status:  StatusFail,
				Message: fmt.Sprintf("config error: %v", cfgErr),
				Fix:     "Check config.yaml syntax and permissions (0600 or 0644)",
			}
		}
		if _, err := os.Stat(cfgPath); os.IsNotExist(err) {
			return CheckResult{
				Status:  StatusWarn,
				Message: fmt.Sprintf("no config file at %s, using defaults", cfgPath),
				Fix:     "Create config.yaml or pass --config PATH",
			}
		}
		return CheckResult{
			Status:  StatusPass,
			Message: fmt.Sprintf("config loaded from %s", cfgPath),
		}
	}
}

// checkBackend lists conversations to prove the REST API answers.
func checkBackend(cfg *config.Config) CheckResult {
	if cfg == nil {
		return notLoaded
	}
	timeout := cfg.Backend.ConnectTimeout
	if timeout <= 0 || timeout > 10*time.Second {
		timeout = 10 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	backend := cfg.Backend
	backend.CircuitBreaker.Enabled = false
	backend.RateLimit = 0
	client := rest.New(backend, slog.New(slog.DiscardHandler))

	items, err := client.ListConversations(ctx)
	if err != nil {
		return CheckResult{
			Status:  StatusFail,
			Message: fmt.Sprintf("%s unreachable (%s): %v", cfg.Backend.BaseURL, domain.ErrorCodeOf(err), err),
			Fix:     "Start the backend or set backend.base_url / LLAMACHAT_BACKEND_URL",
		}
	}
	return CheckResult{
		Status:  StatusPass,
		Message: fmt.Sprintf("%s answered with %d conversation(s)", cfg.Backend.BaseURL, len(items)),
	}
}

func checkStreamingURL(cfg *config.Config) CheckResult {
	if cfg == nil {
		return notLoaded
	}
	u, err := resolveWSURL(cfg.Backend)
	if err != nil {
		return CheckResult{
			Status:  StatusFail,
			Message: fmt.Sprintf("cannot derive WebSocket URL: %v", err),
			Fix:     "Set backend.ws_url explicitly",
		}
	}
	return CheckResult{Status: StatusPass, Message: u}
}

func checkCache(cfg *config.Config) CheckResult {
	if cfg == nil {
		return notLoaded
	}
	if !cfg.Cache.Enabled || cfg.Cache.Path == "" {
		return CheckResult{
			Status:  StatusWarn,
			Message: "disabled, conversations cannot be read offline",
			Fix:     "Set cache.enabled: true",
		}
	}
	if err := checkWritableDir(filepath.Dir(cfg.Cache.Path)); err != nil {
		return CheckResult{
			Status:  StatusFail,
			Message: fmt.Sprintf("%s not writable: %v", cfg.Cache.Path, err),
			Fix:     "Fix directory permissions or change cache.path",
		}
	}
	return CheckResult{Status: StatusPass, Message: cfg.Cache.Path}
}

func checkLogOutput(cfg *config.Config) CheckResult {
	if cfg == nil {
		return notLoaded
	}
	out := cfg.Logger.Output
	switch strings.ToLower(out) {
	case "discard", "none":
		return CheckResult{Status: StatusWarn, Message: "logging disabled"}
	case "", "stdout", "stderr":
		return CheckResult{
			Status:  StatusWarn,
			Message: fmt.Sprintf("%q is the terminal, the chat UI redirects logs to the default file", out),
			Fix:     "Set logger.output to a file path",
		}
	}
	if err := checkWritableDir(filepath.Dir(out)); err != nil {
		return CheckResult{
			Status:  StatusFail,
			Message: fmt.Sprintf("%s not writable: %v", out, err),
			Fix:     "Fix directory permissions or change logger.output",
		}
	}
	return CheckResult{Status: StatusPass, Message: out}
}

// checkWritableDir creates dir if needed and probes it with a temp file.
func checkWritableDir(dir string) error {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}
	f, err := os.CreateTemp(dir, ".doctor-*")
	if err != nil {
		return err
	}
	name := f.Name()
	f.Close()
	return os.Remove(name)
}

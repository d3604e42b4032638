package main

import (
	"errors"
	"fmt"
	"log/slog"

	"llama-chat/internal/adapter/cache"
	"llama-chat/internal/adapter/rest"
	"llama-chat/internal/adapter/transport"
	"llama-chat/internal/domain"
	"llama-chat/internal/infra/config"
	"llama-chat/internal/usecase"
	"llama-chat/internal/usecase/eventbus"
)

// app holds the wired components shared by the UI and the subcommands.
type app struct {
	api     *rest.Client
	bus     *eventbus.Bus
	cache   *cache.SQLiteTranscriptCache
	manager *usecase.SessionManager
	wsURL   string
}

func newApp(cfg *config.Config, log *slog.Logger) (*app, error) {
	wsURL, err := resolveWSURL(cfg.Backend)
	if err != nil {
		return nil, fmt.Errorf("backend: %w", err)
	}

	a := &app{
		api:   rest.New(cfg.Backend, log),
		bus:   eventbus.New(log),
		wsURL: wsURL,
	}

	// Cache failures degrade to running without one.
	var transcripts domain.TranscriptCache
	if cfg.Cache.Enabled && cfg.Cache.Path != "" {
		c, err := cache.NewSQLiteTranscriptCache(cfg.Cache.Path)
		if err != nil {
			log.Warn("transcript cache disabled", "path", cfg.Cache.Path, "error", err)
		} else {
			a.cache = c
			transcripts = c
		}
	}

	dialer := transport.NewDialer(transport.Config{
		BaseURL:        wsURL,
		ConnectTimeout: cfg.Backend.ConnectTimeout,
		WriteTimeout:   cfg.Session.WriteTimeout,
		SendQueue:      cfg.Session.SendQueue,
		ReadLimit:      cfg.Session.ReadLimit,
	}, log)

	a.manager = usecase.NewSessionManager(usecase.ManagerDeps{
		API:    a.api,
		Dialer: dialer,
		Bus:    a.bus,
		Cache:  transcripts,
		Logger: log,
	}, usecase.SessionConfig{
		ConnectTimeout: cfg.Backend.ConnectTimeout,
		RequestTimeout: cfg.Backend.RequestTimeout,
		InboxSize:      cfg.Session.InboxSize,
	})
	return a, nil
}

func (a *app) cacheEnabled() bool { return a.cache != nil }

// Close shuts the session down before the bus and the cache it writes to.
func (a *app) Close() error {
	var errs []error
	errs = append(errs, a.manager.Close())
	a.bus.Close()
	if a.cache != nil {
		errs = append(errs, a.cache.Close())
	}
	return errors.Join(errs...)
}

// resolveWSURL returns the configured WebSocket origin, or derives it from
// the HTTP base URL.
func resolveWSURL(b config.BackendConfig) (string, error) {
	if b.WSURL != "" {
		return b.WSURL, nil
	}
	return transport.DeriveWSURL(b.BaseURL)
}

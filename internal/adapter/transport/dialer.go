// Package transport implements the streaming channel to the backend over
// WebSocket.
package transport

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"llama-chat/internal/domain"
)

// Config configures a Dialer.
type Config struct {
	// BaseURL is the ws:// or wss:// origin of the backend.
	BaseURL        string
	ConnectTimeout time.Duration
	WriteTimeout   time.Duration
	SendQueue      int
	ReadLimit      int64
}

// Default channel settings.
const (
	defaultConnectTimeout = 5 * time.Second
	defaultWriteTimeout   = 5 * time.Second
	defaultSendQueue      = 64
	defaultReadLimit      = 1 << 20
)

// Dialer opens one Channel per conversation.
type Dialer struct {
	cfg    Config
	logger *slog.Logger
}

// NewDialer creates a Dialer. Zero-valued settings fall back to defaults.
func NewDialer(cfg Config, logger *slog.Logger) *Dialer {
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = defaultConnectTimeout
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = defaultWriteTimeout
	}
	if cfg.SendQueue <= 0 {
		cfg.SendQueue = defaultSendQueue
	}
	if cfg.ReadLimit <= 0 {
		cfg.ReadLimit = defaultReadLimit
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if logger == nil {
		logger = slog.Default()
	}
	return &Dialer{cfg: cfg, logger: logger}
}

// Open implements domain.TransportDialer. The returned channel is in
// Connecting; the dial runs in the background.
func (d *Dialer) Open(conversationID string, sink domain.FrameSink) domain.Transport {
	ctx, cancel := context.WithCancel(context.Background())
	c := &Channel{
		conversationID: conversationID,
		url:            d.EndpointFor(conversationID),
		sink:           sink,
		logger:         d.logger.With("conversation", conversationID),
		writeTimeout:   d.cfg.WriteTimeout,
		sendCh:         make(chan domain.Command, d.cfg.SendQueue),
		ready:          make(chan struct{}),
		done:           make(chan struct{}),
		cancel:         cancel,
		state:          domain.TransportConnecting,
	}
	go c.run(ctx, d.cfg.ConnectTimeout, d.cfg.ReadLimit)
	return c
}

// EndpointFor returns the generation endpoint of a conversation.
func (d *Dialer) EndpointFor(conversationID string) string {
	return d.cfg.BaseURL + "/ws/conversations/" + url.PathEscape(conversationID) + "/messages/ai"
}

// DeriveWSURL turns the backend's HTTP base URL into its WebSocket origin.
func DeriveWSURL(httpBase string) (string, error) {
	u, err := url.Parse(httpBase)
	if err != nil {
		return "", fmt.Errorf("parse base url: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("unsupported scheme %q in %s", u.Scheme, httpBase)
	}
	if u.Host == "" {
		return "", fmt.Errorf("missing host in %s", httpBase)
	}
	u.Path = strings.TrimRight(u.Path, "/")
	u.RawQuery = ""
	u.Fragment = ""
	return u.String(), nil
}

var _ domain.TransportDialer = (*Dialer)(nil)

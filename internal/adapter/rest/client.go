// Package rest implements domain.ConversationAPI against the chat backend's
// HTTP endpoints.
package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/sony/gobreaker/v2"
	"golang.org/x/time/rate"

	"llama-chat/internal/domain"
	"llama-chat/internal/infra/config"
	"llama-chat/internal/infra/tracer"
)

// Default circuit breaker settings.
const (
	defaultCBMaxFailures uint32        = 5
	defaultCBTimeout     time.Duration = 30 * time.Second
	defaultCBInterval    time.Duration = 60 * time.Second
)

// maxErrorBody caps how much of an error response is kept for messages.
const maxErrorBody = 512

// Client talks to the backend's REST endpoints. Calls pass through an
// optional rate limiter and an optional circuit breaker.
type Client struct {
	baseURL string
	http    *http.Client
	breaker *gobreaker.CircuitBreaker[[]byte]
	limiter *rate.Limiter
	logger  *slog.Logger
}

// New creates a Client for cfg.BaseURL.
func New(cfg config.BackendConfig, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	c := &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		http:    NewHTTPClient(cfg),
		logger:  logger.With("component", "rest"),
	}
	if cfg.RateLimit > 0 {
		burst := cfg.RateBurst
		if burst <= 0 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), burst)
	}
	if cfg.CircuitBreaker.Enabled {
		c.breaker = newBreaker(cfg.CircuitBreaker, c.logger)
	}
	return c
}

func newBreaker(cfg config.CircuitBreakerConfig, logger *slog.Logger) *gobreaker.CircuitBreaker[[]byte] {
	maxFailures := cfg.MaxFailures
	if maxFailures == 0 {
		maxFailures = defaultCBMaxFailures
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = defaultCBTimeout
	}
	interval := cfg.Interval
	if interval == 0 {
		interval = defaultCBInterval
	}

	return gobreaker.NewCircuitBreaker[[]byte](gobreaker.Settings{
		Name:        "backend",
		MaxRequests: 1, // allow 1 probe in half-open state
		Interval:    interval,
		Timeout:     timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= maxFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state change",
				"breaker", name,
				"from", from.String(),
				"to", to.String(),
			)
		},
		// 4xx answers mean the backend is healthy, and a caller giving up
		// says nothing about it.
		IsSuccessful: func(err error) bool {
			if errors.Is(err, context.Canceled) {
				return true
			}
			var se *statusError
			if errors.As(err, &se) {
				return se.code < 500
			}
			return err == nil
		},
	})
}

// BreakerState reports the circuit breaker state, "disabled" when off.
func (c *Client) BreakerState() string {
	if c.breaker == nil {
		return "disabled"
	}
	return c.breaker.State().String()
}

// NewHTTPClient creates an *http.Client with a pooled transport.
func NewHTTPClient(cfg config.BackendConfig) *http.Client {
	connTimeout := cfg.ConnectTimeout
	if connTimeout <= 0 {
		connTimeout = 5 * time.Second
	}
	respTimeout := cfg.RequestTimeout
	if respTimeout <= 0 {
		respTimeout = 30 * time.Second
	}
	return &http.Client{
		Transport: NewPooledTransport(connTimeout, respTimeout, cfg.Pool),
		Timeout:   connTimeout + respTimeout,
	}
}

// NewPooledTransport creates an http.Transport sized for a single backend
// host.
func NewPooledTransport(connTimeout, respTimeout time.Duration, pool config.PoolConfig) *http.Transport {
	maxIdle := pool.MaxIdleConns
	if maxIdle <= 0 {
		maxIdle = 10
	}
	maxIdlePerHost := pool.MaxIdleConnsPerHost
	if maxIdlePerHost <= 0 {
		maxIdlePerHost = 10
	}
	maxConnsPerHost := pool.MaxConnsPerHost
	if maxConnsPerHost <= 0 {
		maxConnsPerHost = 10
	}
	idleTimeout := pool.IdleConnTimeout
	if idleTimeout <= 0 {
		idleTimeout = 90 * time.Second
	}

	return &http.Transport{
		DialContext: (&net.Dialer{
			Timeout:   connTimeout,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: respTimeout,
		MaxIdleConns:          maxIdle,
		MaxIdleConnsPerHost:   maxIdlePerHost,
		MaxConnsPerHost:       maxConnsPerHost,
		IdleConnTimeout:       idleTimeout,
	}
}

// statusError is a non-2xx answer from the backend.
type statusError struct {
	code int
	body string
}

func (e *statusError) Error() string {
	if e.body == "" {
		return fmt.Sprintf("status %d", e.code)
	}
	return fmt.Sprintf("status %d: %s", e.code, e.body)
}

// do sends one request and returns the response body of a 2xx answer.
func (c *Client) do(ctx context.Context, op, method, path string, body any) ([]byte, error) {
	ctx, span := tracer.StartSpanWithAttrs(ctx, "rest."+strings.ToLower(method),
		tracer.StringAttr("http.method", method),
		tracer.StringAttr("http.path", path),
	)
	defer span.End()

	data, err := c.execute(ctx, method, path, body)
	if err != nil {
		err = c.classify(op, method, path, err)
		tracer.RecordError(span, err)
		return nil, err
	}
	tracer.SetOK(span)
	return data, nil
}

func (c *Client) execute(ctx context.Context, method, path string, body any) ([]byte, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}
	call := func() ([]byte, error) { return c.roundTrip(ctx, method, path, body) }
	if c.breaker == nil {
		return call()
	}
	return c.breaker.Execute(call)
}

func (c *Client) roundTrip(ctx context.Context, method, path string, body any) ([]byte, error) {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg := strings.TrimSpace(string(data))
		if len(msg) > maxErrorBody {
			msg = msg[:maxErrorBody]
		}
		return nil, &statusError{code: resp.StatusCode, body: msg}
	}
	c.logger.Debug("backend request", "method", method, "path", path, "status", resp.StatusCode)
	return data, nil
}

// classify maps a transport or status failure onto the domain errors.
func (c *Client) classify(op, method, path string, err error) error {
	detail := method + " " + path
	var se *statusError
	switch {
	case errors.As(err, &se):
		detail = fmt.Sprintf("%s: %s", detail, se.Error())
		wrapped := domain.ErrRestFailure
		switch {
		case se.code == http.StatusNotFound:
			wrapped = fmt.Errorf("%w: %w", domain.ErrNotFound, domain.ErrRestFailure)
		case se.code == http.StatusBadRequest || se.code == http.StatusUnprocessableEntity:
			wrapped = fmt.Errorf("%w: %w", domain.ErrInvalidInput, domain.ErrRestFailure)
		case se.code == http.StatusTooManyRequests:
			wrapped = fmt.Errorf("%w: %w", domain.ErrRateLimit, domain.ErrRestFailure)
		}
		c.logger.Warn("backend request failed", "op", op, "method", method, "path", path, "status", se.code)
		return domain.NewDomainError(op, wrapped, detail)
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		return domain.NewDomainError(op, fmt.Errorf("%w: %w", domain.ErrBackendUnavailable, domain.ErrRestFailure),
			detail+": circuit open")
	case errors.Is(err, context.DeadlineExceeded):
		return domain.NewDomainError(op, fmt.Errorf("%w: %w", domain.ErrTimeout, domain.ErrRestFailure), detail)
	case errors.Is(err, context.Canceled):
		return domain.NewDomainError(op, err, detail)
	default:
		c.logger.Warn("backend unreachable", "op", op, "method", method, "path", path, "error", err)
		return domain.NewDomainError(op, fmt.Errorf("%w: %w", domain.ErrBackendUnavailable, domain.ErrRestFailure),
			fmt.Sprintf("%s: %v", detail, err))
	}
}

func decode[T any](op string, data []byte) (T, error) {
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		return v, domain.NewDomainError(op, domain.ErrRestFailure, "decode response: "+err.Error())
	}
	return v, nil
}

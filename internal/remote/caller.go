// Package remote wraps HTTP calls to the scoring backends with a
// per-backend rate limiter and a retry policy. Every backend client owns
// its own Caller so spacing on one backend never delays another.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

const (
	DefaultMaxAttempts          = 4
	DefaultInitialBackoff       = 500 * time.Millisecond
	DefaultMaxBackoff           = 30 * time.Second
	DefaultTimeoutBackoffFactor = 3.0
	DefaultRequestTimeout       = 45 * time.Second

	maxErrorBodyBytes = 512
)

// BackendError is a non-2xx response from a backend. Retryability is a
// property of the status code, not of the caller.
type BackendError struct {
	Backend string
	Status  int
	Body    string
}

func (e *BackendError) Error() string {
	return fmt.Sprintf("%s backend status %d: %s", e.Backend, e.Status, e.Body)
}

// Retryable reports whether the status signals a transient condition.
func (e *BackendError) Retryable() bool {
	switch e.Status {
	case http.StatusTooManyRequests,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	default:
		return false
	}
}

// TimeoutClass reports whether the failure means the backend needs more
// processing time rather than just spacing. These back off harder.
func (e *BackendError) TimeoutClass() bool {
	return e.Status == http.StatusGatewayTimeout
}

type Policy struct {
	MaxAttempts          int
	InitialBackoff       time.Duration
	MaxBackoff           time.Duration
	TimeoutBackoffFactor float64
	RequestTimeout       time.Duration
}

func (p Policy) normalized() Policy {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = DefaultMaxAttempts
	}
	if p.InitialBackoff <= 0 {
		p.InitialBackoff = DefaultInitialBackoff
	}
	if p.MaxBackoff <= 0 {
		p.MaxBackoff = DefaultMaxBackoff
	}
	if p.TimeoutBackoffFactor < 1 {
		p.TimeoutBackoffFactor = DefaultTimeoutBackoffFactor
	}
	if p.RequestTimeout <= 0 {
		p.RequestTimeout = DefaultRequestTimeout
	}
	return p
}

// Caller issues JSON requests to one backend with spacing and retries.
type Caller struct {
	name    string
	client  *http.Client
	limiter *rate.Limiter
	policy  Policy
	headers map[string]string
	logger  zerolog.Logger
}

func NewCaller(name string, minSpacing time.Duration, policy Policy, logger zerolog.Logger) *Caller {
	limit := rate.Inf
	if minSpacing > 0 {
		limit = rate.Every(minSpacing)
	}
	return &Caller{
		name:    name,
		client:  &http.Client{},
		limiter: rate.NewLimiter(limit, 1),
		policy:  policy.normalized(),
		headers: map[string]string{},
		logger:  logger.With().Str("backend", name).Logger(),
	}
}

// SetHeader attaches a header to every request, e.g. an Authorization
// bearer token.
func (c *Caller) SetHeader(key, value string) {
	if c == nil || strings.TrimSpace(key) == "" {
		return
	}
	c.headers[key] = value
}

func (c *Caller) PostJSON(ctx context.Context, url string, payload any, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s request: %w", c.name, err)
	}
	return c.do(ctx, http.MethodPost, url, body, out)
}

func (c *Caller) GetJSON(ctx context.Context, url string, out any) error {
	return c.do(ctx, http.MethodGet, url, nil, out)
}

func (c *Caller) do(ctx context.Context, method, url string, body []byte, out any) error {
	if c == nil {
		return fmt.Errorf("remote caller is not initialized")
	}

	var lastErr error
	for attempt := 1; attempt <= c.policy.MaxAttempts; attempt++ {
		if err := c.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("wait for %s rate limiter: %w", c.name, err)
		}

		err := c.doOnce(ctx, method, url, body, out)
		if err == nil {
			return nil
		}
		lastErr = err

		if ctx.Err() != nil {
			return fmt.Errorf("%s request cancelled: %w", c.name, ctx.Err())
		}

		retryable, timeoutClass := classify(err)
		if !retryable || attempt == c.policy.MaxAttempts {
			return err
		}

		delay := c.backoffDelay(attempt, timeoutClass)
		c.logger.Warn().
			Err(err).
			Int("attempt", attempt).
			Dur("backoff", delay).
			Bool("timeout_class", timeoutClass).
			Msg("transient backend failure, retrying")

		select {
		case <-ctx.Done():
			return fmt.Errorf("%s request cancelled during backoff: %w", c.name, ctx.Err())
		case <-time.After(delay):
		}
	}
	return lastErr
}

func (c *Caller) doOnce(ctx context.Context, method, url string, body []byte, out any) error {
	requestCtx, cancel := context.WithTimeout(ctx, c.policy.RequestTimeout)
	defer cancel()

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(requestCtx, method, url, reader)
	if err != nil {
		return fmt.Errorf("build %s request: %w", c.name, err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for key, value := range c.headers {
		req.Header.Set(key, value)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("%s request failed: %w", c.name, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read %s response: %w", c.name, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &BackendError{
			Backend: c.name,
			Status:  resp.StatusCode,
			Body:    truncate(strings.TrimSpace(string(respBody)), maxErrorBodyBytes),
		}
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("decode %s response: %w", c.name, err)
	}
	return nil
}

func (c *Caller) backoffDelay(attempt int, timeoutClass bool) time.Duration {
	delay := c.policy.InitialBackoff
	for i := 1; i < attempt; i++ {
		delay *= 2
	}
	if timeoutClass {
		delay = time.Duration(float64(delay) * c.policy.TimeoutBackoffFactor)
	}
	if delay > c.policy.MaxBackoff {
		delay = c.policy.MaxBackoff
	}
	return delay
}

// classify splits failures into retryable/terminal, and flags the
// timeout class that warrants a harsher backoff.
func classify(err error) (retryable, timeoutClass bool) {
	var backendErr *BackendError
	if errors.As(err, &backendErr) {
		return backendErr.Retryable(), backendErr.TimeoutClass()
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true, true
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true, true
	}
	return false, false
}

func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	return s[:limit]
}

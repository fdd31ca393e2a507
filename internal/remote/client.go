package remote

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const (
	// DefaultMaxRetries is the attempt count when none is configured.
	DefaultMaxRetries = 3
	// DefaultTimeout bounds a single attempt.
	DefaultTimeout = 30 * time.Second
	// DefaultBaseDelay is the linear backoff unit.
	DefaultBaseDelay = time.Second

	maxResponseBytes = 10 << 20
)

// Doer is the subset of *http.Client the client needs.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Config holds the endpoint and retry policy.
type Config struct {
	URL        string
	MaxRetries int
	Timeout    time.Duration
	BaseDelay  time.Duration
}

func (c Config) withDefaults() Config {
	if c.MaxRetries <= 0 {
		c.MaxRetries = DefaultMaxRetries
	}
	if c.Timeout <= 0 {
		c.Timeout = DefaultTimeout
	}
	if c.BaseDelay <= 0 {
		c.BaseDelay = DefaultBaseDelay
	}
	return c
}

// Client executes actions against the store with retry.
type Client struct {
	http     Doer
	now      func() time.Time
	sleep    func(ctx context.Context, d time.Duration) error
	attempts metric.Int64Counter
	failures metric.Int64Counter
	cfg      Config
}

// Option customizes a Client.
type Option func(*Client)

// WithHTTPClient replaces the default *http.Client.
func WithHTTPClient(d Doer) Option {
	return func(c *Client) { c.http = d }
}

// WithClock replaces time.Now for envelope timestamps.
func WithClock(now func() time.Time) Option {
	return func(c *Client) { c.now = now }
}

// WithSleep replaces the backoff sleep. Tests use it to record delays.
func WithSleep(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(c *Client) { c.sleep = sleep }
}

// NewClient creates a store client.
func NewClient(cfg Config, opts ...Option) *Client {
	cfg = cfg.withDefaults()
	meter := otel.Meter("github.com/thebtf/supportdesk/internal/remote")
	attempts, _ := meter.Int64Counter("supportdesk.remote.attempts",
		metric.WithDescription("Remote store request attempts"))
	failures, _ := meter.Int64Counter("supportdesk.remote.failures",
		metric.WithDescription("Remote store calls that exhausted retries or were rejected"))

	c := &Client{
		cfg:      cfg,
		http:     &http.Client{},
		now:      time.Now,
		sleep:    sleepContext,
		attempts: attempts,
		failures: failures,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Config returns the effective configuration.
func (c *Client) Config() Config { return c.cfg }

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Execute sends action with payload and decodes the response data into T.
//
// The payload is encoded once; every retry resends identical bytes so
// caller-assigned ids stay stable. Transport and protocol failures are
// retried up to MaxRetries attempts with a delay of attempt*BaseDelay
// between them. An application failure (success=false) returns at once.
func Execute[T any](ctx context.Context, c *Client, action Action, payload any) Result[T] {
	body, err := json.Marshal(request{
		Action:    action,
		Data:      payload,
		Timestamp: c.now().UTC().Format(time.RFC3339Nano),
	})
	if err != nil {
		return failed[T](&ProtocolError{Action: action, Err: fmt.Errorf("encode request: %w", err)}, 0)
	}

	actionAttr := metric.WithAttributes(attribute.String("action", string(action)))
	var lastErr error
	attempt := 0
	for attempt < c.cfg.MaxRetries {
		attempt++
		c.attempts.Add(ctx, 1, actionAttr)

		res, err := executeOnce[T](ctx, c, action, body)
		if err == nil {
			res.Attempts = attempt
			return res
		}
		lastErr = err

		if !IsRetryable(err) || ctx.Err() != nil {
			break
		}
		if attempt >= c.cfg.MaxRetries {
			break
		}

		delay := time.Duration(attempt) * c.cfg.BaseDelay
		log.Warn().
			Err(err).
			Str("action", string(action)).
			Int("attempt", attempt).
			Dur("retryIn", delay).
			Msg("Remote call failed, retrying")
		if err := c.sleep(ctx, delay); err != nil {
			lastErr = &TransportError{Action: action, Err: err}
			break
		}
	}

	c.failures.Add(ctx, 1, actionAttr)
	var appErr *ApplicationError
	if !errors.As(lastErr, &appErr) {
		log.Error().
			Err(lastErr).
			Str("action", string(action)).
			Int("attempts", attempt).
			Msg("Remote call failed")
	}
	return failed[T](lastErr, attempt)
}

func executeOnce[T any](ctx context.Context, c *Client, action Action, body []byte) (Result[T], error) {
	attemptCtx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(attemptCtx, http.MethodPost, c.cfg.URL, bytes.NewReader(body))
	if err != nil {
		return Result[T]{}, &ProtocolError{Action: action, Err: fmt.Errorf("build request: %w", err)}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return Result[T]{}, &TransportError{Action: action, Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return Result[T]{}, &TransportError{Action: action, Err: fmt.Errorf("read response: %w", err)}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return Result[T]{}, &ProtocolError{
			Action:     action,
			StatusCode: resp.StatusCode,
			Err:        fmt.Errorf("unexpected status %s", resp.Status),
		}
	}

	var env response
	if err := json.Unmarshal(raw, &env); err != nil {
		return Result[T]{}, &ProtocolError{Action: action, Err: fmt.Errorf("decode envelope: %w", err)}
	}
	if env.Success == nil {
		return Result[T]{}, &ProtocolError{Action: action, Err: errors.New("response missing success flag")}
	}
	if !*env.Success {
		msg := env.Message
		if msg == "" {
			msg = "request rejected"
		}
		return Result[T]{}, &ApplicationError{Action: action, Message: msg}
	}

	res := Result[T]{OK: true, Message: env.Message}
	if _, skip := any(&res.Data).(*Empty); skip || len(env.Data) == 0 || string(env.Data) == "null" {
		return res, nil
	}
	if err := json.Unmarshal(env.Data, &res.Data); err != nil {
		return Result[T]{}, &ProtocolError{Action: action, Err: fmt.Errorf("decode data: %w", err)}
	}
	return res, nil
}

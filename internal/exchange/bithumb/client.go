package bithumb

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"github.com/suhyunle/coin-trader/internal/domain"
)

// ClientConfig holds connection settings for the REST client.
type ClientConfig struct {
	BaseURL           string
	AccessKey         string
	SecretKey         string
	SecretRaw         bool
	Timeout           time.Duration
	MaxRetries        int
	RequestsPerSecond float64
	// RetryBase is the first backoff delay; each retry doubles it.
	RetryBase time.Duration
}

// Client is the REST client for the Bithumb v1 API. Public calls are
// unsigned; private calls carry a fresh JWT per attempt.
type Client struct {
	baseURL    string
	httpClient *http.Client
	auth       *Authenticator
	limiter    *rate.Limiter
	maxRetries int
	retryBase  time.Duration
	logger     *slog.Logger

	shared      domain.RateLimiter
	sharedLimit int
}

// NewClient creates a REST client. A nil logger falls back to slog.Default.
func NewClient(cfg ClientConfig, logger *slog.Logger) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultRestURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.RetryBase <= 0 {
		cfg.RetryBase = time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	var auth *Authenticator
	if cfg.AccessKey != "" && cfg.SecretKey != "" {
		auth = NewAuthenticator(cfg.AccessKey, cfg.SecretKey, cfg.SecretRaw)
	}
	limit := rate.Inf
	burst := 1
	if cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RequestsPerSecond)
		burst = max(1, int(cfg.RequestsPerSecond))
	}
	return &Client{
		baseURL:    cfg.BaseURL,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		auth:       auth,
		limiter:    rate.NewLimiter(limit, burst),
		maxRetries: cfg.MaxRetries,
		retryBase:  cfg.RetryBase,
		logger:     logger.With(slog.String("component", "bithumb")),
	}
}

// UseSharedLimiter adds a process-external limiter, such as the Redis
// sliding window, consulted before every request.
func (c *Client) UseSharedLimiter(rl domain.RateLimiter, perSecond int) {
	c.shared = rl
	c.sharedLimit = perSecond
}

// HasCredentials reports whether private endpoints can be called.
func (c *Client) HasCredentials() bool {
	return c.auth != nil
}

// getPublic performs an unsigned GET and decodes the JSON body into out.
func (c *Client) getPublic(ctx context.Context, path string, params []param, out any) error {
	return c.do(ctx, http.MethodGet, path, params, false, out)
}

// doPrivate performs a signed request. GET and DELETE params go to the
// query string with sorted keys; POST params become a JSON body in order.
func (c *Client) doPrivate(ctx context.Context, method, path string, params []param, out any) error {
	if c.auth == nil {
		return domain.ErrMissingCredentials
	}
	return c.do(ctx, method, path, params, true, out)
}

func (c *Client) do(ctx context.Context, method, path string, params []param, signed bool, out any) error {
	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			delay := c.retryBase << (attempt - 1)
			c.logger.WarnContext(ctx, "retrying request",
				slog.String("path", path),
				slog.Int("attempt", attempt),
				slog.Duration("delay", delay),
				slog.String("error", lastErr.Error()),
			)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
		}

		body, err := c.attempt(ctx, method, path, params, signed)
		if err == nil {
			if out == nil {
				return nil
			}
			if err := json.Unmarshal(body, out); err != nil {
				return fmt.Errorf("bithumb: decode %s: %w", path, err)
			}
			return nil
		}
		if !retryable(err) {
			return err
		}
		lastErr = err
	}
	return fmt.Errorf("bithumb: %s %s: retries exhausted: %w", method, path, lastErr)
}

func (c *Client) attempt(ctx context.Context, method, path string, params []param, signed bool) ([]byte, error) {
	if err := c.wait(ctx); err != nil {
		return nil, err
	}

	var (
		bodyReader io.Reader
		hashInput  string
		target     = c.baseURL + path
	)
	if method == http.MethodPost {
		hashInput = joinParams(params, false)
		if len(params) > 0 {
			payload, err := orderedJSON(params)
			if err != nil {
				return nil, fmt.Errorf("bithumb: marshal body: %w", err)
			}
			bodyReader = bytes.NewReader(payload)
		}
	} else {
		hashInput = joinParams(params, true)
		if hashInput != "" {
			target += "?" + hashInput
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, target, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("bithumb: create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if bodyReader != nil {
		req.Header.Set("Content-Type", "application/json; charset=utf-8")
	}
	if signed {
		token, err := c.auth.Token(hashInput)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &transportError{err: err}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &transportError{err: err}
	}
	if err := checkHTTPStatus(resp.StatusCode, respBody); err != nil {
		return nil, fmt.Errorf("bithumb: %s %s: %w", method, path, err)
	}
	return respBody, nil
}

func (c *Client) wait(ctx context.Context) error {
	if c.shared != nil && c.sharedLimit > 0 {
		if err := c.shared.Wait(ctx, "bithumb:rest", c.sharedLimit, time.Second); err != nil {
			return fmt.Errorf("bithumb: shared limiter: %w", err)
		}
	}
	return c.limiter.Wait(ctx)
}

// orderedJSON encodes params as a flat JSON object preserving key order.
func orderedJSON(ps []param) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, p := range ps {
		if i > 0 {
			buf.WriteByte(',')
		}
		k, err := json.Marshal(p.key)
		if err != nil {
			return nil, err
		}
		v, err := json.Marshal(p.value)
		if err != nil {
			return nil, err
		}
		buf.Write(k)
		buf.WriteByte(':')
		buf.Write(v)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// transportError marks network-level failures, which are always retried.
type transportError struct {
	err error
}

func (e *transportError) Error() string { return "bithumb: transport: " + e.err.Error() }
func (e *transportError) Unwrap() error { return e.err }

// statusError is a non-2xx response that is not mapped to a domain error.
type statusError struct {
	code int
	name string
	body string
}

func (e *statusError) Error() string {
	if e.name != "" {
		return fmt.Sprintf("HTTP %d %s: %s", e.code, e.name, e.body)
	}
	return fmt.Sprintf("HTTP %d: %s", e.code, e.body)
}

// retryable reports whether another attempt may succeed: rate limiting,
// server errors, timeouts and broken connections.
func retryable(err error) bool {
	if errors.Is(err, domain.ErrRateLimited) {
		return true
	}
	var se *statusError
	if errors.As(err, &se) {
		return se.code >= 500
	}
	var te *transportError
	if errors.As(err, &te) {
		return !errors.Is(err, context.Canceled)
	}
	return false
}

// checkHTTPStatus maps non-2xx status codes to domain errors. The exchange
// reports failures as {"error":{"name","message"}}.
func checkHTTPStatus(statusCode int, body []byte) error {
	if statusCode >= 200 && statusCode < 300 {
		return nil
	}

	msg := string(body)
	var envelope apiErrorBody
	name := ""
	if json.Unmarshal(body, &envelope) == nil && envelope.Error != nil {
		name = envelope.Error.Name
		msg = envelope.Error.Message
	}

	switch statusCode {
	case http.StatusNotFound:
		return fmt.Errorf("%w: %s", domain.ErrNotFound, msg)
	case http.StatusUnauthorized, http.StatusForbidden:
		return fmt.Errorf("%w: %s %s", domain.ErrUnauthorized, name, msg)
	case http.StatusTooManyRequests:
		return fmt.Errorf("%w: %s", domain.ErrRateLimited, msg)
	default:
		return &statusError{code: statusCode, name: name, body: msg}
	}
}

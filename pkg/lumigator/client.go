// Package lumigator is a REST client for the Lumigator backend API.
//
// The client covers the read side the tracker polls (jobs, experiments,
// workflows, datasets and their logs) plus the creation endpoints used to
// launch annotation jobs and experiments.
package lumigator

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// DefaultBaseURL is the API root of a local backend.
const DefaultBaseURL = "http://localhost:8000/api/v1"

// DefaultTimeout bounds a single request.
const DefaultTimeout = 30 * time.Second

// RequestIDHeader carries a per-request correlation id.
const RequestIDHeader = "X-Request-ID"

// maxErrorBody bounds how much of an error body is kept in APIError.Message.
const maxErrorBody = 4 << 10

// Config configures a Client.
type Config struct {
	// BaseURL is the API root including the version prefix.
	BaseURL string

	// Timeout bounds each request. Zero means DefaultTimeout.
	Timeout time.Duration

	// RateLimit caps requests per second. Zero disables limiting.
	RateLimit float64

	// HTTPClient overrides the transport. Timeout is ignored when set.
	HTTPClient *http.Client

	// UserAgent is sent with every request when non-empty.
	UserAgent string

	// Logger receives request-level debug logs. Nil disables them.
	Logger *zap.Logger
}

// Client talks to one backend instance. It is safe for concurrent use.
type Client struct {
	httpclient *http.Client
	api        string
	limiter    *rate.Limiter
	userAgent  string
	logger     *zap.Logger
}

// NewClient validates cfg and returns a Client.
func NewClient(cfg Config) (*Client, error) {
	base := strings.TrimSpace(cfg.BaseURL)
	if base == "" {
		base = DefaultBaseURL
	}
	u, err := url.Parse(base)
	if err != nil {
		return nil, fmt.Errorf("invalid base url %q: %w", base, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("invalid base url %q: scheme must be http or https", base)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("invalid base url %q: missing host", base)
	}
	if cfg.RateLimit < 0 {
		return nil, fmt.Errorf("invalid rate limit %v: must be >= 0", cfg.RateLimit)
	}

	hc := cfg.HTTPClient
	if hc == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = DefaultTimeout
		}
		hc = &http.Client{Timeout: timeout}
	}

	var limiter *rate.Limiter
	if cfg.RateLimit > 0 {
		burst := int(cfg.RateLimit)
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), burst)
	}

	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Client{
		httpclient: hc,
		api:        strings.TrimSuffix(base, "/"),
		limiter:    limiter,
		userAgent:  cfg.UserAgent,
		logger:     logger,
	}, nil
}

// BaseURL returns the API root the client was built with.
func (c *Client) BaseURL() string {
	return c.api
}

func (c *Client) apipath(path ...string) string {
	parts := make([]string, 0, len(path)+1)
	parts = append(parts, c.api)
	for _, p := range path {
		parts = append(parts, url.PathEscape(strings.Trim(p, "/")))
	}
	return strings.Join(parts, "/")
}

// call performs one request and decodes a 2xx JSON body into out.
// out may be nil when the response body is irrelevant.
func (c *Client) call(ctx context.Context, op, method, target string, body, out any) error {
	apiErr := func(code int, err error, msg string) error {
		return &APIError{Op: op, Method: method, Path: strings.TrimPrefix(target, c.api), StatusCode: code, Message: msg, Err: err}
	}

	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return apiErr(0, err, "")
		}
	}

	var reader io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return apiErr(0, fmt.Errorf("encode request: %w", err), "")
		}
		reader = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return apiErr(0, err, "")
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}
	requestID := uuid.NewString()
	req.Header.Set(RequestIDHeader, requestID)

	started := time.Now()
	resp, err := c.httpclient.Do(req)
	if err != nil {
		return apiErr(0, err, "")
	}
	defer resp.Body.Close()

	c.logger.Debug("api request",
		zap.String("op", op),
		zap.String("method", method),
		zap.String("url", target),
		zap.Int("status", resp.StatusCode),
		zap.String("request_id", requestID),
		zap.Duration("elapsed", time.Since(started)),
	)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return apiErr(resp.StatusCode, sentinelFor(resp.StatusCode), errorDetail(raw))
	}

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return apiErr(resp.StatusCode, fmt.Errorf("%w: %v", ErrMalformedResponse, err), "")
	}
	return nil
}

// errorDetail extracts the backend's message from an error body.
// FastAPI sends {"detail": "..."}; validation errors send a list.
func errorDetail(raw []byte) string {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return ""
	}
	var payload struct {
		Detail json.RawMessage `json:"detail"`
	}
	if err := json.Unmarshal(raw, &payload); err == nil && len(payload.Detail) > 0 {
		var s string
		if err := json.Unmarshal(payload.Detail, &s); err == nil {
			return s
		}
		return string(payload.Detail)
	}
	return string(raw)
}

// Package transport implements the authenticated HTTP request pipeline that
// every GLPI call funnels through: retry/backoff, per-path timeouts,
// correlation ids, and circuit breaking.
package transport

import (
	"context"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	svcerrors "github.com/jonathanmoletta17/glpi-dashboard-2025-sub000/infrastructure/errors"
	"github.com/jonathanmoletta17/glpi-dashboard-2025-sub000/infrastructure/logging"
	"github.com/jonathanmoletta17/glpi-dashboard-2025-sub000/infrastructure/metrics"
	"github.com/jonathanmoletta17/glpi-dashboard-2025-sub000/infrastructure/ratelimit"
	"github.com/jonathanmoletta17/glpi-dashboard-2025-sub000/infrastructure/resilience"
)

// AuthProvider supplies the headers that authenticate a request (Session-Token,
// App-Token) and allows the transport to invalidate a session on 401/403.
// Implemented by internal/glpi/session.Manager.
type AuthProvider interface {
	Headers(ctx context.Context) (map[string]string, error)
	Invalidate()
}

// Response is the final HTTP response regardless of status code; callers
// inspect OK()/StatusCode themselves. Request() returns an error for invalid
// inputs, a failed auth-header lookup, a non-retryable failure (such as an
// open circuit breaker or an unreadable body), or once retries are exhausted.
type Response struct {
	StatusCode int
	Body       []byte
	Header     http.Header
}

// OK reports whether the response carries a 2xx status.
func (r *Response) OK() bool {
	return r != nil && r.StatusCode >= 200 && r.StatusCode < 300
}

const (
	FastTimeout    = 5 * time.Second
	SlowTimeout    = 20 * time.Second
	DefaultTimeout = 12 * time.Second

	MaxRetries = 3

	// SlowResponseThreshold marks a call for a "slow response" observation.
	SlowResponseThreshold = 3 * time.Second
)

// Config configures a Client.
type Config struct {
	BaseURL      string
	AppUserAgent string

	FastTimeout    time.Duration
	SlowTimeout    time.Duration
	DefaultTimeout time.Duration
	MaxRetries     int

	HTTPClient *http.Client

	// RateLimiter is optional; nil disables outbound rate limiting.
	RateLimiter *ratelimit.RateLimiter

	// Sleep is overridable for tests; it must respect ctx cancellation.
	Sleep func(ctx context.Context, d time.Duration)
}

// DefaultConfig returns the documented timeout/retry defaults.
func DefaultConfig(baseURL string) Config {
	return Config{
		BaseURL:        strings.TrimRight(baseURL, "/"),
		FastTimeout:    FastTimeout,
		SlowTimeout:    SlowTimeout,
		DefaultTimeout: DefaultTimeout,
		MaxRetries:     MaxRetries,
	}
}

// Client issues authenticated requests against the GLPI REST API.
type Client struct {
	cfg     Config
	auth    AuthProvider
	logger  *logging.Logger
	metrics *metrics.Metrics
	service string
	http    *http.Client

	breakersMu sync.Mutex
	breakers   map[string]*resilience.CircuitBreaker
}

// New builds a Client. auth may be nil for anonymous-only usage (e.g. the
// status probe's unauthenticated ping).
func New(cfg Config, auth AuthProvider, logger *logging.Logger, m *metrics.Metrics, service string) *Client {
	if cfg.FastTimeout <= 0 {
		cfg.FastTimeout = FastTimeout
	}
	if cfg.SlowTimeout <= 0 {
		cfg.SlowTimeout = SlowTimeout
	}
	if cfg.DefaultTimeout <= 0 {
		cfg.DefaultTimeout = DefaultTimeout
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = MaxRetries
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{}
	}
	if cfg.Sleep == nil {
		cfg.Sleep = sleepCtx
	}
	return &Client{
		cfg:      cfg,
		auth:     auth,
		logger:   logger,
		metrics:  m,
		service:  service,
		http:     cfg.HTTPClient,
		breakers: make(map[string]*resilience.CircuitBreaker),
	}
}

func sleepCtx(ctx context.Context, d time.Duration) {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}

// Request issues an authenticated request: headers come from the configured
// AuthProvider, then caller-supplied headers are merged in last (so a caller
// can override, e.g. to force a different Content-Type).
func (c *Client) Request(ctx context.Context, method, path string, params url.Values, headers map[string]string, correlationID string) (*Response, error) {
	if c.auth == nil {
		return nil, svcerrors.InvalidInput("auth", "transport has no AuthProvider configured")
	}
	authHeaders, err := c.auth.Headers(ctx)
	if err != nil {
		return nil, err
	}
	merged := mergeHeaders(authHeaders, headers)
	return c.execute(ctx, method, path, params, merged, correlationID, true)
}

// RequestAnonymous issues a request without consulting the AuthProvider;
// used for initSession itself (which carries its own Authorization header)
// and for the unauthenticated status-probe ping.
func (c *Client) RequestAnonymous(ctx context.Context, method, path string, params url.Values, headers map[string]string, correlationID string) (*Response, error) {
	return c.execute(ctx, method, path, params, headers, correlationID, false)
}

func mergeHeaders(base map[string]string, extra map[string]string) map[string]string {
	out := make(map[string]string, len(base)+len(extra))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range extra {
		out[k] = v
	}
	return out
}

func (c *Client) execute(ctx context.Context, method, path string, params url.Values, headers map[string]string, correlationID string, authAware bool) (*Response, error) {
	if strings.TrimSpace(method) == "" {
		return nil, svcerrors.InvalidInput("method", "must not be empty")
	}
	if strings.TrimSpace(path) == "" {
		return nil, svcerrors.InvalidInput("url", "must not be empty")
	}
	method = strings.ToUpper(method)
	switch method {
	case http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodPatch:
	default:
		return nil, svcerrors.InvalidInput("method", "unsupported HTTP method "+method)
	}

	reqURL := c.buildURL(path, params)
	timeout := c.selectTimeout(path)
	breaker := c.breakerFor(path)

	var (
		lastResp *Response
		lastErr  error
		authUsed bool
		attempt  int
	)

	for {
		start := time.Now()
		var resp *Response
		cbErr := breaker.Execute(ctx, func() error {
			var doErr error
			resp, doErr = c.doOnce(ctx, method, reqURL, headers, timeout)
			if doErr != nil {
				return doErr
			}
			if resp.StatusCode >= 500 {
				return svcerrors.HTTPError(path, resp.StatusCode, truncate(resp.Body, 256))
			}
			return nil
		})
		duration := time.Since(start)
		c.observe(ctx, method, path, attempt, resp, cbErr, duration, correlationID)

		if cbErr == nil {
			if authAware && (resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden) && !authUsed {
				authUsed = true
				c.auth.Invalidate()
				c.cfg.Sleep(ctx, authBackoff(attempt))
				// refresh headers after invalidation before retrying; the fresh
				// auth headers replace the stale ones held in the merged map
				if fresh, err := c.auth.Headers(ctx); err == nil {
					headers = mergeHeaders(callerOnly(headers), fresh)
				}
				continue
			}
			return resp, nil
		}

		lastResp, lastErr = resp, cbErr
		if !isRetryable(cbErr) {
			return lastResp, lastErr
		}
		if attempt >= c.cfg.MaxRetries {
			break
		}
		c.cfg.Sleep(ctx, standardBackoff(attempt))
		attempt++
	}

	if lastErr == nil {
		lastErr = svcerrors.UpstreamError(path, fmt.Errorf("retries exhausted"))
	}
	return lastResp, lastErr
}

// callerOnly strips nothing today (headers are already merged); kept as a
// named seam so a future caller-vs-auth header split doesn't need to touch
// the retry loop. Currently a no-op passthrough.
func callerOnly(h map[string]string) map[string]string { return h }

func truncate(b []byte, n int) string {
	s := string(b)
	if len(s) > n {
		return s[:n]
	}
	return s
}

func isRetryable(err error) bool {
	if err == nil {
		return false
	}
	if se := svcerrors.GetServiceError(err); se != nil {
		switch se.Code {
		case svcerrors.ErrCodeConnectionError, svcerrors.ErrCodeTimeout, svcerrors.ErrCodeUpstreamError:
			return true
		}
	}
	return false
}

func standardBackoff(attempt int) time.Duration {
	secs := math.Pow(2, float64(attempt+1))
	if secs > 30 {
		secs = 30
	}
	return time.Duration(secs * float64(time.Second))
}

func authBackoff(attempt int) time.Duration {
	secs := math.Pow(2, float64(attempt+1))
	if secs > 10 {
		secs = 10
	}
	return time.Duration(secs * float64(time.Second))
}

func (c *Client) doOnce(ctx context.Context, method, reqURL string, headers map[string]string, timeout time.Duration) (*Response, error) {
	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, method, reqURL, nil)
	if err != nil {
		return nil, svcerrors.InvalidInput("url", err.Error())
	}
	req.Header.Set("Content-Type", "application/json")
	if c.cfg.AppUserAgent != "" {
		req.Header.Set("User-Agent", c.cfg.AppUserAgent)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	if c.cfg.RateLimiter != nil {
		if err := c.cfg.RateLimiter.Wait(reqCtx); err != nil {
			return nil, svcerrors.RateLimitExceeded(0, "transport")
		}
	}

	httpResp, err := c.http.Do(req)
	if err != nil {
		if reqCtx.Err() != nil {
			return nil, svcerrors.Timeout(reqURL)
		}
		return nil, svcerrors.ConnectionError(reqURL, err)
	}
	defer httpResp.Body.Close()

	body, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, svcerrors.DecodeError(reqURL, err)
	}

	return &Response{StatusCode: httpResp.StatusCode, Body: body, Header: httpResp.Header}, nil
}

func (c *Client) buildURL(path string, params url.Values) string {
	full := c.cfg.BaseURL + "/" + strings.TrimLeft(path, "/")
	if len(params) > 0 {
		full += "?" + params.Encode()
	}
	return full
}

func (c *Client) selectTimeout(path string) time.Duration {
	trimmed := strings.Trim(path, "/")
	lower := strings.ToLower(trimmed)
	switch trimmed {
	case "initSession", "killSession", "status":
		return c.cfg.FastTimeout
	}
	if strings.Contains(lower, "search") || strings.Contains(lower, "report") || strings.Contains(lower, "listsearchoptions") {
		return c.cfg.SlowTimeout
	}
	return c.cfg.DefaultTimeout
}

func (c *Client) breakerFor(path string) *resilience.CircuitBreaker {
	key := breakerKey(path)
	c.breakersMu.Lock()
	defer c.breakersMu.Unlock()
	if b, ok := c.breakers[key]; ok {
		return b
	}
	var cfg resilience.Config
	if c.logger != nil {
		cfg = resilience.DefaultServiceCBConfig(c.logger)
	} else {
		cfg = resilience.DefaultConfig()
	}
	b := resilience.New(cfg)
	c.breakers[key] = b
	return b
}

func breakerKey(path string) string {
	trimmed := strings.Trim(path, "/")
	parts := strings.SplitN(trimmed, "/", 2)
	return parts[0]
}

func (c *Client) observe(ctx context.Context, method, path string, attempt int, resp *Response, err error, duration time.Duration, correlationID string) {
	status := "error"
	if resp != nil {
		status = fmt.Sprintf("%d", resp.StatusCode)
	}
	if c.metrics != nil {
		c.metrics.RecordUpstreamRequest(c.service, path, status, duration)
		if attempt > 0 {
			c.metrics.RecordRetry(c.service, path)
		}
	}
	if c.logger == nil {
		return
	}
	fields := map[string]interface{}{
		"method":         method,
		"path":           path,
		"attempt":        attempt,
		"status":         status,
		"correlation_id": correlationID,
		"duration_ms":    duration.Milliseconds(),
	}
	if err != nil {
		c.logger.Error(ctx, "glpi upstream call failed", err, fields)
		return
	}
	if duration > SlowResponseThreshold {
		c.logger.Warn(ctx, "slow glpi response", fields)
		return
	}
	c.logger.Debug(ctx, "glpi upstream call completed", fields)
}

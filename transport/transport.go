// Package transport provides the HTTP plumbing shared by the YouTube Data and
// Analytics clients: per-host rate limiting with dynamic backoff, a per-host
// circuit breaker and API key injection, packaged as an http.RoundTripper.
package transport

import (
	"net/http"
	"strconv"
	"time"

	"github.com/rs/zerolog"
)

// Config holds transport configuration.
type Config struct {
	// Timeout for an individual HTTP request.
	Timeout time.Duration
	// UserAgent is set on requests that do not carry one.
	UserAgent string
	// APIKey, when set, is added as the "key" query parameter of every
	// request that does not already have one.
	APIKey string

	RateLimiter    RateLimiterConfig
	CircuitBreaker CircuitBreakerConfig
	Pool           PoolConfig
}

// PoolConfig configures connection pooling of the underlying http.Transport.
type PoolConfig struct {
	MaxIdleConns        int
	MaxIdleConnsPerHost int
	MaxConnsPerHost     int
	IdleConnTimeout     time.Duration
}

// DefaultConfig returns the transport defaults.
func DefaultConfig() Config {
	return Config{
		Timeout:        30 * time.Second,
		UserAgent:      "ytdash/1.0",
		RateLimiter:    DefaultRateLimiterConfig(),
		CircuitBreaker: DefaultCircuitBreakerConfig(),
		Pool: PoolConfig{
			MaxIdleConns:        20,
			MaxIdleConnsPerHost: 10,
			MaxConnsPerHost:     20,
			IdleConnTimeout:     90 * time.Second,
		},
	}
}

// RoundTripper applies rate limiting, circuit breaking and key injection in
// front of a base transport. Non-2xx responses are returned unchanged so the
// API client can decode its own error bodies.
type RoundTripper struct {
	base      http.RoundTripper
	apiKey    string
	userAgent string
	limiter   *RateLimiter
	breaker   *CircuitBreaker
	logger    zerolog.Logger
}

// NewRoundTripper wraps base (http.DefaultTransport when nil).
func NewRoundTripper(base http.RoundTripper, cfg Config, logger zerolog.Logger) *RoundTripper {
	if base == nil {
		base = http.DefaultTransport
	}
	return &RoundTripper{
		base:      base,
		apiKey:    cfg.APIKey,
		userAgent: cfg.UserAgent,
		limiter:   NewRateLimiter(cfg.RateLimiter),
		breaker:   NewCircuitBreaker(cfg.CircuitBreaker),
		logger:    logger,
	}
}

// NewClient builds an *http.Client with a pooled transport wrapped in a
// RoundTripper.
func NewClient(cfg Config, logger zerolog.Logger) *http.Client {
	base := &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		MaxIdleConns:        cfg.Pool.MaxIdleConns,
		MaxIdleConnsPerHost: cfg.Pool.MaxIdleConnsPerHost,
		MaxConnsPerHost:     cfg.Pool.MaxConnsPerHost,
		IdleConnTimeout:     cfg.Pool.IdleConnTimeout,
		ForceAttemptHTTP2:   true,
	}
	return &http.Client{
		Timeout:   cfg.Timeout,
		Transport: NewRoundTripper(base, cfg, logger),
	}
}

// Limiter exposes the rate limiter, mainly for tests.
func (t *RoundTripper) Limiter() *RateLimiter { return t.limiter }

// Breaker exposes the circuit breaker, mainly for tests.
func (t *RoundTripper) Breaker() *CircuitBreaker { return t.breaker }

// RoundTrip implements http.RoundTripper.
func (t *RoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	ctx := req.Context()
	host := req.URL.Hostname()

	if err := t.breaker.Allow(host); err != nil {
		return nil, err
	}
	if err := t.limiter.WaitForBackoff(ctx, host); err != nil {
		return nil, err
	}
	if err := t.limiter.Wait(ctx, host); err != nil {
		return nil, err
	}

	req = t.prepare(req)

	resp, err := t.base.RoundTrip(req)
	if err != nil {
		t.breaker.RecordFailure(host, err)
		return nil, err
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode == http.StatusServiceUnavailable:
		backoff := t.limiter.RecordRateLimitError(host, parseRetryAfter(resp.Header))
		t.breaker.RecordFailure(host, &StatusError{Host: host, StatusCode: resp.StatusCode})
		t.logger.Warn().
			Str("host", host).
			Int("status", resp.StatusCode).
			Dur("backoff", backoff).
			Msg("rate limited by upstream")
	case resp.StatusCode >= 500:
		t.breaker.RecordFailure(host, &StatusError{Host: host, StatusCode: resp.StatusCode})
	default:
		t.limiter.RecordSuccess(host)
		t.breaker.RecordSuccess(host)
	}
	return resp, nil
}

// prepare clones req when it needs a key or user agent added; a RoundTripper
// must not modify the caller's request.
func (t *RoundTripper) prepare(req *http.Request) *http.Request {
	needKey := t.apiKey != "" && req.URL.Query().Get("key") == ""
	needUA := t.userAgent != "" && req.Header.Get("User-Agent") == ""
	if !needKey && !needUA {
		return req
	}

	out := req.Clone(req.Context())
	if needKey {
		q := out.URL.Query()
		q.Set("key", t.apiKey)
		out.URL.RawQuery = q.Encode()
	}
	if needUA {
		out.Header.Set("User-Agent", t.userAgent)
	}
	return out
}

// parseRetryAfter reads Retry-After as seconds or an HTTP date; 0 if absent.
func parseRetryAfter(header http.Header) time.Duration {
	v := header.Get("Retry-After")
	if v == "" {
		return 0
	}
	if seconds, err := strconv.Atoi(v); err == nil {
		return time.Duration(seconds) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil {
		return time.Until(t)
	}
	return 0
}

package transport

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Hosts of the two upstream services.
const (
	DataAPIHost      = "youtube.googleapis.com"
	LegacyDataHost   = "www.googleapis.com"
	AnalyticsAPIHost = "youtubeanalytics.googleapis.com"
)

// Dynamic backoff tuning for 429/503 responses.
const (
	InitialBackoff        = 1 * time.Second
	MaxBackoff            = 60 * time.Second
	BackoffMultiplier     = 2.0
	BackoffCooldownPeriod = 5 * time.Minute
	// MinRPSMultiplier is the floor of rate reduction (0.25 = 25% of original).
	MinRPSMultiplier = 0.25
)

// RateLimiterConfig defines per-host request rates.
type RateLimiterConfig struct {
	// DataAPIRPS applies to the YouTube Data API hosts.
	DataAPIRPS float64
	// AnalyticsRPS applies to the YouTube Analytics API host.
	AnalyticsRPS float64
	// DefaultRPS applies to any other host; 0 means unlimited.
	DefaultRPS float64
	// CustomRates maps a host to its RPS, overriding the above.
	CustomRates map[string]float64
	// EnableDynamicBackoff lowers a host's rate after rate limit responses.
	EnableDynamicBackoff bool
}

// DefaultRateLimiterConfig returns rates that keep a fan-out of feed lookups
// well inside the Data API's per-user limits.
func DefaultRateLimiterConfig() RateLimiterConfig {
	return RateLimiterConfig{
		DataAPIRPS:           10,
		AnalyticsRPS:         2,
		DefaultRPS:           0,
		CustomRates:          make(map[string]float64),
		EnableDynamicBackoff: true,
	}
}

// BackoffState tracks rate limit backoff for a host.
type BackoffState struct {
	CurrentBackoff    time.Duration
	LastError         time.Time
	ConsecutiveErrors int
	OriginalRPS       float64
	// ReducedRPS is the current reduced rate (0 means using original).
	ReducedRPS float64
}

// RateLimiter manages per-host token buckets.
type RateLimiter struct {
	limiters     map[string]*rate.Limiter
	backoffState map[string]*BackoffState
	mu           sync.RWMutex
	config       RateLimiterConfig
}

// NewRateLimiter creates a rate limiter. Zero rates for the known hosts are
// replaced by the defaults.
func NewRateLimiter(cfg RateLimiterConfig) *RateLimiter {
	def := DefaultRateLimiterConfig()
	if cfg.DataAPIRPS == 0 {
		cfg.DataAPIRPS = def.DataAPIRPS
	}
	if cfg.AnalyticsRPS == 0 {
		cfg.AnalyticsRPS = def.AnalyticsRPS
	}
	if cfg.CustomRates == nil {
		cfg.CustomRates = make(map[string]float64)
	}
	return &RateLimiter{
		limiters:     make(map[string]*rate.Limiter),
		backoffState: make(map[string]*BackoffState),
		config:       cfg,
	}
}

// Wait blocks until a request to host is allowed or ctx is done.
func (rl *RateLimiter) Wait(ctx context.Context, host string) error {
	if rl == nil {
		return nil
	}
	limiter := rl.limiter(host)
	if limiter == nil {
		return nil
	}
	return limiter.Wait(ctx)
}

func (rl *RateLimiter) limiter(host string) *rate.Limiter {
	rps := rl.rps(host)
	if rps == 0 {
		return nil
	}

	rl.mu.Lock()
	defer rl.mu.Unlock()

	if limiter, ok := rl.limiters[host]; ok {
		return limiter
	}
	// Burst of 1 so concurrent feed lookups are spread evenly.
	limiter := rate.NewLimiter(rate.Limit(rps), 1)
	rl.limiters[host] = limiter
	return limiter
}

// rps returns the configured rate for host.
func (rl *RateLimiter) rps(host string) float64 {
	rl.mu.RLock()
	custom, ok := rl.config.CustomRates[host]
	rl.mu.RUnlock()
	if ok {
		return custom
	}

	switch host {
	case DataAPIHost, LegacyDataHost:
		return rl.config.DataAPIRPS
	case AnalyticsAPIHost:
		return rl.config.AnalyticsRPS
	default:
		return rl.config.DefaultRPS
	}
}

// SetCustomRate sets the rate for a specific host.
func (rl *RateLimiter) SetCustomRate(host string, rps float64) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	rl.config.CustomRates[host] = rps
	delete(rl.limiters, host)
}

// RecordRateLimitError records a 429/503 for host and returns the backoff to
// apply before the next request.
func (rl *RateLimiter) RecordRateLimitError(host string, retryAfter time.Duration) time.Duration {
	if rl == nil || !rl.config.EnableDynamicBackoff {
		if retryAfter > 0 {
			return retryAfter
		}
		return InitialBackoff
	}

	original := rl.rps(host)

	rl.mu.Lock()
	defer rl.mu.Unlock()

	state, exists := rl.backoffState[host]
	if !exists {
		state = &BackoffState{
			CurrentBackoff: InitialBackoff,
			OriginalRPS:    original,
		}
		rl.backoffState[host] = state
	}

	state.LastError = time.Now()
	state.ConsecutiveErrors++

	// 1s -> 2s -> 4s ... capped
	if state.ConsecutiveErrors > 1 {
		state.CurrentBackoff = time.Duration(float64(state.CurrentBackoff) * BackoffMultiplier)
		if state.CurrentBackoff > MaxBackoff {
			state.CurrentBackoff = MaxBackoff
		}
	}
	if retryAfter > state.CurrentBackoff {
		state.CurrentBackoff = retryAfter
	}

	rl.reduceRate(host, state)
	return state.CurrentBackoff
}

// reduceRate lowers the host's limiter. Must be called with mu held.
func (rl *RateLimiter) reduceRate(host string, state *BackoffState) {
	if state.OriginalRPS == 0 {
		return
	}
	factor := 0.75
	switch {
	case state.ConsecutiveErrors >= 3:
		factor = MinRPSMultiplier
	case state.ConsecutiveErrors == 2:
		factor = 0.5
	}
	state.ReducedRPS = state.OriginalRPS * factor
	if limiter, ok := rl.limiters[host]; ok {
		limiter.SetLimit(rate.Limit(state.ReducedRPS))
	}
}

// RecordSuccess gradually restores the host's rate after errors.
func (rl *RateLimiter) RecordSuccess(host string) {
	if rl == nil || !rl.config.EnableDynamicBackoff {
		return
	}

	rl.mu.Lock()
	defer rl.mu.Unlock()

	state, exists := rl.backoffState[host]
	if !exists {
		return
	}

	if time.Since(state.LastError) > BackoffCooldownPeriod {
		if limiter, ok := rl.limiters[host]; ok && state.ReducedRPS > 0 {
			limiter.SetLimit(rate.Limit(state.OriginalRPS))
		}
		delete(rl.backoffState, host)
		return
	}

	if state.ConsecutiveErrors > 0 {
		state.ConsecutiveErrors--
		if state.ReducedRPS > 0 && state.ConsecutiveErrors == 0 {
			recovered := state.OriginalRPS * 0.5
			if recovered > state.ReducedRPS {
				state.ReducedRPS = recovered
				if limiter, ok := rl.limiters[host]; ok {
					limiter.SetLimit(rate.Limit(recovered))
				}
			}
		}
	}
}

// BackoffFor returns a copy of the host's backoff state, or nil.
func (rl *RateLimiter) BackoffFor(host string) *BackoffState {
	if rl == nil {
		return nil
	}
	rl.mu.RLock()
	defer rl.mu.RUnlock()

	state, ok := rl.backoffState[host]
	if !ok {
		return nil
	}
	cp := *state
	return &cp
}

// WaitForBackoff waits out any active backoff window for host.
func (rl *RateLimiter) WaitForBackoff(ctx context.Context, host string) error {
	state := rl.BackoffFor(host)
	if state == nil {
		return nil
	}
	remaining := state.CurrentBackoff - time.Since(state.LastError)
	if remaining <= 0 {
		return nil
	}

	timer := time.NewTimer(remaining)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Package config manages application configuration.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// BuiltinAPIKey is the Data API key compiled into the binary with
//
//	-ldflags "-X ytdash/config.BuiltinAPIKey=..."
//
// When set it overrides every other credential source and is never shared.
var BuiltinAPIKey = ""

// FileName is the config file looked up in the working directory and in
// ~/.config/ytdash.
const FileName = "ytdash.json"

// Duration is a time.Duration that reads "30m" style strings or plain
// nanosecond numbers from JSON.
type Duration time.Duration

// UnmarshalJSON implements json.Unmarshaler.
func (d *Duration) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		v, err := time.ParseDuration(s)
		if err != nil {
			return err
		}
		*d = Duration(v)
		return nil
	}
	var n int64
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("duration must be a string or integer: %w", err)
	}
	*d = Duration(n)
	return nil
}

// MarshalJSON implements json.Marshaler.
func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

// Std returns d as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Config holds all application configuration for the dashboard.
type Config struct {
	// APIKey is the YouTube Data API key used when no built-in key exists
	// and the stored state has none.
	APIKey string `json:"api_key"`
	// OAuthClientID identifies the OAuth client the external sign-in flow
	// uses to mint analytics access tokens.
	OAuthClientID string `json:"oauth_client_id"`
	// AccessToken is an analytics OAuth access token obtained elsewhere.
	AccessToken string `json:"access_token"`

	// StatePath is the local store file (default ~/.config/ytdash/state.json)
	StatePath string `json:"state_path"`
	// StoreBackend is "json", "sqlite" or "memory" (default "json")
	StoreBackend string `json:"store_backend"`

	// Period is the default analysis window in days, 7 or 30
	Period int `json:"period"`
	// ShortFormThreshold is the longest duration counted as a short
	ShortFormThreshold Duration `json:"short_form_threshold"`
	// StaleAfter is how long fetched videos are served before refetching
	StaleAfter Duration `json:"stale_after"`

	// HTTPTimeout bounds a single upstream request
	HTTPTimeout Duration `json:"http_timeout"`
	// MaxConcurrent bounds parallel upload-feed fetches
	MaxConcurrent int `json:"max_concurrent"`
	// DataAPIRPS limits Data API requests per second (0 = unlimited)
	DataAPIRPS float64 `json:"data_api_rps"`
	// ResolveCacheSize is the number of resolved channel identifiers kept
	ResolveCacheSize int `json:"resolve_cache_size"`

	// MaxRetries is the maximum number of retries for failed operations
	MaxRetries int `json:"max_retries"`
	// InitialBackoff is the initial backoff duration for retries
	InitialBackoff Duration `json:"initial_backoff"`
	// MaxBackoff is the maximum backoff duration for retries
	MaxBackoff Duration `json:"max_backoff"`
	// BackoffMultiplier is the multiplier for exponential backoff (must be > 1)
	BackoffMultiplier float64 `json:"backoff_multiplier"`

	// LogLevel is a zerolog level name
	LogLevel string `json:"log_level"`
	// MetricsFile, when set, receives a Prometheus text dump on exit
	MetricsFile string `json:"metrics_file"`
	// ShareBaseURL is the location share links point at
	ShareBaseURL string `json:"share_base_url"`
}

// DefaultConfig returns configuration with safe defaults.
func DefaultConfig() *Config {
	return &Config{
		StatePath:          defaultStatePath(),
		StoreBackend:       "json",
		Period:             30,
		ShortFormThreshold: Duration(180 * time.Second),
		StaleAfter:         Duration(30 * time.Minute),
		HTTPTimeout:        Duration(30 * time.Second),
		MaxConcurrent:      8,
		DataAPIRPS:         10,
		ResolveCacheSize:   256,
		MaxRetries:         3,
		InitialBackoff:     Duration(500 * time.Millisecond),
		MaxBackoff:         Duration(10 * time.Second),
		BackoffMultiplier:  2.0,
		LogLevel:           "info",
		ShareBaseURL:       "https://ytdash.local/",
	}
}

func defaultStatePath() string {
	return filepath.Join(os.Getenv("HOME"), ".config", "ytdash", "state.json")
}

// SearchPaths are the config files Load tries, in order.
func SearchPaths() []string {
	return []string{
		FileName,
		filepath.Join(os.Getenv("HOME"), ".config", "ytdash", FileName),
	}
}

// Load loads configuration from environment variables, config file, and applies defaults.
// Priority: env vars > config file > defaults
func Load() (*Config, error) {
	return LoadFrom(SearchPaths()...)
}

// LoadFrom is Load with an explicit list of candidate files; the first
// existing one is used.
func LoadFrom(paths ...string) (*Config, error) {
	cfg := DefaultConfig()

	// Config file is optional
	if err := cfg.loadFromFile(paths); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("load config file: %w", err)
	}

	if err := cfg.loadFromEnv(); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) loadFromFile(paths []string) error {
	for _, path := range paths {
		data, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return err
		}

		if err := json.Unmarshal(data, c); err != nil {
			return fmt.Errorf("parse %s: %w", path, err)
		}
		return nil
	}

	return os.ErrNotExist
}

// loadFromEnv overrides config with YTDASH_* environment variables.
// Malformed numbers and durations are reported instead of ignored.
func (c *Config) loadFromEnv() error {
	strs := map[string]*string{
		"YTDASH_API_KEY":         &c.APIKey,
		"YTDASH_OAUTH_CLIENT_ID": &c.OAuthClientID,
		"YTDASH_ACCESS_TOKEN":    &c.AccessToken,
		"YTDASH_STATE_PATH":      &c.StatePath,
		"YTDASH_STORE_BACKEND":   &c.StoreBackend,
		"YTDASH_LOG_LEVEL":       &c.LogLevel,
		"YTDASH_METRICS_FILE":    &c.MetricsFile,
		"YTDASH_SHARE_BASE_URL":  &c.ShareBaseURL,
	}
	for key, dst := range strs {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}

	ints := map[string]*int{
		"YTDASH_PERIOD":             &c.Period,
		"YTDASH_MAX_CONCURRENT":     &c.MaxConcurrent,
		"YTDASH_RESOLVE_CACHE_SIZE": &c.ResolveCacheSize,
		"YTDASH_MAX_RETRIES":        &c.MaxRetries,
	}
	for key, dst := range ints {
		if v := os.Getenv(key); v != "" {
			n, err := strconv.Atoi(strings.TrimSuffix(v, "d"))
			if err != nil {
				return fmt.Errorf("%s: %w", key, err)
			}
			*dst = n
		}
	}

	floats := map[string]*float64{
		"YTDASH_DATA_API_RPS":        &c.DataAPIRPS,
		"YTDASH_BACKOFF_MULTIPLIER": &c.BackoffMultiplier,
	}
	for key, dst := range floats {
		if v := os.Getenv(key); v != "" {
			f, err := strconv.ParseFloat(v, 64)
			if err != nil {
				return fmt.Errorf("%s: %w", key, err)
			}
			*dst = f
		}
	}

	durations := map[string]*Duration{
		"YTDASH_SHORT_FORM_THRESHOLD": &c.ShortFormThreshold,
		"YTDASH_STALE_AFTER":          &c.StaleAfter,
		"YTDASH_HTTP_TIMEOUT":         &c.HTTPTimeout,
		"YTDASH_INITIAL_BACKOFF":      &c.InitialBackoff,
		"YTDASH_MAX_BACKOFF":          &c.MaxBackoff,
	}
	for key, dst := range durations {
		if v := os.Getenv(key); v != "" {
			d, err := time.ParseDuration(v)
			if err != nil {
				return fmt.Errorf("%s: %w", key, err)
			}
			*dst = Duration(d)
		}
	}
	return nil
}

// Validate checks that configuration values are valid and consistent.
// It returns an error if any configuration value is invalid.
func (c *Config) Validate() error {
	if c.Period != 7 && c.Period != 30 {
		return fmt.Errorf("period must be 7 or 30")
	}
	switch c.StoreBackend {
	case "json", "sqlite", "memory":
	default:
		return fmt.Errorf("store_backend must be json, sqlite or memory")
	}
	if c.StoreBackend != "memory" && c.StatePath == "" {
		return fmt.Errorf("state_path must be set")
	}
	if c.ShortFormThreshold <= 0 {
		return fmt.Errorf("short_form_threshold must be positive")
	}
	if c.StaleAfter <= 0 {
		return fmt.Errorf("stale_after must be positive")
	}
	if c.HTTPTimeout <= 0 {
		return fmt.Errorf("http_timeout must be positive")
	}
	if c.MaxConcurrent <= 0 {
		return fmt.Errorf("max_concurrent must be positive")
	}
	if c.DataAPIRPS < 0 {
		return fmt.Errorf("data_api_rps must be non-negative")
	}
	if c.ResolveCacheSize <= 0 {
		return fmt.Errorf("resolve_cache_size must be positive")
	}
	if c.MaxRetries < 0 {
		return fmt.Errorf("max_retries must be non-negative")
	}
	if c.InitialBackoff <= 0 {
		return fmt.Errorf("initial_backoff must be positive")
	}
	if c.MaxBackoff <= 0 {
		return fmt.Errorf("max_backoff must be positive")
	}
	if c.MaxBackoff < c.InitialBackoff {
		return fmt.Errorf("max_backoff must be >= initial_backoff")
	}
	if c.BackoffMultiplier <= 1 {
		return fmt.Errorf("backoff_multiplier must be > 1")
	}
	return nil
}

// Credential returns the API key to seed the state with: the built-in key
// when present, else the configured one.
func (c *Config) Credential() string {
	if BuiltinAPIKey != "" {
		return BuiltinAPIKey
	}
	return c.APIKey
}

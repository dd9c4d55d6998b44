// Package youtube is the dashboard's remote data gateway: channel resolution,
// recent upload listing and the authenticated analytics report, on top of
// the YouTube Data API v3 and YouTube Analytics API v2 clients.
package youtube

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/rs/zerolog"
	"google.golang.org/api/option"
	"google.golang.org/api/youtube/v3"

	"ytdash/internal/logging"
	"ytdash/internal/metrics"
	"ytdash/internal/retry"
	"ytdash/model"
	"ytdash/transport"
)

// Endpoint labels used for quota, metrics and errors.
const (
	endpointChannels      = "channels"
	endpointSearch        = "search"
	endpointPlaylistItems = "playlistItems"
	endpointVideos        = "videos"
	endpointAnalytics     = "analytics"
)

// Config configures a Gateway. Zero values take defaults.
type Config struct {
	// APIKey authenticates Data API calls. It is injected by the transport
	// when HTTPClient is nil.
	APIKey string
	// HTTPClient overrides the transport for both APIs (tests point it at
	// an httptest server together with the endpoints below).
	HTTPClient *http.Client
	// DataEndpoint and AnalyticsEndpoint override the API base URLs.
	DataEndpoint      string
	AnalyticsEndpoint string

	Transport          transport.Config
	ShortFormThreshold time.Duration
	MaxConcurrent      int
	ResolveCacheSize   int
	Retry              retry.Config

	Logger  zerolog.Logger
	Metrics *metrics.Metrics
	// Now is the clock; time.Now when nil.
	Now func() time.Time
}

// ChannelInfo is a resolved channel, before it is assigned to a folder.
type ChannelInfo struct {
	ID                string
	Title             string
	Handle            string
	ThumbnailURL      string
	UploadsPlaylistID string
	SubscriberCount   string
}

// Channel places the resolved channel in folderID.
func (c ChannelInfo) Channel(folderID string) model.Channel {
	return model.Channel{
		ID:                c.ID,
		Title:             c.Title,
		Handle:            c.Handle,
		ThumbnailURL:      c.ThumbnailURL,
		UploadsPlaylistID: c.UploadsPlaylistID,
		FolderID:          folderID,
		SubscriberCount:   c.SubscriberCount,
	}
}

// Gateway talks to the YouTube APIs. It is safe for concurrent use.
type Gateway struct {
	data          *youtube.Service
	dataClient    *http.Client
	analyticsBase http.RoundTripper
	analyticsURL  string
	timeout       time.Duration

	resolved  *lru.Cache[string, ChannelInfo]
	quota     *quotaTracker
	metrics   *metrics.Metrics
	logger    zerolog.Logger
	now       func() time.Time
	threshold time.Duration
	workers   int
	retry     retry.Config
}

// New builds a Gateway.
func New(ctx context.Context, cfg Config) (*Gateway, error) {
	if cfg.ShortFormThreshold <= 0 {
		cfg.ShortFormThreshold = DefaultShortFormThreshold
	}
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = 8
	}
	if cfg.ResolveCacheSize <= 0 {
		cfg.ResolveCacheSize = 256
	}
	if cfg.Retry == (retry.Config{}) {
		cfg.Retry = retry.DefaultConfig()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Transport.Timeout == 0 {
		cfg.Transport = transport.DefaultConfig()
	}
	logger := logging.Component(cfg.Logger, "gateway")

	dataClient := cfg.HTTPClient
	analyticsBase := http.DefaultTransport
	if dataClient == nil {
		tcfg := cfg.Transport
		tcfg.APIKey = cfg.APIKey
		dataClient = transport.NewClient(tcfg, logger)
		tcfg.APIKey = ""
		analyticsBase = transport.NewRoundTripper(nil, tcfg, logger)
	} else if dataClient.Transport != nil {
		analyticsBase = dataClient.Transport
	}

	opts := []option.ClientOption{option.WithHTTPClient(dataClient)}
	if cfg.DataEndpoint != "" {
		opts = append(opts, option.WithEndpoint(cfg.DataEndpoint))
	}
	data, err := youtube.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create youtube service: %w", err)
	}

	cache, err := lru.New[string, ChannelInfo](cfg.ResolveCacheSize)
	if err != nil {
		return nil, fmt.Errorf("create resolve cache: %w", err)
	}

	return &Gateway{
		data:          data,
		dataClient:    dataClient,
		analyticsBase: analyticsBase,
		analyticsURL:  cfg.AnalyticsEndpoint,
		timeout:       cfg.Transport.Timeout,
		resolved:      cache,
		quota:         newQuotaTracker(cfg.Now, cfg.Metrics, logger),
		metrics:       cfg.Metrics,
		logger:        logger,
		now:           cfg.Now,
		threshold:     cfg.ShortFormThreshold,
		workers:       cfg.MaxConcurrent,
		retry:         cfg.Retry,
	}, nil
}

// Quota returns the estimated Data API quota usage.
func (g *Gateway) Quota() QuotaStatus {
	return g.quota.status()
}

// ShortFormThreshold returns the configured short-form cutoff.
func (g *Gateway) ShortFormThreshold() time.Duration {
	return g.threshold
}

// call runs fn with retries, then accounts quota and metrics and classifies
// the final error.
func (g *Gateway) call(ctx context.Context, endpoint, subject string, fn func(context.Context) error) error {
	err := retry.Do(ctx, g.retry, retryable, func(ctx context.Context) error {
		g.quota.track(endpoint)
		return fn(ctx)
	})

	var rerr *retry.RetryableError
	if errors.As(err, &rerr) {
		err = rerr.Err
	}
	if err != nil {
		g.metrics.Call(endpoint, "error")
		cerr := classify(endpoint, subject, err)
		var qerr *QuotaExceededError
		if errors.As(cerr, &qerr) {
			g.quota.markExhausted()
		}
		return cerr
	}
	g.metrics.Call(endpoint, "ok")
	return nil
}

func isRawChannelID(s string) bool {
	return strings.HasPrefix(s, "UC") && len(s) > 20
}

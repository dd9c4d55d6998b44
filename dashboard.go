package ytdash

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"ytdash/config"
	"ytdash/internal/metrics"
	"ytdash/internal/retry"
	"ytdash/model"
	"ytdash/notify"
	"ytdash/refresh"
	"ytdash/share"
	"ytdash/state"
	"ytdash/storage"
	"ytdash/transport"
	"ytdash/youtube"
)

// Options configure Open. Only Config is required.
type Options struct {
	Config *config.Config
	// Location is the address the dashboard was opened from. A share
	// parameter in it is applied over the stored state and then stripped.
	Location string
	Logger   zerolog.Logger
	// KV overrides the store selected by Config.StoreBackend.
	KV storage.KV
	// HTTPClient, DataEndpoint and AnalyticsEndpoint redirect the gateway,
	// for tests against a fake API.
	HTTPClient        *http.Client
	DataEndpoint      string
	AnalyticsEndpoint string
	// Reauthenticate is called when the analytics token is rejected.
	Reauthenticate func(ctx context.Context)
	Now            func() time.Time
}

// Dashboard wires the store, gateway, refresh controller and notifications
// built from one configuration.
type Dashboard struct {
	Store   *state.Store
	Gateway *youtube.Gateway
	Refresh *refresh.Controller
	Toasts  *notify.Center
	Metrics *metrics.Metrics
	// Location is Options.Location with any share parameter removed.
	Location string

	cfg    *config.Config
	opts   Options
	kv     storage.KV
	logger zerolog.Logger
}

// Open rehydrates the dashboard state and builds its components. The caller
// must Close it.
func Open(ctx context.Context, opts Options) (*Dashboard, error) {
	cfg := opts.Config
	if cfg == nil {
		return nil, errors.New("ytdash: nil config")
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	kv := opts.KV
	if kv == nil {
		var err error
		kv, err = storage.Open(cfg.StoreBackend, cfg.StatePath)
		if err != nil {
			return nil, fmt.Errorf("open state store: %w", err)
		}
	}

	d := &Dashboard{
		Toasts:   notify.New(opts.Logger, opts.Now),
		Metrics:  metrics.New(),
		Location: opts.Location,
		cfg:      cfg,
		opts:     opts,
		kv:       kv,
		logger:   opts.Logger,
	}

	var shared *share.Payload
	if opts.Location != "" {
		p, stripped, ok, err := share.FromLocation(opts.Location)
		d.Location = stripped
		if err != nil {
			d.logger.Warn().Err(err).Msg("ignoring unreadable share link")
		}
		if ok {
			shared = p
		}
	}

	period := model.Period(cfg.Period)
	if !period.Valid() {
		kv.Close()
		return nil, state.ErrInvalidPeriod
	}
	store, err := state.Open(ctx, kv, state.Config{
		Defaults: state.Defaults{
			BuiltinCredential: config.BuiltinAPIKey,
			Credential:        cfg.APIKey,
			Period:            period,
		},
		Shared:  shared,
		Logger:  opts.Logger,
		Metrics: d.Metrics,
	})
	if err != nil {
		// Only a failed write of the imported layout ends up here; the
		// store itself is usable.
		d.logger.Error().Err(err).Msg("persisting shared dashboard failed")
	}
	d.Store = store
	if cfg.AccessToken != "" {
		store.SetAccessToken(cfg.AccessToken)
	}

	gw, err := d.newGateway(ctx, store.Snapshot().Credential)
	if err != nil {
		kv.Close()
		return nil, err
	}
	d.Gateway = gw
	d.Refresh = refresh.New(refresh.Config{
		Gateway:        gw,
		Store:          store,
		Notifier:       d.Toasts,
		StaleAfter:     cfg.StaleAfter.Std(),
		Reauthenticate: opts.Reauthenticate,
		Logger:         opts.Logger,
		Metrics:        d.Metrics,
		Now:            opts.Now,
	})

	if shared != nil {
		d.Toasts.Success("loaded shared dashboard")
	}
	return d, nil
}

func (d *Dashboard) newGateway(ctx context.Context, apiKey string) (*youtube.Gateway, error) {
	tcfg := transport.DefaultConfig()
	tcfg.Timeout = d.cfg.HTTPTimeout.Std()
	tcfg.RateLimiter.DataAPIRPS = d.cfg.DataAPIRPS

	gw, err := youtube.New(ctx, youtube.Config{
		APIKey:             apiKey,
		HTTPClient:         d.opts.HTTPClient,
		DataEndpoint:       d.opts.DataEndpoint,
		AnalyticsEndpoint:  d.opts.AnalyticsEndpoint,
		Transport:          tcfg,
		ShortFormThreshold: d.cfg.ShortFormThreshold.Std(),
		MaxConcurrent:      d.cfg.MaxConcurrent,
		ResolveCacheSize:   d.cfg.ResolveCacheSize,
		Retry: retry.Config{
			MaxRetries:     d.cfg.MaxRetries,
			InitialBackoff: d.cfg.InitialBackoff.Std(),
			MaxBackoff:     d.cfg.MaxBackoff.Std(),
			Multiplier:     d.cfg.BackoffMultiplier,
			JitterFraction: retry.DefaultConfig().JitterFraction,
		},
		Logger:  d.opts.Logger,
		Metrics: d.Metrics,
		Now:     d.opts.Now,
	})
	if err != nil {
		return nil, fmt.Errorf("create gateway: %w", err)
	}
	return gw, nil
}

// SetCredential stores a new API key and rebuilds the gateway with it.
func (d *Dashboard) SetCredential(ctx context.Context, key string) error {
	err := d.Store.SetCredential(ctx, key)
	var pe *state.PersistError
	if err != nil && !errors.As(err, &pe) {
		return err
	}
	gw, gerr := d.newGateway(ctx, d.Store.Snapshot().Credential)
	if gerr != nil {
		return gerr
	}
	d.Gateway = gw
	d.Refresh.SetGateway(gw)
	d.Toasts.Success("API key saved")
	return err
}

// ShareLink encodes the current layout into a link under share_base_url.
func (d *Dashboard) ShareLink() (string, error) {
	token, err := share.Encode(d.Store.Share(), d.Store.BuiltinCredential())
	if err != nil {
		return "", err
	}
	return share.Link(d.cfg.ShareBaseURL, token)
}

// Import applies the share parameter of rawURL to the running dashboard.
func (d *Dashboard) Import(ctx context.Context, rawURL string) error {
	p, _, ok, err := share.FromLocation(rawURL)
	if err != nil {
		d.Toasts.Error("share link could not be read")
		return err
	}
	if !ok {
		return &share.DecodeError{Stage: "location", Err: errors.New("no share parameter")}
	}
	if err := d.Store.Import(ctx, p); err != nil {
		return err
	}
	d.Toasts.Success("loaded shared dashboard")
	return nil
}

// Close writes the metrics file, when configured, and closes the store.
func (d *Dashboard) Close() error {
	var errs []error
	if d.cfg.MetricsFile != "" {
		if err := d.Metrics.WriteTextfile(d.cfg.MetricsFile); err != nil {
			errs = append(errs, fmt.Errorf("write metrics: %w", err))
		}
	}
	if err := d.kv.Close(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

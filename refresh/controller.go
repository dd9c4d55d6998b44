// Package refresh decides when dashboard data is fetched and applies the
// results to the state store.
package refresh

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"ytdash/internal/logging"
	"ytdash/internal/metrics"
	"ytdash/model"
	"ytdash/notify"
	"ytdash/state"
	"ytdash/youtube"
)

// ErrNoCredential is returned when an operation needs the API key and none
// is configured.
var ErrNoCredential = errors.New("refresh: no API key configured")

// Trigger is an event that may lead to a fetch.
type Trigger int

const (
	PeriodChanged Trigger = iota
	ChannelSetChanged
	ManualRefresh
	ViewSwitched
	TokenAcquired
)

func (t Trigger) String() string {
	switch t {
	case PeriodChanged:
		return "period_changed"
	case ChannelSetChanged:
		return "channel_set_changed"
	case ManualRefresh:
		return "manual_refresh"
	case ViewSwitched:
		return "view_switched"
	case TokenAcquired:
		return "token_acquired"
	default:
		return "unknown"
	}
}

// Path names the data a fetch refreshes.
type Path string

const (
	PathVideos    Path = "videos"
	PathAnalytics Path = "analytics"
)

// Outcome is how a handled trigger ended.
type Outcome int

const (
	OutcomeSkipped Outcome = iota
	OutcomeServedCache
	OutcomeFetched
	OutcomeFailed
	// OutcomeSuperseded means a newer fetch started before this one finished
	// and its result was discarded.
	OutcomeSuperseded
)

func (o Outcome) String() string {
	switch o {
	case OutcomeSkipped:
		return "skipped"
	case OutcomeServedCache:
		return "served_cache"
	case OutcomeFetched:
		return "fetched"
	case OutcomeFailed:
		return "failed"
	case OutcomeSuperseded:
		return "superseded"
	default:
		return "unknown"
	}
}

// Result describes one handled trigger.
type Result struct {
	Path     Path
	Decision Decision
	Outcome  Outcome
	// Count is the number of videos or analytics points written.
	Count int
}

// Gateway is the remote data the controller needs. *youtube.Gateway
// implements it.
type Gateway interface {
	ResolveChannel(ctx context.Context, identifier string) (youtube.ChannelInfo, error)
	FetchRecentVideos(ctx context.Context, channels []model.Channel, days int) ([]model.Video, error)
	FetchAnalyticsReport(ctx context.Context, accessToken string, days int) ([]model.AnalyticsPoint, error)
}

// Config configures a Controller.
type Config struct {
	Gateway  Gateway
	Store    *state.Store
	Notifier *notify.Center
	// StaleAfter defaults to DefaultStaleAfter.
	StaleAfter time.Duration
	// Reauthenticate is called after the analytics token was rejected and
	// cleared. It should start the external sign-in flow.
	Reauthenticate func(ctx context.Context)
	Logger         zerolog.Logger
	Metrics        *metrics.Metrics
	Now            func() time.Time
}

// Controller runs the refresh state machine for the video list and the
// analytics report. Methods are safe for concurrent use.
type Controller struct {
	cfg    Config
	gwMu   sync.RWMutex
	gw     Gateway
	store  *state.Store
	toasts *notify.Center
	logger zerolog.Logger
	now    func() time.Time

	videoGen     atomic.Uint64
	analyticsGen atomic.Uint64
	// commitMu makes the generation check and the store write one step.
	commitMu sync.Mutex

	busyMu        sync.Mutex
	busy          int
	analyticsBusy int
}

// New returns a Controller.
func New(cfg Config) *Controller {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.StaleAfter <= 0 {
		cfg.StaleAfter = DefaultStaleAfter
	}
	return &Controller{
		cfg:    cfg,
		gw:     cfg.Gateway,
		store:  cfg.Store,
		toasts: cfg.Notifier,
		logger: logging.Component(cfg.Logger, "refresh"),
		now:    cfg.Now,
	}
}

// SetGateway swaps the gateway, e.g. after the API key changed. Fetches in
// flight finish on the old one.
func (c *Controller) SetGateway(gw Gateway) {
	c.gwMu.Lock()
	defer c.gwMu.Unlock()
	c.gw = gw
}

func (c *Controller) gateway() Gateway {
	c.gwMu.RLock()
	defer c.gwMu.RUnlock()
	return c.gw
}

func (c *Controller) request(force bool) Request {
	return Request{Force: force, Now: c.now(), StaleAfter: c.cfg.StaleAfter}
}

// Handle reacts to a trigger. The returned error is the fetch failure, which
// has already been reported as an error toast.
func (c *Controller) Handle(ctx context.Context, t Trigger) (Result, error) {
	c.logger.Debug().Stringer("trigger", t).Msg("handling trigger")

	switch t {
	case ManualRefresh:
		if c.store.Snapshot().Selection.View == model.ViewAnalytics {
			return c.RefreshAnalytics(ctx, true)
		}
		return c.RefreshVideos(ctx, true)
	case ViewSwitched:
		if c.store.Snapshot().Selection.View == model.ViewAnalytics {
			return c.RefreshAnalytics(ctx, false)
		}
		return c.RefreshVideos(ctx, false)
	case TokenAcquired:
		return c.RefreshAnalytics(ctx, true)
	case PeriodChanged, ChannelSetChanged:
		return c.RefreshVideos(ctx, false)
	default:
		return Result{}, fmt.Errorf("refresh: unknown trigger %d", int(t))
	}
}

// RefreshVideos evaluates and, when needed, refetches the video list.
func (c *Controller) RefreshVideos(ctx context.Context, force bool) (Result, error) {
	snap := c.store.Snapshot()
	d := Evaluate(snap, c.request(force))
	c.cfg.Metrics.Decision(string(PathVideos), d.Action.String())

	res := Result{Path: PathVideos, Decision: d}
	switch d.Action {
	case Skip:
		res.Outcome = OutcomeSkipped
		return res, nil
	case ServeCache:
		res.Outcome = OutcomeServedCache
		res.Count = len(snap.Videos)
		return res, nil
	}

	gen := c.videoGen.Add(1)
	period := snap.Period
	log := c.logger.With().Uint64("generation", gen).Str("reason", d.Reason).Str("period", period.String()).Logger()
	log.Info().Int("channels", len(snap.Channels)).Msg("fetching videos")

	c.beginLoading()
	defer c.endLoading()

	videos, err := c.gateway().FetchRecentVideos(ctx, snap.Channels, period.Days())
	if err != nil {
		if c.videoGen.Load() != gen {
			res.Outcome = OutcomeSuperseded
			return res, nil
		}
		log.Warn().Err(err).Msg("video fetch failed, keeping cache")
		c.toasts.Error("update failed: " + err.Error())
		res.Outcome = OutcomeFailed
		return res, err
	}

	c.commitMu.Lock()
	if c.videoGen.Load() != gen {
		c.commitMu.Unlock()
		log.Info().Msg("discarding superseded video fetch")
		res.Outcome = OutcomeSuperseded
		return res, nil
	}
	perr := c.store.ReplaceVideos(ctx, videos, c.now(), period)
	c.commitMu.Unlock()
	if perr != nil {
		log.Error().Err(perr).Msg("persisting video cache failed")
	}

	log.Info().Int("videos", len(videos)).Msg("videos updated")
	c.toasts.Success("data updated")
	res.Outcome = OutcomeFetched
	res.Count = len(videos)
	return res, nil
}

// RefreshAnalytics evaluates and, when needed, refetches the analytics
// report. A rejected token is cleared and Reauthenticate is called.
func (c *Controller) RefreshAnalytics(ctx context.Context, force bool) (Result, error) {
	snap := c.store.Snapshot()
	d := EvaluateAnalytics(snap, c.request(force))
	c.cfg.Metrics.Decision(string(PathAnalytics), d.Action.String())

	res := Result{Path: PathAnalytics, Decision: d}
	switch d.Action {
	case Skip:
		res.Outcome = OutcomeSkipped
		return res, nil
	case ServeCache:
		res.Outcome = OutcomeServedCache
		res.Count = len(snap.Analytics)
		return res, nil
	}

	gen := c.analyticsGen.Add(1)
	period := snap.Period
	log := c.logger.With().Uint64("generation", gen).Str("reason", d.Reason).Str("period", period.String()).Logger()
	log.Info().Msg("fetching analytics report")

	c.beginAnalyticsLoading()
	defer c.endAnalyticsLoading()

	points, err := c.gateway().FetchAnalyticsReport(ctx, snap.AccessToken, period.Days())
	if c.analyticsGen.Load() != gen {
		res.Outcome = OutcomeSuperseded
		return res, nil
	}
	if err != nil {
		res.Outcome = OutcomeFailed
		var authErr *youtube.AuthError
		if errors.As(err, &authErr) {
			log.Warn().Err(err).Msg("access token rejected, requesting sign-in")
			c.store.SetAccessToken("")
			c.toasts.Error(err.Error())
			if c.cfg.Reauthenticate != nil {
				c.cfg.Reauthenticate(ctx)
			}
			return res, err
		}
		log.Warn().Err(err).Msg("analytics fetch failed")
		c.toasts.Error(err.Error())
		return res, err
	}

	c.commitMu.Lock()
	if c.analyticsGen.Load() != gen {
		c.commitMu.Unlock()
		res.Outcome = OutcomeSuperseded
		return res, nil
	}
	c.store.SetAnalytics(points, c.now(), period)
	c.commitMu.Unlock()

	c.toasts.Success("analytics loaded")
	res.Outcome = OutcomeFetched
	res.Count = len(points)
	return res, nil
}

// AddChannel resolves identifier, registers the channel in folderID and
// fetches just its recent videos into the cache. A failed incremental fetch
// keeps the channel; the returned channel is then valid alongside the error.
func (c *Controller) AddChannel(ctx context.Context, identifier, folderID string) (model.Channel, error) {
	snap := c.store.Snapshot()
	if snap.Credential == "" {
		c.toasts.Error(ErrNoCredential.Error())
		return model.Channel{}, ErrNoCredential
	}

	c.beginLoading()
	defer c.endLoading()

	info, err := c.gateway().ResolveChannel(ctx, identifier)
	if err != nil {
		c.toasts.Error(err.Error())
		return model.Channel{}, err
	}
	for _, ch := range snap.Channels {
		if ch.ID == info.ID {
			err := &state.DuplicateChannelError{ID: ch.ID, Title: ch.Title}
			c.toasts.Error("channel is already registered")
			return model.Channel{}, err
		}
	}

	ch, err := c.store.AddChannel(ctx, info.Channel(folderID))
	if err != nil {
		var dup *state.DuplicateChannelError
		if errors.As(err, &dup) {
			c.toasts.Error("channel is already registered")
			return model.Channel{}, err
		}
		// Persist failures leave the channel registered in memory.
		c.logger.Error().Err(err).Str("channel_id", info.ID).Msg("persisting new channel failed")
	}
	// A full fetch in flight was started without this channel.
	c.videoGen.Add(1)

	period := c.store.Snapshot().Period
	videos, err := c.gateway().FetchRecentVideos(ctx, []model.Channel{ch}, period.Days())
	if err != nil {
		c.logger.Warn().Err(err).Str("channel_id", ch.ID).Msg("incremental fetch failed")
		c.toasts.Error("update failed: " + err.Error())
		return ch, err
	}
	if err := c.store.AppendVideos(ctx, videos); err != nil {
		c.logger.Error().Err(err).Msg("persisting video cache failed")
	}

	c.logger.Info().Str("channel_id", ch.ID).Int("videos", len(videos)).Msg("channel added")
	c.toasts.Success(fmt.Sprintf("'%s' added", ch.Title))
	return ch, nil
}

// RemoveChannel unregisters a channel and drops its videos. No fetch runs.
func (c *Controller) RemoveChannel(ctx context.Context, id string) error {
	err := c.store.RemoveChannel(ctx, id)
	if errors.Is(err, state.ErrUnknownChannel) {
		c.toasts.Error(err.Error())
		return err
	}
	// A full fetch in flight would bring the channel's videos back.
	c.videoGen.Add(1)
	c.toasts.Success("channel removed")
	return err
}

// MoveChannel reassigns a channel to another folder.
func (c *Controller) MoveChannel(ctx context.Context, channelID, folderID string) error {
	if err := c.store.MoveChannel(ctx, channelID, folderID); err != nil {
		c.toasts.Error(err.Error())
		return err
	}
	return nil
}

// SetPeriod stores the analysis window and fires PeriodChanged.
func (c *Controller) SetPeriod(ctx context.Context, p model.Period) (Result, error) {
	if err := c.store.SetPeriod(ctx, p); err != nil {
		var pe *state.PersistError
		if !errors.As(err, &pe) {
			return Result{}, err
		}
		c.logger.Error().Err(err).Msg("persisting period failed")
	}
	return c.Handle(ctx, PeriodChanged)
}

// SetAccessToken stores a freshly acquired OAuth token, switches to the
// analytics view and fires TokenAcquired.
func (c *Controller) SetAccessToken(ctx context.Context, token string) (Result, error) {
	c.store.SetAccessToken(token)
	c.store.SetView(model.ViewAnalytics)
	return c.Handle(ctx, TokenAcquired)
}

func (c *Controller) beginLoading() {
	c.busyMu.Lock()
	defer c.busyMu.Unlock()
	c.busy++
	c.store.SetLoading(true)
}

func (c *Controller) endLoading() {
	c.busyMu.Lock()
	defer c.busyMu.Unlock()
	c.busy--
	if c.busy == 0 {
		c.store.SetLoading(false)
	}
}

func (c *Controller) beginAnalyticsLoading() {
	c.busyMu.Lock()
	defer c.busyMu.Unlock()
	c.analyticsBusy++
	c.store.SetAnalyticsLoading(true)
}

func (c *Controller) endAnalyticsLoading() {
	c.busyMu.Lock()
	defer c.busyMu.Unlock()
	c.analyticsBusy--
	if c.analyticsBusy == 0 {
		c.store.SetAnalyticsLoading(false)
	}
}

// Package state holds the dashboard's single authoritative snapshot and
// persists its durable parts to the local key-value store.
package state

import (
	"context"
	"encoding/json"
	"errors"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"ytdash/internal/logging"
	"ytdash/internal/metrics"
	"ytdash/model"
	"ytdash/share"
	"ytdash/stats"
	"ytdash/storage"
)

// Keys of the two persisted blobs.
const (
	ConfigKey     = "yt_dashboard_state"
	VideoCacheKey = "yt_dashboard_videos"
)

// DefaultFolderName names the folder created when a channel needs a home
// and none exists.
const DefaultFolderName = "Default"

// Defaults seed a fresh state.
type Defaults struct {
	// BuiltinCredential is compiled into the binary and overrides any stored
	// or shared credential.
	BuiltinCredential string
	// Credential is used when neither a built-in nor a stored one exists.
	Credential string
	Period     model.Period
}

// Config configures Open.
type Config struct {
	Defaults Defaults
	// Shared is a payload decoded from a share link, applied over the
	// stored state.
	Shared  *share.Payload
	Logger  zerolog.Logger
	Metrics *metrics.Metrics
	// NewFolderID generates folder ids; "f-" + a UUID when nil.
	NewFolderID func() string
}

// Snapshot is a copy of the state. Mutating it has no effect on the store.
type Snapshot struct {
	Credential string
	Channels   []model.Channel
	Folders    []model.Folder
	Period     model.Period

	Videos []model.Video
	// LastFetchedAt is zero when videos were never fetched.
	LastFetchedAt time.Time
	// LastFetchedPeriod is the period the videos were fetched for, 0 if none.
	LastFetchedPeriod model.Period

	Selection model.Selection

	Analytics          []model.AnalyticsPoint
	AnalyticsFetchedAt time.Time
	AnalyticsPeriod    model.Period
	AccessToken        string

	Loading          bool
	AnalyticsLoading bool
}

func (s Snapshot) clone() Snapshot {
	s.Channels = slices.Clone(s.Channels)
	s.Folders = slices.Clone(s.Folders)
	s.Videos = slices.Clone(s.Videos)
	s.Analytics = slices.Clone(s.Analytics)
	return s
}

// persistedConfig is the ConfigKey blob. Pointer and nil fields mark values
// absent from older blobs.
type persistedConfig struct {
	Credential *string         `json:"credential,omitempty"`
	Channels   []model.Channel `json:"channels"`
	Folders    []model.Folder  `json:"folders"`
	Period     model.Period    `json:"period,omitempty"`
}

// videoCache is the VideoCacheKey blob.
type videoCache struct {
	Videos    []model.Video `json:"videos"`
	Timestamp time.Time     `json:"timestamp"`
	Period    model.Period  `json:"period"`
}

// Store is safe for concurrent use. Every mutation of the credential,
// channels, folders or period rewrites the whole config blob; the video
// cache is rewritten only when it is non-empty.
type Store struct {
	mu      sync.RWMutex
	s       Snapshot
	kv      storage.KV
	builtin string
	newID   func() string
	logger  zerolog.Logger
	metrics *metrics.Metrics
}

// Open rehydrates the state: the shared payload wins over the stored blobs,
// which win over defaults. Unreadable blobs are logged and ignored. The
// returned error only reports a failure to persist an applied share payload;
// the store is usable either way.
func Open(ctx context.Context, kv storage.KV, cfg Config) (*Store, error) {
	if cfg.NewFolderID == nil {
		cfg.NewFolderID = func() string { return "f-" + uuid.NewString() }
	}
	period := cfg.Defaults.Period
	if !period.Valid() {
		period = model.DefaultPeriod
	}

	st := &Store{
		kv:      kv,
		builtin: cfg.Defaults.BuiltinCredential,
		newID:   cfg.NewFolderID,
		logger:  logging.Component(cfg.Logger, "state"),
		metrics: cfg.Metrics,
		s: Snapshot{
			Credential: cfg.Defaults.Credential,
			Channels:   []model.Channel{},
			Folders:    []model.Folder{},
			Period:     period,
		},
	}
	if st.builtin != "" {
		st.s.Credential = st.builtin
	}

	st.loadConfig(ctx)
	if cfg.Shared != nil {
		st.applyShared(cfg.Shared)
	}
	st.loadVideoCache(ctx)
	st.metrics.SetCachedVideos(len(st.s.Videos))

	if cfg.Shared != nil {
		st.mu.Lock()
		defer st.mu.Unlock()
		return st, st.persistConfig(ctx)
	}
	return st, nil
}

func (st *Store) loadConfig(ctx context.Context) {
	raw, err := st.kv.Get(ctx, ConfigKey)
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			st.logger.Warn().Err(err).Msg("reading stored config failed, using defaults")
		}
		return
	}

	var pc persistedConfig
	if err := json.Unmarshal(raw, &pc); err != nil {
		st.logger.Warn().Err(err).Str("key", ConfigKey).Msg("stored config is corrupt, ignoring")
		return
	}
	if pc.Credential != nil && *pc.Credential != "" && st.builtin == "" {
		st.s.Credential = *pc.Credential
	}
	if pc.Channels != nil {
		st.s.Channels = pc.Channels
	}
	if pc.Folders != nil {
		st.s.Folders = pc.Folders
	}
	if pc.Period.Valid() {
		st.s.Period = pc.Period
	}
}

func (st *Store) applyShared(p *share.Payload) {
	if p.Credential != "" && st.builtin == "" {
		st.s.Credential = p.Credential
	}
	if p.Folders != nil {
		st.s.Folders = slices.Clone(p.Folders)
	}
	if p.Channels != nil {
		st.s.Channels = slices.Clone(p.Channels)
	}
	st.logger.Info().
		Int("channels", len(st.s.Channels)).
		Int("folders", len(st.s.Folders)).
		Msg("applied shared dashboard")
}

func (st *Store) loadVideoCache(ctx context.Context) {
	raw, err := st.kv.Get(ctx, VideoCacheKey)
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			st.logger.Warn().Err(err).Msg("reading video cache failed, starting empty")
		}
		return
	}

	var vc videoCache
	if err := json.Unmarshal(raw, &vc); err != nil {
		st.logger.Warn().Err(err).Str("key", VideoCacheKey).Msg("video cache is corrupt, ignoring")
		return
	}

	// Only keep videos of registered channels; a share link may have
	// replaced the channel set.
	known := st.channelSet()
	videos := make([]model.Video, 0, len(vc.Videos))
	for _, v := range vc.Videos {
		if known[v.ChannelID] {
			videos = append(videos, v)
		}
	}
	st.s.Videos = videos
	st.s.LastFetchedAt = vc.Timestamp
	if vc.Period.Valid() {
		st.s.LastFetchedPeriod = vc.Period
	}
}

// persistConfig must be called with mu held.
func (st *Store) persistConfig(ctx context.Context) error {
	cred := st.s.Credential
	if st.builtin != "" {
		// The built-in key is never written out.
		cred = ""
	}
	raw, err := json.Marshal(persistedConfig{
		Credential: &cred,
		Channels:   st.s.Channels,
		Folders:    st.s.Folders,
		Period:     st.s.Period,
	})
	if err != nil {
		return &PersistError{Key: ConfigKey, Err: err}
	}
	if err := st.kv.Put(ctx, ConfigKey, raw); err != nil {
		st.logger.Error().Err(err).Msg("persisting config failed")
		return &PersistError{Key: ConfigKey, Err: err}
	}
	return nil
}

// persistVideos must be called with mu held. An empty list is never
// written so a failed or partial fetch cannot mask an earlier cache.
func (st *Store) persistVideos(ctx context.Context) error {
	st.metrics.SetCachedVideos(len(st.s.Videos))
	if len(st.s.Videos) == 0 {
		return nil
	}
	raw, err := json.Marshal(videoCache{
		Videos:    st.s.Videos,
		Timestamp: st.s.LastFetchedAt,
		Period:    st.s.LastFetchedPeriod,
	})
	if err != nil {
		return &PersistError{Key: VideoCacheKey, Err: err}
	}
	if err := st.kv.Put(ctx, VideoCacheKey, raw); err != nil {
		st.logger.Error().Err(err).Msg("persisting video cache failed")
		return &PersistError{Key: VideoCacheKey, Err: err}
	}
	return nil
}

// Import applies a shared payload to a running store, with the same
// precedence as Open, and drops cached videos of channels no longer present.
func (st *Store) Import(ctx context.Context, p *share.Payload) error {
	if p == nil {
		return nil
	}
	st.mu.Lock()
	defer st.mu.Unlock()

	st.applyShared(p)
	known := st.channelSet()
	st.s.Videos = slices.DeleteFunc(st.s.Videos, func(v model.Video) bool { return !known[v.ChannelID] })
	if st.s.Selection.ChannelID != "" && !known[st.s.Selection.ChannelID] {
		st.s.Selection.ChannelID = ""
	}

	err := st.persistConfig(ctx)
	if verr := st.persistVideos(ctx); err == nil {
		err = verr
	}
	return err
}

// Snapshot returns a copy of the current state.
func (st *Store) Snapshot() Snapshot {
	st.mu.RLock()
	defer st.mu.RUnlock()
	return st.s.clone()
}

// BuiltinCredential returns the credential compiled into the build, if any.
func (st *Store) BuiltinCredential() string {
	return st.builtin
}

// SetCredential replaces the API key.
func (st *Store) SetCredential(ctx context.Context, key string) error {
	if st.builtin != "" {
		return ErrBuiltinCredential
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	st.s.Credential = strings.TrimSpace(key)
	return st.persistConfig(ctx)
}

// SetPeriod changes the analysis window.
func (st *Store) SetPeriod(ctx context.Context, p model.Period) error {
	if !p.Valid() {
		return ErrInvalidPeriod
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	st.s.Period = p
	return st.persistConfig(ctx)
}

// AddFolder creates a folder with a fresh id.
func (st *Store) AddFolder(ctx context.Context, name string) (model.Folder, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return model.Folder{}, ErrEmptyName
	}
	st.mu.Lock()
	defer st.mu.Unlock()

	f := model.Folder{ID: st.newID(), Name: name}
	st.s.Folders = append(st.s.Folders, f)
	return f, st.persistConfig(ctx)
}

// RenameFolder renames an existing folder.
func (st *Store) RenameFolder(ctx context.Context, id, name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return ErrEmptyName
	}
	st.mu.Lock()
	defer st.mu.Unlock()

	i := st.folderIndex(id)
	if i < 0 {
		return ErrUnknownFolder
	}
	st.s.Folders[i].Name = name
	return st.persistConfig(ctx)
}

// DeleteFolder removes a folder. Its channels move to the first remaining
// folder, or to a new default folder when none is left.
func (st *Store) DeleteFolder(ctx context.Context, id string) error {
	st.mu.Lock()
	defer st.mu.Unlock()

	i := st.folderIndex(id)
	if i < 0 {
		return ErrUnknownFolder
	}
	st.s.Folders = slices.Delete(st.s.Folders, i, i+1)

	orphaned := false
	for _, ch := range st.s.Channels {
		if ch.FolderID == id {
			orphaned = true
			break
		}
	}
	if orphaned {
		target := st.defaultFolderLocked()
		for i := range st.s.Channels {
			if st.s.Channels[i].FolderID == id {
				st.s.Channels[i].FolderID = target
			}
		}
	}
	if st.s.Selection.FolderID == id {
		st.s.Selection.FolderID = ""
	}
	return st.persistConfig(ctx)
}

// AddChannel registers ch in ch.FolderID; an empty or unknown folder falls
// back to the first folder or a new default folder. The stored channel is
// returned.
func (st *Store) AddChannel(ctx context.Context, ch model.Channel) (model.Channel, error) {
	st.mu.Lock()
	defer st.mu.Unlock()

	for _, existing := range st.s.Channels {
		if existing.ID == ch.ID {
			return model.Channel{}, &DuplicateChannelError{ID: ch.ID, Title: existing.Title}
		}
	}
	if ch.FolderID == "" || st.folderIndex(ch.FolderID) < 0 {
		ch.FolderID = st.defaultFolderLocked()
	}
	st.s.Channels = append(st.s.Channels, ch)
	return ch, st.persistConfig(ctx)
}

// RemoveChannel unregisters a channel and drops its cached videos.
func (st *Store) RemoveChannel(ctx context.Context, id string) error {
	st.mu.Lock()
	defer st.mu.Unlock()

	i := slices.IndexFunc(st.s.Channels, func(c model.Channel) bool { return c.ID == id })
	if i < 0 {
		return ErrUnknownChannel
	}
	st.s.Channels = slices.Delete(st.s.Channels, i, i+1)
	st.s.Videos = slices.DeleteFunc(st.s.Videos, func(v model.Video) bool { return v.ChannelID == id })
	if st.s.Selection.ChannelID == id {
		st.s.Selection.ChannelID = ""
	}

	err := st.persistConfig(ctx)
	if verr := st.persistVideos(ctx); err == nil {
		err = verr
	}
	return err
}

// MoveChannel assigns a channel to another existing folder.
func (st *Store) MoveChannel(ctx context.Context, channelID, folderID string) error {
	st.mu.Lock()
	defer st.mu.Unlock()

	i := slices.IndexFunc(st.s.Channels, func(c model.Channel) bool { return c.ID == channelID })
	if i < 0 {
		return ErrUnknownChannel
	}
	if st.folderIndex(folderID) < 0 {
		return ErrUnknownFolder
	}
	st.s.Channels[i].FolderID = folderID
	return st.persistConfig(ctx)
}

// ReplaceVideos swaps in a fresh fetch result together with its timestamp
// and period, as one update.
func (st *Store) ReplaceVideos(ctx context.Context, videos []model.Video, at time.Time, period model.Period) error {
	st.mu.Lock()
	defer st.mu.Unlock()

	st.s.Videos = slices.Clone(videos)
	if st.s.Videos == nil {
		st.s.Videos = []model.Video{}
	}
	st.s.LastFetchedAt = at
	st.s.LastFetchedPeriod = period
	return st.persistVideos(ctx)
}

// AppendVideos merges videos into the cache, replacing entries with the same
// id. The fetch timestamp and period are left alone.
func (st *Store) AppendVideos(ctx context.Context, videos []model.Video) error {
	if len(videos) == 0 {
		return nil
	}
	st.mu.Lock()
	defer st.mu.Unlock()

	index := make(map[string]int, len(st.s.Videos))
	for i, v := range st.s.Videos {
		index[v.ID] = i
	}
	for _, v := range videos {
		if i, ok := index[v.ID]; ok {
			st.s.Videos[i] = v
			continue
		}
		index[v.ID] = len(st.s.Videos)
		st.s.Videos = append(st.s.Videos, v)
	}
	return st.persistVideos(ctx)
}

// Select replaces the navigation selection.
func (st *Store) Select(sel model.Selection) {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.s.Selection = sel
}

// SelectFolder shows a folder (or everything for "") on the dashboard view.
func (st *Store) SelectFolder(id string) {
	st.Select(model.Selection{View: model.ViewDashboard, FolderID: id})
}

// SelectChannel focuses one channel; a non-empty id switches to the
// dashboard view.
func (st *Store) SelectChannel(id string) {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.s.Selection.ChannelID = id
	if id != "" {
		st.s.Selection.View = model.ViewDashboard
	}
}

// SetView switches between the dashboard and analytics views.
func (st *Store) SetView(v model.View) {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.s.Selection.View = v
}

// SetAccessToken stores the analytics OAuth token ("" clears it).
func (st *Store) SetAccessToken(token string) {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.s.AccessToken = token
}

// SetAnalytics stores an analytics report with its timestamp and period.
func (st *Store) SetAnalytics(points []model.AnalyticsPoint, at time.Time, period model.Period) {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.s.Analytics = slices.Clone(points)
	st.s.AnalyticsFetchedAt = at
	st.s.AnalyticsPeriod = period
}

// SetLoading sets the video fetch indicator.
func (st *Store) SetLoading(on bool) {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.s.Loading = on
}

// SetAnalyticsLoading sets the analytics fetch indicator.
func (st *Store) SetAnalyticsLoading(on bool) {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.s.AnalyticsLoading = on
}

// Group is a folder with its channels. The Ungrouped group has an empty
// folder id.
type Group struct {
	Folder   model.Folder
	Channels []model.Channel
}

// UngroupedName labels channels whose folder no longer exists.
const UngroupedName = "Ungrouped"

// Groups lists channels by folder in folder order, followed by an Ungrouped
// group when some channels point at missing folders.
func (st *Store) Groups() []Group {
	st.mu.RLock()
	defer st.mu.RUnlock()

	groups := make([]Group, 0, len(st.s.Folders)+1)
	pos := make(map[string]int, len(st.s.Folders))
	for _, f := range st.s.Folders {
		pos[f.ID] = len(groups)
		groups = append(groups, Group{Folder: f, Channels: []model.Channel{}})
	}

	var ungrouped []model.Channel
	for _, ch := range st.s.Channels {
		if i, ok := pos[ch.FolderID]; ok {
			groups[i].Channels = append(groups[i].Channels, ch)
			continue
		}
		ungrouped = append(ungrouped, ch)
	}
	if len(ungrouped) > 0 {
		groups = append(groups, Group{Folder: model.Folder{Name: UngroupedName}, Channels: ungrouped})
	}
	return groups
}

// ScopedVideos returns the cached videos of the current selection.
func (st *Store) ScopedVideos() []model.Video {
	st.mu.RLock()
	defer st.mu.RUnlock()
	return stats.Scope(st.s.Videos, st.s.Channels, st.s.Selection)
}

// Share returns the shareable subset of the state.
func (st *Store) Share() share.Payload {
	st.mu.RLock()
	defer st.mu.RUnlock()
	return share.Payload{
		Credential: st.s.Credential,
		Channels:   slices.Clone(st.s.Channels),
		Folders:    slices.Clone(st.s.Folders),
	}
}

// defaultFolderLocked returns the first folder's id, creating the default
// folder when there is none. Must be called with mu held.
func (st *Store) defaultFolderLocked() string {
	if len(st.s.Folders) > 0 {
		return st.s.Folders[0].ID
	}
	f := model.Folder{ID: st.newID(), Name: DefaultFolderName}
	st.s.Folders = append(st.s.Folders, f)
	return f.ID
}

func (st *Store) folderIndex(id string) int {
	return slices.IndexFunc(st.s.Folders, func(f model.Folder) bool { return f.ID == id })
}

func (st *Store) channelSet() map[string]bool {
	set := make(map[string]bool, len(st.s.Channels))
	for _, ch := range st.s.Channels {
		set[ch.ID] = true
	}
	return set
}

// Package ytdash is a YouTube channel dashboard core.
//
// It tracks a set of channels grouped into folders, fetches their recent
// uploads through the YouTube Data API, keeps the results in a local
// key-value store, and summarizes them for the last 7 or 30 days. An
// optional OAuth access token unlocks the authenticated channel's analytics
// report.
//
// Overview
//
// The packages fit together as follows:
//
//   - youtube: the remote data gateway (channel resolution, recent videos,
//     analytics report) and its typed errors
//   - state: the single in-memory snapshot, persisted to a storage.KV
//   - refresh: the staleness state machine deciding when to fetch
//   - share: the URL-safe token that carries a dashboard layout
//   - stats: averages, rankings and the quick channel stats
//   - notify: short-lived success and error messages
//
// Quick Start
//
//	cfg, err := config.Load()
//	if err != nil {
//		log.Fatal(err)
//	}
//	dash, err := ytdash.Open(ctx, ytdash.Options{Config: cfg})
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer dash.Close()
//
//	if _, err := dash.Refresh.AddChannel(ctx, "@GoogleDevelopers", ""); err != nil {
//		log.Fatal(err)
//	}
//	videos := stats.LongForm(dash.Store.ScopedVideos())
//	fmt.Println(stats.Summarize(videos).AvgViews)
//
// Configuration
//
// ytdash loads settings from multiple sources:
//
//   1. Environment variables (highest priority)
//   2. Config file (ytdash.json or ~/.config/ytdash/ytdash.json)
//   3. Default values (lowest priority)
//
// Environment variables use the YTDASH_ prefix with the config key in upper
// case, for example:
//
//   - YTDASH_API_KEY: YouTube Data API key
//   - YTDASH_ACCESS_TOKEN: Analytics OAuth access token
//   - YTDASH_STATE_PATH: Local state file
//   - YTDASH_STORE_BACKEND: json, sqlite or memory
//   - YTDASH_PERIOD: Default analysis window, 7 or 30
//   - YTDASH_STALE_AFTER: How long fetched videos are served from cache
//   - YTDASH_SHORT_FORM_THRESHOLD: Longest duration counted as a short
//
// A key compiled in with -ldflags "-X ytdash/config.BuiltinAPIKey=..." wins
// over every other source and is never embedded in share links.
package ytdash

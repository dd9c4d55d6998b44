package youtube

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/googleapi"

	"ytdash/internal/metrics"
	"ytdash/internal/retry"
	"ytdash/model"
	"ytdash/transport"
)

var testNow = time.Date(2024, 6, 30, 12, 0, 0, 0, time.UTC)

type apiFailure struct {
	status  int
	reason  string
	message string
}

type fakeVideo struct {
	id       string
	title    string
	duration string
	views    string
}

type feedItem struct {
	videoID   string
	published time.Time
}

// fakeAPI serves the subset of the Data and Analytics APIs the gateway uses.
type fakeAPI struct {
	mu sync.Mutex

	channels map[string]string // id -> title
	handles  map[string]string // handle -> id
	search   map[string]string // query -> id
	feeds    map[string][]feedItem
	videos   map[string]fakeVideo

	channelFailure *apiFailure
	searchFailure  *apiFailure
	feedFailures   map[string]*apiFailure
	chunkFailure   map[int]*apiFailure // videos.list call index -> failure
	reportFailure  *apiFailure
	reportRows     [][]any
	transient      int // leading 503 responses on channels.list
	videosBody     string // served verbatim by videos.list when set
	subscribers    string // subscriberCount on channels.list, "1500" when empty

	calls       map[string]int
	chunkSizes  []int
	feedLimits  []string
	lastAuth    string
	lastReport  map[string]string
	videoChunks int
}

func newFakeAPI() *fakeAPI {
	return &fakeAPI{
		channels:     map[string]string{},
		handles:      map[string]string{},
		search:       map[string]string{},
		feeds:        map[string][]feedItem{},
		videos:       map[string]fakeVideo{},
		feedFailures: map[string]*apiFailure{},
		chunkFailure: map[int]*apiFailure{},
		calls:        map[string]int{},
	}
}

func writeFailure(w http.ResponseWriter, f *apiFailure) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(f.status)
	json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{
			"code":    f.status,
			"message": f.message,
			"errors":  []map[string]any{{"reason": f.reason, "message": f.message}},
		},
	})
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

func (f *fakeAPI) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	q := r.URL.Query()
	switch {
	case strings.HasSuffix(r.URL.Path, "/youtube/v3/channels"):
		f.calls["channels"]++
		if f.transient > 0 {
			f.transient--
			writeFailure(w, &apiFailure{status: 503, reason: "backendError", message: "backend error"})
			return
		}
		if f.channelFailure != nil {
			writeFailure(w, f.channelFailure)
			return
		}
		id := q.Get("id")
		if h := q.Get("forHandle"); h != "" {
			id = f.handles[h]
		}
		subscribers := f.subscribers
		if subscribers == "" {
			subscribers = "1500"
		}
		items := []any{}
		if title, ok := f.channels[id]; ok {
			items = append(items, map[string]any{
				"id": id,
				"snippet": map[string]any{
					"title":      title,
					"customUrl":  "@" + strings.ToLower(title),
					"thumbnails": map[string]any{"default": map[string]any{"url": "https://img/" + id}},
				},
				"contentDetails": map[string]any{
					"relatedPlaylists": map[string]any{"uploads": "UU" + id[2:]},
				},
				"statistics": map[string]any{"subscriberCount": subscribers},
			})
		}
		writeJSON(w, map[string]any{"items": items})

	case strings.HasSuffix(r.URL.Path, "/youtube/v3/search"):
		f.calls["search"]++
		if f.searchFailure != nil {
			writeFailure(w, f.searchFailure)
			return
		}
		items := []any{}
		if id, ok := f.search[q.Get("q")]; ok {
			items = append(items, map[string]any{"id": map[string]any{"kind": "youtube#channel", "channelId": id}})
		}
		writeJSON(w, map[string]any{"items": items})

	case strings.HasSuffix(r.URL.Path, "/youtube/v3/playlistItems"):
		f.calls["playlistItems"]++
		playlist := q.Get("playlistId")
		f.feedLimits = append(f.feedLimits, q.Get("maxResults"))
		if fail := f.feedFailures[playlist]; fail != nil {
			writeFailure(w, fail)
			return
		}
		items := []any{}
		for _, it := range f.feeds[playlist] {
			items = append(items, map[string]any{
				"snippet":        map[string]any{"publishedAt": it.published.Format(time.RFC3339)},
				"contentDetails": map[string]any{"videoId": it.videoID},
			})
		}
		writeJSON(w, map[string]any{"items": items})

	case strings.HasSuffix(r.URL.Path, "/youtube/v3/videos"):
		f.calls["videos"]++
		call := f.videoChunks
		f.videoChunks++
		var ids []string
		for _, v := range q["id"] {
			ids = append(ids, strings.Split(v, ",")...)
		}
		f.chunkSizes = append(f.chunkSizes, len(ids))
		if fail := f.chunkFailure[call]; fail != nil {
			writeFailure(w, fail)
			return
		}
		if f.videosBody != "" {
			w.Header().Set("Content-Type", "application/json")
			io.WriteString(w, f.videosBody)
			return
		}
		items := []any{}
		for _, id := range ids {
			v, ok := f.videos[id]
			if !ok {
				continue
			}
			views := v.views
			if views == "" {
				views = "10"
			}
			items = append(items, map[string]any{
				"id": id,
				"snippet": map[string]any{
					"title":       v.title,
					"publishedAt": testNow.Add(-time.Hour).Format(time.RFC3339),
					"thumbnails":  map[string]any{"medium": map[string]any{"url": "https://img/m/" + id}},
				},
				"statistics":     map[string]any{"viewCount": views, "likeCount": "2", "commentCount": "1"},
				"contentDetails": map[string]any{"duration": v.duration},
			})
		}
		writeJSON(w, map[string]any{"items": items})

	case strings.HasSuffix(r.URL.Path, "/v2/reports"):
		f.calls["analytics"]++
		f.lastAuth = r.Header.Get("Authorization")
		f.lastReport = map[string]string{}
		for k := range q {
			f.lastReport[k] = q.Get(k)
		}
		if f.reportFailure != nil {
			writeFailure(w, f.reportFailure)
			return
		}
		resp := map[string]any{
			"kind": "youtubeAnalytics#resultTable",
			"columnHeaders": []map[string]any{
				{"name": "day"}, {"name": "views"}, {"name": "estimatedMinutesWatched"},
				{"name": "averageViewDuration"}, {"name": "subscribersGained"}, {"name": "estimatedRevenue"},
			},
		}
		if f.reportRows != nil {
			resp["rows"] = f.reportRows
		}
		writeJSON(w, resp)

	default:
		http.NotFound(w, r)
	}
}

func newTestGateway(t *testing.T, api *fakeAPI) (*Gateway, *metrics.Metrics) {
	t.Helper()
	srv := httptest.NewServer(api)
	t.Cleanup(srv.Close)

	m := metrics.New()
	g, err := New(context.Background(), Config{
		HTTPClient:        srv.Client(),
		DataEndpoint:      srv.URL + "/",
		AnalyticsEndpoint: srv.URL + "/",
		MaxConcurrent:     4,
		Retry: retry.Config{
			MaxRetries:     2,
			InitialBackoff: time.Millisecond,
			MaxBackoff:     2 * time.Millisecond,
			Multiplier:     1,
		},
		Logger:  zerolog.Nop(),
		Metrics: m,
		Now:     func() time.Time { return testNow },
	})
	require.NoError(t, err)
	return g, m
}

const (
	chanA = "UCaaaaaaaaaaaaaaaaaaaaaa"
	chanB = "UCbbbbbbbbbbbbbbbbbbbbbb"
	chanC = "UCcccccccccccccccccccccc"
)

func TestResolveChannelByID(t *testing.T) {
	api := newFakeAPI()
	api.channels[chanA] = "Alpha"
	g, _ := newTestGateway(t, api)

	info, err := g.ResolveChannel(context.Background(), "  "+chanA+" ")
	require.NoError(t, err)
	assert.Equal(t, chanA, info.ID)
	assert.Equal(t, "Alpha", info.Title)
	assert.Equal(t, "UU"+chanA[2:], info.UploadsPlaylistID)
	assert.Equal(t, "https://img/"+chanA, info.ThumbnailURL)
	assert.Equal(t, "1500", info.SubscriberCount)
	assert.Equal(t, 0, api.calls["search"])
	assert.Equal(t, 1, g.Quota().Spent)
}

func TestResolveChannelIsCached(t *testing.T) {
	api := newFakeAPI()
	api.channels[chanA] = "Alpha"
	g, _ := newTestGateway(t, api)

	for i := 0; i < 3; i++ {
		_, err := g.ResolveChannel(context.Background(), chanA)
		require.NoError(t, err)
	}
	assert.Equal(t, 1, api.calls["channels"])
}

func TestResolveChannelByHandle(t *testing.T) {
	api := newFakeAPI()
	api.channels[chanB] = "Bravo"
	api.handles["@bravo"] = chanB
	g, _ := newTestGateway(t, api)

	info, err := g.ResolveChannel(context.Background(), "@bravo")
	require.NoError(t, err)
	assert.Equal(t, chanB, info.ID)
	assert.Equal(t, 0, api.calls["search"])
}

func TestResolveChannelHandleFallsBackToSearch(t *testing.T) {
	api := newFakeAPI()
	api.channels[chanC] = "Charlie"
	api.search["@charlie-old"] = chanC
	g, m := newTestGateway(t, api)

	info, err := g.ResolveChannel(context.Background(), "@charlie-old")
	require.NoError(t, err)
	assert.Equal(t, chanC, info.ID)
	assert.Equal(t, 1, api.calls["search"])
	assert.Equal(t, 2, api.calls["channels"])
	assert.Equal(t, 102, g.Quota().Spent)
	assert.NotNil(t, m)
}

func TestResolveChannelNotFound(t *testing.T) {
	api := newFakeAPI()
	g, _ := newTestGateway(t, api)

	_, err := g.ResolveChannel(context.Background(), "nobody at all")
	var nf *NotFoundError
	require.ErrorAs(t, err, &nf)
	assert.Equal(t, "nobody at all", nf.Identifier)
}

func TestResolveChannelEmpty(t *testing.T) {
	g, _ := newTestGateway(t, newFakeAPI())

	_, err := g.ResolveChannel(context.Background(), "   ")
	var inv *InvalidInputError
	require.ErrorAs(t, err, &inv)
}

func TestResolveChannelQuotaExceeded(t *testing.T) {
	api := newFakeAPI()
	api.channelFailure = &apiFailure{
		status:  http.StatusForbidden,
		reason:  "quotaExceeded",
		message: "The request cannot be completed because you have exceeded your quota.",
	}
	g, _ := newTestGateway(t, api)

	_, err := g.ResolveChannel(context.Background(), chanA)
	var qe *QuotaExceededError
	require.ErrorAs(t, err, &qe)
	assert.NotContains(t, err.Error(), "cannot be completed")
	assert.Contains(t, err.Error(), "resets")
	assert.Equal(t, 1, api.calls["channels"], "quota errors are not retried")
	assert.True(t, g.Quota().Exhausted)
}

func TestResolveChannelAccessDenied(t *testing.T) {
	api := newFakeAPI()
	api.channelFailure = &apiFailure{
		status:  http.StatusForbidden,
		reason:  "forbidden",
		message: "Requests from referer <empty> are blocked.",
	}
	g, _ := newTestGateway(t, api)

	_, err := g.ResolveChannel(context.Background(), chanA)
	var ad *AccessDeniedError
	require.ErrorAs(t, err, &ad)
	assert.Equal(t, "Requests from referer <empty> are blocked.", ad.Message)
}

func TestResolveChannelRetriesTransientFailures(t *testing.T) {
	api := newFakeAPI()
	api.channels[chanA] = "Alpha"
	api.transient = 2
	g, m := newTestGateway(t, api)

	info, err := g.ResolveChannel(context.Background(), chanA)
	require.NoError(t, err)
	assert.Equal(t, "Alpha", info.Title)
	assert.Equal(t, 3, api.calls["channels"])
	assert.NotNil(t, m.GatewayCalls)
}

func channelsFor(ids ...string) []model.Channel {
	out := make([]model.Channel, len(ids))
	for i, id := range ids {
		out[i] = model.Channel{ID: id, Title: "title-" + id[2:4], UploadsPlaylistID: "UU" + id[2:]}
	}
	return out
}

func addFeed(api *fakeAPI, channelID string, n int, age time.Duration) []string {
	var ids []string
	for i := 0; i < n; i++ {
		id := fmt.Sprintf("%s-v%03d", channelID[2:5], i)
		api.feeds["UU"+channelID[2:]] = append(api.feeds["UU"+channelID[2:]], feedItem{videoID: id, published: testNow.Add(-age)})
		api.videos[id] = fakeVideo{id: id, title: "video " + id, duration: "PT10M"}
		ids = append(ids, id)
	}
	return ids
}

func TestFetchRecentVideosChunksDetails(t *testing.T) {
	api := newFakeAPI()
	addFeed(api, chanA, 50, 24*time.Hour)
	addFeed(api, chanB, 50, 24*time.Hour)
	addFeed(api, chanC, 37, 24*time.Hour)
	g, _ := newTestGateway(t, api)

	videos, err := g.FetchRecentVideos(context.Background(), channelsFor(chanA, chanB, chanC), 30)
	require.NoError(t, err)

	assert.Len(t, videos, 137)
	assert.Equal(t, []int{50, 50, 37}, api.chunkSizes)
	assert.Equal(t, 3, api.calls["videos"])
}

func TestFetchRecentVideosFeedLimitScalesWithWindow(t *testing.T) {
	tests := []struct {
		days int
		want string
	}{
		{7, "20"},
		{30, "50"},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprint(tt.days), func(t *testing.T) {
			api := newFakeAPI()
			addFeed(api, chanA, 1, time.Hour)
			g, _ := newTestGateway(t, api)

			_, err := g.FetchRecentVideos(context.Background(), channelsFor(chanA), tt.days)
			require.NoError(t, err)
			assert.Equal(t, []string{tt.want}, api.feedLimits)
		})
	}
}

func TestFetchRecentVideosFiltersByWindow(t *testing.T) {
	api := newFakeAPI()
	recent := addFeed(api, chanA, 2, 3*24*time.Hour)
	api.feeds["UU"+chanA[2:]] = append(api.feeds["UU"+chanA[2:]],
		feedItem{videoID: "old", published: testNow.AddDate(0, 0, -8)},
		feedItem{videoID: "future", published: testNow.Add(time.Hour)},
	)
	api.videos["old"] = fakeVideo{id: "old", duration: "PT1M"}
	api.videos["future"] = fakeVideo{id: "future", duration: "PT1M"}
	g, _ := newTestGateway(t, api)

	videos, err := g.FetchRecentVideos(context.Background(), channelsFor(chanA), 7)
	require.NoError(t, err)

	var got []string
	for _, v := range videos {
		got = append(got, v.ID)
	}
	assert.ElementsMatch(t, recent, got)
}

func TestFetchRecentVideosSkipsFailedFeed(t *testing.T) {
	api := newFakeAPI()
	a := addFeed(api, chanA, 3, time.Hour)
	addFeed(api, chanB, 3, time.Hour)
	c := addFeed(api, chanC, 2, time.Hour)
	api.feedFailures["UU"+chanB[2:]] = &apiFailure{status: 404, reason: "playlistNotFound", message: "not found"}
	g, _ := newTestGateway(t, api)

	videos, err := g.FetchRecentVideos(context.Background(), channelsFor(chanA, chanB, chanC), 30)
	require.NoError(t, err)

	var got []string
	for _, v := range videos {
		got = append(got, v.ID)
		assert.NotEqual(t, chanB, v.ChannelID)
	}
	assert.ElementsMatch(t, append(a, c...), got)
}

func TestFetchRecentVideosOmitsFailedChunk(t *testing.T) {
	api := newFakeAPI()
	addFeed(api, chanA, 50, time.Hour)
	addFeed(api, chanB, 20, time.Hour)
	api.chunkFailure[0] = &apiFailure{status: 400, reason: "badRequest", message: "bad"}
	g, _ := newTestGateway(t, api)

	videos, err := g.FetchRecentVideos(context.Background(), channelsFor(chanA, chanB), 30)
	require.NoError(t, err)
	assert.Len(t, videos, 20)
	assert.Equal(t, 2, api.calls["videos"])
}

func TestFetchRecentVideosAllFeedsFail(t *testing.T) {
	api := newFakeAPI()
	quota := &apiFailure{status: 403, reason: "quotaExceeded", message: "quota exceeded"}
	api.feedFailures["UU"+chanA[2:]] = quota
	api.feedFailures["UU"+chanB[2:]] = quota
	g, _ := newTestGateway(t, api)

	videos, err := g.FetchRecentVideos(context.Background(), channelsFor(chanA, chanB), 30)
	assert.Nil(t, videos)
	var qe *QuotaExceededError
	assert.ErrorAs(t, err, &qe)
}

func TestFetchRecentVideosMapsFields(t *testing.T) {
	api := newFakeAPI()
	api.feeds["UU"+chanA[2:]] = []feedItem{
		{videoID: "short1", published: testNow.Add(-time.Hour)},
		{videoID: "long1", published: testNow.Add(-time.Hour)},
	}
	api.videos["short1"] = fakeVideo{id: "short1", title: "Short", duration: "PT2M59S", views: "900"}
	api.videos["long1"] = fakeVideo{id: "long1", title: "Long", duration: "PT12M", views: "12345"}
	g, _ := newTestGateway(t, api)

	videos, err := g.FetchRecentVideos(context.Background(), channelsFor(chanA), 30)
	require.NoError(t, err)
	require.Len(t, videos, 2)

	byID := map[string]model.Video{}
	for _, v := range videos {
		byID[v.ID] = v
	}
	assert.True(t, byID["short1"].IsShort)
	assert.False(t, byID["long1"].IsShort)
	assert.Equal(t, int64(12345), byID["long1"].ViewCount)
	assert.Equal(t, int64(2), byID["long1"].LikeCount)
	assert.Equal(t, chanA, byID["long1"].ChannelID)
	assert.Equal(t, "title-aa", byID["long1"].ChannelTitle)
	assert.Equal(t, "https://img/m/long1", byID["long1"].ThumbnailURL)
}

func TestFetchRecentVideosMalformedCountsDefaultToZero(t *testing.T) {
	api := newFakeAPI()
	api.feeds["UU"+chanA[2:]] = []feedItem{
		{videoID: "good", published: testNow.Add(-time.Hour)},
		{videoID: "bad", published: testNow.Add(-time.Hour)},
	}
	api.videos["good"] = fakeVideo{id: "good", duration: "PT10M", views: "420"}
	api.videos["bad"] = fakeVideo{id: "bad", duration: "PT10M", views: "n/a"}
	g, _ := newTestGateway(t, api)

	videos, err := g.FetchRecentVideos(context.Background(), channelsFor(chanA), 30)
	require.NoError(t, err)
	require.Len(t, videos, 2)

	byID := map[string]model.Video{}
	for _, v := range videos {
		byID[v.ID] = v
	}
	assert.Equal(t, int64(420), byID["good"].ViewCount)
	assert.Zero(t, byID["bad"].ViewCount)
	assert.Equal(t, int64(2), byID["bad"].LikeCount)
	assert.Equal(t, 1, api.calls["videos"])
}

func TestFetchRecentVideosUnreadableBodyIsNotRetried(t *testing.T) {
	api := newFakeAPI()
	addFeed(api, chanA, 2, time.Hour)
	api.videosBody = `{"items": [{"id": "x", "snippet": 7}]}`
	g, _ := newTestGateway(t, api)

	videos, err := g.FetchRecentVideos(context.Background(), channelsFor(chanA), 30)
	assert.Nil(t, videos)
	var de *DecodeError
	assert.ErrorAs(t, err, &de)
	assert.Equal(t, 1, api.calls["videos"])
}

func TestRetryable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"canceled", context.Canceled, false},
		{"circuit open", transport.ErrCircuitOpen, false},
		{"backend error", &googleapi.Error{Code: 503}, true},
		{"bad request", &googleapi.Error{Code: 400}, false},
		{"quota", &googleapi.Error{Code: 403, Message: "quota exceeded"}, false},
		{"transport 502", &transport.StatusError{Host: "x", StatusCode: 502}, true},
		{"transport 429", &transport.StatusError{Host: "x", StatusCode: 429}, false},
		{"network", &net.OpError{Op: "dial", Err: errors.New("connection refused")}, true},
		{"truncated body", &DecodeError{Endpoint: "videos", Err: io.ErrUnexpectedEOF}, true},
		{"bad json", &DecodeError{Endpoint: "videos", Err: &json.SyntaxError{}}, false},
		{"string tag", errors.New("json: invalid use of ,string struct tag"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, retryable(tt.err))
		})
	}
}

func TestResolveChannelMalformedSubscriberCount(t *testing.T) {
	api := newFakeAPI()
	api.channels[chanA] = "A"
	api.subscribers = "hidden"
	g, _ := newTestGateway(t, api)

	info, err := g.ResolveChannel(context.Background(), chanA)
	require.NoError(t, err)
	assert.Equal(t, "A", info.Title)
	assert.Equal(t, "0", info.SubscriberCount)
	assert.Equal(t, 1, api.calls["channels"])
}

func TestFetchRecentVideosNoChannels(t *testing.T) {
	api := newFakeAPI()
	g, _ := newTestGateway(t, api)

	videos, err := g.FetchRecentVideos(context.Background(), nil, 30)
	require.NoError(t, err)
	assert.Empty(t, videos)
	assert.Zero(t, api.calls["playlistItems"])
}

func TestFetchAnalyticsReport(t *testing.T) {
	api := newFakeAPI()
	api.reportRows = [][]any{
		{"2024-06-01", 120, 300, 95, 3, 1.25},
		{"2024-06-02", 80, 200, 90, 0, 0.5},
	}
	g, _ := newTestGateway(t, api)

	points, err := g.FetchAnalyticsReport(context.Background(), "tok-123", 30)
	require.NoError(t, err)
	require.Len(t, points, 2)

	assert.Equal(t, model.AnalyticsPoint{
		Date: "2024-06-01", Views: 120, EstimatedMinutesWatched: 300,
		AverageViewDuration: 95, SubscribersGained: 3, EstimatedRevenue: 1.25,
	}, points[0])
	assert.Equal(t, "Bearer tok-123", api.lastAuth)
	assert.Equal(t, "channel==MINE", api.lastReport["ids"])
	assert.Equal(t, "day", api.lastReport["dimensions"])
	assert.Equal(t, "day", api.lastReport["sort"])
	assert.Equal(t, "2024-05-31", api.lastReport["startDate"])
	assert.Equal(t, "2024-06-30", api.lastReport["endDate"])
	assert.Equal(t, analyticsMetrics, api.lastReport["metrics"])
}

func TestFetchAnalyticsReportNoRows(t *testing.T) {
	api := newFakeAPI()
	g, _ := newTestGateway(t, api)

	points, err := g.FetchAnalyticsReport(context.Background(), "tok", 7)
	require.NoError(t, err)
	assert.NotNil(t, points)
	assert.Empty(t, points)
}

func TestFetchAnalyticsReportAuthError(t *testing.T) {
	api := newFakeAPI()
	api.reportFailure = &apiFailure{status: 401, reason: "authError", message: "Invalid Credentials"}
	g, _ := newTestGateway(t, api)

	_, err := g.FetchAnalyticsReport(context.Background(), "expired", 7)
	var ae *AuthError
	require.ErrorAs(t, err, &ae)
	assert.Equal(t, 1, api.calls["analytics"])

	_, err = g.FetchAnalyticsReport(context.Background(), "", 7)
	require.True(t, errors.As(err, &ae))
}

package youtube

import (
	"context"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"google.golang.org/api/youtube/v3"

	"ytdash/model"
)

// MaxIDsPerRequest is the most ids videos.list accepts in one call.
const MaxIDsPerRequest = 50

// feedEntry is a video id found in a channel's upload feed.
type feedEntry struct {
	videoID      string
	channelID    string
	channelTitle string
}

// FetchRecentVideos returns the videos the channels published in the last
// days days. Upload feeds are read concurrently and a failing feed is
// skipped; details are then fetched in chunks of MaxIDsPerRequest and a
// failing chunk is omitted. An error is returned only when nothing could be
// fetched at all, so a total outage does not look like an empty period.
func (g *Gateway) FetchRecentVideos(ctx context.Context, channels []model.Channel, days int) ([]model.Video, error) {
	if len(channels) == 0 {
		return nil, nil
	}
	if days <= 0 {
		return nil, &InvalidInputError{Field: "days", Reason: "must be positive"}
	}

	start := g.now()
	entries, err := g.collectFeeds(ctx, channels, days)
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return nil, nil
	}

	videos, err := g.fetchDetails(ctx, entries)
	g.metrics.ObserveFetch(g.now().Sub(start).Seconds())
	return videos, err
}

func (g *Gateway) collectFeeds(ctx context.Context, channels []model.Channel, days int) ([]feedEntry, error) {
	maxResults := int64(20)
	if days > 7 {
		maxResults = 50
	}
	now := g.now()
	cutoff := now.AddDate(0, 0, -days)

	var (
		mu       sync.Mutex
		entries  []feedEntry
		failures int
		firstErr error
	)

	eg := new(errgroup.Group)
	eg.SetLimit(g.workers)
	for _, ch := range channels {
		eg.Go(func() error {
			items, err := g.uploads(ctx, ch, maxResults)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				g.logger.Warn().Err(err).Str("channel_id", ch.ID).Str("channel", ch.Title).
					Msg("upload feed fetch failed, skipping channel")
				failures++
				if firstErr == nil {
					firstErr = err
				}
				return nil
			}
			for _, item := range items {
				if item.ContentDetails == nil {
					continue
				}
				published, ok := playlistItemPublished(item)
				if !ok || published.Before(cutoff) || published.After(now) {
					continue
				}
				entries = append(entries, feedEntry{
					videoID:      item.ContentDetails.VideoId,
					channelID:    ch.ID,
					channelTitle: ch.Title,
				})
			}
			return nil
		})
	}
	eg.Wait()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if failures == len(channels) {
		return nil, firstErr
	}
	return entries, nil
}

func (g *Gateway) uploads(ctx context.Context, ch model.Channel, maxResults int64) ([]*youtube.PlaylistItem, error) {
	playlist := ch.UploadsPlaylistID
	if playlist == "" && strings.HasPrefix(ch.ID, "UC") {
		playlist = "UU" + ch.ID[2:]
	}
	if playlist == "" {
		return nil, &InvalidInputError{Field: "uploads playlist", Reason: "unknown for channel " + ch.ID}
	}

	var items []*youtube.PlaylistItem
	err := g.call(ctx, endpointPlaylistItems, ch.ID, func(ctx context.Context) error {
		resp, err := g.data.PlaylistItems.List([]string{"snippet", "contentDetails"}).
			PlaylistId(playlist).
			MaxResults(maxResults).
			Context(ctx).
			Do()
		if err != nil {
			return err
		}
		items = resp.Items
		return nil
	})
	return items, err
}

func playlistItemPublished(item *youtube.PlaylistItem) (time.Time, bool) {
	raw := ""
	if item.Snippet != nil {
		raw = item.Snippet.PublishedAt
	}
	if raw == "" {
		raw = item.ContentDetails.VideoPublishedAt
	}
	t, err := time.Parse(time.RFC3339, raw)
	return t, err == nil
}

func (g *Gateway) fetchDetails(ctx context.Context, entries []feedEntry) ([]model.Video, error) {
	owner := make(map[string]feedEntry, len(entries))
	ids := make([]string, 0, len(entries))
	for _, e := range entries {
		if _, dup := owner[e.videoID]; dup {
			continue
		}
		owner[e.videoID] = e
		ids = append(ids, e.videoID)
	}

	var (
		videos   []model.Video
		chunks   int
		failures int
		firstErr error
	)
	for start := 0; start < len(ids); start += MaxIDsPerRequest {
		end := min(start+MaxIDsPerRequest, len(ids))
		chunk := ids[start:end]
		chunks++

		var resp videoListResponse
		err := g.call(ctx, endpointVideos, strings.Join(chunk, ","), func(ctx context.Context) error {
			resp = videoListResponse{}
			return g.getData(ctx, endpointVideos, url.Values{
				"part": {"snippet,statistics,contentDetails"},
				"id":   {strings.Join(chunk, ",")},
			}, &resp)
		})
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			g.logger.Error().Err(err).Int("chunk_size", len(chunk)).Msg("video detail chunk failed, omitting")
			failures++
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		for _, item := range resp.Items {
			videos = append(videos, g.toVideo(item, owner[item.ID]))
		}
	}

	if failures == chunks {
		return nil, firstErr
	}
	return videos, nil
}

func (g *Gateway) toVideo(item *videoResource, owner feedEntry) model.Video {
	v := model.Video{
		ID:           item.ID,
		ChannelID:    owner.channelID,
		ChannelTitle: owner.channelTitle,
	}
	if s := item.Snippet; s != nil {
		v.Title = s.Title
		if v.ChannelID == "" {
			v.ChannelID = s.ChannelId
		}
		if v.ChannelTitle == "" {
			v.ChannelTitle = s.ChannelTitle
		}
		if t, err := time.Parse(time.RFC3339, s.PublishedAt); err == nil {
			v.PublishedAt = t
		}
		if th := s.Thumbnails; th != nil {
			switch {
			case th.Medium != nil:
				v.ThumbnailURL = th.Medium.Url
			case th.Default != nil:
				v.ThumbnailURL = th.Default.Url
			}
		}
	}
	if st := item.Statistics; st != nil {
		v.ViewCount = int64(st.ViewCount)
		v.LikeCount = int64(st.LikeCount)
		v.CommentCount = int64(st.CommentCount)
	}
	if cd := item.ContentDetails; cd != nil {
		v.Duration = cd.Duration
	}
	v.IsShort = IsShortForm(v.Duration, g.threshold)
	return v
}

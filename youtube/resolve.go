package youtube

import (
	"context"
	"net/url"
	"strings"
)

const channelParts = "snippet,contentDetails,statistics"

// ResolveChannel turns a channel ID, @handle or free-text query into channel
// metadata. Raw IDs and handles cost one quota unit; anything else, or a
// handle with no match, falls back to search (100 units). Results are
// cached for the gateway's lifetime.
func (g *Gateway) ResolveChannel(ctx context.Context, identifier string) (ChannelInfo, error) {
	id := strings.TrimSpace(identifier)
	if id == "" {
		return ChannelInfo{}, &InvalidInputError{Field: "identifier", Reason: "must not be empty"}
	}
	if info, ok := g.resolved.Get(id); ok {
		g.logger.Debug().Str("identifier", id).Msg("resolve cache hit")
		return info, nil
	}

	info, err := g.resolve(ctx, id)
	if err != nil {
		return ChannelInfo{}, err
	}
	g.resolved.Add(id, info)
	return info, nil
}

func (g *Gateway) resolve(ctx context.Context, id string) (ChannelInfo, error) {
	if isRawChannelID(id) {
		info, ok, err := g.channelsList(ctx, id, "id", id)
		if err != nil {
			return ChannelInfo{}, err
		}
		if ok {
			return info, nil
		}
	}

	if strings.HasPrefix(id, "@") {
		info, ok, err := g.channelsList(ctx, id, "forHandle", id)
		if err != nil {
			return ChannelInfo{}, err
		}
		if ok {
			return info, nil
		}
	}

	g.logger.Warn().Str("identifier", id).Int("quota_units", quotaCost[endpointSearch]).
		Msg("resolving channel with search")

	var found string
	err := g.call(ctx, endpointSearch, id, func(ctx context.Context) error {
		resp, err := g.data.Search.List([]string{"snippet"}).
			Q(id).
			Type("channel").
			MaxResults(1).
			Context(ctx).
			Do()
		if err != nil {
			return err
		}
		if len(resp.Items) > 0 && resp.Items[0].Id != nil {
			found = resp.Items[0].Id.ChannelId
		}
		return nil
	})
	if err != nil {
		return ChannelInfo{}, err
	}
	if found == "" {
		return ChannelInfo{}, &NotFoundError{Identifier: id}
	}

	info, ok, err := g.channelsList(ctx, id, "id", found)
	if err != nil {
		return ChannelInfo{}, err
	}
	if !ok {
		return ChannelInfo{}, &NotFoundError{Identifier: id}
	}
	return info, nil
}

// channelsList runs one channels.list call filtered by param=value; ok is
// false when nothing matched.
func (g *Gateway) channelsList(ctx context.Context, subject, param, value string) (ChannelInfo, bool, error) {
	var (
		info ChannelInfo
		ok   bool
	)
	err := g.call(ctx, endpointChannels, subject, func(ctx context.Context) error {
		var resp channelListResponse
		if err := g.getData(ctx, endpointChannels, url.Values{"part": {channelParts}, param: {value}}, &resp); err != nil {
			return err
		}
		if len(resp.Items) == 0 {
			return nil
		}
		info, ok = toChannelInfo(resp.Items[0]), true
		return nil
	})
	return info, ok, err
}

func toChannelInfo(c *channelResource) ChannelInfo {
	info := ChannelInfo{ID: c.ID}
	if s := c.Snippet; s != nil {
		info.Title = s.Title
		info.Handle = s.CustomUrl
		if s.Thumbnails != nil && s.Thumbnails.Default != nil {
			info.ThumbnailURL = s.Thumbnails.Default.Url
		}
	}
	if cd := c.ContentDetails; cd != nil && cd.RelatedPlaylists != nil {
		info.UploadsPlaylistID = cd.RelatedPlaylists.Uploads
	}
	if st := c.Statistics; st != nil && !st.HiddenSubscriberCount {
		info.SubscriberCount = formatCount(st.SubscriberCount)
	}
	return info
}

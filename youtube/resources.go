package youtube

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"google.golang.org/api/googleapi"
	"google.golang.org/api/youtube/v3"
)

// count is a statistics counter. The API sends counts as decimal strings;
// an absent, null or malformed value decodes to 0 instead of failing the
// whole response.
type count int64

func (c *count) UnmarshalJSON(b []byte) error {
	b = bytes.Trim(bytes.TrimSpace(b), `"`)
	*c = count(ParseCount(string(b)))
	return nil
}

// videoResource is the part of a videos.list item the gateway reads. Counts
// are decoded leniently; youtube.VideoStatistics rejects the whole page on a
// single bad value.
type videoResource struct {
	ID             string                       `json:"id"`
	Snippet        *youtube.VideoSnippet        `json:"snippet"`
	ContentDetails *youtube.VideoContentDetails `json:"contentDetails"`
	Statistics     *struct {
		ViewCount    count `json:"viewCount"`
		LikeCount    count `json:"likeCount"`
		CommentCount count `json:"commentCount"`
	} `json:"statistics"`
}

type videoListResponse struct {
	Items []*videoResource `json:"items"`
}

// channelResource is the part of a channels.list item the gateway reads.
type channelResource struct {
	ID             string                         `json:"id"`
	Snippet        *youtube.ChannelSnippet        `json:"snippet"`
	ContentDetails *youtube.ChannelContentDetails `json:"contentDetails"`
	Statistics     *struct {
		SubscriberCount       count `json:"subscriberCount"`
		HiddenSubscriberCount bool  `json:"hiddenSubscriberCount"`
	} `json:"statistics"`
}

type channelListResponse struct {
	Items []*channelResource `json:"items"`
}

// DecodeError is a response body that could not be read. Sending the same
// request again yields the same body, so it is never retried.
type DecodeError struct {
	Endpoint string
	Err      error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("youtube %s: decode response: %v", e.Endpoint, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// getData issues a Data API GET through the gateway's HTTP client and
// decodes the JSON body into out. Status errors come back as
// *googleapi.Error, like the generated calls return them.
func (g *Gateway) getData(ctx context.Context, endpoint string, params url.Values, out any) error {
	params.Set("alt", "json")
	params.Set("prettyPrint", "false")
	u := googleapi.ResolveRelative(g.data.BasePath, "youtube/v3/"+endpoint) + "?" + params.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	res, err := g.dataClient.Do(req)
	if err != nil {
		return err
	}
	defer googleapi.CloseBody(res)
	if err := googleapi.CheckResponse(res); err != nil {
		return err
	}
	if err := json.NewDecoder(res.Body).Decode(out); err != nil {
		return &DecodeError{Endpoint: endpoint, Err: err}
	}
	return nil
}

func formatCount(c count) string {
	return strconv.FormatInt(int64(c), 10)
}

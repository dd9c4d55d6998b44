// Package stats derives the dashboard's aggregate numbers from cached videos.
// Every function is pure and leaves its input slices untouched.
package stats

import (
	"cmp"
	"fmt"
	"math"
	"slices"
	"strconv"
	"strings"
	"time"

	"ytdash/model"
	"ytdash/youtube"
)

// Scope narrows videos to the selection: a channel wins over a folder, and an
// empty selection keeps everything.
func Scope(videos []model.Video, channels []model.Channel, sel model.Selection) []model.Video {
	switch {
	case sel.ChannelID != "":
		return filter(videos, func(v model.Video) bool { return v.ChannelID == sel.ChannelID })
	case sel.FolderID != "":
		inFolder := make(map[string]bool)
		for _, ch := range channels {
			if ch.FolderID == sel.FolderID {
				inFolder[ch.ID] = true
			}
		}
		return filter(videos, func(v model.Video) bool { return inFolder[v.ChannelID] })
	default:
		return slices.Clone(videos)
	}
}

// LongForm drops short-form videos.
func LongForm(videos []model.Video) []model.Video {
	return filter(videos, func(v model.Video) bool { return !v.IsShort })
}

func filter(videos []model.Video, keep func(model.Video) bool) []model.Video {
	out := make([]model.Video, 0, len(videos))
	for _, v := range videos {
		if keep(v) {
			out = append(out, v)
		}
	}
	return out
}

// Summary holds per-video averages, rounded to the nearest integer.
type Summary struct {
	Count       int
	AvgViews    int64
	AvgLikes    int64
	AvgComments int64
}

// Summarize averages views, likes and comments over videos.
func Summarize(videos []model.Video) Summary {
	n := len(videos)
	if n == 0 {
		return Summary{}
	}
	var views, likes, comments int64
	for _, v := range videos {
		views += v.ViewCount
		likes += v.LikeCount
		comments += v.CommentCount
	}
	return Summary{
		Count:       n,
		AvgViews:    roundDiv(views, n),
		AvgLikes:    roundDiv(likes, n),
		AvgComments: roundDiv(comments, n),
	}
}

func roundDiv(total int64, n int) int64 {
	return int64(math.Round(float64(total) / float64(n)))
}

// TopByViews returns at most n videos with the most views.
func TopByViews(videos []model.Video, n int) []model.Video {
	sorted := Sort(videos, ViewsDesc)
	if n < 0 {
		n = 0
	}
	return sorted[:min(n, len(sorted))]
}

// SortOption orders the video table.
type SortOption string

const (
	ViewsDesc    SortOption = "VIEWS_DESC"
	ViewsAsc     SortOption = "VIEWS_ASC"
	LikesDesc    SortOption = "LIKES_DESC"
	LikesAsc     SortOption = "LIKES_ASC"
	CommentsDesc SortOption = "COMMENTS_DESC"
	CommentsAsc  SortOption = "COMMENTS_ASC"
	DateDesc     SortOption = "DATE_DESC"
	DateAsc      SortOption = "DATE_ASC"

	DefaultSort = ViewsDesc
)

// SortOptions lists every option in display order.
var SortOptions = []SortOption{
	ViewsDesc, ViewsAsc, LikesDesc, LikesAsc, CommentsDesc, CommentsAsc, DateDesc, DateAsc,
}

// ParseSortOption accepts an option name case-insensitively, with "-" or "_".
func ParseSortOption(s string) (SortOption, error) {
	opt := SortOption(strings.ToUpper(strings.ReplaceAll(strings.TrimSpace(s), "-", "_")))
	if !slices.Contains(SortOptions, opt) {
		return "", fmt.Errorf("unknown sort option %q", s)
	}
	return opt, nil
}

// Toggle returns the option a click on column produces: descending
// first, then ascending.
func (o SortOption) Toggle(column string) SortOption {
	column = strings.ToUpper(column)
	if o == SortOption(column+"_DESC") {
		return SortOption(column + "_ASC")
	}
	return SortOption(column + "_DESC")
}

// Sort returns a stably sorted copy of videos. An unknown option keeps the
// input order.
func Sort(videos []model.Video, opt SortOption) []model.Video {
	out := slices.Clone(videos)
	var by func(a, b model.Video) int
	switch opt {
	case ViewsDesc:
		by = func(a, b model.Video) int { return cmp.Compare(b.ViewCount, a.ViewCount) }
	case ViewsAsc:
		by = func(a, b model.Video) int { return cmp.Compare(a.ViewCount, b.ViewCount) }
	case LikesDesc:
		by = func(a, b model.Video) int { return cmp.Compare(b.LikeCount, a.LikeCount) }
	case LikesAsc:
		by = func(a, b model.Video) int { return cmp.Compare(a.LikeCount, b.LikeCount) }
	case CommentsDesc:
		by = func(a, b model.Video) int { return cmp.Compare(b.CommentCount, a.CommentCount) }
	case CommentsAsc:
		by = func(a, b model.Video) int { return cmp.Compare(a.CommentCount, b.CommentCount) }
	case DateDesc:
		by = func(a, b model.Video) int { return b.PublishedAt.Compare(a.PublishedAt) }
	case DateAsc:
		by = func(a, b model.Video) int { return a.PublishedAt.Compare(b.PublishedAt) }
	default:
		return out
	}
	slices.SortStableFunc(out, by)
	return out
}

// EngagementRate is (likes + comments) / views as a percentage.
func EngagementRate(v model.Video) float64 {
	if v.ViewCount == 0 {
		return 0
	}
	return float64(v.LikeCount+v.CommentCount) / float64(v.ViewCount) * 100
}

// ViewsPerHour averages views over the hours since publication, counting
// at least one hour.
func ViewsPerHour(v model.Video, now time.Time) int64 {
	hours := max(now.Sub(v.PublishedAt).Hours(), 1)
	return int64(math.Round(float64(v.ViewCount) / hours))
}

// ChannelStats is the quick-stats panel of a scope.
type ChannelStats struct {
	// Views7d sums views of videos published in the last 7 days.
	Views7d int64
	// GrowthRate compares Views7d with the 7 days before, in percent.
	GrowthRate      float64
	UploadFrequency string
	// AvgDuration is the mean parsed duration of all videos.
	AvgDuration time.Duration
	// Subscribers is 0 when no single channel is selected or it hides them.
	Subscribers int64
}

// ForChannel computes the quick stats of videos. channel may be nil for a
// folder or the whole dashboard.
func ForChannel(videos []model.Video, channel *model.Channel, now time.Time) ChannelStats {
	weekAgo := now.AddDate(0, 0, -7)
	twoWeeksAgo := now.AddDate(0, 0, -14)
	monthAgo := now.AddDate(0, 0, -30)

	var (
		cs        ChannelStats
		prev      int64
		uploads   int
		totalSecs int
	)
	for _, v := range videos {
		switch {
		case !v.PublishedAt.Before(weekAgo):
			cs.Views7d += v.ViewCount
		case !v.PublishedAt.Before(twoWeeksAgo):
			prev += v.ViewCount
		}
		if !v.PublishedAt.Before(monthAgo) {
			uploads++
		}
		totalSecs += youtube.DurationSeconds(v.Duration)
	}

	switch {
	case prev > 0:
		cs.GrowthRate = float64(cs.Views7d-prev) / float64(prev) * 100
	case cs.Views7d > 0:
		cs.GrowthRate = 100
	}
	cs.UploadFrequency = uploadFrequency(uploads)
	if len(videos) > 0 {
		cs.AvgDuration = time.Duration(totalSecs) * time.Second / time.Duration(len(videos))
	}
	if channel != nil {
		cs.Subscribers = youtube.ParseCount(channel.SubscriberCount)
	}
	return cs
}

func uploadFrequency(n int) string {
	switch {
	case n == 0:
		return "No recent uploads"
	case n >= 4:
		return "~" + strconv.Itoa(int(math.Round(float64(n)/4))) + " uploads per week"
	default:
		return "~" + strconv.Itoa(n) + " uploads per month"
	}
}

// FormatDuration renders an average length as "42s" under a minute and
// "7 min" otherwise.
func FormatDuration(d time.Duration) string {
	secs := int(d / time.Second)
	if secs < 60 {
		return strconv.Itoa(secs) + "s"
	}
	return strconv.Itoa(secs/60) + " min"
}

// AnalyticsSummary totals an analytics report.
type AnalyticsSummary struct {
	TotalViews             int64
	TotalRevenue           float64
	TotalSubscribersGained int64
	TotalWatchTimeHours    float64
}

// SummarizeAnalytics sums the report's daily points.
func SummarizeAnalytics(points []model.AnalyticsPoint) AnalyticsSummary {
	var s AnalyticsSummary
	var minutes int64
	for _, p := range points {
		s.TotalViews += p.Views
		s.TotalRevenue += p.EstimatedRevenue
		s.TotalSubscribersGained += p.SubscribersGained
		minutes += p.EstimatedMinutesWatched
	}
	s.TotalWatchTimeHours = float64(minutes) / 60
	return s
}

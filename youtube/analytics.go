package youtube

import (
	"context"
	"fmt"
	"math"
	"net/http"
	"strconv"
	"time"

	"golang.org/x/oauth2"
	"google.golang.org/api/option"
	"google.golang.org/api/youtubeanalytics/v2"

	"ytdash/model"
)

const analyticsMetrics = "views,estimatedMinutesWatched,averageViewDuration,subscribersGained,estimatedRevenue"

// FetchAnalyticsReport returns the authenticated channel's daily metrics for
// the last days days (UTC calendar dates, both ends inclusive). A missing or
// rejected token yields AuthError; a report without rows yields an empty
// slice.
func (g *Gateway) FetchAnalyticsReport(ctx context.Context, accessToken string, days int) ([]model.AnalyticsPoint, error) {
	if accessToken == "" {
		return nil, &AuthError{}
	}
	if days <= 0 {
		return nil, &InvalidInputError{Field: "days", Reason: "must be positive"}
	}

	svc, err := g.analyticsService(ctx, accessToken)
	if err != nil {
		return nil, err
	}

	end := g.now().UTC()
	start := end.AddDate(0, 0, -days)

	var resp *youtubeanalytics.QueryResponse
	err = g.call(ctx, endpointAnalytics, "channel==MINE", func(ctx context.Context) error {
		r, err := svc.Reports.Query().
			Ids("channel==MINE").
			StartDate(start.Format(time.DateOnly)).
			EndDate(end.Format(time.DateOnly)).
			Metrics(analyticsMetrics).
			Dimensions("day").
			Sort("day").
			Context(ctx).
			Do()
		if err != nil {
			return err
		}
		resp = r
		return nil
	})
	if err != nil {
		return nil, err
	}
	return reportPoints(resp), nil
}

func (g *Gateway) analyticsService(ctx context.Context, accessToken string) (*youtubeanalytics.Service, error) {
	client := &http.Client{
		Timeout: g.timeout,
		Transport: &oauth2.Transport{
			Source: oauth2.StaticTokenSource(&oauth2.Token{AccessToken: accessToken, TokenType: "Bearer"}),
			Base:   g.analyticsBase,
		},
	}
	opts := []option.ClientOption{option.WithHTTPClient(client)}
	if g.analyticsURL != "" {
		opts = append(opts, option.WithEndpoint(g.analyticsURL))
	}
	svc, err := youtubeanalytics.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create analytics service: %w", err)
	}
	return svc, nil
}

// reportPoints maps rows by column header name, falling back to the
// requested column order when headers are absent.
func reportPoints(resp *youtubeanalytics.QueryResponse) []model.AnalyticsPoint {
	if resp == nil || len(resp.Rows) == 0 {
		return []model.AnalyticsPoint{}
	}

	cols := map[string]int{
		"day": 0, "views": 1, "estimatedMinutesWatched": 2,
		"averageViewDuration": 3, "subscribersGained": 4, "estimatedRevenue": 5,
	}
	if len(resp.ColumnHeaders) > 0 {
		cols = make(map[string]int, len(resp.ColumnHeaders))
		for i, h := range resp.ColumnHeaders {
			cols[h.Name] = i
		}
	}

	points := make([]model.AnalyticsPoint, 0, len(resp.Rows))
	for _, row := range resp.Rows {
		cell := func(name string) any {
			i, ok := cols[name]
			if !ok || i >= len(row) {
				return nil
			}
			return row[i]
		}
		date, _ := cell("day").(string)
		points = append(points, model.AnalyticsPoint{
			Date:                    date,
			Views:                   toInt(cell("views")),
			EstimatedMinutesWatched: toInt(cell("estimatedMinutesWatched")),
			AverageViewDuration:     toInt(cell("averageViewDuration")),
			SubscribersGained:       toInt(cell("subscribersGained")),
			EstimatedRevenue:        toFloat(cell("estimatedRevenue")),
		})
	}
	return points
}

func toFloat(v any) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case string:
		f, _ := strconv.ParseFloat(n, 64)
		return f
	default:
		return 0
	}
}

func toInt(v any) int64 {
	return int64(math.Round(toFloat(v)))
}

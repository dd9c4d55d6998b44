// Package model defines the dashboard's domain types shared by every layer.
package model

import (
	"fmt"
	"strconv"
	"time"
)

// Channel is a YouTube channel registered on the dashboard.
type Channel struct {
	ID                string `json:"id"`
	Title             string `json:"title"`
	Handle            string `json:"handle,omitempty"`
	ThumbnailURL      string `json:"thumbnailUrl"`
	UploadsPlaylistID string `json:"uploadsCollectionId"`
	FolderID          string `json:"folderId"`
	SubscriberCount   string `json:"subscriberCount,omitempty"`
}

// Folder groups channels locally. IDs are never reused.
type Folder struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Video is a single upload with its statistics at fetch time.
type Video struct {
	ID           string    `json:"id"`
	ChannelID    string    `json:"channelId"`
	ChannelTitle string    `json:"channelTitle"`
	Title        string    `json:"title"`
	ThumbnailURL string    `json:"thumbnailUrl"`
	PublishedAt  time.Time `json:"publishedAt"`
	ViewCount    int64     `json:"viewCount"`
	LikeCount    int64     `json:"likeCount"`
	CommentCount int64     `json:"commentCount"`
	// Duration is the raw ISO-8601 token, parsed on demand.
	Duration string `json:"duration"`
	IsShort  bool   `json:"isShort"`
}

// Period is the trailing analysis window in days.
type Period int

// Supported analysis windows.
const (
	Period7  Period = 7
	Period30 Period = 30

	DefaultPeriod = Period30
)

// Days returns the window length as an int.
func (p Period) Days() int { return int(p) }

// Valid reports whether p is one of the supported windows.
func (p Period) Valid() bool { return p == Period7 || p == Period30 }

func (p Period) String() string { return strconv.Itoa(int(p)) + "d" }

// ParsePeriod converts "7" or "30" (optionally suffixed with "d") to a Period.
func ParsePeriod(s string) (Period, error) {
	if n := len(s); n > 0 && s[n-1] == 'd' {
		s = s[:n-1]
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("invalid period %q: %w", s, err)
	}
	p := Period(n)
	if !p.Valid() {
		return 0, fmt.Errorf("invalid period %q: must be 7 or 30", s)
	}
	return p, nil
}

// AnalyticsPoint is one calendar day of the authenticated channel's report.
type AnalyticsPoint struct {
	Date                    string  `json:"date"`
	Views                   int64   `json:"views"`
	EstimatedMinutesWatched int64   `json:"estimatedMinutesWatched"`
	AverageViewDuration     int64   `json:"averageViewDuration"`
	SubscribersGained       int64   `json:"subscribersGained"`
	EstimatedRevenue        float64 `json:"estimatedRevenue"`
}

// View identifies which dashboard the user is looking at.
type View int

const (
	ViewDashboard View = iota
	ViewAnalytics
)

func (v View) String() string {
	switch v {
	case ViewDashboard:
		return "dashboard"
	case ViewAnalytics:
		return "analytics"
	default:
		return "unknown"
	}
}

// Selection is the current navigation state. Empty IDs mean "all".
type Selection struct {
	View      View   `json:"view"`
	FolderID  string `json:"folderId,omitempty"`
	ChannelID string `json:"channelId,omitempty"`
}

// ToastKind distinguishes success and error notifications.
type ToastKind string

const (
	ToastSuccess ToastKind = "success"
	ToastError   ToastKind = "error"
)

// ToastLifetime is how long a toast stays visible.
const ToastLifetime = 3 * time.Second

// Toast is a transient, non-persisted notification.
type Toast struct {
	ID        int64
	Message   string
	Kind      ToastKind
	CreatedAt time.Time
}

// Expired reports whether the toast has outlived ToastLifetime at now.
func (t Toast) Expired(now time.Time) bool {
	return now.Sub(t.CreatedAt) >= ToastLifetime
}

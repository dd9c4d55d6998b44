package youtube

import (
	"sync"
	"time"

	"github.com/rs/zerolog"

	"ytdash/internal/metrics"
)

// DailyQuota is the default Data API allowance per key and day.
const DailyQuota = 10000

// Estimated Data API cost per call.
var quotaCost = map[string]int{
	endpointChannels:      1,
	endpointSearch:        100,
	endpointPlaylistItems: 1,
	endpointVideos:        1,
	endpointAnalytics:     0,
}

// QuotaStatus is a snapshot of estimated quota usage.
type QuotaStatus struct {
	Spent     int
	Remaining int
	Exhausted bool
	ResetAt   time.Time
}

// quotaTracker estimates spent units. The estimate resets 24h after the
// window opened; an upstream quota error marks it exhausted until then.
type quotaTracker struct {
	mu        sync.Mutex
	spent     int
	exhausted bool
	windowAt  time.Time
	now       func() time.Time
	metrics   *metrics.Metrics
	logger    zerolog.Logger
}

func newQuotaTracker(now func() time.Time, m *metrics.Metrics, logger zerolog.Logger) *quotaTracker {
	return &quotaTracker{now: now, windowAt: now(), metrics: m, logger: logger}
}

// track records one call to endpoint.
func (q *quotaTracker) track(endpoint string) {
	units := quotaCost[endpoint]
	q.metrics.AddQuota(endpoint, units)

	q.mu.Lock()
	defer q.mu.Unlock()
	q.rollover()

	q.spent += units
	if q.spent >= DailyQuota && !q.exhausted {
		q.exhausted = true
		q.logger.Warn().Int("spent", q.spent).Msg("estimated daily quota used up")
	}
}

// markExhausted records that the upstream rejected a call for quota.
func (q *quotaTracker) markExhausted() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.rollover()
	q.exhausted = true
}

func (q *quotaTracker) status() QuotaStatus {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.rollover()

	return QuotaStatus{
		Spent:     q.spent,
		Remaining: max(0, DailyQuota-q.spent),
		Exhausted: q.exhausted,
		ResetAt:   q.windowAt.Add(24 * time.Hour),
	}
}

// rollover must be called with mu held.
func (q *quotaTracker) rollover() {
	if q.now().Sub(q.windowAt) < 24*time.Hour {
		return
	}
	q.windowAt = q.now()
	q.spent = 0
	q.exhausted = false
	q.logger.Info().Msg("quota estimate reset")
}

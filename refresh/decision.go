package refresh

import (
	"time"

	"ytdash/model"
	"ytdash/state"
)

// DefaultStaleAfter is how long a successful fetch is served before an
// unforced trigger fetches again.
const DefaultStaleAfter = 30 * time.Minute

// Action is what a trigger should do.
type Action int

const (
	// Skip does nothing: the preconditions for a fetch are not met.
	Skip Action = iota
	// Fetch calls the gateway.
	Fetch
	// ServeCache keeps showing the cached data.
	ServeCache
)

func (a Action) String() string {
	switch a {
	case Skip:
		return "skip"
	case Fetch:
		return "fetch"
	case ServeCache:
		return "serve_cache"
	default:
		return "unknown"
	}
}

// Reasons attached to decisions.
const (
	ReasonNoCredential  = "no credential"
	ReasonNoChannels    = "no channels"
	ReasonNoAccessToken = "no access token"
	ReasonForced        = "forced"
	ReasonPeriodChanged = "period changed"
	ReasonNeverFetched  = "never fetched"
	ReasonStale         = "stale"
	ReasonFresh         = "fresh"
)

// Decision is the outcome of Evaluate.
type Decision struct {
	Action Action
	Reason string
}

// Request carries the inputs of an evaluation besides the snapshot.
type Request struct {
	Force bool
	Now   time.Time
	// StaleAfter defaults to DefaultStaleAfter when zero.
	StaleAfter time.Duration
}

func (r Request) staleAfter() time.Duration {
	if r.StaleAfter <= 0 {
		return DefaultStaleAfter
	}
	return r.StaleAfter
}

// Evaluate decides whether the video list needs a fetch. It is pure: the same
// snapshot and request always give the same decision.
func Evaluate(s state.Snapshot, req Request) Decision {
	switch {
	case s.Credential == "":
		return Decision{Skip, ReasonNoCredential}
	case len(s.Channels) == 0:
		return Decision{Skip, ReasonNoChannels}
	}
	return freshness(req, s.Period, s.LastFetchedPeriod, s.LastFetchedAt)
}

// EvaluateAnalytics decides whether the analytics report needs a fetch.
func EvaluateAnalytics(s state.Snapshot, req Request) Decision {
	if s.AccessToken == "" {
		return Decision{Skip, ReasonNoAccessToken}
	}
	return freshness(req, s.Period, s.AnalyticsPeriod, s.AnalyticsFetchedAt)
}

func freshness(req Request, want, have model.Period, at time.Time) Decision {
	switch {
	case req.Force:
		return Decision{Fetch, ReasonForced}
	case at.IsZero():
		return Decision{Fetch, ReasonNeverFetched}
	case want != have:
		return Decision{Fetch, ReasonPeriodChanged}
	case req.Now.Sub(at) >= req.staleAfter():
		return Decision{Fetch, ReasonStale}
	default:
		return Decision{ServeCache, ReasonFresh}
	}
}

package retry

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"
	"time"

	"google.golang.org/api/googleapi"

	"ytdash/transport"
)

// fast keeps backoff short so a full retry run stays in milliseconds.
var fast = Config{MaxRetries: 2, InitialBackoff: time.Millisecond, MaxBackoff: 4 * time.Millisecond, Multiplier: 2}

// upstream classifies errors the way the gateway does: 5xx is transient,
// any other status and an open circuit are final.
func upstream(err error) bool {
	if errors.Is(err, transport.ErrCircuitOpen) {
		return false
	}
	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		return gerr.Code >= http.StatusInternalServerError
	}
	return IsRetryable(err)
}

// script returns fn failing with errs in order, then succeeding, and a
// pointer to the number of calls made.
func script(errs ...error) (func(context.Context) error, *int) {
	calls := 0
	return func(context.Context) error {
		calls++
		if calls <= len(errs) {
			return errs[calls-1]
		}
		return nil
	}, &calls
}

func TestDo(t *testing.T) {
	backend := &googleapi.Error{Code: http.StatusServiceUnavailable, Message: "backend error"}
	badRequest := &googleapi.Error{Code: http.StatusBadRequest, Message: "invalid id"}
	quota := &googleapi.Error{Code: http.StatusForbidden, Message: "quotaExceeded"}

	tests := []struct {
		name      string
		errs      []error
		wantCalls int
		wantErr   error // nil means success
		exhausted bool
	}{
		{"first call succeeds", nil, 1, nil, false},
		{"recovers from one 503", []error{backend}, 2, nil, false},
		{"recovers on last attempt", []error{backend, backend}, 3, nil, false},
		{"400 is not retried", []error{badRequest}, 1, badRequest, false},
		{"quota is not retried", []error{quota}, 1, quota, false},
		{"open circuit is not retried", []error{transport.ErrCircuitOpen}, 1, transport.ErrCircuitOpen, false},
		{"503 until exhausted", []error{backend, backend, backend, backend}, 3, backend, true},
		{"5xx then 4xx stops", []error{backend, badRequest}, 2, badRequest, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fn, calls := script(tt.errs...)
			err := Do(context.Background(), fast, upstream, fn)

			if *calls != tt.wantCalls {
				t.Errorf("calls = %d, want %d", *calls, tt.wantCalls)
			}
			if tt.wantErr == nil {
				if err != nil {
					t.Fatalf("Do() error = %v, want nil", err)
				}
				return
			}
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Do() error = %v, want %v", err, tt.wantErr)
			}
			var re *RetryableError
			if got := errors.As(err, &re); got != tt.exhausted {
				t.Errorf("RetryableError = %v, want %v", got, tt.exhausted)
			}
			if tt.exhausted && re.Retries != fast.MaxRetries {
				t.Errorf("Retries = %d, want %d", re.Retries, fast.MaxRetries)
			}
		})
	}
}

func TestDoNegativeRetriesCallsOnce(t *testing.T) {
	cfg := fast
	cfg.MaxRetries = -1
	fn, calls := script(&googleapi.Error{Code: http.StatusBadGateway})

	if err := Do(context.Background(), cfg, upstream, fn); err == nil {
		t.Fatal("Do() error = nil, want the 502")
	}
	if *calls != 1 {
		t.Errorf("calls = %d, want 1", *calls)
	}
}

func TestDoPermanentIsUnwrapped(t *testing.T) {
	inner := &googleapi.Error{Code: http.StatusNotFound, Message: "channel not found"}
	fn, calls := script(Permanent(inner))

	err := Do(context.Background(), fast, nil, fn)
	if err != inner {
		t.Errorf("Do() error = %v, want the bare 404", err)
	}
	if *calls != 1 {
		t.Errorf("calls = %d, want 1", *calls)
	}
}

func TestDoStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cfg := Config{MaxRetries: 5, InitialBackoff: 50 * time.Millisecond, MaxBackoff: time.Second, Multiplier: 2}
	calls := 0

	err := Do(ctx, cfg, upstream, func(context.Context) error {
		calls++
		cancel()
		return &googleapi.Error{Code: http.StatusInternalServerError}
	})

	if !errors.Is(err, context.Canceled) {
		t.Errorf("Do() error = %v, want context.Canceled", err)
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}

func TestDoStopsAtDeadline(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	cfg := Config{MaxRetries: 10, InitialBackoff: 15 * time.Millisecond, MaxBackoff: 15 * time.Millisecond, Multiplier: 1}

	start := time.Now()
	err := Do(ctx, cfg, upstream, func(context.Context) error {
		return &googleapi.Error{Code: http.StatusServiceUnavailable}
	})

	if err == nil {
		t.Fatal("Do() error = nil, want a deadline failure")
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("Do() ran %v after the deadline", elapsed)
	}
}

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"canceled", context.Canceled, false},
		{"wrapped deadline", fmt.Errorf("videos.list: %w", context.DeadlineExceeded), false},
		{"permanent 404", Permanent(&googleapi.Error{Code: http.StatusNotFound}), false},
		{"unclassified", errors.New("connection reset by peer"), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsRetryable(tt.err); got != tt.want {
				t.Errorf("IsRetryable(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

func TestDefaultConfig(t *testing.T) {
	want := Config{MaxRetries: 3, InitialBackoff: 500 * time.Millisecond, MaxBackoff: 10 * time.Second, Multiplier: 2, JitterFraction: 0.2}
	if got := DefaultConfig(); got != want {
		t.Errorf("DefaultConfig() = %+v, want %+v", got, want)
	}
}

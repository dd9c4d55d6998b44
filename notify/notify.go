// Package notify keeps the short-lived success and error messages shown to
// the user after an operation.
package notify

import (
	"sync"
	"time"

	"github.com/rs/zerolog"

	"ytdash/internal/logging"
	"ytdash/model"
)

// Center collects toasts and fans them out to subscribers. It is safe for
// concurrent use; a nil *Center discards everything.
type Center struct {
	mu     sync.Mutex
	nextID int64
	toasts []model.Toast
	subs   []func(model.Toast)
	now    func() time.Time
	logger zerolog.Logger
}

// New returns an empty Center. A nil now uses time.Now.
func New(logger zerolog.Logger, now func() time.Time) *Center {
	if now == nil {
		now = time.Now
	}
	return &Center{now: now, logger: logging.Component(logger, "notify")}
}

// Success posts a success toast.
func (c *Center) Success(msg string) model.Toast {
	return c.post(msg, model.ToastSuccess)
}

// Error posts an error toast.
func (c *Center) Error(msg string) model.Toast {
	return c.post(msg, model.ToastError)
}

func (c *Center) post(msg string, kind model.ToastKind) model.Toast {
	if c == nil {
		return model.Toast{}
	}
	c.mu.Lock()
	c.nextID++
	t := model.Toast{ID: c.nextID, Message: msg, Kind: kind, CreatedAt: c.now()}
	c.toasts = append(c.toasts, t)
	subs := append([]func(model.Toast){}, c.subs...)
	c.mu.Unlock()

	ev := c.logger.Info()
	if kind == model.ToastError {
		ev = c.logger.Warn()
	}
	ev.Int64("toast_id", t.ID).Msg(msg)

	for _, fn := range subs {
		fn(t)
	}
	return t
}

// Active drops expired toasts and returns the rest, oldest first.
func (c *Center) Active(now time.Time) []model.Toast {
	if c == nil {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	kept := c.toasts[:0]
	for _, t := range c.toasts {
		if !t.Expired(now) {
			kept = append(kept, t)
		}
	}
	c.toasts = kept
	return append([]model.Toast(nil), kept...)
}

// All returns every toast posted since the last Active call pruned them.
func (c *Center) All() []model.Toast {
	if c == nil {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]model.Toast(nil), c.toasts...)
}

// Subscribe registers fn to receive each new toast, called synchronously
// from the posting goroutine. Toasts still visible at subscription time are
// delivered first, so a front end attached after start-up sees them too.
func (c *Center) Subscribe(fn func(model.Toast)) {
	if c == nil || fn == nil {
		return
	}
	now := c.now()
	c.mu.Lock()
	c.subs = append(c.subs, fn)
	var pending []model.Toast
	for _, t := range c.toasts {
		if !t.Expired(now) {
			pending = append(pending, t)
		}
	}
	c.mu.Unlock()

	for _, t := range pending {
		fn(t)
	}
}

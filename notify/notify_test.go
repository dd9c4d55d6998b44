package notify

import (
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ytdash/model"
)

func TestToastsExpire(t *testing.T) {
	start := time.Date(2024, 6, 30, 12, 0, 0, 0, time.UTC)
	clock := start
	c := New(zerolog.Nop(), func() time.Time { return clock })

	first := c.Success("saved")
	clock = start.Add(2 * time.Second)
	second := c.Error("update failed: boom")

	assert.Equal(t, model.ToastSuccess, first.Kind)
	assert.Equal(t, model.ToastError, second.Kind)
	assert.Greater(t, second.ID, first.ID)

	assert.Len(t, c.Active(start.Add(2*time.Second)), 2)

	active := c.Active(start.Add(3 * time.Second))
	require.Len(t, active, 1)
	assert.Equal(t, "update failed: boom", active[0].Message)

	assert.Empty(t, c.Active(start.Add(10*time.Second)))
	assert.Empty(t, c.All())
}

func TestSubscribe(t *testing.T) {
	c := New(zerolog.Nop(), nil)
	var got []string
	c.Subscribe(func(t model.Toast) { got = append(got, t.Message) })
	c.Subscribe(nil)

	c.Success("a")
	c.Error("b")
	assert.Equal(t, []string{"a", "b"}, got)
}

func TestSubscribeReplaysVisibleToasts(t *testing.T) {
	start := time.Date(2024, 6, 30, 12, 0, 0, 0, time.UTC)
	clock := start
	c := New(zerolog.Nop(), func() time.Time { return clock })

	c.Success("old")
	clock = start.Add(2 * time.Second)
	c.Success("loaded shared dashboard")
	clock = start.Add(3 * time.Second)

	var got []string
	c.Subscribe(func(t model.Toast) { got = append(got, t.Message) })
	c.Error("later")
	assert.Equal(t, []string{"loaded shared dashboard", "later"}, got)
}

func TestIDsUniqueUnderConcurrency(t *testing.T) {
	c := New(zerolog.Nop(), nil)
	var wg sync.WaitGroup
	for range 50 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.Success("x")
		}()
	}
	wg.Wait()

	seen := make(map[int64]bool)
	for _, toast := range c.All() {
		assert.False(t, seen[toast.ID])
		seen[toast.ID] = true
	}
	assert.Len(t, seen, 50)
}

func TestNilCenter(t *testing.T) {
	var c *Center
	assert.Zero(t, c.Success("ignored"))
	assert.Nil(t, c.Active(time.Now()))
	c.Subscribe(func(model.Toast) {})
}

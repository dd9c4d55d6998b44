package metrics

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.AddQuota("search", 100)
	m.Call("videos", "ok")
	m.Decision("videos", "fetch")
	m.SetCachedVideos(3)
	m.ObserveFetch(0.5)
	assert.NoError(t, m.WriteTextfile("ignored"))
}

func TestQuotaAndCalls(t *testing.T) {
	m := New()
	m.AddQuota("search", 100)
	m.AddQuota("channels", 1)
	m.AddQuota("channels", 1)
	m.Call("videos", "error")

	assert.Equal(t, 100.0, testutil.ToFloat64(m.QuotaUnits.WithLabelValues("search")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.QuotaUnits.WithLabelValues("channels")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.GatewayCalls.WithLabelValues("videos", "error")))
}

func TestWriteTextfile(t *testing.T) {
	m := New()
	m.SetCachedVideos(42)

	path := filepath.Join(t.TempDir(), "ytdash.prom")
	require.NoError(t, m.WriteTextfile(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(data), "ytdash_cached_videos 42"))
}

package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/annel0/voxedit/internal/voxel"
)

func TestNilMetricsAreNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.ObserveCompose("render", true, time.Millisecond)
		m.LayerError()
		m.SetHistoryNodes(3)
		m.HistoryEviction()
		m.WatchPool(voxel.NewPool(0))
	})
}

func TestCounters(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.ObserveCompose("render", true, time.Millisecond)
	m.ObserveCompose("render", false, 0)
	m.ObserveCompose("render", false, 0)
	m.HistoryEviction()
	m.SetHistoryNodes(7)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.composeTotal.WithLabelValues("render", "recomputed")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.composeTotal.WithLabelValues("render", "cached")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.evictions))
	assert.Equal(t, 7.0, testutil.ToFloat64(m.historyNodes))
}

func TestWatchPool(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)
	pool := voxel.NewPool(0)
	m.WatchPool(pool)

	b, err := pool.New()
	require.NoError(t, err)
	defer b.Release()

	n, err := testutil.GatherAndCount(reg, "voxedit_blocks_live")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

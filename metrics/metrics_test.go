package metrics_test

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joeycumines/go-rootsim/metrics"
)

func gather(t *testing.T, c *metrics.Collector) map[string]*prometheus.Metric {
	t.Helper()
	reg := prometheus.NewPedanticRegistry()
	require.NoError(t, reg.Register(c))
	families, err := reg.Gather()
	require.NoError(t, err)

	out := make(map[string]*prometheus.Metric)
	for _, fam := range families {
		require.Len(t, fam.GetMetric(), 1, fam.GetName())
		out[fam.GetName()] = fam.GetMetric()[0]
	}
	return out
}

func TestCollectorReportsLiveGVT(t *testing.T) {
	c := metrics.New(func() float64 { return 42.5 }, nil)
	m := gather(t, c)
	require.Contains(t, m, "rootsim_gvt")
	assert.Equal(t, 42.5, m["rootsim_gvt"].GetGauge().GetValue())
}

func TestCollectorAccumulatesCounters(t *testing.T) {
	c := metrics.New(func() float64 { return 0 }, nil)
	c.AddRollback()
	c.AddRollback()
	c.AddCheckpoint()
	c.AddFossilCollected(7)
	c.AddFossilCollected(3)

	m := gather(t, c)
	assert.Equal(t, 2.0, m["rootsim_rollbacks_total"].GetCounter().GetValue())
	assert.Equal(t, 1.0, m["rootsim_checkpoints_total"].GetCounter().GetValue())
	assert.Equal(t, 10.0, m["rootsim_fossil_collected_total"].GetCounter().GetValue())
}

func TestCollectorIgnoresNonPositiveFossilCollected(t *testing.T) {
	c := metrics.New(func() float64 { return 0 }, nil)
	c.AddFossilCollected(0)
	c.AddFossilCollected(-1)

	m := gather(t, c)
	assert.Zero(t, m["rootsim_fossil_collected_total"].GetCounter().GetValue())
}

func TestCollectorAppliesConstLabels(t *testing.T) {
	c := metrics.New(func() float64 { return 0 }, prometheus.Labels{"node": "0"})
	reg := prometheus.NewPedanticRegistry()
	require.NoError(t, reg.Register(c))
	families, err := reg.Gather()
	require.NoError(t, err)

	for _, fam := range families {
		require.Len(t, fam.GetMetric(), 1)
		labels := fam.GetMetric()[0].GetLabel()
		require.Len(t, labels, 1)
		assert.Equal(t, "node", labels[0].GetName())
		assert.Equal(t, "0", labels[0].GetValue())
	}
}

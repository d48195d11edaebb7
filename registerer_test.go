package lakescan

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
)

func TestSharedCounterAggregates(t *testing.T) {
	reg := prometheus.NewRegistry()

	a := newMetrics(reg)
	b := newMetrics(reg)

	a.rowsProduced.Add(3)
	b.rowsProduced.Add(4)

	mfs, err := reg.Gather()
	require.NoError(t, err)
	found := false
	for _, mf := range mfs {
		if mf.GetName() != "lakescan_rows_produced_total" {
			continue
		}
		require.Len(t, mf.Metric, 1)
		require.Equal(t, float64(7), mf.Metric[0].Counter.GetValue())
		found = true
	}
	require.True(t, found)
}

func TestSharedCounterNilRegisterer(t *testing.T) {
	c := sharedCounter(nil, prometheus.CounterOpts{Name: "unregistered", Help: "unregistered"})
	c.Inc()
	c.Inc()
}

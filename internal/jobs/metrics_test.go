package jobmetrics

import (
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestTrackerRecordsOutcome(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	require.NoError(t, m.Track("inventory:reconcile").End(nil))
	boom := errors.New("boom")
	require.ErrorIs(t, m.Track("inventory:reconcile").End(boom), boom)

	require.Equal(t, 1.0, testutil.ToFloat64(m.runs.WithLabelValues("inventory:reconcile", "success")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.runs.WithLabelValues("inventory:reconcile", "failure")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.failures.WithLabelValues("inventory:reconcile")))
}

func TestCounters(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())
	m.AddDiscrepancies(3)
	m.AddDiscrepancies(0)
	m.IncLowStock()
	require.Equal(t, 3.0, testutil.ToFloat64(m.discrepancies))
	require.Equal(t, 1.0, testutil.ToFloat64(m.lowStock))

	var nilMetrics *Metrics
	nilMetrics.AddDiscrepancies(1)
	nilMetrics.IncLowStock()
	require.NoError(t, nilMetrics.Track("x").End(nil))
}

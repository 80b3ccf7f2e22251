package observability

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/require"
)

func TestObserveInvocation(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	m.ObserveInvocation("echo_json", "ok", 10*time.Millisecond)
	m.ObserveInvocation("echo_json", "error", 5*time.Millisecond)

	metricFamilies, err := reg.Gather()
	require.NoError(t, err)

	var total float64
	for _, mf := range metricFamilies {
		if mf.GetName() == "autosage_engine_invocations_total" {
			for _, metric := range mf.GetMetric() {
				total += metric.GetCounter().GetValue()
			}
		}
	}
	require.Equal(t, float64(2), total)
}

func TestSetJobStatusCount(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)
	m.SetJobStatusCount("running", 3)

	metricFamilies, err := reg.Gather()
	require.NoError(t, err)
	var found *dto.MetricFamily
	for _, mf := range metricFamilies {
		if mf.GetName() == "autosage_jobs_status_count" {
			found = mf
		}
	}
	require.NotNil(t, found)
	require.Equal(t, float64(3), found.GetMetric()[0].GetGauge().GetValue())
}

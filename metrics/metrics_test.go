package metrics_test

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/payroll-engine/metrics"
)

func TestCollector_ObserveCalculation(t *testing.T) {
	// GIVEN a collector on a private registry
	reg := prometheus.NewRegistry()
	c := metrics.NewCollector(reg)

	// WHEN a success and a failure are observed
	c.ObserveCalculation("MX", nil, 5*time.Millisecond)
	c.ObserveCalculation("MX", errors.New("boom"), time.Millisecond)

	// THEN each outcome counts under its own status label
	assert.Equal(t, float64(1),
		testutil.ToFloat64(c.CalculationsTotal.WithLabelValues("MX", "ok")))
	assert.Equal(t, float64(1),
		testutil.ToFloat64(c.CalculationsTotal.WithLabelValues("MX", "error")))
}

func TestCollector_RefreshStreakGauge(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := metrics.NewCollector(reg)

	c.ObserveRefresh("BR", "error", 2)
	assert.Equal(t, float64(2),
		testutil.ToFloat64(c.RefreshFailureStreak.WithLabelValues("BR")))

	// A success resets the streak gauge.
	c.ObserveRefresh("BR", "ok", 0)
	assert.Equal(t, float64(0),
		testutil.ToFloat64(c.RefreshFailureStreak.WithLabelValues("BR")))
	assert.Equal(t, float64(2),
		testutil.ToFloat64(c.RefreshTotal.WithLabelValues("BR", "error"))+
			testutil.ToFloat64(c.RefreshTotal.WithLabelValues("BR", "ok")))
}

func TestCollector_HeadVersionGauge(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := metrics.NewCollector(reg)

	c.SetHeadVersion("MX", 3)
	assert.Equal(t, float64(3),
		testutil.ToFloat64(c.RuleSetHeadVersion.WithLabelValues("MX")))
}

func TestCollector_RegistersOnGivenRegistry(t *testing.T) {
	// Metrics land on the provided registry, not the global default.
	reg := prometheus.NewRegistry()
	c := metrics.NewCollector(reg)
	c.ObserveRun("completed", 3, 200*time.Millisecond)

	families, err := reg.Gather()
	require.NoError(t, err)
	names := make(map[string]bool, len(families))
	for _, f := range families {
		names[f.GetName()] = true
	}
	assert.True(t, names["payroll_runs_total"])
	assert.True(t, names["payroll_run_duration_seconds"])
	assert.True(t, names["payroll_run_employees"])
}

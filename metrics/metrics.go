// Package metrics exposes Prometheus instrumentation for the payroll engine.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Collector holds every metric the engine emits. Construct one per
// process with the registry the /metrics endpoint serves; tests pass a
// fresh prometheus.NewRegistry() so registration never collides.
type Collector struct {
	CalculationsTotal  *prometheus.CounterVec
	CalculationSeconds *prometheus.HistogramVec

	RunsTotal    *prometheus.CounterVec
	RunSeconds   *prometheus.HistogramVec
	RunEmployees *prometheus.HistogramVec

	RefreshTotal         *prometheus.CounterVec
	RefreshFailureStreak *prometheus.GaugeVec
	RuleSetHeadVersion   *prometheus.GaugeVec
}

func NewCollector(reg prometheus.Registerer) *Collector {
	factory := promauto.With(reg)
	return &Collector{
		CalculationsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "payroll_calculations_total",
				Help: "Gross-to-net calculations by country and outcome",
			},
			[]string{"country", "status"},
		),
		CalculationSeconds: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "payroll_calculation_duration_seconds",
				Help:    "Duration of a single gross-to-net calculation",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"country"},
		),
		RunsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "payroll_runs_total",
				Help: "Payroll runs by terminal status",
			},
			[]string{"status"},
		),
		RunSeconds: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "payroll_run_duration_seconds",
				Help:    "End-to-end duration of a payroll run",
				Buckets: []float64{.1, .5, 1, 5, 15, 60, 300},
			},
			[]string{"status"},
		),
		RunEmployees: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "payroll_run_employees",
				Help:    "Employees per payroll run",
				Buckets: []float64{1, 10, 50, 100, 500, 1000, 5000},
			},
			[]string{"status"},
		),
		RefreshTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "payroll_rule_refresh_total",
				Help: "Rule refresh attempts by country and outcome",
			},
			[]string{"country", "status"},
		),
		RefreshFailureStreak: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "payroll_rule_refresh_failure_streak",
				Help: "Consecutive refresh failures per country",
			},
			[]string{"country"},
		),
		RuleSetHeadVersion: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "payroll_ruleset_head_version",
				Help: "Latest committed ruleset version per country",
			},
			[]string{"country"},
		),
	}
}

// ObserveCalculation records one calculation outcome.
func (c *Collector) ObserveCalculation(country string, err error, elapsed time.Duration) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	c.CalculationsTotal.WithLabelValues(country, status).Inc()
	c.CalculationSeconds.WithLabelValues(country).Observe(elapsed.Seconds())
}

// ObserveRefresh records one refresh attempt outcome and the consecutive
// failure streak after it.
func (c *Collector) ObserveRefresh(country, status string, streak int) {
	c.RefreshTotal.WithLabelValues(country, status).Inc()
	c.RefreshFailureStreak.WithLabelValues(country).Set(float64(streak))
}

// SetHeadVersion publishes the latest committed ruleset version.
func (c *Collector) SetHeadVersion(country string, version int) {
	c.RuleSetHeadVersion.WithLabelValues(country).Set(float64(version))
}

// ObserveRun records a finished run.
func (c *Collector) ObserveRun(status string, employees int, elapsed time.Duration) {
	c.RunsTotal.WithLabelValues(status).Inc()
	c.RunSeconds.WithLabelValues(status).Observe(elapsed.Seconds())
	c.RunEmployees.WithLabelValues(status).Observe(float64(employees))
}

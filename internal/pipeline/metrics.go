package pipeline

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds run and stage level Prometheus metrics.
type Metrics struct {
	RunsTotal     *prometheus.CounterVec
	StageDuration *prometheus.HistogramVec
	ActiveRuns    prometheus.Gauge
}

// NewMetrics registers pipeline metrics with the given registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		RunsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "gated_runs_total",
			Help: "Completed validation runs by trigger and outcome.",
		}, []string{"trigger", "outcome"}),

		StageDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "gated_stage_duration_seconds",
			Help:    "Stage wall-clock duration in seconds by stage and outcome.",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		}, []string{"stage", "outcome"}),

		ActiveRuns: factory.NewGauge(prometheus.GaugeOpts{
			Name: "gated_active_runs",
			Help: "Number of runs currently executing.",
		}),
	}
}

// ObserveRun records a completed run.
func (m *Metrics) ObserveRun(report *RunReport) {
	outcome := "success"
	if !report.OverallSuccess {
		outcome = "failure"
	}
	m.RunsTotal.WithLabelValues(string(report.Trigger), outcome).Inc()
}

// ObserveStage records a finished (non-skipped) stage.
func (m *Metrics) ObserveStage(res StageResult) {
	if res.Skipped {
		return
	}
	outcome := "success"
	if !res.Success {
		outcome = "failure"
	}
	m.StageDuration.WithLabelValues(res.Name, outcome).Observe(float64(res.DurationMS) / 1000)
}

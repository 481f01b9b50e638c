// Package metrics exposes Prometheus collectors for research sessions.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/mikeboe/deep-research/pkg/research"
)

var (
	StageRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "deep_research_stage_runs_total",
			Help: "Total number of pipeline stage runs",
		},
		[]string{"stage", "status"}, // status: success, error, aborted
	)

	StageDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "deep_research_stage_duration_seconds",
			Help:    "Pipeline stage duration in seconds",
			Buckets: []float64{1, 5, 10, 30, 60, 120, 300, 600, 1200},
		},
		[]string{"stage"},
	)

	TaskTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "deep_research_task_transitions_total",
			Help: "Search task state changes",
		},
		[]string{"state"},
	)

	Errors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "deep_research_errors_total",
			Help: "Errors surfaced to session subscribers",
		},
		[]string{"stage"},
	)

	SessionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "deep_research_sessions_active",
			Help: "Number of live research sessions",
		},
	)

	SessionsCreated = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "deep_research_sessions_created_total",
			Help: "Total number of research sessions created",
		},
	)
)

// Observe counts the task and error events of s until the returned
// function is called.
func Observe(s *research.Session) (stop func()) {
	return s.Subscribe(func(e research.Event) {
		switch e.Type {
		case research.EventTask:
			TaskTransitions.WithLabelValues(string(e.State)).Inc()
		case research.EventError:
			Errors.WithLabelValues(string(e.Stage)).Inc()
		}
	})
}

// RecordStage records one finished stage run.
func RecordStage(stage string, start time.Time, err error) {
	status := "success"
	switch {
	case research.IsAbort(err):
		status = "aborted"
	case err != nil:
		status = "error"
	}
	StageRuns.WithLabelValues(stage, status).Inc()
	StageDuration.WithLabelValues(stage).Observe(time.Since(start).Seconds())
}

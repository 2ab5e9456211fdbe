// Package metrics holds the Prometheus collectors shared by the pipeline and
// the API server.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	CompletionRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "persona_sim_completion_requests_total",
		Help: "Completion calls by model, mode and outcome",
	}, []string{"model", "mode", "outcome"})

	CompletionDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "persona_sim_completion_duration_seconds",
		Help:    "Completion call latency",
		Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60, 120, 300, 600},
	}, []string{"model", "mode"})

	KeySelectionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "persona_sim_key_selections_total",
		Help: "API key selection attempts by model and result",
	}, []string{"model", "result"})

	SearchQueriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "persona_sim_search_queries_total",
		Help: "Web search queries by outcome",
	}, []string{"outcome"})

	SimulationBatchRetriesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "persona_sim_simulation_batch_retries_total",
		Help: "Simulation batches discarded for too many format errors",
	})

	PersonasGeneratedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "persona_sim_personas_total",
		Help: "Personas produced by kind (valid, stub, rejected)",
	}, []string{"kind"})

	TasksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "persona_sim_tasks_total",
		Help: "Tasks by final status",
	}, []string{"status"})

	TasksActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "persona_sim_tasks_active",
		Help: "Tasks currently running",
	})

	BreakerTransitionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "persona_sim_breaker_transitions_total",
		Help: "Circuit breaker transitions by model and target state",
	}, []string{"model", "to"})
)

// ObserveCompletion records one completion call.
func ObserveCompletion(model, mode, outcome string, started time.Time) {
	CompletionRequestsTotal.WithLabelValues(model, mode, outcome).Inc()
	CompletionDuration.WithLabelValues(model, mode).Observe(time.Since(started).Seconds())
}

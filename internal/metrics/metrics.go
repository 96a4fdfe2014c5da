// Package metrics holds the planner's Prometheus collectors.
package metrics

import (
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"nestedLiquidity/internal/model"
)

// PlannerMetrics groups the collectors shared by the join and exit planners
// and the simulation backends.
type PlannerMetrics struct {
	PlansTotal         *prometheus.CounterVec
	PathsTotal         *prometheus.CounterVec
	PriceImpact        *prometheus.HistogramVec
	SimulationLatency  *prometheus.HistogramVec
	SimulationFailures *prometheus.CounterVec
	ExitRetries        prometheus.Counter
}

// New registers the planner collectors on reg. A nil reg yields collectors
// that are never exported, which keeps library callers free of globals.
func New(reg prometheus.Registerer) *PlannerMetrics {
	factory := promauto.With(reg)
	return &PlannerMetrics{
		PlansTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "planner_plans_total",
				Help: "Join and exit plans by outcome",
			},
			[]string{"operation", "outcome"},
		),
		PathsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "planner_paths_total",
				Help: "Paths lowered into relayer calls",
			},
			[]string{"operation"},
		),
		PriceImpact: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "planner_price_impact_ratio",
				Help:    "Price impact of finalized plans as a fraction of one",
				Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5},
			},
			[]string{"operation"},
		),
		SimulationLatency: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "planner_simulation_duration_seconds",
				Help:    "Simulation round trip by backend",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"backend"},
		),
		SimulationFailures: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "planner_simulation_failures_total",
				Help: "Failed simulations by backend and reason",
			},
			[]string{"backend", "reason"},
		),
		ExitRetries: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "planner_exit_unwrap_retries_total",
				Help: "Exits replanned with unwrapping after a pool ran short of main tokens",
			},
		),
	}
}

// Nop returns collectors registered nowhere.
func Nop() *PlannerMetrics {
	return New(nil)
}

// ObservePlan counts a finished plan.
func (m *PlannerMetrics) ObservePlan(operation string, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.PlansTotal.WithLabelValues(operation, outcome).Inc()
}

// ObservePriceImpact records a 1e18 fixed point price impact.
func (m *PlannerMetrics) ObservePriceImpact(operation string, pi *big.Int) {
	if pi == nil {
		return
	}
	ratio, _ := new(big.Float).Quo(new(big.Float).SetInt(pi), big.NewFloat(1e18)).Float64()
	m.PriceImpact.WithLabelValues(operation).Observe(ratio)
}

// ObserveSimulation records the latency of a simulation started at start.
func (m *PlannerMetrics) ObserveSimulation(backend string, start time.Time, err error) {
	m.SimulationLatency.WithLabelValues(backend).Observe(time.Since(start).Seconds())
	if err == nil {
		return
	}
	reason := "error"
	if errors.Is(err, model.ErrSimulationRevert) {
		reason = "revert"
	}
	m.SimulationFailures.WithLabelValues(backend, reason).Inc()
}

// WriteTextfile dumps every collector of g in the node exporter textfile
// format.
func WriteTextfile(path string, g prometheus.Gatherer) error {
	if path == "" {
		return nil
	}
	if err := prometheus.WriteToTextfile(path, g); err != nil {
		return fmt.Errorf("write metrics %s: %w", path, err)
	}
	return nil
}

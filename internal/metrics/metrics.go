package metrics

import (
	"errors"
	"net/http"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Package-level Prometheus collectors. They are registered via Register.
var (
	regOK atomic.Bool

	processStarts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "taskmaster",
			Subsystem: "process",
			Name:      "starts_total",
			Help:      "Number of successful child spawns.",
		}, []string{"name"},
	)
	processStops = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "taskmaster",
			Subsystem: "process",
			Name:      "stops_total",
			Help:      "Number of stops (graceful or kill) and exits of started children.",
		}, []string{"name"},
	)
	spawnFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "taskmaster",
			Subsystem: "process",
			Name:      "spawn_failures_total",
			Help:      "Number of failed spawn attempts.",
		}, []string{"name"},
	)
	stateTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "taskmaster",
			Subsystem: "process",
			Name:      "state_transitions_total",
			Help:      "Number of state transitions between different process states.",
		}, []string{"name", "from", "to"},
	)
	currentStates = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "taskmaster",
			Subsystem: "process",
			Name:      "current_state",
			Help:      "Current state of instances (1 = active state, 0 = inactive).",
		}, []string{"name", "state"},
	)
	runningInstances = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "taskmaster",
			Subsystem: "process",
			Name:      "running_instances",
			Help:      "Instances currently in a live state.",
		},
	)
)

// Register registers all metrics with the provided registerer.
// It is safe to call multiple times; subsequent calls after success are no-ops.
func Register(r prometheus.Registerer) error {
	if regOK.Load() {
		return nil
	}
	cs := []prometheus.Collector{processStarts, processStops, spawnFailures, stateTransitions, currentStates, runningInstances}
	for _, c := range cs {
		if err := r.Register(c); err != nil {
			var are prometheus.AlreadyRegisteredError
			if errors.As(err, &are) {
				continue
			}
			return err
		}
	}
	regOK.Store(true)
	return nil
}

// Handler returns an http.Handler serving the DefaultGatherer.
func Handler() http.Handler { return promhttp.Handler() }

// Helpers below no-op until Register has been called.

func IncStart(name string) {
	if regOK.Load() {
		processStarts.WithLabelValues(name).Inc()
	}
}

func IncStop(name string) {
	if regOK.Load() {
		processStops.WithLabelValues(name).Inc()
	}
}

func IncSpawnFailure(name string) {
	if regOK.Load() {
		spawnFailures.WithLabelValues(name).Inc()
	}
}

func RecordStateTransition(name, from, to string) {
	if regOK.Load() {
		stateTransitions.WithLabelValues(name, from, to).Inc()
	}
}

func SetCurrentState(name, state string, active bool) {
	if regOK.Load() {
		var value float64
		if active {
			value = 1
		}
		currentStates.WithLabelValues(name, state).Set(value)
	}
}

func SetRunningInstances(n int) {
	if regOK.Load() {
		runningInstances.Set(float64(n))
	}
}

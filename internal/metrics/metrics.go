// Package metrics defines the process's Prometheus collectors.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

const namespace = "keepalive"

var (
	// Registry holds every keepalive collector plus the Go and process
	// collectors; the run command serves it on /metrics.
	Registry = prometheus.NewRegistry()

	Resurrections = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "resurrections_total",
		Help:      "Resurrection attempts, by the link or watchdog that made them.",
	}, []string{"source"})

	HeartbeatMissed = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "heartbeat_missed_total",
		Help:      "Heartbeat intervals that passed without a frame from the peer.",
	}, []string{"link"})

	StrategyStartFailures = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "strategy_start_failures_total",
		Help:      "Strategies that failed to start during init.",
	}, []string{"strategy"})

	Probes = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "watchdog_probes_total",
		Help:      "Watchdog probes of the counterpart process, by result.",
	}, []string{"role", "result"})

	Checks = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "checks_total",
		Help:      "Liveness checks triggered through the orchestrator.",
	})

	LifecyclePhase = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "lifecycle_phase",
		Help:      "Orchestrator phase: 1 uninitialized, 2 initializing, 3 running, 4 stopping.",
	})
)

func init() {
	Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		Resurrections,
		HeartbeatMissed,
		StrategyStartFailures,
		Probes,
		Checks,
		LifecyclePhase,
	)
}

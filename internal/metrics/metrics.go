// Package metrics exposes Prometheus collectors for the supervision daemon.
package metrics

import (
	"errors"
	"net/http"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	regOK atomic.Bool

	processStarts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "hostd",
			Subsystem: "process",
			Name:      "starts_total",
			Help:      "Number of successful process starts.",
		}, []string{"name", "kind"},
	)
	processStops = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "hostd",
			Subsystem: "process",
			Name:      "stops_total",
			Help:      "Number of stops, graceful or killed.",
		}, []string{"name", "kind"},
	)
	processRestarts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "hostd",
			Subsystem: "process",
			Name:      "restarts_total",
			Help:      "Number of restart attempts.",
		}, []string{"name", "kind"},
	)
	crashesDetected = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "hostd",
			Subsystem: "watchdog",
			Name:      "crashes_detected_total",
			Help:      "Crash or hang episodes declared by the watchdog.",
		}, []string{"name"},
	)
	currentStates = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "hostd",
			Subsystem: "process",
			Name:      "current_state",
			Help:      "Current state of processes (1 = active state, 0 = inactive).",
		}, []string{"name", "state"},
	)
	portsReserved = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "hostd",
			Subsystem: "ports",
			Name:      "reserved",
			Help:      "Ports currently reserved across all managed processes.",
		},
	)
	rconCommands = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "hostd",
			Subsystem: "rcon",
			Name:      "commands_total",
			Help:      "RCON commands issued, by outcome.",
		}, []string{"outcome"},
	)
	shutdownPhase = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "hostd",
			Subsystem: "shutdown",
			Name:      "phase",
			Help:      "Shutdown phase (0 not started, 1 draining, 2 forced, 3 complete).",
		},
	)
)

// Register registers all collectors with r. Safe to call multiple times.
func Register(r prometheus.Registerer) error {
	if regOK.Load() {
		return nil
	}
	cs := []prometheus.Collector{
		processStarts, processStops, processRestarts, crashesDetected,
		currentStates, portsReserved, rconCommands, shutdownPhase,
	}
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

// Handler serves Prometheus metrics for the default gatherer.
func Handler() http.Handler { return promhttp.Handler() }

// Helpers below no-op until Register has been called.

func IncStart(name, kind string) {
	if regOK.Load() {
		processStarts.WithLabelValues(name, kind).Inc()
	}
}

func IncStop(name, kind string) {
	if regOK.Load() {
		processStops.WithLabelValues(name, kind).Inc()
	}
}

func IncRestart(name, kind string) {
	if regOK.Load() {
		processRestarts.WithLabelValues(name, kind).Inc()
	}
}

func IncCrashDetected(name string) {
	if regOK.Load() {
		crashesDetected.WithLabelValues(name).Inc()
	}
}

func SetCurrentState(name, state string, active bool) {
	if regOK.Load() {
		v := 0.0
		if active {
			v = 1.0
		}
		currentStates.WithLabelValues(name, state).Set(v)
	}
}

func SetPortsReserved(n int) {
	if regOK.Load() {
		portsReserved.Set(float64(n))
	}
}

func IncRconCommand(outcome string) {
	if regOK.Load() {
		rconCommands.WithLabelValues(outcome).Inc()
	}
}

func SetShutdownPhase(p int) {
	if regOK.Load() {
		shutdownPhase.Set(float64(p))
	}
}

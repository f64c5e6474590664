package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const (
	toolkit = "toolkit"

	// Job metrics
	jobsTotal = "jobs_total"

	// Connection metrics
	connectionState = "connection_state"
	reconnectsTotal = "reconnects_total"

	// Stub backend metrics
	stubJobsTotal = "stub_jobs_total"

	// Labels
	toolLabel     = "tool"
	jobStateLabel = "state"
)

var jobsTotalLabels = []string{
	toolLabel,
	jobStateLabel,
}

/**
* Metrics definition
**/
var jobsTotalMetric = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Subsystem: toolkit,
		Name:      jobsTotal,
		Help:      "number of jobs that reached a terminal state, by tool and state",
	},
	jobsTotalLabels,
)

var connectionStateMetric = prometheus.NewGauge(
	prometheus.GaugeOpts{
		Subsystem: toolkit,
		Name:      connectionState,
		Help:      "push channel state: 0 disconnected, 1 connecting, 2 connected",
	},
)

var reconnectsTotalMetric = prometheus.NewCounter(
	prometheus.CounterOpts{
		Subsystem: toolkit,
		Name:      reconnectsTotal,
		Help:      "number of push channel reconnection attempts",
	},
)

var stubJobsTotalMetric = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Subsystem: toolkit,
		Name:      stubJobsTotal,
		Help:      "number of jobs accepted by the stub backend, by tool",
	},
	[]string{toolLabel},
)

func IncreaseJobsTotalMetric(tool, state string) {
	labels := prometheus.Labels{
		toolLabel:     tool,
		jobStateLabel: state,
	}
	jobsTotalMetric.With(labels).Inc()
}

func SetConnectionStateMetric(state int) {
	connectionStateMetric.Set(float64(state))
}

func IncreaseReconnectsMetric() {
	reconnectsTotalMetric.Inc()
}

func IncreaseStubJobsMetric(tool string) {
	stubJobsTotalMetric.With(prometheus.Labels{toolLabel: tool}).Inc()
}

// Collectors exposes the collectors so tests can read them with testutil.
func Collectors() []prometheus.Collector {
	return []prometheus.Collector{jobsTotalMetric, connectionStateMetric, reconnectsTotalMetric, stubJobsTotalMetric}
}

func init() {
	registerMetrics()
}

func registerMetrics() {
	prometheus.MustRegister(Collectors()...)
}

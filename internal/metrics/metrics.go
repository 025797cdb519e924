package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "retriever"

var (
	// Registry holds every retriever metric plus the Go runtime collectors.
	Registry = prometheus.NewRegistry()

	SupervisorState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "supervisor_state",
			Help:      "Current supervisor state (1 for the active state, 0 otherwise)",
		},
		[]string{"state"},
	)

	ConnectionOpen = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "connection_open",
		Help:      "Whether the retrieval connection is currently open",
	})

	ConnectsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "connects_total",
			Help:      "Connection attempts by result",
		},
		[]string{"result"},
	)

	FaultsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "faults_total",
			Help:      "Faults that sent the supervisor into backoff, by stage",
		},
		[]string{"stage"},
	)

	BackoffSeconds = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "backoff_seconds",
		Help:      "Backoff sleeps taken after repeated faults",
		Buckets:   []float64{1, 2, 4, 8, 16, 30},
	})

	EnvelopesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "envelopes_total",
			Help:      "Envelopes read from the connection, by processing result",
		},
		[]string{"result"},
	)

	DrainTransitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "drain_transitions_total",
			Help:      "Drain state transitions",
		},
		[]string{"to"},
	)

	LeasesHeld = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "leases_held",
		Help:      "Keep-alive leases held after the last evaluation",
	})

	StoreWritesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "store_writes_total",
			Help:      "Envelope store writes, by table and result",
		},
		[]string{"table", "result"},
	)

	JobsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_total",
			Help:      "Background jobs run, by kind and result",
		},
		[]string{"kind", "result"},
	)
)

func init() {
	Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		SupervisorState,
		ConnectionOpen,
		ConnectsTotal,
		FaultsTotal,
		BackoffSeconds,
		EnvelopesTotal,
		DrainTransitionsTotal,
		LeasesHeld,
		StoreWritesTotal,
		JobsTotal,
	)
}

// SetState marks state as the active supervisor state.
func SetState(states []string, active string) {
	for _, s := range states {
		if s == active {
			SupervisorState.WithLabelValues(s).Set(1)
		} else {
			SupervisorState.WithLabelValues(s).Set(0)
		}
	}
}

// Handler serves the registry in the Prometheus exposition format.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

package observability

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce sync.Once

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "worldctl",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total HTTP requests on the status surface.",
		},
		[]string{"method", "path", "status"},
	)
	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "worldctl",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
	workersSpawned = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "worldctl",
			Subsystem: "launch",
			Name:      "workers_spawned_total",
			Help:      "Worker processes spawned, by spawn mode.",
		},
		[]string{"mode"},
	)
	joinsHandled = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "worldctl",
			Subsystem: "rendezvous",
			Name:      "joins_total",
			Help:      "Join attempts handled by the coordinator.",
		},
		[]string{"outcome"},
	)
	formationDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "worldctl",
			Subsystem: "rendezvous",
			Name:      "formation_duration_seconds",
			Help:      "Time from first join to world formation.",
			Buckets:   prometheus.DefBuckets,
		},
	)
	worldsFormed = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "worldctl",
			Subsystem: "rendezvous",
			Name:      "worlds_formed_total",
			Help:      "Successfully formed worlds.",
		},
	)
)

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			httpRequests, httpDuration,
			workersSpawned, joinsHandled, formationDuration, worldsFormed,
		)
	})
}

func RecordHTTPRequest(method, path string, status int, duration time.Duration) {
	RegisterMetrics()
	statusLabel := strconv.Itoa(status)
	httpRequests.WithLabelValues(method, path, statusLabel).Inc()
	httpDuration.WithLabelValues(method, path, statusLabel).Observe(duration.Seconds())
}

func RecordWorkerSpawned(mode string) {
	RegisterMetrics()
	workersSpawned.WithLabelValues(mode).Inc()
}

func RecordJoin(outcome string) {
	RegisterMetrics()
	joinsHandled.WithLabelValues(outcome).Inc()
}

func RecordWorldFormed(sinceFirstJoin time.Duration) {
	RegisterMetrics()
	worldsFormed.Inc()
	formationDuration.Observe(sinceFirstJoin.Seconds())
}

package metrics

import (
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Dispatch metrics
	RequestsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "tacore_requests_total",
			Help: "Total number of client requests accepted",
		},
	)

	RepliesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "tacore_replies_total",
			Help: "Total number of replies forwarded to clients",
		},
	)

	RepliesDropped = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "tacore_replies_dropped_total",
			Help: "Total number of replies dropped because the client connection vanished",
		},
	)

	RequeuesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "tacore_requeues_total",
			Help: "Total number of requests requeued after a worker disconnect",
		},
	)

	QueueDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "tacore_queue_depth",
			Help: "Number of requests waiting for a READY worker",
		},
	)

	DispatchLatency = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "tacore_dispatch_latency_seconds",
			Help:    "Time between request arrival and worker assignment in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Worker pool metrics
	WorkersAlive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "tacore_workers_alive",
			Help: "Number of workers currently connected and not DEAD",
		},
	)

	WorkerDisconnects = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "tacore_worker_disconnects_total",
			Help: "Total number of worker disconnects and liveness expiries",
		},
	)

	// Health metrics
	HealthRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tacore_health_requests_total",
			Help: "Total number of health endpoint requests by outcome",
		},
		[]string{"outcome"},
	)
)

func init() {
	// Register all metrics
	prometheus.MustRegister(RequestsTotal)
	prometheus.MustRegister(RepliesTotal)
	prometheus.MustRegister(RepliesDropped)
	prometheus.MustRegister(RequeuesTotal)
	prometheus.MustRegister(QueueDepth)
	prometheus.MustRegister(DispatchLatency)
	prometheus.MustRegister(WorkersAlive)
	prometheus.MustRegister(WorkerDisconnects)
	prometheus.MustRegister(HealthRequestsTotal)
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}

// Serve starts the metrics HTTP server on the given port. The returned
// server is already listening; callers shut it down via Close.
func Serve(port int) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler())

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		_ = srv.ListenAndServe()
	}()

	return srv
}

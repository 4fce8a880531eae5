// Package metrics provides Prometheus instrumentation for the reactor.
// Grounded on the teacher's internal/metrics/metrics.go (gauge/counter/
// histogram registration plus a promhttp.Handler()), repurposed from chat
// connection/message counters to reactor connection/request counters.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// LiveConnections tracks the current number of accepted connections
	// held in the reactor's registry.
	LiveConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "reactor_live_connections",
		Help: "Current number of live connections held in the reactor's registry",
	})

	// AcceptedTotal counts connections accepted on the listen fd.
	AcceptedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "reactor_accepted_total",
		Help: "Total number of connections accepted",
	})

	// BusyRejectedTotal counts connections rejected because the live-count
	// cap (spec.md §6, 65536) was reached.
	BusyRejectedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "reactor_busy_rejected_total",
		Help: "Total number of connections rejected with \"Server busy!\"",
	})

	// ThrottledTotal counts connections rejected by the per-IP accept
	// throttle before an fd is handed to the poller.
	ThrottledTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "reactor_throttled_total",
		Help: "Total number of connections rejected by the accept-rate limiter",
	})

	// TimeoutsTotal counts connections closed by the idle-connection timer.
	TimeoutsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "reactor_idle_timeouts_total",
		Help: "Total number of connections closed by the idle-connection timer",
	})

	// RequestDuration records time from a parsed request to a fully
	// drained response, labeled by response status class.
	RequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "reactor_request_duration_seconds",
		Help:    "Time from a parsed request to a fully drained response",
		Buckets: []float64{.0005, .001, .0025, .005, .01, .025, .05, .1, .25},
	}, []string{"status_class"})

	// DBPoolWait records how long a worker blocked in dbpool.Pool.Acquire.
	DBPoolWait = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "reactor_dbpool_wait_seconds",
		Help:    "Time spent blocked acquiring a pooled DB handle",
		Buckets: []float64{.0001, .0005, .001, .005, .01, .05, .1},
	})
)

func init() {
	prometheus.MustRegister(
		LiveConnections,
		AcceptedTotal,
		BusyRejectedTotal,
		ThrottledTotal,
		TimeoutsTotal,
		RequestDuration,
		DBPoolWait,
	)
}

// Handler returns the Prometheus scrape handler, served on its own
// net/http listener separate from the reactor's raw socket.
func Handler() http.Handler {
	return promhttp.Handler()
}

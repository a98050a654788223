package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics exposes counters/histograms for slot queries and booking commits.
// A nil *Metrics is a no-op.
type Metrics struct {
	slotQueries   *prometheus.CounterVec
	slotLatency   prometheus.Histogram
	slotsReturned prometheus.Histogram
	commits       *prometheus.CounterVec
	httpRequests  *prometheus.CounterVec
	httpLatency   *prometheus.HistogramVec
}

func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		slotQueries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "bookslots",
			Subsystem: "availability",
			Name:      "slot_queries_total",
			Help:      "Slot computations by result",
		}, []string{"result"}),
		slotLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "bookslots",
			Subsystem: "availability",
			Name:      "slot_query_seconds",
			Help:      "Latency of slot queries including input fetches",
			Buckets:   prometheus.DefBuckets,
		}),
		slotsReturned: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "bookslots",
			Subsystem: "availability",
			Name:      "slots_returned",
			Help:      "Number of slots offered per query",
			Buckets:   []float64{0, 1, 2, 4, 8, 16, 32, 64},
		}),
		commits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "bookslots",
			Subsystem: "booking",
			Name:      "commits_total",
			Help:      "Booking create/reschedule attempts by operation and outcome",
		}, []string{"operation", "outcome"}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "bookslots",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "HTTP requests by method, path and status code",
		}, []string{"method", "path", "code"}),
		httpLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "bookslots",
			Subsystem: "http",
			Name:      "request_seconds",
			Help:      "HTTP request latency",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "path"}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.slotQueries, m.slotLatency, m.slotsReturned, m.commits, m.httpRequests, m.httpLatency)
	return m
}

func (m *Metrics) ObserveSlotQuery(result string, slots int, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.slotQueries.WithLabelValues(result).Inc()
	m.slotLatency.Observe(elapsed.Seconds())
	if result == "ok" {
		m.slotsReturned.Observe(float64(slots))
	}
}

func (m *Metrics) ObserveCommit(operation, outcome string) {
	if m == nil {
		return
	}
	m.commits.WithLabelValues(operation, outcome).Inc()
}

// ObserveHTTP matches httpx.RequestObserver. Paths are the registered routes,
// so cardinality stays bounded.
func (m *Metrics) ObserveHTTP(r *http.Request, status int, elapsed time.Duration) {
	if m == nil {
		return
	}
	path := r.Pattern
	if path == "" {
		path = "unmatched"
	}
	m.httpRequests.WithLabelValues(r.Method, path, strconv.Itoa(status)).Inc()
	m.httpLatency.WithLabelValues(r.Method, path).Observe(elapsed.Seconds())
}

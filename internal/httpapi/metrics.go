package httpapi

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"path", "method", "status"},
	)
	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Duration of HTTP requests",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"path", "method"},
	)
	webhookEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "webhook_events_total",
			Help: "Webhook deliveries by outcome",
		},
		[]string{"outcome"},
	)
)

func init() {
	prometheus.MustRegister(httpRequestsTotal)
	prometheus.MustRegister(httpRequestDuration)
	prometheus.MustRegister(webhookEventsTotal)
}

// monitorMiddleware records request counts and latency per route pattern.
func monitorMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		ww := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(ww, r)

		// Raw paths with ids in them would explode label cardinality.
		path := metricPath(r.URL.Path)
		httpRequestsTotal.WithLabelValues(path, r.Method, http.StatusText(ww.status)).Inc()
		httpRequestDuration.WithLabelValues(path, r.Method).Observe(time.Since(start).Seconds())
	})
}

// metricPath collapses parameterized segments so ids do not become labels.
func metricPath(p string) string {
	switch {
	case len(p) > len("/api/v1/sessions/") && p[:len("/api/v1/sessions/")] == "/api/v1/sessions/":
		rest := p[len("/api/v1/sessions/"):]
		for i := 0; i < len(rest); i++ {
			if rest[i] == '/' {
				return "/api/v1/sessions/{id}" + rest[i:]
			}
		}
		return "/api/v1/sessions/{id}"
	case len(p) > len("/api/v1/rooms/") && p[:len("/api/v1/rooms/")] == "/api/v1/rooms/":
		return "/api/v1/rooms/{id}"
	default:
		return p
	}
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

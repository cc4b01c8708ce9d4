// Package metrics holds the Prometheus collectors for the relay and the
// intake HTTP server.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"inquiryrelay/internal/relay"
)

const namespace = "inquiryrelay"

// Metrics is a set of collectors bound to one registry.
type Metrics struct {
	reg *prometheus.Registry

	attempts        *prometheus.CounterVec
	attemptDuration prometheus.Histogram
	settled         *prometheus.CounterVec
	deliveryLatency *prometheus.HistogramVec
	queueDepth      prometheus.Gauge

	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec
}

// New registers all collectors, plus the Go and process collectors, on a
// fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)

	return &Metrics{
		reg: reg,
		attempts: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "dispatch_attempts_total",
				Help:      "Telegram sendMessage attempts by result.",
			},
			[]string{"result"}, // "ok" or an error kind
		),
		attemptDuration: f.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "dispatch_attempt_duration_seconds",
				Help:      "Duration of single sendMessage attempts.",
				Buckets:   prometheus.DefBuckets,
			},
		),
		settled: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "messages_total",
				Help:      "Messages by kind, outcome and error kind.",
			},
			[]string{"kind", "outcome", "error_kind"},
		),
		deliveryLatency: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "delivery_duration_seconds",
				Help:      "Time from queueing to settlement.",
				Buckets:   []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60},
			},
			[]string{"kind", "outcome"},
		),
		queueDepth: f.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "queue_depth",
				Help:      "Messages waiting behind the one in flight.",
			},
		),
		httpRequests: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests.",
			},
			[]string{"method", "path", "status_code"},
		),
		httpDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "Duration of HTTP requests.",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),
	}
}

func (m *Metrics) Registry() *prometheus.Registry { return m.reg }

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{Registry: m.reg})
}

var _ relay.Observer = (*Metrics)(nil)

func (m *Metrics) Attempt(_ int, took time.Duration, err *relay.Error) {
	result := "ok"
	if err != nil {
		result = string(err.Kind)
	}
	m.attempts.WithLabelValues(result).Inc()
	m.attemptDuration.Observe(took.Seconds())
}

func (m *Metrics) Settled(kind, outcome string, errKind relay.Kind, _ int, took time.Duration) {
	m.settled.WithLabelValues(kind, outcome, string(errKind)).Inc()
	if outcome != relay.OutcomeRejected {
		m.deliveryLatency.WithLabelValues(kind, outcome).Observe(took.Seconds())
	}
}

func (m *Metrics) QueueDepth(n int) { m.queueDepth.Set(float64(n)) }

// Middleware records request counts and durations by chi route pattern.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		path := "unknown"
		if rc := chi.RouteContext(r.Context()); rc != nil && rc.RoutePattern() != "" {
			path = rc.RoutePattern()
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		m.httpDuration.WithLabelValues(r.Method, path).Observe(time.Since(start).Seconds())
		m.httpRequests.WithLabelValues(r.Method, path, strconv.Itoa(status)).Inc()
	})
}

// Package metrics exposes Prometheus collectors for deployments, reconciliation and the HTTP API.
package metrics

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mtlprog/tokenize/internal/domain"
)

const namespace = "tokenize"

// Collector records deployment workflow metrics. It satisfies deploy.Metrics.
type Collector struct {
	registry *prometheus.Registry

	transitions *prometheus.CounterVec
	retries     *prometheus.CounterVec
	outcomes    *prometheus.CounterVec
	duration    *prometheus.HistogramVec
	reconciled  *prometheus.CounterVec
	httpReqs    *prometheus.CounterVec
	httpLatency *prometheus.HistogramVec
}

// New creates a Collector with its own registry, including process and Go runtime collectors.
func New() *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "deploy",
			Name:      "transitions_total",
			Help:      "Deployment phase transitions.",
		}, []string{"from", "to"}),
		retries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "deploy",
			Name:      "retries_total",
			Help:      "Retries of deployment steps.",
		}, []string{"step"}),
		outcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "deploy",
			Name:      "outcomes_total",
			Help:      "Finished deployments by status.",
		}, []string{"status"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "deploy",
			Name:      "duration_seconds",
			Help:      "Wall time of deployments.",
			Buckets:   prometheus.ExponentialBuckets(0.5, 2, 10), // 0.5s to ~4m
		}, []string{"status"}),
		reconciled: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "reconcile",
			Name:      "deployments_total",
			Help:      "Deployments examined by reconciliation, by result.",
		}, []string{"result"}),
		httpReqs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "HTTP requests handled.",
		}, []string{"method", "path", "status"}),
		httpLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 12),
		}, []string{"method", "path"}),
	}

	c.registry.MustRegister(
		c.transitions, c.retries, c.outcomes, c.duration, c.reconciled, c.httpReqs, c.httpLatency,
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
		prometheus.NewGoCollector(),
	)
	return c
}

// Transition counts a phase change.
func (c *Collector) Transition(from, to domain.Phase) {
	c.transitions.WithLabelValues(string(from), string(to)).Inc()
}

// Retry counts a retried step ("funding", "submission", ...).
func (c *Collector) Retry(step string) {
	c.retries.WithLabelValues(step).Inc()
}

// Outcome records a finished deployment.
func (c *Collector) Outcome(status domain.DeploymentStatus, elapsed time.Duration) {
	c.outcomes.WithLabelValues(string(status)).Inc()
	c.duration.WithLabelValues(string(status)).Observe(elapsed.Seconds())
}

// Reconciled records the results of one reconciliation pass.
func (c *Collector) Reconciled(confirmed, failed, open int) {
	c.reconciled.WithLabelValues("confirmed").Add(float64(confirmed))
	c.reconciled.WithLabelValues("failed").Add(float64(failed))
	c.reconciled.WithLabelValues("open").Add(float64(open))
}

// Handler exposes the registry in the Prometheus text format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// Instrument wraps next with request counting and latency measurement.
func (c *Collector) Instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/metrics" {
			next.ServeHTTP(w, r)
			return
		}

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()
		next.ServeHTTP(rec, r)

		path := canonicalPath(r.URL.Path)
		method := strings.ToUpper(r.Method)
		c.httpReqs.WithLabelValues(method, path, strconv.Itoa(rec.status)).Inc()
		c.httpLatency.WithLabelValues(method, path).Observe(time.Since(start).Seconds())
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// canonicalPath collapses deployment IDs so labels stay bounded.
func canonicalPath(raw string) string {
	trimmed := strings.Trim(raw, "/")
	if trimmed == "" {
		return "/"
	}
	parts := strings.Split(trimmed, "/")
	if len(parts) == 4 && parts[2] == "deployments" {
		parts[3] = ":id"
	}
	return "/" + strings.Join(parts, "/")
}

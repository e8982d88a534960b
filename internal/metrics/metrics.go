// Package metrics holds the Prometheus collectors of the console service.
//
// A Recorder is created once per process and passed to the components that report
// through it. A nil *Recorder is valid and records nothing.
package metrics

import (
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Recorder groups the service's collectors
type Recorder struct {
	registry *prometheus.Registry

	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec
	httpInFlight        prometheus.Gauge

	submissionsTotal     *prometheus.CounterVec
	resolutionFailures   *prometheus.CounterVec
	ledgerEventsTotal    *prometheus.CounterVec
	campaignCacheLookups *prometheus.CounterVec
}

// NewRecorder registers all collectors on a fresh registry
func NewRecorder() *Recorder {
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		httpRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests processed",
			},
			[]string{"method", "route", "status"},
		),
		httpRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "HTTP request latencies in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "route", "status"},
		),
		httpInFlight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "http_inflight_requests",
				Help: "Number of HTTP requests currently being served",
			},
		),
		submissionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "campaign_submissions_total",
				Help: "Campaign submissions by terminal state and result kind",
			},
			[]string{"state", "kind"},
		),
		resolutionFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "audience_resolution_failures_total",
				Help: "Failed recipient lookups by audience selector",
			},
			[]string{"audience"},
		),
		ledgerEventsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "submission_ledger_events_total",
				Help: "Submission events consumed by the ledger worker",
			},
			[]string{"result"},
		),
		campaignCacheLookups: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "campaign_list_cache_lookups_total",
				Help: "Campaign list cache lookups by outcome",
			},
			[]string{"outcome"},
		),
	}

	r.registry.MustRegister(
		prometheus.NewGoCollector(),
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
		r.httpRequestsTotal,
		r.httpRequestDuration,
		r.httpInFlight,
		r.submissionsTotal,
		r.resolutionFailures,
		r.ledgerEventsTotal,
		r.campaignCacheLookups,
	)
	return r
}

// Registry exposes the underlying registry, mainly for tests
func (r *Recorder) Registry() *prometheus.Registry {
	return r.registry
}

// Handler serves the registry in the Prometheus exposition format
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}

// SubmissionOutcome counts a terminal submission
func (r *Recorder) SubmissionOutcome(state, kind string) {
	if r == nil {
		return
	}
	r.submissionsTotal.WithLabelValues(state, kind).Inc()
}

// ResolutionFailed counts a failed recipient lookup
func (r *Recorder) ResolutionFailed(audience string) {
	if r == nil {
		return
	}
	r.resolutionFailures.WithLabelValues(audience).Inc()
}

// LedgerEvent counts an event handled by the ledger worker
func (r *Recorder) LedgerEvent(result string) {
	if r == nil {
		return
	}
	r.ledgerEventsTotal.WithLabelValues(result).Inc()
}

// CacheLookup counts a campaign list cache hit or miss
func (r *Recorder) CacheLookup(hit bool) {
	if r == nil {
		return
	}
	outcome := "miss"
	if hit {
		outcome = "hit"
	}
	r.campaignCacheLookups.WithLabelValues(outcome).Inc()
}

// WatchQueueDepth exposes the submission queue length, read on every scrape. A failed
// read reports NaN. Call it at most once per Recorder.
func (r *Recorder) WatchQueueDepth(depth func() (int64, error)) {
	if r == nil {
		return
	}
	r.registry.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "submission_queue_depth",
			Help: "Submission events waiting for the ledger worker",
		},
		func() float64 {
			n, err := depth()
			if err != nil {
				return math.NaN()
			}
			return float64(n)
		},
	))
}

// Middleware records request count, latency and in-flight requests. Labels use the
// matched chi route pattern to keep cardinality low.
func (r *Recorder) Middleware(next http.Handler) http.Handler {
	if r == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		start := time.Now()
		r.httpInFlight.Inc()
		defer r.httpInFlight.Dec()

		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(sw, req)

		route := req.URL.Path
		if rctx := chi.RouteContext(req.Context()); rctx != nil {
			if pattern := rctx.RoutePattern(); pattern != "" {
				route = pattern
			}
		}

		labels := prometheus.Labels{
			"method": req.Method,
			"route":  route,
			"status": strconv.Itoa(sw.status),
		}
		r.httpRequestsTotal.With(labels).Inc()
		r.httpRequestDuration.With(labels).Observe(time.Since(start).Seconds())
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}

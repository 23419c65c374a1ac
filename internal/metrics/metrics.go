// Package metrics owns the server's Prometheus registry. Every collector lives on
// ServerMetrics and callers record through its methods, so label sets stay bounded.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/keithlinneman/portfolio-web/internal/version"
)

// rate limit decision outcomes
const (
	OutcomeAllowed  = "allowed"
	OutcomeDenied   = "denied"
	OutcomeCapacity = "capacity"
)

type ServerMetrics struct {
	reg     *prometheus.Registry
	handler http.Handler

	inflight  prometheus.Gauge
	reqTotal  *prometheus.CounterVec
	reqDur    *prometheus.HistogramVec
	respBytes *prometheus.HistogramVec
	errors    *prometheus.CounterVec
	panics    prometheus.Counter

	buildInfo       *prometheus.GaugeVec
	profilingActive prometheus.Gauge

	rlDecisions *prometheus.CounterVec
	rlEntries   *prometheus.GaugeVec

	validationRejects *prometheus.CounterVec

	upstreamTotal *prometheus.CounterVec
	upstreamDur   *prometheus.HistogramVec

	contactTotal *prometheus.CounterVec
	loginTotal   *prometheus.CounterVec
}

// New returns a fresh registry with the Go and process collectors plus the server's own.
func New() *ServerMetrics {
	m := &ServerMetrics{
		inflight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "http_inflight_requests",
			Help: "Current number of in-flight HTTP requests",
		}),
		reqTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total HTTP requests by method, route, and status",
		}, []string{"method", "route", "status"}),
		reqDur: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Request latency by method and route",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}, []string{"method", "route"}),
		respBytes: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_response_size_bytes",
			Help:    "Response size by method and route",
			Buckets: prometheus.ExponentialBuckets(256, 4, 9),
		}, []string{"method", "route"}),
		errors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "http_errors_total",
			Help: "Total 5xx responses by method and route",
		}, []string{"method", "route"}),
		panics: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "http_panic_total",
			Help: "Total number of recovered handler panics",
		}),
		buildInfo: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "build_info",
			Help: "Build metadata (value is always 1)",
		}, []string{"app", "component", "version", "commit", "build_date", "vcs_dirty", "go_version"}),
		profilingActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "profiling_active",
			Help: "Whether continuous profiling is active (1) or disabled/failed (0)",
		}),
		rlDecisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ratelimit_decisions_total",
			Help: "Rate limit decisions by policy and outcome (allowed, denied, capacity)",
		}, []string{"policy", "outcome"}),
		rlEntries: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "ratelimit_entries",
			Help: "Tracked client windows per policy after the last sweep",
		}, []string{"policy"}),
		validationRejects: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "validation_rejections_total",
			Help: "Requests rejected by input validation by endpoint and reason",
		}, []string{"endpoint", "reason"}),
		upstreamTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "upstream_requests_total",
			Help: "Calls to external providers by provider and outcome",
		}, []string{"provider", "outcome"}),
		upstreamDur: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "upstream_request_duration_seconds",
			Help:    "Latency of calls to external providers",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 4, 8, 16, 32},
		}, []string{"provider"}),
		contactTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "contact_submissions_total",
			Help: "Contact form submissions by outcome",
		}, []string{"outcome"}),
		loginTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "auth_login_attempts_total",
			Help: "Admin login attempts by outcome",
		}, []string{"outcome"}),
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.inflight, m.reqTotal, m.reqDur, m.respBytes, m.errors, m.panics,
		m.buildInfo, m.profilingActive,
		m.rlDecisions, m.rlEntries,
		m.validationRejects,
		m.upstreamTotal, m.upstreamDur,
		m.contactTotal, m.loginTotal,
	)
	m.reg = reg
	m.handler = promhttp.HandlerFor(reg, promhttp.HandlerOpts{EnableOpenMetrics: true})
	return m
}

func (m *ServerMetrics) Handler() http.Handler { return m.handler }

// Registry is exposed for tests and for callers that register their own collectors.
func (m *ServerMetrics) Registry() *prometheus.Registry { return m.reg }

func (m *ServerMetrics) IncHttpPanic() { m.panics.Inc() }

// SetBuildInfoFromVersion is called once at startup.
func (m *ServerMetrics) SetBuildInfoFromVersion(app, component string, vi version.Info) {
	dirty := "unknown"
	if vi.VCSDirty != nil {
		dirty = strconv.FormatBool(*vi.VCSDirty)
	}
	m.buildInfo.With(prometheus.Labels{
		"app":        app,
		"component":  component,
		"version":    vi.Version,
		"commit":     vi.Commit,
		"build_date": vi.BuildDate,
		"vcs_dirty":  dirty,
		"go_version": vi.GoVersion,
	}).Set(1)
}

func (m *ServerMetrics) SetProfilingActive(active bool) { m.profilingActive.Set(boolGauge(active)) }

func (m *ServerMetrics) ObserveRateLimit(policy, outcome string) {
	m.rlDecisions.WithLabelValues(policy, outcome).Inc()
}

func (m *ServerMetrics) SetRateLimitEntries(policy string, n int) {
	m.rlEntries.WithLabelValues(policy).Set(float64(n))
}

// IncValidationRejected records a rejected request. reason must come from a fixed set
// (validate.Reason), never from user input.
func (m *ServerMetrics) IncValidationRejected(endpoint, reason string) {
	m.validationRejects.WithLabelValues(endpoint, reason).Inc()
}

func (m *ServerMetrics) ObserveUpstream(provider, outcome string, d time.Duration) {
	m.upstreamTotal.WithLabelValues(provider, outcome).Inc()
	m.upstreamDur.WithLabelValues(provider).Observe(d.Seconds())
}

func (m *ServerMetrics) IncContactSubmission(outcome string) {
	m.contactTotal.WithLabelValues(outcome).Inc()
}

func (m *ServerMetrics) IncLoginAttempt(outcome string) {
	m.loginTotal.WithLabelValues(outcome).Inc()
}

func boolGauge(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the application. Every method is
// safe on a nil receiver so tests can omit metrics entirely.
type Metrics struct {
	HTTPRequestDuration  *prometheus.HistogramVec
	Submissions          *prometheus.CounterVec
	SensitiveReads       prometheus.Counter
	CasesProcessed       prometheus.Counter
	PurgedRecords        *prometheus.CounterVec
	AuditWrites          *prometheus.CounterVec
	AuditWriteDuration   prometheus.Histogram
	NotificationFailures prometheus.Counter
	Logins               *prometheus.CounterVec
	Exports              prometheus.Counter
}

// New creates and registers all metrics on reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		HTTPRequestDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "intakehub_http_request_duration_seconds",
			Help:    "HTTP request latency by route pattern",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route", "status"}),
		Submissions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "intakehub_intake_submissions_total",
			Help: "Intake submissions by outcome",
		}, []string{"outcome"}),
		SensitiveReads: f.NewCounter(prometheus.CounterOpts{
			Name: "intakehub_intake_sensitive_reads_total",
			Help: "Full sensitive-record reads released to callers",
		}),
		CasesProcessed: f.NewCounter(prometheus.CounterOpts{
			Name: "intakehub_intake_processed_total",
			Help: "Intake records marked processed",
		}),
		PurgedRecords: f.NewCounterVec(prometheus.CounterOpts{
			Name: "intakehub_retention_purged_total",
			Help: "Sensitive records destroyed by reason",
		}, []string{"reason"}),
		AuditWrites: f.NewCounterVec(prometheus.CounterOpts{
			Name: "intakehub_audit_writes_total",
			Help: "Audit writes by action and result",
		}, []string{"action", "result"}),
		AuditWriteDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "intakehub_audit_write_duration_seconds",
			Help:    "Latency of synchronous audit writes",
			Buckets: []float64{0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25},
		}),
		NotificationFailures: f.NewCounter(prometheus.CounterOpts{
			Name: "intakehub_notification_failures_total",
			Help: "Operator notifications that could not be delivered",
		}),
		Logins: f.NewCounterVec(prometheus.CounterOpts{
			Name: "intakehub_auth_logins_total",
			Help: "Login attempts by result",
		}, []string{"result"}),
		Exports: f.NewCounter(prometheus.CounterOpts{
			Name: "intakehub_dashboard_exports_total",
			Help: "Aggregate spreadsheet exports",
		}),
	}
}

func (m *Metrics) ObserveHTTPRequest(method, route string, status int, seconds float64) {
	if m == nil {
		return
	}
	m.HTTPRequestDuration.WithLabelValues(method, route, strconv.Itoa(status)).Observe(seconds)
}

func (m *Metrics) IncSubmission(outcome string) {
	if m == nil {
		return
	}
	m.Submissions.WithLabelValues(outcome).Inc()
}

func (m *Metrics) IncSensitiveRead() {
	if m == nil {
		return
	}
	m.SensitiveReads.Inc()
}

func (m *Metrics) IncProcessed() {
	if m == nil {
		return
	}
	m.CasesProcessed.Inc()
}

func (m *Metrics) AddPurged(reason string, n int) {
	if m == nil || n == 0 {
		return
	}
	m.PurgedRecords.WithLabelValues(reason).Add(float64(n))
}

// ObserveAuditWrite satisfies audit.Observer.
func (m *Metrics) ObserveAuditWrite(action string, seconds float64, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.AuditWrites.WithLabelValues(action, result).Inc()
	m.AuditWriteDuration.Observe(seconds)
}

func (m *Metrics) IncNotificationFailure() {
	if m == nil {
		return
	}
	m.NotificationFailures.Inc()
}

func (m *Metrics) IncLogin(result string) {
	if m == nil {
		return
	}
	m.Logins.WithLabelValues(result).Inc()
}

func (m *Metrics) IncExport() {
	if m == nil {
		return
	}
	m.Exports.Inc()
}

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics covers rate limit decisions. Nil-safe.
type Metrics struct {
	Denials       *prometheus.CounterVec
	StoreFailures prometheus.Counter
	Degraded      prometheus.Gauge
}

func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Denials: f.NewCounterVec(prometheus.CounterOpts{
			Name: "intakehub_ratelimit_denied_total",
			Help: "Requests rejected by rate limiting, by endpoint class",
		}, []string{"class"}),
		StoreFailures: f.NewCounter(prometheus.CounterOpts{
			Name: "intakehub_ratelimit_store_failures_total",
			Help: "Rate limit checks that failed against the primary store",
		}),
		Degraded: f.NewGauge(prometheus.GaugeOpts{
			Name: "intakehub_ratelimit_degraded",
			Help: "1 while rate limiting runs on the in-memory fallback",
		}),
	}
}

func (m *Metrics) IncDenied(class string) {
	if m == nil {
		return
	}
	m.Denials.WithLabelValues(class).Inc()
}

func (m *Metrics) IncStoreFailure() {
	if m == nil {
		return
	}
	m.StoreFailures.Inc()
}

func (m *Metrics) SetDegraded(degraded bool) {
	if m == nil {
		return
	}
	if degraded {
		m.Degraded.Set(1)
		return
	}
	m.Degraded.Set(0)
}

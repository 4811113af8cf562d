package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups all Prometheus instruments used by the broker.
type Metrics struct {
	SessionsCreated *prometheus.CounterVec
	SessionFailures *prometheus.CounterVec
	CookiesIssued   prometheus.Counter
	UpstreamLatency prometheus.Histogram
	FactEvents      *prometheus.CounterVec
	PanelEvents     *prometheus.CounterVec
}

func NewMetrics(namespace string) *Metrics {
	return &Metrics{
		SessionsCreated: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_created_total",
			Help:      "Successful upstream session creations by metadata placement.",
		}, []string{"placement"}),
		SessionFailures: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "session_failures_total",
			Help:      "Failed session requests by error kind and status class.",
		}, []string{"kind", "status_class"}),
		CookiesIssued: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cookies_issued_total",
			Help:      "Fresh caller-identity cookies issued.",
		}),
		UpstreamLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "upstream_request_ms",
			Help:      "Latency of upstream create-session calls in milliseconds.",
			Buckets:   []float64{50, 100, 200, 400, 800, 1500, 3000, 6000},
		}),
		FactEvents: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fact_events_total",
			Help:      "Fact events by outcome (recorded, duplicate, redacted, error).",
		}, []string{"outcome"}),
		PanelEvents: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "panel_events_total",
			Help:      "Panel lifecycle events by type.",
		}, []string{"event"}),
	}
}

func (m *Metrics) ObserveUpstreamLatency(d time.Duration) {
	m.UpstreamLatency.Observe(float64(d.Milliseconds()))
}

func MetricsHandler() http.Handler {
	return promhttp.Handler()
}

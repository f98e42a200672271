package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Outcome label values for ExpansionsTotal.
const (
	OutcomeRedirectCoordinates = "redirect_coordinates"
	OutcomeHTMLCoordinates     = "html_coordinates"
	OutcomeExpandedOnly        = "expanded_only"
	OutcomeNoRedirect          = "no_redirect"
	OutcomeFailed              = "failed"
	OutcomeMissingURL          = "missing_url"

	// StageRedirect labels the single-hop redirect request.
	StageRedirect = "redirect"
	// StageHTML labels the redirect target page fetch.
	StageHTML = "html"
)

// Metrics groups the companion service collectors.
type Metrics struct {
	ExpansionsTotal  *prometheus.CounterVec
	HTMLFetchErrors  prometheus.Counter
	UpstreamSeconds  *prometheus.HistogramVec
	InFlightRequests prometheus.Gauge
}

// NewMetrics registers the collectors with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	return &Metrics{
		ExpansionsTotal: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "geolink_expansions_total",
			Help: "Total number of expansion requests by outcome.",
		}, []string{"outcome"}),
		HTMLFetchErrors: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "geolink_html_fetch_errors_total",
			Help: "Total number of failed redirect target page fetches.",
		}),
		UpstreamSeconds: promauto.With(reg).NewHistogramVec(prometheus.HistogramOpts{
			Name:    "geolink_upstream_request_duration_seconds",
			Help:    "Duration of outbound requests made while expanding a link.",
			Buckets: prometheus.DefBuckets,
		}, []string{"stage"}),
		InFlightRequests: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Name: "geolink_expand_in_flight_requests",
			Help: "Current number of expansion requests being served.",
		}),
	}
}

// RecordOutcome increments the outcome counter; a nil receiver is a no-op.
func (m *Metrics) RecordOutcome(outcome string) {
	if m == nil {
		return
	}
	m.ExpansionsTotal.WithLabelValues(outcome).Inc()
}

// ObserveUpstream records an outbound request duration in seconds.
func (m *Metrics) ObserveUpstream(stage string, seconds float64) {
	if m == nil {
		return
	}
	m.UpstreamSeconds.WithLabelValues(stage).Observe(seconds)
}

// RecordHTMLFetchError increments the page fetch failure counter.
func (m *Metrics) RecordHTMLFetchError() {
	if m == nil {
		return
	}
	m.HTMLFetchErrors.Inc()
}

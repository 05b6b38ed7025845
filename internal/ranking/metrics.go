package ranking

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics names as constants for consistency.
const (
	MetricRankingRequestsTotal = "ranking_requests_total"
	MetricRankingDuration      = "ranking_duration_seconds"
	MetricRankingCandidates    = "ranking_candidates"
	MetricRankingDegradedItems = "ranking_degraded_items_total"
)

// Metrics contains Prometheus metrics for ranking calls.
// All operations are thread-safe.
type Metrics struct {
	requestsTotal *prometheus.CounterVec
	duration      *prometheus.HistogramVec
	candidates    *prometheus.HistogramVec
	degradedItems *prometheus.CounterVec
}

// NewMetrics creates and returns a new Metrics instance with all collectors initialized.
// The metrics are not registered; call Register to register them with a registry.
func NewMetrics() *Metrics {
	return &Metrics{
		requestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: MetricRankingRequestsTotal,
				Help: "Total number of ranking calls by surface",
			},
			[]string{"surface"},
		),
		duration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    MetricRankingDuration,
				Help:    "Histogram of ranking call duration in seconds",
				Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1},
			},
			[]string{"surface"},
		),
		candidates: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    MetricRankingCandidates,
				Help:    "Number of candidate items per ranking call",
				Buckets: prometheus.ExponentialBuckets(1, 4, 8), // 1 to 16384
			},
			[]string{"surface"},
		),
		degradedItems: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: MetricRankingDegradedItems,
				Help: "Total number of items whose inputs were coerced before scoring, by reason",
			},
			[]string{"surface", "reason"},
		),
	}
}

// Register registers all metrics with the given registry.
// Returns an error if registration fails.
func (m *Metrics) Register(reg prometheus.Registerer) error {
	for _, c := range m.Collectors() {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}

// IncRequests increments the ranking calls counter.
func (m *Metrics) IncRequests(surface Surface) {
	m.requestsTotal.WithLabelValues(string(surface)).Inc()
}

// ObserveDuration records a ranking call duration sample.
func (m *Metrics) ObserveDuration(surface Surface, seconds float64) {
	m.duration.WithLabelValues(string(surface)).Observe(seconds)
}

// ObserveCandidates records the candidate list size of a ranking call.
func (m *Metrics) ObserveCandidates(surface Surface, n int) {
	m.candidates.WithLabelValues(string(surface)).Observe(float64(n))
}

// IncDegraded increments the degraded items counter.
func (m *Metrics) IncDegraded(surface Surface, reason string) {
	m.degradedItems.WithLabelValues(string(surface), reason).Inc()
}

// Collectors returns all Prometheus collectors for testing.
func (m *Metrics) Collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.requestsTotal,
		m.duration,
		m.candidates,
		m.degradedItems,
	}
}

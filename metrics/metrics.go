package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all engine Prometheus collectors. Use Get(); collectors
// register once against the default registry.
type Metrics struct {
	SubmissionsTotal *prometheus.CounterVec
	RejectionsTotal  *prometheus.CounterVec

	AggregatedPrice    *prometheus.GaugeVec
	AggregatedStdDev   *prometheus.GaugeVec
	SourceCount        *prometheus.GaugeVec
	TWAP               *prometheus.GaugeVec
	AggregationSeconds prometheus.Histogram

	CircuitState      *prometheus.GaugeVec
	CircuitTripsTotal *prometheus.CounterVec

	SlashesTotal     *prometheus.CounterVec
	SlashedAmount    *prometheus.CounterVec
	OracleReputation *prometheus.GaugeVec

	CommitmentsTotal        *prometheus.CounterVec
	ProofVerificationsTotal *prometheus.CounterVec

	EventsDropped prometheus.Gauge
}

var (
	once     sync.Once
	instance *Metrics
)

// Get returns the process-wide metrics instance.
func Get() *Metrics {
	once.Do(func() {
		instance = &Metrics{
			SubmissionsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
				Namespace: "quorumfeed",
				Name:      "submissions_total",
				Help:      "Price report submissions accepted into a round.",
			}, []string{"feed"}),
			RejectionsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
				Namespace: "quorumfeed",
				Name:      "rejections_total",
				Help:      "Price report submissions rejected, by reason.",
			}, []string{"feed", "reason"}),
			AggregatedPrice: promauto.NewGaugeVec(prometheus.GaugeOpts{
				Namespace: "quorumfeed",
				Name:      "aggregated_price",
				Help:      "Latest consensus price per feed.",
			}, []string{"feed"}),
			AggregatedStdDev: promauto.NewGaugeVec(prometheus.GaugeOpts{
				Namespace: "quorumfeed",
				Name:      "aggregated_stddev",
				Help:      "Population standard deviation of the latest round.",
			}, []string{"feed"}),
			SourceCount: promauto.NewGaugeVec(prometheus.GaugeOpts{
				Namespace: "quorumfeed",
				Name:      "source_count",
				Help:      "Sources surviving outlier filtering in the latest round.",
			}, []string{"feed"}),
			TWAP: promauto.NewGaugeVec(prometheus.GaugeOpts{
				Namespace: "quorumfeed",
				Name:      "twap",
				Help:      "Time-weighted average price over the configured window.",
			}, []string{"feed"}),
			AggregationSeconds: promauto.NewHistogram(prometheus.HistogramOpts{
				Namespace: "quorumfeed",
				Name:      "aggregation_seconds",
				Help:      "Latency of a full aggregation round.",
				Buckets:   prometheus.ExponentialBuckets(0.0001, 4, 8),
			}),
			CircuitState: promauto.NewGaugeVec(prometheus.GaugeOpts{
				Namespace: "quorumfeed",
				Name:      "circuit_state",
				Help:      "Circuit breaker state per feed: 0 closed, 1 half-open, 2 open.",
			}, []string{"feed"}),
			CircuitTripsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
				Namespace: "quorumfeed",
				Name:      "circuit_trips_total",
				Help:      "Circuit breaker trips, by reason.",
			}, []string{"feed", "reason"}),
			SlashesTotal: promauto.NewCounterVec(prometheus.CounterOpts{
				Namespace: "quorumfeed",
				Name:      "slashes_total",
				Help:      "Slashing events, by reason.",
			}, []string{"reason"}),
			SlashedAmount: promauto.NewCounterVec(prometheus.CounterOpts{
				Namespace: "quorumfeed",
				Name:      "slashed_amount_total",
				Help:      "Cumulative slashed stake, by reason.",
			}, []string{"reason"}),
			OracleReputation: promauto.NewGaugeVec(prometheus.GaugeOpts{
				Namespace: "quorumfeed",
				Name:      "oracle_reputation_bps",
				Help:      "Current reputation per oracle in basis points.",
			}, []string{"oracle"}),
			CommitmentsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
				Namespace: "quorumfeed",
				Name:      "commitments_total",
				Help:      "Commit-reveal operations, by stage.",
			}, []string{"stage"}),
			ProofVerificationsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
				Namespace: "quorumfeed",
				Name:      "proof_verifications_total",
				Help:      "Proof verification attempts, by result.",
			}, []string{"result"}),
			EventsDropped: promauto.NewGauge(prometheus.GaugeOpts{
				Namespace: "quorumfeed",
				Name:      "events_dropped",
				Help:      "Events discarded due to emitter buffer overflow.",
			}),
		}
	})
	return instance
}

// CircuitStateValue maps a breaker state string to its gauge value.
func CircuitStateValue(state string) float64 {
	switch state {
	case "open":
		return 2
	case "half_open":
		return 1
	default:
		return 0
	}
}

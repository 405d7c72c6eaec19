package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the federation engine.
type Metrics struct {
	ActivitiesReceived  *prometheus.CounterVec
	ActivitiesApplied   *prometheus.CounterVec
	ActivitiesRejected  *prometheus.CounterVec
	ActivitiesDuplicate prometheus.Counter

	ObjectCacheHits   prometheus.Counter
	ObjectCacheMisses prometheus.Counter
	ObjectFetches     prometheus.Counter
	FetchLimitAborts  prometheus.Counter

	DeliveryAttempts  *prometheus.CounterVec
	DeliveryExhausted prometheus.Counter
	DeliveryDuration  prometheus.Histogram

	PolicyReloads prometheus.Counter
}

// New creates and registers all Prometheus metrics.
func New() *Metrics {
	return &Metrics{
		ActivitiesReceived: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "agora_federation_activities_received_total",
			Help: "Inbound activities by type, counted before dedup",
		}, []string{"type"}),
		ActivitiesApplied: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "agora_federation_activities_applied_total",
			Help: "Activities that completed the apply phase, by type",
		}, []string{"type"}),
		ActivitiesRejected: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "agora_federation_activities_rejected_total",
			Help: "Activities rejected before apply, by error code",
		}, []string{"code"}),
		ActivitiesDuplicate: promauto.NewCounter(prometheus.CounterOpts{
			Name: "agora_federation_activities_duplicate_total",
			Help: "Redelivered activities short-circuited by the journal",
		}),
		ObjectCacheHits: promauto.NewCounter(prometheus.CounterOpts{
			Name: "agora_federation_object_cache_hits_total",
			Help: "Object resolutions served from the in-memory cache",
		}),
		ObjectCacheMisses: promauto.NewCounter(prometheus.CounterOpts{
			Name: "agora_federation_object_cache_misses_total",
			Help: "Object resolutions that missed the cache",
		}),
		ObjectFetches: promauto.NewCounter(prometheus.CounterOpts{
			Name: "agora_federation_object_fetches_total",
			Help: "Outgoing HTTP fetches issued by the object resolver",
		}),
		FetchLimitAborts: promauto.NewCounter(prometheus.CounterOpts{
			Name: "agora_federation_fetch_limit_aborts_total",
			Help: "Resolutions aborted by the per-request fetch ceiling",
		}),
		DeliveryAttempts: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "agora_federation_delivery_attempts_total",
			Help: "Outbound delivery attempts by outcome",
		}, []string{"outcome"}),
		DeliveryExhausted: promauto.NewCounter(prometheus.CounterOpts{
			Name: "agora_federation_delivery_exhausted_total",
			Help: "Recipients given up on after the retry ceiling",
		}),
		DeliveryDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "agora_federation_delivery_duration_seconds",
			Help:    "Latency of individual outbound POSTs",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}),
		PolicyReloads: promauto.NewCounter(prometheus.CounterOpts{
			Name: "agora_federation_policy_reloads_total",
			Help: "Trust policy cache backend reloads",
		}),
	}
}

// ObserveDelivery records a single delivery attempt.
func (m *Metrics) ObserveDelivery(outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.DeliveryAttempts.WithLabelValues(outcome).Inc()
	m.DeliveryDuration.Observe(d.Seconds())
}

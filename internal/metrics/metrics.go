package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "worldvote"

// Metrics holds the engine's collectors. One instance is created per engine so
// tests can run in parallel with their own registries.
type Metrics struct {
	CacheHits           *prometheus.CounterVec
	CacheMisses         *prometheus.CounterVec
	CacheErrors         *prometheus.CounterVec
	VotesAccepted       prometheus.Counter
	VotesDuplicate      prometheus.Counter
	Resolutions         *prometheus.CounterVec
	ResolutionDuration  prometheus.Histogram
	SideEffectFailures  *prometheus.CounterVec
	AchievementsAwarded *prometheus.CounterVec
	WorldVersion        prometheus.Gauge
}

// New registers the collectors with reg. A nil reg uses a private registry.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	f := promauto.With(reg)
	return &Metrics{
		CacheHits: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_hits_total",
			Help:      "Read-through cache hits, partitioned by key class.",
		}, []string{"class"}),
		CacheMisses: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_misses_total",
			Help:      "Read-through cache misses, partitioned by key class.",
		}, []string{"class"}),
		CacheErrors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_errors_total",
			Help:      "Best-effort cache operations that failed, partitioned by operation.",
		}, []string{"op"}),
		VotesAccepted: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "votes_accepted_total",
			Help:      "Votes recorded in the ledger.",
		}),
		VotesDuplicate: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "votes_duplicate_total",
			Help:      "Votes rejected because the participant already voted.",
		}),
		Resolutions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "resolutions_total",
			Help:      "Resolution cycles, partitioned by outcome.",
		}, []string{"outcome"}),
		ResolutionDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "resolution_duration_seconds",
			Help:      "Wall time of a full resolution cycle.",
			Buckets:   prometheus.DefBuckets,
		}),
		SideEffectFailures: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "side_effect_failures_total",
			Help:      "Best-effort steps (profiles, leaderboards, publish, archive) that failed.",
		}, []string{"step"}),
		AchievementsAwarded: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "achievements_awarded_total",
			Help:      "Achievements unlocked, partitioned by achievement id.",
		}, []string{"achievement"}),
		WorldVersion: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "world_version",
			Help:      "Version of the last persisted world state.",
		}),
	}
}

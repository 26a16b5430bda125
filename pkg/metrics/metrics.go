package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Screenings counts screening requests by kind (address/name) and outcome
// (cached/sanctioned/clear).
var Screenings = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "screening_requests_total",
		Help: "Total screening requests by kind and outcome",
	},
	[]string{"kind", "outcome"},
)

// CacheOps counts result-cache operations by op (get/set) and result
// (hit/miss/ok/error).
var CacheOps = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "screening_cache_operations_total",
		Help: "Result cache operations by op and result",
	},
	[]string{"op", "result"},
)

// PotentialFalsePositives counts declared matches below the manual-review
// threshold.
var PotentialFalsePositives = prometheus.NewCounter(
	prometheus.CounterOpts{
		Name: "screening_potential_false_positives_total",
		Help: "Declared matches flagged for manual review",
	},
)

// Refreshes counts watchlist refresh attempts per source and result.
var Refreshes = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "screening_watchlist_refresh_total",
		Help: "Watchlist refresh attempts by source and result",
	},
	[]string{"source", "result"},
)

// RefreshDuration records how long full refresh cycles take.
var RefreshDuration = prometheus.NewHistogram(
	prometheus.HistogramOpts{
		Name:    "screening_watchlist_refresh_duration_seconds",
		Help:    "Duration of watchlist refresh cycles",
		Buckets: prometheus.DefBuckets,
	},
)

// WatchlistEntities tracks the entity count of each source's current
// generation.
var WatchlistEntities = prometheus.NewGaugeVec(
	prometheus.GaugeOpts{
		Name: "screening_watchlist_entities",
		Help: "Entities in the current watchlist generation per source",
	},
	[]string{"source"},
)

func init() {
	prometheus.MustRegister(Screenings, CacheOps, PotentialFalsePositives)
	prometheus.MustRegister(Refreshes, RefreshDuration, WatchlistEntities)
}

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/ledgerkit/searchd/internal/engine"
)

// Search and indexing Prometheus metrics.
var (
	SearchDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "searchd",
			Name:      "search_duration_seconds",
			Help:      "Engine query duration in seconds",
			Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		},
		[]string{"syntax"}, // "rich" / "exact"
	)

	SearchTimeouts = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "searchd",
			Name:      "search_timeouts_total",
			Help:      "Searches the engine reported as timed out",
		},
	)

	SearchFallbacks = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "searchd",
			Name:      "search_fallbacks_total",
			Help:      "Rich-syntax searches retried in exact mode",
		},
		[]string{"reason"}, // "bad_request" / "zero_hits"
	)

	FlushItemLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "searchd",
			Name:      "flush_item_latency_seconds",
			Help:      "Enqueue-to-flush latency per queued item",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 15, 60, 300},
		},
		[]string{"index", "op"}, // op: "save" / "delete"
	)

	FlushBatchSize = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "searchd",
			Name:      "flush_batch_size",
			Help:      "Items per flushed batch",
			Buckets:   []float64{1, 5, 10, 50, 100, 250, 500, 1000},
		},
		[]string{"index", "op"},
	)

	EngineErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "searchd",
			Name:      "engine_errors_total",
			Help:      "Engine errors by operation and kind",
		},
		[]string{"op", "kind"},
	)

	TenantsEvicted = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "searchd",
			Name:      "tenants_evicted_total",
			Help:      "Orphan tenants evicted from the cluster",
		},
	)
)

func init() {
	prometheus.MustRegister(SearchDuration)
	prometheus.MustRegister(SearchTimeouts)
	prometheus.MustRegister(SearchFallbacks)
	prometheus.MustRegister(FlushItemLatency)
	prometheus.MustRegister(FlushBatchSize)
	prometheus.MustRegister(EngineErrors)
	prometheus.MustRegister(TenantsEvicted)
}

// KindLabel maps an engine error kind to a stable metric label.
func KindLabel(kind engine.Kind) string {
	switch kind {
	case engine.KindConflict:
		return "conflict"
	case engine.KindBadRequest:
		return "bad_request"
	case engine.KindNotFound:
		return "not_found"
	case engine.KindTooComplex:
		return "too_complex"
	default:
		return "other"
	}
}

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// DBQueryDuration measures how long catalog extraction queries take.
// The 'operation' label distinguishes entity pages, attribute values,
// option labels and relation lookups.
var DBQueryDuration = promauto.NewHistogramVec(
	prometheus.HistogramOpts{
		Name:    "catalog_db_query_duration_seconds",
		Help:    "Duration of catalog database queries in seconds",
		Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.5, 1.0, 5.0},
	},
	[]string{"operation"},
)

// BulkDuration measures Elasticsearch bulk call latency per scope.
var BulkDuration = promauto.NewHistogramVec(
	prometheus.HistogramOpts{
		Name: "search_bulk_duration_seconds",
		Help: "Duration of Elasticsearch bulk requests in seconds",
		// Bulk calls carry whole batches, so the buckets run longer than
		// the per-query ones.
		Buckets: []float64{0.05, 0.1, 0.5, 1.0, 5.0, 15.0, 60.0},
	},
	[]string{"scope"},
)

// DocumentsIndexed counts documents written per scope and operation
// (index, update, delete).
var DocumentsIndexed = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "search_documents_indexed_total",
		Help: "Number of documents written to the search engine",
	},
	[]string{"scope", "operation"},
)

// EventsProcessed counts change events by decoded kind.
var EventsProcessed = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "indexer_events_processed_total",
		Help: "Number of entity-change events processed",
	},
	[]string{"kind"},
)

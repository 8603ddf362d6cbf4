// Package metrics declares the Prometheus collectors shared across HashDrop.
// HTTP collectors live next to the middleware in internal/api; business
// counters live here so storage and ingest code can update them without
// importing the transport layer.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// BlobWrites counts content store commits by result (written, dedup, error).
	BlobWrites = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hashdrop_blob_writes_total",
			Help: "Content store commits by result",
		},
		[]string{"result"},
	)

	// Ingests counts upload attempts by outcome.
	Ingests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hashdrop_ingests_total",
			Help: "Upload attempts by outcome",
		},
		[]string{"outcome"},
	)

	// IngestBytes observes the size of committed uploads.
	IngestBytes = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "hashdrop_ingest_bytes",
			Help:    "Size of committed uploads in bytes",
			Buckets: prometheus.ExponentialBuckets(256, 4, 10),
		},
	)

	// ExportEntries counts archive entries by kind (file, error, skipped).
	ExportEntries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hashdrop_export_entries_total",
			Help: "Export archive entries by kind",
		},
		[]string{"kind"},
	)
)

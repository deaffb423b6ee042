package core

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ComponentLatency times a single plugin invocation. The runtime
	// observes it only for processor Execute calls (kind="processor");
	// source start and sink output are not timed.
	ComponentLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name: "flowmesh_component_latency_seconds",
			Help: "Latency of a single plugin invocation.",
		},
		[]string{"pipeline", "component", "kind"},
	)
	// ComponentErrors counts plugin-level failures by taxonomy (§7).
	ComponentErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "flowmesh_component_errors_total",
			Help: "Total number of plugin errors, labeled by error type.",
		},
		[]string{"pipeline", "component", "error_type"},
	)

	// RecordsProcessed counts records that completed the full
	// source→processor→sink path for a pipeline.
	RecordsProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "flowmesh_records_processed_total",
			Help: "Total number of records that reached at least one sink.",
		},
		[]string{"pipeline"},
	)
	// RecordsDropped counts records that were discarded before reaching a
	// sink (buffer full past grace, processor error, peer-forward drop).
	RecordsDropped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "flowmesh_records_dropped_total",
			Help: "Total number of records dropped, labeled by reason.",
		},
		[]string{"pipeline", "reason"},
	)
	// BufferOccupancy tracks the current number of records waiting in a
	// pipeline's buffer.
	BufferOccupancy = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "flowmesh_buffer_occupancy",
			Help: "Current number of records queued in a pipeline buffer.",
		},
		[]string{"pipeline"},
	)
	// PeerForwardRetries counts retry attempts made by the peer-forwarding
	// decorator before a send succeeds or is dropped.
	PeerForwardRetries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "flowmesh_peer_forward_retries_total",
			Help: "Total number of peer-forwarding retry attempts.",
		},
		[]string{"pipeline", "component"},
	)
	// PeerForwardDrops counts records dropped after peer-forwarding retries
	// were exhausted.
	PeerForwardDrops = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "flowmesh_peer_forward_drops_total",
			Help: "Total number of records dropped after peer-forwarding retries were exhausted.",
		},
		[]string{"pipeline", "component"},
	)
)

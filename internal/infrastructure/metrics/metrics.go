// Package metrics 定义上传流水线的 Prometheus 指标，通过 /metrics 暴露。
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Chunk ingest metrics
var (
	ChunksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ingest_chunks_total",
			Help: "Total number of received chunks by outcome",
		},
		[]string{"result"}, // "stored", "duplicate", "rejected", "error"
	)

	ChunkBytesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "ingest_chunk_bytes_total",
			Help: "Total number of bytes written to staging files",
		},
	)

	UploadsCompletedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "ingest_uploads_fully_received_total",
			Help: "Total number of uploads whose byte ranges became contiguous",
		},
	)
)

// Workflow metrics
var (
	PhaseTransitionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ingest_phase_transitions_total",
			Help: "Total number of persisted phase transitions",
		},
		[]string{"from", "to"},
	)

	PhaseFailuresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ingest_phase_failures_total",
			Help: "Total number of records forced to failed, by phase and error code",
		},
		[]string{"phase", "code"},
	)

	PhaseDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ingest_phase_duration_seconds",
			Help:    "Phase handler duration in seconds",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 15, 30, 60, 120, 300, 600, 1800},
		},
		[]string{"phase"},
	)

	AdvancesInProgress = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "ingest_advances_in_progress",
			Help: "Number of workflow advance calls currently running",
		},
	)
)

// Upload metrics
var (
	ObjectUploadsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ingest_object_uploads_total",
			Help: "Total number of durable-storage uploads by destination and outcome",
		},
		[]string{"destination", "result"}, // destination: "object_store", "video_host"
	)

	DualUploadDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "ingest_dual_upload_duration_seconds",
			Help:    "Duration of streaming uploads in seconds",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800, 3600},
		},
	)
)

// Recovery metrics
var (
	RecoveryRecordsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ingest_recovery_records_total",
			Help: "Total number of records visited by recovery scans by outcome",
		},
		[]string{"outcome"}, // "skipped", "regenerated", "completed", "failed", "advanced", "error"
	)

	RecoveryLastRunTimestamp = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "ingest_recovery_last_run_timestamp_seconds",
			Help: "Unix timestamp of the last finished recovery scan",
		},
	)
)

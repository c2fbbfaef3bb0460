// Package metrics exposes Prometheus instrumentation for every lognog
// subsystem: ingestion, the DSL query engine, the storage adapter, and
// the baseline/anomaly analytics pipeline. Every metric is
// package-level, promauto-registered, and named
// lognog_<component>_<noun>_total|seconds|ratio, mirroring the
// teacher's metrics.go.
package metrics

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

var (
	// Ingestion
	IngestFramesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lognog_ingest_frames_total",
			Help: "Total syslog frames received, by transport",
		},
		[]string{"transport"}, // udp, tcp, kafka
	)

	IngestParseErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lognog_ingest_parse_errors_total",
			Help: "Total frames that failed every parser in the selection chain",
		},
		[]string{"transport"},
	)

	IngestParseFallbackTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lognog_ingest_parse_fallback_total",
			Help: "Total events whose timestamp was replaced by received_at",
		},
		[]string{"index"},
	)

	IngestBatchesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lognog_ingest_batches_total",
			Help: "Total batches flushed to storage, by index and trigger",
		},
		[]string{"index", "trigger"}, // trigger: size, delay, shutdown
	)

	IngestBatchSize = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "lognog_ingest_batch_size",
			Help:    "Number of events per flushed batch",
			Buckets: prometheus.ExponentialBuckets(1, 2, 12),
		},
		[]string{"index"},
	)

	IngestBatchRetriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lognog_ingest_batch_retries_total",
			Help: "Total batch insert retry attempts",
		},
		[]string{"index"},
	)

	IngestDroppedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lognog_ingest_dropped_total",
			Help: "Total events dropped (queue overflow or retries exhausted)",
		},
		[]string{"index", "reason"},
	)

	IngestQueueDepth = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "lognog_ingest_queue_depth",
			Help: "Current number of events buffered in the ingestion channel",
		},
		[]string{"index"},
	)

	IngestBackpressureLevel = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "lognog_ingest_backpressure_level",
		Help: "Current backpressure level (0=none, 1=low, 2=medium, 3=high, 4=critical)",
	})

	// Field extraction
	ExtractionAppliedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lognog_extraction_applied_total",
			Help: "Total field extraction rules successfully applied",
		},
		[]string{"layer"}, // json, builtin, user
	)

	ExtractionErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lognog_extraction_errors_total",
			Help: "Total field extraction pattern failures",
		},
		[]string{"pattern"},
	)

	ExtractionReloadTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "lognog_extraction_reload_total",
		Help: "Total hot-reloads of the user pattern file",
	})

	// DSL query engine
	QueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "lognog_query_duration_seconds",
			Help:    "End-to-end duration of parse+validate+plan+execute+post-process",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"stage"}, // parse, validate, plan, execute, postprocess
	)

	QueryTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lognog_query_total",
			Help: "Total DSL queries executed, by outcome",
		},
		[]string{"outcome"}, // ok, parse_error, validation_error, plan_error, storage_error, deadline_exceeded
	)

	QueryWorkerPoolInUse = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "lognog_query_worker_pool_in_use",
		Help: "Number of query worker pool goroutines currently executing",
	})

	// Storage adapter
	StorageQueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "lognog_storage_query_duration_seconds",
			Help:    "Duration of storage adapter operations",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"backend", "operation"}, // operation: executeQuery, insertBatch, executeDDL, discoverStructuredFields
	)

	StorageErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lognog_storage_errors_total",
			Help: "Total storage adapter operation failures",
		},
		[]string{"backend", "operation"},
	)

	RetentionDeletedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lognog_retention_deleted_total",
			Help: "Total events deleted by the retention sweep",
		},
		[]string{"index"},
	)

	// Baseline / anomaly analytics
	BaselineCellsUpdated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lognog_baseline_cells_updated_total",
			Help: "Total (entity,metric,hour,day) baseline cells updated",
		},
		[]string{"entity_type"},
	)

	BaselineTrustedRatio = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "lognog_baseline_trusted_ratio",
			Help: "Fraction of baseline cells with enough samples to be trusted",
		},
		[]string{"entity_type"},
	)

	AnomaliesDetectedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lognog_anomalies_detected_total",
			Help: "Total anomalies detected, by type and severity",
		},
		[]string{"anomaly_type", "severity"},
	)

	AnomalyScanDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "lognog_anomaly_scan_duration_seconds",
		Help:    "Duration of one anomaly detection scan pass",
		Buckets: prometheus.DefBuckets,
	})

	// Component health, mirroring the teacher's generic health gauge.
	ComponentHealth = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "lognog_component_health",
			Help: "Health status of components (1 = healthy, 0 = unhealthy)",
		},
		[]string{"component"},
	)
)

// RecordIngestFrame and the following Record* helpers give callers a
// one-line call site instead of reaching into the label set directly,
// matching the teacher's RecordLogProcessed/RecordLogSent convention.

func RecordIngestFrame(transport string) {
	IngestFramesTotal.WithLabelValues(transport).Inc()
}

func RecordParseError(transport string) {
	IngestParseErrorsTotal.WithLabelValues(transport).Inc()
}

func RecordParseFallback(index string) {
	IngestParseFallbackTotal.WithLabelValues(index).Inc()
}

func RecordBatch(index, trigger string, size int) {
	IngestBatchesTotal.WithLabelValues(index, trigger).Inc()
	IngestBatchSize.WithLabelValues(index).Observe(float64(size))
}

func RecordDrop(index, reason string) {
	IngestDroppedTotal.WithLabelValues(index, reason).Inc()
}

func RecordQuery(outcome string) {
	QueryTotal.WithLabelValues(outcome).Inc()
}

func RecordAnomaly(anomalyType, severity string) {
	AnomaliesDetectedTotal.WithLabelValues(anomalyType, severity).Inc()
}

// Server exposes /metrics and /healthz over its own HTTP listener,
// independent of the query API's transport, matching the teacher's
// MetricsServer split between business traffic and observability traffic.
type Server struct {
	server *http.Server
	logger *logrus.Logger
}

var registerOnce sync.Once

// NewServer builds the metrics HTTP server. Registration happens once
// per process regardless of how many Server values are constructed,
// since the collectors above are package-level singletons.
func NewServer(addr, path string, logger *logrus.Logger) *Server {
	registerOnce.Do(func() {})

	mux := http.NewServeMux()
	mux.Handle(path, promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	return &Server{
		server: &http.Server{Addr: addr, Handler: mux},
		logger: logger,
	}
}

func (s *Server) Start() error {
	s.logger.WithField("addr", s.server.Addr).Info("starting metrics server")
	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.WithError(err).Error("metrics server error")
		}
	}()
	return nil
}

func (s *Server) Stop() error {
	s.logger.Info("stopping metrics server")
	return s.server.Close()
}

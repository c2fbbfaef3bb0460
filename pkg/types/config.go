// Package types - Configuration data structures
package types

import "time"

// Config is the root configuration object for the lognog server: every
// subsystem (ingestion, storage, catalog, DSL, analytics) reads its
// settings from one of these sub-structs.
type Config struct {
	App        AppConfig        `yaml:"app"`
	Server     ServerConfig     `yaml:"server"`
	Metrics    MetricsConfig    `yaml:"metrics"`
	Tracing    TracingConfig    `yaml:"tracing"`
	Storage    StorageConfig    `yaml:"storage"`
	Ingest     IngestConfig     `yaml:"ingest"`
	Extraction ExtractionConfig `yaml:"extraction"`
	Retention  RetentionConfig  `yaml:"retention"`
	Baseline   BaselineConfig   `yaml:"baseline"`
	Anomaly    AnomalyConfig    `yaml:"anomaly"`
	Query      QueryConfig      `yaml:"query"`
}

// AppConfig contains core application settings.
type AppConfig struct {
	Name           string `yaml:"name"`
	Version        string `yaml:"version"`
	Environment    string `yaml:"environment"` // dev, staging, production
	LogLevel       string `yaml:"log_level"`
	LogFormat      string `yaml:"log_format"` // json, text
	DataDir        string `yaml:"data_dir"`
	DefaultConfigs *bool  `yaml:"default_configs,omitempty"` // nil means "apply defaults"
}

// ServerConfig contains the admin HTTP surface settings (health, metrics,
// and the query endpoint's thin transport; routing/auth live outside this
// repo per Non-goals).
type ServerConfig struct {
	Enabled      bool   `yaml:"enabled"`
	Host         string `yaml:"host"`
	Port         int    `yaml:"port"`
	ReadTimeout  string `yaml:"read_timeout"`
	WriteTimeout string `yaml:"write_timeout"`
}

// MetricsConfig contains Prometheus metrics settings.
type MetricsConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Port      int    `yaml:"port"`
	Path      string `yaml:"path"`
	Namespace string `yaml:"namespace"`
}

// TracingConfig contains OpenTelemetry exporter settings.
type TracingConfig struct {
	Enabled       bool    `yaml:"enabled"`
	Exporter      string  `yaml:"exporter"` // otlphttp, jaeger, none
	OTLPEndpoint  string  `yaml:"otlp_endpoint"`
	JaegerURL     string  `yaml:"jaeger_url"`
	SamplingRatio float64 `yaml:"sampling_ratio"`
}

// StorageConfig selects and configures the storage adapter's backend
// dialect (spec.md §4.7/§9: one interface, two concrete dialects).
type StorageConfig struct {
	Backend      string           `yaml:"backend"` // "clickhouse" or "sqlite"
	ClickHouse   ClickHouseConfig `yaml:"clickhouse"`
	SQLite       SQLiteConfig     `yaml:"sqlite"`
	QueryTimeout string           `yaml:"query_timeout"`
	Breaker      BreakerConfig    `yaml:"breaker"`
}

// BreakerConfig tunes the circuit breaker wrapped around the storage
// adapter's backend calls. Zero values fall back to pkg/circuit's
// own defaults.
type BreakerConfig struct {
	Enabled          bool   `yaml:"enabled"`
	FailureThreshold int    `yaml:"failure_threshold"`
	SuccessThreshold int    `yaml:"success_threshold"`
	Timeout          string `yaml:"timeout"`
}

type ClickHouseConfig struct {
	Addr            []string `yaml:"addr"`
	Database        string   `yaml:"database"`
	Username        string   `yaml:"username"`
	Password        string   `yaml:"password"`
	DialTimeout     string   `yaml:"dial_timeout"`
	MaxOpenConns    int      `yaml:"max_open_conns"`
	MaxIdleConns    int      `yaml:"max_idle_conns"`
	CompressBatches bool     `yaml:"compress_batches"`
}

type SQLiteConfig struct {
	Path string `yaml:"path"`
}

// IngestConfig configures the three ingestion transports and the shared
// batcher/backpressure pipeline behind them (spec.md §4.5/§5).
type IngestConfig struct {
	UDP            UDPListenerConfig `yaml:"udp"`
	TCP            TCPListenerConfig `yaml:"tcp"`
	Kafka          KafkaConfig       `yaml:"kafka"`
	Batch          BatchConfig       `yaml:"batch"`
	DeadLetter     DeadLetterConfig  `yaml:"dead_letter"`
	Validation     ValidationConfig  `yaml:"validation"`
	QueueSize      int               `yaml:"queue_size"`
	MaxRetries     int               `yaml:"max_retries"`
	RetryBaseDelay string            `yaml:"retry_base_delay"`
	RetryMaxDelay  string            `yaml:"retry_max_delay"`
}

// DeadLetterConfig configures the durable last-resort sink a Batcher
// writes to once a batch has exhausted every retry (spec.md §4.5).
type DeadLetterConfig struct {
	Enabled       bool   `yaml:"enabled"`
	Directory     string `yaml:"directory"`
	QueueSize     int    `yaml:"queue_size"`
	MaxFiles      int    `yaml:"max_files"`
	MaxFileSizeMB int64  `yaml:"max_file_size_mb"`
	RetentionDays int    `yaml:"retention_days"`
}

// ValidationConfig tightens the fixed §3 timestamp-reconciliation
// window with an operator-configurable, narrower check: events whose
// wire timestamp drifts past MaxPastAgeSeconds/MaxFutureAgeSeconds from
// the ingest clock are clamped, rejected to the dead-letter queue, or
// merely logged, depending on InvalidAction.
type ValidationConfig struct {
	Enabled             bool   `yaml:"enabled"`
	MaxPastAgeSeconds   int    `yaml:"max_past_age_seconds"`
	MaxFutureAgeSeconds int    `yaml:"max_future_age_seconds"`
	InvalidAction       string `yaml:"invalid_action"` // clamp, reject, warn
}

type UDPListenerConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
}

type TCPListenerConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
}

// KafkaConfig configures the optional Kafka consumer transport
// (spec.md §5.2 addition), SASL/SCRAM per the teacher's kafka_scram.go.
type KafkaConfig struct {
	Enabled       bool     `yaml:"enabled"`
	Brokers       []string `yaml:"brokers"`
	Topic         string   `yaml:"topic"`
	ConsumerGroup string   `yaml:"consumer_group"`
	SASLEnabled   bool     `yaml:"sasl_enabled"`
	SASLMechanism string   `yaml:"sasl_mechanism"` // SCRAM-SHA-256, SCRAM-SHA-512
	SASLUser      string   `yaml:"sasl_user"`
	SASLPassword  string   `yaml:"sasl_password"`
}

// BatchConfig bounds how an index's batcher flushes (spec.md §4.5:
// "flush on size or delay, whichever first").
type BatchConfig struct {
	MaxSize  int    `yaml:"max_size"`
	MaxDelay string `yaml:"max_delay"`
}

// ExtractionConfig configures the grok-based field extractor (spec.md
// §4.6) including its hot-reloadable user pattern file.
type ExtractionConfig struct {
	BuiltinPatternsFile string `yaml:"builtin_patterns_file"`
	UserPatternsFile    string `yaml:"user_patterns_file"`
	HotReload           bool   `yaml:"hot_reload"`
}

// RetentionConfig configures the periodic retention sweep (spec.md §4.8).
type RetentionConfig struct {
	Enabled       bool   `yaml:"enabled"`
	SweepInterval string `yaml:"sweep_interval"`
}

// BaselineConfig configures the baseline calculator (spec.md §4.9).
type BaselineConfig struct {
	Enabled             bool   `yaml:"enabled"`
	RecalculateInterval string `yaml:"recalculate_interval"`
	WindowDays          int    `yaml:"window_days"`
	MinSamples          int    `yaml:"min_samples"`
	ShardCount          int    `yaml:"shard_count"`
}

// AnomalyConfig configures the anomaly detector (spec.md §4.10).
type AnomalyConfig struct {
	Enabled          bool    `yaml:"enabled"`
	ScanInterval     string  `yaml:"scan_interval"`
	ZScoreThreshold  float64 `yaml:"zscore_threshold"`
	SpikeThreshold   float64 `yaml:"spike_threshold"`
	DropThreshold    float64 `yaml:"drop_threshold"`
	OffHoursStart    int     `yaml:"off_hours_start"` // 0-23, default 22
	OffHoursEnd      int     `yaml:"off_hours_end"`   // 0-23, default 6
	RelatedLogsLimit int     `yaml:"related_logs_limit"`
}

// QueryConfig bounds the DSL engine's execution (spec.md §4.4, §5).
type QueryConfig struct {
	WorkerMultiplier int    `yaml:"worker_multiplier"` // worker pool size = NumCPU * this
	DefaultTimeout   string `yaml:"default_timeout"`
	MaxResultRows    int    `yaml:"max_result_rows"`
}

// DurationOrDefault parses a config duration string, falling back to def
// when empty or invalid.
func DurationOrDefault(s string, def time.Duration) time.Duration {
	if s == "" {
		return def
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return def
	}
	return d
}

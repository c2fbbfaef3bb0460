package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/taskmasterpeace/lognog/pkg/errors"
	"github.com/taskmasterpeace/lognog/pkg/types"

	"gopkg.in/yaml.v2"
)

// LoadConfig loads configuration from an optional YAML file, layers
// environment variable overrides on top, applies defaults for anything
// still unset, and validates the result. Nothing in the returned Config
// is partially applied: either LoadConfig succeeds with a config the
// server can run with, or it returns an error and the caller should not
// start.
func LoadConfig(configFile string) (*types.Config, error) {
	config := &types.Config{}

	if configFile != "" {
		if err := loadConfigFile(configFile, config); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", configFile, err)
		}
	}

	applyDefaults(config)
	applyEnvironmentOverrides(config)

	if err := ValidateConfig(config); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return config, nil
}

func loadConfigFile(filename string, config *types.Config) error {
	data, err := os.ReadFile(filename)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, config); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}
	return nil
}

// shouldApplyDefaults mirrors the teacher's "default_configs" escape
// hatch: an operator running entirely off env vars can set
// LOGNOG_DEFAULT_CONFIGS=false to see exactly what was left unset.
func shouldApplyDefaults(config *types.Config) bool {
	if envValue := os.Getenv("LOGNOG_DEFAULT_CONFIGS"); envValue != "" {
		if enabled, err := strconv.ParseBool(envValue); err == nil {
			return enabled
		}
	}
	if config.App.DefaultConfigs == nil {
		return true
	}
	return *config.App.DefaultConfigs
}

func applyDefaults(config *types.Config) {
	if !shouldApplyDefaults(config) {
		return
	}

	if config.App.Name == "" {
		config.App.Name = "lognog"
	}
	if config.App.Version == "" {
		config.App.Version = "v0.1.0"
	}
	if config.App.Environment == "" {
		config.App.Environment = "production"
	}
	if config.App.LogLevel == "" {
		config.App.LogLevel = "info"
	}
	if config.App.LogFormat == "" {
		config.App.LogFormat = "json"
	}
	if config.App.DataDir == "" {
		config.App.DataDir = "/var/lib/lognog"
	}

	if config.Server.Port == 0 {
		config.Server.Port = 8401
	}
	if config.Server.Host == "" {
		config.Server.Host = "0.0.0.0"
	}
	if config.Server.ReadTimeout == "" {
		config.Server.ReadTimeout = "30s"
	}
	if config.Server.WriteTimeout == "" {
		config.Server.WriteTimeout = "30s"
	}

	config.Metrics.Enabled = true
	if config.Metrics.Port == 0 {
		config.Metrics.Port = 9090
	}
	if config.Metrics.Path == "" {
		config.Metrics.Path = "/metrics"
	}
	if config.Metrics.Namespace == "" {
		config.Metrics.Namespace = "lognog"
	}

	if config.Tracing.Exporter == "" {
		config.Tracing.Exporter = "none"
	}
	if config.Tracing.SamplingRatio == 0 {
		config.Tracing.SamplingRatio = 0.1
	}

	if config.Storage.Backend == "" {
		config.Storage.Backend = "sqlite"
	}
	if config.Storage.SQLite.Path == "" {
		config.Storage.SQLite.Path = "/var/lib/lognog/lognog.db"
	}
	if config.Storage.ClickHouse.Database == "" {
		config.Storage.ClickHouse.Database = "lognog"
	}
	if len(config.Storage.ClickHouse.Addr) == 0 {
		config.Storage.ClickHouse.Addr = []string{"127.0.0.1:9000"}
	}
	if config.Storage.ClickHouse.DialTimeout == "" {
		config.Storage.ClickHouse.DialTimeout = "5s"
	}
	if config.Storage.ClickHouse.MaxOpenConns == 0 {
		config.Storage.ClickHouse.MaxOpenConns = 10
	}
	if config.Storage.ClickHouse.MaxIdleConns == 0 {
		config.Storage.ClickHouse.MaxIdleConns = 5
	}
	if config.Storage.QueryTimeout == "" {
		config.Storage.QueryTimeout = "30s"
	}

	if config.Ingest.UDP.Addr == "" {
		config.Ingest.UDP.Addr = "0.0.0.0:514"
	}
	config.Ingest.UDP.Enabled = true
	if config.Ingest.TCP.Addr == "" {
		config.Ingest.TCP.Addr = "0.0.0.0:514"
	}
	config.Ingest.TCP.Enabled = true
	if config.Ingest.Kafka.ConsumerGroup == "" {
		config.Ingest.Kafka.ConsumerGroup = "lognog-ingest"
	}
	if config.Ingest.Kafka.SASLMechanism == "" {
		config.Ingest.Kafka.SASLMechanism = "SCRAM-SHA-256"
	}
	if config.Ingest.Batch.MaxSize == 0 {
		config.Ingest.Batch.MaxSize = 500
	}
	if config.Ingest.Batch.MaxDelay == "" {
		config.Ingest.Batch.MaxDelay = "2s"
	}
	if config.Ingest.QueueSize == 0 {
		config.Ingest.QueueSize = 10000
	}
	if config.Ingest.MaxRetries == 0 {
		config.Ingest.MaxRetries = 5
	}
	if config.Ingest.RetryBaseDelay == "" {
		config.Ingest.RetryBaseDelay = "100ms"
	}
	if config.Ingest.RetryMaxDelay == "" {
		config.Ingest.RetryMaxDelay = "30s"
	}
	if config.Ingest.DeadLetter.Directory == "" {
		config.Ingest.DeadLetter.Directory = "/var/lib/lognog/deadletter"
	}
	if config.Ingest.DeadLetter.QueueSize == 0 {
		config.Ingest.DeadLetter.QueueSize = 1000
	}
	if config.Ingest.DeadLetter.MaxFiles == 0 {
		config.Ingest.DeadLetter.MaxFiles = 10
	}
	if config.Ingest.DeadLetter.MaxFileSizeMB == 0 {
		config.Ingest.DeadLetter.MaxFileSizeMB = 100
	}
	if config.Ingest.DeadLetter.RetentionDays == 0 {
		config.Ingest.DeadLetter.RetentionDays = 7
	}
	if config.Ingest.Validation.MaxPastAgeSeconds == 0 {
		config.Ingest.Validation.MaxPastAgeSeconds = 21600 // 6h
	}
	if config.Ingest.Validation.MaxFutureAgeSeconds == 0 {
		config.Ingest.Validation.MaxFutureAgeSeconds = 60 // 1m
	}
	if config.Ingest.Validation.InvalidAction == "" {
		config.Ingest.Validation.InvalidAction = "clamp"
	}

	if config.Extraction.BuiltinPatternsFile == "" {
		config.Extraction.BuiltinPatternsFile = "/etc/lognog/patterns/builtin.yaml"
	}
	if config.Extraction.UserPatternsFile == "" {
		config.Extraction.UserPatternsFile = "/etc/lognog/patterns/user.yaml"
	}
	config.Extraction.HotReload = true

	config.Retention.Enabled = true
	if config.Retention.SweepInterval == "" {
		config.Retention.SweepInterval = "1h"
	}

	config.Baseline.Enabled = true
	if config.Baseline.RecalculateInterval == "" {
		config.Baseline.RecalculateInterval = "1h"
	}
	if config.Baseline.MinSamples == 0 {
		config.Baseline.MinSamples = types.MinBaselineSamples
	}
	if config.Baseline.ShardCount == 0 {
		config.Baseline.ShardCount = 32
	}

	config.Anomaly.Enabled = true
	if config.Anomaly.ScanInterval == "" {
		config.Anomaly.ScanInterval = "1h"
	}
	if config.Anomaly.ZScoreThreshold == 0 {
		config.Anomaly.ZScoreThreshold = 3.0
	}

	if config.Query.WorkerMultiplier == 0 {
		config.Query.WorkerMultiplier = 2
	}
	if config.Query.DefaultTimeout == "" {
		config.Query.DefaultTimeout = "30s"
	}
	if config.Query.MaxResultRows == 0 {
		config.Query.MaxResultRows = 10000
	}
}

// applyEnvironmentOverrides lets operators override the handful of
// settings that change between deployments without editing the file,
// mirroring the teacher's SSW_* env var convention under a LOGNOG_* prefix.
func applyEnvironmentOverrides(config *types.Config) {
	if level := getEnvString("LOGNOG_LOG_LEVEL", ""); level != "" {
		config.App.LogLevel = level
	}
	if format := getEnvString("LOGNOG_LOG_FORMAT", ""); format != "" {
		config.App.LogFormat = format
	}
	if env := getEnvString("LOGNOG_ENVIRONMENT", ""); env != "" {
		config.App.Environment = env
	}

	if port := getEnvInt("LOGNOG_SERVER_PORT", 0); port != 0 {
		config.Server.Port = port
	}
	if host := getEnvString("LOGNOG_SERVER_HOST", ""); host != "" {
		config.Server.Host = host
	}

	if backend := getEnvString("LOGNOG_STORAGE_BACKEND", ""); backend != "" {
		config.Storage.Backend = backend
	}
	if addrs := getEnvStringSlice("LOGNOG_CLICKHOUSE_ADDR", nil); addrs != nil {
		config.Storage.ClickHouse.Addr = addrs
	}
	if db := getEnvString("LOGNOG_CLICKHOUSE_DATABASE", ""); db != "" {
		config.Storage.ClickHouse.Database = db
	}
	if user := getEnvString("LOGNOG_CLICKHOUSE_USERNAME", ""); user != "" {
		config.Storage.ClickHouse.Username = user
	}
	if pass := getEnvString("LOGNOG_CLICKHOUSE_PASSWORD", ""); pass != "" {
		config.Storage.ClickHouse.Password = pass
	}
	if path := getEnvString("LOGNOG_SQLITE_PATH", ""); path != "" {
		config.Storage.SQLite.Path = path
	}

	if addr := getEnvString("LOGNOG_UDP_ADDR", ""); addr != "" {
		config.Ingest.UDP.Addr = addr
	}
	if addr := getEnvString("LOGNOG_TCP_ADDR", ""); addr != "" {
		config.Ingest.TCP.Addr = addr
	}
	if enabled := getEnvBool("LOGNOG_KAFKA_ENABLED", config.Ingest.Kafka.Enabled); enabled != config.Ingest.Kafka.Enabled {
		config.Ingest.Kafka.Enabled = enabled
	}
	if brokers := getEnvStringSlice("LOGNOG_KAFKA_BROKERS", nil); brokers != nil {
		config.Ingest.Kafka.Brokers = brokers
	}
	if topic := getEnvString("LOGNOG_KAFKA_TOPIC", ""); topic != "" {
		config.Ingest.Kafka.Topic = topic
	}
	if user := getEnvString("LOGNOG_KAFKA_SASL_USER", ""); user != "" {
		config.Ingest.Kafka.SASLUser = user
	}
	if pass := getEnvString("LOGNOG_KAFKA_SASL_PASSWORD", ""); pass != "" {
		config.Ingest.Kafka.SASLPassword = pass
	}

	if path := getEnvString("LOGNOG_USER_PATTERNS_FILE", ""); path != "" {
		config.Extraction.UserPatternsFile = path
	}
}

func getEnvString(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

func getEnvStringSlice(key string, defaultValue []string) []string {
	if value := os.Getenv(key); value != "" {
		return strings.Split(value, ",")
	}
	return defaultValue
}

// ValidateConfig performs comprehensive configuration validation and
// refuses to let the server start on an invalid config (spec.md §7).
func ValidateConfig(config *types.Config) error {
	validator := &ConfigValidator{config: config}
	return validator.Validate()
}

// ConfigValidator accumulates every validation failure instead of
// stopping at the first one, so an operator fixing a config file sees
// every problem in one pass.
type ConfigValidator struct {
	config *types.Config
	errs   []error
}

func (v *ConfigValidator) Validate() error {
	v.validateApp()
	v.validateServer()
	v.validateMetrics()
	v.validateStorage()
	v.validateIngest()
	v.validateBaseline()
	v.validateAnomaly()
	v.validateQuery()

	if len(v.errs) > 0 {
		return v.buildValidationError()
	}
	return nil
}

func (v *ConfigValidator) addError(component, operation, message string) {
	err := errors.ConfigError(operation, message).WithMetadata("component", component)
	v.errs = append(v.errs, err)
}

func (v *ConfigValidator) validateApp() {
	validLogLevels := map[string]bool{
		"trace": true, "debug": true, "info": true,
		"warn": true, "error": true, "fatal": true, "panic": true,
	}
	if !validLogLevels[v.config.App.LogLevel] {
		v.addError("app", "validate_log_level", fmt.Sprintf("invalid log level: %s", v.config.App.LogLevel))
	}

	validLogFormats := map[string]bool{"json": true, "text": true}
	if !validLogFormats[v.config.App.LogFormat] {
		v.addError("app", "validate_log_format", fmt.Sprintf("invalid log format: %s", v.config.App.LogFormat))
	}
}

func (v *ConfigValidator) validateServer() {
	if !v.config.Server.Enabled {
		return
	}
	if v.config.Server.Port <= 0 || v.config.Server.Port > 65535 {
		v.addError("server", "validate_port", fmt.Sprintf("invalid server port: %d", v.config.Server.Port))
	}
	if v.config.Server.Host == "" {
		v.addError("server", "validate_host", "server host cannot be empty when enabled")
	}
}

func (v *ConfigValidator) validateMetrics() {
	if !v.config.Metrics.Enabled {
		return
	}
	if v.config.Metrics.Port <= 0 || v.config.Metrics.Port > 65535 {
		v.addError("metrics", "validate_port", fmt.Sprintf("invalid metrics port: %d", v.config.Metrics.Port))
	}
	if v.config.Server.Enabled && v.config.Server.Port == v.config.Metrics.Port {
		v.addError("metrics", "validate_port_conflict", "metrics port conflicts with server port")
	}
}

func (v *ConfigValidator) validateStorage() {
	switch v.config.Storage.Backend {
	case "clickhouse":
		if len(v.config.Storage.ClickHouse.Addr) == 0 {
			v.addError("storage", "validate_clickhouse_addr", "clickhouse backend requires at least one address")
		}
		if v.config.Storage.ClickHouse.Database == "" {
			v.addError("storage", "validate_clickhouse_database", "clickhouse database cannot be empty")
		}
	case "sqlite":
		if v.config.Storage.SQLite.Path == "" {
			v.addError("storage", "validate_sqlite_path", "sqlite path cannot be empty")
		}
	default:
		v.addError("storage", "validate_backend", fmt.Sprintf("unknown storage backend: %q (want clickhouse or sqlite)", v.config.Storage.Backend))
	}
	if _, err := time.ParseDuration(v.config.Storage.QueryTimeout); err != nil {
		v.addError("storage", "validate_query_timeout", fmt.Sprintf("invalid query timeout: %s", v.config.Storage.QueryTimeout))
	}
}

func (v *ConfigValidator) validateIngest() {
	if !v.config.Ingest.UDP.Enabled && !v.config.Ingest.TCP.Enabled && !v.config.Ingest.Kafka.Enabled {
		v.addError("ingest", "validate_transports", "at least one ingestion transport (udp, tcp, kafka) must be enabled")
	}
	if v.config.Ingest.Kafka.Enabled {
		if len(v.config.Ingest.Kafka.Brokers) == 0 {
			v.addError("ingest", "validate_kafka_brokers", "kafka transport enabled but no brokers configured")
		}
		if v.config.Ingest.Kafka.Topic == "" {
			v.addError("ingest", "validate_kafka_topic", "kafka transport enabled but no topic configured")
		}
		if v.config.Ingest.Kafka.SASLEnabled && (v.config.Ingest.Kafka.SASLUser == "" || v.config.Ingest.Kafka.SASLPassword == "") {
			v.addError("ingest", "validate_kafka_sasl", "kafka SASL enabled but user/password missing")
		}
	}
	if v.config.Ingest.Batch.MaxSize <= 0 {
		v.addError("ingest", "validate_batch_size", "batch max_size must be positive")
	}
	if _, err := time.ParseDuration(v.config.Ingest.Batch.MaxDelay); err != nil {
		v.addError("ingest", "validate_batch_delay", fmt.Sprintf("invalid batch max_delay: %s", v.config.Ingest.Batch.MaxDelay))
	}
	if v.config.Ingest.DeadLetter.Enabled && v.config.Ingest.DeadLetter.Directory == "" {
		v.addError("ingest", "validate_dead_letter_directory", "dead letter queue enabled but no directory configured")
	}
	switch v.config.Ingest.Validation.InvalidAction {
	case "", "clamp", "reject", "warn":
	default:
		v.addError("ingest", "validate_invalid_action", fmt.Sprintf("unknown timestamp validation action: %q (want clamp, reject, or warn)", v.config.Ingest.Validation.InvalidAction))
	}
}

func (v *ConfigValidator) validateBaseline() {
	if v.config.Baseline.MinSamples <= 0 {
		v.addError("baseline", "validate_min_samples", "baseline min_samples must be positive")
	}
	if v.config.Baseline.ShardCount <= 0 {
		v.addError("baseline", "validate_shard_count", "baseline shard_count must be positive")
	}
}

func (v *ConfigValidator) validateAnomaly() {
	if v.config.Anomaly.ZScoreThreshold <= 0 {
		v.addError("anomaly", "validate_zscore_threshold", "anomaly zscore_threshold must be positive")
	}
}

func (v *ConfigValidator) validateQuery() {
	if v.config.Query.WorkerMultiplier <= 0 {
		v.addError("query", "validate_worker_multiplier", "query worker_multiplier must be positive")
	}
	if v.config.Query.MaxResultRows <= 0 {
		v.addError("query", "validate_max_result_rows", "query max_result_rows must be positive")
	}
	if _, err := time.ParseDuration(v.config.Query.DefaultTimeout); err != nil {
		v.addError("query", "validate_default_timeout", fmt.Sprintf("invalid query default_timeout: %s", v.config.Query.DefaultTimeout))
	}
}

func (v *ConfigValidator) buildValidationError() error {
	var b strings.Builder
	b.WriteString(fmt.Sprintf("%d configuration error(s):\n", len(v.errs)))
	for _, e := range v.errs {
		b.WriteString(fmt.Sprintf("  - %v\n", e))
	}
	return fmt.Errorf("%s", b.String())
}

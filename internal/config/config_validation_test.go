package config

import (
	"strings"
	"testing"

	"github.com/taskmasterpeace/lognog/pkg/types"
)

func validTestConfig() *types.Config {
	config := &types.Config{}
	applyDefaults(config)
	config.Server.Enabled = true
	return config
}

func TestValidConfigPasses(t *testing.T) {
	config := validTestConfig()
	if err := ValidateConfig(config); err != nil {
		t.Fatalf("expected valid config to pass, got: %v", err)
	}
}

func TestInvalidLogLevelFails(t *testing.T) {
	config := validTestConfig()
	config.App.LogLevel = "verbose"

	err := ValidateConfig(config)
	if err == nil {
		t.Fatal("expected validation error for invalid log level")
	}
	if !strings.Contains(err.Error(), "log level") {
		t.Errorf("expected error to mention log level, got: %v", err)
	}
}

func TestUnknownStorageBackendFails(t *testing.T) {
	config := validTestConfig()
	config.Storage.Backend = "postgres"

	err := ValidateConfig(config)
	if err == nil {
		t.Fatal("expected validation error for unknown storage backend")
	}
}

func TestClickHouseBackendRequiresAddr(t *testing.T) {
	config := validTestConfig()
	config.Storage.Backend = "clickhouse"
	config.Storage.ClickHouse.Addr = nil

	err := ValidateConfig(config)
	if err == nil {
		t.Fatal("expected validation error for missing clickhouse address")
	}
}

func TestNoIngestTransportsFails(t *testing.T) {
	config := validTestConfig()
	config.Ingest.UDP.Enabled = false
	config.Ingest.TCP.Enabled = false
	config.Ingest.Kafka.Enabled = false

	err := ValidateConfig(config)
	if err == nil {
		t.Fatal("expected validation error when no ingestion transport is enabled")
	}
}

func TestKafkaEnabledRequiresBrokersAndTopic(t *testing.T) {
	config := validTestConfig()
	config.Ingest.Kafka.Enabled = true

	err := ValidateConfig(config)
	if err == nil {
		t.Fatal("expected validation error for kafka enabled without brokers/topic")
	}
	if !strings.Contains(err.Error(), "kafka") {
		t.Errorf("expected error to mention kafka, got: %v", err)
	}
}

func TestMetricsPortConflictsWithServerPort(t *testing.T) {
	config := validTestConfig()
	config.Metrics.Port = config.Server.Port

	err := ValidateConfig(config)
	if err == nil {
		t.Fatal("expected validation error for metrics/server port conflict")
	}
}

func TestValidationAccumulatesMultipleErrors(t *testing.T) {
	config := validTestConfig()
	config.App.LogLevel = "bogus"
	config.Storage.Backend = "bogus"

	err := ValidateConfig(config)
	if err == nil {
		t.Fatal("expected validation errors")
	}
	if !strings.Contains(err.Error(), "log level") || !strings.Contains(err.Error(), "storage backend") {
		t.Errorf("expected both errors reported, got: %v", err)
	}
}

package config

import (
	"os"
	"testing"

	"github.com/taskmasterpeace/lognog/pkg/types"
)

func TestDefaultConfigsEnabled(t *testing.T) {
	config := &types.Config{}
	trueVal := true
	config.App.DefaultConfigs = &trueVal

	applyDefaults(config)

	if config.App.Name != "lognog" {
		t.Errorf("Expected default app name, got %s", config.App.Name)
	}
	if config.Server.Port != 8401 {
		t.Errorf("Expected default server port 8401, got %d", config.Server.Port)
	}
	if config.Ingest.Batch.MaxSize != 500 {
		t.Errorf("Expected default batch max_size 500, got %d", config.Ingest.Batch.MaxSize)
	}
	if config.Storage.Backend != "sqlite" {
		t.Errorf("Expected default storage backend sqlite, got %s", config.Storage.Backend)
	}
}

func TestDefaultConfigsDisabled(t *testing.T) {
	config := &types.Config{}
	falseVal := false
	config.App.DefaultConfigs = &falseVal

	applyDefaults(config)

	if config.App.Name != "" {
		t.Errorf("Expected empty app name with defaults disabled, got %s", config.App.Name)
	}
	if config.Server.Port != 0 {
		t.Errorf("Expected zero server port with defaults disabled, got %d", config.Server.Port)
	}
	if config.Ingest.Batch.MaxSize != 0 {
		t.Errorf("Expected zero batch max_size with defaults disabled, got %d", config.Ingest.Batch.MaxSize)
	}
}

func TestDefaultConfigsNil(t *testing.T) {
	config := &types.Config{}

	applyDefaults(config)

	if config.App.Name != "lognog" {
		t.Errorf("Expected default app name with nil defaults, got %s", config.App.Name)
	}
	if config.Server.Port != 8401 {
		t.Errorf("Expected default server port with nil defaults, got %d", config.Server.Port)
	}
}

func TestDefaultConfigsEnvironmentOverride(t *testing.T) {
	os.Setenv("LOGNOG_DEFAULT_CONFIGS", "false")
	defer os.Unsetenv("LOGNOG_DEFAULT_CONFIGS")

	config := &types.Config{}
	trueVal := true
	config.App.DefaultConfigs = &trueVal

	if shouldApplyDefaults(config) {
		t.Error("Expected shouldApplyDefaults to return false (env override)")
	}
}

func TestBaselineMinSamplesDefault(t *testing.T) {
	config := &types.Config{}
	applyDefaults(config)

	if config.Baseline.MinSamples != types.MinBaselineSamples {
		t.Errorf("Expected baseline min_samples to default to %d, got %d", types.MinBaselineSamples, config.Baseline.MinSamples)
	}
}

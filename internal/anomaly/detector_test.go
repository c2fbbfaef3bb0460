package anomaly

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taskmasterpeace/lognog/internal/baseline"
	"github.com/taskmasterpeace/lognog/internal/storage"
	"github.com/taskmasterpeace/lognog/pkg/types"
)

func newTestAdapter(t *testing.T) storage.Adapter {
	t.Helper()
	a, err := storage.New(&types.StorageConfig{Backend: "sqlite", SQLite: types.SQLiteConfig{Path: ":memory:"}})
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })
	return a
}

func insertEvents(t *testing.T, adapter storage.Adapter, index string, n int, hostname string, ts time.Time, severity int) {
	t.Helper()
	events := make([]*types.Event, n)
	for i := range events {
		events[i] = &types.Event{
			Timestamp: ts, ReceivedAt: ts, Hostname: hostname, AppName: "web",
			Message: "request handled", Severity: severity, Facility: 1, Priority: 14,
			SourceIP: net.ParseIP("10.0.0.9"), Protocol: "udp", IndexName: index, Raw: []byte("x"),
		}
	}
	require.NoError(t, adapter.InsertBatch(context.Background(), index, events))
}

func TestRiskScoreClampedAndBucketed(t *testing.T) {
	score := RiskScore(5.0, types.AnomalySpike, types.EntityHost)
	assert.InDelta(t, 60.0, score, 0.001)
	assert.Equal(t, types.SeverityHigh, types.DetermineSeverity(score))
}

func TestRiskScoreEntityMultiplierAppliesForUser(t *testing.T) {
	host := RiskScore(3.0, types.AnomalySpike, types.EntityHost)
	user := RiskScore(3.0, types.AnomalySpike, types.EntityUser)
	assert.Greater(t, user, host)
}

func TestScanDetectsSpikeAgainstBaseline(t *testing.T) {
	adapter := newTestAdapter(t)
	logger := logrus.New()
	calc := baseline.NewCalculator(adapter, logger, types.BaselineConfig{})
	require.NoError(t, calc.EnsureSchema(context.Background()))

	hourAgo := time.Now().Add(-time.Hour).Truncate(time.Hour)
	insertEvents(t, adapter, "main", 5, "web01", hourAgo, 6)
	require.NoError(t, calc.Recalculate(context.Background(), "main"))

	// Observation this hour spikes well above the baseline mean of 5.
	insertEvents(t, adapter, "main", 50, "web01", time.Now(), 6)

	detector := NewDetector(adapter, calc, logger, types.AnomalyConfig{})
	require.NoError(t, detector.EnsureSchema(context.Background()))
	require.NoError(t, detector.Scan(context.Background(), "main"))

	result, err := adapter.ExecuteQuery(context.Background(), "SELECT * FROM anomalies", nil)
	require.NoError(t, err)
	assert.NotEmpty(t, result.Rows)
}

func TestRecordFeedbackMarksFalsePositive(t *testing.T) {
	adapter := newTestAdapter(t)
	logger := logrus.New()
	calc := baseline.NewCalculator(adapter, logger, types.BaselineConfig{})
	detector := NewDetector(adapter, calc, logger, types.AnomalyConfig{})
	require.NoError(t, detector.EnsureSchema(context.Background()))

	require.NoError(t, detector.record(context.Background(), types.EntityHost, "web01", types.AnomalySpike, "event_count", 50, 5, 9, time.Now(), nil))

	result, err := adapter.ExecuteQuery(context.Background(), "SELECT id FROM anomalies", nil)
	require.NoError(t, err)
	require.Len(t, result.Rows, 1)
	id := result.Rows[0]["id"].(string)

	require.NoError(t, detector.RecordFeedback(context.Background(), id, true))

	result, err = adapter.ExecuteQuery(context.Background(), "SELECT is_false_positive FROM anomalies WHERE id = ?", []interface{}{id})
	require.NoError(t, err)
	require.Len(t, result.Rows, 1)
	assert.Equal(t, int64(1), result.Rows[0]["is_false_positive"])
}

func TestIsOffHoursWrapsMidnight(t *testing.T) {
	d := NewDetector(nil, nil, logrus.New(), types.AnomalyConfig{OffHoursStart: 22, OffHoursEnd: 6})
	assert.True(t, d.isOffHours(time.Date(2026, 1, 1, 23, 0, 0, 0, time.UTC)))
	assert.True(t, d.isOffHours(time.Date(2026, 1, 1, 3, 0, 0, 0, time.UTC)))
	assert.False(t, d.isOffHours(time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)))
}

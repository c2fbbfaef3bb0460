package baseline

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

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

func insertEvents(t *testing.T, adapter storage.Adapter, index string, n int, hostname string, ts time.Time) {
	t.Helper()
	events := make([]*types.Event, n)
	for i := range events {
		events[i] = &types.Event{
			Timestamp:  ts,
			ReceivedAt: ts,
			Hostname:   hostname,
			AppName:    "web",
			Message:    "request handled",
			Severity:   6,
			Facility:   1,
			Priority:   14,
			SourceIP:   net.ParseIP("10.0.0.9"),
			Protocol:   "udp",
			IndexName:  index,
			Raw:        []byte("x"),
		}
	}
	require.NoError(t, adapter.InsertBatch(context.Background(), index, events))
}

func TestRecalculateBuildsHostCell(t *testing.T) {
	adapter := newTestAdapter(t)
	logger := logrus.New()
	calc := NewCalculator(adapter, logger, types.BaselineConfig{})
	require.NoError(t, calc.EnsureSchema(context.Background()))

	base := time.Now().Add(-time.Hour).Truncate(time.Hour)
	insertEvents(t, adapter, "main", 10, "web01", base)

	require.NoError(t, calc.Recalculate(context.Background(), "main"))

	row, ok := calc.Lookup(types.EntityHost, "web01", "event_count", base)
	require.True(t, ok)
	assert.Equal(t, 10.0, row.Mean)
	assert.Equal(t, 0.0, row.StdDev)
}

func TestLookupMissingEntityReturnsFalse(t *testing.T) {
	adapter := newTestAdapter(t)
	calc := NewCalculator(adapter, logrus.New(), types.BaselineConfig{})

	_, ok := calc.Lookup(types.EntityHost, "ghost", "event_count", time.Now())
	assert.False(t, ok)
}

func TestDeviationUsesFloorStdDevForLowVarianceSeries(t *testing.T) {
	b := types.BaselineRow{Mean: 5, StdDev: 0}
	dev := Deviation(20, b)
	// floor_stddev = max(1, 0.1*5) = 1
	assert.InDelta(t, 15.0, dev, 0.0001)
}

func TestMeanStdDevSingleSampleHasZeroStdDev(t *testing.T) {
	mean, stddev := meanStdDev([]float64{42})
	assert.Equal(t, 42.0, mean)
	assert.Equal(t, 0.0, stddev)
}

func TestMeanStdDevComputesPopulationStdDev(t *testing.T) {
	mean, stddev := meanStdDev([]float64{2, 4, 4, 4, 5, 5, 7, 9})
	assert.InDelta(t, 5.0, mean, 0.0001)
	assert.InDelta(t, 2.0, stddev, 0.0001)
}

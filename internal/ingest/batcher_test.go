package ingest

import (
	"context"
	"errors"
	"fmt"
	"net"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taskmasterpeace/lognog/internal/storage"
	"github.com/taskmasterpeace/lognog/pkg/dlq"
	"github.com/taskmasterpeace/lognog/pkg/types"
)

func countRows(t *testing.T, adapter storage.Adapter, index string) int {
	t.Helper()
	result, err := adapter.ExecuteQuery(context.Background(), fmt.Sprintf("SELECT * FROM %q", index), nil)
	if err != nil {
		return -1
	}
	return len(result.Rows)
}

func newTestAdapter(t *testing.T) storage.Adapter {
	t.Helper()
	a, err := storage.New(&types.StorageConfig{Backend: "sqlite", SQLite: types.SQLiteConfig{Path: ":memory:"}})
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })
	return a
}

func testEvent(index string) *types.Event {
	now := time.Now()
	return &types.Event{
		Timestamp:  now,
		ReceivedAt: now,
		Hostname:   "web01",
		AppName:    "sshd",
		Message:    "accepted password for root",
		Severity:   6,
		Facility:   4,
		Priority:   38,
		SourceIP:   net.ParseIP("10.0.0.5"),
		Protocol:   "udp",
		IndexName:  index,
		Raw:        []byte("<38>accepted password for root"),
	}
}

func TestBatcherFlushesOnSize(t *testing.T) {
	adapter := newTestAdapter(t)
	logger := logrus.New()
	b := NewBatcher("main", adapter, logger, 100, 3, time.Hour)

	ctx, cancel := context.WithCancel(context.Background())
	go b.Run(ctx)

	for i := 0; i < 3; i++ {
		b.Submit(testEvent("main"))
	}

	require.Eventually(t, func() bool {
		return countRows(t, adapter, "main") == 3
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	b.Stop()
}

func TestBatcherFlushesOnDelay(t *testing.T) {
	adapter := newTestAdapter(t)
	logger := logrus.New()
	b := NewBatcher("main", adapter, logger, 100, 50, 50*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	go b.Run(ctx)

	b.Submit(testEvent("main"))

	require.Eventually(t, func() bool {
		return countRows(t, adapter, "main") == 1
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	b.Stop()
}

func TestBatcherSubmitDropsOldestOnOverflow(t *testing.T) {
	adapter := newTestAdapter(t)
	logger := logrus.New()
	b := NewBatcher("main", adapter, logger, 2, 1000, time.Hour)

	for i := 0; i < 10; i++ {
		b.Submit(testEvent("main"))
	}

	assert.LessOrEqual(t, len(b.queue), 2)
}

type alwaysFailAdapter struct {
	storage.Adapter
}

func (a *alwaysFailAdapter) InsertBatch(ctx context.Context, index string, events []*types.Event) error {
	return errors.New("insert backend unavailable")
}

func TestBatcherExhaustedRetriesGoToDeadLetterQueue(t *testing.T) {
	adapter := &alwaysFailAdapter{Adapter: newTestAdapter(t)}
	logger := logrus.New()
	b := NewBatcher("main", adapter, logger, 100, 1, time.Hour)

	dir := t.TempDir()
	dlqQueue := dlq.NewQueue(dlq.Config{Enabled: true, Directory: dir, QueueSize: 10}, logger)
	require.NoError(t, dlqQueue.Start())
	defer dlqQueue.Stop()
	b.WithDeadLetterQueue(dlqQueue)

	ctx, cancel := context.WithCancel(context.Background())
	go b.Run(ctx)

	b.Submit(testEvent("main"))

	require.Eventually(t, func() bool {
		return dlqQueue.GetStats().EntriesWritten == 1
	}, 5*time.Second, 10*time.Millisecond)

	cancel()
	b.Stop()

	files, err := filepath.Glob(filepath.Join(dir, "dlq_*.jsonl"))
	require.NoError(t, err)
	assert.Len(t, files, 1)
}

func TestRetryDelayGrowsExponentiallyAndCaps(t *testing.T) {
	assert.Equal(t, retryBase, retryDelay(0))
	assert.Equal(t, 2*retryBase, retryDelay(1))
	assert.Equal(t, retryCap, retryDelay(30))
}

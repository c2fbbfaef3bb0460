package ingest

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taskmasterpeace/lognog/internal/extract"
	"github.com/taskmasterpeace/lognog/pkg/backpressure"
	"github.com/taskmasterpeace/lognog/pkg/types"
)

func newTestRouterConfig() types.IngestConfig {
	return types.IngestConfig{
		QueueSize: 100,
		Batch:     types.BatchConfig{MaxSize: 5, MaxDelay: "50ms"},
	}
}

func TestRouterOnFrameCreatesBatcherAndInserts(t *testing.T) {
	adapter := newTestAdapter(t)
	logger := logrus.New()
	r := NewRouter(newTestRouterConfig(), adapter, extract.NewExtractor(), nil, logger)

	ctx, cancel := context.WithCancel(context.Background())
	r.ctx = ctx
	r.cancel = cancel
	defer r.Stop()

	r.onFrame("<38>Jan  1 00:00:00 web01 sshd: accepted password for root", net.ParseIP("10.0.0.5"), 514, "udp")

	require.Eventually(t, func() bool {
		return countRows(t, adapter, types.DefaultIndexName) == 1
	}, 2*time.Second, 10*time.Millisecond)
}

func TestRouterOnFrameDropsWhenPressureCritical(t *testing.T) {
	adapter := newTestAdapter(t)
	logger := logrus.New()
	r := NewRouter(newTestRouterConfig(), adapter, extract.NewExtractor(), nil, logger)
	r.pressure = backpressure.NewManager(backpressure.Config{}, logger)
	r.pressure.ForceLevel(backpressure.LevelCritical)

	ctx, cancel := context.WithCancel(context.Background())
	r.ctx = ctx
	r.cancel = cancel
	defer r.Stop()

	r.onFrame("<38>Jan  1 00:00:00 web01 sshd: accepted password for root", net.ParseIP("10.0.0.5"), 514, "udp")

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 0, countRows(t, adapter, types.DefaultIndexName))
}

func TestRouterBusiestQueueUtilizationReflectsFullestBatcher(t *testing.T) {
	adapter := newTestAdapter(t)
	logger := logrus.New()
	r := NewRouter(newTestRouterConfig(), adapter, extract.NewExtractor(), nil, logger)

	ctx, cancel := context.WithCancel(context.Background())
	r.ctx = ctx
	defer cancel()

	b := r.batcherFor("main")
	for i := 0; i < 50; i++ {
		b.Submit(testEvent("main"))
	}

	assert.Greater(t, r.busiestQueueUtilization(), 0.0)
}

package workerpool

import (
	"context"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestPool(t *testing.T, maxWorkers, queueSize int) *WorkerPool {
	t.Helper()
	pool := NewWorkerPool(WorkerPoolConfig{MaxWorkers: maxWorkers, QueueSize: queueSize}, logrus.New())
	require.NoError(t, pool.Start())
	t.Cleanup(func() { _ = pool.Stop() })
	return pool
}

func TestSubmitTaskExecutes(t *testing.T) {
	pool := newTestPool(t, 2, 4)
	done := make(chan struct{})

	err := pool.SubmitTask(Task{ID: "t1", Execute: func(ctx context.Context) error {
		close(done)
		return nil
	}})
	require.NoError(t, err)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("task did not execute")
	}
}

func TestSubmitTaskQueueFullReturnsError(t *testing.T) {
	pool := NewWorkerPool(WorkerPoolConfig{MaxWorkers: 1, QueueSize: 1}, logrus.New())
	require.NoError(t, pool.Start())
	defer pool.Stop()

	block := make(chan struct{})
	require.NoError(t, pool.SubmitTask(Task{ID: "blocker", Execute: func(ctx context.Context) error {
		<-block
		return nil
	}}))

	// Give the blocker task time to occupy the single worker.
	time.Sleep(20 * time.Millisecond)

	var lastErr error
	for i := 0; i < 5; i++ {
		if err := pool.SubmitTask(Task{ID: "filler", Execute: func(ctx context.Context) error { return nil }}); err != nil {
			lastErr = err
			break
		}
	}
	close(block)
	assert.Error(t, lastErr)
}

func TestStatsReflectCompletedTasks(t *testing.T) {
	pool := newTestPool(t, 2, 4)

	for i := 0; i < 3; i++ {
		require.NoError(t, pool.SubmitTask(Task{ID: "ok", Execute: func(ctx context.Context) error { return nil }}))
	}

	require.Eventually(t, func() bool {
		return pool.GetStats().CompletedTasks == 3
	}, time.Second, 5*time.Millisecond)
}

func TestSubmitTaskBeforeStartReturnsError(t *testing.T) {
	pool := NewWorkerPool(WorkerPoolConfig{MaxWorkers: 1, QueueSize: 1}, logrus.New())
	err := pool.SubmitTask(Task{ID: "x", Execute: func(ctx context.Context) error { return nil }})
	assert.ErrorIs(t, err, ErrPoolNotRunning)
}

package storage

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/taskmasterpeace/lognog/pkg/circuit"
	"github.com/taskmasterpeace/lognog/pkg/types"
)

// breakerAdapter wraps an Adapter's backend-hitting calls in a circuit
// breaker, so a struggling ClickHouse/SQLite backend fails fast instead
// of piling up retries across every ingestion batcher and query worker.
// DiscoverStructuredFields and Close pass straight through: the first
// runs rarely off the hot path, the second is a local resource release.
type breakerAdapter struct {
	Adapter
	breaker *circuit.Breaker
}

// WithBreaker decorates adapter with a circuit breaker built from cfg.
// A zero-value cfg produces a disabled breaker (adapter is returned
// unwrapped) so existing callers that never set Storage.Breaker see no
// behavior change.
func WithBreaker(adapter Adapter, cfg types.BreakerConfig, logger *logrus.Logger) Adapter {
	if !cfg.Enabled {
		return adapter
	}

	timeout, err := time.ParseDuration(cfg.Timeout)
	if err != nil || timeout <= 0 {
		timeout = 30 * time.Second
	}

	breaker := circuit.NewBreaker(circuit.BreakerConfig{
		Name:             "storage." + adapter.Backend(),
		FailureThreshold: cfg.FailureThreshold,
		SuccessThreshold: cfg.SuccessThreshold,
		Timeout:          timeout,
	}, logger)

	return &breakerAdapter{Adapter: adapter, breaker: breaker}
}

func (b *breakerAdapter) ExecuteQuery(ctx context.Context, sql string, args []interface{}) (*QueryResult, error) {
	var result *QueryResult
	err := b.breaker.Execute(func() error {
		var innerErr error
		result, innerErr = b.Adapter.ExecuteQuery(ctx, sql, args)
		return innerErr
	})
	return result, err
}

func (b *breakerAdapter) InsertBatch(ctx context.Context, index string, events []*types.Event) error {
	return b.breaker.Execute(func() error {
		return b.Adapter.InsertBatch(ctx, index, events)
	})
}

func (b *breakerAdapter) ExecuteDDL(ctx context.Context, ddl string) error {
	return b.breaker.Execute(func() error {
		return b.Adapter.ExecuteDDL(ctx, ddl)
	})
}

func (b *breakerAdapter) Exec(ctx context.Context, sql string, args []interface{}) (int64, error) {
	var n int64
	err := b.breaker.Execute(func() error {
		var innerErr error
		n, innerErr = b.Adapter.Exec(ctx, sql, args)
		return innerErr
	})
	return n, err
}

func (b *breakerAdapter) DeleteOlderThan(ctx context.Context, index string, cutoff time.Time) (int64, error) {
	var n int64
	err := b.breaker.Execute(func() error {
		var innerErr error
		n, innerErr = b.Adapter.DeleteOlderThan(ctx, index, cutoff)
		return innerErr
	})
	return n, err
}

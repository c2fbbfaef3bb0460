package storage

import (
	"context"
	"errors"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taskmasterpeace/lognog/pkg/types"
)

type failingAdapter struct {
	Adapter
	calls int
	err   error
}

func (f *failingAdapter) Backend() string { return "sqlite" }

func (f *failingAdapter) Exec(ctx context.Context, sql string, args []interface{}) (int64, error) {
	f.calls++
	return 0, f.err
}

func TestWithBreakerDisabledReturnsAdapterUnwrapped(t *testing.T) {
	inner := newTestSQLiteAdapter(t)
	wrapped := WithBreaker(inner, types.BreakerConfig{}, logrus.New())
	assert.Same(t, inner, wrapped)
}

func TestWithBreakerTripsAfterConsecutiveFailures(t *testing.T) {
	inner := &failingAdapter{err: errors.New("backend unavailable")}
	wrapped := WithBreaker(inner, types.BreakerConfig{
		Enabled:          true,
		FailureThreshold: 2,
		SuccessThreshold: 1,
		Timeout:          "1m",
	}, logrus.New())

	_, err := wrapped.Exec(context.Background(), "UPDATE x SET y = 1", nil)
	assert.Error(t, err)
	_, err = wrapped.Exec(context.Background(), "UPDATE x SET y = 1", nil)
	assert.Error(t, err)
	require.Equal(t, 2, inner.calls)

	// Circuit is now open: the call should fail fast without reaching
	// the underlying adapter.
	_, err = wrapped.Exec(context.Background(), "UPDATE x SET y = 1", nil)
	assert.Error(t, err)
	assert.Equal(t, 2, inner.calls, "breaker should short-circuit instead of calling the adapter again")
}

func TestWithBreakerPassesThroughOnSuccess(t *testing.T) {
	inner := newTestSQLiteAdapter(t)
	wrapped := WithBreaker(inner, types.BreakerConfig{
		Enabled:          true,
		FailureThreshold: 5,
		SuccessThreshold: 1,
		Timeout:          "1m",
	}, logrus.New())

	result, err := wrapped.ExecuteQuery(context.Background(), "SELECT 1 AS x", nil)
	require.NoError(t, err)
	require.Len(t, result.Rows, 1)
}

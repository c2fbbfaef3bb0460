package storage

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taskmasterpeace/lognog/pkg/types"
)

func newTestSQLiteAdapter(t *testing.T) Adapter {
	t.Helper()
	a, err := newSQLiteAdapter(types.SQLiteConfig{Path: ":memory:"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })
	return a
}

func sampleEvent(ts time.Time, hostname string) *types.Event {
	return &types.Event{
		Timestamp:      ts,
		ReceivedAt:     ts,
		Hostname:       hostname,
		AppName:        "sshd",
		Message:        "accepted password for root",
		Severity:       6,
		Facility:       4,
		Priority:       38,
		SourceIP:       net.ParseIP("10.0.0.5"),
		SourcePort:     22,
		Protocol:       "udp",
		IndexName:      "main",
		Raw:            []byte("<38>sshd: accepted password for root"),
		StructuredData: map[string]string{"user": "root", "attempt": "3"},
	}
}

func TestSQLiteInsertAndQueryRoundTrip(t *testing.T) {
	a := newTestSQLiteAdapter(t)
	ctx := context.Background()
	now := time.Date(2026, 7, 29, 10, 0, 0, 0, time.UTC)

	require.NoError(t, a.InsertBatch(ctx, "main", []*types.Event{sampleEvent(now, "web-01")}))

	result, err := a.ExecuteQuery(ctx, `SELECT hostname, severity FROM "main" WHERE hostname = ?`, []interface{}{"web-01"})
	require.NoError(t, err)
	require.Len(t, result.Rows, 1)
	assert.Equal(t, "web-01", result.Rows[0]["hostname"])
}

func TestSQLiteDeleteOlderThan(t *testing.T) {
	a := newTestSQLiteAdapter(t)
	ctx := context.Background()
	old := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
	recent := time.Date(2026, 7, 29, 0, 0, 0, 0, time.UTC)

	require.NoError(t, a.InsertBatch(ctx, "main", []*types.Event{sampleEvent(old, "h1"), sampleEvent(recent, "h2")}))

	n, err := a.DeleteOlderThan(ctx, "main", time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	result, err := a.ExecuteQuery(ctx, `SELECT hostname FROM "main"`, nil)
	require.NoError(t, err)
	require.Len(t, result.Rows, 1)
	assert.Equal(t, "h2", result.Rows[0]["hostname"])
}

func TestSQLiteDiscoverStructuredFieldsMajorityVote(t *testing.T) {
	a := newTestSQLiteAdapter(t)
	ctx := context.Background()
	now := time.Now()
	events := []*types.Event{
		sampleEvent(now, "h1"),
		sampleEvent(now, "h2"),
		sampleEvent(now, "h3"),
	}
	events[2].StructuredData = map[string]string{"user": "root", "attempt": "not-a-number"}

	require.NoError(t, a.InsertBatch(ctx, "main", events))

	fields, err := a.DiscoverStructuredFields(ctx, "main", 10)
	require.NoError(t, err)
	assert.Equal(t, "string", fields["user"])
}

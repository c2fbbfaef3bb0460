// Package storage implements the single pluggable storage adapter the
// DSL engine, ingestion pipeline, and catalog all depend on. Two
// concrete backends satisfy the same Adapter interface: a columnar
// warehouse (ClickHouse) and an embedded relational store (SQLite),
// selected by config at startup and never mixed within a process
// (spec.md §5).
package storage

import (
	"context"
	"time"

	"github.com/taskmasterpeace/lognog/internal/dsl"
	"github.com/taskmasterpeace/lognog/pkg/types"
)

// QueryResult is the adapter's row-oriented output; columns are typed
// as string/float64/bool/time.Time and flow straight into dsl.Row.
type QueryResult struct {
	Columns []string
	Rows    []dsl.Row
}

// Adapter is the one interface both dialects satisfy. No method here
// leaks a dialect-specific type: callers (the DSL engine, ingestion
// batcher, retention sweep, catalog) work against this contract alone.
type Adapter interface {
	// Backend reports the dialect tag ("clickhouse" or "sqlite") used
	// by the DSL planner to pick its SQL dialect.
	Backend() string

	// ExecuteQuery runs a planner-produced SQL statement and returns
	// its rows. ctx governs the per-query deadline (spec.md §4.3/§5).
	ExecuteQuery(ctx context.Context, sql string, args []interface{}) (*QueryResult, error)

	// InsertBatch writes a batch of parsed events into index's table,
	// creating the table/index on first write.
	InsertBatch(ctx context.Context, index string, events []*types.Event) error

	// ExecuteDDL runs a schema-affecting statement (CREATE TABLE, ALTER,
	// retention DELETE) outside the query-parameter path.
	ExecuteDDL(ctx context.Context, ddl string) error

	// Exec runs a parameterized, non-query statement (INSERT/UPDATE/
	// DELETE) and reports rows affected. Used by the catalog store for
	// dashboards, panels, variables, annotations, saved searches, field
	// preferences, and field extraction rules.
	Exec(ctx context.Context, sql string, args []interface{}) (int64, error)

	// DiscoverStructuredFields samples a bounded number of recent rows
	// from index and returns the field names observed in structured_data
	// along with a majority-voted type guess (spec.md §4.7 discovery).
	DiscoverStructuredFields(ctx context.Context, index string, sampleSize int) (map[string]string, error)

	// DeleteOlderThan deletes rows in index with timestamp before cutoff,
	// used by the retention sweep (spec.md §4.8). Idempotent: running it
	// twice with the same cutoff is a no-op the second time.
	DeleteOlderThan(ctx context.Context, index string, cutoff time.Time) (int64, error)

	// Close releases the underlying connection/pool.
	Close() error
}

// New builds the Adapter selected by cfg.Storage.Backend (spec.md §5,
// SPEC_FULL §5.3). Callers never type-switch on the concrete adapter.
func New(cfg *types.StorageConfig) (Adapter, error) {
	switch cfg.Backend {
	case "clickhouse":
		return newClickHouseAdapter(cfg.ClickHouse)
	case "sqlite", "":
		return newSQLiteAdapter(cfg.SQLite)
	default:
		return nil, &unsupportedBackendError{Backend: cfg.Backend}
	}
}

type unsupportedBackendError struct{ Backend string }

func (e *unsupportedBackendError) Error() string {
	return "storage: unsupported backend " + e.Backend
}

package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"

	"github.com/taskmasterpeace/lognog/internal/dsl"
	lognogerrors "github.com/taskmasterpeace/lognog/pkg/errors"
	"github.com/taskmasterpeace/lognog/pkg/types"
)

// clickhouseAdapter is the columnar warehouse backend for high-volume,
// multi-node deployments (spec.md §5). It drives clickhouse-go/v2's
// database/sql layer so the same QueryResult/Row shape as the SQLite
// adapter comes out the other end.
type clickhouseAdapter struct {
	db *sql.DB
}

func newClickHouseAdapter(cfg types.ClickHouseConfig) (Adapter, error) {
	opts := &clickhouse.Options{
		Addr: cfg.Addr,
		Auth: clickhouse.Auth{
			Database: cfg.Database,
			Username: cfg.Username,
			Password: cfg.Password,
		},
	}
	if cfg.MaxOpenConns > 0 {
		opts.MaxOpenConns = cfg.MaxOpenConns
	}
	if cfg.MaxIdleConns > 0 {
		opts.MaxIdleConns = cfg.MaxIdleConns
	}
	if cfg.DialTimeout != "" {
		if d, err := time.ParseDuration(cfg.DialTimeout); err == nil {
			opts.DialTimeout = d
		}
	}
	if cfg.CompressBatches {
		opts.Compression = &clickhouse.Compression{Method: clickhouse.CompressionLZ4}
	}

	db := clickhouse.OpenDB(opts)
	if err := db.Ping(); err != nil {
		return nil, &lognogerrors.StorageError{Backend: "clickhouse", Operation: "ping", Cause: err}
	}
	return &clickhouseAdapter{db: db}, nil
}

func (a *clickhouseAdapter) Backend() string { return "clickhouse" }

func (a *clickhouseAdapter) Close() error { return a.db.Close() }

func (a *clickhouseAdapter) ExecuteDDL(ctx context.Context, ddl string) error {
	if _, err := a.db.ExecContext(ctx, ddl); err != nil {
		return &lognogerrors.StorageError{Backend: "clickhouse", Operation: "ddl", Cause: err}
	}
	return nil
}

func (a *clickhouseAdapter) ensureTable(ctx context.Context, index string) error {
	ddl := fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (\n"+
		"  timestamp DateTime64(3),\n"+
		"  received_at DateTime64(3),\n"+
		"  hostname String,\n"+
		"  app_name String,\n"+
		"  message String,\n"+
		"  severity UInt8,\n"+
		"  facility UInt8,\n"+
		"  priority UInt16,\n"+
		"  source_ip String,\n"+
		"  source_port UInt32,\n"+
		"  protocol String,\n"+
		"  index_name String,\n"+
		"  raw String,\n"+
		"  structured_data String,\n"+
		"  parse_fallback UInt8\n"+
		") ENGINE = MergeTree ORDER BY timestamp", quoteIdent(index))
	return a.ExecuteDDL(ctx, ddl)
}

func quoteIdent(ident string) string { return "`" + ident + "`" }

func (a *clickhouseAdapter) InsertBatch(ctx context.Context, index string, events []*types.Event) error {
	if len(events) == 0 {
		return nil
	}
	if err := a.ensureTable(ctx, index); err != nil {
		return err
	}

	tx, err := a.db.BeginTx(ctx, nil)
	if err != nil {
		return &lognogerrors.StorageError{Backend: "clickhouse", Operation: "insert_batch", Cause: err}
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, fmt.Sprintf("INSERT INTO %s "+
		"(timestamp, received_at, hostname, app_name, message, severity, facility, priority, "+
		" source_ip, source_port, protocol, index_name, raw, structured_data, parse_fallback) "+
		"VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)", quoteIdent(index)))
	if err != nil {
		return &lognogerrors.StorageError{Backend: "clickhouse", Operation: "prepare_insert", Cause: err}
	}
	defer stmt.Close()

	for _, e := range events {
		structured, err := json.Marshal(e.StructuredData)
		if err != nil {
			return &lognogerrors.StorageError{Backend: "clickhouse", Operation: "marshal_structured_data", Cause: err}
		}
		sourceIP := ""
		if e.SourceIP != nil {
			sourceIP = e.SourceIP.String()
		}
		if _, err := stmt.ExecContext(ctx,
			e.Timestamp, e.ReceivedAt, e.Hostname, e.AppName, e.Message, e.Severity, e.Facility, e.Priority,
			sourceIP, e.SourcePort, e.Protocol, e.IndexName, string(e.Raw), string(structured), boolToUInt8(e.ParseFallback),
		); err != nil {
			return &lognogerrors.StorageError{Backend: "clickhouse", Operation: "insert_row", Cause: err}
		}
	}

	if err := tx.Commit(); err != nil {
		return &lognogerrors.StorageError{Backend: "clickhouse", Operation: "commit", Cause: err}
	}
	return nil
}

func boolToUInt8(b bool) uint8 {
	if b {
		return 1
	}
	return 0
}

func (a *clickhouseAdapter) ExecuteQuery(ctx context.Context, query string, args []interface{}) (*QueryResult, error) {
	rows, err := a.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, &lognogerrors.StorageError{Backend: "clickhouse", Operation: "query", Cause: err}
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, &lognogerrors.StorageError{Backend: "clickhouse", Operation: "columns", Cause: err}
	}

	result := &QueryResult{Columns: cols}
	for rows.Next() {
		vals := make([]interface{}, len(cols))
		ptrs := make([]interface{}, len(cols))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, &lognogerrors.StorageError{Backend: "clickhouse", Operation: "scan", Cause: err}
		}
		row := dsl.Row{}
		for i, c := range cols {
			row[c] = vals[i]
		}
		result.Rows = append(result.Rows, row)
	}
	if err := rows.Err(); err != nil {
		return nil, &lognogerrors.StorageError{Backend: "clickhouse", Operation: "iterate", Cause: err}
	}
	return result, nil
}

func (a *clickhouseAdapter) Exec(ctx context.Context, query string, args []interface{}) (int64, error) {
	res, err := a.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, &lognogerrors.StorageError{Backend: "clickhouse", Operation: "exec", Cause: err}
	}
	n, _ := res.RowsAffected()
	return n, nil
}

func (a *clickhouseAdapter) DiscoverStructuredFields(ctx context.Context, index string, sampleSize int) (map[string]string, error) {
	q := fmt.Sprintf("SELECT structured_data FROM %s ORDER BY rand() LIMIT ?", quoteIdent(index))
	rows, err := a.db.QueryContext(ctx, q, sampleSize)
	if err != nil {
		return nil, &lognogerrors.StorageError{Backend: "clickhouse", Operation: "discover_fields", Cause: err}
	}
	defer rows.Close()
	return discoverFromJSONRows(rows)
}

func (a *clickhouseAdapter) DeleteOlderThan(ctx context.Context, index string, cutoff time.Time) (int64, error) {
	// ClickHouse mutations (ALTER TABLE ... DELETE) are async and report
	// no row count; retention bookkeeping logs the sweep instead of a count.
	q := fmt.Sprintf("ALTER TABLE %s DELETE WHERE timestamp < ?", quoteIdent(index))
	if _, err := a.db.ExecContext(ctx, q, cutoff); err != nil {
		return 0, &lognogerrors.StorageError{Backend: "clickhouse", Operation: "delete_older_than", Cause: err}
	}
	return 0, nil
}

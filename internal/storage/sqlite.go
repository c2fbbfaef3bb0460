package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/taskmasterpeace/lognog/internal/dsl"
	lognogerrors "github.com/taskmasterpeace/lognog/pkg/errors"
	"github.com/taskmasterpeace/lognog/pkg/types"
)

// sqliteAdapter is the embedded, dependency-free relational backend
// (spec.md §5: "a single-binary deployment must work with zero external
// services"). It is the default backend and the one the test suite
// exercises without any network dependency.
type sqliteAdapter struct {
	db *sql.DB
}

func newSQLiteAdapter(cfg types.SQLiteConfig) (Adapter, error) {
	path := cfg.Path
	if path == "" {
		path = "lognog.db"
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, &lognogerrors.StorageError{Backend: "sqlite", Operation: "open", Cause: err}
	}
	db.SetMaxOpenConns(1) // modernc.org/sqlite serializes writers; one conn avoids SQLITE_BUSY churn
	return &sqliteAdapter{db: db}, nil
}

func (a *sqliteAdapter) Backend() string { return "sqlite" }

func (a *sqliteAdapter) Close() error { return a.db.Close() }

func (a *sqliteAdapter) ExecuteDDL(ctx context.Context, ddl string) error {
	if _, err := a.db.ExecContext(ctx, ddl); err != nil {
		return &lognogerrors.StorageError{Backend: "sqlite", Operation: "ddl", Cause: err}
	}
	return nil
}

func (a *sqliteAdapter) ensureTable(ctx context.Context, index string) error {
	ddl := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %q (
		timestamp TEXT NOT NULL,
		received_at TEXT NOT NULL,
		hostname TEXT,
		app_name TEXT,
		message TEXT,
		severity INTEGER,
		facility INTEGER,
		priority INTEGER,
		source_ip TEXT,
		source_port INTEGER,
		protocol TEXT,
		index_name TEXT,
		raw BLOB,
		structured_data TEXT,
		parse_fallback INTEGER
	)`, index)
	if err := a.ExecuteDDL(ctx, ddl); err != nil {
		return err
	}
	idx := fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %q ON %q (timestamp)`, index+"_ts_idx", index)
	return a.ExecuteDDL(ctx, idx)
}

func (a *sqliteAdapter) InsertBatch(ctx context.Context, index string, events []*types.Event) error {
	if len(events) == 0 {
		return nil
	}
	if err := a.ensureTable(ctx, index); err != nil {
		return err
	}

	tx, err := a.db.BeginTx(ctx, nil)
	if err != nil {
		return &lognogerrors.StorageError{Backend: "sqlite", Operation: "insert_batch", Cause: err}
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, fmt.Sprintf(`INSERT INTO %q
		(timestamp, received_at, hostname, app_name, message, severity, facility, priority,
		 source_ip, source_port, protocol, index_name, raw, structured_data, parse_fallback)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`, index))
	if err != nil {
		return &lognogerrors.StorageError{Backend: "sqlite", Operation: "prepare_insert", Cause: err}
	}
	defer stmt.Close()

	for _, e := range events {
		structured, err := json.Marshal(e.StructuredData)
		if err != nil {
			return &lognogerrors.StorageError{Backend: "sqlite", Operation: "marshal_structured_data", Cause: err}
		}
		sourceIP := ""
		if e.SourceIP != nil {
			sourceIP = e.SourceIP.String()
		}
		if _, err := stmt.ExecContext(ctx,
			e.Timestamp.UTC().Format(time.RFC3339Nano), e.ReceivedAt.UTC().Format(time.RFC3339Nano),
			e.Hostname, e.AppName, e.Message, e.Severity, e.Facility, e.Priority,
			sourceIP, e.SourcePort, e.Protocol, e.IndexName, e.Raw, string(structured), e.ParseFallback,
		); err != nil {
			return &lognogerrors.StorageError{Backend: "sqlite", Operation: "insert_row", Cause: err}
		}
	}

	if err := tx.Commit(); err != nil {
		return &lognogerrors.StorageError{Backend: "sqlite", Operation: "commit", Cause: err}
	}
	return nil
}

func (a *sqliteAdapter) ExecuteQuery(ctx context.Context, query string, args []interface{}) (*QueryResult, error) {
	rows, err := a.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, &lognogerrors.StorageError{Backend: "sqlite", Operation: "query", Cause: err}
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, &lognogerrors.StorageError{Backend: "sqlite", Operation: "columns", Cause: err}
	}

	result := &QueryResult{Columns: cols}
	for rows.Next() {
		vals := make([]interface{}, len(cols))
		ptrs := make([]interface{}, len(cols))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, &lognogerrors.StorageError{Backend: "sqlite", Operation: "scan", Cause: err}
		}
		row := dsl.Row{}
		for i, c := range cols {
			row[c] = coerceSQLiteValue(c, vals[i])
		}
		result.Rows = append(result.Rows, row)
	}
	if err := rows.Err(); err != nil {
		return nil, &lognogerrors.StorageError{Backend: "sqlite", Operation: "iterate", Cause: err}
	}
	return result, nil
}

// coerceSQLiteValue parses timestamp-shaped TEXT columns back into
// time.Time so the post-processor's gap-fill and sort comparisons work
// the same regardless of backend.
func coerceSQLiteValue(col string, v interface{}) interface{} {
	s, ok := v.(string)
	if !ok {
		return v
	}
	if col == "timestamp" || col == "__bucket" || strings.HasSuffix(col, "_at") {
		if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
			return t
		}
		if t, err := time.Parse("2006-01-02 15:04:05", s); err == nil {
			return t
		}
	}
	return s
}

func (a *sqliteAdapter) Exec(ctx context.Context, query string, args []interface{}) (int64, error) {
	res, err := a.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, &lognogerrors.StorageError{Backend: "sqlite", Operation: "exec", Cause: err}
	}
	n, _ := res.RowsAffected()
	return n, nil
}

func (a *sqliteAdapter) DiscoverStructuredFields(ctx context.Context, index string, sampleSize int) (map[string]string, error) {
	rows, err := a.db.QueryContext(ctx, fmt.Sprintf(`SELECT structured_data FROM %q ORDER BY RANDOM() LIMIT ?`, index), sampleSize)
	if err != nil {
		return nil, &lognogerrors.StorageError{Backend: "sqlite", Operation: "discover_fields", Cause: err}
	}
	defer rows.Close()
	return discoverFromJSONRows(rows)
}

func (a *sqliteAdapter) DeleteOlderThan(ctx context.Context, index string, cutoff time.Time) (int64, error) {
	res, err := a.db.ExecContext(ctx, fmt.Sprintf(`DELETE FROM %q WHERE timestamp < ?`, index), cutoff.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return 0, &lognogerrors.StorageError{Backend: "sqlite", Operation: "delete_older_than", Cause: err}
	}
	n, _ := res.RowsAffected()
	return n, nil
}

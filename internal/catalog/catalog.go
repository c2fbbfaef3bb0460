// Package catalog persists indexes, dashboards, panels, variables,
// annotations, saved searches, field preferences, and field extraction
// rules through the same storage.Adapter the DSL engine and ingestion
// pipeline use (SPEC_FULL §5.4). Cascade-delete (dashboard -> panels,
// variables) is enforced here rather than relied on from dialect-native
// foreign keys, since the relational backend is optional and the
// columnar backend has no FK support at all.
package catalog

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/taskmasterpeace/lognog/internal/dsl"
	"github.com/taskmasterpeace/lognog/internal/storage"
	"github.com/taskmasterpeace/lognog/pkg/types"
)

// NotFoundError reports a catalog lookup for an ID/name that does not
// exist.
type NotFoundError struct {
	Kind string
	ID   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("catalog: %s %q not found", e.Kind, e.ID)
}

// Store is the catalog's single entry point. It is safe for concurrent
// use: every method is a self-contained statement (or short sequence of
// statements) against the shared storage.Adapter, which serializes its
// own writes.
type Store struct {
	adapter storage.Adapter
}

func NewStore(adapter storage.Adapter) *Store {
	return &Store{adapter: adapter}
}

// EnsureSchema creates every catalog table if absent. Safe to call on
// every startup.
func (s *Store) EnsureSchema(ctx context.Context) error {
	ddls := []string{
		s.createTableDDL("indexes", `
			name TEXT,
			retention_days INTEGER,
			created_at TEXT
		`, "name"),
		s.createTableDDL("dashboards", `
			id TEXT,
			name TEXT,
			owner TEXT,
			created_at TEXT,
			updated_at TEXT
		`, "id"),
		s.createTableDDL("panels", `
			id TEXT,
			dashboard_id TEXT,
			title TEXT,
			query TEXT,
			viz_type TEXT,
			position INTEGER,
			created_at TEXT,
			updated_at TEXT
		`, "id"),
		s.createTableDDL("variables", `
			id TEXT,
			dashboard_id TEXT,
			name TEXT,
			query TEXT,
			default_value TEXT,
			created_at TEXT,
			updated_at TEXT
		`, "id"),
		s.createTableDDL("annotations", `
			id TEXT,
			field TEXT,
			value TEXT,
			text TEXT,
			timestamp TEXT,
			created_at TEXT,
			updated_at TEXT
		`, "id"),
		s.createTableDDL("saved_searches", `
			id TEXT,
			name TEXT,
			query TEXT,
			earliest TEXT,
			latest TEXT,
			owner TEXT,
			created_at TEXT,
			updated_at TEXT
		`, "id"),
		s.createTableDDL("field_preferences", `
			id TEXT,
			field_name TEXT,
			pinned INTEGER,
			sort_order INTEGER,
			created_at TEXT,
			updated_at TEXT
		`, "id"),
		s.createTableDDL("field_extraction_rules", `
			id TEXT,
			name TEXT,
			pattern TEXT,
			is_grok INTEGER,
			priority INTEGER,
			created_at TEXT
		`, "id"),
	}
	for _, ddl := range ddls {
		if err := s.adapter.ExecuteDDL(ctx, ddl); err != nil {
			return err
		}
	}
	return nil
}

// createTableDDL renders a CREATE TABLE IF NOT EXISTS for either
// backend: SQLite gets a plain relational table, ClickHouse gets a
// ReplacingMergeTree ordered on orderBy so repeated upserts of the same
// ID collapse on the next merge (SPEC_FULL §5.4).
func (s *Store) createTableDDL(table, columns, orderBy string) string {
	if s.adapter.Backend() == "clickhouse" {
		return fmt.Sprintf("CREATE TABLE IF NOT EXISTS `%s` (%s) ENGINE = ReplacingMergeTree ORDER BY %s",
			table, clickhouseColumnTypes(columns), orderBy)
	}
	return fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %q (%s)`, table, columns)
}

// clickhouseColumnTypes rewrites the SQLite-flavored "col TEXT"/"col
// INTEGER" column list into ClickHouse's String/Int64 types; the
// catalog's columns are simple enough that a single substitution table
// covers every table.
func clickhouseColumnTypes(sqliteColumns string) string {
	return strings.NewReplacer("TEXT", "String", "INTEGER", "Int64").Replace(sqliteColumns)
}

func fmtTime(t time.Time) string { return t.UTC().Format(time.RFC3339Nano) }

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func rowString(row dsl.Row, col string) string {
	v, ok := row[col]
	if !ok || v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprintf("%v", v)
}

func rowInt(row dsl.Row, col string) int {
	v, ok := row[col]
	if !ok || v == nil {
		return 0
	}
	switch n := v.(type) {
	case int64:
		return int(n)
	case int32:
		return int(n)
	case int:
		return n
	case float64:
		return int(n)
	case uint8:
		return int(n)
	default:
		return 0
	}
}

func rowBool(row dsl.Row, col string) bool {
	return rowInt(row, col) != 0
}

func rowTime(row dsl.Row, col string) time.Time {
	v, ok := row[col]
	if !ok || v == nil {
		return time.Time{}
	}
	if t, ok := v.(time.Time); ok {
		return t
	}
	if s, ok := v.(string); ok {
		if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
			return t
		}
	}
	return time.Time{}
}

// --- Indexes ---

func (s *Store) CreateIndex(ctx context.Context, name string, retentionDays int) (*types.Index, error) {
	if retentionDays < types.MinRetentionDays || retentionDays > types.MaxRetentionDays {
		return nil, fmt.Errorf("catalog: retention_days %d out of range [%d,%d]", retentionDays, types.MinRetentionDays, types.MaxRetentionDays)
	}
	idx := &types.Index{Name: name, RetentionDays: retentionDays, CreatedAt: time.Now().UTC()}
	_, err := s.adapter.Exec(ctx, `INSERT INTO "indexes" (name, retention_days, created_at) VALUES (?, ?, ?)`,
		[]interface{}{idx.Name, idx.RetentionDays, idx.CreatedAt.Format(time.RFC3339Nano)})
	if err != nil {
		return nil, err
	}
	return idx, nil
}

func (s *Store) ListIndexes(ctx context.Context) ([]*types.Index, error) {
	res, err := s.adapter.ExecuteQuery(ctx, `SELECT name, retention_days, created_at FROM "indexes"`, nil)
	if err != nil {
		return nil, err
	}
	out := make([]*types.Index, 0, len(res.Rows))
	for _, row := range res.Rows {
		out = append(out, &types.Index{
			Name:          rowString(row, "name"),
			RetentionDays: rowInt(row, "retention_days"),
			CreatedAt:     rowTime(row, "created_at"),
		})
	}
	return out, nil
}

func (s *Store) DeleteIndex(ctx context.Context, name string) error {
	_, err := s.adapter.Exec(ctx, `DELETE FROM "indexes" WHERE name = ?`, []interface{}{name})
	return err
}

// --- Dashboards (cascade: deleting one removes its panels/variables) ---

func (s *Store) CreateDashboard(ctx context.Context, name, owner string) (*types.Dashboard, error) {
	now := time.Now().UTC()
	d := &types.Dashboard{ID: uuid.NewString(), Name: name, Owner: owner, CreatedAt: now, UpdatedAt: now}
	_, err := s.adapter.Exec(ctx, `INSERT INTO dashboards (id, name, owner, created_at, updated_at) VALUES (?, ?, ?, ?, ?)`,
		[]interface{}{d.ID, d.Name, d.Owner, fmtTime(d.CreatedAt), fmtTime(d.UpdatedAt)})
	if err != nil {
		return nil, err
	}
	return d, nil
}

func (s *Store) GetDashboard(ctx context.Context, id string) (*types.Dashboard, error) {
	res, err := s.adapter.ExecuteQuery(ctx, `SELECT id, name, owner, created_at, updated_at FROM dashboards WHERE id = ?`, []interface{}{id})
	if err != nil {
		return nil, err
	}
	if len(res.Rows) == 0 {
		return nil, &NotFoundError{Kind: "dashboard", ID: id}
	}
	row := res.Rows[0]
	return &types.Dashboard{
		ID: rowString(row, "id"), Name: rowString(row, "name"), Owner: rowString(row, "owner"),
		CreatedAt: rowTime(row, "created_at"), UpdatedAt: rowTime(row, "updated_at"),
	}, nil
}

func (s *Store) ListDashboards(ctx context.Context) ([]*types.Dashboard, error) {
	res, err := s.adapter.ExecuteQuery(ctx, `SELECT id, name, owner, created_at, updated_at FROM dashboards`, nil)
	if err != nil {
		return nil, err
	}
	out := make([]*types.Dashboard, 0, len(res.Rows))
	for _, row := range res.Rows {
		out = append(out, &types.Dashboard{
			ID: rowString(row, "id"), Name: rowString(row, "name"), Owner: rowString(row, "owner"),
			CreatedAt: rowTime(row, "created_at"), UpdatedAt: rowTime(row, "updated_at"),
		})
	}
	return out, nil
}

// DeleteDashboard removes the dashboard and every panel/variable that
// references it.
func (s *Store) DeleteDashboard(ctx context.Context, id string) error {
	if _, err := s.adapter.Exec(ctx, `DELETE FROM panels WHERE dashboard_id = ?`, []interface{}{id}); err != nil {
		return err
	}
	if _, err := s.adapter.Exec(ctx, `DELETE FROM variables WHERE dashboard_id = ?`, []interface{}{id}); err != nil {
		return err
	}
	_, err := s.adapter.Exec(ctx, `DELETE FROM dashboards WHERE id = ?`, []interface{}{id})
	return err
}

// --- Panels ---

func (s *Store) CreatePanel(ctx context.Context, dashboardID, title, query, vizType string, position int) (*types.Panel, error) {
	now := time.Now().UTC()
	p := &types.Panel{ID: uuid.NewString(), DashboardID: dashboardID, Title: title, Query: query, VizType: vizType, Position: position, CreatedAt: now, UpdatedAt: now}
	_, err := s.adapter.Exec(ctx, `INSERT INTO panels (id, dashboard_id, title, query, viz_type, position, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		[]interface{}{p.ID, p.DashboardID, p.Title, p.Query, p.VizType, p.Position, fmtTime(p.CreatedAt), fmtTime(p.UpdatedAt)})
	if err != nil {
		return nil, err
	}
	return p, nil
}

func (s *Store) ListPanels(ctx context.Context, dashboardID string) ([]*types.Panel, error) {
	res, err := s.adapter.ExecuteQuery(ctx, `SELECT id, dashboard_id, title, query, viz_type, position, created_at, updated_at FROM panels WHERE dashboard_id = ?`, []interface{}{dashboardID})
	if err != nil {
		return nil, err
	}
	out := make([]*types.Panel, 0, len(res.Rows))
	for _, row := range res.Rows {
		out = append(out, &types.Panel{
			ID: rowString(row, "id"), DashboardID: rowString(row, "dashboard_id"), Title: rowString(row, "title"),
			Query: rowString(row, "query"), VizType: rowString(row, "viz_type"), Position: rowInt(row, "position"),
			CreatedAt: rowTime(row, "created_at"), UpdatedAt: rowTime(row, "updated_at"),
		})
	}
	return out, nil
}

func (s *Store) DeletePanel(ctx context.Context, id string) error {
	_, err := s.adapter.Exec(ctx, `DELETE FROM panels WHERE id = ?`, []interface{}{id})
	return err
}

// --- Variables ---

func (s *Store) CreateVariable(ctx context.Context, dashboardID, name, query, def string) (*types.Variable, error) {
	now := time.Now().UTC()
	v := &types.Variable{ID: uuid.NewString(), DashboardID: dashboardID, Name: name, Query: query, Default: def, CreatedAt: now, UpdatedAt: now}
	_, err := s.adapter.Exec(ctx, `INSERT INTO variables (id, dashboard_id, name, query, default_value, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		[]interface{}{v.ID, v.DashboardID, v.Name, v.Query, v.Default, fmtTime(v.CreatedAt), fmtTime(v.UpdatedAt)})
	if err != nil {
		return nil, err
	}
	return v, nil
}

func (s *Store) ListVariables(ctx context.Context, dashboardID string) ([]*types.Variable, error) {
	res, err := s.adapter.ExecuteQuery(ctx, `SELECT id, dashboard_id, name, query, default_value, created_at, updated_at FROM variables WHERE dashboard_id = ?`, []interface{}{dashboardID})
	if err != nil {
		return nil, err
	}
	out := make([]*types.Variable, 0, len(res.Rows))
	for _, row := range res.Rows {
		out = append(out, &types.Variable{
			ID: rowString(row, "id"), DashboardID: rowString(row, "dashboard_id"), Name: rowString(row, "name"),
			Query: rowString(row, "query"), Default: rowString(row, "default_value"),
			CreatedAt: rowTime(row, "created_at"), UpdatedAt: rowTime(row, "updated_at"),
		})
	}
	return out, nil
}

// --- Annotations ---

func (s *Store) CreateAnnotation(ctx context.Context, field, value, text string, ts time.Time) (*types.Annotation, error) {
	now := time.Now().UTC()
	a := &types.Annotation{ID: uuid.NewString(), Field: field, Value: value, Text: text, Timestamp: ts, CreatedAt: now, UpdatedAt: now}
	_, err := s.adapter.Exec(ctx, `INSERT INTO annotations (id, field, value, text, timestamp, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		[]interface{}{a.ID, a.Field, a.Value, a.Text, fmtTime(a.Timestamp), fmtTime(a.CreatedAt), fmtTime(a.UpdatedAt)})
	if err != nil {
		return nil, err
	}
	return a, nil
}

func (s *Store) ListAnnotations(ctx context.Context, field, value string) ([]*types.Annotation, error) {
	res, err := s.adapter.ExecuteQuery(ctx, `SELECT id, field, value, text, timestamp, created_at, updated_at FROM annotations WHERE field = ? AND value = ?`, []interface{}{field, value})
	if err != nil {
		return nil, err
	}
	out := make([]*types.Annotation, 0, len(res.Rows))
	for _, row := range res.Rows {
		out = append(out, &types.Annotation{
			ID: rowString(row, "id"), Field: rowString(row, "field"), Value: rowString(row, "value"), Text: rowString(row, "text"),
			Timestamp: rowTime(row, "timestamp"), CreatedAt: rowTime(row, "created_at"), UpdatedAt: rowTime(row, "updated_at"),
		})
	}
	return out, nil
}

// --- Saved searches ---

func (s *Store) CreateSavedSearch(ctx context.Context, name, query, earliest, latest, owner string) (*types.SavedSearch, error) {
	now := time.Now().UTC()
	ss := &types.SavedSearch{ID: uuid.NewString(), Name: name, Query: query, Earliest: earliest, Latest: latest, Owner: owner, CreatedAt: now, UpdatedAt: now}
	_, err := s.adapter.Exec(ctx, `INSERT INTO saved_searches (id, name, query, earliest, latest, owner, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		[]interface{}{ss.ID, ss.Name, ss.Query, ss.Earliest, ss.Latest, ss.Owner, fmtTime(ss.CreatedAt), fmtTime(ss.UpdatedAt)})
	if err != nil {
		return nil, err
	}
	return ss, nil
}

func (s *Store) ListSavedSearches(ctx context.Context, owner string) ([]*types.SavedSearch, error) {
	res, err := s.adapter.ExecuteQuery(ctx, `SELECT id, name, query, earliest, latest, owner, created_at, updated_at FROM saved_searches WHERE owner = ?`, []interface{}{owner})
	if err != nil {
		return nil, err
	}
	out := make([]*types.SavedSearch, 0, len(res.Rows))
	for _, row := range res.Rows {
		out = append(out, &types.SavedSearch{
			ID: rowString(row, "id"), Name: rowString(row, "name"), Query: rowString(row, "query"),
			Earliest: rowString(row, "earliest"), Latest: rowString(row, "latest"), Owner: rowString(row, "owner"),
			CreatedAt: rowTime(row, "created_at"), UpdatedAt: rowTime(row, "updated_at"),
		})
	}
	return out, nil
}

func (s *Store) DeleteSavedSearch(ctx context.Context, id string) error {
	_, err := s.adapter.Exec(ctx, `DELETE FROM saved_searches WHERE id = ?`, []interface{}{id})
	return err
}

// --- Field preferences ---

func (s *Store) SetFieldPreference(ctx context.Context, fieldName string, pinned bool, order int) (*types.FieldPreference, error) {
	now := time.Now().UTC()
	fp := &types.FieldPreference{ID: uuid.NewString(), FieldName: fieldName, Pinned: pinned, Order: order, CreatedAt: now, UpdatedAt: now}
	_, err := s.adapter.Exec(ctx, `DELETE FROM field_preferences WHERE field_name = ?`, []interface{}{fieldName})
	if err != nil {
		return nil, err
	}
	_, err = s.adapter.Exec(ctx, `INSERT INTO field_preferences (id, field_name, pinned, sort_order, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?)`,
		[]interface{}{fp.ID, fp.FieldName, boolToInt(fp.Pinned), fp.Order, fmtTime(fp.CreatedAt), fmtTime(fp.UpdatedAt)})
	if err != nil {
		return nil, err
	}
	return fp, nil
}

func (s *Store) ListFieldPreferences(ctx context.Context) ([]*types.FieldPreference, error) {
	res, err := s.adapter.ExecuteQuery(ctx, `SELECT id, field_name, pinned, sort_order, created_at, updated_at FROM field_preferences`, nil)
	if err != nil {
		return nil, err
	}
	out := make([]*types.FieldPreference, 0, len(res.Rows))
	for _, row := range res.Rows {
		out = append(out, &types.FieldPreference{
			ID: rowString(row, "id"), FieldName: rowString(row, "field_name"), Pinned: rowBool(row, "pinned"),
			Order: rowInt(row, "sort_order"), CreatedAt: rowTime(row, "created_at"), UpdatedAt: rowTime(row, "updated_at"),
		})
	}
	return out, nil
}

// --- Field extraction rules ---

func (s *Store) CreateFieldExtractionRule(ctx context.Context, name, pattern string, isGrok bool, priority int) (*types.FieldExtractionRule, error) {
	r := &types.FieldExtractionRule{ID: uuid.NewString(), Name: name, Pattern: pattern, IsGrok: isGrok, Priority: priority, CreatedAt: time.Now().UTC()}
	_, err := s.adapter.Exec(ctx, `INSERT INTO field_extraction_rules (id, name, pattern, is_grok, priority, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		[]interface{}{r.ID, r.Name, r.Pattern, boolToInt(r.IsGrok), r.Priority, fmtTime(r.CreatedAt)})
	if err != nil {
		return nil, err
	}
	return r, nil
}

func (s *Store) ListFieldExtractionRules(ctx context.Context) ([]types.FieldExtractionRule, error) {
	res, err := s.adapter.ExecuteQuery(ctx, `SELECT id, name, pattern, is_grok, priority, created_at FROM field_extraction_rules`, nil)
	if err != nil {
		return nil, err
	}
	out := make([]types.FieldExtractionRule, 0, len(res.Rows))
	for _, row := range res.Rows {
		out = append(out, types.FieldExtractionRule{
			ID: rowString(row, "id"), Name: rowString(row, "name"), Pattern: rowString(row, "pattern"),
			IsGrok: rowBool(row, "is_grok"), Priority: rowInt(row, "priority"), CreatedAt: rowTime(row, "created_at"),
		})
	}
	return out, nil
}

func (s *Store) DeleteFieldExtractionRule(ctx context.Context, id string) error {
	_, err := s.adapter.Exec(ctx, `DELETE FROM field_extraction_rules WHERE id = ?`, []interface{}{id})
	return err
}

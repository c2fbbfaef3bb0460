package catalog

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taskmasterpeace/lognog/internal/storage"
	"github.com/taskmasterpeace/lognog/pkg/types"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	adapter, err := storage.New(&types.StorageConfig{Backend: "sqlite", SQLite: types.SQLiteConfig{Path: ":memory:"}})
	require.NoError(t, err)
	t.Cleanup(func() { _ = adapter.Close() })

	s := NewStore(adapter)
	require.NoError(t, s.EnsureSchema(context.Background()))
	return s
}

func TestIndexCreateListDelete(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	idx, err := s.CreateIndex(ctx, "main", 30)
	require.NoError(t, err)
	assert.Equal(t, "main", idx.Name)

	all, err := s.ListIndexes(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, 30, all[0].RetentionDays)

	require.NoError(t, s.DeleteIndex(ctx, "main"))
	all, err = s.ListIndexes(ctx)
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestIndexRetentionOutOfRangeRejected(t *testing.T) {
	s := newTestStore(t)
	_, err := s.CreateIndex(context.Background(), "bad", 0)
	assert.Error(t, err)

	_, err = s.CreateIndex(context.Background(), "bad", 9999)
	assert.Error(t, err)
}

func TestDashboardCascadeDeleteRemovesPanelsAndVariables(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	dash, err := s.CreateDashboard(ctx, "overview", "alice")
	require.NoError(t, err)

	_, err = s.CreatePanel(ctx, dash.ID, "errors", "search severity<=3 | stats count", "line", 0)
	require.NoError(t, err)
	_, err = s.CreateVariable(ctx, dash.ID, "env", "search | stats count by env", "prod")
	require.NoError(t, err)

	require.NoError(t, s.DeleteDashboard(ctx, dash.ID))

	panels, err := s.ListPanels(ctx, dash.ID)
	require.NoError(t, err)
	assert.Empty(t, panels)

	vars, err := s.ListVariables(ctx, dash.ID)
	require.NoError(t, err)
	assert.Empty(t, vars)

	_, err = s.GetDashboard(ctx, dash.ID)
	assert.Error(t, err)
}

func TestSavedSearchCreateListDelete(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	ss, err := s.CreateSavedSearch(ctx, "failed logins", "search message=\"failed\"", "-1h", "now", "bob")
	require.NoError(t, err)

	found, err := s.ListSavedSearches(ctx, "bob")
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, ss.Query, found[0].Query)

	require.NoError(t, s.DeleteSavedSearch(ctx, ss.ID))
	found, err = s.ListSavedSearches(ctx, "bob")
	require.NoError(t, err)
	assert.Empty(t, found)
}

func TestFieldPreferenceUpsertByFieldName(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.SetFieldPreference(ctx, "hostname", true, 1)
	require.NoError(t, err)
	_, err = s.SetFieldPreference(ctx, "hostname", false, 2)
	require.NoError(t, err)

	prefs, err := s.ListFieldPreferences(ctx)
	require.NoError(t, err)
	require.Len(t, prefs, 1)
	assert.False(t, prefs[0].Pinned)
	assert.Equal(t, 2, prefs[0].Order)
}

func TestFieldExtractionRuleCreateListDelete(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	r, err := s.CreateFieldExtractionRule(ctx, "session_id", `session=%{WORD:session_id}`, true, 10)
	require.NoError(t, err)

	rules, err := s.ListFieldExtractionRules(ctx)
	require.NoError(t, err)
	require.Len(t, rules, 1)
	assert.True(t, rules[0].IsGrok)

	require.NoError(t, s.DeleteFieldExtractionRule(ctx, r.ID))
	rules, err = s.ListFieldExtractionRules(ctx)
	require.NoError(t, err)
	assert.Empty(t, rules)
}

func TestAnnotationCreateAndListByFieldValue(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.CreateAnnotation(ctx, "host", "web-01", "deploy v2.3", time.Now())
	require.NoError(t, err)

	found, err := s.ListAnnotations(ctx, "host", "web-01")
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, "deploy v2.3", found[0].Text)
}

package app

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taskmasterpeace/lognog/internal/extract"
	"github.com/taskmasterpeace/lognog/internal/query"
	"github.com/taskmasterpeace/lognog/internal/storage"
	"github.com/taskmasterpeace/lognog/pkg/types"
	"github.com/taskmasterpeace/lognog/pkg/workerpool"
)

// newTestApp wires just enough of App to exercise handleQuery: a real
// SQLite adapter seeded with a few events, a started worker pool, and a
// query engine. Nothing else (ingest router, periodic loops, HTTP
// listeners) is constructed.
func newTestApp(t *testing.T) *App {
	t.Helper()
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)

	adapter, err := storage.New(&types.StorageConfig{Backend: "sqlite", SQLite: types.SQLiteConfig{Path: ":memory:"}})
	require.NoError(t, err)
	t.Cleanup(func() { _ = adapter.Close() })

	ctx := context.Background()
	now := time.Now().UTC()
	events := []*types.Event{
		{Timestamp: now, ReceivedAt: now, Hostname: "web-01", AppName: "nginx", Message: "GET /healthz 200", Severity: 6, IndexName: "main"},
		{Timestamp: now, ReceivedAt: now, Hostname: "web-01", AppName: "nginx", Message: "GET / 500", Severity: 3, IndexName: "main"},
	}
	require.NoError(t, adapter.InsertBatch(ctx, "main", events))

	pool := workerpool.NewWorkerPool(workerpool.WorkerPoolConfig{MaxWorkers: 2}, logger)
	require.NoError(t, pool.Start())
	t.Cleanup(func() { _ = pool.Stop() })

	engine := query.NewEngine(adapter, pool, extract.NewExtractor(), types.QueryConfig{DefaultTimeout: "5s", MaxResultRows: 1000})

	return &App{
		config:      &types.Config{},
		logger:      logger,
		adapter:     adapter,
		queryEngine: engine,
	}
}

func doQuery(t *testing.T, a *App, body queryRequestBody) *httptest.ResponseRecorder {
	t.Helper()
	buf, err := json.Marshal(body)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, "/query", bytes.NewReader(buf))
	rec := httptest.NewRecorder()
	a.handleQuery(rec, req)
	return rec
}

func TestHandleQueryReturnsMatchingResults(t *testing.T) {
	a := newTestApp(t)

	rec := doQuery(t, a, queryRequestBody{Query: "search hostname=web-01", Index: "main"})
	require.Equal(t, http.StatusOK, rec.Code)

	var resp query.Response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "sqlite", resp.Backend)
	assert.Equal(t, 2, resp.Count)
}

func TestHandleQueryRejectsNonPost(t *testing.T) {
	a := newTestApp(t)
	req := httptest.NewRequest(http.MethodGet, "/query", nil)
	rec := httptest.NewRecorder()
	a.handleQuery(rec, req)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestHandleQueryRejectsMalformedBody(t *testing.T) {
	a := newTestApp(t)
	req := httptest.NewRequest(http.MethodPost, "/query", bytes.NewReader([]byte("{not json")))
	rec := httptest.NewRecorder()
	a.handleQuery(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	var body queryErrorBody
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "invalid_request_body", body.Error)
}

func TestHandleQueryParseErrorReturnsBadRequestWithLocation(t *testing.T) {
	a := newTestApp(t)

	rec := doQuery(t, a, queryRequestBody{Query: "search hostname=web-01 severity>", Index: "main"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	var body queryErrorBody
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "parse_error", body.Error)
	assert.Equal(t, 1, body.Line)
	assert.Positive(t, body.Column)
}

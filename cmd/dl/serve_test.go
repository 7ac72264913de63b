package main

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"donorline/internal/db"
	"donorline/internal/engine"
	"donorline/internal/migrate"
)

func TestServeStackServesHealthMetricsAndOpenAPI(t *testing.T) {
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	require.NoError(t, err, "open db")
	t.Cleanup(func() { conn.Close() })
	require.NoError(t, migrate.Migrate(conn), "migrate")

	logger := zap.NewNop()
	st, err := buildServeStack(engine.New(conn, logger), serveOptions{
		basePath:     "/v0",
		baseInterval: time.Hour,
		reapInterval: time.Hour,
		staleAfter:   time.Hour,
		feedInterval: time.Hour,
		seed:         7,
	}, "test-secret", logger)
	require.NoError(t, err, "build serve stack")
	t.Cleanup(func() { st.close(context.Background(), logger) })

	ts := httptest.NewServer(st.handler)
	t.Cleanup(ts.Close)

	get := func(path string) (int, string) {
		t.Helper()
		resp, err := http.Get(ts.URL + path)
		require.NoError(t, err, "GET %s", path)
		defer resp.Body.Close()
		b, err := io.ReadAll(resp.Body)
		require.NoError(t, err)
		return resp.StatusCode, string(b)
	}

	code, body := get("/v0/health")
	require.Equal(t, http.StatusOK, code, body)
	var health map[string]string
	require.NoError(t, json.Unmarshal([]byte(body), &health))
	assert.Equal(t, "ok", health["status"])

	code, body = get("/metrics")
	require.Equal(t, http.StatusOK, code)
	assert.Contains(t, body, "donorline_simulation_runs_started_total")

	code, body = get("/v0/openapi.json")
	require.Equal(t, http.StatusOK, code)
	assert.Contains(t, body, `"RunConfig"`)
}

package http_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	httpadapter "github.com/couchcryptid/aeronet-etl/internal/adapter/http"
	"github.com/couchcryptid/aeronet-etl/internal/adapter/manifest"
	"github.com/couchcryptid/aeronet-etl/internal/observability"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockReadiness struct {
	err error
}

func (m *mockReadiness) CheckReadiness(_ context.Context) error { return m.err }

func newTestServer(readyErr error) *httpadapter.Server {
	metrics := observability.NewMetricsForTesting()
	metrics.RowsRead.WithLabelValues("aod").Add(12)
	return httpadapter.NewServer(":0", &mockReadiness{err: readyErr}, metrics.Gatherer(), nil, slog.Default())
}

func get(t *testing.T, srv *httpadapter.Server, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func TestHealthzReturns200(t *testing.T) {
	rec := get(t, newTestServer(nil), "/healthz")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestReadyzReturns200WhenReady(t *testing.T) {
	rec := get(t, newTestServer(nil), "/readyz")

	assert.Equal(t, http.StatusOK, rec.Code)

	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "ready", body["status"])
}

func TestReadyzReturns503WhenNotReady(t *testing.T) {
	rec := get(t, newTestServer(fmt.Errorf("pipeline has not completed a run yet")), "/readyz")

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "not ready", body["status"])
	assert.Equal(t, "pipeline has not completed a run yet", body["error"])
}

func TestMetricsEndpointServesGivenRegistry(t *testing.T) {
	rec := get(t, newTestServer(nil), "/metrics")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `aeronet_etl_rows_read_total{product="aod"} 12`)
}

func TestRunsEndpoint(t *testing.T) {
	ctx := context.Background()
	clock := clockwork.NewFakeClockAt(time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC))
	m, err := manifest.Open(ctx, "", clock)
	require.NoError(t, err)
	t.Cleanup(func() { m.Close() })

	require.NoError(t, m.StartRun(ctx, "run-1", "Lille"))
	require.NoError(t, m.Claim(ctx, "run-1", "/out/merged/Lille.lev15_merged_v02", "merged"))
	require.NoError(t, m.Complete(ctx, "run-1", "/out/merged/Lille.lev15_merged_v02", 96))
	require.NoError(t, m.Claim(ctx, "run-1", "/out/derived/Lille.lev15_derived_v03", "derived"))
	require.NoError(t, m.Fail(ctx, "run-1", "/out/derived/Lille.lev15_derived_v03", errors.New("disk full")))
	require.NoError(t, m.FinishRun(ctx, "run-1", errors.New("derived: disk full")))

	srv := httpadapter.NewServer(":0", &mockReadiness{}, observability.NewMetricsForTesting().Gatherer(), m, slog.Default())

	t.Run("known run", func(t *testing.T) {
		rec := get(t, srv, "/runs/run-1")
		require.Equal(t, http.StatusOK, rec.Code)

		var body struct {
			Status    string `json:"status"`
			Error     string `json:"error"`
			Artifacts []struct {
				Stage  string `json:"stage"`
				Status string `json:"status"`
				Rows   int    `json:"rows"`
				Error  string `json:"error"`
			} `json:"artifacts"`
		}
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		assert.Equal(t, manifest.StatusFailed, body.Status)
		assert.Equal(t, "derived: disk full", body.Error)
		require.Len(t, body.Artifacts, 2)
		assert.Equal(t, "merged", body.Artifacts[1].Stage)
		assert.Equal(t, 96, body.Artifacts[1].Rows)
		assert.Equal(t, "disk full", body.Artifacts[0].Error)
	})

	t.Run("unknown run", func(t *testing.T) {
		rec := get(t, srv, "/runs/nope")
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})
}

func TestRunsEndpointDisabledWithoutManifest(t *testing.T) {
	rec := get(t, newTestServer(nil), "/runs/run-1")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

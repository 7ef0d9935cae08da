package httpapi

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"evotree/internal/model"
	"evotree/pkg/evotree"
)

const smallRun = `{"population_size": 12, "generations": 3, "max_length": 15, "max_depth": 4, "seed": 5}`

func newTestServer(t *testing.T) (*httptest.Server, *prometheus.Registry) {
	t.Helper()
	reg := prometheus.NewRegistry()
	client, err := evotree.New(evotree.Options{StoreKind: "memory", NoArtifacts: true, Registerer: reg})
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	srv := httptest.NewServer(NewHandler(client, Options{Gatherer: reg}))
	t.Cleanup(srv.Close)
	return srv, reg
}

func do(t *testing.T, method, url, body string) (*http.Response, []byte) {
	t.Helper()
	req, err := http.NewRequest(method, url, strings.NewReader(body))
	require.NoError(t, err)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, data
}

func TestRunLifecycleOverHTTP(t *testing.T) {
	srv, _ := newTestServer(t)

	resp, body := do(t, http.MethodPost, srv.URL+"/runs?top=4", smallRun)
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(body))
	var summary runSummaryResponse
	require.NoError(t, json.Unmarshal(body, &summary))
	assert.NotEmpty(t, summary.RunID)
	assert.Equal(t, 3, summary.Generations)
	assert.Len(t, summary.BestByGeneration, 3)
	assert.NotEmpty(t, summary.BestExpression)

	resp, body = do(t, http.MethodGet, srv.URL+"/runs", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var items []runItemResponse
	require.NoError(t, json.Unmarshal(body, &items))
	require.Len(t, items, 1)
	assert.Equal(t, summary.RunID, items[0].RunID)
	assert.Equal(t, int64(5), items[0].Seed)

	resp, body = do(t, http.MethodGet, srv.URL+"/runs/"+summary.RunID, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var run model.RunRecord
	require.NoError(t, json.Unmarshal(body, &run))
	assert.Equal(t, summary.BestExpression, run.BestExpression)

	resp, body = do(t, http.MethodGet, srv.URL+"/runs/latest/history", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var history []model.Score
	require.NoError(t, json.Unmarshal(body, &history))
	assert.Len(t, history, 3)

	resp, body = do(t, http.MethodGet, srv.URL+"/runs/"+summary.RunID+"/generations?limit=2", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var generations []model.GenerationSummary
	require.NoError(t, json.Unmarshal(body, &generations))
	assert.Len(t, generations, 2)

	resp, body = do(t, http.MethodGet, srv.URL+"/runs/"+summary.RunID+"/top?limit=2", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var top []model.IndividualRecord
	require.NoError(t, json.Unmarshal(body, &top))
	require.Len(t, top, 2)
	assert.Equal(t, 1, top[0].Rank)

	resp, body = do(t, http.MethodGet, srv.URL+"/runs/"+summary.RunID+"/summary", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var series seriesSummaryResponse
	require.NoError(t, json.Unmarshal(body, &series))
	assert.Equal(t, 3, series.Points)

	resp, body = do(t, http.MethodPost, srv.URL+"/runs/"+summary.RunID+"/replay", `{"overrides": ["generations=2"]}`)
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(body))
	var replayed runSummaryResponse
	require.NoError(t, json.Unmarshal(body, &replayed))
	assert.Equal(t, 2, replayed.Generations)
	assert.Equal(t, summary.BestByGeneration[:2], replayed.BestByGeneration)

	resp, _ = do(t, http.MethodDelete, srv.URL+"/runs/"+summary.RunID, "")
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	resp, _ = do(t, http.MethodGet, srv.URL+"/runs/"+summary.RunID, "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestErrorsMapToStatusCodes(t *testing.T) {
	srv, _ := newTestServer(t)

	resp, body := do(t, http.MethodPost, srv.URL+"/runs", `{"population_size": 0}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Contains(t, string(body), "invalid run config")

	resp, _ = do(t, http.MethodPost, srv.URL+"/runs", `{not json`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = do(t, http.MethodGet, srv.URL+"/runs?limit=-1", "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = do(t, http.MethodGet, srv.URL+"/runs/latest", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, _ = do(t, http.MethodPost, srv.URL+"/runs/nope/stop", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, body = do(t, http.MethodGet, srv.URL+"/runs/active", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `[]`, string(body))
}

func TestCatalogAndMetricsEndpoints(t *testing.T) {
	srv, _ := newTestServer(t)

	resp, body := do(t, http.MethodGet, srv.URL+"/health", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"status":"ok"}`, string(body))

	resp, body = do(t, http.MethodGet, srv.URL+"/primitives", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var primitives []primitiveResponse
	require.NoError(t, json.Unmarshal(body, &primitives))
	names := make([]string, 0, len(primitives))
	for _, p := range primitives {
		names = append(names, p.Name)
	}
	assert.Contains(t, names, "add")
	assert.Contains(t, names, "if")

	resp, body = do(t, http.MethodGet, srv.URL+"/operators", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var ops operatorsResponse
	require.NoError(t, json.Unmarshal(body, &ops))
	assert.Contains(t, ops.Mutations, "subtree")
	assert.Contains(t, ops.Crossovers, "one_point")

	_, _ = do(t, http.MethodPost, srv.URL+"/runs", smallRun)
	resp, body = do(t, http.MethodGet, srv.URL+"/metrics", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "evotree_run_generations_total")
}

package server

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/KaramelBytes/abverdict/internal/ai"
	"github.com/KaramelBytes/abverdict/internal/commentary"
	"github.com/KaramelBytes/abverdict/internal/config"
	"github.com/KaramelBytes/abverdict/internal/pipeline"
	"github.com/KaramelBytes/abverdict/internal/query"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

const upstreamResponse = `{"result": {"split": [
  {"Region": "US", "split": [
    {"Experiment Tokens": "control", "Profit": 100},
    {"Experiment Tokens": "variantA", "Profit": 110}
  ]},
  {"Region": "EU", "split": [
    {"Experiment Tokens": "control", "Profit": 50},
    {"Experiment Tokens": "variantA", "Profit": 45}
  ]}
]}}`

const flatUpstreamResponse = `{"result": {"split": [
  {"Experiment Tokens": "control", "Profit": 100},
  {"Experiment Tokens": "variantA", "Profit": 110}
]}}`

type stubRuntime struct{ err error }

func (s stubRuntime) Generate(ctx context.Context, req ai.GenerateRequest) (*ai.GenerateResponse, error) {
	if s.err != nil {
		return nil, s.err
	}
	text := `{"key_insights": ["variantA +10% profit"], "final_verdict": "Final Verdict: variantA is best overall",
	  "scalability_verdict": {"verdict": "Scale", "reasons": ["+10% profit"]},
	  "metrics_table": [{"name": "Profit", "value": 110, "baseline": 100, "change": 10, "significance": "positive"}],
	  "metrics": []}`
	if !req.JSONMode {
		text = `["US up, EU down"]`
	}
	return &ai.GenerateResponse{Choices: []ai.Choice{{Message: ai.Message{Role: "assistant", Content: text}}}}, nil
}

type testEnv struct {
	router   http.Handler
	upstream *httptest.Server
	dir      string
	hits     int
}

func newTestEnv(t *testing.T, upstreamBody string, rt ai.Runtime) *testEnv {
	t.Helper()
	env := &testEnv{dir: t.TempDir()}
	env.upstream = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		env.hits++
		_, _ = w.Write([]byte(upstreamBody))
	}))
	t.Cleanup(env.upstream.Close)

	store := config.NewDocStore(env.dir, nil)
	var gen *commentary.Generator
	if rt != nil {
		gen = &commentary.Generator{Runtime: rt, Model: "o3-mini"}
	}
	p := pipeline.New(query.New(query.Options{BaseURL: env.upstream.URL}), store, gen, pipeline.Options{}, nil)
	env.router = New(p, store, nil).Handler()
	return env
}

func (e *testEnv) do(req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func jsonRequest(t *testing.T, path string, body any) *http.Request {
	t.Helper()
	b, err := json.Marshal(body)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(b))
	req.Header.Set("Content-Type", "application/json")
	return req
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	return out
}

func TestPing(t *testing.T) {
	env := newTestEnv(t, upstreamResponse, nil)
	w := env.do(httptest.NewRequest(http.MethodGet, "/ping", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "pong", decode(t, w)["message"])
	assert.Len(t, w.Header().Get("X-Request-ID"), 36)
}

func TestRequestIDPropagated(t *testing.T) {
	env := newTestEnv(t, upstreamResponse, nil)
	req := httptest.NewRequest(http.MethodGet, "/ping", nil)
	req.Header.Set("X-Request-ID", "abc-123")
	w := env.do(req)
	assert.Equal(t, "abc-123", w.Header().Get("X-Request-ID"))
}

func TestCompare(t *testing.T) {
	env := newTestEnv(t, upstreamResponse, nil)
	w := env.do(jsonRequest(t, "/api/compare", map[string]any{
		"request_json": map[string]any{"rows": []any{}},
		"dimensions":   []string{"Region"},
	}))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	out := decode(t, w)
	overall := out["overall"].(map[string]any)
	assert.Equal(t, "control", overall["control"])
	// each cohort spans both regions, so the overall view has no pivot
	assert.Equal(t, true, overall["fallback"])
	assert.Contains(t, overall["reason"], "multiple rows per cohort")
	rows := overall["rows"].([]any)
	assert.Len(t, rows, 4)

	segs := out["segments"].([]any)
	require.Len(t, segs, 2)
	eu := segs[1].(map[string]any)
	assert.Equal(t, "Region = EU", eu["segment"])
	assert.Equal(t, map[string]any{"Region": "EU"}, eu["key"])
	assert.Equal(t, 1, env.hits)
}

func TestCompareBadInput(t *testing.T) {
	env := newTestEnv(t, upstreamResponse, nil)

	w := env.do(jsonRequest(t, "/api/compare", map[string]any{"dimensions": []string{"Region"}}))
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = env.do(jsonRequest(t, "/api/compare", map[string]any{"request_json": []int{1}}))
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = env.do(jsonRequest(t, "/api/compare", map[string]any{"request_json": map[string]any{}, "dimensions": []string{"Device"}}))
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "Dimension not present in query result", decode(t, w)["error"])
}

func TestCompareUpstreamErrors(t *testing.T) {
	env := newTestEnv(t, `{"result": {"split": []}}`, nil)
	w := env.do(jsonRequest(t, "/api/compare", map[string]any{"request_json": map[string]any{}}))
	assert.Equal(t, http.StatusBadGateway, w.Code)
	assert.Contains(t, decode(t, w), "details")

	down := newTestEnv(t, upstreamResponse, nil)
	down.upstream.Close()
	w = down.do(jsonRequest(t, "/api/compare", map[string]any{"request_json": map[string]any{}}))
	assert.Equal(t, http.StatusBadGateway, w.Code)
	assert.Equal(t, "Query service request failed", decode(t, w)["error"])
}

func multipartRequest(t *testing.T, path string, fields map[string]string, files map[string][2]string) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for k, v := range fields {
		require.NoError(t, mw.WriteField(k, v))
	}
	for field, f := range files {
		fw, err := mw.CreateFormFile(field, f[0])
		require.NoError(t, err)
		_, err = fw.Write([]byte(f[1]))
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())
	req := httptest.NewRequest(http.MethodPost, path, &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func TestAnalyzeRequest(t *testing.T) {
	env := newTestEnv(t, upstreamResponse, stubRuntime{})
	w := env.do(multipartRequest(t, "/api/analyze-request",
		map[string]string{"system": "Bidder"},
		map[string][2]string{"request_file": {"request.json", `{"rows": []}`}}))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	out := decode(t, w)
	assert.Equal(t, "Final Verdict: variantA is best overall", out["final_verdict"])
	assert.Equal(t, []any{"variantA +10% profit"}, out["key_insights"])
	assert.Equal(t, "Scale", out["scalability_verdict"].(map[string]any)["verdict"])
	assert.Equal(t, "control", out["comparison"].(map[string]any)["control"])
}

func TestAnalyzeRequestErrors(t *testing.T) {
	env := newTestEnv(t, upstreamResponse, stubRuntime{})
	w := env.do(multipartRequest(t, "/api/analyze-request",
		map[string]string{"system": "Bidder"},
		map[string][2]string{"request_file": {"request.json", `not json`}}))
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "Invalid JSON file uploaded.", decode(t, w)["error"])

	w = env.do(multipartRequest(t, "/api/analyze-request", nil,
		map[string][2]string{"request_file": {"request.json", `{}`}}))
	assert.Equal(t, http.StatusBadRequest, w.Code)

	failing := newTestEnv(t, upstreamResponse, stubRuntime{err: assert.AnError})
	w = failing.do(multipartRequest(t, "/api/analyze-request",
		map[string]string{"system": "Bidder"},
		map[string][2]string{"request_file": {"request.json", `{}`}}))
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, "LLM analysis failed", decode(t, w)["error"])

	noLLM := newTestEnv(t, upstreamResponse, nil)
	w = noLLM.do(multipartRequest(t, "/api/analyze-request",
		map[string]string{"system": "Bidder"},
		map[string][2]string{"request_file": {"request.json", `{}`}}))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestDeepDiveQuery(t *testing.T) {
	env := newTestEnv(t, upstreamResponse, stubRuntime{})
	w := env.do(jsonRequest(t, "/api/deep-dive-query", map[string]any{
		"request_json": map[string]any{"rows": []any{map[string]any{"dimension": "Experiment Tokens"}}},
		"system":       "Bidder",
		"dimensions":   []string{"Region"},
	}))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	out := decode(t, w)
	segs := out["segments"].([]any)
	require.Len(t, segs, 2)
	assert.Equal(t, "Region = US", segs[0].(map[string]any)["segment"])
	assert.Equal(t, []any{"US up, EU down"}, out["overall_commentary"])
	assert.Len(t, out["comparisons"], 2)
}

func TestDeepDiveQueryNoDimensions(t *testing.T) {
	env := newTestEnv(t, upstreamResponse, stubRuntime{})
	w := env.do(jsonRequest(t, "/api/deep-dive-query", map[string]any{
		"request_json": map[string]any{},
		"system":       "Bidder",
	}))
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "No dimensions provided for deep dive", decode(t, w)["error"])
	assert.Equal(t, 0, env.hits)
}

func configFiles(metric string) map[string][2]string {
	return map[string][2]string{
		"metric_config":     {"metric_config.yaml", metric},
		"system_config":     {"system_config.yaml", "important_metrics:\n  - Profit\n"},
		"system_definition": {"system_definition.yaml", "bidder:\n  goal: profit\n"},
		"deep_dive_config":  {"deep_dive_config.yaml", "focus: regions\n"},
	}
}

func TestUploadConfig(t *testing.T) {
	env := newTestEnv(t, flatUpstreamResponse, nil)
	w := env.do(multipartRequest(t, "/api/upload-config", nil, configFiles("metrics:\n  - name: Profit\n    format: currency\n")))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, true, decode(t, w)["success"])

	for _, name := range config.DocumentNames {
		_, err := os.Stat(filepath.Join(env.dir, name.FileName()))
		assert.NoError(t, err, name)
	}

	// uploaded metric formats drive the comparison
	w = env.do(jsonRequest(t, "/api/compare", map[string]any{"request_json": map[string]any{}}))
	require.Equal(t, http.StatusOK, w.Code)
	rows := decode(t, w)["overall"].(map[string]any)["rows"].([]any)
	first := rows[0].(map[string]any)
	assert.Equal(t, "Profit", first["Metric"])
	assert.Equal(t, "$100", first["control"])
}

func TestUploadConfigRejects(t *testing.T) {
	env := newTestEnv(t, upstreamResponse, nil)

	files := configFiles("metrics: []\n")
	files["deep_dive_config"] = [2]string{"deep_dive_config.txt", "a: b\n"}
	w := env.do(multipartRequest(t, "/api/upload-config", nil, files))
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.True(t, strings.HasSuffix(decode(t, w)["error"].(string), "is not a .yaml file"))

	w = env.do(multipartRequest(t, "/api/upload-config", nil, configFiles("metrics:\n  - format: currency\n")))
	assert.Equal(t, http.StatusBadRequest, w.Code)

	missing := configFiles("metrics: []\n")
	delete(missing, "system_config")
	w = env.do(multipartRequest(t, "/api/upload-config", nil, missing))
	assert.Equal(t, http.StatusBadRequest, w.Code)

	entries, err := os.ReadDir(env.dir)
	require.NoError(t, err)
	assert.Empty(t, entries, "nothing is written when any document is rejected")
}

func TestUploadConfigWriteFailureKeepsOldSet(t *testing.T) {
	env := newTestEnv(t, flatUpstreamResponse, nil)
	old := "metrics:\n  - name: Profit\n    format: raw\n"
	require.NoError(t, os.WriteFile(filepath.Join(env.dir, config.DocMetricConfig.FileName()), []byte(old), 0o644))
	blocked := filepath.Join(env.dir, config.DocDeepDiveConfig.FileName())
	require.NoError(t, os.MkdirAll(filepath.Join(blocked, "keep"), 0o755))

	w := env.do(multipartRequest(t, "/api/upload-config", nil, configFiles("metrics:\n  - name: Profit\n    format: Currency\n")))
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, "Could not save configuration", decode(t, w)["error"])

	got, err := os.ReadFile(filepath.Join(env.dir, config.DocMetricConfig.FileName()))
	require.NoError(t, err)
	assert.Equal(t, old, string(got))
	_, err = os.Stat(filepath.Join(env.dir, config.DocSystemConfig.FileName()))
	assert.True(t, os.IsNotExist(err), "no document is written when one fails")
}

func TestMetricsEndpoint(t *testing.T) {
	env := newTestEnv(t, upstreamResponse, nil)
	env.do(httptest.NewRequest(http.MethodGet, "/ping", nil))
	w := env.do(httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "abverdict_http_requests_total")
}

func TestCORSPreflight(t *testing.T) {
	env := newTestEnv(t, upstreamResponse, nil)
	w := env.do(httptest.NewRequest(http.MethodOptions, "/api/compare", nil))
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
}

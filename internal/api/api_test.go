package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/coder/quartz"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"activewatcher/internal/health"
	"activewatcher/internal/ingest"
	"activewatcher/internal/metrics"
	"activewatcher/internal/reports"
	"activewatcher/internal/store"
)

type testAPI struct {
	handler http.Handler
	clock   *quartz.Mock
	store   *store.Store
}

func newTestAPI(t *testing.T) *testAPI {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "events.sqlite3"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	mClock := quartz.NewMock(t)
	mClock.Set(time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC))

	reg := prometheus.NewRegistry()
	m, err := metrics.New(reg)
	require.NoError(t, err)

	checker := health.NewChecker(mClock)
	checker.RegisterFunc("database", true, health.DatabaseCheck(st.Ping))

	a := New(Options{
		Ingest:   ingest.New(st),
		Reports:  reports.NewService(st, reports.NewLoader(st, mClock, 120)),
		Health:   checker,
		Metrics:  m,
		Gatherer: reg,
		Version:  "test",
	})
	return &testAPI{handler: a.Handler(), clock: mClock, store: st}
}

func (ta *testAPI) do(t *testing.T, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	rec := httptest.NewRecorder()
	ta.handler.ServeHTTP(rec, req)
	return rec
}

func (ta *testAPI) postState(t *testing.T, bucket, ts, data string) *httptest.ResponseRecorder {
	t.Helper()
	body := `{"bucket":"` + bucket + `","source":"test","ts":"` + ts + `","data":` + data + `}`
	return ta.do(t, http.MethodPost, "/v1/state", body)
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	dec := json.NewDecoder(bytes.NewReader(rec.Body.Bytes()))
	dec.UseNumber()
	require.NoError(t, dec.Decode(&out), rec.Body.String())
	return out
}

func TestPostStateLifecycle(t *testing.T) {
	ta := newTestAPI(t)

	rec := ta.postState(t, "window", "2024-01-01T10:00:00Z", `{"app":"kitty"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	body := decodeBody(t, rec)
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, "inserted", body["action"])
	assert.Nil(t, body["previous_event_id"])
	assert.Equal(t, json.Number("1"), body["current_event_id"])

	rec = ta.postState(t, "window", "2024-01-01T10:01:00+01:00", `{"app":"kitty"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "refreshed", decodeBody(t, rec)["action"])

	rec = ta.postState(t, "window", "2024-01-01T10:05:00Z", `{"app":"firefox"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	body = decodeBody(t, rec)
	assert.Equal(t, "rotated", body["action"])
	assert.Equal(t, json.Number("1"), body["previous_event_id"])
	assert.Equal(t, json.Number("2"), body["current_event_id"])

	rec = ta.postState(t, "window", "2024-01-01T10:06:00Z", `{"__activewatcher_end__":true}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ended", decodeBody(t, rec)["action"])
}

func TestPostStateConflict(t *testing.T) {
	ta := newTestAPI(t)

	require.Equal(t, http.StatusOK, ta.postState(t, "window", "2024-01-01T10:05:00Z", `{"app":"a"}`).Code)

	rec := ta.postState(t, "window", "2024-01-01T10:00:00Z", `{"app":"b"}`)
	require.Equal(t, http.StatusConflict, rec.Code)
	assert.Contains(t, decodeBody(t, rec)["message"], "non-monotonic timestamp")

	st, err := ta.store.Stats(t.Context())
	require.NoError(t, err)
	assert.Equal(t, int64(1), st.Rows)
}

func TestPostStateEqualNumbersRefresh(t *testing.T) {
	ta := newTestAPI(t)

	rec := ta.postState(t, "window", "2024-01-01T10:00:00Z", `{"app":"a","load":1.5,"big":12345678901234567890}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "inserted", decodeBody(t, rec)["action"])

	rec = ta.postState(t, "window", "2024-01-01T10:00:30Z", `{"app":"a","load":1.50,"big":12345678901234567890}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "refreshed", decodeBody(t, rec)["action"])

	st, err := ta.store.Stats(t.Context())
	require.NoError(t, err)
	assert.Equal(t, int64(1), st.Rows)

	iv, err := ta.store.Get(t.Context(), 1)
	require.NoError(t, err)
	assert.Equal(t, `{"app":"a","big":12345678901234567890,"load":1.5}`, iv.DataJSON)
}

func TestPostStateInvalidPayload(t *testing.T) {
	ta := newTestAPI(t)

	tests := []struct {
		name string
		body string
		code int
	}{
		{"not json", `{`, http.StatusBadRequest},
		{"extra field", `{"bucket":"b","source":"s","ts":"2024-01-01T10:00:00Z","data":{},"x":1}`, http.StatusBadRequest},
		{"empty source", `{"bucket":"b","source":"","ts":"2024-01-01T10:00:00Z","data":{}}`, http.StatusBadRequest},
		{"data array", `{"bucket":"b","source":"s","ts":"2024-01-01T10:00:00Z","data":[]}`, http.StatusBadRequest},
		{"naive ts", `{"bucket":"b","source":"s","ts":"2024-01-01T10:00:00","data":{}}`, http.StatusUnprocessableEntity},
		{"garbage ts", `{"bucket":"b","source":"s","ts":"soon","data":{}}`, http.StatusUnprocessableEntity},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			rec := ta.do(t, http.MethodPost, "/v1/state", tc.body)
			assert.Equal(t, tc.code, rec.Code, rec.Body.String())
			assert.NotEmpty(t, decodeBody(t, rec)["message"])
		})
	}
}

func TestRange(t *testing.T) {
	ta := newTestAPI(t)

	rec := ta.do(t, http.MethodGet, "/v1/range", "")
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, true, body["empty"])
	assert.Nil(t, body["from_ts"])

	ta.postState(t, "window", "2024-01-01T10:00:00Z", `{"app":"a"}`)
	ta.postState(t, "window", "2024-01-01T10:30:00Z", `{"app":"a"}`)

	body = decodeBody(t, ta.do(t, http.MethodGet, "/v1/range?bucket=window", ""))
	assert.Equal(t, false, body["empty"])
	assert.Equal(t, "2024-01-01T10:00:00.000Z", body["from_ts"])
	assert.Equal(t, "2024-01-01T10:30:00.000Z", body["to_ts"])

	body = decodeBody(t, ta.do(t, http.MethodGet, "/v1/range?bucket=idle", ""))
	assert.Equal(t, true, body["empty"])
}

func TestEventsDefaultsAndClipping(t *testing.T) {
	ta := newTestAPI(t)
	ta.postState(t, "window", "2024-01-01T10:00:00Z", `{"app":"a"}`)
	ta.postState(t, "window", "2024-01-01T11:00:00Z", `{"app":"b"}`)
	ta.postState(t, "window", "2024-01-01T11:59:00Z", `{"app":"b"}`)

	rec := ta.do(t, http.MethodGet, "/v1/events?bucket=window", "")
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, "2023-12-31T12:00:00.000Z", body["from_ts"])
	assert.Equal(t, "2024-01-01T12:00:00.000Z", body["to_ts"])
	events := body["events"].([]any)
	require.Len(t, events, 2)
	last := events[1].(map[string]any)
	assert.Equal(t, "2024-01-01T12:00:00.000Z", last["end_ts"])

	body = decodeBody(t, ta.do(t, http.MethodGet, "/v1/events?from=2024-01-01T10:30:00Z&to=2024-01-01T11:30:00Z", ""))
	events = body["events"].([]any)
	require.Len(t, events, 2)
	first := events[0].(map[string]any)
	assert.Equal(t, "2024-01-01T10:30:00.000Z", first["start_ts"])
	assert.Equal(t, map[string]any{"app": "a"}, first["data"])
}

func TestEventsInvalidTimestamp(t *testing.T) {
	ta := newTestAPI(t)

	rec := ta.do(t, http.MethodGet, "/v1/events?from=yesterday", "")
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, "invalid timestamp: yesterday", decodeBody(t, rec)["message"])

	rec = ta.do(t, http.MethodGet, "/v1/events?to=2024-01-01T10:00:00", "")
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestSummary(t *testing.T) {
	ta := newTestAPI(t)
	ta.postState(t, "window", "2024-01-01T10:00:00Z", `{"app":"a"}`)
	ta.postState(t, "window", "2024-01-01T10:10:00Z", `{"__activewatcher_end__":true}`)
	ta.postState(t, "idle", "2024-01-01T10:00:00Z", `{"afk":false}`)
	ta.postState(t, "idle", "2024-01-01T10:05:00Z", `{"afk":true}`)
	ta.postState(t, "idle", "2024-01-01T10:10:00Z", `{"__activewatcher_end__":true}`)

	rec := ta.do(t, http.MethodGet, "/v1/summary?from=2024-01-01T10:00:00Z&to=2024-01-01T10:20:00Z&chunk_seconds=600", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	body := decodeBody(t, rec)

	assert.Equal(t, json.Number("1200"), body["total_seconds"])
	assert.Equal(t, json.Number("300"), body["active_seconds"])
	assert.Equal(t, json.Number("300"), body["afk_seconds"])
	assert.Equal(t, json.Number("600"), body["unknown_seconds"])
	assert.Equal(t, "active", body["top_apps_mode"])
	assert.Len(t, body["timeline_chunks"], 2)
}

func TestSummaryChunkBounds(t *testing.T) {
	ta := newTestAPI(t)

	for _, q := range []string{"chunk_seconds=29", "chunk_seconds=2592001", "chunk_seconds=abc"} {
		rec := ta.do(t, http.MethodGet, "/v1/summary?"+q, "")
		assert.Equal(t, http.StatusUnprocessableEntity, rec.Code, q)
	}
	rec := ta.do(t, http.MethodGet, "/v1/summary?chunk_seconds=30", "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestApps(t *testing.T) {
	ta := newTestAPI(t)
	ta.postState(t, "window", "2024-01-01T10:00:00Z", `{"app":"zed"}`)
	ta.postState(t, "window", "2024-01-01T10:01:00Z", `{"app":"__lock__"}`)
	ta.postState(t, "window", "2024-01-01T10:02:00Z", `{"app":"alacritty"}`)

	body := decodeBody(t, ta.do(t, http.MethodGet, "/v1/apps", ""))
	assert.Equal(t, []any{"alacritty", "zed"}, body["apps"])

	rec := ta.do(t, http.MethodGet, "/v1/apps?limit=0", "")
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	rec = ta.do(t, http.MethodGet, "/v1/apps?limit=5001", "")
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestHeatmap(t *testing.T) {
	ta := newTestAPI(t)
	ta.postState(t, "window", "2024-01-01T10:00:00Z", `{"app":"a"}`)
	ta.postState(t, "window", "2024-01-01T10:30:00Z", `{"app":"b"}`)
	ta.postState(t, "window", "2024-01-01T11:00:00Z", `{"__activewatcher_end__":true}`)

	rec := ta.do(t, http.MethodGet, "/v1/heatmap?from=2024-01-01T00:00:00Z&to=2024-01-01T23:00:00Z&app=a", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	body := decodeBody(t, rec)
	assert.Equal(t, "window", body["mode"])
	assert.Equal(t, false, body["has_idle"])
	assert.Equal(t, []any{"a"}, body["apps"])
	days := body["days"].([]any)
	require.Len(t, days, 1)
	assert.Equal(t, json.Number("1800"), days[0].(map[string]any)["seconds"])

	rec = ta.do(t, http.MethodGet, "/v1/heatmap?tz=Mars/Olympus", "")
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	rec = ta.do(t, http.MethodGet, "/v1/heatmap?mode=sometimes", "")
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestHealthMetaMetrics(t *testing.T) {
	ta := newTestAPI(t)

	rec := ta.do(t, http.MethodGet, "/health", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, map[string]any{"status": "ok"}, decodeBody(t, rec))

	rec = ta.do(t, http.MethodGet, "/health/components", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "healthy", decodeBody(t, rec)["status"])

	body := decodeBody(t, ta.do(t, http.MethodGet, "/meta", ""))
	assert.Equal(t, "activewatcher", body["name"])
	assert.Equal(t, "test", body["version"])

	ta.postState(t, "window", "2024-01-01T10:00:00Z", `{"app":"a"}`)
	rec = ta.do(t, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `activewatcher_ingest_states_total{action="inserted"} 1`)
}

func TestMiddleware(t *testing.T) {
	ta := newTestAPI(t)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set(RequestIDHeader, "abc-123")
	req.Header.Set("Origin", "http://example.com")
	rec := httptest.NewRecorder()
	ta.handler.ServeHTTP(rec, req)

	assert.Equal(t, "abc-123", rec.Header().Get(RequestIDHeader))
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))

	rec = ta.do(t, http.MethodGet, "/health", "")
	assert.NotEmpty(t, rec.Header().Get(RequestIDHeader))

	rec = ta.do(t, http.MethodGet, "/nope", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	rec = ta.do(t, http.MethodDelete, "/v1/state", "")
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

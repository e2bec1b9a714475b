package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus/hooks/test"

	"github.com/agorai/agorai/pkg/aggregator"
	"github.com/agorai/agorai/pkg/audit"
	"github.com/agorai/agorai/pkg/cache"
	"github.com/agorai/agorai/pkg/config"
	"github.com/agorai/agorai/pkg/identity"
	"github.com/agorai/agorai/pkg/metrics"
	"github.com/agorai/agorai/pkg/models"
	"github.com/agorai/agorai/pkg/provider"
	"github.com/agorai/agorai/pkg/quota"
	"github.com/agorai/agorai/pkg/store"
)

type stubProvider struct {
	name  string
	fail  bool
	calls atomic.Int32
}

func (p *stubProvider) Name() string { return p.name }

func (p *stubProvider) Answer(_ context.Context, query string) models.ProviderResult {
	p.calls.Add(1)
	if p.fail {
		return models.Failure(p.name, "upstream returned 503")
	}
	return models.Success(p.name, p.name+": "+query)
}

type testServer struct {
	srv       *Server
	providers []*stubProvider
	store     store.Store
}

func (ts *testServer) providerCalls() int {
	n := 0
	for _, p := range ts.providers {
		n += int(p.calls.Load())
	}
	return n
}

func setupServer(t *testing.T, auditor *audit.Logger) *testServer {
	t.Helper()
	dir := t.TempDir()

	s, err := store.Open(filepath.Join(dir, "quota.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { s.Close() })

	cfg := config.Default()
	cfg.Listen = ":0"
	cfg.CORSOrigins = []string{"https://agorai.example"}

	logger, _ := test.NewNullLogger()
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)

	stubs := []*stubProvider{{name: "chatgpt"}, {name: "grok", fail: true}, {name: "gemini"}, {name: "deepseek"}}
	ps := make([]provider.Provider, len(stubs))
	for i, p := range stubs {
		ps[i] = p
	}

	c := cache.New(cache.NewMemoryStore(), time.Hour, cache.WithLogger(logger), cache.WithMetrics(m))
	gw := New(quota.New(s, cfg.Quota.MaxPerDay), aggregator.New(provider.NewRegistry(ps...), logger, m),
		WithCache(c), WithLogger(logger), WithMetrics(m))

	return &testServer{
		srv:       NewServer(cfg, gw, reg, auditor, logger),
		providers: stubs,
		store:     s,
	}
}

func postQuery(ts *testServer, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/query", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	ts.srv.ServeHTTP(w, req)
	return w
}

type wireResponse struct {
	Responses []map[string]any `json:"responses"`
	Source    string           `json:"source"`
}

type wireError struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		Code    int    `json:"code"`
	} `json:"error"`
}

func TestQueryResponseShape(t *testing.T) {
	ts := setupServer(t, nil)

	w := postQuery(ts, `{"query":"What is Go?"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if w.Header().Get("X-Request-ID") == "" {
		t.Error("expected generated request id")
	}

	var resp wireResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Source != "api" {
		t.Errorf("expected source api, got %s", resp.Source)
	}
	want := []string{"chatgpt", "grok", "gemini", "deepseek"}
	if len(resp.Responses) != len(want) {
		t.Fatalf("expected %d responses, got %d", len(want), len(resp.Responses))
	}
	for i, name := range want {
		if resp.Responses[i]["model"] != name {
			t.Errorf("response %d: expected %s, got %v", i, name, resp.Responses[i]["model"])
		}
	}
	if resp.Responses[0]["response"] != "chatgpt: What is Go?" {
		t.Errorf("unexpected answer %v", resp.Responses[0]["response"])
	}
	if _, ok := resp.Responses[1]["response"]; ok {
		t.Error("failed provider must not carry a response field")
	}
	if resp.Responses[1]["error"] != "upstream returned 503" {
		t.Errorf("unexpected error field %v", resp.Responses[1]["error"])
	}

	w = postQuery(ts, `{"query":"what is go?"}`)
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Source != "cache" {
		t.Errorf("expected source cache, got %s", resp.Source)
	}
	if ts.providerCalls() != 4 {
		t.Errorf("expected 4 provider calls in total, got %d", ts.providerCalls())
	}
}

func TestDailyLimitEndToEnd(t *testing.T) {
	ts := setupServer(t, nil)

	for i := 0; i < 10; i++ {
		w := postQuery(ts, fmt.Sprintf(`{"query":"question %d"}`, i))
		if w.Code != http.StatusOK {
			t.Fatalf("request %d: expected 200, got %d: %s", i+1, w.Code, w.Body.String())
		}
	}
	calls := ts.providerCalls()

	w := postQuery(ts, `{"query":"question 11"}`)
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d: %s", w.Code, w.Body.String())
	}
	var e wireError
	if err := json.Unmarshal(w.Body.Bytes(), &e); err != nil {
		t.Fatal(err)
	}
	if e.Error.Type != "agorai_error" || e.Error.Code != 429 {
		t.Errorf("unexpected error envelope: %+v", e)
	}
	if !strings.Contains(e.Error.Message, "10 per day") {
		t.Errorf("unexpected message %q", e.Error.Message)
	}

	if ts.providerCalls() != calls {
		t.Errorf("denied request must not call providers: %d -> %d", calls, ts.providerCalls())
	}
	rec, _, err := ts.store.Get(context.Background(), identity.Hash("192.0.2.1"))
	if err != nil {
		t.Fatal(err)
	}
	if rec.Count != 10 {
		t.Errorf("expected count 10, got %d", rec.Count)
	}
}

func TestBadRequests(t *testing.T) {
	ts := setupServer(t, nil)

	tests := []struct {
		name string
		body string
	}{
		{"not json", `query=hello`},
		{"empty query", `{"query":""}`},
		{"blank query", `{"query":"   "}`},
		{"missing query", `{}`},
		{"wrong type", `{"query":42}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := postQuery(ts, tt.body)
			if w.Code != http.StatusBadRequest {
				t.Errorf("expected 400, got %d: %s", w.Code, w.Body.String())
			}
		})
	}
	if ts.providerCalls() != 0 {
		t.Error("bad requests must not reach providers")
	}
}

func TestMethodNotAllowed(t *testing.T) {
	ts := setupServer(t, nil)
	req := httptest.NewRequest(http.MethodGet, "/query", nil)
	w := httptest.NewRecorder()
	ts.srv.ServeHTTP(w, req)
	if w.Code != http.StatusMethodNotAllowed {
		t.Errorf("expected 405, got %d", w.Code)
	}
}

func TestHealth(t *testing.T) {
	ts := setupServer(t, nil)
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()
	ts.srv.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if strings.TrimSpace(w.Body.String()) != `{"status":"healthy"}` {
		t.Errorf("unexpected body %s", w.Body.String())
	}
}

func TestMetricsEndpoint(t *testing.T) {
	ts := setupServer(t, nil)
	postQuery(ts, `{"query":"hello"}`)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	w := httptest.NewRecorder()
	ts.srv.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	body := w.Body.String()
	for _, want := range []string{
		`agorai_query_requests_total{outcome="api"} 1`,
		`agorai_provider_calls_total{outcome="error",provider="grok"} 1`,
		`agorai_cache_lookups_total{result="miss"} 1`,
	} {
		if !strings.Contains(body, want) {
			t.Errorf("metrics missing %q", want)
		}
	}
}

func TestCORS(t *testing.T) {
	ts := setupServer(t, nil)

	req := httptest.NewRequest(http.MethodOptions, "/query", nil)
	req.Header.Set("Origin", "https://agorai.example")
	req.Header.Set("Access-Control-Request-Method", "POST")
	w := httptest.NewRecorder()
	ts.srv.ServeHTTP(w, req)
	if w.Code != http.StatusNoContent {
		t.Errorf("expected 204 for preflight, got %d", w.Code)
	}
	if w.Header().Get("Access-Control-Allow-Origin") != "https://agorai.example" {
		t.Errorf("unexpected allow origin %q", w.Header().Get("Access-Control-Allow-Origin"))
	}

	req = httptest.NewRequest(http.MethodOptions, "/query", nil)
	req.Header.Set("Origin", "https://evil.example")
	req.Header.Set("Access-Control-Request-Method", "POST")
	w = httptest.NewRecorder()
	ts.srv.ServeHTTP(w, req)
	if w.Header().Get("Access-Control-Allow-Origin") != "" {
		t.Error("unlisted origin must not be allowed")
	}
}

type downStore struct{ store.Store }

func (downStore) Get(context.Context, string) (models.QuotaRecord, bool, error) {
	return models.QuotaRecord{}, false, fmt.Errorf("dial tcp 10.0.0.5:5432: connect: connection refused")
}

func TestStoreUnavailable503(t *testing.T) {
	ts := setupServer(t, nil)
	ts.srv.gw.quota = quota.New(downStore{}, 10)

	w := postQuery(ts, `{"query":"hello"}`)
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d: %s", w.Code, w.Body.String())
	}
	if strings.Contains(w.Body.String(), "10.0.0.5") {
		t.Error("store error details must not leak to callers")
	}
	if ts.providerCalls() != 0 {
		t.Error("providers must not be called when the quota store is down")
	}
}

func TestAuditRecordsServedQueries(t *testing.T) {
	cfg := models.AuditConfig{
		Enabled:     true,
		DBPath:      filepath.Join(t.TempDir(), "audit.db"),
		Include:     []string{"queries"},
		MaxBodySize: 8192,
	}
	logger, _ := test.NewNullLogger()
	auditor, err := audit.New(cfg, logger)
	if err != nil {
		t.Fatal(err)
	}
	ts := setupServer(t, auditor)

	req := httptest.NewRequest(http.MethodPost, "/query", strings.NewReader(`{"query":"  Hello There "}`))
	req.Header.Set("X-Request-ID", "req-42")
	w := httptest.NewRecorder()
	ts.srv.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if err := auditor.Close(); err != nil {
		t.Fatal(err)
	}

	reader, err := audit.New(cfg, logger)
	if err != nil {
		t.Fatal(err)
	}
	defer reader.Close()
	entries, err := reader.Query(context.Background(), models.AuditQueryOpts{RequestID: "req-42"})
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected 1 audit entry, got %d", len(entries))
	}
	e := entries[0]
	if e.Source != "api" || e.StatusCode != 200 || e.ProviderErrors != 1 || e.Query != "hello there" {
		t.Errorf("unexpected audit entry: %+v", e)
	}
	if e.IdentityPrefix != identity.Prefix(identity.Hash("192.0.2.1")) {
		t.Errorf("unexpected identity prefix %s", e.IdentityPrefix)
	}
	if e.ResponseBody != "" {
		t.Error("responses are not included by configuration")
	}
}

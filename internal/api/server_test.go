package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"ChainGuard/deploy/seed"
	"ChainGuard/internal/agent"
	xerrors "ChainGuard/internal/errors"
	"ChainGuard/internal/ledger"
	"ChainGuard/internal/risk"
	"ChainGuard/internal/task"
	"ChainGuard/internal/verdict"
	"ChainGuard/internal/web3"
)

const (
	flaggedAddress  = "0x1234abcd5678efgh9012ijkl3456mnop7890qrst"
	neighborAddress = "0x2222bbbb3333cccc4444dddd5555eeee6666ffff"
)

type recordingSink struct {
	mu       sync.Mutex
	verdicts []verdict.Verdict
}

func (r *recordingSink) Publish(_ context.Context, v verdict.Verdict) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.verdicts = append(r.verdicts, v)
	return nil
}

func (r *recordingSink) Close() error { return nil }

type stubChains struct {
	snapshots []web3.ChainSnapshot
	err       error
}

func (s stubChains) Snapshots(context.Context) ([]web3.ChainSnapshot, error) {
	return s.snapshots, s.err
}

type fixture struct {
	server *Server
	sink   *recordingSink
	store  *task.MemoryStore
	queue  *task.MemoryQueue
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	ds, err := ledger.ParseDataset(seed.Demo)
	if err != nil {
		t.Fatalf("parse seed: %v", err)
	}
	store := ledger.NewMemoryStore()
	if err := ds.Apply(context.Background(), store); err != nil {
		t.Fatalf("apply seed: %v", err)
	}
	engine := risk.NewEngine(store)
	ag := agent.New(engine)

	f := &fixture{sink: &recordingSink{}, store: task.NewMemoryStore(), queue: task.NewMemoryQueue(16)}
	tasks := task.NewService(f.store, f.queue, 3, task.WithAgentCheck(func(name string) bool {
		_, ok := ag.Catalog().Lookup(name)
		return ok
	}))
	base := []Option{
		WithAgent(ag),
		WithTaskService(tasks),
		WithVerdictEmitter(verdict.NewEmitter(f.sink, nil)),
	}
	f.server = NewServer(":0", engine, append(base, opts...)...)
	return f
}

func (f *fixture) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	rec := httptest.NewRecorder()
	f.server.Handler().ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(rec.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode response %q: %v", rec.Body.String(), err)
	}
	return v
}

func TestRiskEndpointEmitsVerdict(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodGet, "/api/v1/risk/"+flaggedAddress, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status %d: %s", rec.Code, rec.Body.String())
	}
	got := decode[risk.Assessment](t, rec)
	if got.Level != risk.LevelHigh || got.Score != 0.95 {
		t.Fatalf("unexpected assessment %+v", got)
	}
	if len(f.sink.verdicts) != 1 || f.sink.verdicts[0].Source != verdict.SourceAPI {
		t.Fatalf("expected one api verdict, got %+v", f.sink.verdicts)
	}

	neighbor := decode[risk.Assessment](t, f.do(t, http.MethodGet, "/api/v1/risk/"+neighborAddress, ""))
	if neighbor.Level != risk.LevelHigh || neighbor.Score != 0.7 {
		t.Fatalf("unexpected neighbor assessment %+v", neighbor)
	}
}

func TestAddressEndpoints(t *testing.T) {
	f := newFixture(t)

	status := decode[risk.ScamStatus](t, f.do(t, http.MethodGet, "/api/v1/addresses/"+flaggedAddress+"/scam-status", ""))
	if !status.IsScam || status.Details == nil || status.Details.ScamType != "phishing" {
		t.Fatalf("unexpected scam status %+v", status)
	}

	details := decode[risk.AddressDetails](t, f.do(t, http.MethodGet, "/api/v1/addresses/"+neighborAddress, ""))
	if details.Wallet == nil || !details.ScamStatus.IsConnectedToScam {
		t.Fatalf("unexpected details %+v", details)
	}

	connected := decode[map[string][]string](t, f.do(t, http.MethodGet, "/api/v1/addresses/0xunknown/connected", ""))
	if list, ok := connected["connected_addresses"]; !ok || len(list) != 0 {
		t.Fatalf("expected empty connected list, got %+v", connected)
	}

	for _, suffix := range []string{"/behavior", "/patterns", "/transactions"} {
		if rec := f.do(t, http.MethodGet, "/api/v1/addresses/"+neighborAddress+suffix, ""); rec.Code != http.StatusOK {
			t.Fatalf("%s returned %d: %s", suffix, rec.Code, rec.Body.String())
		}
	}
}

func TestTransactionNotFoundIsCarriedInBody(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodGet, "/api/v1/transactions/0xdoesnotexist", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status %d", rec.Code)
	}
	lookup := decode[risk.TransactionLookup](t, rec)
	if lookup.Found() || lookup.Error != "Transaction not found" {
		t.Fatalf("unexpected lookup %+v", lookup)
	}
}

func TestRunAgentEndpoint(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodPost, "/api/v1/agents/risk_classification_agent/run", `{"input":"`+flaggedAddress+`"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status %d: %s", rec.Code, rec.Body.String())
	}
	result := decode[map[string]any](t, rec)
	if result["agent"] != "risk_classification_agent" || result["assessment"] == nil {
		t.Fatalf("unexpected run result %+v", result)
	}
	if len(f.sink.verdicts) != 1 || f.sink.verdicts[0].Agent != "risk_classification_agent" {
		t.Fatalf("expected agent verdict, got %+v", f.sink.verdicts)
	}

	missing := f.do(t, http.MethodPost, "/api/v1/agents/ghost/run", `{"input":"0xabc"}`)
	if missing.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown agent, got %d", missing.Code)
	}
	body := decode[errorBody](t, missing)
	if body.Error.Code != agent.CodeAgentNotFound {
		t.Fatalf("unexpected error body %+v", body)
	}

	if bad := f.do(t, http.MethodPost, "/api/v1/agents/scam_detection_agent/run", `{`); bad.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for malformed body, got %d", bad.Code)
	}

	list := decode[map[string][]agent.Bundle](t, f.do(t, http.MethodGet, "/api/v1/agents", ""))
	if len(list["agents"]) != 4 {
		t.Fatalf("expected 4 agents, got %d", len(list["agents"]))
	}
}

func TestTaskEndpoints(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodPost, "/api/v1/tasks", `{"agent":"scam_detection_agent","input":"`+flaggedAddress+`"}`)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("unexpected status %d: %s", rec.Code, rec.Body.String())
	}
	created := decode[task.Task](t, rec)
	if created.Status != task.StatusPending || f.queue.Len() != 1 {
		t.Fatalf("unexpected created task %+v", created)
	}

	detail := f.do(t, http.MethodGet, "/api/v1/tasks/"+created.ID, "")
	if detail.Code != http.StatusOK || decode[task.Task](t, detail).Agent != "scam_detection_agent" {
		t.Fatalf("unexpected detail %d: %s", detail.Code, detail.Body.String())
	}

	missing := f.do(t, http.MethodGet, "/api/v1/tasks/missing", "")
	if missing.Code != http.StatusNotFound || decode[errorBody](t, missing).Error.Code != task.CodeTaskNotFound {
		t.Fatalf("unexpected missing response %d: %s", missing.Code, missing.Body.String())
	}

	invalid := f.do(t, http.MethodPost, "/api/v1/tasks", `{"agent":"ghost","input":"0xabc"}`)
	if invalid.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown agent, got %d", invalid.Code)
	}

	list := decode[map[string][]task.Task](t, f.do(t, http.MethodGet, "/api/v1/tasks?status=pending&agent=scam_detection_agent", ""))
	if len(list["tasks"]) != 1 {
		t.Fatalf("expected 1 pending task, got %+v", list)
	}
	if bad := f.do(t, http.MethodGet, "/api/v1/tasks?status=bogus", ""); bad.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad status, got %d", bad.Code)
	}
	if bad := f.do(t, http.MethodGet, "/api/v1/tasks?since=yesterday", ""); bad.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad since, got %d", bad.Code)
	}

	stats := decode[task.TaskStats](t, f.do(t, http.MethodGet, "/api/v1/tasks/stats", ""))
	if stats.Total != 1 || stats.Pending != 1 {
		t.Fatalf("unexpected stats %+v", stats)
	}
}

func TestTaskEndpointsWithoutService(t *testing.T) {
	ds, _ := ledger.ParseDataset(seed.Demo)
	store := ledger.NewMemoryStore()
	_ = ds.Apply(context.Background(), store)
	server := NewServer(":0", risk.NewEngine(store))

	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/tasks/x", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rec.Code)
	}
	if code := decode[errorBody](t, rec).Error.Code; code != xerrors.CodeInitializationFailure {
		t.Fatalf("unexpected code %s", code)
	}
}

func TestRateLimitPerClient(t *testing.T) {
	f := newFixture(t, WithRateLimit(1, 1))
	handler := f.server.Handler()

	call := func(path, remote string) int {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		req.RemoteAddr = remote
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		return rec.Code
	}

	if code := call("/api/v1/addresses/0xa/scam-status", "10.0.0.1:1234"); code != http.StatusOK {
		t.Fatalf("first request: %d", code)
	}
	if code := call("/api/v1/addresses/0xa/scam-status", "10.0.0.1:1235"); code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", code)
	}
	if code := call("/api/v1/addresses/0xa/scam-status", "10.0.0.2:1234"); code != http.StatusOK {
		t.Fatalf("other client should not be limited: %d", code)
	}
	if code := call("/healthz", "10.0.0.1:1236"); code != http.StatusOK {
		t.Fatalf("health check should bypass limiter: %d", code)
	}
}

func TestHealthReportsDegradedChains(t *testing.T) {
	f := newFixture(t, WithChains(stubChains{
		snapshots: []web3.ChainSnapshot{{Name: "ethereum", ChainID: "0x1", BlockNumber: "0x10"}},
		err:       errors.New("链 polygon: dial timeout"),
	}))

	health := decode[map[string]any](t, f.do(t, http.MethodGet, "/healthz", ""))
	if health["status"] != "degraded" || health["chain_error"] == nil {
		t.Fatalf("unexpected health %+v", health)
	}
	chains, ok := health["chains"].([]any)
	if !ok || len(chains) != 1 {
		t.Fatalf("expected healthy chain snapshot, got %+v", health["chains"])
	}
}

func TestMetricsEndpoint(t *testing.T) {
	f := newFixture(t)
	_ = f.do(t, http.MethodGet, "/api/v1/risk/"+flaggedAddress, "")

	rec := f.do(t, http.MethodGet, "/metrics", "")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "chainguard_http_requests_total") {
		t.Fatalf("metrics not exposed: %d", rec.Code)
	}
}

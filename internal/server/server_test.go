package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/deannos/tariff-billing-engine/internal/billing"
	"github.com/deannos/tariff-billing-engine/internal/config"
	"github.com/deannos/tariff-billing-engine/internal/model"
	"github.com/deannos/tariff-billing-engine/internal/repository"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

type fakePublisher struct {
	mu    sync.Mutex
	bills []*model.BillResult
	err   error
}

func (f *fakePublisher) Publish(_ context.Context, bill *model.BillResult) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.bills = append(f.bills, bill)
	return nil
}

func (f *fakePublisher) GetMetrics() map[string]interface{} {
	f.mu.Lock()
	defer f.mu.Unlock()
	return map[string]interface{}{"bill_events_accepted_total": uint64(len(f.bills))}
}

func (f *fakePublisher) published() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.bills)
}

func testConfig() *config.Config {
	return &config.Config{
		Server:    config.ServerConfig{Port: 8080},
		RateLimit: config.RateLimitConfig{PerSecond: 1000, Burst: 1000},
		Batch:     config.BatchConfig{MaxItems: 3, MaxConcurrency: 2},
		Metrics:   config.MetricsConfig{Enabled: true, Path: "/metrics"},
	}
}

type testServer struct {
	srv       *HTTPServer
	repo      *repository.Memory
	publisher *fakePublisher
}

func newTestServer(t *testing.T, cfg *config.Config) *testServer {
	t.Helper()
	repo := repository.NewSeededMemory()
	pub := &fakePublisher{}
	srv := NewHTTPServer(cfg, billing.NewEngine(repo, zap.NewNop()), pub, zap.NewNop())
	return &testServer{srv: srv, repo: repo, publisher: pub}
}

func (ts *testServer) do(method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	ts.srv.Handler().ServeHTTP(rec, req)
	return rec
}

const ruralBody = `{"provider_code":"SBPDCL","category":"rural-domestic","year":2024,"month":6,"units_kwh":40,"sanctioned_load_kva":1.0}`

func TestHandleCalculate_Success(t *testing.T) {
	ts := newTestServer(t, testConfig())

	rec := ts.do(http.MethodPost, "/api/v1/bills/calculate", ruralBody)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var result model.BillResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	assert.Equal(t, "SBPDCL", result.ProviderCode)
	assert.Equal(t, "98.00", result.Breakdown.EnergyCharge.StringFixed(2))
	assert.Equal(t, "20.00", result.Breakdown.FppcaCharge.StringFixed(2))
	assert.Equal(t, "175.40", result.TotalPayable.StringFixed(2))
	assert.True(t, result.AppliedRules.LifelineApplied)
	assert.Contains(t, rec.Body.String(), `"energy_charge":98.00`)

	assert.Equal(t, 1, ts.publisher.published())
}

func TestHandleCalculate_Failures(t *testing.T) {
	tests := []struct {
		name      string
		body      string
		fail      error
		wantCode  int
		wantClass string
	}{
		{name: "malformed json", body: `{"provider_code":`, wantCode: http.StatusBadRequest, wantClass: "invalid_input"},
		{
			name:     "month out of range",
			body:     `{"provider_code":"SBPDCL","category":"rural-domestic","year":2024,"month":13,"units_kwh":40,"sanctioned_load_kva":1}`,
			wantCode: http.StatusBadRequest, wantClass: "invalid_input",
		},
		{
			name:     "unknown provider",
			body:     `{"provider_code":"NOPE","category":"rural-domestic","year":2024,"month":6,"units_kwh":40,"sanctioned_load_kva":1}`,
			wantCode: http.StatusNotFound, wantClass: "provider_not_found",
		},
		{
			name:     "no tariff for period",
			body:     `{"provider_code":"SBPDCL","category":"rural-domestic","year":2020,"month":6,"units_kwh":40,"sanctioned_load_kva":1}`,
			wantCode: http.StatusNotFound, wantClass: "tariff_not_found",
		},
		{name: "repository down", body: ruralBody, fail: errors.New("dial tcp: connection refused"), wantCode: http.StatusBadGateway, wantClass: "repository_error"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := newTestServer(t, testConfig())
			if tt.fail != nil {
				ts.repo.FailWith(tt.fail)
			}

			rec := ts.do(http.MethodPost, "/api/v1/bills/calculate", tt.body)
			assert.Equal(t, tt.wantCode, rec.Code)

			var resp ErrorResponse
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
			assert.Equal(t, tt.wantClass, resp.Error)
			assert.NotEmpty(t, resp.Message)
			if tt.fail != nil {
				assert.NotContains(t, resp.Message, "connection refused")
			}
			assert.Zero(t, ts.publisher.published())
		})
	}
}

func TestHandleCalculate_MethodNotAllowed(t *testing.T) {
	ts := newTestServer(t, testConfig())

	rec := ts.do(http.MethodGet, "/api/v1/bills/calculate", "")
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestHandleCalculate_RateLimited(t *testing.T) {
	cfg := testConfig()
	cfg.RateLimit = config.RateLimitConfig{PerSecond: 1, Burst: 1}
	ts := newTestServer(t, cfg)

	assert.Equal(t, http.StatusOK, ts.do(http.MethodPost, "/api/v1/bills/calculate", ruralBody).Code)
	assert.Equal(t, http.StatusTooManyRequests, ts.do(http.MethodPost, "/api/v1/bills/calculate", ruralBody).Code)
}

func TestHandleCalculate_PublishFailureDoesNotFailRequest(t *testing.T) {
	ts := newTestServer(t, testConfig())
	ts.publisher.err = errors.New("queue full")

	rec := ts.do(http.MethodPost, "/api/v1/bills/calculate", ruralBody)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestHandleBatch(t *testing.T) {
	ts := newTestServer(t, testConfig())
	body := `[
		{"provider_code":"SBPDCL","category":"urban-domestic","year":2024,"month":6,"units_kwh":150,"sanctioned_load_kva":1},
		{"provider_code":"NOPE","category":"domestic","year":2024,"month":6,"units_kwh":10,"sanctioned_load_kva":1},
		{"provider_code":"CESC","category":"domestic","year":2024,"month":8,"units_kwh":120,"sanctioned_load_kva":2,"timely_payment_opt_in":true}
	]`

	rec := ts.do(http.MethodPost, "/api/v1/bills/batch", body)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var items []BatchItem
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &items))
	require.Len(t, items, 3)
	for i, item := range items {
		assert.Equal(t, i, item.Index)
	}

	require.NotNil(t, items[0].Result)
	assert.Nil(t, items[0].Error)
	assert.Equal(t, "648.50", items[0].Result.Breakdown.EnergyCharge.StringFixed(2))

	assert.Nil(t, items[1].Result)
	require.NotNil(t, items[1].Error)
	assert.Equal(t, "provider_not_found", items[1].Error.Error)

	require.NotNil(t, items[2].Result)
	assert.Equal(t, "CESC", items[2].Result.ProviderCode)
	assert.True(t, items[2].Result.AppliedRules.TimelyPaymentApplied)

	assert.Equal(t, 2, ts.publisher.published())
}

func TestHandleBatch_RejectsEmptyAndOversized(t *testing.T) {
	ts := newTestServer(t, testConfig())

	rec := ts.do(http.MethodPost, "/api/v1/bills/batch", `[]`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	oversized := "[" + strings.Repeat(ruralBody+",", 3) + ruralBody + "]"
	rec = ts.do(http.MethodPost, "/api/v1/bills/batch", oversized)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "exceeds the limit")

	rec = ts.do(http.MethodPost, "/api/v1/bills/batch", `{"not":"an array"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleHealthCheck(t *testing.T) {
	ts := newTestServer(t, testConfig())

	rec := ts.do(http.MethodGet, "/health", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "healthy", body["status"])

	assert.Equal(t, http.StatusMethodNotAllowed, ts.do(http.MethodPost, "/health", "").Code)
}

func TestHandleMetrics(t *testing.T) {
	ts := newTestServer(t, testConfig())
	ts.do(http.MethodPost, "/api/v1/bills/calculate", ruralBody)
	ts.do(http.MethodPost, "/api/v1/bills/calculate", `{"provider_code":"NOPE","category":"x","year":2024,"month":6,"units_kwh":1,"sanctioned_load_kva":1}`)

	rec := ts.do(http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var metrics map[string]float64
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &metrics))
	assert.Equal(t, 2.0, metrics["bill_requests_total"])
	assert.Equal(t, 1.0, metrics["bills_computed_total"])
	assert.Equal(t, 1.0, metrics["bill_failures_provider_not_found_total"])
	assert.Equal(t, 1.0, metrics["bill_events_accepted_total"])
}

func TestNewHTTPServer_WithoutPublisher(t *testing.T) {
	cfg := testConfig()
	cfg.Metrics.Enabled = false
	srv := NewHTTPServer(cfg, billing.NewEngine(repository.NewSeededMemory(), zap.NewNop()), nil, zap.NewNop())

	req := httptest.NewRequest(http.MethodPost, "/api/v1/bills/calculate", strings.NewReader(ruralBody))
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, uint64(1), srv.GetMetrics()["bills_computed_total"])
}

func TestWriteJSON_LogsEncodeFailure(t *testing.T) {
	core, logs := observer.New(zap.ErrorLevel)
	srv := NewHTTPServer(testConfig(), billing.NewEngine(repository.NewSeededMemory(), zap.NewNop()), nil, zap.New(core))

	rec := httptest.NewRecorder()
	srv.writeJSON(rec, http.StatusOK, map[string]interface{}{"bad": make(chan int)})

	assert.Equal(t, http.StatusOK, rec.Code)
	entries := logs.FilterMessage("Failed to encode response").All()
	require.Len(t, entries, 1)
	assert.Equal(t, int64(http.StatusOK), entries[0].ContextMap()["status"])
	assert.Contains(t, entries[0].ContextMap()["error"], "unsupported type")
}

package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/MbohBless/data-test/internal/analysis"
	"github.com/MbohBless/data-test/internal/auth"
	"github.com/MbohBless/data-test/internal/config"
	"github.com/MbohBless/data-test/internal/schema"
)

func mapLookup(values map[string]string) config.LookupFunc {
	return func(key string) (string, bool) {
		value, ok := values[key]
		return value, ok
	}
}

func testConfig(t *testing.T, values map[string]string) config.Config {
	t.Helper()
	cfg, err := config.Load("insight-api", mapLookup(values))
	if err != nil {
		t.Fatalf("config load failed: %v", err)
	}
	return cfg
}

type fakeAnalysis struct {
	response analysis.Response
	requests []analysis.Request
}

func (f *fakeAnalysis) Analyze(_ context.Context, req analysis.Request) analysis.Response {
	f.requests = append(f.requests, req)
	return f.response
}

type fakeSchemaSource struct {
	snapshot schema.Snapshot
	err      error
	forced   []bool
}

func (f *fakeSchemaSource) Snapshot(_ context.Context, forceRefresh bool) (schema.Snapshot, error) {
	f.forced = append(f.forced, forceRefresh)
	return f.snapshot, f.err
}

func TestHealthEndpoint(t *testing.T) {
	h := NewHandler(testConfig(t, nil), Dependencies{})
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/v1/health", nil))

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
}

func TestReadyEndpointReturns503WhenDependencyFails(t *testing.T) {
	h := NewHandler(testConfig(t, nil), Dependencies{
		Readiness: func(context.Context) error {
			return errors.New("dependency down")
		},
	})
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/v1/ready", nil))

	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d", rr.Code)
	}
}

func TestAnalyzeEndpoint(t *testing.T) {
	service := &fakeAnalysis{response: analysis.Response{
		AnalysisID: "a-1",
		Status:     analysis.StatusDone,
		SQL:        "SELECT 1",
		RowCount:   12,
		Attempts:   2,
	}}
	h := NewHandler(testConfig(t, nil), Dependencies{Analysis: service})

	body := `{"request": "Show total revenue per month", "context": {"region": "EU"}, "include_raw_data": false}`
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/v1/analyze", strings.NewReader(body)))

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d body = %s", rr.Code, rr.Body.String())
	}
	var decoded analysis.Response
	if err := json.Unmarshal(rr.Body.Bytes(), &decoded); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if decoded.Status != analysis.StatusDone || decoded.Attempts != 2 || decoded.RowCount != 12 {
		t.Fatalf("response = %+v", decoded)
	}

	if len(service.requests) != 1 {
		t.Fatalf("analyze calls = %d", len(service.requests))
	}
	got := service.requests[0]
	if got.Text != "Show total revenue per month" || got.IncludeRawData || got.Context["region"] != "EU" {
		t.Fatalf("request = %+v", got)
	}
}

func TestAnalyzeEndpointDefaultsIncludeRawData(t *testing.T) {
	service := &fakeAnalysis{response: analysis.Response{Status: analysis.StatusDone}}
	h := NewHandler(testConfig(t, nil), Dependencies{Analysis: service})

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/v1/analyze", strings.NewReader(`{"request": "Show total revenue per month"}`)))

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	if !service.requests[0].IncludeRawData {
		t.Fatal("include_raw_data must default to true")
	}
}

func TestAnalyzeEndpointRejectsBadInput(t *testing.T) {
	service := &fakeAnalysis{}
	h := NewHandler(testConfig(t, nil), Dependencies{Analysis: service})

	cases := []struct {
		name string
		body string
	}{
		{"invalid json", `{"request": `},
		{"too short", `{"request": "hi"}`},
		{"too long", `{"request": "` + strings.Repeat("x", 501) + `"}`},
		{"missing request", `{}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rr := httptest.NewRecorder()
			h.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/v1/analyze", strings.NewReader(tc.body)))
			if rr.Code != http.StatusBadRequest {
				t.Fatalf("status = %d", rr.Code)
			}
		})
	}
	if len(service.requests) != 0 {
		t.Fatalf("invalid input reached the service: %d calls", len(service.requests))
	}
}

func TestAnalyzeEndpointAuth(t *testing.T) {
	cfg := testConfig(t, map[string]string{"INSIGHT_AUTH_REQUIRED": "true"})
	validator, err := auth.NewStaticAPIKeyValidator("k1:alice:analyst,k2:bob:viewer")
	if err != nil {
		t.Fatalf("validator setup failed: %v", err)
	}
	service := &fakeAnalysis{response: analysis.Response{Status: analysis.StatusDone}}
	h := NewHandler(cfg, Dependencies{
		AuthMiddleware: auth.Middleware(nil, validator),
		Analysis:       service,
	})

	body := func() *strings.Reader {
		return strings.NewReader(`{"request": "Show total revenue per month"}`)
	}

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/v1/analyze", body()))
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("missing key status = %d", rr.Code)
	}

	forbidden := httptest.NewRequest(http.MethodPost, "/v1/analyze", body())
	forbidden.Header.Set("X-API-Key", "k2")
	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, forbidden)
	if rr.Code != http.StatusForbidden {
		t.Fatalf("wrong role status = %d", rr.Code)
	}

	allowed := httptest.NewRequest(http.MethodPost, "/v1/analyze", body())
	allowed.Header.Set("X-API-Key", "k1")
	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, allowed)
	if rr.Code != http.StatusOK {
		t.Fatalf("analyst status = %d body = %s", rr.Code, rr.Body.String())
	}
}

func TestSchemaEndpoint(t *testing.T) {
	source := &fakeSchemaSource{snapshot: schema.Snapshot{
		DatabaseName: "analytics",
		Tables:       []schema.Table{{Name: "orders"}, {Name: "customers"}},
		FetchedAt:    time.Now(),
		Cached:       true,
	}}
	h := NewHandler(testConfig(t, nil), Dependencies{Schemas: source})

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/v1/schema", nil))

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	var decoded struct {
		TotalTables  int    `json:"total_tables"`
		DatabaseName string `json:"database_name"`
		Cached       bool   `json:"cached"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &decoded); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if decoded.TotalTables != 2 || decoded.DatabaseName != "analytics" || !decoded.Cached {
		t.Fatalf("response = %+v", decoded)
	}
	if len(source.forced) != 1 || source.forced[0] {
		t.Fatalf("forced refreshes = %v", source.forced)
	}
}

func TestSchemaEndpointForcesRefresh(t *testing.T) {
	source := &fakeSchemaSource{snapshot: schema.Snapshot{DatabaseName: "analytics"}}
	h := NewHandler(testConfig(t, nil), Dependencies{Schemas: source})

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/v1/schema?force_refresh=true", nil))

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	if len(source.forced) != 1 || !source.forced[0] {
		t.Fatalf("forced refreshes = %v", source.forced)
	}
}

func TestSchemaEndpointUnavailable(t *testing.T) {
	source := &fakeSchemaSource{err: schema.ErrUnavailable}
	h := NewHandler(testConfig(t, nil), Dependencies{Schemas: source})

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/v1/schema", nil))

	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d", rr.Code)
	}
}

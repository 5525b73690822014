package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"go.uber.org/zap"

	"github.com/radiusdt/adperf/internal/config"
	"github.com/radiusdt/adperf/internal/metrics"
)

var ok = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusNoContent)
})

func TestAuth(t *testing.T) {
	cfg := config.AuthConfig{Enabled: true, MasterKey: "secret", SkipPaths: []string{"/health", "/metrics/"}}
	m := metrics.NewMetrics("test", prometheus.NewRegistry())
	h := NewAuthMiddleware(cfg, m, zap.NewNop()).Handler(ok)

	tests := []struct {
		name   string
		path   string
		header string
		want   int
	}{
		{"skip path", "/health", "", http.StatusNoContent},
		{"skip is not a prefix match", "/healthz", "", http.StatusUnauthorized},
		{"skip with trailing slash", "/metrics", "", http.StatusNoContent},
		{"missing", "/views/all-ads-kpi", "", http.StatusUnauthorized},
		{"wrong", "/views/all-ads-kpi", "nope", http.StatusUnauthorized},
		{"header", "/views/all-ads-kpi", "secret", http.StatusNoContent},
		{"query", "/views/all-ads-kpi/export?api_key=secret", "", http.StatusNoContent},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tt.path, nil)
			if tt.header != "" {
				req.Header.Set(AuthHeaderName, tt.header)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			if rec.Code != tt.want {
				t.Fatalf("status = %d, want %d", rec.Code, tt.want)
			}
		})
	}

	if got := testutil.ToFloat64(m.AuthFailures.WithLabelValues("missing")); got != 2 {
		t.Fatalf("missing failures = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.AuthFailures.WithLabelValues("invalid")); got != 1 {
		t.Fatalf("invalid failures = %v, want 1", got)
	}
}

func TestRateLimitHeavyBucket(t *testing.T) {
	cfg := config.RateLimitConfig{Enabled: true, RPS: 100, Burst: 100, HeavyRPS: 0.001, HeavyBurst: 1}
	h := NewRateLimitMiddleware(cfg, nil, zap.NewNop()).Handler(ok)

	do := func(method, path string) int {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(method, path, nil))
		return rec.Code
	}
	if got := do(http.MethodGet, "/views/lp-score/export"); got != http.StatusNoContent {
		t.Fatalf("first export = %d", got)
	}
	if got := do(http.MethodGet, "/views/lp-score/export"); got != http.StatusTooManyRequests {
		t.Fatalf("second export = %d", got)
	}
	if got := do(http.MethodGet, "/views/lp-score"); got != http.StatusNoContent {
		t.Fatalf("query bucket should be independent, got %d", got)
	}
}

func TestClassify(t *testing.T) {
	cases := map[string]string{
		http.MethodGet + " /settings/kpi":     ClassQuery,
		http.MethodPut + " /settings/kpi":     ClassHeavy,
		http.MethodPost + " /snapshot/bump":   ClassHeavy,
		http.MethodPost + " /views/unit-score": ClassQuery,
	}
	for in, want := range cases {
		var method, path string
		for i := range in {
			if in[i] == ' ' {
				method, path = in[:i], in[i+1:]
				break
			}
		}
		if got := Classify(httptest.NewRequest(method, path, nil)); got != want {
			t.Errorf("%s: got %s, want %s", in, got, want)
		}
	}
}

func TestLoggingSetsRequestID(t *testing.T) {
	var seen string
	h := NewLoggingMiddleware(zap.NewNop()).Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = RequestID(r.Context())
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	if seen == "" || rec.Header().Get(RequestIDHeader) != seen {
		t.Fatalf("request id not propagated: ctx=%q header=%q", seen, rec.Header().Get(RequestIDHeader))
	}

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set(RequestIDHeader, "abc")
	h.ServeHTTP(httptest.NewRecorder(), req)
	if seen != "abc" {
		t.Fatalf("incoming request id should be kept, got %q", seen)
	}
}

func TestRecovery(t *testing.T) {
	m := metrics.NewMetrics("test", prometheus.NewRegistry())
	h := NewRecoveryMiddleware(m, zap.NewNop()).Handler(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))
	req := httptest.NewRequest(http.MethodGet, "/views/all-ads-kpi/export", nil)
	req = req.WithContext(context.WithValue(req.Context(), RequestIDContextKey, "req-1"))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d", rec.Code)
	}
	var body map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil || body["request_id"] != "req-1" {
		t.Fatalf("body = %s (%v)", rec.Body.String(), err)
	}
	if got := testutil.ToFloat64(m.Panics.WithLabelValues(ClassHeavy)); got != 1 {
		t.Fatalf("heavy panics = %v, want 1", got)
	}
}

func TestRecoveryOutsideLoggingKeepsRequestID(t *testing.T) {
	inner := NewLoggingMiddleware(zap.NewNop()).Handler(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))
	h := NewRecoveryMiddleware(nil, zap.NewNop()).Handler(inner)
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(RequestIDHeader, "from-client")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	var body map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil || body["request_id"] != "from-client" {
		t.Fatalf("body = %s (%v)", rec.Body.String(), err)
	}
}

func TestRecoveryRepanicsAbortHandler(t *testing.T) {
	h := NewRecoveryMiddleware(nil, zap.NewNop()).Handler(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic(http.ErrAbortHandler)
	}))
	defer func() {
		if v := recover(); v != http.ErrAbortHandler {
			t.Fatalf("expected ErrAbortHandler to propagate, got %v", v)
		}
	}()
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
}

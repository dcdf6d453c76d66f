package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"go.uber.org/zap"

	"github.com/validrx/validrx/internal/observability/metrics"
)

var ok = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("X-Client", GetClientID(r.Context()))
	w.WriteHeader(http.StatusOK)
})

func TestRequestID(t *testing.T) {
	var seen string
	h := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = GetRequestID(r.Context())
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if seen == "" || rec.Header().Get("X-Request-ID") != seen {
		t.Errorf("generated id %q, header %q", seen, rec.Header().Get("X-Request-ID"))
	}

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Request-ID", "abc")
	h.ServeHTTP(httptest.NewRecorder(), req)
	if seen != "abc" {
		t.Errorf("incoming id not kept: %q", seen)
	}
}

func TestAPIKeyAuth(t *testing.T) {
	h := APIKeyAuth(map[string]string{"k1": "client-1"})(ok)

	tests := []struct {
		name   string
		header string
		value  string
		status int
		client string
	}{
		{"missing", "", "", http.StatusUnauthorized, ""},
		{"wrong", "X-API-Key", "nope", http.StatusUnauthorized, ""},
		{"header", "X-API-Key", "k1", http.StatusOK, "client-1"},
		{"bearer", "Authorization", "Bearer k1", http.StatusOK, "client-1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/", nil)
			if tt.header != "" {
				req.Header.Set(tt.header, tt.value)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)

			if rec.Code != tt.status {
				t.Errorf("status = %d, want %d", rec.Code, tt.status)
			}
			if rec.Header().Get("X-Client") != tt.client {
				t.Errorf("client = %q", rec.Header().Get("X-Client"))
			}
		})
	}
}

func TestAdminKeyAuth(t *testing.T) {
	tests := []struct {
		name     string
		adminKey string
		sent     string
		status   int
	}{
		{"disabled", "", "anything", http.StatusForbidden},
		{"missing", "secret", "", http.StatusUnauthorized},
		{"wrong", "secret", "guess", http.StatusForbidden},
		{"valid", "secret", "secret", http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/", nil)
			if tt.sent != "" {
				req.Header.Set("X-Admin-Key", tt.sent)
			}
			rec := httptest.NewRecorder()
			AdminKeyAuth(tt.adminKey)(ok).ServeHTTP(rec, req)

			if rec.Code != tt.status {
				t.Errorf("status = %d, want %d", rec.Code, tt.status)
			}
			if tt.status == http.StatusOK && rec.Header().Get("X-Client") != AdminClientID {
				t.Errorf("client = %q", rec.Header().Get("X-Client"))
			}
		})
	}
}

func TestRateLimiter(t *testing.T) {
	m := metrics.New(prometheus.NewRegistry())
	rl := NewRateLimiter(0.001, 2, m)
	h := APIKeyAuth(map[string]string{"k1": "c1", "k2": "c2"})(rl.Middleware(ok))

	send := func(key string) int {
		req := httptest.NewRequest(http.MethodPost, "/", nil)
		req.Header.Set("X-API-Key", key)
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec.Code
	}

	if send("k1") != http.StatusOK || send("k1") != http.StatusOK {
		t.Fatal("burst requests should pass")
	}
	if code := send("k1"); code != http.StatusTooManyRequests {
		t.Errorf("third request status = %d", code)
	}
	if code := send("k2"); code != http.StatusOK {
		t.Errorf("other client limited: %d", code)
	}
	if got := testutil.ToFloat64(m.RateLimited.WithLabelValues("c1")); got != 1 {
		t.Errorf("rate limited metric = %v", got)
	}
}

func TestRateLimiterSweep(t *testing.T) {
	rl := NewRateLimiter(0.001, 5, nil)
	rl.bucket("idle")
	rl.bucket("busy").TakeAvailable(3)

	if removed := rl.Sweep(); removed != 1 {
		t.Errorf("removed = %d", removed)
	}
	if rl.Clients() != 1 {
		t.Errorf("clients = %d", rl.Clients())
	}
}

func TestMetricsUsesRoutePattern(t *testing.T) {
	m := metrics.New(prometheus.NewRegistry())
	r := chi.NewRouter()
	r.Use(Metrics(m))
	r.Get("/drugs/{id}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/drugs/MED_X", nil))
	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/drugs/MED_Y", nil))

	if got := testutil.ToFloat64(m.HTTPRequests.WithLabelValues("GET", "/drugs/{id}", "404")); got != 2 {
		t.Errorf("requests for pattern = %v", got)
	}
}

func TestRecover(t *testing.T) {
	h := Recover(zap.NewNop())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Code != http.StatusInternalServerError {
		t.Errorf("status = %d", rec.Code)
	}
}

func TestCORSPreflight(t *testing.T) {
	called := false
	h := CORS(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { called = true }))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodOptions, "/", nil))
	if called || rec.Code != http.StatusOK || rec.Header().Get("Access-Control-Allow-Origin") != "*" {
		t.Errorf("preflight not answered: called=%v code=%d", called, rec.Code)
	}
}

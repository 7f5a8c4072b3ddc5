package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

// mockCollector はmetrics.MetricsCollectorのテスト用モック。
type mockCollector struct {
	statuses  []int
	latencies []time.Duration
}

func (m *mockCollector) RecordHTTPStatus(code int)              { m.statuses = append(m.statuses, code) }
func (m *mockCollector) RecordRequestLatency(d time.Duration)   { m.latencies = append(m.latencies, d) }
func (m *mockCollector) RecordAccessDenied(string)              {}
func (m *mockCollector) RecordIntegrityOperation(string, error) {}
func (m *mockCollector) RecordRepairFixes(string, int)          {}

func TestMetricsMiddleware_RecordsStatusAndLatency(t *testing.T) {
	c := &mockCollector{}
	handler := NewMetricsMiddleware(c)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
	}))
	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/api/tags", nil))

	if len(c.statuses) != 1 || c.statuses[0] != http.StatusConflict {
		t.Errorf("statuses = %v, want [409]", c.statuses)
	}
	if len(c.latencies) != 1 {
		t.Errorf("latencies = %v, want one observation", c.latencies)
	}
}

func TestRecoveryMiddleware_Returns500(t *testing.T) {
	handler := NewRecoveryMiddleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	}))
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))

	if w.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want %d", w.Code, http.StatusInternalServerError)
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q, want application/json", ct)
	}
}

func TestSecurityHeadersMiddleware(t *testing.T) {
	w := httptest.NewRecorder()
	NewSecurityHeadersMiddleware()(okHandler()).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))

	for header, want := range map[string]string{
		"X-Content-Type-Options": "nosniff",
		"X-Frame-Options":        "DENY",
		"Cache-Control":          "no-store",
	} {
		if got := w.Header().Get(header); got != want {
			t.Errorf("%s = %q, want %q", header, got, want)
		}
	}
}

package middleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func TestNormalizePath(t *testing.T) {
	tests := []struct {
		path string
		want string
	}{
		{"/", "/"},
		{"/health", "/health"},
		{"/ready", "/ready"},
		{"/metrics", "/metrics"},
		{"/v1/audit/events", "/v1/audit/events"},
		{"/v1/audit/verify", "/v1/audit/verify"},
		{"/v1/audit/export", "/v1/audit/export"},
		{"/v1/audit/feed", "/v1/audit/feed"},
		{"/v1/audit/events/123", "other"},
		{"/wp-admin.php", "other"},
		{"/v1/unknown", "other"},
	}

	for _, tt := range tests {
		if got := normalizePath(tt.path); got != tt.want {
			t.Errorf("normalizePath(%q) = %q, want %q", tt.path, got, tt.want)
		}
	}
}

func gatherFamily(t *testing.T, reg *prometheus.Registry, name string) *dto.MetricFamily {
	t.Helper()
	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather() error = %v", err)
	}
	for _, family := range families {
		if family.GetName() == name {
			return family
		}
	}
	return nil
}

func TestHTTPMetrics_RecordsRequests(t *testing.T) {
	metrics := NewMetrics()
	reg := prometheus.NewRegistry()
	if err := metrics.Register(reg); err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	handler := HTTPMetrics(metrics)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"events":[]}`))
	}))

	req := httptest.NewRequest(http.MethodGet, "/v1/audit/events", strings.NewReader("body"))
	req.Header.Set("Content-Length", "4")
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	family := gatherFamily(t, reg, MetricHTTPRequestsTotal)
	if family == nil {
		t.Fatalf("metric %s not gathered", MetricHTTPRequestsTotal)
	}

	metric := family.GetMetric()
	if len(metric) != 1 {
		t.Fatalf("got %d series, want 1", len(metric))
	}
	labels := make(map[string]string)
	for _, pair := range metric[0].GetLabel() {
		labels[pair.GetName()] = pair.GetValue()
	}
	if labels["method"] != http.MethodGet {
		t.Errorf("method label = %q, want GET", labels["method"])
	}
	if labels["path"] != "/v1/audit/events" {
		t.Errorf("path label = %q, want /v1/audit/events", labels["path"])
	}
	if labels["status"] != "200" {
		t.Errorf("status label = %q, want 200", labels["status"])
	}
}

func TestHTTPMetrics_SkipsHealthEndpoints(t *testing.T) {
	metrics := NewMetrics()
	reg := prometheus.NewRegistry()
	if err := metrics.Register(reg); err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	handler := HTTPMetrics(metrics)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	for _, path := range []string{"/health", "/ready"} {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)
	}

	if family := gatherFamily(t, reg, MetricHTTPRequestsTotal); family != nil {
		t.Errorf("health endpoints recorded %d series, want none", len(family.GetMetric()))
	}
}

func TestHTTPMetrics_CapturesErrorStatus(t *testing.T) {
	metrics := NewMetrics()
	reg := prometheus.NewRegistry()
	if err := metrics.Register(reg); err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	handler := HTTPMetrics(metrics)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusNotFound)
	}))

	req := httptest.NewRequest(http.MethodGet, "/missing", nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	family := gatherFamily(t, reg, MetricHTTPRequestsTotal)
	if family == nil {
		t.Fatal("requests metric not gathered")
	}
	labels := make(map[string]string)
	for _, pair := range family.GetMetric()[0].GetLabel() {
		labels[pair.GetName()] = pair.GetValue()
	}
	if labels["status"] != "404" {
		t.Errorf("status label = %q, want 404", labels["status"])
	}
	if labels["path"] != "other" {
		t.Errorf("path label = %q, want other", labels["path"])
	}
}

func TestMetricsResponseWriter_DefaultStatus(t *testing.T) {
	w := httptest.NewRecorder()
	mrw := newMetricsResponseWriter(w)

	mrw.Write([]byte("ok"))
	if mrw.statusCode != http.StatusOK {
		t.Errorf("statusCode = %d, want 200", mrw.statusCode)
	}
	if mrw.size != 2 {
		t.Errorf("size = %d, want 2", mrw.size)
	}

	// Later WriteHeader calls are ignored once set.
	mrw.WriteHeader(http.StatusAccepted)
	mrw.WriteHeader(http.StatusTeapot)
	if mrw.statusCode != http.StatusAccepted {
		t.Errorf("statusCode = %d, want 202", mrw.statusCode)
	}
}

func TestMetricsResponseWriter_Unwrap(t *testing.T) {
	w := httptest.NewRecorder()
	mrw := newMetricsResponseWriter(w)
	if mrw.Unwrap() != http.ResponseWriter(w) {
		t.Error("Unwrap() did not return the underlying writer")
	}
}

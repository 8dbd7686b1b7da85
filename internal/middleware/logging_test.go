package middleware

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
)

func captureLogs() (*slog.Logger, *bytes.Buffer) {
	buf := new(bytes.Buffer)
	return slog.New(slog.NewJSONHandler(buf, nil)), buf
}

func decodeLogLine(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()
	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("log output is not JSON: %v (%q)", err, buf.String())
	}
	return entry
}

func TestLogging_RecordsRequestFields(t *testing.T) {
	logger, buf := captureLogs()

	handler := Logging(logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
		w.Write([]byte("created"))
	}))

	req := httptest.NewRequest(http.MethodPost, "/v1/audit/events", nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	entry := decodeLogLine(t, buf)
	if entry["method"] != http.MethodPost {
		t.Errorf("method = %v, want POST", entry["method"])
	}
	if entry["path"] != "/v1/audit/events" {
		t.Errorf("path = %v, want /v1/audit/events", entry["path"])
	}
	if entry["status"] != float64(http.StatusCreated) {
		t.Errorf("status = %v, want 201", entry["status"])
	}
	if entry["size"] != float64(7) {
		t.Errorf("size = %v, want 7", entry["size"])
	}
	if entry["level"] != "INFO" {
		t.Errorf("level = %v, want INFO", entry["level"])
	}
}

func TestLogging_ServerErrorsLoggedAtErrorLevel(t *testing.T) {
	logger, buf := captureLogs()

	handler := Logging(logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	entry := decodeLogLine(t, buf)
	if entry["level"] != "ERROR" {
		t.Errorf("level = %v, want ERROR", entry["level"])
	}
}

func TestLogging_IncludesErrorCodeFromHandler(t *testing.T) {
	logger, buf := captureLogs()

	handler := Logging(logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Handlers surface their error code through the response wrapper
		// because the request context is immutable from their side.
		UpdateResponseContext(w, SetErrorCode(r.Context(), "validation_error"))
		w.WriteHeader(http.StatusBadRequest)
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	entry := decodeLogLine(t, buf)
	if entry["error_code"] != "validation_error" {
		t.Errorf("error_code = %v, want validation_error", entry["error_code"])
	}
}

func TestLogging_IncludesRequestAndUserIDs(t *testing.T) {
	logger, buf := captureLogs()

	var inner http.Handler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	handler := RequestID(Logging(logger)(inner))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(RequestIDHeader, "req-123")
	req = req.WithContext(SetUserID(req.Context(), "user-1"))
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	entry := decodeLogLine(t, buf)
	if entry["request_id"] != "req-123" {
		t.Errorf("request_id = %v, want req-123", entry["request_id"])
	}
	if entry["user_id"] != "user-1" {
		t.Errorf("user_id = %v, want user-1", entry["user_id"])
	}
}

func TestUpdateResponseContext_UnwrapsNestedWriters(t *testing.T) {
	logger, buf := captureLogs()

	handler := Logging(logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Simulate an inner middleware wrapping the logging writer.
		nested := newMetricsResponseWriter(w)
		UpdateResponseContext(nested, SetErrorCode(r.Context(), "rate_limit_exceeded"))
		nested.WriteHeader(http.StatusTooManyRequests)
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	entry := decodeLogLine(t, buf)
	if entry["error_code"] != "rate_limit_exceeded" {
		t.Errorf("error_code = %v, want rate_limit_exceeded", entry["error_code"])
	}
}

func TestUpdateResponseContext_NoLoggingWrapperIsNoop(t *testing.T) {
	w := httptest.NewRecorder()
	UpdateResponseContext(w, SetErrorCode(httptest.NewRequest("GET", "/", nil).Context(), "x"))
}

func TestClientIP(t *testing.T) {
	tests := []struct {
		name       string
		remoteAddr string
		xff        string
		xRealIP    string
		want       string
	}{
		{
			name:       "remote addr with port",
			remoteAddr: "203.0.113.7:4321",
			want:       "203.0.113.7",
		},
		{
			name:       "remote addr without port",
			remoteAddr: "203.0.113.7",
			want:       "203.0.113.7",
		},
		{
			name:       "x-forwarded-for single",
			remoteAddr: "10.0.0.1:80",
			xff:        "198.51.100.9",
			want:       "198.51.100.9",
		},
		{
			name:       "x-forwarded-for chain uses first",
			remoteAddr: "10.0.0.1:80",
			xff:        "198.51.100.9, 10.0.0.2, 10.0.0.3",
			want:       "198.51.100.9",
		},
		{
			name:       "x-forwarded-for with port",
			remoteAddr: "10.0.0.1:80",
			xff:        "198.51.100.9:1234",
			want:       "198.51.100.9",
		},
		{
			name:       "x-real-ip fallback",
			remoteAddr: "10.0.0.1:80",
			xRealIP:    "198.51.100.10",
			want:       "198.51.100.10",
		},
		{
			name:       "x-forwarded-for beats x-real-ip",
			remoteAddr: "10.0.0.1:80",
			xff:        "198.51.100.9",
			xRealIP:    "198.51.100.10",
			want:       "198.51.100.9",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = tt.remoteAddr
			if tt.xff != "" {
				req.Header.Set("X-Forwarded-For", tt.xff)
			}
			if tt.xRealIP != "" {
				req.Header.Set("X-Real-IP", tt.xRealIP)
			}
			if got := ClientIP(req); got != tt.want {
				t.Errorf("ClientIP() = %q, want %q", got, tt.want)
			}
		})
	}
}

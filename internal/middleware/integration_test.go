// Tests covering the middleware chain as the server wires it.
package middleware_test

import (
	"bytes"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/daryls-hrplus/intellihrm-sub048/internal/middleware"
)

func TestRequestIDWithLogging(t *testing.T) {
	var logBuf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&logBuf, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))

	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if middleware.GetRequestID(r.Context()) == "" {
			t.Error("request ID missing from handler context")
		}
		w.WriteHeader(http.StatusOK)
	})

	stack := middleware.RequestID(middleware.Logging(logger)(handler))

	req := httptest.NewRequest(http.MethodGet, "/audit/logs/verify", nil)
	rr := httptest.NewRecorder()
	stack.ServeHTTP(rr, req)

	responseID := rr.Header().Get("X-Request-ID")
	if responseID == "" {
		t.Fatal("X-Request-ID missing from response")
	}

	// Every request log line must carry the correlation ID so audit
	// investigations can stitch the trail back together.
	logOutput := logBuf.String()
	if !strings.Contains(logOutput, "request_id=") {
		t.Errorf("log output missing request_id field: %s", logOutput)
	}
	if !strings.Contains(logOutput, responseID) {
		t.Errorf("log output missing ID %s: %s", responseID, logOutput)
	}
}

func TestFullStackLogFields(t *testing.T) {
	var logBuf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&logBuf, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))

	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	stack := middleware.RequestID(middleware.Logging(logger)(handler))

	req := httptest.NewRequest(http.MethodGet, "/payroll/preferences/emp-42", nil)
	rr := httptest.NewRecorder()
	stack.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", rr.Code, http.StatusOK)
	}

	logOutput := logBuf.String()
	for _, field := range []string{
		"method=GET",
		"path=/payroll/preferences/emp-42",
		"status=200",
		"request_id=",
	} {
		if !strings.Contains(logOutput, field) {
			t.Errorf("log output missing %q: %s", field, logOutput)
		}
	}
}

func BenchmarkRequestID_MintedID(b *testing.B) {
	handler := middleware.RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	req := httptest.NewRequest(http.MethodGet, "/audit/logs", nil)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)
	}
}

func BenchmarkRequestID_InboundID(b *testing.B) {
	handler := middleware.RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	req := httptest.NewRequest(http.MethodGet, "/audit/logs", nil)
	req.Header.Set("X-Request-ID", "550e8400-e29b-41d4-a716-446655440000")

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)
	}
}

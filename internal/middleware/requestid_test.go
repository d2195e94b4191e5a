package middleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestRequestID_MintsID(t *testing.T) {
	var contextID string
	handler := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		contextID = GetRequestID(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/audit/logs", nil)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if contextID == "" {
		t.Error("GetRequestID() in handler = empty, want generated ID")
	}
	if got := rr.Header().Get(RequestIDHeader); got != contextID {
		t.Errorf("response %s = %q, want context ID %q", RequestIDHeader, got, contextID)
	}
}

func TestRequestID_HonorsInboundHeader(t *testing.T) {
	const inbound = "gateway-7f3a2b"
	var contextID string

	handler := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		contextID = GetRequestID(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/audit/logs", nil)
	req.Header.Set(RequestIDHeader, inbound)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if contextID != inbound {
		t.Errorf("context request ID = %q, want %q", contextID, inbound)
	}
	if got := rr.Header().Get(RequestIDHeader); got != inbound {
		t.Errorf("response %s = %q, want %q", RequestIDHeader, got, inbound)
	}
}

func TestRequestID_ReplacesInvalidHeader(t *testing.T) {
	tests := []struct {
		name    string
		inbound string
	}{
		{"oversized", strings.Repeat("x", maxRequestIDLength+1)},
		{"newline injection", "abc\ndef"},
		{"special characters", "abc@#$%"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var contextID string
			handler := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				contextID = GetRequestID(r.Context())
			}))

			req := httptest.NewRequest(http.MethodGet, "/audit/logs", nil)
			req.Header.Set(RequestIDHeader, tt.inbound)
			rr := httptest.NewRecorder()
			handler.ServeHTTP(rr, req)

			if contextID == tt.inbound || contextID == "" {
				t.Errorf("invalid inbound ID %q was not replaced", tt.inbound)
			}
		})
	}
}

func TestGetRequestID_MissingFromContext(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/audit/logs", nil)
	if got := GetRequestID(req.Context()); got != "" {
		t.Errorf("GetRequestID() on bare context = %q, want empty", got)
	}
}

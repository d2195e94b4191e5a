package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

// Exercises CORS stacked under RequestID the way the server wires them:
// the correlation ID must survive preflight short-circuits and rejections.
func TestCORS_UnderRequestID(t *testing.T) {
	stack := RequestID(CORS(CORSConfig{
		AllowedOrigins:   []string{"https://portal.example.com"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type", "Authorization"},
		AllowCredentials: true,
		MaxAge:           300,
	})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})))

	tests := []struct {
		name       string
		method     string
		origin     string
		wantStatus int
		wantOrigin string
	}{
		{
			name:       "preflight",
			method:     http.MethodOptions,
			origin:     "https://portal.example.com",
			wantStatus: http.StatusNoContent,
			wantOrigin: "https://portal.example.com",
		},
		{
			name:       "actual request",
			method:     http.MethodGet,
			origin:     "https://portal.example.com",
			wantStatus: http.StatusOK,
			wantOrigin: "https://portal.example.com",
		},
		{
			name:       "unlisted origin rejected",
			method:     http.MethodGet,
			origin:     "https://evil.example.net",
			wantStatus: http.StatusForbidden,
			wantOrigin: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, "/audit/logs", nil)
			req.Header.Set("Origin", tt.origin)
			if tt.method == http.MethodOptions {
				req.Header.Set("Access-Control-Request-Method", "POST")
			}
			rr := httptest.NewRecorder()
			stack.ServeHTTP(rr, req)

			if rr.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", rr.Code, tt.wantStatus)
			}
			if got := rr.Header().Get("Access-Control-Allow-Origin"); got != tt.wantOrigin {
				t.Errorf("Access-Control-Allow-Origin = %q, want %q", got, tt.wantOrigin)
			}
			if rr.Header().Get(RequestIDHeader) == "" {
				t.Errorf("%s missing; outer middleware must tag every response", RequestIDHeader)
			}
		})
	}
}

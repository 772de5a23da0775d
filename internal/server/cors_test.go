package server

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func corsTestHandler(t *testing.T) http.Handler {
	t.Helper()
	policy, err := NewOriginPolicy("http://localhost:8080", true)
	if err != nil {
		t.Fatalf("Failed to build policy: %v", err)
	}
	return corsMiddleware(policy)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
}

// TestCORSAllowedOrigin verifies the configured origin is echoed back with
// credentials support.
func TestCORSAllowedOrigin(t *testing.T) {
	handler := corsTestHandler(t)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/chat/1", nil)
	req.Header.Set("Origin", "http://localhost:8080")
	handler.ServeHTTP(rec, req)

	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "http://localhost:8080" {
		t.Errorf("Expected origin echo, got %q", got)
	}
	if got := rec.Header().Get("Access-Control-Allow-Credentials"); got != "true" {
		t.Errorf("Expected credentials allowed, got %q", got)
	}
	if vary := strings.Join(rec.Header().Values("Vary"), ","); !strings.Contains(vary, "Origin") {
		t.Errorf("Expected Vary: Origin, got %q", vary)
	}
}

// TestCORSDisallowedOrigin verifies no CORS headers are granted to other
// origins.
func TestCORSDisallowedOrigin(t *testing.T) {
	handler := corsTestHandler(t)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/chat/1", nil)
	req.Header.Set("Origin", "http://evil.example.com")
	handler.ServeHTTP(rec, req)

	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "" {
		t.Errorf("Expected no CORS grant for disallowed origin, got %q", got)
	}
	if rec.Code != http.StatusOK {
		t.Errorf("Non-preflight request should still reach the handler, got %d", rec.Code)
	}
}

// TestCORSPreflight verifies preflight handling for allowed and disallowed
// origins.
func TestCORSPreflight(t *testing.T) {
	handler := corsTestHandler(t)

	t.Run("Allowed", func(t *testing.T) {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodOptions, "/api/messages", nil)
		req.Header.Set("Origin", "http://localhost:8080")
		req.Header.Set("Access-Control-Request-Method", http.MethodPost)
		req.Header.Set("Access-Control-Request-Headers", "X-Custom")
		handler.ServeHTTP(rec, req)

		if rec.Code != http.StatusNoContent {
			t.Errorf("Expected status %d, got %d", http.StatusNoContent, rec.Code)
		}
		if got := rec.Header().Get("Access-Control-Allow-Headers"); got != "X-Custom" {
			t.Errorf("Expected requested headers echoed, got %q", got)
		}
	})

	t.Run("Disallowed", func(t *testing.T) {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodOptions, "/api/messages", nil)
		req.Header.Set("Origin", "http://evil.example.com")
		req.Header.Set("Access-Control-Request-Method", http.MethodPost)
		handler.ServeHTTP(rec, req)

		if rec.Code != http.StatusForbidden {
			t.Errorf("Expected status %d, got %d", http.StatusForbidden, rec.Code)
		}
	})
}

// TestCORSNoOriginHeader verifies same-origin traffic passes through
// untouched.
func TestCORSNoOriginHeader(t *testing.T) {
	handler := corsTestHandler(t)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	if rec.Code != http.StatusOK {
		t.Errorf("Expected pass-through, got %d", rec.Code)
	}
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "" {
		t.Errorf("Expected no CORS headers without an Origin, got %q", got)
	}
}

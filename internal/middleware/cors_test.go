package middleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func corsRequest(t *testing.T, allowed []string, method, origin string) (*httptest.ResponseRecorder, bool) {
	t.Helper()
	called := false
	h := CORS(allowed)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		called = true
		w.WriteHeader(http.StatusTeapot)
	}))
	req := httptest.NewRequest(method, "/api/support/identity", nil)
	if origin != "" {
		req.Header.Set("Origin", origin)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec, called
}

func TestCORSExplicitOrigin(t *testing.T) {
	rec, called := corsRequest(t, []string{"https://app.example.com"}, http.MethodGet, "https://app.example.com")
	if !called {
		t.Fatal("next handler not called")
	}
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "https://app.example.com" {
		t.Errorf("allow origin = %q", got)
	}
	if got := rec.Header().Get("Access-Control-Allow-Credentials"); got != "true" {
		t.Errorf("allow credentials = %q", got)
	}
	if got := rec.Header().Get("Access-Control-Allow-Headers"); !strings.Contains(got, "X-Support-Session-ID") {
		t.Errorf("allow headers = %q", got)
	}
}

func TestCORSWildcardWithoutCredentials(t *testing.T) {
	rec, _ := corsRequest(t, []string{"*"}, http.MethodGet, "https://other.example.com")
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "https://other.example.com" {
		t.Errorf("allow origin = %q", got)
	}
	if got := rec.Header().Get("Access-Control-Allow-Credentials"); got != "" {
		t.Errorf("wildcard origins must not get credentials, got %q", got)
	}
}

func TestCORSRejectedOrigin(t *testing.T) {
	rec, called := corsRequest(t, []string{"https://app.example.com"}, http.MethodGet, "https://evil.example.com")
	if !called {
		t.Fatal("next handler not called")
	}
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "" {
		t.Errorf("allow origin = %q, want empty", got)
	}
}

func TestCORSPreflight(t *testing.T) {
	rec, called := corsRequest(t, []string{"*"}, http.MethodOptions, "https://app.example.com")
	if called {
		t.Error("preflight reached the next handler")
	}
	if rec.Code != http.StatusOK {
		t.Errorf("status = %d", rec.Code)
	}
}

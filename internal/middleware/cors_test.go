package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func serveCORS(origins []string, method, origin string) *httptest.ResponseRecorder {
	next := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})
	req := httptest.NewRequest(method, "/api/conversations", nil)
	if origin != "" {
		req.Header.Set("Origin", origin)
	}
	w := httptest.NewRecorder()
	CORS(origins)(next).ServeHTTP(w, req)
	return w
}

func TestCORS(t *testing.T) {
	tests := []struct {
		name        string
		origins     []string
		method      string
		origin      string
		wantStatus  int
		wantAllow   string
		wantCredent string
	}{
		{"wildcard echoes origin without credentials", []string{"*"}, http.MethodGet, "http://localhost:5173", http.StatusTeapot, "http://localhost:5173", ""},
		{"explicit origin gets credentials", []string{"https://chat.example.com"}, http.MethodGet, "https://chat.example.com", http.StatusTeapot, "https://chat.example.com", "true"},
		{"unknown origin is not allowed", []string{"https://chat.example.com"}, http.MethodGet, "https://evil.example", http.StatusTeapot, "", ""},
		{"preflight short-circuits", []string{"*"}, http.MethodOptions, "http://localhost:5173", http.StatusNoContent, "http://localhost:5173", ""},
		{"no origin header", []string{"*"}, http.MethodGet, "", http.StatusTeapot, "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := serveCORS(tt.origins, tt.method, tt.origin)
			if w.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", w.Code, tt.wantStatus)
			}
			if got := w.Header().Get("Access-Control-Allow-Origin"); got != tt.wantAllow {
				t.Errorf("Allow-Origin = %q, want %q", got, tt.wantAllow)
			}
			if got := w.Header().Get("Access-Control-Allow-Credentials"); got != tt.wantCredent {
				t.Errorf("Allow-Credentials = %q, want %q", got, tt.wantCredent)
			}
		})
	}
}

func TestCORSOrigins(t *testing.T) {
	if got := CORSOrigins("", false); len(got) != 1 || got[0] != "*" {
		t.Errorf("empty frontend: got %v", got)
	}
	if got := CORSOrigins("https://chat.example.com/", false); len(got) != 1 || got[0] != "https://chat.example.com" {
		t.Errorf("production frontend: got %v", got)
	}
	if got := CORSOrigins("http://localhost:5173", true); got[0] != "*" {
		t.Errorf("development: got %v", got)
	}
}

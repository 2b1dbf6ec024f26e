package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"spotarb/pkg/utils"
)

var okHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
	w.Write([]byte("ok"))
})

func TestRecovery(t *testing.T) {
	panicking := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	})
	h := Recovery(utils.NewNopLogger())(panicking)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/deals", nil)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	if w.Code != http.StatusInternalServerError {
		t.Errorf("expected status 500, got %d", w.Code)
	}
}

func TestLoggingSetsRequestID(t *testing.T) {
	h := Logging(utils.NewNopLogger())(okHandler)

	t.Run("generated", func(t *testing.T) {
		w := httptest.NewRecorder()
		h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
		if w.Header().Get(RequestIDHeader) == "" {
			t.Error("expected generated request id")
		}
	})

	t.Run("propagated", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/health", nil)
		req.Header.Set(RequestIDHeader, "req-42")
		w := httptest.NewRecorder()
		h.ServeHTTP(w, req)
		if got := w.Header().Get(RequestIDHeader); got != "req-42" {
			t.Errorf("expected req-42, got %q", got)
		}
	})
}

func TestOriginPolicy(t *testing.T) {
	tests := []struct {
		name    string
		origins []string
		origin  string
		want    bool
	}{
		{"no origin", []string{"https://dash.example"}, "", true},
		{"listed", []string{"https://dash.example"}, "https://dash.example", true},
		{"not listed", []string{"https://dash.example"}, "http://evil.example", false},
		{"defaults", nil, "http://localhost:3000", true},
		{"defaults reject", nil, "http://evil.example", false},
		{"wildcard", []string{"*"}, "http://anything.example", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := NewOriginPolicy(tt.origins).Allowed(tt.origin); got != tt.want {
				t.Errorf("Allowed(%q) = %v, want %v", tt.origin, got, tt.want)
			}
		})
	}
}

func TestCORS(t *testing.T) {
	h := CORS(NewOriginPolicy([]string{"https://dash.example"}))(okHandler)

	t.Run("allowed origin", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/deals", nil)
		req.Header.Set("Origin", "https://dash.example")
		w := httptest.NewRecorder()
		h.ServeHTTP(w, req)
		if got := w.Header().Get("Access-Control-Allow-Origin"); got != "https://dash.example" {
			t.Errorf("unexpected allow-origin %q", got)
		}
	})

	t.Run("denied origin", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/deals", nil)
		req.Header.Set("Origin", "http://evil.example")
		w := httptest.NewRecorder()
		h.ServeHTTP(w, req)
		if got := w.Header().Get("Access-Control-Allow-Origin"); got != "" {
			t.Errorf("expected no allow-origin, got %q", got)
		}
	})

	t.Run("preflight", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodOptions, "/api/v1/deals", nil)
		req.Header.Set("Origin", "https://dash.example")
		w := httptest.NewRecorder()
		h.ServeHTTP(w, req)
		if w.Code != http.StatusNoContent {
			t.Errorf("expected 204, got %d", w.Code)
		}
		if w.Body.Len() != 0 {
			t.Error("preflight must not reach the handler")
		}
	})
}

func TestBasicAuth(t *testing.T) {
	tests := []struct {
		name       string
		user, pass string
		reqUser    string
		reqPass    string
		setAuth    bool
		wantStatus int
	}{
		{"disabled", "", "", "", "", false, http.StatusOK},
		{"missing", "admin", "secret", "", "", false, http.StatusUnauthorized},
		{"wrong password", "admin", "secret", "admin", "nope", true, http.StatusUnauthorized},
		{"valid", "admin", "secret", "admin", "secret", true, http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := BasicAuth(tt.user, tt.pass)(okHandler)
			req := httptest.NewRequest(http.MethodGet, "/api/v1/gateways", nil)
			if tt.setAuth {
				req.SetBasicAuth(tt.reqUser, tt.reqPass)
			}
			w := httptest.NewRecorder()
			h.ServeHTTP(w, req)
			if w.Code != tt.wantStatus {
				t.Errorf("expected status %d, got %d", tt.wantStatus, w.Code)
			}
		})
	}
}

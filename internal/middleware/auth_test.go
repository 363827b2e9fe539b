package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/revclaw/revclaw/internal/config"
	"github.com/revclaw/revclaw/internal/service"
)

func TestSessionAuthRejectsBadCredentials(t *testing.T) {
	authSvc := service.NewAuthService(nil, &config.Auth{SessionSecret: "s"})
	h := SessionAuth(authSvc)(okHandler())

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("no header: status = %d, want 401", rec.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer not.a.token")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("garbage token: status = %d, want 401", rec.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Basic dXNlcjpwYXNz")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("non-bearer scheme: status = %d, want 401", rec.Code)
	}
}

func TestRequireScope(t *testing.T) {
	h := RequireScope("projects:publish")(okHandler())

	// No agent context at all.
	req := httptest.NewRequest(http.MethodPost, "/", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("no context: status = %d, want 401", rec.Code)
	}

	// Scope missing from the snapshot.
	ac := &service.AgentContext{Scopes: []string{"projects:read"}}
	req = httptest.NewRequest(http.MethodPost, "/", nil)
	req = req.WithContext(WithAgent(req.Context(), ac))
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusForbidden {
		t.Errorf("missing scope: status = %d, want 403", rec.Code)
	}

	// Scope granted.
	ac = &service.AgentContext{Scopes: []string{"projects:publish"}}
	req = httptest.NewRequest(http.MethodPost, "/", nil)
	req = req.WithContext(WithAgent(req.Context(), ac))
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Errorf("granted scope: status = %d, want 200", rec.Code)
	}
}

func TestRequestIDGeneratedAndEchoed(t *testing.T) {
	var seen string
	h := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = w.Header().Get(headerRequestID)
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if seen == "" {
		t.Error("request id not generated")
	}

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(headerRequestID, "fixed-id")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Header().Get(headerRequestID) != "fixed-id" {
		t.Errorf("request id = %q, want fixed-id", rec.Header().Get(headerRequestID))
	}
}

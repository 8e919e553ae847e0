package testutil

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
)

// MockOAuthServer is an httptest server standing in for an OAuth token
// endpoint (Google or Twitch). Handlers are keyed by URL path.
type MockOAuthServer struct {
	*httptest.Server
	mu       sync.Mutex
	Handlers map[string]http.HandlerFunc
	Forms    []map[string]string // form bodies received, in order
}

// NewMockOAuthServer starts a mock server closed at test cleanup.
func NewMockOAuthServer(t *testing.T) *MockOAuthServer {
	t.Helper()
	m := &MockOAuthServer{Handlers: make(map[string]http.HandlerFunc)}
	m.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err == nil {
			form := map[string]string{}
			for k := range r.PostForm {
				form[k] = r.PostForm.Get(k)
			}
			m.mu.Lock()
			m.Forms = append(m.Forms, form)
			m.mu.Unlock()
		}
		m.mu.Lock()
		handler, ok := m.Handlers[r.URL.Path]
		m.mu.Unlock()
		if ok {
			handler(w, r)
			return
		}
		w.WriteHeader(http.StatusNotFound)
	}))
	t.Cleanup(m.Close)
	return m
}

// LastForm returns the most recent form body, or nil.
func (m *MockOAuthServer) LastForm() map[string]string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.Forms) == 0 {
		return nil
	}
	return m.Forms[len(m.Forms)-1]
}

// MockTokenResponse serves a successful token grant at path.
func (m *MockOAuthServer) MockTokenResponse(path, accessToken, refreshToken string, expiresIn int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Handlers[path] = func(w http.ResponseWriter, r *http.Request) {
		resp := map[string]interface{}{
			"access_token":  accessToken,
			"refresh_token": refreshToken,
			"expires_in":    expiresIn,
			"token_type":    "bearer",
			"scope":         []string{"chat:read", "chat:edit"},
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(resp) //nolint:errcheck // test mock response
	}
}

// MockTokenError serves an OAuth error with status at path.
func (m *MockOAuthServer) MockTokenError(path string, status int, msg string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Handlers[path] = func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(map[string]string{"error": "invalid_grant", "message": msg}) //nolint:errcheck // test mock response
	}
}

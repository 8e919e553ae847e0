package youtubeapi

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"golang.org/x/oauth2"
	"google.golang.org/api/option"
	yt "google.golang.org/api/youtube/v3"

	"github.com/onnwee/clip-tender/config"
	"github.com/onnwee/clip-tender/testutil"
)

type mockTokenStore struct {
	mu     sync.Mutex
	tokens map[string]tokenData
}

type tokenData struct {
	access, refresh, scope string
	expiry                 time.Time
}

func newMockTokenStore() *mockTokenStore {
	return &mockTokenStore{tokens: make(map[string]tokenData)}
}

func (m *mockTokenStore) UpsertOAuthToken(ctx context.Context, provider, accessToken, refreshToken string, expiry time.Time, scope string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tokens[provider] = tokenData{access: accessToken, refresh: refreshToken, expiry: expiry, scope: scope}
	return nil
}

func (m *mockTokenStore) GetOAuthToken(ctx context.Context, provider string) (string, string, time.Time, string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d := m.tokens[provider]
	return d.access, d.refresh, d.expiry, d.scope, nil
}

func testConfig() *config.Config {
	return &config.Config{
		YTClientID:     "test-client-id",
		YTClientSecret: "test-secret",
		YTRedirectURI:  "http://localhost/callback",
	}
}

func TestScopeParsing(t *testing.T) {
	cases := map[string]int{
		"":                        1,
		"a b":                     2,
		"a,b, c":                  3,
		yt.YoutubeUploadScope:     1,
	}
	for in, want := range cases {
		cfg := testConfig()
		cfg.YTScopes = in
		if got := len(New(cfg, newMockTokenStore()).oauth.Scopes); got != want {
			t.Errorf("scopes %q -> %d, want %d", in, got, want)
		}
	}
}

func TestAuthCodeURLRequestsOfflineAccess(t *testing.T) {
	u := New(testConfig(), newMockTokenStore()).AuthCodeURL("state123")
	for _, want := range []string{"access_type=offline", "state=state123", "client_id=test-client-id", "prompt=consent"} {
		if !strings.Contains(u, want) {
			t.Errorf("auth url missing %s: %s", want, u)
		}
	}
}

func TestTokenWithoutStoredToken(t *testing.T) {
	s := New(testConfig(), newMockTokenStore())
	if _, err := s.Token(context.Background()); !errors.Is(err, ErrNoToken) {
		t.Fatalf("err = %v, want ErrNoToken", err)
	}
	if s.HasToken(context.Background()) {
		t.Fatal("HasToken should be false")
	}
}

func TestTokenValidIsReturnedAsIs(t *testing.T) {
	store := newMockTokenStore()
	_ = store.UpsertOAuthToken(context.Background(), Provider, "live", "r", time.Now().Add(time.Hour), "")
	tok, err := New(testConfig(), store).Token(context.Background())
	if err != nil || tok.AccessToken != "live" {
		t.Fatalf("tok=%v err=%v", tok, err)
	}
}

func TestTokenRefreshesWhenExpiring(t *testing.T) {
	srv := testutil.NewMockOAuthServer(t)
	srv.MockTokenResponse("/token", "fresh-access", "", 3600)

	store := newMockTokenStore()
	_ = store.UpsertOAuthToken(context.Background(), Provider, "stale", "keep-me", time.Now().Add(30*time.Second), "scope")
	s := New(testConfig(), store)
	s.SetEndpoint(oauth2.Endpoint{TokenURL: srv.URL + "/token", AuthStyle: oauth2.AuthStyleInParams})

	tok, err := s.Token(context.Background())
	if err != nil {
		t.Fatalf("Token: %v", err)
	}
	if tok.AccessToken != "fresh-access" {
		t.Fatalf("access = %s", tok.AccessToken)
	}
	stored := store.tokens[Provider]
	if stored.access != "fresh-access" || stored.refresh != "keep-me" {
		t.Fatalf("stored = %+v", stored)
	}
	if form := srv.LastForm(); form["grant_type"] != "refresh_token" || form["refresh_token"] != "keep-me" {
		t.Fatalf("refresh form = %v", form)
	}
}

func TestUploadSendsMetadata(t *testing.T) {
	var body string
	api := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		body = string(b)
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"id":"vid123"}`)
	}))
	defer api.Close()

	svc, err := yt.NewService(context.Background(), option.WithHTTPClient(api.Client()), option.WithEndpoint(api.URL+"/"))
	if err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(t.TempDir(), "clip.mp4")
	if err := os.WriteFile(path, []byte("fake mp4"), 0o644); err != nil {
		t.Fatal(err)
	}
	id, err := Upload(context.Background(), svc, Video{Path: path, Title: "Hello", Description: "desc", Tags: []string{"shorts", "fun"}})
	if err != nil {
		t.Fatalf("Upload: %v", err)
	}
	if id != "vid123" {
		t.Fatalf("id = %s", id)
	}
	for _, want := range []string{`"title":"Hello"`, `"categoryId":"22"`, `"privacyStatus":"public"`, `"selfDeclaredMadeForKids":false`, `"shorts"`} {
		if !strings.Contains(body, want) {
			t.Errorf("request body missing %s", want)
		}
	}
}

func TestUploadMissingFile(t *testing.T) {
	svc, _ := yt.NewService(context.Background(), option.WithHTTPClient(http.DefaultClient))
	if _, err := Upload(context.Background(), svc, Video{Path: "/nonexistent.mp4"}); err == nil {
		t.Fatal("expected error")
	}
	if _, err := Upload(context.Background(), nil, Video{}); err == nil {
		t.Fatal("expected error for nil service")
	}
}

func TestWatchURL(t *testing.T) {
	if WatchURL("abc") != "https://www.youtube.com/watch?v=abc" {
		t.Fatal(WatchURL("abc"))
	}
}

package twitchapi

import (
	"context"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/onnwee/clip-tender/testutil"
)

func TestAuthorizeURL(t *testing.T) {
	tests := []struct {
		name      string
		oauth     OAuth
		scopes    string
		state     string
		wantErr   bool
		wantParts []string
	}{
		{
			name:      "valid request",
			oauth:     OAuth{ClientID: "test-client-id", RedirectURI: "http://localhost/callback"},
			scopes:    "chat:read chat:edit",
			state:     "random-state",
			wantParts: []string{"client_id=test-client-id", "state=random-state", "scope=chat%3Aread+chat%3Aedit"},
		},
		{
			name:    "empty client ID",
			oauth:   OAuth{RedirectURI: "http://localhost/callback"},
			wantErr: true,
		},
		{
			name:    "empty redirect URI",
			oauth:   OAuth{ClientID: "client"},
			wantErr: true,
		},
		{
			name:      "comma separated scopes",
			oauth:     OAuth{ClientID: "client-id", RedirectURI: "http://localhost/callback"},
			scopes:    "chat:read, chat:edit",
			state:     "state-123",
			wantParts: []string{"scope=chat%3Aread+chat%3Aedit"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			u, err := tt.oauth.AuthorizeURL(tt.scopes, tt.state)
			if tt.wantErr {
				if err == nil {
					t.Error("AuthorizeURL() expected error, got nil")
				}
				return
			}
			if err != nil {
				t.Fatalf("AuthorizeURL() unexpected error = %v", err)
			}
			for _, part := range tt.wantParts {
				if !strings.Contains(u, part) {
					t.Errorf("URL missing expected part %q: %s", part, u)
				}
			}
			if !strings.HasPrefix(u, DefaultAuthURL) {
				t.Errorf("URL doesn't start with Twitch auth endpoint: %s", u)
			}
		})
	}
}

func TestComputeExpiry(t *testing.T) {
	tests := []struct {
		name      string
		expiresIn int
		wantAfter time.Duration
	}{
		{"4 hours", 14400, 4 * time.Hour},
		{"zero defaults to 60 minutes", 0, 60 * time.Minute},
		{"negative defaults to 60 minutes", -100, 60 * time.Minute},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			before := time.Now()
			expiry := ComputeExpiry(tt.expiresIn)
			after := time.Now()
			if expiry.Before(before.Add(tt.wantAfter).Add(-2*time.Second)) || expiry.After(after.Add(tt.wantAfter).Add(2*time.Second)) {
				t.Errorf("ComputeExpiry(%d) = %v", tt.expiresIn, expiry)
			}
		})
	}
}

func TestExchange(t *testing.T) {
	srv := testutil.NewMockOAuthServer(t)
	srv.MockTokenResponse("/token", "bot-access", "bot-refresh", 14400)
	o := &OAuth{ClientID: "id", ClientSecret: "secret", RedirectURI: "http://localhost/cb", TokenURL: srv.URL + "/token"}

	res, err := o.Exchange(context.Background(), "the-code")
	if err != nil {
		t.Fatal(err)
	}
	if res.AccessToken != "bot-access" || res.RefreshToken != "bot-refresh" || res.Scopes() != "chat:read chat:edit" {
		t.Fatalf("result = %+v", res)
	}
	form := srv.LastForm()
	if form["grant_type"] != "authorization_code" || form["code"] != "the-code" || form["client_secret"] != "secret" {
		t.Fatalf("form = %v", form)
	}
}

func TestRefresh(t *testing.T) {
	srv := testutil.NewMockOAuthServer(t)
	srv.MockTokenResponse("/token", "new-access", "new-refresh", 3600)
	o := &OAuth{ClientID: "id", ClientSecret: "secret", TokenURL: srv.URL + "/token"}

	at, rt, exp, scope, err := o.Refresh(context.Background(), "old-refresh")
	if err != nil {
		t.Fatal(err)
	}
	if at != "new-access" || rt != "new-refresh" || scope != "chat:read chat:edit" || time.Until(exp) < 59*time.Minute {
		t.Fatalf("refresh = %s %s %v %s", at, rt, exp, scope)
	}
	if srv.LastForm()["refresh_token"] != "old-refresh" {
		t.Fatalf("form = %v", srv.LastForm())
	}
}

func TestRefreshError(t *testing.T) {
	srv := testutil.NewMockOAuthServer(t)
	srv.MockTokenError("/token", http.StatusBadRequest, "Invalid refresh token")
	o := &OAuth{ClientID: "id", ClientSecret: "secret", TokenURL: srv.URL + "/token"}
	_, _, _, _, err := o.Refresh(context.Background(), "bad")
	if err == nil || !strings.Contains(err.Error(), "400") {
		t.Fatalf("err = %v", err)
	}
	if _, _, _, _, err := (&OAuth{}).Refresh(context.Background(), "x"); err == nil {
		t.Fatal("expected error for missing credentials")
	}
}

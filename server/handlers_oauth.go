package server

import (
	"crypto/rand"
	"encoding/hex"
	"log/slog"
	"net/http"
	"time"

	"github.com/onnwee/clip-tender/twitchapi"
	"github.com/onnwee/clip-tender/youtubeapi"
)

func newState() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

// beginOAuth issues a state or writes the error response.
func (h *Handlers) beginOAuth(w http.ResponseWriter) (string, bool) {
	st, err := newState()
	if err != nil {
		http.Error(w, "state gen error", http.StatusInternalServerError)
		return "", false
	}
	if !h.addOAuthState(st, time.Now().Add(oauthStateTTL)) {
		http.Error(w, "too many pending oauth flows", http.StatusServiceUnavailable)
		return "", false
	}
	return st, true
}

// callbackCode validates code/state query params or writes the error response.
func (h *Handlers) callbackCode(w http.ResponseWriter, r *http.Request) (string, bool) {
	code := r.URL.Query().Get("code")
	st := r.URL.Query().Get("state")
	if code == "" || st == "" {
		http.Error(w, "missing code/state", http.StatusBadRequest)
		return "", false
	}
	if !h.consumeOAuthState(st) {
		http.Error(w, "invalid state", http.StatusBadRequest)
		return "", false
	}
	return code, true
}

// HandleTwitchOAuthStart redirects to Twitch consent for the chat bot token.
func (h *Handlers) HandleTwitchOAuthStart(w http.ResponseWriter, r *http.Request) {
	tw := h.deps.Twitch
	if tw == nil || tw.ClientID == "" || tw.RedirectURI == "" {
		http.Error(w, "oauth not configured (need TWITCH_CLIENT_ID + TWITCH_REDIRECT_URI)", http.StatusBadRequest)
		return
	}
	st, ok := h.beginOAuth(w)
	if !ok {
		return
	}
	authURL, err := tw.AuthorizeURL(h.deps.Config.TwitchScopes, st)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	http.Redirect(w, r, authURL, http.StatusFound)
}

// HandleTwitchOAuthCallback exchanges the code and stores the token.
func (h *Handlers) HandleTwitchOAuthCallback(w http.ResponseWriter, r *http.Request) {
	if h.deps.Twitch == nil || h.deps.Tokens == nil {
		http.Error(w, "oauth not configured", http.StatusBadRequest)
		return
	}
	code, ok := h.callbackCode(w, r)
	if !ok {
		return
	}
	ctx := r.Context()
	res, err := h.deps.Twitch.Exchange(ctx, code)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadGateway)
		return
	}
	if err := h.deps.Tokens.UpsertOAuthToken(ctx, twitchapi.Provider, res.AccessToken, res.RefreshToken, res.Expiry(), res.Scopes()); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	slog.Info("twitch oauth token stored", slog.String("component", "oauth"), slog.String("scopes", res.Scopes()))
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "scopes": res.Scope, "expires_in": res.ExpiresIn})
}

// HandleYouTubeOAuthStart redirects to Google consent for the upload scope.
func (h *Handlers) HandleYouTubeOAuthStart(w http.ResponseWriter, r *http.Request) {
	cfg := h.deps.Config
	if h.deps.YouTube == nil || cfg.YTClientID == "" || cfg.YTRedirectURI == "" {
		http.Error(w, "youtube oauth not configured", http.StatusBadRequest)
		return
	}
	st, ok := h.beginOAuth(w)
	if !ok {
		return
	}
	http.Redirect(w, r, h.deps.YouTube.AuthCodeURL(st), http.StatusFound)
}

// HandleYouTubeOAuthCallback exchanges the code; the service persists the token.
func (h *Handlers) HandleYouTubeOAuthCallback(w http.ResponseWriter, r *http.Request) {
	if h.deps.YouTube == nil {
		http.Error(w, "youtube oauth not configured", http.StatusBadRequest)
		return
	}
	code, ok := h.callbackCode(w, r)
	if !ok {
		return
	}
	tok, err := h.deps.YouTube.Exchange(r.Context(), code)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadGateway)
		return
	}
	slog.Info("youtube oauth token stored", slog.String("component", "oauth"), slog.String("provider", youtubeapi.Provider))
	writeJSON(w, http.StatusOK, map[string]any{
		"status":                "ok",
		"expiry":                tok.Expiry,
		"access_token_present":  tok.AccessToken != "",
		"refresh_token_present": tok.RefreshToken != "",
	})
}

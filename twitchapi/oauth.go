// Package twitchapi implements the Twitch OAuth authorization-code and
// refresh grants used to obtain the chat bot's user token.
package twitchapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const (
	DefaultAuthURL  = "https://id.twitch.tv/oauth2/authorize"
	DefaultTokenURL = "https://id.twitch.tv/oauth2/token"
	// Provider is the token store key for the chat bot's token.
	Provider = "twitch"
)

// TokenResult is the token endpoint response for both grants.
type TokenResult struct {
	AccessToken  string   `json:"access_token"`
	RefreshToken string   `json:"refresh_token"`
	TokenType    string   `json:"token_type"`
	Scope        []string `json:"scope"`
	ExpiresIn    int      `json:"expires_in"`
}

// Expiry is the absolute expiry of the token.
func (r *TokenResult) Expiry() time.Time { return ComputeExpiry(r.ExpiresIn) }

// Scopes joins the granted scopes with spaces.
func (r *TokenResult) Scopes() string { return strings.Join(r.Scope, " ") }

// OAuth holds the app credentials. Empty URLs use the Twitch defaults.
type OAuth struct {
	ClientID     string
	ClientSecret string
	RedirectURI  string
	AuthURL      string
	TokenURL     string
	HTTPClient   *http.Client
}

// AuthorizeURL constructs the user authorization URL. scopes may be comma or
// space separated.
func (o *OAuth) AuthorizeURL(scopes, state string) (string, error) {
	if o.ClientID == "" || o.RedirectURI == "" {
		return "", errors.New("missing clientID or redirectURI")
	}
	v := url.Values{}
	v.Set("response_type", "code")
	v.Set("client_id", o.ClientID)
	v.Set("redirect_uri", o.RedirectURI)
	if s := strings.Join(strings.Fields(strings.ReplaceAll(scopes, ",", " ")), " "); s != "" {
		v.Set("scope", s)
	}
	if state != "" {
		v.Set("state", state)
	}
	base := o.AuthURL
	if base == "" {
		base = DefaultAuthURL
	}
	return base + "?" + v.Encode(), nil
}

// Exchange trades an authorization code for access and refresh tokens.
func (o *OAuth) Exchange(ctx context.Context, code string) (*TokenResult, error) {
	if o.ClientID == "" || o.ClientSecret == "" || code == "" || o.RedirectURI == "" {
		return nil, errors.New("missing required parameter for auth code exchange")
	}
	form := url.Values{}
	form.Set("code", code)
	form.Set("grant_type", "authorization_code")
	form.Set("redirect_uri", o.RedirectURI)
	res, err := o.post(ctx, form)
	if err != nil {
		return nil, fmt.Errorf("twitch auth code exchange failed: %w", err)
	}
	return res, nil
}

// Refresh matches oauth.RefreshFunc: it returns access, refresh, expiry and scope.
func (o *OAuth) Refresh(ctx context.Context, refreshToken string) (string, string, time.Time, string, error) {
	if o.ClientID == "" || o.ClientSecret == "" || refreshToken == "" {
		return "", "", time.Time{}, "", errors.New("missing clientID/clientSecret/refreshToken")
	}
	form := url.Values{}
	form.Set("grant_type", "refresh_token")
	form.Set("refresh_token", refreshToken)
	res, err := o.post(ctx, form)
	if err != nil {
		return "", "", time.Time{}, "", fmt.Errorf("twitch refresh failed: %w", err)
	}
	return res.AccessToken, res.RefreshToken, res.Expiry(), res.Scopes(), nil
}

func (o *OAuth) post(ctx context.Context, form url.Values) (*TokenResult, error) {
	form.Set("client_id", o.ClientID)
	form.Set("client_secret", o.ClientSecret)
	endpoint := o.TokenURL
	if endpoint == "" {
		endpoint = DefaultTokenURL
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	hc := o.HTTPClient
	if hc == nil {
		hc = http.DefaultClient
	}
	resp, err := hc.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			slog.Warn("failed to close response body", slog.Any("err", err))
		}
	}()
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("%s: %s", resp.Status, string(b))
	}
	var res TokenResult
	if err := json.NewDecoder(resp.Body).Decode(&res); err != nil {
		return nil, err
	}
	if res.AccessToken == "" {
		return nil, errors.New("empty access_token in twitch response")
	}
	return &res, nil
}

// ComputeExpiry returns absolute expiry time from seconds, defaulting to +60m when unknown.
func ComputeExpiry(seconds int) time.Time {
	if seconds <= 0 {
		return time.Now().Add(60 * time.Minute)
	}
	return time.Now().Add(time.Duration(seconds) * time.Second)
}

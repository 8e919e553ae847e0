// Package youtubeapi wraps the Google OAuth2 client config and the YouTube Data
// API for the single purpose of uploading clips. Tokens are persisted via the
// TokenStore interface so they survive restarts and can be refreshed.
package youtubeapi

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/option"
	yt "google.golang.org/api/youtube/v3"

	"github.com/onnwee/clip-tender/config"
)

// Provider is the token store key for YouTube credentials.
const Provider = "youtube"

// ErrNoToken means the operator has not completed the OAuth flow yet.
var ErrNoToken = errors.New("no youtube token stored")

// TokenStore persists OAuth tokens per provider.
type TokenStore interface {
	UpsertOAuthToken(ctx context.Context, provider, accessToken, refreshToken string, expiry time.Time, scope string) error
	GetOAuthToken(ctx context.Context, provider string) (accessToken, refreshToken string, expiry time.Time, scope string, err error)
}

type Service struct {
	cfg   *config.Config
	store TokenStore
	oauth *oauth2.Config
	opts  []option.ClientOption
}

// New builds the service. YT_SCOPES may be comma or space separated.
func New(cfg *config.Config, ts TokenStore, opts ...option.ClientOption) *Service {
	scopes := []string{yt.YoutubeUploadScope}
	if fields := strings.Fields(strings.ReplaceAll(cfg.YTScopes, ",", " ")); len(fields) > 0 {
		scopes = fields
	}
	oc := &oauth2.Config{
		ClientID:     cfg.YTClientID,
		ClientSecret: cfg.YTClientSecret,
		Endpoint:     google.Endpoint,
		RedirectURL:  cfg.YTRedirectURI,
		Scopes:       scopes,
	}
	return &Service{cfg: cfg, store: ts, oauth: oc, opts: opts}
}

// SetEndpoint overrides the OAuth endpoint (tests).
func (s *Service) SetEndpoint(ep oauth2.Endpoint) { s.oauth.Endpoint = ep }

// AuthCodeURL returns the consent URL requesting offline access.
func (s *Service) AuthCodeURL(state string) string {
	return s.oauth.AuthCodeURL(state, oauth2.AccessTypeOffline, oauth2.ApprovalForce)
}

// Exchange trades an authorization code for a token and stores it.
func (s *Service) Exchange(ctx context.Context, code string) (*oauth2.Token, error) {
	tok, err := s.oauth.Exchange(ctx, code)
	if err != nil {
		return nil, err
	}
	if err := s.store.UpsertOAuthToken(ctx, Provider, tok.AccessToken, tok.RefreshToken, tok.Expiry, strings.Join(s.oauth.Scopes, " ")); err != nil {
		return nil, fmt.Errorf("store youtube token: %w", err)
	}
	return tok, nil
}

// HasToken reports whether a token is stored.
func (s *Service) HasToken(ctx context.Context) bool {
	access, refresh, _, _, err := s.store.GetOAuthToken(ctx, Provider)
	return err == nil && (access != "" || refresh != "")
}

// Token returns a valid token, refreshing and persisting it when it expires
// within two minutes.
func (s *Service) Token(ctx context.Context) (*oauth2.Token, error) {
	access, refresh, expiry, scope, err := s.store.GetOAuthToken(ctx, Provider)
	if err != nil {
		return nil, err
	}
	if access == "" && refresh == "" {
		return nil, ErrNoToken
	}
	tok := &oauth2.Token{AccessToken: access, RefreshToken: refresh, Expiry: expiry, TokenType: "Bearer"}
	if !expiry.IsZero() && time.Until(expiry) > 2*time.Minute {
		return tok, nil
	}
	// Clearing the access token forces the source to refresh.
	tok.AccessToken = ""
	newTok, err := s.oauth.TokenSource(ctx, tok).Token()
	if err != nil {
		return nil, fmt.Errorf("refresh youtube token: %w", err)
	}
	if newTok.RefreshToken == "" {
		newTok.RefreshToken = refresh
	}
	if err := s.store.UpsertOAuthToken(ctx, Provider, newTok.AccessToken, newTok.RefreshToken, newTok.Expiry, scope); err != nil {
		return nil, fmt.Errorf("store refreshed youtube token: %w", err)
	}
	return newTok, nil
}

// Refresh exchanges a refresh token for a new token; used by the background refresher.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (string, string, time.Time, string, error) {
	newTok, err := s.oauth.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken}).Token()
	if err != nil {
		return "", "", time.Time{}, "", err
	}
	return newTok.AccessToken, newTok.RefreshToken, newTok.Expiry, "", nil
}

// Client returns an authenticated YouTube API client.
func (s *Service) Client(ctx context.Context) (*yt.Service, error) {
	tok, err := s.Token(ctx)
	if err != nil {
		return nil, err
	}
	opts := append([]option.ClientOption{option.WithHTTPClient(s.oauth.Client(ctx, tok))}, s.opts...)
	return yt.NewService(ctx, opts...)
}

// Video describes one upload.
type Video struct {
	Path        string
	Title       string
	Description string
	Tags        []string
	CategoryID  string
	Privacy     string
}

// Upload sends the file at v.Path and returns the new video id. Uploads are
// never marked made-for-kids.
func Upload(ctx context.Context, svc *yt.Service, v Video) (string, error) {
	if svc == nil {
		return "", errors.New("nil youtube service")
	}
	if v.Privacy == "" {
		v.Privacy = "public"
	}
	if v.CategoryID == "" {
		v.CategoryID = "22"
	}
	f, err := os.Open(v.Path)
	if err != nil {
		return "", fmt.Errorf("open file: %w", err)
	}
	defer f.Close()

	video := &yt.Video{
		Snippet: &yt.VideoSnippet{
			Title:       v.Title,
			Description: v.Description,
			Tags:        v.Tags,
			CategoryId:  v.CategoryID,
		},
		Status: &yt.VideoStatus{
			PrivacyStatus:           v.Privacy,
			SelfDeclaredMadeForKids: false,
			ForceSendFields:         []string{"SelfDeclaredMadeForKids"},
		},
	}
	res, err := svc.Videos.Insert([]string{"snippet", "status"}, video).Media(f).Context(ctx).Do()
	if err != nil {
		return "", fmt.Errorf("youtube upload: %w", err)
	}
	if res.Id == "" {
		return "", errors.New("youtube upload: empty id")
	}
	return res.Id, nil
}

// WatchURL is the public URL for a video id.
func WatchURL(id string) string { return "https://www.youtube.com/watch?v=" + id }

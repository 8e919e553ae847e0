// Package config loads environment variables into a typed Config and owns the
// operator-editable Settings file. Defaults let the binary run locally with
// only YouTube credentials set (or none, with PUBLISH_DRY_RUN=1).
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/onnwee/clip-tender/clip"
)

// Ledger backends.
const (
	LedgerFile = "file"
	LedgerDB   = "db"
)

type Config struct {
	// Storage
	DataDir      string
	DownloadDir  string
	CatalogPath  string
	SettingsPath string
	DBDsn        string // empty selects SQLite in DataDir
	LedgerBack   string

	// Fetch (yt-dlp)
	YTDLPPath        string
	YTDLPExtraArgs   []string
	FetchTimeout     time.Duration
	FetchMaxAttempts int
	FetchBackoffBase time.Duration

	// Publish (YouTube)
	YTClientID        string
	YTClientSecret    string
	YTRedirectURI     string
	YTScopes          string
	YTPrivacy         string
	YTCategoryID      string
	DefaultTags       []string
	PublishDryRun     bool
	ThrottleHeartbeat time.Duration
	AutocleanMedia    bool
	AutocleanDryRun   bool

	// Worker
	AutoStart   bool
	RunInterval time.Duration // 0 disables scheduled runs

	// HTTP
	HTTPAddr string

	// Twitch chat control
	TwitchChannel      string
	TwitchBotUsername  string
	TwitchOAuthToken   string
	TwitchClientID     string
	TwitchClientSecret string
	TwitchRedirectURI  string
	TwitchScopes       string
	ChatOperators      []string
	ChatPrefix         string
}

// Load reads environment variables and applies defaults. Malformed durations
// and numbers are errors; missing optional values disable features.
func Load() (*Config, error) {
	cfg := &Config{}
	var errs []error

	cfg.DataDir = envOr("DATA_DIR", "data")
	cfg.DownloadDir = envOr("DOWNLOAD_DIR", filepath.Join(cfg.DataDir, "downloads"))
	cfg.CatalogPath = envOr("CATALOG_PATH", filepath.Join(cfg.DataDir, "metadata.csv"))
	cfg.SettingsPath = envOr("SETTINGS_PATH", filepath.Join(cfg.DataDir, "config.json"))
	cfg.DBDsn = os.Getenv("DB_DSN")
	cfg.LedgerBack = strings.ToLower(envOr("LEDGER_BACKEND", LedgerFile))
	if cfg.LedgerBack != LedgerFile && cfg.LedgerBack != LedgerDB {
		errs = append(errs, fmt.Errorf("invalid LEDGER_BACKEND %q (want file or db)", cfg.LedgerBack))
	}

	cfg.YTDLPPath = os.Getenv("YTDLP_PATH")
	cfg.YTDLPExtraArgs = strings.Fields(os.Getenv("YTDLP_EXTRA_ARGS"))
	cfg.FetchTimeout = durationEnv("FETCH_TIMEOUT", 10*time.Minute, &errs)
	cfg.FetchMaxAttempts = intEnv("FETCH_MAX_ATTEMPTS", 3, &errs)
	cfg.FetchBackoffBase = durationEnv("FETCH_BACKOFF_BASE", 2*time.Second, &errs)

	cfg.YTClientID = os.Getenv("YT_CLIENT_ID")
	cfg.YTClientSecret = os.Getenv("YT_CLIENT_SECRET")
	cfg.YTRedirectURI = envOr("YT_REDIRECT_URI", "http://localhost:8080/auth/youtube/callback")
	cfg.YTScopes = envOr("YT_SCOPES", "https://www.googleapis.com/auth/youtube.upload")
	cfg.YTPrivacy = strings.ToLower(envOr("YT_PRIVACY", "public"))
	switch cfg.YTPrivacy {
	case "public", "unlisted", "private":
	default:
		errs = append(errs, fmt.Errorf("invalid YT_PRIVACY %q", cfg.YTPrivacy))
	}
	cfg.YTCategoryID = envOr("YT_CATEGORY_ID", "22")
	cfg.DefaultTags = clip.DefaultTags
	if v := os.Getenv("DEFAULT_TAGS"); v != "" {
		cfg.DefaultTags = splitList(v)
	}
	cfg.PublishDryRun = os.Getenv("PUBLISH_DRY_RUN") == "1"
	cfg.ThrottleHeartbeat = durationEnv("THROTTLE_HEARTBEAT", 30*time.Second, &errs)
	cfg.AutocleanMedia = os.Getenv("AUTOCLEAN_PUBLISHED") == "1"
	cfg.AutocleanDryRun = os.Getenv("AUTOCLEAN_DRY_RUN") == "1"

	cfg.AutoStart = os.Getenv("AUTO_START") == "1"
	cfg.RunInterval = durationEnv("RUN_INTERVAL", 0, &errs)

	cfg.HTTPAddr = envOr("HTTP_ADDR", ":8080")

	cfg.TwitchChannel = strings.ToLower(strings.TrimPrefix(os.Getenv("TWITCH_CHANNEL"), "#"))
	cfg.TwitchBotUsername = os.Getenv("TWITCH_BOT_USERNAME")
	cfg.TwitchOAuthToken = os.Getenv("TWITCH_OAUTH_TOKEN")
	cfg.TwitchClientID = os.Getenv("TWITCH_CLIENT_ID")
	cfg.TwitchClientSecret = os.Getenv("TWITCH_CLIENT_SECRET")
	cfg.TwitchRedirectURI = envOr("TWITCH_REDIRECT_URI", "http://localhost:8080/auth/twitch/callback")
	cfg.TwitchScopes = envOr("TWITCH_SCOPES", "chat:read chat:edit")
	for _, op := range splitList(os.Getenv("CHAT_OPERATORS")) {
		cfg.ChatOperators = append(cfg.ChatOperators, strings.ToLower(strings.TrimPrefix(op, "@")))
	}
	cfg.ChatPrefix = envOr("CHAT_PREFIX", "!")

	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks what a run needs. YouTube credentials are required unless
// publishing is a dry run.
func (c *Config) Validate() error {
	if !c.PublishDryRun && (c.YTClientID == "" || c.YTClientSecret == "") {
		return errors.New("missing youtube env: require YT_CLIENT_ID and YT_CLIENT_SECRET (or PUBLISH_DRY_RUN=1)")
	}
	if c.DataDir == "" {
		return errors.New("DATA_DIR must not be empty")
	}
	return nil
}

// ChatEnabled reports whether the chat control bot has a channel and identity.
// The token may also come from the stored twitch OAuth token.
func (c *Config) ChatEnabled() bool {
	return c.TwitchChannel != "" && c.TwitchBotUsername != ""
}

func envOr(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func durationEnv(key string, def time.Duration, errs *[]error) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil || d < 0 {
		*errs = append(*errs, fmt.Errorf("invalid %s %q: want a non-negative duration", key, v))
		return def
	}
	return d
}

func intEnv(key string, def int, errs *[]error) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("invalid %s %q: %w", key, v, err))
		return def
	}
	return n
}

// splitList splits on commas and whitespace, dropping empties.
func splitList(s string) []string {
	return strings.FieldsFunc(s, func(r rune) bool { return r == ',' || r == ' ' || r == '\t' || r == '\n' })
}

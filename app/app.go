// Package app wires storage, credentials and the pipeline from a Config. The
// service binary and clipctl share it so both see the same ledger backend,
// catalog and settings file.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/onnwee/clip-tender/catalog"
	"github.com/onnwee/clip-tender/config"
	"github.com/onnwee/clip-tender/db"
	"github.com/onnwee/clip-tender/fetch"
	"github.com/onnwee/clip-tender/ledger"
	"github.com/onnwee/clip-tender/pipeline"
	"github.com/onnwee/clip-tender/publish"
	"github.com/onnwee/clip-tender/server"
	"github.com/onnwee/clip-tender/twitchapi"
	"github.com/onnwee/clip-tender/worker"
	"github.com/onnwee/clip-tender/youtubeapi"
)

type App struct {
	Config   *config.Config
	DB       *db.DB
	Tokens   *db.TokenStore
	Runs     *db.RunStore
	Settings *config.SettingsStore
	Ledger   *ledger.Ledger
	YouTube  *youtubeapi.Service // nil without YT_CLIENT_ID
	Twitch   *twitchapi.OAuth    // nil without TWITCH_CLIENT_ID
	Pipeline *pipeline.Pipeline

	// Fetcher and Publisher default to yt-dlp and YouTube (or a dry run).
	Fetcher   fetch.Fetcher
	Publisher publish.Publisher

	catalog *catalog.Store
}

// Option customizes New, mainly to substitute collaborators in tests.
type Option func(*App)

// WithFetcher replaces the yt-dlp fetcher.
func WithFetcher(f fetch.Fetcher) Option { return func(a *App) { a.Fetcher = f } }

// WithPublisher replaces the YouTube publisher.
func WithPublisher(p publish.Publisher) Option { return func(a *App) { a.Publisher = p } }

// Open connects and migrates the database and builds the stores and OAuth
// clients. The pipeline is not built; use New for that.
func Open(ctx context.Context, cfg *config.Config) (*App, error) {
	d, err := db.Connect(cfg.DBDsn, cfg.DataDir)
	if err != nil {
		return nil, err
	}
	slog.Info("running database migrations", slog.String("component", "db_migrate"), slog.String("dialect", string(d.Dialect)))
	if err := db.Migrate(ctx, d); err != nil {
		_ = d.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	a := &App{
		Config:   cfg,
		DB:       d,
		Tokens:   &db.TokenStore{DB: d},
		Runs:     &db.RunStore{DB: d},
		Settings: config.NewSettingsStore(cfg.SettingsPath),
		catalog:  catalog.New(cfg.CatalogPath),
	}
	switch cfg.LedgerBack {
	case config.LedgerDB:
		a.Ledger = ledger.NewSQLLedger(d)
	default:
		a.Ledger = ledger.NewFileLedger(cfg.DataDir)
	}
	if cfg.YTClientID != "" {
		a.YouTube = youtubeapi.New(cfg, a.Tokens)
	}
	if cfg.TwitchClientID != "" {
		a.Twitch = &twitchapi.OAuth{ClientID: cfg.TwitchClientID, ClientSecret: cfg.TwitchClientSecret, RedirectURI: cfg.TwitchRedirectURI}
	}
	return a, nil
}

// New opens storage and builds the pipeline with yt-dlp and YouTube (or a
// dry-run publisher) unless options substitute them.
func New(ctx context.Context, cfg *config.Config, opts ...Option) (*App, error) {
	a, err := Open(ctx, cfg)
	if err != nil {
		return nil, err
	}
	for _, o := range opts {
		o(a)
	}

	if a.Fetcher == nil {
		a.Fetcher = fetch.NewYTDLP(fetch.YTDLPConfig{
			Binary:      cfg.YTDLPPath,
			DownloadDir: cfg.DownloadDir,
			ExtraArgs:   cfg.YTDLPExtraArgs,
			Timeout:     cfg.FetchTimeout,
			MaxAttempts: cfg.FetchMaxAttempts,
			BackoffBase: cfg.FetchBackoffBase,
		})
	}
	if a.Publisher == nil {
		switch {
		case cfg.PublishDryRun:
			slog.Warn("PUBLISH_DRY_RUN=1: clips will be recorded as published without uploading", slog.String("component", "publish"))
			a.Publisher = publish.DryRun{}
		case a.YouTube != nil:
			a.Publisher = publish.NewYouTube(a.YouTube, cfg.YTPrivacy, cfg.YTCategoryID)
		default:
			_ = a.Close()
			return nil, errors.New("no publisher: set YT_CLIENT_ID/YT_CLIENT_SECRET or PUBLISH_DRY_RUN=1")
		}
	}
	a.Pipeline = pipeline.New(cfg, a.Settings, a.Ledger, a.Fetcher, a.Publisher)
	a.catalog = a.Pipeline.Catalog()
	return a, nil
}

// Catalog returns the clip catalog, shared with the pipeline when built.
func (a *App) Catalog() *catalog.Store { return a.catalog }

// Worker returns a controller running the pipeline, recording run history
// and rescheduling every RUN_INTERVAL when set.
func (a *App) Worker(base context.Context) *worker.Controller {
	return worker.New(base, a.Pipeline, worker.Options{History: a.Runs, Interval: a.Config.RunInterval})
}

// ServerDeps returns the HTTP surface's collaborators.
func (a *App) ServerDeps(ctl server.Controller) server.Deps {
	return server.Deps{
		Config:   a.Config,
		Worker:   ctl,
		Settings: a.Settings,
		Catalog:  a.Catalog(),
		Ledger:   a.Ledger,
		DB:       a.DB,
		YouTube:  a.YouTube,
		Twitch:   a.Twitch,
		Tokens:   a.Tokens,
		Runs:     a.Runs,
	}
}

// Progress counts catalog items and how many are still unpublished.
func (a *App) Progress(ctx context.Context) (total, published, pending int, err error) {
	items, err := a.Catalog().All()
	if err != nil {
		return 0, 0, 0, err
	}
	done, err := a.Ledger.Published.Load(ctx)
	if err != nil {
		return 0, 0, 0, err
	}
	for _, it := range items {
		if _, ok := done[it.ID]; !ok {
			pending++
		}
	}
	return len(items), len(done), pending, nil
}

// Close releases the database.
func (a *App) Close() error { return a.DB.Close() }

// Command clip-tender is the long-running service. It:
//   - Loads configuration and initializes structured logging.
//   - Opens the database (SQLite by default, Postgres with DB_DSN) and runs migrations.
//   - Builds the fetch/publish pipeline and the worker controller; AUTO_START=1
//     starts a run immediately and RUN_INTERVAL schedules the next ones.
//   - Serves the HTTP control surface, the Twitch chat command bot and the
//     OAuth token refreshers for YouTube and Twitch.
//
// Shutdown is graceful on SIGINT/SIGTERM: the current run stops at its next
// checkpoint and resumes on the next start.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	_ "net/http/pprof" //nolint:gosec // G108: pprof endpoints enabled only when ENABLE_PPROF=1
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"github.com/onnwee/clip-tender/app"
	"github.com/onnwee/clip-tender/chat"
	"github.com/onnwee/clip-tender/config"
	"github.com/onnwee/clip-tender/logging"
	"github.com/onnwee/clip-tender/oauth"
	"github.com/onnwee/clip-tender/server"
	"github.com/onnwee/clip-tender/telemetry"
	"github.com/onnwee/clip-tender/twitchapi"
	"github.com/onnwee/clip-tender/youtubeapi"
)

var version = "dev"

func main() {
	// Local dev convenience only; production relies on real env.
	_ = godotenv.Load()

	opts, optErr := logging.OptionsFromEnv()
	_, closeLog, err := logging.Setup(os.Stdout, opts)
	if err != nil {
		slog.Error("logger setup failed", slog.Any("err", err))
		os.Exit(1)
	}
	if optErr != nil {
		slog.Warn("invalid logging env, using defaults", slog.Any("err", optErr))
	}
	code := run()
	closeLog()
	os.Exit(code)
}

func run() int {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", slog.Any("err", err))
		return 1
	}
	if err := cfg.Validate(); err != nil {
		slog.Error("invalid configuration", slog.Any("err", err))
		return 1
	}

	telemetry.Init()
	shutdownTracing, err := telemetry.InitTracing("clip-tender", version,
		attribute.String("clip_tender.ledger_backend", cfg.LedgerBack),
		attribute.Bool("clip_tender.publish_dry_run", cfg.PublishDryRun),
	)
	if err != nil {
		slog.Error("tracing initialization failed", slog.Any("err", err))
		return 1
	}
	defer shutdownTracing()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg)
	if err != nil {
		slog.Error("startup failed", slog.Any("err", err))
		return 1
	}
	defer func() {
		if err := a.Close(); err != nil {
			slog.Error("failed to close database", slog.Any("err", err))
		}
	}()

	w := a.Worker(ctx)
	if cfg.AutoStart {
		if err := w.Start(); err != nil {
			slog.Error("auto start failed", slog.Any("err", err))
		}
	} else {
		slog.Info("worker idle; start it with POST /worker/start or the !start chat command", slog.String("component", "worker"))
	}

	// Refreshers only run for providers with credentials configured.
	if a.YouTube != nil {
		oauth.StartRefresher(ctx, a.Tokens, youtubeapi.Provider, 10*time.Minute, 20*time.Minute, a.YouTube.Refresh)
	}
	if a.Twitch != nil {
		oauth.StartRefresher(ctx, a.Tokens, twitchapi.Provider, 5*time.Minute, 15*time.Minute, a.Twitch.Refresh)
	}

	if os.Getenv("ENABLE_PPROF") == "1" {
		startPprof()
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return server.Start(gctx, a.ServerDeps(w), cfg.HTTPAddr) })
	g.Go(func() error {
		cmds := chat.NewCommands(w, a.Settings, cfg.ChatPrefix, cfg.ChatOperators)
		// The bot is optional; a chat failure never takes the service down.
		switch err := chat.Run(gctx, cfg, cmds, a.Tokens); {
		case errors.Is(err, chat.ErrNoCredentials):
			slog.Warn("twitch chat disabled: no bot token (set TWITCH_OAUTH_TOKEN or visit /auth/twitch/start)", slog.String("component", "chat"))
		case err != nil && !errors.Is(err, context.Canceled):
			slog.Error("twitch chat stopped", slog.String("component", "chat"), slog.Any("err", err))
		}
		return nil
	})

	err = g.Wait()
	stop()
	if werr := w.Wait(context.Background()); werr != nil {
		slog.Warn("worker did not stop cleanly", slog.Any("err", werr))
	}
	if err != nil {
		slog.Error("service exited with error", slog.Any("err", err))
		return 1
	}
	slog.Info("shut down")
	return 0
}

func startPprof() {
	addr := os.Getenv("PPROF_ADDR")
	if addr == "" {
		addr = "localhost:6060"
	}
	go func() {
		slog.Info("pprof profiling enabled", slog.String("addr", addr))
		srv := &http.Server{
			Addr:              addr,
			Handler:           nil, // default mux exposes /debug/pprof
			ReadHeaderTimeout: 5 * time.Second,
			ReadTimeout:       10 * time.Second,
			WriteTimeout:      10 * time.Second,
			IdleTimeout:       60 * time.Second,
		}
		if err := srv.ListenAndServe(); err != nil {
			slog.Error("pprof server error", slog.Any("err", err))
		}
	}()
}

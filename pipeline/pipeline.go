// Package pipeline composes run-state resolution, the fetch stage and the
// publish scheduler into one cancellable unit of work.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/onnwee/clip-tender/catalog"
	"github.com/onnwee/clip-tender/config"
	"github.com/onnwee/clip-tender/fetch"
	"github.com/onnwee/clip-tender/ledger"
	"github.com/onnwee/clip-tender/publish"
	"github.com/onnwee/clip-tender/runstate"
	"github.com/onnwee/clip-tender/telemetry"
)

// SettingsSource yields the operator settings for a run.
type SettingsSource interface {
	Load() (config.Settings, error)
}

// Report describes what one run did.
type Report struct {
	RunState runstate.State
	Fetch    fetch.Stats
	Publish  publish.Result
}

// Pipeline is the unit of work the worker controller runs.
type Pipeline struct {
	settings  SettingsSource
	runState  *runstate.Manager
	fetch     *fetch.Stage
	publish   *publish.Scheduler
	catalog   *catalog.Store
	published ledger.Set

	// Sweeper, when set, removes published media at the end of a run.
	Sweeper *publish.Cleaner
	// DownloadDir is scanned for stale partial downloads after each run.
	DownloadDir string
	// PartialMaxAge bounds how long partial downloads are kept.
	PartialMaxAge time.Duration
}

// New wires a pipeline over the given storage and collaborators.
func New(cfg *config.Config, settings SettingsSource, led *ledger.Ledger, f fetch.Fetcher, p publish.Publisher) *Pipeline {
	cat := catalog.New(cfg.CatalogPath)
	sched := publish.NewScheduler(cat, led.Published, p, cfg.DownloadDir)
	if len(cfg.DefaultTags) > 0 {
		sched.DefaultTags = cfg.DefaultTags
	}
	if cfg.ThrottleHeartbeat > 0 {
		sched.Heartbeat = cfg.ThrottleHeartbeat
	}
	pl := &Pipeline{
		settings:      settings,
		runState:      runstate.New(cfg.DataDir, cat, led.Fetched),
		fetch:         fetch.NewStage(f, cat, led.Fetched),
		publish:       sched,
		catalog:       cat,
		published:     led.Published,
		DownloadDir:   cfg.DownloadDir,
		PartialMaxAge: 6 * time.Hour,
	}
	if cfg.AutocleanMedia {
		cl := &publish.Cleaner{Dir: cfg.DownloadDir, DryRun: cfg.AutocleanDryRun}
		sched.Cleaner = cl
		pl.Sweeper = cl
	}
	return pl
}

// Scheduler exposes the publish scheduler for tuning.
func (p *Pipeline) Scheduler() *publish.Scheduler { return p.publish }

// Catalog exposes the catalog for status reporting.
func (p *Pipeline) Catalog() *catalog.Store { return p.catalog }

// Run executes one pipeline pass. A cancelled context at any checkpoint
// returns the context error and leaves the run marker unset, so the next run
// resumes. Stage errors are wrapped with the stage name.
func (p *Pipeline) Run(ctx context.Context) (rep Report, err error) {
	ctx, span := telemetry.StartSpan(ctx, telemetry.TracerName, "pipeline.run")
	defer func() { telemetry.EndSpan(span, err) }()
	logger := telemetry.LoggerWithCorr(ctx).With(slog.String("component", "pipeline"))

	st, err := p.settings.Load()
	if err != nil {
		return rep, fmt.Errorf("settings: %w", err)
	}
	if err := st.Validate(); err != nil {
		return rep, fmt.Errorf("settings: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return rep, err
	}

	if err := p.stage(ctx, "runstate", func(ctx context.Context) error {
		var serr error
		rep.RunState, serr = p.runState.Resolve(ctx)
		return serr
	}); err != nil {
		return rep, err
	}
	logger.Info("run state resolved", slog.String("run_state", string(rep.RunState)))

	creators := st.CreatorTasks()
	if err := p.stage(ctx, "fetch", func(ctx context.Context) error {
		var serr error
		rep.Fetch, serr = p.fetch.Run(ctx, creators, st.VideosPerCreator)
		return serr
	}, attribute.Int("creators", len(creators)), attribute.Int("limit", st.VideosPerCreator)); err != nil {
		return rep, err
	}
	if n, cerr := p.catalog.Count(); cerr == nil {
		telemetry.SetCatalogItems(n)
	}

	if err := p.stage(ctx, "publish", func(ctx context.Context) error {
		var serr error
		rep.Publish, serr = p.publish.Run(ctx, st.MaxUploadsPerDay)
		return serr
	}, attribute.Int("max_per_run", st.MaxUploadsPerDay)); err != nil {
		return rep, err
	}

	if err := ctx.Err(); err != nil {
		return rep, err
	}
	if p.Sweeper != nil {
		if _, serr := p.Sweeper.Sweep(ctx, p.catalog, p.published); serr != nil {
			logger.Warn("media sweep failed", slog.Any("err", serr))
		}
	}
	if p.DownloadDir != "" {
		publish.RemovePartials(p.DownloadDir, p.PartialMaxAge)
	}
	if err := p.runState.MarkComplete(ctx); err != nil {
		return rep, fmt.Errorf("runstate stage: %w", err)
	}
	logger.Info("run complete",
		slog.Int("creators_fetched", rep.Fetch.Fetched),
		slog.Int("published", rep.Publish.Published),
		slog.Int("pending", rep.Publish.Pending-rep.Publish.Published))
	return rep, nil
}

// stage runs fn inside a span. Cancellation passes through unwrapped so
// callers can match it with errors.Is; other errors carry the stage name.
func (p *Pipeline) stage(ctx context.Context, name string, fn func(context.Context) error, attrs ...attribute.KeyValue) (err error) {
	ctx, span := telemetry.StartSpan(ctx, telemetry.TracerName, name+".stage", attrs...)
	defer func() { telemetry.EndSpan(span, err) }()
	if err := fn(ctx); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil && err == ctxErr {
			return err
		}
		return fmt.Errorf("%s stage: %w", name, err)
	}
	return nil
}

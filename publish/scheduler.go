// Package publish uploads catalogued clips that are not yet in the publish
// ledger, at most maxPerRun per run and spaced evenly across a day.
package publish

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/onnwee/clip-tender/clip"
	"github.com/onnwee/clip-tender/ledger"
	"github.com/onnwee/clip-tender/telemetry"
)

// Publisher uploads one staged media file and returns the remote id.
type Publisher interface {
	Publish(ctx context.Context, media, title, description string, tags []string) (string, error)
}

// Source lists catalogued clips in catalog order.
type Source interface {
	All() ([]clip.Item, error)
}

// Result summarises one scheduler run.
type Result struct {
	Pending      int
	Published    int
	Failed       int
	MissingMedia int
}

// Scheduler runs the publish loop.
type Scheduler struct {
	source    Source
	published ledger.Set
	publisher Publisher
	mediaDir  string

	// DefaultTags lead every upload's tag list.
	DefaultTags []string
	// Heartbeat is the throttle log interval.
	Heartbeat time.Duration
	// Throttle maps the cap to the wait between uploads.
	Throttle func(maxPerRun int) time.Duration
	// Cleaner, when set, removes staged media after each upload.
	Cleaner *Cleaner
}

// NewScheduler wires a scheduler with the default tags and Interval throttle.
func NewScheduler(src Source, published ledger.Set, p Publisher, mediaDir string) *Scheduler {
	return &Scheduler{
		source:      src,
		published:   published,
		publisher:   p,
		mediaDir:    mediaDir,
		DefaultTags: clip.DefaultTags,
		Heartbeat:   DefaultHeartbeat,
		Throttle:    Interval,
	}
}

// Run publishes pending clips in catalog order. maxPerRun <= 0 means no cap
// and no throttling. Upload failures are logged and skipped; a failure to
// record a completed upload aborts the run.
func (s *Scheduler) Run(ctx context.Context, maxPerRun int) (Result, error) {
	var res Result
	logger := telemetry.LoggerWithCorr(ctx).With(slog.String("component", "publish"))

	done, err := s.published.Load(ctx)
	if err != nil {
		return res, fmt.Errorf("load publish ledger: %w", err)
	}
	items, err := s.source.All()
	if err != nil {
		return res, fmt.Errorf("read catalog: %w", err)
	}
	pending := make([]clip.Item, 0, len(items))
	for _, it := range items {
		if _, ok := done[it.ID]; !ok {
			pending = append(pending, it)
		}
	}
	res.Pending = len(pending)
	telemetry.SetPending(len(pending))
	telemetry.SetPublishedInRun(0)
	if len(pending) == 0 {
		logger.Info("nothing to publish")
		return res, nil
	}
	logger.Info("publishing", slog.Int("pending", len(pending)), slog.Int("max_per_run", maxPerRun))

	throttle := s.Throttle
	if throttle == nil {
		throttle = Interval
	}

	for i, it := range pending {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		if maxPerRun > 0 && res.Published >= maxPerRun {
			logger.Info("upload cap reached", slog.Int("published", res.Published))
			break
		}
		ilog := logger.With(slog.String("creator", it.Creator), slog.String("item_id", it.ID))

		media := it.MediaPath(s.mediaDir)
		if _, err := os.Stat(media); err != nil {
			ilog.Warn("staged media missing, skipping", slog.String("path", media), slog.Any("err", err))
			telemetry.CountPublish(telemetry.ResultMissingMedia)
			res.MissingMedia++
			continue
		}

		tags := it.Tags(s.DefaultTags)
		start := time.Now()
		remoteID, err := s.publisher.Publish(ctx, media, it.Title(), it.PublishDescription(tags), tags)
		telemetry.Observe(telemetry.PublishDuration, time.Since(start))
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil && errors.Is(err, ctxErr) {
				return res, ctxErr
			}
			ilog.Error("upload failed", slog.Any("err", err))
			telemetry.CountPublish(telemetry.ResultFailed)
			res.Failed++
			continue
		}
		// Record with a fresh context: the upload already happened.
		if err := s.published.Add(context.WithoutCancel(ctx), it.ID); err != nil {
			ilog.Error("uploaded but not recorded, reconcile manually", slog.String("remote_id", remoteID), slog.Any("err", err))
			return res, fmt.Errorf("record publish of %s: %w", it.ID, err)
		}
		res.Published++
		telemetry.CountPublish(telemetry.ResultPublished)
		telemetry.SetPublishedInRun(res.Published)
		telemetry.SetPending(len(pending) - i - 1)
		ilog.Info("clip published", slog.String("remote_id", remoteID), slog.Int("published", res.Published))
		if s.Cleaner != nil {
			s.Cleaner.Remove(ilog, it)
		}

		// Only pace when something publishable remains.
		if maxPerRun > 0 && res.Published < maxPerRun && s.anyStaged(pending[i+1:]) {
			if err := Wait(ctx, throttle(maxPerRun), s.Heartbeat, ilog); err != nil {
				return res, err
			}
		}
	}

	logger.Info("publish stage finished",
		slog.Int("pending", res.Pending), slog.Int("published", res.Published),
		slog.Int("failed", res.Failed), slog.Int("missing_media", res.MissingMedia))
	return res, nil
}

func (s *Scheduler) anyStaged(items []clip.Item) bool {
	for _, it := range items {
		if _, err := os.Stat(it.MediaPath(s.mediaDir)); err == nil {
			return true
		}
	}
	return false
}

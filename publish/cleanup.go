package publish

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/onnwee/clip-tender/clip"
	"github.com/onnwee/clip-tender/ledger"
	"github.com/onnwee/clip-tender/telemetry"
)

// Cleaner deletes staged media for clips that are already published.
type Cleaner struct {
	Dir    string
	DryRun bool
}

// CleanupStats reports one sweep.
type CleanupStats struct {
	Removed    int
	Missing    int
	Errors     int
	BytesFreed int64
}

// Remove deletes the staged media of a single published clip.
func (c *Cleaner) Remove(logger *slog.Logger, it clip.Item) {
	var st CleanupStats
	c.remove(logger, it, &st)
}

func (c *Cleaner) remove(logger *slog.Logger, it clip.Item, st *CleanupStats) {
	path := it.MediaPath(c.Dir)
	fi, err := os.Stat(path)
	if os.IsNotExist(err) {
		st.Missing++
		return
	} else if err != nil {
		logger.Warn("failed to stat media", slog.String("path", path), slog.Any("err", err))
		st.Errors++
		return
	}
	if c.DryRun {
		logger.Info("dry-run: would delete media", slog.String("path", path), slog.Int64("size_bytes", fi.Size()))
		st.Removed++
		return
	}
	if err := os.Remove(path); err != nil {
		logger.Warn("failed to delete media", slog.String("path", path), slog.Any("err", err))
		st.Errors++
		return
	}
	st.Removed++
	st.BytesFreed += fi.Size()
	telemetry.CountCleanup(1)
	logger.Debug("deleted published media", slog.String("path", path), slog.Int64("size_bytes", fi.Size()))
}

// Sweep removes staged media for every catalogued clip in the publish set.
func (c *Cleaner) Sweep(ctx context.Context, src Source, published ledger.Set) (CleanupStats, error) {
	var st CleanupStats
	logger := telemetry.LoggerWithCorr(ctx).With(
		slog.String("component", "media_cleanup"),
		slog.Bool("dry_run", c.DryRun),
	)
	done, err := published.Load(ctx)
	if err != nil {
		return st, fmt.Errorf("load publish ledger: %w", err)
	}
	items, err := src.All()
	if err != nil {
		return st, fmt.Errorf("read catalog: %w", err)
	}
	for _, it := range items {
		if err := ctx.Err(); err != nil {
			return st, err
		}
		if _, ok := done[it.ID]; !ok {
			continue
		}
		c.remove(logger.With(slog.String("item_id", it.ID)), it, &st)
	}
	mode := "cleanup"
	if c.DryRun {
		mode = "dry-run"
	}
	logger.Info("media cleanup completed",
		slog.String("mode", mode),
		slog.Int("removed", st.Removed),
		slog.Int("errors", st.Errors),
		slog.Int64("bytes_freed", st.BytesFreed))
	return st, nil
}

// RemovePartials deletes yt-dlp leftovers (.part, .ytdl, .tmp) older than
// maxAge from dir and returns how many were removed.
func RemovePartials(dir string, maxAge time.Duration) int {
	if maxAge <= 0 {
		return 0
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		if !os.IsNotExist(err) {
			slog.Warn("failed to read download dir for partial cleanup", slog.String("dir", dir), slog.Any("err", err))
		}
		return 0
	}
	now := time.Now()
	var removed, failed int
	for _, e := range entries {
		name := e.Name()
		if !strings.HasSuffix(name, ".part") && !strings.HasSuffix(name, ".ytdl") && !strings.HasSuffix(name, ".tmp") {
			continue
		}
		fi, err := e.Info()
		if err != nil || now.Sub(fi.ModTime()) <= maxAge {
			continue
		}
		path := filepath.Join(dir, name)
		if err := os.Remove(path); err != nil {
			failed++
			slog.Warn("failed to remove partial download", slog.String("path", path), slog.Any("err", err))
			continue
		}
		removed++
	}
	if removed > 0 || failed > 0 {
		slog.Info("partial download cleanup completed", slog.Int("removed", removed), slog.Int("failed", failed))
	}
	return removed
}

// Package fetch harvests clip metadata (and staged media) per creator into the
// catalog, recording each finished creator so an interrupted run resumes
// without repeating work.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/onnwee/clip-tender/clip"
	"github.com/onnwee/clip-tender/ledger"
	"github.com/onnwee/clip-tender/telemetry"
)

// Fetcher retrieves up to limit recent clips for a creator, staging their
// media in the download directory. Implementations must honour ctx.
type Fetcher interface {
	Fetch(ctx context.Context, handle string, limit int) ([]clip.Item, error)
}

// Catalog is the subset of catalog.Store the stage writes to.
type Catalog interface {
	Append(items []clip.Item) (int, error)
	Compact() (int, error)
}

// Stats summarises one stage invocation.
type Stats struct {
	Fetched    int
	Skipped    int
	Empty      int
	Failed     int
	ItemsAdded int
}

// Stage runs the fetch loop.
type Stage struct {
	fetcher Fetcher
	catalog Catalog
	fetched ledger.Set
}

// NewStage wires a fetch stage.
func NewStage(f Fetcher, c Catalog, fetched ledger.Set) *Stage {
	return &Stage{fetcher: f, catalog: c, fetched: fetched}
}

// Run harvests each creator not yet recorded in the fetch set. A creator's
// Count overrides limit when positive. Fetcher failures are logged and the
// loop moves on; catalog or ledger failures abort. Cancellation is checked
// before every creator and returns ctx.Err().
func (s *Stage) Run(ctx context.Context, creators []clip.Creator, limit int) (Stats, error) {
	var st Stats
	logger := telemetry.LoggerWithCorr(ctx).With(slog.String("component", "fetch"))

	done, err := s.fetched.Load(ctx)
	if err != nil {
		return st, fmt.Errorf("load fetch progress: %w", err)
	}

	for _, c := range creators {
		if err := ctx.Err(); err != nil {
			return st, err
		}
		clog := logger.With(slog.String("creator", c.Handle))
		if _, ok := done[c.Handle]; ok {
			clog.Info("creator already harvested this run, skipping")
			telemetry.CountFetch(telemetry.ResultSkipped)
			st.Skipped++
			continue
		}

		n := limit
		if c.Count > 0 {
			n = c.Count
		}
		start := time.Now()
		items, err := s.fetcher.Fetch(ctx, c.Handle, n)
		telemetry.Observe(telemetry.FetchDuration, time.Since(start))
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return st, ctxErr
			}
			if errors.Is(err, ErrNoItems) {
				clog.Warn("no clips returned, will retry next run")
				telemetry.CountFetch(telemetry.ResultEmpty)
				st.Empty++
				continue
			}
			// Partial harvests are cataloged but the creator stays unmarked.
			if len(items) > 0 {
				added, aerr := s.appendItems(c.Handle, items)
				if aerr != nil {
					return st, aerr
				}
				telemetry.AddFetchedItems(added)
				st.ItemsAdded += added
			}
			clog.Error("harvest failed", slog.Any("err", err), slog.String("class", Classify(err).String()), slog.Int("partial_items", len(items)))
			telemetry.CountFetch(telemetry.ResultFailed)
			st.Failed++
			continue
		}
		if len(items) == 0 {
			clog.Warn("no clips returned, will retry next run")
			telemetry.CountFetch(telemetry.ResultEmpty)
			st.Empty++
			continue
		}
		added, err := s.appendItems(c.Handle, items)
		if err != nil {
			return st, err
		}
		if err := s.fetched.Add(ctx, c.Handle); err != nil {
			return st, fmt.Errorf("record fetch progress for %s: %w", c.Handle, err)
		}
		done[c.Handle] = struct{}{}
		telemetry.CountFetch(telemetry.ResultFetched)
		telemetry.AddFetchedItems(added)
		st.Fetched++
		st.ItemsAdded += added
		clog.Info("creator harvested", slog.Int("returned", len(items)), slog.Int("added", added), slog.Duration("took", time.Since(start)))
	}

	if _, err := s.catalog.Compact(); err != nil {
		return st, fmt.Errorf("compact catalog: %w", err)
	}
	logger.Info("fetch stage finished",
		slog.Int("fetched", st.Fetched), slog.Int("skipped", st.Skipped),
		slog.Int("empty", st.Empty), slog.Int("failed", st.Failed), slog.Int("items_added", st.ItemsAdded))
	return st, nil
}

func (s *Stage) appendItems(handle string, items []clip.Item) (int, error) {
	for i := range items {
		items[i].Creator = handle
	}
	added, err := s.catalog.Append(items)
	if err != nil {
		return 0, fmt.Errorf("append catalog for %s: %w", handle, err)
	}
	return added, nil
}

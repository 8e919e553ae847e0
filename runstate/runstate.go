// Package runstate decides at pipeline start whether the previous run finished
// (start fresh) or was interrupted (resume where it stopped).
package runstate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/onnwee/clip-tender/ledger"
)

// MarkerName is the presence-only file written when a run completes.
const MarkerName = "run_complete.marker"

// State is the outcome of Resolve.
type State string

const (
	Fresh   State = "fresh"
	Resumed State = "resumed"
)

// Resetter clears run-scoped storage.
type Resetter interface {
	Reset() error
}

// Manager owns the run marker.
type Manager struct {
	dir     string
	catalog Resetter
	fetched ledger.Set
}

// New returns a manager whose marker lives in dir. catalog and fetched are
// cleared when a new run begins.
func New(dir string, catalog Resetter, fetched ledger.Set) *Manager {
	return &Manager{dir: dir, catalog: catalog, fetched: fetched}
}

// MarkerPath returns the marker file path.
func (m *Manager) MarkerPath() string { return filepath.Join(m.dir, MarkerName) }

// Completed reports whether the marker is present.
func (m *Manager) Completed() (bool, error) {
	_, err := os.Stat(m.MarkerPath())
	if err == nil {
		return true, nil
	}
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	return false, fmt.Errorf("stat run marker: %w", err)
}

// Resolve returns Fresh after clearing the catalog and fetch set when the
// previous run completed, or Resumed without touching anything otherwise.
// The marker is removed last so a crash mid-reset repeats the reset.
func (m *Manager) Resolve(ctx context.Context) (State, error) {
	done, err := m.Completed()
	if err != nil {
		return "", err
	}
	if !done {
		slog.Info("previous run incomplete, resuming", slog.String("component", "runstate"))
		return Resumed, nil
	}
	if err := m.catalog.Reset(); err != nil {
		return "", fmt.Errorf("reset catalog: %w", err)
	}
	if err := m.fetched.Reset(ctx); err != nil {
		return "", fmt.Errorf("reset fetch progress: %w", err)
	}
	if err := os.Remove(m.MarkerPath()); err != nil && !errors.Is(err, os.ErrNotExist) {
		return "", fmt.Errorf("remove run marker: %w", err)
	}
	slog.Info("previous run complete, starting fresh", slog.String("component", "runstate"))
	return Fresh, nil
}

// MarkComplete writes the marker durably.
func (m *Manager) MarkComplete(ctx context.Context) error {
	if err := os.MkdirAll(m.dir, 0o755); err != nil {
		return fmt.Errorf("mkdir data dir: %w", err)
	}
	f, err := os.Create(m.MarkerPath())
	if err != nil {
		return fmt.Errorf("create run marker: %w", err)
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return fmt.Errorf("sync run marker: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close run marker: %w", err)
	}
	slog.Info("run marked complete", slog.String("component", "runstate"))
	return nil
}

package server

import (
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
)

// HandleHealthz is the liveness probe. It only checks that the process serves.
func (h *Handlers) HandleHealthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// HandleReadyz reports whether a run could succeed right now: data dir
// writable, database reachable, settings valid and publish credentials present.
func (h *Handlers) HandleReadyz(w http.ResponseWriter, r *http.Request) {
	cfg := h.deps.Config
	checks := []struct {
		name string
		fn   func() error
	}{
		{"data_dir", func() error { return checkWritable(cfg.DataDir) }},
		{"database", func() error {
			if h.deps.DB == nil {
				return nil
			}
			return h.deps.DB.Ping(r.Context())
		}},
		{"settings", func() error {
			if h.deps.Settings == nil {
				return nil
			}
			st, err := h.deps.Settings.Load()
			if err != nil {
				return err
			}
			return st.Validate()
		}},
		{"credentials", func() error {
			if cfg.PublishDryRun {
				return nil
			}
			if h.deps.YouTube == nil || !h.deps.YouTube.HasToken(r.Context()) {
				return errors.New("missing youtube oauth token (visit /auth/youtube/start)")
			}
			return nil
		}},
	}

	for _, check := range checks {
		if err := check.fn(); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{
				"status":       "not_ready",
				"failed_check": check.name,
				"error":        err.Error(),
			})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func checkWritable(dir string) error {
	if dir == "" {
		return errors.New("data dir not set")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	f, err := os.CreateTemp(dir, ".readyz-*")
	if err != nil {
		return fmt.Errorf("data dir not writable: %w", err)
	}
	name := f.Name()
	_ = f.Close()
	return os.Remove(filepath.Clean(name))
}

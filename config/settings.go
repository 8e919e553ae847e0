package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/onnwee/clip-tender/clip"
)

// Defaults for operator settings.
const (
	DefaultVideosPerCreator = 10
	DefaultMaxUploadsPerDay = 5
)

// Settings are the operator-editable knobs read at the start of every run.
type Settings struct {
	Creators         []string `json:"creators"`
	VideosPerCreator int      `json:"videos_per_creator"`
	MaxUploadsPerDay int      `json:"max_uploads_per_day"`
}

// DefaultSettings returns the settings used when no file exists.
func DefaultSettings() Settings {
	return Settings{Creators: []string{}, VideosPerCreator: DefaultVideosPerCreator, MaxUploadsPerDay: DefaultMaxUploadsPerDay}
}

// Validate rejects values the pipeline cannot use. MaxUploadsPerDay 0 means uncapped.
func (s Settings) Validate() error {
	if s.VideosPerCreator < 1 {
		return fmt.Errorf("videos_per_creator must be >= 1, got %d", s.VideosPerCreator)
	}
	if s.MaxUploadsPerDay < 0 {
		return fmt.Errorf("max_uploads_per_day must be >= 0, got %d", s.MaxUploadsPerDay)
	}
	return nil
}

// CreatorTasks returns the normalized, deduplicated creator list.
func (s Settings) CreatorTasks() []clip.Creator { return clip.Creators(s.Creators) }

// fileSettings also accepts the key names used by older config files.
type fileSettings struct {
	Creators         []string `json:"creators"`
	VideosPerCreator *int     `json:"videos_per_creator"`
	MaxUploadsPerDay *int     `json:"max_uploads_per_day"`

	LegacyCreators []string `json:"tiktok_creators,omitempty"`
	LegacyVideos   *int     `json:"videos_to_check_per_creator,omitempty"`
}

// SettingsStore persists Settings as JSON. Every operation holds one mutex so
// concurrent edits from HTTP, chat and the CLI never interleave.
type SettingsStore struct {
	path string
	mu   sync.Mutex
}

// NewSettingsStore returns a store for the JSON file at path.
func NewSettingsStore(path string) *SettingsStore {
	return &SettingsStore{path: path}
}

// Path returns the settings file path.
func (s *SettingsStore) Path() string { return s.path }

// Load returns the stored settings, or defaults when the file does not exist.
func (s *SettingsStore) Load() (Settings, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loadLocked()
}

// Save validates and replaces the stored settings.
func (s *SettingsStore) Save(st Settings) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saveLocked(st)
}

// Update applies fn to the current settings and saves the result atomically
// with respect to other store calls. If fn errors nothing is written.
func (s *SettingsStore) Update(fn func(*Settings) error) (Settings, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, err := s.loadLocked()
	if err != nil {
		return Settings{}, err
	}
	if err := fn(&st); err != nil {
		return Settings{}, err
	}
	if err := s.saveLocked(st); err != nil {
		return Settings{}, err
	}
	return st, nil
}

// ErrCreatorExists and ErrCreatorMissing are returned by AddCreator/RemoveCreator.
var (
	ErrCreatorExists  = errors.New("creator already configured")
	ErrCreatorMissing = errors.New("creator not configured")
)

// AddCreator appends a normalized handle.
func (s *SettingsStore) AddCreator(handle string) (Settings, error) {
	h := clip.NormalizeHandle(handle)
	if h == "" {
		return Settings{}, errors.New("empty creator handle")
	}
	return s.Update(func(st *Settings) error {
		for _, c := range st.Creators {
			if clip.NormalizeHandle(c) == h {
				return fmt.Errorf("%s: %w", h, ErrCreatorExists)
			}
		}
		st.Creators = append(st.Creators, h)
		return nil
	})
}

// RemoveCreator drops a handle, matching after normalization.
func (s *SettingsStore) RemoveCreator(handle string) (Settings, error) {
	h := clip.NormalizeHandle(handle)
	return s.Update(func(st *Settings) error {
		out := st.Creators[:0:0]
		for _, c := range st.Creators {
			if clip.NormalizeHandle(c) != h {
				out = append(out, c)
			}
		}
		if len(out) == len(st.Creators) {
			return fmt.Errorf("%s: %w", h, ErrCreatorMissing)
		}
		st.Creators = out
		return nil
	})
}

// SetLimits updates the per-run caps.
func (s *SettingsStore) SetLimits(maxUploadsPerDay, videosPerCreator int) (Settings, error) {
	return s.Update(func(st *Settings) error {
		st.MaxUploadsPerDay = maxUploadsPerDay
		st.VideosPerCreator = videosPerCreator
		return st.Validate()
	})
}

func (s *SettingsStore) loadLocked() (Settings, error) {
	st := DefaultSettings()
	b, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return st, nil
		}
		return Settings{}, fmt.Errorf("read settings: %w", err)
	}
	var f fileSettings
	if err := json.Unmarshal(b, &f); err != nil {
		return Settings{}, fmt.Errorf("parse settings %s: %w", s.path, err)
	}
	switch {
	case f.Creators != nil:
		st.Creators = f.Creators
	case f.LegacyCreators != nil:
		st.Creators = f.LegacyCreators
	}
	switch {
	case f.VideosPerCreator != nil:
		st.VideosPerCreator = *f.VideosPerCreator
	case f.LegacyVideos != nil:
		st.VideosPerCreator = *f.LegacyVideos
	}
	if f.MaxUploadsPerDay != nil {
		st.MaxUploadsPerDay = *f.MaxUploadsPerDay
	}
	return st, nil
}

func (s *SettingsStore) saveLocked(st Settings) error {
	if err := st.Validate(); err != nil {
		return err
	}
	if st.Creators == nil {
		st.Creators = []string{}
	}
	b, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return fmt.Errorf("encode settings: %w", err)
	}
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("mkdir settings dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(s.path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create settings temp: %w", err)
	}
	name := tmp.Name()
	if _, err := tmp.Write(append(b, '\n')); err != nil {
		_ = tmp.Close()
		_ = os.Remove(name)
		return fmt.Errorf("write settings: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		_ = os.Remove(name)
		return fmt.Errorf("sync settings: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(name)
		return fmt.Errorf("close settings: %w", err)
	}
	if err := os.Rename(name, s.path); err != nil {
		_ = os.Remove(name)
		return fmt.Errorf("replace settings: %w", err)
	}
	return nil
}

package ledger

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// FileSet stores one id per line. Writes append and fsync before returning.
type FileSet struct {
	path string
	mu   sync.Mutex
}

// NewFileSet returns a set backed by path. The file is created on first Add.
func NewFileSet(path string) *FileSet {
	return &FileSet{path: path}
}

// NewFileLedger returns a ledger whose sets live under dir as
// fetched_creators.txt and published_items.txt.
func NewFileLedger(dir string) *Ledger {
	return &Ledger{
		Fetched:   NewFileSet(filepath.Join(dir, SetFetched+".txt")),
		Published: NewFileSet(filepath.Join(dir, SetPublished+".txt")),
	}
}

func (s *FileSet) Load(ctx context.Context) (map[string]struct{}, error) {
	ids, err := s.List(ctx)
	if err != nil {
		return nil, err
	}
	out := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		out[id] = struct{}{}
	}
	return out, nil
}

func (s *FileSet) List(ctx context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.readLocked()
}

func (s *FileSet) Contains(ctx context.Context, id string) (bool, error) {
	ids, err := s.Load(ctx)
	if err != nil {
		return false, err
	}
	_, ok := ids[strings.TrimSpace(id)]
	return ok, nil
}

func (s *FileSet) Add(ctx context.Context, id string) error {
	id = strings.TrimSpace(id)
	if id == "" {
		return errors.New("ledger: empty id")
	}
	if strings.ContainsAny(id, "\r\n") {
		return fmt.Errorf("ledger: id %q contains a newline", id)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, err := s.readLocked()
	if err != nil {
		return err
	}
	for _, e := range existing {
		if e == id {
			return nil
		}
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("mkdir ledger dir: %w", err)
	}
	f, err := os.OpenFile(s.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open ledger %s: %w", s.path, err)
	}
	if _, err := f.WriteString(id + "\n"); err != nil {
		_ = f.Close()
		return fmt.Errorf("append ledger %s: %w", s.path, err)
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return fmt.Errorf("sync ledger %s: %w", s.path, err)
	}
	return f.Close()
}

func (s *FileSet) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := os.Remove(s.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("reset ledger %s: %w", s.path, err)
	}
	return nil
}

// readLocked returns ids in file order with blanks and repeats dropped.
func (s *FileSet) readLocked() ([]string, error) {
	f, err := os.Open(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("open ledger %s: %w", s.path, err)
	}
	defer f.Close()
	var out []string
	seen := map[string]struct{}{}
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		id := strings.TrimSpace(sc.Text())
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read ledger %s: %w", s.path, err)
	}
	return out, nil
}

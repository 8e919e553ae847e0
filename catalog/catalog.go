// Package catalog persists harvested clip metadata as a CSV table keyed by clip id.
//
// The table is append-oriented: the fetch stage appends rows for ids it has not
// seen, and a compaction pass collapses any duplicate ids (last row wins) by
// rewriting the file atomically. Readers see rows in file order, which is the
// order the publish scheduler walks.
package catalog

import (
	"bufio"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/onnwee/clip-tender/clip"
)

// Column names. The first three are required; extra columns are ignored on read.
const (
	ColID          = "video_id"
	ColCreator     = "author_username"
	ColDescription = "video_description"
	ColFetchedAt   = "fetched_at"
)

var header = []string{ColID, ColCreator, ColDescription, ColFetchedAt}

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// Store is a file-backed metadata table. Methods are safe for concurrent use;
// the fetch stage is expected to be the only writer.
type Store struct {
	path string
	mu   sync.Mutex
	now  func() time.Time
}

// New returns a store backed by the CSV file at path. The file is created lazily.
func New(path string) *Store {
	return &Store{path: path, now: time.Now}
}

// Path returns the backing file path.
func (s *Store) Path() string { return s.path }

type row struct {
	item      clip.Item
	fetchedAt string
}

// All returns every row in file order. A missing file is an empty table.
func (s *Store) All() ([]clip.Item, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rows, err := s.read()
	if err != nil {
		return nil, err
	}
	out := make([]clip.Item, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.item)
	}
	return out, nil
}

// Count returns the number of rows (duplicates included until compaction).
func (s *Store) Count() (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rows, err := s.read()
	return len(rows), err
}

// Append writes items whose id is not already present and returns how many were added.
func (s *Store) Append(items []clip.Item) (int, error) {
	if len(items) == 0 {
		return 0, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, err := s.read()
	if err != nil {
		return 0, err
	}
	ids := make(map[string]struct{}, len(existing)+len(items))
	for _, r := range existing {
		ids[r.item.ID] = struct{}{}
	}
	var fresh []clip.Item
	for _, it := range items {
		if strings.TrimSpace(it.ID) == "" {
			continue
		}
		if _, ok := ids[it.ID]; ok {
			continue
		}
		ids[it.ID] = struct{}{}
		fresh = append(fresh, it)
	}
	if len(fresh) == 0 {
		return 0, nil
	}
	if err := s.ensureHeader(); err != nil {
		return 0, err
	}

	f, err := os.OpenFile(s.path, os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return 0, fmt.Errorf("open catalog for append: %w", err)
	}
	defer f.Close()
	w := csv.NewWriter(f)
	stamp := s.now().UTC().Format(time.RFC3339)
	for _, it := range fresh {
		if err := w.Write([]string{it.ID, it.Creator, it.Description, stamp}); err != nil {
			return 0, fmt.Errorf("write catalog row: %w", err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return 0, fmt.Errorf("flush catalog: %w", err)
	}
	if err := f.Sync(); err != nil {
		return 0, fmt.Errorf("sync catalog: %w", err)
	}
	return len(fresh), nil
}

// Compact collapses rows sharing an id into one. The most recent row wins and
// keeps the position of the first occurrence. Returns the number of rows dropped.
func (s *Store) Compact() (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rows, err := s.read()
	if err != nil {
		return 0, err
	}
	if len(rows) == 0 {
		return 0, nil
	}
	pos := make(map[string]int, len(rows))
	out := make([]row, 0, len(rows))
	for _, r := range rows {
		if i, ok := pos[r.item.ID]; ok {
			out[i] = r
			continue
		}
		pos[r.item.ID] = len(out)
		out = append(out, r)
	}
	dropped := len(rows) - len(out)
	if dropped == 0 {
		return 0, nil
	}
	if err := s.rewrite(out); err != nil {
		return 0, err
	}
	slog.Debug("catalog compacted", slog.String("component", "catalog"), slog.Int("rows", len(out)), slog.Int("dropped", dropped))
	return dropped, nil
}

// Reset deletes the table. A missing file is not an error.
func (s *Store) Reset() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := os.Remove(s.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove catalog: %w", err)
	}
	return nil
}

func (s *Store) ensureHeader() error {
	if info, err := os.Stat(s.path); err == nil && info.Size() > 0 {
		return nil
	}
	return s.rewrite(nil)
}

// rewrite replaces the file with header + rows via temp file and rename.
func (s *Store) rewrite(rows []row) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("mkdir catalog dir: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(s.path), filepath.Base(s.path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create catalog temp: %w", err)
	}
	tmpName := tmp.Name()
	cleanup := func() { _ = tmp.Close(); _ = os.Remove(tmpName) }

	w := csv.NewWriter(tmp)
	if err := w.Write(header); err != nil {
		cleanup()
		return fmt.Errorf("write catalog header: %w", err)
	}
	for _, r := range rows {
		if err := w.Write([]string{r.item.ID, r.item.Creator, r.item.Description, r.fetchedAt}); err != nil {
			cleanup()
			return fmt.Errorf("write catalog row: %w", err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		cleanup()
		return fmt.Errorf("flush catalog: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		cleanup()
		return fmt.Errorf("sync catalog: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("close catalog temp: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("replace catalog: %w", err)
	}
	return nil
}

// read parses the table. Columns are located by header name.
func (s *Store) read() ([]row, error) {
	f, err := os.Open(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("open catalog: %w", err)
	}
	defer f.Close()

	br := bufio.NewReader(f)
	if first, _ := br.Peek(3); len(first) == 3 && string(first) == string(utf8BOM) {
		_, _ = br.Discard(3)
	}
	r := csv.NewReader(br)
	r.FieldsPerRecord = -1

	head, err := r.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, nil
		}
		return nil, fmt.Errorf("read catalog header: %w", err)
	}
	idx := map[string]int{}
	for i, h := range head {
		idx[strings.TrimSpace(h)] = i
	}
	idCol, ok1 := idx[ColID]
	creatorCol, ok2 := idx[ColCreator]
	if !ok1 || !ok2 {
		return nil, fmt.Errorf("catalog %s: missing required columns %s/%s", s.path, ColID, ColCreator)
	}
	descCol, hasDesc := idx[ColDescription]
	fetchedCol, hasFetched := idx[ColFetchedAt]

	field := func(rec []string, i int, ok bool) string {
		if !ok || i >= len(rec) {
			return ""
		}
		return rec[i]
	}
	var rows []row
	for {
		rec, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read catalog row: %w", err)
		}
		id := strings.TrimSpace(field(rec, idCol, true))
		if id == "" {
			continue
		}
		rows = append(rows, row{
			item: clip.Item{
				ID:          id,
				Creator:     clip.NormalizeHandle(field(rec, creatorCol, true)),
				Description: field(rec, descCol, hasDesc),
			},
			fetchedAt: field(rec, fetchedCol, hasFetched),
		})
	}
	return rows, nil
}

// Package testutil holds fakes and fixtures shared by package tests.
package testutil

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/onnwee/clip-tender/clip"
)

// FakeFetcher returns canned clips per creator and stages empty media files
// under Dir (when set) the way the real collaborator would.
type FakeFetcher struct {
	mu     sync.Mutex
	Dir    string
	Items  map[string][]clip.Item
	Errs   map[string]error
	Calls  []string
	Limits map[string]int
	// OnFetch runs before results are returned; a non-nil error replaces them.
	OnFetch func(ctx context.Context, handle string) error
}

// NewFakeFetcher returns a fetcher staging media in dir.
func NewFakeFetcher(dir string) *FakeFetcher {
	return &FakeFetcher{Dir: dir, Items: map[string][]clip.Item{}, Errs: map[string]error{}, Limits: map[string]int{}}
}

// Add registers clips for handle; ids become items with Description "clip <id>".
func (f *FakeFetcher) Add(handle string, ids ...string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, id := range ids {
		f.Items[handle] = append(f.Items[handle], clip.Item{ID: id, Creator: handle, Description: "clip " + id + " #fun"})
	}
}

func (f *FakeFetcher) Fetch(ctx context.Context, handle string, limit int) ([]clip.Item, error) {
	f.mu.Lock()
	f.Calls = append(f.Calls, handle)
	f.Limits[handle] = limit
	items := append([]clip.Item(nil), f.Items[handle]...)
	err := f.Errs[handle]
	hook := f.OnFetch
	f.mu.Unlock()

	if hook != nil {
		if herr := hook(ctx, handle); herr != nil {
			return nil, herr
		}
	}
	if err != nil {
		return nil, err
	}
	if limit > 0 && len(items) > limit {
		items = items[:limit]
	}
	if f.Dir != "" {
		if err := os.MkdirAll(f.Dir, 0o755); err != nil {
			return nil, err
		}
		for _, it := range items {
			if err := os.WriteFile(it.MediaPath(f.Dir), []byte("mp4"), 0o644); err != nil {
				return nil, err
			}
		}
	}
	return items, nil
}

// CallCount returns how many times Fetch was invoked.
func (f *FakeFetcher) CallCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.Calls)
}

// Upload is one recorded FakePublisher call.
type Upload struct {
	Media       string
	Title       string
	Description string
	Tags        []string
}

// FakePublisher records uploads. Paths listed in Fail are rejected.
type FakePublisher struct {
	mu      sync.Mutex
	Uploads []Upload
	Fail    map[string]error
	// OnPublish runs after a successful upload is recorded.
	OnPublish func(n int)
}

// NewFakePublisher returns an empty publisher.
func NewFakePublisher() *FakePublisher {
	return &FakePublisher{Fail: map[string]error{}}
}

// ErrPublishRejected is the default failure used by tests.
var ErrPublishRejected = errors.New("upload rejected")

func (p *FakePublisher) Publish(ctx context.Context, media, title, description string, tags []string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	p.mu.Lock()
	if err, ok := p.Fail[filepath.Base(media)]; ok {
		p.mu.Unlock()
		return "", err
	}
	p.Uploads = append(p.Uploads, Upload{Media: media, Title: title, Description: description, Tags: tags})
	n := len(p.Uploads)
	hook := p.OnPublish
	p.mu.Unlock()
	if hook != nil {
		hook(n)
	}
	return fmt.Sprintf("yt-%d", n), nil
}

// Count returns the number of successful uploads.
func (p *FakePublisher) Count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.Uploads)
}

// MediaNames returns base names of uploaded media in order.
func (p *FakePublisher) MediaNames() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.Uploads))
	for _, u := range p.Uploads {
		out = append(out, filepath.Base(u.Media))
	}
	return out
}

// DataDir creates a temp data dir with a downloads subdirectory and returns both.
func DataDir(t *testing.T) (dataDir, downloadDir string) {
	t.Helper()
	dataDir = t.TempDir()
	downloadDir = filepath.Join(dataDir, "downloads")
	if err := os.MkdirAll(downloadDir, 0o755); err != nil {
		t.Fatalf("mkdir downloads: %v", err)
	}
	return dataDir, downloadDir
}

package catalog

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/onnwee/clip-tender/clip"
)

func newStore(t *testing.T) *Store {
	t.Helper()
	return New(filepath.Join(t.TempDir(), "metadata.csv"))
}

func ids(items []clip.Item) []string {
	out := make([]string, 0, len(items))
	for _, it := range items {
		out = append(out, it.ID)
	}
	return out
}

func TestAllMissingFileIsEmpty(t *testing.T) {
	s := newStore(t)
	items, err := s.All()
	if err != nil {
		t.Fatalf("All() error: %v", err)
	}
	if len(items) != 0 {
		t.Fatalf("expected empty catalog, got %d", len(items))
	}
}

func TestAppendSkipsExistingIDs(t *testing.T) {
	s := newStore(t)
	n, err := s.Append([]clip.Item{{ID: "1", Creator: "a", Description: "one, with comma"}, {ID: "2", Creator: "a"}})
	if err != nil || n != 2 {
		t.Fatalf("first Append = %d, %v", n, err)
	}
	n, err = s.Append([]clip.Item{{ID: "2", Creator: "a"}, {ID: "3", Creator: "b"}, {ID: "3", Creator: "b"}, {ID: ""}})
	if err != nil || n != 1 {
		t.Fatalf("second Append = %d, %v; want 1", n, err)
	}
	items, err := s.All()
	if err != nil {
		t.Fatal(err)
	}
	if got, want := ids(items), []string{"1", "2", "3"}; !reflect.DeepEqual(got, want) {
		t.Fatalf("ids = %v, want %v", got, want)
	}
	if items[0].Description != "one, with comma" {
		t.Fatalf("description not preserved: %q", items[0].Description)
	}
}

func TestCompactLastWinsKeepsFirstPosition(t *testing.T) {
	path := filepath.Join(t.TempDir(), "metadata.csv")
	raw := "\xEF\xBB\xBFvideo_id,author_username,video_description,extra\n" +
		"1,a,old,x\n" +
		"2,b,two,x\n" +
		"1,a,new,x\n"
	if err := os.WriteFile(path, []byte(raw), 0o644); err != nil {
		t.Fatal(err)
	}
	s := New(path)
	dropped, err := s.Compact()
	if err != nil {
		t.Fatalf("Compact() error: %v", err)
	}
	if dropped != 1 {
		t.Fatalf("dropped = %d, want 1", dropped)
	}
	items, err := s.All()
	if err != nil {
		t.Fatal(err)
	}
	if got, want := ids(items), []string{"1", "2"}; !reflect.DeepEqual(got, want) {
		t.Fatalf("ids = %v, want %v", got, want)
	}
	if items[0].Description != "new" {
		t.Fatalf("expected most recent row to win, got %q", items[0].Description)
	}
}

func TestMissingRequiredColumns(t *testing.T) {
	path := filepath.Join(t.TempDir(), "metadata.csv")
	if err := os.WriteFile(path, []byte("id,desc\n1,x\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := New(path).All(); err == nil {
		t.Fatal("expected error for missing columns")
	}
}

func TestReset(t *testing.T) {
	s := newStore(t)
	if _, err := s.Append([]clip.Item{{ID: "1", Creator: "a"}}); err != nil {
		t.Fatal(err)
	}
	if err := s.Reset(); err != nil {
		t.Fatalf("Reset() error: %v", err)
	}
	if err := s.Reset(); err != nil {
		t.Fatalf("second Reset() error: %v", err)
	}
	if n, _ := s.Count(); n != 0 {
		t.Fatalf("expected empty after reset, got %d", n)
	}
}

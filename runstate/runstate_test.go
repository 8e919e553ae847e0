package runstate

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/onnwee/clip-tender/catalog"
	"github.com/onnwee/clip-tender/clip"
	"github.com/onnwee/clip-tender/ledger"
)

type fixture struct {
	dir string
	cat *catalog.Store
	led *ledger.Ledger
	mgr *Manager
}

func setup(t *testing.T) fixture {
	t.Helper()
	dir := t.TempDir()
	cat := catalog.New(filepath.Join(dir, "metadata.csv"))
	led := ledger.NewFileLedger(dir)
	return fixture{dir: dir, cat: cat, led: led, mgr: New(dir, cat, led.Fetched)}
}

func (f fixture) seed(t *testing.T) {
	t.Helper()
	ctx := context.Background()
	if _, err := f.cat.Append([]clip.Item{{ID: "v1", Creator: "a"}}); err != nil {
		t.Fatal(err)
	}
	if err := f.led.Fetched.Add(ctx, "a"); err != nil {
		t.Fatal(err)
	}
	if err := f.led.Published.Add(ctx, "v0"); err != nil {
		t.Fatal(err)
	}
}

func TestResolveResumesWithoutMarker(t *testing.T) {
	f := setup(t)
	f.seed(t)
	st, err := f.mgr.Resolve(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if st != Resumed {
		t.Fatalf("state = %s, want resumed", st)
	}
	if n, _ := f.cat.Count(); n != 1 {
		t.Fatalf("catalog touched on resume: %d rows", n)
	}
	if ok, _ := f.led.Fetched.Contains(context.Background(), "a"); !ok {
		t.Fatal("fetch progress touched on resume")
	}
}

func TestResolveFreshAfterMarkComplete(t *testing.T) {
	f := setup(t)
	f.seed(t)
	ctx := context.Background()
	if err := f.mgr.MarkComplete(ctx); err != nil {
		t.Fatal(err)
	}
	st, err := f.mgr.Resolve(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if st != Fresh {
		t.Fatalf("state = %s, want fresh", st)
	}
	if n, _ := f.cat.Count(); n != 0 {
		t.Fatalf("catalog not cleared: %d rows", n)
	}
	if ids, _ := f.led.Fetched.List(ctx); len(ids) != 0 {
		t.Fatalf("fetch progress not cleared: %v", ids)
	}
	if ok, _ := f.led.Published.Contains(ctx, "v0"); !ok {
		t.Fatal("published set must survive a fresh start")
	}
	if _, err := os.Stat(f.mgr.MarkerPath()); !os.IsNotExist(err) {
		t.Fatalf("marker should be removed, stat err = %v", err)
	}
	// A second resolve without a new marker resumes.
	if st, _ := f.mgr.Resolve(ctx); st != Resumed {
		t.Fatalf("second resolve = %s, want resumed", st)
	}
}

type failingResetter struct{}

func (failingResetter) Reset() error { return os.ErrPermission }

func TestResolveKeepsMarkerWhenResetFails(t *testing.T) {
	f := setup(t)
	mgr := New(f.dir, failingResetter{}, f.led.Fetched)
	ctx := context.Background()
	if err := mgr.MarkComplete(ctx); err != nil {
		t.Fatal(err)
	}
	if _, err := mgr.Resolve(ctx); err == nil {
		t.Fatal("expected error")
	}
	if done, _ := mgr.Completed(); !done {
		t.Fatal("marker must remain so the reset is retried")
	}
}

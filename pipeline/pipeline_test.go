package pipeline

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"github.com/onnwee/clip-tender/clip"
	"github.com/onnwee/clip-tender/config"
	"github.com/onnwee/clip-tender/ledger"
	"github.com/onnwee/clip-tender/runstate"
	"github.com/onnwee/clip-tender/testutil"
)

type fixture struct {
	cfg      *config.Config
	settings *config.SettingsStore
	led      *ledger.Ledger
	fetcher  *testutil.FakeFetcher
	pub      *testutil.FakePublisher
	pl       *Pipeline
}

func newFixture(t *testing.T, creators []string, perCreator, maxUploads int) fixture {
	t.Helper()
	dataDir, dl := testutil.DataDir(t)
	cfg := &config.Config{
		DataDir:     dataDir,
		DownloadDir: dl,
		CatalogPath: filepath.Join(dataDir, "metadata.csv"),
	}
	settings := config.NewSettingsStore(filepath.Join(dataDir, "config.json"))
	if err := settings.Save(config.Settings{Creators: creators, VideosPerCreator: perCreator, MaxUploadsPerDay: maxUploads}); err != nil {
		t.Fatal(err)
	}
	led := ledger.NewFileLedger(dataDir)
	f := testutil.NewFakeFetcher(dl)
	pub := testutil.NewFakePublisher()
	return fixture{cfg: cfg, settings: settings, led: led, fetcher: f, pub: pub, pl: New(cfg, settings, led, f, pub)}
}

func markerExists(t *testing.T, dir string) bool {
	t.Helper()
	_, err := os.Stat(filepath.Join(dir, runstate.MarkerName))
	return err == nil
}

func TestTwoRunScenario(t *testing.T) {
	fx := newFixture(t, []string{"a", "b"}, 1, 1)
	fx.fetcher.Add("a", "a1", "a2")
	fx.fetcher.Add("b", "b1", "b2")

	// The operator stops the first run right after its single upload.
	ctx, cancel := context.WithCancel(context.Background())
	fx.pub.OnPublish = func(int) { cancel() }
	rep, err := fx.pl.Run(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("first run err = %v", err)
	}
	if rep.Fetch.Fetched != 2 || fx.fetcher.CallCount() != 2 {
		t.Fatalf("first run fetch = %+v calls=%d", rep.Fetch, fx.fetcher.CallCount())
	}
	if fx.pub.Count() != 1 {
		t.Fatalf("first run published %d", fx.pub.Count())
	}
	items, _ := fx.pl.Catalog().All()
	if len(items) != 2 {
		t.Fatalf("catalog = %v", items)
	}
	if markerExists(t, fx.cfg.DataDir) {
		t.Fatal("cancelled run must not mark completion")
	}

	fx.pub.OnPublish = nil
	rep, err = fx.pl.Run(context.Background())
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	if rep.RunState != runstate.Resumed {
		t.Fatalf("run state = %s", rep.RunState)
	}
	if fx.fetcher.CallCount() != 2 || rep.Fetch.Skipped != 2 {
		t.Fatalf("second run re-fetched: calls=%d stats=%+v", fx.fetcher.CallCount(), rep.Fetch)
	}
	want := []string{clip.MediaName("a", "a1"), clip.MediaName("b", "b1")}
	if !reflect.DeepEqual(fx.pub.MediaNames(), want) {
		t.Fatalf("uploads = %v, want %v", fx.pub.MediaNames(), want)
	}
	if !markerExists(t, fx.cfg.DataDir) {
		t.Fatal("completed run should mark completion")
	}
}

func TestCompletedRunStartsFreshWithoutRepublishing(t *testing.T) {
	fx := newFixture(t, []string{"a"}, 5, 0)
	fx.fetcher.Add("a", "1", "2")
	ctx := context.Background()

	if _, err := fx.pl.Run(ctx); err != nil {
		t.Fatal(err)
	}
	rep, err := fx.pl.Run(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if rep.RunState != runstate.Fresh {
		t.Fatalf("run state = %s", rep.RunState)
	}
	if fx.fetcher.CallCount() != 2 {
		t.Fatalf("fresh run should refetch, calls=%d", fx.fetcher.CallCount())
	}
	if fx.pub.Count() != 2 || rep.Publish.Published != 0 {
		t.Fatalf("republished: uploads=%d report=%+v", fx.pub.Count(), rep.Publish)
	}
}

func TestStageFailureIsWrappedAndNotMarked(t *testing.T) {
	fx := newFixture(t, []string{"a"}, 1, 1)
	fx.fetcher.Add("a", "1")
	// A directory where the catalog file should be makes every catalog write fail.
	if err := os.MkdirAll(fx.cfg.CatalogPath, 0o755); err != nil {
		t.Fatal(err)
	}
	_, err := fx.pl.Run(context.Background())
	if err == nil || !strings.HasPrefix(err.Error(), "fetch stage:") {
		t.Fatalf("err = %v, want fetch stage error", err)
	}
	if markerExists(t, fx.cfg.DataDir) {
		t.Fatal("failed run must not mark completion")
	}
}

func TestInvalidSettingsFailBeforeState(t *testing.T) {
	fx := newFixture(t, []string{"a"}, 1, 1)
	if err := os.WriteFile(fx.settings.Path(), []byte(`{"videos_per_creator":-1}`), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := fx.pl.Run(context.Background()); err == nil {
		t.Fatal("expected settings error")
	}
	if fx.fetcher.CallCount() != 0 {
		t.Fatal("fetched despite invalid settings")
	}
}

func TestCancelledBeforeStart(t *testing.T) {
	fx := newFixture(t, []string{"a"}, 1, 1)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := fx.pl.Run(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v", err)
	}
	if fx.fetcher.CallCount() != 0 {
		t.Fatal("fetched after cancellation")
	}
}

func TestAutocleanRemovesPublishedMedia(t *testing.T) {
	fx := newFixture(t, []string{"a"}, 2, 0)
	fx.cfg.AutocleanMedia = true
	fx.pl = New(fx.cfg, fx.settings, fx.led, fx.fetcher, fx.pub)
	fx.fetcher.Add("a", "1", "2")
	if _, err := fx.pl.Run(context.Background()); err != nil {
		t.Fatal(err)
	}
	entries, _ := os.ReadDir(fx.cfg.DownloadDir)
	if len(entries) != 0 {
		t.Fatalf("staged media left behind: %d files", len(entries))
	}
}

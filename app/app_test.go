package app

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/onnwee/clip-tender/config"
	"github.com/onnwee/clip-tender/publish"
	"github.com/onnwee/clip-tender/testutil"
	"github.com/onnwee/clip-tender/worker"
)

func testConfig(t *testing.T, backend string) *config.Config {
	t.Helper()
	dataDir, downloadDir := testutil.DataDir(t)
	return &config.Config{
		DataDir:      dataDir,
		DownloadDir:  downloadDir,
		CatalogPath:  filepath.Join(dataDir, "metadata.csv"),
		SettingsPath: filepath.Join(dataDir, "config.json"),
		LedgerBack:   backend,
		YTPrivacy:    "public",
	}
}

func TestNewRequiresPublisher(t *testing.T) {
	cfg := testConfig(t, config.LedgerFile)
	if _, err := New(context.Background(), cfg); err == nil {
		t.Fatal("expected error without youtube credentials or dry run")
	}
}

func TestDryRunDefaults(t *testing.T) {
	cfg := testConfig(t, config.LedgerFile)
	cfg.PublishDryRun = true
	a, err := New(context.Background(), cfg)
	if err != nil {
		t.Fatal(err)
	}
	defer a.Close()
	if _, ok := a.Publisher.(publish.DryRun); !ok {
		t.Fatalf("publisher = %T", a.Publisher)
	}
	if a.YouTube != nil || a.Twitch != nil {
		t.Fatal("oauth clients built without client ids")
	}
}

func TestWorkerRunsPipelineEndToEnd(t *testing.T) {
	for _, backend := range []string{config.LedgerFile, config.LedgerDB} {
		t.Run(backend, func(t *testing.T) {
			cfg := testConfig(t, backend)
			fetcher := testutil.NewFakeFetcher(cfg.DownloadDir)
			fetcher.Add("alice", "a1", "a2")
			pub := testutil.NewFakePublisher()

			ctx := context.Background()
			a, err := New(ctx, cfg, WithFetcher(fetcher), WithPublisher(pub))
			if err != nil {
				t.Fatal(err)
			}
			defer a.Close()
			a.Pipeline.Scheduler().Throttle = func(int) time.Duration { return 0 }
			if _, err := a.Settings.AddCreator("@alice"); err != nil {
				t.Fatal(err)
			}

			w := a.Worker(ctx)
			if err := w.Start(); err != nil {
				t.Fatal(err)
			}
			wctx, cancel := context.WithTimeout(ctx, 5*time.Second)
			defer cancel()
			if err := w.Wait(wctx); err != nil {
				t.Fatal(err)
			}
			st := w.Status()
			if st.State != worker.Completed {
				t.Fatalf("state = %s (%s)", st.State, st.LastError)
			}
			if pub.Count() != 2 {
				t.Fatalf("uploads = %d", pub.Count())
			}

			total, published, pending, err := a.Progress(ctx)
			if err != nil || total != 2 || published != 2 || pending != 0 {
				t.Fatalf("progress = %d/%d/%d (%v)", total, published, pending, err)
			}
			runs, err := a.Runs.RecentRuns(ctx, 5)
			if err != nil || len(runs) != 1 || runs[0].State != string(worker.Completed) || runs[0].Published != 2 {
				t.Fatalf("runs = %+v (%v)", runs, err)
			}
		})
	}
}

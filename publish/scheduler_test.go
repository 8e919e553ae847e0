package publish

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/onnwee/clip-tender/catalog"
	"github.com/onnwee/clip-tender/clip"
	"github.com/onnwee/clip-tender/ledger"
	"github.com/onnwee/clip-tender/testutil"
)

type fixture struct {
	dl    string
	cat   *catalog.Store
	led   *ledger.Ledger
	pub   *testutil.FakePublisher
	sched *Scheduler
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	dataDir, dl := testutil.DataDir(t)
	cat := catalog.New(filepath.Join(dataDir, "metadata.csv"))
	led := ledger.NewFileLedger(dataDir)
	pub := testutil.NewFakePublisher()
	s := NewScheduler(cat, led.Published, pub, dl)
	s.Throttle = func(int) time.Duration { return 0 }
	return fixture{dl: dl, cat: cat, led: led, pub: pub, sched: s}
}

// stage adds items to the catalog and writes their media unless missing.
func (fx fixture) stage(t *testing.T, creator string, ids []string, missing ...string) {
	t.Helper()
	skip := map[string]bool{}
	for _, m := range missing {
		skip[m] = true
	}
	var items []clip.Item
	for _, id := range ids {
		it := clip.Item{ID: id, Creator: creator, Description: "clip " + id + " #fun"}
		items = append(items, it)
		if !skip[id] {
			if err := os.WriteFile(it.MediaPath(fx.dl), []byte("mp4"), 0o644); err != nil {
				t.Fatal(err)
			}
		}
	}
	if _, err := fx.cat.Append(items); err != nil {
		t.Fatal(err)
	}
}

func TestNoDuplicatePublish(t *testing.T) {
	fx := newFixture(t)
	fx.stage(t, "a", []string{"1", "2"})
	ctx := context.Background()

	res, err := fx.sched.Run(ctx, 0)
	if err != nil {
		t.Fatal(err)
	}
	if res.Published != 2 {
		t.Fatalf("published = %d", res.Published)
	}
	res, err = fx.sched.Run(ctx, 0)
	if err != nil {
		t.Fatal(err)
	}
	if res.Pending != 0 || fx.pub.Count() != 2 {
		t.Fatalf("second run republished: %+v uploads=%d", res, fx.pub.Count())
	}
}

func TestCapIsEnforcedAcrossRuns(t *testing.T) {
	fx := newFixture(t)
	fx.stage(t, "a", []string{"1", "2", "3", "4", "5"})
	ctx := context.Background()

	res, err := fx.sched.Run(ctx, 2)
	if err != nil {
		t.Fatal(err)
	}
	if res.Published != 2 || res.Pending != 5 {
		t.Fatalf("res = %+v", res)
	}
	want := []string{clip.MediaName("a", "1"), clip.MediaName("a", "2")}
	if !reflect.DeepEqual(fx.pub.MediaNames(), want) {
		t.Fatalf("uploads = %v, want %v", fx.pub.MediaNames(), want)
	}
	res, err = fx.sched.Run(ctx, 2)
	if err != nil {
		t.Fatal(err)
	}
	if res.Published != 2 || res.Pending != 3 {
		t.Fatalf("second run = %+v", res)
	}
	ids, _ := fx.led.Published.List(ctx)
	if !reflect.DeepEqual(ids, []string{"1", "2", "3", "4"}) {
		t.Fatalf("published set = %v", ids)
	}
}

func TestMissingMediaAndFailuresStayPending(t *testing.T) {
	fx := newFixture(t)
	fx.stage(t, "a", []string{"1", "2", "3"}, "2")
	fx.pub.Fail[clip.MediaName("a", "3")] = testutil.ErrPublishRejected
	ctx := context.Background()

	res, err := fx.sched.Run(ctx, 0)
	if err != nil {
		t.Fatal(err)
	}
	if res.Published != 1 || res.MissingMedia != 1 || res.Failed != 1 {
		t.Fatalf("res = %+v", res)
	}
	for _, id := range []string{"2", "3"} {
		if ok, _ := fx.led.Published.Contains(ctx, id); ok {
			t.Fatalf("%s should stay unpublished", id)
		}
	}
}

func TestPublishMetadata(t *testing.T) {
	fx := newFixture(t)
	fx.stage(t, "a", []string{"1"})
	if _, err := fx.sched.Run(context.Background(), 1); err != nil {
		t.Fatal(err)
	}
	up := fx.pub.Uploads[0]
	if up.Title != "clip 1" {
		t.Errorf("title = %q", up.Title)
	}
	if !reflect.DeepEqual(up.Tags, []string{"shorts", "tiktok", "viral", "trending", "fun"}) {
		t.Errorf("tags = %v", up.Tags)
	}
	if !strings.Contains(up.Description, "Credit to @a on TikTok.") || !strings.HasSuffix(up.Description, "#fun") {
		t.Errorf("description = %q", up.Description)
	}
}

func TestCancelDuringThrottle(t *testing.T) {
	fx := newFixture(t)
	fx.stage(t, "a", []string{"1", "2", "3"})
	fx.sched.Throttle = Interval
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	fx.pub.OnPublish = func(int) { cancel() }

	start := time.Now()
	res, err := fx.sched.Run(ctx, 2)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if time.Since(start) > 5*time.Second {
		t.Fatal("cancellation did not interrupt the throttle wait")
	}
	if res.Published != 1 {
		t.Fatalf("published = %d", res.Published)
	}
	if ok, _ := fx.led.Published.Contains(context.Background(), "1"); !ok {
		t.Fatal("completed upload should be recorded")
	}
}

func TestNoThrottleWhenOnlyMissingMediaRemains(t *testing.T) {
	fx := newFixture(t)
	fx.stage(t, "a", []string{"1", "2", "3"}, "2", "3")
	fx.sched.Throttle = Interval
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	res, err := fx.sched.Run(ctx, 2)
	if err != nil {
		t.Fatalf("run waited on unpublishable items: %v", err)
	}
	if res.Published != 1 || res.MissingMedia != 2 {
		t.Fatalf("res = %+v", res)
	}
}

func TestAlreadyCancelledPublishesNothing(t *testing.T) {
	fx := newFixture(t)
	fx.stage(t, "a", []string{"1"})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := fx.sched.Run(ctx, 0); !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v", err)
	}
	if fx.pub.Count() != 0 {
		t.Fatal("published after cancellation")
	}
}

func TestInterval(t *testing.T) {
	cases := map[int]time.Duration{
		0:  0,
		-1: 0,
		1:  24 * time.Hour,
		5:  4*time.Hour + 48*time.Minute,
		7:  12342 * time.Second,
	}
	for in, want := range cases {
		if got := Interval(in); got != want {
			t.Errorf("Interval(%d) = %v, want %v", in, got, want)
		}
	}
}

func TestWaitCompletes(t *testing.T) {
	if err := Wait(context.Background(), 20*time.Millisecond, 5*time.Millisecond, nil); err != nil {
		t.Fatal(err)
	}
}

func TestCleanerRemovesPublishedMedia(t *testing.T) {
	fx := newFixture(t)
	fx.stage(t, "a", []string{"1", "2"})
	fx.sched.Cleaner = &Cleaner{Dir: fx.dl}
	fx.pub.Fail[clip.MediaName("a", "2")] = testutil.ErrPublishRejected
	if _, err := fx.sched.Run(context.Background(), 0); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(filepath.Join(fx.dl, clip.MediaName("a", "1"))); !os.IsNotExist(err) {
		t.Fatal("published media should be deleted")
	}
	if _, err := os.Stat(filepath.Join(fx.dl, clip.MediaName("a", "2"))); err != nil {
		t.Fatal("unpublished media should stay")
	}
}

func TestSweepDryRunKeepsFiles(t *testing.T) {
	fx := newFixture(t)
	fx.stage(t, "a", []string{"1", "2"})
	ctx := context.Background()
	_ = fx.led.Published.Add(ctx, "1")

	dry := &Cleaner{Dir: fx.dl, DryRun: true}
	st, err := dry.Sweep(ctx, fx.cat, fx.led.Published)
	if err != nil || st.Removed != 1 {
		t.Fatalf("dry sweep = %+v, %v", st, err)
	}
	if _, err := os.Stat(filepath.Join(fx.dl, clip.MediaName("a", "1"))); err != nil {
		t.Fatal("dry run deleted a file")
	}
	st, err = (&Cleaner{Dir: fx.dl}).Sweep(ctx, fx.cat, fx.led.Published)
	if err != nil || st.Removed != 1 || st.BytesFreed != 3 {
		t.Fatalf("sweep = %+v, %v", st, err)
	}
}

func TestRemovePartials(t *testing.T) {
	dir := t.TempDir()
	old := time.Now().Add(-2 * time.Hour)
	for _, n := range []string{"a.mp4.part", "b.ytdl", "c.mp4"} {
		p := filepath.Join(dir, n)
		if err := os.WriteFile(p, nil, 0o644); err != nil {
			t.Fatal(err)
		}
		_ = os.Chtimes(p, old, old)
	}
	if n := RemovePartials(dir, time.Hour); n != 2 {
		t.Fatalf("removed %d", n)
	}
	if _, err := os.Stat(filepath.Join(dir, "c.mp4")); err != nil {
		t.Fatal("finished media removed")
	}
}

func TestDryRunPublisher(t *testing.T) {
	id, err := DryRun{}.Publish(context.Background(), "x.mp4", "t", "d", nil)
	if err != nil || !strings.HasPrefix(id, "dryrun-") {
		t.Fatalf("id=%s err=%v", id, err)
	}
}

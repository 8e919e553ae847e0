package worker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/onnwee/clip-tender/db"
	"github.com/onnwee/clip-tender/pipeline"
	"github.com/onnwee/clip-tender/testutil"
)

// blockingRunner runs until released or cancelled.
type blockingRunner struct {
	mu      sync.Mutex
	started chan string
	release chan error
	calls   int
}

func newBlockingRunner() *blockingRunner {
	return &blockingRunner{started: make(chan string, 10), release: make(chan error, 10)}
}

func (r *blockingRunner) Run(ctx context.Context) (pipeline.Report, error) {
	r.mu.Lock()
	r.calls++
	r.mu.Unlock()
	r.started <- "started"
	select {
	case err := <-r.release:
		return pipeline.Report{}, err
	case <-ctx.Done():
		return pipeline.Report{}, ctx.Err()
	}
}

func (r *blockingRunner) Calls() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls
}

func waitStarted(t *testing.T, r *blockingRunner) {
	t.Helper()
	select {
	case <-r.started:
	case <-time.After(2 * time.Second):
		t.Fatal("runner never started")
	}
}

func waitDone(t *testing.T, c *Controller) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := c.Wait(ctx); err != nil {
		t.Fatalf("wait: %v", err)
	}
}

func TestLifecycle(t *testing.T) {
	r := newBlockingRunner()
	c := New(context.Background(), r, Options{})
	if c.Status().State != Idle {
		t.Fatal("new controller should be idle")
	}
	if err := c.Stop(); !errors.Is(err, ErrNotRunning) {
		t.Fatalf("stop while idle = %v", err)
	}
	if err := c.Start(); err != nil {
		t.Fatal(err)
	}
	waitStarted(t, r)
	if err := c.Start(); !errors.Is(err, ErrAlreadyRunning) {
		t.Fatalf("second start = %v", err)
	}
	st := c.Status()
	if st.State != Running || st.RunID == "" {
		t.Fatalf("status = %+v", st)
	}
	r.release <- nil
	waitDone(t, c)
	if st := c.Status(); st.State != Completed || st.Runs != 1 || st.FinishedAt.IsZero() {
		t.Fatalf("status after completion = %+v", st)
	}
}

func TestStopCancels(t *testing.T) {
	r := newBlockingRunner()
	c := New(context.Background(), r, Options{})
	_ = c.Start()
	waitStarted(t, r)
	if err := c.Stop(); err != nil {
		t.Fatal(err)
	}
	waitDone(t, c)
	if st := c.Status(); st.State != Cancelled || st.Stopping {
		t.Fatalf("status = %+v", st)
	}
}

func TestFailureKeepsError(t *testing.T) {
	r := newBlockingRunner()
	c := New(context.Background(), r, Options{})
	_ = c.Start()
	waitStarted(t, r)
	r.release <- errors.New("fetch stage: disk full")
	waitDone(t, c)
	st := c.Status()
	if st.State != Failed || st.LastError != "fetch stage: disk full" {
		t.Fatalf("status = %+v", st)
	}
	if err := c.Start(); err != nil {
		t.Fatalf("start after failure: %v", err)
	}
	waitStarted(t, r)
	if c.Status().LastError != "" {
		t.Fatal("new run should clear last error")
	}
	_ = c.Stop()
	waitDone(t, c)
}

func TestRestartWaitsForTeardown(t *testing.T) {
	r := newBlockingRunner()
	c := New(context.Background(), r, Options{})
	_ = c.Start()
	waitStarted(t, r)
	first := c.Status().RunID

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := c.Restart(ctx); err != nil {
		t.Fatal(err)
	}
	waitStarted(t, r)
	st := c.Status()
	if st.State != Running || st.RunID == first || st.Runs != 1 {
		t.Fatalf("status after restart = %+v", st)
	}
	if r.Calls() != 2 {
		t.Fatalf("calls = %d", r.Calls())
	}
	_ = c.Stop()
	waitDone(t, c)
}

func TestBaseContextCancelStopsRun(t *testing.T) {
	base, cancel := context.WithCancel(context.Background())
	r := newBlockingRunner()
	c := New(base, r, Options{})
	_ = c.Start()
	waitStarted(t, r)
	cancel()
	waitDone(t, c)
	if c.Status().State != Cancelled {
		t.Fatalf("state = %s", c.Status().State)
	}
	if err := c.Start(); !errors.Is(err, context.Canceled) {
		t.Fatalf("start after shutdown = %v", err)
	}
}

func TestIntervalSchedulesNextRun(t *testing.T) {
	r := newBlockingRunner()
	c := New(context.Background(), r, Options{Interval: 20 * time.Millisecond})
	_ = c.Start()
	waitStarted(t, r)
	r.release <- nil
	waitStarted(t, r)
	if r.Calls() != 2 {
		t.Fatalf("calls = %d", r.Calls())
	}
	// A stopped run is not rescheduled.
	_ = c.Stop()
	waitDone(t, c)
	time.Sleep(60 * time.Millisecond)
	if r.Calls() != 2 || c.Status().State != Cancelled {
		t.Fatalf("rescheduled after stop: calls=%d state=%s", r.Calls(), c.Status().State)
	}
}

func TestRunHistoryIsRecorded(t *testing.T) {
	store := &db.RunStore{DB: testutil.SQLiteDB(t)}
	r := newBlockingRunner()
	c := New(context.Background(), r, Options{History: store})
	_ = c.Start()
	waitStarted(t, r)
	r.release <- errors.New("boom")
	waitDone(t, c)

	runs, err := store.RecentRuns(context.Background(), 5)
	if err != nil {
		t.Fatal(err)
	}
	if len(runs) != 1 || runs[0].State != string(Failed) || runs[0].Error != "boom" || runs[0].RunID != c.Status().RunID {
		t.Fatalf("runs = %+v", runs)
	}
}

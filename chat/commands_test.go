package chat

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/onnwee/clip-tender/config"
	"github.com/onnwee/clip-tender/pipeline"
	"github.com/onnwee/clip-tender/worker"
)

type fakeController struct {
	st       worker.Status
	starts   int
	stops    int
	restarts int
}

func (f *fakeController) Start() error {
	if f.st.State == worker.Running {
		return worker.ErrAlreadyRunning
	}
	f.starts++
	f.st.State = worker.Running
	return nil
}

func (f *fakeController) Stop() error {
	if f.st.State != worker.Running {
		return worker.ErrNotRunning
	}
	f.stops++
	f.st.Stopping = true
	return nil
}

func (f *fakeController) Restart(ctx context.Context) error {
	f.restarts++
	f.st = worker.Status{State: worker.Running}
	return nil
}

func (f *fakeController) Status() worker.Status { return f.st }

func newCommands(t *testing.T) (*Commands, *fakeController, *config.SettingsStore) {
	t.Helper()
	ctl := &fakeController{st: worker.Status{State: worker.Idle}}
	store := config.NewSettingsStore(filepath.Join(t.TempDir(), "config.json"))
	return NewCommands(ctl, store, "!", []string{"@TrustedOp"}), ctl, store
}

var mod = map[string]int{"moderator": 1}

func TestUnauthorizedUsersAreIgnored(t *testing.T) {
	c, ctl, _ := newCommands(t)
	if reply := c.Handle(context.Background(), Message{User: "viewer", Text: "!start"}); reply != "" {
		t.Fatalf("reply = %q", reply)
	}
	if ctl.starts != 0 {
		t.Fatal("viewer started the worker")
	}
	if reply := c.Handle(context.Background(), Message{User: "trustedop", Text: "!start"}); reply != "Worker started." {
		t.Fatalf("operator reply = %q", reply)
	}
}

func TestNonCommandsAreIgnored(t *testing.T) {
	c, _, _ := newCommands(t)
	for _, text := range []string{"hello", "!", "!dance", "start"} {
		if reply := c.Handle(context.Background(), Message{User: "x", Badges: mod, Text: text}); reply != "" {
			t.Errorf("%q -> %q", text, reply)
		}
	}
}

func TestStartStopRestart(t *testing.T) {
	c, ctl, _ := newCommands(t)
	ctx := context.Background()
	steps := []struct{ text, want string }{
		{"!stop", "Worker is not running."},
		{"!start", "Worker started."},
		{"!START", "Worker is already running."},
		{"!stop", "Stop requested, the worker will stop at the next checkpoint."},
	}
	for _, s := range steps {
		if got := c.Handle(ctx, Message{User: "boss", Badges: map[string]int{"broadcaster": 1}, Text: s.text}); got != s.want {
			t.Fatalf("%s -> %q, want %q", s.text, got, s.want)
		}
	}
	if ctl.starts != 1 || ctl.stops != 1 {
		t.Fatalf("controller calls = %+v", ctl)
	}

	notified := make(chan string, 1)
	c.Notify = func(user, reply string) { notified <- user + ": " + reply }
	if got := c.Handle(ctx, Message{User: "boss", Badges: map[string]int{"broadcaster": 1}, Text: "!restart"}); got != "Restarting, the current run stops at its next checkpoint." {
		t.Fatalf("restart -> %q", got)
	}
	select {
	case got := <-notified:
		if got != "boss: Worker restarted." {
			t.Fatalf("notify = %q", got)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("restart outcome never reported")
	}
	if ctl.restarts != 1 {
		t.Fatalf("restarts = %d", ctl.restarts)
	}
}

func TestRestartWhenIdleStartsInline(t *testing.T) {
	c, ctl, _ := newCommands(t)
	if got := c.Handle(context.Background(), Message{User: "m", Badges: mod, Text: "!restart"}); got != "Worker restarted." {
		t.Fatalf("restart -> %q", got)
	}
	if ctl.starts != 1 || ctl.st.State != worker.Running {
		t.Fatalf("controller = %+v", ctl)
	}
}

// slowTeardown ignores cancellation for a while, like a subprocess that takes
// time to exit.
type slowTeardown struct {
	delay time.Duration
	runs  chan struct{}
}

func (r slowTeardown) Run(ctx context.Context) (pipeline.Report, error) {
	r.runs <- struct{}{}
	<-ctx.Done()
	time.Sleep(r.delay)
	return pipeline.Report{}, ctx.Err()
}

func TestRestartDoesNotBlockOnSlowTeardown(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	runner := slowTeardown{delay: 500 * time.Millisecond, runs: make(chan struct{}, 4)}
	w := worker.New(ctx, runner, worker.Options{})
	store := config.NewSettingsStore(filepath.Join(t.TempDir(), "config.json"))
	c := NewCommands(w, store, "!", nil)
	notified := make(chan string, 1)
	c.Notify = func(_, reply string) { notified <- reply }

	if err := w.Start(); err != nil {
		t.Fatal(err)
	}
	<-runner.runs

	begin := time.Now()
	reply := c.Handle(ctx, Message{User: "m", Badges: mod, Text: "!restart"})
	if took := time.Since(begin); took > 100*time.Millisecond {
		t.Fatalf("!restart held the caller for %v", took)
	}
	if !strings.HasPrefix(reply, "Restarting") {
		t.Fatalf("reply = %q", reply)
	}
	// Other commands are answered while the old run is still unwinding.
	if got := c.Handle(ctx, Message{User: "m", Badges: mod, Text: "!status"}); !strings.Contains(got, "(stopping)") {
		t.Fatalf("status during teardown = %q", got)
	}

	select {
	case got := <-notified:
		if got != "Worker restarted." {
			t.Fatalf("notify = %q", got)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("restart outcome never reported")
	}
	select {
	case <-runner.runs:
	case <-time.After(5 * time.Second):
		t.Fatal("new run did not start")
	}
	_ = w.Stop()
	_ = w.Wait(context.Background())
}

func TestStatusReply(t *testing.T) {
	c, ctl, _ := newCommands(t)
	ctl.st = worker.Status{State: worker.Failed, Runs: 1, LastError: "fetch stage: disk full", NextRunAt: time.Now().Add(time.Hour)}
	ctl.st.Last.Publish.Pending = 4
	ctl.st.Last.Publish.Published = 1
	got := c.Handle(context.Background(), Message{User: "m", Badges: mod, Text: "!status"})
	for _, want := range []string{"Worker is failed", "1 published, 3 pending", "disk full", "Next run in 1h0m0s"} {
		if !strings.Contains(got, want) {
			t.Errorf("status %q missing %q", got, want)
		}
	}
}

func TestCreatorCommands(t *testing.T) {
	c, _, store := newCommands(t)
	ctx := context.Background()
	say := func(text string) string { return c.Handle(ctx, Message{User: "m", Badges: mod, Text: text}) }

	if got := say("!creators"); got != "No creators configured." {
		t.Fatalf("list = %q", got)
	}
	if got := say("!creators add @Alice"); got != "Added @Alice to the creator list." {
		t.Fatalf("add = %q", got)
	}
	if got := say("!creators add alice"); got != "alice is already in the list." {
		t.Fatalf("dup add = %q", got)
	}
	if got := say("!creators list"); got != "Creators: alice" {
		t.Fatalf("list = %q", got)
	}
	if got := say("!creators remove bob"); got != "bob was not found in the list." {
		t.Fatalf("remove missing = %q", got)
	}
	if got := say("!creators remove alice"); !strings.HasPrefix(got, "Removed") {
		t.Fatalf("remove = %q", got)
	}
	if got := say("!creators add"); !strings.HasPrefix(got, "Usage") {
		t.Fatalf("usage = %q", got)
	}
	st, _ := store.Load()
	if len(st.Creators) != 0 {
		t.Fatalf("creators = %v", st.Creators)
	}
}

func TestConfigCommand(t *testing.T) {
	c, _, store := newCommands(t)
	ctx := context.Background()
	say := func(text string) string { return c.Handle(ctx, Message{User: "m", Badges: mod, Text: text}) }

	if got := say("!config 3 7"); !strings.HasPrefix(got, "Settings updated") {
		t.Fatalf("config = %q", got)
	}
	st, _ := store.Load()
	if st.MaxUploadsPerDay != 3 || st.VideosPerCreator != 7 {
		t.Fatalf("settings = %+v", st)
	}
	if got := say("!config three 7"); got != "Both values must be whole numbers." {
		t.Fatalf("bad number = %q", got)
	}
	if got := say("!config 3 0"); !strings.HasPrefix(got, "Invalid settings") {
		t.Fatalf("invalid = %q", got)
	}
	if got := say("!config"); got != "Uploads per day: 3, downloads per creator: 7." {
		t.Fatalf("show = %q", got)
	}
}

type tokenStore struct {
	access string
	err    error
}

func (s tokenStore) GetOAuthToken(ctx context.Context, provider string) (string, string, time.Time, string, error) {
	return s.access, "", time.Time{}, "", s.err
}

func TestResolveToken(t *testing.T) {
	ctx := context.Background()
	if tok, _ := ResolveToken(ctx, "abc", nil); tok != "oauth:abc" {
		t.Fatalf("env token = %s", tok)
	}
	if tok, _ := ResolveToken(ctx, "", tokenStore{access: "stored"}); tok != "oauth:stored" {
		t.Fatalf("stored token = %s", tok)
	}
	if tok, _ := ResolveToken(ctx, "oauth:x", nil); tok != "oauth:x" {
		t.Fatalf("prefixed token = %s", tok)
	}
	if _, err := ResolveToken(ctx, "", tokenStore{}); !errors.Is(err, ErrNoCredentials) {
		t.Fatalf("err = %v", err)
	}
}

func TestRunWithoutChannelIsNoop(t *testing.T) {
	c, _, _ := newCommands(t)
	if err := Run(context.Background(), &config.Config{}, c, nil); err != nil {
		t.Fatal(err)
	}
}

// Package worker owns the lifecycle of the pipeline: at most one unit of work
// runs at a time, operators start and stop it without blocking on pipeline
// I/O, and an optional interval schedules the next run after each one ends.
package worker

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/onnwee/clip-tender/db"
	"github.com/onnwee/clip-tender/pipeline"
	"github.com/onnwee/clip-tender/telemetry"
)

// State is the controller's lifecycle state.
type State string

const (
	Idle      State = "idle"
	Running   State = "running"
	Completed State = "completed"
	Failed    State = "failed"
	Cancelled State = "cancelled"
)

var (
	ErrAlreadyRunning = errors.New("worker already running")
	ErrNotRunning     = errors.New("worker not running")
)

// Runner is one unit of work.
type Runner interface {
	Run(ctx context.Context) (pipeline.Report, error)
}

// RunHistory persists run outcomes.
type RunHistory interface {
	RecordRun(ctx context.Context, r db.RunRecord) error
}

// Status is a snapshot of the controller.
type Status struct {
	State      State           `json:"state"`
	Stopping   bool            `json:"stopping"`
	RunID      string          `json:"run_id,omitempty"`
	StartedAt  time.Time       `json:"started_at,omitempty"`
	FinishedAt time.Time       `json:"finished_at,omitempty"`
	LastError  string          `json:"last_error,omitempty"`
	Runs       int             `json:"runs"`
	NextRunAt  time.Time       `json:"next_run_at,omitempty"`
	Last       pipeline.Report `json:"last_report"`
}

// Options tune a Controller.
type Options struct {
	History RunHistory
	// Interval schedules a new run after each completed or failed one; 0 disables.
	Interval time.Duration
}

type Controller struct {
	base    context.Context
	runner  Runner
	history RunHistory
	every   time.Duration

	mu     sync.Mutex
	st     Status
	cancel context.CancelFunc
	done   chan struct{}
	timer  *time.Timer
}

// New returns an idle controller. Runs derive their context from base, so
// cancelling base stops the current run and prevents new ones.
func New(base context.Context, r Runner, opts Options) *Controller {
	return &Controller{base: base, runner: r, history: opts.History, every: opts.Interval, st: Status{State: Idle}}
}

// Start launches a run and returns immediately.
func (c *Controller) Start() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.st.State == Running {
		return ErrAlreadyRunning
	}
	if err := c.base.Err(); err != nil {
		return err
	}
	c.clearScheduleLocked()

	runID := uuid.NewString()
	ctx, cancel := context.WithCancel(telemetry.WithCorrelation(c.base, runID))
	done := make(chan struct{})
	c.cancel = cancel
	c.done = done
	c.st.State = Running
	c.st.Stopping = false
	c.st.RunID = runID
	c.st.StartedAt = time.Now()
	c.st.FinishedAt = time.Time{}
	c.st.LastError = ""
	telemetry.SetWorkerRunning(true)

	go c.run(ctx, cancel, runID, c.st.StartedAt, done)
	return nil
}

func (c *Controller) run(ctx context.Context, cancel context.CancelFunc, runID string, started time.Time, done chan struct{}) {
	defer cancel()
	logger := slog.Default().With(slog.String("component", "worker"), slog.String("run_id", runID))
	logger.Info("run started")
	c.record(ctx, db.RunRecord{RunID: runID, State: string(Running), StartedAt: started})

	rep, err := c.runner.Run(ctx)

	state := Completed
	switch {
	case err == nil:
		logger.Info("run completed", slog.Int("published", rep.Publish.Published), slog.Duration("took", time.Since(started)))
	case errors.Is(err, context.Canceled):
		state = Cancelled
		logger.Info("run cancelled", slog.Int("published", rep.Publish.Published))
	default:
		state = Failed
		logger.Error("run failed", slog.Any("err", err))
	}
	finished := time.Now()
	rec := db.RunRecord{
		RunID:           runID,
		State:           string(state),
		RunState:        string(rep.RunState),
		StartedAt:       started,
		FinishedAt:      finished,
		FetchedCreators: rep.Fetch.Fetched,
		Published:       rep.Publish.Published,
		Failed:          rep.Publish.Failed,
	}
	if state == Failed {
		rec.Error = err.Error()
	}
	c.record(ctx, rec)
	telemetry.CountRun(string(state))
	telemetry.Observe(telemetry.RunDuration, finished.Sub(started))

	c.mu.Lock()
	c.st.State = state
	c.st.Stopping = false
	c.st.FinishedAt = finished
	c.st.Runs++
	c.st.Last = rep
	if state == Failed {
		c.st.LastError = err.Error()
	}
	c.cancel = nil
	if state != Cancelled {
		c.scheduleLocked(logger)
	}
	telemetry.SetWorkerRunning(false)
	close(done)
	c.mu.Unlock()
}

func (c *Controller) record(ctx context.Context, r db.RunRecord) {
	if c.history == nil {
		return
	}
	rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := c.history.RecordRun(rctx, r); err != nil {
		slog.Warn("failed to record run", slog.String("component", "worker"), slog.String("run_id", r.RunID), slog.Any("err", err))
	}
}

func (c *Controller) scheduleLocked(logger *slog.Logger) {
	if c.every <= 0 || c.base.Err() != nil {
		return
	}
	c.st.NextRunAt = time.Now().Add(c.every)
	c.timer = time.AfterFunc(c.every, func() {
		if err := c.Start(); err != nil && !errors.Is(err, ErrAlreadyRunning) && !errors.Is(err, context.Canceled) {
			slog.Warn("scheduled run not started", slog.String("component", "worker"), slog.Any("err", err))
		}
	})
	logger.Info("next run scheduled", slog.Time("at", c.st.NextRunAt))
}

func (c *Controller) clearScheduleLocked() {
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	c.st.NextRunAt = time.Time{}
}

// Stop signals the running unit to exit at its next checkpoint and returns
// without waiting. When idle it only drops a pending scheduled run.
func (c *Controller) Stop() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.st.State != Running {
		c.clearScheduleLocked()
		return ErrNotRunning
	}
	if !c.st.Stopping {
		c.st.Stopping = true
		c.cancel()
		slog.Info("stop requested", slog.String("component", "worker"), slog.String("run_id", c.st.RunID))
	}
	return nil
}

// Wait blocks until the current unit reaches a terminal state or ctx ends.
func (c *Controller) Wait(ctx context.Context) error {
	c.mu.Lock()
	done := c.done
	c.mu.Unlock()
	if done == nil {
		return nil
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Restart stops the running unit, waits for it to exit and starts a new one.
func (c *Controller) Restart(ctx context.Context) error {
	if err := c.Stop(); err != nil && !errors.Is(err, ErrNotRunning) {
		return err
	}
	if err := c.Wait(ctx); err != nil {
		return err
	}
	return c.Start()
}

// Status returns a snapshot without touching pipeline state.
func (c *Controller) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.st
}

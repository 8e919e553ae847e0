package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/onnwee/clip-tender/worker"
)

// statusResponse is the worker snapshot plus catalog progress.
type statusResponse struct {
	Worker    worker.Status `json:"worker"`
	Catalog   int           `json:"catalog_items"`
	Published int           `json:"published_items"`
	Pending   int           `json:"pending_items"`
	Creators  []string      `json:"creators"`
	MaxPerDay int           `json:"max_uploads_per_day"`
	Error     string        `json:"error,omitempty"`
}

// HandleStatus reports worker state and how much of the catalog is pending.
func (h *Handlers) HandleStatus(w http.ResponseWriter, r *http.Request) {
	var out statusResponse
	if h.deps.Worker != nil {
		out.Worker = h.deps.Worker.Status()
	}
	if h.deps.Settings != nil {
		if st, err := h.deps.Settings.Load(); err == nil {
			out.Creators = st.Creators
			out.MaxPerDay = st.MaxUploadsPerDay
		} else {
			out.Error = err.Error()
		}
	}
	if err := h.progress(r.Context(), &out); err != nil {
		out.Error = err.Error()
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handlers) progress(ctx context.Context, out *statusResponse) error {
	if h.deps.Catalog == nil || h.deps.Ledger == nil {
		return nil
	}
	items, err := h.deps.Catalog.All()
	if err != nil {
		return err
	}
	published, err := h.deps.Ledger.Published.Load(ctx)
	if err != nil {
		return err
	}
	out.Catalog = len(items)
	out.Published = len(published)
	for _, it := range items {
		if _, ok := published[it.ID]; !ok {
			out.Pending++
		}
	}
	return nil
}

func (h *Handlers) workerAction(w http.ResponseWriter, action func() error) {
	if h.deps.Worker == nil {
		writeError(w, http.StatusServiceUnavailable, "worker not configured")
		return
	}
	if err := action(); err != nil {
		switch {
		case errors.Is(err, worker.ErrAlreadyRunning), errors.Is(err, worker.ErrNotRunning):
			writeError(w, http.StatusConflict, err.Error())
		default:
			writeError(w, http.StatusInternalServerError, err.Error())
		}
		return
	}
	writeJSON(w, http.StatusAccepted, h.deps.Worker.Status())
}

// HandleWorkerStart starts a run; 409 when one is in progress.
func (h *Handlers) HandleWorkerStart(w http.ResponseWriter, r *http.Request) {
	h.workerAction(w, func() error { return h.deps.Worker.Start() })
}

// HandleWorkerStop requests cancellation of the current run.
func (h *Handlers) HandleWorkerStop(w http.ResponseWriter, r *http.Request) {
	h.workerAction(w, func() error { return h.deps.Worker.Stop() })
}

// HandleWorkerRestart stops any run, waits for it, and starts a new one.
func (h *Handlers) HandleWorkerRestart(w http.ResponseWriter, r *http.Request) {
	h.workerAction(w, func() error { return h.deps.Worker.Restart(r.Context()) })
}

type runJSON struct {
	RunID           string     `json:"run_id"`
	State           string     `json:"state"`
	RunState        string     `json:"run_state"`
	StartedAt       time.Time  `json:"started_at"`
	FinishedAt      *time.Time `json:"finished_at,omitempty"`
	FetchedCreators int        `json:"fetched_creators"`
	Published       int        `json:"published"`
	Failed          int        `json:"failed"`
	Error           string     `json:"error,omitempty"`
}

// HandleRuns lists recent runs, newest first. ?limit= caps the result (max 200).
func (h *Handlers) HandleRuns(w http.ResponseWriter, r *http.Request) {
	if h.deps.Runs == nil {
		writeError(w, http.StatusServiceUnavailable, "run history not configured")
		return
	}
	limit := queryLimit(r, 20, 200)
	runs, err := h.deps.Runs.RecentRuns(r.Context(), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	out := make([]runJSON, 0, len(runs))
	for _, rr := range runs {
		j := runJSON{
			RunID: rr.RunID, State: rr.State, RunState: rr.RunState, StartedAt: rr.StartedAt,
			FetchedCreators: rr.FetchedCreators, Published: rr.Published, Failed: rr.Failed, Error: rr.Error,
		}
		if !rr.FinishedAt.IsZero() {
			f := rr.FinishedAt
			j.FinishedAt = &f
		}
		out = append(out, j)
	}
	writeJSON(w, http.StatusOK, out)
}

package db

import (
	"context"
	"fmt"
	"time"
)

// RunRecord is one row of run_history, written by the worker controller.
type RunRecord struct {
	RunID           string
	State           string
	RunState        string
	StartedAt       time.Time
	FinishedAt      time.Time
	FetchedCreators int
	Published       int
	Failed          int
	Error           string
}

// RecordRun inserts or updates the row for r.RunID.
func RecordRun(ctx context.Context, d *DB, r RunRecord) error {
	var finished int64
	if !r.FinishedAt.IsZero() {
		finished = r.FinishedAt.Unix()
	}
	_, err := d.Exec(ctx, `INSERT INTO run_history(run_id, state, run_state, started_at, finished_at, fetched_creators, published, failed, error)
		VALUES(?,?,?,?,?,?,?,?,?)
		ON CONFLICT(run_id) DO UPDATE SET
			state=excluded.state,
			run_state=excluded.run_state,
			finished_at=excluded.finished_at,
			fetched_creators=excluded.fetched_creators,
			published=excluded.published,
			failed=excluded.failed,
			error=excluded.error`,
		r.RunID, r.State, r.RunState, r.StartedAt.Unix(), finished, r.FetchedCreators, r.Published, r.Failed, r.Error)
	if err != nil {
		return fmt.Errorf("record run %s: %w", r.RunID, err)
	}
	return nil
}

// RecentRuns returns up to limit runs, newest first.
func RecentRuns(ctx context.Context, d *DB, limit int) ([]RunRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := d.Query(ctx, `SELECT run_id, state, run_state, started_at, finished_at, fetched_creators, published, failed, error
		FROM run_history ORDER BY started_at DESC, run_id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()
	var out []RunRecord
	for rows.Next() {
		var (
			r                 RunRecord
			started, finished int64
		)
		if err := rows.Scan(&r.RunID, &r.State, &r.RunState, &started, &finished, &r.FetchedCreators, &r.Published, &r.Failed, &r.Error); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		r.StartedAt = time.Unix(started, 0)
		if finished > 0 {
			r.FinishedAt = time.Unix(finished, 0)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// RunStore adapts the run_history helpers to the worker's history interface.
type RunStore struct{ DB *DB }

func (s *RunStore) RecordRun(ctx context.Context, r RunRecord) error { return RecordRun(ctx, s.DB, r) }

func (s *RunStore) RecentRuns(ctx context.Context, limit int) ([]RunRecord, error) {
	return RecentRuns(ctx, s.DB, limit)
}

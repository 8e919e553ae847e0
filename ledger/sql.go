package ledger

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/onnwee/clip-tender/db"
)

// SQLSet stores members as rows of ledger_entries keyed by (set_name, item_id).
// Each Add is its own autocommit statement, so it is durable on return.
type SQLSet struct {
	db   *db.DB
	name string
}

// NewSQLSet returns the set called name in d. The schema comes from db.Migrate.
func NewSQLSet(d *db.DB, name string) *SQLSet {
	return &SQLSet{db: d, name: name}
}

// NewSQLLedger returns a ledger backed by ledger_entries.
func NewSQLLedger(d *db.DB) *Ledger {
	return &Ledger{
		Fetched:   NewSQLSet(d, SetFetched),
		Published: NewSQLSet(d, SetPublished),
	}
}

func (s *SQLSet) Load(ctx context.Context) (map[string]struct{}, error) {
	ids, err := s.List(ctx)
	if err != nil {
		return nil, err
	}
	out := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		out[id] = struct{}{}
	}
	return out, nil
}

func (s *SQLSet) List(ctx context.Context) ([]string, error) {
	rows, err := s.db.Query(ctx, `SELECT item_id FROM ledger_entries WHERE set_name = ? ORDER BY id`, s.name)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", s.name, err)
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan %s: %w", s.name, err)
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

func (s *SQLSet) Contains(ctx context.Context, id string) (bool, error) {
	var n int
	err := s.db.QueryRow(ctx, `SELECT COUNT(*) FROM ledger_entries WHERE set_name = ? AND item_id = ?`, s.name, strings.TrimSpace(id)).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("lookup %s in %s: %w", id, s.name, err)
	}
	return n > 0, nil
}

func (s *SQLSet) Add(ctx context.Context, id string) error {
	id = strings.TrimSpace(id)
	if id == "" {
		return errors.New("ledger: empty id")
	}
	_, err := s.db.Exec(ctx, `INSERT INTO ledger_entries(set_name, item_id, created_at) VALUES(?,?,?)
		ON CONFLICT(set_name, item_id) DO NOTHING`, s.name, id, time.Now().Unix())
	if err != nil {
		return fmt.Errorf("add %s to %s: %w", id, s.name, err)
	}
	return nil
}

func (s *SQLSet) Reset(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, `DELETE FROM ledger_entries WHERE set_name = ?`, s.name); err != nil {
		return fmt.Errorf("reset %s: %w", s.name, err)
	}
	return nil
}

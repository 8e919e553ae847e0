// Package ledger records pipeline progress as append-only id sets.
//
// A Ledger holds two sets. Fetched is run-scoped and lists creator handles whose
// harvest completed in the current run; it is cleared only when a new run starts.
// Published is global and lists clip ids that were successfully republished; it
// is never cleared automatically. An Add is durable before it returns, so a crash
// right after a remote side effect loses at most the record of that one effect.
package ledger

import "context"

// Set is an append-only set of ids.
type Set interface {
	// Load returns the current members.
	Load(ctx context.Context) (map[string]struct{}, error)
	// Add records id. Adding an existing id is a no-op.
	Add(ctx context.Context, id string) error
	// Contains reports whether id is a member.
	Contains(ctx context.Context, id string) (bool, error)
	// List returns members in insertion order.
	List(ctx context.Context) ([]string, error)
	// Reset removes every member.
	Reset(ctx context.Context) error
}

// Ledger groups the run-scoped fetch set and the global publish set.
type Ledger struct {
	Fetched   Set
	Published Set
}

// Set names used by both backends.
const (
	SetFetched   = "fetched_creators"
	SetPublished = "published_items"
)

// Package snapshot takes consistent point-in-time views of the current
// linear states.
package snapshot

import (
	"context"

	"github.com/ledgerkit/ledgerkit/api"
	"github.com/ledgerkit/ledgerkit/log"
	"github.com/ledgerkit/ledgerkit/manager/state/store"
	"github.com/sirupsen/logrus"
)

// Snapshot is the set of unconsumed states matching a filter, together with
// the commit sequence it reflects: every transaction with a sequence up to
// and including Cursor is reflected, no later one is.
type Snapshot struct {
	States []*api.LinearState
	Cursor uint64
}

// Engine produces snapshots from a store.
type Engine struct {
	store *store.MemoryStore
}

// New returns an Engine reading from s.
func New(s *store.MemoryStore) *Engine {
	return &Engine{store: s}
}

// Snapshot returns the states matching m and the cursor, both read from the
// same immutable view. It never blocks writers.
func (e *Engine) Snapshot(ctx context.Context, m store.Matcher) (*Snapshot, error) {
	var snap Snapshot
	err := e.store.View(func(tx store.ReadTx) error {
		snap.Cursor = tx.Cursor()
		states, err := tx.CurrentStates(m)
		if err != nil {
			return err
		}
		snap.States = states
		return nil
	})
	if err != nil {
		return nil, err
	}

	log.G(ctx).WithFields(logrus.Fields{
		"cursor": snap.Cursor,
		"states": len(snap.States),
	}).Debug("snapshot taken")
	return &snap, nil
}

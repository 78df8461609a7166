package store

import (
	memdb "github.com/hashicorp/go-memdb"
	"github.com/ledgerkit/ledgerkit/api"
)

// RevisionIterator lazily walks the revisions of one linear state in causal
// order. It is bound to the immutable view it was created from, so it is
// finite and yields the same sequence after Reset.
type RevisionIterator struct {
	memDBTx  *memdb.Txn
	linearID string
	it       memdb.ResultIterator
	err      error
}

func newRevisionIterator(memDBTx *memdb.Txn, linearID string) *RevisionIterator {
	return &RevisionIterator{
		memDBTx:  memDBTx,
		linearID: linearID,
	}
}

// Next returns the next revision, or nil once the chain is exhausted or on
// error.
func (i *RevisionIterator) Next() *api.LinearState {
	if i.err != nil {
		return nil
	}
	if i.it == nil {
		// Entries of a non-unique index are ordered by primary key, which
		// is the monotonically assigned revision ID.
		i.it, i.err = i.memDBTx.Get(tableState, indexLinearID, i.linearID)
		if i.err != nil {
			return nil
		}
	}
	obj := i.it.Next()
	if obj == nil {
		return nil
	}
	return obj.(*api.LinearState).Copy()
}

// Reset rewinds the iterator to the first revision.
func (i *RevisionIterator) Reset() {
	i.it = nil
	i.err = nil
}

// Err returns the error that stopped the iteration, if any.
func (i *RevisionIterator) Err() error {
	return i.err
}

// Collect drains the iterator from its current position.
func (i *RevisionIterator) Collect() ([]*api.LinearState, error) {
	var revisions []*api.LinearState
	for s := i.Next(); s != nil; s = i.Next() {
		revisions = append(revisions, s)
	}
	return revisions, i.Err()
}

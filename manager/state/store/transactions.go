package store

import (
	memdb "github.com/hashicorp/go-memdb"
	"github.com/ledgerkit/ledgerkit/api"
)

const tableTransaction = "transaction"

func init() {
	register(tableConfig{
		Name: tableTransaction,
		Table: &memdb.TableSchema{
			Name: tableTransaction,
			Indexes: map[string]*memdb.IndexSchema{
				indexID: {
					Name:    indexID,
					Unique:  true,
					Indexer: transactionIndexerBySequence{},
				},
				indexTxID: {
					Name:    indexTxID,
					Unique:  true,
					Indexer: transactionIndexerByTxID{},
				},
			},
		},
	})
}

// lastSequence returns the commit sequence of the newest transaction visible
// in memDBTx, or 0 for an empty store.
func lastSequence(memDBTx *memdb.Txn) uint64 {
	obj, err := memDBTx.Last(tableTransaction, indexID)
	if err != nil || obj == nil {
		return 0
	}
	return obj.(*api.Transaction).Sequence
}

func hasTransaction(memDBTx *memdb.Txn, txID string) bool {
	obj, err := memDBTx.First(tableTransaction, indexTxID, txID)
	return err == nil && obj != nil
}

// eventFor rebuilds the event of a committed transaction. Consumed states
// are read back from the view; their consumption is recorded by t itself, so
// they look exactly as they did when t was published.
func eventFor(memDBTx *memdb.Txn, t *api.Transaction) *api.Event {
	event := &api.Event{
		Sequence:  t.Sequence,
		TxID:      t.ID,
		Timestamp: t.Timestamp,
	}
	for _, rev := range t.Inputs {
		if s := getState(memDBTx, rev); s != nil {
			event.Consumed = append(event.Consumed, s.Copy())
		}
	}
	for _, out := range t.Outputs {
		event.Produced = append(event.Produced, out.Copy())
	}
	return event
}

// TransactionIterator walks committed transactions in commit order. It reads
// from the immutable view it was created from.
type TransactionIterator struct {
	memDBTx *memdb.Txn
	after   uint64
	it      memdb.ResultIterator
	err     error
}

// Next returns the next transaction, or nil at the end of the log or on
// error.
func (i *TransactionIterator) Next() *api.Transaction {
	if i.err != nil {
		return nil
	}
	if i.it == nil {
		i.it, i.err = i.memDBTx.LowerBound(tableTransaction, indexID, i.after+1)
		if i.err != nil {
			return nil
		}
	}
	obj := i.it.Next()
	if obj == nil {
		return nil
	}
	return obj.(*api.Transaction).Copy()
}

// Reset rewinds the iterator to its first transaction.
func (i *TransactionIterator) Reset() {
	i.it = nil
	i.err = nil
}

// Err returns the error that stopped the iteration, if any.
func (i *TransactionIterator) Err() error {
	return i.err
}

type transactionIndexerBySequence struct{}

func (ti transactionIndexerBySequence) FromArgs(args ...interface{}) ([]byte, error) {
	return uint64FromArgs(args...)
}

func (ti transactionIndexerBySequence) FromObject(obj interface{}) (bool, []byte, error) {
	t, ok := obj.(*api.Transaction)
	if !ok {
		panic("unexpected type passed to FromObject")
	}
	return true, uint64Key(t.Sequence), nil
}

type transactionIndexerByTxID struct{}

func (ti transactionIndexerByTxID) FromArgs(args ...interface{}) ([]byte, error) {
	return fromArgs(args...)
}

func (ti transactionIndexerByTxID) FromObject(obj interface{}) (bool, []byte, error) {
	t, ok := obj.(*api.Transaction)
	if !ok {
		panic("unexpected type passed to FromObject")
	}

	// Add the null character as a terminator
	return true, []byte(t.ID + "\x00"), nil
}

package store

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/docker/go-metrics"
	memdb "github.com/hashicorp/go-memdb"
	"github.com/ledgerkit/ledgerkit/api"
	"github.com/ledgerkit/ledgerkit/identity"
	"github.com/ledgerkit/ledgerkit/log"
	"github.com/ledgerkit/ledgerkit/watch"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

const (
	indexID          = "id"
	indexLinearID    = "linearid"
	indexStatus      = "status"
	indexParticipant = "participant"
	indexSchema      = "schema"
	indexTxID        = "txid"
)

var (
	// ErrClosed is returned by every operation on a closed store.
	ErrClosed = errors.New("store is closed")

	// ErrInvalidTransaction is returned for transactions that are malformed
	// independently of the store contents.
	ErrInvalidTransaction = errors.New("invalid transaction")

	// ErrInvalidFindBy is returned if an unrecognized type is passed to Find.
	ErrInvalidFindBy = errors.New("invalid find argument type")

	tables = make(map[string]tableConfig)
	schema = &memdb.DBSchema{
		Tables: map[string]*memdb.TableSchema{},
	}

	ns              = metrics.NewNamespace("ledgerkit", "store", nil)
	applyLatency    = ns.NewTimer("apply_latency", "Time spent applying a transaction to the store")
	commitCounter   = ns.NewCounter("commits", "Number of committed transactions")
	conflictCounter = ns.NewCounter("conflicts", "Number of transactions rejected with a conflict")
	unconsumedGauge = ns.NewGauge("unconsumed_states", "Number of unconsumed linear states", metrics.Total)
)

func init() {
	metrics.Register(ns)
}

type tableConfig struct {
	Name  string
	Table *memdb.TableSchema
}

func register(tc tableConfig) {
	tables[tc.Name] = tc
	schema.Tables[tc.Name] = tc.Table
}

// Matcher selects linear states.
type Matcher interface {
	Matches(*api.LinearState) bool
}

// Indexed is implemented by matchers that can narrow a scan to one of the
// store's indexes. Matches is still applied to every candidate.
type Indexed interface {
	Index() By
}

// Committer makes a transaction durable before it becomes visible. If Commit
// fails the transaction is rolled back.
type Committer interface {
	Commit(ctx context.Context, tx *api.Transaction) error
}

// MemoryStore is a concurrency-safe, in-memory store of linear states and
// the transactions that produced and consumed them.
type MemoryStore struct {
	// updateLock must be held during an update transaction.
	updateLock sync.Mutex

	memDB     *memdb.MemDB
	queue     *watch.Queue
	committer Committer
	closed    uint32

	// protected by updateLock
	lastRevision uint64
	unconsumed   int
}

// NewMemoryStore returns an in-memory store. The argument is an optional
// Committer which is used to persist transactions before they are applied.
func NewMemoryStore(committer Committer) *MemoryStore {
	memDB, err := memdb.NewMemDB(schema)
	if err != nil {
		// This shouldn't fail
		panic(err)
	}

	return &MemoryStore{
		memDB:     memDB,
		queue:     watch.NewQueue(),
		committer: committer,
	}
}

func fromArgs(args ...interface{}) ([]byte, error) {
	if len(args) != 1 {
		return nil, fmt.Errorf("must provide only a single argument")
	}
	arg, ok := args[0].(string)
	if !ok {
		return nil, fmt.Errorf("argument must be a string: %#v", args[0])
	}
	// Add the null character as a terminator
	arg += "\x00"
	return []byte(arg), nil
}

// Apply validates and commits tx. Every input must be a currently
// unconsumed revision; the inputs are marked consumed and the outputs are
// inserted with fresh revision IDs under the next commit sequence. On any
// error nothing is changed. Apply returns the committed transaction.
func (s *MemoryStore) Apply(ctx context.Context, tx *api.Transaction) (*api.Transaction, error) {
	if tx == nil {
		return nil, errors.Wrap(ErrInvalidTransaction, "nil transaction")
	}
	return s.apply(ctx, tx.Copy(), false)
}

// Restore re-applies transactions that were committed before, keeping their
// IDs, sequences, revision IDs and timestamps. It is used to rebuild the
// store from a journal and bypasses the Committer.
func (s *MemoryStore) Restore(ctx context.Context, txs []*api.Transaction) error {
	for _, tx := range txs {
		if _, err := s.apply(ctx, tx.Copy(), true); err != nil {
			return errors.Wrapf(err, "restoring transaction %d", tx.Sequence)
		}
	}
	return nil
}

func (s *MemoryStore) apply(ctx context.Context, tx *api.Transaction, replay bool) (*api.Transaction, error) {
	if s.isClosed() {
		return nil, ErrClosed
	}
	if len(tx.Inputs) == 0 && len(tx.Outputs) == 0 {
		return nil, errors.Wrap(ErrInvalidTransaction, "transaction has no inputs or outputs")
	}

	s.updateLock.Lock()
	defer s.updateLock.Unlock()

	start := time.Now()
	defer applyLatency.UpdateSince(start)

	memDBTx := s.memDB.Txn(true)
	event, err := s.stage(memDBTx, tx, replay)
	if err == nil && s.committer != nil && !replay {
		err = s.committer.Commit(ctx, tx)
	}
	if err != nil {
		memDBTx.Abort()
		if api.IsConflict(err) {
			conflictCounter.Inc(1)
		}
		log.G(ctx).WithError(err).WithField("tx.id", tx.ID).Debug("transaction rejected")
		return nil, err
	}
	memDBTx.Commit()

	s.lastRevision += uint64(len(tx.Outputs))
	s.unconsumed += len(tx.Outputs) - len(tx.Inputs)
	unconsumedGauge.Set(float64(s.unconsumed))
	commitCounter.Inc(1)

	log.G(ctx).WithFields(logrus.Fields{
		"tx.id":    tx.ID,
		"sequence": tx.Sequence,
		"inputs":   len(tx.Inputs),
		"outputs":  len(tx.Outputs),
	}).Debug("transaction committed")

	// Publishing under updateLock keeps the queue in commit order.
	s.queue.Publish(event)

	return tx.Copy(), nil
}

// stage writes tx into memDBTx and fills in the fields assigned at commit.
func (s *MemoryStore) stage(memDBTx *memdb.Txn, tx *api.Transaction, replay bool) (*api.Event, error) {
	seq := lastSequence(memDBTx) + 1
	if replay {
		if tx.ID == "" || tx.Sequence != seq {
			return nil, errors.Wrapf(ErrInvalidTransaction, "journal out of order: have sequence %d, expected %d", tx.Sequence, seq)
		}
	} else {
		if tx.ID == "" {
			tx.ID = identity.NewID()
		}
		tx.Sequence = seq
		tx.Timestamp = time.Now().UTC()
	}

	conflict := func(rev uint64, format string, args ...interface{}) error {
		return &api.ConflictError{TxID: tx.ID, RevisionID: rev, Reason: fmt.Sprintf(format, args...)}
	}

	if hasTransaction(memDBTx, tx.ID) {
		return nil, conflict(0, "duplicate transaction id")
	}

	event := &api.Event{
		Sequence:  tx.Sequence,
		TxID:      tx.ID,
		Timestamp: tx.Timestamp,
	}

	spent := make(map[string]struct{}, len(tx.Inputs))
	inputs := make(map[uint64]struct{}, len(tx.Inputs))
	for _, rev := range tx.Inputs {
		if _, dup := inputs[rev]; dup {
			return nil, conflict(rev, "is spent twice")
		}
		inputs[rev] = struct{}{}

		current := getState(memDBTx, rev)
		if current == nil {
			return nil, conflict(rev, "is unknown")
		}
		if current.Status != api.StatusUnconsumed {
			return nil, conflict(rev, "was already consumed by %s", current.ConsumedBy)
		}

		consumed := current.Copy()
		consumed.Status = api.StatusConsumed
		consumed.ConsumedBy = tx.ID
		consumed.ConsumedSequence = tx.Sequence
		if err := memDBTx.Insert(tableState, consumed); err != nil {
			return nil, err
		}
		spent[consumed.LinearID] = struct{}{}
		event.Consumed = append(event.Consumed, consumed.Copy())
	}

	rev := s.lastRevision
	produced := make(map[string]struct{}, len(tx.Outputs))
	for i, out := range tx.Outputs {
		if out == nil {
			return nil, errors.Wrapf(ErrInvalidTransaction, "output %d is empty", i)
		}
		if out.LinearID == "" {
			if replay {
				return nil, errors.Wrapf(ErrInvalidTransaction, "journaled output %d has no linear id", i)
			}
			out.LinearID = identity.NewLinearID()
		} else if err := identity.ValidateLinearID(out.LinearID); err != nil {
			return nil, errors.Wrap(ErrInvalidTransaction, err.Error())
		}

		if _, dup := produced[out.LinearID]; dup {
			return nil, conflict(0, "produces linear state %s twice", out.LinearID)
		}
		produced[out.LinearID] = struct{}{}

		// A chain can only be continued by the transaction that spends
		// its head; a terminated chain stays terminated.
		if _, ok := spent[out.LinearID]; !ok && hasChain(memDBTx, out.LinearID) {
			return nil, conflict(0, "linear state %s is not spent by this transaction", out.LinearID)
		}

		rev++
		if replay {
			if out.RevisionID != rev {
				return nil, errors.Wrapf(ErrInvalidTransaction, "journal out of order: have revision %d, expected %d", out.RevisionID, rev)
			}
		} else {
			out.RevisionID = rev
		}
		out.Status = api.StatusUnconsumed
		out.TxID = tx.ID
		out.Sequence = tx.Sequence
		out.ConsumedBy = ""
		out.ConsumedSequence = 0

		if err := memDBTx.Insert(tableState, out.Copy()); err != nil {
			return nil, err
		}
		event.Produced = append(event.Produced, out.Copy())
	}

	if err := memDBTx.Insert(tableTransaction, tx.Copy()); err != nil {
		return nil, err
	}
	return event, nil
}

// ReadTx is a read transaction. It presents a consistent view of the data
// that cannot be affected by other transactions.
type ReadTx interface {
	// Cursor returns the commit sequence of the newest transaction
	// visible in this view.
	Cursor() uint64
	// Get returns the revision with this ID, or nil.
	Get(revisionID uint64) *api.LinearState
	// CurrentStates selects the unconsumed states matching m.
	CurrentStates(m Matcher) ([]*api.LinearState, error)
	// History iterates over every revision of linearID.
	History(linearID string) *RevisionIterator
	// Transactions iterates over transactions committed after the given
	// sequence.
	Transactions(after uint64) *TransactionIterator
	// Event rebuilds the event published when t was committed.
	Event(t *api.Transaction) *api.Event
}

type readTx struct {
	memDBTx *memdb.Txn
}

func (tx readTx) Cursor() uint64 {
	return lastSequence(tx.memDBTx)
}

func (tx readTx) Get(revisionID uint64) *api.LinearState {
	return getState(tx.memDBTx, revisionID).Copy()
}

func (tx readTx) CurrentStates(m Matcher) ([]*api.LinearState, error) {
	var by By = All
	if indexed, ok := m.(Indexed); ok {
		by = indexed.Index()
	}
	return findUnconsumed(tx.memDBTx, by, m)
}

func (tx readTx) History(linearID string) *RevisionIterator {
	return newRevisionIterator(tx.memDBTx, linearID)
}

func (tx readTx) Transactions(after uint64) *TransactionIterator {
	return &TransactionIterator{memDBTx: tx.memDBTx, after: after}
}

func (tx readTx) Event(t *api.Transaction) *api.Event {
	return eventFor(tx.memDBTx, t)
}

// View executes a read transaction. Readers never take the update lock; the
// view is an immutable snapshot of the most recent commit.
func (s *MemoryStore) View(cb func(ReadTx) error) error {
	if s.isClosed() {
		return ErrClosed
	}
	memDBTx := s.memDB.Txn(false)
	defer memDBTx.Abort()
	return cb(readTx{memDBTx: memDBTx})
}

// CurrentStates returns the unconsumed states matching m as of the most
// recent commit. A nil matcher selects every unconsumed state.
func (s *MemoryStore) CurrentStates(m Matcher) ([]*api.LinearState, error) {
	var states []*api.LinearState
	err := s.View(func(tx ReadTx) error {
		var err error
		states, err = tx.CurrentStates(m)
		return err
	})
	return states, err
}

// History returns a lazy iterator over every revision of linearID in causal
// order, as of the most recent commit.
func (s *MemoryStore) History(linearID string) (*RevisionIterator, error) {
	var it *RevisionIterator
	err := s.View(func(tx ReadTx) error {
		it = tx.History(linearID)
		return nil
	})
	return it, err
}

// Cursor returns the commit sequence of the most recent transaction.
func (s *MemoryStore) Cursor() uint64 {
	var cursor uint64
	_ = s.View(func(tx ReadTx) error {
		cursor = tx.Cursor()
		return nil
	})
	return cursor
}

// WatchQueue returns the publish/subscribe queue carrying one *api.Event per
// committed transaction, in commit order.
func (s *MemoryStore) WatchQueue() *watch.Queue {
	return s.queue
}

// Close makes the store unavailable and stops its watch queue.
func (s *MemoryStore) Close() error {
	if !atomic.CompareAndSwapUint32(&s.closed, 0, 1) {
		return nil
	}
	return s.queue.Close()
}

func (s *MemoryStore) isClosed() bool {
	return atomic.LoadUint32(&s.closed) == 1
}

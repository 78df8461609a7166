// Package journal persists committed transactions in a bbolt database so the
// store can be rebuilt after a restart.
package journal

import (
	"bytes"
	"context"
	"encoding/binary"
	"time"

	"github.com/ledgerkit/ledgerkit/api"
	"github.com/ledgerkit/ledgerkit/log"
	"github.com/ledgerkit/ledgerkit/manager/state/store"
	"github.com/pkg/errors"
	bolt "go.etcd.io/bbolt"
)

// Layout:
//
//	bucket(v1.transactions) ->
//		<sequence, big endian> -> transaction (json)
var (
	bucketKeyStorageVersion = []byte("v1")
	bucketKeyTransactions   = []byte("transactions")
)

// ErrOutOfOrder is returned when a transaction does not continue the
// journaled sequence.
var ErrOutOfOrder = errors.New("transaction out of order")

type bucketKeyPath [][]byte

func (bk bucketKeyPath) String() string {
	return string(bytes.Join([][]byte(bk), []byte("/")))
}

// Journal is an append-only log of committed transactions. It implements
// store.Committer.
type Journal struct {
	db *bolt.DB
}

var _ store.Committer = (*Journal)(nil)

// Open opens or creates the journal at path.
func Open(path string) (*Journal, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, errors.Wrapf(err, "opening journal %s", path)
	}
	if err := initDB(db); err != nil {
		db.Close()
		return nil, err
	}
	return &Journal{db: db}, nil
}

func initDB(db *bolt.DB) error {
	return db.Update(func(tx *bolt.Tx) error {
		_, err := createBucketIfNotExists(tx, bucketKeyStorageVersion, bucketKeyTransactions)
		return err
	})
}

// Commit appends t. It is called by the store under its write lock, before
// the transaction becomes visible; an error aborts the transaction.
func (j *Journal) Commit(ctx context.Context, t *api.Transaction) error {
	p, err := api.Marshal(t)
	if err != nil {
		return errors.Wrap(err, "encoding transaction")
	}

	return j.db.Update(func(tx *bolt.Tx) error {
		bkt := getTransactionsBucket(tx)
		if bkt == nil {
			return errors.Errorf("journal bucket %s missing", bucketKeyPath{bucketKeyStorageVersion, bucketKeyTransactions})
		}

		var last uint64
		if k, _ := bkt.Cursor().Last(); k != nil {
			last = binary.BigEndian.Uint64(k)
		}
		if t.Sequence != last+1 {
			return errors.Wrapf(ErrOutOfOrder, "have sequence %d, journal is at %d", t.Sequence, last)
		}

		log.G(ctx).WithField("sequence", t.Sequence).Debug("journaling transaction")
		return bkt.Put(sequenceKey(t.Sequence), p)
	})
}

// Transactions returns the journaled transactions with a sequence greater
// than after, in order.
func (j *Journal) Transactions(after uint64) ([]*api.Transaction, error) {
	var txs []*api.Transaction
	err := j.db.View(func(tx *bolt.Tx) error {
		bkt := getTransactionsBucket(tx)
		if bkt == nil {
			return nil
		}

		c := bkt.Cursor()
		for k, v := c.Seek(sequenceKey(after + 1)); k != nil; k, v = c.Next() {
			var t api.Transaction
			if err := api.Unmarshal(v, &t); err != nil {
				return errors.Wrapf(err, "decoding transaction %d", binary.BigEndian.Uint64(k))
			}
			txs = append(txs, &t)
		}
		return nil
	})
	return txs, err
}

// Replay restores every journaled transaction into s, which must be empty.
func (j *Journal) Replay(ctx context.Context, s *store.MemoryStore) error {
	txs, err := j.Transactions(0)
	if err != nil {
		return err
	}
	if err := s.Restore(ctx, txs); err != nil {
		return err
	}
	log.G(ctx).WithField("transactions", len(txs)).Info("journal replayed")
	return nil
}

// Close closes the underlying database.
func (j *Journal) Close() error {
	return j.db.Close()
}

func sequenceKey(seq uint64) []byte {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], seq)
	return b[:]
}

func getTransactionsBucket(tx *bolt.Tx) *bolt.Bucket {
	return getBucket(tx, bucketKeyStorageVersion, bucketKeyTransactions)
}

func getBucket(tx *bolt.Tx, keys ...[]byte) *bolt.Bucket {
	bkt := tx.Bucket(keys[0])

	for _, key := range keys[1:] {
		if bkt == nil {
			break
		}
		bkt = bkt.Bucket(key)
	}

	return bkt
}

func createBucketIfNotExists(tx *bolt.Tx, keys ...[]byte) (*bolt.Bucket, error) {
	bkt, err := tx.CreateBucketIfNotExists(keys[0])
	if err != nil {
		return nil, err
	}

	for i, key := range keys[1:] {
		bkt, err = bkt.CreateBucketIfNotExists(key)
		if err != nil {
			return nil, errors.Wrapf(err, "creating bucket %s", bucketKeyPath(keys[:i+2]))
		}
	}

	return bkt, nil
}

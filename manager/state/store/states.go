package store

import (
	"encoding/binary"
	"fmt"
	"sort"

	memdb "github.com/hashicorp/go-memdb"
	"github.com/ledgerkit/ledgerkit/api"
)

const tableState = "state"

func init() {
	register(tableConfig{
		Name: tableState,
		Table: &memdb.TableSchema{
			Name: tableState,
			Indexes: map[string]*memdb.IndexSchema{
				indexID: {
					Name:    indexID,
					Unique:  true,
					Indexer: stateIndexerByRevision{},
				},
				indexLinearID: {
					Name:    indexLinearID,
					Indexer: stateIndexerByLinearID{},
				},
				indexStatus: {
					Name:    indexStatus,
					Indexer: stateIndexerByStatus{},
				},
				indexParticipant: {
					Name:         indexParticipant,
					AllowMissing: true,
					Indexer:      stateIndexerByParticipant{},
				},
				indexSchema: {
					Name:         indexSchema,
					AllowMissing: true,
					Indexer:      stateIndexerBySchema{},
				},
			},
		},
	})
}

// getState looks up a revision by ID. The returned state is shared with the
// store and must not be modified.
func getState(memDBTx *memdb.Txn, revisionID uint64) *api.LinearState {
	obj, err := memDBTx.First(tableState, indexID, revisionID)
	if err != nil || obj == nil {
		return nil
	}
	return obj.(*api.LinearState)
}

// hasChain reports whether any revision of linearID was ever produced.
func hasChain(memDBTx *memdb.Txn, linearID string) bool {
	obj, err := memDBTx.First(tableState, indexLinearID, linearID)
	return err == nil && obj != nil
}

// findUnconsumed selects the unconsumed states matching by and m, ordered by
// revision.
func findUnconsumed(memDBTx *memdb.Txn, by By, m Matcher) ([]*api.LinearState, error) {
	var (
		result []*api.LinearState
		seen   = make(map[uint64]struct{})
	)

	collect := func(it memdb.ResultIterator) {
		for obj := it.Next(); obj != nil; obj = it.Next() {
			s := obj.(*api.LinearState)
			if s.Status != api.StatusUnconsumed {
				continue
			}
			if _, ok := seen[s.RevisionID]; ok {
				continue
			}
			seen[s.RevisionID] = struct{}{}
			if m == nil || m.Matches(s) {
				result = append(result, s.Copy())
			}
		}
	}

	scan := func(index string, values []string) error {
		for _, v := range values {
			it, err := memDBTx.Get(tableState, index, v)
			if err != nil {
				return err
			}
			collect(it)
		}
		return nil
	}

	var err error
	switch v := by.(type) {
	case nil, byAll:
		var it memdb.ResultIterator
		it, err = memDBTx.Get(tableState, indexStatus, api.StatusUnconsumed)
		if err == nil {
			collect(it)
		}
	case byLinearIDs:
		err = scan(indexLinearID, v)
	case byParticipants:
		err = scan(indexParticipant, v)
	case bySchemas:
		err = scan(indexSchema, v)
	default:
		return nil, ErrInvalidFindBy
	}
	if err != nil {
		return nil, err
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].RevisionID < result[j].RevisionID
	})
	return result, nil
}

func uint64Key(v uint64) []byte {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], v)
	return b[:]
}

func uint64FromArgs(args ...interface{}) ([]byte, error) {
	if len(args) != 1 {
		return nil, fmt.Errorf("must provide only a single argument")
	}
	v, ok := args[0].(uint64)
	if !ok {
		return nil, fmt.Errorf("argument must be a uint64: %#v", args[0])
	}
	return uint64Key(v), nil
}

type stateIndexerByRevision struct{}

func (si stateIndexerByRevision) FromArgs(args ...interface{}) ([]byte, error) {
	return uint64FromArgs(args...)
}

func (si stateIndexerByRevision) FromObject(obj interface{}) (bool, []byte, error) {
	s, ok := obj.(*api.LinearState)
	if !ok {
		panic("unexpected type passed to FromObject")
	}
	return true, uint64Key(s.RevisionID), nil
}

type stateIndexerByLinearID struct{}

func (si stateIndexerByLinearID) FromArgs(args ...interface{}) ([]byte, error) {
	return fromArgs(args...)
}

func (si stateIndexerByLinearID) FromObject(obj interface{}) (bool, []byte, error) {
	s, ok := obj.(*api.LinearState)
	if !ok {
		panic("unexpected type passed to FromObject")
	}

	// Add the null character as a terminator
	return true, []byte(s.LinearID + "\x00"), nil
}

type stateIndexerByStatus struct{}

func (si stateIndexerByStatus) FromArgs(args ...interface{}) ([]byte, error) {
	if len(args) != 1 {
		return nil, fmt.Errorf("must provide only a single argument")
	}
	status, ok := args[0].(api.Status)
	if !ok {
		return nil, fmt.Errorf("argument must be an api.Status: %#v", args[0])
	}
	return []byte(status.String() + "\x00"), nil
}

func (si stateIndexerByStatus) FromObject(obj interface{}) (bool, []byte, error) {
	s, ok := obj.(*api.LinearState)
	if !ok {
		panic("unexpected type passed to FromObject")
	}
	return true, []byte(s.Status.String() + "\x00"), nil
}

type stateIndexerByParticipant struct{}

func (si stateIndexerByParticipant) FromArgs(args ...interface{}) ([]byte, error) {
	return fromArgs(args...)
}

func (si stateIndexerByParticipant) FromObject(obj interface{}) (bool, [][]byte, error) {
	s, ok := obj.(*api.LinearState)
	if !ok {
		panic("unexpected type passed to FromObject")
	}
	if len(s.Participants) == 0 {
		return false, nil, nil
	}

	vals := make([][]byte, 0, len(s.Participants))
	seen := make(map[string]struct{}, len(s.Participants))
	for _, p := range s.Participants {
		if _, ok := seen[p]; ok {
			continue
		}
		seen[p] = struct{}{}
		vals = append(vals, []byte(p+"\x00"))
	}
	return true, vals, nil
}

type stateIndexerBySchema struct{}

func (si stateIndexerBySchema) FromArgs(args ...interface{}) ([]byte, error) {
	return fromArgs(args...)
}

func (si stateIndexerBySchema) FromObject(obj interface{}) (bool, []byte, error) {
	s, ok := obj.(*api.LinearState)
	if !ok {
		panic("unexpected type passed to FromObject")
	}
	if s.Payload.Schema == "" {
		return false, nil, nil
	}
	return true, []byte(s.Payload.Schema + "\x00"), nil
}

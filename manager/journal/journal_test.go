package journal

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/ledgerkit/ledgerkit/api"
	"github.com/ledgerkit/ledgerkit/manager/state/store"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func iou(participants ...string) *api.LinearState {
	return &api.LinearState{
		Participants: participants,
		Payload:      api.Payload{Schema: "iou", Data: []byte(`{"value":1}`)},
	}
}

func openJournal(t *testing.T) (*Journal, string) {
	dir, err := os.MkdirTemp("", "ledgerkit-journal")
	require.NoError(t, err)
	t.Cleanup(func() { os.RemoveAll(dir) })

	path := filepath.Join(dir, "journal.db")
	j, err := Open(path)
	require.NoError(t, err)
	return j, path
}

func TestJournalReplay(t *testing.T) {
	ctx := context.Background()
	j, path := openJournal(t)

	s1 := store.NewMemoryStore(j)
	tx1, err := s1.Apply(ctx, &api.Transaction{Outputs: []*api.LinearState{iou("alice"), iou("bob")}})
	require.NoError(t, err)

	next := iou("alice")
	next.LinearID = tx1.Outputs[0].LinearID
	_, err = s1.Apply(ctx, &api.Transaction{Inputs: []uint64{tx1.Outputs[0].RevisionID}, Outputs: []*api.LinearState{next}})
	require.NoError(t, err)

	// Rejected transactions never reach the journal.
	_, err = s1.Apply(ctx, &api.Transaction{Inputs: []uint64{tx1.Outputs[0].RevisionID}})
	require.True(t, api.IsConflict(err))

	want, err := s1.CurrentStates(nil)
	require.NoError(t, err)
	require.NoError(t, s1.Close())
	require.NoError(t, j.Close())

	j, err = Open(path)
	require.NoError(t, err)
	defer j.Close()

	txs, err := j.Transactions(0)
	require.NoError(t, err)
	require.Len(t, txs, 2)
	assert.Equal(t, tx1.ID, txs[0].ID)

	txs, err = j.Transactions(1)
	require.NoError(t, err)
	require.Len(t, txs, 1)
	assert.Equal(t, uint64(2), txs[0].Sequence)

	s2 := store.NewMemoryStore(j)
	defer s2.Close()
	require.NoError(t, j.Replay(ctx, s2))

	got, err := s2.CurrentStates(nil)
	require.NoError(t, err)
	assert.Equal(t, want, got)
	assert.Equal(t, uint64(2), s2.Cursor())

	// The rebuilt store keeps journaling where the old one stopped.
	tx3, err := s2.Apply(ctx, &api.Transaction{Outputs: []*api.LinearState{iou("carol")}})
	require.NoError(t, err)
	assert.Equal(t, uint64(3), tx3.Sequence)
	txs, err = j.Transactions(2)
	require.NoError(t, err)
	require.Len(t, txs, 1)
	assert.Equal(t, tx3.ID, txs[0].ID)
}

func TestJournalRejectsGaps(t *testing.T) {
	j, _ := openJournal(t)
	defer j.Close()

	err := j.Commit(context.Background(), &api.Transaction{ID: "a", Sequence: 2})
	assert.True(t, errors.Is(err, ErrOutOfOrder))

	require.NoError(t, j.Commit(context.Background(), &api.Transaction{ID: "a", Sequence: 1}))
	err = j.Commit(context.Background(), &api.Transaction{ID: "b", Sequence: 1})
	assert.True(t, errors.Is(err, ErrOutOfOrder))
}

func TestJournalFailureAbortsApply(t *testing.T) {
	ctx := context.Background()
	j, _ := openJournal(t)

	s := store.NewMemoryStore(j)
	defer s.Close()
	require.NoError(t, j.Close())

	_, err := s.Apply(ctx, &api.Transaction{Outputs: []*api.LinearState{iou("alice")}})
	require.Error(t, err)
	assert.Equal(t, uint64(0), s.Cursor())
	states, err := s.CurrentStates(nil)
	require.NoError(t, err)
	assert.Empty(t, states)
}

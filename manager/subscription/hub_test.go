package subscription

import (
	"context"
	"sync"
	"testing"
	"time"

	"code.cloudfoundry.org/clock/fakeclock"
	"github.com/ledgerkit/ledgerkit/api"
	"github.com/ledgerkit/ledgerkit/manager/filter"
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

func next(t *testing.T, sub *Subscription) *api.Event {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	ev, err := sub.Next(ctx)
	require.NoError(t, err)
	return ev
}

func TestSubscribeExampleScenario(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore(nil)
	defer s.Close()
	h := NewHub(s, Config{})
	defer h.Close()

	tx1, err := s.Apply(ctx, &api.Transaction{Outputs: []*api.LinearState{iou("alice")}})
	require.NoError(t, err)
	a := tx1.Outputs[0]

	sub, err := h.Subscribe(ctx, nil, s.Cursor())
	require.NoError(t, err)
	assert.Equal(t, uint64(1), sub.Cursor())
	assert.Equal(t, 1, h.Len())

	b := iou("alice")
	b.LinearID = a.LinearID
	tx2, err := s.Apply(ctx, &api.Transaction{Inputs: []uint64{a.RevisionID}, Outputs: []*api.LinearState{b}})
	require.NoError(t, err)

	ev := next(t, sub)
	assert.Equal(t, uint64(2), ev.Sequence)
	assert.Equal(t, tx2.ID, ev.TxID)
	require.Len(t, ev.Produced, 1)
	assert.Equal(t, tx2.Outputs[0].RevisionID, ev.Produced[0].RevisionID)
	require.Len(t, ev.Consumed, 1)
	assert.Equal(t, a.RevisionID, ev.Consumed[0].RevisionID)
	assert.Equal(t, api.StatusConsumed, ev.Consumed[0].Status)
	assert.Equal(t, uint64(2), sub.Cursor())

	shortCtx, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
	defer cancel()
	_, err = sub.Next(shortCtx)
	assert.Equal(t, context.DeadlineExceeded, err)
}

func TestSubscribeReplaysBacklog(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore(nil)
	defer s.Close()
	h := NewHub(s, Config{})
	defer h.Close()

	for i := 0; i < 3; i++ {
		_, err := s.Apply(ctx, &api.Transaction{Outputs: []*api.LinearState{iou("alice")}})
		require.NoError(t, err)
	}

	sub, err := h.Subscribe(ctx, nil, 1)
	require.NoError(t, err)

	_, err = s.Apply(ctx, &api.Transaction{Outputs: []*api.LinearState{iou("alice")}})
	require.NoError(t, err)

	for _, want := range []uint64{2, 3, 4} {
		assert.Equal(t, want, next(t, sub).Sequence)
	}
}

func TestSubscribeProjectsThroughFilter(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore(nil)
	defer s.Close()
	h := NewHub(s, Config{})
	defer h.Close()

	m, err := filter.Compile(&api.Filter{Participants: []string{"bob"}}, nil)
	require.NoError(t, err)
	sub, err := h.Subscribe(ctx, m, 0)
	require.NoError(t, err)

	_, err = s.Apply(ctx, &api.Transaction{Outputs: []*api.LinearState{iou("alice")}})
	require.NoError(t, err)
	tx2, err := s.Apply(ctx, &api.Transaction{Outputs: []*api.LinearState{iou("alice"), iou("bob")}})
	require.NoError(t, err)

	ev := next(t, sub)
	assert.Equal(t, tx2.Sequence, ev.Sequence)
	require.Len(t, ev.Produced, 1)
	assert.Equal(t, []string{"bob"}, ev.Produced[0].Participants)
	assert.Equal(t, uint64(2), sub.Cursor())
}

func TestDeliverIsIdempotent(t *testing.T) {
	s := store.NewMemoryStore(nil)
	defer s.Close()
	h := NewHub(s, Config{})
	defer h.Close()

	sub, err := h.Subscribe(context.Background(), nil, 0)
	require.NoError(t, err)

	ev := &api.Event{Sequence: 5, TxID: "tx", Produced: []*api.LinearState{iou("alice")}}
	require.NoError(t, sub.deliver(ev))
	require.NoError(t, sub.deliver(ev))
	require.NoError(t, sub.deliver(&api.Event{Sequence: 4, Produced: []*api.LinearState{iou("alice")}}))

	assert.Len(t, sub.ch, 1)
	assert.Equal(t, uint64(5), sub.Cursor())
}

// Transactions are applied from several goroutines while subscribers join
// at whatever cursor the store has reached. Each subscriber must see exactly
// the filtered projection of the log after its cursor.
func TestSubscribeExactlyOnceUnderConcurrentApply(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore(nil)
	defer s.Close()
	h := NewHub(s, Config{QueueSize: 4})
	defer h.Close()

	const (
		writers   = 4
		perWriter = 50
		total     = writers * perWriter
	)
	parties := []string{"alice", "bob", "carol"}

	type result struct {
		cursor  uint64
		matcher *filter.Matcher
		got     []uint64
	}
	var (
		mu      sync.Mutex
		results []*result
		wg      sync.WaitGroup
		readers sync.WaitGroup
	)

	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < perWriter; i++ {
				_, err := s.Apply(ctx, &api.Transaction{Outputs: []*api.LinearState{iou(parties[(w+i)%len(parties)])}})
				assert.NoError(t, err)
			}
		}(w)
	}

	for i := 0; i < 6; i++ {
		var m *filter.Matcher
		if i%2 == 1 {
			var err error
			m, err = filter.Compile(&api.Filter{Participants: []string{parties[i%len(parties)]}}, nil)
			require.NoError(t, err)
		}

		cursor := s.Cursor()
		sub, err := h.Subscribe(ctx, m, cursor)
		require.NoError(t, err)

		r := &result{cursor: cursor, matcher: m}
		mu.Lock()
		results = append(results, r)
		mu.Unlock()

		readers.Add(1)
		go func() {
			defer readers.Done()
			for {
				ev, err := sub.Next(ctx)
				if err != nil {
					return
				}
				if ev.Sequence > total {
					return
				}
				r.got = append(r.got, ev.Sequence)
			}
		}()
		time.Sleep(time.Millisecond)
	}
	wg.Wait()

	// Make sure every subscriber sees a final event it can stop at.
	_, err := s.Apply(ctx, &api.Transaction{Outputs: []*api.LinearState{iou(parties...)}})
	require.NoError(t, err)
	waitTimeout(t, &readers)

	for _, r := range results {
		var want []uint64
		err := s.View(func(tx store.ReadTx) error {
			it := tx.Transactions(r.cursor)
			for txn := it.Next(); txn != nil; txn = it.Next() {
				if txn.Sequence > total {
					break
				}
				if tx.Event(txn).Project(func(st *api.LinearState) bool { return r.matcher.Matches(st) }) != nil {
					want = append(want, txn.Sequence)
				}
			}
			return it.Err()
		})
		require.NoError(t, err)
		assert.Equal(t, want, r.got, "subscriber at cursor %d with filter %s", r.cursor, r.matcher)
	}
}

func TestSnapshotAndEventsFoldToCurrentStates(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore(nil)
	defer s.Close()
	h := NewHub(s, Config{QueueSize: 4})
	defer h.Close()

	const (
		writers = 4
		chains  = 3
		rounds  = 20
	)

	var wg sync.WaitGroup
	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			heads := make([]*api.LinearState, 0, chains)
			for c := 0; c < chains; c++ {
				committed, err := s.Apply(ctx, &api.Transaction{Outputs: []*api.LinearState{iou("alice")}})
				if !assert.NoError(t, err) {
					return
				}
				heads = append(heads, committed.Outputs[0])
			}
			for r := 0; r < rounds; r++ {
				for c, head := range heads {
					out := iou("alice", "bob")
					out.LinearID = head.LinearID
					committed, err := s.Apply(ctx, &api.Transaction{Inputs: []uint64{head.RevisionID}, Outputs: []*api.LinearState{out}})
					if !assert.NoError(t, err) {
						return
					}
					heads[c] = committed.Outputs[0]
				}
			}
			// the first chain ends without a successor
			_, err := s.Apply(ctx, &api.Transaction{Inputs: []uint64{heads[0].RevisionID}})
			assert.NoError(t, err)
		}()
	}

	type folded struct {
		states map[uint64]*api.LinearState
		err    error
	}
	results := make(chan folded, 3)
	for i := 0; i < 3; i++ {
		var (
			states []*api.LinearState
			cursor uint64
		)
		require.NoError(t, s.View(func(tx store.ReadTx) error {
			cursor = tx.Cursor()
			var err error
			states, err = tx.CurrentStates(nil)
			return err
		}))
		sub, err := h.Subscribe(ctx, nil, cursor)
		require.NoError(t, err)

		go func() {
			f := folded{states: make(map[uint64]*api.LinearState)}
			defer func() { results <- f }()
			for _, st := range states {
				f.states[st.RevisionID] = st
			}
			last := cursor
			for {
				ev, err := sub.Next(ctx)
				if err != nil {
					f.err = err
					return
				}
				if ev.Sequence != last+1 {
					f.err = errors.Errorf("event %d follows %d", ev.Sequence, last)
					return
				}
				last = ev.Sequence
				for _, st := range ev.Consumed {
					delete(f.states, st.RevisionID)
				}
				for _, st := range ev.Produced {
					f.states[st.RevisionID] = st
					if st.HasParticipant("sentinel") {
						return
					}
				}
			}
		}()
		time.Sleep(time.Millisecond)
	}
	wg.Wait()

	_, err := s.Apply(ctx, &api.Transaction{Outputs: []*api.LinearState{iou("sentinel")}})
	require.NoError(t, err)

	final, err := s.CurrentStates(nil)
	require.NoError(t, err)
	require.Len(t, final, writers*(chains-1)+1)
	want := make(map[uint64]string, len(final))
	for _, st := range final {
		want[st.RevisionID] = st.LinearID
	}

	for i := 0; i < 3; i++ {
		select {
		case f := <-results:
			require.NoError(t, f.err)
			got := make(map[uint64]string, len(f.states))
			for id, st := range f.states {
				got[id] = st.LinearID
			}
			assert.Equal(t, want, got)
		case <-time.After(10 * time.Second):
			t.Fatal("timed out waiting for subscribers")
		}
	}
}

func waitTimeout(t *testing.T, wg *sync.WaitGroup) {
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(10 * time.Second):
		t.Fatal("timed out waiting for subscribers")
	}
}

func TestSubscriptionOverflow(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore(nil)
	defer s.Close()

	fakeClock := fakeclock.NewFakeClock(time.Now())
	h := NewHub(s, Config{QueueSize: 1, DeliveryTimeout: time.Second, Clock: fakeClock})
	defer h.Close()

	slow, err := h.Subscribe(ctx, nil, 0)
	require.NoError(t, err)
	fast, err := h.Subscribe(ctx, nil, 0)
	require.NoError(t, err)

	for i := 0; i < 2; i++ {
		_, err := s.Apply(ctx, &api.Transaction{Outputs: []*api.LinearState{iou("alice")}})
		require.NoError(t, err)
		assert.Equal(t, uint64(i+1), next(t, fast).Sequence)
	}

	// The slow subscriber holds its queue full; the second write waits on
	// the fake clock.
	fakeClock.WaitForWatcherAndIncrement(2 * time.Second)

	select {
	case <-slow.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("slow subscription was not cancelled")
	}

	_, err = slow.Next(ctx)
	require.Error(t, err)
	assert.True(t, api.IsOverflow(err))
	var overflow *api.OverflowError
	require.True(t, errors.As(err, &overflow))
	assert.Equal(t, slow.ID(), overflow.SubscriptionID)
	assert.Equal(t, uint64(0), overflow.Cursor)

	// The store and the other subscriber are unaffected.
	_, err = s.Apply(ctx, &api.Transaction{Outputs: []*api.LinearState{iou("alice")}})
	require.NoError(t, err)
	assert.Equal(t, uint64(3), next(t, fast).Sequence)

	_, err = slow.Next(ctx)
	assert.True(t, api.IsOverflow(err))
	assert.Eventually(t, func() bool { return h.Len() == 1 }, 5*time.Second, 10*time.Millisecond)
}

func TestSubscriptionCancel(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore(nil)
	defer s.Close()
	h := NewHub(s, Config{})
	defer h.Close()

	sub, err := h.Subscribe(ctx, nil, 0)
	require.NoError(t, err)

	_, err = s.Apply(ctx, &api.Transaction{Outputs: []*api.LinearState{iou("alice")}})
	require.NoError(t, err)
	require.Eventually(t, func() bool { return sub.Cursor() == 1 }, 5*time.Second, 10*time.Millisecond)

	require.NoError(t, h.Cancel(sub.ID()))
	_, err = sub.Next(ctx)
	assert.Equal(t, api.ErrCancelled, err)
	assert.Equal(t, 0, h.Len())

	_, err = s.Apply(ctx, &api.Transaction{Outputs: []*api.LinearState{iou("alice")}})
	require.NoError(t, err)
	_, err = sub.Next(ctx)
	assert.Equal(t, api.ErrCancelled, err)

	err = h.Cancel(sub.ID())
	assert.True(t, errors.Is(err, ErrUnknownSubscription))
}

func TestSubscriptionEndsWithContext(t *testing.T) {
	s := store.NewMemoryStore(nil)
	defer s.Close()
	h := NewHub(s, Config{})
	defer h.Close()

	ctx, cancel := context.WithCancel(context.Background())
	sub, err := h.Subscribe(ctx, nil, 0)
	require.NoError(t, err)
	cancel()

	select {
	case <-sub.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("subscription outlived its context")
	}
	assert.Equal(t, api.ErrCancelled, sub.Err())
}

func TestHubClose(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore(nil)
	defer s.Close()
	h := NewHub(s, Config{})

	sub, err := h.Subscribe(ctx, nil, 0)
	require.NoError(t, err)

	h.Close()
	<-sub.Done()
	assert.Equal(t, 0, h.Len())

	_, err = h.Subscribe(ctx, nil, 0)
	assert.Equal(t, ErrHubClosed, err)
}

func TestStoreCloseEndsSubscriptions(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore(nil)
	h := NewHub(s, Config{})
	defer h.Close()

	sub, err := h.Subscribe(ctx, nil, 0)
	require.NoError(t, err)

	require.NoError(t, s.Close())
	select {
	case <-sub.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("subscription outlived the store")
	}
	assert.Equal(t, store.ErrClosed, sub.Err())

	_, err = h.Subscribe(ctx, nil, 0)
	assert.True(t, errors.Is(err, store.ErrClosed))
}

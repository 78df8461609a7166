package watch

import (
	"sync"

	"github.com/docker/go-events"
)

// Queue is the structure used to publish events and watch for them. Every
// watcher gets its own unbounded events.Queue, so Publish never waits on a
// slow watcher and per-watcher order matches publish order.
type Queue struct {
	broadcast *events.Broadcaster

	mu       sync.Mutex
	watchers map[events.Sink]watcher
	closed   bool
}

type watcher struct {
	sink   events.Sink
	cancel func()
}

// NewQueue creates a new publish/subscribe queue which supports watchers.
func NewQueue() *Queue {
	return &Queue{
		broadcast: events.NewBroadcaster(),
		watchers:  make(map[events.Sink]watcher),
	}
}

// Add attaches sink to the queue behind its own events.Queue. The sink
// receives every item published after Add returns. The returned cancel
// function detaches the sink and closes it once pending items are flushed;
// it must not be called from within the sink's Write.
func (q *Queue) Add(sink events.Sink) (cancel func(), err error) {
	eq := events.NewQueue(sink)

	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		eq.Close()
		return nil, events.ErrSinkClosed
	}
	if err := q.broadcast.Add(eq); err != nil {
		eq.Close()
		return nil, err
	}

	var once sync.Once
	cancelFunc := func() {
		once.Do(func() {
			q.mu.Lock()
			delete(q.watchers, eq)
			q.mu.Unlock()

			_ = q.broadcast.Remove(eq)
			eq.Close()
		})
	}
	q.watchers[eq] = watcher{sink: sink, cancel: cancelFunc}
	return cancelFunc, nil
}

// Watch returns a channel which will receive all items published to the
// queue from this point, until cancel is called.
func (q *Queue) Watch() (eventq chan events.Event, cancel func()) {
	return q.CallbackWatch(nil)
}

// CallbackWatch returns a channel which will receive all events published to
// the queue from this point that pass the check in the provided callback
// function. The returned cancel function stops the flow of events.
func (q *Queue) CallbackWatch(matcher events.Matcher) (eventq chan events.Event, cancel func()) {
	ch := events.NewChannel(0)
	sink := events.Sink(ch)

	if matcher != nil {
		sink = events.NewFilter(sink, matcher)
	}

	remove, err := q.Add(sink)
	if err != nil {
		ch.Close()
		closed := make(chan events.Event)
		close(closed)
		return closed, func() {}
	}

	return ch.C, func() {
		// Closing the channel first unblocks a pending Write so the
		// queue can flush.
		ch.Close()
		remove()
	}
}

// Publish adds an item to the queue.
func (q *Queue) Publish(item events.Event) {
	_ = q.broadcast.Write(item)
}

// Close closes the queue and frees the associated resources.
func (q *Queue) Close() error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil
	}
	q.closed = true
	watchers := make([]watcher, 0, len(q.watchers))
	for _, w := range q.watchers {
		watchers = append(watchers, w)
	}
	q.mu.Unlock()

	for _, w := range watchers {
		// Closing the sink first makes pending writes fail fast, so a
		// watcher that stopped reading cannot hold up the flush.
		_ = w.sink.Close()
		w.cancel()
	}
	return q.broadcast.Close()
}

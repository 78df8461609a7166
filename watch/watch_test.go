package watch

import (
	"testing"
	"time"

	"github.com/docker/go-events"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWatch(t *testing.T) {
	// Create a queue
	q := NewQueue()
	defer q.Close()

	type testEvent struct {
		tags []string
		str  string
	}

	tagFilter := func(t string) events.Matcher {
		return events.MatcherFunc(func(event events.Event) bool {
			testEvent := event.(testEvent)
			for _, itemTag := range testEvent.tags {
				if t == itemTag {
					return true
				}
			}
			return false
		})
	}

	// Create filtered watchers
	c1, c1cancel := q.CallbackWatch(tagFilter("t1"))
	defer c1cancel()
	c2, c2cancel := q.CallbackWatch(tagFilter("t2"))
	defer c2cancel()

	// Publish items on the queue
	q.Publish(testEvent{tags: []string{"t1"}, str: "foo"})
	q.Publish(testEvent{tags: []string{"t2"}, str: "bar"})
	q.Publish(testEvent{tags: []string{"t1", "t2"}, str: "foobar"})
	q.Publish(testEvent{tags: []string{"t3"}, str: "baz"})

	if (<-c1).(testEvent).str != "foo" {
		t.Fatal(`expected "foo" on c1`)
	}

	ev := (<-c1).(testEvent)
	if ev.str != "foobar" {
		t.Fatal(`expected "foobar" on c1`, ev)
	}
	if (<-c2).(testEvent).str != "bar" {
		t.Fatal(`expected "bar" on c2`)
	}
	if (<-c2).(testEvent).str != "foobar" {
		t.Fatal(`expected "foobar" on c2`)
	}

	c1cancel()

	q.Publish(testEvent{tags: []string{"t1", "t2"}, str: "foobar"})

	if (<-c2).(testEvent).str != "foobar" {
		t.Fatal(`expected "foobar" on c2`)
	}

	select {
	case <-c1:
		t.Fatal("unexpected value on c1 after cancel")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestWatchOrdering(t *testing.T) {
	q := NewQueue()
	defer q.Close()

	// Create 5 watchers. Each one only watches events that are multiples
	// of the watcher number.
	var (
		chans   [5]chan events.Event
		cancels [5]func()
	)
	chans[0], cancels[0] = q.Watch()
	for i := 1; i < 5; i++ {
		n := i + 1
		chans[i], cancels[i] = q.CallbackWatch(events.MatcherFunc(func(ev events.Event) bool {
			return ev.(int)%n == 0
		}))
	}
	defer func() {
		for _, cancel := range cancels {
			cancel()
		}
	}()

	// Publishing must not hang even though nothing is reading from the
	// watcher channels yet.
	for i := 0; i < 1000; i++ {
		q.Publish(i)
	}

	// Make sure the watchers get all the appropriate events, in the
	// correct order.
	for i := 0; i < 1000; i++ {
		for j := 0; j < 5; j++ {
			if i%(j+1) == 0 {
				event := <-chans[j]
				require.Equal(t, i, event.(int), "chan %d", j)
			}
		}
	}
}

type recordingSink struct {
	events chan events.Event
}

func (s *recordingSink) Write(ev events.Event) error {
	s.events <- ev
	return nil
}

func (s *recordingSink) Close() error {
	return nil
}

func TestAddAndClose(t *testing.T) {
	q := NewQueue()

	sink := &recordingSink{events: make(chan events.Event, 10)}
	cancel, err := q.Add(sink)
	require.NoError(t, err)

	q.Publish("a")
	q.Publish("b")
	assert.Equal(t, "a", <-sink.events)
	assert.Equal(t, "b", <-sink.events)

	cancel()
	cancel() // idempotent

	require.NoError(t, q.Close())
	require.NoError(t, q.Close())

	_, err = q.Add(&recordingSink{events: make(chan events.Event, 1)})
	assert.Equal(t, events.ErrSinkClosed, err)

	// Watching a closed queue yields a channel that never delivers.
	c, cancelWatch := q.Watch()
	defer cancelWatch()
	_, ok := <-c
	assert.False(t, ok)
}

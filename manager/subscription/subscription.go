package subscription

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/docker/go-events"
	"github.com/ledgerkit/ledgerkit/api"
	"github.com/ledgerkit/ledgerkit/identity"
	"github.com/ledgerkit/ledgerkit/log"
	"github.com/ledgerkit/ledgerkit/manager/state/store"
	"github.com/ledgerkit/ledgerkit/watch"
	"github.com/pkg/errors"
)

// Subscription is one observer's feed. It is an events.Sink attached to the
// store's watch queue; events are projected through the subscription's
// matcher and handed to the observer through a bounded channel.
type Subscription struct {
	id    string
	hub   *Hub
	ctx   context.Context
	match func(*api.LinearState) bool // nil matches everything

	ch   chan events.Event
	sink *watch.TimeoutSink

	// cursor is the last sequence processed by the delivery path, taken
	// is the last sequence handed out by Next.
	cursor uint64
	taken  uint64

	caughtUp chan struct{}
	done     chan struct{}

	mu         sync.Mutex
	err        error
	overflowed bool
	remove     func()

	terminateOnce sync.Once
	detachOnce    sync.Once
}

func newSubscription(ctx context.Context, h *Hub, m store.Matcher, fromCursor uint64) *Subscription {
	id := identity.NewID()
	ch := make(chan events.Event, h.config.QueueSize)
	sub := &Subscription{
		id:       id,
		hub:      h,
		ctx:      log.WithModule(log.WithField(ctx, "subscription.id", id), "subscription"),
		ch:       ch,
		sink:     watch.NewTimeoutSink(ch, h.config.DeliveryTimeout, h.config.Clock),
		cursor:   fromCursor,
		taken:    fromCursor,
		caughtUp: make(chan struct{}),
		done:     make(chan struct{}),
	}
	if m != nil {
		sub.match = m.Matches
	}
	return sub
}

// ID returns the subscription ID.
func (s *Subscription) ID() string {
	return s.id
}

// Cursor returns the last commit sequence processed for this subscription.
func (s *Subscription) Cursor() uint64 {
	return atomic.LoadUint64(&s.cursor)
}

// Done is closed once the subscription has ended.
func (s *Subscription) Done() <-chan struct{} {
	return s.done
}

// Err returns why the subscription ended, or nil while it is active. An
// overflow is reported as an *api.OverflowError whose cursor is the last
// event returned by Next, which is where a new subscription should resume.
func (s *Subscription) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.overflowed {
		return &api.OverflowError{
			SubscriptionID: s.id,
			Cursor:         atomic.LoadUint64(&s.taken),
		}
	}
	return s.err
}

// Next blocks until the next event is available. Once the subscription has
// ended it returns the reason, even if events are still buffered.
func (s *Subscription) Next(ctx context.Context) (*api.Event, error) {
	select {
	case <-s.done:
		return nil, s.Err()
	default:
	}

	select {
	case e := <-s.ch:
		select {
		case <-s.done:
			return nil, s.Err()
		default:
		}
		ev := e.(*api.Event)
		atomic.StoreUint64(&s.taken, ev.Sequence)
		return ev, nil
	case <-s.done:
		return nil, s.Err()
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Cancel ends the subscription with api.ErrCancelled. No event is handed
// out after Cancel returns.
func (s *Subscription) Cancel() {
	s.terminate(api.ErrCancelled)
	s.detach()
}

// Write implements events.Sink. The watch queue calls it from a single
// goroutine, in publish order.
func (s *Subscription) Write(event events.Event) error {
	select {
	case <-s.caughtUp:
	case <-s.done:
		return events.ErrSinkClosed
	}

	ev, ok := event.(*api.Event)
	if !ok {
		return nil
	}
	if err := s.deliver(ev); err != nil {
		s.fail(err)
		return err
	}
	return nil
}

// Close implements events.Sink. The watch queue closes its sinks when the
// store shuts down.
func (s *Subscription) Close() error {
	if s.terminate(store.ErrClosed) {
		go s.detach()
	}
	return nil
}

// deliver hands ev to the observer unless it was already processed. It is
// only called by the backlog goroutine and, after it finished, by the watch
// queue.
func (s *Subscription) deliver(ev *api.Event) error {
	if ev.Sequence <= atomic.LoadUint64(&s.cursor) {
		return nil
	}
	// A failed write ends the subscription, so the event is never
	// retried and the cursor can move first.
	atomic.StoreUint64(&s.cursor, ev.Sequence)
	if projected := ev.Project(s.match); projected != nil {
		if err := s.sink.Write(projected); err != nil {
			return err
		}
		deliveryCounter.Inc(1)
	}
	return nil
}

func (s *Subscription) catchUp(backlog []*api.Event) {
	for _, ev := range backlog {
		if err := s.deliver(ev); err != nil {
			s.fail(err)
			return
		}
	}
	close(s.caughtUp)
}

func (s *Subscription) fail(err error) {
	if errors.Is(err, events.ErrSinkClosed) {
		err = store.ErrClosed
	}
	if s.terminate(err) {
		// Detaching waits for the watch queue to flush, which cannot
		// happen from inside its own Write.
		go s.detach()
	}
}

// terminate records err as the reason the subscription ended and stops
// delivery. watch.ErrSinkTimeout marks an overflow. Only the first call has
// an effect; it reports whether this call was it.
func (s *Subscription) terminate(err error) bool {
	terminated := false
	s.terminateOnce.Do(func() {
		terminated = true
		overflowed := errors.Is(err, watch.ErrSinkTimeout)

		s.mu.Lock()
		if overflowed {
			s.overflowed = true
		} else {
			s.err = err
		}
		s.mu.Unlock()

		close(s.done)
		_ = s.sink.Close()

		logger := log.G(s.ctx).WithField("cursor", s.Cursor())
		if overflowed {
			overflowCounter.Inc(1)
			logger.Warn("subscription overflowed")
		} else {
			logger.WithError(err).Debug("subscription ended")
		}
	})
	return terminated
}

func (s *Subscription) setRemove(remove func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.remove = remove
}

func (s *Subscription) detach() {
	s.detachOnce.Do(func() {
		s.mu.Lock()
		remove := s.remove
		s.mu.Unlock()
		if remove != nil {
			remove()
		}
		if s.hub.forget(s) {
			activeGauge.Dec(1)
		}
	})
}

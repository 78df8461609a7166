// Package subscription delivers the events of committed transactions to
// registered observers, in commit order and exactly once per observer.
package subscription

import (
	"context"
	"sync"
	"time"

	"code.cloudfoundry.org/clock"
	"github.com/docker/go-metrics"
	"github.com/ledgerkit/ledgerkit/api"
	"github.com/ledgerkit/ledgerkit/log"
	"github.com/ledgerkit/ledgerkit/manager/state/store"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

const (
	// DefaultQueueSize is the capacity of a subscription's delivery
	// channel.
	DefaultQueueSize = 64

	// DefaultDeliveryTimeout is how long a full delivery channel may block
	// a subscription before it is cancelled with an overflow.
	DefaultDeliveryTimeout = 10 * time.Second
)

var (
	// ErrHubClosed is returned when subscribing to a closed hub.
	ErrHubClosed = errors.New("subscription hub is closed")

	// ErrUnknownSubscription is returned by Cancel for an ID that is not
	// registered.
	ErrUnknownSubscription = errors.New("unknown subscription")

	ns              = metrics.NewNamespace("ledgerkit", "subscription", nil)
	activeGauge     = ns.NewGauge("active", "Number of active subscriptions", metrics.Total)
	overflowCounter = ns.NewCounter("overflows", "Number of subscriptions cancelled for being too slow")
	deliveryCounter = ns.NewCounter("delivered_events", "Number of events delivered to subscriptions")
)

func init() {
	metrics.Register(ns)
}

// Config tunes a Hub.
type Config struct {
	// QueueSize is the number of events buffered per subscription.
	QueueSize int
	// DeliveryTimeout bounds how long delivery waits for a full queue.
	DeliveryTimeout time.Duration
	// Clock drives delivery timeouts. Defaults to the real clock.
	Clock clock.Clock
}

// Hub registers subscriptions against a store.
type Hub struct {
	store  *store.MemoryStore
	config Config

	mu     sync.Mutex
	subs   map[string]*Subscription
	closed bool
}

// NewHub returns a Hub following the events of s.
func NewHub(s *store.MemoryStore, config Config) *Hub {
	if config.QueueSize <= 0 {
		config.QueueSize = DefaultQueueSize
	}
	if config.DeliveryTimeout <= 0 {
		config.DeliveryTimeout = DefaultDeliveryTimeout
	}
	if config.Clock == nil {
		config.Clock = clock.NewClock()
	}
	return &Hub{
		store:  s,
		config: config,
		subs:   make(map[string]*Subscription),
	}
}

// Subscribe registers a subscription at fromCursor. Every transaction
// committed with a sequence greater than fromCursor that touches a state
// matching m is delivered once, in commit order. A nil m matches every
// state. The subscription ends when ctx is done, when it is cancelled, or
// when it overflows.
func (h *Hub) Subscribe(ctx context.Context, m store.Matcher, fromCursor uint64) (*Subscription, error) {
	h.mu.Lock()
	closed := h.closed
	h.mu.Unlock()
	if closed {
		return nil, ErrHubClosed
	}

	sub := newSubscription(ctx, h, m, fromCursor)

	// The live sink goes first. Whatever it receives at or below the
	// cursor reached by the backlog is dropped, so nothing committed
	// between the attach and the backlog read is lost or repeated.
	remove, err := h.store.WatchQueue().Add(sub)
	if err != nil {
		return nil, errors.Wrap(store.ErrClosed, "attaching subscription")
	}
	sub.setRemove(remove)

	var backlog []*api.Event
	err = h.store.View(func(tx store.ReadTx) error {
		it := tx.Transactions(fromCursor)
		for t := it.Next(); t != nil; t = it.Next() {
			backlog = append(backlog, tx.Event(t))
		}
		return it.Err()
	})
	if err != nil {
		sub.terminate(err)
		sub.detach()
		return nil, err
	}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		sub.terminate(ErrHubClosed)
		sub.detach()
		return nil, ErrHubClosed
	}
	select {
	case <-sub.done:
		// The store closed underneath us.
		h.mu.Unlock()
		sub.detach()
		return nil, sub.Err()
	default:
	}
	h.subs[sub.id] = sub
	h.mu.Unlock()
	activeGauge.Inc(1)

	log.G(sub.ctx).WithFields(logrus.Fields{
		"cursor":  fromCursor,
		"backlog": len(backlog),
	}).Debug("subscription registered")

	go sub.catchUp(backlog)
	go func() {
		select {
		case <-ctx.Done():
			sub.Cancel()
		case <-sub.done:
		}
	}()
	return sub, nil
}

// Get returns a registered subscription.
func (h *Hub) Get(id string) (*Subscription, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	sub, ok := h.subs[id]
	return sub, ok
}

// Cancel cancels the subscription with the given ID.
func (h *Hub) Cancel(id string) error {
	sub, ok := h.Get(id)
	if !ok {
		return errors.Wrapf(ErrUnknownSubscription, "subscription %s", id)
	}
	sub.Cancel()
	return nil
}

// Len returns the number of active subscriptions.
func (h *Hub) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

// Close cancels every subscription and rejects new ones.
func (h *Hub) Close() {
	h.mu.Lock()
	h.closed = true
	subs := make([]*Subscription, 0, len(h.subs))
	for _, sub := range h.subs {
		subs = append(subs, sub)
	}
	h.mu.Unlock()

	for _, sub := range subs {
		sub.Cancel()
	}
}

// forget drops sub from the registry and reports whether it was there.
func (h *Hub) forget(sub *Subscription) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.subs[sub.id]; !ok {
		return false
	}
	delete(h.subs, sub.id)
	return true
}

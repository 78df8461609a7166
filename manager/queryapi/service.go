// Package queryapi answers snapshot, subscription and history queries over
// the linear state store, both as a Go API and as the Query gRPC service.
package queryapi

import (
	"context"

	"github.com/ledgerkit/ledgerkit/api"
	"github.com/ledgerkit/ledgerkit/identity"
	"github.com/ledgerkit/ledgerkit/log"
	"github.com/ledgerkit/ledgerkit/manager/filter"
	"github.com/ledgerkit/ledgerkit/manager/schema"
	"github.com/ledgerkit/ledgerkit/manager/snapshot"
	"github.com/ledgerkit/ledgerkit/manager/state/store"
	"github.com/ledgerkit/ledgerkit/manager/subscription"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// Service is the query facade. Filters are compiled and validated before the
// store is touched, and store unavailability is reported as
// *api.NotConnectedError. Other errors are returned unchanged.
type Service struct {
	store     *store.MemoryStore
	snapshots *snapshot.Engine
	hub       *subscription.Hub
	registry  *schema.Registry
}

// NewService returns a Service over s that registers subscriptions with
// hub. A nil registry decodes payloads with schema.Default.
func NewService(s *store.MemoryStore, hub *subscription.Hub, registry *schema.Registry) *Service {
	return &Service{
		store:     s,
		snapshots: snapshot.New(s),
		hub:       hub,
		registry:  registry,
	}
}

// Snapshot returns the unconsumed states matching f and the commit sequence
// they reflect.
func (svc *Service) Snapshot(ctx context.Context, f *api.Filter) ([]*api.LinearState, uint64, error) {
	m, err := filter.Compile(f, svc.registry)
	if err != nil {
		return nil, 0, err
	}
	snap, err := svc.snapshots.Snapshot(ctx, m)
	if err != nil {
		return nil, 0, unavailable(err)
	}
	return snap.States, snap.Cursor, nil
}

// SnapshotAndSubscribe returns a snapshot and a subscription that starts
// right after it: the subscription delivers every matching transaction
// committed after the snapshot cursor and nothing before.
func (svc *Service) SnapshotAndSubscribe(ctx context.Context, f *api.Filter) ([]*api.LinearState, uint64, *subscription.Subscription, error) {
	m, err := filter.Compile(f, svc.registry)
	if err != nil {
		return nil, 0, nil, err
	}
	snap, err := svc.snapshots.Snapshot(ctx, m)
	if err != nil {
		return nil, 0, nil, unavailable(err)
	}
	sub, err := svc.hub.Subscribe(ctx, m, snap.Cursor)
	if err != nil {
		return nil, 0, nil, unavailable(err)
	}

	log.G(ctx).WithFields(logrus.Fields{
		"subscription.id": sub.ID(),
		"cursor":          snap.Cursor,
		"filter":          m.String(),
	}).Debug("snapshot and subscribe")
	return snap.States, snap.Cursor, sub, nil
}

// Subscribe registers a subscription at fromCursor without a snapshot. It
// is how a client resumes after an overflow or a reconnect.
func (svc *Service) Subscribe(ctx context.Context, f *api.Filter, fromCursor uint64) (*subscription.Subscription, error) {
	m, err := filter.Compile(f, svc.registry)
	if err != nil {
		return nil, err
	}
	if cursor := svc.store.Cursor(); fromCursor > cursor {
		return nil, &api.InvalidFilterError{Reason: "cursor is ahead of the ledger"}
	}
	sub, err := svc.hub.Subscribe(ctx, m, fromCursor)
	if err != nil {
		return nil, unavailable(err)
	}
	return sub, nil
}

// History returns every revision of linearID in causal order.
func (svc *Service) History(ctx context.Context, linearID string) (*store.RevisionIterator, error) {
	if err := identity.ValidateLinearID(linearID); err != nil {
		return nil, &api.InvalidFilterError{Reason: err.Error()}
	}
	it, err := svc.store.History(linearID)
	if err != nil {
		return nil, unavailable(err)
	}
	return it, nil
}

// Cancel cancels a subscription by ID.
func (svc *Service) Cancel(ctx context.Context, subscriptionID string) error {
	return svc.hub.Cancel(subscriptionID)
}

func unavailable(err error) error {
	if errors.Is(err, store.ErrClosed) || errors.Is(err, subscription.ErrHubClosed) {
		return &api.NotConnectedError{Err: err}
	}
	return err
}

package client

import (
	"context"

	"github.com/ledgerkit/ledgerkit/api"
	"github.com/pkg/errors"
)

// Feed is the client side of a subscription.
type Feed struct {
	conn   *Connection
	stream api.Query_SubscribeClient
	cancel context.CancelFunc

	// SubscriptionID identifies the subscription on the server.
	SubscriptionID string
	// Snapshot is set for feeds opened with SnapshotAndSubscribe.
	Snapshot *api.SnapshotResponse

	cursor uint64
}

// SnapshotAndSubscribe returns a feed whose Snapshot holds the current
// states matching f, followed by every later matching event.
func (c *Connection) SnapshotAndSubscribe(ctx context.Context, f *api.Filter) (*Feed, error) {
	ctx, cancel := context.WithCancel(ctx)
	stream, err := c.query.SnapshotAndSubscribe(ctx, &api.SubscribeRequest{Filter: f})
	if err != nil {
		cancel()
		return nil, c.convert(err)
	}
	return c.open(stream, cancel)
}

// Subscribe returns a feed of every event matching f committed after
// fromCursor.
func (c *Connection) Subscribe(ctx context.Context, f *api.Filter, fromCursor uint64) (*Feed, error) {
	ctx, cancel := context.WithCancel(ctx)
	stream, err := c.query.Subscribe(ctx, &api.SubscribeRequest{Filter: f, FromCursor: fromCursor})
	if err != nil {
		cancel()
		return nil, c.convert(err)
	}
	feed, err := c.open(stream, cancel)
	if err != nil {
		return nil, err
	}
	feed.cursor = fromCursor
	return feed, nil
}

func (c *Connection) open(stream api.Query_SubscribeClient, cancel context.CancelFunc) (*Feed, error) {
	msg, err := stream.Recv()
	if err != nil {
		cancel()
		return nil, c.convert(err)
	}
	if msg.SubscriptionID == "" {
		cancel()
		return nil, errors.New("subscription stream did not start with a subscription id")
	}

	feed := &Feed{
		conn:           c,
		stream:         stream,
		cancel:         cancel,
		SubscriptionID: msg.SubscriptionID,
		Snapshot:       msg.Snapshot,
	}
	if msg.Snapshot != nil {
		feed.cursor = msg.Snapshot.Cursor
	}
	return feed, nil
}

// Next blocks for the next event. An overflow is reported as
// *api.OverflowError; resume with Subscribe from Cursor.
func (f *Feed) Next() (*api.Event, error) {
	for {
		msg, err := f.stream.Recv()
		if err != nil {
			return nil, f.conn.convert(err)
		}
		if msg.Event == nil {
			continue
		}
		f.cursor = msg.Event.Sequence
		return msg.Event, nil
	}
}

// Cursor returns the sequence of the last event received, or the starting
// cursor if none was received yet.
func (f *Feed) Cursor() uint64 {
	return f.cursor
}

// Close stops the feed. The server cancels the subscription when the stream
// goes away.
func (f *Feed) Close() {
	f.cancel()
}

// Package client connects to a ledgerkit daemon. A Connection is the
// capability to invoke methods on the remote services; the typed helpers on
// top of it translate wire statuses back into the api error kinds.
package client

import (
	"context"
	"time"

	grpc_prometheus "github.com/grpc-ecosystem/go-grpc-prometheus"
	"github.com/ledgerkit/ledgerkit/api"
	"github.com/ledgerkit/ledgerkit/log"
	"github.com/ledgerkit/ledgerkit/xnet"
	"google.golang.org/grpc"
)

// DefaultDialTimeout bounds Connect when ctx carries no deadline.
const DefaultDialTimeout = 10 * time.Second

// Credentials identify the caller. They are sent with every call and are
// opaque to the transport.
type Credentials struct {
	User     string
	Password string
}

// GetRequestMetadata implements credentials.PerRPCCredentials.
func (c Credentials) GetRequestMetadata(ctx context.Context, uri ...string) (map[string]string, error) {
	if c.User == "" {
		return nil, nil
	}
	return map[string]string{
		api.MetadataUser:     c.User,
		api.MetadataPassword: c.Password,
	}, nil
}

// RequireTransportSecurity implements credentials.PerRPCCredentials.
func (c Credentials) RequireTransportSecurity() bool {
	return false
}

// Connection is an established connection to a daemon.
type Connection struct {
	addr string
	cc   *grpc.ClientConn

	query  api.QueryClient
	ledger api.LedgerClient
}

// Connect dials address, a host:port or proto://addr endpoint, and waits
// until the connection is ready. Extra dial
// options are appended to the defaults. Failures are reported as
// *api.NotConnectedError.
func Connect(ctx context.Context, address string, creds Credentials, opts ...grpc.DialOption) (*Connection, error) {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, DefaultDialTimeout)
		defer cancel()
	}

	dialOpts := []grpc.DialOption{
		grpc.WithInsecure(),
		grpc.WithBlock(),
		grpc.WithPerRPCCredentials(creds),
		grpc.WithDefaultCallOptions(grpc.CallContentSubtype(api.CodecName)),
		grpc.WithUnaryInterceptor(grpc_prometheus.UnaryClientInterceptor),
		grpc.WithStreamInterceptor(grpc_prometheus.StreamClientInterceptor),
		grpc.WithContextDialer(xnet.DialContext),
	}
	dialOpts = append(dialOpts, opts...)

	// The passthrough resolver hands the endpoint to the dialer untouched,
	// so unix:// endpoints work as well as host:port.
	cc, err := grpc.DialContext(ctx, "passthrough:///"+address, dialOpts...)
	if err != nil {
		return nil, &api.NotConnectedError{Addr: address, Err: err}
	}
	log.G(ctx).WithField("addr", address).Debug("connected")

	return &Connection{
		addr:   address,
		cc:     cc,
		query:  api.NewQueryClient(cc),
		ledger: api.NewLedgerClient(cc),
	}, nil
}

// Addr returns the address the connection was dialed with.
func (c *Connection) Addr() string {
	return c.addr
}

// Invoke calls method with args and decodes the result into reply. It is
// the generic call capability the typed helpers are built on.
func (c *Connection) Invoke(ctx context.Context, method string, args, reply interface{}) error {
	return c.convert(c.cc.Invoke(ctx, method, args, reply))
}

// Close tears down the connection.
func (c *Connection) Close() error {
	return c.cc.Close()
}

func (c *Connection) convert(err error) error {
	return api.FromGRPC(err, c.addr)
}

// Snapshot returns the current states matching f and their cursor.
func (c *Connection) Snapshot(ctx context.Context, f *api.Filter) (*api.SnapshotResponse, error) {
	resp, err := c.query.Snapshot(ctx, &api.SnapshotRequest{Filter: f})
	if err != nil {
		return nil, c.convert(err)
	}
	return resp, nil
}

// History returns every revision of linearID.
func (c *Connection) History(ctx context.Context, linearID string) ([]*api.LinearState, error) {
	resp, err := c.query.History(ctx, &api.HistoryRequest{LinearID: linearID})
	if err != nil {
		return nil, c.convert(err)
	}
	return resp.Revisions, nil
}

// Cancel cancels a subscription held by any client.
func (c *Connection) Cancel(ctx context.Context, subscriptionID string) error {
	_, err := c.query.Cancel(ctx, &api.CancelRequest{SubscriptionID: subscriptionID})
	return c.convert(err)
}

// Apply submits a transaction and returns it as committed.
func (c *Connection) Apply(ctx context.Context, tx *api.Transaction) (*api.Transaction, error) {
	resp, err := c.ledger.Apply(ctx, &api.ApplyRequest{Transaction: tx})
	if err != nil {
		return nil, c.convert(err)
	}
	return resp.Transaction, nil
}

// Transactions lists committed transactions after a cursor.
func (c *Connection) Transactions(ctx context.Context, after uint64, limit int) (*api.TransactionsResponse, error) {
	resp, err := c.ledger.Transactions(ctx, &api.TransactionsRequest{After: after, Limit: limit})
	if err != nil {
		return nil, c.convert(err)
	}
	return resp, nil
}

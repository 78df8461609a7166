// Package ledgerapi is the ledger update feed: the only way transactions
// reach the store from outside the process.
package ledgerapi

import (
	"context"

	"github.com/ledgerkit/ledgerkit/api"
	"github.com/ledgerkit/ledgerkit/log"
	"github.com/ledgerkit/ledgerkit/manager/state/store"
	"github.com/pkg/errors"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// DefaultLimit caps Transactions responses that do not ask for a limit.
const DefaultLimit = 1000

// Server is the Ledger API gRPC server.
type Server struct {
	store *store.MemoryStore
}

var _ api.LedgerServer = (*Server)(nil)

// NewServer creates a Ledger API server.
func NewServer(s *store.MemoryStore) *Server {
	return &Server{store: s}
}

// Apply commits a transaction.
// - Returns `Aborted` if an input is unknown or already consumed.
// - Returns `InvalidArgument` if the transaction is malformed.
// - Returns `Unavailable` if the store is closed.
func (s *Server) Apply(ctx context.Context, request *api.ApplyRequest) (*api.ApplyResponse, error) {
	if request.Transaction == nil {
		return nil, status.Errorf(codes.InvalidArgument, "no transaction specified")
	}

	tx, err := s.store.Apply(ctx, request.Transaction)
	if err != nil {
		return nil, convertError(err)
	}

	log.G(ctx).WithField("tx.id", tx.ID).WithField("sequence", tx.Sequence).Info("transaction applied")
	return &api.ApplyResponse{Transaction: tx}, nil
}

// Transactions lists committed transactions after a cursor, oldest first.
// The response cursor is where the next request should continue.
func (s *Server) Transactions(ctx context.Context, request *api.TransactionsRequest) (*api.TransactionsResponse, error) {
	if request.Limit < 0 {
		return nil, status.Errorf(codes.InvalidArgument, "negative limit")
	}
	limit := request.Limit
	if limit == 0 {
		limit = DefaultLimit
	}

	resp := &api.TransactionsResponse{Cursor: request.After}
	err := s.store.View(func(tx store.ReadTx) error {
		it := tx.Transactions(request.After)
		for t := it.Next(); t != nil && len(resp.Transactions) < limit; t = it.Next() {
			resp.Transactions = append(resp.Transactions, t)
			resp.Cursor = t.Sequence
		}
		return it.Err()
	})
	if err != nil {
		return nil, convertError(err)
	}
	return resp, nil
}

func convertError(err error) error {
	switch {
	case errors.Is(err, store.ErrClosed):
		return api.ToGRPC(&api.NotConnectedError{Err: err})
	case errors.Is(err, store.ErrInvalidTransaction):
		return status.Error(codes.InvalidArgument, err.Error())
	}
	return api.ToGRPC(err)
}

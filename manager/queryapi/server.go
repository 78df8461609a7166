package queryapi

import (
	"context"

	"github.com/ledgerkit/ledgerkit/api"
	"github.com/ledgerkit/ledgerkit/log"
	"github.com/ledgerkit/ledgerkit/manager/subscription"
	"github.com/pkg/errors"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Server is the Query API gRPC server.
type Server struct {
	svc *Service
}

var _ api.QueryServer = (*Server)(nil)

// NewServer creates a Query API server.
func NewServer(svc *Service) *Server {
	return &Server{svc: svc}
}

// Snapshot returns the current states matching the request filter.
// - Returns `InvalidArgument` for a malformed filter.
// - Returns `Unavailable` if the store is closed.
func (s *Server) Snapshot(ctx context.Context, request *api.SnapshotRequest) (*api.SnapshotResponse, error) {
	states, cursor, err := s.svc.Snapshot(ctx, request.Filter)
	if err != nil {
		return nil, api.ToGRPC(err)
	}
	return &api.SnapshotResponse{States: states, Cursor: cursor}, nil
}

// SnapshotAndSubscribe streams a snapshot followed by every later event
// matching the filter. The stream ends with `ResourceExhausted` if the
// client falls behind.
func (s *Server) SnapshotAndSubscribe(request *api.SubscribeRequest, stream api.Query_SubscribeServer) error {
	ctx := stream.Context()

	states, cursor, sub, err := s.svc.SnapshotAndSubscribe(ctx, request.Filter)
	if err != nil {
		return api.ToGRPC(err)
	}
	defer sub.Cancel()

	if err := stream.Send(&api.SubscribeMessage{
		SubscriptionID: sub.ID(),
		Snapshot:       &api.SnapshotResponse{States: states, Cursor: cursor},
	}); err != nil {
		return err
	}
	return s.forward(ctx, sub, stream)
}

// Subscribe streams every event matching the filter committed after the
// request cursor. The first message only carries the subscription ID.
func (s *Server) Subscribe(request *api.SubscribeRequest, stream api.Query_SubscribeServer) error {
	ctx := stream.Context()

	sub, err := s.svc.Subscribe(ctx, request.Filter, request.FromCursor)
	if err != nil {
		return api.ToGRPC(err)
	}
	defer sub.Cancel()

	if err := stream.Send(&api.SubscribeMessage{SubscriptionID: sub.ID()}); err != nil {
		return err
	}
	return s.forward(ctx, sub, stream)
}

func (s *Server) forward(ctx context.Context, sub *subscription.Subscription, stream api.Query_SubscribeServer) error {
	for {
		ev, err := sub.Next(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			log.G(ctx).WithError(err).WithField("subscription.id", sub.ID()).Debug("subscription stream ended")
			return api.ToGRPC(unavailable(err))
		}
		if err := stream.Send(&api.SubscribeMessage{Event: ev}); err != nil {
			return err
		}
	}
}

// History returns every revision of a linear state.
// - Returns `InvalidArgument` if the linear ID is malformed.
func (s *Server) History(ctx context.Context, request *api.HistoryRequest) (*api.HistoryResponse, error) {
	it, err := s.svc.History(ctx, request.LinearID)
	if err != nil {
		return nil, api.ToGRPC(err)
	}
	revisions, err := it.Collect()
	if err != nil {
		return nil, api.ToGRPC(err)
	}
	return &api.HistoryResponse{Revisions: revisions}, nil
}

// Cancel cancels a subscription. Its stream ends with `Canceled`.
// - Returns `NotFound` if no such subscription is active.
func (s *Server) Cancel(ctx context.Context, request *api.CancelRequest) (*api.CancelResponse, error) {
	if request.SubscriptionID == "" {
		return nil, status.Errorf(codes.InvalidArgument, "no subscription ID specified")
	}
	if err := s.svc.Cancel(ctx, request.SubscriptionID); err != nil {
		if errors.Is(err, subscription.ErrUnknownSubscription) {
			return nil, status.Errorf(codes.NotFound, "subscription %s not found", request.SubscriptionID)
		}
		return nil, api.ToGRPC(err)
	}
	return &api.CancelResponse{}, nil
}

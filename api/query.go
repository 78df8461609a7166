package api

import (
	"context"

	"google.golang.org/grpc"
)

// SnapshotRequest asks for the unconsumed states matching Filter.
type SnapshotRequest struct {
	Filter *Filter `json:"filter,omitempty"`
}

// SnapshotResponse carries a consistent view of the states together with the
// commit sequence it was taken at.
type SnapshotResponse struct {
	States []*LinearState `json:"states,omitempty"`
	Cursor uint64         `json:"cursor"`
}

// SubscribeRequest opens a subscription. For SnapshotAndSubscribe the
// subscription starts at the snapshot cursor and FromCursor is ignored.
type SubscribeRequest struct {
	Filter     *Filter `json:"filter,omitempty"`
	FromCursor uint64  `json:"from_cursor,omitempty"`
}

// SubscribeMessage is one message on a subscription stream. The first message
// carries SubscriptionID (and Snapshot for SnapshotAndSubscribe); every later
// message carries one Event.
type SubscribeMessage struct {
	SubscriptionID string            `json:"subscription_id,omitempty"`
	Snapshot       *SnapshotResponse `json:"snapshot,omitempty"`
	Event          *Event            `json:"event,omitempty"`
}

// HistoryRequest asks for every revision of one linear state.
type HistoryRequest struct {
	LinearID string `json:"linear_id"`
}

// HistoryResponse lists the revisions in causal order.
type HistoryResponse struct {
	Revisions []*LinearState `json:"revisions,omitempty"`
}

// CancelRequest cancels a subscription by ID.
type CancelRequest struct {
	SubscriptionID string `json:"subscription_id"`
}

// CancelResponse is empty.
type CancelResponse struct{}

// QueryServer is the server API for the Query service.
type QueryServer interface {
	Snapshot(context.Context, *SnapshotRequest) (*SnapshotResponse, error)
	SnapshotAndSubscribe(*SubscribeRequest, Query_SubscribeServer) error
	Subscribe(*SubscribeRequest, Query_SubscribeServer) error
	History(context.Context, *HistoryRequest) (*HistoryResponse, error)
	Cancel(context.Context, *CancelRequest) (*CancelResponse, error)
}

// Query_SubscribeServer is the server side of a subscription stream.
type Query_SubscribeServer interface {
	Send(*SubscribeMessage) error
	grpc.ServerStream
}

type querySubscribeServer struct {
	grpc.ServerStream
}

func (x *querySubscribeServer) Send(m *SubscribeMessage) error {
	return x.ServerStream.SendMsg(m)
}

// RegisterQueryServer registers srv with s.
func RegisterQueryServer(s *grpc.Server, srv QueryServer) {
	s.RegisterService(&queryServiceDesc, srv)
}

const (
	queryServiceName = "ledgerkit.Query"

	MethodSnapshot             = "/" + queryServiceName + "/Snapshot"
	MethodSnapshotAndSubscribe = "/" + queryServiceName + "/SnapshotAndSubscribe"
	MethodSubscribe            = "/" + queryServiceName + "/Subscribe"
	MethodHistory              = "/" + queryServiceName + "/History"
	MethodCancel               = "/" + queryServiceName + "/Cancel"
)

var queryServiceDesc = grpc.ServiceDesc{
	ServiceName: queryServiceName,
	HandlerType: (*QueryServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "Snapshot",
			Handler:    querySnapshotHandler,
		},
		{
			MethodName: "History",
			Handler:    queryHistoryHandler,
		},
		{
			MethodName: "Cancel",
			Handler:    queryCancelHandler,
		},
	},
	Streams: []grpc.StreamDesc{
		{
			StreamName:    "SnapshotAndSubscribe",
			Handler:       querySnapshotAndSubscribeHandler,
			ServerStreams: true,
		},
		{
			StreamName:    "Subscribe",
			Handler:       querySubscribeHandler,
			ServerStreams: true,
		},
	},
}

func querySnapshotHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(SnapshotRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(QueryServer).Snapshot(ctx, in)
	}
	info := &grpc.UnaryServerInfo{
		Server:     srv,
		FullMethod: MethodSnapshot,
	}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(QueryServer).Snapshot(ctx, req.(*SnapshotRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func queryHistoryHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(HistoryRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(QueryServer).History(ctx, in)
	}
	info := &grpc.UnaryServerInfo{
		Server:     srv,
		FullMethod: MethodHistory,
	}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(QueryServer).History(ctx, req.(*HistoryRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func queryCancelHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(CancelRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(QueryServer).Cancel(ctx, in)
	}
	info := &grpc.UnaryServerInfo{
		Server:     srv,
		FullMethod: MethodCancel,
	}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(QueryServer).Cancel(ctx, req.(*CancelRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func querySnapshotAndSubscribeHandler(srv interface{}, stream grpc.ServerStream) error {
	m := new(SubscribeRequest)
	if err := stream.RecvMsg(m); err != nil {
		return err
	}
	return srv.(QueryServer).SnapshotAndSubscribe(m, &querySubscribeServer{stream})
}

func querySubscribeHandler(srv interface{}, stream grpc.ServerStream) error {
	m := new(SubscribeRequest)
	if err := stream.RecvMsg(m); err != nil {
		return err
	}
	return srv.(QueryServer).Subscribe(m, &querySubscribeServer{stream})
}

// QueryClient is the client API for the Query service.
type QueryClient interface {
	Snapshot(ctx context.Context, in *SnapshotRequest, opts ...grpc.CallOption) (*SnapshotResponse, error)
	SnapshotAndSubscribe(ctx context.Context, in *SubscribeRequest, opts ...grpc.CallOption) (Query_SubscribeClient, error)
	Subscribe(ctx context.Context, in *SubscribeRequest, opts ...grpc.CallOption) (Query_SubscribeClient, error)
	History(ctx context.Context, in *HistoryRequest, opts ...grpc.CallOption) (*HistoryResponse, error)
	Cancel(ctx context.Context, in *CancelRequest, opts ...grpc.CallOption) (*CancelResponse, error)
}

// Query_SubscribeClient is the client side of a subscription stream.
type Query_SubscribeClient interface {
	Recv() (*SubscribeMessage, error)
	grpc.ClientStream
}

type queryClient struct {
	cc grpc.ClientConnInterface
}

// NewQueryClient returns a QueryClient using cc.
func NewQueryClient(cc grpc.ClientConnInterface) QueryClient {
	return &queryClient{cc}
}

func (c *queryClient) Snapshot(ctx context.Context, in *SnapshotRequest, opts ...grpc.CallOption) (*SnapshotResponse, error) {
	out := new(SnapshotResponse)
	if err := c.cc.Invoke(ctx, MethodSnapshot, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *queryClient) History(ctx context.Context, in *HistoryRequest, opts ...grpc.CallOption) (*HistoryResponse, error) {
	out := new(HistoryResponse)
	if err := c.cc.Invoke(ctx, MethodHistory, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *queryClient) Cancel(ctx context.Context, in *CancelRequest, opts ...grpc.CallOption) (*CancelResponse, error) {
	out := new(CancelResponse)
	if err := c.cc.Invoke(ctx, MethodCancel, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *queryClient) SnapshotAndSubscribe(ctx context.Context, in *SubscribeRequest, opts ...grpc.CallOption) (Query_SubscribeClient, error) {
	return c.openStream(ctx, 0, MethodSnapshotAndSubscribe, in, opts...)
}

func (c *queryClient) Subscribe(ctx context.Context, in *SubscribeRequest, opts ...grpc.CallOption) (Query_SubscribeClient, error) {
	return c.openStream(ctx, 1, MethodSubscribe, in, opts...)
}

func (c *queryClient) openStream(ctx context.Context, idx int, method string, in *SubscribeRequest, opts ...grpc.CallOption) (Query_SubscribeClient, error) {
	stream, err := c.cc.NewStream(ctx, &queryServiceDesc.Streams[idx], method, opts...)
	if err != nil {
		return nil, err
	}
	x := &querySubscribeClient{stream}
	if err := x.ClientStream.SendMsg(in); err != nil {
		return nil, err
	}
	if err := x.ClientStream.CloseSend(); err != nil {
		return nil, err
	}
	return x, nil
}

type querySubscribeClient struct {
	grpc.ClientStream
}

func (x *querySubscribeClient) Recv() (*SubscribeMessage, error) {
	m := new(SubscribeMessage)
	if err := x.ClientStream.RecvMsg(m); err != nil {
		return nil, err
	}
	return m, nil
}

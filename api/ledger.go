package api

import (
	"context"

	"google.golang.org/grpc"
)

// ApplyRequest submits a transaction to the ledger feed.
type ApplyRequest struct {
	Transaction *Transaction `json:"transaction"`
}

// ApplyResponse returns the committed transaction with its assigned ID,
// sequence, revision IDs and timestamp.
type ApplyResponse struct {
	Transaction *Transaction `json:"transaction"`
}

// TransactionsRequest lists committed transactions with a sequence greater
// than After. Limit caps the result; zero means no cap.
type TransactionsRequest struct {
	After uint64 `json:"after,omitempty"`
	Limit int    `json:"limit,omitempty"`
}

// TransactionsResponse lists transactions in commit order.
type TransactionsResponse struct {
	Transactions []*Transaction `json:"transactions,omitempty"`
	Cursor       uint64         `json:"cursor"`
}

// LedgerServer is the server API for the Ledger feed service.
type LedgerServer interface {
	Apply(context.Context, *ApplyRequest) (*ApplyResponse, error)
	Transactions(context.Context, *TransactionsRequest) (*TransactionsResponse, error)
}

const (
	ledgerServiceName = "ledgerkit.Ledger"

	MethodApply        = "/" + ledgerServiceName + "/Apply"
	MethodTransactions = "/" + ledgerServiceName + "/Transactions"
)

// RegisterLedgerServer registers srv with s.
func RegisterLedgerServer(s *grpc.Server, srv LedgerServer) {
	s.RegisterService(&ledgerServiceDesc, srv)
}

var ledgerServiceDesc = grpc.ServiceDesc{
	ServiceName: ledgerServiceName,
	HandlerType: (*LedgerServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "Apply",
			Handler:    ledgerApplyHandler,
		},
		{
			MethodName: "Transactions",
			Handler:    ledgerTransactionsHandler,
		},
	},
}

func ledgerApplyHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(ApplyRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(LedgerServer).Apply(ctx, in)
	}
	info := &grpc.UnaryServerInfo{
		Server:     srv,
		FullMethod: MethodApply,
	}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(LedgerServer).Apply(ctx, req.(*ApplyRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func ledgerTransactionsHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(TransactionsRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(LedgerServer).Transactions(ctx, in)
	}
	info := &grpc.UnaryServerInfo{
		Server:     srv,
		FullMethod: MethodTransactions,
	}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(LedgerServer).Transactions(ctx, req.(*TransactionsRequest))
	}
	return interceptor(ctx, in, info, handler)
}

// LedgerClient is the client API for the Ledger feed service.
type LedgerClient interface {
	Apply(ctx context.Context, in *ApplyRequest, opts ...grpc.CallOption) (*ApplyResponse, error)
	Transactions(ctx context.Context, in *TransactionsRequest, opts ...grpc.CallOption) (*TransactionsResponse, error)
}

type ledgerClient struct {
	cc grpc.ClientConnInterface
}

// NewLedgerClient returns a LedgerClient using cc.
func NewLedgerClient(cc grpc.ClientConnInterface) LedgerClient {
	return &ledgerClient{cc}
}

func (c *ledgerClient) Apply(ctx context.Context, in *ApplyRequest, opts ...grpc.CallOption) (*ApplyResponse, error) {
	out := new(ApplyResponse)
	if err := c.cc.Invoke(ctx, MethodApply, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *ledgerClient) Transactions(ctx context.Context, in *TransactionsRequest, opts ...grpc.CallOption) (*TransactionsResponse, error) {
	out := new(TransactionsResponse)
	if err := c.cc.Invoke(ctx, MethodTransactions, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

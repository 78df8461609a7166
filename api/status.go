package api

import (
	"context"

	"github.com/pkg/errors"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// ToGRPC converts a ledger error into a gRPC status error so that the kind
// survives the wire. Errors that already carry a status pass through.
func ToGRPC(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := status.FromError(err); ok {
		return err
	}

	var (
		conflict     *ConflictError
		overflow     *OverflowError
		invalid      *InvalidFilterError
		notConnected *NotConnectedError
	)
	switch {
	case errors.As(err, &conflict):
		return status.Error(codes.Aborted, err.Error())
	case errors.As(err, &overflow):
		return status.Error(codes.ResourceExhausted, err.Error())
	case errors.As(err, &invalid):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.As(err, &notConnected):
		return status.Error(codes.Unavailable, err.Error())
	case errors.Is(err, ErrCancelled), errors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		return status.Error(codes.DeadlineExceeded, err.Error())
	}
	return status.Error(codes.Unknown, err.Error())
}

// FromGRPC is the inverse of ToGRPC. addr is reported in NotConnectedError.
func FromGRPC(err error, addr string) error {
	if err == nil {
		return nil
	}
	s, ok := status.FromError(err)
	if !ok {
		return err
	}
	switch s.Code() {
	case codes.Aborted:
		return &ConflictError{remote: s.Message()}
	case codes.ResourceExhausted:
		return &OverflowError{remote: s.Message()}
	case codes.InvalidArgument:
		return &InvalidFilterError{remote: s.Message()}
	case codes.Unavailable:
		return &NotConnectedError{Addr: addr, Err: errors.New(s.Message())}
	case codes.Canceled:
		return ErrCancelled
	}
	return err
}

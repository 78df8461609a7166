package manager

import (
	"context"

	"github.com/ledgerkit/ledgerkit/api"
	"github.com/ledgerkit/ledgerkit/log"
	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"
)

// callerContext tags the request logger with the method and the calling
// user. Credentials are not verified here.
func callerContext(ctx context.Context, method string) context.Context {
	ctx = log.WithField(ctx, "method", method)
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return ctx
	}
	if users := md.Get(api.MetadataUser); len(users) > 0 {
		ctx = log.WithField(ctx, "user", users[0])
	}
	return ctx
}

func unaryCallerInterceptor(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
	ctx = callerContext(ctx, info.FullMethod)
	resp, err := handler(ctx, req)
	if err != nil {
		log.G(ctx).WithError(err).Debug("call failed")
	}
	return resp, err
}

type callerStream struct {
	grpc.ServerStream
	ctx context.Context
}

func (s callerStream) Context() context.Context {
	return s.ctx
}

func streamCallerInterceptor(srv interface{}, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
	ctx := callerContext(ss.Context(), info.FullMethod)
	log.G(ctx).Debug("stream opened")
	return handler(srv, callerStream{ServerStream: ss, ctx: ctx})
}

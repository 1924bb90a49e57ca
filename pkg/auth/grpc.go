package auth

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	sserr "github.com/https756/spring-client-credentials-flow/pkg/errors"
)

// UnaryServerInterceptor guards unary RPCs with g, using the full method
// name ("/grpc.health.v1.Health/Check") as the route pattern.
//
// Authentication failures return codes.Unauthenticated and a Deny returns
// codes.PermissionDenied, both with generic messages.
func UnaryServerInterceptor(g *Guard) grpc.UnaryServerInterceptor {
	return func(
		ctx context.Context,
		req any,
		info *grpc.UnaryServerInfo,
		handler grpc.UnaryHandler,
	) (any, error) {
		ctx, err := checkGRPC(ctx, g, info.FullMethod)
		if err != nil {
			return nil, err
		}
		return handler(ctx, req)
	}
}

// StreamServerInterceptor is the streaming counterpart of
// [UnaryServerInterceptor].
func StreamServerInterceptor(g *Guard) grpc.StreamServerInterceptor {
	return func(
		srv any,
		ss grpc.ServerStream,
		info *grpc.StreamServerInfo,
		handler grpc.StreamHandler,
	) error {
		ctx, err := checkGRPC(ss.Context(), g, info.FullMethod)
		if err != nil {
			return err
		}
		return handler(srv, &wrappedServerStream{ServerStream: ss, ctx: ctx})
	}
}

func checkGRPC(ctx context.Context, g *Guard, method string) (context.Context, error) {
	var header string
	if md, ok := metadata.FromIncomingContext(ctx); ok {
		if vals := md.Get(HeaderAuthorization); len(vals) > 0 {
			header = vals[0]
		}
	}

	res, err := g.Check(ctx, header, method)
	if err != nil {
		return ctx, grpcStatus(err)
	}
	return withResult(ctx, res), nil
}

// grpcStatus maps a guard error onto a gRPC status.
func grpcStatus(err error) error {
	switch {
	case sserr.IsAuthorization(err):
		return status.Error(codes.PermissionDenied, sserr.ErrDenied.Message)
	case sserr.HasCode(err, sserr.CodeAuthentication):
		return status.Error(codes.Unauthenticated, "missing or invalid authorization metadata")
	case sserr.IsAuthentication(err):
		return status.Error(codes.Unauthenticated, "token validation failed")
	default:
		return status.Error(codes.Internal, "internal error")
	}
}

// wrappedServerStream overrides Context so handlers see the claims added
// by the interceptor.
type wrappedServerStream struct {
	grpc.ServerStream
	ctx context.Context
}

func (w *wrappedServerStream) Context() context.Context {
	return w.ctx
}

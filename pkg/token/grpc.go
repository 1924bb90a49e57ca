package token

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/https756/spring-client-credentials-flow/pkg/auth"
)

// UnaryClientInterceptor attaches a bearer token from source as
// "authorization" metadata. An Unauthenticated answer forces one refresh
// and the call is retried once; any other status is returned unchanged.
func UnaryClientInterceptor(source Source) grpc.UnaryClientInterceptor {
	return func(
		ctx context.Context,
		method string,
		req, reply any,
		cc *grpc.ClientConn,
		invoker grpc.UnaryInvoker,
		opts ...grpc.CallOption,
	) error {
		tok, err := source.Token(ctx)
		if err != nil {
			return err
		}
		err = invoker(withBearer(ctx, tok), method, req, reply, cc, opts...)
		if status.Code(err) != codes.Unauthenticated {
			return err
		}

		fresh, rerr := source.Refresh(ctx, tok)
		if rerr != nil {
			return rerr
		}
		return invoker(withBearer(ctx, fresh), method, req, reply, cc, opts...)
	}
}

// StreamClientInterceptor attaches a bearer token to new streams. Streams
// are not retried.
func StreamClientInterceptor(source Source) grpc.StreamClientInterceptor {
	return func(
		ctx context.Context,
		desc *grpc.StreamDesc,
		cc *grpc.ClientConn,
		method string,
		streamer grpc.Streamer,
		opts ...grpc.CallOption,
	) (grpc.ClientStream, error) {
		tok, err := source.Token(ctx)
		if err != nil {
			return nil, err
		}
		return streamer(withBearer(ctx, tok), desc, cc, method, opts...)
	}
}

// withBearer replaces any authorization entry in the outgoing metadata.
func withBearer(ctx context.Context, tok *AccessToken) context.Context {
	md, _ := metadata.FromOutgoingContext(ctx)
	md = md.Copy()
	md.Set(auth.HeaderAuthorization, auth.BearerHeader(tok.Value.Value()))
	return metadata.NewOutgoingContext(ctx, md)
}

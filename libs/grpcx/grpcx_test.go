package grpcx

import (
	"context"
	"testing"

	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"
)

func TestClientInterceptorForwardsRequestID(t *testing.T) {
	ctx := WithRequestID(context.Background(), "grpc-id")

	var sent []string
	invoker := func(ctx context.Context, method string, req, reply any, cc *grpc.ClientConn, opts ...grpc.CallOption) error {
		md, _ := metadata.FromOutgoingContext(ctx)
		sent = md.Get(RequestIDMetadataKey)
		return nil
	}

	if err := UnaryClientRequestIDInterceptor()(ctx, "/x.Y/Z", nil, nil, nil, invoker); err != nil {
		t.Fatalf("interceptor: %v", err)
	}
	if len(sent) != 1 || sent[0] != "grpc-id" {
		t.Fatalf("expected grpc-id, got %v", sent)
	}
}

func TestServerInterceptorStoresRequestID(t *testing.T) {
	ctx := metadata.NewIncomingContext(context.Background(), metadata.Pairs(RequestIDMetadataKey, "abc"))

	var seen string
	handler := func(ctx context.Context, req any) (any, error) {
		seen = RequestIDFromContext(ctx)
		return nil, nil
	}
	_, _ = UnaryServerRequestIDInterceptor()(ctx, nil, &grpc.UnaryServerInfo{FullMethod: "/x.Y/Z"}, handler)
	if seen != "abc" {
		t.Fatalf("expected abc, got %q", seen)
	}

	_, _ = UnaryServerRequestIDInterceptor()(context.Background(), nil, &grpc.UnaryServerInfo{FullMethod: "/x.Y/Z"}, handler)
	if len(seen) != 32 {
		t.Fatalf("expected generated id, got %q", seen)
	}
}

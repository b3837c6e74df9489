package grpc

import (
	"context"
	"errors"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	ct "github.com/dennislee928/carbontrade"
)

func fakeVerifier(token string) (*ct.AccessClaims, error) {
	if token == "good-token" {
		return &ct.AccessClaims{UserID: "user-1", Role: ct.RoleUser}, nil
	}
	return nil, errors.New("bad token")
}

func incoming(pairs ...string) context.Context {
	return metadata.NewIncomingContext(context.Background(), metadata.Pairs(pairs...))
}

func runUnary(t *testing.T, config *InterceptorConfig, ctx context.Context, method string) (string, error) {
	t.Helper()
	var seen string
	_, err := UnaryAuthInterceptor(config)(ctx, nil, &grpc.UnaryServerInfo{FullMethod: method}, func(ctx context.Context, req any) (any, error) {
		seen = UserIDFromContext(ctx)
		return nil, nil
	})
	return seen, err
}

func TestUnaryAuthInterceptor(t *testing.T) {
	config := NewInterceptorConfig(fakeVerifier, "/carbontrade.Market/OrderBook")

	tests := []struct {
		name   string
		ctx    context.Context
		method string
		user   string
		code   codes.Code
	}{
		{"valid bearer", incoming("authorization", "Bearer good-token"), "/carbontrade.Market/Purchase", "user-1", codes.OK},
		{"lowercase scheme", incoming("authorization", "bearer good-token"), "/carbontrade.Market/Purchase", "user-1", codes.OK},
		{"bad token", incoming("authorization", "Bearer nope"), "/carbontrade.Market/Purchase", "", codes.Unauthenticated},
		{"bad token on public method", incoming("authorization", "Bearer nope"), "/carbontrade.Market/OrderBook", "", codes.Unauthenticated},
		{"malformed header", incoming("authorization", "Basic abc"), "/carbontrade.Market/Purchase", "", codes.Unauthenticated},
		{"anonymous", context.Background(), "/carbontrade.Market/Purchase", "", codes.Unauthenticated},
		{"anonymous public", context.Background(), "/carbontrade.Market/OrderBook", "", codes.OK},
		{"user id metadata is untrusted", incoming("x-user-id", "spoofed"), "/carbontrade.Market/Purchase", "", codes.Unauthenticated},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			user, err := runUnary(t, config, tt.ctx, tt.method)
			assert.Equal(t, tt.code, status.Code(err))
			assert.Equal(t, tt.user, user)
		})
	}
}

func TestTrustedUserIDMetadata(t *testing.T) {
	config := NewInterceptorConfig(fakeVerifier)
	config.TrustUserIDMetadata = true

	user, err := runUnary(t, config, incoming("x-user-id", "gateway-user"), "/carbontrade.Market/Purchase")
	require.NoError(t, err)
	assert.Equal(t, "gateway-user", user)

	// A bearer credential wins over the forwarded id
	user, err = runUnary(t, config, incoming("x-user-id", "gateway-user", "authorization", "Bearer good-token"), "/carbontrade.Market/Purchase")
	require.NoError(t, err)
	assert.Equal(t, "user-1", user)
}

func TestOptionalAuth(t *testing.T) {
	config := &InterceptorConfig{Verify: fakeVerifier}
	user, err := runUnary(t, config, context.Background(), "/carbontrade.Market/Purchase")
	require.NoError(t, err)
	assert.Empty(t, user)
}

type fakeStream struct {
	grpc.ServerStream
	ctx context.Context
}

func (s *fakeStream) Context() context.Context { return s.ctx }

func TestStreamAuthInterceptor(t *testing.T) {
	interceptor := StreamAuthInterceptor(NewInterceptorConfig(fakeVerifier))
	info := &grpc.StreamServerInfo{FullMethod: "/carbontrade.Notifications/Watch"}

	var seen string
	err := interceptor(nil, &fakeStream{ctx: incoming("authorization", "Bearer good-token")}, info, func(srv any, ss grpc.ServerStream) error {
		seen = UserIDFromContext(ss.Context())
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, "user-1", seen)

	err = interceptor(nil, &fakeStream{ctx: context.Background()}, info, func(srv any, ss grpc.ServerStream) error {
		t.Error("handler should not be called")
		return nil
	})
	assert.Equal(t, codes.Unauthenticated, status.Code(err))
}

func TestOutgoingMetadata(t *testing.T) {
	ctx := BearerToOutgoingContext(context.Background(), "tok")
	ctx = SessionIDToOutgoingContext(ctx, "sess-1")
	ctx = UserIDToOutgoingContext(ctx, "u-1")
	md, ok := metadata.FromOutgoingContext(ctx)
	require.True(t, ok)
	assert.Equal(t, []string{"Bearer tok"}, md.Get("authorization"))
	assert.Equal(t, []string{"sess-1"}, md.Get("x-session-id"))
	assert.Equal(t, []string{"u-1"}, md.Get("x-user-id"))

	assert.Equal(t, "sess-1", SessionIDFromIncomingContext(incoming("x-session-id", "sess-1")))
	assert.False(t, IsAuthenticated(context.Background()))
}

func TestHealthServerIsPublic(t *testing.T) {
	srv, _ := NewServer(NewInterceptorConfig(fakeVerifier))
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	go srv.Serve(lis)
	t.Cleanup(srv.Stop)

	conn, err := grpc.NewClient(lis.Addr().String(), grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	defer conn.Close()

	resp, err := healthpb.NewHealthClient(conn).Check(context.Background(), &healthpb.HealthCheckRequest{})
	require.NoError(t, err)
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, resp.Status)
}

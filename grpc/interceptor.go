package grpc

import (
	"context"
	"log/slog"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	ct "github.com/dennislee928/carbontrade"
)

// InterceptorConfig configures the auth interceptors.
type InterceptorConfig struct {
	*Config

	// Verify checks bearer credentials, usually APIMiddleware.VerifyCredential.
	Verify ct.TokenVerifier

	// RequireAuth rejects anonymous calls to methods not in PublicMethods.
	RequireAuth bool

	// PublicMethods holds full method names like "/grpc.health.v1.Health/Check".
	PublicMethods map[string]bool
}

// NewInterceptorConfig requires auth everywhere except the listed methods.
func NewInterceptorConfig(verify ct.TokenVerifier, publicMethods ...string) *InterceptorConfig {
	config := &InterceptorConfig{
		Config:        DefaultConfig(),
		Verify:        verify,
		RequireAuth:   true,
		PublicMethods: make(map[string]bool),
	}
	for _, method := range publicMethods {
		config.PublicMethods[method] = true
	}
	return config
}

func (c *InterceptorConfig) ensureDefaults() {
	if c.Config == nil {
		c.Config = DefaultConfig()
	}
	c.Config.EnsureDefaults()
	if c.PublicMethods == nil {
		c.PublicMethods = make(map[string]bool)
	}
}

// authenticate returns ctx carrying the caller's claims, or a status error.
func (c *InterceptorConfig) authenticate(ctx context.Context, fullMethod string) (context.Context, error) {
	claims, err := c.claims(ctx)
	if err != nil {
		slog.Info("grpc auth rejected", "method", fullMethod, "err", err)
		return nil, status.Error(codes.Unauthenticated, "invalid credentials")
	}
	if claims == nil {
		if c.RequireAuth && !c.PublicMethods[fullMethod] {
			return nil, status.Error(codes.Unauthenticated, "authentication required")
		}
		return ctx, nil
	}
	return ct.SetClaimsInContext(ctx, claims), nil
}

func (c *InterceptorConfig) claims(ctx context.Context) (*ct.AccessClaims, error) {
	token, ok := bearerFromIncomingContext(ctx)
	if !ok {
		return nil, status.Error(codes.Unauthenticated, "invalid authorization metadata")
	}
	if token != "" {
		if c.Verify == nil {
			return nil, status.Error(codes.Unauthenticated, "no token verifier configured")
		}
		return c.Verify(token)
	}
	if c.TrustUserIDMetadata {
		if userID := firstValue(ctx, c.MetadataKeyUserID); userID != "" {
			return &ct.AccessClaims{UserID: userID}, nil
		}
	}
	return nil, nil
}

func UnaryAuthInterceptor(config *InterceptorConfig) grpc.UnaryServerInterceptor {
	config.ensureDefaults()
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		ctx, err := config.authenticate(ctx, info.FullMethod)
		if err != nil {
			return nil, err
		}
		return handler(ctx, req)
	}
}

func StreamAuthInterceptor(config *InterceptorConfig) grpc.StreamServerInterceptor {
	config.ensureDefaults()
	return func(srv any, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
		ctx, err := config.authenticate(ss.Context(), info.FullMethod)
		if err != nil {
			return err
		}
		return handler(srv, &authedStream{ServerStream: ss, ctx: ctx})
	}
}

type authedStream struct {
	grpc.ServerStream
	ctx context.Context
}

func (s *authedStream) Context() context.Context { return s.ctx }

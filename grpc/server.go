package grpc

import (
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// HealthCheckMethods are always reachable without credentials.
var HealthCheckMethods = []string{
	healthpb.Health_Check_FullMethodName,
	healthpb.Health_Watch_FullMethodName,
}

// NewServer returns a gRPC server with the auth interceptors installed and
// the standard health service registered and serving.
func NewServer(config *InterceptorConfig, opts ...grpc.ServerOption) (*grpc.Server, *health.Server) {
	config.ensureDefaults()
	for _, m := range HealthCheckMethods {
		config.PublicMethods[m] = true
	}
	opts = append(opts,
		grpc.ChainUnaryInterceptor(UnaryAuthInterceptor(config)),
		grpc.ChainStreamInterceptor(StreamAuthInterceptor(config)),
	)
	srv := grpc.NewServer(opts...)
	hs := health.NewServer()
	healthpb.RegisterHealthServer(srv, hs)
	hs.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	return srv, hs
}

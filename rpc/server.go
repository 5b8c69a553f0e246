package rpc

import (
	"net"

	grpcprometheus "github.com/grpc-ecosystem/go-grpc-prometheus"
	"golang.org/x/time/rate"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/aifs-project/aifs"
	"github.com/aifs-project/aifs/auth"
	"github.com/aifs-project/aifs/rpc/aifspb"
)

// maxMessageSize bounds a single gRPC frame. Asset payloads larger than
// this arrive chunked over the put stream.
const maxMessageSize = 16 << 20

// Server exposes an Engine over gRPC.
type Server struct {
	engine *aifs.Engine
	logger *aifs.Logger

	authorizer *auth.Authorizer
	limiter    *rate.Limiter
	metrics    *grpcprometheus.ServerMetrics

	grpc   *grpc.Server
	health *health.Server
}

type serverOptions struct {
	logger     *aifs.Logger
	authorizer *auth.Authorizer
	limiter    *rate.Limiter
	metrics    *grpcprometheus.ServerMetrics
	grpcOpts   []grpc.ServerOption
}

// ServerOption configures NewServer.
type ServerOption func(*serverOptions)

// WithServerLogger sets the logger for request logging.
func WithServerLogger(l *aifs.Logger) ServerOption {
	return func(o *serverOptions) { o.logger = l }
}

// WithAuthorizer enables capability checks with the given authorizer.
// Without one the server runs open, intended for development only.
func WithAuthorizer(a *auth.Authorizer) ServerOption {
	return func(o *serverOptions) { o.authorizer = a }
}

// WithRateLimit caps the aggregate request rate across all clients.
func WithRateLimit(rps float64, burst int) ServerOption {
	return func(o *serverOptions) { o.limiter = rate.NewLimiter(rate.Limit(rps), burst) }
}

// WithServerMetrics wires per-RPC Prometheus metrics. The caller owns
// registration of the collector.
func WithServerMetrics(m *grpcprometheus.ServerMetrics) ServerOption {
	return func(o *serverOptions) { o.metrics = m }
}

// WithGRPCOptions appends raw grpc.ServerOptions, applied last.
func WithGRPCOptions(opts ...grpc.ServerOption) ServerOption {
	return func(o *serverOptions) { o.grpcOpts = append(o.grpcOpts, opts...) }
}

// NewServer builds a gRPC server around the engine. Call Serve to
// accept connections.
func NewServer(engine *aifs.Engine, optFns ...ServerOption) *Server {
	opts := serverOptions{logger: aifs.NoopLogger()}
	for _, fn := range optFns {
		fn(&opts)
	}

	s := &Server{
		engine:     engine,
		logger:     opts.logger,
		authorizer: opts.authorizer,
		limiter:    opts.limiter,
		metrics:    opts.metrics,
		health:     health.NewServer(),
	}

	unary := []grpc.UnaryServerInterceptor{s.unaryLimitInterceptor, s.unaryAuthInterceptor}
	stream := []grpc.StreamServerInterceptor{s.streamLimitInterceptor, s.streamAuthInterceptor}
	if s.metrics != nil {
		unary = append([]grpc.UnaryServerInterceptor{s.metrics.UnaryServerInterceptor()}, unary...)
		stream = append([]grpc.StreamServerInterceptor{s.metrics.StreamServerInterceptor()}, stream...)
	}

	grpcOpts := []grpc.ServerOption{
		grpc.ForceServerCodec(wireCodec{}),
		grpc.MaxRecvMsgSize(maxMessageSize),
		grpc.MaxSendMsgSize(maxMessageSize),
		grpc.ChainUnaryInterceptor(unary...),
		grpc.ChainStreamInterceptor(stream...),
	}
	grpcOpts = append(grpcOpts, opts.grpcOpts...)

	s.grpc = grpc.NewServer(grpcOpts...)
	aifspb.RegisterAIFSServer(s.grpc, s)
	healthpb.RegisterHealthServer(s.grpc, s.health)
	s.health.SetServingStatus(aifspb.ServiceName, healthpb.HealthCheckResponse_SERVING)
	if s.metrics != nil {
		s.metrics.InitializeMetrics(s.grpc)
	}
	return s
}

// Serve accepts connections on lis until the server stops.
func (s *Server) Serve(lis net.Listener) error {
	s.logger.Info("serving", "addr", lis.Addr().String(), "service", aifspb.ServiceName)
	return s.grpc.Serve(lis)
}

// GracefulStop drains in-flight RPCs and stops the server.
func (s *Server) GracefulStop() {
	s.health.SetServingStatus(aifspb.ServiceName, healthpb.HealthCheckResponse_NOT_SERVING)
	s.grpc.GracefulStop()
}

// Stop stops the server immediately.
func (s *Server) Stop() {
	s.grpc.Stop()
}

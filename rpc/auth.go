package rpc

import (
	"context"
	"strings"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/aifs-project/aifs/auth"
)

// authorizationKey is the metadata key bearer tokens travel under.
const authorizationKey = "authorization"

// methodCapabilities maps each RPC to the capability it requires.
// Unlisted methods (health checks) are open.
var methodCapabilities = map[string]auth.Method{
	"PutAsset":            auth.MethodPut,
	"DeleteAsset":         auth.MethodPut,
	"BeginTransaction":    auth.MethodPut,
	"CommitTransaction":   auth.MethodPut,
	"RollbackTransaction": auth.MethodPut,

	"GetAsset":        auth.MethodGet,
	"ListAssets":      auth.MethodGet,
	"GetSnapshot":     auth.MethodGet,
	"VerifySnapshot":  auth.MethodGet,
	"GetBranch":       auth.MethodGet,
	"ListBranches":    auth.MethodGet,
	"BranchHistory":   auth.MethodGet,
	"GetTag":          auth.MethodGet,
	"ListTags":        auth.MethodGet,
	"ListNamespaces":  auth.MethodGet,
	"Info":            auth.MethodGet,
	"SubscribeEvents": auth.MethodGet,

	"VectorSearch": auth.MethodSearch,

	"CreateSnapshot":       auth.MethodSnapshot,
	"RegisterNamespaceKey": auth.MethodSnapshot,

	"CreateBranch": auth.MethodBranch,
	"DeleteBranch": auth.MethodBranch,

	"CreateTag": auth.MethodTag,
}

type tokenContextKey struct{}

// tokenFromContext returns the decoded bearer token, if any.
func tokenFromContext(ctx context.Context) *auth.Token {
	tok, _ := ctx.Value(tokenContextKey{}).(*auth.Token)
	return tok
}

// shortMethod strips the /service/ prefix from a full method name.
func shortMethod(full string) string {
	if i := strings.LastIndexByte(full, '/'); i >= 0 {
		return full[i+1:]
	}
	return full
}

// authenticate decodes the bearer token and stashes it in the context.
// Verification happens per request in authorize, where the namespace a
// handler actually touches is known. With no authorizer configured
// every call passes.
func (s *Server) authenticate(ctx context.Context, fullMethod string) (context.Context, error) {
	if s.authorizer == nil {
		return ctx, nil
	}
	if _, gated := methodCapabilities[shortMethod(fullMethod)]; !gated {
		return ctx, nil
	}

	md, _ := metadata.FromIncomingContext(ctx)
	values := md.Get(authorizationKey)
	if len(values) == 0 {
		return nil, status.Error(codes.Unauthenticated, "missing authorization token")
	}
	raw := strings.TrimPrefix(values[0], "Bearer ")

	tok, err := auth.Decode(raw)
	if err != nil {
		return nil, status.Error(codes.Unauthenticated, "malformed authorization token")
	}
	return context.WithValue(ctx, tokenContextKey{}, tok), nil
}

// authorize checks the stashed token against the namespace and
// capability of the operation. Namespace-scoped tokens fail on
// operations with no namespace.
func (s *Server) authorize(ctx context.Context, namespace string, capability auth.Method) error {
	if s.authorizer == nil {
		return nil
	}
	tok := tokenFromContext(ctx)
	if tok == nil {
		return status.Error(codes.Unauthenticated, "missing authorization token")
	}
	if err := s.authorizer.Verify(tok, auth.Request{Namespace: namespace, Method: capability}); err != nil {
		return toStatus(err)
	}
	return nil
}

// requireAdmin enforces the admin capability on top of a method's
// regular gate. Used for destructive variants of otherwise-open
// operations, like overwriting a registered namespace key.
func (s *Server) requireAdmin(ctx context.Context, namespace string) error {
	if s.authorizer == nil {
		return nil
	}
	tok := tokenFromContext(ctx)
	if tok == nil {
		return status.Error(codes.Unauthenticated, "missing authorization token")
	}
	if !s.authorizer.IsAdmin(tok, namespace) {
		return status.Error(codes.PermissionDenied, "admin capability required")
	}
	return nil
}

func (s *Server) unaryAuthInterceptor(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
	ctx, err := s.authenticate(ctx, info.FullMethod)
	if err != nil {
		return nil, err
	}
	return handler(ctx, req)
}

// authServerStream carries the authenticated context into the handler.
type authServerStream struct {
	grpc.ServerStream
	ctx context.Context
}

func (s *authServerStream) Context() context.Context { return s.ctx }

func (s *Server) streamAuthInterceptor(srv any, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
	ctx, err := s.authenticate(ss.Context(), info.FullMethod)
	if err != nil {
		return err
	}
	return handler(srv, &authServerStream{ServerStream: ss, ctx: ctx})
}

func (s *Server) unaryLimitInterceptor(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
	if s.limiter != nil && !s.limiter.Allow() {
		return nil, status.Error(codes.ResourceExhausted, "rate limit exceeded")
	}
	return handler(ctx, req)
}

func (s *Server) streamLimitInterceptor(srv any, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
	if s.limiter != nil && !s.limiter.Allow() {
		return status.Error(codes.ResourceExhausted, "rate limit exceeded")
	}
	return handler(srv, ss)
}

package rpc

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/aifs-project/aifs/auth"
)

// Dial connects to an AIFS server with the wire codec preconfigured.
// Extra dial options are applied after the defaults and may override
// the insecure transport.
func Dial(ctx context.Context, target string, optFns ...grpc.DialOption) (*grpc.ClientConn, error) {
	opts := []grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(
			grpc.ForceCodec(wireCodec{}),
			grpc.MaxCallRecvMsgSize(maxMessageSize),
			grpc.MaxCallSendMsgSize(maxMessageSize),
		),
	}
	opts = append(opts, optFns...)
	return grpc.DialContext(ctx, target, opts...)
}

// WithToken attaches a bearer token to every RPC on the connection.
func WithToken(t *auth.Token) grpc.DialOption {
	return grpc.WithPerRPCCredentials(tokenCredentials{token: t})
}

type tokenCredentials struct {
	token *auth.Token
}

func (c tokenCredentials) GetRequestMetadata(context.Context, ...string) (map[string]string, error) {
	encoded, err := c.token.Encode()
	if err != nil {
		return nil, err
	}
	return map[string]string{authorizationKey: "Bearer " + encoded}, nil
}

func (c tokenCredentials) RequireTransportSecurity() bool { return false }

package grpcservice

import (
	"context"
	"crypto/subtle"
	"strings"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/keepalive"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

const authHeader = "authorization"

// checkToken validates a bearer value against token.
func checkToken(value, token string) bool {
	value = strings.TrimPrefix(value, "Bearer ")
	return subtle.ConstantTimeCompare([]byte(value), []byte(token)) == 1
}

// auth validates the bearer token in ctx metadata.
func auth(ctx context.Context, token string) error {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return status.Error(codes.Unauthenticated, "missing metadata")
	}
	vals := md.Get(authHeader)
	if len(vals) == 0 {
		return status.Error(codes.Unauthenticated, "missing authorization header")
	}
	if !checkToken(vals[0], token) {
		return status.Error(codes.Unauthenticated, "invalid token")
	}
	return nil
}

// UnaryAuth rejects unary calls without the bearer token.
func UnaryAuth(token string) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, _ *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		if err := auth(ctx, token); err != nil {
			return nil, err
		}
		return handler(ctx, req)
	}
}

// StreamAuth rejects streams without the bearer token.
func StreamAuth(token string) grpc.StreamServerInterceptor {
	return func(srv any, ss grpc.ServerStream, _ *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
		if err := auth(ss.Context(), token); err != nil {
			return err
		}
		return handler(srv, ss)
	}
}

// NewServer returns a grpc.Server with svc registered. A non-empty token adds
// the auth interceptors; the IPC socket passes an empty one.
func NewServer(svc HistoryServer, token string, opts ...grpc.ServerOption) *grpc.Server {
	// Allow the pings DialTCP sends to keep idle watch streams alive.
	opts = append(opts,
		grpc.KeepaliveEnforcementPolicy(keepalive.EnforcementPolicy{
			MinTime:             keepaliveTime / 2,
			PermitWithoutStream: true,
		}),
		grpc.MaxRecvMsgSize(maxMessageSize),
		grpc.MaxSendMsgSize(maxMessageSize),
	)
	if token != "" {
		opts = append(opts,
			grpc.ChainUnaryInterceptor(UnaryAuth(token)),
			grpc.ChainStreamInterceptor(StreamAuth(token)),
		)
	}
	s := grpc.NewServer(opts...)
	RegisterHistoryServer(s, svc)
	return s
}

// tokenCreds attaches the bearer token to every call.
type tokenCreds struct {
	token  string
	secure bool
}

// TokenCredentials returns per-RPC credentials carrying token. With secure
// set the token is only sent over TLS.
func TokenCredentials(token string, secure bool) credentials.PerRPCCredentials {
	return tokenCreds{token: token, secure: secure}
}

func (c tokenCreds) GetRequestMetadata(context.Context, ...string) (map[string]string, error) {
	return map[string]string{authHeader: "Bearer " + c.token}, nil
}

func (c tokenCreds) RequireTransportSecurity() bool { return c.secure }

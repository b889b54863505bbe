package grpcservice

import (
	"context"
	"net"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/keepalive"
	"google.golang.org/grpc/metadata"

	"go.klb.dev/clipstash/internal/ipc"
	"go.klb.dev/clipstash/internal/tlsconf"
)

const keepaliveTime = 30 * time.Second

// maxMessageSize fits a full-size capture after base64 and the JSON envelope.
const maxMessageSize = 2 * maxCaptureBytes

// WithMessageLimits raises the per-call message limits to match the server,
// so full image reads and captures are not refused by the 4 MB default.
func WithMessageLimits() grpc.DialOption {
	return grpc.WithDefaultCallOptions(
		grpc.MaxCallRecvMsgSize(maxMessageSize),
		grpc.MaxCallSendMsgSize(maxMessageSize),
	)
}

// Conn is a Client together with the connection it owns.
type Conn struct {
	*Client
	cc *grpc.ClientConn
}

// Close closes the underlying connection.
func (c *Conn) Close() error { return c.cc.Close() }

// DialIPC connects to the daemon's local socket at path.
func DialIPC(path string) (*Conn, error) {
	cc, err := grpc.NewClient("passthrough:///clipstash",
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		WithMessageLimits(),
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return ipc.Dial(ctx, path)
		}),
	)
	if err != nil {
		return nil, err
	}
	return &Conn{Client: NewClient(cc), cc: cc}, nil
}

// DialTCP connects to a daemon's TCP listener. A non-empty token enables
// TLS pinned to the token-derived key and bearer authentication.
func DialTCP(addr, token string) (*Conn, error) {
	opts := []grpc.DialOption{
		WithMessageLimits(),
		grpc.WithKeepaliveParams(keepalive.ClientParameters{
			Time:                keepaliveTime,
			Timeout:             10 * time.Second,
			PermitWithoutStream: true,
		}),
	}
	if token == "" {
		opts = append(opts, grpc.WithTransportCredentials(insecure.NewCredentials()))
	} else {
		creds, err := tlsconf.ClientCredentials(token)
		if err != nil {
			return nil, err
		}
		opts = append(opts,
			grpc.WithTransportCredentials(creds),
			grpc.WithPerRPCCredentials(TokenCredentials(token, true)),
		)
	}
	cc, err := grpc.NewClient("passthrough:///"+addr, opts...)
	if err != nil {
		return nil, err
	}
	return &Conn{Client: NewClient(cc), cc: cc}, nil
}

// WithSource names the caller in the daemon's subscriber list.
func WithSource(ctx context.Context, source string) context.Context {
	return metadata.AppendToOutgoingContext(ctx, SourceHeader, source)
}

// Package ipc provides the local socket the CLI uses to reach a running
// clipstash daemon.
//
// The channel is plain gRPC served over a Unix domain socket (a named pipe on
// Windows), using the same History service as the optional TCP listener.
// Anyone who can open the socket is trusted, so it is created with owner-only
// permissions.
package ipc

import (
	"context"
	"net"
	"os"
)

// EnvSocket overrides the socket path.
const EnvSocket = "CLIPSTASH_SOCKET"

// SocketPath returns the platform-appropriate path for the IPC socket.
//
//   - Linux:   $XDG_RUNTIME_DIR/clipstash.sock, else $TMPDIR/clipstash.sock
//   - macOS:   $TMPDIR/clipstash.sock
//   - Windows: \\.\pipe\clipstash
//
// $CLIPSTASH_SOCKET overrides all of these.
func SocketPath() string {
	if s := os.Getenv(EnvSocket); s != "" {
		return s
	}
	return socketPath()
}

// IsRunning reports whether a daemon appears to be listening on the IPC
// socket. It does a cheap dial-and-close; no data is exchanged.
func IsRunning() bool {
	c, err := dialIPC(context.Background(), SocketPath())
	if err != nil {
		return false
	}
	_ = c.Close()
	return true
}

// Listen creates a listener on the IPC socket path, replacing a stale socket
// left by a crashed daemon.
func Listen() (net.Listener, error) {
	return listenIPC(SocketPath())
}

// Dial connects to the socket at path. Its signature fits
// grpc.WithContextDialer.
func Dial(ctx context.Context, path string) (net.Conn, error) {
	return dialIPC(ctx, path)
}

package main

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/soheilhy/cmux"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"

	"go.klb.dev/clipstash/internal/config"
	"go.klb.dev/clipstash/internal/grpcservice"
	"go.klb.dev/clipstash/internal/tlsconf"
)

// serveTCP listens on cfg.Addr and splits the connections between the gRPC
// server and the HTTP gateway. Both run in g and stop when ctx is done.
func serveTCP(ctx context.Context, g *errgroup.Group, cfg config.Config, svc *grpcservice.Service) error {
	ln, err := net.Listen("tcp", cfg.Addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", cfg.Addr, err)
	}
	if cfg.Token != "" {
		pair, err := tlsconf.Derive(cfg.Token)
		if err != nil {
			_ = ln.Close()
			return fmt.Errorf("tls: %w", err)
		}
		ln = tls.NewListener(ln, pair.Server)
	}

	gw, err := grpcservice.NewGateway(svc, cfg.Token)
	if err != nil {
		_ = ln.Close()
		return err
	}

	mux := cmux.New(ln)
	// gRPC clients announce "application/grpc+json"; match on the prefix.
	grpcLn := mux.MatchWithWriters(cmux.HTTP2MatchHeaderFieldPrefixSendSettings("content-type", "application/grpc"))
	httpLn := mux.Match(cmux.Any())

	grpcSrv := grpcservice.NewServer(svc, cfg.Token)
	httpSrv := &http.Server{Handler: gw, ReadHeaderTimeout: 10 * time.Second}

	slog.Info("TCP listening", "addr", ln.Addr(), "tls", cfg.Token != "")

	g.Go(func() error { return serveHTTPGateway(httpSrv, httpLn) })
	g.Go(func() error { return serveGRPC(grpcSrv, grpcLn) })
	g.Go(func() error {
		if err := mux.Serve(); err != nil && !errors.Is(err, net.ErrClosed) {
			return fmt.Errorf("tcp mux: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		grpcSrv.Stop()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = httpSrv.Shutdown(shutdownCtx)
		mux.Close()
		_ = ln.Close()
		return nil
	})
	return nil
}

// serveHTTPGateway runs srv on ln until it is shut down.
func serveHTTPGateway(srv *http.Server, ln net.Listener) error {
	err := srv.Serve(ln)
	switch {
	case errors.Is(err, http.ErrServerClosed), errors.Is(err, cmux.ErrListenerClosed), errors.Is(err, cmux.ErrServerClosed):
		return nil
	default:
		return err
	}
}

// serveGRPC runs srv on ln. Stopping srv, even before Serve starts, is not an
// error.
func serveGRPC(srv *grpc.Server, ln net.Listener) error {
	if err := srv.Serve(ln); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
		return err
	}
	return nil
}

package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"

	"go.klb.dev/clipstash/internal/clip"
	"go.klb.dev/clipstash/internal/config"
	"go.klb.dev/clipstash/internal/grpcservice"
	"go.klb.dev/clipstash/internal/history"
	"go.klb.dev/clipstash/internal/hub"
	"go.klb.dev/clipstash/internal/ipc"
	"go.klb.dev/clipstash/internal/paste"
	"go.klb.dev/clipstash/internal/store"
	"go.klb.dev/clipstash/internal/watcher"
)

func newDaemonCmd() *cobra.Command {
	v := viper.New()

	cmd := &cobra.Command{
		Use:   "daemon",
		Short: "Watch the clipboard and serve the history",
		Long: `Starts the clipboard watcher and the history store, and serves the history
API on the local socket. With --addr the same API is also served over TCP,
gRPC and HTTP/JSON on one port; --token adds TLS and bearer authentication.

Config file search order:
  /etc/clipstash/clipstash.toml
  $HOME/.config/clipstash/clipstash.toml
  path supplied via --config

Precedence (lowest → highest): defaults → config file → CLIPSTASH_* env vars → flags`,
		Args:    cobra.NoArgs,
		PreRunE: func(cmd *cobra.Command, _ []string) error { return bindViper(cmd, v) },
		RunE:    func(cmd *cobra.Command, _ []string) error { return runDaemon(cmd.Context(), v) },
	}

	addDaemonFlags(cmd)
	addLoggingFlags(cmd)
	addConfigFlag(cmd)
	return cmd
}

// addDaemonFlags adds one flag per config key. Defaults live in
// config.Default and reach viper through bindViper.
func addDaemonFlags(cmd *cobra.Command) {
	d := config.Default(defaultDataDir())
	f := cmd.Flags()
	f.Int(config.KeyMaxHistorySize, d.MaxHistorySize, "unpinned items kept (0 = unlimited)")
	f.Int(config.KeyRetentionDays, d.RetentionDays, "drop unpinned items older than this many days (0 = never)")
	f.Int(config.KeyCheckIntervalMS, d.CheckIntervalMS, "clipboard poll interval in milliseconds")
	f.String(config.KeyDataDir, d.DataDir, "directory holding the history database")
	f.Int(config.KeyChannelCapacity, d.ChannelCapacity, "changes buffered between watcher and store")
	f.String(config.KeyInject, d.Inject, "paste utility: auto|none|xdotool|wtype|osascript")
	f.String(config.KeyAddr, "", "also serve gRPC + HTTP on this TCP address")
	f.String(config.KeyToken, "", "shared secret for the TCP listener (enables TLS)")
}

func runDaemon(ctx context.Context, v *viper.Viper) error {
	setupLogging(v)

	cfg, err := config.FromViper(v)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := store.Open(ctx, cfg.DataDir)
	if err != nil {
		return err
	}
	defer func() {
		if err := st.Close(); err != nil {
			slog.Error("closing history store", "err", err)
		}
	}()

	acc := clip.New()
	injector, err := newInjector(cfg.Inject, acc)
	if err != nil {
		return err
	}
	w := watcher.New(acc, watcher.Options{
		Interval: cfg.CheckInterval(),
		Capacity: cfg.ChannelCapacity,
	})
	m := history.New(st, acc, injector, w, hub.New(), history.Options{
		MaxItems: cfg.MaxHistorySize,
		MaxAge:   cfg.MaxAge(),
	})
	svc := grpcservice.New(m, Version)

	slog.Info("clipstash daemon starting",
		"version", Version,
		"db", st.Path(),
		"clipboard", acc.Name(),
		"injector", injector.Name(),
		"interval", cfg.CheckInterval(),
		"max_items", cfg.MaxHistorySize,
		"retention_days", cfg.RetentionDays,
	)

	ipcLn, err := ipc.Listen()
	if err != nil {
		return fmt.Errorf("ipc socket: %w", err)
	}
	ipcSrv := grpcservice.NewServer(svc, "")
	slog.Info("IPC socket listening", "path", ipc.SocketPath())

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return m.Run(gctx) })
	g.Go(func() error { return serveGRPC(ipcSrv, ipcLn) })
	g.Go(func() error {
		<-gctx.Done()
		ipcSrv.Stop()
		return nil
	})
	if cfg.Addr != "" {
		if err := serveTCP(gctx, g, cfg, svc); err != nil {
			stop()
			_ = g.Wait()
			return err
		}
	}

	err = g.Wait()
	w.Wait()

	// Every mutation already flushed; this covers a write racing shutdown.
	if ferr := st.Flush(context.Background()); ferr != nil {
		slog.Error("final flush failed", "err", ferr)
	}
	slog.Info("clipstash daemon stopped")
	return err
}

func newInjector(name string, acc clip.Accessor) (paste.Injector, error) {
	switch name {
	case "", "auto":
		return paste.Detect(acc), nil
	case "none":
		return paste.None{}, nil
	default:
		return paste.NewCommand(name, acc)
	}
}

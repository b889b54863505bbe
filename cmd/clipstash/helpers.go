package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"go.klb.dev/clipstash/internal/config"
	"go.klb.dev/clipstash/internal/grpcservice"
	"go.klb.dev/clipstash/internal/ipc"
)

const requestTimeout = 10 * time.Second

func getenv(key string) string  { return os.Getenv(key) }
func hostname() (string, error) { return os.Hostname() }

// defaultSource returns a human-readable identifier for this caller.
func defaultSource() string {
	if v := getenv("CLIPSTASH_SOURCE"); v != "" {
		return v
	}
	h, err := hostname()
	if err != nil {
		return "cli"
	}
	return "cli@" + h
}

// addClientFlags adds the flags every daemon-facing command shares.
func addClientFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.String(config.KeyAddr, "", "daemon TCP address (default: local socket)")
	f.String(config.KeyToken, "", "shared secret for the TCP listener")
	f.String("source", defaultSource(), "name shown in the daemon's subscriber list")
	addConfigFlag(cmd)
}

// clientCmd builds a command that talks to the daemon. run gets a connected
// client and a context carrying the caller's source name.
func clientCmd(c *cobra.Command, run func(ctx context.Context, cmd *cobra.Command, v *viper.Viper, conn *grpcservice.Conn, args []string) error) *cobra.Command {
	v := viper.New()
	c.PreRunE = func(cmd *cobra.Command, _ []string) error { return bindViper(cmd, v) }
	c.RunE = func(cmd *cobra.Command, args []string) error {
		conn, transport, err := dial(cmd, v)
		if err != nil {
			return err
		}
		defer conn.Close()

		ctx := grpcservice.WithSource(cmd.Context(), v.GetString("source"))
		if err := run(ctx, cmd, v, conn, args); err != nil {
			return fmt.Errorf("%s: %w", transport, err)
		}
		return nil
	}
	addClientFlags(c)
	return c
}

// dial prefers the local socket. TCP is used when --addr is given on the
// command line, or when no local daemon answers and an address is configured.
func dial(cmd *cobra.Command, v *viper.Viper) (*grpcservice.Conn, string, error) {
	addr := v.GetString(config.KeyAddr)
	local := ipc.IsRunning()
	if !cmd.Flags().Changed(config.KeyAddr) && (local || addr == "") {
		path := ipc.SocketPath()
		if !local {
			return nil, "", fmt.Errorf("no clipstash daemon on %s (start one with \"clipstash daemon\")", path)
		}
		conn, err := grpcservice.DialIPC(path)
		if err != nil {
			return nil, "", fmt.Errorf("dial %s: %w", path, err)
		}
		return conn, "ipc " + path, nil
	}

	conn, err := grpcservice.DialTCP(addr, v.GetString(config.KeyToken))
	if err != nil {
		return nil, "", fmt.Errorf("dial %s: %w", addr, err)
	}
	return conn, "tcp " + addr, nil
}

func withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, requestTimeout)
}

func fmtAge(t time.Time) string {
	age := time.Since(t).Round(time.Second)
	switch {
	case age < time.Minute:
		return fmt.Sprintf("%ds ago", int(age.Seconds()))
	case age < time.Hour:
		return fmt.Sprintf("%dm ago", int(age.Minutes()))
	case age < 24*time.Hour:
		return fmt.Sprintf("%dh ago", int(age.Hours()))
	}
	return t.Local().Format("2006-01-02 15:04")
}

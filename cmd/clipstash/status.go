package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"go.klb.dev/clipstash/internal/grpcservice"
)

func newStatusCmd() *cobra.Command {
	cmd := clientCmd(&cobra.Command{
		Use:   "status",
		Short: "Show daemon state and subscribers",
		Long: `Displays the daemon's history counts, whether capture is active, the
clipboard and paste backends in use, and every connected watch stream.`,
		Args: cobra.NoArgs,
	}, runStatus)
	cmd.Flags().Bool("json", false, "output raw JSON")
	return cmd
}

func runStatus(ctx context.Context, cmd *cobra.Command, v *viper.Viper, conn *grpcservice.Conn, _ []string) error {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	resp, err := conn.Status(ctx, &grpcservice.Empty{})
	if err != nil {
		return err
	}
	if v.GetBool("json") {
		return writeJSON(cmd.OutOrStdout(), resp)
	}
	printStatus(cmd.OutOrStdout(), resp)
	return nil
}

func printStatus(out io.Writer, resp *grpcservice.StatusResponse) {
	w := tabwriter.NewWriter(out, 1, 0, 2, ' ', 0)
	watching := "paused"
	if resp.Watching {
		watching = "watching"
	}
	fmt.Fprintf(w, "Version:\t%s\n", resp.Version)
	fmt.Fprintf(w, "Started:\t%s (%s)\n", resp.StartedAt.Local().Format(time.RFC3339), fmtAge(resp.StartedAt))
	fmt.Fprintf(w, "Capture:\t%s\n", watching)
	fmt.Fprintf(w, "Items:\t%d (%d pinned)\n", resp.Total, resp.Pinned)
	fmt.Fprintf(w, "Database:\t%s\n", resp.DBPath)
	fmt.Fprintf(w, "Clipboard:\t%s\n", resp.Clipboard)
	fmt.Fprintf(w, "Injector:\t%s\n", resp.Injector)
	if resp.RSSBytes > 0 {
		fmt.Fprintf(w, "Process:\tpid %d, %s resident\n", resp.PID, fmtSize(int(resp.RSSBytes)))
	} else {
		fmt.Fprintf(w, "Process:\tpid %d\n", resp.PID)
	}
	_ = w.Flush()

	if len(resp.Subscribers) == 0 {
		return
	}
	rows := make([][]string, 0, len(resp.Subscribers))
	for _, s := range resp.Subscribers {
		rows = append(rows, []string{s.Source, s.ID, fmtAge(s.ConnectedAt)})
	}
	fmt.Fprintln(out)
	fmt.Fprintln(out, renderTable([]string{"SOURCE", "STREAM", "CONNECTED"}, rows, nil))
}

func newWatchingCmd(on bool) *cobra.Command {
	use, short := "pause", "Stop capturing clipboard changes"
	if on {
		use, short = "resume", "Resume capturing clipboard changes"
	}
	return clientCmd(&cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.NoArgs,
	}, func(ctx context.Context, cmd *cobra.Command, _ *viper.Viper, conn *grpcservice.Conn, _ []string) error {
		ctx, cancel := withTimeout(ctx)
		defer cancel()
		resp, err := conn.SetWatching(ctx, &grpcservice.SetWatchingRequest{Watching: on})
		if err != nil {
			return err
		}
		state := "paused"
		if resp.Watching {
			state = "watching"
		}
		fmt.Fprintf(cmd.OutOrStdout(), "capture %s\n", state)
		return nil
	})
}

func newWatchCmd() *cobra.Command {
	cmd := clientCmd(&cobra.Command{
		Use:   "watch",
		Short: "Stream history events until interrupted",
		Args:  cobra.NoArgs,
	}, runWatch)
	cmd.Flags().Bool("replay", false, "start with the most recent event")
	cmd.Flags().Bool("json", false, "print one JSON object per event")
	return cmd
}

func runWatch(ctx context.Context, cmd *cobra.Command, v *viper.Viper, conn *grpcservice.Conn, _ []string) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt)
	defer stop()

	stream, err := conn.Watch(ctx, &grpcservice.WatchRequest{Replay: v.GetBool("replay")})
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	jsonOut := v.GetBool("json")
	for {
		ev, err := stream.Recv()
		if err != nil {
			if errors.Is(err, io.EOF) || status.Code(err) == codes.Canceled || ctx.Err() != nil {
				return nil
			}
			return err
		}
		if jsonOut {
			if err := writeJSON(out, ev); err != nil {
				return err
			}
			continue
		}
		printEvent(out, ev)
	}
}

func printEvent(out io.Writer, ev *grpcservice.WatchEvent) {
	at := ev.At.Local().Format("15:04:05")
	switch {
	case ev.Item != nil:
		fmt.Fprintf(out, "%s %-8s %s %s\n", at, ev.Kind, ev.Item.ID[:shortID], oneLine(ev.Item.Preview))
	case ev.Removed > 0:
		fmt.Fprintf(out, "%s %-8s %d items\n", at, ev.Kind, ev.Removed)
	default:
		fmt.Fprintf(out, "%s %s\n", at, ev.Kind)
	}
}

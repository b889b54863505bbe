package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"go.klb.dev/clipstash/internal/grpcservice"
	"go.klb.dev/clipstash/internal/imaging"
	"go.klb.dev/clipstash/internal/logging"
	"go.klb.dev/clipstash/internal/model"
)

// shortID is the id prefix printed in listings; any unique prefix is accepted
// back.
const shortID = 8

var pngMagic = []byte("\x89PNG\r\n\x1a\n")

func newListCmd() *cobra.Command {
	cmd := clientCmd(&cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List history items, most recent first",
		Args:    cobra.NoArgs,
	}, runList)
	f := cmd.Flags()
	f.StringP("query", "q", "", "case-insensitive text filter")
	f.IntP("limit", "n", 0, "show at most this many items (0 = all)")
	f.BoolP("fuzzy", "f", false, "rank by fuzzy match instead of substring filter")
	f.Bool("json", false, "output raw JSON")
	return cmd
}

func runList(ctx context.Context, cmd *cobra.Command, v *viper.Viper, conn *grpcservice.Conn, _ []string) error {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	resp, err := conn.List(ctx, &grpcservice.ListRequest{
		Query: v.GetString("query"),
		Limit: v.GetInt("limit"),
		Fuzzy: v.GetBool("fuzzy"),
	})
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	if v.GetBool("json") {
		return writeJSON(out, resp.Items)
	}
	if len(resp.Items) == 0 {
		fmt.Fprintln(out, "No items.")
		return nil
	}

	rows := make([][]string, 0, len(resp.Items))
	for _, it := range resp.Items {
		pin := ""
		if it.Pinned {
			pin = "*"
		}
		rows = append(rows, []string{
			it.ID[:shortID], pin, it.Kind, fmtAge(it.Timestamp), fmtSize(it.Size), oneLine(it.Preview),
		})
	}
	fmt.Fprintln(out, renderTable(
		[]string{"ID", "PIN", "KIND", "CAPTURED", "SIZE", "PREVIEW"},
		rows,
		[]columnAlignment{alignLeft, alignLeft, alignLeft, alignLeft, alignRight, alignLeft},
	))
	return nil
}

func newShowCmd() *cobra.Command {
	cmd := clientCmd(&cobra.Command{
		Use:   "show <id>",
		Short: "Print one item",
		Long: `Prints a text item verbatim. Image items are written as PNG to --output,
or to stdout when it is not a terminal.`,
		Args: cobra.ExactArgs(1),
	}, runShow)
	cmd.Flags().StringP("output", "o", "", "write image items to this file")
	cmd.Flags().Bool("json", false, "output the item as JSON")
	return cmd
}

func runShow(ctx context.Context, cmd *cobra.Command, v *viper.Viper, conn *grpcservice.Conn, args []string) error {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	it, err := conn.Get(ctx, &grpcservice.ItemRequest{ID: args[0]})
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	if v.GetBool("json") {
		return writeJSON(out, it)
	}

	content, err := it.Content()
	if err != nil {
		return err
	}
	switch c := content.(type) {
	case model.Text:
		_, err = io.WriteString(out, string(c))
		return err
	case model.Image:
		data, err := imaging.Encode(c)
		if err != nil {
			return err
		}
		if path := v.GetString("output"); path != "" {
			return os.WriteFile(path, data, 0o600)
		}
		if logging.IsTTY(out) {
			return fmt.Errorf("item %s is a %s image; use --output to save it", it.ID[:shortID], it.Preview)
		}
		_, err = out.Write(data)
		return err
	default:
		return fmt.Errorf("item %s: unsupported content %T", it.ID, content)
	}
}

func newCopyCmd() *cobra.Command {
	cmd := clientCmd(&cobra.Command{
		Use:   "copy",
		Short: "Add stdin to the history (like pbcopy)",
		Long: `Reads stdin and stores it as a new history item. PNG data is stored as an
image, anything else as text. Empty input is ignored.

  clipstash copy < notes.txt
  clipstash copy --mime image/png < screenshot.png`,
		Args: cobra.NoArgs,
	}, runCopy)
	cmd.Flags().String("mime", "auto", "input type: auto|text/plain|image/png")
	return cmd
}

func runCopy(ctx context.Context, cmd *cobra.Command, v *viper.Viper, conn *grpcservice.Conn, _ []string) error {
	data, err := io.ReadAll(cmd.InOrStdin())
	if err != nil {
		return fmt.Errorf("read stdin: %w", err)
	}
	if len(data) == 0 {
		return nil
	}

	var req grpcservice.CaptureRequest
	switch mime := v.GetString("mime"); mime {
	case "image/png":
		req.PNG = data
	case "text/plain":
		text := string(data)
		req.Text = &text
	case "auto", "":
		if bytes.HasPrefix(data, pngMagic) {
			req.PNG = data
		} else {
			text := string(data)
			req.Text = &text
		}
	default:
		return fmt.Errorf("unsupported --mime %q", mime)
	}

	ctx, cancel := withTimeout(ctx)
	defer cancel()
	it, err := conn.Capture(ctx, &req)
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.ErrOrStderr(), it.ID[:shortID])
	return nil
}

func newUseCmd() *cobra.Command {
	cmd := clientCmd(&cobra.Command{
		Use:   "use <id>",
		Short: "Put an item back on the clipboard",
		Long: `Writes the item to the system clipboard. With --inject it is also pasted
into the focused window when a paste utility is available; otherwise it is
left on the clipboard.`,
		Args: cobra.ExactArgs(1),
	}, runUse)
	cmd.Flags().Bool("inject", false, "also paste into the focused window")
	return cmd
}

func runUse(ctx context.Context, cmd *cobra.Command, v *viper.Viper, conn *grpcservice.Conn, args []string) error {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	resp, err := conn.Select(ctx, &grpcservice.SelectRequest{ID: args[0], Inject: v.GetBool("inject")})
	if err != nil {
		return err
	}
	how := "copied"
	if resp.Injected {
		how = "pasted"
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s %s: %s\n", how, resp.Item.ID[:shortID], oneLine(resp.Item.Preview))
	return nil
}

func newPinCmd(pinned bool) *cobra.Command {
	use, short := "pin <id>...", "Pin items so retention and clear keep them"
	if !pinned {
		use, short = "unpin <id>...", "Unpin items"
	}
	return clientCmd(&cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.MinimumNArgs(1),
	}, func(ctx context.Context, cmd *cobra.Command, _ *viper.Viper, conn *grpcservice.Conn, args []string) error {
		ctx, cancel := withTimeout(ctx)
		defer cancel()
		for _, ref := range args {
			it, err := conn.Pin(ctx, &grpcservice.PinRequest{ID: ref, Pinned: &pinned})
			if err != nil {
				return fmt.Errorf("%s: %w", ref, err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s pinned=%t\n", it.ID[:shortID], it.Pinned)
		}
		return nil
	})
}

func newRemoveCmd() *cobra.Command {
	return clientCmd(&cobra.Command{
		Use:     "rm <id>...",
		Aliases: []string{"remove"},
		Short:   "Remove items, pinned or not",
		Args:    cobra.MinimumNArgs(1),
	}, func(ctx context.Context, _ *cobra.Command, _ *viper.Viper, conn *grpcservice.Conn, args []string) error {
		ctx, cancel := withTimeout(ctx)
		defer cancel()
		for _, ref := range args {
			if _, err := conn.Remove(ctx, &grpcservice.ItemRequest{ID: ref}); err != nil {
				return fmt.Errorf("%s: %w", ref, err)
			}
		}
		return nil
	})
}

func newClearCmd() *cobra.Command {
	return clientCmd(&cobra.Command{
		Use:   "clear",
		Short: "Remove every unpinned item",
		Args:  cobra.NoArgs,
	}, func(ctx context.Context, cmd *cobra.Command, _ *viper.Viper, conn *grpcservice.Conn, _ []string) error {
		ctx, cancel := withTimeout(ctx)
		defer cancel()
		resp, err := conn.Clear(ctx, &grpcservice.Empty{})
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "removed %d items\n", resp.Removed)
		return nil
	})
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func oneLine(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func fmtSize(n int) string {
	switch {
	case n < 1<<10:
		return fmt.Sprintf("%d B", n)
	case n < 1<<20:
		return fmt.Sprintf("%.1f KiB", float64(n)/(1<<10))
	default:
		return fmt.Sprintf("%.1f MiB", float64(n)/(1<<20))
	}
}

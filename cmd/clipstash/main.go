// clipstash: clipboard history daemon and CLI.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Version is set at build time via -ldflags "-X main.Version=x.y.z".
var Version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "clipstash",
		Short: "Clipboard history manager",
		Long: `clipstash records every distinct text or image that lands on the system
clipboard in a local history, so earlier entries can be searched, pinned and
put back on the clipboard.

Run "clipstash daemon" once per session. The other commands talk to it over
a local socket, or over TCP with --addr.

Config file search order (first found wins):
  /etc/clipstash/clipstash.toml
  $HOME/.config/clipstash/clipstash.toml
  path supplied via --config

All flags can be set via CLIPSTASH_<FLAG> env vars or config-file keys.`,
		SilenceUsage: true,
	}

	root.AddCommand(
		newDaemonCmd(),
		newListCmd(),
		newShowCmd(),
		newCopyCmd(),
		newUseCmd(),
		newPinCmd(true),
		newPinCmd(false),
		newRemoveCmd(),
		newClearCmd(),
		newWatchingCmd(false),
		newWatchingCmd(true),
		newStatusCmd(),
		newWatchCmd(),
		newConfigCmd(),
		newVersionCmd(),
	)
	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "clipstash %s\n", Version)
		},
	}
}

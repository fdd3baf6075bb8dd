// Package cli implements the smallrender command-line surface: a
// spf13/cobra root command carrying the node daemon's start/stop lifecycle,
// the single-shot submit path, and the node/config inspection subcommands,
// structured the way cmd/warren/main.go lays out its own command tree.
package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/smallrender/core/pkg/log"
)

// Version, Commit, and BuildTime are set by cmd/smallrender's ldflags and
// threaded into the root command's version template.
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

// NewRootCommand builds the smallrender command tree.
func NewRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:   "smallrender",
		Short: "SmallRender - filesystem-coordinated render farm",
		Long: `SmallRender coordinates render nodes over a shared, synchronized
filesystem (SMB, NAS, or a cloud-sync folder) instead of a central database
or broker. Every node runs the same binary; one elects itself coordinator
and dispatches chunks to idle peers by writing and watching files.`,
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			minimized, _ := cmd.Flags().GetBool("minimized")
			level := log.InfoLevel
			if v, _ := cmd.Flags().GetBool("debug"); v {
				level = log.DebugLevel
			}
			log.Init(log.Config{Level: level, JSONOutput: minimized})
			return nil
		},
	}

	root.PersistentFlags().Bool("minimized", false, "start hidden, with JSON-formatted logs, no console banner")
	root.PersistentFlags().Bool("debug", false, "enable debug-level logging")
	root.SetVersionTemplate(fmt.Sprintf(
		"smallrender version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))

	root.AddCommand(newStartCmd())
	root.AddCommand(newSubmitCmd())
	root.AddCommand(newNodeCmd())
	root.AddCommand(newConfigCmd())

	return root
}

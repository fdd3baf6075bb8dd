package cli

import (
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/spf13/cobra"

	"github.com/smallrender/core/pkg/atomicstore"
	"github.com/smallrender/core/pkg/config"
	"github.com/smallrender/core/pkg/heartbeat"
	"github.com/smallrender/core/pkg/layout"
	"github.com/smallrender/core/pkg/nodeid"
)

func newNodeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "node",
		Short: "Inspect and tag nodes",
	}
	cmd.AddCommand(newNodeInfoCmd())
	cmd.AddCommand(newNodeTagCmd())
	return cmd
}

func newNodeInfoCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "info",
		Short: "List every node's last-known heartbeat in the configured farm",
		RunE: func(cmd *cobra.Command, args []string) error {
			appDir, cfg, err := loadLocalConfig()
			if err != nil {
				return err
			}
			if err := requireSyncRoot(cfg); err != nil {
				return err
			}
			self, err := selfNodeID(appDir)
			if err != nil {
				return err
			}

			entries, err := os.ReadDir(layout.NodesDir(cfg.SyncRoot))
			if err != nil {
				if os.IsNotExist(err) {
					fmt.Println("no nodes have reported to this farm yet")
					return nil
				}
				return err
			}

			var ids []string
			for _, e := range entries {
				if e.IsDir() {
					ids = append(ids, e.Name())
				}
			}
			sort.Strings(ids)

			now := time.Now()
			for _, id := range ids {
				var hb heartbeat.Heartbeat
				ok, err := atomicstore.ReadJSON(layout.HeartbeatFile(cfg.SyncRoot, id), &hb)
				if err != nil || !ok {
					fmt.Printf("%s  (no readable heartbeat)\n", id)
					continue
				}
				age := now.Sub(time.UnixMilli(hb.TimestampMS)).Round(time.Second)
				role := "worker"
				if hb.IsCoordinator {
					role = "coordinator"
				}
				marker := ""
				if id == self {
					marker = " (this node)"
				}
				fmt.Printf("%-14s %-11s %-10s %-9s seq=%-6d age=%-8s tags=%v%s\n",
					id, role, hb.NodeState, hb.RenderState, hb.Seq, age, hb.Tags, marker)
			}
			return nil
		},
	}
}

func newNodeTagCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tag",
		Short: "Add or remove a tag from this node's local configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			add, _ := cmd.Flags().GetString("add")
			remove, _ := cmd.Flags().GetString("remove")
			if add == "" && remove == "" {
				return fmt.Errorf("one of --add or --remove is required")
			}

			appDir, cfg, err := loadLocalConfig()
			if err != nil {
				return err
			}
			if add != "" {
				cfg = cfg.WithTag(add)
			}
			if remove != "" {
				cfg = cfg.WithoutTag(remove)
			}
			if err := config.Save(config.ConfigFile(appDir), cfg); err != nil {
				return err
			}
			fmt.Printf("tags: %v\n", cfg.Tags)
			return nil
		},
	}
	cmd.Flags().String("add", "", "tag to add")
	cmd.Flags().String("remove", "", "tag to remove")
	return cmd
}

// selfNodeID resolves this host's persisted node id without starting a
// daemon, used by commands that only need to identify this machine.
func selfNodeID(appDir string) (string, error) {
	return nodeid.LoadOrCreate(config.NodeIDFile(appDir))
}

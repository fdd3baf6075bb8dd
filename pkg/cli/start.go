package cli

import (
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/smallrender/core/pkg/config"
	"github.com/smallrender/core/pkg/log"
	"github.com/smallrender/core/pkg/node"
)

func newStartCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "start",
		Short: "Run this node's daemon (heartbeat, dispatch, render supervisor)",
		RunE: func(cmd *cobra.Command, args []string) error {
			syncRoot, _ := cmd.Flags().GetString("sync-root")
			agentBin, _ := cmd.Flags().GetString("agent-bin")
			coordinator, _ := cmd.Flags().GetBool("coordinator")

			appDir, cfg, err := loadLocalConfig()
			if err != nil {
				return err
			}

			if syncRoot != "" {
				cfg.SyncRoot = syncRoot
			}
			if cmd.Flags().Changed("coordinator") {
				cfg.IsCoordinator = coordinator
			}
			if err := requireSyncRoot(cfg); err != nil {
				return err
			}
			if err := config.Save(config.ConfigFile(appDir), cfg); err != nil {
				return fmt.Errorf("persist config: %w", err)
			}

			if agentBin == "" {
				agentBin = defaultAgentBin()
			}

			d, err := node.New(cfg, appDir, agentBin)
			if err != nil {
				return fmt.Errorf("initialize node: %w", err)
			}
			if err := d.Start(); err != nil {
				return fmt.Errorf("start node: %w", err)
			}

			log.WithComponent("cli").Info().Str("node_id", d.SelfID()).Str("sync_root", cfg.SyncRoot).
				Msg("node started, press Ctrl+C to stop")

			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
			<-sigCh

			log.WithComponent("cli").Info().Msg("shutting down")
			d.Stop()
			return nil
		},
	}

	cmd.Flags().String("sync-root", "", "path to the shared farm directory (persisted to config.json)")
	cmd.Flags().String("agent-bin", "", "path to the renderer-agent binary this node's supervisor spawns per chunk")
	cmd.Flags().Bool("coordinator", false, "run this node as the coordinator (persisted to config.json)")
	return cmd
}

// defaultAgentBin assumes the agent binary sits alongside this one, named
// smallrender-agent(.exe).
func defaultAgentBin() string {
	self, err := os.Executable()
	if err != nil {
		return "smallrender-agent"
	}
	name := "smallrender-agent"
	if filepath.Ext(self) == ".exe" {
		name += ".exe"
	}
	return filepath.Join(filepath.Dir(self), name)
}

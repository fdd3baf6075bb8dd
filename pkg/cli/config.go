package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/smallrender/core/pkg/config"
)

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect or patch this node's local configuration",
	}
	cmd.AddCommand(newConfigApplyCmd())
	cmd.AddCommand(newConfigShowCmd())
	return cmd
}

func newConfigApplyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "apply",
		Short: "Patch this node's local config.json from a YAML overlay",
		RunE: func(cmd *cobra.Command, args []string) error {
			path, _ := cmd.Flags().GetString("file")
			if path == "" {
				return fmt.Errorf("-f/--file is required")
			}

			appDir, cfg, err := loadLocalConfig()
			if err != nil {
				return err
			}

			overlay, err := config.LoadOverlay(path)
			if err != nil {
				return err
			}
			cfg = config.Apply(cfg, overlay)

			if err := config.Save(config.ConfigFile(appDir), cfg); err != nil {
				return err
			}
			fmt.Println("config updated")
			return nil
		},
	}
	cmd.Flags().StringP("file", "f", "", "path to a YAML overlay file")
	return cmd
}

func newConfigShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Print this node's effective local configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, cfg, err := loadLocalConfig()
			if err != nil {
				return err
			}
			fmt.Printf("sync_root:       %s\n", cfg.SyncRoot)
			fmt.Printf("is_coordinator:  %v\n", cfg.IsCoordinator)
			fmt.Printf("tags:            %v\n", cfg.Tags)
			fmt.Printf("timing_preset:   %d\n", cfg.TimingPreset)
			fmt.Printf("udp_enabled:     %v (group=%s port=%d)\n", cfg.UDPEnabled, cfg.UDPGroup, cfg.UDPPort)
			if cfg.FarmError != "" {
				fmt.Printf("farm_error:      %s\n", cfg.FarmError)
			}
			return nil
		},
	}
}

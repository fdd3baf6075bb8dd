package cli

import (
	"fmt"

	"github.com/smallrender/core/pkg/config"
)

// loadLocalConfig resolves the local app-data directory and this node's
// persisted configuration, the same pair every subcommand needs before it
// can touch a farm root.
func loadLocalConfig() (appDir string, cfg config.Config, err error) {
	appDir, err = config.LocalAppDataDir()
	if err != nil {
		return "", config.Config{}, err
	}
	cfg, err = config.Load(config.ConfigFile(appDir))
	if err != nil {
		return "", config.Config{}, err
	}
	return appDir, cfg, nil
}

func requireSyncRoot(cfg config.Config) error {
	if cfg.SyncRoot == "" {
		return fmt.Errorf("no sync root configured, run `smallrender config apply -f <overlay.yaml>` or edit config.json first")
	}
	return nil
}

package cli

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/smallrender/core/pkg/config"
	"github.com/stretchr/testify/require"
)

func TestConfigApplyOverlay(t *testing.T) {
	withHome(t)

	overlayPath := filepath.Join(t.TempDir(), "overlay.yaml")
	require.NoError(t, os.WriteFile(overlayPath, []byte("syncRoot: /mnt/farm\ntags: [\"gpu\", \"linux\"]\nisCoordinator: true\n"), 0o644))

	cmd := newConfigApplyCmd()
	require.NoError(t, cmd.Flags().Set("file", overlayPath))
	require.NoError(t, cmd.RunE(cmd, nil))

	appDir, err := config.LocalAppDataDir()
	require.NoError(t, err)
	cfg, err := config.Load(config.ConfigFile(appDir))
	require.NoError(t, err)

	require.Equal(t, "/mnt/farm", cfg.SyncRoot)
	require.True(t, cfg.IsCoordinator)
	require.ElementsMatch(t, []string{"gpu", "linux"}, cfg.Tags)
}

func TestNodeTagAddAndRemove(t *testing.T) {
	withHome(t)

	add := newNodeTagCmd()
	require.NoError(t, add.Flags().Set("add", "fast"))
	require.NoError(t, add.RunE(add, nil))

	appDir, err := config.LocalAppDataDir()
	require.NoError(t, err)
	cfg, err := config.Load(config.ConfigFile(appDir))
	require.NoError(t, err)
	require.True(t, cfg.HasTag("fast"))

	remove := newNodeTagCmd()
	require.NoError(t, remove.Flags().Set("remove", "fast"))
	require.NoError(t, remove.RunE(remove, nil))

	cfg, err = config.Load(config.ConfigFile(appDir))
	require.NoError(t, err)
	require.False(t, cfg.HasTag("fast"))
}

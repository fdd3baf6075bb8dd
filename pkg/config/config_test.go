package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadMissingReturnsDefault(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "config.json"))
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestSaveLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	cfg := Default().WithTag("gpu")
	cfg.IsCoordinator = true

	require.NoError(t, Save(path, cfg))

	got, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, cfg, got)
}

func TestTimingPresets(t *testing.T) {
	assert.Equal(t, Timing{5000, 3000, 3000, 3}, Resolve(TimingLocalNAS, Timing{}))
	assert.Equal(t, Timing{10000, 5000, 5000, 4}, Resolve(TimingCloud, Timing{}))

	custom := Timing{BeatIntervalMS: 1000, ScanIntervalMS: 500, CommandPollMS: 500, DeadThresholdScans: 2}
	assert.Equal(t, custom, Resolve(TimingCustom, custom))
}

func TestTagHelpers(t *testing.T) {
	cfg := Default()
	assert.False(t, cfg.HasTag("gpu"))

	cfg = cfg.WithTag("gpu").WithTag("gpu")
	assert.Equal(t, []string{"gpu"}, cfg.Tags)

	cfg = cfg.WithoutTag("gpu")
	assert.False(t, cfg.HasTag("gpu"))
}

func TestOverlayApply(t *testing.T) {
	path := filepath.Join(t.TempDir(), "overlay.yaml")
	require.NoError(t, os.WriteFile(path, []byte("tags: [gpu, heavy]\nisCoordinator: true\ntimingPreset: cloud\n"), 0o644))

	overlay, err := LoadOverlay(path)
	require.NoError(t, err)

	cfg := Apply(Default(), overlay)
	assert.Equal(t, []string{"gpu", "heavy"}, cfg.Tags)
	assert.True(t, cfg.IsCoordinator)
	assert.Equal(t, TimingCloud, cfg.TimingPreset)
	assert.Equal(t, 10000, cfg.Timing.BeatIntervalMS)
}

func TestOverlayApplySyncRoot(t *testing.T) {
	path := filepath.Join(t.TempDir(), "overlay.yaml")
	require.NoError(t, os.WriteFile(path, []byte("syncRoot: /mnt/farm\n"), 0o644))

	overlay, err := LoadOverlay(path)
	require.NoError(t, err)

	cfg := Apply(Default(), overlay)
	assert.Equal(t, "/mnt/farm", cfg.SyncRoot)
}

func TestLocalAppDataDirCreatesDirUnderHome(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)

	dir, err := LocalAppDataDir()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(home, ".smallrender"), dir)

	info, err := os.Stat(dir)
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}

func TestAppDataFilePaths(t *testing.T) {
	dir := "/fake/appdata"
	assert.Equal(t, "/fake/appdata/config.json", ConfigFile(dir))
	assert.Equal(t, "/fake/appdata/node_id", NodeIDFile(dir))
	assert.Equal(t, "/fake/appdata/submit_request.json", SubmitRequestFile(dir))
}

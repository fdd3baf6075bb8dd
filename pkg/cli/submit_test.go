package cli

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/smallrender/core/pkg/config"
	"github.com/smallrender/core/pkg/layout"
	"github.com/stretchr/testify/require"
)

func withHome(t *testing.T) string {
	t.Helper()
	home := t.TempDir()
	t.Setenv("HOME", home)
	return home
}

func writeSubmissionFile(t *testing.T, dir, templateID string) string {
	t.Helper()
	path := filepath.Join(dir, "job.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"template_id":"`+templateID+`","frame_start":1,"frame_end":50}`), 0o644))
	return path
}

func TestRunSubmitDirectWhenNoDaemonRunning(t *testing.T) {
	home := withHome(t)
	syncRoot := t.TempDir()

	appDir, err := config.LocalAppDataDir()
	require.NoError(t, err)
	require.Equal(t, filepath.Join(home, ".smallrender"), appDir)

	cfg := config.Default()
	cfg.SyncRoot = syncRoot
	require.NoError(t, config.Save(config.ConfigFile(appDir), cfg))

	require.NoError(t, os.MkdirAll(layout.SubmissionsDir(syncRoot), 0o755))

	file := writeSubmissionFile(t, t.TempDir(), "my-template")
	require.NoError(t, runSubmit(file, ""))

	entries, err := os.ReadDir(layout.SubmissionsDir(syncRoot))
	require.NoError(t, err)
	require.Len(t, entries, 1)
}

func TestRunSubmitRequiresTemplateID(t *testing.T) {
	withHome(t)
	file := writeSubmissionFile(t, t.TempDir(), "")
	err := runSubmit(file, "")
	require.Error(t, err)
}

func TestRunSubmitTemplateOverride(t *testing.T) {
	home := withHome(t)
	syncRoot := t.TempDir()

	appDir, err := config.LocalAppDataDir()
	require.NoError(t, err)
	_ = home

	cfg := config.Default()
	cfg.SyncRoot = syncRoot
	require.NoError(t, config.Save(config.ConfigFile(appDir), cfg))
	require.NoError(t, os.MkdirAll(layout.SubmissionsDir(syncRoot), 0o755))

	file := writeSubmissionFile(t, t.TempDir(), "")
	require.NoError(t, runSubmit(file, "override-template"))

	entries, err := os.ReadDir(layout.SubmissionsDir(syncRoot))
	require.NoError(t, err)
	require.Len(t, entries, 1)
}

package monitorlog

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/smallrender/core/pkg/layout"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordAndSnapshot(t *testing.T) {
	root := t.TempDir()
	m := New(root, "abcd1234ef56", 3)
	defer m.Close()

	m.Info("heartbeat", "beat 1")
	m.Warn("dispatch", "chunk stale")
	m.Error("command-channel", "bad msg")
	m.Info("heartbeat", "beat 2") // evicts the oldest entry

	snap := m.Snapshot()
	require.Len(t, snap, 3)
	assert.Equal(t, "chunk stale", snap[0].Message)
	assert.Equal(t, "beat 2", snap[2].Message)
}

func TestWritesDailyLogFile(t *testing.T) {
	root := t.TempDir()
	m := New(root, "abcd1234ef56", 10)
	m.Info("bootstrap", "farm initialized")
	require.NoError(t, m.Close())

	entries, err := os.ReadDir(layout.NodeDir(root, "abcd1234ef56"))
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Contains(t, entries[0].Name(), "monitor-")

	data, err := os.ReadFile(filepath.Join(layout.NodeDir(root, "abcd1234ef56"), entries[0].Name()))
	require.NoError(t, err)
	assert.Contains(t, string(data), "farm initialized")
}

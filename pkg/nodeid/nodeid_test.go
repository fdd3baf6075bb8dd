package nodeid

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadOrCreateGeneratesStableID(t *testing.T) {
	path := filepath.Join(t.TempDir(), "node_id.txt")

	id1, err := LoadOrCreate(path)
	require.NoError(t, err)
	assert.Len(t, id1, 12)
	assert.True(t, isValidID(id1))

	id2, err := LoadOrCreate(path)
	require.NoError(t, err)
	assert.Equal(t, id1, id2, "a second call must reuse the persisted id")
}

func TestLoadOrCreateRegeneratesOnCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "node_id.txt")
	require.NoError(t, os.WriteFile(path, []byte("not-hex!!"), 0o644))

	id, err := LoadOrCreate(path)
	require.NoError(t, err)
	assert.True(t, isValidID(id))
}

func TestQueryInfoPopulatesFields(t *testing.T) {
	info := QueryInfo("1.0.0")
	assert.NotEmpty(t, info.Hostname)
	assert.Greater(t, info.CPUCores, 0)
	assert.NotEmpty(t, info.OS)
	assert.Equal(t, "1.0.0", info.AppVersion)
	assert.False(t, info.GPUDetected)
	assert.Empty(t, info.GPUName)
}

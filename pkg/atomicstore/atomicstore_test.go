package atomicstore

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sample struct {
	Seq int    `json:"seq"`
	Msg string `json:"msg"`
}

func TestWriteReadJSONRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "record.json")

	err := WriteJSON(path, sample{Seq: 3, Msg: "hello"})
	require.NoError(t, err)

	var got sample
	ok, err := ReadJSON(path, &got)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, sample{Seq: 3, Msg: "hello"}, got)

	// the temp file must never survive a successful write
	assert.False(t, Exists(path+".tmp"))
}

func TestReadJSONAbsent(t *testing.T) {
	var got sample
	ok, err := ReadJSON(filepath.Join(t.TempDir(), "missing.json"), &got)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestReadJSONCorruptIsAbsent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "corrupt.json")
	require.NoError(t, WriteText(path, "{not valid json"))

	var got sample
	ok, err := ReadJSON(path, &got)
	require.NoError(t, err)
	assert.False(t, ok, "a file that fails to parse must look absent, not error")
}

func TestWriteJSONOverwritesAtomically(t *testing.T) {
	path := filepath.Join(t.TempDir(), "record.json")
	require.NoError(t, WriteJSON(path, sample{Seq: 1}))
	require.NoError(t, WriteJSON(path, sample{Seq: 2}))

	var got sample
	ok, err := ReadJSON(path, &got)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 2, got.Seq)
}

func TestRequireDirectory(t *testing.T) {
	dir := t.TempDir()
	assert.NoError(t, RequireDirectory(dir))
	assert.NoError(t, RequireDirectory(filepath.Join(dir, "does-not-exist-yet")))

	file := filepath.Join(dir, "a-file")
	require.NoError(t, WriteText(file, "x"))
	assert.ErrorIs(t, RequireDirectory(file), ErrNotDirectory)
}

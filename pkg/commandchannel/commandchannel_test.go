package commandchannel

import (
	"os"
	"strconv"
	"testing"
	"time"

	"github.com/smallrender/core/pkg/layout"
	"github.com/smallrender/core/pkg/localdb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestDB(t *testing.T) *localdb.DB {
	t.Helper()
	db, err := localdb.Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestSendWritesCommandUnderTargetInbox(t *testing.T) {
	root := t.TempDir()

	require.NoError(t, Send(root, "nodea", "nodeb", TypeAssignChunk, "job-1", "", 1, 24, nil))

	entries, err := os.ReadDir(layout.CommandInboxDir(root, "nodeb"))
	require.NoError(t, err)
	require.Len(t, entries, 1)
}

func TestDrainParsesAndArchivesCommands(t *testing.T) {
	root := t.TempDir()
	db := openTestDB(t)

	require.NoError(t, Send(root, "nodea", "nodeb", TypeStopJob, "job-1", "operator stop", 0, 0, nil))

	ch := New(root, "nodeb", db, nil, 10)
	ch.Drain()

	select {
	case a := <-ch.Actions():
		assert.Equal(t, TypeStopJob, a.Type)
		assert.Equal(t, "job-1", a.JobID)
	default:
		t.Fatal("expected one action on the queue")
	}

	pending, err := os.ReadDir(layout.CommandInboxDir(root, "nodeb"))
	require.NoError(t, err)
	assert.Empty(t, pending, "consumed command must be moved out of the pending inbox")

	processed, err := os.ReadDir(layout.CommandProcessedDir(root, "nodeb"))
	require.NoError(t, err)
	assert.Len(t, processed, 1)
}

func TestDrainDedupesRepeatedMsgID(t *testing.T) {
	root := t.TempDir()
	db := openTestDB(t)

	require.NoError(t, Send(root, "nodea", "nodeb", TypeAbortChunk, "job-1", "", 0, 0, nil))

	ch := New(root, "nodeb", db, nil, 10)
	ch.Drain()
	require.Len(t, ch.queue, 1)
	<-ch.queue // drain it so the channel is empty again

	// Re-deliver the exact same file back into the inbox under its original
	// name, simulating a sync-layer retry that redelivers an already-consumed
	// command.
	entries, err := os.ReadDir(layout.CommandProcessedDir(root, "nodeb"))
	require.NoError(t, err)
	require.Len(t, entries, 1)
	data, err := os.ReadFile(layout.CommandProcessedDir(root, "nodeb") + "/" + entries[0].Name())
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(layout.CommandInboxDir(root, "nodeb")+"/"+entries[0].Name(), data, 0o644))

	ch.Drain()
	assert.Empty(t, ch.queue, "a redelivered duplicate msg_id must not be re-queued")
}

func TestDrainDropsUnparseableCommand(t *testing.T) {
	root := t.TempDir()
	db := openTestDB(t)

	inbox := layout.CommandInboxDir(root, "nodeb")
	require.NoError(t, os.MkdirAll(inbox, 0o755))
	require.NoError(t, os.WriteFile(inbox+"/1.json", []byte("{not json"), 0o644))

	ch := New(root, "nodeb", db, nil, 10)
	ch.Drain()

	assert.Empty(t, ch.queue)
	remaining, err := os.ReadDir(inbox)
	require.NoError(t, err)
	assert.Empty(t, remaining, "unparseable command must be removed, not left to reprocess forever")
}

func TestPurgeProcessedRemovesOldEntries(t *testing.T) {
	root := t.TempDir()
	db := openTestDB(t)

	old := time.Now().Add(-48 * time.Hour)
	oldMsgID := formatMsgIDForTest(old, "nodea")
	processedDir := layout.CommandProcessedDir(root, "nodeb")
	require.NoError(t, os.MkdirAll(processedDir, 0o755))
	require.NoError(t, os.WriteFile(processedDir+"/"+oldMsgID+".json", []byte(`{}`), 0o644))

	ch := New(root, "nodeb", db, nil, 10)
	ch.purgeProcessed(time.Now())

	remaining, err := os.ReadDir(processedDir)
	require.NoError(t, err)
	assert.Empty(t, remaining)
}

func formatMsgIDForTest(t time.Time, from string) string {
	return strconv.FormatInt(t.UnixMilli(), 10) + "." + from
}

package localdb

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestSeenCommandDedup(t *testing.T) {
	db := openTestDB(t)
	now := time.Now()

	seen, err := db.SeenCommand("msg-1", now)
	require.NoError(t, err)
	assert.False(t, seen)

	seen, err = db.SeenCommand("msg-1", now.Add(time.Second))
	require.NoError(t, err)
	assert.True(t, seen, "same msg_id seen again must be reported as a dup")
}

func TestPruneCommandDedupRemovesOldEntries(t *testing.T) {
	db := openTestDB(t)
	base := time.Now()

	_, err := db.SeenCommand("old", base.Add(-2*time.Hour))
	require.NoError(t, err)
	_, err = db.SeenCommand("fresh", base)
	require.NoError(t, err)

	require.NoError(t, db.PruneCommandDedup(base.Add(-time.Minute)))

	seen, err := db.SeenCommand("old", base)
	require.NoError(t, err)
	assert.False(t, seen, "pruned entry must no longer dedup")

	seen, err = db.SeenCommand("fresh", base)
	require.NoError(t, err)
	assert.True(t, seen, "entry within the window must still dedup")
}

func TestSubmissionRetryCounter(t *testing.T) {
	db := openTestDB(t)

	count, err := db.SubmissionRetryCount("shot_010.blend")
	require.NoError(t, err)
	assert.Equal(t, 0, count)

	for i := 1; i <= 3; i++ {
		next, err := db.IncrementSubmissionRetry("shot_010.blend")
		require.NoError(t, err)
		assert.Equal(t, i, next)
	}

	require.NoError(t, db.ClearSubmissionRetry("shot_010.blend"))
	count, err = db.SubmissionRetryCount("shot_010.blend")
	require.NoError(t, err)
	assert.Equal(t, 0, count)
}

func TestRendezvousSingleOwner(t *testing.T) {
	db := openTestDB(t)
	now := time.Now()

	acquired, err := db.TryAcquireRendezvous("smallrender-agent", "pid-111", now)
	require.NoError(t, err)
	assert.True(t, acquired)

	acquired, err = db.TryAcquireRendezvous("smallrender-agent", "pid-222", now)
	require.NoError(t, err)
	assert.False(t, acquired, "a second owner must not acquire while the lock is held")

	require.NoError(t, db.ReleaseRendezvous("smallrender-agent"))

	acquired, err = db.TryAcquireRendezvous("smallrender-agent", "pid-222", now)
	require.NoError(t, err)
	assert.True(t, acquired, "lock must be acquirable again after release")
}

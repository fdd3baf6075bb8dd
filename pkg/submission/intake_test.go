package submission

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/smallrender/core/pkg/jobstore"
	"github.com/smallrender/core/pkg/layout"
	"github.com/smallrender/core/pkg/localdb"
	"github.com/smallrender/core/pkg/template"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeSubmission(t *testing.T, root, name string, sub Submission) {
	t.Helper()
	dir := layout.SubmissionsDir(root)
	require.NoError(t, os.MkdirAll(dir, 0o755))
	data, err := json.Marshal(sub)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), data, 0o644))
}

func testTemplates() TemplateLookup {
	tpl := template.Template{
		ID:             "blender-cycles",
		CmdPerOS:       map[string]string{"linux": "/usr/bin/blender"},
		Flags:          []template.Flag{{ID: "scene", Kind: template.FlagKindFile, Required: true}},
		ChunkSize:      10,
		MaxRetries:     3,
		TimeoutSeconds: 600,
	}
	return func(id string) (template.Template, bool) {
		if id == tpl.ID {
			return tpl, true
		}
		return template.Template{}, false
	}
}

func openTestDB(t *testing.T) *localdb.DB {
	t.Helper()
	db, err := localdb.Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestDrainOnceSubmitsJobAndArchives(t *testing.T) {
	root := t.TempDir()
	db := openTestDB(t)
	jobs := jobstore.New(root)

	writeSubmission(t, root, "1.sub.json", Submission{
		TemplateID: "blender-cycles",
		FlagOverrides: map[string]string{"scene": "/projects/demo/scene.blend"},
		FrameStart: 1, FrameEnd: 100, Priority: 3,
	})

	in := New(root, db, jobs, testTemplates())
	in.DrainOnce()

	jobs.Scan()
	snap := jobs.Snapshot()
	require.Len(t, snap, 1)
	assert.Equal(t, 3, snap[0].CurrentPriority)

	pending, err := os.ReadDir(layout.SubmissionsDir(root))
	require.NoError(t, err)
	for _, e := range pending {
		assert.NotEqual(t, "1.sub.json", e.Name())
	}

	processed, err := os.ReadDir(layout.SubmissionsProcessedDir(root))
	require.NoError(t, err)
	assert.Len(t, processed, 1)
}

func TestDrainOnceArchivesUnknownTemplate(t *testing.T) {
	root := t.TempDir()
	db := openTestDB(t)
	jobs := jobstore.New(root)

	writeSubmission(t, root, "1.sub.json", Submission{TemplateID: "no-such-template", FrameStart: 1, FrameEnd: 10})

	in := New(root, db, jobs, testTemplates())
	in.DrainOnce()

	jobs.Scan()
	assert.Empty(t, jobs.Snapshot())

	processed, err := os.ReadDir(layout.SubmissionsProcessedDir(root))
	require.NoError(t, err)
	assert.Len(t, processed, 1, "even a rejected submission must be archived, never left to retry forever")
}

func TestDrainOnceGivesUpAfterMaxRetriesOnMissingFile(t *testing.T) {
	root := t.TempDir()
	db := openTestDB(t)
	jobs := jobstore.New(root)

	require.NoError(t, os.MkdirAll(layout.SubmissionsDir(root), 0o755))
	for i := 0; i < maxRetries-1; i++ {
		_, err := db.IncrementSubmissionRetry("ghost.json")
		require.NoError(t, err)
	}

	in := New(root, db, jobs, testTemplates())
	// processOne only runs on files that exist in the directory listing, so
	// simulate the retry-exhaustion path directly against a file that
	// disappears between listing and read by exercising processOne with a
	// name that was never written.
	in.processOne(layout.SubmissionsDir(root), "ghost.json")

	remaining, err := db.SubmissionRetryCount("ghost.json")
	require.NoError(t, err)
	assert.Equal(t, 0, remaining, "retry counter must be cleared once the submission is given up on")
}

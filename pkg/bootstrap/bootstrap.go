// Package bootstrap implements the Farm Bootstrap component (spec §4.10):
// creating the shared farm-root layout on first use, re-syncing the
// bundled example templates when the running binary's version changes, and
// ensuring this node's own subdirectories always exist.
package bootstrap

import (
	"embed"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/smallrender/core/pkg/atomicstore"
	"github.com/smallrender/core/pkg/layout"
	"github.com/smallrender/core/pkg/log"
)

// CurrentProtocolVersion is the on-disk protocol version this build writes
// to farm.json and to every heartbeat. A future incompatible change to the
// wire/record formats in spec §3 bumps this.
const CurrentProtocolVersion = 1

//go:embed examples/*.json
var bundledExamples embed.FS

// Marker is the one-time farm.json record written on first bootstrap and
// read thereafter to decide whether bundled examples need re-syncing.
type Marker struct {
	ProtocolVersion   int    `json:"protocol_version"`
	Creator           string `json:"creator"`
	CreatedAtMS       int64  `json:"created_at_ms"`
	LastExampleUpdate string `json:"last_example_update"`
}

// Result reports what Init actually did, useful for startup logging.
type Result struct {
	Created          bool // farm root did not exist before this call
	ExamplesResynced bool
}

// Init ensures the farm root under syncRoot exists with its full subtree,
// that this node's own directories exist, and that bundled example
// templates are present and current for appVersion. nowMS is the caller's
// current wall-clock time in epoch milliseconds, read from this node's own
// clock (no distributed clock is ever consulted here).
func Init(syncRoot, nodeID, appVersion string, nowMS int64) (Result, error) {
	logger := log.WithComponent("bootstrap")

	info, err := os.Stat(syncRoot)
	if err != nil {
		return Result{}, fmt.Errorf("sync root %q is not usable: %w", syncRoot, err)
	}
	if !info.IsDir() {
		return Result{}, fmt.Errorf("sync root %q is not a directory", syncRoot)
	}

	var res Result

	markerPath := layout.FarmMarkerFile(syncRoot)
	var marker Marker
	present, err := atomicstore.ReadJSON(markerPath, &marker)
	if err != nil {
		return Result{}, fmt.Errorf("read farm marker: %w", err)
	}

	if !present {
		res.Created = true
		if err := createSubtree(syncRoot); err != nil {
			return res, fmt.Errorf("create farm subtree: %w", err)
		}
		marker = Marker{
			ProtocolVersion:   CurrentProtocolVersion,
			Creator:           nodeID,
			CreatedAtMS:       nowMS,
			LastExampleUpdate: "",
		}
	}

	if marker.LastExampleUpdate != appVersion {
		if err := syncExamples(syncRoot); err != nil {
			return res, fmt.Errorf("sync example templates: %w", err)
		}
		marker.LastExampleUpdate = appVersion
		res.ExamplesResynced = true
		if err := atomicstore.WriteJSON(markerPath, marker); err != nil {
			return res, fmt.Errorf("write farm marker: %w", err)
		}
	} else if res.Created {
		if err := atomicstore.WriteJSON(markerPath, marker); err != nil {
			return res, fmt.Errorf("write farm marker: %w", err)
		}
	}

	if err := ensureNodeDirs(syncRoot, nodeID); err != nil {
		return res, fmt.Errorf("ensure node dirs: %w", err)
	}

	logger.Info().Bool("created", res.Created).Bool("examples_resynced", res.ExamplesResynced).
		Str("sync_root", syncRoot).Msg("farm bootstrap complete")
	return res, nil
}

func createSubtree(syncRoot string) error {
	dirs := []string{
		layout.Root(syncRoot),
		layout.NodesDir(syncRoot),
		layout.CommandsDir(syncRoot),
		layout.JobsDir(syncRoot),
		layout.SubmissionsDir(syncRoot),
		layout.SubmissionsProcessedDir(syncRoot),
		layout.TemplatesExamplesDir(syncRoot),
	}
	for _, d := range dirs {
		if err := os.MkdirAll(d, 0o755); err != nil {
			return err
		}
	}
	return nil
}

// ensureNodeDirs guarantees this node's own heartbeat directory and
// command inbox (with its processed/ archive) exist, independent of
// whether the farm root itself was just created.
func ensureNodeDirs(syncRoot, nodeID string) error {
	dirs := []string{
		layout.NodeDir(syncRoot, nodeID),
		layout.CommandInboxDir(syncRoot, nodeID),
		layout.CommandProcessedDir(syncRoot, nodeID),
	}
	for _, d := range dirs {
		if err := os.MkdirAll(d, 0o755); err != nil {
			return err
		}
	}
	return nil
}

// ResyncExamples copies the bundled example templates into
// templates/examples/ without touching farm.json or any other part of the
// farm subtree — used by cmd/smallrender-templates to refresh a farm root's
// examples independent of a running node.
func ResyncExamples(syncRoot string) error {
	return syncExamples(syncRoot)
}

// syncExamples copies the bundled example templates into
// templates/examples/, overwriting whatever is already there — these
// files are never user-edited in place (a user who wants to customize one
// copies it out first).
func syncExamples(syncRoot string) error {
	dest := layout.TemplatesExamplesDir(syncRoot)
	if err := os.MkdirAll(dest, 0o755); err != nil {
		return err
	}
	return fs.WalkDir(bundledExamples, "examples", func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		data, err := bundledExamples.ReadFile(path)
		if err != nil {
			return err
		}
		return atomicstore.WriteText(filepath.Join(dest, filepath.Base(path)), string(data))
	})
}

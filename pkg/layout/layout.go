// Package layout names the on-disk shape of the farm root and builds the
// paths every other component reads or writes. Centralizing the paths here
// keeps the directory shape in one place the way warren centralizes its
// BoltDB bucket names in pkg/storage.
package layout

import "path/filepath"

// RootDirName is the subdirectory created under a sync root to hold the farm.
const RootDirName = "SmallRender-v1"

// ProcessedDirName is the subdirectory holding consumed/archived entries for
// both command inboxes and the submissions directory.
const ProcessedDirName = "processed"

// Root returns the farm root given the user-configured sync root.
func Root(syncRoot string) string {
	return filepath.Join(syncRoot, RootDirName)
}

// FarmMarkerFile returns the path to the one-time farm marker file.
func FarmMarkerFile(syncRoot string) string {
	return filepath.Join(Root(syncRoot), "farm.json")
}

// NodesDir returns the root of all nodes' heartbeat/log directories.
func NodesDir(syncRoot string) string {
	return filepath.Join(Root(syncRoot), "nodes")
}

// NodeDir returns a single node's directory.
func NodeDir(syncRoot, nodeID string) string {
	return filepath.Join(NodesDir(syncRoot), nodeID)
}

// HeartbeatFile returns the path to a node's heartbeat file.
func HeartbeatFile(syncRoot, nodeID string) string {
	return filepath.Join(NodeDir(syncRoot, nodeID), "heartbeat.json")
}

// MonitorLogFile returns the path to a node's log file for a given date
// (formatted "2006-01-02").
func MonitorLogFile(syncRoot, nodeID, date string) string {
	return filepath.Join(NodeDir(syncRoot, nodeID), "monitor-"+date+".log")
}

// CommandsDir returns the root of all command inboxes.
func CommandsDir(syncRoot string) string {
	return filepath.Join(Root(syncRoot), "commands")
}

// CommandInboxDir returns a single node's command inbox.
func CommandInboxDir(syncRoot, nodeID string) string {
	return filepath.Join(CommandsDir(syncRoot), nodeID)
}

// CommandProcessedDir returns a node's processed-command archive.
func CommandProcessedDir(syncRoot, nodeID string) string {
	return filepath.Join(CommandInboxDir(syncRoot, nodeID), ProcessedDirName)
}

// CommandFile returns the path of a pending command message.
func CommandFile(syncRoot, targetNodeID, msgID string) string {
	return filepath.Join(CommandInboxDir(syncRoot, targetNodeID), msgID+".json")
}

// JobsDir returns the root of all job directories.
func JobsDir(syncRoot string) string {
	return filepath.Join(Root(syncRoot), "jobs")
}

// JobDir returns a single job's directory.
func JobDir(syncRoot, jobID string) string {
	return filepath.Join(JobsDir(syncRoot), jobID)
}

// ManifestFile returns a job's immutable manifest path.
func ManifestFile(syncRoot, jobID string) string {
	return filepath.Join(JobDir(syncRoot, jobID), "manifest.json")
}

// StateDir returns a job's append-only state-entry directory.
func StateDir(syncRoot, jobID string) string {
	return filepath.Join(JobDir(syncRoot, jobID), "state")
}

// StateEntryFile returns the path of a single state entry, named so that
// lexicographic filename order is chronological order.
func StateEntryFile(syncRoot, jobID, timestampPrefix, nodeID string) string {
	return filepath.Join(StateDir(syncRoot, jobID), timestampPrefix+"_"+nodeID+".json")
}

// DispatchFile returns a job's mutable dispatch table path.
func DispatchFile(syncRoot, jobID string) string {
	return filepath.Join(JobDir(syncRoot, jobID), "dispatch.json")
}

// EventsDir returns a job's events root.
func EventsDir(syncRoot, jobID string) string {
	return filepath.Join(JobDir(syncRoot, jobID), "events")
}

// NodeEventsDir returns the directory a single node writes its events into
// for a job.
func NodeEventsDir(syncRoot, jobID, nodeID string) string {
	return filepath.Join(EventsDir(syncRoot, jobID), nodeID)
}

// EventFile returns the path of a single event file.
func EventFile(syncRoot, jobID, nodeID, name string) string {
	return filepath.Join(NodeEventsDir(syncRoot, jobID, nodeID), name)
}

// StdoutDir returns a job's captured-stdout root.
func StdoutDir(syncRoot, jobID string) string {
	return filepath.Join(JobDir(syncRoot, jobID), "stdout")
}

// NodeStdoutDir returns the directory a single node writes captured stdout
// into for a job.
func NodeStdoutDir(syncRoot, jobID, nodeID string) string {
	return filepath.Join(StdoutDir(syncRoot, jobID), nodeID)
}

// StdoutLogFile returns the path of a single chunk's captured stdout log.
func StdoutLogFile(syncRoot, jobID, nodeID, name string) string {
	return filepath.Join(NodeStdoutDir(syncRoot, jobID, nodeID), name)
}

// SubmissionsDir returns the external-submission inbox root.
func SubmissionsDir(syncRoot string) string {
	return filepath.Join(Root(syncRoot), "submissions")
}

// SubmissionsProcessedDir returns the archive of consumed submission files.
func SubmissionsProcessedDir(syncRoot string) string {
	return filepath.Join(SubmissionsDir(syncRoot), ProcessedDirName)
}

// TemplatesExamplesDir returns the farm root's bundled example templates.
func TemplatesExamplesDir(syncRoot string) string {
	return filepath.Join(Root(syncRoot), "templates", "examples")
}

// TemplatesDir returns the farm root's full templates directory (examples
// plus any user-authored templates alongside them).
func TemplatesDir(syncRoot string) string {
	return filepath.Join(Root(syncRoot), "templates")
}

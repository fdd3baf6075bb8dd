package ipc

import (
	"strconv"
	"strings"
)

// Outbound message types, supervisor -> agent.
const (
	TypeTask     = "task"
	TypeAbort    = "abort"
	TypePing     = "ping"
	TypeShutdown = "shutdown"
)

// Inbound message types, agent -> supervisor.
const (
	TypeAck            = "ack"
	TypeProgress       = "progress"
	TypeStdout         = "stdout"
	TypeFrameCompleted = "frame_completed"
	TypeCompleted      = "completed"
	TypeFailed         = "failed"
	TypeStatus         = "status"
	TypePong           = "pong"
)

// Command is the executable + argument list a task instructs the agent to
// run, with {frame}/{chunk_start}/{chunk_end} tokens already substituted.
type Command struct {
	Executable string   `json:"executable"`
	Args       []string `json:"args"`
}

// Progress describes how the agent should recognize progress, completion,
// and error lines in the renderer's own stdout.
type Progress struct {
	Patterns          []string `json:"patterns,omitempty"`
	FrameGroup        int      `json:"frame_group,omitempty"`
	CompletionPattern string   `json:"completion_pattern,omitempty"`
	ErrorPatterns     []string `json:"error_patterns,omitempty"`
}

// OutputDetection mirrors jobstore.OutputDetectionSpec across the wire
// without importing it, keeping this package dependency-free of job types.
type OutputDetection struct {
	Validation  string `json:"validation"`
	PathPattern string `json:"path_pattern,omitempty"`
}

// Task is the outbound {type:"task", ...} frame.
type Task struct {
	Type            string            `json:"type"`
	JobID           string            `json:"job_id"`
	FrameStart      int               `json:"frame_start"`
	FrameEnd        int               `json:"frame_end"`
	Command         Command           `json:"command"`
	WorkingDir      string            `json:"working_dir"`
	Environment     map[string]string `json:"environment,omitempty"`
	Progress        Progress          `json:"progress"`
	OutputDetection OutputDetection   `json:"output_detection"`
	TimeoutSeconds  int               `json:"timeout_seconds"`
}

// Abort is the outbound {type:"abort", reason} frame.
type Abort struct {
	Type   string `json:"type"`
	Reason string `json:"reason"`
}

// Ping/Shutdown carry no payload beyond their type.
type Ping struct {
	Type string `json:"type"`
}
type Shutdown struct {
	Type string `json:"type"`
}

// Ack is the inbound {type:"ack"} acknowledgement.
type Ack struct {
	Type string `json:"type"`
}

// ProgressUpdate is the inbound {type:"progress", progress_pct} frame.
type ProgressUpdate struct {
	Type        string  `json:"type"`
	ProgressPct float64 `json:"progress_pct"`
}

// StdoutBatch is the inbound {type:"stdout", lines:[]} frame.
type StdoutBatch struct {
	Type  string   `json:"type"`
	Lines []string `json:"lines"`
}

// FrameCompleted is the inbound {type:"frame_completed", frame} frame.
type FrameCompleted struct {
	Type  string `json:"type"`
	Frame int    `json:"frame"`
}

// Completed is the inbound {type:"completed", ...} frame.
type Completed struct {
	Type       string `json:"type"`
	ExitCode   int    `json:"exit_code"`
	ElapsedMS  int64  `json:"elapsed_ms"`
	OutputFile string `json:"output_file,omitempty"`
}

// Failed is the inbound {type:"failed", ...} frame.
type Failed struct {
	Type     string `json:"type"`
	ExitCode int    `json:"exit_code"`
	Error    string `json:"error"`
}

// Status is the inbound {type:"status", state, pid} frame.
type Status struct {
	Type  string `json:"type"`
	State string `json:"state"`
	PID   int    `json:"pid"`
}

// Pong is the inbound {type:"pong"} reply to Ping.
type Pong struct {
	Type string `json:"type"`
}

// SubstituteTokens replaces {frame}, {chunk_start}, {chunk_end} in each arg.
func SubstituteTokens(args []string, frame, chunkStart, chunkEnd int) []string {
	out := make([]string, len(args))
	for i, a := range args {
		out[i] = substituteOne(a, frame, chunkStart, chunkEnd)
	}
	return out
}

func substituteOne(arg string, frame, chunkStart, chunkEnd int) string {
	replacer := strings.NewReplacer(
		"{frame}", strconv.Itoa(frame),
		"{chunk_start}", strconv.Itoa(chunkStart),
		"{chunk_end}", strconv.Itoa(chunkEnd),
	)
	return replacer.Replace(arg)
}

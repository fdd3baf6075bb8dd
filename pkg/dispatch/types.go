package dispatch

// ChunkState is a single chunk's position in the assign/complete/retry
// lifecycle.
type ChunkState string

const (
	ChunkPending  ChunkState = "pending"
	ChunkAssigned ChunkState = "assigned"
	ChunkFailed   ChunkState = "failed"
	ChunkComplete ChunkState = "completed"
)

// Chunk is one contiguous frame range within a job's dispatch table.
type Chunk struct {
	FrameStart    int        `json:"frame_start"`
	FrameEnd      int        `json:"frame_end"`
	State         ChunkState `json:"state"`
	AssignedTo    string     `json:"assigned_to,omitempty"`
	AssignedAtMS  int64      `json:"assigned_at_ms,omitempty"`
	CompletedAtMS int64      `json:"completed_at_ms,omitempty"`
	RetryCount    int        `json:"retry_count"`
}

// Table is a job's mutable dispatch table, owned exclusively by the
// coordinator and flushed to dispatch.json.
type Table struct {
	CoordinatorID string  `json:"coordinator_id"`
	UpdatedAtMS   int64   `json:"updated_at_ms"`
	Chunks        []Chunk `json:"chunks"`
}

// Assignment records which job/chunk a worker is currently holding.
type Assignment struct {
	JobID        string
	FrameStart   int
	FrameEnd     int
	AssignedAtMS int64
}

// CompletionReport is a chunk outcome arriving either from this node's own
// Render Supervisor (local) or parsed off the Command Channel (remote).
type CompletionReport struct {
	JobID      string
	FrameStart int
	FrameEnd   int
	NodeID     string
	Failed     bool
	Reason     string
}

// WorkerInfo is the subset of a worker's heartbeat state the scheduler's
// compatibility and liveness checks need, decoupling dispatch from the
// heartbeat package's concrete types.
type WorkerInfo struct {
	NodeID         string
	OS             string
	Tags           []string
	IsIdle         bool
	IsDead         bool
	RenderingJobID string
}

// JobCandidate is the subset of job state the scheduler needs to pick work
// for an idle worker.
type JobCandidate struct {
	JobID        string
	Priority     int
	TagsRequired []string
	CmdPerOS     map[string]string
}

// Dispatcher sends an assign_chunk/abort_chunk instruction to a worker —
// local (direct callback) or remote (Command Channel send).
type Dispatcher interface {
	AssignChunk(nodeID, jobID string, frameStart, frameEnd int)
	AbortChunk(nodeID, jobID string, reason string)
}

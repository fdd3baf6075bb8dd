package jobstore

// State is a job's lifecycle state, recorded as append-only state entries.
type State string

const (
	StateActive    State = "active"
	StatePaused    State = "paused"
	StateCancelled State = "cancelled"
	StateCompleted State = "completed"
	StateFailed    State = "failed"
)

// ProgressSpec describes how the Render Supervisor detects per-frame
// progress from a renderer's stdout.
type ProgressSpec struct {
	Pattern    string `json:"pattern,omitempty"`
	FrameGroup int    `json:"frame_group,omitempty"`
}

// OutputDetectionSpec describes how a chunk's success is judged once the
// render process exits.
type Validation string

const (
	ValidationExitCodeOnly  Validation = "exit_code_only"
	ValidationExistsNonzero Validation = "exists_nonzero"
)

type OutputDetectionSpec struct {
	Validation  Validation `json:"validation"`
	PathPattern string     `json:"path_pattern,omitempty"`
}

// Manifest is a job's immutable definition, baked from a Template plus
// submitted flag values.
type Manifest struct {
	JobID           string              `json:"job_id"`
	TemplateID      string              `json:"template_id"`
	SubmittedBy     string              `json:"submitted_by"`
	SubmittedAtMS   int64               `json:"submitted_at_ms"`
	CmdPerOS        map[string]string   `json:"cmd_per_os"`
	Flags           map[string]string   `json:"flags"`
	FlagOrder       []string            `json:"flag_order"`
	FrameStart      int                 `json:"frame_start"`
	FrameEnd        int                 `json:"frame_end"`
	ChunkSize       int                 `json:"chunk_size"`
	MaxRetries      int                 `json:"max_retries"`
	TimeoutSeconds  int                 `json:"timeout_seconds"`
	TagsRequired    []string            `json:"tags_required,omitempty"`
	Environment     map[string]string   `json:"environment,omitempty"`
	OutputDir       string              `json:"output_dir,omitempty"`
	Progress        ProgressSpec        `json:"progress"`
	OutputDetection OutputDetectionSpec `json:"output_detection"`
}

// Args returns the flag values in template-declared order, the argument
// list the Render Supervisor hands to the agent alongside CmdPerOS[os].
func (m Manifest) Args() []string {
	args := make([]string, 0, len(m.FlagOrder))
	for _, id := range m.FlagOrder {
		if v, ok := m.Flags[id]; ok {
			args = append(args, v)
		}
	}
	return args
}

// StateEntry is one append-only record of a job's lifecycle state.
type StateEntry struct {
	State       State  `json:"state"`
	Priority    int    `json:"priority"`
	NodeID      string `json:"node_id"`
	TimestampMS int64  `json:"timestamp_ms"`
}

// JobInfo is the published, read-only snapshot the store exposes to
// consumers (Dispatch Engine, CLI, opsapi).
type JobInfo struct {
	Manifest        Manifest
	CurrentState    State
	CurrentPriority int
	SubmittedAtMS   int64
}

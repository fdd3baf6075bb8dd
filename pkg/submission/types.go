package submission

// Submission is the external JSON a client drops under submissions/ to
// request a new job without going through the CLI's local submit path.
type Submission struct {
	TemplateID     string            `json:"template_id"`
	FlagOverrides  map[string]string `json:"flag_overrides,omitempty"`
	FrameStart     int               `json:"frame_start"`
	FrameEnd       int               `json:"frame_end"`
	ChunkSize      int               `json:"chunk_size,omitempty"`
	Priority       int               `json:"priority,omitempty"`
	TimeoutSeconds int               `json:"timeout_seconds,omitempty"`
	JobName        string            `json:"job_name,omitempty"`
	SubmittedBy    string            `json:"submitted_by,omitempty"`
}

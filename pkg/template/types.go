package template

import "github.com/smallrender/core/pkg/jobstore"

// FlagKind is the typing a template flag carries.
type FlagKind string

const (
	FlagKindPlain  FlagKind = "plain"
	FlagKindFile   FlagKind = "file"
	FlagKindOutput FlagKind = "output"
)

// Flag is one command-line flag a template exposes for overriding.
type Flag struct {
	ID             string   `json:"id"`
	Kind           FlagKind `json:"kind"`
	Editable       bool     `json:"editable"`
	Required       bool     `json:"required"`
	Standalone     bool     `json:"standalone,omitempty"` // e.g. "-o" that only ever precedes an optional value
	DefaultPattern string   `json:"default_pattern,omitempty"`
}

// Template is the user-authored render-job blueprint baked into a Manifest
// at submission time.
type Template struct {
	ID              string                       `json:"id"`
	Name            string                       `json:"name"`
	CmdPerOS        map[string]string            `json:"cmd_per_os"`
	Flags           []Flag                       `json:"flags"`
	ChunkSize       int                          `json:"chunk_size"`
	MaxRetries      int                          `json:"max_retries"`
	TimeoutSeconds  int                          `json:"timeout_seconds"`
	TagsRequired    []string                     `json:"tags_required,omitempty"`
	Environment     map[string]string            `json:"environment,omitempty"`
	Progress        jobstore.ProgressSpec        `json:"progress"`
	OutputDetection jobstore.OutputDetectionSpec `json:"output_detection"`
}

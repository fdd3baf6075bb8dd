package template

import (
	"fmt"
	"path/filepath"
	"runtime"
	"time"

	"github.com/smallrender/core/pkg/jobstore"
)

// BakeOptions carries the submission-time inputs needed to turn a Template
// into a Manifest.
type BakeOptions struct {
	FlagOverrides  map[string]string
	FrameStart     int
	FrameEnd       int
	ChunkSize      int // 0 keeps the template default
	MaxRetries     int // 0 keeps the template default
	TimeoutSeconds int // 0 keeps the template default
	ExecutablePath string
	ProjectDir     string
	FileName       string
	FramePad       int
	SubmissionEnv  map[string]string // layered on top of the template's own environment
	At             time.Time
}

// Bake resolves every flag's value (override, else default_pattern), elides
// empty editable-optional flags (and their preceding standalone flag, when
// its sole role was to introduce that optional), copies the OS-dispatch
// table with the current OS's executable path overridden, captures the
// output directory, and locks in job-wide settings onto the returned
// Manifest.
func Bake(tpl Template, opts BakeOptions) (jobstore.Manifest, error) {
	values := make(map[string]string, len(tpl.Flags))
	for _, f := range tpl.Flags {
		if v, ok := opts.FlagOverrides[f.ID]; ok {
			values[f.ID] = v
			continue
		}
		if f.DefaultPattern != "" {
			values[f.ID] = ResolvePattern(f.DefaultPattern, values, opts.FramePad, opts.ProjectDir, opts.FileName, opts.At)
		}
	}

	kept := elideEmptyOptionals(tpl.Flags, values)

	outputDir := ""
	for _, f := range kept {
		if f.Kind == FlagKindOutput {
			if v := values[f.ID]; v != "" {
				outputDir = filepath.Dir(v)
			}
			break
		}
	}

	cmdPerOS := make(map[string]string, len(tpl.CmdPerOS))
	for osName, cmd := range tpl.CmdPerOS {
		cmdPerOS[osName] = cmd
	}
	if opts.ExecutablePath != "" {
		cmdPerOS[runtime.GOOS] = opts.ExecutablePath
	}

	env := make(map[string]string, len(tpl.Environment)+len(opts.SubmissionEnv))
	for k, v := range tpl.Environment {
		env[k] = v
	}
	for k, v := range opts.SubmissionEnv {
		env[k] = v
	}

	flagsOut := make(map[string]string, len(kept))
	flagOrder := make([]string, 0, len(kept))
	for _, f := range kept {
		flagsOut[f.ID] = values[f.ID]
		flagOrder = append(flagOrder, f.ID)
	}

	m := jobstore.Manifest{
		TemplateID:      tpl.ID,
		CmdPerOS:        cmdPerOS,
		Flags:           flagsOut,
		FlagOrder:       flagOrder,
		FrameStart:      opts.FrameStart,
		FrameEnd:        opts.FrameEnd,
		ChunkSize:       firstNonZero(opts.ChunkSize, tpl.ChunkSize),
		MaxRetries:      firstNonZero(opts.MaxRetries, tpl.MaxRetries),
		TimeoutSeconds:  firstNonZero(opts.TimeoutSeconds, tpl.TimeoutSeconds),
		TagsRequired:    tpl.TagsRequired,
		Environment:     env,
		OutputDir:       outputDir,
		Progress:        tpl.Progress,
		OutputDetection: tpl.OutputDetection,
	}

	if m.FrameStart > m.FrameEnd {
		return jobstore.Manifest{}, fmt.Errorf("frame_start %d must not exceed frame_end %d", m.FrameStart, m.FrameEnd)
	}
	if m.ChunkSize < 1 {
		return jobstore.Manifest{}, fmt.Errorf("chunk_size must be >= 1, got %d", m.ChunkSize)
	}

	return m, nil
}

// elideEmptyOptionals drops editable, non-required flags whose resolved
// value is empty, along with an immediately-preceding standalone flag whose
// sole role was to introduce the one being dropped.
func elideEmptyOptionals(flags []Flag, values map[string]string) []Flag {
	kept := make([]Flag, 0, len(flags))
	for i := 0; i < len(flags); i++ {
		f := flags[i]
		if f.Editable && !f.Required && values[f.ID] == "" {
			if len(kept) > 0 && kept[len(kept)-1].Standalone {
				kept = kept[:len(kept)-1]
			}
			continue
		}
		kept = append(kept, f)
	}
	return kept
}

func firstNonZero(a, b int) int {
	if a != 0 {
		return a
	}
	return b
}

// Package submission implements the coordinator-only background worker
// that turns dropped JSON files under submissions/ into jobs: look up the
// named template, apply per-flag overrides, bake a manifest, and hand it to
// the Job Store — always archiving the source file afterward so a bad
// submission can never jam the intake.
package submission

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/smallrender/core/pkg/jobstore"
	"github.com/smallrender/core/pkg/layout"
	"github.com/smallrender/core/pkg/localdb"
	"github.com/smallrender/core/pkg/log"
	"github.com/smallrender/core/pkg/template"
)

const (
	pollInterval = 5 * time.Second
	maxRetries   = 6
	purgeAfter   = 24 * time.Hour
)

// TemplateLookup resolves a template_id to its definition.
type TemplateLookup func(templateID string) (template.Template, bool)

// Intake drains submissions/ into the Job Store.
type Intake struct {
	syncRoot string
	db       *localdb.DB
	jobs     *jobstore.Store
	lookup   TemplateLookup

	stopCh chan struct{}
	wakeCh chan struct{}
	doneCh chan struct{}

	lastPurge time.Time
}

// New creates an Intake worker. Call Start to begin polling.
func New(syncRoot string, db *localdb.DB, jobs *jobstore.Store, lookup TemplateLookup) *Intake {
	return &Intake{
		syncRoot: syncRoot,
		db:       db,
		jobs:     jobs,
		lookup:   lookup,
		stopCh:   make(chan struct{}),
		wakeCh:   make(chan struct{}, 1),
		doneCh:   make(chan struct{}),
	}
}

// Wake nudges the poller to drain immediately, e.g. on a datagram hint.
func (in *Intake) Wake() {
	select {
	case in.wakeCh <- struct{}{}:
	default:
	}
}

// Start launches the background poller.
func (in *Intake) Start() { go in.run() }

// Stop halts the background poller and waits for it to exit.
func (in *Intake) Stop() {
	close(in.stopCh)
	<-in.doneCh
}

func (in *Intake) run() {
	defer close(in.doneCh)
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		in.DrainOnce()
		select {
		case <-ticker.C:
		case <-in.wakeCh:
		case <-in.stopCh:
			return
		}
	}
}

// DrainOnce processes every *.json file currently under submissions/.
func (in *Intake) DrainOnce() {
	logger := log.WithComponent("submission-intake")

	dir := layout.SubmissionsDir(in.syncRoot)
	entries, err := os.ReadDir(dir)
	if err != nil {
		if !os.IsNotExist(err) {
			logger.Error().Err(err).Msg("failed to list submissions dir")
		}
		return
	}

	var names []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".json") {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	for _, name := range names {
		in.processOne(dir, name)
	}

	now := time.Now()
	if now.Sub(in.lastPurge) >= time.Hour {
		in.purgeProcessed(now)
		in.lastPurge = now
	}
}

func (in *Intake) processOne(dir, name string) {
	path := filepath.Join(dir, name)

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			// Sync layer hasn't propagated content yet; retry up to
			// maxRetries before giving up on this file for good.
			count, cerr := in.db.IncrementSubmissionRetry(name)
			if cerr != nil {
				log.WithComponent("submission-intake").Error().Err(cerr).Msg("retry counter update failed")
			}
			if count >= maxRetries {
				log.WithComponent("submission-intake").Error().Str("file", name).Msg("submission never became readable, giving up")
				in.archive(dir, name)
				_ = in.db.ClearSubmissionRetry(name)
			}
			return
		}
		log.WithComponent("submission-intake").Error().Err(err).Str("file", name).Msg("failed to read submission")
		in.archive(dir, name)
		return
	}
	_ = in.db.ClearSubmissionRetry(name)

	var sub Submission
	if err := json.Unmarshal(data, &sub); err != nil {
		log.WithComponent("submission-intake").Error().Err(err).Str("file", name).Msg("malformed submission json")
		in.archive(dir, name)
		return
	}

	tpl, ok := in.lookup(sub.TemplateID)
	if !ok {
		log.WithComponent("submission-intake").Error().Str("template_id", sub.TemplateID).Str("file", name).Msg("unknown template_id")
		in.archive(dir, name)
		return
	}

	for k := range sub.FlagOverrides {
		if !hasFlag(tpl, k) {
			log.WithComponent("submission-intake").Warn().Str("flag", k).Str("file", name).Msg("submission overrides unknown template flag")
		}
	}

	opts := template.BakeOptions{
		FlagOverrides:  sub.FlagOverrides,
		FrameStart:     sub.FrameStart,
		FrameEnd:       sub.FrameEnd,
		ChunkSize:      sub.ChunkSize,
		TimeoutSeconds: sub.TimeoutSeconds,
		At:             time.Now(),
	}

	manifest, err := template.Bake(tpl, opts)
	if err != nil {
		log.WithComponent("submission-intake").Error().Err(err).Str("file", name).Msg("failed to bake manifest")
		in.archive(dir, name)
		return
	}

	jobName := sub.JobName
	if jobName == "" {
		jobName = sub.TemplateID
	}
	submittedBy := sub.SubmittedBy
	if submittedBy == "" {
		submittedBy = "submission-intake"
	}

	if _, err := in.jobs.SubmitJob(jobName, manifest, sub.Priority, submittedBy); err != nil {
		log.WithComponent("submission-intake").Error().Err(err).Str("file", name).Msg("submit_job failed")
	}

	in.archive(dir, name)
}

func (in *Intake) archive(dir, name string) {
	processedDir := layout.SubmissionsProcessedDir(in.syncRoot)
	if err := os.MkdirAll(processedDir, 0o755); err != nil {
		log.WithComponent("submission-intake").Error().Err(err).Msg("failed to create submissions processed dir")
		return
	}
	if err := os.Rename(filepath.Join(dir, name), filepath.Join(processedDir, name)); err != nil {
		log.WithComponent("submission-intake").Error().Err(err).Str("file", name).Msg("failed to archive submission")
	}
}

func (in *Intake) purgeProcessed(now time.Time) {
	processedDir := layout.SubmissionsProcessedDir(in.syncRoot)
	entries, err := os.ReadDir(processedDir)
	if err != nil {
		return
	}
	cutoff := now.Add(-purgeAfter)
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		info, err := e.Info()
		if err != nil || info.ModTime().After(cutoff) {
			continue
		}
		_ = os.Remove(filepath.Join(processedDir, e.Name()))
	}
}

func hasFlag(tpl template.Template, id string) bool {
	for _, f := range tpl.Flags {
		if f.ID == id {
			return true
		}
	}
	return false
}

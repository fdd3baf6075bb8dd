// Package jobstore scans jobs/* on a fixed cadence (or immediately when an
// invalidation flag is set), keeping a thread-safe, priority-ordered
// snapshot of every job's manifest and current state.
package jobstore

import (
	"fmt"
	"os"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/smallrender/core/pkg/atomicstore"
	"github.com/smallrender/core/pkg/layout"
	"github.com/smallrender/core/pkg/log"
)

const scanInterval = 3 * time.Second

var nonAlnumUnderscore = regexp.MustCompile(`[^a-z0-9_]+`)
var collapseDashes = regexp.MustCompile(`-+`)

// Store holds the published snapshot and drives the background scan loop.
type Store struct {
	syncRoot string

	mu      sync.RWMutex
	jobs    map[string]JobInfo
	invalid atomic.Bool

	stopCh chan struct{}
	doneCh chan struct{}
}

// New creates a Store. Call Start to begin scanning.
func New(syncRoot string) *Store {
	return &Store{
		syncRoot: syncRoot,
		jobs:     make(map[string]JobInfo),
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
}

// Start launches the background scan loop, scanning once immediately.
func (s *Store) Start() {
	s.Scan()
	go s.run()
}

// Stop halts the background scan loop.
func (s *Store) Stop() {
	close(s.stopCh)
	<-s.doneCh
}

// Invalidate shortens the next scan interval to immediate. Writers
// (SubmitJob, WriteStateEntry, DeleteJob) call this after mutating the tree.
func (s *Store) Invalidate() {
	s.invalid.Store(true)
}

func (s *Store) run() {
	defer close(s.doneCh)
	scanTicker := time.NewTicker(scanInterval)
	invalidationTicker := time.NewTicker(100 * time.Millisecond)
	defer scanTicker.Stop()
	defer invalidationTicker.Stop()

	for {
		select {
		case <-scanTicker.C:
			s.Scan()
		case <-invalidationTicker.C:
			if s.invalid.Load() {
				s.Scan()
			}
		case <-s.stopCh:
			return
		}
	}
}

// Scan reads every job directory and republishes the snapshot.
func (s *Store) Scan() {
	s.invalid.Store(false)
	logger := log.WithComponent("job-store")

	entries, err := os.ReadDir(layout.JobsDir(s.syncRoot))
	if err != nil {
		if !os.IsNotExist(err) {
			logger.Error().Err(err).Msg("failed to list jobs dir")
		}
		return
	}

	jobs := make(map[string]JobInfo, len(entries))
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		jobID := e.Name()

		var manifest Manifest
		ok, err := atomicstore.ReadJSON(layout.ManifestFile(s.syncRoot, jobID), &manifest)
		if err != nil || !ok {
			continue
		}

		entry, ok := latestStateEntry(s.syncRoot, jobID)
		if !ok {
			continue
		}

		jobs[jobID] = JobInfo{
			Manifest:        manifest,
			CurrentState:    entry.State,
			CurrentPriority: entry.Priority,
			SubmittedAtMS:   manifest.SubmittedAtMS,
		}
	}

	s.mu.Lock()
	s.jobs = jobs
	s.mu.Unlock()
}

// latestStateEntry reads a job's state/ directory and returns the entry with
// the lexicographically-largest (== most recent) filename.
func latestStateEntry(syncRoot, jobID string) (StateEntry, bool) {
	dir := layout.StateDir(syncRoot, jobID)
	entries, err := os.ReadDir(dir)
	if err != nil || len(entries) == 0 {
		return StateEntry{}, false
	}

	var names []string
	for _, e := range entries {
		if !e.IsDir() {
			names = append(names, e.Name())
		}
	}
	if len(names) == 0 {
		return StateEntry{}, false
	}
	sort.Strings(names)
	latest := names[len(names)-1]

	var se StateEntry
	ok, err := atomicstore.ReadJSON(dir+"/"+latest, &se)
	if err != nil || !ok {
		return StateEntry{}, false
	}
	return se, true
}

// Snapshot returns jobs ordered by (priority desc, submitted_at asc).
func (s *Store) Snapshot() []JobInfo {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]JobInfo, 0, len(s.jobs))
	for _, j := range s.jobs {
		out = append(out, j)
	}
	sort.Slice(out, func(i, k int) bool {
		if out[i].CurrentPriority != out[k].CurrentPriority {
			return out[i].CurrentPriority > out[k].CurrentPriority
		}
		return out[i].SubmittedAtMS < out[k].SubmittedAtMS
	})
	return out
}

// StateCounts returns the number of known jobs in each lifecycle state.
func (s *Store) StateCounts() map[string]int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	counts := make(map[string]int)
	for _, j := range s.jobs {
		counts[string(j.CurrentState)]++
	}
	return counts
}

// Get returns a single job's info by id.
func (s *Store) Get(jobID string) (JobInfo, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	j, ok := s.jobs[jobID]
	return j, ok
}

// SubmitJob creates jobs/<slug>/state/, writes the manifest, and writes an
// initial "active" state entry, generating a collision-free slug from
// jobName. It returns the assigned job id.
func (s *Store) SubmitJob(jobName string, manifest Manifest, priority int, submittedBy string) (string, error) {
	base := slugify(jobName)
	if base == "" {
		base = "job"
	}

	now := time.Now()
	suffixes := append([]int{0}, rangeInts(2, 99)...)
	for _, n := range suffixes {
		slug := base
		if n > 0 {
			slug = fmt.Sprintf("%s-%d", base, n)
		}

		manifestPath := layout.ManifestFile(s.syncRoot, slug)
		if atomicstore.Exists(manifestPath) {
			continue
		}

		manifest.JobID = slug
		manifest.SubmittedBy = submittedBy
		manifest.SubmittedAtMS = now.UnixMilli()

		if err := os.MkdirAll(layout.StateDir(s.syncRoot, slug), 0o755); err != nil {
			return "", fmt.Errorf("create job dir: %w", err)
		}
		if err := atomicstore.WriteJSON(manifestPath, manifest); err != nil {
			return "", fmt.Errorf("write manifest: %w", err)
		}

		entry := StateEntry{State: StateActive, Priority: priority, NodeID: submittedBy, TimestampMS: now.UnixMilli()}
		entryPath := layout.StateEntryFile(s.syncRoot, slug, strconv.FormatInt(now.UnixMilli(), 10), submittedBy)
		if err := atomicstore.WriteJSON(entryPath, entry); err != nil {
			return "", fmt.Errorf("write initial state entry: %w", err)
		}

		s.Invalidate()
		return slug, nil
	}

	return "", fmt.Errorf("slug collision: exhausted suffixes for %q", base)
}

// WriteStateEntry appends a new state entry for jobID and invalidates the
// store so the next scan picks it up promptly.
func (s *Store) WriteStateEntry(jobID string, entry StateEntry) error {
	path := layout.StateEntryFile(s.syncRoot, jobID, strconv.FormatInt(entry.TimestampMS, 10), entry.NodeID)
	if err := atomicstore.WriteJSON(path, entry); err != nil {
		return err
	}
	s.Invalidate()
	return nil
}

// DeleteJob removes a job's entire directory tree and invalidates the store.
func (s *Store) DeleteJob(jobID string) error {
	if err := os.RemoveAll(layout.JobDir(s.syncRoot, jobID)); err != nil {
		return err
	}
	s.Invalidate()
	return nil
}

func rangeInts(from, to int) []int {
	out := make([]int, 0, to-from+1)
	for i := from; i <= to; i++ {
		out = append(out, i)
	}
	return out
}

// slugify lowercases, replaces non [a-z0-9_] runs with "-", collapses
// consecutive dashes, trims them from the ends, and truncates to 64 chars.
func slugify(name string) string {
	s := strings.ToLower(name)
	s = nonAlnumUnderscore.ReplaceAllString(s, "-")
	s = collapseDashes.ReplaceAllString(s, "-")
	s = strings.Trim(s, "-")
	if len(s) > 64 {
		s = s[:64]
		s = strings.TrimRight(s, "-")
	}
	return s
}

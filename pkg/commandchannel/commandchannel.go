// Package commandchannel implements the durable per-node command inbox:
// senders drop a JSON file under commands/<target>/, the target's background
// worker drains it into an in-memory Action queue and moves each consumed
// file into processed/, and a 24h purge keeps the processed archive bounded.
package commandchannel

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/smallrender/core/pkg/atomicstore"
	"github.com/smallrender/core/pkg/layout"
	"github.com/smallrender/core/pkg/localdb"
	"github.com/smallrender/core/pkg/log"
)

// Type enumerates the command kinds exchanged over the channel.
type Type string

const (
	TypeAssignChunk    Type = "assign_chunk"
	TypeAbortChunk     Type = "abort_chunk"
	TypeChunkCompleted Type = "chunk_completed"
	TypeChunkFailed    Type = "chunk_failed"
	TypeStopJob        Type = "stop_job"
	TypeStopAll        Type = "stop_all"
	TypeResumeAll      Type = "resume_all"
)

const (
	dedupWindow  = 60 * time.Second
	purgeAfter   = 24 * time.Hour
	pollInterval = 3 * time.Second
)

// Action is a parsed, deduplicated command addressed to this node.
type Action struct {
	MsgID       string `json:"msg_id"`
	From        string `json:"from"`
	Target      string `json:"target"`
	Type        Type   `json:"type"`
	TimestampMS int64  `json:"timestamp_ms"`
	JobID       string `json:"job_id,omitempty"`
	FrameStart  int    `json:"frame_start,omitempty"`
	FrameEnd    int    `json:"frame_end,omitempty"`
	Reason      string `json:"reason,omitempty"`
}

// Notifier emits a best-effort datagram nudge to wake a peer's poller early.
// It is satisfied by pkg/udpwake's Sender; nil disables nudging entirely.
type Notifier interface {
	Notify(target string)
}

// Channel owns one node's inbox: draining it into a queue, deduping, and
// purging the processed archive.
type Channel struct {
	syncRoot string
	nodeID   string
	db       *localdb.DB
	notifier Notifier

	queue chan Action

	stopCh    chan struct{}
	wakeCh    chan struct{}
	doneCh    chan struct{}
	lastPurge time.Time
}

// New creates a Channel for this node. queueSize bounds the in-memory
// Action queue; when the queue is full, Drain drops further Actions with a
// warning instead of blocking (their files are still archived).
func New(syncRoot, nodeID string, db *localdb.DB, notifier Notifier, queueSize int) *Channel {
	if queueSize <= 0 {
		queueSize = 256
	}
	return &Channel{
		syncRoot: syncRoot,
		nodeID:   nodeID,
		db:       db,
		notifier: notifier,
		queue:    make(chan Action, queueSize),
		stopCh:   make(chan struct{}),
		wakeCh:   make(chan struct{}, 1),
		doneCh:   make(chan struct{}),
	}
}

// Actions returns the channel consumers read parsed Actions from.
func (c *Channel) Actions() <-chan Action {
	return c.queue
}

// Wake lets a datagram listener nudge the poller to drain immediately
// instead of waiting out the rest of its poll interval.
func (c *Channel) Wake() {
	select {
	case c.wakeCh <- struct{}{}:
	default:
	}
}

// Start launches the background poller.
func (c *Channel) Start() {
	go c.run()
}

// Stop halts the background poller and waits for it to exit.
func (c *Channel) Stop() {
	close(c.stopCh)
	<-c.doneCh
}

func (c *Channel) run() {
	defer close(c.doneCh)

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		c.Drain()
		select {
		case <-ticker.C:
		case <-c.wakeCh:
		case <-c.stopCh:
			return
		}
	}
}

// Send fabricates msg_id = "<ms>.<from>", writes the command atomically under
// the target's inbox, and nudges the target's peer if a Notifier is wired.
func Send(syncRoot, from, target string, typ Type, jobID, reason string, frameStart, frameEnd int, notifier Notifier) error {
	ms := time.Now().UnixMilli()
	msgID := fmt.Sprintf("%d.%s", ms, from)

	action := Action{
		MsgID:       msgID,
		From:        from,
		Target:      target,
		Type:        typ,
		TimestampMS: ms,
		JobID:       jobID,
		FrameStart:  frameStart,
		FrameEnd:    frameEnd,
		Reason:      reason,
	}

	corrID := uuid.NewString()
	log.WithCorrelationID(corrID).Debug().Str("msg_id", msgID).Str("type", string(typ)).
		Str("target", target).Msg("sending command")

	path := layout.CommandFile(syncRoot, target, msgID)
	if err := atomicstore.WriteJSON(path, action); err != nil {
		return fmt.Errorf("write command: %w", err)
	}

	if notifier != nil {
		notifier.Notify(target)
	}
	return nil
}

// Drain lists, parses, deduplicates, and archives every pending command in
// this node's inbox, pushing newly-seen Actions onto the queue. It is safe
// to call repeatedly; already-processed files are skipped.
func (c *Channel) Drain() {
	logger := log.WithComponent("command-channel")

	inbox := layout.CommandInboxDir(c.syncRoot, c.nodeID)
	names, err := pendingFilenames(inbox)
	if err != nil {
		logger.Error().Err(err).Msg("failed to list command inbox")
		return
	}

	now := time.Now()
	for _, name := range names {
		path := filepath.Join(inbox, name)

		var a Action
		ok, err := atomicstore.ReadJSON(path, &a)
		if err != nil || !ok {
			logger.Warn().Str("file", name).Msg("dropping unparseable command")
			_ = os.Remove(path)
			continue
		}

		dup, err := c.db.SeenCommand(a.MsgID, now)
		if err != nil {
			logger.Error().Err(err).Msg("command dedup check failed")
		}

		if err := c.archive(inbox, name); err != nil {
			logger.Error().Err(err).Str("file", name).Msg("failed to archive command")
			continue
		}

		if dup {
			continue
		}

		select {
		case c.queue <- a:
		default:
			logger.Warn().Str("msg_id", a.MsgID).Msg("command queue full, dropping action")
		}
	}

	if now.Sub(c.lastPurge) >= time.Hour {
		c.purgeProcessed(now)
		c.lastPurge = now
		if err := c.db.PruneCommandDedup(now.Add(-dedupWindow)); err != nil {
			logger.Error().Err(err).Msg("command dedup purge failed")
		}
	}
}

func (c *Channel) archive(inbox, name string) error {
	processedDir := layout.CommandProcessedDir(c.syncRoot, c.nodeID)
	if err := os.MkdirAll(processedDir, 0o755); err != nil {
		return err
	}
	return os.Rename(filepath.Join(inbox, name), filepath.Join(processedDir, name))
}

func (c *Channel) purgeProcessed(now time.Time) {
	processedDir := layout.CommandProcessedDir(c.syncRoot, c.nodeID)
	entries, err := os.ReadDir(processedDir)
	if err != nil {
		return
	}

	cutoff := now.Add(-purgeAfter)
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		ts, ok := timestampFromMsgID(strings.TrimSuffix(e.Name(), ".json"))
		if !ok {
			continue
		}
		if ts.Before(cutoff) {
			_ = os.Remove(filepath.Join(processedDir, e.Name()))
		}
	}
}

// pendingFilenames lists *.json entries directly under inbox (never
// recursing into processed/), sorted so the timestamp-prefixed msg_id
// filenames sort chronologically.
func pendingFilenames(inbox string) ([]string, error) {
	entries, err := os.ReadDir(inbox)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var names []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)
	return names, nil
}

func timestampFromMsgID(msgID string) (time.Time, bool) {
	parts := strings.SplitN(msgID, ".", 2)
	if len(parts) == 0 {
		return time.Time{}, false
	}
	ms, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		return time.Time{}, false
	}
	return time.UnixMilli(ms), true
}

// Package monitorlog is the one mutable, process-wide log surface every
// other component calls into instead of touching a shared ring buffer or
// log file directly. It owns an explicit init/teardown pair and exposes only
// the narrow info/warn/error(category, message) + Snapshot() interface
// spec §9 calls for, confining what would otherwise be ambient mutable
// state to a single component.
package monitorlog

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/smallrender/core/pkg/layout"
	"github.com/smallrender/core/pkg/log"
)

// Level mirrors the severities the ring buffer and daily log file record.
type Level string

const (
	LevelInfo  Level = "info"
	LevelWarn  Level = "warn"
	LevelError Level = "error"
)

// Entry is one ring-buffer record.
type Entry struct {
	Time     time.Time `json:"time"`
	Level    Level     `json:"level"`
	Category string    `json:"category"`
	Message  string    `json:"message"`
}

// Monitor is a bounded ring buffer of recent log entries plus a writer for
// this node's daily human-readable log file under the farm root.
type Monitor struct {
	mu       sync.Mutex
	syncRoot string
	nodeID   string
	buf      []Entry
	cap      int
	pos      int
	count    int

	curDate string
	curFile *os.File
}

// New creates a Monitor that writes this node's daily log file under
// syncRoot/SmallRender-v1/nodes/<nodeID>/ and keeps the last capacity
// entries in memory for Snapshot().
func New(syncRoot, nodeID string, capacity int) *Monitor {
	if capacity <= 0 {
		capacity = 500
	}
	return &Monitor{
		syncRoot: syncRoot,
		nodeID:   nodeID,
		buf:      make([]Entry, capacity),
		cap:      capacity,
	}
}

// Close flushes and closes the current daily log file, if open.
func (m *Monitor) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closeCurrentFileLocked()
}

func (m *Monitor) closeCurrentFileLocked() error {
	if m.curFile == nil {
		return nil
	}
	err := m.curFile.Close()
	m.curFile = nil
	m.curDate = ""
	return err
}

func (m *Monitor) Info(category, message string)  { m.record(LevelInfo, category, message) }
func (m *Monitor) Warn(category, message string)  { m.record(LevelWarn, category, message) }
func (m *Monitor) Error(category, message string) { m.record(LevelError, category, message) }

func (m *Monitor) record(level Level, category, message string) {
	e := Entry{Time: time.Now(), Level: level, Category: category, Message: message}

	m.mu.Lock()
	m.buf[m.pos] = e
	m.pos = (m.pos + 1) % m.cap
	if m.count < m.cap {
		m.count++
	}
	m.appendToFileLocked(e)
	m.mu.Unlock()

	zl := log.WithComponent(category)
	switch level {
	case LevelWarn:
		zl.Warn().Msg(message)
	case LevelError:
		zl.Error().Msg(message)
	default:
		zl.Info().Msg(message)
	}
}

// appendToFileLocked rotates to a fresh file when the date changes and
// appends a single line, flushing immediately so peers following this
// node's log through the sync layer see it promptly.
func (m *Monitor) appendToFileLocked(e Entry) {
	date := e.Time.Format("2006-01-02")
	if date != m.curDate {
		_ = m.closeCurrentFileLocked()
		path := layout.MonitorLogFile(m.syncRoot, m.nodeID, date)
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err == nil {
			if f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644); err == nil {
				m.curFile = f
				m.curDate = date
			}
		}
	}
	if m.curFile == nil {
		return
	}
	line := fmt.Sprintf("%s [%s] %s: %s\n", e.Time.Format(time.RFC3339), e.Level, e.Category, e.Message)
	if _, err := m.curFile.WriteString(line); err == nil {
		_ = m.curFile.Sync()
	}
}

// Snapshot returns a copy of the in-memory ring buffer, oldest first.
func (m *Monitor) Snapshot() []Entry {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]Entry, m.count)
	start := m.pos - m.count
	for i := 0; i < m.count; i++ {
		idx := ((start+i)%m.cap + m.cap) % m.cap
		out[i] = m.buf[idx]
	}
	return out
}

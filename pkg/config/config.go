// Package config holds this node's local configuration: the JSON file on
// local disk (never inside the farm root) described in spec §6, plus the
// timing presets the Heartbeat Engine derives its cadences from. The
// Command Channel and Submission Intake poll on fixed intervals of their
// own and do not read these presets.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/smallrender/core/pkg/atomicstore"
)

// appDataDirName is the directory created under the user's home directory
// to hold everything this node keeps outside the farm root: config.json,
// the bbolt local db, and the rendezvous/submit-request files.
const appDataDirName = ".smallrender"

// LocalAppDataDir returns this node's local app-data directory, creating
// it if necessary. Never inside the farm root (spec §6).
func LocalAppDataDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve home directory: %w", err)
	}
	dir := filepath.Join(home, appDataDirName)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create local app-data dir: %w", err)
	}
	return dir, nil
}

// ConfigFile returns the path to config.json within a local app-data dir.
func ConfigFile(appDataDir string) string {
	return filepath.Join(appDataDir, "config.json")
}

// NodeIDFile returns the path to this node's persisted identity file.
func NodeIDFile(appDataDir string) string {
	return filepath.Join(appDataDir, "node_id")
}

// SubmitRequestFile returns the path to the single-instance rendezvous
// submit-request file (spec §7's "single-instance rendezvous").
func SubmitRequestFile(appDataDir string) string {
	return filepath.Join(appDataDir, "submit_request.json")
}

// TimingPreset selects one of the two built-in cadence presets, or Custom to
// use the Timing field verbatim.
type TimingPreset int

const (
	TimingLocalNAS TimingPreset = 0
	TimingCloud    TimingPreset = 1
	TimingCustom   TimingPreset = 2
)

// Timing is the set of cadences a timing preset resolves to. The Heartbeat
// Engine reads the beat, scan and dead-threshold values; CommandPollMS is
// carried here but no component reads it.
type Timing struct {
	BeatIntervalMS      int `json:"beat_interval_ms"`
	ScanIntervalMS      int `json:"scan_interval_ms"`
	CommandPollMS       int `json:"command_poll_ms"`
	DeadThresholdScans  int `json:"dead_threshold_scans"`
}

// Resolve returns the effective Timing for a preset, falling back to custom
// when it isn't one of the two built-ins.
func Resolve(preset TimingPreset, custom Timing) Timing {
	switch preset {
	case TimingLocalNAS:
		return Timing{BeatIntervalMS: 5000, ScanIntervalMS: 3000, CommandPollMS: 3000, DeadThresholdScans: 3}
	case TimingCloud:
		return Timing{BeatIntervalMS: 10000, ScanIntervalMS: 5000, CommandPollMS: 5000, DeadThresholdScans: 4}
	default:
		return custom
	}
}

// Config is this node's local configuration, persisted as JSON in the
// node's local app-data directory.
type Config struct {
	SyncRoot       string   `json:"sync_root"`
	TimingPreset   TimingPreset `json:"timing_preset"`
	Timing         Timing   `json:"timing"`
	Tags           []string `json:"tags"`
	IsCoordinator  bool     `json:"is_coordinator"`
	AutoStartAgent bool     `json:"auto_start_agent"`
	UDPEnabled     bool     `json:"udp_enabled"`
	UDPPort        int      `json:"udp_port"`
	UDPGroup       string   `json:"udp_group"`

	// FarmError surfaces a fatal bootstrap failure to any consumer of this
	// snapshot (spec §7's "user-visible behaviour"), without killing the
	// process so the operator can correct the configuration and retry.
	FarmError string `json:"farm_error,omitempty"`
}

// Default returns a Config with the Local/NAS preset and no coordinator
// role, mirroring the shape of warren's manager.Config/worker.Config
// constructors (flat fields, a sane zero-config default).
func Default() Config {
	return Config{
		TimingPreset:   TimingLocalNAS,
		Timing:         Resolve(TimingLocalNAS, Timing{}),
		AutoStartAgent: true,
		UDPEnabled:     true,
		UDPPort:        4242,
		UDPGroup:       "239.42.0.1",
	}
}

// EffectiveTiming resolves this config's timing preset/custom pair.
func (c Config) EffectiveTiming() Timing {
	return Resolve(c.TimingPreset, c.Timing)
}

// HasTag reports whether the node carries the given tag.
func (c Config) HasTag(tag string) bool {
	for _, t := range c.Tags {
		if t == tag {
			return true
		}
	}
	return false
}

// WithTag returns a copy of c with tag added (idempotent).
func (c Config) WithTag(tag string) Config {
	if c.HasTag(tag) {
		return c
	}
	c.Tags = append(append([]string{}, c.Tags...), tag)
	return c
}

// WithoutTag returns a copy of c with tag removed.
func (c Config) WithoutTag(tag string) Config {
	out := make([]string, 0, len(c.Tags))
	for _, t := range c.Tags {
		if t != tag {
			out = append(out, t)
		}
	}
	c.Tags = out
	return c
}

// Load reads the local config file, returning Default() if it doesn't yet
// exist.
func Load(path string) (Config, error) {
	var cfg Config
	ok, err := atomicstore.ReadJSON(path, &cfg)
	if err != nil {
		return Config{}, fmt.Errorf("load config: %w", err)
	}
	if !ok {
		return Default(), nil
	}
	return cfg, nil
}

// Save atomically persists the config to path.
func Save(path string, cfg Config) error {
	if err := atomicstore.WriteJSON(path, cfg); err != nil {
		return fmt.Errorf("save config: %w", err)
	}
	return nil
}

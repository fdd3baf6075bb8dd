package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Overlay is a human-edited YAML file that patches a subset of fields onto
// the JSON config this process round-trips — the same split warren draws
// between its "apply -f service.yaml" input and the state it persists to
// BoltDB.
type Overlay struct {
	SyncRoot      *string  `yaml:"syncRoot,omitempty"`
	Tags          []string `yaml:"tags,omitempty"`
	IsCoordinator *bool    `yaml:"isCoordinator,omitempty"`
	TimingPreset  *string  `yaml:"timingPreset,omitempty"` // "local-nas" | "cloud"
	UDPEnabled    *bool    `yaml:"udpEnabled,omitempty"`
}

// LoadOverlay parses a YAML overlay file.
func LoadOverlay(path string) (Overlay, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Overlay{}, fmt.Errorf("read overlay: %w", err)
	}
	var o Overlay
	if err := yaml.Unmarshal(data, &o); err != nil {
		return Overlay{}, fmt.Errorf("parse overlay: %w", err)
	}
	return o, nil
}

// Apply merges the overlay onto cfg. Unset overlay fields leave cfg
// untouched.
func Apply(cfg Config, o Overlay) Config {
	if o.SyncRoot != nil {
		cfg.SyncRoot = *o.SyncRoot
	}
	if o.Tags != nil {
		cfg.Tags = o.Tags
	}
	if o.IsCoordinator != nil {
		cfg.IsCoordinator = *o.IsCoordinator
	}
	if o.UDPEnabled != nil {
		cfg.UDPEnabled = *o.UDPEnabled
	}
	if o.TimingPreset != nil {
		switch *o.TimingPreset {
		case "cloud":
			cfg.TimingPreset = TimingCloud
		case "local-nas":
			cfg.TimingPreset = TimingLocalNAS
		}
		cfg.Timing = Resolve(cfg.TimingPreset, cfg.Timing)
	}
	return cfg
}

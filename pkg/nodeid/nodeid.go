// Package nodeid owns this node's identity: a stable 12-hex-char id
// persisted on local disk, and the one-shot hardware/OS query recorded on
// every heartbeat. GPU detection is out of scope (spec §1 treats hardware
// discovery as an external collaborator); the field is always reported
// empty here.
package nodeid

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/pbnjay/memory"
)

// Info is the one-shot hardware/OS snapshot attached to every heartbeat.
type Info struct {
	Hostname    string `json:"hostname"`
	CPUCores    int    `json:"cpu_cores"`
	RAMMB       int64  `json:"ram_mb"`
	GPUName     string `json:"gpu_name"`
	GPUDetected bool   `json:"gpu_detected"`
	OS          string `json:"os"`
	AppVersion  string `json:"app_version"`
}

// QueryInfo gathers the local hardware/OS snapshot once at process start.
func QueryInfo(appVersion string) Info {
	hostname, err := os.Hostname()
	if err != nil {
		hostname = "unknown"
	}

	var ramMB int64
	if total := memory.TotalMemory(); total > 0 {
		ramMB = int64(total / (1024 * 1024))
	}

	return Info{
		Hostname:    hostname,
		CPUCores:    runtime.NumCPU(),
		RAMMB:       ramMB,
		GPUName:     "",
		GPUDetected: false,
		OS:          runtime.GOOS,
		AppVersion:  appVersion,
	}
}

// LoadOrCreate reads the 12-hex-char node id from path, generating and
// persisting a new one on first run. The file holds exactly one line: the
// id, lowercase hex, no newline-sensitive framing beyond a trailing '\n'.
func LoadOrCreate(path string) (string, error) {
	if data, err := os.ReadFile(path); err == nil {
		id := strings.TrimSpace(string(data))
		if isValidID(id) {
			return id, nil
		}
		// Fall through and regenerate: a corrupt or truncated id file is
		// treated the same as a missing one rather than a fatal error.
	} else if !os.IsNotExist(err) {
		return "", err
	}

	id, err := generateID()
	if err != nil {
		return "", err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", err
	}
	if err := os.WriteFile(path, []byte(id+"\n"), 0o644); err != nil {
		return "", err
	}
	return id, nil
}

func generateID() (string, error) {
	buf := make([]byte, 6) // 6 bytes -> 12 hex chars
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate node id: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

func isValidID(id string) bool {
	if len(id) != 12 {
		return false
	}
	_, err := hex.DecodeString(id)
	return err == nil
}

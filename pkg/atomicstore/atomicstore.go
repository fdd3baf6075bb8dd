// Package atomicstore implements the write-then-rename discipline every
// farm-root record relies on: a reader on a synchronizing shared filesystem
// must never observe a partially-written file. Failures never cross the
// package boundary as panics or exceptions — every operation reports success
// or absence, matching the error taxonomy in the transient-I/O and
// malformed-record cases (a file that hasn't finished propagating, or that
// parses to garbage mid-sync, both look like "absent" to the caller).
package atomicstore

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
)

// WriteJSON serializes value, writes it to "<path>.tmp", flushes it, then
// renames it onto path. On any failure the temp file is removed and the
// original path is left untouched.
func WriteJSON(path string, value interface{}) error {
	data, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		return err
	}
	return writeAtomic(path, data)
}

// ReadJSON reads and parses the JSON file at path into v. It returns
// (true, nil) on success, (false, nil) if the file is absent or fails to
// parse (transient propagation delay or a corrupt write — both are treated
// as "not yet there" by every caller), and (false, err) only for errors that
// are neither of those (e.g. a permission failure).
func ReadJSON(path string, v interface{}) (bool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}
	if err := json.Unmarshal(data, v); err != nil {
		// A record that fails to parse is presented as absent: the caller
		// treats it exactly like a not-yet-propagated file and retries on
		// its own schedule, rather than failing the whole scan.
		return false, nil
	}
	return true, nil
}

// WriteText atomically writes raw text to path using the same
// write-then-rename discipline as WriteJSON.
func WriteText(path string, text string) error {
	return writeAtomic(path, []byte(text))
}

// ReadText reads the raw contents of path. Returns (false, nil) if absent.
func ReadText(path string) (string, bool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", false, nil
		}
		return "", false, err
	}
	return string(data), true, nil
}

// Exists reports whether path exists, treating any stat error other than
// "not found" as false as well — existence checks in this package never
// surface an error, since every caller only ever branches on present/absent.
func Exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func writeAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	tmp := path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}

	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return err
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return err
	}

	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return nil
}

// ErrNotDirectory is returned by callers that need a path to already be a
// directory (e.g. a configured sync root) rather than silently creating one.
var ErrNotDirectory = errors.New("path exists but is not a directory")

// RequireDirectory returns ErrNotDirectory if path exists and is not a
// directory. A missing path is not an error here; callers create it.
func RequireDirectory(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	if !info.IsDir() {
		return ErrNotDirectory
	}
	return nil
}

// Package ipc implements the local duplex-pipe wire protocol between the
// Render Supervisor and its agent child process: 4-byte little-endian
// length-prefixed JSON frames, with message-type-specific payload structs
// on both directions of the conversation.
package ipc

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
)

const maxFrameBytes = 16 << 20 // guards against a corrupt length prefix wedging the reader

// WriteFrame marshals v and writes it as one length-prefixed frame.
func WriteFrame(w io.Writer, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal frame: %w", err)
	}

	header := make([]byte, 4)
	binary.LittleEndian.PutUint32(header, uint32(len(data)))
	if _, err := w.Write(header); err != nil {
		return fmt.Errorf("write frame header: %w", err)
	}
	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("write frame body: %w", err)
	}
	return nil
}

// ReadFrame reads one length-prefixed frame and unmarshals it into v.
func ReadFrame(r io.Reader, v any) error {
	body, err := ReadRawFrame(r)
	if err != nil {
		return err
	}
	return json.Unmarshal(body, v)
}

// ReadRawFrame reads one length-prefixed frame and returns its undecoded
// JSON body, letting a caller peek the Envelope's Type before choosing
// which payload struct to unmarshal into.
func ReadRawFrame(r io.Reader) ([]byte, error) {
	header := make([]byte, 4)
	if _, err := io.ReadFull(r, header); err != nil {
		return nil, err
	}

	n := binary.LittleEndian.Uint32(header)
	if n > maxFrameBytes {
		return nil, fmt.Errorf("frame too large: %d bytes", n)
	}

	body := make([]byte, n)
	if _, err := io.ReadFull(r, body); err != nil {
		return nil, fmt.Errorf("read frame body: %w", err)
	}
	return body, nil
}

// Envelope is the minimal shape every frame carries; callers peek at Type
// before unmarshaling the full payload into the type-specific struct.
type Envelope struct {
	Type string `json:"type"`
}

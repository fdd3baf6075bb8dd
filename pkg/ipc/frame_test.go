package ipc

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteReadFrameRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	task := Task{Type: TypeTask, JobID: "job-1", FrameStart: 1, FrameEnd: 10}

	require.NoError(t, WriteFrame(&buf, task))

	var got Task
	require.NoError(t, ReadFrame(&buf, &got))
	assert.Equal(t, task, got)
}

func TestReadFrameRejectsOversizedLength(t *testing.T) {
	var buf bytes.Buffer
	buf.Write([]byte{0xff, 0xff, 0xff, 0xff}) // absurd length prefix

	var got Envelope
	assert.Error(t, ReadFrame(&buf, &got))
}

func TestMultipleFramesReadInOrder(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteFrame(&buf, Ack{Type: TypeAck}))
	require.NoError(t, WriteFrame(&buf, Pong{Type: TypePong}))

	var ack Envelope
	require.NoError(t, ReadFrame(&buf, &ack))
	assert.Equal(t, TypeAck, ack.Type)

	var pong Envelope
	require.NoError(t, ReadFrame(&buf, &pong))
	assert.Equal(t, TypePong, pong.Type)
}

func TestSubstituteTokensReplacesAllThree(t *testing.T) {
	out := SubstituteTokens([]string{"-f", "{frame}", "--range", "{chunk_start}-{chunk_end}"}, 42, 1, 100)
	assert.Equal(t, []string{"-f", "42", "--range", "1-100"}, out)
}

package rendersupervisor

import (
	"context"
	"fmt"
	"io"
	"os/exec"
	"sync"
	"time"

	"github.com/smallrender/core/pkg/ipc"
)

// shutdownGrace is how long Close waits for the agent to exit after a
// shutdown frame before it force-kills the process.
const shutdownGrace = 5 * time.Second

// ProcessAgent is the concrete Agent: a local child process speaking the
// length-prefixed JSON frame protocol over its stdin/stdout pipes.
type ProcessAgent struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout io.ReadCloser

	writeMu sync.Mutex
}

// NewProcessAgentFactory returns an AgentFactory that launches binaryPath
// fresh for every dispatched chunk.
func NewProcessAgentFactory(ctx context.Context, binaryPath string, args ...string) AgentFactory {
	return func() (Agent, error) {
		return StartProcessAgent(ctx, binaryPath, args...)
	}
}

// StartProcessAgent launches the agent binary and wires its stdio pipes.
func StartProcessAgent(ctx context.Context, binaryPath string, args ...string) (*ProcessAgent, error) {
	cmd := exec.CommandContext(ctx, binaryPath, args...)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("open agent stdin: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("open agent stdout: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start agent: %w", err)
	}

	return &ProcessAgent{cmd: cmd, stdin: stdin, stdout: stdout}, nil
}

// SendFrame writes one length-prefixed JSON frame to the agent's stdin.
func (a *ProcessAgent) SendFrame(v any) error {
	a.writeMu.Lock()
	defer a.writeMu.Unlock()
	return ipc.WriteFrame(a.stdin, v)
}

// ReadRawFrame blocks until one length-prefixed frame arrives on the
// agent's stdout, returning its undecoded JSON body.
func (a *ProcessAgent) ReadRawFrame() ([]byte, error) {
	return ipc.ReadRawFrame(a.stdout)
}

// Close attempts a graceful shutdown (the caller is expected to have sent
// a shutdown frame already) and falls back to killing the process if it
// doesn't exit within shutdownGrace.
func (a *ProcessAgent) Close() error {
	_ = a.stdin.Close()

	if a.cmd.Process == nil {
		return nil
	}

	done := make(chan error, 1)
	go func() { done <- a.cmd.Wait() }()

	select {
	case err := <-done:
		return err
	case <-time.After(shutdownGrace):
		_ = a.cmd.Process.Kill()
		<-done
		return fmt.Errorf("agent did not exit within %s, killed", shutdownGrace)
	}
}

package udpwake

import (
	"encoding/json"
	"net"

	"github.com/smallrender/core/pkg/log"
)

// Listener joins the multicast group and dispatches received nudges to the
// interested local component. It never trusts a datagram's content beyond
// deciding what to poll sooner — the filesystem remains the source of truth.
type Listener struct {
	selfID string
	conn   *net.UDPConn

	command    CommandWaker
	submission SubmissionWaker
	job        JobInvalidator

	stopCh chan struct{}
	doneCh chan struct{}
}

// NewListener joins group:port on the system's default multicast
// interface. command/submission/job may be nil if this node hosts no such
// component (e.g. a non-coordinator has no SubmissionWaker).
func NewListener(selfID, group string, port int, command CommandWaker, submission SubmissionWaker, job JobInvalidator) (*Listener, error) {
	addr := &net.UDPAddr{IP: net.ParseIP(group), Port: port}
	conn, err := net.ListenMulticastUDP("udp4", nil, addr)
	if err != nil {
		return nil, err
	}

	return &Listener{
		selfID:     selfID,
		conn:       conn,
		command:    command,
		submission: submission,
		job:        job,
		stopCh:     make(chan struct{}),
		doneCh:     make(chan struct{}),
	}, nil
}

// Start launches the background receive loop.
func (l *Listener) Start() {
	go l.run()
}

// Stop closes the socket and waits for the receive loop to exit.
func (l *Listener) Stop() {
	close(l.stopCh)
	_ = l.conn.Close()
	<-l.doneCh
}

func (l *Listener) run() {
	defer close(l.doneCh)
	logger := log.WithComponent("udp-wake")

	buf := make([]byte, maxMessageBytes)
	for {
		n, _, err := l.conn.ReadFromUDP(buf)
		if err != nil {
			select {
			case <-l.stopCh:
				return
			default:
				logger.Debug().Err(err).Msg("datagram read failed, relying on polling cadence")
				continue
			}
		}

		var msg Message
		if err := json.Unmarshal(buf[:n], &msg); err != nil {
			continue
		}
		if msg.From == l.selfID {
			continue
		}
		l.dispatch(msg)
	}
}

func (l *Listener) dispatch(msg Message) {
	switch msg.Kind {
	case KindCommand:
		if l.command != nil && (msg.Target == "" || msg.Target == l.selfID) {
			l.command.Wake()
		}
	case KindSubmission:
		if l.submission != nil {
			l.submission.Wake()
		}
	case KindJob:
		if l.job != nil {
			l.job.Invalidate()
		}
	}
}

package udpwake

import (
	"encoding/json"
	"fmt"
	"net"

	"github.com/smallrender/core/pkg/log"
)

// Sender emits nudges onto the multicast group. It satisfies
// pkg/commandchannel.Notifier via Notify.
type Sender struct {
	selfID string
	conn   *net.UDPConn
}

// NewSender dials the multicast group for sending only.
func NewSender(selfID, group string, port int) (*Sender, error) {
	addr, err := net.ResolveUDPAddr("udp4", fmt.Sprintf("%s:%d", group, port))
	if err != nil {
		return nil, fmt.Errorf("resolve multicast group: %w", err)
	}
	conn, err := net.DialUDP("udp4", nil, addr)
	if err != nil {
		return nil, fmt.Errorf("dial multicast group: %w", err)
	}
	return &Sender{selfID: selfID, conn: conn}, nil
}

// Close releases the underlying socket.
func (s *Sender) Close() error { return s.conn.Close() }

// Notify satisfies pkg/commandchannel.Notifier: nudge target to drain its
// inbox before its next poll tick.
func (s *Sender) Notify(target string) { s.send(KindCommand, target) }

// NotifySubmission nudges every listener's Submission Intake.
func (s *Sender) NotifySubmission() { s.send(KindSubmission, "") }

// NotifyJob nudges every listener's Job Store to rescan immediately.
func (s *Sender) NotifyJob() { s.send(KindJob, "") }

func (s *Sender) send(kind Kind, target string) {
	logger := log.WithComponent("udp-wake")

	data, ok := encodeDatagram(Message{From: s.selfID, Kind: kind, Target: target})
	if !ok {
		logger.Warn().Str("kind", string(kind)).Msg("dropping oversized datagram")
		return
	}
	if _, err := s.conn.Write(data); err != nil {
		logger.Debug().Err(err).Msg("datagram send failed, falling back to polling cadence")
	}
}

// encodeDatagram marshals msg and applies the MTU guard, returning
// ok=false for anything that would exceed maxMessageBytes once encoded.
func encodeDatagram(msg Message) ([]byte, bool) {
	data, err := json.Marshal(msg)
	if err != nil {
		return nil, false
	}
	if len(data) > maxMessageBytes {
		return nil, false
	}
	return data, true
}

// Package udpwake implements the optional Datagram Wake component: a best
// effort IPv4 multicast nudge that shortens a peer's next poll cycle. It is
// never authoritative — anything learned from a datagram is also visible
// on the filesystem and must be confirmed there before a recipient acts on
// it. Every consumer accepts a nil Sender/Listener and degrades to pure
// polling cadence.
package udpwake

// Kind identifies what a datagram is nudging the recipient about.
type Kind string

const (
	KindHeartbeat  Kind = "heartbeat"
	KindCommand    Kind = "command"
	KindSubmission Kind = "submission"
	KindJob        Kind = "job"
)

// maxMessageBytes is the MTU guard: anything larger than this, encoded or
// received, is silently dropped rather than fragmented.
const maxMessageBytes = 1400

// Message is the compact JSON payload exchanged on the multicast group.
type Message struct {
	From   string `json:"from"`
	Kind   Kind   `json:"kind"`
	Target string `json:"target,omitempty"` // addressed node, for Kind == command
}

// CommandWaker is satisfied by pkg/commandchannel.Channel.
type CommandWaker interface {
	Wake()
}

// SubmissionWaker is satisfied by pkg/submission.Intake.
type SubmissionWaker interface {
	Wake()
}

// JobInvalidator is satisfied by pkg/jobstore.Store.
type JobInvalidator interface {
	Invalidate()
}

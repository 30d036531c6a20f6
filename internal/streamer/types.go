// Package streamer implements the per-stream coordinator: admission,
// timestamp policy, dense sequencing, pipelined durable commits with
// FIFO ack ordering, and post-commit broadcast publication.
package streamer

import (
	"github.com/wharfdb/wharf/internal/basin"
	"github.com/wharfdb/wharf/internal/record"
)

// State is the Streamer's lifecycle stage.
type State int

const (
	StateResolving State = iota
	StateReady
	StateDraining
	StateShutdown
)

func (s State) String() string {
	switch s {
	case StateResolving:
		return "Resolving"
	case StateReady:
		return "Ready"
	case StateDraining:
		return "Draining"
	case StateShutdown:
		return "Shutdown"
	default:
		return "Unknown"
	}
}

// AppendRecordInput is one record as submitted by a caller, before
// admission/sequencing/timestamping.
type AppendRecordInput struct {
	Headers []record.Header
	Body    []byte
	// TimestampMs is nil when the caller did not supply a timestamp.
	TimestampMs *uint64
}

// AppendRequest is the inbound contract's unit of work.
type AppendRequest struct {
	Records []AppendRecordInput
	// MatchSeqNum, if non-nil, must equal the current next_seq or the whole
	// request fails with WrongSeq.
	MatchSeqNum *uint64
	// StrictTimestamps overrides the stream's configured strictness for this
	// request only when true; it never relaxes a stream-level strict policy.
	StrictTimestamps bool

	replyCh chan appendReply
}

// Ack is returned on a fully committed AppendRequest.
type Ack struct {
	FirstSeq        uint64
	LastSeq         uint64
	LastTimestampMs uint64
	TailNextSeq     uint64
}

type appendReply struct {
	ack Ack
	err error
}

// TailPosition mirrors tailstore.Position without importing the tailstore
// package into the public surface of the Streamer.
type TailPosition struct {
	NextSeqNum    uint64
	LastTimestamp uint64
}

// Published is a batch of freshly, durably committed records delivered to
// broadcast subscribers strictly after acknowledgement.
type Published struct {
	Records []record.Record
}

// Handle is the client-facing capability returned by the registry.
type Handle interface {
	// Append submits req and blocks until the Streamer has replied. It takes
	// no context: once a request is submitted, the caller waits for the
	// reply.
	Append(req *AppendRequest) (Ack, error)
	CheckTail() (TailPosition, error)
	Reconfigure(cfg basin.StreamConfig) error
	Subscribe() (*Subscription, error)
	// SubscribeFrom atomically subscribes to the broadcast and reports the
	// durable tail as of the moment the subscription was registered, so a
	// caller can catch up from exactly that position with no gap and no
	// duplicate: any batch committed before the subscription is included in
	// the returned TailPosition, and any batch committed after is delivered
	// on the Subscription.
	SubscribeFrom() (*Subscription, TailPosition, error)
	// Drain transitions the Streamer through Draining to Shutdown, waiting
	// for in-flight batches to finish. Idempotent.
	Drain()
	Done() <-chan struct{}
}

package streamer

import (
	"context"
	"sync"
	"time"

	"github.com/wharfdb/wharf/internal/apierr"
	"github.com/wharfdb/wharf/internal/basin"
	"github.com/wharfdb/wharf/internal/kv"
	"github.com/wharfdb/wharf/internal/streamid"
	"github.com/wharfdb/wharf/internal/tailstore"
	"github.com/wharfdb/wharf/pkg/log"
)

// DefaultPipelineDepth is used when PIPELINE_ENABLED is set. spec.md flags a
// known safety concern for depth > 1 (a later batch's writer must not
// observe conflicting speculative state before an earlier batch settles);
// depth 3 mirrors the scenario the original implementation's own tests
// exercise and is small enough that the FIFO drain still bounds memory.
const DefaultPipelineDepth = 3

type controlMsg struct {
	kind    controlKind
	cfg     basin.StreamConfig
	replyCh chan error
	doneCh  chan struct{}
}

type controlKind int

const (
	controlReconfigure controlKind = iota
	controlDrain
)

// Streamer is the single long-lived coordinator for one stream's admission,
// sequencing, durable commit, and broadcast publication.
type Streamer struct {
	id         streamid.ID
	basinName  string
	streamName string
	store      kv.KV
	clk        clock
	logger     log.Logger

	pipelineDepth int

	mu    sync.Mutex
	state State
	cfg   basin.StreamConfig

	appendCh  chan *AppendRequest
	controlCh chan controlMsg
	doneCh    chan struct{}

	bc *broadcaster

	// speculativeNext/speculativeTs track the tail as if every admitted (not
	// necessarily committed) batch succeeds; durableNext/durableTs track the
	// last position actually acknowledged durable. CheckTail reports the
	// durable position only.
	speculativeNext uint64
	speculativeTs   uint64
	durableNext     uint64
	durableTs       uint64
}

// Spawner constructs Streamers on demand; internal/registry holds one per
// process and calls New per StreamID on first access.
type Spawner struct {
	Store        kv.KV
	BasinStore   *basin.Store
	Logger       log.Logger
	PipelineFlag bool
}

// New creates and starts a Streamer for (basinName, streamName). The
// Streamer begins in StateResolving and resolves its tail asynchronously
// before accepting appends.
func (sp *Spawner) New(basinName, streamName string) (*Streamer, error) {
	id := streamid.Derive(basinName, streamName)
	cfg, err := sp.BasinStore.GetStreamConfig(context.Background(), basinName, streamName)
	if err != nil {
		return nil, err
	}
	depth := 1
	if sp.PipelineFlag {
		depth = DefaultPipelineDepth
	}
	logger := sp.Logger
	if logger == nil {
		logger = log.NewLogger()
	}
	s := &Streamer{
		id:            id,
		basinName:     basinName,
		streamName:    streamName,
		store:         sp.Store,
		clk:           systemClock{},
		logger:        logger.With(log.Str("basin", basinName), log.Str("stream", streamName)),
		pipelineDepth: depth,
		cfg:           cfg,
		appendCh:      make(chan *AppendRequest),
		controlCh:     make(chan controlMsg),
		doneCh:        make(chan struct{}),
		bc:            newBroadcaster(),
	}
	go s.run()
	return s, nil
}

func (s *Streamer) run() {
	defer close(s.doneCh)

	pos, err := tailstore.Resolve(context.Background(), s.store, s.id)
	s.mu.Lock()
	if err != nil {
		s.logger.Error("tail resolution failed", log.Err(err))
		s.state = StateShutdown
		s.mu.Unlock()
		return
	}
	s.speculativeNext, s.speculativeTs = pos.NextSeqNum, pos.LastTimestamp
	s.durableNext, s.durableTs = pos.NextSeqNum, pos.LastTimestamp
	s.state = StateReady
	s.mu.Unlock()

	queue := make([]*inflightBatch, 0, s.pipelineDepth)

	for {
		s.mu.Lock()
		state := s.state
		canAccept := state == StateReady && len(queue) < s.pipelineDepth
		s.mu.Unlock()

		var acceptCh chan *AppendRequest
		if canAccept {
			acceptCh = s.appendCh
		}
		var headDone chan commitResult
		if len(queue) > 0 {
			headDone = queue[0].doneCh
		}

		select {
		case req := <-acceptCh:
			batch := s.handleAppend(req)
			if batch != nil {
				queue = append(queue, batch)
			}

		case res := <-headDone:
			batch := queue[0]
			queue = queue[1:]
			aborted := s.handleCommitResult(batch, res, queue)
			if aborted {
				queue = nil
			}
			if state == StateDraining && len(queue) == 0 {
				s.mu.Lock()
				s.state = StateShutdown
				s.mu.Unlock()
				s.bc.closeAll()
				return
			}

		case msg := <-s.controlCh:
			switch msg.kind {
			case controlReconfigure:
				s.mu.Lock()
				s.cfg = msg.cfg
				s.mu.Unlock()
				msg.replyCh <- nil
			case controlDrain:
				s.mu.Lock()
				s.state = StateDraining
				empty := len(queue) == 0
				s.mu.Unlock()
				if empty {
					close(msg.doneCh)
					s.mu.Lock()
					s.state = StateShutdown
					s.mu.Unlock()
					s.bc.closeAll()
					return
				}
				close(msg.doneCh)
			}
		}
	}
}

// handleAppend performs admission, timestamp policy, and dense sequencing,
// then dispatches the durable commit asynchronously. Returns nil if the
// request was rejected synchronously (reply already sent).
func (s *Streamer) handleAppend(req *AppendRequest) *inflightBatch {
	s.mu.Lock()
	cfg := s.cfg
	firstSeq := s.speculativeNext
	prevTs := s.speculativeTs
	s.mu.Unlock()

	if len(req.Records) == 0 {
		req.replyCh <- appendReply{err: apierr.New(apierr.KindInvalidArgument, "append request has no records")}
		return nil
	}
	if cfg.MaxRecordsPerBatch > 0 && len(req.Records) > cfg.MaxRecordsPerBatch {
		req.replyCh <- appendReply{err: apierr.New(apierr.KindInvalidArgument, "batch exceeds max records per batch")}
		return nil
	}
	for _, r := range req.Records {
		if cfg.PayloadMaxBytes > 0 && len(r.Body) > cfg.PayloadMaxBytes {
			req.replyCh <- appendReply{err: apierr.New(apierr.KindInvalidArgument, "record payload exceeds configured limit")}
			return nil
		}
		if cfg.HeadersMaxBytes > 0 {
			total := 0
			for _, h := range r.Headers {
				total += len(h.Name) + len(h.Value)
			}
			if total > cfg.HeadersMaxBytes {
				req.replyCh <- appendReply{err: apierr.New(apierr.KindInvalidArgument, "record headers exceed configured limit")}
				return nil
			}
		}
	}
	if req.MatchSeqNum != nil && *req.MatchSeqNum != firstSeq {
		req.replyCh <- appendReply{err: apierr.New(apierr.KindWrongSeq, "match_seq_num does not equal the current tail")}
		return nil
	}

	strict := cfg.StrictTimestamps || req.StrictTimestamps
	records, err := sequenceRecords(req.Records, firstSeq, prevTs, cfg.TimestampingMode, strict, s.clk)
	if err != nil {
		req.replyCh <- appendReply{err: err}
		return nil
	}

	last := records[len(records)-1]
	s.mu.Lock()
	s.speculativeNext = last.SeqNum + 1
	s.speculativeTs = last.TimestampMs
	s.mu.Unlock()

	batch := &inflightBatch{
		req:      req,
		records:  records,
		firstSeq: firstSeq,
		lastSeq:  last.SeqNum,
		lastTs:   last.TimestampMs,
		doneCh:   make(chan commitResult, 1),
	}

	var ttl time.Duration
	if cfg.RetentionSeconds > 0 {
		ttl = time.Duration(cfg.RetentionSeconds) * time.Second
	}
	go func() {
		batch.doneCh <- commitBatch(s.store, s.id, records, ttl)
	}()
	return batch
}

// handleCommitResult resolves a completed head-of-queue batch. On success it
// advances the durable tail, acks the caller, and publishes. On failure it
// acks the caller with the failure, aborts every later queued batch with
// Aborted, and rolls the speculative tail back to the last durable position.
// The Streamer itself remains Ready either way. Returns true if the queue
// was aborted (caller must discard remaining entries).
func (s *Streamer) handleCommitResult(batch *inflightBatch, res commitResult, rest []*inflightBatch) bool {
	if res.err == nil {
		s.mu.Lock()
		s.durableNext = batch.lastSeq + 1
		s.durableTs = batch.lastTs
		// Publish while still holding mu so it is serialized against
		// SubscribeFrom: a subscriber registered before this point receives
		// this batch on its channel, and one registered after sees it
		// already reflected in durableNext and catches up via durable scan.
		// Neither ordering can miss it.
		s.bc.publish(Published{Records: batch.records})
		s.mu.Unlock()

		batch.req.replyCh <- appendReply{ack: Ack{
			FirstSeq:        batch.firstSeq,
			LastSeq:         batch.lastSeq,
			LastTimestampMs: batch.lastTs,
			TailNextSeq:     batch.lastSeq + 1,
		}}
		return false
	}

	batch.req.replyCh <- appendReply{err: res.err}

	for _, later := range rest {
		later.req.replyCh <- appendReply{err: apierr.New(apierr.KindAborted, "aborted: an earlier pipelined batch failed to commit")}
	}

	s.mu.Lock()
	s.speculativeNext = s.durableNext
	s.speculativeTs = s.durableTs
	s.mu.Unlock()

	s.logger.Error("batch commit failed, later pipelined batches aborted", log.Err(res.err), log.Uint64("firstSeq", batch.firstSeq))
	return true
}

// Append implements Handle. A request made while the Streamer is still
// resolving its tail waits until resolution finishes; one made while it is
// draining or shut down is rejected with Unavailable.
func (s *Streamer) Append(req *AppendRequest) (Ack, error) {
	req.replyCh = make(chan appendReply, 1)
	s.mu.Lock()
	state := s.state
	s.mu.Unlock()
	if state != StateReady && state != StateResolving {
		return Ack{}, apierr.New(apierr.KindUnavailable, "streamer is not ready")
	}
	select {
	case s.appendCh <- req:
	case <-s.doneCh:
		return Ack{}, apierr.New(apierr.KindUnavailable, "streamer is shutting down")
	}
	reply := <-req.replyCh
	return reply.ack, reply.err
}

// CheckTail implements Handle, reporting the durable (not speculative) tail.
func (s *Streamer) CheckTail() (TailPosition, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateShutdown {
		return TailPosition{}, apierr.New(apierr.KindUnavailable, "streamer is shut down")
	}
	if s.state == StateResolving {
		return TailPosition{}, apierr.New(apierr.KindUnavailable, "streamer is still resolving its tail")
	}
	return TailPosition{NextSeqNum: s.durableNext, LastTimestamp: s.durableTs}, nil
}

// Reconfigure implements Handle.
func (s *Streamer) Reconfigure(cfg basin.StreamConfig) error {
	replyCh := make(chan error, 1)
	select {
	case s.controlCh <- controlMsg{kind: controlReconfigure, cfg: cfg, replyCh: replyCh}:
	case <-s.doneCh:
		return apierr.New(apierr.KindUnavailable, "streamer is shut down")
	}
	return <-replyCh
}

// Subscribe implements Handle.
func (s *Streamer) Subscribe() (*Subscription, error) {
	s.mu.Lock()
	state := s.state
	s.mu.Unlock()
	if state == StateShutdown {
		return nil, apierr.New(apierr.KindUnavailable, "streamer is shut down")
	}
	return s.bc.subscribe(), nil
}

// SubscribeFrom implements Handle. It registers the subscription and reads
// the durable tail under the same lock handleCommitResult holds while
// publishing, so the two can never interleave: whichever runs first is
// fully visible to the other. While the Streamer is still resolving its
// tail, SubscribeFrom waits until resolution finishes.
func (s *Streamer) SubscribeFrom() (*Subscription, TailPosition, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for s.state == StateResolving {
		s.mu.Unlock()
		time.Sleep(time.Millisecond)
		s.mu.Lock()
	}
	if s.state == StateShutdown {
		return nil, TailPosition{}, apierr.New(apierr.KindUnavailable, "streamer is shut down")
	}
	sub := s.bc.subscribe()
	return sub, TailPosition{NextSeqNum: s.durableNext, LastTimestamp: s.durableTs}, nil
}

// Drain implements Handle.
func (s *Streamer) Drain() {
	ackCh := make(chan struct{})
	select {
	case s.controlCh <- controlMsg{kind: controlDrain, doneCh: ackCh}:
		<-ackCh
	case <-s.doneCh:
		return
	}
	<-s.doneCh
}

// Done implements Handle.
func (s *Streamer) Done() <-chan struct{} {
	return s.doneCh
}

var _ Handle = (*Streamer)(nil)

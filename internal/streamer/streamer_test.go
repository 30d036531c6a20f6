package streamer

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/wharfdb/wharf/internal/apierr"
	"github.com/wharfdb/wharf/internal/basin"
	"github.com/wharfdb/wharf/internal/kv"
	pebblestore "github.com/wharfdb/wharf/internal/storage/pebble"
	"github.com/wharfdb/wharf/pkg/log"
)

// fixedClock returns a scripted sequence of millisecond timestamps, one per
// call, holding the last value once exhausted. This makes the S1-S3
// scenarios (which pin exact timestamps like 1000/1001/1002) deterministic.
type fixedClock struct {
	mu     sync.Mutex
	values []uint64
	idx    int
}

func (c *fixedClock) NowMs() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.idx >= len(c.values) {
		return c.values[len(c.values)-1]
	}
	v := c.values[c.idx]
	c.idx++
	return v
}

// flakyKV wraps a real kv.KV and fails PutBatch starting from the Nth call
// (1-indexed) with ErrUnavailable, to exercise the pipelined-abort path.
// When gate is non-nil, a failing call blocks until gate is closed.
type flakyKV struct {
	kv.KV
	failFrom  int32
	failUntil int32 // inclusive; 0 means "no upper bound"
	calls     int32
	gate      chan struct{}
}

func (f *flakyKV) PutBatch(ctx context.Context, entries []kv.Entry) error {
	n := atomic.AddInt32(&f.calls, 1)
	inRange := f.failFrom > 0 && n >= f.failFrom && (f.failUntil == 0 || n <= f.failUntil)
	if inRange {
		if f.gate != nil {
			<-f.gate
		}
		return kv.ErrUnavailable
	}
	return f.KV.PutBatch(ctx, entries)
}

func newTestBackingKV(t *testing.T) kv.KV {
	t.Helper()
	db, err := pebblestore.Open(pebblestore.Options{DataDir: t.TempDir(), Fsync: pebblestore.FsyncModeNever})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return kv.NewPebbleKV(db)
}

func newStreamer(t *testing.T, store kv.KV, clk clock, cfg basin.StreamConfig) *Streamer {
	t.Helper()
	s := &Streamer{
		basinName:     "b",
		streamName:    "s",
		store:         store,
		clk:           clk,
		logger:        noopLogger{},
		pipelineDepth: 1,
		cfg:           cfg,
		appendCh:      make(chan *AppendRequest),
		controlCh:     make(chan controlMsg),
		doneCh:        make(chan struct{}),
		bc:            newBroadcaster(),
		state:         StateResolving,
	}
	s.id = deriveTestID()
	go s.run()
	t.Cleanup(s.Drain)
	return s
}

func waitReady(s *Streamer) {
	for {
		s.mu.Lock()
		st := s.state
		s.mu.Unlock()
		if st == StateReady {
			return
		}
		time.Sleep(time.Millisecond)
	}
}

func TestAppendCheckTailSequentialS1(t *testing.T) {
	store := newTestBackingKV(t)
	clk := &fixedClock{values: []uint64{1000, 1001, 1002}}
	s := newStreamer(t, store, clk, basin.StreamConfig{TimestampingMode: basin.TimestampingArrival, MaxRecordsPerBatch: 10})
	waitReady(s)

	for i := 0; i < 3; i++ {
		ack, err := s.Append(&AppendRequest{Records: []AppendRecordInput{{Body: []byte("x")}}})
		if err != nil {
			t.Fatalf("append %d: %v", i, err)
		}
		if ack.FirstSeq != uint64(i) || ack.LastSeq != uint64(i) {
			t.Fatalf("append %d: unexpected seq %+v", i, ack)
		}
	}

	tail, err := s.CheckTail()
	if err != nil {
		t.Fatalf("check tail: %v", err)
	}
	if tail.NextSeqNum != 3 || tail.LastTimestamp != 1002 {
		t.Fatalf("unexpected tail: %+v", tail)
	}
}

func TestStrictModeRejectsNonMonotonicTimestampS2(t *testing.T) {
	store := newTestBackingKV(t)
	clk := &fixedClock{values: []uint64{5000}}
	cfg := basin.StreamConfig{
		TimestampingMode:   basin.TimestampingClientRequire,
		StrictTimestamps:   true,
		MaxRecordsPerBatch: 10,
	}
	s := newStreamer(t, store, clk, cfg)
	waitReady(s)

	first := uint64(2000)
	if _, err := s.Append(&AppendRequest{Records: []AppendRecordInput{{Body: []byte("a"), TimestampMs: &first}}}); err != nil {
		t.Fatalf("first append: %v", err)
	}

	earlier := uint64(1000)
	_, err := s.Append(&AppendRequest{Records: []AppendRecordInput{{Body: []byte("b"), TimestampMs: &earlier}}})
	if apierr.KindOf(err) != apierr.KindNonMonotonicTimestamp {
		t.Fatalf("expected NonMonotonicTimestamp, got %v", err)
	}
}

func TestNonStrictCoercesTimestampMonotonicS3(t *testing.T) {
	store := newTestBackingKV(t)
	clk := &fixedClock{values: []uint64{9999}}
	cfg := basin.StreamConfig{TimestampingMode: basin.TimestampingClientPrefer, MaxRecordsPerBatch: 10}
	s := newStreamer(t, store, clk, cfg)
	waitReady(s)

	first := uint64(5000)
	ack1, err := s.Append(&AppendRequest{Records: []AppendRecordInput{{Body: []byte("a"), TimestampMs: &first}}})
	if err != nil {
		t.Fatalf("first append: %v", err)
	}
	if ack1.LastTimestampMs != 5000 {
		t.Fatalf("expected ts 5000, got %d", ack1.LastTimestampMs)
	}

	earlier := uint64(1000)
	ack2, err := s.Append(&AppendRequest{Records: []AppendRecordInput{{Body: []byte("b"), TimestampMs: &earlier}}})
	if err != nil {
		t.Fatalf("second append: %v", err)
	}
	if ack2.LastTimestampMs != 5000 {
		t.Fatalf("expected coercion to prior max 5000, got %d", ack2.LastTimestampMs)
	}
}

func TestWrongSeqRejected(t *testing.T) {
	store := newTestBackingKV(t)
	clk := &fixedClock{values: []uint64{1}}
	s := newStreamer(t, store, clk, basin.StreamConfig{TimestampingMode: basin.TimestampingArrival, MaxRecordsPerBatch: 10})
	waitReady(s)

	bad := uint64(41)
	_, err := s.Append(&AppendRequest{Records: []AppendRecordInput{{Body: []byte("x")}}, MatchSeqNum: &bad})
	if apierr.KindOf(err) != apierr.KindWrongSeq {
		t.Fatalf("expected WrongSeq, got %v", err)
	}
}

// TestPipelinedFailureAbortsLaterBatchesS6 exercises the pipelined
// commit-failure policy: the failing batch reports Unavailable, every later
// queued batch reports Aborted, the speculative tail rolls back to the last
// durable position, and the Streamer itself remains usable afterward.
func TestPipelinedFailureAbortsLaterBatchesS6(t *testing.T) {
	backing := newTestBackingKV(t)
	flaky := &flakyKV{KV: backing, failFrom: 2, failUntil: 4, gate: make(chan struct{})}
	clk := &fixedClock{values: []uint64{1, 2, 3, 4}}
	cfg := basin.StreamConfig{TimestampingMode: basin.TimestampingArrival, MaxRecordsPerBatch: 10}

	s := &Streamer{
		basinName:     "b",
		streamName:    "s",
		store:         flaky,
		clk:           clk,
		logger:        noopLogger{},
		pipelineDepth: 3,
		cfg:           cfg,
		appendCh:      make(chan *AppendRequest),
		controlCh:     make(chan controlMsg),
		doneCh:        make(chan struct{}),
		bc:            newBroadcaster(),
		state:         StateResolving,
	}
	s.id = deriveTestID()
	go s.run()
	t.Cleanup(s.Drain)
	waitReady(s)

	// Push all three requests directly onto the unbuffered accept channel.
	// A send only returns once the run loop's select has received it, so
	// this pins the exact FIFO admission order without racing goroutines
	// against each other.
	reqs := make([]*AppendRequest, 3)
	for i := range reqs {
		reqs[i] = &AppendRequest{
			Records: []AppendRecordInput{{Body: []byte{byte('x' + i)}}},
			replyCh: make(chan appendReply, 1),
		}
		s.appendCh <- reqs[i]
	}
	close(flaky.gate)

	// failFrom=2 means every batch commit fails: call #1 is consumed by
	// tailstore.Resolve's initial SP write on spawn, so the head-of-queue
	// batch is guaranteed to land on call #2 or later regardless of how the
	// three commit goroutines race each other. The failing calls block on
	// flaky.gate until all three requests are admitted, so the head batch
	// cannot settle while a later request is still unadmitted. The head
	// batch therefore always reports Unavailable, and the two batches
	// admitted after it are always aborted without their own commit outcome
	// ever being consulted.
	failCount, abortCount, okCount := 0, 0, 0
	for _, req := range reqs {
		reply := <-req.replyCh
		switch {
		case reply.err == nil:
			okCount++
		case apierr.KindOf(reply.err) == apierr.KindUnavailable:
			failCount++
		case apierr.KindOf(reply.err) == apierr.KindAborted:
			abortCount++
		default:
			t.Fatalf("unexpected error kind: %v", reply.err)
		}
	}
	if okCount != 0 || failCount != 1 || abortCount != 2 {
		t.Fatalf("expected 0 ok / 1 failed / 2 aborted, got ok=%d fail=%d abort=%d", okCount, failCount, abortCount)
	}

	tail, err := s.CheckTail()
	if err != nil {
		t.Fatalf("check tail: %v", err)
	}
	if tail.NextSeqNum != 0 {
		t.Fatalf("expected durable tail to remain unchanged since nothing committed, got %+v", tail)
	}

	ack, err := s.Append(&AppendRequest{Records: []AppendRecordInput{{Body: []byte("y")}}})
	if err != nil {
		t.Fatalf("streamer should stay Ready after a pipelined failure: %v", err)
	}
	if ack.FirstSeq != 0 {
		t.Fatalf("expected sequencing to resume from rolled-back tail, got %+v", ack)
	}
}

func TestSubscribePublishesAfterDurableAck(t *testing.T) {
	store := newTestBackingKV(t)
	clk := &fixedClock{values: []uint64{7}}
	s := newStreamer(t, store, clk, basin.StreamConfig{TimestampingMode: basin.TimestampingArrival, MaxRecordsPerBatch: 10})
	waitReady(s)

	sub, err := s.Subscribe()
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer sub.Unsubscribe()

	if _, err := s.Append(&AppendRequest{Records: []AppendRecordInput{{Body: []byte("z")}}}); err != nil {
		t.Fatalf("append: %v", err)
	}

	published, lagged, open := sub.Recv()
	if lagged || !open {
		t.Fatalf("unexpected lagged=%v open=%v", lagged, open)
	}
	if len(published.Records) != 1 || string(published.Records[0].Body) != "z" {
		t.Fatalf("unexpected published batch: %+v", published)
	}
}

func TestDrainTransitionsToShutdown(t *testing.T) {
	store := newTestBackingKV(t)
	clk := &fixedClock{values: []uint64{1}}
	s := newStreamer(t, store, clk, basin.StreamConfig{TimestampingMode: basin.TimestampingArrival, MaxRecordsPerBatch: 10})
	waitReady(s)

	s.Drain()
	select {
	case <-s.Done():
	case <-time.After(time.Second):
		t.Fatal("expected streamer to shut down after Drain")
	}

	if _, err := s.CheckTail(); apierr.KindOf(err) != apierr.KindUnavailable {
		t.Fatalf("expected Unavailable after shutdown, got %v", err)
	}
}

// noopLogger discards everything; used in tests to avoid depending on
// pkg/log's default console output during unit tests.
type noopLogger struct{}

func (noopLogger) Debug(string, ...log.Field) {}
func (noopLogger) Info(string, ...log.Field)  {}
func (noopLogger) Warn(string, ...log.Field)  {}
func (noopLogger) Error(string, ...log.Field) {}
func (noopLogger) Fatal(string, ...log.Field) {}

func (noopLogger) Debugf(string, ...interface{}) {}
func (noopLogger) Infof(string, ...interface{})  {}
func (noopLogger) Warnf(string, ...interface{})  {}
func (noopLogger) Errorf(string, ...interface{}) {}
func (noopLogger) Fatalf(string, ...interface{}) {}

func (n noopLogger) WithField(string, interface{}) log.Logger  { return n }
func (n noopLogger) WithFields(log.Fields) log.Logger          { return n }
func (n noopLogger) WithError(error) log.Logger                { return n }
func (n noopLogger) With(...log.Field) log.Logger              { return n }
func (n noopLogger) WithContext(context.Context) log.Logger    { return n }
func (n noopLogger) WithComponent(string) log.Logger           { return n }
func (noopLogger) SetLevel(log.Level)                          {}
func (noopLogger) GetLevel() log.Level                          { return log.InfoLevel }

func deriveTestID() [32]byte {
	var id [32]byte
	id[0] = 0x42
	return id
}

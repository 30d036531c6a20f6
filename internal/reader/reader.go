package reader

import (
	"context"
	"errors"

	"github.com/wharfdb/wharf/internal/apierr"
	"github.com/wharfdb/wharf/internal/kv"
	"github.com/wharfdb/wharf/internal/record"
	"github.com/wharfdb/wharf/internal/streamer"
	"github.com/wharfdb/wharf/internal/streamid"
	"github.com/wharfdb/wharf/internal/tailstore"
)

// Options bounds a single read call. Limit and ByteBudget are independent
// stopping conditions; the scan halts at whichever triggers first. Filter,
// when non-empty, is a CEL boolean expression evaluated per record after
// decode and before it counts against Limit/ByteBudget.
type Options struct {
	Limit      int
	ByteBudget int
	Filter     string
}

// Reader implements the by-seq, by-timestamp, and tailing read paths over a
// single stream's KV state, optionally attaching to a live Streamer's
// broadcast for tailing.
type Reader struct {
	store kv.KV
	id    streamid.ID
}

// New builds a Reader over store for the stream identified by id.
func New(store kv.KV, id streamid.ID) *Reader {
	return &Reader{store: store, id: id}
}

// ReadFromSeq performs the by-seq_num forward scan starting at startSeq.
func (r *Reader) ReadFromSeq(ctx context.Context, startSeq uint64, opts Options) ([]record.Record, error) {
	pred, err := newPredicate(opts.Filter)
	if err != nil {
		return nil, err
	}
	start := kv.RecordKey(r.id, startSeq)
	end := append(append([]byte(nil), kv.RecordPrefix(r.id)...), 0xff)
	return r.scanRecords(ctx, start, end, opts, pred)
}

// ReadFromTimestamp performs the by-timestamp scan: it finds the first "ST"
// entry at or after startTs to derive a starting seq_num, then proceeds as
// ReadFromSeq.
func (r *Reader) ReadFromTimestamp(ctx context.Context, startTs uint64, opts Options) ([]record.Record, error) {
	start := kv.TimeIndexStartKey(r.id, startTs)
	end := append(append([]byte(nil), kv.TimeIndexPrefix(r.id)...), 0xff)
	entries, err := r.store.Scan(ctx, start, end, kv.Forward, 1)
	if err != nil {
		return nil, apierr.Wrap(apierr.KindUnavailable, "scan timestamp index", err)
	}
	if len(entries) == 0 {
		return nil, nil
	}
	seqNum, ok := decodeTimeIndexSeq(entries[0].Key, r.id)
	if !ok {
		return nil, apierr.New(apierr.KindCorrupt, "malformed timestamp index key")
	}
	return r.ReadFromSeq(ctx, seqNum, opts)
}

// decodeTimeIndexSeq extracts the trailing seq_num from an "ST" key, whose
// layout is "ST" ‖ StreamID(32) ‖ be_u64(timestamp) ‖ be_u64(seq_num).
func decodeTimeIndexSeq(key []byte, id streamid.ID) (uint64, bool) {
	const headerLen = 2 + 32 + 8
	if len(key) != headerLen+8 {
		return 0, false
	}
	var seq uint64
	for _, b := range key[headerLen:] {
		seq = seq<<8 | uint64(b)
	}
	return seq, true
}

// decodeRecordKeySeq extracts the trailing seq_num from an "SD" key, whose
// layout is "SD" ‖ StreamID(32) ‖ be_u64(seq_num).
func decodeRecordKeySeq(key []byte) (uint64, bool) {
	const headerLen = 2 + 32
	if len(key) != headerLen+8 {
		return 0, false
	}
	var seq uint64
	for _, b := range key[headerLen:] {
		seq = seq<<8 | uint64(b)
	}
	return seq, true
}

func (r *Reader) scanRecords(ctx context.Context, start, end []byte, opts Options, pred predicate) ([]record.Record, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = 0 // unbounded scan; ByteBudget or exhaustion stops it
	}
	scanLimit := 0
	if limit > 0 && opts.Filter == "" {
		// Without a post-filter the scan can be bounded exactly; with one,
		// records may be dropped after decode so the underlying scan must
		// stay unbounded and the caller-visible limit is enforced below.
		scanLimit = limit
	}
	entries, err := r.store.Scan(ctx, start, end, kv.Forward, scanLimit)
	if err != nil {
		return nil, apierr.Wrap(apierr.KindUnavailable, "scan record data", err)
	}

	out := make([]record.Record, 0, len(entries))
	byteTotal := 0
	for _, e := range entries {
		rec, err := record.Decode(e.Value)
		if err != nil {
			return nil, apierr.Wrap(apierr.KindCorrupt, "decode record", err)
		}
		keySeq, ok := decodeRecordKeySeq(e.Key)
		if !ok || keySeq != rec.SeqNum {
			return nil, apierr.New(apierr.KindCorrupt, "record seq_num does not match its key")
		}
		if !pred.eval(rec) {
			continue
		}
		if opts.ByteBudget > 0 && byteTotal+len(rec.Body) > opts.ByteBudget {
			break
		}
		out = append(out, rec)
		byteTotal += len(rec.Body)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

// CheckTail reports the stream's durable tail, preferring a live Streamer's
// in-memory (fresher) position and falling back to the persisted SP record
// when no Streamer is live for this stream.
func CheckTail(ctx context.Context, store kv.KV, id streamid.ID, live streamer.Handle) (streamer.TailPosition, error) {
	if live != nil {
		return live.CheckTail()
	}
	pos, err := tailstore.Resolve(ctx, store, id)
	if err != nil {
		if errors.Is(err, kv.ErrCorrupt) {
			return streamer.TailPosition{}, apierr.Wrap(apierr.KindCorrupt, "resolve tail", err)
		}
		return streamer.TailPosition{}, apierr.Wrap(apierr.KindUnavailable, "resolve tail", err)
	}
	return streamer.TailPosition{NextSeqNum: pos.NextSeqNum, LastTimestamp: pos.LastTimestamp}, nil
}

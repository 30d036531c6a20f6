package streamer

import (
	"context"
	"time"

	"github.com/wharfdb/wharf/internal/apierr"
	"github.com/wharfdb/wharf/internal/basin"
	"github.com/wharfdb/wharf/internal/kv"
	"github.com/wharfdb/wharf/internal/record"
	"github.com/wharfdb/wharf/internal/streamid"
	"github.com/wharfdb/wharf/internal/tailstore"
)

// clock abstracts wall-clock millisecond time so tests can inject a fixed
// or scripted clock, per the spec's testable S1-S3 scenarios.
type clock interface {
	NowMs() uint64
}

type systemClock struct{}

func (systemClock) NowMs() uint64 { return uint64(time.Now().UnixMilli()) }

// sequenceRecords applies the timestamp policy and dense sequencing to a
// batch of inputs, given the tail state as of admission (firstSeq,
// prevMaxTs). It never mutates Streamer state directly so it can be unit
// tested in isolation.
func sequenceRecords(inputs []AppendRecordInput, firstSeq uint64, prevMaxTs uint64, mode string, strict bool, clk clock) ([]record.Record, error) {
	now := clk.NowMs()
	maxTs := prevMaxTs
	out := make([]record.Record, 0, len(inputs))
	for i, in := range inputs {
		var ts uint64
		switch mode {
		case basin.TimestampingClientRequire:
			if in.TimestampMs == nil {
				return nil, apierr.New(apierr.KindInvalidArgument, "client-require timestamping mode needs a client-supplied timestamp")
			}
			t := *in.TimestampMs
			if strict && t < maxTs {
				return nil, apierr.New(apierr.KindNonMonotonicTimestamp, "client timestamp is not monotonic under strict mode")
			}
			ts = t
		case basin.TimestampingArrival:
			ts = now
		default: // client-prefer
			if in.TimestampMs != nil {
				t := *in.TimestampMs
				if strict && t < maxTs {
					return nil, apierr.New(apierr.KindNonMonotonicTimestamp, "client timestamp is not monotonic under strict mode")
				}
				ts = t
			} else {
				ts = now
			}
		}
		if ts < maxTs {
			ts = maxTs
		} else {
			maxTs = ts
		}
		out = append(out, record.Record{
			SeqNum:      firstSeq + uint64(i),
			TimestampMs: ts,
			Headers:     in.Headers,
			Body:        in.Body,
		})
	}
	return out, nil
}

// commitResult is delivered on an inflightBatch's doneCh once its PutBatch
// call returns.
type commitResult struct {
	err error
}

type inflightBatch struct {
	req      *AppendRequest
	records  []record.Record
	firstSeq uint64
	lastSeq  uint64
	lastTs   uint64
	doneCh   chan commitResult
}

// commitBatch writes SD/ST entries for every record plus the single SP
// update reflecting the tail after the batch's last record, atomically.
func commitBatch(store kv.KV, id streamid.ID, records []record.Record, retentionTTL time.Duration) commitResult {
	entries := make([]kv.Entry, 0, len(records)*2+1)
	for _, r := range records {
		entries = append(entries, kv.Entry{
			Key:   kv.RecordKey(id, r.SeqNum),
			Value: record.Encode(r),
			TTL:   retentionTTL,
		})
		entries = append(entries, kv.Entry{
			Key:   kv.TimeIndexKey(id, r.TimestampMs, r.SeqNum),
			Value: nil,
			TTL:   retentionTTL,
		})
	}
	last := records[len(records)-1]
	pos := tailstore.Position{NextSeqNum: last.SeqNum + 1, LastTimestamp: last.TimestampMs}
	entries = append(entries, kv.Entry{
		Key:   kv.TailPositionKey(id),
		Value: tailstore.Encode(pos),
	})

	err := store.PutBatch(context.Background(), entries)
	if err != nil {
		return commitResult{err: apierr.Wrap(apierr.KindUnavailable, "commit batch", err)}
	}
	return commitResult{}
}

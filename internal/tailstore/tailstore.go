// Package tailstore resolves and persists a stream's tail position: the
// next seq_num to assign and the timestamp of the most recently committed
// record.
package tailstore

import (
	"context"
	"encoding/binary"

	"github.com/wharfdb/wharf/internal/kv"
	"github.com/wharfdb/wharf/internal/record"
	"github.com/wharfdb/wharf/internal/streamid"
)

// Position is a stream's (next_seq_num, last_timestamp) pair.
type Position struct {
	NextSeqNum    uint64
	LastTimestamp uint64
}

const tailFormatVersion1 = 1

// Encode serializes a Position as version(1) | be_u64(next_seq) | be_u64(last_ts).
func Encode(p Position) []byte {
	buf := make([]byte, 0, 17)
	buf = append(buf, tailFormatVersion1)
	buf = appendBE8(buf, p.NextSeqNum)
	buf = appendBE8(buf, p.LastTimestamp)
	return buf
}

// Decode is the inverse of Encode.
func Decode(b []byte) (Position, error) {
	if len(b) != 17 || b[0] != tailFormatVersion1 {
		return Position{}, kv.ErrCorrupt
	}
	return Position{
		NextSeqNum:    binary.BigEndian.Uint64(b[1:9]),
		LastTimestamp: binary.BigEndian.Uint64(b[9:17]),
	}, nil
}

func appendBE8(dst []byte, v uint64) []byte {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], v)
	return append(dst, b[:]...)
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

// Resolve implements the three-step tail resolution algorithm: read SP; on a
// clean miss, reverse-scan SD for the last record and derive SP from it; on
// no SD entries either, start at (0, 0). Steps 2-3 always (re)write SP so a
// lost SP write self-heals on the very next resolution.
func Resolve(ctx context.Context, store kv.KV, id streamid.ID) (Position, error) {
	spKey := kv.TailPositionKey(id)

	raw, err := store.Get(ctx, spKey)
	if err == nil {
		return Decode(raw)
	}
	if err != kv.ErrNotFound {
		return Position{}, err
	}

	prefix := kv.RecordPrefix(id)
	end := append(append([]byte(nil), prefix...), 0xff)
	entries, err := store.Scan(ctx, prefix, end, kv.Reverse, 1)
	if err != nil {
		return Position{}, err
	}

	var pos Position
	if len(entries) == 1 {
		rec, err := record.Decode(entries[0].Value)
		if err != nil {
			return Position{}, err
		}
		if keySeq, ok := decodeRecordKeySeq(entries[0].Key); !ok || keySeq != rec.SeqNum {
			return Position{}, kv.ErrCorrupt
		}
		pos = Position{NextSeqNum: rec.SeqNum + 1, LastTimestamp: rec.TimestampMs}
	} else {
		pos = Position{NextSeqNum: 0, LastTimestamp: 0}
	}

	if err := store.PutBatch(ctx, []kv.Entry{{Key: spKey, Value: Encode(pos)}}); err != nil {
		return Position{}, err
	}
	return pos, nil
}

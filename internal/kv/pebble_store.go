package kv

import (
	"context"
	"errors"

	"github.com/cockroachdb/pebble"

	pebblestore "github.com/wharfdb/wharf/internal/storage/pebble"
)

// pebbleKV adapts pebblestore.DB to the KV interface, folding TTLs into the
// expiry envelope pebblestore already understands.
type pebbleKV struct {
	db *pebblestore.DB
}

// NewPebbleKV wraps an opened pebblestore.DB as a KV.
func NewPebbleKV(db *pebblestore.DB) KV {
	return &pebbleKV{db: db}
}

func (k *pebbleKV) PutBatch(_ context.Context, entries []Entry) error {
	b := k.db.NewBatch()
	defer b.Close()
	for _, e := range entries {
		var expiresAtMs int64
		if e.TTL > 0 {
			expiresAtMs = nowMs() + e.TTL.Milliseconds()
		}
		v := pebblestore.EnvelopeValue(e.Value, expiresAtMs)
		if err := b.Set(e.Key, v, nil); err != nil {
			return translateErr(err)
		}
	}
	return translateErr(k.db.CommitBatch(context.Background(), b))
}

func (k *pebbleKV) Get(_ context.Context, key []byte) ([]byte, error) {
	v, err := k.db.GetLive(key)
	if err != nil {
		return nil, translateErr(err)
	}
	return v, nil
}

func (k *pebbleKV) Delete(_ context.Context, key []byte) error {
	return translateErr(k.db.Delete(key))
}

func (k *pebbleKV) DeleteRange(_ context.Context, start, end []byte) error {
	iter, err := k.db.NewIter(&pebble.IterOptions{LowerBound: start, UpperBound: end})
	if err != nil {
		return translateErr(err)
	}
	defer iter.Close()

	const batchSize = 500
	b := k.db.NewBatch()
	defer b.Close()
	pending := 0
	for iter.First(); iter.Valid(); iter.Next() {
		key := append([]byte(nil), iter.Key()...)
		if err := b.Delete(key, nil); err != nil {
			return translateErr(err)
		}
		pending++
		if pending >= batchSize {
			if err := k.db.CommitBatch(context.Background(), b); err != nil {
				return translateErr(err)
			}
			b = k.db.NewBatch()
			pending = 0
		}
	}
	if pending > 0 {
		if err := k.db.CommitBatch(context.Background(), b); err != nil {
			return translateErr(err)
		}
	}
	return nil
}

func (k *pebbleKV) Scan(_ context.Context, start, end []byte, dir Direction, limit int) ([]Entry, error) {
	iter, err := k.db.NewIter(&pebble.IterOptions{LowerBound: start, UpperBound: end})
	if err != nil {
		return nil, translateErr(err)
	}
	defer iter.Close()

	nowms := nowMs()
	var out []Entry

	advance := iter.Next
	first := iter.First
	if dir == Reverse {
		advance = iter.Prev
		first = iter.Last
	}

	for ok := first(); ok; ok = advance() {
		if limit > 0 && len(out) >= limit {
			break
		}
		expiresAtMs, value, envOk := pebblestore.StripEnvelope(iter.Value())
		if !envOk {
			return nil, ErrCorrupt
		}
		if expiresAtMs != 0 && expiresAtMs <= nowms {
			continue
		}
		out = append(out, Entry{
			Key:   append([]byte(nil), iter.Key()...),
			Value: append([]byte(nil), value...),
		})
	}
	return out, nil
}

func (k *pebbleKV) Close() error {
	return k.db.Close()
}

func translateErr(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pebble.ErrNotFound) {
		return ErrNotFound
	}
	if errors.Is(err, pebblestore.ErrCorruptEnvelope) {
		return ErrCorrupt
	}
	return ErrUnavailable
}

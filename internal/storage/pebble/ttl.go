package pebblestore

import (
	"context"
	"encoding/binary"
	"errors"
	"time"

	"github.com/cockroachdb/pebble"
)

// expiryEnvelopeLen is the width of the absolute expiry-ms prefix folded
// into values written through SetWithTTL/EnvelopeValue.
const expiryEnvelopeLen = 8

// ErrCorruptEnvelope is returned when a value is too short to contain a TTL
// envelope, indicating on-disk corruption or a schema mismatch.
var ErrCorruptEnvelope = errors.New("pebblestore: corrupt ttl envelope")

// EnvelopeValue prefixes value with an 8-byte big-endian absolute expiry
// timestamp (unix millis). expiresAtMs == 0 means "never expires". It is the
// caller's responsibility to use EnvelopeValue/StripEnvelope symmetrically;
// the KV schema layer does this transparently so callers of kv.KV's PutBatch
// never see the envelope.
func EnvelopeValue(value []byte, expiresAtMs int64) []byte {
	out := make([]byte, expiryEnvelopeLen+len(value))
	binary.BigEndian.PutUint64(out[:expiryEnvelopeLen], uint64(expiresAtMs))
	copy(out[expiryEnvelopeLen:], value)
	return out
}

// StripEnvelope splits an enveloped value back into its expiry timestamp and
// payload. It returns ok=false if raw is too short to contain an envelope.
func StripEnvelope(raw []byte) (expiresAtMs int64, value []byte, ok bool) {
	if len(raw) < expiryEnvelopeLen {
		return 0, nil, false
	}
	expiresAtMs = int64(binary.BigEndian.Uint64(raw[:expiryEnvelopeLen]))
	return expiresAtMs, raw[expiryEnvelopeLen:], true
}

// SetWithTTL stores value under key, enveloped with an absolute expiry
// derived from ttl. ttl<=0 means the entry never expires.
func (db *DB) SetWithTTL(key, value []byte, ttl time.Duration) error {
	var expiresAtMs int64
	if ttl > 0 {
		expiresAtMs = time.Now().Add(ttl).UnixMilli()
	}
	return db.Set(key, EnvelopeValue(value, expiresAtMs))
}

// GetLive fetches key and strips its TTL envelope, returning pebble.ErrNotFound
// if the entry is present but already expired. Expired-but-not-yet-reaped
// entries are therefore invisible to readers even before the Reaper sweeps
// them, matching the spec's "core must not rely on prompt deletion" contract
// in the other direction: prompt visibility of expiry does not require
// prompt deletion.
func (db *DB) GetLive(key []byte) ([]byte, error) {
	raw, err := db.Get(key)
	if err != nil {
		return nil, err
	}
	expiresAtMs, value, ok := StripEnvelope(raw)
	if !ok {
		return nil, ErrCorruptEnvelope
	}
	if expiresAtMs != 0 && expiresAtMs <= time.Now().UnixMilli() {
		return nil, pebble.ErrNotFound
	}
	return value, nil
}

// Reaper periodically scans a key range and deletes entries whose TTL
// envelope has expired. It stands in for the background compaction the
// spec's object-store-backed engine performs natively.
type Reaper struct {
	db         *DB
	lowerBound []byte
	upperBound []byte
	interval   time.Duration
	batchSize  int
}

// NewReaper builds a Reaper that sweeps [lowerBound, upperBound) every
// interval, deleting every expired key it finds and committing the
// deletions in batches of at most batchSize keys.
func NewReaper(db *DB, lowerBound, upperBound []byte, interval time.Duration, batchSize int) *Reaper {
	if batchSize <= 0 {
		batchSize = 500
	}
	return &Reaper{db: db, lowerBound: lowerBound, upperBound: upperBound, interval: interval, batchSize: batchSize}
}

// Run sweeps on the configured interval until ctx is cancelled.
func (r *Reaper) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.sweepOnce()
		}
	}
}

func (r *Reaper) sweepOnce() {
	iter, err := r.db.NewIter(&pebble.IterOptions{LowerBound: r.lowerBound, UpperBound: r.upperBound})
	if err != nil {
		return
	}
	defer iter.Close()

	nowMs := time.Now().UnixMilli()
	b := r.db.NewBatch()
	defer b.Close()
	pending := 0

	for iter.First(); iter.Valid(); iter.Next() {
		expiresAtMs, _, ok := StripEnvelope(iter.Value())
		if !ok || expiresAtMs == 0 || expiresAtMs > nowMs {
			continue
		}
		key := append([]byte(nil), iter.Key()...)
		if err := b.Delete(key, nil); err != nil {
			continue
		}
		pending++
		if pending >= r.batchSize {
			_ = r.db.CommitBatch(context.Background(), b)
			b = r.db.NewBatch()
			pending = 0
		}
	}
	if pending > 0 {
		_ = r.db.CommitBatch(context.Background(), b)
	}
}

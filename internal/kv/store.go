package kv

import (
	"context"
	"time"
)

// Direction selects scan order.
type Direction int

const (
	Forward Direction = iota
	Reverse
)

// Entry is a single key/value pair, optionally carrying a TTL when supplied
// to a write batch.
type Entry struct {
	Key   []byte
	Value []byte
	// TTL is 0 for entries that never expire.
	TTL time.Duration
}

// KV is the opaque store capability the Streamer, tail store, and reader
// paths depend on: atomic multi-key write batches, point get, and
// snapshot-consistent bounded range scans, with per-entry expiration.
type KV interface {
	// PutBatch commits entries atomically: all-or-nothing.
	PutBatch(ctx context.Context, entries []Entry) error

	// Get returns ErrNotFound if key is absent or expired.
	Get(ctx context.Context, key []byte) ([]byte, error)

	// Scan returns entries with keys in [start, end), walked forwards
	// (Forward) or backwards (Reverse), stopping after limit entries (limit<=0 means
	// unbounded). The returned sequence is snapshot-consistent.
	Scan(ctx context.Context, start, end []byte, dir Direction, limit int) ([]Entry, error)

	// Delete removes key. It is not an error to delete an absent key.
	Delete(ctx context.Context, key []byte) error

	// DeleteRange removes every key in [start, end).
	DeleteRange(ctx context.Context, start, end []byte) error

	Close() error
}

package kv

import "errors"

// Sentinel errors surfaced by Store implementations, per the schema's error
// taxonomy: NotFound, Conflict (reserved for future optimistic-write use;
// immutable SD/ST writes never produce it), Unavailable (transient
// transport/store failure), Corrupt (decode failure or version mismatch).
var (
	ErrNotFound    = errors.New("kv: not found")
	ErrConflict    = errors.New("kv: conflict")
	ErrUnavailable = errors.New("kv: unavailable")
	ErrCorrupt     = errors.New("kv: corrupt")
)

// Package registry maintains the process-wide map from StreamID to a live
// Streamer handle: lazy spawn with single-flight convergence on concurrent
// callers, idle eviction, and coordinated shutdown.
package registry

import (
	"context"
	"sync"
	"time"

	"github.com/wharfdb/wharf/internal/basin"
	"github.com/wharfdb/wharf/internal/streamer"
	"github.com/wharfdb/wharf/internal/streamid"
)

const shardCount = 32

type entry struct {
	handle       *streamer.Streamer
	basinName    string
	streamName   string
	lastActivity time.Time
}

type shard struct {
	mu      sync.Mutex
	entries map[streamid.ID]*entry
	// spawning holds a spawnTicket per key currently being spawned, so
	// concurrent get_or_spawn callers on the same StreamID wait on its done
	// channel for the single in-flight spawn rather than racing to create
	// two Streamers.
	spawning map[streamid.ID]*spawnTicket
}

type spawnTicket struct {
	done   chan struct{}
	handle *streamer.Streamer
	err    error
}

// Registry is the process-wide Streamer map.
type Registry struct {
	spawner *streamer.Spawner
	shards  [shardCount]*shard
}

// New builds a Registry that spawns Streamers via sp.
func New(sp *streamer.Spawner) *Registry {
	r := &Registry{spawner: sp}
	for i := range r.shards {
		r.shards[i] = &shard{entries: make(map[streamid.ID]*entry), spawning: make(map[streamid.ID]*spawnTicket)}
	}
	return r
}

func (r *Registry) shardFor(id streamid.ID) *shard {
	return r.shards[id[0]%shardCount]
}

// GetOrSpawn returns the live Streamer for (basinName, streamName), spawning
// one if absent. Concurrent callers for the same StreamID converge on a
// single spawn.
func (r *Registry) GetOrSpawn(ctx context.Context, basinName, streamName string) (*streamer.Streamer, error) {
	id := streamid.Derive(basinName, streamName)
	sh := r.shardFor(id)

	sh.mu.Lock()
	if e, ok := sh.entries[id]; ok {
		e.lastActivity = time.Now()
		sh.mu.Unlock()
		return e.handle, nil
	}
	if ticket, ok := sh.spawning[id]; ok {
		sh.mu.Unlock()
		<-ticket.done
		return ticket.handle, ticket.err
	}

	ticket := &spawnTicket{done: make(chan struct{})}
	sh.spawning[id] = ticket
	sh.mu.Unlock()

	handle, err := r.spawner.New(basinName, streamName)
	ticket.handle, ticket.err = handle, err

	sh.mu.Lock()
	delete(sh.spawning, id)
	if err == nil {
		sh.entries[id] = &entry{handle: handle, basinName: basinName, streamName: streamName, lastActivity: time.Now()}
	}
	sh.mu.Unlock()
	close(ticket.done)

	return handle, err
}

// DropIdle evicts and drains every Streamer whose last recorded activity is
// before cutoff. Activity is bumped on every GetOrSpawn call; callers that
// hold a live subscription should re-resolve via GetOrSpawn periodically so
// idle eviction does not race a still-following reader.
func (r *Registry) DropIdle(cutoff time.Time) {
	for _, sh := range r.shards {
		sh.mu.Lock()
		var toDrain []*streamer.Streamer
		for id, e := range sh.entries {
			if e.lastActivity.Before(cutoff) {
				toDrain = append(toDrain, e.handle)
				delete(sh.entries, id)
			}
		}
		sh.mu.Unlock()
		for _, h := range toDrain {
			h.Drain()
		}
	}
}

// ShutdownAll transitions every live Streamer through Draining to Shutdown
// and empties the registry. Safe to call once at process teardown.
func (r *Registry) ShutdownAll() {
	for _, sh := range r.shards {
		sh.mu.Lock()
		handles := make([]*streamer.Streamer, 0, len(sh.entries))
		for id, e := range sh.entries {
			handles = append(handles, e.handle)
			delete(sh.entries, id)
		}
		sh.mu.Unlock()
		for _, h := range handles {
			h.Drain()
		}
	}
}

// Remove evicts the entry for (basinName, streamName), if any, without
// draining it — the caller decides whether/when to drain. Used by
// delete_stream so the stream disappears from GetOrSpawn immediately, even
// while the caller's own drain and key purge are still running.
func (r *Registry) Remove(basinName, streamName string) *streamer.Streamer {
	id := streamid.Derive(basinName, streamName)
	sh := r.shardFor(id)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	e, ok := sh.entries[id]
	if !ok {
		return nil
	}
	delete(sh.entries, id)
	return e.handle
}

// Reconfigure resolves the live Streamer for (basinName, streamName), if
// any, and pushes cfg to it; a stream with no live Streamer picks up new
// config lazily on its next spawn from internal/basin.
func (r *Registry) Reconfigure(basinName, streamName string, cfg basin.StreamConfig) error {
	id := streamid.Derive(basinName, streamName)
	sh := r.shardFor(id)
	sh.mu.Lock()
	e, ok := sh.entries[id]
	sh.mu.Unlock()
	if !ok {
		return nil
	}
	return e.handle.Reconfigure(cfg)
}

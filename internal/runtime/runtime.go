// Package runtime wires the KV store, the basin/stream configuration store,
// and the streamer registry into a single-node instance with explicit
// Open/Close: the one place in the process that owns ambient state (per
// spec.md §9 "Global state").
package runtime

import (
	"context"
	"regexp"
	"time"

	cfgpkg "github.com/wharfdb/wharf/internal/basin"
	wharfcfg "github.com/wharfdb/wharf/internal/config"
	"github.com/wharfdb/wharf/internal/kv"
	"github.com/wharfdb/wharf/internal/registry"
	pebblestore "github.com/wharfdb/wharf/internal/storage/pebble"
	"github.com/wharfdb/wharf/internal/streamer"
	"github.com/wharfdb/wharf/internal/streamid"
	"github.com/wharfdb/wharf/pkg/log"
)

// reapInterval and reapBatchSize govern the background TTL sweep; small
// enough that a sweep never holds up foreground traffic for long.
const (
	reapInterval  = 30 * time.Second
	reapBatchSize = 500

	// deleteBatchSize bounds how many keys delete_stream scans and removes
	// per Scan/DeleteRange round (kv's DeleteRange commits those keys in
	// batches of up to 500), mirroring eventlog.TrimOlderThan's batched-delete-with-throttle shape.
	deleteBatchSize = 1024
)

// Options configures Open.
type Options struct {
	DataDir string
	Fsync   pebblestore.FsyncMode
	// FsyncInterval controls group-commit window when Fsync is
	// FsyncModeInterval; ignored otherwise.
	FsyncInterval time.Duration
	Config        wharfcfg.Config
}

// Runtime is a single-node wharf instance: one Pebble DB, one KV schema view
// over it, one basin/stream config store, and one Streamer registry.
type Runtime struct {
	db       *pebblestore.DB
	kv       kv.KV
	basins   *cfgpkg.Store
	registry *registry.Registry
	spawner  *streamer.Spawner
	config   wharfcfg.Config
	logger   log.Logger

	reaperCancel context.CancelFunc
}

// Open initializes storage, the config store, and the registry, and starts
// the background TTL reaper. Callers must call Close.
func Open(opts Options, logger log.Logger) (*Runtime, error) {
	db, err := pebblestore.Open(pebblestore.Options{DataDir: opts.DataDir, Fsync: opts.Fsync, FsyncInterval: opts.FsyncInterval})
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = log.NewLogger()
	}

	store := kv.NewPebbleKV(db)

	var nameRe *regexp.Regexp
	if opts.Config.BasinNameRegex != "" {
		nameRe, err = regexp.Compile("^(?:" + opts.Config.BasinNameRegex + ")$")
		if err != nil {
			_ = db.Close()
			return nil, err
		}
	}
	policy := cfgpkg.Policy{
		AllowAutoCreateBasins: opts.Config.AllowAutoCreateBasins,
		BasinNameRegex:        nameRe,
		DefaultStreamDefaults: cfgpkg.StreamConfig{
			TimestampingMode:   cfgpkg.TimestampingClientPrefer,
			MaxRecordsPerBatch: opts.Config.StreamDefaults.MaxRecordsPerBatch,
			PayloadMaxBytes:    opts.Config.StreamDefaults.PayloadMaxBytes,
			HeadersMaxBytes:    opts.Config.StreamDefaults.HeadersMaxBytes,
		},
	}
	basins := cfgpkg.New(store, policy)

	spawner := &streamer.Spawner{
		Store:        store,
		BasinStore:   basins,
		Logger:       logger,
		PipelineFlag: opts.Config.PipelineEnabled,
	}
	reg := registry.New(spawner)

	ctx, cancel := context.WithCancel(context.Background())
	reaper := pebblestore.NewReaper(db, nil, nil, reapInterval, reapBatchSize)
	go reaper.Run(ctx)

	return &Runtime{
		db:           db,
		kv:           store,
		basins:       basins,
		registry:     reg,
		spawner:      spawner,
		config:       opts.Config,
		logger:       logger,
		reaperCancel: cancel,
	}, nil
}

// Close stops the reaper, drains every live Streamer, and closes storage.
func (r *Runtime) Close() error {
	if r.reaperCancel != nil {
		r.reaperCancel()
	}
	if r.registry != nil {
		r.registry.ShutdownAll()
	}
	if r.db == nil {
		return nil
	}
	err := r.db.Close()
	r.db = nil
	return err
}

// KV exposes the underlying KV schema view for advanced/administrative use.
func (r *Runtime) KV() kv.KV { return r.kv }

// Basins exposes the basin/stream config CRUD store.
func (r *Runtime) Basins() *cfgpkg.Store { return r.basins }

// Registry exposes the Streamer registry.
func (r *Runtime) Registry() *registry.Registry { return r.registry }

// Config returns the runtime configuration.
func (r *Runtime) Config() wharfcfg.Config { return r.config }

// DeleteStream drains the live Streamer for (basinName, streamName), if any,
// then purges its record and time-index key ranges in a bounded loop of
// batched deletes so a single call never holds up other streams for long.
// The registry entry is removed first, so the stream disappears from reads
// immediately even while the purge itself is still running.
func (r *Runtime) DeleteStream(ctx context.Context, basinName, streamName string) error {
	id := streamid.Derive(basinName, streamName)
	// Spawning-then-removing (rather than only removing if present) means a
	// stream with no live Streamer still gets a well-defined drain no-op,
	// and guarantees the registry entry is gone before the purge below runs.
	if _, err := r.registry.GetOrSpawn(ctx, basinName, streamName); err != nil {
		return err
	}
	if h := r.registry.Remove(basinName, streamName); h != nil {
		h.Drain()
	}

	for _, rng := range [][2][]byte{
		{kv.RecordPrefix(id), append(kv.RecordPrefix(id), 0xff)},
		{kv.TimeIndexPrefix(id), append(kv.TimeIndexPrefix(id), 0xff)},
	} {
		if err := r.purgeRange(ctx, rng[0], rng[1]); err != nil {
			return err
		}
	}
	return r.kv.Delete(ctx, kv.TailPositionKey(id))
}

func (r *Runtime) purgeRange(ctx context.Context, start, end []byte) error {
	for {
		entries, err := r.kv.Scan(ctx, start, end, kv.Forward, deleteBatchSize)
		if err != nil {
			return err
		}
		if len(entries) == 0 {
			return nil
		}
		last := entries[len(entries)-1].Key
		rangeEnd := append(append([]byte(nil), last...), 0x00)
		if err := r.kv.DeleteRange(ctx, start, rangeEnd); err != nil {
			return err
		}
		if len(entries) < deleteBatchSize {
			return nil
		}
		start = rangeEnd
	}
}

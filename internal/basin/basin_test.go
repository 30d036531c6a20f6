package basin

import (
	"context"
	"regexp"
	"testing"

	"github.com/wharfdb/wharf/internal/apierr"
	"github.com/wharfdb/wharf/internal/kv"
	pebblestore "github.com/wharfdb/wharf/internal/storage/pebble"
)

func newTestStore(t *testing.T, policy Policy) *Store {
	t.Helper()
	db, err := pebblestore.Open(pebblestore.Options{DataDir: t.TempDir(), Fsync: pebblestore.FsyncModeNever})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return New(kv.NewPebbleKV(db), policy)
}

func defaultPolicy() Policy {
	return Policy{
		AllowAutoCreateBasins: true,
		BasinNameRegex:        regexp.MustCompile(`^[a-z0-9-_]{1,64}$`),
		DefaultStreamDefaults: StreamConfig{
			TimestampingMode:   TimestampingClientPrefer,
			MaxRecordsPerBatch: 1000,
			PayloadMaxBytes:    1 << 20,
			HeadersMaxBytes:    16 << 10,
		},
	}
}

func TestCreateAndGetBasin(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, defaultPolicy())

	if err := s.CreateBasin(ctx, "basin-a", BasinConfig{}); err != nil {
		t.Fatalf("create: %v", err)
	}
	cfg, err := s.GetBasin(ctx, "basin-a")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if cfg.CreatedAtMs == 0 {
		t.Fatalf("expected CreatedAtMs to be stamped")
	}
}

func TestCreateBasinAlreadyExists(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, defaultPolicy())
	if err := s.CreateBasin(ctx, "dup", BasinConfig{}); err != nil {
		t.Fatalf("first create: %v", err)
	}
	err := s.CreateBasin(ctx, "dup", BasinConfig{})
	if apierr.KindOf(err) != apierr.KindAlreadyExists {
		t.Fatalf("expected AlreadyExists, got %v", err)
	}
}

func TestGetBasinNotFound(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, defaultPolicy())
	_, err := s.GetBasin(ctx, "missing")
	if apierr.KindOf(err) != apierr.KindNotFound {
		t.Fatalf("expected NotFound, got %v", err)
	}
}

func TestInvalidBasinName(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, defaultPolicy())
	err := s.CreateBasin(ctx, "Invalid Name!", BasinConfig{})
	if apierr.KindOf(err) != apierr.KindInvalidArgument {
		t.Fatalf("expected InvalidArgument, got %v", err)
	}
}

func TestCreateStreamAutoCreatesBasin(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, defaultPolicy())

	if err := s.CreateStream(ctx, "auto-basin", "stream-1", StreamConfig{TimestampingMode: TimestampingArrival}); err != nil {
		t.Fatalf("create stream: %v", err)
	}
	if _, err := s.GetBasin(ctx, "auto-basin"); err != nil {
		t.Fatalf("expected basin auto-created, got %v", err)
	}
	cfg, err := s.GetStreamConfig(ctx, "auto-basin", "stream-1")
	if err != nil {
		t.Fatalf("get stream config: %v", err)
	}
	if cfg.TimestampingMode != TimestampingArrival {
		t.Fatalf("expected arrival mode, got %q", cfg.TimestampingMode)
	}
}

func TestCreateStreamNoAutoCreateFailsOnMissingBasin(t *testing.T) {
	ctx := context.Background()
	policy := defaultPolicy()
	policy.AllowAutoCreateBasins = false
	s := newTestStore(t, policy)

	err := s.CreateStream(ctx, "missing-basin", "s1", StreamConfig{})
	if apierr.KindOf(err) != apierr.KindNotFound {
		t.Fatalf("expected NotFound, got %v", err)
	}
}

func TestGetStreamConfigFallsBackToBasinDefaults(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, defaultPolicy())

	if err := s.CreateBasin(ctx, "b1", BasinConfig{DefaultStreamConfig: StreamConfig{TimestampingMode: TimestampingClientRequire, MaxRecordsPerBatch: 50}}); err != nil {
		t.Fatalf("create basin: %v", err)
	}
	cfg, err := s.GetStreamConfig(ctx, "b1", "unconfigured-stream")
	if err != nil {
		t.Fatalf("get stream config: %v", err)
	}
	if cfg.TimestampingMode != TimestampingClientRequire || cfg.MaxRecordsPerBatch != 50 {
		t.Fatalf("expected fallback to basin defaults, got %+v", cfg)
	}
}

func TestReconfigureOverwritesStreamConfig(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, defaultPolicy())
	if err := s.CreateStream(ctx, "b2", "s1", StreamConfig{TimestampingMode: TimestampingClientPrefer}); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := s.Reconfigure(ctx, "b2", "s1", StreamConfig{TimestampingMode: TimestampingClientRequire, StrictTimestamps: true}); err != nil {
		t.Fatalf("reconfigure: %v", err)
	}
	cfg, err := s.GetStreamConfig(ctx, "b2", "s1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if cfg.TimestampingMode != TimestampingClientRequire || !cfg.StrictTimestamps {
		t.Fatalf("expected reconfigured values, got %+v", cfg)
	}
}

func TestCreateStreamAlreadyExists(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, defaultPolicy())
	if err := s.CreateStream(ctx, "b3", "s1", StreamConfig{}); err != nil {
		t.Fatalf("first create: %v", err)
	}
	err := s.CreateStream(ctx, "b3", "s1", StreamConfig{})
	if apierr.KindOf(err) != apierr.KindAlreadyExists {
		t.Fatalf("expected AlreadyExists, got %v", err)
	}
}

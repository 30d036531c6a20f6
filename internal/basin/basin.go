// Package basin implements the minimal CRUD store spec.md treats as an
// external collaborator: BasinConfig/StreamConfig records that the Streamer
// reads at spawn time and the HTTP surface writes on creation/reconfigure.
package basin

import (
	"context"
	"encoding/json"
	"regexp"
	"time"

	"github.com/wharfdb/wharf/internal/apierr"
	"github.com/wharfdb/wharf/internal/kv"
)

// StreamConfig is the per-stream policy record stored under "SC".
type StreamConfig struct {
	// RetentionSeconds is 0 for infinite retention.
	RetentionSeconds int64 `json:"retentionSeconds"`
	// TimestampingMode is one of "client-prefer", "client-require", "arrival".
	TimestampingMode string `json:"timestampingMode"`
	// StrictTimestamps additionally demands strict monotonicity under
	// client-require.
	StrictTimestamps bool `json:"strictTimestamps"`
	// StorageClass is an opaque passthrough, unused by the core.
	StorageClass string `json:"storageClass"`

	MaxRecordsPerBatch int `json:"maxRecordsPerBatch"`
	PayloadMaxBytes    int `json:"payloadMaxBytes"`
	HeadersMaxBytes    int `json:"headersMaxBytes"`
}

// BasinConfig is the per-basin record stored under "BC".
type BasinConfig struct {
	CreatedAtMs         int64        `json:"createdAtMs"`
	DefaultStreamConfig StreamConfig `json:"defaultStreamConfig"`
}

const (
	TimestampingClientPrefer  = "client-prefer"
	TimestampingClientRequire = "client-require"
	TimestampingArrival       = "arrival"
)

const formatVersion1 = 1

func encode(v interface{}) ([]byte, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return append([]byte{formatVersion1}, b...), nil
}

func decode(raw []byte, v interface{}) error {
	if len(raw) < 1 || raw[0] != formatVersion1 {
		return kv.ErrCorrupt
	}
	if err := json.Unmarshal(raw[1:], v); err != nil {
		return kv.ErrCorrupt
	}
	return nil
}

// Policy governs auto-creation and name validation, mirroring
// internal/config.Config's basin-policy fields.
type Policy struct {
	AllowAutoCreateBasins bool
	BasinNameRegex        *regexp.Regexp
	DefaultStreamDefaults StreamConfig
}

// Store is the BC/SC CRUD surface backed by a kv.KV.
type Store struct {
	kv     kv.KV
	policy Policy
}

// New builds a Store over kvStore using policy for auto-creation/name rules.
func New(kvStore kv.KV, policy Policy) *Store {
	return &Store{kv: kvStore, policy: policy}
}

func (s *Store) validateName(name string) error {
	if name == "" {
		return apierr.New(apierr.KindInvalidArgument, "name must not be empty")
	}
	if s.policy.BasinNameRegex != nil && !s.policy.BasinNameRegex.MatchString(name) {
		return apierr.New(apierr.KindInvalidArgument, "name does not match the configured charset/length policy")
	}
	return nil
}

// CreateBasin creates a new basin. Returns AlreadyExists if BC is already
// present.
func (s *Store) CreateBasin(ctx context.Context, name string, cfg BasinConfig) error {
	if err := s.validateName(name); err != nil {
		return err
	}
	key := kv.BasinConfigKey(name)
	if _, err := s.kv.Get(ctx, key); err == nil {
		return apierr.New(apierr.KindAlreadyExists, "basin already exists")
	} else if err != kv.ErrNotFound {
		return apierr.Wrap(apierr.KindUnavailable, "read basin config", err)
	}
	if cfg.CreatedAtMs == 0 {
		cfg.CreatedAtMs = time.Now().UnixMilli()
	}
	encoded, err := encode(cfg)
	if err != nil {
		return apierr.Wrap(apierr.KindInternal, "encode basin config", err)
	}
	if err := s.kv.PutBatch(ctx, []kv.Entry{{Key: key, Value: encoded}}); err != nil {
		return apierr.Wrap(apierr.KindUnavailable, "write basin config", err)
	}
	return nil
}

// GetBasin returns NotFound if absent.
func (s *Store) GetBasin(ctx context.Context, name string) (BasinConfig, error) {
	raw, err := s.kv.Get(ctx, kv.BasinConfigKey(name))
	if err == kv.ErrNotFound {
		return BasinConfig{}, apierr.New(apierr.KindNotFound, "basin not found")
	}
	if err != nil {
		return BasinConfig{}, apierr.Wrap(apierr.KindUnavailable, "read basin config", err)
	}
	var cfg BasinConfig
	if err := decode(raw, &cfg); err != nil {
		return BasinConfig{}, apierr.Wrap(apierr.KindCorrupt, "decode basin config", err)
	}
	return cfg, nil
}

// ensureBasin returns the basin's config, auto-creating it with package
// defaults when the basin's own policy (here, process-wide policy) permits.
func (s *Store) ensureBasin(ctx context.Context, name string) (BasinConfig, error) {
	cfg, err := s.GetBasin(ctx, name)
	if err == nil {
		return cfg, nil
	}
	if apierr.KindOf(err) != apierr.KindNotFound || !s.policy.AllowAutoCreateBasins {
		return BasinConfig{}, err
	}
	fresh := BasinConfig{CreatedAtMs: time.Now().UnixMilli(), DefaultStreamConfig: s.policy.DefaultStreamDefaults}
	if err := s.CreateBasin(ctx, name, fresh); err != nil && apierr.KindOf(err) != apierr.KindAlreadyExists {
		return BasinConfig{}, err
	}
	return s.GetBasin(ctx, name)
}

// CreateStream validates (or auto-creates) the basin, then creates the
// stream. Returns AlreadyExists if SC is already present.
func (s *Store) CreateStream(ctx context.Context, basinName, streamName string, cfg StreamConfig) error {
	if err := s.validateName(streamName); err != nil {
		return err
	}
	if _, err := s.ensureBasin(ctx, basinName); err != nil {
		return err
	}
	key := kv.StreamConfigKey(basinName, streamName)
	if _, err := s.kv.Get(ctx, key); err == nil {
		return apierr.New(apierr.KindAlreadyExists, "stream already exists")
	} else if err != kv.ErrNotFound {
		return apierr.Wrap(apierr.KindUnavailable, "read stream config", err)
	}
	encoded, err := encode(cfg)
	if err != nil {
		return apierr.Wrap(apierr.KindInternal, "encode stream config", err)
	}
	if err := s.kv.PutBatch(ctx, []kv.Entry{{Key: key, Value: encoded}}); err != nil {
		return apierr.Wrap(apierr.KindUnavailable, "write stream config", err)
	}
	return nil
}

// GetStreamConfig falls back to the basin's DefaultStreamConfig (auto-created
// if permitted) when no SC record exists; NotFound otherwise.
func (s *Store) GetStreamConfig(ctx context.Context, basinName, streamName string) (StreamConfig, error) {
	raw, err := s.kv.Get(ctx, kv.StreamConfigKey(basinName, streamName))
	if err == nil {
		var cfg StreamConfig
		if err := decode(raw, &cfg); err != nil {
			return StreamConfig{}, apierr.Wrap(apierr.KindCorrupt, "decode stream config", err)
		}
		return cfg, nil
	}
	if err != kv.ErrNotFound {
		return StreamConfig{}, apierr.Wrap(apierr.KindUnavailable, "read stream config", err)
	}

	basinCfg, berr := s.ensureBasin(ctx, basinName)
	if berr != nil {
		if apierr.KindOf(berr) == apierr.KindNotFound {
			return StreamConfig{}, apierr.New(apierr.KindNotFound, "stream not found")
		}
		return StreamConfig{}, berr
	}
	if !s.policy.AllowAutoCreateBasins {
		return StreamConfig{}, apierr.New(apierr.KindNotFound, "stream not found")
	}
	return basinCfg.DefaultStreamConfig, nil
}

// Reconfigure overwrites SC. Callers wanting to notify a live Streamer of
// the change should do so via internal/registry after this returns nil.
func (s *Store) Reconfigure(ctx context.Context, basinName, streamName string, cfg StreamConfig) error {
	if _, err := s.GetBasin(ctx, basinName); err != nil {
		return err
	}
	encoded, err := encode(cfg)
	if err != nil {
		return apierr.Wrap(apierr.KindInternal, "encode stream config", err)
	}
	if err := s.kv.PutBatch(ctx, []kv.Entry{{Key: kv.StreamConfigKey(basinName, streamName), Value: encoded}}); err != nil {
		return apierr.Wrap(apierr.KindUnavailable, "write stream config", err)
	}
	return nil
}

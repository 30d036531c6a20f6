package config

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
)

// Config is the top-level process configuration loaded from file/env. It
// governs basin auto-creation policy and the default stream admission
// limits handed to the Streamer when a stream has no explicit StreamConfig;
// it is distinct from the per-basin/per-stream config records stored in the
// KV schema (see internal/basin).
type Config struct {
	AllowAutoCreateBasins bool           `json:"allowAutoCreateBasins"`
	DefaultBasinName      string         `json:"defaultBasinName"`
	BasinNameRegex        string         `json:"basinNameRegex"`
	StreamDefaults        StreamDefaults `json:"streamDefaults"`
	MaxBasins             int            `json:"maxBasins"`
	AllowedBasins         []string       `json:"allowedBasins"`

	DataDir         string `json:"dataDir"`
	HTTPAddr        string `json:"httpAddr"`
	LogLevel        string `json:"logLevel"`
	LogFormat       string `json:"logFormat"`
	PipelineEnabled bool   `json:"pipelineEnabled"`
}

// StreamDefaults captures the baseline admission limits merged into a
// stream's StreamConfig when it has none of its own.
type StreamDefaults struct {
	MaxRecordsPerBatch int `json:"maxRecordsPerBatch"`
	PayloadMaxBytes    int `json:"payloadMaxBytes"`
	HeadersMaxBytes    int `json:"headersMaxBytes"`
}

// Default returns built-in defaults.
func Default() Config {
	return Config{
		AllowAutoCreateBasins: true,
		DefaultBasinName:      "default",
		BasinNameRegex:        "[a-z0-9-_]{1,64}",
		StreamDefaults: StreamDefaults{
			MaxRecordsPerBatch: 1000,
			PayloadMaxBytes:    1 << 20,
			HeadersMaxBytes:    16 << 10,
		},
		DataDir:         DefaultDataDir(),
		HTTPAddr:        ":7420",
		LogLevel:        "info",
		LogFormat:       "text",
		PipelineEnabled: false,
	}
}

// Load reads configuration from a JSON file. If path is empty, returns
// defaults.
func Load(path string) (Config, error) {
	if path == "" {
		return Default(), nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}
	cfg := Default()
	ext := filepath.Ext(path)
	switch ext {
	case ".json":
		if err := json.Unmarshal(b, &cfg); err != nil {
			return Config{}, err
		}
	case ".yaml", ".yml":
		// Lazy inline YAML support via json tags using a minimal shim to keep deps light.
		// If YAML is needed now, prefer adding gopkg.in/yaml.v3; for MVP we accept JSON-only.
		return Config{}, errors.New("yaml config not supported yet; use JSON for now")
	default:
		if err := json.Unmarshal(b, &cfg); err != nil {
			return Config{}, err
		}
	}
	return cfg, nil
}

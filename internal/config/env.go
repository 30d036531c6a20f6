package config

import (
	"os"
	"strconv"
	"strings"
)

// FromEnv overlays WHARF_* environment variables onto cfg. PIPELINE_ENABLED
// is deliberately unprefixed; it sets cfg.PipelineEnabled, which
// runtime.Open hands to the Streamer spawner as its pipeline flag.
func FromEnv(cfg *Config) {
	if v := os.Getenv("WHARF_ALLOW_AUTO_CREATE_BASINS"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.AllowAutoCreateBasins = b
		}
	}
	if v := os.Getenv("WHARF_DEFAULT_BASIN_NAME"); v != "" {
		cfg.DefaultBasinName = v
	}
	if v := os.Getenv("WHARF_BASIN_NAME_REGEX"); v != "" {
		cfg.BasinNameRegex = v
	}
	if v := os.Getenv("WHARF_STREAM_DEFAULTS_MAX_RECORDS_PER_BATCH"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.StreamDefaults.MaxRecordsPerBatch = n
		}
	}
	if v := os.Getenv("WHARF_STREAM_DEFAULTS_PAYLOAD_MAX_BYTES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.StreamDefaults.PayloadMaxBytes = n
		}
	}
	if v := os.Getenv("WHARF_STREAM_DEFAULTS_HEADERS_MAX_BYTES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.StreamDefaults.HeadersMaxBytes = n
		}
	}
	if v := os.Getenv("WHARF_MAX_BASINS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.MaxBasins = n
		}
	}
	if v := os.Getenv("WHARF_ALLOWED_BASINS"); v != "" {
		parts := strings.Split(v, ",")
		cfg.AllowedBasins = nil
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				cfg.AllowedBasins = append(cfg.AllowedBasins, p)
			}
		}
	}
	if v := os.Getenv("WHARF_DATA_DIR"); v != "" {
		cfg.DataDir = v
	}
	if v := os.Getenv("WHARF_HTTP_ADDR"); v != "" {
		cfg.HTTPAddr = v
	}
	if v := os.Getenv("WHARF_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("WHARF_LOG_FORMAT"); v != "" {
		cfg.LogFormat = v
	}
	if v := os.Getenv("PIPELINE_ENABLED"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.PipelineEnabled = b
		}
	}
}

package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefault(t *testing.T) {
	cfg := Default()
	if !cfg.AllowAutoCreateBasins {
		t.Fatalf("default allow auto create should be true")
	}
	if cfg.DefaultBasinName != "default" {
		t.Fatalf("default basin name")
	}
	if cfg.StreamDefaults.MaxRecordsPerBatch != 1000 {
		t.Fatalf("max records per batch default")
	}
}

func TestLoadJSON(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "wharf.json")
	data := []byte(`{"allowAutoCreateBasins":false,"defaultBasinName":"prod","streamDefaults":{"maxRecordsPerBatch":32,"payloadMaxBytes":2048,"headersMaxBytes":1024}}`)
	if err := os.WriteFile(file, data, 0644); err != nil {
		t.Fatalf("write: %v", err)
	}
	cfg, err := Load(file)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.AllowAutoCreateBasins {
		t.Fatalf("expected false")
	}
	if cfg.DefaultBasinName != "prod" {
		t.Fatalf("expected prod")
	}
	if cfg.StreamDefaults.MaxRecordsPerBatch != 32 {
		t.Fatalf("expected 32")
	}
}

func TestFromEnv(t *testing.T) {
	cfg := Default()
	os.Setenv("WHARF_ALLOW_AUTO_CREATE_BASINS", "false")
	os.Setenv("WHARF_DEFAULT_BASIN_NAME", "staging")
	os.Setenv("WHARF_STREAM_DEFAULTS_MAX_RECORDS_PER_BATCH", "24")
	os.Setenv("PIPELINE_ENABLED", "true")
	t.Cleanup(func() {
		os.Unsetenv("WHARF_ALLOW_AUTO_CREATE_BASINS")
		os.Unsetenv("WHARF_DEFAULT_BASIN_NAME")
		os.Unsetenv("WHARF_STREAM_DEFAULTS_MAX_RECORDS_PER_BATCH")
		os.Unsetenv("PIPELINE_ENABLED")
	})
	FromEnv(&cfg)
	if cfg.AllowAutoCreateBasins {
		t.Fatalf("env override bool")
	}
	if cfg.DefaultBasinName != "staging" {
		t.Fatalf("env override name")
	}
	if cfg.StreamDefaults.MaxRecordsPerBatch != 24 {
		t.Fatalf("env override max records per batch")
	}
	if !cfg.PipelineEnabled {
		t.Fatalf("env override pipeline enabled")
	}
}

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Store.FirstHandleID != 1 {
		t.Errorf("expected FirstHandleID 1, got %d", cfg.Store.FirstHandleID)
	}
	if cfg.Store.MaxObjectsPerType != 1<<16 {
		t.Errorf("expected MaxObjectsPerType %d, got %d", 1<<16, cfg.Store.MaxObjectsPerType)
	}
	if cfg.Dynamo.Table != "switchstore_snapshots" {
		t.Errorf("expected default table, got %q", cfg.Dynamo.Table)
	}
	if cfg.Dynamo.NumShards != 1 {
		t.Errorf("expected 1 shard, got %d", cfg.Dynamo.NumShards)
	}
	if cfg.Timeout != 2*time.Minute {
		t.Errorf("expected 2m timeout, got %v", cfg.Timeout)
	}
}

func TestLoad_File(t *testing.T) {
	path := writeConfig(t, "switchstore.yaml", `
store:
  first_handle_id: 4096
  max_objects_per_type: 1024
dynamo:
  table: tor1-snapshots
  name: leaf-07
  num_shards: 8
  retention: 72h
aws:
  region: eu-west-1
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Store.FirstHandleID != 4096 {
		t.Errorf("expected FirstHandleID 4096, got %d", cfg.Store.FirstHandleID)
	}
	if cfg.Dynamo.Name != "leaf-07" || cfg.Dynamo.NumShards != 8 {
		t.Errorf("unexpected dynamo config %+v", cfg.Dynamo)
	}
	if cfg.Dynamo.Retention != 72*time.Hour {
		t.Errorf("expected 72h retention, got %v", cfg.Dynamo.Retention)
	}
	if cfg.AWSRegion != "eu-west-1" {
		t.Errorf("expected region eu-west-1, got %q", cfg.AWSRegion)
	}
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	path := writeConfig(t, "switchstore.yaml", "dynamo:\n  table: from-file\n")
	t.Setenv("SWS_DYNAMO_TABLE", "from-env")
	t.Setenv("SWS_AWS_ENDPOINT", "http://localhost:8000")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Dynamo.Table != "from-env" {
		t.Errorf("expected env to win, got %q", cfg.Dynamo.Table)
	}
	if cfg.AWSEndpoint != "http://localhost:8000" {
		t.Errorf("expected endpoint from env, got %q", cfg.AWSEndpoint)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Error("expected error for missing config file")
	}
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"zero objects", "store:\n  max_objects_per_type: 0\n"},
		{"too many shards", "dynamo:\n  num_shards: 1000\n"},
		{"negative retention", "dynamo:\n  retention: -1h\n"},
		{"zero timeout", "timeout: 0s\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeConfig(t, "switchstore.yaml", tt.content)
			if _, err := Load(path); err == nil {
				t.Errorf("expected error for %s", tt.name)
			}
		})
	}
}

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadFullConfig(t *testing.T) {
	yaml := `
node_id: worker-1
connection:
  master_url: wss://master.example.com
  api_key: ${API_KEY:-dev-key}
  machine_code: mc-1
  prefer_stream: true
  heartbeat_interval: 30s
  reconnect_base_delay: 1s
  reconnect_max_delay: 30s

engine:
  max_concurrent: 4
  poll_timeout: 1s
  heartbeat_interval: 30s
  task_memory_limit_mb: 512
  task_cpu_time_limit: 10m

queue:
  backend: file
  path: /var/lib/workernode/queue.json

artifacts:
  enabled: true
  bucket: my-bucket
  prefix: workernode
  region: us-east-1

fetcher:
  enabled: true
  cache_dir: /var/cache/workernode

logs:
  enabled: true
  dataset: workernode-logs
  dir: /var/lib/workernode/logs

runtime_envs:
  - name: py311
    version: "3.11"
    env_vars:
      PYTHONUNBUFFERED: "1"

debug:
  addr: 127.0.0.1:9191
`
	path := writeTemp(t, yaml)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	assertEqual(t, "node_id", cfg.NodeID, "worker-1")
	assertEqual(t, "connection.master_url", cfg.Connection.MasterURL, "wss://master.example.com")
	assertEqual(t, "connection.api_key", cfg.Connection.APIKey, "dev-key")
	if cfg.Connection.HeartbeatInterval.Duration != 30*time.Second {
		t.Errorf("connection.heartbeat_interval: got %v", cfg.Connection.HeartbeatInterval.Duration)
	}
	if cfg.Engine.MaxConcurrent != 4 {
		t.Errorf("engine.max_concurrent: got %d, want 4", cfg.Engine.MaxConcurrent)
	}
	if cfg.Engine.TaskCPUTimeLimit.Duration != 10*time.Minute {
		t.Errorf("engine.task_cpu_time_limit: got %v", cfg.Engine.TaskCPUTimeLimit.Duration)
	}
	if cfg.Queue.Backend != "file" || cfg.Queue.Path != "/var/lib/workernode/queue.json" {
		t.Errorf("queue: got %+v", cfg.Queue)
	}
	if !cfg.Artifacts.Enabled || cfg.Artifacts.Bucket != "my-bucket" {
		t.Errorf("artifacts: got %+v", cfg.Artifacts)
	}
	if len(cfg.RuntimeEnvs) != 1 || cfg.RuntimeEnvs[0].Name != "py311" {
		t.Errorf("runtime_envs: got %+v", cfg.RuntimeEnvs)
	}
	assertEqual(t, "debug.addr", cfg.Debug.Addr, "127.0.0.1:9191")
}

func TestLoadRejectsUnknownFields(t *testing.T) {
	path := writeTemp(t, "node_id: worker-1\nnonexistent_field: oops\n")
	if _, err := Load(path); err == nil {
		t.Fatal("expected unknown field to be rejected")
	}
}

func TestLoadMissingFileReturnsClearError(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err == nil {
		t.Fatal("expected missing file to error")
	}
}

func TestExpandEnvDefaultWhenUnset(t *testing.T) {
	os.Unsetenv("WORKERNODE_TEST_VAR")
	got := ExpandEnv("value: ${WORKERNODE_TEST_VAR:-fallback}")
	if got != "value: fallback" {
		t.Fatalf("expected fallback expansion, got %q", got)
	}
}

func TestExpandEnvUsesSetValue(t *testing.T) {
	t.Setenv("WORKERNODE_TEST_VAR", "actual")
	got := ExpandEnv("value: ${WORKERNODE_TEST_VAR:-fallback}")
	if got != "value: actual" {
		t.Fatalf("expected actual value, got %q", got)
	}
}

func TestConnectionConfigConvertsSecretKey(t *testing.T) {
	cfg := &Config{Connection: ConnectionConfig{SecretKey: "shh"}}
	cc := cfg.ConnectionConfig()
	if cc.SecretKey == nil || *cc.SecretKey != "shh" {
		t.Fatalf("expected secret key pointer to shh, got %v", cc.SecretKey)
	}
}

func TestConnectionConfigNilSecretKeyWhenUnset(t *testing.T) {
	cfg := &Config{}
	cc := cfg.ConnectionConfig()
	if cc.SecretKey != nil {
		t.Fatalf("expected nil secret key, got %v", *cc.SecretKey)
	}
}

func writeTemp(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "workernode.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write temp file: %v", err)
	}
	return path
}

func assertEqual(t *testing.T, field, got, want string) {
	t.Helper()
	if got != want {
		t.Errorf("%s: got %q, want %q", field, got, want)
	}
}

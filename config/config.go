// Package config handles YAML configuration file loading for the worker
// node agent, grounded on the teacher's own CLI config loader: same
// env-var expansion, same yaml.v3 strict decoding, same Duration string
// type.
package config

import (
	"fmt"
	"time"
)

// Config represents a workernode.yaml configuration file. All values act
// as defaults for the run command's flags; flags always override config
// values.
type Config struct {
	NodeID      string             `yaml:"node_id"`
	Connection  ConnectionConfig   `yaml:"connection"`
	Engine      EngineConfig       `yaml:"engine"`
	Queue       QueueConfig        `yaml:"queue"`
	Artifacts   ArtifactsConfig    `yaml:"artifacts"`
	Fetcher     FetcherConfig      `yaml:"fetcher"`
	Logs        LogsConfig         `yaml:"logs"`
	RuntimeEnvs []RuntimeEnvConfig `yaml:"runtime_envs"`
	Debug       DebugConfig        `yaml:"debug"`
}

// ConnectionConfig configures the transport driver's connection to the
// Master, mirroring types.ConnectionConfig's fields one-for-one so Load's
// result converts without any field renaming.
type ConnectionConfig struct {
	MasterURL          string   `yaml:"master_url"`
	MasterURLs         []string `yaml:"master_urls,omitempty"`
	APIKey             string   `yaml:"api_key"`
	MachineCode        string   `yaml:"machine_code"`
	SecretKey          string   `yaml:"secret_key,omitempty"`
	PreferStream       bool     `yaml:"prefer_stream"`
	HeartbeatInterval  Duration `yaml:"heartbeat_interval"`
	ReconnectBaseDelay Duration `yaml:"reconnect_base_delay"`
	ReconnectMaxDelay  Duration `yaml:"reconnect_max_delay"`
	StreamPort         int      `yaml:"stream_port,omitempty"`
}

// EngineConfig configures the Engine's poll/worker/heartbeat behavior.
type EngineConfig struct {
	MaxConcurrent     int      `yaml:"max_concurrent"`
	PollTimeout       Duration `yaml:"poll_timeout"`
	HeartbeatInterval Duration `yaml:"heartbeat_interval"`
	TaskMemoryLimitMB int      `yaml:"task_memory_limit_mb"`
	TaskCPUTimeLimit  Duration `yaml:"task_cpu_time_limit"`
}

// QueueConfig selects and configures the scheduler's persistence backend.
// Backend "" or "file" persists to Path as a single JSON document; backend
// "redis" persists to a Redis key instead, for fleets whose workers run
// under a supervisor that doesn't preserve local disk across restarts.
type QueueConfig struct {
	Backend  string   `yaml:"backend,omitempty"`
	Path     string   `yaml:"path,omitempty"`
	RedisURL string   `yaml:"redis_url,omitempty"`
	RedisKey string   `yaml:"redis_key,omitempty"`
	Timeout  Duration `yaml:"timeout,omitempty"`
	Retries  *int     `yaml:"retries,omitempty"`
}

// ArtifactsConfig configures the default S3-backed ArtifactManager.
type ArtifactsConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Bucket      string `yaml:"bucket"`
	Prefix      string `yaml:"prefix,omitempty"`
	Region      string `yaml:"region,omitempty"`
	Endpoint    string `yaml:"endpoint,omitempty"`
	S3PathStyle bool   `yaml:"s3_path_style,omitempty"`
}

// FetcherConfig configures the default HTTP ProjectFetcher.
type FetcherConfig struct {
	Enabled  bool     `yaml:"enabled"`
	CacheDir string   `yaml:"cache_dir"`
	Timeout  Duration `yaml:"timeout,omitempty"`
	Retries  *int     `yaml:"retries,omitempty"`
}

// LogsConfig configures the default Lode-backed LogManagerFactory.
type LogsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Dataset string `yaml:"dataset"`
	Dir     string `yaml:"dir"`
}

// RuntimeEnvConfig is one named interpreter environment known up front to
// the default RuntimeManager.
type RuntimeEnvConfig struct {
	Name    string            `yaml:"name"`
	Version string            `yaml:"version"`
	EnvVars map[string]string `yaml:"env_vars,omitempty"`
}

// DebugConfig configures the ambient status/debug HTTP surface.
// Addr empty means the listener is disabled.
type DebugConfig struct {
	Addr string `yaml:"addr,omitempty"`
}

// Duration wraps time.Duration for YAML string parsing (e.g. "10s", "5m").
type Duration struct {
	time.Duration
}

// UnmarshalYAML parses a duration string like "10s" or "5m30s".
func (d *Duration) UnmarshalYAML(unmarshal func(any) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}
	if s == "" {
		return nil
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	d.Duration = parsed
	return nil
}

package config

import (
	"github.com/pithecene-io/workernode/engine"
	"github.com/pithecene-io/workernode/types"
)

// ConnectionConfig converts the YAML connection block into the wire
// types.ConnectionConfig the transport driver actually consumes.
func (c *Config) ConnectionConfig() types.ConnectionConfig {
	conn := c.Connection
	cc := types.ConnectionConfig{
		MasterURL:          conn.MasterURL,
		MasterURLs:         conn.MasterURLs,
		NodeID:             c.NodeID,
		APIKey:             conn.APIKey,
		MachineCode:        conn.MachineCode,
		PreferStream:       conn.PreferStream,
		HeartbeatInterval:  conn.HeartbeatInterval.Seconds(),
		ReconnectBaseDelay: conn.ReconnectBaseDelay.Seconds(),
		ReconnectMaxDelay:  conn.ReconnectMaxDelay.Seconds(),
		StreamPort:         conn.StreamPort,
	}
	if conn.SecretKey != "" {
		key := conn.SecretKey
		cc.SecretKey = &key
	}
	return cc
}

// EngineConfig converts the YAML engine block into engine.Config.
func (c *Config) EngineConfig() engine.Config {
	e := c.Engine
	return engine.Config{
		MaxConcurrent:     e.MaxConcurrent,
		PollTimeout:       e.PollTimeout.Duration,
		HeartbeatInterval: e.HeartbeatInterval.Duration,
		TaskMemoryLimitMB: e.TaskMemoryLimitMB,
		TaskCPUTimeLimit:  e.TaskCPUTimeLimit.Duration,
	}
}

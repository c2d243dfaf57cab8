package common

import (
	"fmt"
	"time"
)

// AdapterConfig holds the parameters a UDP adapter is constructed with.
type AdapterConfig struct {
	Port           uint16 `toml:"port" yaml:"port"`
	MaxConnections uint16 `toml:"max_connections" yaml:"max_connections"`

	// Zero means HEARTBEAT_INTERVAL / TIMEOUT_GRACE.
	HeartbeatInterval time.Duration `toml:"-" yaml:"-"`
	TimeoutGrace      int           `toml:"-" yaml:"-"`
}

// NewAdapterConfig creates an AdapterConfig with default liveness settings
func NewAdapterConfig(port uint16, maxConns uint16) *AdapterConfig {
	return &AdapterConfig{
		Port:           port,
		MaxConnections: maxConns,
	}
}

// Validate checks if the configuration is valid
func (c *AdapterConfig) Validate() error {
	if c.MaxConnections < 1 {
		return fmt.Errorf("invalid max connections: %d", c.MaxConnections)
	}
	if c.HeartbeatInterval < 0 {
		return fmt.Errorf("invalid heartbeat interval: %s", c.HeartbeatInterval)
	}
	if c.TimeoutGrace < 0 {
		return fmt.Errorf("invalid timeout grace: %d", c.TimeoutGrace)
	}
	return nil
}

func (c *AdapterConfig) Heartbeat() time.Duration {
	if c.HeartbeatInterval > 0 {
		return c.HeartbeatInterval
	}
	return HEARTBEAT_INTERVAL
}

func (c *AdapterConfig) Grace() int {
	if c.TimeoutGrace > 0 {
		return c.TimeoutGrace
	}
	return TIMEOUT_GRACE
}

// Timeout is the silence threshold after which a peer counts as gone.
func (c *AdapterConfig) Timeout() time.Duration {
	return TimeoutThreshold(c.Heartbeat(), c.Grace())
}

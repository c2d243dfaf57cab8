package common

import (
	"fmt"
	"time"
)

// DisconnectReason tells why a peer left.
type DisconnectReason byte

const (
	REASON_MANUAL DisconnectReason = iota
	REASON_TIMEOUT
)

func (r DisconnectReason) String() string {
	switch r {
	case REASON_MANUAL:
		return "manual"
	case REASON_TIMEOUT:
		return "timeout"
	default:
		return fmt.Sprintf("reason(%d)", byte(r))
	}
}

// NetworkStats holds aggregate socket statistics
type NetworkStats struct {
	BytesSent       uint64
	BytesReceived   uint64
	PacketsSent     uint64
	PacketsReceived uint64
	LastUpdated     time.Time
}

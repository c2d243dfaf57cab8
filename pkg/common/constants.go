package common

import "time"

const (
	// Socket
	UDP_READ_BUF_SIZE = 508
	RECV_BUFFER_SIZE  = UDP_READ_BUF_SIZE * 2
	POLL_INTERVAL     = 5 * time.Millisecond

	// Liveness
	HEARTBEAT_INTERVAL = 1250 * time.Millisecond
	TIMEOUT_GRACE      = 3
	TIMEOUT_SAFETY     = 1.25

	// Identity
	MIN_NAME_LEN = 3
	MAX_NAME_LEN = 10

	// Payload limits, kept well inside RECV_BUFFER_SIZE once encoded
	MAX_TEXT_LEN       = 256
	MAX_TARGET_IDS     = 16
	MAX_REPLY_PEERS    = 16
	DEFAULT_CLIENT_MAX = 1
	DEFAULT_SERVER_MAX = 16

	DEFAULT_PORT = 7777
)

// TimeoutThreshold returns how long a connection may stay silent before it is
// reported as timed out.
func TimeoutThreshold(interval time.Duration, grace int) time.Duration {
	return time.Duration(float64(interval) * float64(grace) * TIMEOUT_SAFETY)
}

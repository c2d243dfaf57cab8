package common

import "errors"

// Protocol errors
var (
	ErrInvalidTimestamp      = errors.New("invalid timestamp")
	ErrInvalidName           = errors.New("invalid name")
	ErrInvalidPacketType     = errors.New("invalid packet type")
	ErrPeerAlreadyConnected  = errors.New("peer already connected")
	ErrPeerNotConnected      = errors.New("peer not connected")
	ErrMaxConnectionsReached = errors.New("max connections reached")
	ErrNotConnected          = errors.New("not connected")
	ErrMessageTooLong        = errors.New("message too long")
)

// Codec and channel errors. These are fatal inside the adapter loop.
var (
	ErrCodec          = errors.New("codec error")
	ErrPacketTooLarge = errors.New("packet too large")
	ErrChannelClosed  = errors.New("channel closed")
)

package packet

import (
	"fmt"

	"github.com/NiklasVd/tell/pkg/common"
	"github.com/vmihailenco/msgpack/v5"
)

// Encode serializes p with msgpack. The result always fits the adapter's
// receive buffer.
func Encode(p *Packet) ([]byte, error) {
	if err := p.Payload.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", common.ErrCodec, err)
	}

	data, err := msgpack.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("%w: encode: %v", common.ErrCodec, err)
	}
	if len(data) > common.RECV_BUFFER_SIZE {
		return nil, fmt.Errorf("%w: %w: %d bytes, max %d", common.ErrCodec, common.ErrPacketTooLarge, len(data), common.RECV_BUFFER_SIZE)
	}
	return data, nil
}

// Decode parses a datagram produced by Encode.
func Decode(data []byte) (*Packet, error) {
	p := &Packet{}
	if err := msgpack.Unmarshal(data, p); err != nil {
		return nil, fmt.Errorf("%w: decode: %v", common.ErrCodec, err)
	}
	if p.Header.Timestamp == 0 {
		return nil, fmt.Errorf("%w: %w", common.ErrCodec, common.ErrInvalidTimestamp)
	}
	if err := p.Payload.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", common.ErrCodec, err)
	}
	return p, nil
}

package capture

import (
	"encoding/hex"
	"fmt"
	"io"
	"net/netip"
	"os"
	"sync"
	"time"

	"github.com/NiklasVd/tell/pkg/packet"
)

type Direction string

const (
	INCOMING Direction = "INCOMING"
	OUTGOING Direction = "OUTGOING"
)

// Interceptor appends a timestamped hex dump of every datagram it sees,
// along with the decoded payload when the datagram parses.
type Interceptor struct {
	mutex       sync.Mutex
	out         io.Writer
	closer      io.Closer
	isEnabled   bool
	packetCount uint64
}

// New opens outputPath for appending and writes a capture header.
func New(outputPath string) (*Interceptor, error) {
	file, err := os.OpenFile(outputPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644) // #nosec G304 - user supplied capture path
	if err != nil {
		return nil, fmt.Errorf("failed to open output file: %w", err)
	}

	pi, err := NewWriter(file)
	if err != nil {
		_ = file.Close()
		return nil, err
	}
	pi.closer = file
	return pi, nil
}

func NewWriter(w io.Writer) (*Interceptor, error) {
	header := fmt.Sprintf("=== Packet Capture Started at %s ===\n\n",
		time.Now().UTC().Format("2006-01-02 15:04:05"))
	if _, err := io.WriteString(w, header); err != nil {
		return nil, fmt.Errorf("failed to write header: %w", err)
	}
	return &Interceptor{out: w, isEnabled: true}, nil
}

func (pi *Interceptor) Close() error {
	pi.mutex.Lock()
	defer pi.mutex.Unlock()

	pi.isEnabled = false
	if pi.closer != nil {
		return pi.closer.Close()
	}
	return nil
}

func (pi *Interceptor) Intercept(data []byte, addr netip.AddrPort, direction Direction) error {
	pi.mutex.Lock()
	defer pi.mutex.Unlock()

	if !pi.isEnabled {
		return nil
	}

	pi.packetCount++
	timestamp := time.Now().UTC().Format("2006-01-02 15:04:05.000")

	summary := "undecodable"
	if p, err := packet.Decode(data); err == nil {
		summary = fmt.Sprintf("%s from %s", p.Payload, p.Header.Source)
	}

	entry := fmt.Sprintf("[%s] %s packet #%d %s %s: %s\nData (%d bytes):\n%s\n",
		timestamp,
		direction,
		pi.packetCount,
		peerPreposition(direction),
		addr,
		summary,
		len(data),
		hex.Dump(data),
	)
	if _, err := io.WriteString(pi.out, entry); err != nil {
		return fmt.Errorf("failed to write capture: %w", err)
	}

	if f, ok := pi.out.(*os.File); ok {
		return f.Sync()
	}
	return nil
}

func peerPreposition(d Direction) string {
	if d == INCOMING {
		return "from"
	}
	return "to"
}

func (pi *Interceptor) InterceptOutgoing(data []byte, to netip.AddrPort) error {
	return pi.Intercept(data, to, OUTGOING)
}

func (pi *Interceptor) InterceptIncoming(data []byte, from netip.AddrPort) error {
	return pi.Intercept(data, from, INCOMING)
}

func (pi *Interceptor) Enable() {
	pi.mutex.Lock()
	defer pi.mutex.Unlock()
	pi.isEnabled = true
}

func (pi *Interceptor) Disable() {
	pi.mutex.Lock()
	defer pi.mutex.Unlock()
	pi.isEnabled = false
}

func (pi *Interceptor) Count() uint64 {
	pi.mutex.Lock()
	defer pi.mutex.Unlock()
	return pi.packetCount
}

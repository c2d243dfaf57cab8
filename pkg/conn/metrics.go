package conn

import (
	"fmt"
	"io"
	"time"
)

// Metrics counts traffic in one direction of a connection. It is never reset.
type Metrics struct {
	Bytes        uint64
	Packets      uint64
	LastTransfer time.Time
}

func newMetrics(now time.Time) Metrics {
	return Metrics{LastTransfer: now}
}

func (m *Metrics) Transfer(n int, now time.Time) {
	m.Bytes += uint64(n)
	m.Packets++
	m.LastTransfer = now
}

// Idle returns how long ago the last transfer happened.
func (m Metrics) Idle(now time.Time) time.Duration {
	return now.Sub(m.LastTransfer)
}

func (m Metrics) String() string {
	return fmt.Sprintf("%d packets, %d bytes, last %s ago", m.Packets, m.Bytes, time.Since(m.LastTransfer).Truncate(time.Millisecond))
}

// WriteMetrics prints one block per connection: address, bound identity,
// state and both directions of traffic.
func WriteMetrics(w io.Writer, snaps []Snapshot) error {
	if len(snaps) == 0 {
		_, err := fmt.Fprintln(w, "no connections")
		return err
	}
	for _, s := range snaps {
		peer := "-"
		if s.Bound {
			peer = s.Peer.String()
		}
		if _, err := fmt.Fprintf(w, "%s %s [%s]\n  send: %s\n  recv: %s\n", s.Addr, peer, s.State, s.Send, s.Recv); err != nil {
			return err
		}
	}
	return nil
}

package conn

import (
	"net/netip"
	"time"

	"github.com/NiklasVd/tell/pkg/identity"
)

type State byte

const (
	STATE_CONNECTING State = iota
	// Modelled for a receive-side acknowledgment step that no engine uses.
	STATE_APPROVING
	STATE_ESTABLISHED
)

func (s State) String() string {
	switch s {
	case STATE_CONNECTING:
		return "connecting"
	case STATE_APPROVING:
		return "approving"
	case STATE_ESTABLISHED:
		return "established"
	}
	return "unknown"
}

// Connection is the read-only view of a per-peer session.
type Connection interface {
	Addr() netip.AddrPort
	State() State
	Identity() (identity.Identity, bool)
	SendMetrics() Metrics
	RecvMetrics() Metrics
}

// UDP is the session record for one remote UDP address.
type UDP struct {
	addr  netip.AddrPort
	state State
	peer  identity.Identity
	bound bool
	send  Metrics
	recv  Metrics
}

// Outgoing creates a connection we initiated; it waits for the peer to confirm.
func Outgoing(addr netip.AddrPort) *UDP {
	now := time.Now()
	return &UDP{
		addr:  addr,
		state: STATE_CONNECTING,
		send:  newMetrics(now),
		recv:  newMetrics(now),
	}
}

// Incoming creates a connection opened by a remote peer, already bound to id.
func Incoming(addr netip.AddrPort, id identity.Identity) *UDP {
	c := Outgoing(addr)
	c.Connect(id)
	return c
}

func (c *UDP) Addr() netip.AddrPort { return c.addr }
func (c *UDP) State() State         { return c.state }
func (c *UDP) SendMetrics() Metrics { return c.send }
func (c *UDP) RecvMetrics() Metrics { return c.recv }

func (c *UDP) Identity() (identity.Identity, bool) {
	return c.peer, c.bound
}

func (c *UDP) Established() bool {
	return c.state == STATE_ESTABLISHED
}

// Connect binds id and moves the connection to Established.
func (c *UDP) Connect(id identity.Identity) {
	c.peer = id
	c.bound = true
	c.state = STATE_ESTABLISHED
}

// Approve moves the connection to Established without binding an identity.
func (c *UDP) Approve() {
	c.state = STATE_ESTABLISHED
}

func (c *UDP) Sent(n int, now time.Time) {
	c.send.Transfer(n, now)
}

func (c *UDP) Received(n int, now time.Time) {
	c.recv.Transfer(n, now)
}

// Snapshot is a copy of a connection taken under the table lock.
type Snapshot struct {
	Addr  netip.AddrPort
	State State
	Peer  identity.Identity
	Bound bool
	Send  Metrics
	Recv  Metrics
}

func (c *UDP) Snapshot() Snapshot {
	return Snapshot{
		Addr:  c.addr,
		State: c.state,
		Peer:  c.peer,
		Bound: c.bound,
		Send:  c.send,
		Recv:  c.recv,
	}
}

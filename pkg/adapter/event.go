package adapter

import (
	"fmt"
	"net/netip"

	"github.com/NiklasVd/tell/pkg/common"
	"github.com/NiklasVd/tell/pkg/identity"
	"github.com/NiklasVd/tell/pkg/packet"
)

type EventKind byte

const (
	EVENT_PEER_CONNECT EventKind = iota
	EVENT_PEER_DISCONNECT
	EVENT_PAYLOAD
)

func (k EventKind) String() string {
	switch k {
	case EVENT_PEER_CONNECT:
		return "peer-connect"
	case EVENT_PEER_DISCONNECT:
		return "peer-disconnect"
	case EVENT_PAYLOAD:
		return "payload"
	}
	return "unknown"
}

// Event is published by the adapter loop for the protocol engine.
// Packet is set for PeerConnect and Payload; Peer, Bound and Reason for
// PeerDisconnect.
type Event struct {
	Kind   EventKind
	Addr   netip.AddrPort
	Packet *packet.Packet
	Peer   identity.Identity
	Bound  bool
	Reason common.DisconnectReason
}

func (e Event) String() string {
	switch e.Kind {
	case EVENT_PEER_DISCONNECT:
		return fmt.Sprintf("%s %s (%s)", e.Kind, e.Addr, e.Reason)
	default:
		return fmt.Sprintf("%s %s %s", e.Kind, e.Addr, e.Packet.Payload)
	}
}

type modeKind byte

const (
	modeBroadcast modeKind = iota
	modeMulticast
	modeUnicast
)

// SendMode selects the addresses a command is transmitted to.
type SendMode struct {
	kind  modeKind
	addrs []netip.AddrPort
}

// Broadcast sends to every address in the connection table.
func Broadcast() SendMode {
	return SendMode{kind: modeBroadcast}
}

func Multicast(addrs ...netip.AddrPort) SendMode {
	return SendMode{kind: modeMulticast, addrs: addrs}
}

// Unicast sends to addr whether or not it is in the table.
func Unicast(addr netip.AddrPort) SendMode {
	return SendMode{kind: modeUnicast, addrs: []netip.AddrPort{addr}}
}

func (m SendMode) String() string {
	switch m.kind {
	case modeBroadcast:
		return "broadcast"
	case modeMulticast:
		return fmt.Sprintf("multicast%v", m.addrs)
	default:
		return fmt.Sprintf("unicast[%s]", m.addrs[0])
	}
}

type command struct {
	mode    SendMode
	payload packet.Payload
}

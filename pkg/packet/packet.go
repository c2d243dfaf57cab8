package packet

import (
	"fmt"
	"time"

	"github.com/NiklasVd/tell/pkg/common"
	"github.com/NiklasVd/tell/pkg/identity"
)

type Header struct {
	Source    identity.Identity `msgpack:"s"`
	Timestamp uint64            `msgpack:"t"`
}

type Packet struct {
	Header  Header  `msgpack:"h"`
	Payload Payload `msgpack:"p"`
}

// Payload is a tagged variant: exactly one of Client or Server is set,
// matching Type, and neither for a heartbeat.
type Payload struct {
	Type   Type          `msgpack:"y"`
	Client *ClientPacket `msgpack:"c,omitempty"`
	Server *ServerPacket `msgpack:"v,omitempty"`
}

type ClientPacket struct {
	Op     ClientOp   `msgpack:"o"`
	Target TargetMode `msgpack:"m"`
	Text   string     `msgpack:"x,omitempty"`
}

// ServerPacket carries the fields of every server op. Peer is the subject of
// the join/leave ops, Source the author of a relayed message. A peer list
// spans several RequestReply packets numbered by Part; More is set on all
// but the last.
type ServerPacket struct {
	Op     ServerOp                `msgpack:"o"`
	Peer   identity.Identity       `msgpack:"i"`
	Reason common.DisconnectReason `msgpack:"r"`
	Source identity.Identity       `msgpack:"s"`
	Target TargetMode              `msgpack:"m"`
	Text   string                  `msgpack:"x,omitempty"`
	Peers  []identity.Identity     `msgpack:"l"`
	Part   uint16                  `msgpack:"q,omitempty"`
	More   bool                    `msgpack:"e,omitempty"`
}

type TargetMode struct {
	Kind  TargetKind          `msgpack:"k"`
	Peers []identity.Identity `msgpack:"p"`
}

// New stamps payload with source and the current time.
func New(source identity.Identity, payload Payload) *Packet {
	return &Packet{
		Header: Header{
			Source:    source,
			Timestamp: uint64(time.Now().UnixNano()),
		},
		Payload: payload,
	}
}

func Heartbeat() Payload {
	return Payload{Type: TypeHeartbeat}
}

func Connect() Payload {
	return client(&ClientPacket{Op: ClientConnect})
}

func Disconnect() Payload {
	return client(&ClientPacket{Op: ClientDisconnect})
}

func Message(target TargetMode, text string) Payload {
	return client(&ClientPacket{Op: ClientMessage, Target: target, Text: text})
}

func RequestPeers() Payload {
	return client(&ClientPacket{Op: ClientRequestPeers})
}

func PeerConnected(id identity.Identity) Payload {
	return server(&ServerPacket{Op: ServerPeerConnected, Peer: id})
}

func PeerDisconnected(id identity.Identity, reason common.DisconnectReason) Payload {
	return server(&ServerPacket{Op: ServerPeerDisconnected, Peer: id, Reason: reason})
}

func PeerTimedOut(id identity.Identity) Payload {
	return server(&ServerPacket{Op: ServerPeerTimedOut, Peer: id, Reason: common.REASON_TIMEOUT})
}

// Relay is the server side of a chat message, naming its author.
func Relay(source identity.Identity, target TargetMode, text string) Payload {
	return server(&ServerPacket{Op: ServerMessage, Source: source, Target: target, Text: text})
}

// RequestReply is a complete peer list in one packet. peers must not exceed
// MAX_REPLY_PEERS; use RequestReplyParts for lists of any length.
func RequestReply(peers []identity.Identity) Payload {
	return server(&ServerPacket{Op: ServerRequestReply, Peers: peers})
}

// RequestReplyParts splits peers into RequestReply packets of at most
// MAX_REPLY_PEERS each. An empty list still yields one packet.
func RequestReplyParts(peers []identity.Identity) []Payload {
	var parts []Payload
	for part := 0; ; part++ {
		n := min(len(peers), common.MAX_REPLY_PEERS)
		parts = append(parts, server(&ServerPacket{
			Op:    ServerRequestReply,
			Peers: peers[:n:n],
			Part:  uint16(part),
			More:  n < len(peers),
		}))
		peers = peers[n:]
		if len(peers) == 0 {
			return parts
		}
	}
}

func client(p *ClientPacket) Payload {
	return Payload{Type: TypeClient, Client: p}
}

func server(p *ServerPacket) Payload {
	return Payload{Type: TypeServer, Server: p}
}

func Broadcast() TargetMode {
	return TargetMode{Kind: TargetBroadcast}
}

func Multicast(peers ...identity.Identity) TargetMode {
	return TargetMode{Kind: TargetMulticast, Peers: peers}
}

func Unicast(peer identity.Identity) TargetMode {
	return TargetMode{Kind: TargetUnicast, Peers: []identity.Identity{peer}}
}

// Recipient returns the single addressee of a unicast target.
func (t TargetMode) Recipient() (identity.Identity, bool) {
	if t.Kind != TargetUnicast || len(t.Peers) != 1 {
		return identity.Identity{}, false
	}
	return t.Peers[0], true
}

// Includes reports whether id is addressed by t.
func (t TargetMode) Includes(id identity.Identity) bool {
	if t.Kind == TargetBroadcast {
		return true
	}
	for _, p := range t.Peers {
		if p == id {
			return true
		}
	}
	return false
}

func (t TargetMode) validate() error {
	switch t.Kind {
	case TargetBroadcast:
		if len(t.Peers) != 0 {
			return fmt.Errorf("broadcast target lists %d peers", len(t.Peers))
		}
	case TargetMulticast:
		if len(t.Peers) > common.MAX_TARGET_IDS {
			return fmt.Errorf("multicast target lists %d peers, max %d", len(t.Peers), common.MAX_TARGET_IDS)
		}
	case TargetUnicast:
		if len(t.Peers) != 1 {
			return fmt.Errorf("unicast target lists %d peers", len(t.Peers))
		}
	default:
		return fmt.Errorf("unknown target kind %d", t.Kind)
	}
	return nil
}

func (t TargetMode) String() string {
	if t.Kind == TargetBroadcast {
		return t.Kind.String()
	}
	return fmt.Sprintf("%s%v", t.Kind, t.Peers)
}

// Validate checks that the variant tag agrees with the populated fields.
func (p Payload) Validate() error {
	switch p.Type {
	case TypeHeartbeat:
		if p.Client != nil || p.Server != nil {
			return fmt.Errorf("%w: heartbeat with body", common.ErrInvalidPacketType)
		}
	case TypeClient:
		if p.Client == nil || p.Server != nil {
			return fmt.Errorf("%w: client payload without client body", common.ErrInvalidPacketType)
		}
		if p.Client.Op > ClientRequestPeers {
			return fmt.Errorf("%w: client op %d", common.ErrInvalidPacketType, p.Client.Op)
		}
		if p.Client.Op == ClientMessage {
			if err := p.Client.Target.validate(); err != nil {
				return fmt.Errorf("%w: %v", common.ErrInvalidPacketType, err)
			}
		}
	case TypeServer:
		if p.Server == nil || p.Client != nil {
			return fmt.Errorf("%w: server payload without server body", common.ErrInvalidPacketType)
		}
		if p.Server.Op > ServerRequestReply {
			return fmt.Errorf("%w: server op %d", common.ErrInvalidPacketType, p.Server.Op)
		}
		if n := len(p.Server.Peers); n > common.MAX_REPLY_PEERS {
			return fmt.Errorf("%w: peer list of %d, max %d per packet", common.ErrInvalidPacketType, n, common.MAX_REPLY_PEERS)
		}
	default:
		return fmt.Errorf("%w: type %d", common.ErrInvalidPacketType, p.Type)
	}
	return nil
}

func (p Payload) IsHeartbeat() bool {
	return p.Type == TypeHeartbeat
}

func (p Payload) String() string {
	switch {
	case p.Client != nil:
		return fmt.Sprintf("client/%s", p.Client.Op)
	case p.Server != nil:
		return fmt.Sprintf("server/%s", p.Server.Op)
	}
	return p.Type.String()
}

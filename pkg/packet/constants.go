package packet

const (
	// Payload types
	TypeHeartbeat Type = 0x00
	TypeClient    Type = 0x01
	TypeServer    Type = 0x02

	// Client packet ops
	ClientConnect      ClientOp = 0x00
	ClientDisconnect   ClientOp = 0x01
	ClientMessage      ClientOp = 0x02
	ClientRequestPeers ClientOp = 0x03

	// Server packet ops
	ServerPeerConnected    ServerOp = 0x00
	ServerPeerDisconnected ServerOp = 0x01
	ServerPeerTimedOut     ServerOp = 0x02
	ServerMessage          ServerOp = 0x03
	ServerRequestReply     ServerOp = 0x04

	// Target modes
	TargetBroadcast TargetKind = 0x00
	TargetMulticast TargetKind = 0x01
	TargetUnicast   TargetKind = 0x02
)

type Type byte
type ClientOp byte
type ServerOp byte
type TargetKind byte

func (t Type) String() string {
	switch t {
	case TypeHeartbeat:
		return "heartbeat"
	case TypeClient:
		return "client"
	case TypeServer:
		return "server"
	}
	return "unknown"
}

func (o ClientOp) String() string {
	switch o {
	case ClientConnect:
		return "connect"
	case ClientDisconnect:
		return "disconnect"
	case ClientMessage:
		return "message"
	case ClientRequestPeers:
		return "request-peers"
	}
	return "unknown"
}

func (o ServerOp) String() string {
	switch o {
	case ServerPeerConnected:
		return "peer-connected"
	case ServerPeerDisconnected:
		return "peer-disconnected"
	case ServerPeerTimedOut:
		return "peer-timed-out"
	case ServerMessage:
		return "message"
	case ServerRequestReply:
		return "request-reply"
	}
	return "unknown"
}

func (k TargetKind) String() string {
	switch k {
	case TargetBroadcast:
		return "broadcast"
	case TargetMulticast:
		return "multicast"
	case TargetUnicast:
		return "unicast"
	}
	return "unknown"
}

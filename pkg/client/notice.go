package client

import (
	"fmt"
	"time"

	"github.com/NiklasVd/tell/pkg/common"
	"github.com/NiklasVd/tell/pkg/identity"
	"github.com/NiklasVd/tell/pkg/packet"
)

type NoticeKind byte

const (
	NOTICE_ACCEPTED NoticeKind = iota
	NOTICE_REJECTED
	NOTICE_DISCONNECTED
	NOTICE_PEER_JOINED
	NOTICE_PEER_LEFT
	NOTICE_MESSAGE
	NOTICE_PEER_LIST
)

// Entry is one line of the chat log.
type Entry struct {
	From   identity.Identity
	Target packet.TargetMode
	Text   string
	At     time.Time
}

// Notice reports a state change observed by Poll.
type Notice struct {
	Kind   NoticeKind
	Peer   identity.Identity
	Reason common.DisconnectReason
	Entry  Entry
	Peers  []identity.Identity
}

func (n Notice) String() string {
	switch n.Kind {
	case NOTICE_ACCEPTED:
		return fmt.Sprintf("connected to %v", n.Peer)
	case NOTICE_REJECTED:
		return fmt.Sprintf("rejected by server (%s)", n.Reason)
	case NOTICE_DISCONNECTED:
		return fmt.Sprintf("disconnected (%s)", n.Reason)
	case NOTICE_PEER_JOINED:
		return fmt.Sprintf("%v joined", n.Peer)
	case NOTICE_PEER_LEFT:
		return fmt.Sprintf("%v left (%s)", n.Peer, n.Reason)
	case NOTICE_MESSAGE:
		return fmt.Sprintf("%s: %s", n.Entry.From.Name, n.Entry.Text)
	case NOTICE_PEER_LIST:
		return fmt.Sprintf("%d peers online", len(n.Peers))
	}
	return "unknown notice"
}

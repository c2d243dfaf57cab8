package client

import (
	"errors"
	"fmt"
	"io"
	"net/netip"
	"slices"
	"sync"
	"time"

	"github.com/NiklasVd/tell/pkg/adapter"
	"github.com/NiklasVd/tell/pkg/common"
	"github.com/NiklasVd/tell/pkg/conn"
	"github.com/NiklasVd/tell/pkg/debug"
	"github.com/NiklasVd/tell/pkg/identity"
	"github.com/NiklasVd/tell/pkg/interfaces"
	"github.com/NiklasVd/tell/pkg/packet"
)

// Client is the chat participant side of the protocol. It talks to exactly
// one server.
type Client struct {
	id      identity.Identity
	adapter *adapter.Adapter

	mutex     sync.RWMutex
	remote    netip.AddrPort
	hasRemote bool
	peers     map[identity.Identity]struct{}
	chatLog   []Entry

	// Peer list being assembled from a multi-part RequestReply.
	listing  []identity.Identity
	nextPart uint16
}

func New(id identity.Identity, cfg *common.AdapterConfig, opts ...adapter.Option) (*Client, error) {
	a, err := adapter.New(id, cfg, opts...)
	if err != nil {
		return nil, err
	}
	return &Client{
		id:      id,
		adapter: a,
		peers:   make(map[identity.Identity]struct{}),
	}, nil
}

// Connect starts the handshake with the server at addr. It completes once
// Poll reports NOTICE_ACCEPTED.
func (c *Client) Connect(addr netip.AddrPort) error {
	addr = interfaces.Normalize(addr)

	c.mutex.Lock()
	defer c.mutex.Unlock()

	if c.hasRemote {
		return fmt.Errorf("%w: %s", common.ErrPeerAlreadyConnected, c.remote)
	}
	if err := c.adapter.Table().Add(conn.Outgoing(addr)); err != nil {
		return err
	}
	if err := c.adapter.Send(adapter.Unicast(addr), packet.Connect()); err != nil {
		c.adapter.Table().Remove(addr)
		return err
	}

	c.remote = addr
	c.hasRemote = true
	debug.Log(debug.DEBUG_INFO, "Connecting", "server", addr, "identity", c.id)
	return nil
}

// Disconnect tells the server we are leaving and forgets it locally.
func (c *Client) Disconnect() error {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	if !c.hasRemote {
		return common.ErrNotConnected
	}
	err := c.adapter.Send(adapter.Unicast(c.remote), packet.Disconnect())
	c.teardown()
	return err
}

// Message sends text to the server, which fans it out per target.
func (c *Client) Message(target packet.TargetMode, text string) error {
	if len(text) > common.MAX_TEXT_LEN {
		return fmt.Errorf("%w: %d bytes, max %d", common.ErrMessageTooLong, len(text), common.MAX_TEXT_LEN)
	}
	return c.sendRemote(packet.Message(target, text))
}

func (c *Client) RequestPeers() error {
	return c.sendRemote(packet.RequestPeers())
}

func (c *Client) sendRemote(payload packet.Payload) error {
	c.mutex.RLock()
	defer c.mutex.RUnlock()

	if !c.hasRemote {
		return common.ErrNotConnected
	}
	return c.adapter.Send(adapter.Unicast(c.remote), payload)
}

// teardown drops the server connection. Callers hold c.mutex.
func (c *Client) teardown() {
	if removed, ok := c.adapter.Table().Remove(c.remote); ok {
		logFinalMetrics(removed)
	}
	c.hasRemote = false
	c.remote = netip.AddrPort{}
	clear(c.peers)
	c.resetListing()
}

func (c *Client) resetListing() {
	c.listing = nil
	c.nextPart = 0
}

func logFinalMetrics(c *conn.UDP) {
	debug.Log(debug.DEBUG_VERBOSE, "Connection closed",
		"addr", c.Addr(),
		"sent_packets", c.SendMetrics().Packets, "sent_bytes", c.SendMetrics().Bytes,
		"recv_packets", c.RecvMetrics().Packets, "recv_bytes", c.RecvMetrics().Bytes)
}

// Poll handles every event the adapter published since the last call. A
// failing event does not stop the rest of the batch; all failures are
// joined into the returned error.
func (c *Client) Poll() ([]Notice, error) {
	var notices []Notice
	var errs []error
	dropped := make(map[netip.AddrPort]bool)

	for _, ev := range c.adapter.Events() {
		// The adapter repeats timeouts every pass; one per batch is enough.
		if ev.Kind == adapter.EVENT_PEER_DISCONNECT {
			if dropped[ev.Addr] {
				continue
			}
			dropped[ev.Addr] = true
		}

		n, err := c.handle(ev)
		if err != nil {
			debug.Log(debug.DEBUG_VERBOSE, "Event rejected", "event", ev, "error", err)
			errs = append(errs, err)
			continue
		}
		if n != nil {
			notices = append(notices, *n)
		}
	}

	select {
	case <-c.adapter.Done():
		if err := c.adapter.Wait(); err != nil {
			errs = append(errs, err)
		}
	default:
	}
	return notices, errors.Join(errs...)
}

func (c *Client) handle(ev adapter.Event) (*Notice, error) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	if ev.Kind == adapter.EVENT_PEER_DISCONNECT && ev.Reason == common.REASON_TIMEOUT {
		// Published before the connection was removed; already handled.
		if _, ok := c.adapter.Table().Get(ev.Addr); !ok {
			debug.Log(debug.DEBUG_TRACE, "Ignoring timeout for removed connection", "addr", ev.Addr)
			return nil, nil
		}
	}
	if !c.hasRemote {
		return nil, fmt.Errorf("%w: %s", common.ErrNotConnected, ev)
	}

	switch ev.Kind {
	case adapter.EVENT_PEER_CONNECT:
		return nil, fmt.Errorf("%w: clients do not accept connections (%s)", common.ErrInvalidPacketType, ev.Addr)

	case adapter.EVENT_PEER_DISCONNECT:
		if removed, ok := c.adapter.Table().Remove(ev.Addr); ok {
			logFinalMetrics(removed)
		}
		if ev.Addr != c.remote {
			return nil, nil
		}
		c.teardown()
		debug.Log(debug.DEBUG_INFO, "Disconnected", "server", ev.Addr, "reason", ev.Reason)
		return &Notice{Kind: NOTICE_DISCONNECTED, Reason: ev.Reason}, nil

	case adapter.EVENT_PAYLOAD:
		sp := ev.Packet.Payload.Server
		if sp == nil {
			return nil, fmt.Errorf("%w: %s from %s", common.ErrInvalidPacketType, ev.Packet.Payload, ev.Addr)
		}
		snap, ok := c.adapter.Table().Get(ev.Addr)
		if !ok {
			return nil, fmt.Errorf("%w: %s", common.ErrPeerNotConnected, ev.Addr)
		}
		if !snap.Bound {
			return c.handshake(ev, sp)
		}
		return c.steady(sp)
	}
	return nil, fmt.Errorf("%w: event %d", common.ErrInvalidPacketType, ev.Kind)
}

// handshake interprets replies while the server has not yet confirmed us.
func (c *Client) handshake(ev adapter.Event, sp *packet.ServerPacket) (*Notice, error) {
	switch sp.Op {
	case packet.ServerPeerConnected:
		if sp.Peer != c.id {
			c.peers[sp.Peer] = struct{}{}
			return &Notice{Kind: NOTICE_PEER_JOINED, Peer: sp.Peer}, nil
		}
		server := ev.Packet.Header.Source
		if err := c.adapter.Table().Bind(ev.Addr, server); err != nil {
			return nil, err
		}
		c.peers[c.id] = struct{}{}
		debug.Log(debug.DEBUG_INFO, "Connected", "server", server, "addr", ev.Addr)
		return &Notice{Kind: NOTICE_ACCEPTED, Peer: server}, nil

	case packet.ServerPeerDisconnected:
		if sp.Peer != c.id {
			delete(c.peers, sp.Peer)
			return &Notice{Kind: NOTICE_PEER_LEFT, Peer: sp.Peer, Reason: sp.Reason}, nil
		}
		c.teardown()
		debug.Log(debug.DEBUG_INFO, "Connection rejected", "server", ev.Addr, "reason", sp.Reason)
		return &Notice{Kind: NOTICE_REJECTED, Reason: sp.Reason}, nil
	}
	return nil, fmt.Errorf("%w: %s during handshake", common.ErrInvalidPacketType, sp.Op)
}

func (c *Client) steady(sp *packet.ServerPacket) (*Notice, error) {
	switch sp.Op {
	case packet.ServerMessage:
		if sp.Target.Kind == packet.TargetUnicast {
			if to, ok := sp.Target.Recipient(); !ok || to != c.id {
				debug.Log(debug.DEBUG_ERROR, "Received unicast addressed to someone else", "from", sp.Source, "to", sp.Target)
			}
		}
		entry := Entry{From: sp.Source, Target: sp.Target, Text: sp.Text, At: time.Now()}
		c.chatLog = append(c.chatLog, entry)
		return &Notice{Kind: NOTICE_MESSAGE, Peer: sp.Source, Entry: entry}, nil

	case packet.ServerRequestReply:
		return c.collectPeers(sp), nil

	case packet.ServerPeerConnected:
		c.peers[sp.Peer] = struct{}{}
		return &Notice{Kind: NOTICE_PEER_JOINED, Peer: sp.Peer}, nil

	case packet.ServerPeerDisconnected, packet.ServerPeerTimedOut:
		delete(c.peers, sp.Peer)
		reason := sp.Reason
		if sp.Op == packet.ServerPeerTimedOut {
			reason = common.REASON_TIMEOUT
		}
		return &Notice{Kind: NOTICE_PEER_LEFT, Peer: sp.Peer, Reason: reason}, nil
	}
	return nil, fmt.Errorf("%w: %s", common.ErrInvalidPacketType, sp.Op)
}

// collectPeers appends one part of a peer list and, on the last part,
// replaces the known peers with the whole list. A part arriving out of
// sequence discards the partial list.
func (c *Client) collectPeers(sp *packet.ServerPacket) *Notice {
	if sp.Part == 0 {
		c.resetListing()
	}
	if sp.Part != c.nextPart {
		debug.Log(debug.DEBUG_INFO, "Discarding incomplete peer list", "part", sp.Part, "want", c.nextPart)
		c.resetListing()
		return nil
	}
	c.listing = append(c.listing, sp.Peers...)
	c.nextPart++
	if sp.More {
		return nil
	}

	list := c.listing
	c.resetListing()
	clear(c.peers)
	for _, id := range list {
		c.peers[id] = struct{}{}
	}
	return &Notice{Kind: NOTICE_PEER_LIST, Peers: list}
}

func (c *Client) Identity() identity.Identity {
	return c.id
}

// Connected returns the server identity once the handshake is complete.
func (c *Client) Connected() (identity.Identity, bool) {
	c.mutex.RLock()
	defer c.mutex.RUnlock()

	if !c.hasRemote {
		return identity.Identity{}, false
	}
	snap, ok := c.adapter.Table().Get(c.remote)
	if !ok || !snap.Bound {
		return identity.Identity{}, false
	}
	return snap.Peer, true
}

// Remote returns the server address while connecting or connected.
func (c *Client) Remote() (netip.AddrPort, bool) {
	c.mutex.RLock()
	defer c.mutex.RUnlock()
	return c.remote, c.hasRemote
}

// Peers lists known participants ordered by name.
func (c *Client) Peers() []identity.Identity {
	c.mutex.RLock()
	defer c.mutex.RUnlock()

	ids := make([]identity.Identity, 0, len(c.peers))
	for id := range c.peers {
		ids = append(ids, id)
	}
	slices.SortFunc(ids, identity.Compare)
	return ids
}

// FindPeer resolves a display name to a known identity.
func (c *Client) FindPeer(name string) (identity.Identity, bool) {
	for _, id := range c.Peers() {
		if id.Name == name {
			return id, true
		}
	}
	return identity.Identity{}, false
}

func (c *Client) ChatLog() []Entry {
	c.mutex.RLock()
	defer c.mutex.RUnlock()
	return slices.Clone(c.chatLog)
}

func (c *Client) Metrics() []conn.Snapshot {
	return c.adapter.Table().Snapshots()
}

func (c *Client) Stats() common.NetworkStats {
	return c.adapter.Stats()
}

func (c *Client) PrintMetrics(w io.Writer) error {
	return conn.WriteMetrics(w, c.Metrics())
}

func (c *Client) LocalAddr() netip.AddrPort {
	return c.adapter.LocalAddr()
}

// Done is closed once the adapter loop has stopped.
func (c *Client) Done() <-chan struct{} {
	return c.adapter.Done()
}

// Shutdown stops the adapter and returns any failure of its loop.
func (c *Client) Shutdown() error {
	return c.adapter.Close()
}

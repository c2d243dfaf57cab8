package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/netip"
	"time"

	"github.com/NiklasVd/tell/pkg/adapter"
	"github.com/NiklasVd/tell/pkg/common"
	"github.com/NiklasVd/tell/pkg/conn"
	"github.com/NiklasVd/tell/pkg/debug"
	"github.com/NiklasVd/tell/pkg/identity"
	"github.com/NiklasVd/tell/pkg/packet"
	"github.com/NiklasVd/tell/pkg/rate"
)

const (
	DEFAULT_MESSAGE_RATE  = 10
	DEFAULT_MESSAGE_BURST = 10
)

// Server is the hub: it admits clients, relays their messages and tells
// everyone who joined and left. All peer state lives in the adapter's
// connection table.
type Server struct {
	id      identity.Identity
	adapter *adapter.Adapter
	limits  *rate.Set[netip.AddrPort]

	adapterOpts []adapter.Option
}

type Option func(*Server)

// WithRateLimit caps chat messages per peer. A zero rate disables the limit.
func WithRateLimit(perSecond float64, burst float64) Option {
	return func(s *Server) {
		s.limits = rate.NewSet[netip.AddrPort](perSecond, burst)
	}
}

// WithAdapterOptions passes opts to the underlying adapter.
func WithAdapterOptions(opts ...adapter.Option) Option {
	return func(s *Server) {
		s.adapterOpts = append(s.adapterOpts, opts...)
	}
}

func New(id identity.Identity, cfg *common.AdapterConfig, opts ...Option) (*Server, error) {
	s := &Server{
		id:     id,
		limits: rate.NewSet[netip.AddrPort](DEFAULT_MESSAGE_RATE, DEFAULT_MESSAGE_BURST),
	}
	for _, opt := range opts {
		opt(s)
	}

	a, err := adapter.New(id, cfg, s.adapterOpts...)
	if err != nil {
		return nil, err
	}
	s.adapter = a
	return s, nil
}

// Poll handles every event the adapter published since the last call. A
// failing event does not stop the rest of the batch; all failures are
// joined into the returned error.
func (s *Server) Poll() error {
	var errs []error
	dropped := make(map[netip.AddrPort]bool)

	for _, ev := range s.adapter.Events() {
		var err error
		switch ev.Kind {
		case adapter.EVENT_PEER_CONNECT:
			err = s.accept(ev)
		case adapter.EVENT_PEER_DISCONNECT:
			// The adapter repeats timeouts every pass; one per batch is enough.
			if dropped[ev.Addr] {
				continue
			}
			dropped[ev.Addr] = true
			if ev.Reason == common.REASON_TIMEOUT && !s.connected(ev.Addr) {
				// Published before an earlier batch removed the connection.
				debug.Log(debug.DEBUG_TRACE, "Ignoring timeout for removed connection", "addr", ev.Addr)
				continue
			}
			err = s.drop(ev.Addr, ev.Reason)
		case adapter.EVENT_PAYLOAD:
			err = s.dispatch(ev, dropped)
		default:
			err = fmt.Errorf("%w: event %d", common.ErrInvalidPacketType, ev.Kind)
		}

		if err != nil {
			debug.Log(debug.DEBUG_VERBOSE, "Event rejected", "event", ev, "error", err)
			errs = append(errs, err)
		}
	}

	select {
	case <-s.adapter.Done():
		if err := s.adapter.Wait(); err != nil {
			errs = append(errs, err)
		}
	default:
	}
	return errors.Join(errs...)
}

// Run polls every interval until ctx is cancelled or the adapter stops.
// Per-poll failures are logged, not returned.
func (s *Server) Run(ctx context.Context, every time.Duration) error {
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-s.adapter.Done():
			return s.adapter.Wait()
		case <-ticker.C:
			if err := s.Poll(); err != nil {
				debug.Log(debug.DEBUG_INFO, "Poll failed", "error", err)
			}
		}
	}
}

func (s *Server) accept(ev adapter.Event) error {
	cp := ev.Packet.Payload.Client
	if cp == nil || cp.Op != packet.ClientConnect {
		debug.Log(debug.DEBUG_VERBOSE, "Ignoring packet from unknown address", "addr", ev.Addr, "payload", ev.Packet.Payload)
		return nil
	}

	id := ev.Packet.Header.Source
	if err := s.adapter.Table().Add(conn.Incoming(ev.Addr, id)); err != nil {
		debug.Log(debug.DEBUG_INFO, "Rejecting peer", "addr", ev.Addr, "peer", id, "error", err)
		if sendErr := s.adapter.Send(adapter.Unicast(ev.Addr), packet.PeerDisconnected(id, common.REASON_MANUAL)); sendErr != nil {
			return errors.Join(err, sendErr)
		}
		return err
	}

	debug.Log(debug.DEBUG_INFO, "Peer connected", "addr", ev.Addr, "peer", id)
	return s.adapter.Send(adapter.Broadcast(), packet.PeerConnected(id))
}

// drop removes addr and, if its peer was known to the others, announces the
// departure.
func (s *Server) drop(addr netip.AddrPort, reason common.DisconnectReason) error {
	s.limits.Forget(addr)

	c, ok := s.adapter.Table().Remove(addr)
	if !ok {
		return fmt.Errorf("%w: %s", common.ErrPeerNotConnected, addr)
	}

	id, bound := c.Identity()
	debug.Log(debug.DEBUG_INFO, "Peer disconnected", "addr", addr, "peer", id, "reason", reason,
		"sent_packets", c.SendMetrics().Packets, "recv_packets", c.RecvMetrics().Packets)

	if !bound || !c.Established() {
		return nil
	}
	return s.adapter.Send(adapter.Broadcast(), packet.PeerDisconnected(id, reason))
}

func (s *Server) dispatch(ev adapter.Event, dropped map[netip.AddrPort]bool) error {
	cp := ev.Packet.Payload.Client
	if cp == nil {
		return fmt.Errorf("%w: %s from %s", common.ErrInvalidPacketType, ev.Packet.Payload, ev.Addr)
	}

	switch cp.Op {
	case packet.ClientConnect:
		return s.reconnect(ev, dropped)
	case packet.ClientDisconnect:
		dropped[ev.Addr] = true
		return s.drop(ev.Addr, common.REASON_MANUAL)
	case packet.ClientMessage:
		return s.relay(ev, cp)
	case packet.ClientRequestPeers:
		return s.listPeers(ev.Addr)
	}
	return fmt.Errorf("%w: %s from connected peer %s", common.ErrInvalidPacketType, cp.Op, ev.Addr)
}

// reconnect answers a Connect from an address that is already admitted,
// e.g. a client restarted on the same port. The same identity is confirmed
// again; a different one replaces the old peer.
func (s *Server) reconnect(ev adapter.Event, dropped map[netip.AddrPort]bool) error {
	id := ev.Packet.Header.Source
	if snap, ok := s.adapter.Table().Get(ev.Addr); ok && snap.Bound && snap.Peer == id {
		debug.Log(debug.DEBUG_INFO, "Peer reconnected", "addr", ev.Addr, "peer", id)
		return s.adapter.Send(adapter.Unicast(ev.Addr), packet.PeerConnected(id))
	}

	dropped[ev.Addr] = true
	if err := s.drop(ev.Addr, common.REASON_MANUAL); err != nil {
		return err
	}
	return s.accept(ev)
}

// listPeers sends the Established identities to addr, split over as many
// RequestReply packets as the list needs.
func (s *Server) listPeers(addr netip.AddrPort) error {
	for _, part := range packet.RequestReplyParts(s.adapter.Table().Established()) {
		if err := s.adapter.Send(adapter.Unicast(addr), part); err != nil {
			return err
		}
	}
	return nil
}

func (s *Server) connected(addr netip.AddrPort) bool {
	_, ok := s.adapter.Table().Get(addr)
	return ok
}

func (s *Server) relay(ev adapter.Event, cp *packet.ClientPacket) error {
	snap, ok := s.adapter.Table().Get(ev.Addr)
	if !ok {
		return fmt.Errorf("%w: %s", common.ErrPeerNotConnected, ev.Addr)
	}
	sender := ev.Packet.Header.Source
	if snap.Bound {
		sender = snap.Peer
	}

	if len(cp.Text) > common.MAX_TEXT_LEN {
		return fmt.Errorf("%w: %d bytes from %v", common.ErrMessageTooLong, len(cp.Text), sender)
	}
	if !s.limits.Allow(ev.Addr) {
		debug.Log(debug.DEBUG_INFO, "Dropping message over rate limit", "peer", sender)
		return nil
	}

	mode, err := s.resolve(cp.Target)
	if err != nil {
		return err
	}
	debug.Log(debug.DEBUG_TRACE, "Relaying message", "from", sender, "target", cp.Target)
	return s.adapter.Send(mode, packet.Relay(sender, cp.Target, cp.Text))
}

// resolve maps a chat target onto the addresses of Established peers.
// Unknown multicast members are skipped.
func (s *Server) resolve(target packet.TargetMode) (adapter.SendMode, error) {
	table := s.adapter.Table()

	switch target.Kind {
	case packet.TargetBroadcast:
		return adapter.Broadcast(), nil

	case packet.TargetMulticast:
		addrs := make([]netip.AddrPort, 0, len(target.Peers))
		for _, id := range target.Peers {
			if addr, ok := table.Lookup(id); ok {
				addrs = append(addrs, addr)
			}
		}
		return adapter.Multicast(addrs...), nil

	case packet.TargetUnicast:
		id, _ := target.Recipient()
		addr, ok := table.Lookup(id)
		if !ok {
			return adapter.SendMode{}, fmt.Errorf("%w: %v", common.ErrPeerNotConnected, id)
		}
		return adapter.Unicast(addr), nil
	}
	return adapter.SendMode{}, fmt.Errorf("%w: target %s", common.ErrInvalidPacketType, target.Kind)
}

func (s *Server) Identity() identity.Identity {
	return s.id
}

func (s *Server) LocalAddr() netip.AddrPort {
	return s.adapter.LocalAddr()
}

// Established lists the identities of every admitted peer.
func (s *Server) Established() []identity.Identity {
	return s.adapter.Table().Established()
}

func (s *Server) Metrics() []conn.Snapshot {
	return s.adapter.Table().Snapshots()
}

func (s *Server) Stats() common.NetworkStats {
	return s.adapter.Stats()
}

func (s *Server) PrintMetrics(w io.Writer) error {
	return conn.WriteMetrics(w, s.Metrics())
}

// Shutdown stops the adapter and returns any failure of its loop.
func (s *Server) Shutdown() error {
	return s.adapter.Close()
}

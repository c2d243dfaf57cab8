package adapter

import (
	"errors"
	"fmt"
	"net"
	"net/netip"
	"sync"
	"time"

	"github.com/NiklasVd/tell/pkg/common"
	"github.com/NiklasVd/tell/pkg/conn"
	"github.com/NiklasVd/tell/pkg/debug"
	"github.com/NiklasVd/tell/pkg/identity"
	"github.com/NiklasVd/tell/pkg/interfaces"
	"github.com/NiklasVd/tell/pkg/packet"
	"github.com/NiklasVd/tell/pkg/queue"
)

// Adapter owns a UDP socket and the connection table. One goroutine drives
// all socket I/O and liveness checks; callers talk to it through Send and
// Events.
type Adapter struct {
	id       identity.Identity
	cfg      common.AdapterConfig
	iface    *interfaces.UDPInterface
	table    *conn.Table
	commands *queue.Queue[command]
	events   *queue.Queue[Event]
	tap      Tap

	done     chan struct{}
	err      error
	stopOnce sync.Once
}

// Tap observes raw datagrams as they cross the socket, e.g. for packet
// capture. Tap errors are logged and never stop the loop.
type Tap interface {
	InterceptIncoming(data []byte, from netip.AddrPort) error
	InterceptOutgoing(data []byte, to netip.AddrPort) error
}

type Option func(*Adapter)

func WithTap(t Tap) Option {
	return func(a *Adapter) {
		a.tap = t
	}
}

// New binds the socket on cfg.Port and starts the loop.
func New(id identity.Identity, cfg *common.AdapterConfig, opts ...Option) (*Adapter, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("adapter: %w", err)
	}

	iface, err := interfaces.NewUDPInterface(id.Name, cfg.Port)
	if err != nil {
		return nil, fmt.Errorf("adapter: %w", err)
	}
	if err := iface.Start(); err != nil {
		return nil, fmt.Errorf("adapter: %w", err)
	}

	a := &Adapter{
		id:       id,
		cfg:      *cfg,
		iface:    iface,
		table:    conn.NewTable(cfg.MaxConnections),
		commands: queue.New[command](),
		events:   queue.New[Event](),
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(a)
	}

	debug.Log(debug.DEBUG_INFO, "Adapter listening", "addr", a.LocalAddr(), "identity", id, "max_connections", cfg.MaxConnections)
	go a.run()
	return a, nil
}

// Send queues payload for transmission. It only fails if the payload is
// malformed, does not fit one datagram or the loop has exited.
func (a *Adapter) Send(mode SendMode, payload packet.Payload) error {
	if _, err := packet.Encode(packet.New(a.id, payload)); err != nil {
		return err
	}
	if err := a.commands.Push(command{mode: mode, payload: payload}); err != nil {
		return fmt.Errorf("adapter: send: %w", err)
	}
	return nil
}

// Events drains every event published since the last call, in order.
func (a *Adapter) Events() []Event {
	return a.events.Drain()
}

// Ready is signalled whenever new events are queued.
func (a *Adapter) Ready() <-chan struct{} {
	return a.events.Ready()
}

func (a *Adapter) Table() *conn.Table {
	return a.table
}

func (a *Adapter) Identity() identity.Identity {
	return a.id
}

func (a *Adapter) Config() common.AdapterConfig {
	return a.cfg
}

func (a *Adapter) LocalAddr() netip.AddrPort {
	return a.iface.LocalAddr()
}

// Stats reports socket totals, including traffic to or from unknown peers.
func (a *Adapter) Stats() common.NetworkStats {
	return a.iface.Stats()
}

// Shutdown asks the loop to stop after its current iteration.
func (a *Adapter) Shutdown() {
	a.table.Shutdown()
}

func (a *Adapter) Done() <-chan struct{} {
	return a.done
}

// Wait blocks until the loop has exited and returns its failure, if any.
func (a *Adapter) Wait() error {
	<-a.done
	return a.err
}

// Close stops the loop and waits for it.
func (a *Adapter) Close() error {
	a.stopOnce.Do(a.Shutdown)
	return a.Wait()
}

func (a *Adapter) run() {
	defer close(a.done)

	a.err = a.loop()
	a.commands.Close()
	a.iface.Detach()

	if a.err != nil {
		debug.Log(debug.DEBUG_ERROR, "Adapter stopped", "addr", a.LocalAddr(), "error", a.err)
		return
	}
	debug.Log(debug.DEBUG_VERBOSE, "Adapter stopped", "addr", a.LocalAddr())
}

func (a *Adapter) loop() error {
	for {
		data, from, err := a.iface.Receive(common.POLL_INTERVAL)
		if err != nil {
			switch {
			case interfaces.IsTransient(err):
				debug.Log(debug.DEBUG_TRACE, "Ignoring transient socket error", "error", err)
				data = nil
			case errors.Is(err, net.ErrClosed) && !a.table.Running():
				return nil
			default:
				return fmt.Errorf("adapter: read: %w", err)
			}
		}

		now := time.Now()
		err = a.table.Update(func(tx *conn.Tx) error {
			if err := a.drainCommands(tx, now); err != nil {
				return err
			}
			if data != nil {
				if err := a.receive(tx, data, from, now); err != nil {
					return err
				}
			}
			return a.maintain(tx, now)
		})
		if err != nil {
			return err
		}

		if !a.table.Running() {
			// Flush what was queued before Shutdown, e.g. a Disconnect.
			return a.table.Update(func(tx *conn.Tx) error {
				return a.drainCommands(tx, time.Now())
			})
		}
	}
}

func (a *Adapter) drainCommands(tx *conn.Tx, now time.Time) error {
	for _, cmd := range a.commands.Drain() {
		if err := a.transmit(tx, cmd.mode, cmd.payload, now); err != nil {
			return err
		}
	}
	return nil
}

func (a *Adapter) resolve(tx *conn.Tx, mode SendMode) []netip.AddrPort {
	if mode.kind == modeBroadcast {
		return tx.Addresses()
	}
	return mode.addrs
}

// transmit encodes payload once and writes it to every resolved address.
// Known addresses have their send metrics updated; unknown ones are still
// written to so a handshake can reach a peer not yet in the table.
func (a *Adapter) transmit(tx *conn.Tx, mode SendMode, payload packet.Payload, now time.Time) error {
	addrs := a.resolve(tx, mode)
	if len(addrs) == 0 {
		return nil
	}

	data, err := packet.Encode(packet.New(a.id, payload))
	if err != nil {
		return fmt.Errorf("adapter: %w", err)
	}

	for _, addr := range addrs {
		if c, ok := tx.Get(addr); ok {
			c.Sent(len(data), now)
		}
		if a.tap != nil {
			if err := a.tap.InterceptOutgoing(data, addr); err != nil {
				debug.Log(debug.DEBUG_ERROR, "Packet capture failed", "error", err)
			}
		}
		if err := a.iface.Send(data, addr); err != nil {
			if interfaces.IsTransient(err) {
				debug.Log(debug.DEBUG_TRACE, "Ignoring transient socket error", "addr", addr, "error", err)
				continue
			}
			return fmt.Errorf("adapter: write %s: %w", addr, err)
		}
	}

	debug.Log(debug.DEBUG_PACKETS, "Sent packet", "payload", payload, "mode", mode, "bytes", len(data))
	return nil
}

func (a *Adapter) receive(tx *conn.Tx, data []byte, from netip.AddrPort, now time.Time) error {
	if a.tap != nil {
		if err := a.tap.InterceptIncoming(data, from); err != nil {
			debug.Log(debug.DEBUG_ERROR, "Packet capture failed", "error", err)
		}
	}
	p, err := packet.Decode(data)
	if err != nil {
		return fmt.Errorf("adapter: from %s: %w", from, err)
	}
	debug.Log(debug.DEBUG_PACKETS, "Received packet", "addr", from, "source", p.Header.Source, "payload", p.Payload, "bytes", len(data))

	if c, ok := tx.Get(from); ok {
		c.Received(len(data), now)
		if p.Payload.IsHeartbeat() {
			return nil
		}
		return a.publish(Event{Kind: EVENT_PAYLOAD, Addr: from, Packet: p})
	}

	// Heartbeats never open a connection.
	if p.Payload.IsHeartbeat() {
		return nil
	}
	return a.publish(Event{Kind: EVENT_PEER_CONNECT, Addr: from, Packet: p})
}

// maintain queues heartbeats for peers we have not written to recently and
// reports peers we have not heard from. Stale peers are reported on every
// pass until the engine removes them.
func (a *Adapter) maintain(tx *conn.Tx, now time.Time) error {
	interval := a.cfg.Heartbeat()
	timeout := a.cfg.Timeout()

	var idle []netip.AddrPort
	var stale []Event
	tx.Range(func(c *conn.UDP) {
		if c.SendMetrics().Idle(now) >= interval {
			idle = append(idle, c.Addr())
		}
		if c.RecvMetrics().Idle(now) >= timeout {
			peer, bound := c.Identity()
			stale = append(stale, Event{
				Kind:   EVENT_PEER_DISCONNECT,
				Addr:   c.Addr(),
				Peer:   peer,
				Bound:  bound,
				Reason: common.REASON_TIMEOUT,
			})
		}
	})

	for _, ev := range stale {
		debug.Log(debug.DEBUG_TRACE, "Peer timed out", "addr", ev.Addr, "peer", ev.Peer)
		if err := a.publish(ev); err != nil {
			return err
		}
	}

	if len(idle) == 0 {
		return nil
	}
	return a.transmit(tx, Multicast(idle...), packet.Heartbeat(), now)
}

func (a *Adapter) publish(ev Event) error {
	if err := a.events.Push(ev); err != nil {
		return fmt.Errorf("adapter: publish %s: %w", ev.Kind, err)
	}
	return nil
}

package conn

import (
	"fmt"
	"net/netip"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/NiklasVd/tell/pkg/common"
	"github.com/NiklasVd/tell/pkg/identity"
)

// Table maps remote addresses to their connections. The adapter mutates it
// inside Update; everything else goes through the locked methods below.
type Table struct {
	mutex   sync.Mutex
	running atomic.Bool
	conns   map[netip.AddrPort]*UDP
	peers   map[identity.Identity]netip.AddrPort
	max     int
}

func NewTable(maxConns uint16) *Table {
	t := &Table{
		conns: make(map[netip.AddrPort]*UDP),
		peers: make(map[identity.Identity]netip.AddrPort),
		max:   int(maxConns),
	}
	t.running.Store(true)
	return t
}

// Tx is the table while its lock is held. It must not escape fn.
type Tx struct {
	t *Table
}

// Update runs fn with the table locked.
func (t *Table) Update(fn func(tx *Tx) error) error {
	t.mutex.Lock()
	defer t.mutex.Unlock()
	return fn(&Tx{t: t})
}

func (t *Table) Running() bool {
	return t.running.Load()
}

func (t *Table) Shutdown() {
	t.running.Store(false)
}

func (t *Table) Max() int {
	return t.max
}

func (t *Table) Add(c *UDP) error {
	return t.Update(func(tx *Tx) error { return tx.Add(c) })
}

func (t *Table) Remove(addr netip.AddrPort) (*UDP, bool) {
	t.mutex.Lock()
	defer t.mutex.Unlock()
	return (&Tx{t: t}).Remove(addr)
}

func (t *Table) Bind(addr netip.AddrPort, id identity.Identity) error {
	return t.Update(func(tx *Tx) error { return tx.Bind(addr, id) })
}

// Get returns a copy of the connection at addr.
func (t *Table) Get(addr netip.AddrPort) (Snapshot, bool) {
	t.mutex.Lock()
	defer t.mutex.Unlock()
	c, ok := t.conns[addr]
	if !ok {
		return Snapshot{}, false
	}
	return c.Snapshot(), true
}

func (t *Table) Lookup(id identity.Identity) (netip.AddrPort, bool) {
	t.mutex.Lock()
	defer t.mutex.Unlock()
	return (&Tx{t: t}).Lookup(id)
}

func (t *Table) Addresses() []netip.AddrPort {
	t.mutex.Lock()
	defer t.mutex.Unlock()
	return (&Tx{t: t}).Addresses()
}

func (t *Table) Established() []identity.Identity {
	t.mutex.Lock()
	defer t.mutex.Unlock()
	return (&Tx{t: t}).Established()
}

func (t *Table) Len() int {
	t.mutex.Lock()
	defer t.mutex.Unlock()
	return len(t.conns)
}

// Snapshots copies every connection, ordered by address.
func (t *Table) Snapshots() []Snapshot {
	t.mutex.Lock()
	defer t.mutex.Unlock()

	snaps := make([]Snapshot, 0, len(t.conns))
	for _, c := range t.conns {
		snaps = append(snaps, c.Snapshot())
	}
	slices.SortFunc(snaps, func(a, b Snapshot) int { return a.Addr.Compare(b.Addr) })
	return snaps
}

// Add inserts c. It fails if the address is known, if c's identity is already
// bound to another address, or if the table is full.
func (tx *Tx) Add(c *UDP) error {
	t := tx.t
	if _, ok := t.conns[c.addr]; ok {
		return fmt.Errorf("%w: %s", common.ErrPeerAlreadyConnected, c.addr)
	}
	if id, ok := c.Identity(); ok {
		if other, taken := t.peers[id]; taken {
			return fmt.Errorf("%w: %v at %s", common.ErrPeerAlreadyConnected, id, other)
		}
	}
	if len(t.conns) >= t.max {
		return fmt.Errorf("%w: %d", common.ErrMaxConnectionsReached, t.max)
	}

	t.conns[c.addr] = c
	if id, ok := c.Identity(); ok && c.Established() {
		t.peers[id] = c.addr
	}
	return nil
}

func (tx *Tx) Remove(addr netip.AddrPort) (*UDP, bool) {
	t := tx.t
	c, ok := t.conns[addr]
	if !ok {
		return nil, false
	}
	delete(t.conns, addr)
	if id, bound := c.Identity(); bound && t.peers[id] == addr {
		delete(t.peers, id)
	}
	return c, true
}

// Bind moves the connection at addr to Established under id.
func (tx *Tx) Bind(addr netip.AddrPort, id identity.Identity) error {
	t := tx.t
	c, ok := t.conns[addr]
	if !ok {
		return fmt.Errorf("%w: %s", common.ErrPeerNotConnected, addr)
	}
	if other, taken := t.peers[id]; taken && other != addr {
		return fmt.Errorf("%w: %v at %s", common.ErrPeerAlreadyConnected, id, other)
	}
	if old, bound := c.Identity(); bound && old != id {
		delete(t.peers, old)
	}
	c.Connect(id)
	t.peers[id] = addr
	return nil
}

func (tx *Tx) Get(addr netip.AddrPort) (*UDP, bool) {
	c, ok := tx.t.conns[addr]
	return c, ok
}

func (tx *Tx) Lookup(id identity.Identity) (netip.AddrPort, bool) {
	addr, ok := tx.t.peers[id]
	return addr, ok
}

func (tx *Tx) Addresses() []netip.AddrPort {
	addrs := make([]netip.AddrPort, 0, len(tx.t.conns))
	for addr := range tx.t.conns {
		addrs = append(addrs, addr)
	}
	slices.SortFunc(addrs, func(a, b netip.AddrPort) int { return a.Compare(b) })
	return addrs
}

// Established lists the identities of Established connections.
func (tx *Tx) Established() []identity.Identity {
	ids := make([]identity.Identity, 0, len(tx.t.peers))
	for id := range tx.t.peers {
		ids = append(ids, id)
	}
	slices.SortFunc(ids, identity.Compare)
	return ids
}

// Range calls fn for every connection in unspecified order.
func (tx *Tx) Range(fn func(c *UDP)) {
	for _, c := range tx.t.conns {
		fn(c)
	}
}

func (tx *Tx) Len() int {
	return len(tx.t.conns)
}

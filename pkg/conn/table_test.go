package conn

import (
	"errors"
	"net/netip"
	"sync"
	"testing"
	"time"

	"github.com/NiklasVd/tell/pkg/common"
	"github.com/NiklasVd/tell/pkg/identity"
)

func addr(port uint16) netip.AddrPort {
	return netip.AddrPortFrom(netip.AddrFrom4([4]byte{127, 0, 0, 1}), port)
}

func mustIdentity(t *testing.T, name string) identity.Identity {
	t.Helper()
	id, err := identity.New(name)
	if err != nil {
		t.Fatalf("identity.New(%q) error: %v", name, err)
	}
	return id
}

func TestTableCapacity(t *testing.T) {
	table := NewTable(2)

	if err := table.Add(Outgoing(addr(1000))); err != nil {
		t.Fatalf("Add() first connection failed: %v", err)
	}
	if err := table.Add(Outgoing(addr(1001))); err != nil {
		t.Fatalf("Add() second connection failed: %v", err)
	}

	err := table.Add(Outgoing(addr(1002)))
	if !errors.Is(err, common.ErrMaxConnectionsReached) {
		t.Errorf("Add() beyond capacity error = %v; want ErrMaxConnectionsReached", err)
	}
	if table.Len() != 2 {
		t.Errorf("Len() = %d; want 2", table.Len())
	}
}

func TestTableDuplicates(t *testing.T) {
	ann := mustIdentity(t, "Ann")
	table := NewTable(4)

	if err := table.Add(Incoming(addr(1000), ann)); err != nil {
		t.Fatalf("Add() failed: %v", err)
	}

	tests := []struct {
		name string
		conn *UDP
	}{
		{"same address", Outgoing(addr(1000))},
		{"same identity elsewhere", Incoming(addr(1001), ann)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := table.Add(tt.conn); !errors.Is(err, common.ErrPeerAlreadyConnected) {
				t.Errorf("Add() error = %v; want ErrPeerAlreadyConnected", err)
			}
		})
	}
}

func TestTableDuplicateCheckedBeforeCapacity(t *testing.T) {
	table := NewTable(1)
	if err := table.Add(Outgoing(addr(1000))); err != nil {
		t.Fatalf("Add() failed: %v", err)
	}
	if err := table.Add(Outgoing(addr(1000))); !errors.Is(err, common.ErrPeerAlreadyConnected) {
		t.Errorf("Add() duplicate on full table error = %v; want ErrPeerAlreadyConnected", err)
	}
}

func TestTableRemove(t *testing.T) {
	ann := mustIdentity(t, "Ann")
	table := NewTable(4)
	_ = table.Add(Incoming(addr(1000), ann))

	c, ok := table.Remove(addr(1000))
	if !ok {
		t.Fatal("Remove() ok = false; want true")
	}
	if id, _ := c.Identity(); id != ann {
		t.Errorf("Remove() returned identity %v; want %v", id, ann)
	}
	if _, ok := table.Lookup(ann); ok {
		t.Error("Lookup() after Remove() ok = true; want false")
	}
	if _, ok := table.Remove(addr(1000)); ok {
		t.Error("second Remove() ok = true; want false")
	}
}

func TestTableBindIndexesOnlyEstablished(t *testing.T) {
	ann := mustIdentity(t, "Ann")
	bob := mustIdentity(t, "Bob")
	table := NewTable(4)

	_ = table.Add(Outgoing(addr(1000)))
	if ids := table.Established(); len(ids) != 0 {
		t.Errorf("Established() with connecting peer = %v; want empty", ids)
	}

	if err := table.Bind(addr(1000), ann); err != nil {
		t.Fatalf("Bind() failed: %v", err)
	}
	snap, _ := table.Get(addr(1000))
	if snap.State != STATE_ESTABLISHED || !snap.Bound || snap.Peer != ann {
		t.Errorf("Get() after Bind() = %+v; want established and bound to %v", snap, ann)
	}
	if got, ok := table.Lookup(ann); !ok || got != addr(1000) {
		t.Errorf("Lookup(ann) = %v, %v; want %v, true", got, ok, addr(1000))
	}

	if err := table.Bind(addr(2000), bob); !errors.Is(err, common.ErrPeerNotConnected) {
		t.Errorf("Bind() unknown address error = %v; want ErrPeerNotConnected", err)
	}

	_ = table.Add(Outgoing(addr(1001)))
	if err := table.Bind(addr(1001), ann); !errors.Is(err, common.ErrPeerAlreadyConnected) {
		t.Errorf("Bind() identity bound elsewhere error = %v; want ErrPeerAlreadyConnected", err)
	}
}

func TestTableAddresses(t *testing.T) {
	table := NewTable(4)
	_ = table.Add(Outgoing(addr(1002)))
	_ = table.Add(Outgoing(addr(1000)))
	_ = table.Add(Outgoing(addr(1001)))

	got := table.Addresses()
	want := []netip.AddrPort{addr(1000), addr(1001), addr(1002)}
	if len(got) != len(want) {
		t.Fatalf("Addresses() = %v; want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Addresses()[%d] = %v; want %v", i, got[i], want[i])
		}
	}
}

func TestTableRunning(t *testing.T) {
	table := NewTable(1)
	if !table.Running() {
		t.Error("Running() on new table = false; want true")
	}
	table.Shutdown()
	if table.Running() {
		t.Error("Running() after Shutdown() = true; want false")
	}
}

func TestTableUpdateReleasesLockOnError(t *testing.T) {
	table := NewTable(1)
	wantErr := errors.New("boom")

	if err := table.Update(func(tx *Tx) error { return wantErr }); err != wantErr {
		t.Errorf("Update() error = %v; want %v", err, wantErr)
	}

	done := make(chan struct{})
	go func() {
		table.Len()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("table lock still held after Update() returned an error")
	}
}

func TestTableConcurrentReaders(t *testing.T) {
	table := NewTable(64)
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 8; j++ {
				_ = table.Add(Outgoing(addr(uint16(1000 + i*8 + j))))
				table.Snapshots()
			}
		}(i)
	}
	wg.Wait()
	if table.Len() != 64 {
		t.Errorf("Len() = %d; want 64", table.Len())
	}
}

package storage

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/NiklasVd/tell/pkg/common"
	"github.com/NiklasVd/tell/pkg/identity"
)

func newManager(t *testing.T) *Manager {
	t.Helper()
	m, err := NewManager(filepath.Join(t.TempDir(), "storage"))
	if err != nil {
		t.Fatalf("NewManager() failed: %v", err)
	}
	return m
}

func TestIdentityRoundTrip(t *testing.T) {
	m := newManager(t)

	if _, err := m.LoadIdentity(); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("LoadIdentity() on empty storage error = %v; want ErrNotExist", err)
	}

	id, err := identity.New("Alice")
	if err != nil {
		t.Fatal(err)
	}
	if err := m.SaveIdentity(id); err != nil {
		t.Fatalf("SaveIdentity() failed: %v", err)
	}
	got, err := m.LoadIdentity()
	if err != nil {
		t.Fatalf("LoadIdentity() failed: %v", err)
	}
	if got != id {
		t.Errorf("LoadIdentity() = %v; want %v", got, id)
	}
	if _, err := os.Stat(m.GetIdentityPath() + ".out"); !os.IsNotExist(err) {
		t.Error("temporary identity file left behind")
	}
}

func TestLoadIdentityCorrupted(t *testing.T) {
	m := newManager(t)
	if err := os.WriteFile(m.GetIdentityPath(), []byte{0xc1, 0x00}, 0600); err != nil {
		t.Fatal(err)
	}
	if _, err := m.LoadIdentity(); err == nil {
		t.Error("LoadIdentity() on garbage = nil error; want error")
	}
}

func TestIdentityFor(t *testing.T) {
	m := newManager(t)

	first, reused, err := m.IdentityFor("Alice")
	if err != nil || reused {
		t.Fatalf("IdentityFor(Alice) = %v, %v, %v; want fresh identity", first, reused, err)
	}

	again, reused, err := m.IdentityFor("Alice")
	if err != nil || !reused || again != first {
		t.Errorf("IdentityFor(Alice) again = %v, %v, %v; want %v reused", again, reused, err, first)
	}

	other, reused, err := m.IdentityFor("Bob")
	if err != nil || reused || other.Name != "Bob" {
		t.Errorf("IdentityFor(Bob) = %v, %v, %v; want fresh Bob", other, reused, err)
	}
	if stored, _ := m.LoadIdentity(); stored != other {
		t.Errorf("stored identity = %v; want %v", stored, other)
	}

	if _, _, err := m.IdentityFor("X"); !errors.Is(err, common.ErrInvalidName) {
		t.Errorf("IdentityFor(X) error = %v; want ErrInvalidName", err)
	}
}

func openHistory(t *testing.T) *History {
	t.Helper()
	h, err := OpenHistory(filepath.Join(t.TempDir(), "history.db"))
	if err != nil {
		t.Fatalf("OpenHistory() failed: %v", err)
	}
	t.Cleanup(func() { _ = h.Close() })
	return h
}

func TestHistoryRecent(t *testing.T) {
	h := openHistory(t)
	bob, _ := identity.New("Bob")
	base := time.Unix(1700000000, 0)

	if got, err := h.Recent(5); err != nil || len(got) != 0 {
		t.Fatalf("Recent() on empty history = %v, %v; want none", got, err)
	}

	for i := 0; i < 5; i++ {
		_, err := h.Append(Record{
			At:     base.Add(time.Duration(i) * time.Second),
			Peer:   bob,
			Target: "broadcast",
			Text:   fmt.Sprintf("msg %d", i),
		})
		if err != nil {
			t.Fatalf("Append() failed: %v", err)
		}
	}

	if n, err := h.Count(); err != nil || n != 5 {
		t.Errorf("Count() = %d, %v; want 5", n, err)
	}

	got, err := h.Recent(3)
	if err != nil {
		t.Fatalf("Recent() failed: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("Recent(3) returned %d records", len(got))
	}
	for i, r := range got {
		want := fmt.Sprintf("msg %d", i+2)
		if r.Text != want {
			t.Errorf("Recent(3)[%d].Text = %q; want %q", i, r.Text, want)
		}
		if r.Peer != bob {
			t.Errorf("Recent(3)[%d].Peer = %v; want %v", i, r.Peer, bob)
		}
		if !r.At.Equal(base.Add(time.Duration(i+2) * time.Second)) {
			t.Errorf("Recent(3)[%d].At = %v", i, r.At)
		}
	}

	if got, _ := h.Recent(0); got != nil {
		t.Errorf("Recent(0) = %v; want nil", got)
	}
}

func TestHistoryPersists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.db")
	alice, _ := identity.New("Alice")

	h, err := OpenHistory(path)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := h.Append(Record{At: time.Now(), Peer: alice, Target: "unicast", Text: "hello"}); err != nil {
		t.Fatal(err)
	}
	if err := h.Close(); err != nil {
		t.Fatal(err)
	}

	h, err = OpenHistory(path)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	defer h.Close()

	got, err := h.Recent(10)
	if err != nil || len(got) != 1 || got[0].Text != "hello" || got[0].Peer != alice {
		t.Errorf("Recent() after reopen = %v, %v; want Alice's hello", got, err)
	}
}

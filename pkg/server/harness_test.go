package server_test

import (
	"net/netip"
	"testing"
	"time"

	"github.com/NiklasVd/tell/pkg/client"
	"github.com/NiklasVd/tell/pkg/common"
	"github.com/NiklasVd/tell/pkg/identity"
	"github.com/NiklasVd/tell/pkg/server"
)

const waitTimeout = 3 * time.Second

func testConfig(maxConns uint16) *common.AdapterConfig {
	cfg := common.NewAdapterConfig(0, maxConns)
	cfg.HeartbeatInterval = 50 * time.Millisecond
	cfg.TimeoutGrace = 4
	return cfg
}

func loopback(port uint16) netip.AddrPort {
	return netip.AddrPortFrom(netip.AddrFrom4([4]byte{127, 0, 0, 1}), port)
}

// hub runs one server and any number of clients in-process and polls them
// all together.
type hub struct {
	t       *testing.T
	srv     *server.Server
	clients []*client.Client
	notices map[*client.Client][]client.Notice
	srvErrs []error
}

func newHub(t *testing.T, maxConns uint16, opts ...server.Option) *hub {
	t.Helper()
	id, err := identity.New("Hub")
	if err != nil {
		t.Fatalf("identity.New() error: %v", err)
	}
	srv, err := server.New(id, testConfig(maxConns), opts...)
	if err != nil {
		t.Fatalf("server.New() failed: %v", err)
	}
	t.Cleanup(func() { _ = srv.Shutdown() })
	return &hub{
		t:       t,
		srv:     srv,
		notices: make(map[*client.Client][]client.Notice),
	}
}

func (h *hub) addr() netip.AddrPort {
	return loopback(h.srv.LocalAddr().Port())
}

func (h *hub) newClient(name string) *client.Client {
	h.t.Helper()
	id, err := identity.New(name)
	if err != nil {
		h.t.Fatalf("identity.New(%q) error: %v", name, err)
	}
	c, err := client.New(id, testConfig(common.DEFAULT_CLIENT_MAX))
	if err != nil {
		h.t.Fatalf("client.New() failed: %v", err)
	}
	h.t.Cleanup(func() { _ = c.Shutdown() })
	h.clients = append(h.clients, c)
	return c
}

// join connects c and waits for the handshake to complete.
func (h *hub) join(c *client.Client) {
	h.t.Helper()
	if err := c.Connect(h.addr()); err != nil {
		h.t.Fatalf("Connect() failed: %v", err)
	}
	if !h.pumpUntil(func() bool { _, ok := c.Connected(); return ok }) {
		h.t.Fatalf("%s never completed the handshake", c.Identity().Name)
	}
}

// forget stops polling c, e.g. after it has been silenced.
func (h *hub) forget(c *client.Client) {
	for i, x := range h.clients {
		if x == c {
			h.clients = append(h.clients[:i], h.clients[i+1:]...)
			return
		}
	}
}

func (h *hub) pump() {
	h.t.Helper()
	if err := h.srv.Poll(); err != nil {
		h.srvErrs = append(h.srvErrs, err)
	}
	for _, c := range h.clients {
		n, err := c.Poll()
		if err != nil {
			h.t.Errorf("%s Poll() error: %v", c.Identity().Name, err)
		}
		h.notices[c] = append(h.notices[c], n...)
	}
}

func (h *hub) pumpUntil(cond func() bool) bool {
	h.t.Helper()
	deadline := time.Now().Add(waitTimeout)
	for time.Now().Before(deadline) {
		h.pump()
		if cond() {
			return true
		}
		time.Sleep(5 * time.Millisecond)
	}
	return false
}

func (h *hub) pumpFor(d time.Duration) {
	h.t.Helper()
	deadline := time.Now().Add(d)
	for time.Now().Before(deadline) {
		h.pump()
		time.Sleep(5 * time.Millisecond)
	}
}

func (h *hub) find(c *client.Client, match func(client.Notice) bool) (client.Notice, bool) {
	for _, n := range h.notices[c] {
		if match(n) {
			return n, true
		}
	}
	return client.Notice{}, false
}

func hasMessage(c *client.Client, from identity.Identity, text string) bool {
	for _, e := range c.ChatLog() {
		if e.From == from && e.Text == text {
			return true
		}
	}
	return false
}

func (h *hub) requireNoServerErrors() {
	h.t.Helper()
	for _, err := range h.srvErrs {
		h.t.Errorf("server Poll() error: %v", err)
	}
}

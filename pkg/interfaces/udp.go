package interfaces

import (
	"errors"
	"fmt"
	"net"
	"net/netip"
	"sync"
	"syscall"
	"time"

	"github.com/NiklasVd/tell/pkg/common"
)

var ErrOffline = errors.New("interface offline")

// UDPInterface owns one UDP socket bound on the wildcard address.
type UDPInterface struct {
	name       string
	conn       *net.UDPConn
	addr       *net.UDPAddr
	mutex      sync.RWMutex
	readBuffer []byte
	stats      common.NetworkStats
	online     bool
	detached   bool
}

func NewUDPInterface(name string, port uint16) (*UDPInterface, error) {
	udpAddr, err := net.ResolveUDPAddr("udp4", fmt.Sprintf(":%d", port))
	if err != nil {
		return nil, err
	}

	ui := &UDPInterface{
		name:       name,
		addr:       udpAddr,
		readBuffer: make([]byte, common.RECV_BUFFER_SIZE),
	}
	return ui, nil
}

func (ui *UDPInterface) GetName() string {
	return ui.name
}

// Start binds the socket.
func (ui *UDPInterface) Start() error {
	ui.mutex.Lock()
	defer ui.mutex.Unlock()

	if ui.detached {
		return ErrOffline
	}
	if ui.conn != nil {
		return nil
	}

	conn, err := net.ListenUDP("udp4", ui.addr)
	if err != nil {
		return fmt.Errorf("UDP listen failed: %w", err)
	}
	ui.conn = conn
	ui.online = true
	return nil
}

func (ui *UDPInterface) IsOnline() bool {
	ui.mutex.RLock()
	defer ui.mutex.RUnlock()
	return ui.online
}

func (ui *UDPInterface) IsDetached() bool {
	ui.mutex.RLock()
	defer ui.mutex.RUnlock()
	return ui.detached
}

// Detach closes the socket for good.
func (ui *UDPInterface) Detach() {
	ui.mutex.Lock()
	defer ui.mutex.Unlock()
	ui.detached = true
	ui.online = false
	if ui.conn != nil {
		ui.conn.Close()
	}
}

// LocalAddr reports the bound address, including an OS-assigned port.
func (ui *UDPInterface) LocalAddr() netip.AddrPort {
	ui.mutex.RLock()
	defer ui.mutex.RUnlock()
	if ui.conn == nil {
		return ui.addr.AddrPort()
	}
	return ui.conn.LocalAddr().(*net.UDPAddr).AddrPort()
}

func (ui *UDPInterface) getConn() (*net.UDPConn, error) {
	ui.mutex.RLock()
	defer ui.mutex.RUnlock()
	if !ui.online || ui.conn == nil {
		return nil, ErrOffline
	}
	return ui.conn, nil
}

// Receive waits at most wait for one datagram. A timeout returns no data and
// no error. The returned slice is only valid until the next call.
func (ui *UDPInterface) Receive(wait time.Duration) ([]byte, netip.AddrPort, error) {
	conn, err := ui.getConn()
	if err != nil {
		return nil, netip.AddrPort{}, err
	}

	if err := conn.SetReadDeadline(time.Now().Add(wait)); err != nil {
		return nil, netip.AddrPort{}, fmt.Errorf("UDP set deadline failed: %w", err)
	}

	n, from, err := conn.ReadFromUDPAddrPort(ui.readBuffer)
	if err != nil {
		var ne net.Error
		if errors.As(err, &ne) && ne.Timeout() {
			return nil, netip.AddrPort{}, nil
		}
		return nil, netip.AddrPort{}, fmt.Errorf("UDP read failed: %w", err)
	}

	ui.mutex.Lock()
	ui.stats.BytesReceived += uint64(n)
	ui.stats.PacketsReceived++
	ui.stats.LastUpdated = time.Now()
	ui.mutex.Unlock()

	return ui.readBuffer[:n], Normalize(from), nil
}

func (ui *UDPInterface) Send(data []byte, to netip.AddrPort) error {
	conn, err := ui.getConn()
	if err != nil {
		return err
	}

	n, err := conn.WriteToUDPAddrPort(data, to)
	if err != nil {
		return fmt.Errorf("UDP write failed: %w", err)
	}

	ui.mutex.Lock()
	ui.stats.BytesSent += uint64(n)
	ui.stats.PacketsSent++
	ui.stats.LastUpdated = time.Now()
	ui.mutex.Unlock()
	return nil
}

func (ui *UDPInterface) Stats() common.NetworkStats {
	ui.mutex.RLock()
	defer ui.mutex.RUnlock()
	return ui.stats
}

// Normalize strips IPv4-in-IPv6 mapping so the same peer always maps to the
// same table key.
func Normalize(addr netip.AddrPort) netip.AddrPort {
	return netip.AddrPortFrom(addr.Addr().Unmap(), addr.Port())
}

// IsTransient reports ICMP feedback for an earlier datagram, which says
// nothing about the health of our own socket.
func IsTransient(err error) bool {
	return errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.ECONNRESET)
}

package conn

import (
	"strings"
	"testing"
	"time"
)

func TestStateTransitions(t *testing.T) {
	ann := mustIdentity(t, "Ann")

	c := Outgoing(addr(1000))
	if c.State() != STATE_CONNECTING {
		t.Errorf("Outgoing().State() = %v; want %v", c.State(), STATE_CONNECTING)
	}
	if _, ok := c.Identity(); ok {
		t.Error("Outgoing().Identity() ok = true; want false")
	}

	c.Connect(ann)
	if c.State() != STATE_ESTABLISHED {
		t.Errorf("State() after Connect() = %v; want %v", c.State(), STATE_ESTABLISHED)
	}
	if id, ok := c.Identity(); !ok || id != ann {
		t.Errorf("Identity() after Connect() = %v, %v; want %v, true", id, ok, ann)
	}

	a := Outgoing(addr(1001))
	a.Approve()
	if a.State() != STATE_ESTABLISHED {
		t.Errorf("State() after Approve() = %v; want %v", a.State(), STATE_ESTABLISHED)
	}
	if _, ok := a.Identity(); ok {
		t.Error("Approve() bound an identity")
	}

	in := Incoming(addr(1002), ann)
	if in.State() != STATE_ESTABLISHED {
		t.Errorf("Incoming().State() = %v; want %v", in.State(), STATE_ESTABLISHED)
	}
}

func TestMetricsTransfer(t *testing.T) {
	c := Outgoing(addr(1000))
	created := c.SendMetrics().LastTransfer

	later := created.Add(time.Second)
	c.Sent(100, later)
	c.Sent(20, later)
	c.Received(7, later)

	send := c.SendMetrics()
	if send.Bytes != 120 || send.Packets != 2 {
		t.Errorf("SendMetrics() = %d bytes, %d packets; want 120 bytes, 2 packets", send.Bytes, send.Packets)
	}
	if !send.LastTransfer.Equal(later) {
		t.Errorf("SendMetrics().LastTransfer = %v; want %v", send.LastTransfer, later)
	}
	recv := c.RecvMetrics()
	if recv.Bytes != 7 || recv.Packets != 1 {
		t.Errorf("RecvMetrics() = %d bytes, %d packets; want 7 bytes, 1 packet", recv.Bytes, recv.Packets)
	}
	if idle := recv.Idle(later.Add(time.Second)); idle != time.Second {
		t.Errorf("Idle() = %s; want 1s", idle)
	}
}

func TestConnectionInterface(t *testing.T) {
	var c Connection = Outgoing(addr(1000))
	if c.Addr() != addr(1000) {
		t.Errorf("Addr() = %v; want %v", c.Addr(), addr(1000))
	}
}

func TestWriteMetrics(t *testing.T) {
	var buf strings.Builder
	if err := WriteMetrics(&buf, nil); err != nil {
		t.Fatalf("WriteMetrics() failed: %v", err)
	}
	if buf.String() != "no connections\n" {
		t.Errorf("WriteMetrics(nil) = %q; want %q", buf.String(), "no connections\n")
	}

	ann := mustIdentity(t, "Ann")
	c := Incoming(addr(1000), ann)
	c.Sent(10, time.Now())

	buf.Reset()
	if err := WriteMetrics(&buf, []Snapshot{c.Snapshot()}); err != nil {
		t.Fatalf("WriteMetrics() failed: %v", err)
	}
	out := buf.String()
	for _, want := range []string{"127.0.0.1:1000", "Ann", "established", "1 packets, 10 bytes"} {
		if !strings.Contains(out, want) {
			t.Errorf("WriteMetrics() output %q missing %q", out, want)
		}
	}
}

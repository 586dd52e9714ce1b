//go:build linux

package worker

import (
	"io"
	"net"
	"testing"
	"time"

	"golang.org/x/sys/unix"

	"github.com/joeycumines/nccore/internal/reactor"
	"github.com/joeycumines/nccore/pkg/proxyiface/refimpl"
)

// newTestPoolConn binds a loopback pool and dup's+non-blocks its listener
// fd the same way Run's setup loop does, so onListenerReadable can be
// exercised directly without going through Run (which os.Exit(0)s on the
// normal path and so cannot run inside a test process).
func newTestPoolConn(t *testing.T) (*refimpl.Pool, *poolConn) {
	t.Helper()
	p, err := refimpl.NewPool("cache", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	ln, err := p.Listener()
	if err != nil {
		t.Fatal(err)
	}
	f, err := ln.File()
	if err != nil {
		t.Fatal(err)
	}
	fd := int(f.Fd())
	if err := unix.SetNonblock(fd, true); err != nil {
		t.Fatal(err)
	}
	return p, &poolConn{pool: p, ln: ln, fd: fd, file: f}
}

func TestWorker_AcceptsUntilDraining(t *testing.T) {
	p, pc := newTestPoolConn(t)
	w := &Worker{conns: map[int]*poolConn{pc.fd: pc}}

	addr := pc.ln.Addr().String()
	conn, err := net.Dial("tcp", addr)
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()

	// Give the kernel a moment to complete the handshake so accept4 sees
	// the pending connection instead of EAGAIN. This reference wiring closes
	// every accepted connection straight away, so acceptance shows up on the
	// client side as EOF rather than as a lasting active count.
	accepted := false
	buf := make([]byte, 1)
	deadline := time.Now().Add(time.Second)
	for !accepted && time.Now().Before(deadline) {
		w.onListenerReadable(pc.fd, reactor.Read, pc)
		_ = conn.SetReadDeadline(time.Now().Add(5 * time.Millisecond))
		if _, err := conn.Read(buf); err == io.EOF {
			accepted = true
		}
	}
	if !accepted {
		t.Fatalf("expected the pending connection to be accepted and closed, active count %d", p.ActiveConnections())
	}
}

func TestWorker_DrainStopsAcceptingNewConnections(t *testing.T) {
	p, pc := newTestPoolConn(t)
	w := &Worker{conns: map[int]*poolConn{pc.fd: pc}}

	p.StopAccepting()
	if !p.Draining() {
		t.Fatal("expected pool to report draining after StopAccepting")
	}

	conn, err := net.Dial("tcp", pc.ln.Addr().String())
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()
	time.Sleep(20 * time.Millisecond) // let the handshake land in the backlog

	w.onListenerReadable(pc.fd, reactor.Read, pc)

	if p.ActiveConnections() != 0 {
		t.Fatalf("expected draining pool to refuse the new connection, got %d active", p.ActiveConnections())
	}
}

func TestWorker_BeginDrainMarksAllPoolsDraining(t *testing.T) {
	r, err := reactor.Create(16, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()
	wake, err := reactor.NewWake(r, func() {})
	if err != nil {
		t.Fatal(err)
	}
	defer wake.Close()

	p1, pc1 := newTestPoolConn(t)
	p2, pc2 := newTestPoolConn(t)
	w := &Worker{
		cfg:   Config{ShutdownTimeout: time.Hour},
		wake:  wake,
		conns: map[int]*poolConn{pc1.fd: pc1, pc2.fd: pc2},
	}

	w.beginDrain()

	if !w.draining {
		t.Fatal("expected beginDrain to set draining")
	}
	if !p1.Draining() || !p2.Draining() {
		t.Fatal("expected beginDrain to call StopAccepting on every pool")
	}
}

func TestWorker_AllDrainedReflectsActiveConnections(t *testing.T) {
	p, pc := newTestPoolConn(t)
	w := &Worker{conns: map[int]*poolConn{pc.fd: pc}}

	if !w.allDrained() {
		t.Fatal("expected allDrained true with zero active connections")
	}
	p.IncrActive()
	if w.allDrained() {
		t.Fatal("expected allDrained false with an active connection")
	}
	p.DecrActive()
	if !w.allDrained() {
		t.Fatal("expected allDrained true again after the connection closes")
	}
}

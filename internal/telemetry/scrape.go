//go:build linux

package telemetry

import (
	"context"
	"net"

	"github.com/joeycumines/logiface"
	"github.com/joeycumines/stumpy"
	"golang.org/x/sys/unix"

	"github.com/joeycumines/nccore/internal/reactor"
)

// Scraper is the master-side stats endpoint: a plain TCP listener, wired
// into the master's own reactor, that on each accepted connection
// concatenates every worker's current shared-memory snapshot into a JSON
// array, writes it, and closes — no keep-alive, no request body (spec.md
// §6: "a bare connect is the request").
type Scraper struct {
	r        *reactor.Reactor
	listenFD int
	regions  func() []*Region
	log      *logiface.Logger[*stumpy.Event]
}

// Listen binds addr (host:port) and registers the listener with r. regions
// is called on every accepted connection to obtain the live set of
// per-worker Regions to concatenate; the master updates what it returns as
// workers come and go across reloads.
func Listen(r *reactor.Reactor, addr string, regions func() []*Region, log *logiface.Logger[*stumpy.Event]) (*Scraper, error) {
	lc := net.ListenConfig{}
	ln, err := lc.Listen(context.Background(), "tcp", addr)
	if err != nil {
		return nil, err
	}
	tl := ln.(*net.TCPListener)
	f, err := tl.File()
	if err != nil {
		_ = ln.Close()
		return nil, err
	}
	_ = ln.Close() // the dup'd fd in f keeps the socket alive
	fd := int(f.Fd())
	if err := unix.SetNonblock(fd, true); err != nil {
		_ = f.Close()
		return nil, err
	}

	s := &Scraper{r: r, listenFD: fd, regions: regions, log: log}
	if err := r.Add(fd, reactor.Read, s.onReadable, f); err != nil {
		_ = f.Close()
		return nil, err
	}
	return s, nil
}

func (s *Scraper) onReadable(fd int, events reactor.Mask, user any) {
	for {
		connFD, _, err := unix.Accept4(fd, unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC)
		if err != nil {
			if err == unix.EAGAIN || err == unix.EWOULDBLOCK {
				return
			}
			if s.log != nil {
				s.log.Err(err).Log("telemetry scraper: accept failed")
			}
			return
		}
		s.serve(connFD)
	}
}

// serve writes the concatenated snapshot array and closes the connection.
// The write never blocks: whatever does not fit in the socket buffer is
// sent by resumeWrite once the reactor reports the connection writable, and
// the connection is closed after the last byte is written.
func (s *Scraper) serve(connFD int) {
	buf := make([]byte, 0, 4096)
	buf = append(buf, '[')
	for i, reg := range s.regions() {
		if i > 0 {
			buf = append(buf, ',')
		}
		snap := reg.Read()
		if len(snap) == 0 {
			buf = append(buf, '{', '}')
			continue
		}
		// each region holds one newline-terminated JSON object; strip the
		// trailing newline before folding it into the array.
		for len(snap) > 0 && (snap[len(snap)-1] == '\n' || snap[len(snap)-1] == '\r') {
			snap = snap[:len(snap)-1]
		}
		buf = append(buf, snap...)
	}
	buf = append(buf, ']', '\n')

	s.resumeWrite(connFD, buf)
}

// resumeWrite drains buf into connFD without blocking the reactor goroutine:
// on EAGAIN it registers connFD for write-readiness and picks up from
// exactly where it left off once the reactor calls back, instead of
// spinning on EAGAIN in a tight loop.
func (s *Scraper) resumeWrite(connFD int, buf []byte) {
	for len(buf) > 0 {
		n, err := unix.Write(connFD, buf)
		if err != nil {
			if err == unix.EAGAIN || err == unix.EWOULDBLOCK {
				// nothing was written on EAGAIN (n is -1); buf is already
				// the unwritten remainder.
				if err := s.r.Add(connFD, reactor.Write, func(fd int, events reactor.Mask, user any) {
					s.resumeWrite(fd, user.([]byte))
				}, buf); err != nil {
					if s.log != nil {
						s.log.Err(err).Log("telemetry scraper: register write-ready failed")
					}
					unix.Close(connFD)
				}
				return
			}
			if s.log != nil {
				s.log.Err(err).Log("telemetry scraper: write failed")
			}
			unix.Close(connFD)
			return
		}
		buf = buf[n:]
	}
	_ = s.r.Del(connFD, reactor.Read|reactor.Write)
	unix.Close(connFD)
}

// Close deregisters the listener and closes it.
func (s *Scraper) Close() error {
	_ = s.r.Del(s.listenFD, reactor.Read)
	return unix.Close(s.listenFD)
}

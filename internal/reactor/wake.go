//go:build linux

package reactor

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// Wake is a self-pipe (eventfd) a reactor can register so that external
// goroutines — most notably the worker's drain timer (spec §4.D's
// SIGALRM/setitimer pairing, reimplemented here as a timer goroutine
// because a re-exec worker has no cheap raw sigsuspend/setitimer without
// cgo) — can interrupt a blocked Wait the same way a real signal would.
//
// Grounded on eventloop/wakeup_linux.go's eventfd-based wake mechanism.
type Wake struct {
	fd int
}

// NewWake creates a non-blocking eventfd and registers it with r for READ.
// cb is invoked (with the drained counter discarded) whenever Signal is
// called from another goroutine.
func NewWake(r *Reactor, cb func()) (*Wake, error) {
	fd, err := unix.Eventfd(0, unix.EFD_CLOEXEC|unix.EFD_NONBLOCK)
	if err != nil {
		return nil, fmt.Errorf("reactor: eventfd: %w", err)
	}
	w := &Wake{fd: fd}
	err = r.Add(fd, Read, func(int, Mask, any) {
		w.drain()
		if cb != nil {
			cb()
		}
	}, nil)
	if err != nil {
		_ = unix.Close(fd)
		return nil, err
	}
	return w, nil
}

// Signal wakes a blocked Wait call. Safe to call from any goroutine.
func (w *Wake) Signal() {
	var buf [8]byte
	buf[7] = 1
	_, _ = unix.Write(w.fd, buf[:])
}

func (w *Wake) drain() {
	var buf [8]byte
	for {
		_, err := unix.Read(w.fd, buf[:])
		if err != nil {
			return
		}
	}
}

// Close releases the eventfd. The caller is responsible for having already
// deregistered it from its reactor (e.g. via DelConn-style cleanup) if the
// reactor itself outlives the Wake.
func (w *Wake) Close() error {
	return unix.Close(w.fd)
}

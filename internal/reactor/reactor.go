//go:build linux

// Package reactor implements the edge-triggered, level-normalized I/O
// readiness loop used by every worker and by the master's telemetry
// collector.
//
// It is grounded on the epoll-backed poller in the teacher corpus's
// eventloop package (direct fd-indexed array, epoll_create1/ctl/wait,
// edge-triggered registration, hangup folded into read) generalized from a
// JS-timer/promise scheduler to the narrower readiness-dispatch contract
// this core needs: Create/Close, Add/Del, the connection-object
// convenience wrappers, and Wait.
package reactor

import (
	"errors"
	"fmt"
	"sync"

	"golang.org/x/sys/unix"
)

// Mask is the union of READ, WRITE and ERR interest bits for a registered fd.
type Mask uint8

const (
	// None means the fd carries no interest and is not registered with the kernel.
	None Mask = 0
	// Read is level-normalized readable readiness, including peer-hangup.
	Read Mask = 1 << iota
	// Write is writable readiness.
	Write
	// Err is reported but never requested.
	Err
)

func (m Mask) String() string {
	if m == None {
		return "NONE"
	}
	s := ""
	if m&Read != 0 {
		s += "R"
	}
	if m&Write != 0 {
		s += "W"
	}
	if m&Err != 0 {
		s += "E"
	}
	return s
}

// Callback is invoked for an fd's readiness. user is the pointer registered
// alongside the callback at Add time.
type Callback func(fd int, events Mask, user any)

// Standard errors.
var (
	ErrClosed           = errors.New("reactor: closed")
	ErrInvalidFD        = errors.New("reactor: invalid fd")
	ErrNilCallback        = errors.New("reactor: nil callback")
	ErrSpuriousIndefinite = errors.New("reactor: wait(-1) returned zero events")
	ErrWriteBeforeRead    = errors.New("reactor: add_out requires recv_active")
)

// entry is the per-fd record: {interest_mask, callback, user_pointer}.
type entry struct {
	mask     Mask
	callback Callback
	user     any
}

func (e entry) registered() bool { return e.mask != None }

// Reactor is a handle bound to an epoll instance.
type Reactor struct {
	mu      sync.Mutex
	epfd    int
	fds     []entry // dense array indexed by fd; never shrinks
	events  []unix.EpollEvent
	defCB   Callback
	closed  bool
	wakeFD  int // always -1: cross-goroutine wakeups go through a separate Wake
	nevent  int
}

// Create allocates a reactor. nevent is both the readiness-event buffer size
// and the initial fd-map capacity; it must be > 0.
func Create(nevent int, defaultCB Callback) (*Reactor, error) {
	if nevent <= 0 {
		return nil, fmt.Errorf("reactor: nevent must be > 0, got %d", nevent)
	}
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, fmt.Errorf("reactor: epoll_create1: %w", err)
	}
	r := &Reactor{
		epfd:   epfd,
		fds:    make([]entry, nevent),
		events: make([]unix.EpollEvent, nevent),
		defCB:  defaultCB,
		nevent: nevent,
		wakeFD: -1,
	}
	return r, nil
}

// Close releases the kernel handle and buffers. Idempotent against a nil
// receiver and safe to call more than once.
func (r *Reactor) Close() error {
	if r == nil {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil
	}
	r.closed = true
	return unix.Close(r.epfd)
}

// growLocked doubles the fd array (or grows to fd+1, whichever is larger).
// Growth preserves existing entries; shrinking never occurs.
func (r *Reactor) growLocked(fd int) {
	if fd < len(r.fds) {
		return
	}
	newLen := len(r.fds) * 2
	if newLen <= fd {
		newLen = fd + 1
	}
	grown := make([]entry, newLen)
	copy(grown, r.fds)
	r.fds = grown
}

// Add registers or updates interest for fd. mask is OR-merged into the
// existing interest; callback and user replace prior values.
func (r *Reactor) Add(fd int, mask Mask, cb Callback, user any) error {
	if fd < 0 {
		return ErrInvalidFD
	}
	if cb == nil {
		return ErrNilCallback
	}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return ErrClosed
	}
	r.growLocked(fd)
	prev := r.fds[fd]
	merged := prev.mask | mask
	op := unix.EPOLL_CTL_MOD
	if !prev.registered() {
		op = unix.EPOLL_CTL_ADD
	}
	r.fds[fd] = entry{mask: merged, callback: cb, user: user}
	r.mu.Unlock()

	ev := unix.EpollEvent{Events: maskToEpoll(merged), Fd: int32(fd)}
	if err := unix.EpollCtl(r.epfd, op, fd, &ev); err != nil {
		r.mu.Lock()
		r.fds[fd] = prev
		r.mu.Unlock()
		return fmt.Errorf("reactor: epoll_ctl: %w", err)
	}
	return nil
}

// Del clears the given bits from fd's interest. If the residual mask is
// empty, fd is fully deregistered and its callback/user are cleared.
func (r *Reactor) Del(fd int, delmask Mask) error {
	if fd < 0 {
		return ErrInvalidFD
	}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return ErrClosed
	}
	if fd >= len(r.fds) || !r.fds[fd].registered() {
		r.mu.Unlock()
		return nil
	}
	prev := r.fds[fd]
	residual := prev.mask &^ delmask
	r.mu.Unlock()

	if residual == None {
		if err := unix.EpollCtl(r.epfd, unix.EPOLL_CTL_DEL, fd, nil); err != nil && !errors.Is(err, unix.ENOENT) {
			return fmt.Errorf("reactor: epoll_ctl del: %w", err)
		}
		r.mu.Lock()
		r.fds[fd] = entry{}
		r.mu.Unlock()
		return nil
	}

	ev := unix.EpollEvent{Events: maskToEpoll(residual), Fd: int32(fd)}
	if err := unix.EpollCtl(r.epfd, unix.EPOLL_CTL_MOD, fd, &ev); err != nil {
		return fmt.Errorf("reactor: epoll_ctl mod: %w", err)
	}
	r.mu.Lock()
	r.fds[fd].mask = residual
	r.mu.Unlock()
	return nil
}

// Stats reports the number of currently registered fds, the fd-map capacity
// and the readiness-event buffer size.
type Stats struct {
	Capacity      int
	EventBufSize  int
	RegisteredFDs int
}

func (r *Reactor) Stats() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.fds {
		if e.registered() {
			n++
		}
	}
	return Stats{Capacity: len(r.fds), EventBufSize: r.nevent, RegisteredFDs: n}
}

func maskToEpoll(m Mask) uint32 {
	var e uint32 = unix.EPOLLET // edge-triggered delivery is required
	if m&Read != 0 {
		e |= unix.EPOLLIN | unix.EPOLLRDHUP
	}
	if m&Write != 0 {
		e |= unix.EPOLLOUT
	}
	return e
}

func epollToMask(e uint32) Mask {
	var m Mask
	if e&(unix.EPOLLIN|unix.EPOLLRDHUP|unix.EPOLLHUP) != 0 {
		m |= Read // hangup folds into READ
	}
	if e&unix.EPOLLOUT != 0 {
		m |= Write
	}
	if e&unix.EPOLLERR != 0 {
		m |= Err
	}
	return m
}

// Wait blocks until at least one fd is ready or timeoutMs elapses.
// timeoutMs = -1 means indefinite. EINTR is retried internally; any other
// error is fatal to the current loop turn and returned.
func (r *Reactor) Wait(timeoutMs int) (int, error) {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return 0, ErrClosed
	}
	epfd := r.epfd
	buf := r.events
	r.mu.Unlock()

	for {
		n, err := unix.EpollWait(epfd, buf, timeoutMs)
		if err != nil {
			if errors.Is(err, unix.EINTR) {
				continue
			}
			return 0, fmt.Errorf("reactor: epoll_wait: %w", err)
		}
		if n == 0 {
			if timeoutMs == -1 {
				return 0, ErrSpuriousIndefinite
			}
			return 0, nil
		}
		r.dispatch(buf[:n])
		return n, nil
	}
}

func (r *Reactor) dispatch(ready []unix.EpollEvent) {
	for _, ev := range ready {
		fd := int(ev.Fd)
		events := epollToMask(ev.Events)

		r.mu.Lock()
		var e entry
		if fd >= 0 && fd < len(r.fds) {
			e = r.fds[fd]
		}
		def := r.defCB
		r.mu.Unlock()

		switch {
		case e.registered() && e.callback != nil:
			e.callback(fd, events, e.user)
		case def != nil:
			def(fd, events, nil)
		}
	}
}

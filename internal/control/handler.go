//go:build linux

package control

import (
	"errors"
	"sync/atomic"

	"github.com/joeycumines/nccore/internal/reactor"
)

// LogSink is the narrow slice of the opaque logging facility (spec.md §1)
// the control-channel handler drives directly, without depending on the
// concrete internal/logging package.
type LogSink interface {
	Reopen() error
	LevelUp()
	LevelDown()
}

// Flags are the worker-local state the handler toggles on command receipt.
// Both fields use atomic.Bool so the worker's main loop (a different
// goroutine in this Go translation of the original single-threaded process)
// can observe them with acquire/release semantics.
type Flags struct {
	Quit      atomic.Bool
	Terminate atomic.Bool
}

// Handler installs the worker end of a channel with r, dispatching frames
// to flags/sink until ERR or the fd is deregistered.
type Handler struct {
	ch    *Channel
	r     *reactor.Reactor
	conn  reactor.Conn
	flags *Flags
	sink  LogSink
}

// Install registers ch's worker fd with r for READ|WRITE and returns the
// handler. Commands are idempotent; repeated delivery has no extra effect
// beyond re-setting the same flag or re-invoking the same sink operation.
func Install(r *reactor.Reactor, ch *Channel, flags *Flags, sink LogSink) (*Handler, error) {
	h := &Handler{ch: ch, r: r, flags: flags, sink: sink}
	h.conn = reactor.Conn{FD: ch.WorkerFD}
	if err := r.AddIn(&h.conn, h.dispatch, nil); err != nil {
		return nil, err
	}
	if err := r.AddOut(&h.conn, h.dispatch, nil); err != nil {
		return nil, err
	}
	return h, nil
}

// dispatch is the reactor callback for the worker end of the channel.
func (h *Handler) dispatch(_ int, events reactor.Mask, _ any) {
	if events&reactor.Err != 0 {
		_ = h.r.DelConn(&h.conn)
		return
	}
	if events&reactor.Read != 0 {
		h.drain()
	}
	// WRITE is a no-op: the channel is master→worker only by convention.
}

// drain reads messages to EAGAIN, applying each by command. No ordering is
// guaranteed across workers, but delivery on this channel is FIFO.
func (h *Handler) drain() {
	for {
		f, err := Read(h.ch.WorkerFD)
		if err != nil {
			if errors.Is(err, ErrWouldBlock) {
				return
			}
			// Short read / EOF / malformed frame: protocol error, deregister.
			_ = h.r.DelConn(&h.conn)
			return
		}
		h.apply(f.Command)
	}
}

func (h *Handler) apply(cmd Command) {
	switch cmd {
	case QUIT:
		h.flags.Quit.Store(true)
	case TERMINATE:
		h.flags.Terminate.Store(true)
	case LOG_REOPEN:
		if h.sink != nil {
			_ = h.sink.Reopen()
		}
	case LOG_LEVEL_UP:
		if h.sink != nil {
			h.sink.LevelUp()
		}
	case LOG_LEVEL_DOWN:
		if h.sink != nil {
			h.sink.LevelDown()
		}
	}
}

// Package control implements the master↔worker control channel: a framed,
// non-blocking typed-datagram bus over a socket-pair, used to push
// administrative commands from the master to exactly one worker.
//
// Grounded on the self-pipe/socket-pair patterns in the teacher corpus
// (eventloop's eventfd wake mechanism) generalized from a single wake bit
// to a small fixed-size command frame. original_source/nc_channel.h's
// chan_msg carries a single command int; this channel's frame matches
// that shape (see SPEC_FULL.md §5.B) — the master tracks which pid an
// exit status belongs to via waitpid, same as the original, never via the
// channel itself.
package control

import (
	"encoding/binary"
	"errors"
	"fmt"

	"golang.org/x/sys/unix"
)

// Command identifies one administrative action pushed to a worker.
type Command uint64

const (
	QUIT          Command = 1
	TERMINATE     Command = 2
	LOG_REOPEN    Command = 3
	LOG_LEVEL_UP  Command = 4
	LOG_LEVEL_DOWN Command = 5
)

func (c Command) String() string {
	switch c {
	case QUIT:
		return "QUIT"
	case TERMINATE:
		return "TERMINATE"
	case LOG_REOPEN:
		return "LOG_REOPEN"
	case LOG_LEVEL_UP:
		return "LOG_LEVEL_UP"
	case LOG_LEVEL_DOWN:
		return "LOG_LEVEL_DOWN"
	default:
		return fmt.Sprintf("Command(%d)", uint64(c))
	}
}

// frameSize is the fixed wire size of a Frame: one uint64 field, host byte
// order (little-endian on every GOARCH this repo targets).
const frameSize = 8

// Frame is one whole control-channel message: a single command, matching
// original_source/nc_channel.h's single-field chan_msg.
type Frame struct {
	Command Command
}

// Standard errors.
var (
	ErrWouldBlock  = errors.New("control: would block")
	ErrShortFrame  = errors.New("control: short read or write")
	ErrMalformed   = errors.New("control: malformed frame")
)

// Channel is a pair of bidirectional connected, non-blocking sockets.
// fds[0] is the master end, fds[1] is the worker end.
type Channel struct {
	MasterFD int
	WorkerFD int
}

// Alloc creates a non-blocking socket-pair control channel.
func Alloc() (*Channel, error) {
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		return nil, fmt.Errorf("control: socketpair: %w", err)
	}
	return &Channel{MasterFD: fds[0], WorkerFD: fds[1]}, nil
}

// Dealloc closes both ends and releases the channel. Idempotent against a
// nil receiver.
func (c *Channel) Dealloc() error {
	if c == nil {
		return nil
	}
	var firstErr error
	if c.MasterFD >= 0 {
		if err := unix.Close(c.MasterFD); err != nil && firstErr == nil {
			firstErr = err
		}
		c.MasterFD = -1
	}
	if c.WorkerFD >= 0 {
		if err := unix.Close(c.WorkerFD); err != nil && firstErr == nil {
			firstErr = err
		}
		c.WorkerFD = -1
	}
	return firstErr
}

// Write sends one whole framed message on fd. EAGAIN surfaces as
// ErrWouldBlock; payloads fit within the socket buffer so partial writes
// never legitimately occur — one is treated as ErrShortFrame.
func Write(fd int, f Frame) (int, error) {
	var buf [frameSize]byte
	binary.LittleEndian.PutUint64(buf[0:8], uint64(f.Command))

	n, err := unix.Write(fd, buf[:])
	if err != nil {
		if errors.Is(err, unix.EAGAIN) {
			return 0, ErrWouldBlock
		}
		return 0, fmt.Errorf("control: write: %w", err)
	}
	if n != frameSize {
		return n, ErrShortFrame
	}
	return n, nil
}

// Read reads one whole framed message from fd. A short read, EOF, or
// malformed frame is an error.
func Read(fd int) (Frame, error) {
	var buf [frameSize]byte
	n, err := unix.Read(fd, buf[:])
	if err != nil {
		if errors.Is(err, unix.EAGAIN) {
			return Frame{}, ErrWouldBlock
		}
		return Frame{}, fmt.Errorf("control: read: %w", err)
	}
	if n == 0 {
		return Frame{}, fmt.Errorf("control: %w: EOF", ErrShortFrame)
	}
	if n != frameSize {
		return Frame{}, ErrShortFrame
	}

	cmd := Command(binary.LittleEndian.Uint64(buf[0:8]))
	switch cmd {
	case QUIT, TERMINATE, LOG_REOPEN, LOG_LEVEL_UP, LOG_LEVEL_DOWN:
	default:
		return Frame{}, fmt.Errorf("control: %w: command %d", ErrMalformed, cmd)
	}
	return Frame{Command: cmd}, nil
}

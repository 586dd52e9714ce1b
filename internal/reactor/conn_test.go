//go:build linux

package reactor

import (
	"testing"

	"golang.org/x/sys/unix"
)

func TestConn_AddInAddOutRequiresRecvActive(t *testing.T) {
	r, err := Create(4, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()

	fds, err2 := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM|unix.SOCK_NONBLOCK, 0)
	if err2 != nil {
		t.Fatal(err2)
	}
	defer unix.Close(fds[0])
	defer unix.Close(fds[1])

	c := &Conn{FD: fds[0]}
	if err := r.AddOut(c, func(int, Mask, any) {}, nil); err != ErrWriteBeforeRead {
		t.Fatalf("expected ErrWriteBeforeRead, got %v", err)
	}

	if err := r.AddIn(c, func(int, Mask, any) {}, nil); err != nil {
		t.Fatal(err)
	}
	if !c.RecvActive {
		t.Fatal("expected RecvActive after AddIn")
	}

	if err := r.AddOut(c, func(int, Mask, any) {}, nil); err != nil {
		t.Fatal(err)
	}
	if !c.SendActive {
		t.Fatal("expected SendActive after AddOut")
	}

	if err := r.DelIn(c); err != nil {
		t.Fatal(err)
	}
	if !c.RecvActive {
		t.Fatal("DelIn must be a no-op, RecvActive should remain true")
	}

	if err := r.DelConn(c); err != nil {
		t.Fatal(err)
	}
	if c.RecvActive || c.SendActive {
		t.Fatal("expected both flags cleared after DelConn")
	}
}

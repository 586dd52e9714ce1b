//go:build linux

package reactor

import (
	"testing"
	"time"

	"golang.org/x/sys/unix"
)

func mustPipe(t *testing.T) (r, w int) {
	t.Helper()
	var fds [2]int
	if err := unix.Pipe2(fds[:], unix.O_NONBLOCK|unix.O_CLOEXEC); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		unix.Close(fds[0])
		unix.Close(fds[1])
	})
	return fds[0], fds[1]
}

func TestReactor_AddWaitDispatch(t *testing.T) {
	rd, wr := mustPipe(t)

	r, err := Create(8, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()

	got := make(chan Mask, 1)
	if err := r.Add(rd, Read, func(fd int, events Mask, user any) {
		got <- events
	}, nil); err != nil {
		t.Fatal(err)
	}

	if _, err := unix.Write(wr, []byte("x")); err != nil {
		t.Fatal(err)
	}

	if _, err := r.Wait(1000); err != nil {
		t.Fatal(err)
	}

	select {
	case m := <-got:
		if m&Read == 0 {
			t.Fatalf("expected Read bit set, got %s", m)
		}
	case <-time.After(time.Second):
		t.Fatal("callback never fired")
	}
}

func TestReactor_MergesInterestAndDel(t *testing.T) {
	rd, _ := mustPipe(t)

	r, err := Create(8, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()

	if err := r.Add(rd, Read, func(int, Mask, any) {}, nil); err != nil {
		t.Fatal(err)
	}
	if got := r.Stats().RegisteredFDs; got != 1 {
		t.Fatalf("expected 1 registered fd, got %d", got)
	}

	// A second Add OR-merges Write into the existing Read interest, so
	// clearing Write alone must leave the fd registered.
	if err := r.Add(rd, Write, func(int, Mask, any) {}, nil); err != nil {
		t.Fatal(err)
	}
	if err := r.Del(rd, Write); err != nil {
		t.Fatal(err)
	}
	if got := r.Stats().RegisteredFDs; got != 1 {
		t.Fatalf("expected fd still registered for Read after clearing Write, got %d", got)
	}

	if err := r.Del(rd, Read); err != nil {
		t.Fatal(err)
	}
	if got := r.Stats().RegisteredFDs; got != 0 {
		t.Fatalf("expected 0 registered fds after full del, got %d", got)
	}
}

func TestReactor_WaitTimeoutNoEvents(t *testing.T) {
	r, err := Create(4, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()

	n, err := r.Wait(20)
	if err != nil {
		t.Fatal(err)
	}
	if n != 0 {
		t.Fatalf("expected no events, got %d", n)
	}
}

func TestReactor_InvalidFD(t *testing.T) {
	r, err := Create(4, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()

	if err := r.Add(-1, Read, func(int, Mask, any) {}, nil); err != ErrInvalidFD {
		t.Fatalf("expected ErrInvalidFD, got %v", err)
	}
}

func TestReactor_AddAfterClose(t *testing.T) {
	r, err := Create(4, nil)
	if err != nil {
		t.Fatal(err)
	}
	if err := r.Close(); err != nil {
		t.Fatal(err)
	}
	if err := r.Add(0, Read, func(int, Mask, any) {}, nil); err != ErrClosed {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
}

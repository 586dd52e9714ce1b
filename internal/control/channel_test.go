//go:build linux

package control

import (
	"errors"
	"testing"
)

func TestAllocDeallocRoundTrip(t *testing.T) {
	ch, err := Alloc()
	if err != nil {
		t.Fatal(err)
	}
	if ch.MasterFD < 0 || ch.WorkerFD < 0 {
		t.Fatalf("expected both fds valid, got %+v", ch)
	}
	if err := ch.Dealloc(); err != nil {
		t.Fatal(err)
	}
	if ch.MasterFD != -1 || ch.WorkerFD != -1 {
		t.Fatalf("expected both fds reset to -1, got %+v", ch)
	}
	// Dealloc must be idempotent.
	if err := ch.Dealloc(); err != nil {
		t.Fatal(err)
	}
}

func TestWriteReadFrameRoundTrip(t *testing.T) {
	ch, err := Alloc()
	if err != nil {
		t.Fatal(err)
	}
	defer ch.Dealloc()

	for _, cmd := range []Command{QUIT, TERMINATE, LOG_REOPEN, LOG_LEVEL_UP, LOG_LEVEL_DOWN} {
		if _, err := Write(ch.MasterFD, Frame{Command: cmd}); err != nil {
			t.Fatal(err)
		}
		f, err := Read(ch.WorkerFD)
		if err != nil {
			t.Fatal(err)
		}
		if f.Command != cmd {
			t.Fatalf("round trip mismatch: got %+v, want {%s}", f, cmd)
		}
	}
}

func TestReadWouldBlockOnEmptyChannel(t *testing.T) {
	ch, err := Alloc()
	if err != nil {
		t.Fatal(err)
	}
	defer ch.Dealloc()

	if _, err := Read(ch.WorkerFD); !errors.Is(err, ErrWouldBlock) {
		t.Fatalf("expected ErrWouldBlock, got %v", err)
	}
}

func TestCommandString(t *testing.T) {
	if QUIT.String() != "QUIT" {
		t.Fatalf("unexpected String(): %s", QUIT.String())
	}
	if got := Command(99).String(); got == "" {
		t.Fatal("expected non-empty fallback string for unknown command")
	}
}

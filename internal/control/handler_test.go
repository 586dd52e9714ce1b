//go:build linux

package control

import (
	"testing"
	"time"

	"github.com/joeycumines/nccore/internal/reactor"
)

type fakeSink struct {
	reopened  int
	leveledUp int
	leveledDn int
}

func (f *fakeSink) Reopen() error { f.reopened++; return nil }
func (f *fakeSink) LevelUp()      { f.leveledUp++ }
func (f *fakeSink) LevelDown()    { f.leveledDn++ }

func TestHandler_DispatchesEveryCommand(t *testing.T) {
	ch, err := Alloc()
	if err != nil {
		t.Fatal(err)
	}
	defer ch.Dealloc()

	r, err := reactor.Create(8, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()

	var flags Flags
	sink := &fakeSink{}
	if _, err := Install(r, ch, &flags, sink); err != nil {
		t.Fatal(err)
	}

	cases := []Command{TERMINATE, QUIT, LOG_REOPEN, LOG_LEVEL_UP, LOG_LEVEL_DOWN}
	for _, cmd := range cases {
		if _, err := Write(ch.MasterFD, Frame{Command: cmd}); err != nil {
			t.Fatal(err)
		}
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if _, err := r.Wait(50); err != nil {
			t.Fatal(err)
		}
		if flags.Quit.Load() && flags.Terminate.Load() && sink.reopened > 0 && sink.leveledUp > 0 && sink.leveledDn > 0 {
			break
		}
	}

	if !flags.Terminate.Load() {
		t.Error("expected Terminate flag set")
	}
	if !flags.Quit.Load() {
		t.Error("expected Quit flag set")
	}
	if sink.reopened != 1 {
		t.Errorf("expected Reopen called once, got %d", sink.reopened)
	}
	if sink.leveledUp != 1 {
		t.Errorf("expected LevelUp called once, got %d", sink.leveledUp)
	}
	if sink.leveledDn != 1 {
		t.Errorf("expected LevelDown called once, got %d", sink.leveledDn)
	}
}

//go:build linux

package supervisor

import (
	"os/exec"
	"time"

	"github.com/joeycumines/nccore/internal/control"
	"github.com/joeycumines/nccore/internal/telemetry"
)

// slot is the master's bookkeeping for one worker position. A slot outlives
// any individual worker process: on crash it is respawned in place with a
// freshly allocated Channel and Region (spec.md §4.C: "same channel is
// re-allocated").
type slot struct {
	index int

	cmd     *exec.Cmd
	pid     int
	channel *control.Channel
	region  *telemetry.Region

	startedAt time.Time
	// retiring marks a slot whose worker was asked to exit on purpose
	// (reload or shutdown): its exit(0) must not be treated as a crash,
	// and by itself does not trigger a respawn.
	retiring bool
	// dead marks a slot that exceeded its crash-loop backoff budget and is
	// deliberately left unrespawned until an operator intervenes.
	dead bool
}

// live reports whether this slot currently owns a running worker process.
func (s *slot) live() bool {
	return s.pid != 0
}

func (s *slot) reset() {
	s.cmd = nil
	s.pid = 0
	s.channel = nil
	s.region = nil
	s.retiring = false
}

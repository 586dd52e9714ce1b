//go:build linux

package supervisor

import (
	"fmt"
	"net"
	"os"
	"os/exec"
	"strconv"

	"github.com/joeycumines/nccore/internal/control"
	"github.com/joeycumines/nccore/internal/telemetry"
)

// Reserved environment variables a re-exec'd worker recognizes in its own
// main(), before anything else runs, per SPEC_FULL.md §5.C: Go has no safe
// in-process fork() after the runtime has started extra threads, so "fork"
// is realized as re-exec of the running binary instead, with role/slot
// passed through the environment and fds inherited via cmd.ExtraFiles
// (grounded on Ankit-Kulkarni-go-experiments/graceful_restarts/
// SocketHandoff's GRACEFUL_RESTART/GRACEFUL_FD convention).
const (
	EnvRole        = "NCCORE_ROLE"
	EnvSlot        = "NCCORE_SLOT"
	EnvConfigPath  = "NCCORE_CONFIG"
	RoleWorker     = "worker"
)

// extraFile layout within cmd.ExtraFiles, fixed across every spawn: the
// control channel's worker end, then the telemetry region, then one
// listener per configured pool in configuration order. Go assigns
// ExtraFiles[i] to fd 3+i in the child (0,1,2 are the inherited stdio).
const (
	extraFileChannel = 0
	extraFileRegion  = 1
	extraFileListenerBase = 2
)

func childFD(extraIndex int) int { return 3 + extraIndex }

// ChannelFD and RegionFD are the fixed fds a worker process finds its
// inherited control channel and telemetry region on; exported so
// cmd/nccore's worker entrypoint can reconstruct them without depending on
// this package's spawn-side bookkeeping.
var (
	ChannelFD = childFD(extraFileChannel)
	RegionFD  = childFD(extraFileRegion)
)

// ListenerFD returns the fd a worker's i'th configured pool listener
// arrives on (i in configuration order), mirroring the order spawnWorker
// appends listeners to cmd.ExtraFiles.
func ListenerFD(i int) int { return childFD(extraFileListenerBase + i) }

// spawnWorker re-execs the running binary into slot's position: allocates a
// fresh control channel and telemetry region, dups each of the already-bound
// listeners it is given (it never binds one itself), and starts the child
// with role/slot set in its environment and every inherited fd passed via
// ExtraFiles.
func (m *Master) spawnWorker(s *slot, listeners []*net.TCPListener, regionSize int) error {
	ch, err := control.Alloc()
	if err != nil {
		return fmt.Errorf("supervisor: alloc control channel: %w", err)
	}
	region, err := telemetry.CreateRegion(regionSize)
	if err != nil {
		_ = ch.Dealloc()
		return fmt.Errorf("supervisor: create telemetry region: %w", err)
	}

	chWorkerFile := os.NewFile(uintptr(ch.WorkerFD), "control-channel-worker")
	regionFile := os.NewFile(uintptr(region.FD()), "telemetry-region")

	extraFiles := make([]*os.File, 0, 2+len(listeners))
	extraFiles = append(extraFiles, chWorkerFile, regionFile)
	listenerFiles := make([]*os.File, 0, len(listeners))
	for _, ln := range listeners {
		f, err := ln.File()
		if err != nil {
			return fmt.Errorf("supervisor: dup listener fd: %w", err)
		}
		listenerFiles = append(listenerFiles, f)
		extraFiles = append(extraFiles, f)
	}

	exePath, err := os.Executable()
	if err != nil {
		return fmt.Errorf("supervisor: resolve executable: %w", err)
	}

	cmd := exec.Command(exePath, os.Args[1:]...)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	cmd.Stdin = nil
	cmd.ExtraFiles = extraFiles
	cmd.Env = append(os.Environ(),
		EnvRole+"="+RoleWorker,
		EnvSlot+"="+strconv.Itoa(s.index),
		EnvConfigPath+"="+m.configPath,
	)

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("supervisor: start worker: %w", err)
	}

	// The master's own copies of the fds it just handed to the child are
	// no longer needed on the master side except the channel's master end
	// (kept for control writes) and the region (kept for scrape reads);
	// the dup'd listener and worker-channel-end files close here, same as
	// SocketHandoff closes its parent-side copies after Start.
	_ = chWorkerFile.Close()
	ch.WorkerFD = -1 // closed above; only MasterFD is used on this side from here
	for _, f := range listenerFiles {
		_ = f.Close()
	}

	s.cmd = cmd
	s.pid = cmd.Process.Pid
	s.channel = ch
	s.region = region
	return nil
}

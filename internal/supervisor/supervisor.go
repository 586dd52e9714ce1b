//go:build linux

// Package supervisor implements spec.md §4.C: the master process that owns
// every listening socket, spawns and reaps a fixed pool of workers,
// broadcasts signal-driven administrative commands over each worker's
// control channel, and stages configuration reload with explicit rollback.
//
// "Fork" here is re-exec (see spawn.go); the signal loop itself follows
// Design Note §9's "post typed events to a self-pipe" guidance for free,
// since Go's os/signal.Notify already delivers to a channel observed
// outside handler context — no raw sigsuspend/sigprocmask is needed or
// used.
package supervisor

import (
	"fmt"
	"net"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/joeycumines/go-catrate"
	"github.com/joeycumines/logiface"
	"github.com/joeycumines/stumpy"
	"golang.org/x/sys/unix"

	"github.com/joeycumines/nccore/internal/config"
	"github.com/joeycumines/nccore/internal/control"
	"github.com/joeycumines/nccore/internal/logging"
	"github.com/joeycumines/nccore/internal/reactor"
	"github.com/joeycumines/nccore/internal/telemetry"
)

// Master is the supervisor process's top-level state: the slot array, the
// shared listener set every worker inherits, and the master-side telemetry
// reactor/scraper.
type Master struct {
	mu sync.Mutex

	cfg        *config.Config
	configPath string
	log        *logging.Sink

	slots     []*slot
	listeners []*net.TCPListener
	// retired holds prior-generation slots still draining after a reload
	// swapped them out of slots; reap/onChildExit consults both so their
	// exit is still observed and their channel/region still released.
	retired []*slot

	statsReactor *reactor.Reactor
	scraper      *telemetry.Scraper

	// respawnLimiter enforces the crash-loop backoff budget
	// (Config.Respawn) across all slots, one category per slot index.
	// Grounded on catrate.Limiter's multi-window, per-category design,
	// used here with a single window rather than hand-rolled crash-time
	// bookkeeping.
	respawnLimiter *catrate.Limiter

	sigCh chan os.Signal
	done  chan struct{}

	exitCode int
}

// New constructs a Master from an already-validated Config. configPath is
// threaded through to respawned/reloaded workers via the environment so
// each re-exec rereads the same file.
func New(cfg *config.Config, configPath string, log *logging.Sink) *Master {
	return &Master{
		cfg:        cfg,
		configPath: configPath,
		log:        log,
		slots:      make([]*slot, cfg.WorkerProcesses),
		respawnLimiter: catrate.NewLimiter(map[time.Duration]int{
			cfg.Respawn.Window.Duration(): cfg.Respawn.MaxAttempts,
		}),
		sigCh: make(chan os.Signal, 16),
		done:  make(chan struct{}),
	}
}

func (m *Master) logger() *logiface.Logger[*stumpy.Event] {
	if m.log == nil {
		return nil
	}
	return m.log.Logger()
}

// Run performs the full startup sequence (spec.md §4.C "Startup") and then
// blocks in the signal loop until a terminal signal drives it to exit. The
// returned error is nil on a clean SIGTERM-initiated exit; os.Exit is left
// to the caller (cmd/nccore), which should exit with m.ExitCode() here
// instead if err is nil.
func (m *Master) Run() error {
	if err := m.initTelemetry(); err != nil {
		return fmt.Errorf("supervisor: init telemetry: %w", err)
	}
	if err := m.bindListeners(); err != nil {
		return fmt.Errorf("supervisor: bind listeners: %w", err)
	}
	for i := range m.slots {
		m.slots[i] = &slot{index: i}
	}
	if err := m.respawnAll(); err != nil {
		return fmt.Errorf("supervisor: initial spawn: %w", err)
	}

	signal.Notify(m.sigCh,
		syscall.SIGHUP, syscall.SIGINT, syscall.SIGTERM, syscall.SIGCHLD,
		syscall.SIGUSR1, syscall.SIGTTIN, syscall.SIGTTOU,
		syscall.SIGSEGV, syscall.SIGPIPE,
	)
	defer signal.Stop(m.sigCh)

	return m.signalLoop()
}

// ExitCode reports the process exit status the caller should use once Run
// returns nil (SIGINT-driven shutdowns set 1, everything else 0).
func (m *Master) ExitCode() int { return m.exitCode }

func (m *Master) initTelemetry() error {
	r, err := reactor.Create(64, nil)
	if err != nil {
		return err
	}
	m.statsReactor = r
	scraper, err := telemetry.Listen(r, m.cfg.StatsAddress, m.regions, m.logger())
	if err != nil {
		return err
	}
	m.scraper = scraper
	go m.driveStatsReactor()
	return nil
}

// driveStatsReactor runs the master's short-lived telemetry reactor on its
// own goroutine; it is orthogonal to the signal loop, matching spec.md §2's
// "the master runs a reactor instance bound only to a telemetry listener".
func (m *Master) driveStatsReactor() {
	for {
		if _, err := m.statsReactor.Wait(-1); err != nil {
			if m.logger() != nil {
				m.logger().Err(err).Log("supervisor: stats reactor wait failed")
			}
			return
		}
	}
}

func (m *Master) regions() []*telemetry.Region {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*telemetry.Region, 0, len(m.slots)+len(m.retired))
	for _, s := range m.slots {
		if s.region != nil {
			out = append(out, s.region)
		}
	}
	for _, s := range m.retired {
		if s.region != nil {
			out = append(out, s.region)
		}
	}
	return out
}

// bindListeners binds one listener per configured pool. Every worker spawn
// thereafter dups and inherits this same shared set (spec.md §6: "after
// fork, a worker inherits all master-held listening sockets"); the kernel
// load-balances accept across the processes sharing each fd.
func (m *Master) bindListeners() error {
	listeners := make([]*net.TCPListener, 0, len(m.cfg.Pools))
	for _, p := range m.cfg.Pools {
		addr, err := net.ResolveTCPAddr("tcp", p.Address)
		if err != nil {
			for _, ln := range listeners {
				_ = ln.Close()
			}
			return fmt.Errorf("supervisor: resolve %s: %w", p.Address, err)
		}
		ln, err := net.ListenTCP("tcp", addr)
		if err != nil {
			for _, ln := range listeners {
				_ = ln.Close()
			}
			return fmt.Errorf("supervisor: listen %s: %w", p.Address, err)
		}
		listeners = append(listeners, ln)
	}
	m.listeners = listeners
	return nil
}

// respawnAll spawns every slot lacking a live worker. Called at startup
// (every slot is empty) and from the signal loop's respawn action.
func (m *Master) respawnAll() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.slots {
		if s.live() || s.dead {
			continue
		}
		if err := m.spawnWorker(s, m.listeners, m.cfg.RegionSize); err != nil {
			return err
		}
		s.startedAt = time.Now()
		if m.logger() != nil {
			m.logger().Notice().Int("slot", s.index).Int("pid", s.pid).Log("supervisor: worker spawned")
		}
	}
	return nil
}

// signalLoop is spec.md §4.C's "sigsuspend with an empty mask; on wake, act
// on global flags", realized as a select over the channel os/signal
// delivers to. Each case performs the whole corresponding action inline
// rather than setting a flag for a later pass, since nothing else runs
// concurrently against m.slots except driveStatsReactor's read-only
// m.regions() snapshot.
func (m *Master) signalLoop() error {
	for {
		select {
		case sig := <-m.sigCh:
			switch sig {
			case syscall.SIGHUP:
				m.handleReload()
			case syscall.SIGCHLD:
				m.reap()
			case syscall.SIGINT:
				m.broadcast(control.QUIT)
				m.waitAll()
				m.exitCode = 1
				return nil
			case syscall.SIGTERM:
				m.broadcast(control.TERMINATE)
				m.waitAll()
				m.exitCode = 0
				return nil
			case syscall.SIGUSR1:
				m.broadcast(control.LOG_REOPEN)
				if m.log != nil {
					_ = m.log.Reopen()
				}
			case syscall.SIGTTIN:
				m.broadcast(control.LOG_LEVEL_UP)
				if m.log != nil {
					m.log.LevelUp()
				}
			case syscall.SIGTTOU:
				m.broadcast(control.LOG_LEVEL_DOWN)
				if m.log != nil {
					m.log.LevelDown()
				}
			case syscall.SIGSEGV:
				if m.logger() != nil {
					m.logger().Emerg().Log("supervisor: SIGSEGV received, re-raising for core dump")
				}
				signal.Reset(syscall.SIGSEGV)
				_ = syscall.Kill(os.Getpid(), syscall.SIGSEGV)
			case syscall.SIGPIPE:
				// ignored
			}
		case <-m.done:
			return nil
		}
	}
}

// broadcast writes cmd to every currently-configured slot's channel.
func (m *Master) broadcast(cmd control.Command) {
	m.mu.Lock()
	slots := m.slots
	m.mu.Unlock()
	m.broadcastTo(slots, cmd)
}

// broadcastTo writes cmd to every live slot in the given list. Delivery is
// FIFO per channel and best-effort across workers (spec.md §1 non-goals:
// "no guaranteed delivery of control messages"). Used directly (rather
// than through broadcast) by reload, which must terminate the outgoing
// slot generation after m.slots has already been swapped to the incoming
// one.
func (m *Master) broadcastTo(slots []*slot, cmd control.Command) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range slots {
		if !s.live() || s.channel == nil {
			continue
		}
		if s.channel.MasterFD < 0 {
			continue
		}
		if cmd == control.QUIT || cmd == control.TERMINATE {
			s.retiring = true
		}
		if _, err := control.Write(s.channel.MasterFD, control.Frame{Command: cmd}); err != nil {
			if m.logger() != nil {
				m.logger().Warning().Int("slot", s.index).Err(err).Log("supervisor: control write failed")
			}
		}
	}
}

// reap drains exited children via waitpid(WNOHANG) in a loop (spec.md
// §4.C). A zero exit status means "retired on reload/shutdown, do not
// respawn"; any other exit triggers an in-place respawn of that slot,
// subject to the crash-loop backoff budget.
func (m *Master) reap() {
	for {
		var ws unix.WaitStatus
		pid, err := unix.Wait4(-1, &ws, unix.WNOHANG, nil)
		if err != nil || pid <= 0 {
			return
		}
		m.onChildExit(pid, ws)
	}
}

func (m *Master) onChildExit(pid int, ws unix.WaitStatus) {
	m.mu.Lock()
	var s *slot
	fromRetired := -1
	for _, cand := range m.slots {
		if cand.pid == pid {
			s = cand
			break
		}
	}
	if s == nil {
		for i, cand := range m.retired {
			if cand.pid == pid {
				s = cand
				fromRetired = i
				break
			}
		}
	}
	if s == nil {
		m.mu.Unlock()
		return
	}
	retiring := s.retiring
	wasChannel := s.channel
	wasRegion := s.region
	exitedClean := ws.Exited() && ws.ExitStatus() == 0
	s.reset()
	if fromRetired >= 0 {
		m.retired = append(m.retired[:fromRetired], m.retired[fromRetired+1:]...)
	}
	m.mu.Unlock()

	_ = wasChannel.Dealloc()
	if wasRegion != nil {
		_ = wasRegion.Close()
	}

	if m.logger() != nil {
		m.logger().Notice().Int("slot", s.index).Int("pid", pid).Bool("clean", exitedClean).Log("supervisor: worker exited")
	}

	if fromRetired >= 0 || exitedClean || retiring {
		return
	}

	_, allowed := m.respawnLimiter.Allow(s.index)
	overBudget := !allowed
	m.mu.Lock()
	if overBudget {
		s.dead = true
	}
	m.mu.Unlock()

	if overBudget {
		if m.logger() != nil {
			m.logger().Crit().Int("slot", s.index).Log("supervisor: crash-loop budget exceeded, not respawning")
		}
		return
	}

	if err := m.respawnAll(); err != nil && m.logger() != nil {
		m.logger().Err(err).Log("supervisor: respawn failed")
	}
}

// waitAll blocks until every slot has been reaped (its worker pid cleared),
// used by the SIGINT/SIGTERM shutdown paths before the process exits.
func (m *Master) waitAll() {
	for {
		m.mu.Lock()
		anyLive := false
		for _, s := range m.slots {
			if s.live() {
				anyLive = true
				break
			}
		}
		m.mu.Unlock()
		if !anyLive {
			return
		}
		var ws unix.WaitStatus
		pid, err := unix.Wait4(-1, &ws, 0, nil)
		if err != nil {
			return
		}
		m.onChildExit(pid, ws)
	}
}

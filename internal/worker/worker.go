//go:build linux

// Package worker implements spec.md §4.D's per-worker event loop: install
// the control channel, drive the reactor over inherited listening sockets,
// and handle a cooperative, timer-bounded drain on TERMINATE. The process
// signal mask is left as the re-exec hands it over; this package does not
// change it.
package worker

import (
	"net"
	"os"
	"sync/atomic"
	"time"

	"github.com/joeycumines/logiface"
	"github.com/joeycumines/stumpy"
	"golang.org/x/sys/unix"

	"github.com/joeycumines/nccore/internal/control"
	"github.com/joeycumines/nccore/internal/reactor"
	"github.com/joeycumines/nccore/internal/telemetry"
	"github.com/joeycumines/nccore/pkg/proxyiface"
)

// Config bundles everything a Worker needs at construction. Channel,
// Region and the pool listeners are all inherited fds the supervisor set
// up before re-exec; Worker only opens them on its own side.
type Config struct {
	Context         proxyiface.Context
	Channel         *control.Channel
	Region          *telemetry.Region
	LogSink         control.LogSink
	Log             *logiface.Logger[*stumpy.Event]
	SampleEvery     time.Duration
	ShutdownTimeout time.Duration
	Meta            telemetry.WorkerMeta
	NEvent          int
}

// Worker drives one worker process's entire lifetime from Run.
type Worker struct {
	cfg             Config
	r               *reactor.Reactor
	ch              *control.Handler
	flags           control.Flags
	triple          *telemetry.Triple
	sampler         *telemetry.Sampler
	wake            *reactor.Wake
	draining        bool
	drainTimerFired atomic.Bool
	startedAt       time.Time

	pools []proxyiface.Pool
	conns map[int]*poolConn
}

// poolConn tracks one pool's listening-socket registration, so the accept
// loop and drain bookkeeping have something concrete to key off of.
type poolConn struct {
	pool proxyiface.Pool
	ln   *net.TCPListener
	fd   int
	file *os.File
}

// New constructs a Worker. It does not yet touch the reactor or any fd;
// call Run to start serving.
func New(cfg Config) *Worker {
	return &Worker{
		cfg:       cfg,
		triple:    telemetry.NewTriple(),
		startedAt: time.Now(),
		conns:     make(map[int]*poolConn),
	}
}

// Run is the worker's entire lifetime: set up, loop, drain, exit. The
// normal path calls os.Exit(0) from within (spec.md §4.D: "on exit the
// worker ... calls process exit with status 0"); Run returns only on a
// fatal reactor-setup error encountered before that point.
func (w *Worker) Run() error {
	nevent := w.cfg.NEvent
	if nevent <= 0 {
		nevent = 256
	}
	r, err := reactor.Create(nevent, nil)
	if err != nil {
		return err
	}
	w.r = r
	defer r.Close()

	handler, err := control.Install(r, w.cfg.Channel, &w.flags, w.cfg.LogSink)
	if err != nil {
		return err
	}
	w.ch = handler

	wake, err := reactor.NewWake(r, func() {})
	if err != nil {
		return err
	}
	w.wake = wake
	defer wake.Close()

	w.pools = w.cfg.Context.Pools()
	for _, p := range w.pools {
		ln, err := p.Listener()
		if err != nil {
			return err
		}
		// dup the listener's fd so accept can run directly against the
		// reactor (non-blocking, edge-triggered) instead of through Go's
		// blocking net.Listener, which would park this goroutine and
		// stall every other fd the worker's single reactor loop serves.
		f, err := ln.File()
		if err != nil {
			return err
		}
		fd := int(f.Fd())
		if err := unix.SetNonblock(fd, true); err != nil {
			return err
		}
		// f is kept alive via pc.file: it owns the dup'd fd we just
		// registered, and must not be finalized out from under the
		// reactor while fd stays live in the epoll set.
		pc := &poolConn{pool: p, ln: ln, fd: fd, file: f}
		w.conns[fd] = pc
		if err := r.Add(fd, reactor.Read, w.onListenerReadable, pc); err != nil {
			return err
		}
	}

	w.sampler = telemetry.NewSampler(w.triple, w.cfg.Region, w.cfg.SampleEvery, w.meta, w.cfg.Log)
	go w.sampler.Run()
	defer w.sampler.Stop()

	for !w.flags.Quit.Load() {
		if w.flags.Terminate.Load() && !w.draining {
			w.beginDrain()
		}
		if _, err := r.Wait(w.waitTimeout()); err != nil {
			if w.cfg.Log != nil {
				w.cfg.Log.Err(err).Log("worker: reactor wait failed")
			}
			break
		}
		if w.draining && (w.drainTimerFired.Load() || w.allDrained()) {
			break
		}
	}

	os.Exit(0)
	return nil
}

// waitTimeout gives Wait a bounded block while draining, so the loop also
// notices all-pools-drained between reactor wakeups instead of relying
// solely on the shutdown timer.
func (w *Worker) waitTimeout() int {
	if w.draining {
		return 500
	}
	return -1
}

func (w *Worker) meta() telemetry.WorkerMeta {
	m := w.cfg.Meta
	m.PID = os.Getpid()
	m.Uptime = int64(time.Since(w.startedAt).Seconds())
	m.Timestamp = time.Now().Unix()
	var curr int64
	for _, pc := range w.conns {
		curr += int64(pc.pool.ActiveConnections())
	}
	m.CurrConnections = curr
	return m
}

// beginDrain stops accepting on every pool and arms the one-shot
// worker_shutdown_timeout timer via time.AfterFunc posting to the
// reactor's self-pipe (spec.md §4.D's SIGALRM/setitimer, reimplemented —
// see SPEC_FULL.md §5.D).
func (w *Worker) beginDrain() {
	w.draining = true
	for _, pc := range w.conns {
		pc.pool.StopAccepting()
	}
	timeout := w.cfg.ShutdownTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	time.AfterFunc(timeout, func() {
		w.drainTimerFired.Store(true)
		w.wake.Signal()
	})
}

func (w *Worker) allDrained() bool {
	for _, pc := range w.conns {
		if pc.pool.ActiveConnections() > 0 {
			return false
		}
	}
	return true
}

// poolCounter is satisfied by pools (like refimpl.Pool) that expose mutable
// active-connection bookkeeping; pools that don't are expected to manage
// ActiveConnections themselves from inside their own accept handling.
type poolCounter interface {
	IncrActive()
	DecrActive()
}

// onListenerReadable accepts connections until EAGAIN, via a raw
// non-blocking accept4 on the dup'd listener fd (never Go's blocking
// net.Listener.Accept, which would park this goroutine and stall every
// other fd this worker's single reactor loop serves). Once the pool is
// draining it stops accepting entirely, matching StopAccepting's
// contract: this reference wiring speaks no wire protocol — it exists to
// exercise the reactor/pool accounting path end to end, handing each
// accepted connection to the embedding proxy layer would be the
// out-of-scope next step.
func (w *Worker) onListenerReadable(fd int, events reactor.Mask, user any) {
	pc := user.(*poolConn)
	if pc.pool.Draining() {
		return
	}
	for {
		connFD, _, err := unix.Accept4(pc.fd, unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC)
		if err != nil {
			if err != unix.EAGAIN && err != unix.EWOULDBLOCK && w.cfg.Log != nil {
				w.cfg.Log.Err(err).Log("worker: accept failed")
			}
			return
		}
		counter, _ := pc.pool.(poolCounter)
		if counter != nil {
			counter.IncrActive()
		}
		go func() {
			defer unix.Close(connFD)
			if counter != nil {
				defer counter.DecrActive()
			}
		}()
		if pc.pool.Draining() {
			return
		}
	}
}

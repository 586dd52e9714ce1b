// Package refimpl is a minimal in-memory proxyiface implementation: enough
// to drive the supervisor, worker loop and telemetry aggregator end to end
// in tests and in cmd/nccore's example wiring. It is explicitly not a
// protocol implementation; it holds a bound listener and the active count
// and draining flag this core's machinery needs. Accepting (and closing)
// connections is left to the caller, normally the worker's accept loop.
package refimpl

import (
	"fmt"
	"net"
	"sync/atomic"

	"github.com/joeycumines/nccore/pkg/proxyiface"
)

// Pool is a reference proxyiface.Pool: a bound TCP listener plus an active
// connection counter, no protocol handling.
type Pool struct {
	name     string
	addr     string
	ln       *net.TCPListener
	active   atomic.Int64
	draining atomic.Bool
}

// NewPool binds addr and returns a Pool named name.
func NewPool(name, addr string) (*Pool, error) {
	tcpAddr, err := net.ResolveTCPAddr("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("refimpl: resolve %s: %w", addr, err)
	}
	ln, err := net.ListenTCP("tcp", tcpAddr)
	if err != nil {
		return nil, fmt.Errorf("refimpl: listen %s: %w", addr, err)
	}
	return &Pool{name: name, addr: addr, ln: ln}, nil
}

// AdoptPool wraps an already-bound listener instead of binding a fresh one
// (used by a worker to wrap a listener inherited from the master).
func AdoptPool(name, addr string, ln *net.TCPListener) *Pool {
	return &Pool{name: name, addr: addr, ln: ln}
}

func (p *Pool) Name() string    { return p.name }
func (p *Pool) Address() string { return p.addr }

func (p *Pool) Listener() (*net.TCPListener, error) {
	if p.ln == nil {
		return nil, fmt.Errorf("refimpl: pool %s has no listener", p.name)
	}
	return p.ln, nil
}

func (p *Pool) StopAccepting() { p.draining.Store(true) }

func (p *Pool) ActiveConnections() int { return int(p.active.Load()) }

// IncrActive and DecrActive are called by whatever owns the accept loop
// (normally the worker's reactor callback for this pool's listening fd) to
// keep the connection count current.
func (p *Pool) IncrActive() { p.active.Add(1) }
func (p *Pool) DecrActive() { p.active.Add(-1) }

// Draining reports whether StopAccepting has been called.
func (p *Pool) Draining() bool { return p.draining.Load() }

var _ proxyiface.Pool = (*Pool)(nil)

// Context is a reference proxyiface.Context: a fixed slice of Pools built
// once at worker or reload-stage startup.
type Context struct {
	pools []proxyiface.Pool
}

// NewContext wraps pools into a Context.
func NewContext(pools ...proxyiface.Pool) *Context {
	return &Context{pools: pools}
}

func (c *Context) Pools() []proxyiface.Pool { return c.pools }

// Close closes every pool's listener. Only the final owner of the fd should
// call this; a context whose pools were built with AdoptPool around
// listeners handed off from a prior generation must not close them.
func (c *Context) Close() error {
	var firstErr error
	for _, p := range c.pools {
		rp, ok := p.(*Pool)
		if !ok {
			continue
		}
		if rp.ln == nil {
			continue
		}
		if err := rp.ln.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

var _ proxyiface.Context = (*Context)(nil)

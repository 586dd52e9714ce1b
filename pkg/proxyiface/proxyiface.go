// Package proxyiface gives the external-collaborator contracts spec.md §6
// leaves unspecified (the wire protocol, the connection state machine, the
// server-selection layer) a concrete Go shape narrow enough that this
// core's supervisor, worker loop and telemetry aggregator can drive them
// without knowing anything about the protocol itself.
package proxyiface

import "net"

// Pool is one configured upstream pool: a name, a bound listening socket,
// and the handful of lifecycle operations the supervisor and worker need
// during reload and drain. Everything else (hashing, parsing, the
// connection state machine) lives entirely outside this core.
type Pool interface {
	// Name identifies the pool, used to key telemetry. It plays no part in
	// matching pools across a reload (see Address).
	Name() string
	// Address is the "host:port" this pool listens on. Reload migrates a
	// listener to its new Pool iff Address is unchanged; a name change
	// alone is only logged.
	Address() string
	// Listener returns the already-bound listening socket. The supervisor
	// owns the returned *net.TCPListener's fd lifetime (dup, inherit
	// across re-exec, close on shutdown); Listener itself never binds.
	Listener() (*net.TCPListener, error)
	// StopAccepting marks the pool as draining: new connections are
	// refused (or ignored) from this point on, but in-flight connections
	// are left alone.
	StopAccepting()
	// Draining reports whether StopAccepting has been called. The worker
	// accept loop consults this on every readiness callback so drain
	// actually stops taking new connections instead of merely recording
	// intent.
	Draining() bool
	// ActiveConnections reports the pool's current live connection count,
	// used by worker drain to decide whether it can exit before its
	// shutdown timer fires.
	ActiveConnections() int
}

// Context is one worker's (or the master's, for staged reload) bound-to-a-
// configuration view of the proxy layer: its pools, and Close to release
// per-context resources. It has no telemetry hook; nothing in this
// interface feeds per-pool or per-server metrics to the sampler.
type Context interface {
	// Pools returns every configured pool for this context, in
	// configuration order.
	Pools() []Pool
	// Close releases any per-context resources (but never closes a
	// Listener inherited from a prior context during a migrate).
	Close() error
}

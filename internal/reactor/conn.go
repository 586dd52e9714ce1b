//go:build linux

package reactor

// Conn is the minimal connection object the add_in/add_out/del_in/del_out
// wrappers operate on: a file descriptor plus the two direction flags the
// wrappers use to decide whether a registration is a no-op.
type Conn struct {
	FD         int
	RecvActive bool
	SendActive bool
}

// AddIn registers fd for READ if it isn't already active; a no-op otherwise.
func (r *Reactor) AddIn(c *Conn, cb Callback, user any) error {
	if c.RecvActive {
		return nil
	}
	if err := r.Add(c.FD, Read, cb, user); err != nil {
		return err
	}
	c.RecvActive = true
	return nil
}

// AddOut registers fd for WRITE if it isn't already active. Requires
// RecvActive: a writable-only registration is never used by this core (see
// spec Open Questions — some epoll adapters set IN|OUT when only WRITE is
// requested; this reactor requires prior READ registration instead).
func (r *Reactor) AddOut(c *Conn, cb Callback, user any) error {
	if !c.RecvActive {
		return ErrWriteBeforeRead
	}
	if c.SendActive {
		return nil
	}
	if err := r.Add(c.FD, Write, cb, user); err != nil {
		return err
	}
	c.SendActive = true
	return nil
}

// DelIn is a no-op. The original implementation this core is modeled on
// never actually deregisters READ via this wrapper; DelConn is used instead
// to tear down a connection's whole registration. Preserved deliberately to
// keep the add_in → del_conn symmetry without changing observable behavior.
func (r *Reactor) DelIn(c *Conn) error {
	return nil
}

// DelOut clears WRITE interest if active; a no-op otherwise.
func (r *Reactor) DelOut(c *Conn) error {
	if !c.SendActive {
		return nil
	}
	if err := r.Del(c.FD, Write); err != nil {
		return err
	}
	c.SendActive = false
	return nil
}

// AddConn registers a freshly accepted/opened connection for READ, marking
// both direction flags consistently. It is the entry point used at accept
// time, before any write is ever attempted.
func (r *Reactor) AddConn(c *Conn, cb Callback, user any) error {
	return r.AddIn(c, cb, user)
}

// DelConn fully deregisters the connection's fd and clears both direction
// flags, used at connection close.
func (r *Reactor) DelConn(c *Conn) error {
	if err := r.Del(c.FD, Read|Write|Err); err != nil {
		return err
	}
	c.RecvActive = false
	c.SendActive = false
	return nil
}

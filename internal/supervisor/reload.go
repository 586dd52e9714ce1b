//go:build linux

package supervisor

import (
	"fmt"
	"net"
	"time"

	"github.com/joeycumines/go-catrate"
	"github.com/joeycumines/nccore/internal/config"
	"github.com/joeycumines/nccore/internal/control"
)

// handleReload implements spec.md §4.C's reload: build a new context from
// the configuration file, migrate each old pool's already-bound listener to
// its matching new pool iff address:port is unchanged (a name-only change
// is logged, not acted on), spawn new workers against the merged listener
// set, and only then retire the old ones. Any failure before new workers
// are confirmed rolls back to the previous listener/slot state untouched.
func (m *Master) handleReload() {
	if m.logger() != nil {
		m.logger().Notice().Log("supervisor: reload starting")
	}
	newCfg, err := config.Load(m.configPath)
	if err != nil {
		if m.logger() != nil {
			m.logger().Err(err).Log("supervisor: reload: config load failed, keeping running configuration")
		}
		return
	}

	newListeners, bound, rollback, err := m.migrateListeners(newCfg)
	if err != nil {
		if m.logger() != nil {
			m.logger().Err(err).Log("supervisor: reload: listener migration failed, rolled back")
		}
		rollback()
		return
	}

	newSlots := make([]*slot, newCfg.WorkerProcesses)
	for i := range newSlots {
		newSlots[i] = &slot{index: i}
	}

	m.mu.Lock()
	oldSlots := m.slots
	oldListeners := m.listeners
	m.mu.Unlock()

	for _, s := range newSlots {
		if err := m.spawnWorker(s, newListeners, newCfg.RegionSize); err != nil {
			if m.logger() != nil {
				m.logger().Err(err).Log("supervisor: reload: new worker spawn failed, rolling back")
			}
			for _, ln := range bound {
				_ = ln.Close()
			}
			for _, s2 := range newSlots {
				if s2.cmd != nil && s2.cmd.Process != nil {
					_ = s2.cmd.Process.Kill()
				}
				if s2.channel != nil {
					_ = s2.channel.Dealloc()
				}
				if s2.region != nil {
					_ = s2.region.Close()
				}
			}
			return
		}
	}

	m.mu.Lock()
	m.cfg = newCfg
	m.slots = newSlots
	m.listeners = newListeners
	m.retired = append(m.retired, oldSlots...)
	m.respawnLimiter = catrate.NewLimiter(map[time.Duration]int{
		newCfg.Respawn.Window.Duration(): newCfg.Respawn.MaxAttempts,
	})
	m.mu.Unlock()

	m.broadcastTo(oldSlots, control.TERMINATE)

	// Close listeners that have no place in the new configuration: they
	// were neither reused (migrated) nor are they part of bound (new).
	reused := make(map[*net.TCPListener]bool, len(newListeners))
	for _, ln := range newListeners {
		reused[ln] = true
	}
	for _, ln := range oldListeners {
		if !reused[ln] {
			_ = ln.Close()
		}
	}

	if m.logger() != nil {
		m.logger().Notice().Log("supervisor: reload complete")
	}
}

// migrateListeners builds the new listener array for newCfg: pools whose
// address:port matches an existing listener reuse it (regardless of a name
// change, which is only logged); pools with a new address bind fresh
// listeners. bound is the subset freshly bound in this call, returned so a
// later failure can close exactly those and leave the rest of m.listeners
// untouched. rollback closes every freshly bound listener from this
// attempt.
func (m *Master) migrateListeners(newCfg *config.Config) (merged, bound []*net.TCPListener, rollback func(), err error) {
	m.mu.Lock()
	oldCfg := m.cfg
	oldListeners := m.listeners
	m.mu.Unlock()

	byAddr := make(map[string]*net.TCPListener, len(oldListeners))
	for i, p := range oldCfg.Pools {
		if i < len(oldListeners) {
			byAddr[p.Address] = oldListeners[i]
		}
	}

	merged = make([]*net.TCPListener, 0, len(newCfg.Pools))
	bound = make([]*net.TCPListener, 0)
	rollback = func() {
		for _, ln := range bound {
			_ = ln.Close()
		}
	}

	for _, p := range newCfg.Pools {
		if ln, ok := byAddr[p.Address]; ok {
			merged = append(merged, ln)
			continue
		}
		addr, rerr := net.ResolveTCPAddr("tcp", p.Address)
		if rerr != nil {
			return nil, bound, rollback, fmt.Errorf("supervisor: resolve %s: %w", p.Address, rerr)
		}
		ln, lerr := net.ListenTCP("tcp", addr)
		if lerr != nil {
			return nil, bound, rollback, fmt.Errorf("supervisor: listen %s: %w", p.Address, lerr)
		}
		merged = append(merged, ln)
		bound = append(bound, ln)
	}
	return merged, bound, rollback, nil
}

package telemetry

// ServerStat is the per-server telemetry record within a pool.
type ServerStat struct {
	Counters map[string]uint64
	Gauges   map[string]int64
	Latency  Histogram
}

func newServerStat() *ServerStat {
	return &ServerStat{Counters: map[string]uint64{}, Gauges: map[string]int64{}}
}

func (s *ServerStat) add(o *ServerStat) {
	for k, v := range o.Counters {
		s.Counters[k] += v
	}
	for k, v := range o.Gauges {
		s.Gauges[k] += v
	}
	s.Latency.Add(o.Latency)
}

// PoolStat is the per-pool telemetry record: its own counters/gauges plus a
// request-latency histogram and a map of per-server records.
type PoolStat struct {
	Counters map[string]uint64
	Gauges   map[string]int64
	Latency  Histogram
	Servers  map[string]*ServerStat
}

func newPoolStat() *PoolStat {
	return &PoolStat{Counters: map[string]uint64{}, Gauges: map[string]int64{}, Servers: map[string]*ServerStat{}}
}

func (p *PoolStat) add(o *PoolStat) {
	for k, v := range o.Counters {
		p.Counters[k] += v
	}
	for k, v := range o.Gauges {
		p.Gauges[k] += v
	}
	p.Latency.Add(o.Latency)
	for name, os := range o.Servers {
		ps, ok := p.Servers[name]
		if !ok {
			ps = newServerStat()
			p.Servers[name] = ps
		}
		ps.add(os)
	}
}

// Server returns (creating if absent) the named server record within pool.
func (s *Snapshot) Server(pool, server string) *ServerStat {
	p := s.Pool(pool)
	sv, ok := p.Servers[server]
	if !ok {
		sv = newServerStat()
		p.Servers[server] = sv
	}
	return sv
}

// Pool returns (creating if absent) the named pool record.
func (s *Snapshot) Pool(pool string) *PoolStat {
	p, ok := s.Pools[pool]
	if !ok {
		p = newPoolStat()
		s.Pools[pool] = p
	}
	return p
}

// Snapshot is one side of the current/shadow/sum triplet: counters, gauges
// and timestamps at the top (service-wide) level, plus a pool/server tree.
// Timestamps use "last non-zero wins" aggregation instead of addition.
type Snapshot struct {
	Counters   map[string]uint64
	Gauges     map[string]int64
	Timestamps map[string]int64
	Pools      map[string]*PoolStat
}

// NewSnapshot returns a zeroed Snapshot ready for writes.
func NewSnapshot() *Snapshot {
	return &Snapshot{
		Counters:   map[string]uint64{},
		Gauges:     map[string]int64{},
		Timestamps: map[string]int64{},
		Pools:      map[string]*PoolStat{},
	}
}

// Reset clears every field back to a fresh, empty Snapshot. Resetting
// current after a successful swap keeps subsequent addition idempotent
// (spec.md §8 invariant 6).
func (s *Snapshot) Reset() {
	s.Counters = map[string]uint64{}
	s.Gauges = map[string]int64{}
	s.Timestamps = map[string]int64{}
	s.Pools = map[string]*PoolStat{}
}

// Accumulate merges o into s, metric-wise: counters and gauges add,
// timestamps keep the last non-zero value, pools/servers merge recursively.
func (s *Snapshot) Accumulate(o *Snapshot) {
	for k, v := range o.Counters {
		s.Counters[k] += v
	}
	for k, v := range o.Gauges {
		s.Gauges[k] += v
	}
	for k, v := range o.Timestamps {
		if v != 0 {
			s.Timestamps[k] = v
		}
	}
	for name, op := range o.Pools {
		p, ok := s.Pools[name]
		if !ok {
			p = newPoolStat()
			s.Pools[name] = p
		}
		p.add(op)
	}
}

// IncrCounter adds delta to a top-level counter.
func (s *Snapshot) IncrCounter(name string, delta uint64) { s.Counters[name] += delta }

// SetGauge sets a top-level gauge to val.
func (s *Snapshot) SetGauge(name string, val int64) { s.Gauges[name] = val }

// SetTimestamp records a top-level timestamp (unix seconds).
func (s *Snapshot) SetTimestamp(name string, val int64) { s.Timestamps[name] = val }

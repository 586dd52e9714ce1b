package telemetry

import (
	"time"

	"github.com/joeycumines/logiface"
	"github.com/joeycumines/stumpy"
)

// Sampler periodically ticks a Triple and publishes the resulting Sum into a
// shared-memory Region, for the master's scraper to read. One Sampler runs
// per worker, on a dedicated goroutine (spec.md §4.E).
type Sampler struct {
	triple   *Triple
	region   *Region
	interval time.Duration
	meta     func() WorkerMeta
	log      *logiface.Logger[*stumpy.Event]
	buf      []byte
	stop     chan struct{}
	done     chan struct{}
}

// NewSampler constructs a Sampler. meta is called on every tick to obtain
// the current fixed-header fields (uptime and connection counts change
// between ticks; service/source/version/pid do not). log may be nil, in
// which case skipped ticks and write failures are silently dropped.
func NewSampler(triple *Triple, region *Region, interval time.Duration, meta func() WorkerMeta, log *logiface.Logger[*stumpy.Event]) *Sampler {
	return &Sampler{
		triple:   triple,
		region:   region,
		interval: interval,
		meta:     meta,
		log:      log,
		buf:      make([]byte, 0, region.Size()),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Run drives the sampler loop until Stop is called. Intended to be run on
// its own goroutine: `go sampler.Run()`.
func (s *Sampler) Run() {
	defer close(s.done)
	t := time.NewTicker(s.interval)
	defer t.Stop()
	for {
		select {
		case <-s.stop:
			return
		case <-t.C:
			s.tick()
		}
	}
}

// tick performs one sampler checkpoint. A skipped tick (aggregation in
// progress, or nothing new since the last one) is logged and returned,
// never retried early: the next tick comes on the regular interval.
func (s *Sampler) tick() {
	if !s.triple.Tick() {
		if s.log != nil {
			s.log.Debug().Log("telemetry sampler: tick skipped, no new data")
		}
		return
	}
	s.buf = AppendJSON(s.buf[:0], s.meta(), s.triple.Sum())
	if err := s.region.Write(s.buf); err != nil && s.log != nil {
		s.log.Err(err).Log("telemetry sampler: snapshot write failed")
	}
}

// Stop signals Run to return and blocks until it has.
func (s *Sampler) Stop() {
	close(s.stop)
	<-s.done
}

package telemetry

import "sync/atomic"

// Triple is the current/shadow/sum idiom from spec.md §3: current is
// mutated only by the request-path goroutine via Record, shadow is held by
// the sampler for aggregation, and sum is the post-aggregation accumulator
// that survives snapshots. Swaps and aggregation happen only on the sampler
// goroutine; Record happens only on the I/O goroutine. The two sides never
// touch the same Snapshot value concurrently because of the updated/
// aggregate handshake below.
//
// Flag ownership (an Open Question in spec.md §9, resolved here and
// recorded in DESIGN.md): aggregate is raised by the I/O path for the brief
// window it is mutating current, and is the signal that tells the sampler
// to back off rather than swap underneath an in-flight write; updated is
// raised by the I/O path once that write completes, and is the signal that
// tells the sampler there is new data worth swapping in. Both fields are
// atomic.Bool, giving acquire/release ordering across the two goroutines
// without a lock on the hot path.
type Triple struct {
	current   *Snapshot
	shadow    *Snapshot
	sum       *Snapshot
	updated   atomic.Bool
	aggregate atomic.Bool
}

// NewTriple constructs a Triple with all three buffers zeroed.
func NewTriple() *Triple {
	return &Triple{current: NewSnapshot(), shadow: NewSnapshot(), sum: NewSnapshot()}
}

// Record mutates current under the aggregate guard. Called from the
// request-path goroutine only; fn must not block.
func (t *Triple) Record(fn func(*Snapshot)) {
	t.aggregate.Store(true)
	fn(t.current)
	t.updated.Store(true)
	t.aggregate.Store(false)
}

// Tick attempts one sampler checkpoint: swap current/shadow if updated and
// not mid-write, aggregate the (now old-current) shadow into sum, and reset
// it so it is zero the next time it becomes current. Returns false (and the
// caller should log-and-return, per spec.md §4.E) when the I/O path has the
// guard raised or has nothing new to swap.
func (t *Triple) Tick() bool {
	if t.aggregate.Load() || !t.updated.Load() {
		return false
	}
	t.current, t.shadow = t.shadow, t.current
	t.updated.Store(false)
	t.sum.Accumulate(t.shadow)
	t.shadow.Reset()
	return true
}

// Sum returns the live sum accumulator. Only safe to call from the sampler
// goroutine (the same goroutine that calls Tick).
func (t *Triple) Sum() *Snapshot { return t.sum }

package telemetry

// Bounds are the fixed latency-histogram bucket upper thresholds, in
// milliseconds. Bucket count and ordering are compile-time constants; the
// master and every worker must agree, so this slice is never configurable.
var Bounds = [...]float64{1, 10, 20, 50, 100, 200, 500, 1000, 2000, 3000}

// NumBuckets is len(Bounds)+1: one bucket per finite bound plus the final
// open-ended (+Inf) bucket.
const NumBuckets = len(Bounds) + 1

// Histogram is a fixed-bucket latency distribution.
type Histogram [NumBuckets]uint64

// Observe increments the bucket for latency x (milliseconds): the smallest
// index i with x <= Bounds[i], or the last (open-ended) bucket if x exceeds
// every finite bound. Exactly one bucket is incremented.
func (h *Histogram) Observe(x float64) {
	for i, bound := range Bounds {
		if x <= bound {
			h[i]++
			return
		}
	}
	h[NumBuckets-1]++
}

// Add accumulates o into h element-wise (counter semantics).
func (h *Histogram) Add(o Histogram) {
	for i := range h {
		h[i] += o[i]
	}
}

// Reset zeroes every bucket.
func (h *Histogram) Reset() {
	*h = Histogram{}
}

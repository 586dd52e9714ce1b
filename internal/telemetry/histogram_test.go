package telemetry

import "testing"

func TestHistogram_ObserveBucketing(t *testing.T) {
	var h Histogram
	h.Observe(0.5)  // <= 1
	h.Observe(15)   // <= 20
	h.Observe(5000) // open-ended bucket
	if h[0] != 1 {
		t.Fatalf("expected bucket 0 (<=1ms) to have 1 observation, got %d", h[0])
	}
	if h[NumBuckets-1] != 1 {
		t.Fatalf("expected open-ended bucket to have 1 observation, got %d", h[NumBuckets-1])
	}
	var total uint64
	for _, v := range h {
		total += v
	}
	if total != 3 {
		t.Fatalf("expected 3 total observations across buckets, got %d", total)
	}
}

func TestHistogram_AddAndReset(t *testing.T) {
	var a, b Histogram
	a.Observe(1)
	b.Observe(1)
	b.Observe(2000)
	a.Add(b)
	if a[0] != 2 {
		t.Fatalf("expected bucket 0 to sum to 2, got %d", a[0])
	}
	a.Reset()
	for i, v := range a {
		if v != 0 {
			t.Fatalf("expected bucket %d zeroed after Reset, got %d", i, v)
		}
	}
}

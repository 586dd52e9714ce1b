package telemetry

import "testing"

func TestTriple_TickNoopWithoutUpdate(t *testing.T) {
	tr := NewTriple()
	if tr.Tick() {
		t.Fatal("expected Tick to return false with nothing recorded")
	}
}

func TestTriple_RecordThenTickAccumulates(t *testing.T) {
	tr := NewTriple()
	tr.Record(func(s *Snapshot) {
		s.IncrCounter("requests", 3)
		s.Pool("cache").Counters["hits"] = 1
	})
	if !tr.Tick() {
		t.Fatal("expected Tick to succeed after Record")
	}
	sum := tr.Sum()
	if sum.Counters["requests"] != 3 {
		t.Fatalf("expected requests=3, got %d", sum.Counters["requests"])
	}
	if sum.Pools["cache"].Counters["hits"] != 1 {
		t.Fatalf("expected cache.hits=1, got %+v", sum.Pools["cache"])
	}

	// A second Tick without an intervening Record must be a no-op, and the
	// sum accumulator must retain the first round's values.
	if tr.Tick() {
		t.Fatal("expected second Tick to be a no-op")
	}
	if sum.Counters["requests"] != 3 {
		t.Fatalf("sum must persist across a no-op Tick, got %d", sum.Counters["requests"])
	}

	tr.Record(func(s *Snapshot) { s.IncrCounter("requests", 2) })
	if !tr.Tick() {
		t.Fatal("expected Tick to succeed after second Record")
	}
	if sum.Counters["requests"] != 5 {
		t.Fatalf("expected requests=5 after two rounds, got %d", sum.Counters["requests"])
	}
}

func TestTriple_TickDefersWhileAggregateHeld(t *testing.T) {
	tr := NewTriple()
	tr.aggregate.Store(true)
	tr.updated.Store(true)
	if tr.Tick() {
		t.Fatal("expected Tick to decline while aggregate guard is held")
	}
}

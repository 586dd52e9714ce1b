//go:build linux

package telemetry

import (
	"strings"
	"testing"
	"time"
)

func TestSampler_PublishesOnTick(t *testing.T) {
	triple := NewTriple()
	triple.Record(func(s *Snapshot) { s.IncrCounter("requests", 1) })

	region, err := CreateRegion(4096)
	if err != nil {
		t.Fatal(err)
	}
	defer region.Close()

	s := NewSampler(triple, region, 10*time.Millisecond, func() WorkerMeta {
		return WorkerMeta{Service: "nccore"}
	}, nil)

	go s.Run()
	defer s.Stop()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if got := string(region.Read()); strings.Contains(got, `"requests":1`) {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("sampler never published a snapshot containing requests:1, last read: %q", region.Read())
}

package telemetry

import (
	"encoding/json"
	"testing"
)

func TestAppendJSON_ProducesValidJSON(t *testing.T) {
	sum := NewSnapshot()
	sum.IncrCounter("requests", 10)
	sum.SetGauge("connections", 4)
	sum.SetTimestamp("last_request", 1234)
	pool := sum.Pool("cache")
	pool.Counters["hits"] = 7
	pool.Latency.Observe(5)
	server := sum.Server("cache", "10.0.0.1:11211")
	server.Counters["errors"] = 1
	server.Latency.Observe(500)

	meta := WorkerMeta{Service: "nccore", Source: "worker", PID: 123, CurrConnections: 2}

	out := AppendJSON(nil, meta, sum)

	var decoded map[string]any
	if err := json.Unmarshal(out, &decoded); err != nil {
		t.Fatalf("AppendJSON produced invalid JSON: %v\n%s", err, out)
	}

	if decoded["service"] != "nccore" {
		t.Fatalf("expected service=nccore, got %v", decoded["service"])
	}
	if decoded["requests"].(float64) != 10 {
		t.Fatalf("expected requests=10, got %v", decoded["requests"])
	}

	pools, ok := decoded["pools"].(map[string]any)
	if !ok {
		t.Fatalf("expected pools object, got %T", decoded["pools"])
	}
	cache, ok := pools["cache"].(map[string]any)
	if !ok {
		t.Fatalf("expected pools.cache object, got %T", pools["cache"])
	}
	if cache["hits"].(float64) != 7 {
		t.Fatalf("expected pools.cache.hits=7, got %v", cache["hits"])
	}
	if _, ok := cache["request_latency"].([]any); !ok {
		t.Fatalf("expected pools.cache.request_latency array, got %T", cache["request_latency"])
	}
	servers, ok := cache["servers"].(map[string]any)
	if !ok {
		t.Fatalf("expected pools.cache.servers object, got %T", cache["servers"])
	}
	if _, ok := servers["10.0.0.1:11211"]; !ok {
		t.Fatalf("expected server entry for 10.0.0.1:11211, got %+v", servers)
	}
}

func TestAppendJSON_EmptySumStillValid(t *testing.T) {
	out := AppendJSON(nil, WorkerMeta{}, NewSnapshot())
	var decoded map[string]any
	if err := json.Unmarshal(out, &decoded); err != nil {
		t.Fatalf("AppendJSON with an empty sum produced invalid JSON: %v\n%s", err, out)
	}
}

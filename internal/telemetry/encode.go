package telemetry

import (
	"sort"
	"strconv"

	"github.com/joeycumines/go-utilpkg/jsonenc"
)

// WorkerMeta carries the fixed header fields the wire format requires
// alongside the sampled Sum: service/source/version identity, uptime,
// timestamp, pid and live connection counts (spec.md §6).
type WorkerMeta struct {
	Service          string
	Source           string
	Version          string
	Uptime           int64
	Timestamp        int64
	PID              int
	TotalConnections uint64
	CurrConnections  int64
}

// AppendJSON appends meta and sum, serialized as the newline-terminated
// JSON-like object spec.md §6 describes, to dst. Grounded on stumpy's
// append-to-byte-buffer style (jsonenc.AppendString for strings,
// strconv.AppendInt/AppendUint for numbers) to avoid allocating through
// encoding/json on the sampler's hot path.
func AppendJSON(dst []byte, meta WorkerMeta, sum *Snapshot) []byte {
	dst = append(dst, '{')
	dst = appendKV(dst, "service", meta.Service, true)
	dst = appendKV(dst, "source", meta.Source, true)
	dst = appendKV(dst, "version", meta.Version, true)
	dst = appendIntKV(dst, "uptime", meta.Uptime)
	dst = appendIntKV(dst, "timestamp", meta.Timestamp)
	dst = appendIntKV(dst, "pid", int64(meta.PID))
	dst = appendUintKV(dst, "total_connections", meta.TotalConnections)
	dst = appendIntKV(dst, "curr_connections", meta.CurrConnections)

	for k, v := range sum.Counters {
		dst = appendUintKV(dst, k, v)
	}
	for k, v := range sum.Gauges {
		dst = appendIntKV(dst, k, v)
	}
	for k, v := range sum.Timestamps {
		dst = appendIntKV(dst, k, v)
	}

	dst = append(dst, '"', 'p', 'o', 'o', 'l', 's', '"', ':', '{')
	first := true
	for _, name := range sortedKeys(sum.Pools) {
		if !first {
			dst = append(dst, ',')
		}
		first = false
		dst = jsonenc.AppendString(dst, name)
		dst = append(dst, ':')
		dst = appendPool(dst, sum.Pools[name])
	}
	dst = append(dst, '}')
	dst = append(dst, '}', '\n')
	return dst
}

func appendPool(dst []byte, p *PoolStat) []byte {
	dst = append(dst, '{')
	// appendUintKV/appendIntKV each end with a comma, so the key-value pairs
	// need no separator of their own before request_latency.
	for k, v := range p.Counters {
		dst = appendUintKV(dst, k, v)
	}
	for k, v := range p.Gauges {
		dst = appendIntKV(dst, k, v)
	}
	dst = jsonenc.AppendString(dst, "request_latency")
	dst = append(dst, ':')
	dst = appendHistogram(dst, p.Latency)

	dst = append(dst, ',')
	dst = jsonenc.AppendString(dst, "servers")
	dst = append(dst, ':', '{')
	sfirst := true
	for _, name := range sortedKeys(p.Servers) {
		if !sfirst {
			dst = append(dst, ',')
		}
		sfirst = false
		dst = jsonenc.AppendString(dst, name)
		dst = append(dst, ':')
		dst = appendServer(dst, p.Servers[name])
	}
	dst = append(dst, '}')
	dst = append(dst, '}')
	return dst
}

func appendServer(dst []byte, s *ServerStat) []byte {
	dst = append(dst, '{')
	for k, v := range s.Counters {
		dst = appendUintKV(dst, k, v)
	}
	for k, v := range s.Gauges {
		dst = appendIntKV(dst, k, v)
	}
	dst = jsonenc.AppendString(dst, "server_latency")
	dst = append(dst, ':')
	dst = appendHistogram(dst, s.Latency)
	dst = append(dst, '}')
	return dst
}

func appendHistogram(dst []byte, h Histogram) []byte {
	dst = append(dst, '[')
	for i, v := range h {
		if i > 0 {
			dst = append(dst, ',')
		}
		dst = strconv.AppendUint(dst, v, 10)
	}
	dst = append(dst, ']')
	return dst
}

func appendKV(dst []byte, key, val string, comma bool) []byte {
	if comma {
		dst = jsonenc.AppendString(dst, key)
		dst = append(dst, ':')
		dst = jsonenc.AppendString(dst, val)
		return append(dst, ',')
	}
	dst = jsonenc.AppendString(dst, key)
	dst = append(dst, ':')
	return jsonenc.AppendString(dst, val)
}

func appendIntKV(dst []byte, key string, val int64) []byte {
	dst = jsonenc.AppendString(dst, key)
	dst = append(dst, ':')
	dst = strconv.AppendInt(dst, val, 10)
	return append(dst, ',')
}

func appendUintKV(dst []byte, key string, val uint64) []byte {
	dst = jsonenc.AppendString(dst, key)
	dst = append(dst, ':')
	dst = strconv.AppendUint(dst, val, 10)
	return append(dst, ',')
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

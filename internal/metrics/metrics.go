// Package metrics provides a lightweight Prometheus-compatible metrics
// registry for the recorder. It avoids prometheus/client_golang so the binary
// carries no extra dependencies.
//
// # Counter naming convention
//
// Label keys are plain strings so a single sync.Map holds every label value.
//
//	EventsWritten                        →  key = event type name
//	ChunksDumped / ChunkBytes / Failures →  key = source ("sampler", "cli", ...)
//	SamplesTaken                         →  key = goroutine state
//	HTTPRejected                         →  key = rejection reason
//
// # Prometheus text output
//
// Calling Registry.Handler() returns an http.Handler that renders all counters
// in the Prometheus exposition format (text/plain; version=0.0.4).
package metrics

import (
	"fmt"
	"io"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
)

// ─── labelCounter ─────────────────────────────────────────────────────────────

// labelCounter is a lock-free, label-keyed counter map backed by sync.Map and
// atomic.Int64 values.
type labelCounter struct {
	vals sync.Map // key string → *atomic.Int64
}

func (lc *labelCounter) get(key string) *atomic.Int64 {
	v, _ := lc.vals.LoadOrStore(key, new(atomic.Int64))
	return v.(*atomic.Int64)
}

// Inc increments the counter for key by 1.
func (lc *labelCounter) Inc(key string) { lc.get(key).Add(1) }

// Add increments the counter for key by n.
func (lc *labelCounter) Add(key string, n int64) { lc.get(key).Add(n) }

// Get returns the current value for key.
func (lc *labelCounter) Get(key string) int64 {
	v, ok := lc.vals.Load(key)
	if !ok {
		return 0
	}
	return v.(*atomic.Int64).Load()
}

// Each calls fn for every key/value pair in key order.
func (lc *labelCounter) Each(fn func(key string, val int64)) {
	var keys []string
	lc.vals.Range(func(k, _ any) bool {
		keys = append(keys, k.(string))
		return true
	})
	sort.Strings(keys)
	for _, k := range keys {
		fn(k, lc.Get(k))
	}
}

// ─── Registry ─────────────────────────────────────────────────────────────────

// Registry holds all recorder metrics. The zero value is ready to use.
type Registry struct {
	EventsWritten labelCounter
	SamplesTaken  labelCounter

	ChunksDumped labelCounter
	ChunkBytes   labelCounter
	DumpFailures labelCounter

	// HTTPRejected counts chunk server requests refused before reaching a
	// handler, keyed by reason ("unauthorized", "rate_limited").
	HTTPRejected labelCounter
}

// family is one exported counter family.
type family struct {
	name, help, label string
	counter           *labelCounter
}

func (r *Registry) families() []family {
	return []family{
		{"flightrec_events_written_total", "Total events written into chunks", "type", &r.EventsWritten},
		{"flightrec_samples_taken_total", "Total thread samples taken", "state", &r.SamplesTaken},
		{"flightrec_chunks_dumped_total", "Total chunks serialized", "source", &r.ChunksDumped},
		{"flightrec_chunk_bytes_total", "Total bytes of serialized chunks", "source", &r.ChunkBytes},
		{"flightrec_dump_failures_total", "Total chunk dumps that failed", "source", &r.DumpFailures},
		{"flightrec_http_rejected_total", "Chunk server requests refused by middleware", "reason", &r.HTTPRejected},
	}
}

// ─── Prometheus text serialisation ────────────────────────────────────────────

// Handler returns an http.Handler that renders all metrics in the Prometheus
// plain-text exposition format (text/plain; version=0.0.4).
func (r *Registry) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		_, _ = io.WriteString(w, r.Text())
	})
}

// Text renders all metrics in the Prometheus exposition format. Families
// with no samples are omitted entirely.
func (r *Registry) Text() string {
	var b strings.Builder
	for _, f := range r.families() {
		f.write(&b)
	}
	return b.String()
}

func (f family) write(b *strings.Builder) {
	first := true
	f.counter.Each(func(key string, val int64) {
		if first {
			fmt.Fprintf(b, "# HELP %s %s\n# TYPE %s counter\n", f.name, f.help, f.name)
			first = false
		}
		fmt.Fprintf(b, "%s{%s=%s} %s\n", f.name, f.label, strconv.Quote(key), strconv.FormatInt(val, 10))
	})
}

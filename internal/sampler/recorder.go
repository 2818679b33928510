package sampler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/snehjoshi/flightrec/internal/metrics"
)

const metricsSource = "sampler"

// ChunkSink receives every dumped chunk.
type ChunkSink interface {
	Store(chunk []byte, events int) (string, error)
}

type RecorderConfig struct {
	SampleInterval time.Duration
	ChunkInterval  time.Duration
}

// Recorder samples a Source on a fixed interval and hands a chunk to the
// sink every chunk interval.
type Recorder struct {
	writer  *Writer
	source  Source
	sink    ChunkSink
	metrics *metrics.Registry
	cfg     RecorderConfig

	// flushMu makes check, dump and store one step for concurrent flushes.
	flushMu sync.Mutex
}

// NewRecorder wires a recorder. m may be nil.
func NewRecorder(w *Writer, src Source, sink ChunkSink, m *metrics.Registry, cfg RecorderConfig) *Recorder {
	if m == nil {
		m = new(metrics.Registry)
	}
	if cfg.SampleInterval <= 0 {
		cfg.SampleInterval = 10 * time.Millisecond
	}
	if cfg.ChunkInterval < cfg.SampleInterval {
		cfg.ChunkInterval = cfg.SampleInterval
	}
	return &Recorder{writer: w, source: src, sink: sink, metrics: m, cfg: cfg}
}

// Run samples until ctx is cancelled, then flushes the last chunk. It
// returns the error of that final flush, if any.
func (r *Recorder) Run(ctx context.Context) error {
	sampleTick := time.NewTicker(r.cfg.SampleInterval)
	defer sampleTick.Stop()
	chunkTick := time.NewTicker(r.cfg.ChunkInterval)
	defer chunkTick.Stop()

	for {
		select {
		case <-ctx.Done():
			_, err := r.Flush()
			return err
		case <-sampleTick.C:
			if err := r.SampleOnce(); err != nil {
				slog.Warn("sampler: sample failed", "err", err)
			}
		case <-chunkTick.C:
			if _, err := r.Flush(); err != nil {
				slog.Warn("sampler: flush failed", "err", err)
			}
		}
	}
}

// SampleOnce takes one round of samples from the source.
func (r *Recorder) SampleOnce() error {
	threads, err := r.source.Sample()
	if err != nil {
		return fmt.Errorf("sampler: source: %w", err)
	}
	for _, ti := range threads {
		if err := r.writer.WriteThreadSample(ti); err != nil {
			return err
		}
		r.metrics.SamplesTaken.Inc(ti.State)
		r.metrics.EventsWritten.Inc(EventName)
	}
	return nil
}

// Flush dumps the current chunk into the sink. An empty chunk is skipped and
// Flush returns "". Concurrent calls are serialized.
func (r *Recorder) Flush() (string, error) {
	r.flushMu.Lock()
	defer r.flushMu.Unlock()

	if r.writer.Pending() == 0 {
		return "", nil
	}
	data, events, err := r.writer.dump()
	if err != nil {
		r.metrics.DumpFailures.Inc(metricsSource)
		return "", err
	}
	if events == 0 {
		return "", nil
	}

	id, err := r.sink.Store(data, events)
	if err != nil {
		r.metrics.DumpFailures.Inc(metricsSource)
		return "", fmt.Errorf("sampler: store chunk: %w", err)
	}
	r.metrics.ChunksDumped.Inc(metricsSource)
	r.metrics.ChunkBytes.Add(metricsSource, int64(len(data)))
	slog.Info("chunk stored", "id", id, "events", events, "bytes", len(data))
	return id, nil
}

// Package sampler records goroutine samples as thread-sample events.
package sampler

import (
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/snehjoshi/flightrec/internal/jfr"
)

// EventName is the event type every sample is written as.
const EventName = "flightrec.ThreadSample"

const defaultMaxStackDepth = 64

type ThreadGroupInfo struct {
	Name   string
	Parent *ThreadGroupInfo
}

// FrameInfo is one stack frame, innermost first in ThreadInfo.Frames.
type FrameInfo struct {
	Package    string
	Class      string
	Method     string
	Descriptor string
	Line       int32
	Type       string // frame type description, e.g. "Go" or "Interpreted"
}

// ThreadInfo is a snapshot of one thread (or goroutine) at sample time.
type ThreadInfo struct {
	ID         int64
	OSThreadID int64
	Name       string
	State      string
	Group      *ThreadGroupInfo
	Frames     []FrameInfo
	Truncated  bool
	Time       time.Time // zero means "now" by the writer's clock
}

type Option func(*Writer)

func WithClock(fn func() time.Time) Option {
	return func(w *Writer) { w.clock = fn }
}

// WithMaxStackDepth caps the frames kept per sample. Longer stacks are cut
// and marked truncated.
func WithMaxStackDepth(n int) Option {
	return func(w *Writer) { w.maxDepth = n }
}

// Writer appends thread samples to a chunk and rotates the chunk on Dump.
// All chunks share one registry, so the sample type is registered once.
type Writer struct {
	jw       *jfr.Writer
	event    jfr.Type
	clock    func() time.Time
	maxDepth int

	mu    sync.Mutex
	chunk *jfr.Chunk
}

func NewWriter(opts ...Option) (*Writer, error) {
	w := &Writer{clock: time.Now, maxDepth: defaultMaxStackDepth}
	for _, opt := range opts {
		opt(w)
	}
	w.jw = jfr.NewWriter(jfr.WithClock(w.clock))

	event, err := w.jw.RegisterEventType(EventName, func(b *jfr.TypeBuilder) {
		label := b.Type(jfr.TypeLabel)
		b.AddAnnotation(label, "Thread Sample").
			AddBuiltinField("state", jfr.BuiltinString, jfr.WithAnnotation(label, "Thread State"))
	})
	if err != nil {
		return nil, fmt.Errorf("sampler: register %s: %w", EventName, err)
	}
	w.event = event
	w.chunk = w.jw.NewChunk()
	return w, nil
}

// Types returns the registry shared by every chunk of this writer.
func (w *Writer) Types() *jfr.Registry { return w.jw.Types() }

// WriteThreadSample records one sample into the current chunk.
func (w *Writer) WriteThreadSample(ti ThreadInfo) error {
	ts := ti.Time
	if ts.IsZero() {
		ts = w.clock()
	}
	frames, truncated := ti.Frames, ti.Truncated
	if w.maxDepth > 0 && len(frames) > w.maxDepth {
		frames, truncated = frames[:w.maxDepth], true
	}

	ev, err := w.event.Build(func(b *jfr.FieldValueBuilder) {
		b.Put(jfr.FieldStartTime, ts.UnixNano()).
			Put("state", ti.State).
			Put(jfr.FieldEventThread, threadValue(ti)).
			Put(jfr.FieldStackTrace, stackValue(frames, truncated))
	})
	if err != nil {
		return fmt.Errorf("sampler: build sample for thread %d: %w", ti.ID, err)
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	return w.chunk.WriteEvent(ev)
}

// Pending returns the number of samples in the current chunk.
func (w *Writer) Pending() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.chunk.Len()
}

// Dump serializes the current chunk and starts a new one. On failure the
// current chunk keeps its samples.
func (w *Writer) Dump() ([]byte, error) {
	data, _, err := w.dump()
	return data, err
}

// DumpFile dumps the current chunk to path, replacing the file.
func (w *Writer) DumpFile(path string) error {
	data, err := w.Dump()
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0o640); err != nil {
		return fmt.Errorf("sampler: write %s: %w", path, err)
	}
	return nil
}

func (w *Writer) dump() ([]byte, int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	events := w.chunk.Len()
	data, err := w.chunk.Dump()
	if err != nil {
		return nil, 0, fmt.Errorf("sampler: dump: %w", err)
	}
	w.chunk = w.jw.NewChunk()
	return data, events, nil
}

func threadValue(ti ThreadInfo) func(*jfr.FieldValueBuilder) {
	return func(b *jfr.FieldValueBuilder) {
		b.Put("osName", ti.Name).
			Put("osThreadId", ti.OSThreadID).
			Put("javaName", ti.Name).
			Put("javaThreadId", ti.ID)
		if ti.Group != nil {
			b.Put("group", groupValue(ti.Group))
		}
	}
}

func groupValue(g *ThreadGroupInfo) func(*jfr.FieldValueBuilder) {
	return func(b *jfr.FieldValueBuilder) {
		b.Put("name", g.Name)
		if g.Parent != nil {
			b.Put("parent", groupValue(g.Parent))
		}
	}
}

func stackValue(frames []FrameInfo, truncated bool) func(*jfr.FieldValueBuilder) {
	return func(b *jfr.FieldValueBuilder) {
		vs := make([]any, len(frames))
		for i, f := range frames {
			vs[i] = frameValue(f)
		}
		b.Put("truncated", truncated).PutArray("frames", vs...)
	}
}

func frameValue(f FrameInfo) func(*jfr.FieldValueBuilder) {
	return func(b *jfr.FieldValueBuilder) {
		b.Put("method", func(m *jfr.FieldValueBuilder) {
			m.Put("type", func(c *jfr.FieldValueBuilder) {
				c.Put("name", f.Class)
				if f.Package != "" {
					c.Put("package", func(p *jfr.FieldValueBuilder) {
						p.Put("name", f.Package).Put("exported", true)
					})
				}
			}).
				Put("name", f.Method).
				Put("descriptor", f.Descriptor)
		}).
			Put("lineNumber", f.Line).
			Put("type", f.Type)
	}
}

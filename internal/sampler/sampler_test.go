package sampler_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/snehjoshi/flightrec/internal/jfr"
	"github.com/snehjoshi/flightrec/internal/metrics"
	"github.com/snehjoshi/flightrec/internal/sampler"
)

// ---- helpers ----------------------------------------------------------------

var epoch = time.Date(2026, 2, 2, 8, 0, 0, 0, time.UTC)

func fixedClock() func() time.Time {
	var mu sync.Mutex
	var n int64
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		n++
		return epoch.Add(time.Duration(n) * time.Millisecond)
	}
}

func worker(id int64, state string) sampler.ThreadInfo {
	return sampler.ThreadInfo{
		ID:         id,
		OSThreadID: 40000 + id,
		Name:       "worker",
		State:      state,
		Group:      &sampler.ThreadGroupInfo{Name: "pool", Parent: &sampler.ThreadGroupInfo{Name: "main"}},
		Frames: []sampler.FrameInfo{
			{Package: "com.example", Class: "com.example.Main", Method: "run", Descriptor: "()V", Line: 12, Type: "Interpreted"},
			{Package: "com.example", Class: "com.example.Main", Method: "main", Descriptor: "([Ljava/lang/String;)V", Line: 3, Type: "Interpreted"},
		},
	}
}

type memSink struct {
	mu     sync.Mutex
	chunks [][]byte
	events []int
	err    error
}

func (s *memSink) Store(chunk []byte, events int) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return "", s.err
	}
	s.chunks = append(s.chunks, chunk)
	s.events = append(s.events, events)
	return "chunk", nil
}

func (s *memSink) len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.chunks)
}

type staticSource []sampler.ThreadInfo

func (s staticSource) Sample() ([]sampler.ThreadInfo, error) { return s, nil }

// ---- Writer -----------------------------------------------------------------

func TestWriter_SampleRoundTrip(t *testing.T) {
	w, err := sampler.NewWriter(sampler.WithClock(fixedClock()))
	require.NoError(t, err)

	require.NoError(t, w.WriteThreadSample(worker(7, "RUNNABLE")))
	require.Equal(t, 1, w.Pending())

	data, err := w.Dump()
	require.NoError(t, err)
	require.Equal(t, 0, w.Pending())

	c, err := jfr.Parse(data)
	require.NoError(t, err)

	evs := c.EventsOf(sampler.EventName)
	require.Len(t, evs, 1)
	ev := evs[0]
	assert.Equal(t, "RUNNABLE", ev.Get("state"))
	assert.Equal(t, int64(7), ev.Get("eventThread.javaThreadId"))
	assert.Equal(t, int64(40007), ev.Get("eventThread.osThreadId"))
	assert.Equal(t, "pool", ev.Get("eventThread.group.name"))
	assert.Equal(t, "main", ev.Get("eventThread.group.parent.name"))
	assert.Equal(t, false, ev.Get("stackTrace.truncated"))

	frames, ok := ev.Get("stackTrace.frames").([]any)
	require.True(t, ok)
	require.Len(t, frames, 2)
	top := frames[0].(*jfr.Object)
	assert.Equal(t, "run", top.Get("method.name"))
	assert.Equal(t, "com.example.Main", top.Get("method.type.name"))
	assert.Equal(t, "com.example", top.Get("method.type.package.name"))
	assert.Equal(t, int64(12), top.Get("lineNumber"))
	assert.Equal(t, "Interpreted", top.Get("type"))
}

func TestWriter_StateFieldIsLabelled(t *testing.T) {
	w, err := sampler.NewWriter(sampler.WithClock(fixedClock()))
	require.NoError(t, err)
	require.NoError(t, w.WriteThreadSample(worker(1, "WAITING")))
	data, err := w.Dump()
	require.NoError(t, err)

	c, err := jfr.Parse(data)
	require.NoError(t, err)
	typ := c.TypeByName(sampler.EventName)
	require.NotNil(t, typ)
	assert.Equal(t, "jdk.jfr.Event", typ.Supertype)

	label := c.TypeByName(jfr.TypeLabel)
	require.NotNil(t, label)
	var found bool
	for _, f := range typ.Fields {
		if f.Name != "state" {
			continue
		}
		for _, a := range f.Annotations {
			if a.TypeID == label.ID && a.Value == "Thread State" {
				found = true
			}
		}
	}
	assert.True(t, found, "state field should carry a Label annotation")
}

func TestWriter_MaxStackDepthTruncates(t *testing.T) {
	w, err := sampler.NewWriter(sampler.WithClock(fixedClock()), sampler.WithMaxStackDepth(1))
	require.NoError(t, err)
	require.NoError(t, w.WriteThreadSample(worker(3, "RUNNABLE")))
	data, err := w.Dump()
	require.NoError(t, err)

	c, err := jfr.Parse(data)
	require.NoError(t, err)
	ev := c.EventsOf(sampler.EventName)[0]
	assert.Equal(t, true, ev.Get("stackTrace.truncated"))
	assert.Len(t, ev.Get("stackTrace.frames"), 1)
}

func TestWriter_FourDumpCycles(t *testing.T) {
	w, err := sampler.NewWriter(sampler.WithClock(fixedClock()))
	require.NoError(t, err)
	target := filepath.Join(t.TempDir(), "sampler.jfr")

	for cycle := 0; cycle < 4; cycle++ {
		for i := 0; i < 15; i++ {
			for id := int64(1); id <= 3; id++ {
				require.NoError(t, w.WriteThreadSample(worker(id, "RUNNABLE")))
			}
		}
		require.NoError(t, w.DumpFile(target))

		data, err := os.ReadFile(target)
		require.NoError(t, err)
		c, err := jfr.Parse(data)
		require.NoError(t, err, "cycle %d", cycle)
		assert.Len(t, c.EventsOf(sampler.EventName), 45, "cycle %d", cycle)
	}
}

func TestWriter_ConcurrentSamples(t *testing.T) {
	w, err := sampler.NewWriter()
	require.NoError(t, err)

	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 25; i++ {
				assert.NoError(t, w.WriteThreadSample(worker(int64(g), "RUNNABLE")))
			}
		}(g)
	}
	wg.Wait()

	data, err := w.Dump()
	require.NoError(t, err)
	c, err := jfr.Parse(data)
	require.NoError(t, err)
	assert.Len(t, c.EventsOf(sampler.EventName), 200)
}

// ---- Goroutine source -------------------------------------------------------

const goroutineDump = `goroutine 1 [running]:
main.main()
	/src/app/main.go:10 +0x1d

goroutine 18 [chan receive, 2 minutes]:
github.com/acme/app/internal/srv.(*Server).loop(0xc000010000, {0x0, 0x0})
	/src/app/internal/srv/server.go:42 +0x85
created by github.com/acme/app/internal/srv.New in goroutine 1
	/src/app/internal/srv/server.go:20 +0x10

goroutine 19 [select]:
runtime.gopark(0x0?, 0x0?, 0x0?, 0x0?, 0x0?)
	/usr/local/go/src/runtime/proc.go:402 +0xce
...additional frames elided...
`

func TestParseGoroutineDump(t *testing.T) {
	threads, err := sampler.ParseGoroutineDump([]byte(goroutineDump), epoch)
	require.NoError(t, err)
	require.Len(t, threads, 3)

	main := threads[0]
	assert.Equal(t, int64(1), main.ID)
	assert.Equal(t, "running", main.State)
	assert.Equal(t, "goroutine 1", main.Name)
	require.Len(t, main.Frames, 1)
	assert.Equal(t, sampler.FrameInfo{
		Package:    "main",
		Class:      "main",
		Method:     "main",
		Descriptor: "/src/app/main.go",
		Line:       10,
		Type:       sampler.GoroutineFrameType,
	}, main.Frames[0])

	srv := threads[1]
	assert.Equal(t, "chan receive", srv.State)
	require.Len(t, srv.Frames, 1, "creation site is not a frame")
	assert.Equal(t, "github.com/acme/app/internal/srv", srv.Frames[0].Package)
	assert.Equal(t, "github.com/acme/app/internal/srv.Server", srv.Frames[0].Class)
	assert.Equal(t, "loop", srv.Frames[0].Method)
	assert.Equal(t, int32(42), srv.Frames[0].Line)

	assert.True(t, threads[2].Truncated)
	assert.Equal(t, epoch, threads[2].Time)
	require.Len(t, threads[2].Frames, 1)
	assert.Equal(t, "/usr/local/go/src/runtime/proc.go", threads[2].Frames[0].Descriptor)
}

func TestParseGoroutineDump_Empty(t *testing.T) {
	threads, err := sampler.ParseGoroutineDump(nil, epoch)
	require.NoError(t, err)
	assert.Empty(t, threads)
}

func TestGoroutineSource_SamplesThisProcess(t *testing.T) {
	src := &sampler.GoroutineSource{Clock: func() time.Time { return epoch }}
	threads, err := src.Sample()
	require.NoError(t, err)
	require.NotEmpty(t, threads)

	var sawSelf bool
	for _, ti := range threads {
		for _, f := range ti.Frames {
			if f.Method == "TestGoroutineSource_SamplesThisProcess" {
				sawSelf = true
			}
		}
	}
	assert.True(t, sawSelf, "the sampling goroutine should appear in its own sample")
}

// ---- Recorder ---------------------------------------------------------------

func TestRecorder_FlushStoresChunk(t *testing.T) {
	w, err := sampler.NewWriter(sampler.WithClock(fixedClock()))
	require.NoError(t, err)
	sink := &memSink{}
	var reg metrics.Registry
	r := sampler.NewRecorder(w, staticSource{worker(1, "RUNNABLE"), worker(2, "BLOCKED")}, sink, &reg, sampler.RecorderConfig{})

	id, err := r.Flush()
	require.NoError(t, err)
	assert.Empty(t, id, "empty chunk is not stored")
	assert.Equal(t, 0, sink.len())

	require.NoError(t, r.SampleOnce())
	require.NoError(t, r.SampleOnce())
	id, err = r.Flush()
	require.NoError(t, err)
	assert.Equal(t, "chunk", id)
	require.Equal(t, 1, sink.len())
	assert.Equal(t, 4, sink.events[0])

	c, err := jfr.Parse(sink.chunks[0])
	require.NoError(t, err)
	assert.Len(t, c.EventsOf(sampler.EventName), 4)

	assert.Equal(t, int64(4), reg.EventsWritten.Get(sampler.EventName))
	assert.Equal(t, int64(2), reg.SamplesTaken.Get("BLOCKED"))
	assert.Equal(t, int64(1), reg.ChunksDumped.Get("sampler"))
	assert.Equal(t, int64(len(sink.chunks[0])), reg.ChunkBytes.Get("sampler"))
}

func TestRecorder_SinkErrorIsReturned(t *testing.T) {
	w, err := sampler.NewWriter()
	require.NoError(t, err)
	boom := errors.New("disk full")
	var reg metrics.Registry
	r := sampler.NewRecorder(w, staticSource{worker(1, "RUNNABLE")}, &memSink{err: boom}, &reg, sampler.RecorderConfig{})

	require.NoError(t, r.SampleOnce())
	_, err = r.Flush()
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, int64(0), reg.ChunksDumped.Get("sampler"))
	assert.Equal(t, int64(0), reg.ChunkBytes.Get("sampler"))
	assert.Equal(t, int64(1), reg.DumpFailures.Get("sampler"))
}

func TestRecorder_ConcurrentFlushStoresOneChunk(t *testing.T) {
	w, err := sampler.NewWriter(sampler.WithClock(fixedClock()))
	require.NoError(t, err)
	sink := &memSink{}
	var reg metrics.Registry
	r := sampler.NewRecorder(w, staticSource{worker(1, "RUNNABLE")}, sink, &reg, sampler.RecorderConfig{})

	for i := 0; i < 5; i++ {
		require.NoError(t, r.SampleOnce())
	}

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := r.Flush()
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	require.Equal(t, 1, sink.len())
	assert.Equal(t, []int{5}, sink.events)
	assert.Equal(t, int64(1), reg.ChunksDumped.Get("sampler"))
}

func TestRecorder_RunFlushesOnCancel(t *testing.T) {
	w, err := sampler.NewWriter()
	require.NoError(t, err)
	sink := &memSink{}
	r := sampler.NewRecorder(w, staticSource{worker(1, "RUNNABLE")}, sink, nil, sampler.RecorderConfig{
		SampleInterval: time.Millisecond,
		ChunkInterval:  time.Hour,
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()

	require.Eventually(t, func() bool { return w.Pending() > 0 }, 2*time.Second, time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
	assert.Equal(t, 1, sink.len())
}

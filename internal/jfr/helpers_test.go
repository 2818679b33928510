package jfr_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/snehjoshi/flightrec/internal/jfr"
)

// ---- helpers ----------------------------------------------------------------

var epoch = time.Date(2026, 3, 14, 9, 26, 53, 0, time.UTC)

// steppingClock returns a clock that advances one millisecond per call, so
// two writers driven the same way see the same times.
func steppingClock() func() time.Time {
	var n int64
	return func() time.Time {
		n++
		return epoch.Add(time.Duration(n) * time.Millisecond)
	}
}

func newWriter(t *testing.T) *jfr.Writer {
	t.Helper()
	return jfr.NewWriter(jfr.WithClock(steppingClock()))
}

// registerSampleTypes declares a simple type with a "message" field and an
// event type using it.
func registerSampleTypes(t *testing.T, w *jfr.Writer) (simple, event jfr.Type) {
	t.Helper()
	simple, err := w.RegisterType("com.example.Simple", func(b *jfr.TypeBuilder) {
		b.AddBuiltinField("message", jfr.BuiltinString)
	})
	require.NoError(t, err)

	event, err = w.RegisterEventType("com.example.SampleEvent", func(b *jfr.TypeBuilder) {
		b.AddBuiltinField("name", jfr.BuiltinString).
			AddField("message", simple)
	})
	require.NoError(t, err)
	return simple, event
}

func frame(method, descriptor string, line int32, frameType string) func(*jfr.FieldValueBuilder) {
	return func(f *jfr.FieldValueBuilder) {
		f.Put("type", frameType).
			Put("lineNumber", line).
			Put("method", func(m *jfr.FieldValueBuilder) {
				m.Put("type", func(c *jfr.FieldValueBuilder) {
					c.Put("name", "com.example.Main").
						Put("package", func(p *jfr.FieldValueBuilder) {
							p.Put("name", "com.example")
						}).
						Put("modifiers", 0x11)
				}).
					Put("name", method).
					Put("descriptor", descriptor).
					Put("modifiers", 0x19)
			})
	}
}

func thread(name string, id int64) func(*jfr.FieldValueBuilder) {
	return func(th *jfr.FieldValueBuilder) {
		th.Put("osName", name).
			Put("osThreadId", id+40000).
			Put("javaName", name).
			Put("javaThreadId", id).
			Put("group", func(g *jfr.FieldValueBuilder) {
				g.Put("name", "main")
			})
	}
}

func sampleEvent(t *testing.T, event jfr.Type, ts int64, name string) *jfr.TypedValue {
	t.Helper()
	v, err := event.Build(func(b *jfr.FieldValueBuilder) {
		b.Put("startTime", ts).
			Put("name", name).
			Put("message", "Hello world").
			Put("eventThread", thread("worker", 11)).
			Put("stackTrace", func(st *jfr.FieldValueBuilder) {
				st.Put("truncated", false).
					PutArray("frames",
						frame("main", "([Ljava/lang/String;)V", 10, "Interpreted"),
						frame("doit", "(Ljava/lang/String;)V", 20, "JIT compiled"))
			})
	})
	require.NoError(t, err)
	return v
}

func mustType(t *testing.T, r *jfr.Registry, name string) jfr.Type {
	t.Helper()
	typ, err := r.GetType(name, true)
	require.NoError(t, err)
	return typ
}

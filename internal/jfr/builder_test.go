package jfr_test

import (
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/snehjoshi/flightrec/internal/jfr"
)

func TestCanAccept_Builtins(t *testing.T) {
	r := jfr.NewRegistry()
	cases := []struct {
		kind jfr.Builtin
		v    any
		want bool
	}{
		{jfr.BuiltinBoolean, true, true},
		{jfr.BuiltinBoolean, 1, false},
		{jfr.BuiltinByte, 127, true},
		{jfr.BuiltinByte, -128, true},
		{jfr.BuiltinByte, 128, false},
		{jfr.BuiltinByte, 200, false},
		{jfr.BuiltinByte, -129, false},
		{jfr.BuiltinChar, 'a', true},
		{jfr.BuiltinChar, uint16(0xffff), true},
		{jfr.BuiltinChar, -1, false},
		{jfr.BuiltinShort, int16(-3), true},
		{jfr.BuiltinShort, 40000, false},
		{jfr.BuiltinInt, int32(5), true},
		{jfr.BuiltinInt, int64(1 << 31), false},
		{jfr.BuiltinInt, "5", false},
		{jfr.BuiltinLong, uint32(7), true},
		{jfr.BuiltinLong, uint64(math.MaxUint64), false},
		{jfr.BuiltinFloat, float32(1.5), true},
		{jfr.BuiltinFloat, 1.5, false},
		{jfr.BuiltinDouble, 1.5, true},
		{jfr.BuiltinDouble, float32(1.5), true},
		{jfr.BuiltinString, "x", true},
		{jfr.BuiltinString, nil, true},
		{jfr.BuiltinInt, nil, false},
	}
	for _, tc := range cases {
		got := r.Builtin(tc.kind).CanAccept(tc.v)
		assert.Equal(t, tc.want, got, "%s accepts %T(%v)", tc.kind, tc.v, tc.v)
	}
}

func TestAsValue_Scalars(t *testing.T) {
	r := jfr.NewRegistry()

	v, err := r.Builtin(jfr.BuiltinLong).AsValue(int8(3))
	require.NoError(t, err)
	assert.Equal(t, int64(3), v.Value())

	v, err = r.Builtin(jfr.BuiltinDouble).AsValue(float32(0.5))
	require.NoError(t, err)
	assert.Equal(t, 0.5, v.Value())

	_, err = r.Builtin(jfr.BuiltinInt).AsValue("nope")
	assert.ErrorIs(t, err, jfr.ErrTypeMismatch)

	_, err = r.Builtin(jfr.BuiltinInt).NullValue()
	assert.ErrorIs(t, err, jfr.ErrTypeMismatch)

	null, err := r.Builtin(jfr.BuiltinString).NullValue()
	require.NoError(t, err)
	assert.True(t, null.IsNull())
}

func TestAsValue_SimpleTypeWrapsScalar(t *testing.T) {
	r := jfr.NewRegistry()
	frameType := mustType(t, r, jfr.TypeFrameType)

	assert.True(t, frameType.CanAccept("Interpreted"))
	assert.False(t, frameType.CanAccept(42))

	v, err := frameType.AsValue("Interpreted")
	require.NoError(t, err)
	assert.Equal(t, "Interpreted", v.Field("description").Value())

	_, err = mustType(t, r, jfr.TypeThread).AsValue("not simple")
	assert.ErrorIs(t, err, jfr.ErrTypeMismatch)
}

func TestAsValue_ExistingValue(t *testing.T) {
	r := jfr.NewRegistry()
	th := mustType(t, r, jfr.TypeThread)
	v, err := th.Build(thread("worker", 1))
	require.NoError(t, err)

	same, err := th.AsValue(v)
	require.NoError(t, err)
	assert.Same(t, v, same)

	_, err = mustType(t, r, jfr.TypeThreadGroup).AsValue(v)
	assert.ErrorIs(t, err, jfr.ErrTypeMismatch)
}

func TestBuild_NestedValues(t *testing.T) {
	w := newWriter(t)
	_, event := registerSampleTypes(t, w)
	v := sampleEvent(t, event, 100, "sample event")

	assert.Equal(t, "sample event", v.Field("name").Value())
	assert.Equal(t, "Hello world", v.Field("message").Field("message").Value())
	assert.Equal(t, "main", v.Field("eventThread").Field("group").Field("name").Value())

	frames := v.Field("stackTrace").Array("frames")
	require.Len(t, frames, 2)
	assert.Equal(t, "doit", frames[1].Field("method").Field("name").Value())
	assert.Equal(t, int64(20), frames[1].Field("lineNumber").Value())
	assert.False(t, v.IsSet("nonexistent"))
	assert.False(t, frames[0].IsSet("bytecodeIndex"))
}

func TestBuild_LastWriteWins(t *testing.T) {
	r := jfr.NewRegistry()
	v, err := mustType(t, r, jfr.TypeThread).Build(func(b *jfr.FieldValueBuilder) {
		b.Put("javaName", "first").Put("javaName", "second")
	})
	require.NoError(t, err)
	assert.Equal(t, "second", v.Field("javaName").Value())
}

func TestBuild_UnknownField(t *testing.T) {
	r := jfr.NewRegistry()
	_, err := mustType(t, r, jfr.TypeThread).Build(func(b *jfr.FieldValueBuilder) {
		b.Put("nickname", "x")
	})
	assert.ErrorIs(t, err, jfr.ErrUnknownField)

	var be *jfr.BuildError
	require.True(t, errors.As(err, &be))
	assert.Equal(t, jfr.TypeThread, be.Type)
	assert.Equal(t, "nickname", be.Path)
}

func TestBuild_ErrorPathThroughArrays(t *testing.T) {
	w := newWriter(t)
	_, event := registerSampleTypes(t, w)

	_, err := event.Build(func(b *jfr.FieldValueBuilder) {
		b.Put("startTime", 1).
			Put("stackTrace", func(st *jfr.FieldValueBuilder) {
				st.PutArray("frames",
					frame("main", "()V", 1, "Interpreted"),
					func(f *jfr.FieldValueBuilder) {
						f.Put("method", func(m *jfr.FieldValueBuilder) {
							m.Put("name", 42)
						})
					})
			})
	})
	assert.ErrorIs(t, err, jfr.ErrTypeMismatch)

	var be *jfr.BuildError
	require.True(t, errors.As(err, &be))
	assert.Equal(t, "com.example.SampleEvent", be.Type)
	assert.Equal(t, "stackTrace.frames[1].method.name", be.Path)
	assert.Contains(t, err.Error(), "stackTrace.frames[1].method.name")
}

func TestBuild_ArrayShapeEnforced(t *testing.T) {
	r := jfr.NewRegistry()
	st := mustType(t, r, jfr.TypeStackTrace)

	_, err := st.Build(func(b *jfr.FieldValueBuilder) {
		b.Put("frames", frame("main", "()V", 1, "Interpreted"))
	})
	assert.ErrorIs(t, err, jfr.ErrTypeMismatch)

	_, err = st.Build(func(b *jfr.FieldValueBuilder) {
		b.PutArray("truncated", true)
	})
	assert.ErrorIs(t, err, jfr.ErrTypeMismatch)

	v, err := st.Build(func(b *jfr.FieldValueBuilder) {
		b.PutArray("frames")
	})
	require.NoError(t, err)
	assert.True(t, v.IsSet("frames"))
	assert.Empty(t, v.Array("frames"))
}

func TestBuild_ErrorsAreSticky(t *testing.T) {
	r := jfr.NewRegistry()
	var first error
	v, err := mustType(t, r, jfr.TypeThread).Build(func(b *jfr.FieldValueBuilder) {
		b.Put("osThreadId", "not a number")
		first = b.Err()
		b.Put("javaName", "ignored")
		b.Put("missing", 1)
	})
	assert.Nil(t, v)
	require.Error(t, first)
	assert.Equal(t, first, err)

	var be *jfr.BuildError
	require.True(t, errors.As(err, &be))
	assert.Equal(t, "osThreadId", be.Path)
}

func TestBuild_NullReferences(t *testing.T) {
	r := jfr.NewRegistry()
	v, err := mustType(t, r, jfr.TypeThreadGroup).Build(func(b *jfr.FieldValueBuilder) {
		b.Put("parent", nil).Put("name", nil)
	})
	require.NoError(t, err)
	assert.True(t, v.Field("parent").IsNull())
	assert.True(t, v.Field("name").IsNull())
}

func TestBuild_UnresolvedFieldType(t *testing.T) {
	r := jfr.NewRegistry()
	holder, err := r.RegisterType("com.example.Holder", func(b *jfr.TypeBuilder) {
		b.AddField("inner", b.Type("com.example.Inner"))
	})
	require.NoError(t, err)

	_, err = holder.Build(func(b *jfr.FieldValueBuilder) {
		b.Put("inner", func(*jfr.FieldValueBuilder) {})
	})
	assert.ErrorIs(t, err, jfr.ErrUnresolvedType)

	_, err = r.RegisterType("com.example.Inner", func(b *jfr.TypeBuilder) {
		b.AddBuiltinField("a", jfr.BuiltinInt).AddBuiltinField("b", jfr.BuiltinInt)
	})
	require.NoError(t, err)

	v, err := holder.Build(func(b *jfr.FieldValueBuilder) {
		b.Put("inner", func(in *jfr.FieldValueBuilder) { in.Put("a", 1) })
	})
	require.NoError(t, err)
	assert.Equal(t, int64(1), v.Field("inner").Field("a").Value())
}

func TestTypedValue_StructuralEquality(t *testing.T) {
	r := jfr.NewRegistry()
	th := mustType(t, r, jfr.TypeThread)

	a, err := th.Build(thread("worker", 1))
	require.NoError(t, err)
	b, err := th.Build(thread("worker", 1))
	require.NoError(t, err)
	c, err := th.Build(thread("worker", 2))
	require.NoError(t, err)

	assert.True(t, a.Equal(b))
	assert.False(t, a.Equal(c))
	assert.False(t, a.Equal(nil))
}

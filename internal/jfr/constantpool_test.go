package jfr_test

import (
	"fmt"
	"sync"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/snehjoshi/flightrec/internal/jfr"
)

func buildThread(t *testing.T, r *jfr.Registry, name string, id int64) *jfr.TypedValue {
	t.Helper()
	v, err := mustType(t, r, jfr.TypeThread).Build(thread(name, id))
	require.NoError(t, err)
	return v
}

func TestConstantPools_DeduplicatesEqualValues(t *testing.T) {
	r := jfr.NewRegistry()
	th := mustType(t, r, jfr.TypeThread)
	pools := jfr.NewConstantPools()

	i1, err := pools.Put(th, buildThread(t, r, "worker", 1))
	require.NoError(t, err)
	i2, err := pools.Put(th, buildThread(t, r, "worker", 1))
	require.NoError(t, err)
	i3, err := pools.Put(th, buildThread(t, r, "other", 2))
	require.NoError(t, err)

	assert.Equal(t, int64(1), i1)
	assert.Equal(t, i1, i2)
	assert.Equal(t, int64(2), i3)

	entries := pools.Entries(th)
	require.Len(t, entries, 2)
	assert.Equal(t, int64(1), entries[0].Index)
	assert.Equal(t, "worker", entries[0].Value.Field("javaName").Value())
	assert.Equal(t, int64(2), entries[1].Index)
}

func TestConstantPools_NullIsIndexZero(t *testing.T) {
	r := jfr.NewRegistry()
	th := mustType(t, r, jfr.TypeThread)
	pools := jfr.NewConstantPools()

	null, err := th.NullValue()
	require.NoError(t, err)
	idx, err := pools.Put(th, null)
	require.NoError(t, err)
	assert.Equal(t, int64(0), idx)
	assert.Empty(t, pools.Entries(th))
	assert.Empty(t, pools.Pools())

	idx, ok := pools.Index(th, null)
	assert.True(t, ok)
	assert.Equal(t, int64(0), idx)
}

func TestConstantPools_RejectsUnpooledTypes(t *testing.T) {
	r := jfr.NewRegistry()
	frame := mustType(t, r, jfr.TypeStackFrame)
	v, err := frame.Build(func(b *jfr.FieldValueBuilder) { b.Put("lineNumber", 1) })
	require.NoError(t, err)

	_, err = jfr.NewConstantPools().Put(frame, v)
	assert.ErrorIs(t, err, jfr.ErrNotPooled)
}

func TestConstantPools_RejectsForeignValue(t *testing.T) {
	r := jfr.NewRegistry()
	_, err := jfr.NewConstantPools().Put(mustType(t, r, jfr.TypeThreadGroup), buildThread(t, r, "worker", 1))
	assert.ErrorIs(t, err, jfr.ErrTypeMismatch)
}

func TestConstantPools_IndexDoesNotInsert(t *testing.T) {
	r := jfr.NewRegistry()
	th := mustType(t, r, jfr.TypeThread)
	pools := jfr.NewConstantPools()

	_, ok := pools.Index(th, buildThread(t, r, "worker", 1))
	assert.False(t, ok)
	assert.Empty(t, pools.Entries(th))
}

func TestConstantPools_PoolsOrderedByTypeID(t *testing.T) {
	r := jfr.NewRegistry()
	pools := jfr.NewConstantPools()

	frameType := mustType(t, r, jfr.TypeFrameType)
	ft, err := frameType.AsValue("Inlined")
	require.NoError(t, err)
	_, err = pools.Put(frameType, ft)
	require.NoError(t, err)
	_, err = pools.Put(mustType(t, r, jfr.TypeThread), buildThread(t, r, "worker", 1))
	require.NoError(t, err)

	ps := pools.Pools()
	require.Len(t, ps, 2)
	assert.Less(t, ps[0].Type().ID(), ps[1].Type().ID())
}

func TestConstantPools_ConcurrentPut(t *testing.T) {
	r := jfr.NewRegistry()
	th := mustType(t, r, jfr.TypeThread)
	pools := jfr.NewConstantPools()

	const distinct = 20
	values := make([]*jfr.TypedValue, distinct)
	for i := range values {
		values[i] = buildThread(t, r, fmt.Sprintf("t-%d", i), int64(i))
	}

	const workers = 8
	got := make([][]int64, workers)
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			got[w] = make([]int64, distinct)
			for i, v := range values {
				idx, err := pools.Put(th, v)
				if err != nil {
					t.Errorf("Put: %v", err)
					return
				}
				got[w][i] = idx
			}
		}(w)
	}
	wg.Wait()

	assert.Len(t, pools.Entries(th), distinct)
	for w := 1; w < workers; w++ {
		assert.Equal(t, got[0], got[w], "worker %d saw different indices", w)
	}
}

func TestConstantPools_PropertyFirstSeenIndices(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	r := jfr.NewRegistry()
	th := mustType(t, r, jfr.TypeThread)

	properties.Property("equal values share the first-seen index", prop.ForAll(
		func(ids []int) bool {
			pools := jfr.NewConstantPools()
			first := make(map[int]int64)
			for _, id := range ids {
				v, err := th.Build(thread(fmt.Sprintf("t-%d", id), int64(id)))
				if err != nil {
					return false
				}
				idx, err := pools.Put(th, v)
				if err != nil {
					return false
				}
				want, seen := first[id]
				if !seen {
					want = int64(len(first) + 1)
					first[id] = want
				}
				if idx != want {
					return false
				}
			}
			entries := pools.Entries(th)
			if len(entries) != len(first) {
				return false
			}
			for i, e := range entries {
				if e.Index != int64(i+1) {
					return false
				}
			}
			return true
		},
		gen.SliceOf(gen.IntRange(0, 10)),
	))

	properties.TestingRun(t)
}

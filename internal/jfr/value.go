package jfr

import (
	"bytes"
	"math"
	"sync"

	"github.com/cespare/xxhash/v2"
)

// TypedValue is an immutable value of a registered type: a primitive
// scalar, a composite with per-field values, or null.
type TypedValue struct {
	typ    *baseType
	null   bool
	scalar any
	fields [][]*TypedValue // by field position; nil when the field was not set

	keyOnce sync.Once
	key     []byte
	hash    uint64
}

// Type returns the value's type.
func (v *TypedValue) Type() Type { return v.typ }

// IsNull reports whether v is the null sentinel.
func (v *TypedValue) IsNull() bool { return v.null }

// Value returns the scalar payload of a primitive value: int64 for integral
// kinds, float32, float64, bool or string. Composites and nulls return nil.
func (v *TypedValue) Value() any { return v.scalar }

// Field returns the value of a non-array field, or nil if it is not set.
func (v *TypedValue) Field(name string) *TypedValue {
	vals := v.lookup(name)
	if len(vals) == 0 {
		return nil
	}
	return vals[0]
}

// Array returns the values of an array field in write order.
func (v *TypedValue) Array(name string) []*TypedValue {
	return v.lookup(name)
}

// IsSet reports whether the named field was written.
func (v *TypedValue) IsSet(name string) bool {
	i, ok := v.typ.fieldIndex[name]
	return ok && i < len(v.fields) && v.fields[i] != nil
}

func (v *TypedValue) lookup(name string) []*TypedValue {
	i, ok := v.typ.fieldIndex[name]
	if !ok || i >= len(v.fields) {
		return nil
	}
	return v.fields[i]
}

// Equal reports structural equality: same type and recursively equal
// scalars and field values.
func (v *TypedValue) Equal(o *TypedValue) bool {
	if v == o {
		return true
	}
	if v == nil || o == nil {
		return false
	}
	k1, h1 := v.canonical()
	k2, h2 := o.canonical()
	return h1 == h2 && bytes.Equal(k1, k2)
}

// canonical returns the structural key of the value and its hash. Both are
// computed once; the value never changes after construction.
func (v *TypedValue) canonical() ([]byte, uint64) {
	v.keyOnce.Do(func() {
		v.key = v.appendKey(nil)
		v.hash = xxhash.Sum64(v.key)
	})
	return v.key, v.hash
}

func (v *TypedValue) appendKey(dst []byte) []byte {
	dst = appendVarint(dst, uint64(v.typ.id))
	switch {
	case v.null:
		return append(dst, 0)
	case v.typ.builtin != BuiltinNone:
		return appendScalarKey(append(dst, 1), v.scalar)
	}
	dst = append(dst, 2)
	for _, vals := range v.fields {
		if vals == nil {
			dst = append(dst, 0)
			continue
		}
		dst = append(dst, 1)
		dst = appendVarint(dst, uint64(len(vals)))
		for _, c := range vals {
			k, _ := c.canonical()
			dst = appendVarint(dst, uint64(len(k)))
			dst = append(dst, k...)
		}
	}
	return dst
}

func appendScalarKey(dst []byte, s any) []byte {
	switch s := s.(type) {
	case int64:
		return appendVarint(append(dst, 'i'), uint64(s))
	case float32:
		return appendVarint(append(dst, 'f'), uint64(math.Float32bits(s)))
	case float64:
		return appendVarint(append(dst, 'd'), math.Float64bits(s))
	case bool:
		if s {
			return append(dst, 'b', 1)
		}
		return append(dst, 'b', 0)
	case string:
		dst = appendVarint(append(dst, 's'), uint64(len(s)))
		return append(dst, s...)
	}
	return append(dst, '?')
}

package jfr

import (
	"fmt"
	"math"
)

// Type describes one registered type: a builtin primitive, a composite
// (optionally pooled) type or an event type.
//
// Metadata accessors on an unresolved *ResolvableType panic with an
// *UnresolvedError. Value-producing methods return that error instead.
type Type interface {
	ID() int64
	Name() string
	IsBuiltin() bool
	IsSimple() bool
	IsEvent() bool
	Supertype() string
	HasConstantPool() bool
	Fields() []*TypedField
	Field(name string) *TypedField
	Annotations() []Annotation

	// CanAccept reports whether v can be turned into a value of this type
	// by AsValue.
	CanAccept(v any) bool

	// AsValue converts v into a value of this type. v may be a Go scalar,
	// an existing *TypedValue of the same type, a func(*FieldValueBuilder)
	// or nil for the null value.
	AsValue(v any) (*TypedValue, error)

	// Build constructs a composite value through a field builder.
	Build(fn func(*FieldValueBuilder)) (*TypedValue, error)

	// NullValue returns the null sentinel for reference-typed fields.
	NullValue() (*TypedValue, error)

	IsSame(other Type) bool
	Resolved() bool
}

// Builtin enumerates the primitive types every registry predefines.
type Builtin int

const (
	BuiltinNone Builtin = iota
	BuiltinBoolean
	BuiltinChar
	BuiltinFloat
	BuiltinDouble
	BuiltinByte
	BuiltinShort
	BuiltinInt
	BuiltinLong
	BuiltinString
)

var builtinNames = [...]string{
	BuiltinBoolean: "boolean",
	BuiltinChar:    "char",
	BuiltinFloat:   "float",
	BuiltinDouble:  "double",
	BuiltinByte:    "byte",
	BuiltinShort:   "short",
	BuiltinInt:     "int",
	BuiltinLong:    "long",
	BuiltinString:  "java.lang.String",
}

// TypeName returns the registered name of the builtin.
func (b Builtin) TypeName() string {
	if b <= BuiltinNone || int(b) >= len(builtinNames) {
		return ""
	}
	return builtinNames[b]
}

func (b Builtin) String() string { return b.TypeName() }

// TypedField is one declared field of a composite type.
type TypedField struct {
	Name        string
	Type        Type
	Array       bool
	Annotations []Annotation
}

// Annotation attaches an annotation type and an optional value to a type
// or a field. It is emitted into the chunk metadata only.
type Annotation struct {
	Type  Type
	Value string
}

// FieldOption customizes a field declared through TypeBuilder.AddField.
type FieldOption func(*TypedField)

// Array declares the field as holding zero or more values.
func Array() FieldOption {
	return func(f *TypedField) { f.Array = true }
}

// WithAnnotation attaches an annotation to the field.
func WithAnnotation(t Type, value string) FieldOption {
	return func(f *TypedField) {
		f.Annotations = append(f.Annotations, Annotation{Type: t, Value: value})
	}
}

// typeName returns a printable name for t without tripping the unresolved
// check on proxies.
func typeName(t Type) string {
	switch t := t.(type) {
	case nil:
		return "<nil>"
	case *ResolvableType:
		return t.name
	default:
		return t.Name()
	}
}

// concrete returns the registered definition behind t, resolving proxies on
// the way.
func concrete(t Type) (*baseType, error) {
	switch t := t.(type) {
	case *baseType:
		return t, nil
	case *ResolvableType:
		if !t.Resolve() {
			return nil, &UnresolvedError{Name: t.name}
		}
		return t.delegate.Load(), nil
	default:
		return nil, fmt.Errorf("%w: foreign type %T", ErrTypeMismatch, t)
	}
}

func mismatch(v any, t Type) error {
	return fmt.Errorf("%w: %T for %s", ErrTypeMismatch, v, typeName(t))
}

// ---- scalar coercion -------------------------------------------------------

// coerce converts v into the storage form of a builtin: int64 for every
// integral kind, float32, float64, bool or string. Integral values are
// accepted from any Go integer type as long as they fit the target range.
func coerce(kind Builtin, v any) (any, bool) {
	switch kind {
	case BuiltinBoolean:
		b, ok := v.(bool)
		return b, ok
	case BuiltinString:
		s, ok := v.(string)
		return s, ok
	case BuiltinFloat:
		f, ok := v.(float32)
		return f, ok
	case BuiltinDouble:
		switch f := v.(type) {
		case float64:
			return f, true
		case float32:
			return float64(f), true
		}
		return nil, false
	}

	n, ok := toInt64(v)
	if !ok {
		return nil, false
	}
	var lo, hi int64
	switch kind {
	case BuiltinByte:
		lo, hi = math.MinInt8, math.MaxInt8
	case BuiltinChar:
		lo, hi = 0, math.MaxUint16
	case BuiltinShort:
		lo, hi = math.MinInt16, math.MaxInt16
	case BuiltinInt:
		lo, hi = math.MinInt32, math.MaxInt32
	case BuiltinLong:
		lo, hi = math.MinInt64, math.MaxInt64
	default:
		return nil, false
	}
	if n < lo || n > hi {
		return nil, false
	}
	return n, true
}

func toInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case int:
		return int64(n), true
	case int8:
		return int64(n), true
	case int16:
		return int64(n), true
	case int32:
		return int64(n), true
	case int64:
		return n, true
	case uint:
		if uint64(n) > math.MaxInt64 {
			return 0, false
		}
		return int64(n), true
	case uint8:
		return int64(n), true
	case uint16:
		return int64(n), true
	case uint32:
		return int64(n), true
	case uint64:
		if n > math.MaxInt64 {
			return 0, false
		}
		return int64(n), true
	case uintptr:
		if uint64(n) > math.MaxInt64 {
			return 0, false
		}
		return int64(n), true
	}
	return 0, false
}

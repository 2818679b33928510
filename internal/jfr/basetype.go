package jfr

import "fmt"

// baseType is a registered type definition. It is immutable once stored in
// the registry; field types may still be proxies that resolve later.
type baseType struct {
	id          int64
	name        string
	supertype   string
	builtin     Builtin
	pooled      bool
	event       bool
	fields      []*TypedField
	fieldIndex  map[string]int
	annotations []Annotation
}

func (t *baseType) ID() int64                 { return t.id }
func (t *baseType) Name() string              { return t.name }
func (t *baseType) IsBuiltin() bool           { return t.builtin != BuiltinNone }
func (t *baseType) IsEvent() bool             { return t.event }
func (t *baseType) Supertype() string         { return t.supertype }
func (t *baseType) HasConstantPool() bool     { return t.pooled }
func (t *baseType) Fields() []*TypedField     { return t.fields }
func (t *baseType) Annotations() []Annotation { return t.annotations }
func (t *baseType) Resolved() bool            { return true }

// IsSimple reports whether the type is a plain wrapper around exactly one
// non-array field. Scalars written to a simple type wrap into that field.
func (t *baseType) IsSimple() bool {
	return t.builtin == BuiltinNone && !t.event && t.supertype == "" &&
		len(t.fields) == 1 && !t.fields[0].Array
}

func (t *baseType) Field(name string) *TypedField {
	i, ok := t.fieldIndex[name]
	if !ok {
		return nil
	}
	return t.fields[i]
}

func (t *baseType) IsSame(other Type) bool {
	switch o := other.(type) {
	case *baseType:
		return t == o
	case *ResolvableType:
		d := o.delegate.Load()
		return d != nil && d == t
	}
	return false
}

func (t *baseType) CanAccept(v any) bool {
	switch v := v.(type) {
	case nil:
		return t.nullable()
	case *TypedValue:
		if v == nil {
			return t.nullable()
		}
		return t.IsSame(v.typ)
	case func(*FieldValueBuilder):
		return t.builtin == BuiltinNone
	}
	if t.builtin != BuiltinNone {
		_, ok := coerce(t.builtin, v)
		return ok
	}
	if t.IsSimple() {
		ft, err := concrete(t.fields[0].Type)
		return err == nil && ft.CanAccept(v)
	}
	return false
}

func (t *baseType) AsValue(v any) (*TypedValue, error) {
	switch v := v.(type) {
	case nil:
		return t.NullValue()
	case *TypedValue:
		if v == nil {
			return t.NullValue()
		}
		if !t.IsSame(v.typ) {
			return nil, fmt.Errorf("%w: %s value for %s", ErrTypeMismatch, v.typ.name, t.name)
		}
		return v, nil
	case func(*FieldValueBuilder):
		return t.Build(v)
	}
	if t.builtin != BuiltinNone {
		s, ok := coerce(t.builtin, v)
		if !ok {
			return nil, mismatch(v, t)
		}
		return &TypedValue{typ: t, scalar: s}, nil
	}
	if t.IsSimple() {
		name := t.fields[0].Name
		return t.Build(func(b *FieldValueBuilder) { b.Put(name, v) })
	}
	return nil, mismatch(v, t)
}

func (t *baseType) Build(fn func(*FieldValueBuilder)) (*TypedValue, error) {
	if t.builtin != BuiltinNone {
		return nil, mismatch(fn, t)
	}
	ctx := &buildContext{root: t.name}
	b := newFieldValueBuilder(t, ctx)
	if fn != nil {
		fn(b)
	}
	if ctx.err != nil {
		return nil, ctx.err
	}
	return b.value(), nil
}

func (t *baseType) NullValue() (*TypedValue, error) {
	if !t.nullable() {
		return nil, mismatch(nil, t)
	}
	return &TypedValue{typ: t, null: true}, nil
}

// nullable reports whether the type has a null representation on the wire.
// Numeric and boolean primitives do not.
func (t *baseType) nullable() bool {
	return t.builtin == BuiltinNone || t.builtin == BuiltinString
}

func (t *baseType) String() string { return t.name }

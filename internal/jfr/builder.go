package jfr

import (
	"fmt"
	"strings"
)

// FieldValueBuilder collects the field values of one composite value under
// construction. Nested builders share a context holding the current field
// path and the first error, so a failure deep inside a value is reported
// with its full location and every later write is skipped.
type FieldValueBuilder struct {
	typ    *baseType
	values [][]*TypedValue
	ctx    *buildContext
}

type buildContext struct {
	root string
	path []string
	err  *BuildError
}

func newFieldValueBuilder(t *baseType, ctx *buildContext) *FieldValueBuilder {
	return &FieldValueBuilder{
		typ:    t,
		values: make([][]*TypedValue, len(t.fields)),
		ctx:    ctx,
	}
}

// Type returns the type being built.
func (b *FieldValueBuilder) Type() Type { return b.typ }

// Err returns the first error recorded by the build, if any.
func (b *FieldValueBuilder) Err() error {
	if b.ctx.err == nil {
		return nil
	}
	return b.ctx.err
}

// Put sets a non-array field. v may be a scalar, a *TypedValue of the
// field's type, a func(*FieldValueBuilder) building a nested value, or nil.
// A later Put of the same field replaces the earlier one.
func (b *FieldValueBuilder) Put(name string, v any) *FieldValueBuilder {
	if b.ctx.err != nil {
		return b
	}
	i, f, ok := b.field(name)
	if !ok {
		return b
	}
	if f.Array {
		b.fail(name, fmt.Errorf("%w: field %s is an array", ErrTypeMismatch, name))
		return b
	}
	tv, err := b.convert(f.Type, name, v)
	if err != nil {
		b.fail(name, err)
		return b
	}
	b.values[i] = []*TypedValue{tv}
	return b
}

// PutArray sets an array field to vs, in order. Each element follows the
// rules of Put.
func (b *FieldValueBuilder) PutArray(name string, vs ...any) *FieldValueBuilder {
	if b.ctx.err != nil {
		return b
	}
	i, f, ok := b.field(name)
	if !ok {
		return b
	}
	if !f.Array {
		b.fail(name, fmt.Errorf("%w: field %s is not an array", ErrTypeMismatch, name))
		return b
	}
	out := make([]*TypedValue, 0, len(vs))
	for j, v := range vs {
		seg := fmt.Sprintf("%s[%d]", name, j)
		tv, err := b.convert(f.Type, seg, v)
		if err != nil {
			b.fail(seg, err)
			return b
		}
		out = append(out, tv)
	}
	b.values[i] = out
	return b
}

func (b *FieldValueBuilder) field(name string) (int, *TypedField, bool) {
	i, ok := b.typ.fieldIndex[name]
	if !ok {
		b.fail(name, fmt.Errorf("%w: %s.%s", ErrUnknownField, b.typ.name, name))
		return 0, nil, false
	}
	return i, b.typ.fields[i], true
}

// convert turns v into a value of the field type ft. seg is the path
// segment of the field being written.
func (b *FieldValueBuilder) convert(ft Type, seg string, v any) (*TypedValue, error) {
	ct, err := concrete(ft)
	if err != nil {
		return nil, err
	}
	switch fn := v.(type) {
	case func(*FieldValueBuilder):
		if ct.builtin != BuiltinNone {
			return nil, mismatch(v, ct)
		}
		return b.nested(ct, seg, fn)
	case nil, *TypedValue:
		return ct.AsValue(v)
	}
	if ct.builtin == BuiltinNone && ct.IsSimple() {
		name := ct.fields[0].Name
		return b.nested(ct, seg, func(nb *FieldValueBuilder) { nb.Put(name, v) })
	}
	return ct.AsValue(v)
}

// nested builds a child value on the shared context. A failure inside the
// child is already recorded with its full path and is returned as is.
func (b *FieldValueBuilder) nested(t *baseType, seg string, fn func(*FieldValueBuilder)) (*TypedValue, error) {
	b.ctx.path = append(b.ctx.path, seg)
	child := newFieldValueBuilder(t, b.ctx)
	fn(child)
	b.ctx.path = b.ctx.path[:len(b.ctx.path)-1]
	if b.ctx.err != nil {
		return nil, b.ctx.err
	}
	return child.value(), nil
}

func (b *FieldValueBuilder) fail(seg string, err error) {
	if b.ctx.err != nil {
		return
	}
	path := append(append([]string(nil), b.ctx.path...), seg)
	b.ctx.err = &BuildError{Type: b.ctx.root, Path: strings.Join(path, "."), Err: err}
}

// value freezes the collected fields into a TypedValue. Later writes on the
// builder replace slots of its own slice and do not reach the returned value.
func (b *FieldValueBuilder) value() *TypedValue {
	fields := make([][]*TypedValue, len(b.values))
	copy(fields, b.values)
	return &TypedValue{typ: b.typ, fields: fields}
}

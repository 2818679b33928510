package jfr

import "sync/atomic"

// ResolvableType is a placeholder for a type referenced by name before it is
// registered. It binds to the registered definition exactly once; the first
// successful Resolve wins and every later call observes the same delegate.
//
// Until bound, metadata accessors panic with *UnresolvedError and the value
// producing methods return it.
type ResolvableType struct {
	name     string
	reg      *Registry
	delegate atomic.Pointer[baseType]
}

var _ Type = (*ResolvableType)(nil)

func newResolvableType(name string, reg *Registry) *ResolvableType {
	return &ResolvableType{name: name, reg: reg}
}

// Resolve binds the proxy if its type has been registered since it was
// created. It reports whether the proxy is bound.
func (t *ResolvableType) Resolve() bool {
	if t.delegate.Load() != nil {
		return true
	}
	bt := t.reg.lookup(t.name)
	if bt == nil {
		return false
	}
	t.delegate.CompareAndSwap(nil, bt)
	return true
}

func (t *ResolvableType) Resolved() bool { return t.delegate.Load() != nil }

func (t *ResolvableType) get() *baseType {
	d := t.delegate.Load()
	if d == nil {
		panic(&UnresolvedError{Name: t.name})
	}
	return d
}

func (t *ResolvableType) ID() int64                     { return t.get().ID() }
func (t *ResolvableType) Name() string                  { return t.get().Name() }
func (t *ResolvableType) IsBuiltin() bool               { return t.get().IsBuiltin() }
func (t *ResolvableType) IsSimple() bool                { return t.get().IsSimple() }
func (t *ResolvableType) IsEvent() bool                 { return t.get().IsEvent() }
func (t *ResolvableType) Supertype() string             { return t.get().Supertype() }
func (t *ResolvableType) HasConstantPool() bool         { return t.get().HasConstantPool() }
func (t *ResolvableType) Fields() []*TypedField         { return t.get().Fields() }
func (t *ResolvableType) Field(name string) *TypedField { return t.get().Field(name) }
func (t *ResolvableType) Annotations() []Annotation     { return t.get().Annotations() }
func (t *ResolvableType) CanAccept(v any) bool          { return t.get().CanAccept(v) }
func (t *ResolvableType) IsSame(other Type) bool        { return t.get().IsSame(other) }

func (t *ResolvableType) AsValue(v any) (*TypedValue, error) {
	d := t.delegate.Load()
	if d == nil {
		return nil, &UnresolvedError{Name: t.name}
	}
	return d.AsValue(v)
}

func (t *ResolvableType) Build(fn func(*FieldValueBuilder)) (*TypedValue, error) {
	d := t.delegate.Load()
	if d == nil {
		return nil, &UnresolvedError{Name: t.name}
	}
	return d.Build(fn)
}

func (t *ResolvableType) NullValue() (*TypedValue, error) {
	d := t.delegate.Load()
	if d == nil {
		return nil, &UnresolvedError{Name: t.name}
	}
	return d.NullValue()
}

func (t *ResolvableType) String() string { return t.name }

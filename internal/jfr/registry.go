package jfr

import (
	"errors"
	"fmt"
	"sort"
	"sync"
)

// firstTypeID is the id of the first registered type. Ids 0 and 1 belong to
// the metadata and checkpoint sections.
const firstTypeID = 2

// eventSupertype is the supertype of every event type.
const eventSupertype = "jdk.jfr.Event"

// Registry owns the type definitions of a writer session. It is shared by
// every chunk the session produces and is safe for concurrent use:
// registration and proxy creation take the write lock, lookups the read lock.
type Registry struct {
	mu      sync.RWMutex
	byName  map[string]*baseType
	ordered []*baseType
	pending map[string][]*ResolvableType
	nextID  int64
}

// NewRegistry returns a registry with the builtin primitives, the annotation
// types and the JDK types used by stack traces and threads.
func NewRegistry() *Registry {
	r := &Registry{
		byName:  make(map[string]*baseType),
		pending: make(map[string][]*ResolvableType),
		nextID:  firstTypeID,
	}
	for b := BuiltinBoolean; b <= BuiltinString; b++ {
		r.store(&baseType{name: b.TypeName(), builtin: b})
	}
	registerJDKTypes(r)
	return r
}

// RegisterType declares a composite type. Types are pooled unless the
// builder opts out. fn runs without the registry lock held, so it may look up
// other types, including ones not yet registered.
func (r *Registry) RegisterType(name string, fn func(*TypeBuilder)) (Type, error) {
	return r.register(name, false, fn)
}

// RegisterEventType declares an event type. The fields startTime,
// eventThread and stackTrace are declared ahead of the caller's fields.
func (r *Registry) RegisterEventType(name string, fn func(*TypeBuilder)) (Type, error) {
	return r.register(name, true, fn)
}

func (r *Registry) register(name string, event bool, fn func(*TypeBuilder)) (Type, error) {
	if name == "" {
		return nil, errors.New("jfr: type name must not be empty")
	}
	if r.lookup(name) != nil {
		return nil, fmt.Errorf("%w: %s", ErrDuplicateType, name)
	}

	b := newTypeBuilder(r, name)
	if event {
		b.supertype = eventSupertype
		b.pooled = false
		b.AddField(FieldStartTime, b.Builtin(BuiltinLong),
			WithAnnotation(b.Type(TypeTimestamp), TimestampTicks))
		b.AddField(FieldEventThread, b.Type(TypeThread))
		b.AddField(FieldStackTrace, b.Type(TypeStackTrace))
	}
	if fn != nil {
		fn(b)
	}
	if b.err != nil {
		return nil, fmt.Errorf("jfr: register %s: %w", name, b.err)
	}

	bt := &baseType{
		name:        name,
		supertype:   b.supertype,
		pooled:      b.pooled,
		event:       event,
		fields:      b.fields,
		annotations: b.annotations,
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, dup := r.byName[name]; dup {
		return nil, fmt.Errorf("%w: %s", ErrDuplicateType, name)
	}
	r.storeLocked(bt)
	r.publishLocked(b.proxies)
	return bt, nil
}

// publishLocked adopts the proxies a successful registration created. Those
// naming an already registered type are bound at once; the rest wait for
// ResolveAll.
func (r *Registry) publishLocked(proxies map[string]*ResolvableType) {
	for name, p := range proxies {
		if bt, ok := r.byName[name]; ok {
			p.delegate.CompareAndSwap(nil, bt)
			continue
		}
		r.pending[name] = append(r.pending[name], p)
	}
}

func (r *Registry) store(bt *baseType) {
	r.mu.Lock()
	r.storeLocked(bt)
	r.mu.Unlock()
}

func (r *Registry) storeLocked(bt *baseType) {
	bt.id = r.nextID
	r.nextID++
	bt.fieldIndex = make(map[string]int, len(bt.fields))
	for i, f := range bt.fields {
		bt.fieldIndex[f.Name] = i
	}
	r.byName[bt.name] = bt
	r.ordered = append(r.ordered, bt)
}

// GetType looks up a type by name. A required lookup of an unknown name
// fails with ErrTypeNotFound; otherwise an unresolved proxy is returned and
// bound later by Resolve or ResolveAll. Repeated lookups of the same unknown
// name share one proxy.
func (r *Registry) GetType(name string, required bool) (Type, error) {
	if bt := r.lookup(name); bt != nil {
		return bt, nil
	}
	if required {
		return nil, fmt.Errorf("%w: %s", ErrTypeNotFound, name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if bt, ok := r.byName[name]; ok {
		return bt, nil
	}
	if ps := r.pending[name]; len(ps) > 0 {
		return ps[0], nil
	}
	p := newResolvableType(name, r)
	r.pending[name] = []*ResolvableType{p}
	return p, nil
}

// Builtin returns the predefined primitive type.
func (r *Registry) Builtin(b Builtin) Type {
	bt := r.lookup(b.TypeName())
	if bt == nil {
		panic(fmt.Sprintf("jfr: unknown builtin %d", int(b)))
	}
	return bt
}

// ResolveAll binds every outstanding proxy whose type is now registered and
// returns the names of those still unresolved, sorted.
func (r *Registry) ResolveAll() []string {
	r.mu.RLock()
	names := make([]string, 0, len(r.pending))
	var proxies [][]*ResolvableType
	for name, ps := range r.pending {
		names = append(names, name)
		proxies = append(proxies, append([]*ResolvableType(nil), ps...))
	}
	r.mu.RUnlock()

	var unresolved []string
	var bound []string
	for i, ps := range proxies {
		ok := true
		for _, p := range ps {
			ok = p.Resolve() && ok
		}
		if ok {
			bound = append(bound, names[i])
		} else {
			unresolved = append(unresolved, names[i])
		}
	}

	if len(bound) > 0 {
		r.mu.Lock()
		for _, name := range bound {
			delete(r.pending, name)
		}
		r.mu.Unlock()
	}
	sort.Strings(unresolved)
	return unresolved
}

// Types returns every registered type in id order.
func (r *Registry) Types() []Type {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Type, len(r.ordered))
	for i, bt := range r.ordered {
		out[i] = bt
	}
	return out
}

// Len returns the number of registered types.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.ordered)
}

func (r *Registry) lookup(name string) *baseType {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.byName[name]
}

func (r *Registry) snapshot() []*baseType {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]*baseType(nil), r.ordered...)
}

// ---- type builder -------------------------------------------------------------

// TypeBuilder declares the fields and attributes of a type being registered.
// Errors are sticky and reported by the registration call.
type TypeBuilder struct {
	reg         *Registry
	name        string
	supertype   string
	pooled      bool
	fields      []*TypedField
	annotations []Annotation
	err         error

	// proxies holds placeholders this builder created. They reach the
	// registry only if the registration succeeds.
	proxies map[string]*ResolvableType
}

func newTypeBuilder(r *Registry, name string) *TypeBuilder {
	return &TypeBuilder{reg: r, name: name, pooled: true, proxies: make(map[string]*ResolvableType)}
}

// Name returns the name of the type being declared.
func (b *TypeBuilder) Name() string { return b.name }

// AddField appends a field. Field names must be unique within the type.
func (b *TypeBuilder) AddField(name string, t Type, opts ...FieldOption) *TypeBuilder {
	if b.err != nil {
		return b
	}
	if name == "" || t == nil {
		b.err = fmt.Errorf("%w: field %q has no name or type", ErrTypeMismatch, name)
		return b
	}
	for _, f := range b.fields {
		if f.Name == name {
			b.err = fmt.Errorf("%w: %s", ErrDuplicateField, name)
			return b
		}
	}
	f := &TypedField{Name: name, Type: t}
	for _, opt := range opts {
		opt(f)
	}
	b.fields = append(b.fields, f)
	return b
}

// AddBuiltinField is AddField with a predefined primitive type.
func (b *TypeBuilder) AddBuiltinField(name string, bt Builtin, opts ...FieldOption) *TypeBuilder {
	return b.AddField(name, b.Builtin(bt), opts...)
}

// Type looks up a type by name, returning a proxy if it is not registered
// yet. A type may reference itself this way. Proxies created here are
// discarded when the registration fails.
func (b *TypeBuilder) Type(name string) Type {
	if p, ok := b.proxies[name]; ok {
		return p
	}
	r := b.reg
	r.mu.RLock()
	bt := r.byName[name]
	ps := r.pending[name]
	r.mu.RUnlock()
	if bt != nil {
		return bt
	}
	if len(ps) > 0 {
		return ps[0]
	}
	p := newResolvableType(name, r)
	b.proxies[name] = p
	return p
}

// Builtin returns a predefined primitive type.
func (b *TypeBuilder) Builtin(bt Builtin) Type { return b.reg.Builtin(bt) }

// AddAnnotation annotates the type itself.
func (b *TypeBuilder) AddAnnotation(t Type, value string) *TypeBuilder {
	b.annotations = append(b.annotations, Annotation{Type: t, Value: value})
	return b
}

// Supertype sets the supertype name written to the metadata.
func (b *TypeBuilder) Supertype(name string) *TypeBuilder {
	b.supertype = name
	return b
}

// WithoutConstantPool makes values of the type inline wherever they are
// used instead of referenced through a constant pool.
func (b *TypeBuilder) WithoutConstantPool() *TypeBuilder {
	b.pooled = false
	return b
}

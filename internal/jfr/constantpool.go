package jfr

import (
	"fmt"
	"sort"
	"sync"
)

// PoolEntry is one value of a constant pool with its on-disk index.
type PoolEntry struct {
	Index int64
	Value *TypedValue
}

// ConstantPool deduplicates the values of one pooled type. Indices are
// assigned in first-seen order starting at 1; 0 encodes the null reference.
type ConstantPool struct {
	typ *baseType

	mu      sync.Mutex
	byHash  map[uint64][]int
	entries []*TypedValue
}

func newConstantPool(t *baseType) *ConstantPool {
	return &ConstantPool{typ: t, byHash: make(map[uint64][]int)}
}

// Type returns the pooled type.
func (p *ConstantPool) Type() Type { return p.typ }

// Put returns the index of a value structurally equal to v, adding v if
// there is none.
func (p *ConstantPool) Put(v *TypedValue) int64 {
	key, h := v.canonical()
	p.mu.Lock()
	defer p.mu.Unlock()
	if i, ok := p.findLocked(key, h); ok {
		return int64(i) + 1
	}
	p.entries = append(p.entries, v)
	i := len(p.entries) - 1
	p.byHash[h] = append(p.byHash[h], i)
	return int64(i) + 1
}

// Index returns the index of a value equal to v without adding it.
func (p *ConstantPool) Index(v *TypedValue) (int64, bool) {
	key, h := v.canonical()
	p.mu.Lock()
	defer p.mu.Unlock()
	i, ok := p.findLocked(key, h)
	if !ok {
		return 0, false
	}
	return int64(i) + 1, true
}

func (p *ConstantPool) findLocked(key []byte, h uint64) (int, bool) {
	for _, i := range p.byHash[h] {
		k, _ := p.entries[i].canonical()
		if string(k) == string(key) {
			return i, true
		}
	}
	return 0, false
}

// Entries returns the pool contents in index order.
func (p *ConstantPool) Entries() []PoolEntry {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]PoolEntry, len(p.entries))
	for i, v := range p.entries {
		out[i] = PoolEntry{Index: int64(i) + 1, Value: v}
	}
	return out
}

// Len returns the number of distinct values in the pool.
func (p *ConstantPool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.entries)
}

// ConstantPools holds the pools of one chunk, keyed by type id.
type ConstantPools struct {
	mu    sync.Mutex
	pools map[int64]*ConstantPool
}

// NewConstantPools returns an empty pool set.
func NewConstantPools() *ConstantPools {
	return &ConstantPools{pools: make(map[int64]*ConstantPool)}
}

// Put adds v to the pool of t and returns its index. The null value maps
// to index 0 and is never stored.
func (ps *ConstantPools) Put(t Type, v *TypedValue) (int64, error) {
	p, err := ps.pool(t, true)
	if err != nil {
		return 0, err
	}
	if v == nil || v.null {
		return 0, nil
	}
	if v.typ != p.typ {
		return 0, fmt.Errorf("%w: %s value in %s pool", ErrTypeMismatch, v.typ.name, p.typ.name)
	}
	return p.Put(v), nil
}

// Index returns the index previously assigned to a value equal to v.
func (ps *ConstantPools) Index(t Type, v *TypedValue) (int64, bool) {
	if v == nil || v.null {
		return 0, true
	}
	p, err := ps.pool(t, false)
	if err != nil || p == nil {
		return 0, false
	}
	return p.Index(v)
}

// Entries returns the entries of t's pool in index order.
func (ps *ConstantPools) Entries(t Type) []PoolEntry {
	p, err := ps.pool(t, false)
	if err != nil || p == nil {
		return nil
	}
	return p.Entries()
}

// Pools returns the non-empty pools ordered by type id.
func (ps *ConstantPools) Pools() []*ConstantPool {
	ps.mu.Lock()
	out := make([]*ConstantPool, 0, len(ps.pools))
	for _, p := range ps.pools {
		out = append(out, p)
	}
	ps.mu.Unlock()

	n := 0
	for _, p := range out {
		if p.Len() > 0 {
			out[n] = p
			n++
		}
	}
	out = out[:n]
	sort.Slice(out, func(i, j int) bool { return out[i].typ.id < out[j].typ.id })
	return out
}

func (ps *ConstantPools) pool(t Type, create bool) (*ConstantPool, error) {
	bt, err := concrete(t)
	if err != nil {
		return nil, err
	}
	if !bt.pooled {
		return nil, fmt.Errorf("%w: %s", ErrNotPooled, bt.name)
	}
	ps.mu.Lock()
	defer ps.mu.Unlock()
	p, ok := ps.pools[bt.id]
	if !ok && create {
		p = newConstantPool(bt)
		ps.pools[bt.id] = p
	}
	return p, nil
}

// putReferences walks v and adds every non-null pooled value it references
// to its pool, innermost values first. v itself is not added.
func (ps *ConstantPools) putReferences(v *TypedValue) error {
	return ps.walk(v, 0)
}

// maxValueDepth bounds the nesting of values walked or encoded.
const maxValueDepth = 64

func (ps *ConstantPools) walk(v *TypedValue, depth int) error {
	if v == nil || v.null || v.typ.builtin != BuiltinNone {
		return nil
	}
	if depth > maxValueDepth {
		return fmt.Errorf("jfr: value nesting deeper than %d", maxValueDepth)
	}
	for _, vals := range v.fields {
		for _, c := range vals {
			if c == nil || c.null {
				continue
			}
			if err := ps.walk(c, depth+1); err != nil {
				return err
			}
			if c.typ.pooled {
				if _, err := ps.Put(c.typ, c); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

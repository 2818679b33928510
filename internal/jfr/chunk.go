package jfr

import (
	"encoding/binary"
	"fmt"
	"sync"
	"time"
)

// Chunk header layout.
const (
	HeaderSize                  = 68
	MajorVersion                = 2
	MinorVersion                = 0
	ticksPerSecond              = int64(time.Second)
	featureCompressedInts int32 = 1
)

// Magic is the 4-byte chunk identifier.
var Magic = [4]byte{'F', 'L', 'R', 0}

// ChunkState is the lifecycle state of a chunk.
type ChunkState int

const (
	ChunkOpen ChunkState = iota
	ChunkFinalizing
	ChunkSerialized
)

func (s ChunkState) String() string {
	switch s {
	case ChunkOpen:
		return "open"
	case ChunkFinalizing:
		return "finalizing"
	case ChunkSerialized:
		return "serialized"
	}
	return fmt.Sprintf("ChunkState(%d)", int(s))
}

// Chunk buffers events and serializes them with the session's types and
// its own constant pools. A chunk is written once: after a successful Dump
// it rejects further events. Events may be written concurrently.
type Chunk struct {
	types *Registry
	pools *ConstantPools
	clock func() time.Time
	start time.Time

	mu     sync.Mutex
	state  ChunkState
	events []*TypedValue
}

func newChunk(types *Registry, clock func() time.Time) *Chunk {
	return &Chunk{
		types: types,
		pools: NewConstantPools(),
		clock: clock,
		start: clock(),
	}
}

// WriteEvent buffers an event. The value must be of an event type and have
// its start time set. Every pooled value it references is added to the
// chunk's constant pools.
func (c *Chunk) WriteEvent(v *TypedValue) error {
	if v == nil || v.null {
		return fmt.Errorf("%w: nil event", ErrTypeMismatch)
	}
	if !v.typ.event {
		return fmt.Errorf("%w: %s", ErrNotEvent, v.typ.name)
	}
	if st := v.Field(FieldStartTime); st == nil || st.null {
		return fmt.Errorf("%w: %s.%s", ErrMissingField, v.typ.name, FieldStartTime)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != ChunkOpen {
		return fmt.Errorf("%w: %s", ErrChunkState, c.state)
	}
	if err := c.pools.putReferences(v); err != nil {
		return err
	}
	c.events = append(c.events, v)
	return nil
}

// State returns the current lifecycle state.
func (c *Chunk) State() ChunkState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Len returns the number of buffered events.
func (c *Chunk) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.events)
}

// Pools exposes the chunk's constant pools.
func (c *Chunk) Pools() *ConstantPools { return c.pools }

// Start returns the time the chunk was opened.
func (c *Chunk) Start() time.Time { return c.start }

// Dump serializes the chunk: header, metadata, constant pools, then events
// in write order. It fails without output if a referenced type was never
// declared, leaving the chunk open so the caller may register it and retry.
func (c *Chunk) Dump() ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != ChunkOpen {
		return nil, fmt.Errorf("%w: %s", ErrChunkState, c.state)
	}
	c.state = ChunkFinalizing

	data, err := c.serialize()
	if err != nil {
		c.state = ChunkOpen
		return nil, err
	}
	c.state = ChunkSerialized
	return data, nil
}

func (c *Chunk) serialize() ([]byte, error) {
	if missing := c.types.ResolveAll(); len(missing) > 0 {
		return nil, unresolvedAtFinalize(missing)
	}
	end := c.clock()
	startTicks := c.start.UnixNano()
	duration := end.Sub(c.start).Nanoseconds()
	if duration < 0 {
		duration = 0
	}

	var events []byte
	for _, ev := range c.events {
		w := &lebWriter{}
		w.writeVarint(uint64(ev.typ.id))
		if err := c.writeFields(w, ev.typ, ev, 0); err != nil {
			return nil, fmt.Errorf("jfr: encode %s event: %w", ev.typ.name, err)
		}
		events = appendSized(events, w.buf)
	}

	checkpoint, err := c.encodeCheckpoint(startTicks, duration)
	if err != nil {
		return nil, err
	}
	metadata, err := encodeMetadata(c.types.snapshot(), startTicks, duration)
	if err != nil {
		return nil, err
	}

	total := HeaderSize + len(metadata) + len(checkpoint) + len(events)
	out := make([]byte, HeaderSize, total)
	copy(out[0:4], Magic[:])
	binary.BigEndian.PutUint16(out[4:], MajorVersion)
	binary.BigEndian.PutUint16(out[6:], MinorVersion)
	binary.BigEndian.PutUint64(out[8:], uint64(total))
	binary.BigEndian.PutUint64(out[16:], uint64(HeaderSize+len(metadata)))
	binary.BigEndian.PutUint64(out[24:], uint64(HeaderSize))
	binary.BigEndian.PutUint64(out[32:], uint64(startTicks))
	binary.BigEndian.PutUint64(out[40:], uint64(duration))
	binary.BigEndian.PutUint64(out[48:], uint64(startTicks))
	binary.BigEndian.PutUint64(out[56:], uint64(ticksPerSecond))
	binary.BigEndian.PutUint32(out[64:], uint32(featureCompressedInts))
	out = append(out, metadata...)
	out = append(out, checkpoint...)
	out = append(out, events...)
	return out, nil
}

// encodeCheckpoint writes one checkpoint holding every non-empty pool.
func (c *Chunk) encodeCheckpoint(startTicks, duration int64) ([]byte, error) {
	pools := c.pools.Pools()
	w := &lebWriter{}
	w.writeVarint(checkpointTypeID)
	w.writeLong(startTicks)
	w.writeLong(duration)
	w.writeLong(0) // delta to the previous checkpoint
	w.writeByte(1) // flush
	w.writeInt(int32(len(pools)))
	for _, p := range pools {
		entries := p.Entries()
		w.writeLong(p.typ.id)
		w.writeInt(int32(len(entries)))
		for _, e := range entries {
			w.writeLong(e.Index)
			if err := c.writeFields(w, p.typ, e.Value, 0); err != nil {
				return nil, fmt.Errorf("jfr: encode %s pool: %w", p.typ.name, err)
			}
		}
	}
	return appendSized(nil, w.buf), nil
}

// writeFields writes every declared field of t in order. v may be nil, in
// which case all fields take their defaults.
func (c *Chunk) writeFields(w *lebWriter, t *baseType, v *TypedValue, depth int) error {
	if depth > maxValueDepth {
		return fmt.Errorf("jfr: value nesting deeper than %d", maxValueDepth)
	}
	for i, f := range t.fields {
		ft, err := concrete(f.Type)
		if err != nil {
			return err
		}
		var vals []*TypedValue
		if v != nil && !v.null && i < len(v.fields) {
			vals = v.fields[i]
		}
		if f.Array {
			w.writeInt(int32(len(vals)))
			for _, e := range vals {
				if err := c.writeValue(w, ft, e, depth); err != nil {
					return err
				}
			}
			continue
		}
		var e *TypedValue
		if len(vals) > 0 {
			e = vals[0]
		}
		if err := c.writeValue(w, ft, e, depth); err != nil {
			return err
		}
	}
	return nil
}

// writeValue writes one field value: primitives inline, pooled values as
// their pool index, other composites inline field by field.
func (c *Chunk) writeValue(w *lebWriter, t *baseType, v *TypedValue, depth int) error {
	switch {
	case t.builtin != BuiltinNone:
		writeScalar(w, t.builtin, v)
		return nil
	case t.pooled:
		idx, ok := c.pools.Index(t, v)
		if !ok {
			return fmt.Errorf("%w: %s value missing from pool", ErrNotPooled, t.name)
		}
		w.writeLong(idx)
		return nil
	default:
		return c.writeFields(w, t, v, depth+1)
	}
}

func writeScalar(w *lebWriter, kind Builtin, v *TypedValue) {
	var s any
	if v != nil && !v.null {
		s = v.scalar
	}
	n, _ := s.(int64)
	switch kind {
	case BuiltinString:
		if str, ok := s.(string); ok {
			w.writeString(str)
		} else {
			w.writeByte(stringNull)
		}
	case BuiltinBoolean:
		b, _ := s.(bool)
		w.writeBool(b)
	case BuiltinByte:
		w.writeByte(byte(n))
	case BuiltinChar:
		w.writeVarint(uint64(uint16(n)))
	case BuiltinShort:
		w.writeShort(int16(n))
	case BuiltinInt:
		w.writeInt(int32(n))
	case BuiltinLong:
		w.writeLong(n)
	case BuiltinFloat:
		f, _ := s.(float32)
		w.writeFloat(f)
	case BuiltinDouble:
		f, _ := s.(float64)
		w.writeDouble(f)
	}
}

package jfr

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"
)

// Header is the fixed-size prefix of a chunk.
type Header struct {
	Major              uint16
	Minor              uint16
	Size               int64
	ConstantPoolOffset int64
	MetadataOffset     int64
	StartNanos         int64
	DurationNanos      int64
	StartTicks         int64
	TicksPerSecond     int64
	Features           int32
}

// ReadHeader decodes and validates the header at the start of data.
func ReadHeader(data []byte) (Header, error) {
	var h Header
	if len(data) < HeaderSize {
		return h, fmt.Errorf("%w: %d bytes is shorter than a header", ErrMalformed, len(data))
	}
	if !bytes.Equal(data[:4], Magic[:]) {
		return h, fmt.Errorf("%w: bad magic %q", ErrMalformed, data[:4])
	}
	r := &lebReader{buf: data[:HeaderSize], offset: 4}
	h.Major = r.readUint16()
	h.Minor = r.readUint16()
	h.Size = r.readInt64()
	h.ConstantPoolOffset = r.readInt64()
	h.MetadataOffset = r.readInt64()
	h.StartNanos = r.readInt64()
	h.DurationNanos = r.readInt64()
	h.StartTicks = r.readInt64()
	h.TicksPerSecond = r.readInt64()
	h.Features = r.readInt32()
	if r.err != nil {
		return h, r.err
	}
	if h.Major != MajorVersion {
		return h, fmt.Errorf("%w: unsupported version %d.%d", ErrMalformed, h.Major, h.Minor)
	}
	if h.Size < HeaderSize {
		return h, fmt.Errorf("%w: chunk size %d", ErrMalformed, h.Size)
	}
	return h, nil
}

// ParsedType is a type as described by a chunk's metadata.
type ParsedType struct {
	ID          int64
	Name        string
	Supertype   string
	Simple      bool
	Fields      []ParsedField
	Annotations []ParsedAnnotation
}

// ParsedField is one field of a ParsedType.
type ParsedField struct {
	Name         string
	TypeID       int64
	ConstantPool bool
	Array        bool
	Annotations  []ParsedAnnotation
}

// ParsedAnnotation is an annotation attached to a type or a field.
type ParsedAnnotation struct {
	TypeID int64
	Value  string
}

// Object is a decoded composite value. Field values are int64 for every
// integral kind, float32, float64, bool, string, *Object, []any for arrays,
// or nil. Values of simple types are replaced by their single field value.
type Object struct {
	Type   *ParsedType
	Fields map[string]any
}

// Get follows a dotted path of field names through nested objects.
func (o *Object) Get(path string) any {
	var cur any = o
	for _, name := range strings.Split(path, ".") {
		obj, ok := cur.(*Object)
		if !ok || obj == nil {
			return nil
		}
		cur = obj.Fields[name]
	}
	return cur
}

// ParsedChunk is the decoded content of one chunk.
type ParsedChunk struct {
	Header Header
	Types  map[int64]*ParsedType
	Events []*Object
}

// TypeByName returns the chunk's type with the given name, or nil.
func (c *ParsedChunk) TypeByName(name string) *ParsedType {
	for _, t := range c.Types {
		if t.Name == name {
			return t
		}
	}
	return nil
}

// EventsOf returns the events of the named type in chunk order.
func (c *ParsedChunk) EventsOf(name string) []*Object {
	var out []*Object
	for _, ev := range c.Events {
		if ev.Type.Name == name {
			out = append(out, ev)
		}
	}
	return out
}

// ParseRecording decodes a concatenation of chunks.
func ParseRecording(data []byte) ([]*ParsedChunk, error) {
	var out []*ParsedChunk
	for off := 0; off < len(data); {
		h, err := ReadHeader(data[off:])
		if err != nil {
			return out, fmt.Errorf("chunk at offset %d: %w", off, err)
		}
		if h.Size > int64(len(data)-off) {
			return out, fmt.Errorf("%w: chunk at offset %d truncated", ErrMalformed, off)
		}
		c, err := Parse(data[off : off+int(h.Size)])
		if err != nil {
			return out, fmt.Errorf("chunk at offset %d: %w", off, err)
		}
		out = append(out, c)
		off += int(h.Size)
	}
	return out, nil
}

// Parse decodes a single chunk. Bytes past the chunk size are ignored.
func Parse(data []byte) (*ParsedChunk, error) {
	h, err := ReadHeader(data)
	if err != nil {
		return nil, err
	}
	if h.Size > int64(len(data)) {
		return nil, fmt.Errorf("%w: chunk size %d exceeds %d bytes", ErrMalformed, h.Size, len(data))
	}
	d := &decoder{
		data:     data[:h.Size],
		chunk:    &ParsedChunk{Header: h, Types: make(map[int64]*ParsedType)},
		pools:    make(map[int64]map[int64]any),
		resolved: make(map[poolRef]any),
	}
	if err := d.readMetadata(); err != nil {
		return nil, err
	}
	if err := d.readCheckpoints(); err != nil {
		return nil, err
	}
	if err := d.readEvents(); err != nil {
		return nil, err
	}
	return d.chunk, nil
}

type poolRef struct {
	typeID int64
	index  int64
}

type decoder struct {
	data     []byte
	chunk    *ParsedChunk
	pools    map[int64]map[int64]any
	resolved map[poolRef]any
}

// section returns a reader bounded to the section at offset, positioned
// after its size and type id.
func (d *decoder) section(offset int64) (*lebReader, int64, uint64, error) {
	if offset < HeaderSize || offset >= int64(len(d.data)) {
		return nil, 0, 0, fmt.Errorf("%w: section offset %d out of range", ErrMalformed, offset)
	}
	r := &lebReader{buf: d.data, offset: int(offset)}
	size := int64(r.readVarint())
	typeID := r.readVarint()
	if r.err != nil {
		return nil, 0, 0, r.err
	}
	if size <= 0 || size > int64(len(d.data))-offset || int64(r.offset) > offset+size {
		return nil, 0, 0, fmt.Errorf("%w: section size %d at offset %d", ErrMalformed, size, offset)
	}
	r.buf = d.data[:offset+size]
	return r, size, typeID, nil
}

// ---- metadata ---------------------------------------------------------------

type metaElement struct {
	name     string
	attrs    map[string]string
	children []*metaElement
}

const maxElementDepth = 32

func (d *decoder) readMetadata() error {
	r, _, typeID, err := d.section(d.chunk.Header.MetadataOffset)
	if err != nil {
		return err
	}
	if typeID != metadataTypeID {
		return fmt.Errorf("%w: metadata section has type %d", ErrMalformed, typeID)
	}
	r.readLong() // start ticks
	r.readLong() // duration
	r.readLong() // metadata id
	count := r.readInt()
	if count < 0 || int(count) > len(r.buf)-r.offset {
		return fmt.Errorf("%w: string table of %d entries", ErrMalformed, count)
	}
	table := make([]string, count)
	for i := range table {
		s, _, _, isRef := r.readString()
		if isRef {
			r.fail("pool reference in metadata string table")
		}
		table[i] = s
	}
	root := readElement(r, table, 0)
	if r.err != nil {
		return r.err
	}

	for _, m := range root.children {
		if m.name != "metadata" {
			continue
		}
		for _, cls := range m.children {
			if cls.name != "class" {
				continue
			}
			t, err := parseClass(cls)
			if err != nil {
				return err
			}
			d.chunk.Types[t.ID] = t
		}
	}
	return nil
}

func readElement(r *lebReader, table []string, depth int) *metaElement {
	str := func() string {
		i := r.readInt()
		if i < 0 || int(i) >= len(table) {
			r.fail("string index %d out of range", i)
			return ""
		}
		return table[i]
	}
	if depth > maxElementDepth {
		r.fail("metadata nested deeper than %d", maxElementDepth)
		return &metaElement{}
	}
	e := &metaElement{name: str(), attrs: make(map[string]string)}
	n := r.readInt()
	if n < 0 || int(n) > len(r.buf)-r.offset {
		r.fail("attribute count %d", n)
		return e
	}
	for i := int32(0); i < n && r.err == nil; i++ {
		k := str()
		e.attrs[k] = str()
	}
	n = r.readInt()
	if n < 0 || int(n) > len(r.buf)-r.offset {
		r.fail("child count %d", n)
		return e
	}
	for i := int32(0); i < n && r.err == nil; i++ {
		e.children = append(e.children, readElement(r, table, depth+1))
	}
	return e
}

func parseClass(e *metaElement) (*ParsedType, error) {
	id, err := strconv.ParseInt(e.attrs["id"], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("%w: class id %q", ErrMalformed, e.attrs["id"])
	}
	t := &ParsedType{
		ID:        id,
		Name:      e.attrs["name"],
		Supertype: e.attrs["superType"],
		Simple:    e.attrs["simpleType"] == "true",
	}
	for _, c := range e.children {
		switch c.name {
		case "field":
			cid, err := strconv.ParseInt(c.attrs["class"], 10, 64)
			if err != nil {
				return nil, fmt.Errorf("%w: field %s.%s class %q", ErrMalformed, t.Name, c.attrs["name"], c.attrs["class"])
			}
			f := ParsedField{
				Name:         c.attrs["name"],
				TypeID:       cid,
				ConstantPool: c.attrs["constantPool"] == "true",
				Array:        c.attrs["dimension"] != "" && c.attrs["dimension"] != "0",
			}
			for _, a := range c.children {
				if a.name == "annotation" {
					f.Annotations = append(f.Annotations, parseAnnotation(a))
				}
			}
			t.Fields = append(t.Fields, f)
		case "annotation":
			t.Annotations = append(t.Annotations, parseAnnotation(c))
		}
	}
	return t, nil
}

func parseAnnotation(e *metaElement) ParsedAnnotation {
	id, _ := strconv.ParseInt(e.attrs["class"], 10, 64)
	return ParsedAnnotation{TypeID: id, Value: e.attrs["value"]}
}

// ---- constant pools -----------------------------------------------------------

const maxCheckpoints = 1 << 16

func (d *decoder) readCheckpoints() error {
	offset := d.chunk.Header.ConstantPoolOffset
	for n := 0; n < maxCheckpoints; n++ {
		r, _, typeID, err := d.section(offset)
		if err != nil {
			return err
		}
		if typeID != checkpointTypeID {
			return fmt.Errorf("%w: checkpoint section has type %d", ErrMalformed, typeID)
		}
		r.readLong() // start ticks
		r.readLong() // duration
		delta := r.readLong()
		r.readByte() // checkpoint type
		pools := r.readInt()
		for i := int32(0); i < pools && r.err == nil; i++ {
			tid := r.readLong()
			t := d.chunk.Types[tid]
			if t == nil {
				return fmt.Errorf("%w: pool for unknown type %d", ErrMalformed, tid)
			}
			count := r.readInt()
			if count < 0 || int(count) > len(r.buf)-r.offset {
				return fmt.Errorf("%w: pool of %d entries", ErrMalformed, count)
			}
			entries := d.pools[tid]
			if entries == nil {
				entries = make(map[int64]any, count)
				d.pools[tid] = entries
			}
			for j := int32(0); j < count && r.err == nil; j++ {
				idx := r.readLong()
				entries[idx] = d.readInline(r, t, 0)
			}
		}
		if r.err != nil {
			return r.err
		}
		if delta == 0 {
			return nil
		}
		offset += delta
	}
	return fmt.Errorf("%w: checkpoint chain longer than %d", ErrMalformed, maxCheckpoints)
}

// ---- events -----------------------------------------------------------------

func (d *decoder) readEvents() error {
	for offset := int64(HeaderSize); offset < int64(len(d.data)); {
		r, size, typeID, err := d.section(offset)
		if err != nil {
			return err
		}
		offset += size
		if typeID == metadataTypeID || typeID == checkpointTypeID {
			continue
		}
		t := d.chunk.Types[int64(typeID)]
		if t == nil {
			return fmt.Errorf("%w: event of unknown type %d", ErrMalformed, typeID)
		}
		v := d.readInline(r, t, 0)
		if r.err != nil {
			return r.err
		}
		rv, err := d.resolve(v, 0)
		if err != nil {
			return err
		}
		obj, ok := rv.(*Object)
		if !ok {
			return fmt.Errorf("%w: event type %s is not a composite", ErrMalformed, t.Name)
		}
		d.chunk.Events = append(d.chunk.Events, obj)
	}
	return nil
}

// readInline reads one value of type t written inline.
func (d *decoder) readInline(r *lebReader, t *ParsedType, depth int) any {
	if depth > maxValueDepth {
		r.fail("value nested deeper than %d", maxValueDepth)
		return nil
	}
	switch t.Name {
	case BuiltinBoolean.TypeName():
		return r.readBool()
	case BuiltinByte.TypeName():
		return int64(int8(r.readByte()))
	case BuiltinChar.TypeName():
		return int64(uint16(r.readVarint()))
	case BuiltinShort.TypeName():
		return int64(r.readShort())
	case BuiltinInt.TypeName():
		return int64(r.readInt())
	case BuiltinLong.TypeName():
		return r.readLong()
	case BuiltinFloat.TypeName():
		return r.readFloat()
	case BuiltinDouble.TypeName():
		return r.readDouble()
	case BuiltinString.TypeName():
		s, null, ref, isRef := r.readString()
		switch {
		case null:
			return nil
		case isRef:
			return poolRef{typeID: t.ID, index: ref}
		}
		return s
	}

	obj := &Object{Type: t, Fields: make(map[string]any, len(t.Fields))}
	for _, f := range t.Fields {
		if r.err != nil {
			break
		}
		obj.Fields[f.Name] = d.readField(r, f, depth+1)
	}
	return obj
}

func (d *decoder) readField(r *lebReader, f ParsedField, depth int) any {
	ft := d.chunk.Types[f.TypeID]
	if ft == nil {
		r.fail("field %s has unknown type %d", f.Name, f.TypeID)
		return nil
	}
	one := func() any {
		if f.ConstantPool {
			return poolRef{typeID: f.TypeID, index: r.readLong()}
		}
		return d.readInline(r, ft, depth)
	}
	if !f.Array {
		return one()
	}
	n := r.readInt()
	if n < 0 || int(n) > len(r.buf)-r.offset {
		r.fail("array of %d elements", n)
		return nil
	}
	arr := make([]any, n)
	for i := range arr {
		arr[i] = one()
	}
	return arr
}

const maxResolveDepth = 256

// resolve replaces pool references by the entries they point to and
// unwraps simple types. Entries are resolved once; a reference cycle sees
// the entry being resolved.
func (d *decoder) resolve(v any, depth int) (any, error) {
	if depth > maxResolveDepth {
		return nil, fmt.Errorf("%w: references nested deeper than %d", ErrMalformed, maxResolveDepth)
	}
	switch x := v.(type) {
	case poolRef:
		if x.index == 0 {
			return nil, nil
		}
		if rv, ok := d.resolved[x]; ok {
			return rv, nil
		}
		raw, ok := d.pools[x.typeID][x.index]
		if !ok {
			return nil, fmt.Errorf("%w: no entry %d in pool of type %d", ErrMalformed, x.index, x.typeID)
		}
		d.resolved[x] = raw
		rv, err := d.resolve(raw, depth+1)
		if err != nil {
			return nil, err
		}
		d.resolved[x] = rv
		return rv, nil
	case *Object:
		for k, fv := range x.Fields {
			rv, err := d.resolve(fv, depth+1)
			if err != nil {
				return nil, err
			}
			x.Fields[k] = rv
		}
		if x.Type.Simple && len(x.Type.Fields) == 1 {
			return x.Fields[x.Type.Fields[0].Name], nil
		}
		return x, nil
	case []any:
		for i, e := range x {
			rv, err := d.resolve(e, depth+1)
			if err != nil {
				return nil, err
			}
			x[i] = rv
		}
		return x, nil
	}
	return v, nil
}

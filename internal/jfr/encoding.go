package jfr

import (
	"encoding/binary"
	"fmt"
	"math"
	"unicode/utf8"
)

// String encodings used by the chunk format. Every string value is prefixed
// by one of these bytes.
const (
	stringNull      byte = 0
	stringEmpty     byte = 1
	stringPoolRef   byte = 2
	stringUTF8      byte = 3
	stringCharArray byte = 4
	stringLatin1    byte = 5
)

// maxVarintLen is the longest encoding of a 64-bit varint: eight 7-bit groups
// followed by one full byte.
const maxVarintLen = 9

// ---- writer -----------------------------------------------------------------

// lebWriter appends chunk primitives to a byte slice. Integers are written in
// the compressed (LEB128) form announced by the chunk header.
type lebWriter struct{ buf []byte }

func (w *lebWriter) len() int             { return len(w.buf) }
func (w *lebWriter) writeByte(v byte)     { w.buf = append(w.buf, v) }
func (w *lebWriter) write(v []byte)       { w.buf = append(w.buf, v...) }
func (w *lebWriter) writeVarint(v uint64) { w.buf = appendVarint(w.buf, v) }
func (w *lebWriter) writeLong(v int64)    { w.buf = appendVarint(w.buf, uint64(v)) }
func (w *lebWriter) writeInt(v int32)     { w.buf = appendVarint(w.buf, uint64(uint32(v))) }
func (w *lebWriter) writeShort(v int16) {
	w.buf = appendVarint(w.buf, uint64(uint16(v)))
}
func (w *lebWriter) writeFloat(v float32) {
	w.buf = binary.BigEndian.AppendUint32(w.buf, math.Float32bits(v))
}
func (w *lebWriter) writeDouble(v float64) {
	w.buf = binary.BigEndian.AppendUint64(w.buf, math.Float64bits(v))
}

func (w *lebWriter) writeBool(v bool) {
	if v {
		w.writeByte(1)
		return
	}
	w.writeByte(0)
}

// writeString writes s with its encoding prefix. Empty strings use the
// dedicated empty marker instead of a zero-length UTF-8 payload.
func (w *lebWriter) writeString(s string) {
	if s == "" {
		w.writeByte(stringEmpty)
		return
	}
	w.writeByte(stringUTF8)
	w.writeVarint(uint64(len(s)))
	w.buf = append(w.buf, s...)
}

// appendVarint encodes v as up to eight 7-bit groups, low group first, with a
// ninth byte carrying the top 8 bits.
func appendVarint(b []byte, v uint64) []byte {
	for i := 0; i < maxVarintLen-1; i++ {
		if v < 0x80 {
			return append(b, byte(v))
		}
		b = append(b, byte(v&0x7f)|0x80)
		v >>= 7
	}
	return append(b, byte(v))
}

// varintLen returns the encoded length of v.
func varintLen(v uint64) int {
	n := 1
	for v >= 0x80 && n < maxVarintLen {
		v >>= 7
		n++
	}
	return n
}

// appendSized frames payload as a sized record whose leading varint counts
// the whole record, itself included.
func appendSized(dst, payload []byte) []byte {
	size := len(payload) + 1
	for l := 1; l <= maxVarintLen; l++ {
		if varintLen(uint64(len(payload)+l)) == l {
			size = len(payload) + l
			break
		}
	}
	dst = appendVarint(dst, uint64(size))
	return append(dst, payload...)
}

// ---- reader -----------------------------------------------------------------

// lebReader reads chunk primitives. The first out-of-range read records a
// sticky error and every later read returns zero values, so callers check
// err once after a group of reads.
type lebReader struct {
	buf    []byte
	offset int
	err    error
}

func (r *lebReader) fail(format string, args ...any) {
	if r.err == nil {
		r.err = fmt.Errorf("%w: %s at offset %d", ErrMalformed, fmt.Sprintf(format, args...), r.offset)
	}
}

func (r *lebReader) readByte() byte {
	if r.err != nil {
		return 0
	}
	if r.offset >= len(r.buf) {
		r.fail("unexpected end of data")
		return 0
	}
	v := r.buf[r.offset]
	r.offset++
	return v
}

func (r *lebReader) read(n int) []byte {
	if r.err != nil {
		return nil
	}
	if n < 0 || r.offset+n > len(r.buf) {
		r.fail("read of %d bytes past end", n)
		return nil
	}
	v := r.buf[r.offset : r.offset+n]
	r.offset += n
	return v
}

func (r *lebReader) readVarint() uint64 {
	var v uint64
	for i := 0; i < maxVarintLen-1; i++ {
		b := r.readByte()
		if r.err != nil {
			return 0
		}
		v |= uint64(b&0x7f) << (7 * i)
		if b&0x80 == 0 {
			return v
		}
	}
	b := r.readByte()
	return v | uint64(b)<<56
}

func (r *lebReader) readLong() int64  { return int64(r.readVarint()) }
func (r *lebReader) readInt() int32   { return int32(uint32(r.readVarint())) }
func (r *lebReader) readShort() int16 { return int16(uint16(r.readVarint())) }
func (r *lebReader) readBool() bool   { return r.readByte() != 0 }

func (r *lebReader) readFloat() float32 {
	b := r.read(4)
	if b == nil {
		return 0
	}
	return math.Float32frombits(binary.BigEndian.Uint32(b))
}

func (r *lebReader) readDouble() float64 {
	b := r.read(8)
	if b == nil {
		return 0
	}
	return math.Float64frombits(binary.BigEndian.Uint64(b))
}

func (r *lebReader) readUint16() uint16 {
	b := r.read(2)
	if b == nil {
		return 0
	}
	return binary.BigEndian.Uint16(b)
}

func (r *lebReader) readInt32() int32 {
	b := r.read(4)
	if b == nil {
		return 0
	}
	return int32(binary.BigEndian.Uint32(b))
}

func (r *lebReader) readInt64() int64 {
	b := r.read(8)
	if b == nil {
		return 0
	}
	return int64(binary.BigEndian.Uint64(b))
}

// readString decodes an encoded string. A constant-pool reference is
// returned as ref with isRef set so the caller can resolve it later.
func (r *lebReader) readString() (s string, null bool, ref int64, isRef bool) {
	switch enc := r.readByte(); enc {
	case stringNull:
		return "", true, 0, false
	case stringEmpty:
		return "", false, 0, false
	case stringPoolRef:
		return "", false, r.readLong(), true
	case stringUTF8, stringLatin1:
		n := r.readVarint()
		if n > uint64(len(r.buf)) {
			r.fail("string length %d", n)
			return "", false, 0, false
		}
		b := r.read(int(n))
		if enc == stringLatin1 {
			rs := make([]rune, len(b))
			for i, c := range b {
				rs[i] = rune(c)
			}
			return string(rs), false, 0, false
		}
		return string(b), false, 0, false
	case stringCharArray:
		n := r.readVarint()
		if n > uint64(len(r.buf)) {
			r.fail("char array length %d", n)
			return "", false, 0, false
		}
		out := make([]byte, 0, n)
		for i := uint64(0); i < n && r.err == nil; i++ {
			out = utf8.AppendRune(out, rune(uint16(r.readVarint())))
		}
		return string(out), false, 0, false
	default:
		r.fail("unknown string encoding %d", enc)
		return "", false, 0, false
	}
}

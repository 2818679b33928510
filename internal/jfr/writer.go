// Package jfr writes and reads self-describing binary event recordings in
// the JDK Flight Recorder chunk format (version 2).
//
// A Writer owns a Registry of types. Each Chunk opened from it collects
// events, deduplicating pooled values into per-type constant pools, and Dump
// serializes header, metadata, checkpoint and events into one chunk. Types
// may reference names that are registered later; such references stay
// unresolved proxies until the name is registered, and a chunk cannot be
// dumped while any remain.
package jfr

import "time"

// Writer is a recording session: one type registry shared by every chunk
// it opens.
type Writer struct {
	types *Registry
	clock func() time.Time
}

// Option configures a Writer.
type Option func(*Writer)

// WithClock sets the time source used for chunk start times and durations.
// Identical event sequences produce identical bytes under the same clock.
func WithClock(fn func() time.Time) Option {
	return func(w *Writer) { w.clock = fn }
}

// WithRegistry makes the writer use an existing registry.
func WithRegistry(r *Registry) Option {
	return func(w *Writer) { w.types = r }
}

// NewWriter creates a writer session.
func NewWriter(opts ...Option) *Writer {
	w := &Writer{clock: time.Now}
	for _, opt := range opts {
		opt(w)
	}
	if w.types == nil {
		w.types = NewRegistry()
	}
	return w
}

// Types returns the session's registry.
func (w *Writer) Types() *Registry { return w.types }

// RegisterType declares a composite type on the session's registry.
func (w *Writer) RegisterType(name string, fn func(*TypeBuilder)) (Type, error) {
	return w.types.RegisterType(name, fn)
}

// RegisterEventType declares an event type on the session's registry.
func (w *Writer) RegisterEventType(name string, fn func(*TypeBuilder)) (Type, error) {
	return w.types.RegisterEventType(name, fn)
}

// NewChunk opens a chunk with fresh constant pools.
func (w *Writer) NewChunk() *Chunk {
	return newChunk(w.types, w.clock)
}

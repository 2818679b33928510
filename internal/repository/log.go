// Package repository persists dumped chunks on local disk: an append-only
// recording file holding the raw chunks back to back, and a bbolt index that
// maps chunk IDs to their location and timing.
package repository

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"sync/atomic"

	"github.com/snehjoshi/flightrec/internal/jfr"
)

// Log is the append-only recording file. Chunks are self-delimiting: the
// header of each chunk carries its total size, so the file is a valid
// recording that any chunk reader can consume directly.
type Log struct {
	mu     sync.Mutex
	file   *os.File
	path   string
	size   int64        // end of the last complete chunk
	chunks atomic.Int64 // complete chunks in the file
}

// OpenLog opens (or creates) the recording file at path. A partially
// written trailing chunk, left by a crash mid-append, is cut off.
func OpenLog(path string) (*Log, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o640)
	if err != nil {
		return nil, fmt.Errorf("log: open %s: %w", path, err)
	}

	l := &Log{file: f, path: path}
	if err := l.replay(); err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("log: replay %s: %w", path, err)
	}
	return l, nil
}

// Append writes one chunk and returns its byte offset.
func (l *Log) Append(chunk []byte) (int64, error) {
	h, err := jfr.ReadHeader(chunk)
	if err != nil {
		return 0, fmt.Errorf("log: %w: %v", ErrCorrupted, err)
	}
	if h.Size != int64(len(chunk)) {
		return 0, fmt.Errorf("log: %w: header size %d for %d bytes", ErrCorrupted, h.Size, len(chunk))
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	offset := l.size
	if _, err := l.file.WriteAt(chunk, offset); err != nil {
		return 0, fmt.Errorf("log: write chunk: %w", err)
	}
	l.size += int64(len(chunk))
	l.chunks.Add(1)
	return offset, nil
}

// ReadAt returns the chunk starting at offset.
func (l *Log) ReadAt(offset int64) ([]byte, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.readAt(offset)
}

func (l *Log) readAt(offset int64) ([]byte, error) {
	var hdr [jfr.HeaderSize]byte
	if _, err := l.file.ReadAt(hdr[:], offset); err != nil {
		if errors.Is(err, io.EOF) {
			if offset >= l.size {
				return nil, ErrNotFound
			}
			return nil, fmt.Errorf("log: truncated header at %d: %w", offset, ErrCorrupted)
		}
		return nil, fmt.Errorf("log: read header at %d: %w", offset, err)
	}
	h, err := jfr.ReadHeader(hdr[:])
	if err != nil {
		return nil, fmt.Errorf("log: chunk at %d: %v: %w", offset, err, ErrCorrupted)
	}

	buf := make([]byte, h.Size)
	if _, err := l.file.ReadAt(buf, offset); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("log: truncated chunk at %d: %w", offset, ErrCorrupted)
		}
		return nil, fmt.Errorf("log: read chunk at %d: %w", offset, err)
	}
	return buf, nil
}

// ReadAll calls fn for every complete chunk in file order. Iteration stops
// early if fn returns a non-nil error.
func (l *Log) ReadAll(fn func(offset int64, chunk []byte) error) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	for offset := int64(0); offset < l.size; {
		chunk, err := l.readAt(offset)
		if err != nil {
			return fmt.Errorf("log: ReadAll at offset %d: %w", offset, err)
		}
		if err := fn(offset, chunk); err != nil {
			return err
		}
		offset += int64(len(chunk))
	}
	return nil
}

// Path returns the filesystem path of the recording file.
func (l *Log) Path() string { return l.path }

// Size returns the number of bytes of complete chunks.
func (l *Log) Size() int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.size
}

// Len returns the number of complete chunks.
func (l *Log) Len() int64 { return l.chunks.Load() }

// Reopen closes the current file and reopens path. Used by retention after
// renaming the rewritten file into place.
func (l *Log) Reopen(path string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.file.Sync(); err != nil {
		return fmt.Errorf("log: sync before reopen: %w", err)
	}
	if err := l.file.Close(); err != nil {
		return fmt.Errorf("log: close before reopen: %w", err)
	}

	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o640)
	if err != nil {
		return fmt.Errorf("log: reopen %s: %w", path, err)
	}
	l.file = f
	l.path = path
	l.size = 0
	l.chunks.Store(0)
	if err := l.replay(); err != nil {
		return fmt.Errorf("log: rescan after reopen: %w", err)
	}
	return nil
}

// Sync flushes the file to disk.
func (l *Log) Sync() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.file.Sync()
}

// Close flushes and closes the file.
func (l *Log) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.file.Sync(); err != nil {
		return fmt.Errorf("log: sync: %w", err)
	}
	return l.file.Close()
}

// replay walks the chunk headers to find the end of the last complete chunk
// and truncates anything after it.
func (l *Log) replay() error {
	info, err := l.file.Stat()
	if err != nil {
		return err
	}
	fileSize := info.Size()

	var offset, count int64
	for offset < fileSize {
		var hdr [jfr.HeaderSize]byte
		if _, err := l.file.ReadAt(hdr[:], offset); err != nil {
			break
		}
		h, err := jfr.ReadHeader(hdr[:])
		if err != nil || offset+h.Size > fileSize {
			break
		}
		offset += h.Size
		count++
	}

	if offset < fileSize {
		if err := l.file.Truncate(offset); err != nil {
			return fmt.Errorf("truncate torn tail at %d: %w", offset, err)
		}
	}
	l.size = offset
	l.chunks.Store(count)
	return nil
}

package repository

import (
	"encoding/binary"
	"fmt"

	"go.etcd.io/bbolt"
)

var bucketChunks = []byte("chunks")

// ChunkEntry locates one stored chunk and summarizes it.
type ChunkEntry struct {
	Offset        int64 // byte offset in the recording file
	Size          int64
	StartNanos    int64 // chunk start, Unix nanoseconds
	DurationNanos int64
	Events        int64
}

// Index is a bbolt-backed map from chunk ID to ChunkEntry. Chunk IDs are
// ULIDs, so bbolt's key order is the order chunks were stored in.
type Index struct {
	db *bbolt.DB
}

// OpenIndex opens (or creates) the bbolt index at path.
func OpenIndex(path string) (*Index, error) {
	db, err := bbolt.Open(path, 0o640, &bbolt.Options{Timeout: 0})
	if err != nil {
		return nil, fmt.Errorf("index: open %s: %w", path, err)
	}
	if err := db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketChunks)
		return err
	}); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("index: init bucket: %w", err)
	}
	return &Index{db: db}, nil
}

// Write upserts the entry for id.
func (idx *Index) Write(id string, e ChunkEntry) error {
	return idx.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketChunks).Put([]byte(id), marshalEntry(e))
	})
}

// WriteAll upserts several entries in one transaction.
func (idx *Index) WriteAll(entries map[string]ChunkEntry) error {
	return idx.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketChunks)
		for id, e := range entries {
			if err := b.Put([]byte(id), marshalEntry(e)); err != nil {
				return err
			}
		}
		return nil
	})
}

// Read returns the entry for id, or ErrNotFound.
func (idx *Index) Read(id string) (ChunkEntry, error) {
	var e ChunkEntry
	err := idx.db.View(func(tx *bbolt.Tx) error {
		val := tx.Bucket(bucketChunks).Get([]byte(id))
		if val == nil {
			return ErrNotFound
		}
		var err error
		e, err = unmarshalEntry(val)
		return err
	})
	return e, err
}

// Delete removes the entries for ids.
func (idx *Index) Delete(ids ...string) error {
	return idx.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketChunks)
		for _, id := range ids {
			if err := b.Delete([]byte(id)); err != nil {
				return err
			}
		}
		return nil
	})
}

// ForEach calls fn for every entry in ID order. Iteration stops early if fn
// returns a non-nil error.
func (idx *Index) ForEach(fn func(id string, e ChunkEntry) error) error {
	return idx.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketChunks).ForEach(func(k, v []byte) error {
			e, err := unmarshalEntry(v)
			if err != nil {
				return fmt.Errorf("entry %s: %w", k, err)
			}
			return fn(string(k), e)
		})
	})
}

// Len returns the number of indexed chunks.
func (idx *Index) Len() int {
	n := 0
	_ = idx.db.View(func(tx *bbolt.Tx) error {
		n = tx.Bucket(bucketChunks).Stats().KeyN
		return nil
	})
	return n
}

// Close closes the underlying database.
func (idx *Index) Close() error {
	return idx.db.Close()
}

// ---- serialisation helpers -------------------------------------------------
// ChunkEntry is stored as five big-endian int64 values:
//
//	[offset][size][startNanos][durationNanos][events]

const entrySize = 5 * 8

func marshalEntry(e ChunkEntry) []byte {
	buf := make([]byte, entrySize)
	binary.BigEndian.PutUint64(buf[0:], uint64(e.Offset))
	binary.BigEndian.PutUint64(buf[8:], uint64(e.Size))
	binary.BigEndian.PutUint64(buf[16:], uint64(e.StartNanos))
	binary.BigEndian.PutUint64(buf[24:], uint64(e.DurationNanos))
	binary.BigEndian.PutUint64(buf[32:], uint64(e.Events))
	return buf
}

func unmarshalEntry(buf []byte) (ChunkEntry, error) {
	if len(buf) < entrySize {
		return ChunkEntry{}, fmt.Errorf("index: entry too short (%d bytes): %w", len(buf), ErrCorrupted)
	}
	return ChunkEntry{
		Offset:        int64(binary.BigEndian.Uint64(buf[0:])),
		Size:          int64(binary.BigEndian.Uint64(buf[8:])),
		StartNanos:    int64(binary.BigEndian.Uint64(buf[16:])),
		DurationNanos: int64(binary.BigEndian.Uint64(buf[24:])),
		Events:        int64(binary.BigEndian.Uint64(buf[32:])),
	}, nil
}

package repository

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/snehjoshi/flightrec/internal/jfr"
)

const (
	logFileName   = "recording.jfr"
	indexFileName = "index.db"
)

// ErrNotFound is returned when a chunk ID is not in the index.
var ErrNotFound = errors.New("repository: not found")

// ErrCorrupted is returned when stored bytes are not a valid chunk.
var ErrCorrupted = errors.New("repository: chunk corrupted")

// ─── Config ─────────────────────────────────────────────────────────────────

// FsyncPolicy controls when appended chunks are flushed to disk.
type FsyncPolicy string

const (
	FsyncAlways   FsyncPolicy = "always"   // fsync after every chunk
	FsyncInterval FsyncPolicy = "interval" // fsync every FsyncIntervalMs milliseconds
	FsyncBatch    FsyncPolicy = "batch"    // fsync after every FsyncBatchSize chunks
	FsyncNever    FsyncPolicy = "never"
)

// Config tunes a Repository. Zero fields take the DefaultConfig values.
type Config struct {
	Fsync             FsyncPolicy
	FsyncIntervalMs   int
	FsyncBatchSize    int
	MaxChunks         int           // chunks kept by retention; 0 keeps everything
	RetentionInterval time.Duration // how often the background retention pass runs
}

// DefaultConfig returns the defaults used by Open.
func DefaultConfig() Config {
	return Config{
		Fsync:             FsyncInterval,
		FsyncIntervalMs:   200,
		FsyncBatchSize:    16,
		MaxChunks:         0,
		RetentionInterval: time.Minute,
	}
}

// ─── Repository ─────────────────────────────────────────────────────────────

// ChunkRecord is an indexed chunk with its ID.
type ChunkRecord struct {
	ID string
	ChunkEntry
}

// Repository stores dumped chunks in dir. All methods are safe for
// concurrent use.
type Repository struct {
	log         *Log
	index       *Index
	dir         string
	recordingID string
	cfg         Config

	writeCount atomic.Int64

	// retainMu serialises retention against reads and writes.
	retainMu  sync.RWMutex
	retention *Retention

	fsyncTicker *time.Ticker
	fsyncDone   chan struct{}
	fsyncWG     sync.WaitGroup
	fsyncOnce   sync.Once

	closeOnce sync.Once
}

// Open creates (or reopens) a repository in dir.
func Open(dir string, cfgs ...Config) (*Repository, error) {
	cfg := DefaultConfig()
	if len(cfgs) > 0 {
		c := cfgs[0]
		if c.Fsync != "" {
			cfg.Fsync = c.Fsync
		}
		if c.FsyncIntervalMs > 0 {
			cfg.FsyncIntervalMs = c.FsyncIntervalMs
		}
		if c.FsyncBatchSize > 0 {
			cfg.FsyncBatchSize = c.FsyncBatchSize
		}
		if c.MaxChunks > 0 {
			cfg.MaxChunks = c.MaxChunks
		}
		if c.RetentionInterval > 0 {
			cfg.RetentionInterval = c.RetentionInterval
		}
	}

	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("repository: create dir %s: %w", dir, err)
	}
	recID, err := loadOrCreateRecordingID(dir)
	if err != nil {
		return nil, fmt.Errorf("repository: %w", err)
	}

	lg, err := OpenLog(filepath.Join(dir, logFileName))
	if err != nil {
		return nil, fmt.Errorf("repository: open log: %w", err)
	}
	idx, err := OpenIndex(filepath.Join(dir, indexFileName))
	if err != nil {
		_ = lg.Close()
		return nil, fmt.Errorf("repository: open index: %w", err)
	}

	r := &Repository{
		log:         lg,
		index:       idx,
		dir:         dir,
		recordingID: recID,
		cfg:         cfg,
	}
	if err := r.recover(); err != nil {
		_ = r.closeAll()
		return nil, fmt.Errorf("repository: recovery: %w", err)
	}

	r.startFsync()
	r.retention = NewRetention(r, cfg.MaxChunks, cfg.RetentionInterval)
	if cfg.MaxChunks > 0 {
		r.retention.Start()
	}
	return r, nil
}

// recover drops index entries that point past the end of the recording file,
// which happens when a crash cut off a chunk after it was indexed.
func (r *Repository) recover() error {
	end := r.log.Size()
	var stale []string
	if err := r.index.ForEach(func(id string, e ChunkEntry) error {
		if e.Offset+e.Size > end {
			stale = append(stale, id)
		}
		return nil
	}); err != nil {
		return err
	}
	if len(stale) == 0 {
		return nil
	}
	return r.index.Delete(stale...)
}

// ─── Background fsync ───────────────────────────────────────────────────────

func (r *Repository) startFsync() {
	if r.cfg.Fsync != FsyncInterval {
		return
	}
	interval := time.Duration(r.cfg.FsyncIntervalMs) * time.Millisecond
	if interval <= 0 {
		interval = 200 * time.Millisecond
	}
	r.fsyncTicker = time.NewTicker(interval)
	r.fsyncDone = make(chan struct{})
	r.fsyncWG.Add(1)
	go func() {
		defer r.fsyncWG.Done()
		for {
			select {
			case <-r.fsyncDone:
				return
			case <-r.fsyncTicker.C:
				_ = r.log.Sync()
			}
		}
	}()
}

func (r *Repository) stopFsync() {
	if r.fsyncTicker == nil {
		return
	}
	r.fsyncOnce.Do(func() {
		r.fsyncTicker.Stop()
		close(r.fsyncDone)
	})
	r.fsyncWG.Wait()
}

func (r *Repository) maybeSyncAfterWrite() error {
	switch r.cfg.Fsync {
	case FsyncAlways:
		return r.log.Sync()
	case FsyncBatch:
		if n := r.writeCount.Add(1); n%int64(r.cfg.FsyncBatchSize) == 0 {
			return r.log.Sync()
		}
	}
	return nil
}

// ─── Chunk operations ───────────────────────────────────────────────────────

// Store appends a dumped chunk and indexes it under a new ID. events is the
// number of events the chunk holds.
func (r *Repository) Store(chunk []byte, events int) (string, error) {
	h, err := jfr.ReadHeader(chunk)
	if err != nil {
		return "", fmt.Errorf("repository: store: %v: %w", err, ErrCorrupted)
	}
	id, err := NewID()
	if err != nil {
		return "", fmt.Errorf("repository: new chunk id: %w", err)
	}

	r.retainMu.RLock()
	defer r.retainMu.RUnlock()

	offset, err := r.log.Append(chunk)
	if err != nil {
		return "", fmt.Errorf("repository: append: %w", err)
	}
	if err := r.maybeSyncAfterWrite(); err != nil {
		return "", fmt.Errorf("repository: sync: %w", err)
	}

	entry := ChunkEntry{
		Offset:        offset,
		Size:          h.Size,
		StartNanos:    h.StartNanos,
		DurationNanos: h.DurationNanos,
		Events:        int64(events),
	}
	if err := r.index.Write(id, entry); err != nil {
		return "", fmt.Errorf("repository: index %s: %w", id, err)
	}
	return id, nil
}

// Get returns the stored chunk with the given ID.
func (r *Repository) Get(id string) ([]byte, ChunkEntry, error) {
	r.retainMu.RLock()
	defer r.retainMu.RUnlock()

	e, err := r.index.Read(id)
	if err != nil {
		return nil, ChunkEntry{}, fmt.Errorf("repository: get %s: %w", id, err)
	}
	chunk, err := r.log.ReadAt(e.Offset)
	if err != nil {
		return nil, ChunkEntry{}, fmt.Errorf("repository: read %s: %w", id, err)
	}
	if int64(len(chunk)) != e.Size {
		return nil, ChunkEntry{}, fmt.Errorf("repository: chunk %s size %d, indexed %d: %w", id, len(chunk), e.Size, ErrCorrupted)
	}
	return chunk, e, nil
}

// List returns every indexed chunk in storage order.
func (r *Repository) List() ([]ChunkRecord, error) {
	r.retainMu.RLock()
	defer r.retainMu.RUnlock()

	var out []ChunkRecord
	if err := r.index.ForEach(func(id string, e ChunkEntry) error {
		out = append(out, ChunkRecord{ID: id, ChunkEntry: e})
		return nil
	}); err != nil {
		return nil, fmt.Errorf("repository: list: %w", err)
	}
	return out, nil
}

// ReadAll calls fn for every indexed chunk in storage order.
func (r *Repository) ReadAll(fn func(rec ChunkRecord, chunk []byte) error) error {
	recs, err := r.List()
	if err != nil {
		return err
	}
	for _, rec := range recs {
		chunk, _, err := r.Get(rec.ID)
		if errors.Is(err, ErrNotFound) {
			continue // removed by retention since List
		}
		if err != nil {
			return err
		}
		if err := fn(rec, chunk); err != nil {
			return err
		}
	}
	return nil
}

// Export writes every stored chunk to w as one recording.
func (r *Repository) Export(w io.Writer) (int64, error) {
	var n int64
	err := r.ReadAll(func(_ ChunkRecord, chunk []byte) error {
		m, err := w.Write(chunk)
		n += int64(m)
		return err
	})
	return n, err
}

// RecordingID returns the stable ID of this repository.
func (r *Repository) RecordingID() string { return r.recordingID }

// Dir returns the repository directory.
func (r *Repository) Dir() string { return r.dir }

// Retention returns the retention runner so callers can trigger a pass.
func (r *Repository) Retention() *Retention { return r.retention }

// Close stops background work and closes the files. Safe to call more than
// once.
func (r *Repository) Close() error {
	var closeErr error
	r.closeOnce.Do(func() {
		if r.retention != nil {
			r.retention.Stop()
		}
		r.stopFsync()
		closeErr = r.closeAll()
	})
	return closeErr
}

func (r *Repository) closeAll() error {
	logErr := r.log.Close()
	idxErr := r.index.Close()
	if logErr != nil {
		return fmt.Errorf("repository: close log: %w", logErr)
	}
	if idxErr != nil {
		return fmt.Errorf("repository: close index: %w", idxErr)
	}
	return nil
}

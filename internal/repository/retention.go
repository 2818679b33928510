package repository

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"
)

// Retention bounds the repository to its newest MaxChunks chunks. A pass
// copies the kept chunks to a temporary file, swaps it in with a rename and
// rewrites their offsets in the index.
//
// A pass holds the repository's write lock for its whole duration, so
// Store and Get block while it runs.
type Retention struct {
	r         *Repository
	maxChunks int
	interval  time.Duration

	mu   sync.Mutex
	done chan struct{}
	wg   sync.WaitGroup
}

// NewRetention creates a Retention that runs RunOnce every interval once
// started.
func NewRetention(r *Repository, maxChunks int, interval time.Duration) *Retention {
	return &Retention{
		r:         r,
		maxChunks: maxChunks,
		interval:  interval,
		done:      make(chan struct{}),
	}
}

// Start launches the background retention goroutine.
func (rt *Retention) Start() {
	rt.wg.Add(1)
	go func() {
		defer rt.wg.Done()
		ticker := time.NewTicker(rt.interval)
		defer ticker.Stop()
		for {
			select {
			case <-rt.done:
				return
			case <-ticker.C:
				ctx, cancel := context.WithTimeout(context.Background(), rt.interval/2)
				if n, err := rt.RunOnce(ctx); err != nil {
					slog.Warn("retention pass failed", "dir", rt.r.dir, "error", err)
				} else if n > 0 {
					slog.Info("retention pass", "dir", rt.r.dir, "dropped", n)
				}
				cancel()
			}
		}
	}()
}

// Stop signals the background goroutine to exit and waits for it.
func (rt *Retention) Stop() {
	rt.mu.Lock()
	select {
	case <-rt.done:
	default:
		close(rt.done)
	}
	rt.mu.Unlock()
	rt.wg.Wait()
}

// RunOnce drops the oldest chunks beyond the limit and returns how many were
// dropped. It does nothing when the limit is zero or not exceeded.
func (rt *Retention) RunOnce(ctx context.Context) (int, error) {
	rt.mu.Lock()
	defer rt.mu.Unlock()

	if rt.maxChunks <= 0 {
		return 0, nil
	}

	rt.r.retainMu.Lock()
	defer rt.r.retainMu.Unlock()

	// ── 1. Split indexed chunks into dropped and kept ───────────────────────
	var recs []ChunkRecord
	if err := rt.r.index.ForEach(func(id string, e ChunkEntry) error {
		recs = append(recs, ChunkRecord{ID: id, ChunkEntry: e})
		return nil
	}); err != nil {
		return 0, fmt.Errorf("retention: scan index: %w", err)
	}
	if len(recs) <= rt.maxChunks {
		return 0, nil
	}
	dropped := recs[:len(recs)-rt.maxChunks]
	kept := recs[len(recs)-rt.maxChunks:]

	// ── 2. Copy kept chunks into a temporary file ───────────────────────────
	logPath := rt.r.log.Path()
	tmpPath := logPath + ".tmp"
	_ = os.Remove(tmpPath)
	tmp, err := OpenLog(tmpPath)
	if err != nil {
		return 0, fmt.Errorf("retention: open tmp log: %w", err)
	}
	abort := func(err error) (int, error) {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return 0, err
	}

	moved := make(map[string]ChunkEntry, len(kept))
	for _, rec := range kept {
		if err := ctx.Err(); err != nil {
			return abort(err)
		}
		chunk, err := rt.r.log.ReadAt(rec.Offset)
		if err != nil {
			return abort(fmt.Errorf("retention: read %s: %w", rec.ID, err))
		}
		off, err := tmp.Append(chunk)
		if err != nil {
			return abort(fmt.Errorf("retention: copy %s: %w", rec.ID, err))
		}
		e := rec.ChunkEntry
		e.Offset = off
		moved[rec.ID] = e
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return 0, fmt.Errorf("retention: close tmp log: %w", err)
	}

	// ── 3. Swap files, then point the index at the new offsets ──────────────
	oldPath := logPath + ".old"
	if err := os.Rename(logPath, oldPath); err != nil {
		_ = os.Remove(tmpPath)
		return 0, fmt.Errorf("retention: move old log: %w", err)
	}
	if err := os.Rename(tmpPath, logPath); err != nil {
		_ = os.Rename(oldPath, logPath)
		_ = os.Remove(tmpPath)
		return 0, fmt.Errorf("retention: install new log: %w", err)
	}
	if err := rt.r.log.Reopen(logPath); err != nil {
		return 0, fmt.Errorf("retention: reopen log: %w", err)
	}

	ids := make([]string, len(dropped))
	for i, rec := range dropped {
		ids[i] = rec.ID
	}
	if err := rt.r.index.WriteAll(moved); err != nil {
		return 0, fmt.Errorf("retention: update index: %w", err)
	}
	if err := rt.r.index.Delete(ids...); err != nil {
		return 0, fmt.Errorf("retention: drop index entries: %w", err)
	}
	if err := os.Remove(oldPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		return len(dropped), fmt.Errorf("retention: remove old log: %w", err)
	}
	return len(dropped), nil
}

package http

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/snehjoshi/flightrec/internal/repository"
)

// ChunkStore is the read side of the chunk repository.
type ChunkStore interface {
	List() ([]repository.ChunkRecord, error)
	Get(id string) ([]byte, repository.ChunkEntry, error)
	Export(w io.Writer) (int64, error)
	RecordingID() string
}

// Flusher dumps the chunk being recorded and returns its stored ID, or ""
// when it held no events.
type Flusher interface {
	Flush() (string, error)
}

// Handler groups all HTTP request handlers.
type Handler struct {
	store   ChunkStore
	flusher Flusher // may be nil when no recorder is running
}

// ─── DTOs ─────────────────────────────────────────────────────────────────────

type chunkResp struct {
	ID            string `json:"id"`
	Offset        int64  `json:"offset"`
	Size          int64  `json:"size"`
	StartNanos    int64  `json:"start_ns"`
	DurationNanos int64  `json:"duration_ns"`
	Events        int64  `json:"events"`
}

type chunkListResp struct {
	Chunks []chunkResp `json:"chunks"`
}

type dumpResp struct {
	ID string `json:"id,omitempty"`
}

type healthResp struct {
	Status      string `json:"status"`
	RecordingID string `json:"recording_id"`
	Chunks      int    `json:"chunks"`
	Uptime      string `json:"uptime"`
	UptimeMs    int64  `json:"uptime_ms"`
}

// ─── Health ───────────────────────────────────────────────────────────────────

var startTime = time.Now()

func (h *Handler) health(w http.ResponseWriter, _ *http.Request) {
	recs, err := h.store.List()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	elapsed := time.Since(startTime)
	writeJSON(w, http.StatusOK, healthResp{
		Status:      "ok",
		RecordingID: h.store.RecordingID(),
		Chunks:      len(recs),
		Uptime:      elapsed.Round(time.Second).String(),
		UptimeMs:    elapsed.Milliseconds(),
	})
}

// ─── Chunks ───────────────────────────────────────────────────────────────────

func (h *Handler) listChunks(w http.ResponseWriter, _ *http.Request) {
	recs, err := h.store.List()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	resp := chunkListResp{Chunks: make([]chunkResp, 0, len(recs))}
	for _, r := range recs {
		resp.Chunks = append(resp.Chunks, chunkResp{
			ID:            r.ID,
			Offset:        r.Offset,
			Size:          r.Size,
			StartNanos:    r.StartNanos,
			DurationNanos: r.DurationNanos,
			Events:        r.Events,
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) getChunk(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := repository.ValidateID(id); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid chunk id"})
		return
	}
	chunk, _, err := h.store.Get(id)
	switch {
	case errors.Is(err, repository.ErrNotFound):
		writeError(w, http.StatusNotFound, err)
		return
	case err != nil:
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeChunk(w, id+".jfr", chunk)
}

func (h *Handler) getRecording(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Disposition", `attachment; filename="recording.jfr"`)
	// Headers are already sent once Export starts writing, so a failure can
	// only cut the body short.
	_, _ = h.store.Export(w)
}

// dump forces the current chunk out to the repository.
func (h *Handler) dump(w http.ResponseWriter, _ *http.Request) {
	if h.flusher == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "no recording in progress"})
		return
	}
	id, err := h.flusher.Flush()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if id == "" {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	writeJSON(w, http.StatusCreated, dumpResp{ID: id})
}

// ─── helpers ──────────────────────────────────────────────────────────────────

func writeChunk(w http.ResponseWriter, name string, data []byte) {
	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.Header().Set("Content-Disposition", `attachment; filename="`+name+`"`)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, err error) {
	writeJSON(w, code, map[string]string{"error": err.Error()})
}

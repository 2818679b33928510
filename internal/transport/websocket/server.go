// Package websocket streams newly stored chunks to connected clients.
//
// Clients open a WebSocket connection to:
//
//	GET /chunks/stream[?data=1][&from=start]
//
// The server polls the repository and announces every chunk stored after the
// connection opened (or every chunk, with from=start). With data=1 each
// announcement is followed by a binary frame holding the chunk bytes.
//
// Server → client frame:
//
//	{"type":"chunk","id":"<ULID>","size":...,"events":...,"start_ns":...,"duration_ns":...}
//
// Client → server control frame:
//
//	{"type":"dump"}   dump the chunk being recorded now
package websocket

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	gorillaws "github.com/gorilla/websocket"

	"github.com/snehjoshi/flightrec/internal/repository"
)

const (
	defaultPollInterval = 200 * time.Millisecond
	writeTimeout        = 10 * time.Second
)

var upgrader = gorillaws.Upgrader{
	// Same-origin browsers only; requests without an Origin header (native
	// clients, curl) are allowed.
	CheckOrigin: func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		host, err := parseHost(origin)
		if err != nil {
			return false
		}
		return host == r.Host
	},
	ReadBufferSize:  1024,
	WriteBufferSize: 64 << 10,
}

// parseHost returns the host:port (or just host) portion of a URL string.
func parseHost(rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return "", fmt.Errorf("invalid origin %q", rawURL)
	}
	return u.Host, nil
}

// Chunks is the part of the repository the stream reads.
type Chunks interface {
	List() ([]repository.ChunkRecord, error)
	Get(id string) ([]byte, repository.ChunkEntry, error)
}

// Flusher dumps the chunk being recorded.
type Flusher interface {
	Flush() (string, error)
}

// Handler serves the chunk stream.
type Handler struct {
	Chunks       Chunks
	Flusher      Flusher       // nil ignores dump requests
	PollInterval time.Duration // zero means 200ms
}

// ServerFrame announces one stored chunk.
type ServerFrame struct {
	Type          string `json:"type"` // "chunk"
	ID            string `json:"id"`
	Size          int64  `json:"size"`
	Events        int64  `json:"events"`
	StartNanos    int64  `json:"start_ns"`
	DurationNanos int64  `json:"duration_ns"`
}

// ClientFrame is a control message from the client.
type ClientFrame struct {
	Type string `json:"type"` // "dump"
}

// ServeHTTP upgrades the connection and starts the push loop.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	withData := r.URL.Query().Get("data") == "1"
	fromStart := r.URL.Query().Get("from") == "start"

	var last string
	if !fromStart {
		recs, err := h.Chunks.List()
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		if len(recs) > 0 {
			last = recs[len(recs)-1].ID
		}
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("websocket upgrade failed", "err", err)
		return
	}
	defer conn.Close()

	controlCh := make(chan ClientFrame, 16)
	done := make(chan struct{})
	defer close(done)
	go readControl(func() ([]byte, error) {
		_, raw, err := conn.ReadMessage()
		return raw, err
	}, controlCh, done)

	interval := h.PollInterval
	if interval <= 0 {
		interval = defaultPollInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			return

		case cf, ok := <-controlCh:
			if !ok {
				return // client disconnected
			}
			if cf.Type == "dump" && h.Flusher != nil {
				if _, err := h.Flusher.Flush(); err != nil {
					slog.Warn("ws dump failed", "err", err)
				}
			}

		case <-ticker.C:
			recs, err := h.Chunks.List()
			if err != nil {
				slog.Warn("ws list chunks failed", "err", err)
				continue
			}
			for _, rec := range recs {
				// ULIDs sort in store order.
				if rec.ID <= last {
					continue
				}
				if err := h.push(conn, rec, withData); err != nil {
					return
				}
				last = rec.ID
			}
		}
	}
}

// readControl decodes client control frames into out until read fails or
// done is closed. out is closed on return.
func readControl(read func() ([]byte, error), out chan<- ClientFrame, done <-chan struct{}) {
	defer close(out)
	for {
		raw, err := read()
		if err != nil {
			return
		}
		var cf ClientFrame
		if json.Unmarshal(raw, &cf) != nil {
			continue
		}
		select {
		case out <- cf:
		case <-done:
			return
		}
	}
}

func (h *Handler) push(conn *gorillaws.Conn, rec repository.ChunkRecord, withData bool) error {
	frame, _ := json.Marshal(ServerFrame{
		Type:          "chunk",
		ID:            rec.ID,
		Size:          rec.Size,
		Events:        rec.Events,
		StartNanos:    rec.StartNanos,
		DurationNanos: rec.DurationNanos,
	})
	_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := conn.WriteMessage(gorillaws.TextMessage, frame); err != nil {
		return err
	}
	if !withData {
		return nil
	}
	chunk, _, err := h.Chunks.Get(rec.ID)
	if err != nil {
		// Dropped by retention between List and Get.
		slog.Warn("ws read chunk failed", "id", rec.ID, "err", err)
		return nil
	}
	_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return conn.WriteMessage(gorillaws.BinaryMessage, chunk)
}

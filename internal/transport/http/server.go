// Package http serves a running recorder's chunks over HTTP.
//
// Routes (Go 1.22+ method-qualified patterns):
//
//	GET    /health
//	GET    /chunks
//	GET    /chunks/{id}
//	GET    /chunks/stream      (WebSocket)
//	GET    /recording
//	POST   /dump
//	GET    /metrics
package http

import (
	"context"
	"net/http"
	"time"

	"github.com/snehjoshi/flightrec/internal/config"
	"github.com/snehjoshi/flightrec/internal/metrics"
	transportws "github.com/snehjoshi/flightrec/internal/transport/websocket"
)

// Server wraps the stdlib HTTP server with the recorder's routes.
type Server struct {
	inner *http.Server
}

// New builds a Server. reg may be nil, which disables /metrics. The caller
// is responsible for calling ListenAndServe / Shutdown.
func New(store ChunkStore, flusher Flusher, cfg config.ServerConfig, reg *metrics.Registry) *Server {
	h := &Handler{store: store, flusher: flusher}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", h.health)
	mux.HandleFunc("GET /chunks", h.listChunks)
	mux.HandleFunc("GET /chunks/{id}", h.getChunk)
	mux.Handle("GET /chunks/stream", &transportws.Handler{Chunks: store, Flusher: flusher})
	mux.HandleFunc("GET /recording", h.getRecording)
	mux.HandleFunc("POST /dump", h.dump)
	if reg != nil {
		mux.Handle("GET /metrics", reg.Handler())
	}

	var handler http.Handler = mux
	handler = chain(handler,
		LoggingMiddleware,
		AuthMiddleware(cfg.APIKey, reg),
		RateLimitMiddleware(cfg.RateLimit, cfg.RateBurst, reg),
	)

	return &Server{
		inner: &http.Server{
			Handler:           handler,
			ReadHeaderTimeout: 5 * time.Second,
			WriteTimeout:      60 * time.Second,
			IdleTimeout:       120 * time.Second,
		},
	}
}

// Handler returns the composed http.Handler (useful for testing).
func (s *Server) Handler() http.Handler { return s.inner.Handler }

// ListenAndServe starts the server on the given address (e.g. ":7070").
func (s *Server) ListenAndServe(addr string) error {
	s.inner.Addr = addr
	return s.inner.ListenAndServe()
}

// Shutdown gracefully stops the server, waiting up to ctx's deadline for
// in-flight requests to finish.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.inner.Shutdown(ctx)
}

package http_test

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	gorillaws "github.com/gorilla/websocket"

	"github.com/snehjoshi/flightrec/internal/config"
	"github.com/snehjoshi/flightrec/internal/jfr"
	"github.com/snehjoshi/flightrec/internal/metrics"
	"github.com/snehjoshi/flightrec/internal/repository"
	"github.com/snehjoshi/flightrec/internal/sampler"
	transphttp "github.com/snehjoshi/flightrec/internal/transport/http"
)

// ─── helpers ─────────────────────────────────────────────────────────────────

type stubFlusher struct {
	id  string
	err error
}

func (f stubFlusher) Flush() (string, error) { return f.id, f.err }

func dumpSamples(t *testing.T, n int) []byte {
	t.Helper()
	w, err := sampler.NewWriter(sampler.WithClock(func() time.Time {
		return time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	}))
	if err != nil {
		t.Fatalf("NewWriter: %v", err)
	}
	for i := 0; i < n; i++ {
		if err := w.WriteThreadSample(sampler.ThreadInfo{ID: int64(i), Name: "g", State: "running"}); err != nil {
			t.Fatalf("WriteThreadSample: %v", err)
		}
	}
	data, err := w.Dump()
	if err != nil {
		t.Fatalf("Dump: %v", err)
	}
	return data
}

func newTestRepo(t *testing.T) *repository.Repository {
	t.Helper()
	r, err := repository.Open(t.TempDir(), repository.Config{Fsync: repository.FsyncNever})
	if err != nil {
		t.Fatalf("repository.Open: %v", err)
	}
	t.Cleanup(func() { _ = r.Close() })
	return r
}

func newTestServer(t *testing.T, repo *repository.Repository, f transphttp.Flusher, cfg config.ServerConfig) http.Handler {
	t.Helper()
	h, _ := newTestServerWithMetrics(t, repo, f, cfg)
	return h
}

func newTestServerWithMetrics(t *testing.T, repo *repository.Repository, f transphttp.Flusher, cfg config.ServerConfig) (http.Handler, *metrics.Registry) {
	t.Helper()
	reg := &metrics.Registry{}
	reg.ChunksDumped.Inc("sampler")
	return transphttp.New(repo, f, cfg, reg).Handler(), reg
}

func doRequest(t *testing.T, h http.Handler, method, path string, hdr map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	for k, v := range hdr {
		req.Header.Set(k, v)
	}
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

// ─── routes ──────────────────────────────────────────────────────────────────

func TestHealth(t *testing.T) {
	repo := newTestRepo(t)
	h := newTestServer(t, repo, nil, config.ServerConfig{})

	rr := doRequest(t, h, http.MethodGet, "/health", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rr.Code)
	}
	var body struct {
		Status      string `json:"status"`
		RecordingID string `json:"recording_id"`
	}
	if err := json.NewDecoder(rr.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Status != "ok" || body.RecordingID != repo.RecordingID() {
		t.Errorf("health = %+v", body)
	}
}

func TestChunks_ListAndGet(t *testing.T) {
	repo := newTestRepo(t)
	chunk := dumpSamples(t, 3)
	id, err := repo.Store(chunk, 3)
	if err != nil {
		t.Fatalf("Store: %v", err)
	}
	h := newTestServer(t, repo, nil, config.ServerConfig{})

	rr := doRequest(t, h, http.MethodGet, "/chunks", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("list status = %d", rr.Code)
	}
	var list struct {
		Chunks []struct {
			ID     string `json:"id"`
			Events int64  `json:"events"`
		} `json:"chunks"`
	}
	if err := json.NewDecoder(rr.Body).Decode(&list); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(list.Chunks) != 1 || list.Chunks[0].ID != id || list.Chunks[0].Events != 3 {
		t.Fatalf("list = %+v", list)
	}

	rr = doRequest(t, h, http.MethodGet, "/chunks/"+id, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("get status = %d", rr.Code)
	}
	if !bytes.Equal(rr.Body.Bytes(), chunk) {
		t.Error("downloaded chunk differs from stored chunk")
	}
}

func TestChunks_GetErrors(t *testing.T) {
	h := newTestServer(t, newTestRepo(t), nil, config.ServerConfig{})

	if rr := doRequest(t, h, http.MethodGet, "/chunks/not-a-ulid", nil); rr.Code != http.StatusBadRequest {
		t.Errorf("invalid id: status = %d, want 400", rr.Code)
	}
	if rr := doRequest(t, h, http.MethodGet, "/chunks/"+repository.MustNewID(), nil); rr.Code != http.StatusNotFound {
		t.Errorf("unknown id: status = %d, want 404", rr.Code)
	}
}

func TestRecording_IsParseable(t *testing.T) {
	repo := newTestRepo(t)
	for i := 1; i <= 2; i++ {
		if _, err := repo.Store(dumpSamples(t, i), i); err != nil {
			t.Fatalf("Store: %v", err)
		}
	}
	h := newTestServer(t, repo, nil, config.ServerConfig{})

	rr := doRequest(t, h, http.MethodGet, "/recording", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	chunks, err := jfr.ParseRecording(rr.Body.Bytes())
	if err != nil {
		t.Fatalf("ParseRecording: %v", err)
	}
	if len(chunks) != 2 {
		t.Errorf("chunks = %d, want 2", len(chunks))
	}
}

func TestDump(t *testing.T) {
	repo := newTestRepo(t)

	tests := []struct {
		name    string
		flusher transphttp.Flusher
		want    int
	}{
		{"no recorder", nil, http.StatusServiceUnavailable},
		{"empty chunk", stubFlusher{}, http.StatusNoContent},
		{"stored", stubFlusher{id: "01J0000000000000000000000"}, http.StatusCreated},
		{"failure", stubFlusher{err: errors.New("boom")}, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newTestServer(t, repo, tt.flusher, config.ServerConfig{})
			if rr := doRequest(t, h, http.MethodPost, "/dump", nil); rr.Code != tt.want {
				t.Errorf("status = %d, want %d", rr.Code, tt.want)
			}
		})
	}
}

func TestMetricsRoute(t *testing.T) {
	h := newTestServer(t, newTestRepo(t), nil, config.ServerConfig{})
	rr := doRequest(t, h, http.MethodGet, "/metrics", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), "flightrec_chunks_dumped_total") {
		t.Errorf("metrics body:\n%s", rr.Body.String())
	}
}

// ─── middleware ──────────────────────────────────────────────────────────────

func TestAuth_RequiresKey(t *testing.T) {
	h, reg := newTestServerWithMetrics(t, newTestRepo(t), nil, config.ServerConfig{APIKey: "s3cret"})

	if rr := doRequest(t, h, http.MethodGet, "/health", nil); rr.Code != http.StatusUnauthorized {
		t.Errorf("no key: status = %d, want 401", rr.Code)
	}
	if rr := doRequest(t, h, http.MethodGet, "/health", map[string]string{"X-Api-Key": "wrong"}); rr.Code != http.StatusUnauthorized {
		t.Errorf("wrong key: status = %d, want 401", rr.Code)
	}
	if rr := doRequest(t, h, http.MethodGet, "/health", map[string]string{"X-Api-Key": "s3cret"}); rr.Code != http.StatusOK {
		t.Errorf("right key: status = %d, want 200", rr.Code)
	}
	if got := reg.HTTPRejected.Get("unauthorized"); got != 2 {
		t.Errorf("rejected{unauthorized} = %d, want 2", got)
	}
}

func TestRateLimit_RejectsBurst(t *testing.T) {
	h, reg := newTestServerWithMetrics(t, newTestRepo(t), nil, config.ServerConfig{RateLimit: 0.001, RateBurst: 2})

	hdr := map[string]string{"X-Forwarded-For": "203.0.113.7"}
	for i := 0; i < 2; i++ {
		if rr := doRequest(t, h, http.MethodGet, "/health", hdr); rr.Code != http.StatusOK {
			t.Fatalf("request %d: status = %d, want 200", i, rr.Code)
		}
	}
	if rr := doRequest(t, h, http.MethodGet, "/health", hdr); rr.Code != http.StatusTooManyRequests {
		t.Errorf("over burst: status = %d, want 429", rr.Code)
	}
	other := map[string]string{"X-Forwarded-For": "203.0.113.8"}
	if rr := doRequest(t, h, http.MethodGet, "/health", other); rr.Code != http.StatusOK {
		t.Errorf("other client: status = %d, want 200", rr.Code)
	}
	if got := reg.HTTPRejected.Get("rate_limited"); got != 1 {
		t.Errorf("rejected{rate_limited} = %d, want 1", got)
	}
}

func TestStreamRoute_UpgradesThroughMiddleware(t *testing.T) {
	repo := newTestRepo(t)
	srv := httptest.NewServer(newTestServer(t, repo, nil, config.ServerConfig{RateLimit: 100, RateBurst: 10}))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/chunks/stream"
	conn, _, err := gorillaws.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer conn.Close()

	id, err := repo.Store(dumpSamples(t, 1), 1)
	if err != nil {
		t.Fatalf("Store: %v", err)
	}
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var frame struct {
		ID string `json:"id"`
	}
	if err := conn.ReadJSON(&frame); err != nil {
		t.Fatalf("ReadJSON: %v", err)
	}
	if frame.ID != id {
		t.Errorf("frame id = %s, want %s", frame.ID, id)
	}
}

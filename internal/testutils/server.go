// Package testutils provides an HTTP file server with scripted failure modes for tests.
package testutils

import (
	"fmt"
	"math/rand"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
)

// FixtureSize is three KiB plus one byte.
const FixtureSize = 3073

// Fixture returns size deterministic pseudo-random bytes.
func Fixture(size int) []byte {
	r := rand.New(rand.NewSource(int64(size)))
	b := make([]byte, size)
	_, _ = r.Read(b)

	return b
}

// FileServer serves one payload on several paths:
//
//	/file          always complete, honours Range
//	/norange       always complete, ignores Range
//	/faulty        alternates 502 and a body cut after ?cut= bytes (default 1000)
//	/hold          writes ?cut= bytes, then blocks until Release or the client leaves
//	/status/{code} replies with the given status code
type FileServer struct {
	*httptest.Server

	data     []byte
	requests atomic.Int64
	faulty   atomic.Int64

	mu     sync.Mutex
	ranges []string

	release     chan struct{}
	releaseOnce sync.Once
}

func NewFileServer(t testing.TB, data []byte) *FileServer {
	t.Helper()

	s := &FileServer{data: data, release: make(chan struct{})}

	mux := http.NewServeMux()
	mux.HandleFunc("/file", func(w http.ResponseWriter, r *http.Request) { s.serve(w, r, true, -1) })
	mux.HandleFunc("/norange", func(w http.ResponseWriter, r *http.Request) { s.serve(w, r, false, -1) })
	mux.HandleFunc("/faulty", s.handleFaulty)
	mux.HandleFunc("/hold", s.handleHold)
	mux.HandleFunc("/status/{code}", func(w http.ResponseWriter, r *http.Request) {
		code, err := strconv.Atoi(r.PathValue("code"))
		if err != nil {
			code = http.StatusBadRequest
		}

		http.Error(w, http.StatusText(code), code)
	})

	s.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.requests.Add(1)
		s.mu.Lock()
		s.ranges = append(s.ranges, r.Header.Get("Range"))
		s.mu.Unlock()

		mux.ServeHTTP(w, r)
	}))

	t.Cleanup(s.Server.Close)
	t.Cleanup(s.Release)

	return s
}

// URLFor joins the server address with path.
func (s *FileServer) URLFor(path string) string {
	return s.Server.URL + path
}

func (s *FileServer) Requests() int {
	return int(s.requests.Load())
}

// Ranges lists the Range header of every request received, "" when absent.
func (s *FileServer) Ranges() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	return append([]string(nil), s.ranges...)
}

// Release unblocks every held request.
func (s *FileServer) Release() {
	s.releaseOnce.Do(func() { close(s.release) })
}

func (s *FileServer) handleFaulty(w http.ResponseWriter, r *http.Request) {
	if s.faulty.Add(1)%2 == 1 {
		http.Error(w, "bad gateway", http.StatusBadGateway)
		return
	}

	s.serve(w, r, true, cutParam(r, 1000))
}

func (s *FileServer) handleHold(w http.ResponseWriter, r *http.Request) {
	start, ok := s.writeHeader(w, r, true)
	if !ok {
		return
	}

	body := s.data[start:]
	cut := min(cutParam(r, 0), len(body))

	_, _ = w.Write(body[:cut])
	w.(http.Flusher).Flush()

	select {
	case <-s.release:
	case <-r.Context().Done():
		return
	}

	_, _ = w.Write(body[cut:])
}

// serve writes the payload from the requested offset. With cut >= 0 the connection is
// dropped after cut bytes of body.
func (s *FileServer) serve(w http.ResponseWriter, r *http.Request, honourRange bool, cut int) {
	start, ok := s.writeHeader(w, r, honourRange)
	if !ok {
		return
	}

	body := s.data[start:]
	if cut < 0 || cut >= len(body) {
		_, _ = w.Write(body)
		return
	}

	_, _ = w.Write(body[:cut])
	w.(http.Flusher).Flush()

	panic(http.ErrAbortHandler)
}

func (s *FileServer) writeHeader(w http.ResponseWriter, r *http.Request, honourRange bool) (int, bool) {
	size := len(s.data)
	start := 0

	if honourRange {
		start = parseRangeStart(r.Header.Get("Range"))
	}

	w.Header().Set("Content-Type", "application/octet-stream")

	if honourRange {
		w.Header().Set("Accept-Ranges", "bytes")
	}

	if start >= size && start > 0 {
		w.Header().Set("Content-Range", fmt.Sprintf("bytes */%d", size))
		w.WriteHeader(http.StatusRequestedRangeNotSatisfiable)

		return 0, false
	}

	w.Header().Set("Content-Length", strconv.Itoa(size-start))

	if start > 0 {
		w.Header().Set("Content-Range", fmt.Sprintf("bytes %d-%d/%d", start, size-1, size))
		w.WriteHeader(http.StatusPartialContent)

		return start, true
	}

	w.WriteHeader(http.StatusOK)

	return 0, true
}

func parseRangeStart(header string) int {
	rng, ok := strings.CutPrefix(header, "bytes=")
	if !ok {
		return 0
	}

	first, _, _ := strings.Cut(rng, "-")

	n, err := strconv.Atoi(first)
	if err != nil || n < 0 {
		return 0
	}

	return n
}

func cutParam(r *http.Request, def int) int {
	v := r.URL.Query().Get("cut")
	if v == "" {
		return def
	}

	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}

	return n
}

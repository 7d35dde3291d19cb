package downloader

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"

	"hls-offline/internal/hls"
	"hls-offline/internal/storage"
)

// streamServer serves fixed bodies by path and fails the paths listed in status.
type streamServer struct {
	*httptest.Server

	mu       sync.Mutex
	bodies   map[string]string
	status   map[string]int
	inFlight atomic.Int32
	peak     atomic.Int32
}

func newStreamServer(t *testing.T, bodies map[string]string) *streamServer {
	t.Helper()
	s := &streamServer{bodies: bodies, status: map[string]int{}}
	s.Server = httptest.NewServer(http.HandlerFunc(s.serve))
	t.Cleanup(s.Close)
	return s
}

func (s *streamServer) serve(w http.ResponseWriter, r *http.Request) {
	n := s.inFlight.Add(1)
	defer s.inFlight.Add(-1)
	for {
		peak := s.peak.Load()
		if n <= peak || s.peak.CompareAndSwap(peak, n) {
			break
		}
	}

	s.mu.Lock()
	code, failing := s.status[r.URL.Path]
	body, ok := s.bodies[r.URL.Path]
	s.mu.Unlock()

	switch {
	case failing:
		w.WriteHeader(code)
	case !ok:
		http.NotFound(w, r)
	default:
		if strings.HasSuffix(r.URL.Path, ".m3u8") {
			w.Header().Set("Content-Type", "application/vnd.apple.mpegurl")
		}
		_, _ = w.Write([]byte(body))
	}
}

func (s *streamServer) fail(path string, code int) {
	s.mu.Lock()
	s.status[path] = code
	s.mu.Unlock()
}

func (s *streamServer) url(path string) string {
	return s.URL + path
}

func newTestFetcher(s *streamServer) *hls.Fetcher {
	return hls.NewFetcher(hls.FetcherConfig{Client: s.Client()})
}

func nullLogger() (*logrus.Logger, *logtest.Hook) {
	logger, hook := logtest.NewNullLogger()
	logger.SetLevel(logrus.DebugLevel)
	return logger, hook
}

func newTestSegmentDownloader(s *streamServer) *SegmentDownloader {
	logger, _ := nullLogger()
	return NewSegmentDownloader(newTestFetcher(s), storage.NewLocalFS(), logger)
}

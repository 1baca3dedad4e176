package ingest

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/crowdsight/crowd-density-server/internal/logger"
	"github.com/crowdsight/crowd-density-server/internal/vision"
)

// networkSource reads an MJPEG stream over HTTP. A dedicated reader goroutine
// performs the blocking network reads and pushes decoded frames into a small
// drop-oldest ring, so a slow consumer never backs the connection up and the
// worker loop always processes the freshest frame available.
type networkSource struct {
	url  string
	ring *Ring

	mu     sync.Mutex
	resp   *http.Response
	cancel context.CancelFunc
	opened bool
}

func newNetworkSource(url string, ringCapacity int) *networkSource {
	return &networkSource{
		url:  url,
		ring: NewRing(ringCapacity),
	}
}

func (s *networkSource) Open(ctx context.Context) error {
	readCtx, cancel := context.WithCancel(context.Background())

	req, err := http.NewRequestWithContext(readCtx, http.MethodGet, s.url, nil)
	if err != nil {
		cancel()
		return fmt.Errorf("%w: %v", ErrSourceUnavailable, err)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		cancel()
		return fmt.Errorf("%w: %v", ErrSourceUnavailable, err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		cancel()
		return fmt.Errorf("%w: %s returned %s", ErrSourceUnavailable, s.url, resp.Status)
	}

	s.mu.Lock()
	s.resp = resp
	s.cancel = cancel
	s.opened = true
	s.mu.Unlock()

	go s.readLoop(resp)
	return nil
}

func (s *networkSource) readLoop(resp *http.Response) {
	defer s.ring.Close()
	defer resp.Body.Close()

	scanner := newJPEGScanner(resp.Body)
	var seq uint64
	for {
		raw, err := scanner.next()
		if err != nil {
			logger.Debug("Ingest", "network stream %s ended: %v", s.url, err)
			return
		}

		seq++
		frame, err := decodeFrame(raw, seq, time.Now())
		if err != nil {
			// Corrupt image inside an otherwise healthy stream; skip it.
			logger.Warn("Ingest", "network stream %s: %v", s.url, err)
			continue
		}
		s.ring.Push(frame)
	}
}

func (s *networkSource) Next(ctx context.Context) (*vision.Frame, error) {
	return s.ring.Pop(ctx)
}

// Dropped reports how many frames the ring evicted because the consumer
// lagged behind the stream.
func (s *networkSource) Dropped() uint64 {
	return s.ring.Dropped()
}

func (s *networkSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.opened {
		return nil
	}
	s.opened = false
	s.cancel()
	s.ring.Close()
	return nil
}

package ingest

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/crowdsight/crowd-density-server/internal/vision"
)

// deviceSource reads a local capture device node configured for MJPEG output
// (the common default for USB cameras). Like the file source it paces itself
// to the target frame interval; a capture device produces at sensor rate and
// needs no drop-oldest buffering of its own.
type deviceSource struct {
	path     string
	interval time.Duration

	f        *os.File
	scanner  *jpegScanner
	seq      uint64
	lastEmit time.Time
}

func newDeviceSource(path string, index int, interval time.Duration) *deviceSource {
	if path == "" {
		path = fmt.Sprintf("/dev/video%d", index)
	}
	return &deviceSource{path: path, interval: interval}
}

func (s *deviceSource) Open(ctx context.Context) error {
	f, err := os.Open(s.path)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrSourceUnavailable, err)
	}
	s.f = f
	s.scanner = newJPEGScanner(f)
	return nil
}

func (s *deviceSource) Next(ctx context.Context) (*vision.Frame, error) {
	if s.lastEmit.IsZero() {
		s.lastEmit = time.Now()
	} else {
		wait := s.interval - time.Since(s.lastEmit)
		if wait > 0 {
			timer := time.NewTimer(wait)
			defer timer.Stop()
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-timer.C:
			}
		}
		s.lastEmit = time.Now()
	}

	raw, err := s.scanner.next()
	if err != nil {
		if err == io.EOF {
			return nil, io.EOF
		}
		return nil, fmt.Errorf("device read: %w", err)
	}
	s.seq++
	return decodeFrame(raw, s.seq, time.Now())
}

func (s *deviceSource) Close() error {
	if s.f != nil {
		return s.f.Close()
	}
	return nil
}

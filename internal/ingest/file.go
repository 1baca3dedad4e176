package ingest

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/crowdsight/crowd-density-server/internal/vision"
)

// fileSource replays recorded footage: either a directory of image files
// (played in name order) or a single MJPEG file. It paces itself to the
// configured frame interval instead of buffering, and ends the frame
// sequence cleanly at the last frame.
type fileSource struct {
	path     string
	interval time.Duration

	// directory playback
	files []string
	idx   int

	// mjpeg playback
	f       *os.File
	scanner *jpegScanner

	seq      uint64
	lastEmit time.Time
}

func newFileSource(path string, interval time.Duration) *fileSource {
	return &fileSource{path: path, interval: interval}
}

func (s *fileSource) Open(ctx context.Context) error {
	info, err := os.Stat(s.path)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrSourceUnavailable, err)
	}

	if info.IsDir() {
		entries, err := os.ReadDir(s.path)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrSourceUnavailable, err)
		}
		for _, e := range entries {
			if e.IsDir() {
				continue
			}
			switch strings.ToLower(filepath.Ext(e.Name())) {
			case ".jpg", ".jpeg", ".png":
				s.files = append(s.files, filepath.Join(s.path, e.Name()))
			}
		}
		sort.Strings(s.files)
		if len(s.files) == 0 {
			return fmt.Errorf("%w: no image files in %s", ErrSourceUnavailable, s.path)
		}
		return nil
	}

	f, err := os.Open(s.path)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrSourceUnavailable, err)
	}
	s.f = f
	s.scanner = newJPEGScanner(f)
	return nil
}

func (s *fileSource) Next(ctx context.Context) (*vision.Frame, error) {
	if err := s.pace(ctx); err != nil {
		return nil, err
	}

	if s.scanner != nil {
		raw, err := s.scanner.next()
		if err != nil {
			return nil, io.EOF
		}
		s.seq++
		return decodeFrame(raw, s.seq, time.Now())
	}

	if s.idx >= len(s.files) {
		return nil, io.EOF
	}
	data, err := os.ReadFile(s.files[s.idx])
	if err != nil {
		return nil, err
	}
	s.idx++
	s.seq++
	return decodeFrame(data, s.seq, time.Now())
}

// pace spaces frame delivery at the configured interval so that recorded
// footage plays at roughly real-time speed for a viewer.
func (s *fileSource) pace(ctx context.Context) error {
	if s.lastEmit.IsZero() {
		s.lastEmit = time.Now()
		return nil
	}
	wait := s.interval - time.Since(s.lastEmit)
	if wait > 0 {
		timer := time.NewTimer(wait)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
		}
	}
	s.lastEmit = time.Now()
	return nil
}

func (s *fileSource) Close() error {
	if s.f != nil {
		return s.f.Close()
	}
	return nil
}

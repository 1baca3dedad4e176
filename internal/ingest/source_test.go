package ingest

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/crowdsight/crowd-density-server/internal/vision"
)

// testJPEG encodes a uniform gray frame for fixtures.
func testJPEG(t *testing.T, w, h int, shade uint8) []byte {
	t.Helper()
	f := &vision.Frame{Width: w, Height: h, Pixels: make([]uint8, w*h)}
	for i := range f.Pixels {
		f.Pixels[i] = shade
	}
	data, err := encodeJPEG(f)
	if err != nil {
		t.Fatalf("encode fixture: %v", err)
	}
	return data
}

func TestJPEGScannerSplitsConcatenatedImages(t *testing.T) {
	a := testJPEG(t, 8, 8, 10)
	b := testJPEG(t, 8, 8, 200)

	var stream bytes.Buffer
	stream.Write(a)
	stream.WriteString("\r\n--boundary\r\nContent-Type: image/jpeg\r\n\r\n")
	stream.Write(b)

	sc := newJPEGScanner(&stream)

	first, err := sc.next()
	if err != nil {
		t.Fatalf("first image: %v", err)
	}
	if !bytes.Equal(first, a) {
		t.Fatalf("first image differs from input (%d vs %d bytes)", len(first), len(a))
	}

	second, err := sc.next()
	if err != nil {
		t.Fatalf("second image: %v", err)
	}
	if !bytes.Equal(second, b) {
		t.Fatalf("second image differs from input")
	}

	if _, err := sc.next(); err == nil {
		t.Fatalf("expected EOF after last image")
	}
}

func TestFileSourcePlaysDirectoryInOrder(t *testing.T) {
	dir := t.TempDir()
	shades := []uint8{30, 120, 220}
	for i, shade := range shades {
		name := filepath.Join(dir, "frame_"+string(rune('a'+i))+".jpg")
		if err := os.WriteFile(name, testJPEG(t, 8, 8, shade), 0o644); err != nil {
			t.Fatalf("write fixture: %v", err)
		}
	}

	src, err := New(Config{Kind: KindFile, URL: dir}, Options{FrameInterval: time.Millisecond})
	if err != nil {
		t.Fatalf("new source: %v", err)
	}
	ctx := context.Background()
	if err := src.Open(ctx); err != nil {
		t.Fatalf("open: %v", err)
	}
	defer src.Close()

	var prev uint8
	for i := range shades {
		f, err := src.Next(ctx)
		if err != nil {
			t.Fatalf("frame %d: %v", i, err)
		}
		if f.Seq != uint64(i+1) {
			t.Fatalf("frame %d seq = %d", i, f.Seq)
		}
		// JPEG is lossy; shades just need to come out ascending.
		if i > 0 && f.Pixels[0] <= prev {
			t.Fatalf("frame %d out of order: shade %d after %d", i, f.Pixels[0], prev)
		}
		prev = f.Pixels[0]
	}

	if _, err := src.Next(ctx); err != io.EOF {
		t.Fatalf("after last frame err = %v, want io.EOF", err)
	}
}

func TestFileSourcePlaysMJPEGFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "clip.mjpeg")
	var stream bytes.Buffer
	stream.Write(testJPEG(t, 8, 8, 50))
	stream.Write(testJPEG(t, 8, 8, 150))
	if err := os.WriteFile(path, stream.Bytes(), 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}

	src := newFileSource(path, time.Millisecond)
	ctx := context.Background()
	if err := src.Open(ctx); err != nil {
		t.Fatalf("open: %v", err)
	}
	defer src.Close()

	for i := 0; i < 2; i++ {
		if _, err := src.Next(ctx); err != nil {
			t.Fatalf("frame %d: %v", i, err)
		}
	}
	if _, err := src.Next(ctx); err != io.EOF {
		t.Fatalf("after last frame err = %v, want io.EOF", err)
	}
}

func TestFileSourceMissingPathIsUnavailable(t *testing.T) {
	src := newFileSource("/does/not/exist", time.Millisecond)
	err := src.Open(context.Background())
	if !errors.Is(err, ErrSourceUnavailable) {
		t.Fatalf("open err = %v, want ErrSourceUnavailable", err)
	}
}

func TestNewRejectsUnknownKind(t *testing.T) {
	if _, err := New(Config{Kind: "carrier-pigeon"}, Options{}); err == nil {
		t.Fatalf("expected error for unknown source kind")
	}
}

func TestNewAcceptsLegacyAliases(t *testing.T) {
	for _, kind := range []Kind{"rtsp", "webcam"} {
		if _, err := New(Config{Kind: kind, URL: "x"}, Options{}); err != nil {
			t.Fatalf("alias %q rejected: %v", kind, err)
		}
	}
}

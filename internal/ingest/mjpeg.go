package ingest

import (
	"bufio"
	"bytes"
	"fmt"
	"image"
	"image/jpeg"
	_ "image/png" // register PNG decoding for image-sequence files
	"io"
	"time"

	"github.com/crowdsight/crowd-density-server/internal/vision"
)

// jpegScanner extracts consecutive JPEG images from a byte stream by locating
// SOI/EOI marker pairs. It handles both raw concatenated JPEG streams
// (MJPEG files, V4L2 MJPEG devices) and multipart HTTP bodies, since the
// multipart boundaries and headers between images are skipped as garbage.
type jpegScanner struct {
	r *bufio.Reader
}

func newJPEGScanner(r io.Reader) *jpegScanner {
	return &jpegScanner{r: bufio.NewReaderSize(r, 64*1024)}
}

// next returns the raw bytes of the next JPEG image, or io.EOF.
func (s *jpegScanner) next() ([]byte, error) {
	// Seek the SOI marker (0xFFD8).
	for {
		b, err := s.r.ReadByte()
		if err != nil {
			return nil, err
		}
		if b != 0xFF {
			continue
		}
		b, err = s.r.ReadByte()
		if err != nil {
			return nil, err
		}
		if b == 0xD8 {
			break
		}
	}

	buf := []byte{0xFF, 0xD8}
	for {
		b, err := s.r.ReadByte()
		if err != nil {
			return nil, fmt.Errorf("truncated jpeg frame: %w", err)
		}
		buf = append(buf, b)
		if b != 0xFF {
			continue
		}
		b, err = s.r.ReadByte()
		if err != nil {
			return nil, fmt.Errorf("truncated jpeg frame: %w", err)
		}
		buf = append(buf, b)
		if b == 0xD9 {
			return buf, nil
		}
	}
}

// decodeFrame decodes an encoded image into a grayscale frame.
func decodeFrame(data []byte, seq uint64, ts time.Time) (*vision.Frame, error) {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode frame: %w", err)
	}
	return grayFrame(img, seq, ts), nil
}

// grayFrame converts any decoded image to the pipeline's luminance plane.
func grayFrame(img image.Image, seq uint64, ts time.Time) *vision.Frame {
	bounds := img.Bounds()
	w, h := bounds.Dx(), bounds.Dy()
	f := &vision.Frame{
		Seq:       seq,
		Timestamp: ts,
		Width:     w,
		Height:    h,
		Pixels:    make([]uint8, w*h),
	}

	if g, ok := img.(*image.Gray); ok {
		for y := 0; y < h; y++ {
			copy(f.Pixels[y*w:(y+1)*w], g.Pix[y*g.Stride:y*g.Stride+w])
		}
		return f
	}

	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			r, g, b, _ := img.At(bounds.Min.X+x, bounds.Min.Y+y).RGBA()
			// ITU-R BT.601 luma, 16-bit channels down to 8.
			lum := (299*r + 587*g + 114*b) / 1000
			f.Pixels[y*w+x] = uint8(lum >> 8)
		}
	}
	return f
}

// encodeJPEG is used by tests and the file source to round-trip frames.
func encodeJPEG(f *vision.Frame) ([]byte, error) {
	img := image.NewGray(image.Rect(0, 0, f.Width, f.Height))
	for y := 0; y < f.Height; y++ {
		copy(img.Pix[y*img.Stride:y*img.Stride+f.Width], f.Pixels[y*f.Width:(y+1)*f.Width])
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 85}); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

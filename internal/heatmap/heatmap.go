package heatmap

import (
	"bytes"
	"encoding/base64"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"

	"golang.org/x/image/draw"

	"github.com/crowdsight/crowd-density-server/internal/vision"
)

// Render converts a density surface into a JET-colormapped PNG, returned as
// a data URL ready for a browser <img> tag. The surface is normalized to its
// own maximum, so relative hot spots stay visible regardless of crowd size.
func Render(d *vision.DensityMap) (string, error) {
	img := image.NewRGBA(image.Rect(0, 0, d.Width, d.Height))

	max := d.Max()
	for y := 0; y < d.Height; y++ {
		for x := 0; x < d.Width; x++ {
			v := d.Values[y*d.Width+x]
			if max > 0 {
				v /= max
			}
			img.SetRGBA(x, y, jet(v))
		}
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return "", err
	}
	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}

// Preview downscales a frame to at most maxWidth and returns it as a JPEG
// data URL. Used for the bandwidth-bounded frame previews pushed to live
// subscribers.
func Preview(f *vision.Frame, maxWidth int) (string, error) {
	src := image.NewGray(image.Rect(0, 0, f.Width, f.Height))
	for y := 0; y < f.Height; y++ {
		copy(src.Pix[y*src.Stride:y*src.Stride+f.Width], f.Pixels[y*f.Width:(y+1)*f.Width])
	}

	w, h := f.Width, f.Height
	if maxWidth > 0 && w > maxWidth {
		h = h * maxWidth / w
		w = maxWidth
	}
	dst := image.NewGray(image.Rect(0, 0, w, h))
	draw.ApproxBiLinear.Scale(dst, dst.Bounds(), src, src.Bounds(), draw.Src, nil)

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, dst, &jpeg.Options{Quality: 70}); err != nil {
		return "", err
	}
	return "data:image/jpeg;base64," + base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}

// jet maps a normalized value to the classic blue-to-red JET ramp.
func jet(v float64) color.RGBA {
	if v < 0 {
		v = 0
	}
	if v > 1 {
		v = 1
	}
	r := clampChannel(1.5 - abs(4*v-3))
	g := clampChannel(1.5 - abs(4*v-2))
	b := clampChannel(1.5 - abs(4*v-1))
	return color.RGBA{R: r, G: g, B: b, A: 255}
}

func clampChannel(v float64) uint8 {
	if v < 0 {
		v = 0
	}
	if v > 1 {
		v = 1
	}
	return uint8(v * 255)
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}

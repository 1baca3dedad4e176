package vision

import (
	"math"
	"testing"
)

func flat(w, h int) *Frame {
	return &Frame{Width: w, Height: h, Pixels: make([]uint8, w*h)}
}

func TestSceneScoreFlatIsZero(t *testing.T) {
	if got := SceneScore(flat(16, 16)); got != 0 {
		t.Fatalf("flat score = %v, want 0", got)
	}
}

func TestSceneScoreTinyFrameIsZero(t *testing.T) {
	if got := SceneScore(flat(2, 2)); got != 0 {
		t.Fatalf("tiny frame score = %v, want 0", got)
	}
}

func TestSceneScoreCheckerboard(t *testing.T) {
	f := flat(16, 16)
	for y := 0; y < 16; y++ {
		for x := 0; x < 16; x++ {
			if (x+y)%2 == 0 {
				f.Pixels[y*16+x] = 255
			}
		}
	}
	// Every interior Laplacian is +-4*255; variance is (4*255)^2.
	want := float64(4*255) * float64(4*255)
	if got := SceneScore(f); math.Abs(got-want) > 1 {
		t.Fatalf("checkerboard score = %v, want %v", got, want)
	}
}

func TestDensityMapSumAndMax(t *testing.T) {
	m := NewDensityMap(4, 2)
	m.Values[0] = 1.5
	m.Values[7] = 2.5
	if m.Sum() != 4 {
		t.Fatalf("sum = %v, want 4", m.Sum())
	}
	if m.Max() != 2.5 {
		t.Fatalf("max = %v, want 2.5", m.Max())
	}
}

func TestBoundingBoxCenter(t *testing.T) {
	b := BoundingBox{X1: 2, Y1: 4, X2: 6, Y2: 8}
	cx, cy := b.Center()
	if cx != 4 || cy != 6 {
		t.Fatalf("center = (%v, %v), want (4, 6)", cx, cy)
	}
}

func TestFrameAtOutOfRange(t *testing.T) {
	f := flat(4, 4)
	f.Pixels[5] = 9
	if f.At(1, 1) != 9 {
		t.Fatalf("At(1,1) = %d, want 9", f.At(1, 1))
	}
	if f.At(-1, 0) != 0 || f.At(4, 0) != 0 {
		t.Fatalf("out-of-range At should be 0")
	}
}

func TestBlobDetectorFindsContrastingRegion(t *testing.T) {
	f := flat(64, 64)
	// One bright 12x12 block on a dark background.
	for y := 20; y < 32; y++ {
		for x := 10; x < 22; x++ {
			f.Pixels[y*64+x] = 255
		}
	}

	d := NewBlobDetector()
	boxes, err := d.Detect(f)
	if err != nil {
		t.Fatalf("detect: %v", err)
	}
	if len(boxes) != 1 {
		t.Fatalf("boxes = %d, want 1", len(boxes))
	}
	b := boxes[0]
	if b.ClassID != ClassPerson {
		t.Fatalf("class = %d, want person", b.ClassID)
	}
	if b.X1 != 10 || b.Y1 != 20 || b.X2 != 22 || b.Y2 != 32 {
		t.Fatalf("box = %+v, want (10,20)-(22,32)", b)
	}
}

func TestBlobDetectorIgnoresTinySpecks(t *testing.T) {
	f := flat(64, 64)
	f.Pixels[10*64+10] = 255

	d := NewBlobDetector()
	boxes, err := d.Detect(f)
	if err != nil {
		t.Fatalf("detect: %v", err)
	}
	if len(boxes) != 0 {
		t.Fatalf("boxes = %d, want 0 below MinArea", len(boxes))
	}
}

func TestGridDensityEstimatorShape(t *testing.T) {
	f := flat(64, 48)
	g := NewGridDensityEstimator()
	m, err := g.EstimateDensity(f)
	if err != nil {
		t.Fatalf("estimate: %v", err)
	}
	if m.Width != 4 || m.Height != 3 {
		t.Fatalf("map = %dx%d, want 4x3", m.Width, m.Height)
	}
	if m.Sum() != 0 {
		t.Fatalf("flat frame density sum = %v, want 0", m.Sum())
	}
}

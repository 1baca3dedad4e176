package vision

import "math"

// Heuristic baseline capabilities. They stand in for the real model backends
// when none is configured: cheap, deterministic, CPU-only estimates derived
// from local image structure. Accuracy is whatever the scene gives us; the
// point is that every pipeline path stays exercisable end to end.

const gridCell = 16

// GridDensityEstimator produces a density surface from local contrast: cells
// with more texture are assumed to hold more people. The surface is
// downscaled by the cell size relative to the frame.
type GridDensityEstimator struct {
	// Gain converts mean cell contrast into person-equivalents. Tuned so a
	// busy cell contributes on the order of one count.
	Gain float64
}

// NewGridDensityEstimator returns the estimator with the default gain.
func NewGridDensityEstimator() *GridDensityEstimator {
	return &GridDensityEstimator{Gain: 1.0 / 48.0}
}

func (g *GridDensityEstimator) EstimateDensity(f *Frame) (*DensityMap, error) {
	cols := (f.Width + gridCell - 1) / gridCell
	rows := (f.Height + gridCell - 1) / gridCell
	m := NewDensityMap(cols, rows)

	for cy := 0; cy < rows; cy++ {
		for cx := 0; cx < cols; cx++ {
			m.Values[cy*cols+cx] = g.Gain * cellContrast(f, cx*gridCell, cy*gridCell)
		}
	}
	return m, nil
}

// cellContrast returns the mean absolute deviation of luminance in one cell.
func cellContrast(f *Frame, x0, y0 int) float64 {
	x1 := min(x0+gridCell, f.Width)
	y1 := min(y0+gridCell, f.Height)
	n := (x1 - x0) * (y1 - y0)
	if n == 0 {
		return 0
	}

	var sum float64
	for y := y0; y < y1; y++ {
		for x := x0; x < x1; x++ {
			sum += float64(f.At(x, y))
		}
	}
	mean := sum / float64(n)

	var dev float64
	for y := y0; y < y1; y++ {
		for x := x0; x < x1; x++ {
			dev += math.Abs(float64(f.At(x, y)) - mean)
		}
	}
	return dev / float64(n)
}

// BlobDetector finds person-sized connected regions that contrast with the
// global mean luminance and reports them as bounding boxes.
type BlobDetector struct {
	// MinArea and MaxArea bound accepted blob sizes in pixels.
	MinArea int
	MaxArea int
	// Delta is the luminance distance from the global mean that marks a
	// pixel as foreground.
	Delta float64
}

// NewBlobDetector returns a detector with defaults sized for people at
// typical surveillance distances.
func NewBlobDetector() *BlobDetector {
	return &BlobDetector{MinArea: 64, MaxArea: 1 << 16, Delta: 40}
}

func (d *BlobDetector) Detect(f *Frame) ([]BoundingBox, error) {
	var sum float64
	for _, p := range f.Pixels {
		sum += float64(p)
	}
	mean := sum / float64(len(f.Pixels))

	fg := make([]bool, len(f.Pixels))
	for i, p := range f.Pixels {
		fg[i] = math.Abs(float64(p)-mean) > d.Delta
	}

	visited := make([]bool, len(f.Pixels))
	var boxes []BoundingBox
	for y := 0; y < f.Height; y++ {
		for x := 0; x < f.Width; x++ {
			i := y*f.Width + x
			if !fg[i] || visited[i] {
				continue
			}
			box, area := d.flood(f, fg, visited, x, y)
			if area >= d.MinArea && area <= d.MaxArea {
				boxes = append(boxes, box)
			}
		}
	}
	return boxes, nil
}

// flood grows a 4-connected component iteratively and returns its bounding
// box and pixel count.
func (d *BlobDetector) flood(f *Frame, fg, visited []bool, sx, sy int) (BoundingBox, int) {
	stack := [][2]int{{sx, sy}}
	visited[sy*f.Width+sx] = true

	minX, minY, maxX, maxY := sx, sy, sx, sy
	area := 0
	for len(stack) > 0 {
		p := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		x, y := p[0], p[1]
		area++

		minX, maxX = min(minX, x), max(maxX, x)
		minY, maxY = min(minY, y), max(maxY, y)

		for _, n := range [4][2]int{{x - 1, y}, {x + 1, y}, {x, y - 1}, {x, y + 1}} {
			nx, ny := n[0], n[1]
			if nx < 0 || ny < 0 || nx >= f.Width || ny >= f.Height {
				continue
			}
			j := ny*f.Width + nx
			if fg[j] && !visited[j] {
				visited[j] = true
				stack = append(stack, [2]int{nx, ny})
			}
		}
	}

	return BoundingBox{
		X1: float64(minX), Y1: float64(minY),
		X2: float64(maxX + 1), Y2: float64(maxY + 1),
		Confidence: 0.5,
		ClassID:    ClassPerson,
	}, area
}

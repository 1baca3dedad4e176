package vision

import "time"

// Frame is a single decoded video frame. Sources deliver the luminance plane
// only; the counting capabilities and the scene score operate on grayscale,
// and rendering derives RGB from it when needed.
type Frame struct {
	Seq       uint64
	Timestamp time.Time
	Width     int
	Height    int
	Pixels    []uint8 // row-major, Width*Height bytes
}

// At returns the pixel value at (x, y). Out-of-range coordinates return 0.
func (f *Frame) At(x, y int) uint8 {
	if x < 0 || y < 0 || x >= f.Width || y >= f.Height {
		return 0
	}
	return f.Pixels[y*f.Width+x]
}

// ClassPerson is the detector class ID retained by the aggregation layer.
const ClassPerson = 0

// BoundingBox is a single detection in frame pixel coordinates.
type BoundingBox struct {
	X1         float64 `json:"x1"`
	Y1         float64 `json:"y1"`
	X2         float64 `json:"x2"`
	Y2         float64 `json:"y2"`
	Confidence float64 `json:"confidence"`
	ClassID    int     `json:"class_id"`
}

// Center returns the box center point.
func (b BoundingBox) Center() (float64, float64) {
	return (b.X1 + b.X2) / 2, (b.Y1 + b.Y2) / 2
}

// DensityMap is a per-pixel count surface. It may be downscaled relative to
// the frame it was estimated from; its spatial integral approximates a count.
type DensityMap struct {
	Width  int
	Height int
	Values []float64 // row-major, Width*Height entries
}

// NewDensityMap allocates a zeroed density map.
func NewDensityMap(width, height int) *DensityMap {
	return &DensityMap{
		Width:  width,
		Height: height,
		Values: make([]float64, width*height),
	}
}

// Sum returns the spatial integral of the surface.
func (d *DensityMap) Sum() float64 {
	var total float64
	for _, v := range d.Values {
		total += v
	}
	return total
}

// Max returns the largest value on the surface (0 for an empty map).
func (d *DensityMap) Max() float64 {
	var max float64
	for _, v := range d.Values {
		if v > max {
			max = v
		}
	}
	return max
}

// Detector is the person-detection capability consumed by the pipeline.
// Implementations are external; the core only depends on this contract.
type Detector interface {
	Detect(frame *Frame) ([]BoundingBox, error)
}

// DensityEstimator is the crowd-density capability consumed by the pipeline.
type DensityEstimator interface {
	EstimateDensity(frame *Frame) (*DensityMap, error)
}

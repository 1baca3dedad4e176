package zones

import (
	"github.com/crowdsight/crowd-density-server/internal/vision"
)

// Point is a polygon vertex in source-image pixel coordinates.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Zone is a user-defined polygonal region of the frame used for localized
// counting and alerting. Threshold, when set, triggers an alert whenever the
// zone count reaches it.
type Zone struct {
	ID        string   `json:"id"`
	Name      string   `json:"name"`
	Polygon   []Point  `json:"polygon"`
	Threshold *float64 `json:"threshold,omitempty"`
}

// Stat is the per-frame result for one zone.
type Stat struct {
	ID    string `json:"id"`
	Count int    `json:"count"`
	Alert bool   `json:"alert"`
}

// Mask is a rasterized zone polygon at a fixed frame resolution.
type Mask struct {
	Width  int
	Height int
	Bits   []bool
}

// Contains reports whether the pixel (x, y) is inside the zone.
func (m *Mask) Contains(x, y int) bool {
	if x < 0 || y < 0 || x >= m.Width || y >= m.Height {
		return false
	}
	return m.Bits[y*m.Width+x]
}

// rasterize fills the polygon over a width x height grid by testing pixel
// centers with an even-odd crossing rule.
func rasterize(polygon []Point, width, height int) *Mask {
	m := &Mask{Width: width, Height: height, Bits: make([]bool, width*height)}
	if len(polygon) < 3 {
		return m
	}
	for y := 0; y < height; y++ {
		py := float64(y) + 0.5
		for x := 0; x < width; x++ {
			if insidePolygon(polygon, float64(x)+0.5, py) {
				m.Bits[y*width+x] = true
			}
		}
	}
	return m
}

func insidePolygon(polygon []Point, x, y float64) bool {
	inside := false
	j := len(polygon) - 1
	for i := 0; i < len(polygon); i++ {
		pi, pj := polygon[i], polygon[j]
		if (pi.Y > y) != (pj.Y > y) &&
			x < (pj.X-pi.X)*(y-pi.Y)/(pj.Y-pi.Y)+pi.X {
			inside = !inside
		}
		j = i
	}
	return inside
}

// Aggregator converts density surfaces or box lists into per-zone counts.
// Masks are owned by a single stream's pipeline and are rebuilt whenever the
// effective frame resolution changes.
type Aggregator struct {
	zones  []Zone
	masks  map[string]*Mask
	width  int
	height int
}

// NewAggregator creates an aggregator for a stream's configured zones.
func NewAggregator(zones []Zone) *Aggregator {
	return &Aggregator{zones: zones, masks: make(map[string]*Mask)}
}

// HasZones reports whether any zones are configured.
func (a *Aggregator) HasZones() bool {
	return len(a.zones) > 0
}

// SetupZones rasterizes every zone polygon at the given frame resolution.
// Calling it again with the same resolution is a no-op; a resolution change
// invalidates and rebuilds all masks.
func (a *Aggregator) SetupZones(width, height int) {
	if width == a.width && height == a.height && len(a.masks) == len(a.zones) {
		return
	}
	a.width = width
	a.height = height
	a.masks = make(map[string]*Mask, len(a.zones))
	for _, z := range a.zones {
		a.masks[z.ID] = rasterize(z.Polygon, width, height)
	}
}

// ComputeStats computes per-zone counts from whichever input is present:
// a density surface (integrated under each mask) or a box list (boxes whose
// center lies inside the mask). Returns an empty slice when no zones are
// configured.
func (a *Aggregator) ComputeStats(density *vision.DensityMap, boxes []vision.BoundingBox, width, height int) []Stat {
	if len(a.zones) == 0 {
		return []Stat{}
	}
	a.SetupZones(width, height)

	stats := make([]Stat, 0, len(a.zones))
	for _, z := range a.zones {
		mask := a.masks[z.ID]

		var count float64
		switch {
		case density != nil:
			count = integrateDensity(density, mask)
		case boxes != nil:
			count = float64(countBoxes(boxes, mask))
		}

		alert := false
		if z.Threshold != nil {
			alert = count >= *z.Threshold
		}
		stats = append(stats, Stat{ID: z.ID, Count: int(count), Alert: alert})
	}
	return stats
}

// integrateDensity sums the density surface under the mask. The surface may
// be downscaled relative to the frame; each density cell is mapped to the
// mask pixel it covers.
func integrateDensity(d *vision.DensityMap, mask *Mask) float64 {
	var sum float64
	sx := float64(mask.Width) / float64(d.Width)
	sy := float64(mask.Height) / float64(d.Height)
	for y := 0; y < d.Height; y++ {
		my := int((float64(y) + 0.5) * sy)
		for x := 0; x < d.Width; x++ {
			mx := int((float64(x) + 0.5) * sx)
			if mask.Contains(mx, my) {
				sum += d.Values[y*d.Width+x]
			}
		}
	}
	return sum
}

func countBoxes(boxes []vision.BoundingBox, mask *Mask) int {
	n := 0
	for _, b := range boxes {
		cx, cy := b.Center()
		if mask.Contains(int(cx), int(cy)) {
			n++
		}
	}
	return n
}

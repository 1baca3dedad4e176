package zones

import (
	"testing"

	"github.com/crowdsight/crowd-density-server/internal/vision"
)

func rect(x0, y0, x1, y1 float64) []Point {
	return []Point{{X: x0, Y: y0}, {X: x1, Y: y0}, {X: x1, Y: y1}, {X: x0, Y: y1}}
}

func thresholdPtr(v float64) *float64 { return &v }

func boxAt(cx, cy float64) vision.BoundingBox {
	return vision.BoundingBox{X1: cx - 2, Y1: cy - 2, X2: cx + 2, Y2: cy + 2, ClassID: vision.ClassPerson}
}

func TestComputeStatsCountsBoxCenters(t *testing.T) {
	agg := NewAggregator([]Zone{
		{ID: "left", Polygon: rect(0, 0, 50, 100)},
		{ID: "right", Polygon: rect(50, 0, 100, 100)},
	})

	boxes := []vision.BoundingBox{
		boxAt(10, 10), boxAt(30, 80), // left
		boxAt(70, 50), // right
	}
	stats := agg.ComputeStats(nil, boxes, 100, 100)
	if len(stats) != 2 {
		t.Fatalf("stats = %d, want 2", len(stats))
	}
	if stats[0].ID != "left" || stats[0].Count != 2 {
		t.Fatalf("left = %+v, want count 2", stats[0])
	}
	if stats[1].ID != "right" || stats[1].Count != 1 {
		t.Fatalf("right = %+v, want count 1", stats[1])
	}
}

func TestAlertThresholdIsInclusive(t *testing.T) {
	agg := NewAggregator([]Zone{
		{ID: "z", Polygon: rect(0, 0, 100, 100), Threshold: thresholdPtr(3)},
	})

	boxes := []vision.BoundingBox{boxAt(10, 10), boxAt(20, 20), boxAt(30, 30)}
	stats := agg.ComputeStats(nil, boxes, 100, 100)
	if !stats[0].Alert {
		t.Fatalf("count 3 with threshold 3 must alert (inclusive)")
	}

	stats = agg.ComputeStats(nil, boxes[:2], 100, 100)
	if stats[0].Alert {
		t.Fatalf("count 2 with threshold 3 must not alert")
	}
}

func TestNoThresholdNeverAlerts(t *testing.T) {
	agg := NewAggregator([]Zone{{ID: "z", Polygon: rect(0, 0, 100, 100)}})
	boxes := make([]vision.BoundingBox, 0, 50)
	for i := 0; i < 50; i++ {
		boxes = append(boxes, boxAt(float64(1+i%9*10), float64(1+i/9*10)))
	}
	stats := agg.ComputeStats(nil, boxes, 100, 100)
	if stats[0].Alert {
		t.Fatalf("zone without threshold alerted")
	}
}

func TestNoZonesGivesEmptySlice(t *testing.T) {
	agg := NewAggregator(nil)
	stats := agg.ComputeStats(nil, []vision.BoundingBox{boxAt(5, 5)}, 100, 100)
	if stats == nil || len(stats) != 0 {
		t.Fatalf("stats = %#v, want empty non-nil slice", stats)
	}
}

func TestDensityIntegralRespectsMask(t *testing.T) {
	agg := NewAggregator([]Zone{
		{ID: "left", Polygon: rect(0, 0, 50, 100)},
	})

	// Uniform density summing to 50 over the full frame; the left half
	// holds 25 of it. Density surface is downscaled 10x.
	d := vision.NewDensityMap(10, 10)
	for i := range d.Values {
		d.Values[i] = 0.5
	}
	stats := agg.ComputeStats(d, nil, 100, 100)
	if stats[0].Count != 25 {
		t.Fatalf("left integral = %d, want 25", stats[0].Count)
	}
}

func TestMasksRebuildOnResolutionChange(t *testing.T) {
	agg := NewAggregator([]Zone{{ID: "z", Polygon: rect(0, 0, 10, 10)}})
	agg.SetupZones(100, 100)
	m1 := agg.masks["z"]
	agg.SetupZones(100, 100)
	if agg.masks["z"] != m1 {
		t.Fatalf("same resolution must reuse masks")
	}
	agg.SetupZones(200, 100)
	m2 := agg.masks["z"]
	if m2 == m1 {
		t.Fatalf("resolution change must rebuild masks")
	}
	if m2.Width != 200 {
		t.Fatalf("rebuilt mask width = %d, want 200", m2.Width)
	}
}

func TestDegeneratePolygonContainsNothing(t *testing.T) {
	m := rasterize([]Point{{X: 1, Y: 1}, {X: 5, Y: 5}}, 10, 10)
	for y := 0; y < 10; y++ {
		for x := 0; x < 10; x++ {
			if m.Contains(x, y) {
				t.Fatalf("2-point polygon contains (%d,%d)", x, y)
			}
		}
	}
}

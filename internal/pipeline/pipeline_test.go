package pipeline

import (
	"errors"
	"testing"

	"github.com/crowdsight/crowd-density-server/internal/vision"
	"github.com/crowdsight/crowd-density-server/internal/zones"
)

type fakeDetector struct {
	boxes []vision.BoundingBox
	err   error
}

func (f *fakeDetector) Detect(*vision.Frame) ([]vision.BoundingBox, error) {
	return f.boxes, f.err
}

type fakeDensity struct {
	m   *vision.DensityMap
	err error
}

func (f *fakeDensity) EstimateDensity(*vision.Frame) (*vision.DensityMap, error) {
	return f.m, f.err
}

func uniformDensity(w, h int, total float64) *vision.DensityMap {
	m := vision.NewDensityMap(w, h)
	per := total / float64(w*h)
	for i := range m.Values {
		m.Values[i] = per
	}
	return m
}

func thresholdPtr(v float64) *float64 { return &v }

func fullFrameZone(id string, w, h int, threshold *float64) zones.Zone {
	return zones.Zone{
		ID: id,
		Polygon: []zones.Point{
			{X: 0, Y: 0}, {X: float64(w), Y: 0},
			{X: float64(w), Y: float64(h)}, {X: 0, Y: float64(h)},
		},
		Threshold: threshold,
	}
}

func TestPipelineDensityCountAndZoneAlert(t *testing.T) {
	const w, h = 32, 24
	p := New(Config{
		Mode:    ModeDensity,
		Density: &fakeDensity{m: uniformDensity(w, h, 7)},
		Zones:   []zones.Zone{fullFrameZone("z1", w, h, thresholdPtr(5))},
	})

	res, err := p.ProcessFrame(flatFrame(w, h))
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if res.Count != 7 {
		t.Fatalf("count = %d, want 7 (first frame seeds the smoother)", res.Count)
	}
	if res.Model != ModeDensity {
		t.Fatalf("model = %v, want density", res.Model)
	}
	if len(res.Zones) != 1 {
		t.Fatalf("zones = %d, want 1", len(res.Zones))
	}
	z := res.Zones[0]
	if z.Count < 6 || z.Count > 7 {
		t.Fatalf("zone count = %d, want ~7", z.Count)
	}
	if !z.Alert {
		t.Fatalf("zone alert not raised at count %d with threshold 5", z.Count)
	}
}

func TestPipelineDetectorFiltersNonPersonClasses(t *testing.T) {
	p := New(Config{
		Mode: ModeDetector,
		Detector: &fakeDetector{boxes: []vision.BoundingBox{
			{X1: 1, Y1: 1, X2: 5, Y2: 9, ClassID: vision.ClassPerson},
			{X1: 8, Y1: 2, X2: 12, Y2: 10, ClassID: vision.ClassPerson},
			{X1: 3, Y1: 3, X2: 6, Y2: 6, ClassID: 16}, // dog
		}},
	})

	res, err := p.ProcessFrame(flatFrame(16, 16))
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if res.Count != 2 {
		t.Fatalf("count = %d, want 2", res.Count)
	}
	if len(res.Boxes) != 2 {
		t.Fatalf("boxes = %d, want 2", len(res.Boxes))
	}
	if res.Density == nil {
		t.Fatalf("detector mode should synthesize a heat surface")
	}
}

func TestPipelineSmoothsAcrossFrames(t *testing.T) {
	d := &fakeDensity{m: uniformDensity(8, 8, 10)}
	p := New(Config{Mode: ModeDensity, Density: d, EMAAlpha: 0.7})

	if res, _ := p.ProcessFrame(flatFrame(8, 8)); res.Count != 10 {
		t.Fatalf("seed count = %d, want 10", res.Count)
	}

	d.m = uniformDensity(8, 8, 20)
	res, _ := p.ProcessFrame(flatFrame(8, 8))
	// 0.7*10 + 0.3*20 = 13
	if res.Count != 13 {
		t.Fatalf("smoothed count = %d, want 13", res.Count)
	}
	if res.RawCount < 19.9 || res.RawCount > 20.1 {
		t.Fatalf("raw count = %v, want ~20", res.RawCount)
	}
}

func TestPipelineCapabilityErrorYieldsNoResult(t *testing.T) {
	wantErr := errors.New("model crashed")
	p := New(Config{Mode: ModeDensity, Density: &fakeDensity{err: wantErr}})

	res, err := p.ProcessFrame(flatFrame(8, 8))
	if err == nil || !errors.Is(err, wantErr) {
		t.Fatalf("err = %v, want wrapped %v", err, wantErr)
	}
	if res != nil {
		t.Fatalf("result = %+v, want nil on error", res)
	}
}

func TestPipelineNoZonesGivesEmptySlice(t *testing.T) {
	p := New(Config{Mode: ModeDensity, Density: &fakeDensity{m: uniformDensity(8, 8, 1)}})
	res, err := p.ProcessFrame(flatFrame(8, 8))
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if res.Zones == nil || len(res.Zones) != 0 {
		t.Fatalf("zones = %#v, want empty non-nil slice", res.Zones)
	}
}

func TestPipelineMissingCapabilityFails(t *testing.T) {
	p := New(Config{Mode: ModeDetector})
	if _, err := p.ProcessFrame(flatFrame(8, 8)); err == nil {
		t.Fatalf("expected error for missing detector")
	}
}

package pipeline

import (
	"fmt"
	"math"
	"time"

	"github.com/crowdsight/crowd-density-server/internal/vision"
	"github.com/crowdsight/crowd-density-server/internal/zones"
)

// Config assembles a per-stream pipeline.
type Config struct {
	Mode      Mode
	Detector  vision.Detector
	Density   vision.DensityEstimator
	Zones     []zones.Zone
	EMAAlpha  float64
	LowScore  float64
	HighScore float64
	FPSWindow int
}

// Result is the outcome of processing one frame. All fields are always
// populated; a capability failure surfaces as an error, never as a partial
// result.
type Result struct {
	Count     int     // smoothed count, what the service reports
	RawCount  float64 // pre-smoothing signal
	Smoothed  float64
	Model     Mode
	Zones     []zones.Stat
	LatencyMS float64
	Density   *vision.DensityMap // nil when neither capability produced one
	Boxes     []vision.BoundingBox
}

// Pipeline composes the selector, the two counting capabilities, zone
// aggregation and temporal smoothing into one per-frame transformation.
// It is owned by exactly one stream worker and is not safe for concurrent use.
type Pipeline struct {
	mode     Mode
	detector vision.Detector
	density  vision.DensityEstimator
	selector *HybridSelector
	ema      *EMA
	agg      *zones.Aggregator

	window     int
	frameTimes []time.Time
	lastFPS    float64
	lastModel  Mode
}

// New builds a pipeline from config, applying defaults for zero values.
func New(cfg Config) *Pipeline {
	if cfg.EMAAlpha <= 0 || cfg.EMAAlpha >= 1 {
		cfg.EMAAlpha = 0.7
	}
	if cfg.LowScore == 0 && cfg.HighScore == 0 {
		cfg.LowScore, cfg.HighScore = 120.0, 180.0
	}
	if cfg.FPSWindow < 2 {
		cfg.FPSWindow = 30
	}
	if cfg.Mode == "" {
		cfg.Mode = ModeHybrid
	}
	return &Pipeline{
		mode:     cfg.Mode,
		detector: cfg.Detector,
		density:  cfg.Density,
		selector: NewHybridSelector(cfg.LowScore, cfg.HighScore),
		ema:      NewEMA(cfg.EMAAlpha),
		agg:      zones.NewAggregator(cfg.Zones),
		window:   cfg.FPSWindow,
	}
}

// ProcessFrame runs one frame through selection, inference, smoothing and
// zone aggregation, and updates the rolling FPS estimate.
func (p *Pipeline) ProcessFrame(frame *vision.Frame) (*Result, error) {
	start := time.Now()

	choice := p.resolveModel(frame)

	var (
		raw     float64
		density *vision.DensityMap
		boxes   []vision.BoundingBox
	)

	switch choice {
	case ModeDetector:
		if p.detector == nil {
			return nil, fmt.Errorf("detector capability not loaded")
		}
		all, err := p.detector.Detect(frame)
		if err != nil {
			return nil, fmt.Errorf("detect: %w", err)
		}
		for _, b := range all {
			if b.ClassID == vision.ClassPerson {
				boxes = append(boxes, b)
			}
		}
		raw = float64(len(boxes))
		// Synthesize a heat surface from the boxes so rendering is uniform
		// across modes.
		density = boxesToHeat(frame.Width, frame.Height, boxes)

	case ModeDensity:
		if p.density == nil {
			return nil, fmt.Errorf("density capability not loaded")
		}
		m, err := p.density.EstimateDensity(frame)
		if err != nil {
			return nil, fmt.Errorf("estimate density: %w", err)
		}
		density = m
		raw = m.Sum()

	default:
		return nil, fmt.Errorf("unresolved model choice: %q", choice)
	}

	smoothed := p.ema.Update(raw)

	var zoneStats []zones.Stat
	if p.agg.HasZones() {
		zoneStats = p.agg.ComputeStats(density, boxes, frame.Width, frame.Height)
	} else {
		zoneStats = []zones.Stat{}
	}

	p.recordFrameTime(time.Now())
	p.lastModel = choice

	return &Result{
		Count:     int(smoothed),
		RawCount:  raw,
		Smoothed:  smoothed,
		Model:     choice,
		Zones:     zoneStats,
		LatencyMS: float64(time.Since(start).Microseconds()) / 1000.0,
		Density:   density,
		Boxes:     boxes,
	}, nil
}

// resolveModel picks the capability: fixed modes bypass scoring entirely.
func (p *Pipeline) resolveModel(frame *vision.Frame) Mode {
	switch p.mode {
	case ModeDetector, ModeDensity:
		return p.mode
	default:
		return p.selector.Choose(frame)
	}
}

func (p *Pipeline) recordFrameTime(t time.Time) {
	p.frameTimes = append(p.frameTimes, t)
	if len(p.frameTimes) > p.window {
		p.frameTimes = p.frameTimes[1:]
	}
	if len(p.frameTimes) >= 2 {
		elapsed := p.frameTimes[len(p.frameTimes)-1].Sub(p.frameTimes[0]).Seconds()
		if elapsed > 0 {
			p.lastFPS = float64(len(p.frameTimes)-1) / elapsed
		} else {
			p.lastFPS = 0
		}
	}
}

// FPS returns the rolling frames-per-second estimate over the last window.
func (p *Pipeline) FPS() float64 {
	return p.lastFPS
}

// LastModel returns the capability used for the most recent frame.
func (p *Pipeline) LastModel() Mode {
	return p.lastModel
}

// SceneScore exposes the selector's last score for diagnostics.
func (p *Pipeline) SceneScore() (float64, bool) {
	return p.selector.LastScore()
}

// boxesToHeat renders a Gaussian-like blob per box center, radius derived
// from box size, normalized to [0,1].
func boxesToHeat(width, height int, boxes []vision.BoundingBox) *vision.DensityMap {
	heat := vision.NewDensityMap(width, height)
	for _, b := range boxes {
		cx, cy := b.Center()
		radius := math.Max(math.Min(b.X2-b.X1, b.Y2-b.Y1)/2, 3)
		sigma := radius / 2
		x0 := int(math.Max(cx-radius, 0))
		x1 := int(math.Min(cx+radius, float64(width-1)))
		y0 := int(math.Max(cy-radius, 0))
		y1 := int(math.Min(cy+radius, float64(height-1)))
		for y := y0; y <= y1; y++ {
			for x := x0; x <= x1; x++ {
				dx := float64(x) - cx
				dy := float64(y) - cy
				heat.Values[y*width+x] += math.Exp(-(dx*dx + dy*dy) / (2 * sigma * sigma))
			}
		}
	}
	if max := heat.Max(); max > 0 {
		for i := range heat.Values {
			heat.Values[i] /= max
		}
	}
	return heat
}

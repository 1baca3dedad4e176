package pipeline

import (
	"github.com/crowdsight/crowd-density-server/internal/vision"
)

// Mode identifies which counting capability handles a frame.
type Mode string

const (
	ModeDetector Mode = "detector"
	ModeDensity  Mode = "density"
	ModeHybrid   Mode = "hybrid"
)

// HybridSelector picks a capability per frame from the scene-complexity
// score, with hysteresis so a score hovering near one boundary cannot flap
// the decision: leaving density mode requires the score to exceed the high
// threshold, leaving detector mode requires it to drop below the low one.
type HybridSelector struct {
	low       float64
	high      float64
	mode      Mode
	lastScore float64
	scored    bool
}

// NewHybridSelector creates a selector. The initial mode is ModeHybrid:
// the first frame is classified against the threshold midpoint and the
// selector commits to that side.
func NewHybridSelector(low, high float64) *HybridSelector {
	return &HybridSelector{low: low, high: high, mode: ModeHybrid}
}

// Choose returns the capability to run for this frame.
func (s *HybridSelector) Choose(frame *vision.Frame) Mode {
	score := vision.SceneScore(frame)
	s.lastScore = score
	s.scored = true

	switch {
	case s.mode == ModeDensity && score > s.high:
		s.mode = ModeDetector
	case s.mode == ModeDetector && score < s.low:
		s.mode = ModeDensity
	case s.mode == ModeHybrid:
		if score > (s.low+s.high)/2 {
			s.mode = ModeDetector
		} else {
			s.mode = ModeDensity
		}
	}
	return s.mode
}

// Mode returns the currently committed mode.
func (s *HybridSelector) Mode() Mode {
	return s.mode
}

// LastScore returns the most recent scene score, if any frame was scored.
func (s *HybridSelector) LastScore() (float64, bool) {
	return s.lastScore, s.scored
}

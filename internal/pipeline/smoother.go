package pipeline

// EMA is an exponential moving average over a single stream's count signal.
// Alpha weights the previous value: higher alpha means slower response.
type EMA struct {
	alpha  float64
	val    float64
	seeded bool
}

// NewEMA creates a smoother with the given decay factor in (0, 1).
func NewEMA(alpha float64) *EMA {
	return &EMA{alpha: alpha}
}

// Update feeds a raw value and returns the smoothed one. The first call
// seeds the state and returns x verbatim.
func (e *EMA) Update(x float64) float64 {
	if !e.seeded {
		e.val = x
		e.seeded = true
		return x
	}
	e.val = e.alpha*e.val + (1-e.alpha)*x
	return e.val
}

// Value returns the current smoothed value and whether it has been seeded.
func (e *EMA) Value() (float64, bool) {
	return e.val, e.seeded
}

// Reset clears the state; the next Update reseeds.
func (e *EMA) Reset() {
	e.val = 0
	e.seeded = false
}

package filter

// Default smoothing factors for the fast and slow averages.
const (
	DefaultFastAlpha = 0.5
	DefaultSlowAlpha = 0.15
)

// EMA is an exponential moving average. The zero value with Alpha set is
// ready to use; the first sample seeds the mean directly.
type EMA struct {
	Alpha float64

	mean   float64
	seeded bool
}

// NewEMA creates a moving average weighting new samples by alpha.
func NewEMA(alpha float64) *EMA {
	return &EMA{Alpha: alpha}
}

// Update folds r into the average and returns the new mean:
// mean = mean - alpha*(mean - r).
func (e *EMA) Update(r float64) float64 {
	if !e.seeded {
		e.mean = r
		e.seeded = true
		return e.mean
	}
	e.mean -= e.Alpha * (e.mean - r)
	return e.mean
}

// Value returns the current mean, or 0 before the first sample.
func (e *EMA) Value() float64 {
	return e.mean
}

// Seeded reports whether at least one sample has been seen.
func (e *EMA) Seeded() bool {
	return e.seeded
}

// Reset discards the average; the next sample seeds it again.
func (e *EMA) Reset() {
	e.mean = 0
	e.seeded = false
}

// Pair runs a fast and a slow average over the same sample stream.
type Pair struct {
	Fast EMA
	Slow EMA
}

// NewPair creates a pair of averages. Non-positive alphas fall back to the
// defaults.
func NewPair(fast, slow float64) *Pair {
	if fast <= 0 {
		fast = DefaultFastAlpha
	}
	if slow <= 0 {
		slow = DefaultSlowAlpha
	}
	return &Pair{
		Fast: EMA{Alpha: fast},
		Slow: EMA{Alpha: slow},
	}
}

// Update feeds r to both averages.
func (p *Pair) Update(r float64) (fast, slow float64) {
	return p.Fast.Update(r), p.Slow.Update(r)
}

// Reset discards both averages.
func (p *Pair) Reset() {
	p.Fast.Reset()
	p.Slow.Reset()
}

// Package indicator provides technical indicator calculations over candle
// series. Indicators are deterministic pure functions of the input history:
// no randomness, no look-ahead past the requested bar.
package indicator

// EMA calculates an Exponential Moving Average.
// O(1) per update — no window storage needed. Seeded from a simple
// average over the first `period` inputs (standard warm-up).
type EMA struct {
	period     int
	multiplier float64
	current    float64
	count      int
	sum        float64
}

// NewEMA creates a new EMA with the given period.
func NewEMA(period int) *EMA {
	return &EMA{
		period:     period,
		multiplier: 2.0 / float64(period+1),
	}
}

// Update feeds the next value and recalculates.
func (e *EMA) Update(value float64) {
	e.count++

	if e.count <= e.period {
		// Accumulate for initial SMA seed
		e.sum += value
		if e.count == e.period {
			e.current = e.sum / float64(e.period)
		}
		return
	}

	// EMA formula: EMA = (Value * multiplier) + (EMA_prev * (1 - multiplier))
	e.current = (value * e.multiplier) + (e.current * (1 - e.multiplier))
}

// Value returns the current average. Returns 0 until Ready.
func (e *EMA) Value() float64 { return e.current }

// Ready returns true once enough values have been accumulated.
func (e *EMA) Ready() bool { return e.count >= e.period }

// Reset clears the EMA state for reuse.
func (e *EMA) Reset() {
	e.current = 0
	e.count = 0
	e.sum = 0
}

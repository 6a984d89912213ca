// Package detector tracks fair value gaps (FVGs): three-candle price
// imbalances left when the first and third candles' ranges do not overlap.
//
// The detector is forward-only: each tick it scans just the newest closed
// window for a new gap and re-evaluates existing gaps for expiry and
// overflow, so the amortized cost per bar is O(1).
package detector

import (
	"log"
	"time"

	"fvg-systemv1/internal/model"
)

const (
	// DefaultMaxActive caps active gaps per symbol; the oldest is evicted
	// on overflow.
	DefaultMaxActive = 3

	// DefaultMaxBarAge retires gaps older than this many bars.
	DefaultMaxBarAge = 20
)

// Config tunes gap lifecycle handling.
type Config struct {
	MaxActive int
	MaxBarAge int
	Timeframe time.Duration // bar duration, used for time-based age
}

// Detector scans candle series for FVGs and maintains their lifecycle.
type Detector struct {
	cfg Config
}

// New creates a Detector, applying defaults for zero config fields.
func New(cfg Config) *Detector {
	if cfg.MaxActive <= 0 {
		cfg.MaxActive = DefaultMaxActive
	}
	if cfg.MaxBarAge <= 0 {
		cfg.MaxBarAge = DefaultMaxBarAge
	}
	if cfg.Timeframe <= 0 {
		cfg.Timeframe = 4 * time.Hour
	}
	return &Detector{cfg: cfg}
}

// Update advances the gap set for one new closed candle.
//
// It prunes gaps retired on a previous tick, expires gaps past the maximum
// bar age, scans the newest three-candle window for a new gap, and evicts
// the oldest gap when the active count exceeds the cap.
//
// Returns the surviving active gaps, gaps created this update, and gaps
// retired this update (expired or evicted). Re-running with the same
// inputs is idempotent: an already-known gap is never created twice.
func (d *Detector) Update(existing []model.FairValueGap, s *model.Series) (active, created, retired []model.FairValueGap) {
	// Gaps retired last tick were kept one cycle for audit; drop them now.
	for _, g := range existing {
		if g.Status == model.GapActive {
			active = append(active, g)
		}
	}

	if s.Len() == 0 {
		return active, nil, nil
	}
	latest := s.Last()

	// Expiry against the new bar's age.
	kept := active[:0]
	for _, g := range active {
		if g.BarAge(latest.OpenTime, d.cfg.Timeframe) > d.cfg.MaxBarAge {
			g.Status = model.GapExpired
			retired = append(retired, g)
			continue
		}
		kept = append(kept, g)
	}
	active = kept

	// Scan only the newest window: candles i-2, i-1, i.
	if g, ok := d.scanLatest(s); ok && !contains(active, g.ID) {
		active = append(active, g)
		created = append(created, g)
	}

	// Overflow: evict oldest by creation time regardless of status.
	for len(active) > d.cfg.MaxActive {
		oldest := 0
		for i := 1; i < len(active); i++ {
			if active[i].CreatedAt.Before(active[oldest].CreatedAt) {
				oldest = i
			}
		}
		evicted := active[oldest]
		evicted.Status = model.GapExpired
		retired = append(retired, evicted)
		active = append(active[:oldest], active[oldest+1:]...)
	}

	return active, created, retired
}

// scanLatest checks the three most recent closed candles for an imbalance.
// Bullish: c[i-2].High < c[i].Low (candle i-1 is the displacement candle).
// Bearish is the mirror.
func (d *Detector) scanLatest(s *model.Series) (model.FairValueGap, bool) {
	n := s.Len()
	if n < 3 {
		return model.FairValueGap{}, false
	}
	first := s.At(n - 3)
	third := s.At(n - 1)

	switch {
	case first.High < third.Low:
		g, err := model.NewFairValueGap(s.Symbol(), model.Bullish, third.Low, first.High, third.OpenTime)
		if err != nil {
			log.Printf("[detector] %s: dropping malformed bullish gap: %v", s.Symbol(), err)
			return model.FairValueGap{}, false
		}
		return g, true

	case first.Low > third.High:
		g, err := model.NewFairValueGap(s.Symbol(), model.Bearish, first.Low, third.High, third.OpenTime)
		if err != nil {
			log.Printf("[detector] %s: dropping malformed bearish gap: %v", s.Symbol(), err)
			return model.FairValueGap{}, false
		}
		return g, true
	}
	return model.FairValueGap{}, false
}

func contains(gaps []model.FairValueGap, id string) bool {
	for i := range gaps {
		if gaps[i].ID == id {
			return true
		}
	}
	return false
}

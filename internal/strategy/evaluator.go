// Package strategy turns live fair value gaps into entry decisions.
//
// A gap's midpoint is the trigger level. The first candle whose range
// includes the midpoint consumes the gap (fill_count 0 → 1); the touch
// becomes a confirmed signal only when the MACD histogram agrees with the
// gap direction and no position is already open for the symbol. Rejected
// touches are terminal: the same gap never triggers again.
package strategy

import (
	"fvg-systemv1/internal/indicator"
	"fvg-systemv1/internal/model"
)

// Config tunes signal evaluation.
type Config struct {
	// StopBufferPct widens the structural stop beyond the gap boundary,
	// e.g. 0.001 places the stop 0.1% past the boundary.
	StopBufferPct float64

	// RewardRisk is the take-profit distance as a multiple of the stop
	// distance. Fixed 1:2 by default.
	RewardRisk float64

	// RequireRecentCross additionally demands a MACD/signal-line cross in
	// the gap direction within CrossLookback bars.
	RequireRecentCross bool
	CrossLookback      int

	MACD indicator.MACDConfig
}

// DefaultConfig returns the production evaluation parameters.
func DefaultConfig() Config {
	return Config{
		StopBufferPct:      0.001,
		RewardRisk:         2.0,
		RequireRecentCross: true,
		CrossLookback:      6,
		MACD:               indicator.DefaultMACDConfig(),
	}
}

// Result is the outcome of evaluating one gap touch. Exactly one of
// Signal or Reason is set.
type Result struct {
	GapID  string
	Signal *model.Signal
	Reason model.RejectReason
}

// Evaluator applies the entry rules to active gaps.
type Evaluator struct {
	cfg Config
}

// New creates an Evaluator, applying defaults for zero config fields.
func New(cfg Config) *Evaluator {
	if cfg.RewardRisk <= 0 {
		cfg.RewardRisk = 2.0
	}
	if cfg.CrossLookback <= 0 {
		cfg.CrossLookback = 6
	}
	if cfg.MACD.Slow == 0 {
		cfg.MACD = indicator.DefaultMACDConfig()
	}
	return &Evaluator{cfg: cfg}
}

// Evaluate checks every active gap against the latest closed candle and
// the MACD state at that bar. Gaps whose midpoint is touched are mutated
// in place (consumed). hasOpenPosition reflects the symbol's position
// state before this tick's scan.
//
// Rejection reasons are mutually exclusive and checked in order:
// open position > MACD disagreement > already filled > invalid stop.
// Minimum-size and risk-cap rejections are the risk manager's to raise.
func (e *Evaluator) Evaluate(gaps []model.FairValueGap, s *model.Series, macd indicator.MACDResult, hasOpenPosition bool) []Result {
	if s.Len() == 0 {
		return nil
	}
	latest := s.Last()

	var results []Result
	positionPending := hasOpenPosition

	for i := range gaps {
		g := &gaps[i]
		if !latest.Contains(g.Midpoint()) {
			continue
		}

		// The first touch consumes the gap whatever the outcome: price has
		// traded through the midpoint and the imbalance is considered filled.
		firstTouch := g.FillCount == 0
		if firstTouch {
			g.FillCount++
			g.Status = model.GapFilled
		}

		res := Result{GapID: g.ID}
		switch {
		case positionPending:
			res.Reason = model.RejectOpenPosition
		case !e.macdAgrees(s, macd, g.Direction):
			res.Reason = model.RejectMACDDisagree
		case !firstTouch:
			res.Reason = model.RejectGapFilled
		default:
			sig, ok := e.buildSignal(g, latest)
			if !ok {
				res.Reason = model.RejectInvalidStop
				break
			}
			res.Signal = &sig
			positionPending = true
		}
		results = append(results, res)
	}
	return results
}

// macdAgrees requires the histogram sign to match the gap direction, and
// optionally a recent signal-line cross in that direction.
func (e *Evaluator) macdAgrees(s *model.Series, macd indicator.MACDResult, dir model.Direction) bool {
	if dir == model.Bullish && macd.Histogram <= 0 {
		return false
	}
	if dir == model.Bearish && macd.Histogram >= 0 {
		return false
	}
	if !e.cfg.RequireRecentCross {
		return true
	}
	crossed, err := indicator.RecentCross(s, e.cfg.MACD, dir, e.cfg.CrossLookback)
	if err != nil {
		return false
	}
	return crossed
}

// buildSignal derives entry, structural stop and fixed-RR take profit.
// Returns ok=false when the stop would sit on the wrong side of entry
// (a degenerate gap relative to the trigger close).
func (e *Evaluator) buildSignal(g *model.FairValueGap, latest model.Candle) (model.Signal, bool) {
	entry := latest.Close

	var stop float64
	if g.Direction == model.Bullish {
		stop = g.Bottom * (1 - e.cfg.StopBufferPct)
		if stop >= entry {
			return model.Signal{}, false
		}
	} else {
		stop = g.Top * (1 + e.cfg.StopBufferPct)
		if stop <= entry {
			return model.Signal{}, false
		}
	}

	risk := entry - stop // negative for bearish
	tp := entry + e.cfg.RewardRisk*risk

	return model.Signal{
		Symbol:     g.Symbol,
		Direction:  g.Direction,
		EntryPrice: entry,
		StopLoss:   stop,
		TakeProfit: tp,
		GapID:      g.ID,
		MACDState:  model.MACDConfirmed,
		Timestamp:  latest.OpenTime,
	}, true
}

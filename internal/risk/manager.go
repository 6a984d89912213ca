// Package risk sizes, caps and guards trades, and owns the position
// lifecycle (open → managed → closed) together with P&L accounting.
//
// The manager holds no state of its own: it mutates the explicitly passed
// snapshot, which the engine persists after every change. The engine is a
// single logical worker, so no locking is needed here.
package risk

import (
	"math"
	"time"

	"github.com/google/uuid"

	"fvg-systemv1/internal/model"
)

// Limits defines configurable risk thresholds.
type Limits struct {
	RiskPct           float64 `json:"risk_pct"`             // fraction of balance risked per trade
	MaxOpenPositions  int     `json:"max_open_positions"`   // portfolio-wide cap
	DailyLossLimitPct float64 `json:"daily_loss_limit_pct"` // drawdown from day start that halts entries
	DefaultSizeStep   float64 `json:"default_size_step"`    // lot step used when metadata is unknown
}

// DefaultLimits returns conservative defaults.
func DefaultLimits() Limits {
	return Limits{
		RiskPct:           0.01,
		MaxOpenPositions:  5,
		DailyLossLimitPct: 0.05,
		DefaultSizeStep:   0.000001,
	}
}

// Manager validates entries against risk limits and manages positions.
type Manager struct {
	limits Limits
	meta   model.SymbolMeta
}

// New creates a Manager with the given limits and symbol metadata source.
func New(limits Limits, meta model.SymbolMeta) *Manager {
	if limits.RiskPct <= 0 {
		limits.RiskPct = 0.01
	}
	if limits.MaxOpenPositions <= 0 {
		limits.MaxOpenPositions = 5
	}
	if limits.DailyLossLimitPct <= 0 {
		limits.DailyLossLimitPct = 0.05
	}
	if limits.DefaultSizeStep <= 0 {
		limits.DefaultSizeStep = 0.000001
	}
	return &Manager{limits: limits, meta: meta}
}

// IsNewTradingDay reports whether now falls on a later UTC calendar day
// than the last reset. Pure function — no hidden timers.
func IsNewTradingDay(lastReset, now time.Time) bool {
	ly, lm, ld := lastReset.UTC().Date()
	ny, nm, nd := now.UTC().Date()
	if ny != ly {
		return ny > ly
	}
	if nm != lm {
		return nm > lm
	}
	return nd > ld
}

// RolloverDay re-anchors the daily-loss baseline at the UTC day boundary.
// Returns true if a reset happened (the caller persists and logs it).
func (m *Manager) RolloverDay(snap *model.Snapshot, now time.Time) bool {
	if !IsNewTradingDay(snap.Risk.LastReset, now) {
		return false
	}
	snap.Risk.DayStartBalance = snap.Risk.CurrentBalance
	snap.Risk.LastReset = now.UTC()
	snap.Risk.GuardTriggered = false
	return true
}

// CheckCaps validates portfolio-wide constraints before sizing.
// Per-symbol exclusivity (one open position) is the evaluator's check.
//
// The daily-loss boundary is exclusive: a balance at exactly
// day_start × (1 − limit) has not yet breached the guard.
func (m *Manager) CheckCaps(snap *model.Snapshot) model.RejectReason {
	if snap.Risk.GuardTriggered {
		return model.RejectDailyLossGuard
	}
	floor := snap.Risk.DayStartBalance * (1 - m.limits.DailyLossLimitPct)
	if snap.Risk.DayStartBalance > 0 && snap.Risk.CurrentBalance < floor {
		// Once tripped, the guard holds until the next UTC day boundary.
		snap.Risk.GuardTriggered = true
		return model.RejectDailyLossGuard
	}
	if snap.OpenPositionCount() >= m.limits.MaxOpenPositions {
		return model.RejectPortfolioCap
	}
	return model.RejectNone
}

// Size converts a signal into an order size in base units:
// (risk_pct × current_balance) / |entry − stop|, rounded down to the
// exchange lot step. Rejects sizes below the exchange minimum size or
// notional. Unknown metadata falls back to conservative defaults rather
// than blocking.
func (m *Manager) Size(sig *model.Signal, snap *model.Snapshot) (float64, model.RejectReason) {
	unitRisk := math.Abs(sig.EntryPrice - sig.StopLoss)
	if unitRisk <= 0 || sig.EntryPrice <= 0 {
		return 0, model.RejectInvalidStop
	}

	riskAmount := m.limits.RiskPct * snap.Risk.CurrentBalance
	size := riskAmount / unitRisk

	step := m.meta.SizeStep(sig.Symbol)
	if step <= 0 {
		step = m.limits.DefaultSizeStep
	}
	size = math.Floor(size/step+1e-9) * step

	if size <= 0 {
		return 0, model.RejectBelowMinSize
	}
	if min := m.meta.MinOrderSize(sig.Symbol); min > 0 && size < min {
		return 0, model.RejectBelowMinSize
	}
	if minNotional := m.meta.MinNotional(sig.Symbol); minNotional > 0 && size*sig.EntryPrice < minNotional {
		return 0, model.RejectBelowMinSize
	}
	return size, model.RejectNone
}

// Open records a filled entry as a new open position in the snapshot.
func (m *Manager) Open(sig *model.Signal, fill model.Fill, snap *model.Snapshot) *model.Position {
	pos := model.Position{
		ID:         uuid.NewString(),
		Symbol:     sig.Symbol,
		Direction:  sig.Direction,
		EntryPrice: fill.Price,
		Size:       fill.Size,
		StopLoss:   sig.StopLoss,
		TakeProfit: sig.TakeProfit,
		GapID:      sig.GapID,
		OpenedAt:   fill.Timestamp,
		Status:     model.PositionOpen,
	}
	snap.Positions = append(snap.Positions, pos)
	return &snap.Positions[len(snap.Positions)-1]
}

// ExitReason reports which level, if any, the price has crossed.
// Stop-loss takes priority when both levels are touched at once
// (deterministic tie-break). Returns "" while the position should stay open.
func (m *Manager) ExitReason(pos *model.Position, price float64) string {
	if pos.Status != model.PositionOpen {
		return ""
	}
	if pos.Direction == model.Bullish {
		switch {
		case price <= pos.StopLoss:
			return "stop_loss"
		case price >= pos.TakeProfit:
			return "take_profit"
		}
	} else {
		switch {
		case price >= pos.StopLoss:
			return "stop_loss"
		case price <= pos.TakeProfit:
			return "take_profit"
		}
	}
	return ""
}

// Manage closes the position if price has crossed its stop or target.
// Returns true if the position was closed; the realized P&L is applied
// to the snapshot balance.
func (m *Manager) Manage(pos *model.Position, price float64, now time.Time, snap *model.Snapshot) bool {
	reason := m.ExitReason(pos, price)
	if reason == "" {
		return false
	}
	m.Close(pos, price, reason, now, snap)
	return true
}

// ForceClose exits a position at the given price regardless of levels.
func (m *Manager) ForceClose(pos *model.Position, price float64, now time.Time, snap *model.Snapshot) {
	if pos.Status != model.PositionOpen {
		return
	}
	m.Close(pos, price, "forced", now, snap)
}

// Close settles a position at the given exit price: realized P&L is
// (exit − entry) × size × direction sign, applied to the snapshot balance.
func (m *Manager) Close(pos *model.Position, price float64, reason string, now time.Time, snap *model.Snapshot) {
	if pos.Status != model.PositionOpen {
		return
	}
	pos.Status = model.PositionClosed
	pos.ClosedAt = now.UTC()
	pos.ExitPrice = price
	pos.ExitReason = reason
	pos.RealizedPnL = (price - pos.EntryPrice) * pos.Size * pos.Direction.Sign()
	snap.Risk.CurrentBalance += pos.RealizedPnL
}

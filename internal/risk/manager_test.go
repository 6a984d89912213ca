package risk

import (
	"math"
	"testing"
	"time"

	"fvg-systemv1/internal/model"
)

// meta is a fixed-rule SymbolMeta for tests.
type meta struct {
	minQty, step, tick, notional float64
}

func (m meta) MinOrderSize(string) float64 { return m.minQty }
func (m meta) MinNotional(string) float64  { return m.notional }
func (m meta) SizeStep(string) float64     { return m.step }
func (m meta) PriceTick(string) float64    { return m.tick }

func newSnap(balance float64) *model.Snapshot {
	return model.NewSnapshot(balance, time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC))
}

func sig(entry, stop float64) *model.Signal {
	return &model.Signal{
		Symbol:     "BTCUSDT",
		Direction:  model.Bullish,
		EntryPrice: entry,
		StopLoss:   stop,
		TakeProfit: entry + 2*(entry-stop),
		GapID:      "BTCUSDT:bullish:1",
	}
}

func TestIsNewTradingDay(t *testing.T) {
	last := time.Date(2026, 3, 1, 23, 50, 0, 0, time.UTC)
	cases := []struct {
		name string
		now  time.Time
		want bool
	}{
		{"same day", time.Date(2026, 3, 1, 23, 59, 0, 0, time.UTC), false},
		{"next day", time.Date(2026, 3, 2, 0, 1, 0, 0, time.UTC), true},
		{"next month", time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC), true},
		{"next year", time.Date(2027, 1, 1, 0, 0, 0, 0, time.UTC), true},
		{"clock skew backwards", time.Date(2026, 2, 28, 12, 0, 0, 0, time.UTC), false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := IsNewTradingDay(last, tc.now); got != tc.want {
				t.Errorf("IsNewTradingDay(%v) = %v, want %v", tc.now, got, tc.want)
			}
		})
	}
}

func TestRolloverDay(t *testing.T) {
	m := New(DefaultLimits(), meta{})
	snap := newSnap(1000)
	snap.Risk.CurrentBalance = 930
	snap.Risk.GuardTriggered = true

	// Same day: nothing changes.
	if m.RolloverDay(snap, snap.Risk.LastReset.Add(time.Hour)) {
		t.Fatal("no rollover expected within the same UTC day")
	}

	next := snap.Risk.LastReset.Add(24 * time.Hour)
	if !m.RolloverDay(snap, next) {
		t.Fatal("expected rollover at the UTC day boundary")
	}
	if snap.Risk.DayStartBalance != 930 {
		t.Errorf("day start should re-anchor to current balance, got %v", snap.Risk.DayStartBalance)
	}
	if snap.Risk.GuardTriggered {
		t.Error("guard must clear on rollover")
	}
}

func TestCheckCaps_DailyLossBoundary(t *testing.T) {
	m := New(DefaultLimits(), meta{}) // 5% daily limit
	snap := newSnap(1000)

	// Exactly at the floor: allowed.
	snap.Risk.CurrentBalance = 950.00
	if reason := m.CheckCaps(snap); reason != model.RejectNone {
		t.Errorf("950.00 of 1000 is exactly the floor and must pass, got %q", reason)
	}

	// One cent below: guard trips and latches.
	snap.Risk.CurrentBalance = 949.99
	if reason := m.CheckCaps(snap); reason != model.RejectDailyLossGuard {
		t.Fatalf("949.99 must trip the guard, got %q", reason)
	}
	if !snap.Risk.GuardTriggered {
		t.Fatal("guard flag must latch")
	}

	// Balance recovers the same day: still halted.
	snap.Risk.CurrentBalance = 990
	if reason := m.CheckCaps(snap); reason != model.RejectDailyLossGuard {
		t.Errorf("latched guard must hold until rollover, got %q", reason)
	}

	// Next UTC day: rollover clears the guard.
	m.RolloverDay(snap, snap.Risk.LastReset.Add(24*time.Hour))
	if reason := m.CheckCaps(snap); reason != model.RejectNone {
		t.Errorf("guard must clear after rollover, got %q", reason)
	}
}

func TestCheckCaps_PortfolioCap(t *testing.T) {
	m := New(Limits{MaxOpenPositions: 2}, meta{})
	snap := newSnap(10000)

	snap.Positions = append(snap.Positions,
		model.Position{ID: "a", Symbol: "BTCUSDT", Status: model.PositionOpen},
		model.Position{ID: "b", Symbol: "ETHUSDT", Status: model.PositionOpen},
	)
	if reason := m.CheckCaps(snap); reason != model.RejectPortfolioCap {
		t.Errorf("expected portfolio_cap at 2/2 open, got %q", reason)
	}

	// Closed positions do not count.
	snap.Positions[1].Status = model.PositionClosed
	if reason := m.CheckCaps(snap); reason != model.RejectNone {
		t.Errorf("1/2 open should pass, got %q", reason)
	}
}

func TestSize_ExactAndFloored(t *testing.T) {
	m := New(DefaultLimits(), meta{}) // 1% risk, default step 1e-6
	snap := newSnap(10000)

	// risk amount 100, unit risk 10 → exactly 10 units.
	size, reason := m.Size(sig(100, 90), snap)
	if reason != model.RejectNone {
		t.Fatalf("unexpected rejection %q", reason)
	}
	if size != 10 {
		t.Errorf("size = %v, want 10", size)
	}

	// risk amount 100, unit risk 3 → 33.333... floored to the lot step.
	size, reason = m.Size(sig(100, 97), snap)
	if reason != model.RejectNone {
		t.Fatalf("unexpected rejection %q", reason)
	}
	if math.Abs(size-33.333333) > 1e-9 {
		t.Errorf("size = %v, want 33.333333 (floored to 1e-6 step)", size)
	}
}

func TestSize_ExchangeMinimums(t *testing.T) {
	snap := newSnap(10000)

	m := New(DefaultLimits(), meta{minQty: 50, step: 0.001})
	if _, reason := m.Size(sig(100, 90), snap); reason != model.RejectBelowMinSize {
		t.Errorf("size 10 below min 50 must reject, got %q", reason)
	}

	m = New(DefaultLimits(), meta{notional: 5000, step: 0.001})
	// size 10 × entry 100 = 1000 < 5000 notional.
	if _, reason := m.Size(sig(100, 90), snap); reason != model.RejectBelowMinSize {
		t.Errorf("notional below exchange minimum must reject, got %q", reason)
	}
}

func TestSize_InvalidStop(t *testing.T) {
	m := New(DefaultLimits(), meta{})
	snap := newSnap(10000)

	s := sig(100, 100) // zero unit risk
	if _, reason := m.Size(s, snap); reason != model.RejectInvalidStop {
		t.Errorf("zero stop distance must reject, got %q", reason)
	}
}

func TestManage_StopAndTarget(t *testing.T) {
	m := New(DefaultLimits(), meta{})
	now := time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)

	open := func() (*model.Snapshot, *model.Position) {
		snap := newSnap(10000)
		pos := m.Open(sig(100, 90), model.Fill{OrderID: "o1", Price: 100, Size: 10, Timestamp: now}, snap)
		return snap, pos
	}

	// Stop-loss: pnl = (89 − 100) × 10 = −110.
	snap, pos := open()
	if !m.Manage(pos, 89, now, snap) {
		t.Fatal("price below stop must close")
	}
	if pos.ExitReason != "stop_loss" || pos.RealizedPnL != -110 {
		t.Errorf("got exit=%s pnl=%v, want stop_loss/-110", pos.ExitReason, pos.RealizedPnL)
	}
	if snap.Risk.CurrentBalance != 9890 {
		t.Errorf("balance = %v, want 9890", snap.Risk.CurrentBalance)
	}

	// Take-profit: pnl = (121 − 100) × 10 = +210.
	snap, pos = open()
	if !m.Manage(pos, 121, now, snap) {
		t.Fatal("price above target must close")
	}
	if pos.ExitReason != "take_profit" || pos.RealizedPnL != 210 {
		t.Errorf("got exit=%s pnl=%v, want take_profit/+210", pos.ExitReason, pos.RealizedPnL)
	}

	// In-range price keeps the position open.
	snap, pos = open()
	if m.Manage(pos, 105, now, snap) {
		t.Error("price inside [stop, target] must not close")
	}
	if pos.Status != model.PositionOpen {
		t.Error("position should remain open")
	}
}

func TestManage_BearishPnL(t *testing.T) {
	m := New(DefaultLimits(), meta{})
	now := time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)
	snap := newSnap(10000)

	s := &model.Signal{
		Symbol:     "BTCUSDT",
		Direction:  model.Bearish,
		EntryPrice: 100,
		StopLoss:   110,
		TakeProfit: 80,
	}
	pos := m.Open(s, model.Fill{OrderID: "o2", Price: 100, Size: 5, Timestamp: now}, snap)

	// Price falls to the target: pnl = (80 − 100) × 5 × (−1) = +100.
	if !m.Manage(pos, 80, now, snap) {
		t.Fatal("bearish target must close")
	}
	if pos.RealizedPnL != 100 {
		t.Errorf("bearish pnl = %v, want +100", pos.RealizedPnL)
	}
	if snap.Risk.CurrentBalance != 10100 {
		t.Errorf("balance = %v, want 10100", snap.Risk.CurrentBalance)
	}
}

func TestManage_ClosedPositionIgnored(t *testing.T) {
	m := New(DefaultLimits(), meta{})
	now := time.Now().UTC()
	snap := newSnap(10000)

	pos := m.Open(sig(100, 90), model.Fill{Price: 100, Size: 10, Timestamp: now}, snap)
	m.Manage(pos, 89, now, snap)
	balance := snap.Risk.CurrentBalance

	// Second management pass must be a no-op.
	if m.Manage(pos, 80, now, snap) {
		t.Error("closed position must not close twice")
	}
	if snap.Risk.CurrentBalance != balance {
		t.Error("balance must not change on a second pass")
	}
}

func TestForceClose(t *testing.T) {
	m := New(DefaultLimits(), meta{})
	now := time.Now().UTC()
	snap := newSnap(10000)

	pos := m.Open(sig(100, 90), model.Fill{Price: 100, Size: 10, Timestamp: now}, snap)
	m.ForceClose(pos, 101, now, snap)
	if pos.Status != model.PositionClosed || pos.ExitReason != "forced" {
		t.Errorf("force close should settle the position, got %+v", pos)
	}
	if pos.RealizedPnL != 10 {
		t.Errorf("pnl = %v, want +10", pos.RealizedPnL)
	}
}

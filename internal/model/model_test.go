package model

import (
	"testing"
	"time"
)

func TestNewSeries_RejectsDisorder(t *testing.T) {
	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	if _, err := NewSeries("BTCUSDT", []Candle{
		{OpenTime: base.Add(4 * time.Hour)},
		{OpenTime: base},
	}); err == nil {
		t.Error("out-of-order candles must be rejected")
	}

	if _, err := NewSeries("BTCUSDT", []Candle{
		{OpenTime: base},
		{OpenTime: base},
	}); err == nil {
		t.Error("duplicate open times must be rejected")
	}
}

func TestSeries_Upto(t *testing.T) {
	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	candles := make([]Candle, 5)
	for i := range candles {
		candles[i] = Candle{OpenTime: base.Add(time.Duration(i) * 4 * time.Hour), Close: float64(i)}
	}
	s, err := NewSeries("BTCUSDT", candles)
	if err != nil {
		t.Fatal(err)
	}

	w := s.Upto(2)
	if w.Len() != 3 {
		t.Fatalf("Upto(2).Len() = %d, want 3", w.Len())
	}
	if w.Last().Close != 2 {
		t.Errorf("window last close = %v, want 2", w.Last().Close)
	}
	if w.Symbol() != "BTCUSDT" {
		t.Errorf("window symbol = %s", w.Symbol())
	}
}

func TestCandle_Contains(t *testing.T) {
	c := Candle{Low: 95, High: 105}
	for _, px := range []float64{95, 100, 105} {
		if !c.Contains(px) {
			t.Errorf("range [95,105] should contain %v", px)
		}
	}
	for _, px := range []float64{94.99, 105.01} {
		if c.Contains(px) {
			t.Errorf("range [95,105] should not contain %v", px)
		}
	}
}

func TestNewFairValueGap_Invariant(t *testing.T) {
	now := time.Now().UTC()
	if _, err := NewFairValueGap("BTCUSDT", Bullish, 100, 100, now); err == nil {
		t.Error("top == bottom must be rejected")
	}
	if _, err := NewFairValueGap("BTCUSDT", Bullish, 100, 120, now); err == nil {
		t.Error("top < bottom must be rejected")
	}

	g, err := NewFairValueGap("BTCUSDT", Bearish, 120, 105, now)
	if err != nil {
		t.Fatal(err)
	}
	if g.Status != GapActive || g.FillCount != 0 {
		t.Errorf("fresh gap state = %+v", g)
	}
	if g.Midpoint() != 112.5 {
		t.Errorf("midpoint = %v", g.Midpoint())
	}
}

func TestFairValueGap_BarAge(t *testing.T) {
	created := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	g, _ := NewFairValueGap("BTCUSDT", Bullish, 120, 105, created)

	cases := []struct {
		elapsed time.Duration
		want    int
	}{
		{0, 0},
		{4 * time.Hour, 1},
		{7 * time.Hour, 1},
		{80 * time.Hour, 20},
		{84 * time.Hour, 21},
	}
	for _, tc := range cases {
		if got := g.BarAge(created.Add(tc.elapsed), 4*time.Hour); got != tc.want {
			t.Errorf("BarAge(+%v) = %d, want %d", tc.elapsed, got, tc.want)
		}
	}
}

func TestDirection_Helpers(t *testing.T) {
	if Bullish.Sign() != 1 || Bearish.Sign() != -1 {
		t.Error("direction signs")
	}
	if Bullish.Side() != SideBuy || Bearish.Side() != SideSell {
		t.Error("direction sides")
	}
	if SideBuy.Opposite() != SideSell || SideSell.Opposite() != SideBuy {
		t.Error("side opposites")
	}
}

func TestPosition_UnrealizedPnL(t *testing.T) {
	long := Position{Direction: Bullish, EntryPrice: 100, Size: 10, Status: PositionOpen}
	if got := long.UnrealizedPnL(103); got != 30 {
		t.Errorf("long pnl = %v, want 30", got)
	}
	short := Position{Direction: Bearish, EntryPrice: 100, Size: 10, Status: PositionOpen}
	if got := short.UnrealizedPnL(103); got != -30 {
		t.Errorf("short pnl = %v, want -30", got)
	}
}

func TestSnapshot_OpenPositionLookup(t *testing.T) {
	snap := NewSnapshot(10000, time.Now().UTC())
	if snap.OpenPosition("BTCUSDT") != nil {
		t.Error("empty snapshot has no open positions")
	}

	snap.Positions = append(snap.Positions,
		Position{ID: "a", Symbol: "BTCUSDT", Status: PositionClosed},
		Position{ID: "b", Symbol: "BTCUSDT", Status: PositionOpen},
		Position{ID: "c", Symbol: "ETHUSDT", Status: PositionOpen},
	)
	if p := snap.OpenPosition("BTCUSDT"); p == nil || p.ID != "b" {
		t.Errorf("lookup = %+v", p)
	}
	if snap.OpenPositionCount() != 2 {
		t.Errorf("open count = %d, want 2", snap.OpenPositionCount())
	}
}

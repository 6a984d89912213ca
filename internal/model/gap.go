package model

import (
	"fmt"
	"time"
)

// Direction is the side of a gap, signal or position.
type Direction string

const (
	Bullish Direction = "bullish"
	Bearish Direction = "bearish"
)

// Sign returns +1 for bullish and -1 for bearish.
func (d Direction) Sign() float64 {
	if d == Bullish {
		return 1
	}
	return -1
}

// Side maps a direction to an order side.
func (d Direction) Side() Side {
	if d == Bullish {
		return SideBuy
	}
	return SideSell
}

// GapStatus is the lifecycle state of a fair value gap.
type GapStatus string

const (
	GapActive  GapStatus = "active"
	GapFilled  GapStatus = "filled"
	GapExpired GapStatus = "expired"
)

// FairValueGap is a three-candle price imbalance tracked per symbol.
// Invariant: Top > Bottom.
type FairValueGap struct {
	ID        string    `json:"id"` // deterministic: "{symbol}:{direction}:{created_unix}"
	Symbol    string    `json:"symbol"`
	Direction Direction `json:"direction"`
	Top       float64   `json:"top"`
	Bottom    float64   `json:"bottom"`
	CreatedAt time.Time `json:"created_at"` // open time of the candle that completed the pattern
	Status    GapStatus `json:"status"`
	FillCount int       `json:"fill_count"`
}

// NewFairValueGap builds an active gap and assigns its deterministic ID.
func NewFairValueGap(symbol string, dir Direction, top, bottom float64, createdAt time.Time) (FairValueGap, error) {
	if top <= bottom {
		return FairValueGap{}, fmt.Errorf("gap %s %s: top %.8f <= bottom %.8f", symbol, dir, top, bottom)
	}
	return FairValueGap{
		ID:        fmt.Sprintf("%s:%s:%d", symbol, dir, createdAt.Unix()),
		Symbol:    symbol,
		Direction: dir,
		Top:       top,
		Bottom:    bottom,
		CreatedAt: createdAt,
		Status:    GapActive,
	}, nil
}

// Midpoint returns the gap's midpoint, the entry trigger level.
func (g *FairValueGap) Midpoint() float64 {
	return (g.Top + g.Bottom) / 2
}

// BarAge returns how many bars of duration tf have closed since the gap
// was created, as of the candle opened at ts. Time-based rather than
// index-based so the age survives restarts and re-fetched windows.
func (g *FairValueGap) BarAge(ts time.Time, tf time.Duration) int {
	if tf <= 0 {
		return 0
	}
	return int(ts.Sub(g.CreatedAt) / tf)
}

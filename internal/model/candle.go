package model

import (
	"fmt"
	"time"
)

// Candle represents a single closed OHLCV candle.
// Immutable once closed; prices are quote-currency floats.
type Candle struct {
	OpenTime time.Time `json:"open_time"` // bucket start time (UTC)
	Open     float64   `json:"open"`
	High     float64   `json:"high"`
	Low      float64   `json:"low"`
	Close    float64   `json:"close"`
	Volume   float64   `json:"volume"`
}

// Contains reports whether the candle's trading range includes price.
func (c *Candle) Contains(price float64) bool {
	return price >= c.Low && price <= c.High
}

// Series is an ordered, immutable sequence of closed candles for one symbol.
// Candles are indexed by position; open times are strictly increasing.
type Series struct {
	symbol  string
	candles []Candle
}

// NewSeries validates ordering and wraps candles into a Series.
// Returns an error on out-of-order or duplicate open times — the market
// data provider is contracted to deliver strictly time-ordered candles.
func NewSeries(symbol string, candles []Candle) (*Series, error) {
	for i := 1; i < len(candles); i++ {
		if !candles[i].OpenTime.After(candles[i-1].OpenTime) {
			return nil, fmt.Errorf("series %s: candle %d open time %s not after %s",
				symbol, i, candles[i].OpenTime, candles[i-1].OpenTime)
		}
	}
	return &Series{symbol: symbol, candles: candles}, nil
}

// Symbol returns the instrument the series belongs to.
func (s *Series) Symbol() string { return s.symbol }

// Len returns the number of closed candles.
func (s *Series) Len() int { return len(s.candles) }

// At returns the candle at index i (0 = oldest).
func (s *Series) At(i int) Candle { return s.candles[i] }

// Last returns the most recent closed candle.
// Callers must check Len() > 0 first.
func (s *Series) Last() Candle { return s.candles[len(s.candles)-1] }

// Upto returns a sub-series containing candles [0, i] sharing the same
// backing array. Used by the backtester for expanding-window replay.
func (s *Series) Upto(i int) *Series {
	return &Series{symbol: s.symbol, candles: s.candles[:i+1]}
}

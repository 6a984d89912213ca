package indicator

import (
	"errors"

	"fvg-systemv1/internal/model"
)

// ErrInsufficientData is returned when a series is too short for the
// requested indicator. Callers skip evaluation for that symbol.
var ErrInsufficientData = errors.New("indicator: insufficient history")

// MACDConfig holds the MACD periods.
type MACDConfig struct {
	Fast   int
	Slow   int
	Signal int
}

// DefaultMACDConfig returns the standard 12/26/9 configuration.
func DefaultMACDConfig() MACDConfig {
	return MACDConfig{Fast: 12, Slow: 26, Signal: 9}
}

// minBars is the minimum series length for a defined signal line.
func (c MACDConfig) minBars() int { return c.Slow + c.Signal }

// MACDResult is the oscillator state at one closed bar.
type MACDResult struct {
	MACD      float64
	Signal    float64
	Histogram float64
}

// MACD computes the MACD line, signal line and histogram at the latest
// closed bar of the series. Requires at least Slow+Signal bars, otherwise
// ErrInsufficientData.
func MACD(s *model.Series, cfg MACDConfig) (MACDResult, error) {
	macd, sig, err := macdLines(s, cfg)
	if err != nil {
		return MACDResult{}, err
	}
	n := len(macd) - 1
	return MACDResult{
		MACD:      macd[n],
		Signal:    sig[n],
		Histogram: macd[n] - sig[n],
	}, nil
}

// RecentCross reports whether the MACD line crossed the signal line in the
// gap direction (up for bullish, down for bearish) within the last
// `lookback` bar transitions. When fewer bars are available than the
// lookback requires, the filter passes rather than suppressing entries.
func RecentCross(s *model.Series, cfg MACDConfig, dir model.Direction, lookback int) (bool, error) {
	macd, sig, err := macdLines(s, cfg)
	if err != nil {
		return false, err
	}
	if len(macd) < lookback+1 {
		return true, nil
	}

	start := len(macd) - lookback - 1
	prev := macd[start] - sig[start]
	for i := start + 1; i < len(macd); i++ {
		diff := macd[i] - sig[i]
		if dir == model.Bullish && prev < 0 && diff > 0 {
			return true, nil
		}
		if dir == model.Bearish && prev > 0 && diff < 0 {
			return true, nil
		}
		prev = diff
	}
	return false, nil
}

// macdLines computes aligned MACD and signal sequences. Entry k of each
// slice corresponds to the same bar; the first entries appear once the
// signal EMA has warmed up.
func macdLines(s *model.Series, cfg MACDConfig) ([]float64, []float64, error) {
	if s.Len() < cfg.minBars() {
		return nil, nil, ErrInsufficientData
	}

	fast := NewEMA(cfg.Fast)
	slow := NewEMA(cfg.Slow)
	sigEMA := NewEMA(cfg.Signal)

	var macd, sig []float64
	for i := 0; i < s.Len(); i++ {
		px := s.At(i).Close
		fast.Update(px)
		slow.Update(px)
		if !slow.Ready() {
			continue
		}
		m := fast.Value() - slow.Value()
		sigEMA.Update(m)
		if !sigEMA.Ready() {
			continue
		}
		macd = append(macd, m)
		sig = append(sig, sigEMA.Value())
	}

	if len(macd) == 0 {
		return nil, nil, ErrInsufficientData
	}
	return macd, sig, nil
}

package model

import "time"

// RiskState is the persisted risk-accounting baseline.
// DayStartBalance anchors the daily-loss guard and resets at the UTC
// day boundary.
type RiskState struct {
	DayStartBalance float64   `json:"day_start_balance"`
	CurrentBalance  float64   `json:"current_balance"`
	LastReset       time.Time `json:"last_reset"` // UTC time of the last day-boundary reset
	GuardTriggered  bool      `json:"daily_loss_guard_triggered"`
}

// Snapshot is the full durable state of the engine: active (and recently
// retired) gaps keyed by symbol, open positions, and risk state. It is
// loaded once at startup and saved after every mutation.
type Snapshot struct {
	Gaps      map[string][]FairValueGap `json:"gaps"`
	Positions []Position                `json:"positions"`
	Risk      RiskState                 `json:"risk_state"`
}

// NewSnapshot returns an empty snapshot with the given starting balance.
func NewSnapshot(startingBalance float64, now time.Time) *Snapshot {
	return &Snapshot{
		Gaps: make(map[string][]FairValueGap),
		Risk: RiskState{
			DayStartBalance: startingBalance,
			CurrentBalance:  startingBalance,
			LastReset:       now.UTC(),
		},
	}
}

// OpenPosition returns the open position for symbol, or nil.
func (s *Snapshot) OpenPosition(symbol string) *Position {
	for i := range s.Positions {
		if s.Positions[i].Symbol == symbol && s.Positions[i].Status == PositionOpen {
			return &s.Positions[i]
		}
	}
	return nil
}

// OpenPositionCount returns the number of open positions across all symbols.
func (s *Snapshot) OpenPositionCount() int {
	n := 0
	for i := range s.Positions {
		if s.Positions[i].Status == PositionOpen {
			n++
		}
	}
	return n
}

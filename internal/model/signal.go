package model

import "time"

// Side is the order side sent to the execution provider.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// Opposite returns the closing side for a position opened with s.
func (s Side) Opposite() Side {
	if s == SideBuy {
		return SideSell
	}
	return SideBuy
}

// MACDState records the momentum confirmation outcome for a signal.
type MACDState string

const (
	MACDConfirmed MACDState = "confirmed"
	MACDPending   MACDState = "pending"
	MACDRejected  MACDState = "rejected"
)

// Signal is a confirmed entry decision produced by the evaluator.
type Signal struct {
	Symbol     string    `json:"symbol"`
	Direction  Direction `json:"direction"`
	EntryPrice float64   `json:"entry_price"`
	StopLoss   float64   `json:"stop_loss"`
	TakeProfit float64   `json:"take_profit"`
	GapID      string    `json:"gap_id"`
	MACDState  MACDState `json:"macd_state"`
	Timestamp  time.Time `json:"timestamp"` // open time of the trigger candle
}

// RejectReason classifies why a gap touch did not become an entry.
// Reasons are mutually exclusive; evaluation stops at the first hit.
type RejectReason string

const (
	RejectNone           RejectReason = ""
	RejectOpenPosition   RejectReason = "open_position"
	RejectMACDDisagree   RejectReason = "macd_disagreement"
	RejectGapFilled      RejectReason = "gap_already_filled"
	RejectInvalidStop    RejectReason = "invalid_stop"
	RejectBelowMinSize   RejectReason = "below_min_size"
	RejectPortfolioCap   RejectReason = "portfolio_cap"
	RejectDailyLossGuard RejectReason = "daily_loss_guard"
)

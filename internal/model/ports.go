package model

import (
	"context"
	"time"
)

// ── Collaborator Port Interfaces ──
// These interfaces decouple the decision engine from concrete providers
// (Binance REST/WS, paper simulation, backtest replay, SQLite, Redis).

// MarketData supplies closed candles and last prices.
// Implementations retry transient failures internally; a returned error is
// terminal for the symbol this tick and the engine skips it.
type MarketData interface {
	// GetCandles returns up to limit closed candles, strictly time-ordered.
	GetCandles(ctx context.Context, symbol, timeframe string, limit int) ([]Candle, error)

	// GetTicker returns the last traded price.
	GetTicker(ctx context.Context, symbol string) (float64, error)
}

// Fill is the result of a successfully placed order.
type Fill struct {
	OrderID   string    `json:"order_id"`
	Price     float64   `json:"price"`
	Size      float64   `json:"size"`
	Timestamp time.Time `json:"timestamp"`
}

// OrderExecutor places entry orders. Any non-fill error means the signal
// is discarded; the engine never retries the same gap touch.
type OrderExecutor interface {
	PlaceOrder(ctx context.Context, symbol string, side Side, size, stopLoss, takeProfit float64) (Fill, error)
}

// SymbolMeta exposes exchange trading rules used for sizing and rounding.
// Implementations return conservative defaults when metadata is unknown
// rather than blocking the engine.
type SymbolMeta interface {
	// MinOrderSize returns the minimum order size in base units (0 = unknown).
	MinOrderSize(symbol string) float64

	// MinNotional returns the minimum order value in quote units (0 = unknown).
	MinNotional(symbol string) float64

	// SizeStep returns the lot step sizes are rounded down to.
	SizeStep(symbol string) float64

	// PriceTick returns the price increment for SL/TP rounding.
	PriceTick(symbol string) float64
}

// StateStore persists the engine snapshot. Save is atomic: either the new
// snapshot is fully written or the prior one remains intact.
type StateStore interface {
	Load() (*Snapshot, error)
	Save(snap *Snapshot) error
	Close() error
}

// EventRecorder receives decision events (signals, rejections, fills, PnL
// updates). Fire-and-forget: implementations must never block or return
// control-flow errors to the engine.
type EventRecorder interface {
	Record(ctx context.Context, kind string, payload map[string]any)
}

// NopRecorder discards all events.
type NopRecorder struct{}

func (NopRecorder) Record(ctx context.Context, kind string, payload map[string]any) {}

package exchange

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"fvg-systemv1/internal/model"
)

// BacktestExecutor fills orders at the replayed bar's close price.
// The backtester advances the clock and price per symbol before each
// engine pass, so fills are deterministic functions of the history.
type BacktestExecutor struct {
	mu     sync.RWMutex
	prices map[string]float64
	now    time.Time
}

// NewBacktestExecutor creates a backtest fill simulator.
func NewBacktestExecutor() *BacktestExecutor {
	return &BacktestExecutor{prices: make(map[string]float64)}
}

// SetBar pins the current replay price and time for a symbol.
func (b *BacktestExecutor) SetBar(symbol string, price float64, ts time.Time) {
	b.mu.Lock()
	b.prices[symbol] = price
	b.now = ts
	b.mu.Unlock()
}

// PlaceOrder fills at the pinned bar close.
func (b *BacktestExecutor) PlaceOrder(ctx context.Context, symbol string, side model.Side, size, stopLoss, takeProfit float64) (model.Fill, error) {
	b.mu.RLock()
	price, ok := b.prices[symbol]
	ts := b.now
	b.mu.RUnlock()
	if !ok {
		return model.Fill{}, fmt.Errorf("backtest fill %s: no replay price pinned", symbol)
	}
	return model.Fill{
		OrderID:   "BT-" + uuid.NewString(),
		Price:     price,
		Size:      size,
		Timestamp: ts,
	}, nil
}

// GetTicker returns the pinned replay price, satisfying the MarketData
// price lookup used by position management during replay.
func (b *BacktestExecutor) GetTicker(ctx context.Context, symbol string) (float64, error) {
	b.mu.RLock()
	price, ok := b.prices[symbol]
	b.mu.RUnlock()
	if !ok {
		return 0, fmt.Errorf("backtest ticker %s: no replay price pinned", symbol)
	}
	return price, nil
}

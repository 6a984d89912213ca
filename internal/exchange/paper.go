package exchange

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"fvg-systemv1/internal/model"
)

// PaperExecutor simulates order execution without real exchange calls:
// orders fill immediately at the current ticker price, with optional
// simulated slippage.
type PaperExecutor struct {
	data model.MarketData

	// Simulated slippage in basis points (e.g. 5 = 0.05%).
	slippageBps float64
}

// NewPaperExecutor creates a paper trading executor filling at prices
// from the given market data provider.
func NewPaperExecutor(data model.MarketData, slippageBps float64) *PaperExecutor {
	return &PaperExecutor{data: data, slippageBps: slippageBps}
}

// PlaceOrder fills immediately at the last traded price.
func (p *PaperExecutor) PlaceOrder(ctx context.Context, symbol string, side model.Side, size, stopLoss, takeProfit float64) (model.Fill, error) {
	price, err := p.data.GetTicker(ctx, symbol)
	if err != nil {
		return model.Fill{}, fmt.Errorf("paper fill %s: price unavailable: %w", symbol, err)
	}

	slip := price * p.slippageBps / 10000
	if side == model.SideBuy {
		price += slip // buy higher
	} else {
		price -= slip // sell lower
	}

	fill := model.Fill{
		OrderID:   "PAPER-" + uuid.NewString(),
		Price:     price,
		Size:      size,
		Timestamp: time.Now().UTC(),
	}
	log.Printf("[paper] %s %s size=%.8f price=%.8f (slip=%.8f) order=%s",
		side, symbol, size, price, slip, fill.OrderID)
	return fill, nil
}

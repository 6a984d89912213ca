package exchange

import (
	"context"
	"log"

	"fvg-systemv1/internal/model"
)

// LiveExecutor places real market orders through the Binance client.
//
// Stop-loss and take-profit levels are engine-managed: the engine closes
// positions itself with opposite market orders so that live, paper and
// backtest modes share identical exit semantics. The levels are accepted
// here for the audit log only.
type LiveExecutor struct {
	client *Client
}

// NewLiveExecutor creates a live order executor.
func NewLiveExecutor(client *Client) *LiveExecutor {
	return &LiveExecutor{client: client}
}

// PlaceOrder submits a market order. Any non-fill is returned as an error;
// the engine treats it as a rejected signal and never retries the same
// gap touch.
func (l *LiveExecutor) PlaceOrder(ctx context.Context, symbol string, side model.Side, size, stopLoss, takeProfit float64) (model.Fill, error) {
	fill, err := l.client.PlaceMarketOrder(ctx, symbol, side, size)
	if err != nil {
		return model.Fill{}, err
	}
	log.Printf("[live] %s %s size=%.8f filled=%.8f price=%.8f sl=%.8f tp=%.8f order=%s",
		side, symbol, size, fill.Size, fill.Price, stopLoss, takeProfit, fill.OrderID)
	return fill, nil
}

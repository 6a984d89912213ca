package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"testing"
	"time"

	"fvg-systemv1/internal/detector"
	"fvg-systemv1/internal/indicator"
	"fvg-systemv1/internal/model"
	"fvg-systemv1/internal/risk"
	"fvg-systemv1/internal/strategy"
)

var (
	testBar  = 4 * time.Hour
	testBase = time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
)

func bar(i int, open, high, low, close float64) model.Candle {
	return model.Candle{
		OpenTime: testBase.Add(time.Duration(i) * testBar),
		Open:     open, High: high, Low: low, Close: close,
	}
}

func flatBar(i int, px float64) model.Candle {
	return bar(i, px, px+5, px-5, px)
}

// fakeData serves a mutable candle history and a pinned ticker price.
type fakeData struct {
	candles []model.Candle
	ticker  float64
	err     error
}

func (f *fakeData) GetCandles(ctx context.Context, symbol, timeframe string, limit int) ([]model.Candle, error) {
	if f.err != nil {
		return nil, f.err
	}
	out := make([]model.Candle, len(f.candles))
	copy(out, f.candles)
	return out, nil
}

func (f *fakeData) GetTicker(ctx context.Context, symbol string) (float64, error) {
	if f.err != nil {
		return 0, f.err
	}
	return f.ticker, nil
}

type placedOrder struct {
	symbol     string
	side       model.Side
	size       float64
	stopLoss   float64
	takeProfit float64
}

// fakeExec fills every order at a pinned price.
type fakeExec struct {
	price  float64
	orders []placedOrder
	err    error
}

func (f *fakeExec) PlaceOrder(ctx context.Context, symbol string, side model.Side, size, stopLoss, takeProfit float64) (model.Fill, error) {
	if f.err != nil {
		return model.Fill{}, f.err
	}
	f.orders = append(f.orders, placedOrder{symbol, side, size, stopLoss, takeProfit})
	return model.Fill{
		OrderID:   fmt.Sprintf("T-%d", len(f.orders)),
		Price:     f.price,
		Size:      size,
		Timestamp: testBase,
	}, nil
}

type fakeMeta struct{}

func (fakeMeta) MinOrderSize(string) float64 { return 0 }
func (fakeMeta) MinNotional(string) float64  { return 0 }
func (fakeMeta) SizeStep(string) float64     { return 0 }
func (fakeMeta) PriceTick(string) float64    { return 0 }

// flakyStore fails its first N saves, then delegates to a memStore.
type flakyStore struct {
	memStore
	failures int
	saves    int
}

func (f *flakyStore) Save(snap *model.Snapshot) error {
	f.saves++
	if f.saves <= f.failures {
		return errors.New("disk full")
	}
	return f.memStore.Save(snap)
}

// Short MACD periods keep test histories small: minimum history is
// Slow+Signal = 5 bars.
var testMACD = indicator.MACDConfig{Fast: 2, Slow: 3, Signal: 2}

func newTestEngine(t *testing.T, data *fakeData, exec *fakeExec, store model.StateStore) *Engine {
	t.Helper()
	if store == nil {
		store = &memStore{}
	}
	eng := New(Options{
		Symbols:         []string{"BTCUSDT"},
		Timeframe:       "4h",
		BarDuration:     testBar,
		CandleLimit:     200,
		StartingBalance: 10000,
		MACD:            testMACD,
	}, Deps{
		Data:     data,
		Executor: exec,
		Store:    store,
		Logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
		Detector: detector.New(detector.Config{Timeframe: testBar}),
		Evaluator: strategy.New(strategy.Config{
			StopBufferPct:      0.001,
			RewardRisk:         2.0,
			RequireRecentCross: false,
			MACD:               testMACD,
		}),
		Risk: risk.New(risk.DefaultLimits(), fakeMeta{}),
	})
	if err := eng.Start(); err != nil {
		t.Fatalf("engine start: %v", err)
	}
	return eng
}

// gapHistory is six bars whose newest window forms a bullish gap
// [105, 120] (midpoint 112.5), untouched so far.
func gapHistory() []model.Candle {
	return []model.Candle{
		flatBar(0, 100),
		flatBar(1, 100),
		flatBar(2, 100),
		bar(3, 100, 105, 95, 104),
		bar(4, 104, 125, 104, 124),
		bar(5, 124, 130, 120, 128),
	}
}

func TestTick_FullEntryAndExitFlow(t *testing.T) {
	data := &fakeData{candles: gapHistory(), ticker: 128}
	exec := &fakeExec{price: 128}
	store := &memStore{}
	eng := newTestEngine(t, data, exec, store)

	now := testBase.Add(6 * testBar)
	eng.SetClock(func() time.Time { return now })

	// Tick 1: the gap forms, nothing is touched.
	if err := eng.Tick(context.Background()); err != nil {
		t.Fatal(err)
	}
	if len(exec.orders) != 0 {
		t.Fatalf("no order expected before a touch, got %+v", exec.orders)
	}
	gaps := eng.Snapshot().Gaps["BTCUSDT"]
	if len(gaps) != 1 || gaps[0].Midpoint() != 112.5 {
		t.Fatalf("expected the [105,120] gap to be tracked, got %+v", gaps)
	}

	// Tick 2: a strong dip-and-recover candle trades through the midpoint
	// with upward momentum. Entry at the trigger close.
	data.candles = append(data.candles, bar(6, 128, 141, 111, 140))
	data.ticker = 140
	exec.price = 140
	now = now.Add(testBar)

	if err := eng.Tick(context.Background()); err != nil {
		t.Fatal(err)
	}
	if len(exec.orders) != 1 {
		t.Fatalf("expected 1 entry order, got %d", len(exec.orders))
	}
	if exec.orders[0].side != model.SideBuy {
		t.Errorf("bullish gap should buy, got %s", exec.orders[0].side)
	}

	snap := eng.Snapshot()
	pos := snap.OpenPosition("BTCUSDT")
	if pos == nil {
		t.Fatal("expected an open position")
	}
	wantStop := 105 * 0.999
	if math.Abs(pos.StopLoss-wantStop) > 1e-9 {
		t.Errorf("stop = %v, want %v", pos.StopLoss, wantStop)
	}
	wantTP := 140 + 2*(140-wantStop)
	if math.Abs(pos.TakeProfit-wantTP) > 1e-9 {
		t.Errorf("tp = %v, want %v", pos.TakeProfit, wantTP)
	}
	wantSize := math.Floor(0.01*10000/(140-wantStop)/1e-6+1e-9) * 1e-6
	if math.Abs(pos.Size-wantSize) > 1e-12 {
		t.Errorf("size = %v, want %v", pos.Size, wantSize)
	}
	if snap.Gaps["BTCUSDT"][0].FillCount != 1 {
		t.Error("the touch must consume the gap")
	}
	if store.snap == nil || store.snap.OpenPosition("BTCUSDT") == nil {
		t.Error("opened position must be persisted")
	}

	// Tick 3: price runs through the target. Management exits via an
	// opposite-side order before any new scanning.
	data.candles = append(data.candles, bar(7, 140, 215, 139, 212))
	data.ticker = 212
	exec.price = 212
	now = now.Add(testBar)

	if err := eng.Tick(context.Background()); err != nil {
		t.Fatal(err)
	}
	if len(exec.orders) != 2 {
		t.Fatalf("expected the exit order, got %d orders", len(exec.orders))
	}
	if exec.orders[1].side != model.SideSell {
		t.Errorf("bullish exit should sell, got %s", exec.orders[1].side)
	}

	snap = eng.Snapshot()
	if snap.OpenPosition("BTCUSDT") != nil {
		t.Fatal("position should be closed")
	}
	closed := snap.Positions[0]
	if closed.ExitReason != "take_profit" {
		t.Errorf("exit reason = %s, want take_profit", closed.ExitReason)
	}
	wantPnL := (212 - 140) * closed.Size
	if math.Abs(closed.RealizedPnL-wantPnL) > 1e-9 {
		t.Errorf("pnl = %v, want %v", closed.RealizedPnL, wantPnL)
	}
	if math.Abs(snap.Risk.CurrentBalance-(10000+wantPnL)) > 1e-9 {
		t.Errorf("balance = %v, want %v", snap.Risk.CurrentBalance, 10000+wantPnL)
	}
}

func TestTick_DataErrorSkipsSymbol(t *testing.T) {
	data := &fakeData{err: errors.New("exchange down")}
	exec := &fakeExec{}
	eng := newTestEngine(t, data, exec, nil)
	eng.SetClock(func() time.Time { return testBase.Add(6 * testBar) })

	// A data failure is not a tick failure.
	if err := eng.Tick(context.Background()); err != nil {
		t.Fatalf("tick must survive a symbol data error, got %v", err)
	}
	if len(exec.orders) != 0 {
		t.Error("no orders expected")
	}
}

func TestTick_ExecutionFailureConsumesGap(t *testing.T) {
	data := &fakeData{candles: gapHistory(), ticker: 128}
	exec := &fakeExec{price: 128}
	eng := newTestEngine(t, data, exec, nil)

	now := testBase.Add(6 * testBar)
	eng.SetClock(func() time.Time { return now })
	if err := eng.Tick(context.Background()); err != nil {
		t.Fatal(err)
	}

	data.candles = append(data.candles, bar(6, 128, 141, 111, 140))
	data.ticker = 140
	exec.err = errors.New("insufficient margin")
	now = now.Add(testBar)
	if err := eng.Tick(context.Background()); err != nil {
		t.Fatal(err)
	}

	snap := eng.Snapshot()
	if snap.OpenPosition("BTCUSDT") != nil {
		t.Fatal("failed execution must not open a position")
	}
	if snap.Gaps["BTCUSDT"][0].FillCount != 1 {
		t.Error("the touch is consumed even when execution fails")
	}

	// Next tick with execution restored: the same gap never re-triggers.
	exec.err = nil
	exec.price = 140
	now = now.Add(testBar)
	if err := eng.Tick(context.Background()); err != nil {
		t.Fatal(err)
	}
	if len(exec.orders) != 0 {
		t.Error("a consumed gap must not be retried")
	}
}

func TestTick_ResumesFromPersistedState(t *testing.T) {
	data := &fakeData{candles: gapHistory(), ticker: 128}
	exec := &fakeExec{price: 128}
	store := &memStore{}

	eng := newTestEngine(t, data, exec, store)
	now := testBase.Add(6 * testBar)
	eng.SetClock(func() time.Time { return now })
	if err := eng.Tick(context.Background()); err != nil {
		t.Fatal(err)
	}
	if store.snap == nil {
		t.Fatal("gap creation must persist")
	}

	// Process restart: a new engine over the same store sees the gap and
	// does not recreate it.
	eng2 := newTestEngine(t, data, exec, store)
	eng2.SetClock(func() time.Time { return now })
	if err := eng2.Tick(context.Background()); err != nil {
		t.Fatal(err)
	}
	gaps := eng2.Snapshot().Gaps["BTCUSDT"]
	if len(gaps) != 1 {
		t.Fatalf("restart must not duplicate the gap, got %d", len(gaps))
	}
	if eng2.Snapshot().Risk.CurrentBalance != 10000 {
		t.Errorf("balance should carry over, got %v", eng2.Snapshot().Risk.CurrentBalance)
	}
}

func TestTick_SaveFailureRetriedNextTick(t *testing.T) {
	data := &fakeData{candles: gapHistory(), ticker: 128}
	exec := &fakeExec{price: 128}
	store := &flakyStore{failures: 1}
	eng := newTestEngine(t, data, exec, store)

	now := testBase.Add(6 * testBar)
	eng.SetClock(func() time.Time { return now })

	// First tick: the gap-creation save fails; in-memory state is kept.
	if err := eng.Tick(context.Background()); err != nil {
		t.Fatal(err)
	}
	if len(eng.Snapshot().Gaps["BTCUSDT"]) != 1 {
		t.Fatal("in-memory state must survive a failed save")
	}
	if store.snap != nil {
		t.Fatal("failed save must not write")
	}

	// Second tick retries the save up front.
	now = now.Add(testBar)
	if err := eng.Tick(context.Background()); err != nil {
		t.Fatal(err)
	}
	if store.snap == nil {
		t.Fatal("save must be retried on the next tick")
	}
	if len(store.snap.Gaps["BTCUSDT"]) != 1 {
		t.Errorf("persisted snapshot missing the gap: %+v", store.snap.Gaps)
	}
}

func TestTick_DayRolloverResetsGuard(t *testing.T) {
	data := &fakeData{candles: gapHistory(), ticker: 128}
	exec := &fakeExec{price: 128}
	eng := newTestEngine(t, data, exec, nil)

	snap := eng.Snapshot()
	snap.Risk.CurrentBalance = 9000
	snap.Risk.DayStartBalance = 10000
	snap.Risk.GuardTriggered = true

	now := snap.Risk.LastReset.Add(25 * time.Hour)
	eng.SetClock(func() time.Time { return now })
	if err := eng.Tick(context.Background()); err != nil {
		t.Fatal(err)
	}
	if snap.Risk.GuardTriggered {
		t.Error("guard must clear at the UTC day boundary")
	}
	if snap.Risk.DayStartBalance != 9000 {
		t.Errorf("day start should re-anchor, got %v", snap.Risk.DayStartBalance)
	}
}

func TestTick_AbortBetweenSymbols(t *testing.T) {
	data := &fakeData{candles: gapHistory(), ticker: 128}
	exec := &fakeExec{price: 128}
	eng := newTestEngine(t, data, exec, nil)
	eng.SetClock(func() time.Time { return testBase.Add(6 * testBar) })

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := eng.Tick(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("cancelled tick should surface context error, got %v", err)
	}
	if len(exec.orders) != 0 {
		t.Error("no work after cancellation")
	}
}

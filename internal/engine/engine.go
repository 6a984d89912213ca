// Package engine orchestrates one decision cycle per scheduling tick:
// manage open positions first, then for each symbol fetch candles, update
// gaps, compute MACD, evaluate entries, size and place orders, and persist
// state after every mutation.
//
// The engine is a single logical worker. Symbols are processed
// sequentially within a tick and a tick may be aborted between symbols
// without corrupting state: every mutation is followed by a durable save,
// so a resumed tick continues exactly where the last save left off.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"fvg-systemv1/internal/detector"
	"fvg-systemv1/internal/indicator"
	"fvg-systemv1/internal/metrics"
	"fvg-systemv1/internal/model"
	"fvg-systemv1/internal/notification"
	"fvg-systemv1/internal/risk"
	"fvg-systemv1/internal/strategy"
)

// Event kinds recorded to the event stream.
const (
	EventSignal         = "signal"
	EventRejection      = "rejection"
	EventFill           = "fill"
	EventGapCreated     = "gap_created"
	EventGapRetired     = "gap_retired"
	EventPositionClosed = "position_closed"
)

// Options configures an Engine.
type Options struct {
	Symbols         []string
	Timeframe       string        // exchange interval, e.g. "4h"
	BarDuration     time.Duration // duration of one bar
	CandleLimit     int           // history depth fetched per tick
	StartingBalance float64       // paper/backtest balance for a fresh store

	MACD indicator.MACDConfig
}

// Deps are the engine's collaborators, injected once at startup.
type Deps struct {
	Data      model.MarketData
	Executor  model.OrderExecutor
	Store     model.StateStore
	Events    model.EventRecorder
	Logger    *slog.Logger
	Metrics   *metrics.Metrics
	Detector  *detector.Detector
	Evaluator *strategy.Evaluator
	Risk      *risk.Manager
	Notifier  notification.Notifier
}

// Engine drives the decision cycle over a durable snapshot.
type Engine struct {
	opts Options
	deps Deps

	snap       *model.Snapshot
	saveFailed bool

	// now is swappable for backtests and tests.
	now func() time.Time
}

// New assembles an engine. Call Start before the first Tick.
func New(opts Options, deps Deps) *Engine {
	if opts.Timeframe == "" {
		opts.Timeframe = "4h"
	}
	if opts.BarDuration <= 0 {
		opts.BarDuration = 4 * time.Hour
	}
	if opts.CandleLimit <= 0 {
		opts.CandleLimit = 200
	}
	if opts.StartingBalance <= 0 {
		opts.StartingBalance = 10000
	}
	if opts.MACD.Slow == 0 {
		opts.MACD = indicator.DefaultMACDConfig()
	}
	if deps.Events == nil {
		deps.Events = model.NopRecorder{}
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Notifier == nil {
		deps.Notifier = notification.NewLogNotifier()
	}
	return &Engine{opts: opts, deps: deps, now: time.Now}
}

// SetClock overrides the engine's time source (backtests).
func (e *Engine) SetClock(now func() time.Time) { e.now = now }

// Snapshot exposes the live state for inspection (read-only use).
func (e *Engine) Snapshot() *model.Snapshot { return e.snap }

// Start loads the persisted snapshot, or initializes a fresh one when the
// store has never been written. A load failure is fatal: the engine must
// not run with unknown state.
func (e *Engine) Start() error {
	snap, err := e.deps.Store.Load()
	if err != nil {
		return err
	}
	if snap == nil {
		snap = model.NewSnapshot(e.opts.StartingBalance, e.now())
		e.deps.Logger.Info("initialized fresh state",
			slog.Float64("starting_balance", e.opts.StartingBalance))
	} else {
		e.deps.Logger.Info("restored state",
			slog.Int("open_positions", snap.OpenPositionCount()),
			slog.Float64("balance", snap.Risk.CurrentBalance))
	}
	e.snap = snap
	if e.deps.Metrics != nil {
		e.deps.Metrics.Balance.Set(snap.Risk.CurrentBalance)
	}
	return nil
}

// Tick runs one full decision cycle. Manage-before-scan ordering is a
// correctness requirement: reversing it would double-count risk capacity
// within the tick.
func (e *Engine) Tick(ctx context.Context) error {
	now := e.now()

	// A failed save from the previous tick is retried before any new
	// mutation so the durable snapshot catches up first.
	if e.saveFailed {
		e.persist()
	}

	if e.deps.Risk.RolloverDay(e.snap, now) {
		e.deps.Logger.Info("daily baseline reset",
			slog.Float64("day_start_balance", e.snap.Risk.DayStartBalance))
		e.persist()
	}

	e.managePositions(ctx, now)

	for _, symbol := range e.opts.Symbols {
		if err := ctx.Err(); err != nil {
			return err
		}
		e.scanSymbol(ctx, symbol, now)
	}
	return nil
}

// managePositions checks every open position against the latest price and
// exits those whose stop or target has been crossed.
func (e *Engine) managePositions(ctx context.Context, now time.Time) {
	for i := range e.snap.Positions {
		pos := &e.snap.Positions[i]
		if pos.Status != model.PositionOpen {
			continue
		}
		if ctx.Err() != nil {
			return
		}

		price, err := e.deps.Data.GetTicker(ctx, pos.Symbol)
		if err != nil {
			e.deps.Logger.Warn("price unavailable, skipping position check",
				slog.String("symbol", pos.Symbol), slog.String("position_id", pos.ID),
				slog.String("error", err.Error()))
			continue
		}

		reason := e.deps.Risk.ExitReason(pos, price)
		if reason == "" {
			continue
		}

		// Exit through the executor so live mode actually flattens the
		// position; paper and backtest fill at the same observed price.
		fill, err := e.deps.Executor.PlaceOrder(ctx, pos.Symbol, pos.Direction.Side().Opposite(), pos.Size, 0, 0)
		if err != nil {
			e.deps.Logger.Error("exit order failed, position stays open",
				slog.String("symbol", pos.Symbol), slog.String("position_id", pos.ID),
				slog.String("reason", reason), slog.String("error", err.Error()))
			continue
		}

		e.deps.Risk.Close(pos, fill.Price, reason, now, e.snap)
		e.persist()
		e.recordClose(ctx, pos)
	}
}

// scanSymbol runs detection and evaluation for one symbol. Data errors
// skip the symbol for this tick without mutating state.
func (e *Engine) scanSymbol(ctx context.Context, symbol string, now time.Time) {
	candles, err := e.deps.Data.GetCandles(ctx, symbol, e.opts.Timeframe, e.opts.CandleLimit)
	if err != nil {
		e.deps.Logger.Warn("data unavailable for symbol",
			slog.String("symbol", symbol), slog.String("error", err.Error()))
		return
	}
	if len(candles) == 0 {
		e.deps.Logger.Warn("empty candle history", slog.String("symbol", symbol))
		return
	}
	series, err := model.NewSeries(symbol, candles)
	if err != nil {
		e.deps.Logger.Warn("malformed candle history",
			slog.String("symbol", symbol), slog.String("error", err.Error()))
		return
	}
	if e.deps.Metrics != nil {
		e.deps.Metrics.CandlesFetched.Add(float64(len(candles)))
	}

	active, created, retired := e.deps.Detector.Update(e.snap.Gaps[symbol], series)
	e.snap.Gaps[symbol] = active
	for _, g := range created {
		e.deps.Logger.Info("gap detected",
			slog.String("symbol", symbol), slog.String("gap_id", g.ID),
			slog.String("direction", string(g.Direction)),
			slog.Float64("top", g.Top), slog.Float64("bottom", g.Bottom),
			slog.Float64("midpoint", g.Midpoint()))
		e.deps.Events.Record(ctx, EventGapCreated, gapPayload(&g))
		if e.deps.Metrics != nil {
			e.deps.Metrics.GapsDetected.Inc()
		}
	}
	for _, g := range retired {
		e.deps.Logger.Info("gap retired",
			slog.String("symbol", symbol), slog.String("gap_id", g.ID),
			slog.String("status", string(g.Status)))
		e.deps.Events.Record(ctx, EventGapRetired, gapPayload(&g))
	}
	if len(created) > 0 || len(retired) > 0 {
		e.persist()
	}

	macdRes, err := indicator.MACD(series, e.opts.MACD)
	if err != nil {
		if errors.Is(err, indicator.ErrInsufficientData) {
			e.deps.Logger.Debug("insufficient history for MACD, skipping evaluation",
				slog.String("symbol", symbol), slog.Int("bars", series.Len()))
		} else {
			e.deps.Logger.Warn("indicator failure",
				slog.String("symbol", symbol), slog.String("error", err.Error()))
		}
		return
	}

	hasOpen := e.snap.OpenPosition(symbol) != nil
	results := e.deps.Evaluator.Evaluate(e.snap.Gaps[symbol], series, macdRes, hasOpen)
	if len(results) > 0 {
		// Evaluation consumes touched gaps even when no signal results.
		e.persist()
	}

	for _, res := range results {
		if res.Signal == nil {
			e.reject(ctx, symbol, res.GapID, res.Reason)
			continue
		}
		e.enter(ctx, res.Signal, now)
	}
}

// enter sizes a confirmed signal, applies portfolio caps, places the entry
// order and records the resulting position.
func (e *Engine) enter(ctx context.Context, sig *model.Signal, now time.Time) {
	guardWasLatched := e.snap.Risk.GuardTriggered
	if reason := e.deps.Risk.CheckCaps(e.snap); reason != model.RejectNone {
		if reason == model.RejectDailyLossGuard && !guardWasLatched {
			// Freshly tripped: persist the latched flag and alert.
			e.persist()
			e.deps.Notifier.Send(ctx, notification.Alert{
				Level: notification.AlertCritical,
				Title: "daily loss guard tripped",
				Message: fmt.Sprintf("balance %.2f breached the daily drawdown floor (day start %.2f); entries halted until next UTC day",
					e.snap.Risk.CurrentBalance, e.snap.Risk.DayStartBalance),
			})
		}
		e.reject(ctx, sig.Symbol, sig.GapID, reason)
		return
	}

	size, reason := e.deps.Risk.Size(sig, e.snap)
	if reason != model.RejectNone {
		e.reject(ctx, sig.Symbol, sig.GapID, reason)
		return
	}

	e.deps.Logger.Info("entry signal confirmed",
		slog.String("symbol", sig.Symbol), slog.String("gap_id", sig.GapID),
		slog.String("direction", string(sig.Direction)),
		slog.Float64("entry", sig.EntryPrice), slog.Float64("stop_loss", sig.StopLoss),
		slog.Float64("take_profit", sig.TakeProfit), slog.Float64("size", size))
	e.deps.Events.Record(ctx, EventSignal, signalPayload(sig, size))
	if e.deps.Metrics != nil {
		e.deps.Metrics.SignalsConfirmed.Inc()
	}

	fill, err := e.deps.Executor.PlaceOrder(ctx, sig.Symbol, sig.Direction.Side(), size, sig.StopLoss, sig.TakeProfit)
	if err != nil {
		// The gap stays consumed: a failed execution is never retried,
		// a new gap must form.
		e.deps.Logger.Error("order execution failed",
			slog.String("symbol", sig.Symbol), slog.String("gap_id", sig.GapID),
			slog.String("error", err.Error()))
		if e.deps.Metrics != nil {
			e.deps.Metrics.ExecutionFailures.Inc()
		}
		return
	}

	pos := e.deps.Risk.Open(sig, fill, e.snap)
	e.persist()

	e.deps.Logger.Info("position opened",
		slog.String("symbol", pos.Symbol), slog.String("position_id", pos.ID),
		slog.String("order_id", fill.OrderID),
		slog.Float64("entry", pos.EntryPrice), slog.Float64("size", pos.Size))
	e.deps.Events.Record(ctx, EventFill, fillPayload(pos, fill))
	if e.deps.Metrics != nil {
		e.deps.Metrics.PositionsOpened.Inc()
		e.deps.Metrics.OpenPositions.Set(float64(e.snap.OpenPositionCount()))
	}
}

func (e *Engine) reject(ctx context.Context, symbol, gapID string, reason model.RejectReason) {
	e.deps.Logger.Info("signal rejected",
		slog.String("symbol", symbol), slog.String("gap_id", gapID),
		slog.String("reason", string(reason)))
	e.deps.Events.Record(ctx, EventRejection, map[string]any{
		"symbol": symbol,
		"gap_id": gapID,
		"reason": string(reason),
	})
	if e.deps.Metrics != nil {
		e.deps.Metrics.SignalsRejected.WithLabelValues(string(reason)).Inc()
	}
}

func (e *Engine) recordClose(ctx context.Context, pos *model.Position) {
	e.deps.Logger.Info("position closed",
		slog.String("symbol", pos.Symbol), slog.String("position_id", pos.ID),
		slog.String("exit_reason", pos.ExitReason),
		slog.Float64("exit_price", pos.ExitPrice),
		slog.Float64("realized_pnl", pos.RealizedPnL),
		slog.Float64("balance", e.snap.Risk.CurrentBalance))
	e.deps.Events.Record(ctx, EventPositionClosed, map[string]any{
		"symbol":       pos.Symbol,
		"position_id":  pos.ID,
		"exit_price":   pos.ExitPrice,
		"exit_reason":  pos.ExitReason,
		"realized_pnl": pos.RealizedPnL,
		"balance":      e.snap.Risk.CurrentBalance,
	})
	if e.deps.Metrics != nil {
		e.deps.Metrics.PositionsClosed.Inc()
		e.deps.Metrics.RealizedPnL.Add(pos.RealizedPnL)
		e.deps.Metrics.Balance.Set(e.snap.Risk.CurrentBalance)
		e.deps.Metrics.OpenPositions.Set(float64(e.snap.OpenPositionCount()))
	}
	if journal, ok := e.deps.Store.(tradeJournal); ok {
		if err := journal.RecordTrade(pos); err != nil {
			e.deps.Logger.Warn("trade journal write failed",
				slog.String("position_id", pos.ID), slog.String("error", err.Error()))
		}
	}
}

// tradeJournal is satisfied by stores that keep a closed-trade audit log.
type tradeJournal interface {
	RecordTrade(p *model.Position) error
}

// persist saves the snapshot. A failure is logged and retried at the top
// of the next tick; in-memory state is retained either way.
func (e *Engine) persist() {
	if err := e.deps.Store.Save(e.snap); err != nil {
		e.deps.Logger.Error("state save failed, retaining in-memory state",
			slog.String("error", err.Error()))
		if e.deps.Metrics != nil {
			e.deps.Metrics.SaveFailures.Inc()
		}
		if !e.saveFailed {
			// Alert once per failure streak, not per mutation.
			e.deps.Notifier.Send(context.Background(), notification.Alert{
				Level:   notification.AlertCritical,
				Title:   "state persistence failing",
				Message: err.Error(),
			})
		}
		e.saveFailed = true
		return
	}
	e.saveFailed = false
}

func gapPayload(g *model.FairValueGap) map[string]any {
	return map[string]any{
		"gap_id":     g.ID,
		"symbol":     g.Symbol,
		"direction":  string(g.Direction),
		"top":        g.Top,
		"bottom":     g.Bottom,
		"status":     string(g.Status),
		"fill_count": g.FillCount,
		"created_at": g.CreatedAt,
	}
}

func signalPayload(sig *model.Signal, size float64) map[string]any {
	return map[string]any{
		"symbol":      sig.Symbol,
		"gap_id":      sig.GapID,
		"direction":   string(sig.Direction),
		"entry_price": sig.EntryPrice,
		"stop_loss":   sig.StopLoss,
		"take_profit": sig.TakeProfit,
		"macd_state":  string(sig.MACDState),
		"size":        size,
	}
}

func fillPayload(pos *model.Position, fill model.Fill) map[string]any {
	return map[string]any{
		"symbol":      pos.Symbol,
		"position_id": pos.ID,
		"order_id":    fill.OrderID,
		"price":       fill.Price,
		"size":        fill.Size,
	}
}

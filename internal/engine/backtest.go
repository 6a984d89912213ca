package engine

import (
	"context"
	"fmt"
	"time"

	"fvg-systemv1/internal/exchange"
	"fvg-systemv1/internal/model"
)

// Backtester replays historical candles through the unmodified engine:
// the same detector, evaluator and risk manager run over an expanding
// window of history, one decision cycle per closed bar. Symbols are
// replayed independently, each with a fresh balance and state store.
type Backtester struct {
	opts Options
	deps Deps

	// NewStore provides an isolated state store per symbol run.
	NewStore func() (model.StateStore, error)
}

// NewBacktester creates a replay harness. Data and Executor in deps are
// ignored: replays supply their own.
func NewBacktester(opts Options, deps Deps) *Backtester {
	return &Backtester{opts: opts, deps: deps}
}

// TradeResult summarizes one closed position in a replay.
type TradeResult struct {
	Symbol     string
	Direction  model.Direction
	EntryPrice float64
	ExitPrice  float64
	Size       float64
	ExitReason string
	RealizedPnL float64
	OpenedAt   time.Time
	ClosedAt   time.Time
}

// SymbolReport is the outcome of replaying one symbol.
type SymbolReport struct {
	Symbol       string
	Bars         int
	Trades       []TradeResult
	Wins         int
	Losses       int
	FinalBalance float64
	TotalPnL     float64
}

// Run replays every series through the engine and reports per-symbol
// results. The series must hold the full history to replay.
func (b *Backtester) Run(ctx context.Context, histories []*model.Series) ([]SymbolReport, error) {
	reports := make([]SymbolReport, 0, len(histories))
	for _, s := range histories {
		if err := ctx.Err(); err != nil {
			return reports, err
		}
		rep, err := b.runSymbol(ctx, s)
		if err != nil {
			return reports, fmt.Errorf("replay %s: %w", s.Symbol(), err)
		}
		reports = append(reports, rep)
	}
	return reports, nil
}

func (b *Backtester) runSymbol(ctx context.Context, s *model.Series) (SymbolReport, error) {
	store, err := b.newStore()
	if err != nil {
		return SymbolReport{}, err
	}
	defer store.Close()

	replay := newReplaySource(s, b.opts.CandleLimit)
	exec := exchange.NewBacktestExecutor()

	opts := b.opts
	opts.Symbols = []string{s.Symbol()}

	deps := b.deps
	deps.Data = replay
	deps.Executor = exec
	deps.Store = store

	eng := New(opts, deps)

	// The engine clock follows the replayed bar close.
	var now time.Time
	eng.SetClock(func() time.Time { return now })

	if err := eng.Start(); err != nil {
		return SymbolReport{}, err
	}

	// Gaps need three closed bars to form; start there and let the MACD
	// warm-up gate evaluation until enough history has accumulated.
	for i := 2; i < s.Len(); i++ {
		if err := ctx.Err(); err != nil {
			return SymbolReport{}, err
		}
		bar := s.At(i)
		now = bar.OpenTime.Add(b.barDuration())
		replay.seek(i)
		exec.SetBar(s.Symbol(), bar.Close, now)

		if err := eng.Tick(ctx); err != nil {
			return SymbolReport{}, err
		}
	}

	// Flatten anything still open at the end of history so the report
	// reflects final equity.
	snap := eng.Snapshot()
	last := s.Last()
	for i := range snap.Positions {
		pos := &snap.Positions[i]
		if pos.Status == model.PositionOpen {
			b.deps.Risk.Close(pos, last.Close, "end_of_history", now, snap)
		}
	}

	return buildReport(s, snap), nil
}

func (b *Backtester) barDuration() time.Duration {
	if b.opts.BarDuration > 0 {
		return b.opts.BarDuration
	}
	return 4 * time.Hour
}

func (b *Backtester) newStore() (model.StateStore, error) {
	if b.NewStore != nil {
		return b.NewStore()
	}
	return &memStore{}, nil
}

func buildReport(s *model.Series, snap *model.Snapshot) SymbolReport {
	rep := SymbolReport{
		Symbol:       s.Symbol(),
		Bars:         s.Len(),
		FinalBalance: snap.Risk.CurrentBalance,
	}
	for _, pos := range snap.Positions {
		if pos.Status != model.PositionClosed {
			continue
		}
		rep.Trades = append(rep.Trades, TradeResult{
			Symbol:      pos.Symbol,
			Direction:   pos.Direction,
			EntryPrice:  pos.EntryPrice,
			ExitPrice:   pos.ExitPrice,
			Size:        pos.Size,
			ExitReason:  pos.ExitReason,
			RealizedPnL: pos.RealizedPnL,
			OpenedAt:    pos.OpenedAt,
			ClosedAt:    pos.ClosedAt,
		})
		rep.TotalPnL += pos.RealizedPnL
		if pos.RealizedPnL >= 0 {
			rep.Wins++
		} else {
			rep.Losses++
		}
	}
	return rep
}

// replaySource serves an expanding window over a fixed series, so the
// engine sees exactly the history that existed at each replayed bar.
type replaySource struct {
	full   *model.Series
	limit  int
	cursor int // index of the latest closed bar
}

func newReplaySource(full *model.Series, limit int) *replaySource {
	return &replaySource{full: full, limit: limit, cursor: -1}
}

func (r *replaySource) seek(i int) { r.cursor = i }

func (r *replaySource) GetCandles(ctx context.Context, symbol, timeframe string, limit int) ([]model.Candle, error) {
	if symbol != r.full.Symbol() {
		return nil, fmt.Errorf("replay: unknown symbol %s", symbol)
	}
	if r.cursor < 0 {
		return nil, nil
	}
	window := r.full.Upto(r.cursor)
	n := window.Len()
	max := limit
	if r.limit > 0 && r.limit < max {
		max = r.limit
	}
	start := 0
	if max > 0 && n > max {
		start = n - max
	}
	out := make([]model.Candle, 0, n-start)
	for i := start; i < n; i++ {
		out = append(out, window.At(i))
	}
	return out, nil
}

func (r *replaySource) GetTicker(ctx context.Context, symbol string) (float64, error) {
	if symbol != r.full.Symbol() || r.cursor < 0 {
		return 0, fmt.Errorf("replay: no price for %s", symbol)
	}
	return r.full.At(r.cursor).Close, nil
}

// memStore is a volatile StateStore for replays that do not need a
// database on disk.
type memStore struct {
	snap *model.Snapshot
}

func (m *memStore) Load() (*model.Snapshot, error) { return m.snap, nil }
func (m *memStore) Save(snap *model.Snapshot) error {
	m.snap = snap
	return nil
}
func (m *memStore) Close() error { return nil }

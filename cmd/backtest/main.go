// cmd/backtest replays historical candles through the unmodified decision
// engine to validate gap detection, confirmation and risk handling against
// real market history.
//
// Usage:
//
//	go run ./cmd/backtest --config config/config.yaml --days 60
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"time"

	"fvg-systemv1/config"
	"fvg-systemv1/internal/detector"
	"fvg-systemv1/internal/engine"
	"fvg-systemv1/internal/exchange"
	"fvg-systemv1/internal/indicator"
	"fvg-systemv1/internal/logger"
	"fvg-systemv1/internal/model"
	"fvg-systemv1/internal/risk"
	sqlitestore "fvg-systemv1/internal/store/sqlite"
	"fvg-systemv1/internal/strategy"
)

// Binance caps a single klines request at 1000 candles.
const maxHistoryBars = 1000

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)

	var (
		configPath = flag.String("config", "config/config.yaml", "path to YAML config")
		days       = flag.Int("days", 60, "history depth to replay, in days")
	)
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("[backtest] config: %v", err)
	}
	slogger := logger.Init("backtest", logger.ParseLevel(cfg.LogLevel))

	bar, err := cfg.BarDuration()
	if err != nil {
		log.Fatalf("[backtest] config: %v", err)
	}
	bars := int(time.Duration(*days) * 24 * time.Hour / bar)
	if bars > maxHistoryBars {
		bars = maxHistoryBars
	}
	log.Printf("[backtest] replaying %d symbols over %d %s bars (starting balance %.2f)",
		len(cfg.Symbols), bars, cfg.Timeframe, cfg.StartingBalance)

	ctx := context.Background()
	client := exchange.NewClient(exchange.ClientConfig{}) // public endpoints only

	histories := make([]*model.Series, 0, len(cfg.Symbols))
	for _, symbol := range cfg.Symbols {
		candles, err := client.GetCandles(ctx, symbol, cfg.Timeframe, bars)
		if err != nil {
			log.Fatalf("[backtest] fetch %s history: %v", symbol, err)
		}
		s, err := model.NewSeries(symbol, candles)
		if err != nil {
			log.Fatalf("[backtest] %s history: %v", symbol, err)
		}
		log.Printf("[backtest] %s: %d closed bars", symbol, s.Len())
		histories = append(histories, s)
	}

	macdCfg := indicator.MACDConfig{
		Fast:   cfg.Strategy.MACDFast,
		Slow:   cfg.Strategy.MACDSlow,
		Signal: cfg.Strategy.MACDSignal,
	}
	bt := engine.NewBacktester(engine.Options{
		Timeframe:       cfg.Timeframe,
		BarDuration:     bar,
		CandleLimit:     cfg.OHLCVLimit,
		StartingBalance: cfg.StartingBalance,
		MACD:            macdCfg,
	}, engine.Deps{
		Logger: slogger,
		Detector: detector.New(detector.Config{
			MaxActive: cfg.Detector.MaxActiveGaps,
			MaxBarAge: cfg.Detector.MaxGapAgeBars,
			Timeframe: bar,
		}),
		Evaluator: strategy.New(strategy.Config{
			StopBufferPct:      cfg.Strategy.StopBufferPct,
			RewardRisk:         cfg.Strategy.RewardRisk,
			RequireRecentCross: cfg.Strategy.RequireRecentCross,
			CrossLookback:      cfg.Strategy.CrossLookback,
			MACD:               macdCfg,
		}),
		Risk: risk.New(risk.Limits{
			RiskPct:           cfg.Risk.RiskPerTrade,
			MaxOpenPositions:  cfg.Risk.MaxConcurrentPositions,
			DailyLossLimitPct: cfg.Risk.DailyLossLimitPct,
		}, exchange.StaticMeta{}),
	})
	// Each symbol run persists through the same SQLite store code as the
	// live bot, on a throwaway in-memory database.
	bt.NewStore = func() (model.StateStore, error) {
		return sqlitestore.New(":memory:")
	}

	reports, err := bt.Run(ctx, histories)
	if err != nil {
		log.Fatalf("[backtest] replay failed: %v", err)
	}

	printReports(cfg.StartingBalance, reports)
}

func printReports(startingBalance float64, reports []engine.SymbolReport) {
	fmt.Println()
	total := 0.0
	for _, rep := range reports {
		fmt.Printf("── %s (%d bars) ──\n", rep.Symbol, rep.Bars)
		for _, tr := range rep.Trades {
			fmt.Printf("  %-7s entry %.4f → exit %.4f  size %.6f  %-14s pnl %+.2f\n",
				tr.Direction, tr.EntryPrice, tr.ExitPrice, tr.Size, tr.ExitReason, tr.RealizedPnL)
		}
		winRate := 0.0
		if n := rep.Wins + rep.Losses; n > 0 {
			winRate = 100 * float64(rep.Wins) / float64(n)
		}
		fmt.Printf("  trades=%d wins=%d losses=%d win%%=%.1f pnl=%+.2f balance %.2f → %.2f\n\n",
			len(rep.Trades), rep.Wins, rep.Losses, winRate, rep.TotalPnL,
			startingBalance, rep.FinalBalance)
		total += rep.TotalPnL
	}
	fmt.Printf("total pnl across symbols: %+.2f\n", total)
}
